package database

import (
	"context"
	"fmt"

	"github.com/npezzotti/room-relay/internal/types"
)

const (
	nextSeqQuery = "INSERT INTO room_sequences (room_id, seq_id) VALUES ($1, 1) " +
		"ON CONFLICT (room_id) DO UPDATE SET seq_id = room_sequences.seq_id + 1 " +
		"RETURNING seq_id"
	insertMessageQuery = "INSERT INTO messages (id, room_id, seq_id, sender_id, content, created_at) " +
		"VALUES ($1, $2, $3, $4, $5, $6)"
	recentMessagesQuery = "SELECT id, room_id, seq_id, sender_id, content, created_at FROM (" +
		"SELECT id, room_id, seq_id, sender_id, content, created_at FROM messages " +
		"WHERE room_id = $1 ORDER BY seq_id DESC LIMIT $2" +
		") recent ORDER BY seq_id ASC"
)

func (db *PgMessageStore) AppendMessage(ctx context.Context, roomId string, msg types.Message) (int64, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seqId int64
	if err := tx.QueryRowxContext(ctx, nextSeqQuery, roomId).Scan(&seqId); err != nil {
		return 0, fmt.Errorf("next seq id: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		insertMessageQuery,
		msg.Id,
		roomId,
		seqId,
		msg.SenderId,
		msg.Content,
		msg.Timestamp,
	); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return seqId, nil
}

func (db *PgMessageStore) FetchRecent(ctx context.Context, roomId string, limit int) ([]types.Message, error) {
	var rows []messageRow
	if err := db.conn.SelectContext(ctx, &rows, recentMessagesQuery, roomId, limit); err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}

	msgs := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}

	return msgs, nil
}
