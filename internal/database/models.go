package database

import (
	"time"

	"github.com/npezzotti/room-relay/internal/types"
)

type messageRow struct {
	Id        string    `db:"id"`
	RoomId    string    `db:"room_id"`
	SeqId     int64     `db:"seq_id"`
	SenderId  string    `db:"sender_id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

func (r messageRow) toMessage() types.Message {
	return types.Message{
		Id:        r.Id,
		SeqId:     r.SeqId,
		RoomId:    r.RoomId,
		SenderId:  r.SenderId,
		Content:   r.Content,
		Timestamp: r.CreatedAt.UTC(),
	}
}
