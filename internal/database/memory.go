package database

import (
	"context"
	"sync"

	"github.com/npezzotti/room-relay/internal/types"
)

// MemoryMessageStore keeps messages in process memory. It backs local
// development and tests; nothing survives a restart.
type MemoryMessageStore struct {
	mu    sync.Mutex
	rooms map[string][]types.Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		rooms: make(map[string][]types.Message),
	}
}

func (s *MemoryMessageStore) AppendMessage(ctx context.Context, roomId string, msg types.Message) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seqId := int64(len(s.rooms[roomId]) + 1)
	msg.SeqId = seqId
	msg.RoomId = roomId
	s.rooms[roomId] = append(s.rooms[roomId], msg)

	return seqId, nil
}

func (s *MemoryMessageStore) FetchRecent(ctx context.Context, roomId string, limit int) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[roomId]
	if limit <= 0 {
		return []types.Message{}, nil
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryMessageStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryMessageStore) Close() error {
	return nil
}
