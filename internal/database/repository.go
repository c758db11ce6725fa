package database

import (
	"context"

	"github.com/npezzotti/room-relay/internal/types"
)

// MessageStore is the append-only persistence collaborator used by the relay.
// AppendMessage returns the sequence number assigned to the message within its room.
type MessageStore interface {
	AppendMessage(ctx context.Context, roomId string, msg types.Message) (int64, error)
	FetchRecent(ctx context.Context, roomId string, limit int) ([]types.Message, error)
	Ping(ctx context.Context) error
	Close() error
}
