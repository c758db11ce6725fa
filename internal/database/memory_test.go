package database

import (
	"context"
	"testing"

	"github.com/npezzotti/room-relay/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestMemoryMessageStore(t *testing.T) {
	store := NewMemoryMessageStore()
	ctx := context.Background()

	for _, content := range []string{"a", "b", "c"} {
		_, err := store.AppendMessage(ctx, "r1", types.Message{Content: content})
		assert.NoError(t, err)
	}

	msgs, err := store.FetchRecent(ctx, "r1", 2)
	assert.NoError(t, err)
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, "b", msgs[0].Content, "expected recent window oldest first")
		assert.Equal(t, int64(3), msgs[1].SeqId, "expected sequence ids to increase per room")
	}

	msgs[0].Content = "mutated"
	again, _ := store.FetchRecent(ctx, "r1", 2)
	assert.Equal(t, "b", again[0].Content, "expected fetch to return a copy")

	empty, err := store.FetchRecent(ctx, "missing", 10)
	assert.NoError(t, err)
	assert.Empty(t, empty, "expected no messages for unknown room")
}

func TestMemoryMessageStore_CanceledContext(t *testing.T) {
	store := NewMemoryMessageStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.AppendMessage(ctx, "r1", types.Message{Content: "a"})
	assert.ErrorIs(t, err, context.Canceled, "expected canceled context to be reported")
	assert.ErrorIs(t, store.Ping(ctx), context.Canceled)
}
