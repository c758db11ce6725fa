package server

import (
	"testing"

	"github.com/npezzotti/room-relay/internal/relay"
	"github.com/npezzotti/room-relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *relay.ServerEvent, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.Send(relay.AuthenticatedEvent())
		assert.True(t, res, "expected Send to return true when channel is not full")

		select {
		case evt := <-c.send:
			assert.Equal(t, relay.EventAuthenticated, evt.Event)
		default:
			t.Error("expected an event to be queued, but none was")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *relay.ServerEvent, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- relay.AuthenticatedEvent()
		res := c.queueMessage(relay.AuthenticatedEvent())
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	bytes, err := serializeMessage(relay.UserTypingEvent("r1", "u1", true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"userTyping","data":{"roomId":"r1","userId":"u1","isTyping":true}}`, string(bytes))
}

func Test_stopClient(t *testing.T) {
	c := NewClient(nil, nil, testutil.TestLogger(t), "", 1)

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
	assert.Error(t, c.ctx.Err(), "expected client context to be cancelled")
}
