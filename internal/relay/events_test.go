package relay

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/room-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientEvent(t *testing.T) {
	typing := true

	tcs := []struct {
		name  string
		raw   string
		event ClientEvent
	}{
		{
			name:  "authenticate",
			raw:   `{"event":"authenticate","data":{"userId":"u1","displayName":"Alice"}}`,
			event: &AuthenticateEvent{UserId: "u1", DisplayName: "Alice"},
		},
		{
			name:  "authenticate with token only",
			raw:   `{"event":"authenticate","data":{"token":"abc"}}`,
			event: &AuthenticateEvent{Token: "abc"},
		},
		{
			name:  "join group",
			raw:   `{"event":"joinGroup","data":"r1"}`,
			event: &JoinGroupEvent{RoomId: "r1"},
		},
		{
			name:  "join group object form",
			raw:   `{"event":"joinGroup","data":{"roomId":" r1 "}}`,
			event: &JoinGroupEvent{RoomId: "r1"},
		},
		{
			name:  "leave group",
			raw:   `{"event":"leaveGroup","data":"r1"}`,
			event: &LeaveGroupEvent{RoomId: "r1"},
		},
		{
			name:  "send message",
			raw:   `{"event":"sendMessage","data":{"roomId":"r1","content":"hello"}}`,
			event: &SendMessageEvent{RoomId: "r1", Content: "hello"},
		},
		{
			name:  "typing",
			raw:   `{"event":"typing","data":{"roomId":"r1","isTyping":true}}`,
			event: &TypingEvent{RoomId: "r1", IsTyping: &typing},
		},
		{
			name:  "fetch history",
			raw:   `{"event":"fetchHistory","data":{"roomId":"r1","limit":10}}`,
			event: &FetchHistoryEvent{RoomId: "r1", Limit: 10},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := DecodeClientEvent([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.event, evt)
		})
	}
}

func TestDecodeClientEventErrors(t *testing.T) {
	tcs := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"missing event", `{"data":"r1"}`},
		{"unknown event", `{"event":"shout","data":"r1"}`},
		{"missing payload", `{"event":"joinGroup"}`},
		{"empty room", `{"event":"joinGroup","data":"  "}`},
		{"wrong payload type", `{"event":"sendMessage","data":"r1"}`},
		{"send without room", `{"event":"sendMessage","data":{"content":"hi"}}`},
		{"typing without state", `{"event":"typing","data":{"roomId":"r1"}}`},
		{"authenticate without user or token", `{"event":"authenticate","data":{"displayName":"Alice"}}`},
		{"user id too long", `{"event":"authenticate","data":{"userId":"` + strings.Repeat("x", 129) + `"}}`},
		{"negative history limit", `{"event":"fetchHistory","data":{"roomId":"r1","limit":-1}}`},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := DecodeClientEvent([]byte(tc.raw))
			assert.ErrorIs(t, err, ErrInvalidEvent)
			assert.Nil(t, evt)
		})
	}
}

func TestServerEventEncoding(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 123000000, time.UTC)
	msg := types.Message{
		Id:        "m1",
		SeqId:     7,
		RoomId:    "r1",
		SenderId:  "u2",
		Content:   "hello",
		Timestamp: ts,
	}

	b, err := json.Marshal(NewMessageEvent(msg))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "newMessage",
		"data": {
			"id": "m1",
			"seqId": 7,
			"roomId": "r1",
			"senderId": "u2",
			"content": "hello",
			"timestamp": "2024-03-01T12:30:00.123Z"
		}
	}`, string(b))

	b, err = json.Marshal(UsersInRoomEvent("r1", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"usersInRoom","data":{"roomId":"r1","users":[]}}`, string(b))

	b, err = json.Marshal(AuthenticatedEvent())
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"authenticated","data":{}}`, string(b))

	b, err = json.Marshal(ErrorEvent(CodeEmptyContent, "message content is empty", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"error","data":{"code":"empty_content","message":"message content is empty"}}`, string(b))
}

func TestNowIsUTCMilliseconds(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond))
}
