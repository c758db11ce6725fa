package relay

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/room-relay/internal/types"
)

const (
	EventAuthenticate = "authenticate"
	EventJoinGroup    = "joinGroup"
	EventLeaveGroup   = "leaveGroup"
	EventSendMessage  = "sendMessage"
	EventTyping       = "typing"
	EventFetchHistory = "fetchHistory"

	EventAuthenticated = "authenticated"
	EventNewMessage    = "newMessage"
	EventMessageSent   = "messageSent"
	EventUserTyping    = "userTyping"
	EventUsersInRoom   = "usersInRoom"
	EventHistory       = "history"
	EventError         = "error"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names in validation errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ClientEvent is one of the concrete *Event types below.
type ClientEvent interface {
	EventName() string
}

type AuthenticateEvent struct {
	UserId      string `json:"userId" validate:"required_without=Token,max=128"`
	DisplayName string `json:"displayName" validate:"max=128"`
	Token       string `json:"token,omitempty"`
}

type JoinGroupEvent struct {
	RoomId string `json:"roomId" validate:"required,max=256"`
}

type LeaveGroupEvent struct {
	RoomId string `json:"roomId" validate:"required,max=256"`
}

type SendMessageEvent struct {
	RoomId  string `json:"roomId" validate:"required,max=256"`
	Content string `json:"content"`
}

type TypingEvent struct {
	RoomId   string `json:"roomId" validate:"required,max=256"`
	IsTyping *bool  `json:"isTyping" validate:"required"`
}

type FetchHistoryEvent struct {
	RoomId string `json:"roomId" validate:"required,max=256"`
	Limit  int    `json:"limit" validate:"gte=0"`
}

func (*AuthenticateEvent) EventName() string { return EventAuthenticate }
func (*JoinGroupEvent) EventName() string    { return EventJoinGroup }
func (*LeaveGroupEvent) EventName() string   { return EventLeaveGroup }
func (*SendMessageEvent) EventName() string  { return EventSendMessage }
func (*TypingEvent) EventName() string       { return EventTyping }
func (*FetchHistoryEvent) EventName() string { return EventFetchHistory }

// DecodeClientEvent parses and validates one inbound frame. Every error it
// returns wraps ErrInvalidEvent.
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var (
		evt ClientEvent
		err error
	)
	switch env.Event {
	case EventAuthenticate:
		evt, err = decodeInto(env.Data, &AuthenticateEvent{})
	case EventJoinGroup:
		var roomId string
		roomId, err = decodeRoomId(env.Data)
		evt = &JoinGroupEvent{RoomId: roomId}
	case EventLeaveGroup:
		var roomId string
		roomId, err = decodeRoomId(env.Data)
		evt = &LeaveGroupEvent{RoomId: roomId}
	case EventSendMessage:
		evt, err = decodeInto(env.Data, &SendMessageEvent{})
	case EventTyping:
		evt, err = decodeInto(env.Data, &TypingEvent{})
	case EventFetchHistory:
		evt, err = decodeInto(env.Data, &FetchHistoryEvent{})
	case "":
		return nil, fmt.Errorf("%w: missing event name", ErrInvalidEvent)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.Event, err)
	}

	if err := validate.Struct(evt); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.Event, err)
	}

	return evt, nil
}

func decodeInto[T ClientEvent](data json.RawMessage, evt T) (ClientEvent, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// decodeRoomId accepts the canonical bare string as well as {"roomId": "..."}.
func decodeRoomId(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("missing payload")
	}

	var roomId string
	if err := json.Unmarshal(data, &roomId); err == nil {
		return strings.TrimSpace(roomId), nil
	}

	var obj struct {
		RoomId string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	return strings.TrimSpace(obj.RoomId), nil
}

// ServerEvent is a single outbound frame. A ServerEvent is shared between all
// recipients of a fan-out and must not be modified after construction.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type AuthenticatedPayload struct{}

type UserTypingPayload struct {
	RoomId   string `json:"roomId"`
	UserId   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type UsersInRoomPayload struct {
	RoomId string           `json:"roomId"`
	Users  []types.Identity `json:"users"`
}

type HistoryPayload struct {
	RoomId   string          `json:"roomId"`
	Messages []types.Message `json:"messages"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RoomId  string `json:"roomId,omitempty"`
}

func AuthenticatedEvent() *ServerEvent {
	return &ServerEvent{Event: EventAuthenticated, Data: AuthenticatedPayload{}}
}

func NewMessageEvent(msg types.Message) *ServerEvent {
	return &ServerEvent{Event: EventNewMessage, Data: msg}
}

func MessageSentEvent(msg types.Message) *ServerEvent {
	return &ServerEvent{Event: EventMessageSent, Data: msg}
}

func UserTypingEvent(roomId, userId string, isTyping bool) *ServerEvent {
	return &ServerEvent{
		Event: EventUserTyping,
		Data: UserTypingPayload{
			RoomId:   roomId,
			UserId:   userId,
			IsTyping: isTyping,
		},
	}
}

func UsersInRoomEvent(roomId string, users []types.Identity) *ServerEvent {
	if users == nil {
		users = []types.Identity{}
	}
	return &ServerEvent{
		Event: EventUsersInRoom,
		Data: UsersInRoomPayload{
			RoomId: roomId,
			Users:  users,
		},
	}
}

func HistoryEvent(roomId string, msgs []types.Message) *ServerEvent {
	if msgs == nil {
		msgs = []types.Message{}
	}
	return &ServerEvent{
		Event: EventHistory,
		Data: HistoryPayload{
			RoomId:   roomId,
			Messages: msgs,
		},
	}
}

func ErrorEvent(code, message, roomId string) *ServerEvent {
	return &ServerEvent{
		Event: EventError,
		Data: ErrorPayload{
			Code:    code,
			Message: message,
			RoomId:  roomId,
		},
	}
}

// Now returns the server's authoritative time for messages.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
