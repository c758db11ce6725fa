package relay

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownConnection    = errors.New("unknown connection")
	ErrUnauthenticated      = errors.New("connection is not authenticated")
	ErrAlreadyAuthenticated = errors.New("connection is already authenticated")
	ErrInvalidIdentity      = errors.New("invalid identity")
	ErrDisconnected         = errors.New("connection is disconnected")
	ErrInvalidRoom          = errors.New("invalid room id")
	ErrEmptyContent         = errors.New("message content is empty")
	ErrContentTooLong       = errors.New("message content is too long")
	ErrRoomNotJoined        = errors.New("room not joined")
	ErrPersistenceFailure   = errors.New("message could not be saved")
	ErrInvalidEvent         = errors.New("invalid event")
)

// PersistenceError reports that a message was not stored and therefore
// never broadcast.
type PersistenceError struct {
	RoomId string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist message to room %q: %v", e.RoomId, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailure
}

const (
	CodeInvalidEvent         = "invalid_event"
	CodeInvalidIdentity      = "invalid_identity"
	CodeAlreadyAuthenticated = "already_authenticated"
	CodeUnauthenticated      = "unauthenticated"
	CodeInvalidRoom          = "invalid_room"
	CodeEmptyContent         = "empty_content"
	CodeContentTooLong       = "content_too_long"
	CodeRoomNotJoined        = "room_not_joined"
	CodePersistenceFailure   = "persistence_failure"
	CodeInternal             = "internal_error"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEvent):
		return CodeInvalidEvent
	case errors.Is(err, ErrInvalidIdentity):
		return CodeInvalidIdentity
	case errors.Is(err, ErrAlreadyAuthenticated):
		return CodeAlreadyAuthenticated
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrDisconnected):
		return CodeUnauthenticated
	case errors.Is(err, ErrInvalidRoom):
		return CodeInvalidRoom
	case errors.Is(err, ErrEmptyContent):
		return CodeEmptyContent
	case errors.Is(err, ErrContentTooLong):
		return CodeContentTooLong
	case errors.Is(err, ErrRoomNotJoined):
		return CodeRoomNotJoined
	case errors.Is(err, ErrPersistenceFailure):
		return CodePersistenceFailure
	default:
		return CodeInternal
	}
}

// isProtocolViolation reports errors caused by events arriving out of order.
// They are logged and dropped without telling the client.
func isProtocolViolation(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrDisconnected) ||
		errors.Is(err, ErrUnknownConnection)
}
