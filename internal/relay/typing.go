package relay

import "sync"

type typingKey struct {
	roomId string
	userId string
}

// TypingTracker holds the last typing state per user and room and only
// broadcasts when that state changes.
type TypingTracker struct {
	directory *Directory
	out       *broadcaster

	mu     sync.Mutex
	typing map[typingKey]struct{}
}

func newTypingTracker(directory *Directory, out *broadcaster) *TypingTracker {
	return &TypingTracker{
		directory: directory,
		out:       out,
		typing:    make(map[typingKey]struct{}),
	}
}

// SetTyping records the typing state of the connection's user and tells the
// other members of the room when it changed.
func (t *TypingTracker) SetTyping(roomId string, id ConnID, isTyping bool) error {
	identity, ok := t.directory.registry.IdentityOf(id)
	if !ok {
		return ErrUnauthenticated
	}
	if !t.directory.IsMember(roomId, id) {
		return ErrRoomNotJoined
	}

	key := typingKey{roomId: roomId, userId: identity.UserId}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, current := t.typing[key]; current == isTyping {
		return nil
	}
	if isTyping {
		t.typing[key] = struct{}{}
	} else {
		delete(t.typing, key)
	}

	t.out.broadcast(t.directory.Handles(roomId), UserTypingEvent(roomId, identity.UserId, isTyping), id)
	return nil
}

// ClearUser drops the user's typing state for the room. If the user was
// typing, the remaining members are told they stopped.
func (t *TypingTracker) ClearUser(roomId, userId string) {
	key := typingKey{roomId: roomId, userId: userId}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.typing[key]; !ok {
		return
	}
	delete(t.typing, key)

	t.out.broadcast(t.directory.Handles(roomId), UserTypingEvent(roomId, userId, false), "")
}

// IsTyping reports the last known state for the user in the room.
func (t *TypingTracker) IsTyping(roomId, userId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typing[typingKey{roomId: roomId, userId: userId}]
	return ok
}
