package relay

import (
	"slices"

	"github.com/npezzotti/room-relay/internal/types"
)

// PresencePublisher announces room membership. It keeps no membership state
// of its own.
type PresencePublisher struct {
	directory *Directory
	out       *broadcaster
	// publishing for a room is serialised so the last usersInRoom a member
	// receives always reflects the latest membership
	roomLocks *keyedMutex
}

func newPresencePublisher(directory *Directory, out *broadcaster) *PresencePublisher {
	return &PresencePublisher{
		directory: directory,
		out:       out,
		roomLocks: newKeyedMutex(),
	}
}

// OnMembershipChanged sends usersInRoom to every member of the room and to
// any extra handles, such as a connection that has just left.
func (p *PresencePublisher) OnMembershipChanged(roomId string, extra ...ConnID) {
	unlock := p.roomLocks.Lock(roomId)
	defer unlock()

	handles := p.directory.Handles(roomId)
	evt := UsersInRoomEvent(roomId, p.users(handles))

	p.out.broadcast(handles, evt, "")
	for _, id := range extra {
		if slices.Contains(handles, id) {
			continue
		}
		p.out.send(id, evt)
	}
}

// Refresh sends the current usersInRoom to id alone.
func (p *PresencePublisher) Refresh(roomId string, id ConnID) {
	unlock := p.roomLocks.Lock(roomId)
	defer unlock()

	p.out.send(id, UsersInRoomEvent(roomId, p.users(p.directory.Handles(roomId))))
}

// users resolves handles to identities, one entry per user in the order the
// user first joined.
func (p *PresencePublisher) users(handles []ConnID) []types.Identity {
	seen := make(map[string]struct{}, len(handles))
	users := make([]types.Identity, 0, len(handles))
	for _, id := range handles {
		identity, ok := p.directory.registry.IdentityOf(id)
		if !ok {
			continue
		}
		if _, dup := seen[identity.UserId]; dup {
			continue
		}
		seen[identity.UserId] = struct{}{}
		users = append(users, identity)
	}
	return users
}
