package relay

import (
	"slices"
	"sync"

	"github.com/npezzotti/room-relay/internal/stats"
	"github.com/npezzotti/room-relay/internal/types"
)

type room struct {
	mu      sync.Mutex
	id      string
	members []ConnID
	set     map[ConnID]struct{}
	// dead is set once the room has been removed from the directory.
	dead bool
}

// Directory tracks which connections are joined to which rooms. Each room
// has its own lock so work on one room never waits on another.
type Directory struct {
	registry *Registry
	stats    stats.StatsProvider

	mu    sync.RWMutex
	rooms map[string]*room

	indexMu sync.Mutex
	index   map[ConnID]map[string]struct{}
}

func NewDirectory(registry *Registry, su stats.StatsProvider) *Directory {
	return &Directory{
		registry: registry,
		stats:    su,
		rooms:    make(map[string]*room),
		index:    make(map[ConnID]map[string]struct{}),
	}
}

func (d *Directory) getOrCreate(roomId string) *room {
	d.mu.RLock()
	rm, ok := d.rooms[roomId]
	d.mu.RUnlock()
	if ok {
		return rm
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if rm, ok := d.rooms[roomId]; ok {
		return rm
	}

	rm = &room{
		id:  roomId,
		set: make(map[ConnID]struct{}),
	}
	d.rooms[roomId] = rm
	d.stats.Incr(stats.NumActiveRooms)

	return rm
}

func (d *Directory) get(roomId string) *room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[roomId]
}

// Join adds the connection to the room. It reports whether membership
// changed; joining a room twice is a no-op.
func (d *Directory) Join(roomId string, id ConnID) (bool, error) {
	if _, ok := d.registry.IdentityOf(id); !ok {
		return false, ErrUnauthenticated
	}

	for {
		rm := d.getOrCreate(roomId)
		rm.mu.Lock()
		if rm.dead {
			// lost a race with the last leave; retry on a fresh room
			rm.mu.Unlock()
			continue
		}

		if _, ok := rm.set[id]; ok {
			rm.mu.Unlock()
			return false, nil
		}

		rm.set[id] = struct{}{}
		rm.members = append(rm.members, id)
		d.indexAdd(id, roomId)
		rm.mu.Unlock()

		return true, nil
	}
}

// Leave removes the connection from the room and deletes the room once
// it is empty. It reports whether membership changed.
func (d *Directory) Leave(roomId string, id ConnID) bool {
	rm := d.get(roomId)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.set[id]; !ok || rm.dead {
		return false
	}

	delete(rm.set, id)
	if i := slices.Index(rm.members, id); i >= 0 {
		rm.members = slices.Delete(rm.members, i, i+1)
	}
	d.indexRemove(id, roomId)

	if len(rm.set) == 0 {
		rm.dead = true
		d.mu.Lock()
		if d.rooms[roomId] == rm {
			delete(d.rooms, roomId)
			d.stats.Decr(stats.NumActiveRooms)
		}
		d.mu.Unlock()
	}

	return true
}

// MembersOf returns the identities joined to the room in join order.
// Handles that no longer resolve to an identity are skipped.
func (d *Directory) MembersOf(roomId string) []types.Identity {
	handles := d.Handles(roomId)
	members := make([]types.Identity, 0, len(handles))
	for _, id := range handles {
		if identity, ok := d.registry.IdentityOf(id); ok {
			members = append(members, identity)
		}
	}
	return members
}

// Handles returns a snapshot of the room's connections in join order.
func (d *Directory) Handles(roomId string) []ConnID {
	rm := d.get(roomId)
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.dead {
		return nil
	}
	return slices.Clone(rm.members)
}

func (d *Directory) IsMember(roomId string, id ConnID) bool {
	rm := d.get(roomId)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, ok := rm.set[id]
	return ok && !rm.dead
}

// RoomsOf returns the rooms the connection belongs to, sorted.
func (d *Directory) RoomsOf(id ConnID) []string {
	d.indexMu.Lock()
	defer d.indexMu.Unlock()

	rooms := make([]string, 0, len(d.index[id]))
	for roomId := range d.index[id] {
		rooms = append(rooms, roomId)
	}
	slices.Sort(rooms)
	return rooms
}

func (d *Directory) RoomCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

func (d *Directory) indexAdd(id ConnID, roomId string) {
	d.indexMu.Lock()
	defer d.indexMu.Unlock()

	rooms, ok := d.index[id]
	if !ok {
		rooms = make(map[string]struct{})
		d.index[id] = rooms
	}
	rooms[roomId] = struct{}{}
}

func (d *Directory) indexRemove(id ConnID, roomId string) {
	d.indexMu.Lock()
	defer d.indexMu.Unlock()

	rooms, ok := d.index[id]
	if !ok {
		return
	}
	delete(rooms, roomId)
	if len(rooms) == 0 {
		delete(d.index, id)
	}
}
