package relay

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/npezzotti/room-relay/internal/types"
	"github.com/teris-io/shortid"
)

// ConnID identifies one live transport connection.
type ConnID string

// Sink delivers server events to a single connection. Send must not block;
// it reports false when the event was dropped.
type Sink interface {
	Send(evt *ServerEvent) bool
}

type State int32

const (
	StateConnected State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type connection struct {
	id   ConnID
	sink Sink

	// lifecycle serialises state transitions and room membership changes
	// made on behalf of this connection.
	lifecycle sync.Mutex
	state     atomic.Int32
	identity  atomic.Pointer[types.Identity]
}

func (c *connection) currentState() State {
	return State(c.state.Load())
}

// Registry maps connection handles to their sink and bound identity.
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]*connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnID]*connection),
	}
}

func newConnID() ConnID {
	id, err := shortid.Generate()
	if err != nil {
		return ConnID(uuid.NewString())
	}
	return ConnID(id)
}

// Register creates an unauthenticated entry bound to sink.
func (r *Registry) Register(sink Sink) ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := newConnID()
	if _, taken := r.conns[id]; taken {
		id = ConnID(uuid.NewString())
	}

	r.conns[id] = &connection{id: id, sink: sink}
	return id
}

// Authenticate binds identity to the connection exactly once.
func (r *Registry) Authenticate(id ConnID, identity types.Identity) error {
	c, ok := r.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	if identity.UserId == "" {
		return ErrInvalidIdentity
	}

	if !c.identity.CompareAndSwap(nil, &identity) {
		return ErrAlreadyAuthenticated
	}
	return nil
}

func (r *Registry) IdentityOf(id ConnID) (types.Identity, bool) {
	c, ok := r.lookup(id)
	if !ok {
		return types.Identity{}, false
	}

	identity := c.identity.Load()
	if identity == nil {
		return types.Identity{}, false
	}
	return *identity, true
}

// Unregister forgets the connection. Room cleanup is the caller's job.
func (r *Registry) Unregister(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) lookup(id ConnID) (*connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}
