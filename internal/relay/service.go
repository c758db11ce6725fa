package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/npezzotti/room-relay/internal/auth"
	"github.com/npezzotti/room-relay/internal/config"
	"github.com/npezzotti/room-relay/internal/database"
	"github.com/npezzotti/room-relay/internal/stats"
	"github.com/npezzotti/room-relay/internal/types"
)

// Service drives each connection through connect, authenticate, any number
// of joins and leaves, and disconnect.
//
// Locks are taken in this order: connection lifecycle, room, then the
// directory and index locks. Identities are read without locking.
type Service struct {
	log      *log.Logger
	stats    stats.StatsProvider
	resolver auth.IdentityResolver

	registry  *Registry
	directory *Directory
	out       *broadcaster
	presence  *PresencePublisher
	typing    *TypingTracker
	relay     *MessageRelay
}

func NewService(logger *log.Logger, store database.MessageStore, resolver auth.IdentityResolver, su stats.StatsProvider, cfg *config.Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("message store is required")
	}
	if resolver == nil {
		return nil, errors.New("identity resolver is required")
	}
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	registry := NewRegistry()
	directory := NewDirectory(registry, su)
	out := &broadcaster{registry: registry, log: logger, stats: su}

	return &Service{
		log:       logger,
		stats:     su,
		resolver:  resolver,
		registry:  registry,
		directory: directory,
		out:       out,
		presence:  newPresencePublisher(directory, out),
		typing:    newTypingTracker(directory, out),
		relay:     newMessageRelay(logger, directory, out, store, su, cfg.MaxContentLength, cfg.HistoryLimit, cfg.PersistAttempts),
	}, nil
}

var (
	instanceMu sync.Mutex
	instance   *Service
)

// GetOrCreate returns the process-wide Service, building it with create on
// first use.
func GetOrCreate(create func() (*Service, error)) (*Service, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return instance, nil
	}

	svc, err := create()
	if err != nil {
		return nil, err
	}
	instance = svc

	return instance, nil
}

func resetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
}

// Connect registers a new, unauthenticated connection.
func (s *Service) Connect(sink Sink) ConnID {
	id := s.registry.Register(sink)
	s.stats.Incr(stats.NumActiveConnections)
	s.log.Printf("connection %q opened", id)
	return id
}

// Authenticate resolves cred to an identity and binds it to the connection.
// A failed attempt leaves the connection unauthenticated.
func (s *Service) Authenticate(ctx context.Context, id ConnID, cred auth.Credential) error {
	c, ok := s.registry.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	switch c.currentState() {
	case StateDisconnected:
		return ErrDisconnected
	case StateAuthenticated:
		return ErrAlreadyAuthenticated
	}

	identity, err := s.resolver.ResolveIdentity(ctx, cred)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	if err := s.registry.Authenticate(id, identity); err != nil {
		return err
	}
	c.state.Store(int32(StateAuthenticated))

	s.log.Printf("connection %q authenticated as %q", id, identity.UserId)
	s.out.send(id, AuthenticatedEvent())

	return nil
}

// withAuthenticated runs fn under the connection's lifecycle lock if the
// connection is authenticated.
func (s *Service) withAuthenticated(id ConnID, fn func(c *connection) error) error {
	c, ok := s.registry.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if err := checkAuthenticated(c); err != nil {
		return err
	}
	return fn(c)
}

func checkAuthenticated(c *connection) error {
	switch c.currentState() {
	case StateAuthenticated:
		return nil
	case StateDisconnected:
		return ErrDisconnected
	default:
		return ErrUnauthenticated
	}
}

func normalizeRoomId(roomId string) (string, error) {
	roomId = strings.TrimSpace(roomId)
	if roomId == "" {
		return "", ErrInvalidRoom
	}
	return roomId, nil
}

func (s *Service) JoinGroup(id ConnID, roomId string) error {
	roomId, err := normalizeRoomId(roomId)
	if err != nil {
		return err
	}

	return s.withAuthenticated(id, func(c *connection) error {
		joined, err := s.directory.Join(roomId, id)
		if err != nil {
			return err
		}

		if !joined {
			// already a member: refresh the caller's view only
			s.presence.Refresh(roomId, id)
			return nil
		}

		s.log.Printf("connection %q joined room %q", id, roomId)
		s.presence.OnMembershipChanged(roomId)
		return nil
	})
}

func (s *Service) LeaveGroup(id ConnID, roomId string) error {
	roomId, err := normalizeRoomId(roomId)
	if err != nil {
		return err
	}

	return s.withAuthenticated(id, func(c *connection) error {
		if !s.directory.Leave(roomId, id) {
			return ErrRoomNotJoined
		}

		s.log.Printf("connection %q left room %q", id, roomId)
		s.afterLeave(roomId, c, id)
		return nil
	})
}

func (s *Service) afterLeave(roomId string, c *connection, extra ...ConnID) {
	// typing is tracked per user; keep it while another of the user's
	// connections is still in the room
	if identity := c.identity.Load(); identity != nil && !s.userInRoom(roomId, identity.UserId) {
		s.typing.ClearUser(roomId, identity.UserId)
	}
	s.presence.OnMembershipChanged(roomId, extra...)
}

func (s *Service) userInRoom(roomId, userId string) bool {
	for _, id := range s.directory.Handles(roomId) {
		if identity, ok := s.registry.IdentityOf(id); ok && identity.UserId == userId {
			return true
		}
	}
	return false
}

// SendMessage persists content to the room and confirms it to the sender
// with a messageSent event. Persistence is not done under the lifecycle lock.
func (s *Service) SendMessage(ctx context.Context, id ConnID, roomId, content string) (types.Message, error) {
	c, ok := s.registry.lookup(id)
	if !ok {
		return types.Message{}, ErrUnknownConnection
	}
	if err := checkAuthenticated(c); err != nil {
		return types.Message{}, err
	}

	roomId, err := normalizeRoomId(roomId)
	if err != nil {
		return types.Message{}, err
	}

	msg, err := s.relay.Send(ctx, roomId, id, content)
	if err != nil {
		return types.Message{}, err
	}

	s.out.send(id, MessageSentEvent(msg))
	return msg, nil
}

func (s *Service) Typing(id ConnID, roomId string, isTyping bool) error {
	roomId, err := normalizeRoomId(roomId)
	if err != nil {
		return err
	}

	return s.withAuthenticated(id, func(c *connection) error {
		return s.typing.SetTyping(roomId, id, isTyping)
	})
}

// History sends the room's recent messages to the connection.
func (s *Service) History(ctx context.Context, id ConnID, roomId string, limit int) error {
	c, ok := s.registry.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	if err := checkAuthenticated(c); err != nil {
		return err
	}

	roomId, err := normalizeRoomId(roomId)
	if err != nil {
		return err
	}

	msgs, err := s.relay.Recent(ctx, roomId, id, limit)
	if err != nil {
		return err
	}

	s.out.send(id, HistoryEvent(roomId, msgs))
	return nil
}

// Disconnect removes the connection from every room it joined and forgets
// it. The cleanup holds the lifecycle lock so no join can slip in. Calling
// Disconnect more than once is safe.
func (s *Service) Disconnect(id ConnID) {
	c, ok := s.registry.lookup(id)
	if !ok {
		return
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.currentState() == StateDisconnected {
		return
	}
	c.state.Store(int32(StateDisconnected))

	for _, roomId := range s.directory.RoomsOf(id) {
		if s.directory.Leave(roomId, id) {
			s.afterLeave(roomId, c)
		}
	}

	s.registry.Unregister(id)
	s.stats.Decr(stats.NumActiveConnections)
	s.log.Printf("connection %q closed", id)
}

// Dispatch routes a decoded client event. Out-of-order events are logged
// and dropped; other failures are reported to the sender as an error event.
func (s *Service) Dispatch(ctx context.Context, id ConnID, evt ClientEvent) {
	var (
		err    error
		roomId string
	)

	switch e := evt.(type) {
	case *AuthenticateEvent:
		err = s.Authenticate(ctx, id, auth.Credential{
			UserId:      e.UserId,
			DisplayName: e.DisplayName,
			Token:       e.Token,
		})
	case *JoinGroupEvent:
		roomId = e.RoomId
		err = s.JoinGroup(id, e.RoomId)
	case *LeaveGroupEvent:
		roomId = e.RoomId
		err = s.LeaveGroup(id, e.RoomId)
	case *SendMessageEvent:
		roomId = e.RoomId
		_, err = s.SendMessage(ctx, id, e.RoomId, e.Content)
	case *TypingEvent:
		roomId = e.RoomId
		err = s.Typing(id, e.RoomId, e.IsTyping != nil && *e.IsTyping)
	case *FetchHistoryEvent:
		roomId = e.RoomId
		err = s.History(ctx, id, e.RoomId, e.Limit)
	default:
		err = fmt.Errorf("%w: unsupported event %T", ErrInvalidEvent, evt)
	}

	if err != nil {
		name := ""
		if evt != nil {
			name = evt.EventName()
		}
		s.HandleError(id, name, roomId, err)
	}
}

// HandleError reports err to the connection unless it is a protocol
// violation, which is only logged.
func (s *Service) HandleError(id ConnID, event, roomId string, err error) {
	if isProtocolViolation(err) {
		s.log.Printf("ignoring %q event from connection %q: %s", event, id, err)
		return
	}

	code := errorCode(err)
	message := err.Error()
	switch code {
	case CodePersistenceFailure:
		s.log.Printf("connection %q: %s", id, err)
		message = ErrPersistenceFailure.Error()
	case CodeInternal:
		s.log.Printf("connection %q: %q event failed: %s", id, event, err)
		message = "internal error"
	}

	s.out.send(id, ErrorEvent(code, message, roomId))
}

// State reports the lifecycle state of the connection. Unknown handles are
// reported as disconnected.
func (s *Service) State(id ConnID) State {
	c, ok := s.registry.lookup(id)
	if !ok {
		return StateDisconnected
	}
	return c.currentState()
}

func (s *Service) RoomCount() int {
	return s.directory.RoomCount()
}

func (s *Service) RoomsOf(id ConnID) []string {
	return s.directory.RoomsOf(id)
}

func (s *Service) MembersOf(roomId string) []types.Identity {
	return s.directory.MembersOf(roomId)
}
