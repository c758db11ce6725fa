package relay

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/room-relay/internal/database"
	"github.com/npezzotti/room-relay/internal/stats"
	"github.com/npezzotti/room-relay/internal/types"
	"golang.org/x/sync/singleflight"
)

var (
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = time.Second
)

// MessageRelay validates, persists and fans out chat messages. A message is
// only broadcast after the store has accepted it.
type MessageRelay struct {
	directory *Directory
	out       *broadcaster
	store     database.MessageStore
	log       *log.Logger
	stats     stats.StatsProvider

	maxContentLength int
	historyLimit     int
	attempts         int
	baseDelay        time.Duration
	maxDelay         time.Duration

	roomLocks *keyedMutex
	// concurrent history reads for the same room and limit share one query
	historyGroup singleflight.Group
}

func newMessageRelay(logger *log.Logger, directory *Directory, out *broadcaster, store database.MessageStore, su stats.StatsProvider, maxContentLength, historyLimit, attempts int) *MessageRelay {
	if attempts < 1 {
		attempts = 1
	}

	return &MessageRelay{
		directory:        directory,
		out:              out,
		store:            store,
		log:              logger,
		stats:            su,
		maxContentLength: maxContentLength,
		historyLimit:     historyLimit,
		attempts:         attempts,
		baseDelay:        retryBaseDelay,
		maxDelay:         retryMaxDelay,
		roomLocks:        newKeyedMutex(),
	}
}

// Send stores content as a new message in the room and delivers it to every
// other member. Checks run in order: authentication, content, membership.
func (mr *MessageRelay) Send(ctx context.Context, roomId string, id ConnID, content string) (types.Message, error) {
	identity, ok := mr.directory.registry.IdentityOf(id)
	if !ok {
		return types.Message{}, ErrUnauthenticated
	}
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrEmptyContent
	}
	if mr.maxContentLength > 0 && len(content) > mr.maxContentLength {
		return types.Message{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrContentTooLong, len(content), mr.maxContentLength)
	}
	if !mr.directory.IsMember(roomId, id) {
		return types.Message{}, ErrRoomNotJoined
	}

	unlock := mr.roomLocks.Lock(roomId)
	defer unlock()

	msg := types.Message{
		Id:        uuid.NewString(),
		RoomId:    roomId,
		SenderId:  identity.UserId,
		Content:   content,
		Timestamp: Now(),
	}

	seqId, err := mr.persist(ctx, msg)
	if err != nil {
		mr.stats.Incr(stats.NumPersistFailures)
		return types.Message{}, &PersistenceError{RoomId: roomId, Err: err}
	}
	msg.SeqId = seqId
	mr.stats.Incr(stats.NumMessagesPersisted)

	mr.out.broadcast(mr.directory.Handles(roomId), NewMessageEvent(msg), id)

	return msg, nil
}

func (mr *MessageRelay) persist(ctx context.Context, msg types.Message) (int64, error) {
	delay := mr.baseDelay
	for attempt := 1; ; attempt++ {
		seqId, err := mr.store.AppendMessage(ctx, msg.RoomId, msg)
		if err == nil {
			return seqId, nil
		}
		if attempt >= mr.attempts {
			return 0, fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		mr.log.Printf("append message to room %q failed (attempt %d/%d): %s", msg.RoomId, attempt, mr.attempts, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, fmt.Errorf("retry abandoned: %w", ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > mr.maxDelay {
			delay = mr.maxDelay
		}
	}
}

// Recent returns up to limit of the room's latest messages, oldest first.
// A limit outside [1, historyLimit] is clamped.
func (mr *MessageRelay) Recent(ctx context.Context, roomId string, id ConnID, limit int) ([]types.Message, error) {
	if _, ok := mr.directory.registry.IdentityOf(id); !ok {
		return nil, ErrUnauthenticated
	}
	if !mr.directory.IsMember(roomId, id) {
		return nil, ErrRoomNotJoined
	}

	if limit <= 0 || limit > mr.historyLimit {
		limit = mr.historyLimit
	}

	// the shared query must not die with whichever caller started it
	shared := context.WithoutCancel(ctx)
	ch := mr.historyGroup.DoChan(fmt.Sprintf("%s\x00%d", roomId, limit), func() (any, error) {
		return mr.store.FetchRecent(shared, roomId, limit)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("fetch recent messages: %w", res.Err)
		}
		return res.Val.([]types.Message), nil
	}
}

type refMutex struct {
	sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets it once no caller
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
