package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/room-relay/internal/auth"
	"github.com/npezzotti/room-relay/internal/config"
	"github.com/npezzotti/room-relay/internal/database"
	"github.com/npezzotti/room-relay/internal/stats"
	"github.com/npezzotti/room-relay/internal/testutil"
	"github.com/npezzotti/room-relay/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	events []*ServerEvent
	full   bool
}

func (f *fakeSink) Send(evt *ServerEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.events = append(f.events, evt)
	return true
}

func (f *fakeSink) all() []*ServerEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*ServerEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeSink) named(name string) []*ServerEvent {
	var out []*ServerEvent
	for _, evt := range f.all() {
		if evt.Event == name {
			out = append(out, evt)
		}
	}
	return out
}

func (f *fakeSink) last(name string) *ServerEvent {
	evts := f.named(name)
	if len(evts) == 0 {
		return nil
	}
	return evts[len(evts)-1]
}

func (f *fakeSink) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

func newTestStats() *stats.MockStatsUpdater {
	su := new(stats.MockStatsUpdater)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	su.On("RegisterMetric", mock.Anything).Maybe()
	return su
}

func newTestConfig() *config.Config {
	return &config.Config{
		HistoryLimit:     config.DefaultHistoryLimit,
		MaxContentLength: 64,
		PersistAttempts:  config.DefaultPersistAttempts,
		SendBuffer:       config.DefaultSendBuffer,
	}
}

func newTestService(t *testing.T, store database.MessageStore) *Service {
	t.Helper()
	if store == nil {
		store = database.NewMemoryMessageStore()
	}

	svc, err := NewService(testutil.TestLogger(t), store, auth.PayloadResolver{}, newTestStats(), newTestConfig())
	require.NoError(t, err)

	svc.relay.baseDelay = time.Millisecond
	svc.relay.maxDelay = 4 * time.Millisecond

	return svc
}

func connectAs(t *testing.T, svc *Service, userId, displayName string) (ConnID, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	id := svc.Connect(sink)
	require.NoError(t, svc.Authenticate(context.Background(), id, auth.Credential{UserId: userId, DisplayName: displayName}))
	return id, sink
}

func usersOf(t *testing.T, evt *ServerEvent) []types.Identity {
	t.Helper()
	require.NotNil(t, evt)
	payload, ok := evt.Data.(UsersInRoomPayload)
	require.True(t, ok, "unexpected payload %T", evt.Data)
	return payload.Users
}
