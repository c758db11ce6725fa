package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/npezzotti/room-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(t *testing.T) (*Registry, *Directory) {
	t.Helper()
	r := NewRegistry()
	return r, NewDirectory(r, newTestStats())
}

func registerAs(t *testing.T, r *Registry, userId, displayName string) ConnID {
	t.Helper()
	id := r.Register(&fakeSink{})
	require.NoError(t, r.Authenticate(id, types.Identity{UserId: userId, DisplayName: displayName}))
	return id
}

func TestDirectoryJoinIsIdempotent(t *testing.T) {
	r, d := newTestDirectory(t)
	id := registerAs(t, r, "u1", "Alice")

	joined, err := d.Join("r1", id)
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = d.Join("r1", id)
	require.NoError(t, err)
	assert.False(t, joined)

	assert.Len(t, d.Handles("r1"), 1)
	assert.Equal(t, []types.Identity{{UserId: "u1", DisplayName: "Alice"}}, d.MembersOf("r1"))
	assert.Equal(t, []string{"r1"}, d.RoomsOf(id))
}

func TestDirectoryJoinRejectsUnauthenticated(t *testing.T) {
	r, d := newTestDirectory(t)
	id := r.Register(&fakeSink{})

	joined, err := d.Join("r1", id)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.False(t, joined)
	assert.Equal(t, 0, d.RoomCount())
	assert.Empty(t, d.RoomsOf(id))
}

func TestDirectoryMembersInJoinOrder(t *testing.T) {
	r, d := newTestDirectory(t)
	a := registerAs(t, r, "u1", "Alice")
	b := registerAs(t, r, "u2", "Bob")
	c := registerAs(t, r, "u3", "Carol")

	for _, id := range []ConnID{b, a, c} {
		_, err := d.Join("r1", id)
		require.NoError(t, err)
	}

	assert.Equal(t, []types.Identity{
		{UserId: "u2", DisplayName: "Bob"},
		{UserId: "u1", DisplayName: "Alice"},
		{UserId: "u3", DisplayName: "Carol"},
	}, d.MembersOf("r1"))

	assert.True(t, d.Leave("r1", a))
	assert.Equal(t, []ConnID{b, c}, d.Handles("r1"))

	// a handle that lost its identity is skipped
	r.Unregister(c)
	assert.Equal(t, []types.Identity{{UserId: "u2", DisplayName: "Bob"}}, d.MembersOf("r1"))
}

func TestDirectoryLeaveRemovesEmptyRoom(t *testing.T) {
	r, d := newTestDirectory(t)
	a := registerAs(t, r, "u1", "Alice")
	b := registerAs(t, r, "u2", "Bob")

	_, err := d.Join("r1", a)
	require.NoError(t, err)
	_, err = d.Join("r1", b)
	require.NoError(t, err)
	_, err = d.Join("r2", a)
	require.NoError(t, err)
	assert.Equal(t, 2, d.RoomCount())
	assert.Equal(t, []string{"r1", "r2"}, d.RoomsOf(a))

	assert.True(t, d.Leave("r2", a))
	assert.Equal(t, 1, d.RoomCount())
	assert.Equal(t, []string{"r1"}, d.RoomsOf(a))

	assert.False(t, d.Leave("r2", a), "leaving twice should report no change")
	assert.False(t, d.Leave("missing", a))

	assert.True(t, d.Leave("r1", a))
	assert.True(t, d.Leave("r1", b))
	assert.Equal(t, 0, d.RoomCount())
	assert.Empty(t, d.RoomsOf(a))
	assert.Empty(t, d.RoomsOf(b))
	assert.Nil(t, d.Handles("r1"))
	assert.False(t, d.IsMember("r1", a))
}

func TestDirectoryRejoinAfterRoomRemoved(t *testing.T) {
	r, d := newTestDirectory(t)
	a := registerAs(t, r, "u1", "Alice")

	_, err := d.Join("r1", a)
	require.NoError(t, err)
	require.True(t, d.Leave("r1", a))

	joined, err := d.Join("r1", a)
	require.NoError(t, err)
	assert.True(t, joined)
	assert.True(t, d.IsMember("r1", a))
	assert.Equal(t, 1, d.RoomCount())
}

func TestDirectoryConcurrentJoinLeave(t *testing.T) {
	r, d := newTestDirectory(t)

	const conns = 16
	ids := make([]ConnID, conns)
	for i := range ids {
		ids[i] = registerAs(t, r, fmt.Sprintf("u%d", i), "")
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id ConnID) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				roomId := fmt.Sprintf("room-%d", j%3)
				_, err := d.Join(roomId, id)
				assert.NoError(t, err)
				d.Leave(roomId, id)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 0, d.RoomCount())
	for _, id := range ids {
		assert.Empty(t, d.RoomsOf(id))
	}
}
