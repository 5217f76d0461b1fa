package presence

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	active atomic.Bool
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string            { return c.id }
func (c *fakeConn) IsActive() bool        { return c.active.Load() }
func (c *fakeConn) SetActive(active bool) { c.active.Store(active) }

func TestUnknownUserIsInactive(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.IsActive("nobody"))
	assert.Zero(t, tr.Connections("nobody"))
}

func TestActiveIfAnyConnectionActive(t *testing.T) {
	tr := NewTracker()
	phone, laptop := newConn("c1"), newConn("c2")
	tr.Attach("u1", phone)
	tr.Attach("u1", laptop)

	assert.Equal(t, 2, tr.Connections("u1"))
	assert.False(t, tr.IsActive("u1"))

	require.NoError(t, tr.SetActive("c2", true))
	assert.True(t, tr.IsActive("u1"))

	require.NoError(t, tr.SetActive("c1", true))
	require.NoError(t, tr.SetActive("c2", false))
	assert.True(t, tr.IsActive("u1"))

	require.NoError(t, tr.SetActive("c1", false))
	assert.False(t, tr.IsActive("u1"))
}

func TestDetachLastConnectionDropsUser(t *testing.T) {
	tr := NewTracker()
	c1, c2 := newConn("c1"), newConn("c2")
	tr.Attach("u1", c1)
	tr.Attach("u1", c2)
	require.NoError(t, tr.SetActive("c1", true))

	tr.Detach("u1", "c1")
	assert.False(t, tr.IsActive("u1"))
	assert.Equal(t, 1, tr.Connections("u1"))

	tr.Detach("u1", "c2")
	assert.Zero(t, tr.Connections("u1"))
	assert.Empty(t, tr.Snapshot())
	assert.ErrorIs(t, tr.SetActive("c2", true), ErrNotAttached)
}

func TestSetActiveBeforeAttach(t *testing.T) {
	tr := NewTracker()
	err := tr.SetActive("ghost", true)
	assert.ErrorIs(t, err, ErrNotAttached)
}

func TestDetachUnknownIsNoop(t *testing.T) {
	tr := NewTracker()
	tr.Attach("u1", newConn("c1"))
	tr.Detach("u2", "c1")
	tr.Detach("u1", "missing")
	assert.Equal(t, 1, tr.Connections("u1"))
}

func TestReattachMovesConnection(t *testing.T) {
	tr := NewTracker()
	c := newConn("c1")
	c.SetActive(true)
	tr.Attach("u1", c)
	tr.Attach("u2", c)

	assert.False(t, tr.IsActive("u1"))
	assert.True(t, tr.IsActive("u2"))
	assert.Zero(t, tr.Connections("u1"))

	// a stale detach for the old user must not unbind the connection
	tr.Detach("u1", "c1")
	require.NoError(t, tr.SetActive("c1", false))
	assert.Equal(t, 1, tr.Connections("u2"))
}

func TestSnapshotAndActiveUsers(t *testing.T) {
	tr := NewTracker()
	a1, a2, b1 := newConn("a1"), newConn("a2"), newConn("b1")
	tr.Attach("alice", a1)
	tr.Attach("alice", a2)
	tr.Attach("bob", b1)
	require.NoError(t, tr.SetActive("a2", true))

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, UserPresence{UserID: "alice", Connections: 2, ActiveConnections: 1, Active: true}, snap[0])
	assert.Equal(t, UserPresence{UserID: "bob", Connections: 1}, snap[1])
	assert.Equal(t, 1, tr.ActiveUsers())
}

func TestConcurrentAttachDetach(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%4)
			c := newConn(fmt.Sprintf("c%d", i))
			tr.Attach(user, c)
			_ = tr.SetActive(c.ID(), true)
			_ = tr.IsActive(user)
			tr.Detach(user, c.ID())
		}(i)
	}
	wg.Wait()
	assert.Empty(t, tr.Snapshot())
}
