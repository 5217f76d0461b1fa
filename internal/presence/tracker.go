// Package presence tracks which users have live connections and whether any
// of those connections is currently in the foreground.
package presence

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotAttached is returned when a visibility update names a connection
// that has not been bound to a user yet.
var ErrNotAttached = errors.New("presence: connection not attached to a user")

// Conn is the view of a live connection the tracker needs. The activity
// flag lives on the connection; the tracker only reads and forwards it.
type Conn interface {
	ID() string
	IsActive() bool
	SetActive(active bool)
}

// UserPresence summarizes one user's connections.
type UserPresence struct {
	UserID            string `json:"userId"`
	Connections       int    `json:"connections"`
	ActiveConnections int    `json:"activeConnections"`
	Active            bool   `json:"active"`
}

// Tracker maps user ids to the set of connections attached under them.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]map[string]Conn
	owner map[string]string // connection id -> user id
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		users: make(map[string]map[string]Conn),
		owner: make(map[string]string),
	}
}

// Attach registers conn under userID. A connection already attached to a
// different user is moved.
func (t *Tracker) Attach(userID string, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := conn.ID()
	if prev, ok := t.owner[id]; ok && prev != userID {
		t.detachLocked(prev, id)
	}

	set, ok := t.users[userID]
	if !ok {
		set = make(map[string]Conn)
		t.users[userID] = set
	}
	set[id] = conn
	t.owner[id] = userID
}

// Detach removes the connection from userID. The user entry is dropped
// once its last connection is gone.
func (t *Tracker) Detach(userID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detachLocked(userID, connID)
}

func (t *Tracker) detachLocked(userID, connID string) {
	if owner, ok := t.owner[connID]; ok && owner == userID {
		delete(t.owner, connID)
	}
	set, ok := t.users[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(t.users, userID)
	}
}

// IsActive reports whether any connection attached to userID is active.
func (t *Tracker) IsActive(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, conn := range t.users[userID] {
		if conn.IsActive() {
			return true
		}
	}
	return false
}

// SetActive updates the activity flag of an attached connection.
func (t *Tracker) SetActive(connID string, active bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	userID, ok := t.owner[connID]
	if !ok {
		return ErrNotAttached
	}
	t.users[userID][connID].SetActive(active)
	return nil
}

// Connections returns how many connections are attached under userID.
func (t *Tracker) Connections(userID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users[userID])
}

// ActiveUsers counts users with at least one active connection.
func (t *Tracker) ActiveUsers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, set := range t.users {
		for _, conn := range set {
			if conn.IsActive() {
				n++
				break
			}
		}
	}
	return n
}

// Snapshot returns a point-in-time summary for every tracked user, sorted
// by user id.
func (t *Tracker) Snapshot() []UserPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]UserPresence, 0, len(t.users))
	for userID, set := range t.users {
		p := UserPresence{UserID: userID, Connections: len(set)}
		for _, conn := range set {
			if conn.IsActive() {
				p.ActiveConnections++
			}
		}
		p.Active = p.ActiveConnections > 0
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
