package subscription

import (
	"bytes"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry is the in-memory authority for push subscriptions, one per user.
// Every change is written through to the Store; store failures are logged
// and leave the in-memory state as the source of truth.
type Registry struct {
	// writeMu is held across a change and its store write so the store sees
	// changes in the same order as the map.
	writeMu sync.Mutex

	mu    sync.RWMutex
	subs  map[string]Endpoint
	store Store
	log   *zap.Logger
}

// NewRegistry loads the persisted subscriptions from store. A load failure
// is logged and the registry starts empty.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		subs:  make(map[string]Endpoint),
		store: store,
		log:   logger,
	}

	loaded, err := store.Load()
	if err != nil {
		r.log.Error("loading push subscriptions failed; starting empty", zap.Error(err))
		return r
	}
	for userID, ep := range loaded {
		r.subs[userID] = ep
	}
	r.log.Info("loaded push subscriptions", zap.Int("count", len(r.subs)))
	return r
}

// Put registers or replaces the endpoint for userID. It returns
// ErrInvalidEndpoint when ep is not a JSON object.
func (r *Registry) Put(userID string, ep Endpoint) error {
	if !ValidEndpoint(ep) {
		return ErrInvalidEndpoint
	}
	ep = slices.Clone(ep)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	r.subs[userID] = ep
	r.mu.Unlock()

	if err := r.store.Upsert(userID, ep); err != nil {
		r.log.Error("persisting push subscription failed",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	r.log.Debug("push subscription saved", zap.String("user_id", userID))
	return nil
}

// Remove deletes the subscription for userID, if any.
func (r *Registry) Remove(userID string) {
	r.remove(userID, nil)
}

// RemoveIf deletes the subscription for userID only while its endpoint is
// still ep. It reports whether anything was removed.
func (r *Registry) RemoveIf(userID string, ep Endpoint) bool {
	return r.remove(userID, func(current Endpoint) bool { return bytes.Equal(current, ep) })
}

func (r *Registry) remove(userID string, match func(Endpoint) bool) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	current, ok := r.subs[userID]
	if !ok || (match != nil && !match(current)) {
		r.mu.Unlock()
		return false
	}
	delete(r.subs, userID)
	r.mu.Unlock()

	if err := r.store.Delete(userID); err != nil {
		r.log.Error("persisting push subscription removal failed",
			zap.String("user_id", userID), zap.Error(err))
		return true
	}
	r.log.Info("push subscription removed", zap.String("user_id", userID))
	return true
}

// Get returns the endpoint registered for userID.
func (r *Registry) Get(userID string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.subs[userID]
	return slices.Clone(ep), ok
}

// All returns a snapshot of every subscription sorted by user id.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.subs))
	for userID, ep := range r.subs {
		out = append(out, Entry{UserID: userID, Endpoint: slices.Clone(ep)})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close releases the backing store.
func (r *Registry) Close() error {
	return r.store.Close()
}
