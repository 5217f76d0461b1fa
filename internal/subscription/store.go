// Package subscription keeps the push endpoint registered for each user and
// persists it so registrations survive a restart.
package subscription

import (
	"encoding/json"
	"errors"
)

// Endpoint is an opaque push endpoint descriptor. It is stored and handed to
// the delivery side exactly as the client sent it.
type Endpoint = json.RawMessage

// Entry pairs a user id with its endpoint.
type Entry struct {
	UserID   string
	Endpoint Endpoint
}

// ErrInvalidEndpoint is returned for descriptors that are not a JSON object.
var ErrInvalidEndpoint = errors.New("subscription: endpoint must be a JSON object")

// Store is the durable backing for a Registry.
type Store interface {
	// Load returns every persisted subscription. A store that has never
	// been written returns an empty map and no error.
	Load() (map[string]Endpoint, error)
	Upsert(userID string, ep Endpoint) error
	Delete(userID string) error
	Close() error
}

// ValidEndpoint reports whether raw is a JSON object.
func ValidEndpoint(raw []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}
