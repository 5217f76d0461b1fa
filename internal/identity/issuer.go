// Package identity issues anonymous user identities to new clients.
package identity

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

//go:embed usernames.json
var defaultUsernames []byte

// User is a freshly issued identity.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Issuer hands out user ids paired with a random display name.
type Issuer struct {
	names []string
}

// NewIssuer returns an issuer drawing from the built-in name list.
func NewIssuer() (*Issuer, error) {
	var names []string
	if err := json.Unmarshal(defaultUsernames, &names); err != nil {
		return nil, fmt.Errorf("decode usernames: %w", err)
	}
	return NewIssuerWithNames(names)
}

// NewIssuerWithNames returns an issuer drawing from names.
func NewIssuerWithNames(names []string) (*Issuer, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("identity: username list is empty")
	}
	return &Issuer{names: append([]string(nil), names...)}, nil
}

// NewUser issues a new user id with a random display name.
func (i *Issuer) NewUser() User {
	return User{
		ID:       "user_" + uuid.NewString(),
		Username: i.names[rand.IntN(len(i.names))],
	}
}
