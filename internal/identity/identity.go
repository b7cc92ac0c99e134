// Package identity reports who the current user is and whether they are
// signed in.
//
// The reconciler only needs a snapshot per cycle, so Provider has a
// single synchronous method. Two implementations are provided: Static
// for tests and fixed configurations, and TokenProvider which derives
// the identity from a signed session token.
package identity

import "sync"

// Identity is a snapshot of the signed-in user.
type Identity struct {
	UserID        string `json:"userId"`
	Authenticated bool   `json:"authenticated"`
}

// Provider supplies the current identity.
type Provider interface {
	Current() Identity
}

// Static is a Provider whose identity is set explicitly.
//
// Thread-safety: All methods are safe for concurrent use.
type Static struct {
	mu sync.RWMutex
	id Identity
}

// NewStatic returns a provider signed in as userID. An empty userID
// yields a signed-out provider.
func NewStatic(userID string) *Static {
	return &Static{id: Identity{UserID: userID, Authenticated: userID != ""}}
}

// Current implements Provider.
func (s *Static) Current() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Set replaces the identity.
func (s *Static) Set(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

// SignOut clears the identity.
func (s *Static) SignOut() {
	s.Set(Identity{})
}
