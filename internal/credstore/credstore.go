// Package credstore defines the boundary to the external secure credential
// store holding the technical-user secret.
//
// The real store is an external collaborator reached through platform
// procedures; costbridge only depends on retrieve/insert/delete semantics.
// The in-memory implementation backs tests and local development.
package credstore

import "sync"

// Store is the secure credential store interface. Secrets are keyed by the
// technical-user name; the name itself lives in the relational settings table.
type Store interface {
	// Retrieve returns the secret for key, with ok=false when absent. An
	// absent secret is not an error: callers treat it as a silent no-op and
	// rely on the next poll tick.
	Retrieve(key string) (secret string, ok bool, err error)

	// Insert stores a secret under key, replacing any previous value.
	Insert(key, secret string) error

	// Delete removes the secret under key. Removing an absent key is not an error.
	Delete(key string) error
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps secrets in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewInMemoryStore creates an empty in-memory credential store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{secrets: make(map[string]string)}
}

func (s *InMemoryStore) Retrieve(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[key]
	return secret, ok, nil
}

func (s *InMemoryStore) Insert(key, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = secret
	return nil
}

func (s *InMemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, key)
	return nil
}
