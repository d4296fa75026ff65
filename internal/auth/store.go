package auth

import (
	"encoding/base64"
	"sync"
)

// Store holds the username and password of the connection being synced.
// The folder writes it before a run and the engine's auth callback reads
// it from the worker goroutine.
type Store struct {
	mu       sync.RWMutex
	username string
	password string
}

func NewStore() *Store {
	return &Store{}
}

// Set replaces both values.
func (s *Store) Set(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.password = password
}

// Credentials returns a consistent snapshot of both values.
func (s *Store) Credentials() (username, password string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username, s.password
}

// With runs fn while holding the read lock, so fn sees both values
// as they were set together.
func (s *Store) With(fn func(username, password string)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.username, s.password)
}

// BasicAuthHeader builds the value of an Authorization header.
func BasicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
