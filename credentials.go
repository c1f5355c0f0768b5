package auth

import (
	"context"
	"sync"
)

var _ CredentialStore = (*MemoryCredentialStore)(nil)

// MemoryCredentialStore keeps the credential for the process lifetime only
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryCredentialStore returns a store seeded with an optional token
func NewMemoryCredentialStore(token ...string) *MemoryCredentialStore {
	s := &MemoryCredentialStore{}
	if len(token) > 0 {
		s.token = token[0]
	}
	return s
}

func (s *MemoryCredentialStore) Get(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryCredentialStore) Set(_ context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryCredentialStore) Clear(ctx context.Context) error {
	return s.Set(ctx, "")
}
