package secrets

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and local experiments.
type MemoryStore struct {
	mu    sync.Mutex
	creds *Credentials
	token *TokenRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Credentials(ctx context.Context) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil, ErrCredentialsNotFound
	}
	copied := *s.creds
	return &copied, nil
}

func (s *MemoryStore) SaveCredentials(ctx context.Context, creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *creds
	s.creds = &copied
	return nil
}

func (s *MemoryStore) Token(ctx context.Context) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil, ErrTokenNotFound
	}
	copied := *s.token
	return &copied, nil
}

func (s *MemoryStore) SaveToken(ctx context.Context, rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.token = &copied
	return nil
}
