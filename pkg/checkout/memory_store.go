package checkout

import (
	"context"
	"sync"
	"time"
)

type memRequestStore struct {
	mu        sync.RWMutex
	byToken   map[string]*Request
	bySession map[string]string // session ref -> token
}

// NewMemRequestStore returns an in-memory RequestStore for tests and
// single-node deployments.
func NewMemRequestStore() RequestStore {
	return &memRequestStore{
		byToken:   make(map[string]*Request),
		bySession: make(map[string]string),
	}
}

func (s *memRequestStore) Get(ctx context.Context, token string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.byToken[token]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return req.Clone(), nil
}

func (s *memRequestStore) GetBySession(ctx context.Context, sessionRef string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.bySession[sessionRef]
	if !ok {
		return nil, ErrRequestNotFound
	}
	req, ok := s.byToken[token]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return req.Clone(), nil
}

func (s *memRequestStore) Create(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byToken[req.Token]; exists {
		return ErrTokenConflict
	}
	s.byToken[req.Token] = req.Clone()
	if req.SessionRef != "" {
		s.bySession[req.SessionRef] = req.Token
	}
	return nil
}

func (s *memRequestStore) SetSession(ctx context.Context, token, sessionRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.byToken[token]
	if !ok {
		return ErrRequestNotFound
	}
	req.SessionRef = sessionRef
	s.bySession[sessionRef] = token
	return nil
}

func (s *memRequestStore) Complete(ctx context.Context, token string, status Status, reason string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.byToken[token]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Terminal() {
		return nil, ErrRequestTerminal
	}

	now := time.Now().UTC()
	req.Status = status
	req.Reason = reason
	req.CompletedAt = &now
	return req.Clone(), nil
}
