package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore keeps records in process memory with a lock per account.
// Intended for tests and single-node deployments.
type memStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
	locks   map[uuid.UUID]*sync.Mutex
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() Store {
	return &memStore{
		records: make(map[uuid.UUID]*Record),
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *memStore) lockFor(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return rec.Clone(), nil
}

func (s *memStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return ErrAccountAlreadyExists
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *memStore) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*Record, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}

	// Mutate a copy so a failed update leaves the stored record untouched.
	next := rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.records[id] = next
	s.mu.Unlock()

	return next.Clone(), nil
}
