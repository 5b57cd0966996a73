package store

import (
	"context"
	"sync"

	"ozzus/sbe-monitor/internal/domain"
)

// MemoryStore is a FIFO queue guarded by a mutex.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   []*domain.Job
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Push(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.jobs = append(s.jobs, job)
	return nil
}

func (s *MemoryStore) Pop(_ context.Context) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrClosed
	}

	if len(s.jobs) == 0 {
		return nil, false, nil
	}

	job := s.jobs[0]
	s.jobs[0] = nil
	s.jobs = s.jobs[1:]

	return job, true, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.jobs = nil
	return nil
}
