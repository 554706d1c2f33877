package jobs

import (
	"sort"
	"sync"
)

// Store keeps job records. Implementations store copies; callers may mutate
// what they pass in or get back.
type Store interface {
	Save(job *Job) error
	Get(id string) (*Job, error)
	List() ([]*Job, error)
	Delete(id string) error
	Close() error
}

// MemoryStore is a process-local Store. Jobs do not survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Save(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.clone()
	return nil
}

func (s *MemoryStore) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

func (s *MemoryStore) List() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.clone())
	}
	sortByRequested(out)
	return out, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// sortByRequested orders jobs newest first.
func sortByRequested(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].RequestedAt.After(jobs[j].RequestedAt)
	})
}
