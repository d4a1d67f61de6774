// Package store holds the latest committed snapshot for every job and
// distributes snapshot changes to pollers and stream subscribers.
//
// The orchestrator is the only writer; it publishes a fresh immutable
// snapshot after each transition. Readers get whole snapshots and never
// block the writer: each subscriber owns a single-slot channel, so a slow
// subscriber coalesces intermediate snapshots but is always delivered the
// terminal one before its channel is closed.
package store

import (
	"errors"
	"sync"

	"github.com/fyrsmithlabs/cifixd/internal/job"
)

// ErrNotFound indicates the job ID is unknown to the store.
var ErrNotFound = errors.New("job not found")

type entry struct {
	snapshot *job.Job
	subs     map[chan *job.Job]struct{}
	closed   bool
}

// Store is an in-memory job registry with broadcast semantics.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

// New creates an empty store.
func New() *Store {
	return &Store{jobs: make(map[string]*entry)}
}

// Publish commits a snapshot for the job and fans it out to subscribers.
// After a terminal snapshot every subscriber channel is closed and further
// publishes for the job are ignored.
func (s *Store) Publish(snapshot *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[snapshot.ID]
	if !ok {
		e = &entry{subs: make(map[chan *job.Job]struct{})}
		s.jobs[snapshot.ID] = e
	}
	if e.closed {
		return
	}
	e.snapshot = snapshot

	for ch := range e.subs {
		// Replace any undelivered snapshot with the newest one.
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}

	if snapshot.Status.Terminal() {
		e.closed = true
		for ch := range e.subs {
			close(ch)
		}
		e.subs = make(map[chan *job.Job]struct{})
	}
}

// Get returns the latest committed snapshot for the job, or ErrNotFound.
// Snapshots remain retrievable after the job terminates.
func (s *Store) Get(id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok || e.snapshot == nil {
		return nil, ErrNotFound
	}
	return e.snapshot, nil
}

// Subscribe registers a latest-value channel for the job. The current
// snapshot is delivered immediately; if the job is already terminal the
// channel is closed right after that delivery. The returned cancel func
// detaches the subscriber without affecting the job.
func (s *Store) Subscribe(id string) (<-chan *job.Job, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok || e.snapshot == nil {
		return nil, nil, ErrNotFound
	}

	ch := make(chan *job.Job, 1)
	ch <- e.snapshot

	if e.closed {
		close(ch)
		return ch, func() {}, nil
	}

	e.subs[ch] = struct{}{}
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, live := e.subs[ch]; live {
			delete(e.subs, ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}
