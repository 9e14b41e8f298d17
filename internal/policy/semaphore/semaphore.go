// Package semaphore caps simultaneous outbound fetches process-wide.
package semaphore

import (
	"context"
	"fmt"
	"sync"
	"time"

	xsem "golang.org/x/sync/semaphore"
)

const defaultMax = 8

// Semaphore is a FIFO counting semaphore shared by every outbound attempt,
// robots.txt probes included. It wraps x/sync's weighted semaphore, which
// serves waiters in arrival order, and layers usage stats on top.
type Semaphore struct {
	sem *xsem.Weighted

	mu        sync.Mutex
	active    int
	queued    int
	peak      int
	waits     int64
	waitTotal time.Duration
}

// Stats is a point-in-time snapshot of semaphore usage.
type Stats struct {
	Active      int
	Queued      int
	PeakActive  int
	AverageWait time.Duration
}

// New creates a Semaphore admitting at most max concurrent holders.
func New(max int) *Semaphore {
	if max <= 0 {
		max = defaultMax
	}
	return &Semaphore{sem: xsem.NewWeighted(int64(max))}
}

// Acquire blocks until a slot is free or ctx finishes. The only error it
// returns is the context's.
func (s *Semaphore) Acquire(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	s.queued++
	s.mu.Unlock()

	err := s.sem.Acquire(ctx, 1)

	s.mu.Lock()
	s.queued--
	if err == nil {
		s.active++
		if s.active > s.peak {
			s.peak = s.active
		}
		s.waits++
		s.waitTotal += time.Since(start)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	return nil
}

// Release frees a slot and wakes the oldest waiter.
func (s *Semaphore) Release() {
	s.mu.Lock()
	if s.active > 0 {
		s.active--
	}
	s.mu.Unlock()
	s.sem.Release(1)
}

// Do runs fn between Acquire and Release. Release happens on every exit
// path, panics included.
func (s *Semaphore) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn(ctx)
}

// Stats reports current usage.
func (s *Semaphore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Active:     s.active,
		Queued:     s.queued,
		PeakActive: s.peak,
	}
	if s.waits > 0 {
		st.AverageWait = s.waitTotal / time.Duration(s.waits)
	}
	return st
}
