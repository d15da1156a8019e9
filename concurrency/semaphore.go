package concurrency

import (
	"container/list"
	"context"
	"sync"
)

// Semaphore is a counting semaphore with FIFO hand-off: a released slot goes
// straight to the oldest waiter, so no slot sits idle while someone is queued.
type Semaphore struct {
	mu      sync.Mutex
	avail   int
	waiters list.List // of *ticket
}

// ticket is a caller's place in line. ready is closed once the slot is held.
type ticket struct {
	ready chan struct{}
	elem  *list.Element
}

// NewSemaphore returns a semaphore with n slots. n below 1 is treated as 1.
func NewSemaphore(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{avail: n}
}

// Acquire blocks until a slot is held or ctx is done. On ctx error the caller
// holds nothing.
func (s *Semaphore) Acquire(ctx context.Context) error {
	return s.wait(ctx, s.enqueue())
}

// Release returns a slot.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avail++
	if front := s.waiters.Front(); front != nil {
		s.avail--
		t := s.waiters.Remove(front).(*ticket)
		t.elem = nil
		close(t.ready)
	}
}

// enqueue takes a slot right away when one is free and nobody is waiting,
// otherwise it appends a ticket to the queue. It never blocks, which lets Map
// fix queue order to input order before any goroutine runs.
func (s *Semaphore) enqueue() *ticket {
	t := &ticket{ready: make(chan struct{})}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.avail > 0 && s.waiters.Len() == 0 {
		s.avail--
		close(t.ready)
		return t
	}
	t.elem = s.waiters.PushBack(t)
	return t
}

func (s *Semaphore) wait(ctx context.Context, t *ticket) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	select {
	case <-t.ready:
		// Granted between ctx.Done and the lock; hand the slot back.
		s.mu.Unlock()
		s.Release()
	default:
		s.waiters.Remove(t.elem)
		t.elem = nil
		s.mu.Unlock()
	}
	return ctx.Err()
}
