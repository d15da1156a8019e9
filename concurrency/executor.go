// Package concurrency runs bounded-parallel work and keeps results in input order.
package concurrency

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ByteMirror/clawdcommit/log"
)

// OutcomeKind tells how a single item of a Map call ended.
type OutcomeKind int

const (
	// OutcomeSkipped means fn never ran because ctx was done before or while
	// the item waited for a slot.
	OutcomeSkipped OutcomeKind = iota
	// OutcomeOK means fn returned without error.
	OutcomeOK
	// OutcomeFailed means fn returned an error or panicked.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeOK:
		return "ok"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the per-item result of Map.
type Outcome[R any] struct {
	Kind  OutcomeKind
	Value R
	// Err is set for OutcomeFailed (the fn error or recovered panic) and for
	// OutcomeSkipped (the context error).
	Err error
}

// OK returns the value and true when the item produced a result.
func (o Outcome[R]) OK() (R, bool) {
	return o.Value, o.Kind == OutcomeOK
}

// Map runs fn over items with at most limit calls in flight and returns the
// outcomes in input order. Every item gets its own goroutine up front; the
// limit only gates how many run fn at the same time. Slots are handed out in
// input order.
//
// Errors and panics from fn are logged and recorded as OutcomeFailed for that
// item only. Once ctx is done, items that have not started are recorded as
// OutcomeSkipped and fn is not called for them. Map itself never fails.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T, index int) (R, error)) []Outcome[R] {
	outcomes := make([]Outcome[R], len(items))
	if len(items) == 0 {
		return outcomes
	}
	if limit < 1 {
		limit = 1
	}

	sem := NewSemaphore(limit)
	var wg sync.WaitGroup
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			outcomes[i] = Outcome[R]{Kind: OutcomeSkipped, Err: err}
			continue
		}
		t := sem.enqueue()
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = runOne(ctx, sem, t, item, i, fn)
		}()
	}
	wg.Wait()
	return outcomes
}

func runOne[T, R any](ctx context.Context, sem *Semaphore, t *ticket, item T, index int, fn func(context.Context, T, int) (R, error)) (out Outcome[R]) {
	if err := sem.wait(ctx, t); err != nil {
		return Outcome[R]{Kind: OutcomeSkipped, Err: err}
	}
	defer sem.Release()

	// Cancelled while queued: the slot was granted but the work is no longer wanted.
	if err := ctx.Err(); err != nil {
		return Outcome[R]{Kind: OutcomeSkipped, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			log.ErrorLog.Printf("concurrent task %d panicked: %v\n%s", index, r, debug.Stack())
			out = Outcome[R]{Kind: OutcomeFailed, Err: fmt.Errorf("task %d panicked: %v", index, r)}
		}
	}()

	value, err := fn(ctx, item, index)
	if err != nil {
		log.ErrorLog.Printf("concurrent task %d failed: %v", index, err)
		return Outcome[R]{Kind: OutcomeFailed, Err: err}
	}
	return Outcome[R]{Kind: OutcomeOK, Value: value}
}

// Values returns the results of the items that produced one, in input order.
func Values[R any](outcomes []Outcome[R]) []R {
	values := make([]R, 0, len(outcomes))
	for _, o := range outcomes {
		if v, ok := o.OK(); ok {
			values = append(values, v)
		}
	}
	return values
}
