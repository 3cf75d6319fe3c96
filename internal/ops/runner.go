// Package ops owns the operation lifecycle: exactly one background worker
// at a time, an explicit busy/idle state transitioned atomically, and an
// event channel the front-end drains for progress.
package ops

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var ErrBusy = errors.New("an operation is already in progress")

type State int32

const (
	Idle State = iota
	Busy
)

type EventKind int

const (
	EventProgress EventKind = iota
	EventDone
)

type Event struct {
	Kind EventKind
	Pct  int
	Err  error
}

// Runner accepts at most one operation at a time. The worker posts progress
// asynchronously: interim progress events are dropped when the channel is
// full so the worker never blocks on a slow consumer, while the final 100%
// event and Done are always delivered.
type Runner struct {
	state  atomic.Int32
	events chan Event
}

func NewRunner() *Runner {
	return &Runner{events: make(chan Event, 64)}
}

func (r *Runner) State() State {
	return State(r.state.Load())
}

// Events delivers progress and completion for the operation currently in
// flight. EventDone marks the boundary between operations.
func (r *Runner) Events() <-chan Event {
	return r.events
}

// Start launches fn on a fresh worker goroutine, or returns ErrBusy when an
// operation is already in flight. Whatever fn does, the worker forces a
// final 100% progress event before Done so the front-end always sees the
// operation end, and the state always returns to Idle.
func (r *Runner) Start(ctx context.Context, fn func(ctx context.Context, onProgress func(int)) error) error {
	if !r.state.CompareAndSwap(int32(Idle), int32(Busy)) {
		return ErrBusy
	}
	go func() {
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("operation panicked: %v", p)
			}
			// The final 100 and Done are blocking sends: interim progress
			// may be dropped under backpressure, the ending never is.
			r.events <- Event{Kind: EventProgress, Pct: 100}
			r.state.Store(int32(Idle))
			r.events <- Event{Kind: EventDone, Err: err}
		}()
		err = fn(ctx, func(pct int) {
			r.post(Event{Kind: EventProgress, Pct: pct})
		})
	}()
	return nil
}

func (r *Runner) post(ev Event) {
	select {
	case r.events <- ev:
	default:
	}
}
