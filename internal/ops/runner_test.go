package ops

import (
	"context"
	"errors"
	"testing"
	"time"
)

func drainUntilDone(t *testing.T, r *Runner) (events []Event, done Event) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.Events():
			if ev.Kind == EventDone {
				return events, ev
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("no Done event within timeout")
		}
	}
}

func TestRunnerRejectsConcurrentStart(t *testing.T) {
	r := NewRunner()
	release := make(chan struct{})

	if err := r.Start(context.Background(), func(ctx context.Context, onProgress func(int)) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	if err := r.Start(context.Background(), func(context.Context, func(int)) error { return nil }); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start = %v, want ErrBusy", err)
	}
	if r.State() != Busy {
		t.Errorf("state = %v, want Busy", r.State())
	}

	close(release)
	drainUntilDone(t, r)
	if r.State() != Idle {
		t.Errorf("state after Done = %v, want Idle", r.State())
	}
}

func TestRunnerForcesFinalProgressOnFailure(t *testing.T) {
	r := NewRunner()
	opErr := errors.New("tool exploded")

	if err := r.Start(context.Background(), func(ctx context.Context, onProgress func(int)) error {
		onProgress(37)
		return opErr
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events, done := drainUntilDone(t, r)
	if !errors.Is(done.Err, opErr) {
		t.Errorf("done.Err = %v, want %v", done.Err, opErr)
	}
	if len(events) == 0 || events[len(events)-1].Pct != 100 {
		t.Errorf("progress events %v must end at 100 even on failure", events)
	}
}

func TestRunnerRecoversPanic(t *testing.T) {
	r := NewRunner()
	if err := r.Start(context.Background(), func(context.Context, func(int)) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, done := drainUntilDone(t, r)
	if done.Err == nil {
		t.Fatal("panic must surface as an error on Done")
	}
	if r.State() != Idle {
		t.Errorf("state = %v, want Idle after panic", r.State())
	}
}

func TestRunnerFinalProgressSurvivesBackpressure(t *testing.T) {
	r := NewRunner()
	posted := make(chan struct{})

	// Flood the channel well past its buffer before the consumer drains a
	// single event, then finish. The forced final 100 must still arrive.
	if err := r.Start(context.Background(), func(ctx context.Context, onProgress func(int)) error {
		for i := 0; i < 80; i++ {
			onProgress(i % 100)
		}
		close(posted)
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-posted
	events, done := drainUntilDone(t, r)
	if done.Err != nil {
		t.Fatalf("done.Err = %v", done.Err)
	}
	if len(events) == 0 || events[len(events)-1].Pct != 100 {
		last := -1
		if len(events) > 0 {
			last = events[len(events)-1].Pct
		}
		t.Errorf("last progress before Done = %d, want 100 (%d events seen)", last, len(events))
	}
}

func TestRunnerCanStartAgainAfterDone(t *testing.T) {
	r := NewRunner()
	for i := 0; i < 3; i++ {
		if err := r.Start(context.Background(), func(context.Context, func(int)) error { return nil }); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		drainUntilDone(t, r)
	}
}
