package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haivivi/twinbud/pkg/lockgate"
)

type recorder struct {
	got []string
}

func (r *recorder) Handle(id MessageID, msg any) {
	r.got = append(r.got, msg.(string))
}

func newTestLoop(t *testing.T) (*Loop, *recorder, *Task) {
	t.Helper()
	l := New(&Options{Clock: NewManualClock(time.Time{})})
	r := &recorder{}
	return l, r, NewTask("test", r)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSendOrder(t *testing.T) {
	l, r, task := newTestLoop(t)
	l.Send(task, 1, "a")
	l.Send(task, 2, "b")
	l.Send(task, 1, "c")
	if n := l.RunPending(); n != 3 {
		t.Fatalf("RunPending = %d, want 3", n)
	}
	if !equal(r.got, []string{"a", "b", "c"}) {
		t.Errorf("got %v", r.got)
	}
}

func TestSendLater(t *testing.T) {
	l, r, task := newTestLoop(t)
	l.SendLater(task, 1, "late", 100*time.Millisecond)
	l.SendLater(task, 1, "early", 10*time.Millisecond)
	l.Send(task, 1, "now")

	l.RunPending()
	if !equal(r.got, []string{"now"}) {
		t.Fatalf("after RunPending got %v", r.got)
	}
	l.Advance(9 * time.Millisecond)
	if len(r.got) != 1 {
		t.Fatalf("delivered early: %v", r.got)
	}
	l.Advance(time.Millisecond)
	if !equal(r.got, []string{"now", "early"}) {
		t.Fatalf("got %v", r.got)
	}
	l.Advance(time.Second)
	if !equal(r.got, []string{"now", "early", "late"}) {
		t.Fatalf("got %v", r.got)
	}
}

func TestConditionalWaitsForGate(t *testing.T) {
	l, r, task := newTestLoop(t)
	g := lockgate.New("leakthrough")
	g.Acquire()

	l.SendConditionally(task, 1, "first", g)
	l.SendConditionally(task, 1, "second", g)
	l.Send(task, 2, "free")

	l.RunPending()
	if !equal(r.got, []string{"free"}) {
		t.Fatalf("gated messages delivered while held: %v", r.got)
	}
	l.Advance(time.Second)
	if len(r.got) != 1 {
		t.Fatalf("gated messages delivered while held: %v", r.got)
	}

	g.Release()
	l.RunPending()
	if !equal(r.got, []string{"free", "first", "second"}) {
		t.Errorf("got %v", r.got)
	}
	if l.Len() != 0 {
		t.Errorf("queue not drained: %d", l.Len())
	}
}

func TestConditionalReevaluatedAfterDelivery(t *testing.T) {
	l := New(&Options{Clock: NewManualClock(time.Time{})})
	g := lockgate.New("a2dp")
	var got []string
	var task *Task
	task = NewTask("t", HandlerFunc(func(id MessageID, msg any) {
		got = append(got, msg.(string))
		switch msg {
		case "acquire":
			g.Acquire()
			l.SendLater(task, 9, "release", 5*time.Millisecond)
		case "release":
			g.Release()
		}
	}))
	l.SendConditionally(task, 1, "acquire", g)
	l.SendConditionally(task, 1, "gated", g)

	l.RunPending()
	if !equal(got, []string{"acquire"}) {
		t.Fatalf("got %v", got)
	}
	l.Advance(5 * time.Millisecond)
	if !equal(got, []string{"acquire", "release", "gated"}) {
		t.Errorf("got %v", got)
	}
}

func TestCancelAll(t *testing.T) {
	l, r, task := newTestLoop(t)
	other := NewTask("other", r)
	l.SendLater(task, 7, "x", 10*time.Millisecond)
	l.SendLater(task, 7, "y", 20*time.Millisecond)
	l.SendLater(task, 8, "keep", 10*time.Millisecond)
	l.SendLater(other, 7, "other", 10*time.Millisecond)

	if n := l.Pending(task, 7); n != 2 {
		t.Fatalf("Pending = %d, want 2", n)
	}
	if n := l.CancelAll(task, 7); n != 2 {
		t.Fatalf("CancelAll = %d, want 2", n)
	}
	l.Advance(time.Second)
	if !equal(r.got, []string{"keep", "other"}) {
		t.Errorf("got %v", r.got)
	}
}

func TestCallAndRun(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var x int
	if err := l.Call(ctx, func() { x = 42 }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if x != 42 {
		t.Errorf("x = %d", x)
	}

	fired := make(chan struct{})
	task := NewTask("timer", HandlerFunc(func(MessageID, any) { close(fired) }))
	l.SendLater(task, 1, nil, 5*time.Millisecond)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed message not delivered")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
	if err := l.Call(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Call after stop = %v, want ErrStopped", err)
	}
}
