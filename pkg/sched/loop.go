// Package sched implements the cooperative, single-threaded message loop that
// drives an earbud.
//
// All device work runs as the reaction to a delivered message. Messages may be
// delayed, conditional on a lockgate.Condition, or both. A conditional message
// stays queued until its condition is observed open; it is then delivered
// exactly once. Delayed messages are cancelled by CancelAll, which is how a
// newer request for the same logical timer supersedes an older one.
//
// Handlers never block. Goroutines outside the loop interact with it only
// through Post and Call.
package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haivivi/twinbud/pkg/lockgate"
)

// ErrStopped is returned by Call when the loop has been stopped.
var ErrStopped = errors.New("sched: loop stopped")

// MessageID identifies a message kind within a task.
type MessageID int

// Handler receives messages delivered to a Task.
type Handler interface {
	Handle(id MessageID, msg any)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(id MessageID, msg any)

// Handle calls f(id, msg).
func (f HandlerFunc) Handle(id MessageID, msg any) { f(id, msg) }

// Task is a message destination. Identity is by pointer.
type Task struct {
	name    string
	handler Handler
}

// NewTask returns a task that delivers to h.
func NewTask(name string, h Handler) *Task {
	return &Task{name: name, handler: h}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

type envelope struct {
	task *Task
	id   MessageID
	msg  any
	fn   func()
	due  time.Time
	cond lockgate.Condition
	seq  uint64
}

func (e *envelope) ready(now time.Time) bool {
	if e.due.After(now) {
		return false
	}
	return e.cond == nil || e.cond.Open()
}

func (e *envelope) before(o *envelope) bool {
	if !e.due.Equal(o.due) {
		return e.due.Before(o.due)
	}
	return e.seq < o.seq
}

// Options configures a Loop.
type Options struct {
	// Clock is the time source. Default is the wall clock.
	Clock Clock

	// Logger for delivery traces. Default is slog.Default().
	Logger *slog.Logger
}

// Loop is a single-threaded message queue with delayed and conditional
// delivery. Enqueueing is safe from any goroutine; delivery happens on
// whichever goroutine drives the loop through Run, RunPending or Advance.
type Loop struct {
	clock Clock
	log   *slog.Logger

	mu      sync.Mutex
	queue   []*envelope
	seq     uint64
	stopped bool
	wake    chan struct{}
}

// New returns an idle Loop.
func New(opts *Options) *Loop {
	l := &Loop{
		clock: realClock{},
		log:   slog.Default(),
		wake:  make(chan struct{}, 1),
	}
	if opts != nil {
		if opts.Clock != nil {
			l.clock = opts.Clock
		}
		if opts.Logger != nil {
			l.log = opts.Logger
		}
	}
	return l
}

// Clock returns the loop's time source.
func (l *Loop) Clock() Clock { return l.clock }

// Now returns the loop's current time.
func (l *Loop) Now() time.Time { return l.clock.Now() }

func (l *Loop) push(e *envelope) {
	l.mu.Lock()
	l.seq++
	e.seq = l.seq
	l.queue = append(l.queue, e)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Send queues msg for immediate delivery to task.
func (l *Loop) Send(task *Task, id MessageID, msg any) {
	l.SendLaterConditionally(task, id, msg, 0, nil)
}

// SendLater queues msg for delivery after delay.
func (l *Loop) SendLater(task *Task, id MessageID, msg any, delay time.Duration) {
	l.SendLaterConditionally(task, id, msg, delay, nil)
}

// SendConditionally queues msg for delivery once cond is open.
func (l *Loop) SendConditionally(task *Task, id MessageID, msg any, cond lockgate.Condition) {
	l.SendLaterConditionally(task, id, msg, 0, cond)
}

// SendLaterConditionally queues msg for delivery once delay has elapsed and
// cond is open. A nil cond is always open.
func (l *Loop) SendLaterConditionally(task *Task, id MessageID, msg any, delay time.Duration, cond lockgate.Condition) {
	if delay < 0 {
		delay = 0
	}
	l.push(&envelope{
		task: task,
		id:   id,
		msg:  msg,
		due:  l.clock.Now().Add(delay),
		cond: cond,
	})
}

// CancelAll removes every queued message with the given task and id and
// returns how many were removed.
func (l *Loop) CancelAll(task *Task, id MessageID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.queue[:0]
	n := 0
	for _, e := range l.queue {
		if e.fn == nil && e.task == task && e.id == id {
			n++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(l.queue); i++ {
		l.queue[i] = nil
	}
	l.queue = kept
	return n
}

// Pending returns how many messages with the given task and id are queued.
func (l *Loop) Pending(task *Task, id MessageID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.queue {
		if e.fn == nil && e.task == task && e.id == id {
			n++
		}
	}
	return n
}

// Len returns the total number of queued messages.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Post queues fn to run on the loop at the current time.
func (l *Loop) Post(fn func()) {
	l.push(&envelope{fn: fn, due: l.clock.Now()})
}

// Call runs fn on the loop and waits for it to return. It must not be called
// from a handler running on the same loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// next removes and returns the first ready message, or nil.
func (l *Loop) next(now time.Time) *envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	best := -1
	for i, e := range l.queue {
		if !e.ready(now) {
			continue
		}
		if best < 0 || e.before(l.queue[best]) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	e := l.queue[best]
	copy(l.queue[best:], l.queue[best+1:])
	l.queue[len(l.queue)-1] = nil
	l.queue = l.queue[:len(l.queue)-1]
	return e
}

// nextDue returns the earliest due time strictly after now.
func (l *Loop) nextDue(now time.Time) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var t time.Time
	found := false
	for _, e := range l.queue {
		if !e.due.After(now) {
			continue
		}
		if !found || e.due.Before(t) {
			t = e.due
			found = true
		}
	}
	return t, found
}

func (l *Loop) deliver(e *envelope) {
	if e.fn != nil {
		e.fn()
		return
	}
	if e.task == nil || e.task.handler == nil {
		l.log.Warn("sched: drop message for task without handler", "id", e.id)
		return
	}
	l.log.Debug("sched: deliver", "task", e.task.name, "id", e.id)
	e.task.handler.Handle(e.id, e.msg)
}

// RunPending delivers every message that is ready at the current time,
// including messages made ready by earlier deliveries, and returns the
// number delivered.
func (l *Loop) RunPending() int {
	n := 0
	for {
		e := l.next(l.clock.Now())
		if e == nil {
			return n
		}
		l.deliver(e)
		n++
	}
}

// Advance moves a ManualClock forward by d, delivering messages in due-time
// order as their times are reached. It panics if the loop does not use a
// ManualClock.
func (l *Loop) Advance(d time.Duration) int {
	mc, ok := l.clock.(*ManualClock)
	if !ok {
		panic("sched: Advance requires a ManualClock")
	}
	target := mc.Now().Add(d)
	n := l.RunPending()
	for {
		t, ok := l.nextDue(mc.Now())
		if !ok || t.After(target) {
			break
		}
		mc.Set(t)
		n += l.RunPending()
	}
	mc.Set(target)
	return n + l.RunPending()
}

// Run drives the loop on the calling goroutine until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
	}()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		l.RunPending()

		wait := time.Hour
		if t, ok := l.nextDue(l.clock.Now()); ok {
			wait = time.Until(t)
			if wait < 0 {
				wait = 0
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-timer.C:
		}
	}
}
