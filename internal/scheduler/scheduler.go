// Package scheduler runs the controller's tasks cooperatively.
//
// Exactly one task executes at any moment. A task gives up control only by
// calling Sleep; between two Sleep calls it runs uninterrupted, so shared
// state needs no locking. The flip side: a task that never sleeps blocks every
// other task, including the safety check.
//
// Each task is backed by a goroutine, but the scheduler hands a single run
// token back and forth over channels, so goroutines never overlap.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCancelled is returned by Sleep once the scheduler has been cancelled.
// Tasks must return it (or an error wrapping it) promptly.
var ErrCancelled = errors.New("scheduler: cancelled")

// ErrStop may be returned by a Run check function to stop without a fault.
var ErrStop = errors.New("scheduler: stop requested")

// TaskFault is an unhandled task error re-raised from Run.
type TaskFault struct {
	Task string
	Err  error
}

func (f *TaskFault) Error() string {
	return fmt.Sprintf("task %s: %v", f.Task, f.Err)
}

func (f *TaskFault) Unwrap() error {
	return f.Err
}

// ErrorHandler decides whether a task error is handled. Returning true keeps
// a periodic task running; returning false cancels the scheduler.
type ErrorHandler func(task string, err error) bool

// Sleeper is the suspension point handed to every routine.
type Sleeper interface {
	Sleep(d time.Duration) error
}

// Routine is a long-running, suspendable task body.
type Routine func(s Sleeper) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock. The default is a RealClock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithErrorHandler sets the task error handler. Without one, every task error
// cancels the scheduler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(s *Scheduler) { s.handler = h }
}

// WithCleanup sets the callback run exactly once on cancellation.
func WithCleanup(fn func()) Option {
	return func(s *Scheduler) { s.cleanup = fn }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler is a single-threaded cooperative task executor.
type Scheduler struct {
	clock   Clock
	log     logrus.FieldLogger
	handler ErrorHandler
	cleanup func()

	queue   taskQueue
	seq     uint64
	yield   chan *Task
	current *Task
	tasks   []*Task

	cancelled bool
	cleaned   bool
	running   bool
	fault     error
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		yield: make(chan *Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = NewRealClock()
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Spawn registers a suspendable routine. It first runs when the scheduler
// reaches it in Run. Spawn must be called before Run or from a running task.
func (s *Scheduler) Spawn(name string, fn Routine) *Task {
	t := &Task{
		name:   name,
		s:      s,
		fn:     fn,
		resume: make(chan struct{}),
		index:  -1,
	}
	s.tasks = append(s.tasks, t)
	s.enqueue(t, s.clock.Now())
	return t
}

// Schedule registers fn to run every interval. The next run is timed from the
// start of the previous one and only scheduled once it has completed, so an
// overrunning fn fires again immediately instead of overlapping itself.
func (s *Scheduler) Schedule(name string, interval time.Duration, fn func() error) *Task {
	var t *Task
	t = s.Spawn(name, func(sl Sleeper) error {
		for {
			start := s.clock.Now()
			if err := call(fn); err != nil {
				if errors.Is(err, ErrCancelled) {
					return err
				}
				if !s.handle(name, err) {
					t.consulted = true
					return err
				}
			}
			delay := interval - s.clock.Now().Sub(start)
			if delay < 0 {
				delay = 0
			}
			if err := sl.Sleep(delay); err != nil {
				return err
			}
		}
	})
	return t
}

// call runs fn, turning a Go panic into its error.
func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Run starts the foreground loop: check is invoked every period, and a non-nil
// result cancels the scheduler. Run returns when every task has finished.
// The result is nil after ErrStop or context cancellation, the check error
// otherwise, or a *TaskFault when a task error went unhandled.
func (s *Scheduler) Run(ctx context.Context, period time.Duration, check func() error) error {
	if s.running {
		return errors.New("scheduler: already running")
	}
	s.running = true
	defer func() { s.running = false }()

	s.Spawn("check", func(sl Sleeper) error {
		for {
			if err := check(); err != nil {
				if !errors.Is(err, ErrStop) {
					s.setFault(err)
				}
				s.Cancel()
				return nil
			}
			if err := sl.Sleep(period); err != nil {
				return err
			}
		}
	})

	s.loop(ctx)
	return s.fault
}

// Cancel marks the scheduler as shut down, so every task's next Sleep returns
// ErrCancelled, then runs the cleanup callback. Calling it again is a no-op.
// Cancel must be called from a task, or while Run is not active; use the Run
// context to cancel from elsewhere.
func (s *Scheduler) Cancel() {
	if s.cancelled {
		return
	}
	s.cancelled = true
	s.log.Info("scheduler: cancelling tasks")
	if s.cleanup != nil && !s.cleaned {
		s.cleaned = true
		s.cleanup()
	}
}

// Cancelled reports whether Cancel has been called.
func (s *Scheduler) Cancelled() bool {
	return s.cancelled
}

func (s *Scheduler) loop(ctx context.Context) {
	for s.queue.Len() > 0 {
		next := s.queue[0]
		if !s.cancelled {
			if err := s.clock.WaitUntil(ctx, next.wake); err != nil {
				s.log.Infof("scheduler: %v, shutting down", err)
				s.Cancel()
				continue
			}
		}
		heap.Pop(&s.queue)
		s.step(next)
	}
}

// step hands the run token to t and waits for it to suspend or finish.
func (s *Scheduler) step(t *Task) {
	if !t.started {
		if s.cancelled {
			t.done = true
			return
		}
		t.started = true
		s.current = t
		go t.main()
	} else {
		s.current = t
		t.resume <- struct{}{}
	}
	<-s.yield
	s.current = nil

	if t.done {
		s.finish(t)
	}
}

func (s *Scheduler) finish(t *Task) {
	err := t.err
	switch {
	case err == nil:
		s.log.Debugf("scheduler: task %s finished", t.name)
	case errors.Is(err, ErrCancelled):
		s.log.Debugf("scheduler: task %s cancelled", t.name)
	case t.consulted:
		s.escalate(t, err)
	case s.handle(t.name, err):
		s.log.Warnf("scheduler: task %s ended with handled error: %v", t.name, err)
	default:
		s.escalate(t, err)
	}
}

func (s *Scheduler) handle(task string, err error) bool {
	if errors.Is(err, ErrCancelled) || s.handler == nil {
		return false
	}
	return s.handler(task, err)
}

func (s *Scheduler) escalate(t *Task, err error) {
	s.log.Errorf("scheduler: unhandled error in task %s: %v", t.name, err)
	s.setFault(&TaskFault{Task: t.name, Err: err})
	s.Cancel()
}

func (s *Scheduler) setFault(err error) {
	if s.fault == nil {
		s.fault = err
	}
}

func (s *Scheduler) enqueue(t *Task, wake time.Time) {
	s.seq++
	t.wake = wake
	t.seq = s.seq
	heap.Push(&s.queue, t)
}
