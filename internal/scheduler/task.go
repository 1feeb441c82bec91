package scheduler

import (
	"fmt"
	"time"
)

// Task is a registered routine. It implements Sleeper for its own routine.
type Task struct {
	name   string
	s      *Scheduler
	fn     Routine
	resume chan struct{}

	wake  time.Time
	seq   uint64
	index int

	started bool
	done    bool
	err     error
	// consulted is set when the error handler already declined err.
	consulted bool
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Done reports whether the routine has returned.
func (t *Task) Done() bool {
	return t.done
}

// Err returns the routine's result once Done.
func (t *Task) Err() error {
	return t.err
}

// Sleep suspends the task for d and lets other tasks run. It returns
// ErrCancelled, without suspending, once the scheduler has been cancelled.
// Sleep(0) still yields to every task that is already due.
func (t *Task) Sleep(d time.Duration) error {
	s := t.s
	if s.current != t {
		panic(fmt.Sprintf("scheduler: task %s slept outside its own turn", t.name))
	}
	if s.cancelled {
		return ErrCancelled
	}
	if d < 0 {
		d = 0
	}
	s.enqueue(t, s.clock.Now().Add(d))
	s.yield <- t
	<-t.resume
	if s.cancelled {
		return ErrCancelled
	}
	return nil
}

func (t *Task) main() {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		t.err = err
		t.done = true
		t.s.yield <- t
	}()
	err = t.fn(t)
}
