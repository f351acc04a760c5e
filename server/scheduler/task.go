package scheduler

import (
	"sync/atomic"
	"time"
)

// TaskConfig specifies how a task scheduled through Scheduler.Schedule is
// executed. The zero value results in a task that runs once on the worker
// pool as soon as the timing goroutine picks it up.
type TaskConfig struct {
	// Delay is the duration waited before the task runs for the first time.
	// If zero, the task runs as soon as it reaches the timing goroutine.
	Delay time.Duration
	// Interval is the duration between repeated runs of the task. The
	// interval starts counting once the previous run has been dispatched. If
	// zero, the task runs only once.
	Interval time.Duration
	// Inline makes the task run on the timing goroutine itself instead of
	// the worker pool. Inline tasks must be short: while one runs, no other
	// task can fire. Inline is mostly useful for cheap bookkeeping that must
	// never run concurrently with other inline tasks.
	Inline bool
}

// Task is a unit of work registered in a Scheduler. A Task is returned by
// Scheduler.Schedule and Scheduler.ScheduleShutdown and may be used to cancel
// the work before it runs (again).
type Task struct {
	id       int64
	shutdown bool

	delay    time.Duration
	interval time.Duration
	inline   bool

	work func()
	s    *Scheduler

	cancelled atomic.Bool
}

// ID returns the unique identifier of the task. Identifiers increase
// monotonically in the order tasks were created. Normal tasks and shutdown
// tasks draw from separate counters, so their identifiers overlap.
func (t *Task) ID() int64 {
	return t.id
}

// Shutdown reports whether the task was registered through
// Scheduler.ScheduleShutdown and thus only runs when the Scheduler closes.
func (t *Task) Shutdown() bool {
	return t.shutdown
}

// Cancel cancels the task. A cancelled task will not fire again. A run that
// was already handed to the worker pool may still complete. Cancel may be
// called any number of times and from any goroutine.
func (t *Task) Cancel() {
	if t.cancelled.Swap(true) {
		return
	}
	if t.s != nil {
		t.s.unregister(t)
	}
}

// Cancelled reports whether the task has been cancelled.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}
