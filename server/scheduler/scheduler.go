// Package scheduler implements delayed and repeating execution of work on a
// shared worker pool. A single timing goroutine owns all clocks: tasks become
// due there and are handed to pool workers, so that slow work never skews the
// timing of other tasks.
package scheduler

import (
	"container/heap"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Config may be used to configure a Scheduler before creating it with
// Config.New.
type Config struct {
	// Log is the Logger used for warnings and recovered task panics. If nil,
	// Log is set to slog.Default().
	Log *slog.Logger
	// Workers controls the number of goroutines in the worker pool that runs
	// task work. If set to 0 or lower, the worker count is derived from the
	// host's available CPUs.
	Workers int
	// QueueSize limits how many due tasks may wait for a worker. If set to 0
	// or lower, a queue size proportional to the worker count is chosen
	// automatically. Increase it alongside Workers if the logs report queue
	// saturation.
	QueueSize int
}

// New creates a Scheduler using the Config. Workers and the timing goroutine
// are started immediately, so tasks may be scheduled right away.
func (conf Config) New() *Scheduler {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Workers <= 0 {
		conf.Workers = max(runtime.NumCPU(), 1)
	}
	if conf.QueueSize <= 0 {
		conf.QueueSize = conf.Workers * 32
	}
	s := &Scheduler{
		log:      conf.Log,
		tasks:    make(map[int64]*Task),
		incoming: make(chan *Task),
		jobs:     make(chan *Task, conf.QueueSize),
		closing:  make(chan struct{}),
	}
	s.running.Add(conf.Workers + 1)
	go s.timingLoop()
	for range conf.Workers {
		go s.worker()
	}
	return s
}

// New creates a Scheduler with default settings. It is equivalent to calling
// Config{}.New().
func New() *Scheduler {
	return Config{}.New()
}

// Scheduler runs delayed and repeating tasks. Tasks are registered in one of
// two registries: normal tasks fire based on their delay and interval, while
// shutdown tasks run exactly once when the Scheduler is closed. A Scheduler
// must be created using New or Config.New.
type Scheduler struct {
	log *slog.Logger

	// counter and shutdownCounter issue task identifiers. The two registries
	// count independently.
	counter         atomic.Int64
	shutdownCounter atomic.Int64

	mu            sync.Mutex
	tasks         map[int64]*Task
	shutdownTasks []*Task
	closed        bool

	incoming chan *Task
	jobs     chan *Task
	closing  chan struct{}
	running  sync.WaitGroup
	o        sync.Once

	// jobQueueSaturation counts how often due tasks had to be enqueued
	// asynchronously because the worker queue was full. We use this to
	// rate-limit backpressure warnings so operators can tune queue/worker
	// sizes.
	jobQueueSaturation atomic.Uint64
	lastSaturationLog  atomic.Uint64
}

// Schedule registers a task that executes work according to conf. The
// returned Task may be used to cancel execution. Schedule panics if work is
// nil. If the Scheduler was closed, the task is returned already cancelled
// and never fires.
func (s *Scheduler) Schedule(conf TaskConfig, work func()) *Task {
	if work == nil {
		panic("scheduler: task work must not be nil")
	}
	t := &Task{
		id:       s.counter.Add(1),
		delay:    conf.Delay,
		interval: conf.Interval,
		inline:   conf.Inline,
		work:     work,
		s:        s,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.cancelled.Store(true)
		s.log.Warn("Task scheduled after scheduler close.", "task", t.id)
		return t
	}
	s.tasks[t.id] = t
	s.mu.Unlock()

	select {
	case s.incoming <- t:
	case <-s.closing:
		// The timing goroutine already stopped reading. The task stays
		// registered but will never fire, matching a close between the
		// registry insert and the handoff.
	}
	return t
}

// Run registers a task that executes work on the worker pool as soon as
// possible. It is equivalent to calling Schedule with a zero TaskConfig.
func (s *Scheduler) Run(work func()) *Task {
	return s.Schedule(TaskConfig{}, work)
}

// ScheduleShutdown registers a task that runs when the Scheduler is closed.
// Shutdown tasks run synchronously on the goroutine calling Close, in the
// order they were registered. ScheduleShutdown panics if work is nil.
func (s *Scheduler) ScheduleShutdown(work func()) *Task {
	if work == nil {
		panic("scheduler: task work must not be nil")
	}
	t := &Task{
		id:       s.shutdownCounter.Add(1),
		shutdown: true,
		work:     work,
		s:        s,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.cancelled.Store(true)
		s.log.Warn("Shutdown task scheduled after scheduler close.", "task", t.id)
		return t
	}
	s.shutdownTasks = append(s.shutdownTasks, t)
	s.mu.Unlock()
	return t
}

// TaskCount returns the number of normal tasks currently registered. Tasks
// are removed from the registry once they complete or are cancelled.
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// ShutdownTaskCount returns the number of shutdown tasks currently
// registered.
func (s *Scheduler) ShutdownTaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.shutdownTasks {
		if !t.Cancelled() {
			n++
		}
	}
	return n
}

// Close stops the Scheduler. Shutdown tasks are first run synchronously in
// the order they were registered. Afterwards the timing goroutine is stopped
// and Close waits, without bound, for work already handed to the pool to
// finish. Tasks that had not fired yet never will. Close may be called
// multiple times; only the first call has an effect.
func (s *Scheduler) Close() error {
	s.o.Do(s.close)
	return nil
}

func (s *Scheduler) close() {
	s.mu.Lock()
	s.closed = true
	shutdown := slices.Clone(s.shutdownTasks)
	s.mu.Unlock()

	for _, t := range shutdown {
		if t.Cancelled() {
			continue
		}
		s.runWork(t)
	}

	close(s.closing)
	s.running.Wait()
}

// unregister removes a task from its registry so that it cannot fire again.
func (s *Scheduler) unregister(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.shutdown {
		if i := slices.Index(s.shutdownTasks, t); i != -1 {
			s.shutdownTasks = slices.Delete(s.shutdownTasks, i, i+1)
		}
		return
	}
	delete(s.tasks, t.id)
}

// firing is a single pending execution of a task, ordered by the time it
// becomes due.
type firing struct {
	at time.Time
	t  *Task
}

// firingQueue is a min-heap of pending firings ordered by due time.
type firingQueue []firing

func (q firingQueue) Len() int {
	return len(q)
}

func (q firingQueue) Less(i, j int) bool {
	return q[i].at.Before(q[j].at)
}

func (q firingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *firingQueue) Push(x any) {
	*q = append(*q, x.(firing))
}

func (q *firingQueue) Pop() any {
	old := *q
	n := len(old)
	f := old[n-1]
	*q = old[:n-1]
	return f
}

// timingLoop is the single timing authority of the Scheduler. It owns the
// pending heap and the timer: tasks only ever become due here, so two firing
// waves can never race with each other.
func (s *Scheduler) timingLoop() {
	defer s.running.Done()

	pending := &firingQueue{}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var wake <-chan time.Time
		if pending.Len() > 0 {
			timer.Reset(max(time.Until((*pending)[0].at), 0))
			wake = timer.C
		}
		select {
		case t := <-s.incoming:
			heap.Push(pending, firing{at: time.Now().Add(t.delay), t: t})
		case now := <-wake:
			for pending.Len() > 0 && !(*pending)[0].at.After(now) {
				f := heap.Pop(pending).(firing)
				if f.t.Cancelled() {
					continue
				}
				s.fire(f.t)
				if f.t.interval > 0 && !f.t.Cancelled() {
					heap.Push(pending, firing{at: now.Add(f.t.interval), t: f.t})
				}
			}
		case <-s.closing:
			return
		}
	}
}

// fire executes a due task. Inline tasks run on the timing goroutine itself,
// all other tasks are handed to the worker pool. One-shot tasks are
// unregistered once fired.
func (s *Scheduler) fire(t *Task) {
	if t.interval == 0 {
		s.unregister(t)
	}
	if t.inline {
		s.runWork(t)
		return
	}
	select {
	case s.jobs <- t:
	case <-s.closing:
	default:
		// The queue is full: fall back to an asynchronous enqueue so the
		// timing goroutine keeps serving other tasks.
		go s.enqueue(t)
		s.handleQueueBackpressure()
	}
}

// enqueue hands a task to the worker pool, waiting for space in the queue.
// If the Scheduler closes first, the task is dropped.
func (s *Scheduler) enqueue(t *Task) {
	select {
	case s.jobs <- t:
	case <-s.closing:
	}
}

// handleQueueBackpressure records a saturated queue and periodically warns
// about it, at most once per 512 saturated enqueues.
func (s *Scheduler) handleQueueBackpressure() {
	saturation := s.jobQueueSaturation.Add(1)
	last := s.lastSaturationLog.Load()
	if saturation-last < 512 {
		return
	}
	if s.lastSaturationLog.CompareAndSwap(last, saturation) {
		s.log.Warn("Task queue saturated, consider increasing QueueSize or Workers.", "saturated", saturation)
	}
}

// worker runs task work handed to the pool. On close, a worker first drains
// the jobs still queued so that Close only returns once all dispatched work
// has finished.
func (s *Scheduler) worker() {
	defer s.running.Done()
	for {
		select {
		case t := <-s.jobs:
			s.runWork(t)
		case <-s.closing:
			for {
				select {
				case t := <-s.jobs:
					s.runWork(t)
				default:
					return
				}
			}
		}
	}
}

// runWork executes the work of a task, recovering from panics so that a
// failing task cannot take down a pool worker or the timing goroutine.
func (s *Scheduler) runWork(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Task panicked.", "task", t.id, "shutdown", t.shutdown, "error", fmt.Sprint(r))
		}
	}()
	t.work()
}
