// Package scheduler runs tasks with numeric priorities under a fixed
// concurrency ceiling. Pending tasks are held in a priority queue; a
// fairness counter keeps FIFO order within one priority level so bursts
// cannot starve earlier work.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// TaskFunc is the unit of work the scheduler executes.
type TaskFunc func(ctx context.Context) (interface{}, error)

// QueueGauge receives the pending-queue depth after every scheduling
// decision. *telemetry.Metrics satisfies it.
type QueueGauge interface {
	SetQueuedTasks(count float64)
}

type task struct {
	id       string
	priority int
	fairness int64
	fn       TaskFunc
	ctx      context.Context
	index    int
}

// taskHeap orders by priority descending, fairness counter ascending.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].fairness < h[j].fairness
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	MaxConcurrency int
	Running        int
	Queued         int
	RunningTasks   []string
}

// Scheduler executes tasks with bounded concurrency and priority-ordered
// queueing. It is not part of the governed pipeline; callers that need
// governance schedule functions that drive the runtime themselves.
type Scheduler struct {
	maxConcurrency int
	logger         zerolog.Logger
	gauge          QueueGauge

	mu       sync.Mutex
	pending  taskHeap
	running  map[string]struct{}
	results  map[string]interface{}
	errs     map[string]error
	done     map[string]chan struct{}
	fairness map[int]int64
}

// New creates a scheduler. A non-positive maxConcurrency defaults to 1.
func New(maxConcurrency int, logger zerolog.Logger) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	s := &Scheduler{
		maxConcurrency: maxConcurrency,
		logger:         logger.With().Str("component", "scheduler").Logger(),
		running:        make(map[string]struct{}),
		results:        make(map[string]interface{}),
		errs:           make(map[string]error),
		done:           make(map[string]chan struct{}),
		fairness:       make(map[int]int64),
	}
	heap.Init(&s.pending)
	return s
}

// SetQueueGauge installs an optional gauge for the pending-queue depth.
func (s *Scheduler) SetQueueGauge(gauge QueueGauge) {
	s.mu.Lock()
	s.gauge = gauge
	s.mu.Unlock()
}

// Schedule enqueues a task. The returned channel is closed when the task
// completes; Result retrieves the outcome. Task ids are single-use:
// scheduling an id that is running, queued, or completed is rejected.
func (s *Scheduler) Schedule(ctx context.Context, taskID string, priority int, fn TaskFunc) (<-chan struct{}, error) {
	if taskID == "" {
		return nil, &core.ValidationError{Field: "task_id", Message: "task id is required"}
	}
	if fn == nil {
		return nil, &core.ValidationError{Field: "fn", Message: "task function is required"}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.done[taskID]; exists {
		return nil, &core.ValidationError{
			Field:   "task_id",
			Message: fmt.Sprintf("task %q is already scheduled or completed", taskID),
		}
	}

	t := &task{
		id:       taskID,
		priority: priority,
		fairness: s.fairness[priority],
		fn:       fn,
		ctx:      ctx,
	}
	s.fairness[priority]++

	ch := make(chan struct{})
	s.done[taskID] = ch

	if len(s.running) < s.maxConcurrency {
		s.logger.Debug().
			Str("task_id", taskID).
			Int("priority", priority).
			Str("decision", "started").
			Msg("scheduling decision")
		s.startLocked(t)
	} else {
		heap.Push(&s.pending, t)
		s.logger.Debug().
			Str("task_id", taskID).
			Int("priority", priority).
			Str("decision", "queued").
			Int("queue_size", s.pending.Len()).
			Msg("scheduling decision")
	}
	s.reportQueueLocked()

	return ch, nil
}

// startLocked launches the task's goroutine. Callers hold s.mu.
func (s *Scheduler) startLocked(t *task) {
	s.running[t.id] = struct{}{}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.finish(t, nil, fmt.Errorf("task %q panicked: %v", t.id, r))
			}
		}()
		result, err := t.fn(t.ctx)
		s.finish(t, result, err)
	}()
}

func (s *Scheduler) finish(t *task, result interface{}, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, t.id)
	if err != nil {
		s.errs[t.id] = err
		s.logger.Warn().
			Str("task_id", t.id).
			Err(err).
			Msg("task failed")
	} else {
		s.results[t.id] = result
	}
	close(s.done[t.id])

	// Promote the next pending task, highest priority first.
	if s.pending.Len() > 0 && len(s.running) < s.maxConcurrency {
		next := heap.Pop(&s.pending).(*task)
		s.logger.Debug().
			Str("task_id", next.id).
			Int("priority", next.priority).
			Str("decision", "promoted").
			Int("queue_size", s.pending.Len()).
			Msg("scheduling decision")
		s.startLocked(next)
	}
	s.reportQueueLocked()
}

func (s *Scheduler) reportQueueLocked() {
	if s.gauge != nil {
		s.gauge.SetQueuedTasks(float64(s.pending.Len()))
	}
}

// WaitFor blocks until the task completes or the timeout elapses. A zero
// timeout waits indefinitely. It reports false for unknown tasks and on
// timeout.
func (s *Scheduler) WaitFor(taskID string, timeout time.Duration) bool {
	s.mu.Lock()
	ch, ok := s.done[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Result waits for the task and returns its outcome. A timeout yields a
// *core.TimeoutError; an unknown id yields a *core.ValidationError; a
// failed task yields its own error.
func (s *Scheduler) Result(taskID string, timeout time.Duration) (interface{}, error) {
	s.mu.Lock()
	ch, ok := s.done[taskID]
	s.mu.Unlock()
	if !ok {
		return nil, &core.ValidationError{
			Field:   "task_id",
			Message: fmt.Sprintf("task %q not found", taskID),
		}
	}

	if timeout <= 0 {
		<-ch
	} else {
		select {
		case <-ch:
		case <-time.After(timeout):
			return nil, &core.TimeoutError{
				Operation: "scheduler.result:" + taskID,
				Limit:     timeout,
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[taskID]; ok {
		return nil, err
	}
	return s.results[taskID], nil
}

// Status reports the scheduler's current occupancy.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := make([]string, 0, len(s.running))
	for id := range s.running {
		running = append(running, id)
	}
	sort.Strings(running)

	return Status{
		MaxConcurrency: s.maxConcurrency,
		Running:        len(s.running),
		Queued:         s.pending.Len(),
		RunningTasks:   running,
	}
}
