// Package parallel runs independent tasks concurrently under a global
// concurrency bound, and monitors the process's resource footprint.
//
// The executor admits tasks through a weighted semaphore shared across all
// Run calls, so the bound holds process-wide even when several requests fan
// out at once. Results always come back in submission order regardless of
// completion order; a task that overruns its timeout gets [ErrTimeout] in its
// slot while the others complete normally.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/aide/internal/observe"
)

// DefaultMaxParallel bounds concurrent task execution when no limit is
// configured.
const DefaultMaxParallel = 4

// ErrTimeout fills the result slot of a task that exceeded its deadline.
var ErrTimeout = errors.New("parallel: task timed out")

// ErrCancelled fills the result slots of tasks aborted by CancelAll or by
// the caller's context.
var ErrCancelled = errors.New("parallel: task cancelled")

// Task is one unit of work. Fn must honour its context: after the deadline
// the executor stops waiting and abandons the invocation.
type Task struct {
	// Name identifies the task in results and logs.
	Name string

	// Priority orders admission in RunPrioritized; lower values are admitted
	// first. Ignored by Run.
	Priority int

	// Fn performs the work.
	Fn func(ctx context.Context) (any, error)
}

// Result is the outcome of one task, in the same slice position the task was
// submitted at.
type Result struct {
	Name     string
	Value    any
	Err      error
	Duration time.Duration
}

// Executor runs task batches under a shared concurrency bound. Safe for
// concurrent use; all Run calls draw from the same semaphore.
type Executor struct {
	log         *slog.Logger
	metrics     *observe.Metrics
	sem         *semaphore.Weighted
	maxParallel int64

	active atomic.Int64

	mu        sync.Mutex
	cancelAll context.CancelFunc
	root      context.Context
}

// config holds optional configuration collected from functional options.
type config struct {
	logger  *slog.Logger
	metrics *observe.Metrics
}

// Option is a functional option for Executor.
type Option func(*config)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.logger = log }
}

// WithMetrics overrides the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// New creates an Executor admitting at most maxParallel tasks at once.
// Non-positive values fall back to DefaultMaxParallel.
func New(maxParallel int, opts ...Option) *Executor {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	e := &Executor{
		log:         cfg.logger,
		metrics:     cfg.metrics,
		sem:         semaphore.NewWeighted(int64(maxParallel)),
		maxParallel: int64(maxParallel),
	}
	e.resetRoot()
	return e
}

// resetRoot arms a fresh cancellation root for subsequent batches.
func (e *Executor) resetRoot() {
	e.mu.Lock()
	e.root, e.cancelAll = context.WithCancel(context.Background())
	e.mu.Unlock()
}

// rootCtx returns the current cancellation root.
func (e *Executor) rootCtx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root
}

// Active returns the number of tasks currently executing.
func (e *Executor) Active() int {
	return int(e.active.Load())
}

// MaxParallel returns the configured concurrency bound.
func (e *Executor) MaxParallel() int {
	return int(e.maxParallel)
}

// CancelAll aborts every in-flight and queued task. Tasks already running see
// their context cancelled; tasks still waiting for admission are refused with
// ErrCancelled. The executor is immediately usable for new batches.
func (e *Executor) CancelAll() {
	e.mu.Lock()
	cancel := e.cancelAll
	e.mu.Unlock()
	cancel()
	e.resetRoot()
}

// Run executes tasks concurrently under the shared bound and returns results
// in submission order. timeout bounds each individual task; zero means no
// per-task bound beyond ctx. Run blocks until every slot is decided.
func (e *Executor) Run(ctx context.Context, tasks []Task, timeout time.Duration) []Result {
	return e.run(ctx, tasks, timeout, identityOrder(len(tasks)))
}

// RunPrioritized is Run with admission ordered by ascending Task.Priority.
// Results still come back in submission order. With the bound saturated,
// lower-priority tasks wait for higher-priority ones to be admitted first.
func (e *Executor) RunPrioritized(ctx context.Context, tasks []Task, timeout time.Duration) []Result {
	order := identityOrder(len(tasks))
	sort.SliceStable(order, func(a, b int) bool {
		return tasks[order[a]].Priority < tasks[order[b]].Priority
	})
	return e.run(ctx, tasks, timeout, order)
}

// run admits tasks in the given index order. Admission is sequential, so the
// order is strict: a task is not admitted before every earlier one in order
// has been admitted.
func (e *Executor) run(ctx context.Context, tasks []Task, timeout time.Duration, order []int) []Result {
	results := make([]Result, len(tasks))
	root := e.rootCtx()

	var wg sync.WaitGroup
	for _, idx := range order {
		task := tasks[idx]

		if err := e.acquire(ctx, root); err != nil {
			results[idx] = Result{Name: task.Name, Err: err}
			continue
		}

		wg.Add(1)
		go func(idx int, task Task) {
			defer wg.Done()
			defer e.sem.Release(1)
			results[idx] = e.invoke(ctx, root, task, timeout)
		}(idx, task)
	}
	wg.Wait()
	return results
}

// acquire claims one semaphore slot, honouring both the caller's context and
// the executor-wide cancellation root.
func (e *Executor) acquire(ctx context.Context, root context.Context) error {
	acquired := make(chan error, 1)
	go func() { acquired <- e.sem.Acquire(ctx, 1) }()

	select {
	case err := <-acquired:
		if err != nil {
			return ErrCancelled
		}
		// CancelAll may have fired while we held the acquire.
		select {
		case <-root.Done():
			e.sem.Release(1)
			return ErrCancelled
		default:
			return nil
		}
	case <-root.Done():
		// Release the slot if the acquire still lands.
		go func() {
			if err := <-acquired; err == nil {
				e.sem.Release(1)
			}
		}()
		return ErrCancelled
	}
}

// invoke runs one admitted task with its per-task deadline and decides its
// result slot. A task that ignores its context past the deadline is
// abandoned: its goroutine finishes in the background and the return value is
// discarded.
func (e *Executor) invoke(ctx context.Context, root context.Context, task Task, timeout time.Duration) Result {
	tctx, cancel := mergeCancel(ctx, root)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		tctx, tcancel = context.WithTimeout(tctx, timeout)
		defer tcancel()
	}

	e.active.Add(1)
	e.metrics.ActiveTasks.Add(ctx, 1)
	defer func() {
		e.active.Add(-1)
		e.metrics.ActiveTasks.Add(ctx, -1)
	}()

	start := time.Now()
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("parallel: task %s panicked: %v", task.Name, r)}
			}
		}()
		v, err := task.Fn(tctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if errors.Is(out.err, context.DeadlineExceeded) {
			out.err = ErrTimeout
		}
		return Result{Name: task.Name, Value: out.value, Err: out.err, Duration: time.Since(start)}
	case <-tctx.Done():
		err := ErrCancelled
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			err = ErrTimeout
			e.log.Warn("task abandoned after timeout", "task", task.Name, "timeout", timeout)
		}
		return Result{Name: task.Name, Err: err, Duration: time.Since(start)}
	}
}

// mergeCancel derives a context from ctx that is also cancelled when aux is.
func mergeCancel(ctx, aux context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(aux, cancel)
	return merged, func() { stop(); cancel() }
}

// identityOrder returns [0, 1, ..., n-1].
func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}
