package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/aide/internal/observe"
)

func newTestExecutor(t *testing.T, maxParallel int) *Executor {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return New(maxParallel, WithMetrics(m))
}

func valueTask(name string, v any) Task {
	return Task{Name: name, Fn: func(context.Context) (any, error) { return v, nil }}
}

func TestRun_SingleTaskEquivalence(t *testing.T) {
	e := newTestExecutor(t, 4)

	results := e.Run(context.Background(), []Task{valueTask("only", 42)}, 0)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Err != nil || results[0].Value != 42 || results[0].Name != "only" {
		t.Errorf("result = %+v", results[0])
	}
}

func TestRun_ResultsInSubmissionOrder(t *testing.T) {
	e := newTestExecutor(t, 4)

	// The first task finishes last; slots must still match submission order.
	tasks := []Task{
		{Name: "slow", Fn: func(ctx context.Context) (any, error) {
			time.Sleep(30 * time.Millisecond)
			return "slow", nil
		}},
		valueTask("a", "a"),
		valueTask("b", "b"),
	}

	results := e.Run(context.Background(), tasks, 0)
	want := []string{"slow", "a", "b"}
	for i, r := range results {
		if r.Err != nil || r.Value != want[i] {
			t.Errorf("slot %d = %+v, want %q", i, r, want[i])
		}
	}
}

func TestRun_RespectsConcurrencyBound(t *testing.T) {
	e := newTestExecutor(t, 2)

	var running, peak atomic.Int64
	var tasks []Task
	for i := 0; i < 8; i++ {
		tasks = append(tasks, Task{Name: "t", Fn: func(ctx context.Context) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		}})
	}

	e.Run(context.Background(), tasks, 0)
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestRun_TimeoutFillsSlotOthersSucceed(t *testing.T) {
	e := newTestExecutor(t, 4)

	tasks := []Task{
		valueTask("fast", "ok"),
		{Name: "stuck", Fn: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		valueTask("also-fast", "ok"),
	}

	results := e.Run(context.Background(), tasks, 20*time.Millisecond)
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("fast tasks must succeed: %v, %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, ErrTimeout) {
		t.Errorf("stuck task err = %v, want ErrTimeout", results[1].Err)
	}
}

func TestRun_TimeoutAbandonsIgnorantTask(t *testing.T) {
	e := newTestExecutor(t, 4)
	release := make(chan struct{})

	start := time.Now()
	results := e.Run(context.Background(), []Task{
		{Name: "ignores-ctx", Fn: func(context.Context) (any, error) {
			<-release
			return "late", nil
		}},
	}, 20*time.Millisecond)
	close(release)

	if !errors.Is(results[0].Err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", results[0].Err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run blocked %v on a context-ignoring task", elapsed)
	}
}

func TestRun_TaskErrorsAreIsolated(t *testing.T) {
	e := newTestExecutor(t, 4)
	boom := errors.New("boom")

	results := e.Run(context.Background(), []Task{
		{Name: "fails", Fn: func(context.Context) (any, error) { return nil, boom }},
		valueTask("works", 1),
	}, 0)
	if !errors.Is(results[0].Err, boom) {
		t.Errorf("slot 0 err = %v", results[0].Err)
	}
	if results[1].Err != nil {
		t.Errorf("slot 1 err = %v, failures must not cascade", results[1].Err)
	}
}

func TestRun_PanicBecomesError(t *testing.T) {
	e := newTestExecutor(t, 4)

	results := e.Run(context.Background(), []Task{
		{Name: "panics", Fn: func(context.Context) (any, error) { panic("kaboom") }},
	}, 0)
	if results[0].Err == nil {
		t.Fatal("panicking task must produce an error result")
	}
}

func TestRunPrioritized_AdmissionOrder(t *testing.T) {
	e := newTestExecutor(t, 1)

	var mu sync.Mutex
	var executed []string
	record := func(name string) Task {
		return Task{Name: name, Priority: priorityOf(name), Fn: func(context.Context) (any, error) {
			mu.Lock()
			executed = append(executed, name)
			mu.Unlock()
			return nil, nil
		}}
	}

	// Submitted low-priority first; admission must follow priority.
	tasks := []Task{record("p3"), record("p1"), record("p2")}
	results := e.RunPrioritized(context.Background(), tasks, 0)

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 3 || executed[0] != "p1" || executed[1] != "p2" || executed[2] != "p3" {
		t.Errorf("execution order = %v, want priority order", executed)
	}
	// Results stay in submission order.
	if results[0].Name != "p3" || results[1].Name != "p1" || results[2].Name != "p2" {
		t.Errorf("result order = %v %v %v, want submission order",
			results[0].Name, results[1].Name, results[2].Name)
	}
}

func priorityOf(name string) int {
	return int(name[1] - '0')
}

func TestCancelAll(t *testing.T) {
	e := newTestExecutor(t, 1)

	started := make(chan struct{})
	var tasks []Task
	tasks = append(tasks, Task{Name: "running", Fn: func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	for i := 0; i < 3; i++ {
		tasks = append(tasks, valueTask("queued", nil))
	}

	done := make(chan []Result, 1)
	go func() { done <- e.Run(context.Background(), tasks, 0) }()

	<-started
	e.CancelAll()

	select {
	case results := <-done:
		for i, r := range results {
			if r.Err == nil {
				t.Errorf("slot %d completed despite CancelAll", i)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after CancelAll")
	}

	// The executor stays usable after a cancellation.
	results := e.Run(context.Background(), []Task{valueTask("after", "ok")}, 0)
	if results[0].Err != nil {
		t.Errorf("post-cancel run failed: %v", results[0].Err)
	}
}

func TestActive_TracksInFlight(t *testing.T) {
	e := newTestExecutor(t, 2)

	gate := make(chan struct{})
	started := make(chan struct{}, 2)
	tasks := []Task{
		{Name: "a", Fn: func(context.Context) (any, error) { started <- struct{}{}; <-gate; return nil, nil }},
		{Name: "b", Fn: func(context.Context) (any, error) { started <- struct{}{}; <-gate; return nil, nil }},
	}

	done := make(chan struct{})
	go func() { defer close(done); e.Run(context.Background(), tasks, 0) }()

	<-started
	<-started
	if got := e.Active(); got != 2 {
		t.Errorf("Active = %d, want 2", got)
	}
	close(gate)
	<-done
	if got := e.Active(); got != 0 {
		t.Errorf("Active after completion = %d, want 0", got)
	}
}
