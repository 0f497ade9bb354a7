package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"aide.generate.duration", m.GenerationDuration},
		{"aide.stream.time_to_first_token", m.TimeToFirstToken},
		{"aide.stream.time_to_first_sentence", m.TimeToFirstSentence},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestCacheLookupCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, "memory", true)
	m.RecordCacheLookup(ctx, "memory", true)
	m.RecordCacheLookup(ctx, "memory", false)

	rm := collect(t, reader)
	met := findMetric(rm, "aide.cache.lookups")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	// Find the data point with outcome=hit.
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "outcome" && kv.Value.AsString() == "hit" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with outcome=hit not found")
}

func TestProviderRequestCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "fast-remote", "ok", 42)
	m.RecordProviderRequest(ctx, "fast-remote", "ok", 8)
	m.RecordProviderRequest(ctx, "fast-remote", "error", 0)

	rm := collect(t, reader)

	met := findMetric(rm, "aide.provider.requests")
	if met == nil {
		t.Fatal("request metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	found := false
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "status" && kv.Value.AsString() == "ok" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				found = true
			}
		}
	}
	if !found {
		t.Error("data point with status=ok not found")
	}

	tok := findMetric(rm, "aide.provider.tokens")
	if tok == nil {
		t.Fatal("token metric not found")
	}
	tokSum, ok := tok.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("token metric is not a sum")
	}
	if len(tokSum.DataPoints) == 0 || tokSum.DataPoints[0].Value != 50 {
		t.Errorf("token total = %v, want 50", tokSum.DataPoints)
	}
}

func TestRetryAndFailoverCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRetry(ctx, "fast-remote")
	m.RecordRetry(ctx, "fast-remote")
	m.RecordFailover(ctx)

	rm := collect(t, reader)

	retries := findMetric(rm, "aide.router.retries")
	if retries == nil {
		t.Fatal("retry metric not found")
	}
	if sum, ok := retries.Data.(metricdata.Sum[int64]); !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Errorf("retries = %v, want 2", retries.Data)
	}

	failovers := findMetric(rm, "aide.router.failovers")
	if failovers == nil {
		t.Fatal("failover metric not found")
	}
	if sum, ok := failovers.Data.(metricdata.Sum[int64]); !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("failovers = %v, want 1", failovers.Data)
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "fast-remote", "transient")

	rm := collect(t, reader)
	met := findMetric(rm, "aide.provider.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("counter value = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestActiveTasksAndResourceGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveTasks.Add(ctx, 3)
	m.ActiveTasks.Add(ctx, -1)
	m.RecordResourceSample(ctx, 420.5, 37.2)

	rm := collect(t, reader)

	tasks := findMetric(rm, "aide.executor.active_tasks")
	if tasks == nil {
		t.Fatal("active tasks metric not found")
	}
	if sum, ok := tasks.Data.(metricdata.Sum[int64]); !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Errorf("active tasks = %v, want 2", tasks.Data)
	}

	rss := findMetric(rm, "aide.resource.rss_mb")
	if rss == nil {
		t.Fatal("rss metric not found")
	}
	if g, ok := rss.Data.(metricdata.Gauge[float64]); !ok || len(g.DataPoints) == 0 || g.DataPoints[0].Value != 420.5 {
		t.Errorf("rss = %v, want 420.5", rss.Data)
	}

	cpu := findMetric(rm, "aide.resource.cpu_percent")
	if cpu == nil {
		t.Fatal("cpu metric not found")
	}
	if g, ok := cpu.Data.(metricdata.Gauge[float64]); !ok || len(g.DataPoints) == 0 || g.DataPoints[0].Value != 37.2 {
		t.Errorf("cpu = %v, want 37.2", cpu.Data)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "aide.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
