package resilience

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/parlano/parlano/internal/observe"
	"github.com/parlano/parlano/pkg/provider/textgen"
	textgenmock "github.com/parlano/parlano/pkg/provider/textgen/mock"
)

// newTestMetrics builds a Metrics instance with a manual reader so recorded
// values can be asserted.
func newTestMetrics(t *testing.T) (*observe.Metrics, *metric.ManualReader) {
	t.Helper()

	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findRecorded(t *testing.T, reader *metric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestGuardedTextGen_RecordsLatency(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	client := &textgenmock.Client{}
	client.Queue(&textgen.Response{Content: "ok"}, nil)
	client.Queue(nil, errors.New("backend down"))

	g := NewGuardedTextGen(client, BreakerConfig{}, WithTextGenMetrics(m))
	ctx := context.Background()

	if _, err := g.Complete(ctx, textgen.Request{Messages: []textgen.Message{{Role: "user", Content: "hi"}}}); err != nil {
		t.Fatalf("first Complete() error: %v", err)
	}
	if _, err := g.Complete(ctx, textgen.Request{Messages: []textgen.Message{{Role: "user", Content: "hi"}}}); err == nil {
		t.Fatal("second Complete() succeeded, want error")
	}

	met := findRecorded(t, reader, "parlano.textgen.duration")
	if met == nil {
		t.Fatal("textgen duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 2 {
		t.Errorf("recorded %d calls, want 2", total)
	}
}

func TestGuardedTextGen_CountsProviderErrors(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	client := &textgenmock.Client{}
	client.Queue(nil, &textgen.Error{Message: "quota exhausted", RateLimited: true})

	g := NewGuardedTextGen(client, BreakerConfig{}, WithTextGenMetrics(m))
	if _, err := g.Complete(context.Background(), textgen.Request{Messages: []textgen.Message{{Role: "user", Content: "hi"}}}); err == nil {
		t.Fatal("Complete() succeeded, want rate-limit error")
	}

	met := findRecorded(t, reader, "parlano.provider.errors")
	if met == nil {
		t.Fatal("provider error metric not recorded")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(sum.DataPoints))
	}
	dp := sum.DataPoints[0]
	if dp.Value != 1 {
		t.Errorf("error count = %d, want 1", dp.Value)
	}
	kind, _ := dp.Attributes.Value("kind")
	if kind.AsString() != "rate_limited" {
		t.Errorf("kind = %q, want rate_limited", kind.AsString())
	}
}
