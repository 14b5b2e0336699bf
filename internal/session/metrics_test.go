package session

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/internal/observe"
	storemock "github.com/parlano/parlano/internal/store/mock"
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

// sumValue collects and returns the single-datapoint sum of the named metric,
// or 0 when nothing was recorded under that name.
func sumValue(t *testing.T, reader *metric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestCreateSession_BumpsActiveSessionsGauge(t *testing.T) {
	t.Parallel()

	metrics, reader := newTestMetrics(t)
	st := storemock.New()
	m := NewManager(st, st, WithManagerMetrics(metrics))

	if _, err := m.CreateSession(context.Background(), "learner-1", 2, model.ModePractice); err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	if got := sumValue(t, reader, "parlano.active_sessions"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestCreateSession_RejectedCreateRecordsNothing(t *testing.T) {
	t.Parallel()

	metrics, reader := newTestMetrics(t)
	st := storemock.New()
	m := NewManager(st, st, WithManagerMetrics(metrics))

	if _, err := m.CreateSession(context.Background(), "", 2, model.ModePractice); !model.IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError", err)
	}

	if got := sumValue(t, reader, "parlano.active_sessions"); got != 0 {
		t.Errorf("active sessions = %d, want 0 after rejected create", got)
	}
}

func TestSummarize_RecordsCompletionMetrics(t *testing.T) {
	t.Parallel()

	metrics, reader := newTestMetrics(t)
	st := storemock.New()
	sess := seedSession(t, st, "l1", []int{70, 70, 70, 70, 70, 70, 70, 70, 70, 70})

	a := NewAggregator(st, st, st, nil, WithAggregatorMetrics(metrics))
	ctx := context.Background()

	if _, err := a.Summarize(ctx, sess.ID); err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got := sumValue(t, reader, "parlano.sessions.completed"); got != 1 {
		t.Errorf("sessions completed = %d, want 1", got)
	}
	if got := sumValue(t, reader, "parlano.active_sessions"); got != -1 {
		t.Errorf("active sessions delta = %d, want -1", got)
	}

	// Re-delivered summary requests must not double-count.
	if _, err := a.Summarize(ctx, sess.ID); err != nil {
		t.Fatalf("second Summarize() error: %v", err)
	}
	if got := sumValue(t, reader, "parlano.sessions.completed"); got != 1 {
		t.Errorf("sessions completed after re-summarize = %d, want 1", got)
	}
}
