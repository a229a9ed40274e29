package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the table sync meter
	SyncMetricsMeterName = "github.com/stacklok/sheetsync-server/sync"

	// FanoutMetricsMeterName is the name used for the broadcast meter
	FanoutMetricsMeterName = "github.com/stacklok/sheetsync-server/fanout"
)

// Tick outcomes recorded on sync metrics
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeHalted    = "halted"
	OutcomeRetired   = "retired"
)

// SyncMetrics holds the instruments for table poll cycles
type SyncMetrics struct {
	tickDuration metric.Float64Histogram
	rowsFetched  metric.Int64Histogram
	activeTasks  metric.Int64UpDownCounter
}

// NewSyncMetrics creates sync instruments on provider. A nil provider yields nil metrics.
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	tickDuration, err := meter.Float64Histogram(
		"sheetsync_tick_duration_seconds",
		metric.WithDescription("Duration of table poll cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	rowsFetched, err := meter.Int64Histogram(
		"sheetsync_rows_fetched",
		metric.WithDescription("Rows produced by a successful poll cycle"),
		metric.WithUnit("{row}"),
		metric.WithExplicitBucketBoundaries(0, 10, 100, 1000, 10000),
	)
	if err != nil {
		return nil, err
	}

	activeTasks, err := meter.Int64UpDownCounter(
		"sheetsync_active_tasks",
		metric.WithDescription("Number of tables with a running poll task"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		tickDuration: tickDuration,
		rowsFetched:  rowsFetched,
		activeTasks:  activeTasks,
	}, nil
}

// RecordTick records one poll cycle with its outcome
func (m *SyncMetrics) RecordTick(ctx context.Context, duration time.Duration, outcome string, rows int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.tickDuration.Record(ctx, duration.Seconds(), attrs)
	if outcome == OutcomeSuccess {
		m.rowsFetched.Record(ctx, int64(rows))
	}
}

// TaskStarted increments the active task gauge
func (m *SyncMetrics) TaskStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeTasks.Add(ctx, 1)
}

// TaskEnded decrements the active task gauge
func (m *SyncMetrics) TaskEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeTasks.Add(ctx, -1)
}

// FanoutMetrics holds the instruments for snapshot delivery
type FanoutMetrics struct {
	deliveries metric.Int64Counter
}

// NewFanoutMetrics creates broadcast instruments on provider. A nil provider yields nil metrics.
func NewFanoutMetrics(provider metric.MeterProvider) (*FanoutMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	deliveries, err := provider.Meter(FanoutMetricsMeterName).Int64Counter(
		"sheetsync_snapshot_deliveries_total",
		metric.WithDescription("Snapshots handed to subscribers, by result"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, err
	}
	return &FanoutMetrics{deliveries: deliveries}, nil
}

// RecordBroadcast records the delivered and dropped counts of one broadcast
func (m *FanoutMetrics) RecordBroadcast(ctx context.Context, delivered, dropped int64) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.deliveries.Add(ctx, delivered, metric.WithAttributes(attribute.String("result", "delivered")))
	}
	if dropped > 0 {
		m.deliveries.Add(ctx, dropped, metric.WithAttributes(attribute.String("result", "dropped")))
	}
}
