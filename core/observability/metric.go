package observability

import (
	"context"
	"time"
)

// MetricSampleType distinguishes the three Metrics instrument shapes a
// MetricSample can carry.
type MetricSampleType string

const (
	MetricCounter MetricSampleType = "counter"
	MetricTimer   MetricSampleType = "timer"
	MetricGauge   MetricSampleType = "gauge"
)

// MetricSample is one on_metric occurrence: a named measurement plus the
// tags needed to recover the instrument dimensions (stage, tool, domain).
type MetricSample struct {
	Name     string
	Type     MetricSampleType
	Value    float64
	Duration time.Duration
	Tags     []string
	Recorded time.Time
}

// metricsSink forwards MetricSample events onto a Metrics recorder, adapting
// the bus's typed events back into IncCounter/RecordTimer/RecordGauge calls.
// Use it to keep telemetry code on the OTEL-backed Metrics interface while
// still letting other subscribers (the audit log, tests) observe the same
// events.
type metricsSink struct {
	metrics Metrics
}

// NewMetricsSink returns a Subscriber that forwards every EventMetric to m.
func NewMetricsSink(m Metrics) Subscriber {
	return metricsSink{metrics: m}
}

func (s metricsSink) HandleEvent(_ context.Context, event Event) error {
	if event.Kind != EventMetric || event.Metric == nil {
		return nil
	}
	sample := event.Metric
	switch sample.Type {
	case MetricCounter:
		s.metrics.IncCounter(sample.Name, sample.Value, sample.Tags...)
	case MetricTimer:
		s.metrics.RecordTimer(sample.Name, sample.Duration, sample.Tags...)
	case MetricGauge:
		s.metrics.RecordGauge(sample.Name, sample.Value, sample.Tags...)
	}
	return nil
}

// PublishCounter publishes an EventMetric of type MetricCounter.
func PublishCounter(ctx context.Context, bus Bus, name string, value float64, tags ...string) error {
	if bus == nil {
		return nil
	}
	return bus.Publish(ctx, Event{Kind: EventMetric, Metric: &MetricSample{
		Name: name, Type: MetricCounter, Value: value, Tags: tags, Recorded: time.Now(),
	}})
}

// PublishTimer publishes an EventMetric of type MetricTimer.
func PublishTimer(ctx context.Context, bus Bus, name string, d time.Duration, tags ...string) error {
	if bus == nil {
		return nil
	}
	return bus.Publish(ctx, Event{Kind: EventMetric, Metric: &MetricSample{
		Name: name, Type: MetricTimer, Duration: d, Tags: tags, Recorded: time.Now(),
	}})
}

// PublishGauge publishes an EventMetric of type MetricGauge.
func PublishGauge(ctx context.Context, bus Bus, name string, value float64, tags ...string) error {
	if bus == nil {
		return nil
	}
	return bus.Publish(ctx, Event{Kind: EventMetric, Metric: &MetricSample{
		Name: name, Type: MetricGauge, Value: value, Tags: tags, Recorded: time.Now(),
	}})
}
