package metrics

import "time"

// MetricsEvent is a single observable pipeline event: a counter tick, a
// latency sample, or a reported failure.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Failure reports a reason-coded failure for a pipeline component. Every
// per-request error in the pipeline funnels through here instead of
// propagating upward.
func Failure(obs Observer, component, reason string, err error) {
	if obs == nil {
		return
	}
	tags := map[string]string{
		"component": component,
		"reason":    reason,
	}
	fields := map[string]any{}
	if err != nil {
		fields["error"] = err.Error()
	}
	obs.RecordEvent(MetricsEvent{
		Name:   "pipeline_failure",
		Time:   time.Now(),
		Tags:   tags,
		Fields: fields,
	})
}
