package activation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies this package's instruments.
const MeterName = "activation-client"

// Metrics holds the activation OpenTelemetry instruments.
type Metrics struct {
	Attempts        metric.Int64Counter
	AttemptDuration metric.Float64Histogram
	Outcomes        metric.Int64Counter
}

// NewMetrics registers the activation instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Attempts, err = meter.Int64Counter("activation_attempts_total",
		metric.WithDescription("Activation requests issued, by classification"))
	if err != nil {
		return nil, err
	}

	m.AttemptDuration, err = meter.Float64Histogram("activation_attempt_duration_seconds",
		metric.WithDescription("Wall time of one activation attempt"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.Outcomes, err = meter.Int64Counter("activation_outcomes_total",
		metric.WithDescription("Terminal activation run outcomes"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) addAttempt(classification string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("classification", classification))
	m.Attempts.Add(context.Background(), 1, attrs)
	m.AttemptDuration.Record(context.Background(), elapsed.Seconds(), attrs)
}

func (m *Metrics) addOutcome(state State) {
	if m == nil {
		return
	}
	m.Outcomes.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("state", state.String())))
}
