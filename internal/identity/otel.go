package identity

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies this package's instruments.
const MeterName = "identity-store"

// Metrics holds the identity-store OpenTelemetry instruments.
type Metrics struct {
	FieldRepairs  metric.Int64Counter
	Regenerations metric.Int64Counter
}

// NewMetrics registers the identity-store instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.FieldRepairs, err = meter.Int64Counter("identity_field_repairs_total",
		metric.WithDescription("Identity record fields regenerated in place"))
	if err != nil {
		return nil, err
	}

	m.Regenerations, err = meter.Int64Counter("identity_regenerations_total",
		metric.WithDescription("Full identity record regenerations by cause"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) addRepair(field string) {
	if m == nil {
		return
	}
	m.FieldRepairs.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("field", field)))
}

func (m *Metrics) addRegeneration(cause string) {
	if m == nil {
		return
	}
	m.Regenerations.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("cause", cause)))
}
