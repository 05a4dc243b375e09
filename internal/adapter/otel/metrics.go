package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "formpilot"

// Metrics holds all FormPilot metric instruments.
type Metrics struct {
	EventsProcessed  metric.Int64Counter
	EventsUnknown    metric.Int64Counter
	Extractions      metric.Int64Counter
	Compactions      metric.Int64Counter
	SessionsReplaced metric.Int64Counter
	AICallDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsProcessed, err = meter.Int64Counter("formpilot.events.processed",
		metric.WithDescription("Session events dispatched by the orchestrator"))
	if err != nil {
		return nil, err
	}

	m.EventsUnknown, err = meter.Int64Counter("formpilot.events.unknown",
		metric.WithDescription("Events with an unrecognized type, ignored"))
	if err != nil {
		return nil, err
	}

	m.Extractions, err = meter.Int64Counter("formpilot.extractions",
		metric.WithDescription("Field values extracted from chat messages"))
	if err != nil {
		return nil, err
	}

	m.Compactions, err = meter.Int64Counter("formpilot.compactions",
		metric.WithDescription("History compaction restarts"))
	if err != nil {
		return nil, err
	}

	m.SessionsReplaced, err = meter.Int64Counter("formpilot.sessions.replaced",
		metric.WithDescription("Terminal sessions replaced by a successor"))
	if err != nil {
		return nil, err
	}

	m.AICallDuration, err = meter.Float64Histogram("formpilot.ai.duration_seconds",
		metric.WithDescription("AI capability call duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
