package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "promptdeck"

// Metrics holds all PromptDeck metric instruments.
type Metrics struct {
	VersionsCreated   metric.Int64Counter
	VersionsActivated metric.Int64Counter
	TestsStarted      metric.Int64Counter
	TestsCompleted    metric.Int64Counter
	ResultsRecorded   metric.Int64Counter
	Evaluations       metric.Int64Counter
	EvalDuration      metric.Float64Histogram
	PValue            metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.VersionsCreated, err = meter.Int64Counter("promptdeck.versions.created",
		metric.WithDescription("Number of prompt versions created"))
	if err != nil {
		return nil, err
	}

	m.VersionsActivated, err = meter.Int64Counter("promptdeck.versions.activated",
		metric.WithDescription("Number of prompt version activations"))
	if err != nil {
		return nil, err
	}

	m.TestsStarted, err = meter.Int64Counter("promptdeck.tests.started",
		metric.WithDescription("Number of A/B tests started"))
	if err != nil {
		return nil, err
	}

	m.TestsCompleted, err = meter.Int64Counter("promptdeck.tests.completed",
		metric.WithDescription("Number of A/B tests completed"))
	if err != nil {
		return nil, err
	}

	m.ResultsRecorded, err = meter.Int64Counter("promptdeck.results.recorded",
		metric.WithDescription("Number of experiment results recorded"))
	if err != nil {
		return nil, err
	}

	m.Evaluations, err = meter.Int64Counter("promptdeck.evaluations",
		metric.WithDescription("Number of experiment evaluations performed"))
	if err != nil {
		return nil, err
	}

	m.EvalDuration, err = meter.Float64Histogram("promptdeck.evaluation.duration_seconds",
		metric.WithDescription("Experiment evaluation duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.PValue, err = meter.Float64Histogram("promptdeck.evaluation.p_value",
		metric.WithDescription("Welch t-test p-values produced by evaluations"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
