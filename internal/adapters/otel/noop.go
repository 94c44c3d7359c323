package otel

import "context"

// NoOpExporter is a metrics recorder that does nothing.
type NoOpExporter struct{}

// NewNoOpExporter creates a no-op recorder for graceful degradation.
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (e *NoOpExporter) RecordEvaluation(ctx context.Context, phaseID string, score float64, durationSeconds float64, degraded bool) {
}

func (e *NoOpExporter) RecordJudgeTokens(ctx context.Context, input, output int64) {}

func (e *NoOpExporter) Shutdown(ctx context.Context) error { return nil }
