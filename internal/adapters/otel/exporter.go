// Package otel exports evaluation metrics to an OTEL Collector.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName    = "pitchforge"
	serviceVersion = "1.0.0"
)

// Config holds OTEL exporter configuration.
type Config struct {
	Endpoint string
	Enabled  bool
	Insecure bool
}

// Exporter records evaluation telemetry through the OTLP gRPC exporter.
type Exporter struct {
	provider         *sdkmetric.MeterProvider
	evaluationsTotal metric.Int64Counter
	judgeTokens      metric.Int64Counter
	scoreHist        metric.Float64Histogram
	durationHist     metric.Float64Histogram
}

// NewExporter creates a new OTEL metrics exporter.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	evaluationsTotal, err := meter.Int64Counter(
		"pitchforge_evaluations_total",
		metric.WithDescription("Total judged submissions"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating evaluations counter: %w", err)
	}

	judgeTokens, err := meter.Int64Counter(
		"pitchforge_judge_tokens_total",
		metric.WithDescription("Total tokens spent on judge calls"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tokens counter: %w", err)
	}

	scoreHist, err := meter.Float64Histogram(
		"pitchforge_evaluation_score",
		metric.WithDescription("AI scores of judged submissions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating score histogram: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"pitchforge_phase_duration_seconds",
		metric.WithDescription("Elapsed phase time at submission"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &Exporter{
		provider:         provider,
		evaluationsTotal: evaluationsTotal,
		judgeTokens:      judgeTokens,
		scoreHist:        scoreHist,
		durationHist:     durationHist,
	}, nil
}

// RecordEvaluation records one judged submission.
func (e *Exporter) RecordEvaluation(ctx context.Context, phaseID string, score float64, durationSeconds float64, degraded bool) {
	opt := metric.WithAttributes(
		attribute.String("phase_id", phaseID),
		attribute.Bool("degraded", degraded),
	)
	e.evaluationsTotal.Add(ctx, 1, opt)
	e.scoreHist.Record(ctx, score, opt)
	e.durationHist.Record(ctx, durationSeconds, opt)
}

// RecordJudgeTokens accumulates judge token usage.
func (e *Exporter) RecordJudgeTokens(ctx context.Context, input, output int64) {
	e.judgeTokens.Add(ctx, input, metric.WithAttributes(attribute.String("direction", "input")))
	e.judgeTokens.Add(ctx, output, metric.WithAttributes(attribute.String("direction", "output")))
}

// Shutdown flushes pending metrics.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
