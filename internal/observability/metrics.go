package observability

import (
	"context"

	"commentaryapp/internal/config"
	contextutils "commentaryapp/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes an OTLP MeterProvider
func InitMetrics(cfg *config.OpenTelemetryConfig) (result0 *metric.MeterProvider, err error) {
	ctx := context.Background()

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var exporter metric.Exporter
	switch cfg.Protocol {
	case "grpc":
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithHeaders(cfg.Headers),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create otlp grpc metric exporter: %w", err)
		}
		exporter = exp
	case "http":
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(cfg.Endpoint),
			otlpmetrichttp.WithHeaders(cfg.Headers),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create otlp http metric exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, contextutils.WrapErrorf(contextutils.ErrConfiguration, "unsupported otel protocol: %s", cfg.Protocol)
	}

	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter)),
		metric.WithResource(res),
	), nil
}

// CommentaryMetrics holds the pipeline instruments. The zero value is not usable; build with NewCommentaryMetrics.
type CommentaryMetrics struct {
	questions     otelmetric.Int64Counter
	providerCalls otelmetric.Int64Counter
	fallbacks     otelmetric.Int64Counter
	promptTokens  otelmetric.Int64Histogram
}

// NewCommentaryMetrics creates the pipeline instruments on the global meter provider.
// Without a configured provider the instruments are no-ops.
func NewCommentaryMetrics() (*CommentaryMetrics, error) {
	meter := otel.Meter(tracerName)

	questions, err := meter.Int64Counter("commentary.questions",
		otelmetric.WithDescription("Questions finished by the commentary pipeline, by outcome"))
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create questions counter: %w", err)
	}
	providerCalls, err := meter.Int64Counter("commentary.provider_calls",
		otelmetric.WithDescription("Provider calls, by slot, provider and outcome"))
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create provider call counter: %w", err)
	}
	fallbacks, err := meter.Int64Counter("commentary.fallbacks",
		otelmetric.WithDescription("Fallback switches inside a slot chain"))
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create fallback counter: %w", err)
	}
	promptTokens, err := meter.Int64Histogram("commentary.prompt_tokens",
		otelmetric.WithDescription("Estimated prompt tokens per provider request"),
		otelmetric.WithUnit("{token}"))
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create prompt token histogram: %w", err)
	}

	return &CommentaryMetrics{
		questions:     questions,
		providerCalls: providerCalls,
		fallbacks:     fallbacks,
		promptTokens:  promptTokens,
	}, nil
}

// RecordQuestion counts a finished question with outcome "completed" or "failed".
func (m *CommentaryMetrics) RecordQuestion(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.questions.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProviderCall counts one concrete provider attempt.
func (m *CommentaryMetrics) RecordProviderCall(ctx context.Context, slot, provider string, success bool) {
	if m == nil {
		return
	}
	m.providerCalls.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("slot", slot),
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordFallback counts a switch from the primary to the fallback service of a slot.
func (m *CommentaryMetrics) RecordFallback(ctx context.Context, slot string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("slot", slot)))
}

// RecordPromptTokens records the estimated prompt size of a request.
func (m *CommentaryMetrics) RecordPromptTokens(ctx context.Context, slot string, tokens int) {
	if m == nil || tokens <= 0 {
		return
	}
	m.promptTokens.Record(ctx, int64(tokens), otelmetric.WithAttributes(attribute.String("slot", slot)))
}
