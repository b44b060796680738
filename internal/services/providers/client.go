// Package providers wraps the concrete text-generation services behind one interface
// and composes them into per-slot fallback chains.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"commentaryapp/internal/models"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Prompt is the rendered request sent to a provider
type Prompt struct {
	System string
	User   string
	// Grammar is an optional GBNF grammar, only forwarded to servers that accept one
	Grammar string
}

// Client is one concrete provider service bound to a single model.
// Implementations decide whether the structured output is enforced by the API or repaired after the fact.
type Client interface {
	// Name identifies the concrete service as "provider/model"
	Name() string
	GenerateCommentary(ctx context.Context, prompt Prompt) (models.Commentary, error)
}

// ClientFunc adapts a function to the Client interface
type ClientFunc struct {
	ID string
	Fn func(ctx context.Context, prompt Prompt) (models.Commentary, error)
}

// Name implements Client
func (f ClientFunc) Name() string { return f.ID }

// GenerateCommentary implements Client
func (f ClientFunc) GenerateCommentary(ctx context.Context, prompt Prompt) (models.Commentary, error) {
	return f.Fn(ctx, prompt)
}

func qualifiedName(provider, model string) string {
	return fmt.Sprintf("%s/%s", provider, model)
}

// NewInstrumentedHTTPClient returns an HTTP client whose requests produce client spans
func NewInstrumentedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
		),
	}
}
