package services

import (
	"context"
	"fmt"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	"commentaryapp/internal/services/providers"
	contextutils "commentaryapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SlotGenerator produces commentary for one logical slot; *providers.SlotChain implements it
type SlotGenerator interface {
	Generate(ctx context.Context, prompt providers.Prompt) (providers.ChainResult, error)
}

var _ SlotGenerator = (*providers.SlotChain)(nil)

// CommentaryGenerator produces one slot's commentary for a question
type CommentaryGenerator struct {
	templates   *CommentaryTemplateManager
	chains      map[models.LogicalSlot]SlotGenerator
	limiters    map[models.LogicalSlot]*ProviderRateLimiter
	tokens      *TokenCounter
	metrics     *observability.CommentaryMetrics
	logger      *observability.Logger
	marker      string
	placeholder string
}

// NewCommentaryGenerator creates a generator. Slots without a limiter run unthrottled.
func NewCommentaryGenerator(
	templates *CommentaryTemplateManager,
	chains map[models.LogicalSlot]SlotGenerator,
	limiters map[models.LogicalSlot]*ProviderRateLimiter,
	tokens *TokenCounter,
	metrics *observability.CommentaryMetrics,
	logger *observability.Logger,
	marker, placeholder string,
) *CommentaryGenerator {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &CommentaryGenerator{
		templates:   templates,
		chains:      chains,
		limiters:    limiters,
		tokens:      tokens,
		metrics:     metrics,
		logger:      logger,
		marker:      marker,
		placeholder: placeholder,
	}
}

// Generate never fails: any error becomes a result with every field set to the error marker
// followed by the message, and processing status failed.
func (g *CommentaryGenerator) Generate(ctx context.Context, q *models.QuestionRecord, slot models.LogicalSlot) (out *models.ProviderCommentary) {
	ctx, span := observability.TraceCommentaryFunction(ctx, "generate_commentary",
		observability.AttributeQuestionID(q.ID),
		observability.AttributeSlot(string(slot)),
	)
	defer span.End()

	fail := func(err error) *models.ProviderCommentary {
		observability.SetSpanError(span, err)
		g.logger.Warn(ctx, "Commentary generation failed", map[string]interface{}{
			"question_id": q.ID,
			"slot":        string(slot),
			"error":       err.Error(),
		})
		return &models.ProviderCommentary{
			Slot:             slot,
			ProcessingStatus: models.ProviderStatusFailed,
			Commentary:       models.ErrorCommentary(g.marker, errorMessage(err)),
		}
	}
	defer func() {
		if r := recover(); r != nil {
			out = fail(contextutils.WrapErrorf(contextutils.ErrInternalError, "panic in slot %s: %v", slot, r))
		}
	}()

	result, err := g.generate(ctx, q, slot)
	if err != nil {
		return fail(err)
	}

	span.SetAttributes(observability.AttributeProvider(result.ActualProvider))
	return &models.ProviderCommentary{
		Slot:             slot,
		ActualProvider:   result.ActualProvider,
		ProcessingStatus: models.ProviderStatusCompleted,
		Commentary:       result.Commentary,
	}
}

func (g *CommentaryGenerator) generate(ctx context.Context, q *models.QuestionRecord, slot models.LogicalSlot) (providers.ChainResult, error) {
	chain, ok := g.chains[slot]
	if !ok || chain == nil {
		return providers.ChainResult{}, contextutils.WrapErrorf(contextutils.ErrAIConfigInvalid, "no service configured for slot %s", slot)
	}

	prompt, err := g.templates.CommentaryPrompt(q, g.placeholder)
	if err != nil {
		return providers.ChainResult{}, err
	}
	tokens := g.tokens.Count(prompt.System) + g.tokens.Count(prompt.User)
	g.metrics.RecordPromptTokens(ctx, string(slot), tokens)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("prompt.tokens", tokens))

	if limiter := g.limiters[slot]; limiter != nil {
		if err := limiter.Acquire(ctx); err != nil {
			return providers.ChainResult{}, err
		}
		defer limiter.Release()
	}

	return chain.Generate(ctx, prompt)
}

// errorMessage prefers the AppError message over its code-prefixed Error text
func errorMessage(err error) string {
	if appErr, ok := err.(*contextutils.AppError); ok && appErr.Message != "" {
		return appErr.Message
	}
	return fmt.Sprint(err)
}
