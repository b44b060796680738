package services

import (
	"context"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	"commentaryapp/internal/services/providers"

	"go.opentelemetry.io/otel/attribute"
)

// SummarySynthesizer merges the completed slot results of a question into one summary
type SummarySynthesizer struct {
	templates   *CommentaryTemplateManager
	chain       SlotGenerator
	limiter     *ProviderRateLimiter
	store       CommentaryStoreInterface
	tokens      *TokenCounter
	metrics     *observability.CommentaryMetrics
	logger      *observability.Logger
	slot        models.LogicalSlot
	placeholder string
}

// NewSummarySynthesizer creates a synthesizer calling chain under limiter
func NewSummarySynthesizer(
	templates *CommentaryTemplateManager,
	slot models.LogicalSlot,
	chain SlotGenerator,
	limiter *ProviderRateLimiter,
	store CommentaryStoreInterface,
	tokens *TokenCounter,
	metrics *observability.CommentaryMetrics,
	logger *observability.Logger,
	placeholder string,
) *SummarySynthesizer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &SummarySynthesizer{
		templates:   templates,
		chain:       chain,
		limiter:     limiter,
		store:       store,
		tokens:      tokens,
		metrics:     metrics,
		logger:      logger,
		slot:        slot,
		placeholder: placeholder,
	}
}

// Synthesize writes a summary when at least one slot completed. It returns nil without an
// error when there is nothing to merge or the synthesis call failed; only a failed write is an error.
func (s *SummarySynthesizer) Synthesize(ctx context.Context, q *models.QuestionRecord, results models.ProviderMap) (summary *models.CommentarySummary, err error) {
	ctx, span := observability.TraceCommentaryFunction(ctx, "synthesize_summary", observability.AttributeQuestionID(q.ID))
	defer observability.FinishSpan(span, &err)

	sources := models.CompletedOnly(results)
	span.SetAttributes(attribute.Int("summary.sources", len(sources)))
	if len(sources) == 0 {
		s.logger.Debug(ctx, "No completed commentary to summarise", map[string]interface{}{"question_id": q.ID})
		return nil, nil
	}

	prompt, err := s.templates.SynthesisPrompt(q, sources, s.placeholder)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPromptTokens(ctx, string(s.slot), s.tokens.Count(prompt.System)+s.tokens.Count(prompt.User))

	if s.chain == nil {
		s.logger.Warn(ctx, "No synthesis service configured, skipping summary", map[string]interface{}{"question_id": q.ID})
		return nil, nil
	}

	result, acquired, genErr := s.generate(ctx, prompt)
	if !acquired {
		s.logger.Warn(ctx, "Summary skipped while waiting for the synthesis limiter", map[string]interface{}{
			"question_id": q.ID,
			"error":       genErr.Error(),
		})
		return nil, nil
	}
	if genErr != nil {
		s.logger.Warn(ctx, "Summary synthesis failed, continuing without summary", map[string]interface{}{
			"question_id": q.ID,
			"error":       genErr.Error(),
		})
		return nil, nil
	}

	slots := make([]string, len(sources))
	for i, src := range sources {
		slots[i] = string(src.Slot)
	}
	summary = &models.CommentarySummary{
		QuestionID:  q.ID,
		SourceSlots: slots,
		Model:       result.ActualProvider,
		Commentary:  result.Commentary,
	}
	if err := s.store.UpsertSummary(ctx, summary); err != nil {
		return nil, err
	}

	span.SetAttributes(observability.AttributeModel(result.ActualProvider))
	return summary, nil
}

// generate holds the synthesis limiter for exactly the duration of the chain call, panics included
func (s *SummarySynthesizer) generate(ctx context.Context, prompt providers.Prompt) (result providers.ChainResult, acquired bool, err error) {
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			return providers.ChainResult{}, false, err
		}
		defer s.limiter.Release()
	}
	result, err = s.chain.Generate(ctx, prompt)
	return result, true, err
}
