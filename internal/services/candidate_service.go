package services

import (
	"context"
	"time"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// CandidateService finds questions that may need commentary work and claims them
type CandidateService struct {
	store        CommentaryStoreInterface
	background   *BackgroundTasks
	logger       *observability.Logger
	marker       string
	stuckTimeout time.Duration
	now          func() time.Time
}

// NewCandidateService creates a CandidateService
func NewCandidateService(store CommentaryStoreInterface, background *BackgroundTasks, logger *observability.Logger, marker string, stuckTimeout time.Duration) *CandidateService {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if background == nil {
		background = NewBackgroundTasks(logger, 0)
	}
	return &CandidateService{
		store:        store,
		background:   background,
		logger:       logger,
		marker:       marker,
		stuckTimeout: stuckTimeout,
		now:          time.Now,
	}
}

// Collect runs the bucket queries and returns their union deduplicated by id.
// An id seen in an earlier bucket keeps that bucket.
func (c *CandidateService) Collect(ctx context.Context, settings *models.ProcessingSettings) (result []models.Candidate, err error) {
	ctx, span := observability.TraceCommentaryFunction(ctx, "collect_candidates", observability.AttributeLimit(settings.BatchSize))
	defer observability.FinishSpan(span, &err)

	now := c.now()
	limit := settings.BatchSize

	pending, err := c.store.PendingExpired(ctx, now.Add(-settings.ProcessingDelay()), limit)
	if err != nil {
		return nil, err
	}
	stuck, err := c.store.StuckProcessing(ctx, now.Add(-c.stuckTimeout), limit)
	if err != nil {
		return nil, err
	}
	summaryOnly, err := c.store.NeedsSummaryOnly(ctx, limit)
	if err != nil {
		return nil, err
	}
	marked, err := c.store.ErrorMarked(ctx, c.marker, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	for _, bucket := range [][]models.Candidate{pending, stuck, summaryOnly, marked} {
		for _, cand := range bucket {
			if seen[cand.ID] {
				continue
			}
			seen[cand.ID] = true
			result = append(result, cand)
		}
	}

	span.SetAttributes(
		attribute.Int("candidates.pending_expired", len(pending)),
		attribute.Int("candidates.stuck_processing", len(stuck)),
		attribute.Int("candidates.needs_summary_only", len(summaryOnly)),
		attribute.Int("candidates.error_marked", len(marked)),
		attribute.Int("candidates.total", len(result)),
	)
	c.logger.Debug(ctx, "Collected commentary candidates", map[string]interface{}{
		"pending_expired":    len(pending),
		"stuck_processing":   len(stuck),
		"needs_summary_only": len(summaryOnly),
		"error_marked":       len(marked),
		"total":              len(result),
	})
	return result, nil
}

// SelectAndClaim decides what each candidate needs, caps the work at the batch size and
// claims it. Fully enriched candidates are dropped and get a background status correction.
// Claimed items keep the order of candidates; questions lost to another invocation are absent.
func (c *CandidateService) SelectAndClaim(ctx context.Context, settings *models.ProcessingSettings, candidates []models.Candidate) (items []models.WorkItem, err error) {
	ctx, span := observability.TraceCommentaryFunction(ctx, "select_and_claim", observability.AttributeBatchSize(len(candidates)))
	defer observability.FinishSpan(span, &err)

	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(candidates))
	for i, cand := range candidates {
		ids[i] = cand.ID
	}
	lookup, err := c.store.LookupCommentary(ctx, ids)
	if err != nil {
		return nil, err
	}

	stuckCutoff := c.now().Add(-c.stuckTimeout)
	type planned struct {
		mode     models.WorkMode
		existing *models.AnswerCommentarySet
	}
	plans := make(map[int64]planned)
	claims := make([]ClaimRequest, 0, settings.BatchSize)
	dropped := 0

	for _, cand := range candidates {
		var p planned
		stored, ok := lookup[cand.ID]
		switch {
		case !ok || stored.Set == nil:
			p.mode = models.WorkGenerate
		case stored.Set.HasErrorMarker(c.marker):
			p = planned{mode: models.WorkRegenerate, existing: stored.Set}
		case !stored.HasSummary:
			p = planned{mode: models.WorkSummaryOnly, existing: stored.Set}
		default:
			dropped++
			c.scheduleStatusCorrection(ctx, cand, stuckCutoff)
			continue
		}

		if len(claims) >= settings.BatchSize {
			continue
		}
		plans[cand.ID] = p
		claims = append(claims, ClaimRequest{ID: cand.ID, Expected: cand.Status})
	}

	claimed, err := c.store.Claim(ctx, claims, stuckCutoff)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.QuestionRecord, len(claimed))
	for _, q := range claimed {
		byID[q.ID] = q
	}
	for _, req := range claims {
		q, ok := byID[req.ID]
		if !ok {
			c.logger.Debug(ctx, "Question claimed by another invocation, skipping", map[string]interface{}{
				"question_id": req.ID,
			})
			continue
		}
		p := plans[req.ID]
		items = append(items, models.WorkItem{Question: q, Mode: p.mode, Existing: p.existing})
	}

	span.SetAttributes(
		attribute.Int("claim.requested", len(claims)),
		attribute.Int("claim.won", len(items)),
		attribute.Int("candidates.dropped", dropped),
	)
	return items, nil
}

func (c *CandidateService) scheduleStatusCorrection(ctx context.Context, cand models.Candidate, stuckCutoff time.Time) {
	if cand.Status == models.CommentaryStatusCompleted {
		return
	}
	id := cand.ID
	c.background.Go(ctx, "correct_stale_status", func(ctx context.Context) error {
		return c.store.CorrectStaleStatus(ctx, id, stuckCutoff)
	})
}
