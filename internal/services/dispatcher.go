package services

import (
	"context"
	"runtime/debug"
	"time"

	"commentaryapp/internal/config"
	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Question outcomes recorded in metrics
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// DispatcherInterface runs commentary invocations
type DispatcherInterface interface {
	Process(ctx context.Context) (*models.ProcessResult, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
	LimiterStats() []RateLimiterStats
}

// DispatcherDeps are the collaborators a Dispatcher is assembled from
type DispatcherDeps struct {
	Settings  SettingsServiceInterface
	Store     CommentaryStoreInterface
	Templates *CommentaryTemplateManager
	Tokens    *TokenCounter
	// Chains holds one generator per commentary slot
	Chains    map[models.LogicalSlot]SlotGenerator
	Synthesis SlotGenerator
	Metrics   *observability.CommentaryMetrics
	Logger    *observability.Logger
}

// Dispatcher runs one invocation of the pipeline: collect, claim, generate, persist, synthesize and finalize.
// It owns the rate limiters, so two dispatchers never share provider budgets.
type Dispatcher struct {
	cfg         config.CommentaryConfig
	slots       []models.LogicalSlot
	settings    SettingsServiceInterface
	store       CommentaryStoreInterface
	candidates  *CandidateService
	generator   *CommentaryGenerator
	synthesizer *SummarySynthesizer
	background  *BackgroundTasks
	limiters    []*ProviderRateLimiter
	metrics     *observability.CommentaryMetrics
	logger      *observability.Logger
	now         func() time.Time
}

// NewDispatcher builds a dispatcher and its per-slot limiters from the commentary config
func NewDispatcher(cfg config.CommentaryConfig, deps DispatcherDeps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.SubBatchSize <= 0 {
		cfg.SubBatchSize = config.DefaultSubBatchSize
	}

	slotLimiters := make(map[models.LogicalSlot]*ProviderRateLimiter, len(cfg.Slots))
	slots := make([]models.LogicalSlot, 0, len(cfg.Slots))
	limiters := make([]*ProviderRateLimiter, 0, len(cfg.Slots)+1)
	for _, s := range cfg.Slots {
		slot := models.LogicalSlot(s.Name)
		l := NewProviderRateLimiter(s.Name, s.MaxConcurrent, time.Duration(s.DelayMS)*time.Millisecond)
		slotLimiters[slot] = l
		slots = append(slots, slot)
		limiters = append(limiters, l)
	}
	synthesisLimiter := NewProviderRateLimiter(cfg.Synthesis.Name, cfg.Synthesis.MaxConcurrent,
		time.Duration(cfg.Synthesis.DelayMS)*time.Millisecond)
	limiters = append(limiters, synthesisLimiter)

	background := NewBackgroundTasks(logger, config.BackgroundTaskTimeout)

	return &Dispatcher{
		cfg:        cfg,
		slots:      slots,
		settings:   deps.Settings,
		store:      deps.Store,
		candidates: NewCandidateService(deps.Store, background, logger, cfg.ErrorMarker, cfg.StuckTimeout),
		generator: NewCommentaryGenerator(deps.Templates, deps.Chains, slotLimiters, deps.Tokens,
			deps.Metrics, logger, cfg.ErrorMarker, cfg.Placeholder),
		synthesizer: NewSummarySynthesizer(deps.Templates, models.LogicalSlot(cfg.Synthesis.Name), deps.Synthesis,
			synthesisLimiter, deps.Store, deps.Tokens, deps.Metrics, logger, cfg.Placeholder),
		background: background,
		limiters:   limiters,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Process runs one invocation. Only settings and candidate query failures are returned as errors;
// individual question failures are counted in the result.
func (d *Dispatcher) Process(ctx context.Context) (result *models.ProcessResult, err error) {
	runID := uuid.NewString()
	ctx = contextutils.WithRunID(ctx, runID)
	ctx, span := observability.TraceCommentaryFunction(ctx, "process", observability.AttributeRunID(runID))
	defer observability.FinishSpan(span, &err)

	settings, err := d.settings.Load(ctx)
	if err != nil {
		d.logger.Error(ctx, "Failed to load processing settings", err, map[string]interface{}{"run_id": runID})
		return nil, err
	}
	if !settings.FeatureEnabled {
		d.logger.Info(ctx, "Commentary processing disabled", map[string]interface{}{"run_id": runID})
		return &models.ProcessResult{RunID: runID, Message: models.MessageProcessingDisabled}, nil
	}

	candidates, err := d.candidates.Collect(ctx, settings)
	if err != nil {
		d.logger.Error(ctx, "Failed to collect candidates", err, map[string]interface{}{"run_id": runID})
		return nil, err
	}
	items, err := d.candidates.SelectAndClaim(ctx, settings, candidates)
	if err != nil {
		d.logger.Error(ctx, "Failed to claim candidates", err, map[string]interface{}{"run_id": runID})
		return nil, err
	}
	if len(items) == 0 {
		return &models.ProcessResult{RunID: runID, Message: models.MessageNothingToProcess}, nil
	}

	result = &models.ProcessResult{RunID: runID, Message: models.MessageProcessingCompleted, Claimed: len(items)}
	for start := 0; start < len(items); start += d.cfg.SubBatchSize {
		if ctx.Err() != nil {
			d.logger.Warn(ctx, "Invocation cancelled, remaining claimed questions left for stuck recovery", map[string]interface{}{
				"run_id":    runID,
				"remaining": len(items) - start,
			})
			break
		}
		end := min(start+d.cfg.SubBatchSize, len(items))
		completed, failed := d.runSubBatch(ctx, settings, items[start:end])
		result.Processed += completed
		result.Failed += failed
	}

	span.SetAttributes(
		attribute.Int("result.claimed", result.Claimed),
		attribute.Int("result.processed", result.Processed),
		attribute.Int("result.failed", result.Failed),
	)
	d.logger.Info(ctx, "Commentary invocation finished", map[string]interface{}{
		"run_id":    runID,
		"claimed":   result.Claimed,
		"processed": result.Processed,
		"failed":    result.Failed,
	})
	return result, nil
}

func (d *Dispatcher) runSubBatch(ctx context.Context, settings *models.ProcessingSettings, batch []models.WorkItem) (completed, failed int) {
	outcomes := make([]bool, len(batch))
	var g errgroup.Group
	for i, item := range batch {
		g.Go(func() error {
			outcomes[i] = d.finalize(ctx, item, d.processQuestion(ctx, settings, item))
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range outcomes {
		if ok {
			completed++
		} else {
			failed++
		}
	}
	return completed, failed
}

// processQuestion is the per-question boundary: panics come back as errors
func (d *Dispatcher) processQuestion(ctx context.Context, settings *models.ProcessingSettings, item models.WorkItem) (err error) {
	q := item.Question
	ctx, span := observability.TraceCommentaryFunction(ctx, "process_question",
		observability.AttributeQuestionID(q.ID),
		attribute.String("work.mode", string(item.Mode)),
	)
	defer observability.FinishSpan(span, &err)
	defer func() {
		if r := recover(); r != nil {
			err = contextutils.WrapErrorf(contextutils.ErrInternalError, "panic processing question %d: %v", q.ID, r)
			d.logger.Error(ctx, "Recovered panic while processing question", err, map[string]interface{}{
				"question_id": q.ID,
				"stack":       string(debug.Stack()),
			})
		}
	}()

	var results models.ProviderMap
	if item.Mode == models.WorkSummaryOnly && item.Existing != nil {
		results = item.Existing.Providers
	} else {
		results = d.generateAll(ctx, settings, q)
		if hasAnyResult(results) {
			if err := d.store.UpsertCommentary(ctx, q.ID, results); err != nil {
				return err
			}
		}
	}

	if _, err := d.synthesizer.Synthesize(ctx, q, results); err != nil {
		return err
	}
	return nil
}

// generateAll runs every enabled slot concurrently. Every configured slot is present in the
// returned map, nil where the slot is disabled.
func (d *Dispatcher) generateAll(ctx context.Context, settings *models.ProcessingSettings, q *models.QuestionRecord) models.ProviderMap {
	out := make([]*models.ProviderCommentary, len(d.slots))
	var g errgroup.Group
	for i, slot := range d.slots {
		if !settings.SlotEnabled(string(slot)) {
			continue
		}
		g.Go(func() error {
			out[i] = d.generator.Generate(ctx, q, slot)
			return nil
		})
	}
	_ = g.Wait()

	results := make(models.ProviderMap, len(d.slots))
	for i, slot := range d.slots {
		results[slot] = out[i]
	}
	return results
}

func hasAnyResult(m models.ProviderMap) bool {
	for _, pc := range m {
		if pc != nil {
			return true
		}
	}
	return false
}

// finalize writes the terminal status and reports whether the question completed
func (d *Dispatcher) finalize(ctx context.Context, item models.WorkItem, procErr error) bool {
	q := item.Question
	if procErr == nil {
		if err := d.store.MarkCompleted(ctx, q.ID); err != nil {
			procErr = err
		} else {
			d.metrics.RecordQuestion(ctx, OutcomeCompleted)
			return true
		}
	}

	d.logger.Error(ctx, "Question processing failed", procErr, map[string]interface{}{
		"question_id": q.ID,
		"mode":        string(item.Mode),
	})
	if err := d.store.MarkFailed(ctx, q.ID); err != nil {
		d.logger.Error(ctx, "Failed to mark question failed", err, map[string]interface{}{"question_id": q.ID})
	}
	d.metrics.RecordQuestion(ctx, OutcomeFailed)
	return false
}

// Stats reports queue state for operators
func (d *Dispatcher) Stats(ctx context.Context) (*models.QueueStats, error) {
	cutoff := d.now()
	if settings, err := d.settings.Load(ctx); err == nil {
		cutoff = cutoff.Add(-settings.ProcessingDelay())
	}
	return d.store.QueueStats(ctx, d.cfg.ErrorMarker, cutoff)
}

// LimiterStats returns the counters of every slot limiter followed by the synthesis limiter
func (d *Dispatcher) LimiterStats() []RateLimiterStats {
	stats := make([]RateLimiterStats, len(d.limiters))
	for i, l := range d.limiters {
		stats[i] = l.Stats()
	}
	return stats
}

// BackgroundCounts reports running, succeeded and failed status corrections
func (d *Dispatcher) BackgroundCounts() (running, succeeded, failed int64) {
	return d.background.Counts()
}

// Wait drains background status corrections
func (d *Dispatcher) Wait(ctx context.Context) error {
	if err := d.background.Wait(ctx); err != nil {
		return contextutils.WrapErrorf(contextutils.ErrTimeout, "waiting for background tasks: %w", err)
	}
	return nil
}
