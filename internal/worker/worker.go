// Package worker contains the background worker that drives the commentary
// pipeline. It invokes the dispatcher on a poll interval or on a manual
// trigger, can be paused by operators, and keeps a short in-memory run
// history and activity log for the admin endpoints.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"commentaryapp/internal/config"
	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// Status represents the current state of the worker
type Status struct {
	IsRunning       bool      `json:"is_running"`
	IsPaused        bool      `json:"is_paused"`
	CurrentActivity string    `json:"current_activity,omitempty"`
	LastRunStart    time.Time `json:"last_run_start"`
	LastRunFinish   time.Time `json:"last_run_finish"`
	LastRunError    string    `json:"last_run_error,omitempty"`
	LastRunID       string    `json:"last_run_id,omitempty"`
	NextRun         time.Time `json:"next_run"`
	TotalRuns       int       `json:"total_runs"`
	TotalProcessed  int       `json:"total_processed"`
	TotalFailed     int       `json:"total_failed"`
}

// RunRecord tracks individual worker runs
type RunRecord struct {
	RunID     string        `json:"run_id,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"` // Success, Failure
	Details   string        `json:"details"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
}

// ActivityLog represents a single activity log entry
type ActivityLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // INFO, WARN, ERROR
	Message   string    `json:"message"`
	RunID     string    `json:"run_id,omitempty"`
}

// Processor is the part of the dispatcher the worker drives
type Processor interface {
	Process(ctx context.Context) (*models.ProcessResult, error)
	Wait(ctx context.Context) error
}

// Worker runs the commentary pipeline in the background
type Worker struct {
	processor     Processor
	instance      string
	status        Status
	history       []RunRecord
	activityLogs  []ActivityLog // Circular buffer for recent activity logs
	mu            sync.RWMutex
	runMu         sync.Mutex // one run at a time per worker
	manualTrigger chan bool
	interval      time.Duration
	maxHistory    int
	maxLogs       int
	logger        *observability.Logger

	// Time function for testing - defaults to time.Now
	timeNow func() time.Time
	cancel  context.CancelFunc
}

// NewWorker creates a new Worker instance
func NewWorker(processor Processor, instance string, cfg *config.Config, logger *observability.Logger) *Worker {
	if instance == "" {
		instance = "default"
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	interval := cfg.Commentary.PollInterval
	if interval <= 0 {
		interval = config.WorkerPollInterval
	}
	maxHistory := cfg.Server.MaxHistory
	if maxHistory <= 0 {
		maxHistory = config.DefaultMaxHistory
	}
	maxLogs := cfg.Server.MaxActivityLogs
	if maxLogs <= 0 {
		maxLogs = config.DefaultMaxActivityLogs
	}

	return &Worker{
		processor:     processor,
		instance:      instance,
		status:        Status{CurrentActivity: "Initialized", IsPaused: cfg.Commentary.StartPaused},
		history:       make([]RunRecord, 0, maxHistory),
		activityLogs:  make([]ActivityLog, 0, maxLogs),
		manualTrigger: make(chan bool, 1),
		interval:      interval,
		maxHistory:    maxHistory,
		maxLogs:       maxLogs,
		logger:        logger,
		timeNow:       time.Now,
	}
}

// Start begins the worker's background processing loop and blocks until ctx is done or Shutdown is called
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.cancel = cancel
	w.status.IsRunning = true
	w.status.NextRun = w.timeNow().Add(w.interval)
	paused := w.status.IsPaused
	w.mu.Unlock()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	initialStatus := "running"
	if paused {
		initialStatus = "paused"
	}
	w.logger.Info(ctx, "Worker started", map[string]interface{}{
		"instance": w.instance,
		"status":   initialStatus,
		"interval": w.interval.String(),
	})
	w.logActivity("INFO", fmt.Sprintf("Worker %s started (%s)", w.instance, initialStatus), "")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Worker shutting down", map[string]interface{}{
				"instance": w.instance,
			})
			w.logActivity("INFO", fmt.Sprintf("Worker %s shutting down", w.instance), "")
			w.mu.Lock()
			w.status.IsRunning = false
			w.mu.Unlock()
			return

		case <-ticker.C:
			w.run(ctx)

		case <-w.manualTrigger:
			w.logger.Info(ctx, "Worker triggered manually", map[string]interface{}{
				"instance": w.instance,
			})
			w.logActivity("INFO", fmt.Sprintf("Worker %s triggered manually", w.instance), "")
			w.run(ctx)
		}
	}
}

// run executes a single worker cycle unless the worker is paused
func (w *Worker) run(ctx context.Context) {
	ctx, span := observability.TraceWorkerFunction(ctx, "run",
		attribute.String("worker.instance", w.instance),
	)
	defer observability.FinishSpan(span, nil)

	w.mu.Lock()
	w.status.NextRun = w.timeNow().Add(w.interval)
	paused := w.status.IsPaused
	w.mu.Unlock()

	if paused {
		span.SetAttributes(attribute.String("pause_reason", "Worker instance paused"))
		w.updateActivity("Worker instance paused")
		return
	}

	if _, err := w.RunOnce(ctx); err != nil {
		span.SetAttributes(attribute.String("run.error", err.Error()))
	}
}

// RunOnce invokes the pipeline once and records the run, regardless of the pause state
func (w *Worker) RunOnce(ctx context.Context) (*models.ProcessResult, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	w.mu.Lock()
	w.status.LastRunStart = w.timeNow()
	w.status.CurrentActivity = "Processing commentary"
	w.mu.Unlock()

	result, err := w.processor.Process(ctx)

	w.mu.Lock()
	w.status.LastRunFinish = w.timeNow()
	w.status.TotalRuns++
	if err != nil {
		w.status.LastRunError = err.Error()
		w.status.CurrentActivity = "Last run failed"
	} else {
		w.status.LastRunError = ""
		w.status.LastRunID = result.RunID
		w.status.TotalProcessed += result.Processed
		w.status.TotalFailed += result.Failed
		w.status.CurrentActivity = "Idle"
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error(ctx, "Worker run failed", err, map[string]interface{}{
			"instance": w.instance,
		})
		w.logActivity("ERROR", fmt.Sprintf("Run failed: %s", err.Error()), "")
	} else {
		w.logger.Info(ctx, "Worker run finished", map[string]interface{}{
			"instance":  w.instance,
			"run_id":    result.RunID,
			"processed": result.Processed,
			"failed":    result.Failed,
		})
		w.logActivity("INFO", summarizeRun(result), result.RunID)
	}

	w.recordRunHistory(result, err)
	return result, err
}

// summarizeRun renders a result as a one-line activity message
func summarizeRun(result *models.ProcessResult) string {
	if result.Claimed == 0 {
		return result.Message
	}
	return fmt.Sprintf("%s: claimed %d, completed %d, failed %d", result.Message, result.Claimed, result.Processed, result.Failed)
}

// recordRunHistory records the run in history and trims the slice
func (w *Worker) recordRunHistory(result *models.ProcessResult, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := RunRecord{
		StartTime: w.status.LastRunStart,
		EndTime:   w.status.LastRunFinish,
		Duration:  w.status.LastRunFinish.Sub(w.status.LastRunStart),
	}
	if err != nil {
		record.Status = "Failure"
		record.Details = err.Error()
	} else {
		record.Status = "Success"
		record.RunID = result.RunID
		record.Details = summarizeRun(result)
		record.Processed = result.Processed
		record.Failed = result.Failed
	}
	w.history = append(w.history, record)
	if len(w.history) > w.maxHistory {
		w.history = w.history[len(w.history)-w.maxHistory:]
	}
}

// GetStatus returns the current worker status
func (w *Worker) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// GetHistory returns the worker's run history
func (w *Worker) GetHistory() []RunRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	history := make([]RunRecord, len(w.history))
	copy(history, w.history)
	return history
}

// GetActivityLogs returns recent activity logs
func (w *Worker) GetActivityLogs() []ActivityLog {
	w.mu.RLock()
	defer w.mu.RUnlock()
	logs := make([]ActivityLog, len(w.activityLogs))
	copy(logs, w.activityLogs)
	return logs
}

// GetInstance returns the worker instance name
func (w *Worker) GetInstance() string {
	return w.instance
}

// TriggerManualRun triggers a manual worker run
func (w *Worker) TriggerManualRun() {
	ctx := context.Background()
	select {
	case w.manualTrigger <- true:
		w.logger.Info(ctx, "Manual trigger sent to worker", map[string]interface{}{
			"instance": w.instance,
		})
	default:
		w.logger.Info(ctx, "Manual trigger already pending for worker", map[string]interface{}{
			"instance": w.instance,
		})
	}
}

// Pause stops scheduled and triggered runs until Resume is called
func (w *Worker) Pause(ctx context.Context) {
	w.mu.Lock()
	w.status.IsPaused = true
	w.mu.Unlock()
	w.logger.Info(ctx, "Worker paused", map[string]interface{}{
		"instance": w.instance,
	})
	w.logActivity("INFO", fmt.Sprintf("Worker %s paused", w.instance), "")
}

// Resume resumes the worker
func (w *Worker) Resume(ctx context.Context) {
	w.mu.Lock()
	w.status.IsPaused = false
	w.mu.Unlock()
	w.logger.Info(ctx, "Worker resumed", map[string]interface{}{
		"instance": w.instance,
	})
	w.logActivity("INFO", fmt.Sprintf("Worker %s resumed", w.instance), "")
}

// Shutdown stops the loop, waits for an in-flight run and drains background status corrections
func (w *Worker) Shutdown(ctx context.Context) error {
	w.logger.Info(ctx, "Worker starting shutdown", map[string]interface{}{
		"instance": w.instance,
	})

	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.runMu.Lock()
		defer w.runMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return contextutils.WrapErrorf(contextutils.ErrTimeout, "worker %s run did not finish before shutdown: %w", w.instance, ctx.Err())
	}

	if err := w.processor.Wait(ctx); err != nil {
		return err
	}

	w.logger.Info(ctx, "Worker shutdown completed", map[string]interface{}{
		"instance": w.instance,
	})
	return nil
}

func (w *Worker) updateActivity(activity string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.CurrentActivity = activity
}

// logActivity adds an activity log entry
func (w *Worker) logActivity(level, message, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.activityLogs = append(w.activityLogs, ActivityLog{
		Timestamp: w.timeNow(),
		Level:     level,
		Message:   message,
		RunID:     runID,
	})
	if len(w.activityLogs) > w.maxLogs {
		w.activityLogs = w.activityLogs[len(w.activityLogs)-w.maxLogs:]
	}
}
