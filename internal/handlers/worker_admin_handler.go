package handlers

import (
	"context"
	"net/http"

	"commentaryapp/internal/middleware"
	"commentaryapp/internal/observability"
	"commentaryapp/internal/services"
	contextutils "commentaryapp/internal/utils"
	"commentaryapp/internal/worker"

	"github.com/gin-gonic/gin"
)

// WorkerControl is the part of the worker the admin endpoints drive
type WorkerControl interface {
	GetStatus() worker.Status
	GetHistory() []worker.RunRecord
	GetActivityLogs() []worker.ActivityLog
	GetInstance() string
	TriggerManualRun()
	Pause(ctx context.Context)
	Resume(ctx context.Context)
}

// LimiterReporter exposes rate limiter and background task counters
type LimiterReporter interface {
	LimiterStats() []services.RateLimiterStats
	BackgroundCounts() (running, succeeded, failed int64)
}

// WorkerAdminHandler handles worker administration endpoints
type WorkerAdminHandler struct {
	worker   WorkerControl
	limiters LimiterReporter
	logger   *observability.Logger
}

// NewWorkerAdminHandler creates a new WorkerAdminHandler
func NewWorkerAdminHandler(w WorkerControl, limiters LimiterReporter, logger *observability.Logger) *WorkerAdminHandler {
	return &WorkerAdminHandler{worker: w, limiters: limiters, logger: logger}
}

// GetWorkerStatus returns current worker status with limiter counters
func (h *WorkerAdminHandler) GetWorkerStatus(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_worker_status")
	defer span.End()
	if h.worker == nil {
		middleware.HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}

	response := gin.H{
		"instance": h.worker.GetInstance(),
		"status":   h.worker.GetStatus(),
	}
	if h.limiters != nil {
		running, succeeded, failed := h.limiters.BackgroundCounts()
		response["limiters"] = h.limiters.LimiterStats()
		response["status_corrections"] = gin.H{"running": running, "succeeded": succeeded, "failed": failed}
	}
	c.JSON(http.StatusOK, response)
}

// GetWorkerHistory returns the recent run history
func (h *WorkerAdminHandler) GetWorkerHistory(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_worker_history")
	defer span.End()
	if h.worker == nil {
		middleware.HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": h.worker.GetHistory()})
}

// GetActivityLogs returns recent activity logs from the worker
func (h *WorkerAdminHandler) GetActivityLogs(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_activity_logs")
	defer span.End()
	if h.worker == nil {
		middleware.HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": h.worker.GetActivityLogs()})
}

// TriggerWorkerRun triggers a manual worker run
func (h *WorkerAdminHandler) TriggerWorkerRun(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "trigger_worker_run")
	defer span.End()
	if h.worker == nil {
		middleware.HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}
	h.worker.TriggerManualRun()
	c.JSON(http.StatusOK, gin.H{"message": "Worker run triggered"})
}

// PauseWorker pauses scheduled runs
func (h *WorkerAdminHandler) PauseWorker(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "pause_worker")
	defer span.End()
	if h.worker == nil {
		middleware.HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}
	h.worker.Pause(ctx)
	c.JSON(http.StatusOK, gin.H{"message": "Worker paused"})
}

// ResumeWorker resumes scheduled runs
func (h *WorkerAdminHandler) ResumeWorker(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "resume_worker")
	defer span.End()
	if h.worker == nil {
		middleware.HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}
	h.worker.Resume(ctx)
	c.JSON(http.StatusOK, gin.H{"message": "Worker resumed"})
}
