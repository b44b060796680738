// Package handlers contains the Gin HTTP handlers of the commentary worker.
package handlers

import (
	"context"
	"net/http"

	"commentaryapp/internal/middleware"
	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	"commentaryapp/internal/services"
	contextutils "commentaryapp/internal/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// Runner runs one pipeline invocation
type Runner interface {
	RunOnce(ctx context.Context) (*models.ProcessResult, error)
}

// Requeuer puts questions back into the pending queue
type Requeuer interface {
	Requeue(ctx context.Context, ids []int64, statuses []models.CommentaryStatus) (int64, error)
}

// RequeueRequest selects questions by id, or by status when no ids are given
type RequeueRequest struct {
	IDs      []int64                   `json:"ids"`
	Statuses []models.CommentaryStatus `json:"statuses"`
}

// CommentaryHandler serves the pipeline invocation and its queue statistics
type CommentaryHandler struct {
	runner     Runner
	dispatcher services.DispatcherInterface
	requeuer   Requeuer
	logger     *observability.Logger
}

// NewCommentaryHandler creates a new CommentaryHandler
func NewCommentaryHandler(runner Runner, dispatcher services.DispatcherInterface, requeuer Requeuer, logger *observability.Logger) *CommentaryHandler {
	return &CommentaryHandler{runner: runner, dispatcher: dispatcher, requeuer: requeuer, logger: logger}
}

// Process runs one invocation synchronously. Settings and candidate query failures are 500s;
// everything else, including per-question failures, is a 200 with counts.
func (h *CommentaryHandler) Process(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "process_commentary")
	defer observability.FinishSpan(span, nil)

	result, err := h.runner.RunOnce(ctx)
	if err != nil {
		observability.SetSpanError(span, err)
		h.logger.Error(ctx, "Commentary invocation failed", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("commentary.run_id", result.RunID),
		attribute.Int("commentary.processed", result.Processed),
		attribute.Int("commentary.failed", result.Failed),
	)
	c.JSON(http.StatusOK, result)
}

// Stats returns status counts and stored output totals
func (h *CommentaryHandler) Stats(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "commentary_stats")
	defer observability.FinishSpan(span, nil)

	stats, err := h.dispatcher.Stats(ctx)
	if err != nil {
		middleware.HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Requeue resets selected questions to pending
func (h *CommentaryHandler) Requeue(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "requeue_commentary")
	defer observability.FinishSpan(span, nil)

	var req RequeueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Invalid request body",
			"",
			err,
		))
		return
	}
	if len(req.IDs) == 0 && len(req.Statuses) == 0 {
		middleware.HandleAppError(c, contextutils.NewAppError(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Either ids or statuses is required",
			"",
		))
		return
	}
	for _, st := range req.Statuses {
		if !st.Valid() {
			middleware.HandleAppError(c, contextutils.NewAppError(
				contextutils.ErrorCodeInvalidInput,
				contextutils.SeverityWarn,
				"Unknown status",
				string(st),
			))
			return
		}
	}

	affected, err := h.requeuer.Requeue(ctx, req.IDs, req.Statuses)
	if err != nil {
		middleware.HandleAppError(c, err)
		return
	}
	h.logger.Info(ctx, "Questions requeued", map[string]interface{}{
		"requeued": affected,
		"ids":      len(req.IDs),
	})
	c.JSON(http.StatusOK, gin.H{"requeued": affected})
}
