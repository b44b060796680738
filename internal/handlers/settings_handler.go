package handlers

import (
	"net/http"

	"commentaryapp/internal/config"
	"commentaryapp/internal/middleware"
	"commentaryapp/internal/observability"
	"commentaryapp/internal/services"
	contextutils "commentaryapp/internal/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// SettingsUpdateRequest is a partial update of the processing settings.
// Nil fields keep their stored value; providers_enabled entries are merged.
type SettingsUpdateRequest struct {
	FeatureEnabled         *bool           `json:"feature_enabled"`
	BatchSize              *int            `json:"batch_size"`
	ProcessingDelayMinutes *int            `json:"processing_delay_minutes"`
	ProvidersEnabled       map[string]bool `json:"providers_enabled"`
}

func (r SettingsUpdateRequest) empty() bool {
	return r.FeatureEnabled == nil && r.BatchSize == nil && r.ProcessingDelayMinutes == nil && len(r.ProvidersEnabled) == 0
}

// SlotInfo describes one configured slot for operators
type SlotInfo struct {
	Name     string              `json:"name"`
	Fallback string              `json:"fallback"`
	Enabled  bool                `json:"enabled"`
	Chain    []config.ChainEntry `json:"chain"`
}

// SettingsHandler exposes the processing settings row and the slot layout
type SettingsHandler struct {
	settings services.SettingsServiceInterface
	cfg      *config.Config
	logger   *observability.Logger
}

// NewSettingsHandler creates a new SettingsHandler
func NewSettingsHandler(settings services.SettingsServiceInterface, cfg *config.Config, logger *observability.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, cfg: cfg, logger: logger}
}

// GetSettings returns the current processing settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_settings")
	defer observability.FinishSpan(span, nil)

	settings, err := h.settings.Load(ctx)
	if err != nil {
		middleware.HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings applies a partial update and returns the stored result
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "update_settings")
	defer observability.FinishSpan(span, nil)

	var req SettingsUpdateRequest
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
	if req.empty() {
		middleware.HandleAppError(c, contextutils.ErrInvalidInput)
		return
	}

	settings, err := h.settings.Load(ctx)
	if err != nil {
		middleware.HandleAppError(c, err)
		return
	}

	if req.FeatureEnabled != nil {
		settings.FeatureEnabled = *req.FeatureEnabled
		span.SetAttributes(attribute.Bool("settings.feature_enabled", settings.FeatureEnabled))
	}
	if req.BatchSize != nil {
		settings.BatchSize = *req.BatchSize
		span.SetAttributes(attribute.Int("settings.batch_size", settings.BatchSize))
	}
	if req.ProcessingDelayMinutes != nil {
		settings.ProcessingDelayMinutes = *req.ProcessingDelayMinutes
	}
	if len(req.ProvidersEnabled) > 0 {
		known := make(map[string]bool, len(h.cfg.Commentary.Slots))
		for _, name := range h.cfg.SlotNames() {
			known[name] = true
		}
		if settings.ProvidersEnabled == nil {
			settings.ProvidersEnabled = map[string]bool{}
		}
		for slot, enabled := range req.ProvidersEnabled {
			if !known[slot] {
				middleware.HandleAppError(c, contextutils.NewAppError(
					contextutils.ErrorCodeInvalidInput,
					contextutils.SeverityWarn,
					"Unknown slot",
					slot,
				))
				return
			}
			settings.ProvidersEnabled[slot] = enabled
		}
	}

	if err := h.settings.Update(ctx, settings); err != nil {
		middleware.HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// GetSlots lists the configured slots with their chains and current enabled flag
func (h *SettingsHandler) GetSlots(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_slots")
	defer observability.FinishSpan(span, nil)

	enabled := map[string]bool{}
	if settings, err := h.settings.Load(ctx); err == nil {
		enabled = settings.ProvidersEnabled
	} else {
		h.logger.Warn(ctx, "Failed to load settings for slot listing", map[string]interface{}{"error": err.Error()})
	}

	slots := make([]SlotInfo, 0, len(h.cfg.Commentary.Slots))
	for _, s := range h.cfg.Commentary.Slots {
		slots = append(slots, SlotInfo{Name: s.Name, Fallback: s.Fallback, Enabled: enabled[s.Name], Chain: s.Chain})
	}
	synth := h.cfg.Commentary.Synthesis
	c.JSON(http.StatusOK, gin.H{
		"slots":     slots,
		"synthesis": SlotInfo{Name: synth.Name, Fallback: synth.Fallback, Enabled: true, Chain: synth.Chain},
	})
}
