package services

import (
	"context"
	"database/sql"
	"errors"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// SettingsServiceInterface reads and writes the processing settings row
type SettingsServiceInterface interface {
	Load(ctx context.Context) (*models.ProcessingSettings, error)
	Update(ctx context.Context, settings *models.ProcessingSettings) error
}

// SettingsService stores ProcessingSettings in the singleton commentary_settings row
type SettingsService struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(db *sql.DB, logger *observability.Logger) *SettingsService {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &SettingsService{db: db, logger: logger}
}

// Load reads the settings row. Any failure is a configuration error that aborts the invocation.
func (s *SettingsService) Load(ctx context.Context) (result *models.ProcessingSettings, err error) {
	ctx, span := observability.TraceCommentaryFunction(ctx, "load_settings")
	defer observability.FinishSpan(span, &err)

	settings := &models.ProcessingSettings{}
	err = s.db.QueryRowContext(ctx, `
		SELECT feature_enabled, batch_size, processing_delay_minutes, providers_enabled, updated_at
		FROM commentary_settings WHERE id = 1
	`).Scan(&settings.FeatureEnabled, &settings.BatchSize, &settings.ProcessingDelayMinutes, &settings.ProvidersEnabled, &settings.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contextutils.WrapError(contextutils.ErrConfiguration, "processing settings row is missing")
	}
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrConfiguration, "failed to read processing settings: %w", err)
	}

	if err := contextutils.ValidateStruct(settings); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrConfiguration, "invalid processing settings: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("settings.feature_enabled", settings.FeatureEnabled),
		attribute.Int("settings.batch_size", settings.BatchSize),
		attribute.Int("settings.processing_delay_minutes", settings.ProcessingDelayMinutes),
	)
	return settings, nil
}

// Update validates and writes the settings row
func (s *SettingsService) Update(ctx context.Context, settings *models.ProcessingSettings) (err error) {
	ctx, span := observability.TraceCommentaryFunction(ctx, "update_settings")
	defer observability.FinishSpan(span, &err)

	if settings == nil {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "settings are required")
	}
	if err := contextutils.ValidateStruct(settings); err != nil {
		return contextutils.WrapErrorf(contextutils.ErrValidationFailed, "invalid processing settings: %w", err)
	}
	if settings.ProvidersEnabled == nil {
		settings.ProvidersEnabled = models.ProviderFlags{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commentary_settings (id, feature_enabled, batch_size, processing_delay_minutes, providers_enabled, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			feature_enabled = EXCLUDED.feature_enabled,
			batch_size = EXCLUDED.batch_size,
			processing_delay_minutes = EXCLUDED.processing_delay_minutes,
			providers_enabled = EXCLUDED.providers_enabled,
			updated_at = EXCLUDED.updated_at
	`, settings.FeatureEnabled, settings.BatchSize, settings.ProcessingDelayMinutes, settings.ProvidersEnabled)
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrPersistence, "failed to update processing settings: %w", err)
	}

	s.logger.Info(ctx, "Processing settings updated", map[string]interface{}{
		"feature_enabled":          settings.FeatureEnabled,
		"batch_size":               settings.BatchSize,
		"processing_delay_minutes": settings.ProcessingDelayMinutes,
	})
	return nil
}
