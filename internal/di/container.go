// Package di provides the dependency injection container that assembles the commentary pipeline.
package di

import (
	"context"
	"database/sql"
	"sync"

	"commentaryapp/internal/config"
	"commentaryapp/internal/database"
	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	"commentaryapp/internal/services"
	"commentaryapp/internal/services/providers"
	contextutils "commentaryapp/internal/utils"
)

// Service names registered in the container
const (
	ServiceSettings   = "settings"
	ServiceStore      = "store"
	ServiceDispatcher = "dispatcher"
)

// ServiceContainer manages all service dependencies and lifecycle
type ServiceContainer struct {
	cfg           *config.Config
	logger        *observability.Logger
	dbManager     *database.Manager
	db            *sql.DB
	services      map[string]interface{}
	mu            sync.RWMutex
	shutdownFuncs []func(context.Context) error
}

// NewServiceContainer creates a new dependency injection container
func NewServiceContainer(cfg *config.Config, logger *observability.Logger) *ServiceContainer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &ServiceContainer{
		cfg:      cfg,
		logger:   logger,
		services: make(map[string]interface{}),
	}
}

// Initialize opens the database, applies migrations and builds the pipeline
func (sc *ServiceContainer) Initialize(ctx context.Context) error {
	return sc.open(ctx, true)
}

// InitializeWithoutMigrations opens the database as is and builds the pipeline.
// The admin CLI uses it so schema changes stay an explicit command.
func (sc *ServiceContainer) InitializeWithoutMigrations(ctx context.Context) error {
	return sc.open(ctx, false)
}

func (sc *ServiceContainer) open(ctx context.Context, migrate bool) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.dbManager = database.NewManager(sc.logger)
	var (
		db  *sql.DB
		err error
	)
	if migrate {
		db, err = sc.dbManager.InitDBWithConfig(sc.cfg.Database)
	} else {
		db, err = sc.dbManager.InitDBWithoutMigrations(sc.cfg.Database)
	}
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to initialize database")
	}
	sc.db = db
	sc.shutdownFuncs = append(sc.shutdownFuncs, func(_ context.Context) error {
		return db.Close()
	})

	if err := sc.initializeServices(ctx, db); err != nil {
		_ = sc.cleanup(ctx)
		return err
	}
	return nil
}

// InitializeWithDB builds the pipeline on an already opened connection
func (sc *ServiceContainer) InitializeWithDB(ctx context.Context, db *sql.DB) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.dbManager = database.NewManager(sc.logger)
	sc.db = db
	return sc.initializeServices(ctx, db)
}

// initializeServices sets up all service dependencies
func (sc *ServiceContainer) initializeServices(ctx context.Context, db *sql.DB) error {
	settings := services.NewSettingsService(db, sc.logger)
	sc.services[ServiceSettings] = settings

	store := services.NewCommentaryStore(db, sc.logger)
	sc.services[ServiceStore] = store

	templates, err := services.NewCommentaryTemplateManager()
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to load commentary templates")
	}
	tokens, err := services.NewTokenCounter()
	if err != nil {
		// prompt sizes fall back to a character estimate
		sc.logger.Warn(ctx, "Token counter unavailable", map[string]interface{}{"error": err.Error()})
	}
	metrics, err := observability.NewCommentaryMetrics()
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to create commentary metrics")
	}

	factory := providers.NewFactory(sc.cfg, sc.logger, metrics)
	built, err := factory.NewSlotChains()
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to build slot chains")
	}
	chains := make(map[models.LogicalSlot]services.SlotGenerator, len(built))
	for slot, chain := range built {
		chains[slot] = chain
		sc.logger.Debug(ctx, "Slot chain built", map[string]interface{}{
			"slot":     string(slot),
			"policy":   chain.Policy(),
			"services": chain.Services(),
		})
	}

	var synthesis services.SlotGenerator
	if len(sc.cfg.Commentary.Synthesis.Chain) > 0 {
		chain, err := factory.NewSlotChain(sc.cfg.Commentary.Synthesis)
		if err != nil {
			return contextutils.WrapErrorf(err, "failed to build synthesis chain")
		}
		synthesis = chain
	}

	dispatcher := services.NewDispatcher(sc.cfg.Commentary, services.DispatcherDeps{
		Settings:  settings,
		Store:     store,
		Templates: templates,
		Tokens:    tokens,
		Chains:    chains,
		Synthesis: synthesis,
		Metrics:   metrics,
		Logger:    sc.logger,
	})
	sc.services[ServiceDispatcher] = dispatcher

	sc.logger.Info(ctx, "Commentary pipeline initialized", map[string]interface{}{
		"slots":          sc.cfg.SlotNames(),
		"synthesis":      synthesis != nil,
		"sub_batch_size": sc.cfg.Commentary.SubBatchSize,
	})
	return nil
}

// GetService retrieves a service by name with type assertion
func (sc *ServiceContainer) GetService(name string) (interface{}, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	service, exists := sc.services[name]
	if !exists {
		return nil, contextutils.ErrorWithContextf("service %s not found", name)
	}
	return service, nil
}

// GetServiceAs performs type-safe service retrieval
func GetServiceAs[T any](sc *ServiceContainer, name string) (T, error) {
	var zero T
	service, err := sc.GetService(name)
	if err != nil {
		return zero, err
	}

	typed, ok := service.(T)
	if !ok {
		return zero, contextutils.ErrorWithContextf("service %s is not of expected type %T", name, zero)
	}
	return typed, nil
}

// GetSettingsService returns the processing settings service
func (sc *ServiceContainer) GetSettingsService() (services.SettingsServiceInterface, error) {
	return GetServiceAs[services.SettingsServiceInterface](sc, ServiceSettings)
}

// GetCommentaryStore returns the commentary store
func (sc *ServiceContainer) GetCommentaryStore() (*services.CommentaryStore, error) {
	return GetServiceAs[*services.CommentaryStore](sc, ServiceStore)
}

// GetDispatcher returns the pipeline dispatcher
func (sc *ServiceContainer) GetDispatcher() (*services.Dispatcher, error) {
	return GetServiceAs[*services.Dispatcher](sc, ServiceDispatcher)
}

// GetDatabase returns the database instance
func (sc *ServiceContainer) GetDatabase() *sql.DB {
	return sc.db
}

// GetDatabaseManager returns the migration-capable database manager, nil before any Initialize
func (sc *ServiceContainer) GetDatabaseManager() *database.Manager {
	return sc.dbManager
}

// GetConfig returns the configuration
func (sc *ServiceContainer) GetConfig() *config.Config {
	return sc.cfg
}

// GetLogger returns the logger
func (sc *ServiceContainer) GetLogger() *observability.Logger {
	return sc.logger
}

// Shutdown drains background work and closes the database
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.cleanup(ctx)
}

// cleanup drains the dispatcher's background tasks, then runs shutdown funcs in reverse order
func (sc *ServiceContainer) cleanup(ctx context.Context) error {
	var errs []error

	if d, ok := sc.services[ServiceDispatcher].(*services.Dispatcher); ok {
		if err := d.Wait(ctx); err != nil {
			sc.logger.Error(ctx, "Background status corrections did not finish", err, nil)
			errs = append(errs, err)
		}
	}

	for i := len(sc.shutdownFuncs) - 1; i >= 0; i-- {
		if err := sc.shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	sc.shutdownFuncs = nil

	if len(errs) > 0 {
		return contextutils.ErrorWithContextf("shutdown errors: %v", errs)
	}
	return nil
}
