package handlers

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"

	"commentaryapp/internal/config"
	"commentaryapp/internal/middleware"
	"commentaryapp/internal/observability"
	"commentaryapp/internal/services"
	"commentaryapp/internal/version"
)

// ServiceName identifies the worker in traces and the version endpoint
const ServiceName = "commentary-worker"

// RouterDeps are the collaborators the worker routes are served from
type RouterDeps struct {
	Runner     Runner
	Dispatcher services.DispatcherInterface
	Limiters   LimiterReporter
	Requeuer   Requeuer
	Settings   services.SettingsServiceInterface
	Worker     WorkerControl
}

// NewRouter builds the worker's gin engine with its middleware and routes
func NewRouter(cfg *config.Config, deps RouterDeps, logger *observability.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	breaker := cfg.Server.CircuitBreaker
	router.Use(middleware.ErrorRecoveryMiddleware(logger, &middleware.ErrorRecoveryConfig{
		EnableCircuitBreaker:    breaker.Enabled,
		CircuitBreakerThreshold: breaker.Threshold,
		CircuitBreakerTimeout:   breaker.Timeout,
	}))
	router.Use(middleware.RequestLogger(logger))

	// Health check endpoint (defined before tracing so probes do not create spans)
	router.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ServiceName})
	})

	router.Use(observability.GinMiddlewareWithErrorHandling(ServiceName)...)

	// Disable automatic redirection for trailing slashes, which is better for APIs
	router.RedirectTrailingSlash = false

	if len(cfg.Server.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
		corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
		router.Use(cors.New(corsConfig))
	}

	secureConfig := secure.DefaultConfig()
	secureConfig.SSLRedirect = false
	secureConfig.IsDevelopment = cfg.Server.Debug
	secureConfig.ContentSecurityPolicy = config.DefaultCSP
	router.Use(secure.New(secureConfig))

	commentaryHandler := NewCommentaryHandler(deps.Runner, deps.Dispatcher, deps.Requeuer, logger)
	settingsHandler := NewSettingsHandler(deps.Settings, cfg, logger)
	workerAdminHandler := NewWorkerAdminHandler(deps.Worker, deps.Limiters, logger)

	v1 := router.Group("/v1")
	{
		v1.GET("/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, version.Get(ServiceName))
		})

		commentary := v1.Group("/commentary")
		{
			commentary.POST("/process", commentaryHandler.Process)
			commentary.GET("/stats", commentaryHandler.Stats)
			commentary.POST("/requeue", commentaryHandler.Requeue)
			commentary.GET("/settings", settingsHandler.GetSettings)
			commentary.PUT("/settings", settingsHandler.UpdateSettings)
			commentary.GET("/slots", settingsHandler.GetSlots)
		}

		workerAdmin := v1.Group("/admin/worker")
		{
			workerAdmin.GET("/status", workerAdminHandler.GetWorkerStatus)
			workerAdmin.GET("/history", workerAdminHandler.GetWorkerHistory)
			workerAdmin.GET("/logs", workerAdminHandler.GetActivityLogs)
			workerAdmin.POST("/trigger", workerAdminHandler.TriggerWorkerRun)
			workerAdmin.POST("/pause", workerAdminHandler.PauseWorker)
			workerAdmin.POST("/resume", workerAdminHandler.ResumeWorker)
		}
	}

	return router
}
