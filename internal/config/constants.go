package config

import "time"

// Timeout constants
const (
	// HTTP timeouts
	DefaultHTTPTimeout    = 60 * time.Second
	WorkerShutdownTimeout = 30 * time.Second

	// Provider timeouts
	ProviderRequestTimeout = 60 * time.Second

	// Database timeouts
	DatabaseConnMaxLifetime = 5 * time.Minute

	// A question left in processing longer than this is reclaimed
	StuckProcessingTimeout = 30 * time.Minute

	// Default interval between worker runs
	WorkerPollInterval = 5 * time.Minute

	// Upper bound for one fire-and-forget status correction
	BackgroundTaskTimeout = 30 * time.Second

	// How long an open circuit rejects requests before letting one through
	CircuitBreakerOpenTimeout = 30 * time.Second
)

// Batch and size constants
const (
	// Questions processed concurrently inside one invocation
	DefaultSubBatchSize = 3

	// Concurrent requests per slot when the slot does not set one
	DefaultSlotMaxConcurrent = 1

	DefaultMaxTokens       = 2048
	DefaultMaxHistory      = 50
	DefaultMaxActivityLogs = 200

	// Consecutive 5xx responses before the worker API starts answering 503
	DefaultCircuitBreakerThreshold = 5
)

// Commentary text constants
const (
	// Commentary containing this marker is regenerated on the next run
	DefaultErrorMarker = "Fehler:"

	DefaultPlaceholder = "Kein Kommentar verfügbar."
)

// Security configuration constants
const (
	DefaultCSP = "default-src 'none'; frame-ancestors 'none';"
)
