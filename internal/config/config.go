// Package config handles application configuration loading from YAML and environment variables.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	contextutils "commentaryapp/internal/utils"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable pointing at the YAML config file
const ConfigFileEnv = "COMMENTARY_CONFIG_FILE"

// Client kinds understood by the provider factory
const (
	ClientOpenAI           = "openai"
	ClientAnthropic        = "anthropic"
	ClientGoogle           = "google"
	ClientOllama           = "ollama"
	ClientOpenAICompatible = "openai_compatible"
)

// Fallback policies of a commentary slot
const (
	FallbackNone     = "none"
	FallbackAnyError = "any_error"
	FallbackQuota    = "quota"
)

// ProviderConfig defines the structure for a single concrete provider service
type ProviderConfig struct {
	Name            string    `json:"name" yaml:"name" validate:"required"`
	Code            string    `json:"code" yaml:"code" validate:"required"`
	Client          string    `json:"client" yaml:"client" validate:"required,oneof=openai anthropic google ollama openai_compatible"`
	URL             string    `json:"url,omitempty" yaml:"url,omitempty"`
	APIKeyEnv       string    `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	SupportsGrammar bool      `json:"supports_grammar,omitempty" yaml:"supports_grammar,omitempty"`
	Models          []AIModel `json:"models" yaml:"models"`
}

// AIModel represents an AI model configuration
type AIModel struct {
	Name      string `json:"name" yaml:"name"`
	Code      string `json:"code" yaml:"code"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// APIKey resolves the provider API key from its configured environment variable
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// MaxTokensFor returns the configured max tokens for a model code, or the given default
func (p ProviderConfig) MaxTokensFor(model string, def int) int {
	for _, m := range p.Models {
		if m.Code == model && m.MaxTokens > 0 {
			return m.MaxTokens
		}
	}
	return def
}

// ChainEntry is one concrete service of a slot's fallback chain
type ChainEntry struct {
	Provider string `json:"provider" yaml:"provider" validate:"required"`
	Model    string `json:"model" yaml:"model" validate:"required"`
}

// SlotConfig describes one logical commentary slot
type SlotConfig struct {
	Name          string       `json:"name" yaml:"name" validate:"required"`
	Fallback      string       `json:"fallback" yaml:"fallback" validate:"omitempty,oneof=none any_error quota"`
	MaxConcurrent int          `json:"max_concurrent" yaml:"max_concurrent" validate:"gte=0"`
	DelayMS       int          `json:"delay_ms" yaml:"delay_ms" validate:"gte=0"`
	Chain         []ChainEntry `json:"chain" yaml:"chain" validate:"required,min=1,dive"`
}

// CommentaryConfig holds the enrichment pipeline configuration
type CommentaryConfig struct {
	Slots          []SlotConfig  `json:"slots" yaml:"slots" validate:"required,min=1,dive"`
	Synthesis      SlotConfig    `json:"synthesis" yaml:"synthesis"`
	SubBatchSize   int           `json:"sub_batch_size" yaml:"sub_batch_size" validate:"gte=0"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	StuckTimeout   time.Duration `json:"stuck_timeout" yaml:"stuck_timeout"`
	PollInterval   time.Duration `json:"poll_interval" yaml:"poll_interval"`
	ErrorMarker    string        `json:"error_marker" yaml:"error_marker"`
	Placeholder    string        `json:"placeholder" yaml:"placeholder"`
	StartPaused    bool          `json:"start_paused" yaml:"start_paused"`
}

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// AI Providers and the commentary pipeline built on them
	Providers  []ProviderConfig `json:"providers" yaml:"providers" validate:"dive"`
	Commentary CommentaryConfig `json:"commentary" yaml:"commentary"`

	// OpenTelemetry Configuration
	OpenTelemetry OpenTelemetryConfig `json:"open_telemetry" yaml:"open_telemetry"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	WorkerPort      string   `json:"worker_port" yaml:"worker_port"`
	Debug           bool     `json:"debug" yaml:"debug"`
	LogLevel        string   `json:"log_level" yaml:"log_level"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins"`
	MaxHistory      int      `json:"max_history" yaml:"max_history"`
	MaxActivityLogs int      `json:"max_activity_logs" yaml:"max_activity_logs"`

	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// CircuitBreakerConfig makes the worker API answer 503 after repeated server errors
type CircuitBreakerConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Threshold int           `json:"threshold" yaml:"threshold"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// OpenTelemetryConfig holds all OpenTelemetry-related configuration
type OpenTelemetryConfig struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`               // Default: "localhost:4317"
	Protocol       string            `json:"protocol" yaml:"protocol"`               // "grpc" or "http"
	Insecure       bool              `json:"insecure" yaml:"insecure"`               // true for localhost collectors
	Headers        map[string]string `json:"headers" yaml:"headers"`                 // For authenticated endpoints
	ServiceName    string            `json:"service_name" yaml:"service_name"`       // "commentary-worker" or "commentary-admin"
	ServiceVersion string            `json:"service_version" yaml:"service_version"` // From version package
	EnableTracing  bool              `json:"enable_tracing" yaml:"enable_tracing"`
	EnableMetrics  bool              `json:"enable_metrics" yaml:"enable_metrics"`
	EnableLogging  bool              `json:"enable_logging" yaml:"enable_logging"`
	UseAutoSDK     bool              `json:"use_auto_sdk" yaml:"use_auto_sdk"`
	SamplingRate   float64           `json:"sampling_rate" yaml:"sampling_rate"` // Default: 1.0 (100%)
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `json:"url" yaml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// FindProvider returns the provider with the given code
func (c *Config) FindProvider(code string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Code == code {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// SlotNames returns the configured logical slot names in configuration order
func (c *Config) SlotNames() []string {
	names := make([]string, 0, len(c.Commentary.Slots))
	for _, s := range c.Commentary.Slots {
		names = append(names, s.Name)
	}
	return names
}

// NewConfig loads configuration from YAML file first, then overrides with environment variables
func NewConfig() (result0 *Config, err error) {
	config, err := loadConfigWithOverrides()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrConfiguration, "failed to load config: %w", err)
	}

	config.overrideFromEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks struct tags and cross references between slots and providers
func (c *Config) Validate() error {
	if err := contextutils.ValidateStruct(c); err != nil {
		return contextutils.WrapError(err, "invalid configuration")
	}

	seen := make(map[string]bool)
	slots := append([]SlotConfig{}, c.Commentary.Slots...)
	slots = append(slots, c.Commentary.Synthesis)
	for _, slot := range slots {
		if seen[slot.Name] {
			return contextutils.WrapErrorf(contextutils.ErrConfiguration, "duplicate commentary slot %q", slot.Name)
		}
		seen[slot.Name] = true

		if slot.Fallback == FallbackNone && len(slot.Chain) > 1 {
			return contextutils.WrapErrorf(contextutils.ErrConfiguration, "slot %q has fallback policy none but %d chain entries", slot.Name, len(slot.Chain))
		}
		for _, entry := range slot.Chain {
			if _, ok := c.FindProvider(entry.Provider); !ok {
				return contextutils.WrapErrorf(contextutils.ErrConfiguration, "slot %q references unknown provider %q", slot.Name, entry.Provider)
			}
		}
	}
	return nil
}

// applyDefaults fills zero values with the service defaults
func (c *Config) applyDefaults() {
	if c.Server.WorkerPort == "" {
		c.Server.WorkerPort = "8081"
	}
	if c.Server.MaxHistory <= 0 {
		c.Server.MaxHistory = DefaultMaxHistory
	}
	if c.Server.MaxActivityLogs <= 0 {
		c.Server.MaxActivityLogs = DefaultMaxActivityLogs
	}
	if c.Server.CircuitBreaker.Threshold <= 0 {
		c.Server.CircuitBreaker.Threshold = DefaultCircuitBreakerThreshold
	}
	if c.Server.CircuitBreaker.Timeout <= 0 {
		c.Server.CircuitBreaker.Timeout = CircuitBreakerOpenTimeout
	}

	cc := &c.Commentary
	if cc.SubBatchSize <= 0 {
		cc.SubBatchSize = DefaultSubBatchSize
	}
	if cc.RequestTimeout <= 0 {
		cc.RequestTimeout = ProviderRequestTimeout
	}
	if cc.StuckTimeout <= 0 {
		cc.StuckTimeout = StuckProcessingTimeout
	}
	if cc.PollInterval <= 0 {
		cc.PollInterval = WorkerPollInterval
	}
	if cc.ErrorMarker == "" {
		cc.ErrorMarker = DefaultErrorMarker
	}
	if cc.Placeholder == "" {
		cc.Placeholder = DefaultPlaceholder
	}
	for i := range cc.Slots {
		if cc.Slots[i].Fallback == "" {
			cc.Slots[i].Fallback = FallbackNone
		}
		if cc.Slots[i].MaxConcurrent <= 0 {
			cc.Slots[i].MaxConcurrent = DefaultSlotMaxConcurrent
		}
	}
	if cc.Synthesis.Name == "" {
		cc.Synthesis.Name = "synthesis"
	}
	if cc.Synthesis.Fallback == "" {
		cc.Synthesis.Fallback = FallbackNone
	}
	if cc.Synthesis.MaxConcurrent <= 0 {
		cc.Synthesis.MaxConcurrent = DefaultSlotMaxConcurrent
	}

	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = DatabaseConnMaxLifetime
	}
	if c.OpenTelemetry.SamplingRate <= 0 {
		c.OpenTelemetry.SamplingRate = 1.0
	}
}

// overrideFromEnv overrides config values with environment variables using reflection
func (c *Config) overrideFromEnv() {
	overrideStructFromEnvWithPrefix(c, "")
}

// overrideStructFromEnvWithPrefix recursively overrides struct fields with environment variables.
// The variable name is the upper-cased yaml tag path joined by underscores, e.g. DATABASE_URL.
func overrideStructFromEnvWithPrefix(v interface{}, prefix string) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		envKey := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
		if prefix != "" {
			envKey = prefix + "_" + envKey
		}

		// time.Duration is an int64 kind but is written as "30s" in env vars
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			if envVal := os.Getenv(envKey); envVal != "" {
				if d, err := time.ParseDuration(envVal); err == nil {
					field.SetInt(int64(d))
				}
			}
			continue
		}

		switch field.Kind() {
		case reflect.String:
			if envVal := os.Getenv(envKey); envVal != "" {
				field.SetString(envVal)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if intVal, err := strconv.ParseInt(envVal, 10, 64); err == nil {
					field.SetInt(intVal)
				}
			}
		case reflect.Float32, reflect.Float64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if floatVal, err := strconv.ParseFloat(envVal, 64); err == nil {
					field.SetFloat(floatVal)
				}
			}
		case reflect.Bool:
			if envVal := os.Getenv(envKey); envVal != "" {
				if boolVal, err := strconv.ParseBool(envVal); err == nil {
					field.SetBool(boolVal)
				}
			}
		case reflect.Slice:
			if envVal := os.Getenv(envKey); envVal != "" {
				if field.Type().Elem().Kind() == reflect.String {
					field.Set(reflect.ValueOf(strings.Split(envVal, ",")))
				}
			}
		case reflect.Struct:
			if field.CanAddr() {
				overrideStructFromEnvWithPrefix(field.Addr().Interface(), envKey)
			}
		}
	}
}

// loadConfigWithOverrides loads the config file named by COMMENTARY_CONFIG_FILE or ./config.yaml
func loadConfigWithOverrides() (result0 *Config, err error) {
	if envPath := os.Getenv(ConfigFileEnv); envPath != "" {
		config, err := loadConfigFromFile(envPath)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrConfiguration, "failed to load config from %s: %w", envPath, err)
		}
		return config, nil
	}

	return loadConfigFromFile("config.yaml")
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (result0 *Config, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
