package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for Hydra. It supports three-layer
// configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("hydra"),
//	    WithPort(8080),
//	    WithManualNodes("localhost:11434", "10.0.0.5:11434"),
//	)
type Config struct {
	// Core configuration
	Name      string `json:"name" env:"HYDRA_NAME"`
	ID        string `json:"id" env:"HYDRA_ID"`
	Port      int    `json:"port" env:"HYDRA_PORT" default:"8080"`
	Address   string `json:"address" env:"HYDRA_ADDRESS"`
	Namespace string `json:"namespace" env:"HYDRA_NAMESPACE" default:"default"`

	// HTTP Server configuration
	HTTP HTTPConfig `json:"http"`

	// Node discovery configuration
	Discovery DiscoveryConfig `json:"discovery"`

	// Model routing configuration
	Models ModelsConfig `json:"models"`

	// Sampling defaults applied to every generate request unless overridden
	Sampling SamplingConfig `json:"sampling"`

	// Reasoning engine configuration
	Reasoning ReasoningConfig `json:"reasoning"`

	// Telemetry configuration (optional module)
	Telemetry TelemetryConfig `json:"telemetry"`

	// Memory configuration (narrow cache, not a persistence tier)
	Memory MemoryConfig `json:"memory"`

	// Resilience configuration
	Resilience ResilienceConfig `json:"resilience"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Development configuration
	Development DevelopmentConfig `json:"development"`

	// Preferences file path (spec §6 Persisted state layout)
	PreferencesPath string `json:"preferences_path" env:"HYDRA_PREFERENCES_PATH"`

	// Logger instance for configuration operations (excluded from JSON)
	logger Logger `json:"-"`
}

// HTTPConfig contains HTTP server configuration including timeouts, limits, and CORS settings.
type HTTPConfig struct {
	ReadTimeout       time.Duration `json:"read_timeout" env:"HYDRA_HTTP_READ_TIMEOUT" default:"30s"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"HYDRA_HTTP_READ_HEADER_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"HYDRA_HTTP_WRITE_TIMEOUT" default:"5m"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"HYDRA_HTTP_IDLE_TIMEOUT" default:"120s"`
	MaxHeaderBytes    int           `json:"max_header_bytes" env:"HYDRA_HTTP_MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"HYDRA_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	EnableHealthCheck bool          `json:"enable_health_check" env:"HYDRA_HTTP_HEALTH_CHECK" default:"true"`
	HealthCheckPath   string        `json:"health_check_path" env:"HYDRA_HTTP_HEALTH_PATH" default:"/health"`
	CORS              CORSConfig    `json:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration for the serve-api surface.
type CORSConfig struct {
	Enabled          bool     `json:"enabled" env:"HYDRA_CORS_ENABLED" default:"false"`
	AllowedOrigins   []string `json:"allowed_origins" env:"HYDRA_CORS_ORIGINS"`
	AllowedMethods   []string `json:"allowed_methods" env:"HYDRA_CORS_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `json:"allowed_headers" env:"HYDRA_CORS_HEADERS" default:"Content-Type,Authorization"`
	ExposedHeaders   []string `json:"exposed_headers" env:"HYDRA_CORS_EXPOSED_HEADERS"`
	AllowCredentials bool     `json:"allow_credentials" env:"HYDRA_CORS_CREDENTIALS" default:"false"`
	MaxAge           int      `json:"max_age" env:"HYDRA_CORS_MAX_AGE" default:"86400"`
}

// DiscoveryConfig controls how the Node Registry finds Ollama nodes (spec §4.3).
type DiscoveryConfig struct {
	Enabled          bool          `json:"enabled" env:"HYDRA_DISCOVERY_ENABLED" default:"true"`
	ManualNodes      []string      `json:"manual_nodes" env:"HYDRA_NODES"`
	NetworkScan      bool          `json:"network_scan" env:"HYDRA_DISCOVERY_SCAN" default:"false"`
	ScanCIDR         string        `json:"scan_cidr" env:"HYDRA_DISCOVERY_SCAN_CIDR"`
	ProbeInterval    time.Duration `json:"probe_interval" env:"HYDRA_DISCOVERY_PROBE_INTERVAL" default:"120s"`
	VRAMMonitoring   bool          `json:"vram_monitoring" env:"HYDRA_DISCOVERY_VRAM" default:"false"`
	RedisURL         string        `json:"redis_url" env:"HYDRA_REDIS_URL,REDIS_URL"`
	SharedRegistry   bool          `json:"shared_registry" env:"HYDRA_DISCOVERY_SHARED" default:"false"`
}

// ModelsConfig holds the model-preference lists the dispatcher and orchestrator
// route against (spec §4.6, §6 "Code model lists").
type ModelsConfig struct {
	LightModel     string   `json:"light_model" env:"HYDRA_LIGHT_MODEL" default:"llama3.2:3b"`
	HeavyModel     string   `json:"heavy_model" env:"HYDRA_HEAVY_MODEL" default:"llama3.1:70b"`
	MaxTokens      int      `json:"max_tokens" env:"HYDRA_MAX_TOKENS" default:"4096"`
	CodeModels     []string `json:"code_models" env:"HYDRA_CODE_MODELS" default:"qwen2.5-coder:32b,qwen2.5-coder:7b,codellama:13b"`
	GeneralModels  []string `json:"general_models" env:"HYDRA_GENERAL_MODELS" default:"llama3.1:70b,llama3.2:3b"`
	MathModel      string   `json:"math_model" env:"HYDRA_MATH_MODEL" default:"qwen2.5-math:7b"`
	ReasoningModel string   `json:"reasoning_model" env:"HYDRA_REASONING_MODEL" default:"deepseek-r1:32b"`
	EmbeddingModel string   `json:"embedding_model" env:"HYDRA_EMBEDDING_MODEL" default:"nomic-embed-text"`
	JSONModel      string   `json:"json_model" env:"HYDRA_JSON_MODEL" default:"llama3.2:3b"`
}

// SamplingConfig holds default sampling parameters (spec §6 "Sampling").
type SamplingConfig struct {
	Temperature   float32 `json:"temperature" env:"HYDRA_TEMPERATURE" default:"0.7"`
	TopP          float32 `json:"top_p" env:"HYDRA_TOP_P" default:"0.95"`
	RepeatPenalty float32 `json:"repeat_penalty" env:"HYDRA_REPEAT_PENALTY" default:"1.1"`
}

// ReasoningConfig holds the Reasoning Engine's defaults (spec §4.8, §6 "Reasoning").
type ReasoningConfig struct {
	Mode                  string  `json:"mode" env:"HYDRA_REASONING_MODE" default:"standard"`
	Style                 string  `json:"style" env:"HYDRA_REASONING_STYLE" default:"concise"`
	MaxThinkingTokens     int     `json:"max_thinking_tokens" env:"HYDRA_MAX_THINKING_TOKENS" default:"8000"`
	MaxCritiqueIterations int     `json:"max_critique_iterations" env:"HYDRA_MAX_CRITIQUE_ITERATIONS" default:"2"`
	UseReasoningModel     bool    `json:"use_reasoning_model" env:"HYDRA_USE_REASONING_MODEL" default:"false"`
	ShowThinking          bool    `json:"show_thinking" env:"HYDRA_SHOW_THINKING" default:"true"`
	DeepThinkingTokens    int     `json:"deep_thinking_tokens" env:"HYDRA_DEEP_THINKING_TOKENS" default:"32000"`
	DeepThinkingIterations int    `json:"deep_thinking_iterations" env:"HYDRA_DEEP_THINKING_ITERATIONS" default:"3"`
	DeepThinkingThreshold float64 `json:"deep_thinking_threshold" env:"HYDRA_DEEP_THINKING_THRESHOLD" default:"8.0"`
}

// TelemetryConfig contains observability configuration for metrics and distributed tracing.
type TelemetryConfig struct {
	Enabled        bool    `json:"enabled" env:"HYDRA_TELEMETRY_ENABLED" default:"false"`
	Provider       string  `json:"provider" env:"HYDRA_TELEMETRY_PROVIDER" default:"otel"`
	Endpoint       string  `json:"endpoint" env:"HYDRA_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName    string  `json:"service_name" env:"HYDRA_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	MetricsEnabled bool    `json:"metrics_enabled" env:"HYDRA_TELEMETRY_METRICS" default:"true"`
	TracingEnabled bool    `json:"tracing_enabled" env:"HYDRA_TELEMETRY_TRACING" default:"true"`
	SamplingRate   float64 `json:"sampling_rate" env:"HYDRA_TELEMETRY_SAMPLING_RATE" default:"1.0"`
	Insecure       bool    `json:"insecure" env:"HYDRA_TELEMETRY_INSECURE" default:"true"`
}

// MemoryConfig contains the narrow cache used to memoize cheap, deterministic
// lookups (e.g. complexity classification at temperature 0).
type MemoryConfig struct {
	Provider        string        `json:"provider" env:"HYDRA_MEMORY_PROVIDER" default:"inmemory"`
	RedisURL        string        `json:"redis_url" env:"HYDRA_MEMORY_REDIS_URL,REDIS_URL"`
	MaxSize         int           `json:"max_size" env:"HYDRA_MEMORY_MAX_SIZE" default:"1000"`
	DefaultTTL      time.Duration `json:"default_ttl" env:"HYDRA_MEMORY_DEFAULT_TTL" default:"1h"`
	CleanupInterval time.Duration `json:"cleanup_interval" env:"HYDRA_MEMORY_CLEANUP_INTERVAL" default:"10m"`
}

// ResilienceConfig contains fault tolerance configuration for the Pool Facade.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
	Timeout        TimeoutConfig        `json:"timeout"`
}

// CircuitBreakerConfig defines per-node circuit breaker settings (spec §4.5).
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" env:"HYDRA_CB_ENABLED" default:"true"`
	Threshold        int           `json:"threshold" env:"HYDRA_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" env:"HYDRA_CB_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `json:"half_open_requests" env:"HYDRA_CB_HALF_OPEN" default:"3"`
}

// RetryConfig defines failover retry settings (spec §7 TransportError policy).
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" env:"HYDRA_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `json:"initial_interval" env:"HYDRA_RETRY_INITIAL_INTERVAL" default:"250ms"`
	MaxInterval     time.Duration `json:"max_interval" env:"HYDRA_RETRY_MAX_INTERVAL" default:"5s"`
	Multiplier      float64       `json:"multiplier" env:"HYDRA_RETRY_MULTIPLIER" default:"2.0"`
}

// TimeoutConfig defines timeout settings for various operations.
type TimeoutConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" env:"HYDRA_TIMEOUT_DEFAULT" default:"60s"`
	MaxTimeout     time.Duration `json:"max_timeout" env:"HYDRA_TIMEOUT_MAX" default:"10m"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" env:"HYDRA_LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"HYDRA_LOG_FORMAT" default:"json"`
	Output     string `json:"output" env:"HYDRA_LOG_OUTPUT" default:"stdout"`
	TimeFormat string `json:"time_format" env:"HYDRA_LOG_TIME_FORMAT" default:"2006-01-02T15:04:05.999999999Z07:00"`
}

// DevelopmentConfig contains settings for local development and testing.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"HYDRA_DEV_MODE" default:"false"`
	MockNodes    bool `json:"mock_nodes" env:"HYDRA_MOCK_NODES" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"HYDRA_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" env:"HYDRA_PRETTY_LOGS" default:"false"`
}

// Option is a functional option for configuring Hydra.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults for a single
// local node. These defaults can be overridden using functional options or
// environment variables.
func DefaultConfig() *Config {
	cfg := &Config{
		Name:      "hydra",
		Port:      8080,
		Address:   "localhost",
		Namespace: "default",
		HTTP: HTTPConfig{
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			ShutdownTimeout:   10 * time.Second,
			EnableHealthCheck: true,
			HealthCheckPath:   "/health",
			CORS: CORSConfig{
				Enabled:          false,
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Content-Type", "Authorization"},
				AllowCredentials: false,
				MaxAge:           86400,
			},
		},
		Discovery: DiscoveryConfig{
			Enabled:        true,
			ManualNodes:    []string{"localhost:11434"},
			NetworkScan:    false,
			ProbeInterval:  120 * time.Second,
			VRAMMonitoring: false,
		},
		Models: ModelsConfig{
			LightModel:     "llama3.2:3b",
			HeavyModel:     "llama3.1:70b",
			MaxTokens:      4096,
			CodeModels:     []string{"qwen2.5-coder:32b", "qwen2.5-coder:7b", "codellama:13b"},
			GeneralModels:  []string{"llama3.1:70b", "llama3.2:3b"},
			MathModel:      "qwen2.5-math:7b",
			ReasoningModel: "deepseek-r1:32b",
			EmbeddingModel: "nomic-embed-text",
			JSONModel:      "llama3.2:3b",
		},
		Sampling: SamplingConfig{
			Temperature:   0.7,
			TopP:          0.95,
			RepeatPenalty: 1.1,
		},
		Reasoning: ReasoningConfig{
			Mode:                   "standard",
			Style:                  "concise",
			MaxThinkingTokens:      8000,
			MaxCritiqueIterations:  2,
			UseReasoningModel:      false,
			ShowThinking:           true,
			DeepThinkingTokens:     32000,
			DeepThinkingIterations: 3,
			DeepThinkingThreshold:  8.0,
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Provider:       "otel",
			MetricsEnabled: true,
			TracingEnabled: true,
			SamplingRate:   1.0,
			Insecure:       true,
		},
		Memory: MemoryConfig{
			Provider:        "inmemory",
			MaxSize:         1000,
			DefaultTTL:      1 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				Threshold:        5,
				Timeout:          30 * time.Second,
				HalfOpenRequests: 3,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 250 * time.Millisecond,
				MaxInterval:     5 * time.Second,
				Multiplier:      2.0,
			},
			Timeout: TimeoutConfig{
				DefaultTimeout: 60 * time.Second,
				MaxTimeout:     10 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339Nano,
		},
		Development: DevelopmentConfig{
			Enabled:      false,
			MockNodes:    false,
			DebugLogging: false,
			PrettyLogs:   false,
		},
	}

	cfg.PreferencesPath = defaultPreferencesPath()
	cfg.DetectEnvironment()

	return cfg
}

// defaultPreferencesPath returns "~/.hydra/user_preferences.json" (spec §6
// "Preferences file"), falling back to the current directory if the home
// directory cannot be resolved.
func defaultPreferencesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hydra/user_preferences.json"
	}
	return filepath.Join(home, ".hydra", "user_preferences.json")
}

// DetectEnvironment adjusts configuration based on whether development mode
// is active. Hydra targets locally-hosted inference nodes and has no
// container-orchestration-specific defaults to special-case.
func (c *Config) DetectEnvironment() {
	if os.Getenv("HYDRA_DEV_MODE") == "" {
		c.Development.Enabled = true
		c.Development.PrettyLogs = true
		c.Logging.Format = "text"
	}
}

// LoadFromEnv loads configuration from environment variables and validates the result.
// Variable naming convention: Hydra-specific settings use HYDRA_<SETTING>;
// REDIS_URL and OTEL_* are honored as standard fallbacks.
func (c *Config) LoadFromEnv() error {
	if c.logger != nil {
		c.logger.Info("Loading configuration from environment", map[string]interface{}{
			"config_source": "environment_variables",
		})
	}

	if v := os.Getenv("HYDRA_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("HYDRA_ID"); v != "" {
		c.ID = v
	}
	if v := os.Getenv("HYDRA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		} else if c.logger != nil {
			c.logger.Warn("Invalid port in environment variable", map[string]interface{}{
				"HYDRA_PORT": v,
				"error":      err,
			})
		}
	}
	if v := os.Getenv("HYDRA_ADDRESS"); v != "" {
		c.Address = v
	}
	if v := os.Getenv("HYDRA_NAMESPACE"); v != "" {
		c.Namespace = v
	}

	// HTTP settings
	if v := os.Getenv("HYDRA_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("HYDRA_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.WriteTimeout = d
		}
	}

	// CORS settings
	if v := os.Getenv("HYDRA_CORS_ENABLED"); v != "" {
		c.HTTP.CORS.Enabled = parseBool(v)
	}
	if v := os.Getenv("HYDRA_CORS_ORIGINS"); v != "" {
		c.HTTP.CORS.AllowedOrigins = parseStringList(v)
	}
	if v := os.Getenv("HYDRA_CORS_METHODS"); v != "" {
		c.HTTP.CORS.AllowedMethods = parseStringList(v)
	}
	if v := os.Getenv("HYDRA_CORS_HEADERS"); v != "" {
		c.HTTP.CORS.AllowedHeaders = parseStringList(v)
	}
	if v := os.Getenv("HYDRA_CORS_CREDENTIALS"); v != "" {
		c.HTTP.CORS.AllowCredentials = parseBool(v)
	}

	// Discovery settings
	if v := os.Getenv("HYDRA_DISCOVERY_ENABLED"); v != "" {
		c.Discovery.Enabled = parseBool(v)
	}
	if v := os.Getenv("HYDRA_NODES"); v != "" {
		c.Discovery.ManualNodes = parseStringList(v)
	}
	if v := os.Getenv("HYDRA_DISCOVERY_SCAN"); v != "" {
		c.Discovery.NetworkScan = parseBool(v)
	}
	if v := os.Getenv("HYDRA_DISCOVERY_SCAN_CIDR"); v != "" {
		c.Discovery.ScanCIDR = v
	}
	if v := os.Getenv("HYDRA_DISCOVERY_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Discovery.ProbeInterval = d
		}
	}
	if v := os.Getenv("HYDRA_DISCOVERY_VRAM"); v != "" {
		c.Discovery.VRAMMonitoring = parseBool(v)
	}
	if v := os.Getenv("HYDRA_REDIS_URL"); v != "" {
		c.Discovery.RedisURL = v
		c.Memory.RedisURL = v
		c.Discovery.SharedRegistry = true
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Discovery.RedisURL = v
		c.Memory.RedisURL = v
		c.Discovery.SharedRegistry = true
	}

	// Model routing settings
	if v := os.Getenv("HYDRA_LIGHT_MODEL"); v != "" {
		c.Models.LightModel = v
	}
	if v := os.Getenv("HYDRA_HEAVY_MODEL"); v != "" {
		c.Models.HeavyModel = v
	}
	if v := os.Getenv("HYDRA_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Models.MaxTokens = n
		}
	}
	if v := os.Getenv("HYDRA_CODE_MODELS"); v != "" {
		c.Models.CodeModels = parseStringList(v)
	}
	if v := os.Getenv("HYDRA_GENERAL_MODELS"); v != "" {
		c.Models.GeneralModels = parseStringList(v)
	}
	if v := os.Getenv("HYDRA_MATH_MODEL"); v != "" {
		c.Models.MathModel = v
	}
	if v := os.Getenv("HYDRA_REASONING_MODEL"); v != "" {
		c.Models.ReasoningModel = v
	}
	if v := os.Getenv("HYDRA_EMBEDDING_MODEL"); v != "" {
		c.Models.EmbeddingModel = v
	}
	if v := os.Getenv("HYDRA_JSON_MODEL"); v != "" {
		c.Models.JSONModel = v
	}

	// Sampling settings
	if v := os.Getenv("HYDRA_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.Sampling.Temperature = float32(f)
		}
	}
	if v := os.Getenv("HYDRA_TOP_P"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.Sampling.TopP = float32(f)
		}
	}
	if v := os.Getenv("HYDRA_REPEAT_PENALTY"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.Sampling.RepeatPenalty = float32(f)
		}
	}

	// Reasoning settings
	if v := os.Getenv("HYDRA_REASONING_MODE"); v != "" {
		c.Reasoning.Mode = v
	}
	if v := os.Getenv("HYDRA_REASONING_STYLE"); v != "" {
		c.Reasoning.Style = v
	}
	if v := os.Getenv("HYDRA_MAX_THINKING_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Reasoning.MaxThinkingTokens = n
		}
	}
	if v := os.Getenv("HYDRA_MAX_CRITIQUE_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Reasoning.MaxCritiqueIterations = n
		}
	}
	if v := os.Getenv("HYDRA_USE_REASONING_MODEL"); v != "" {
		c.Reasoning.UseReasoningModel = parseBool(v)
	}
	if v := os.Getenv("HYDRA_SHOW_THINKING"); v != "" {
		c.Reasoning.ShowThinking = parseBool(v)
	}
	if v := os.Getenv("HYDRA_DEEP_THINKING_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Reasoning.DeepThinkingTokens = n
		}
	}
	if v := os.Getenv("HYDRA_DEEP_THINKING_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Reasoning.DeepThinkingIterations = n
		}
	}
	if v := os.Getenv("HYDRA_DEEP_THINKING_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Reasoning.DeepThinkingThreshold = f
		}
	}

	// Telemetry settings
	if v := os.Getenv("HYDRA_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("HYDRA_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("HYDRA_TELEMETRY_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.Name
	}

	// Memory settings
	if v := os.Getenv("HYDRA_MEMORY_PROVIDER"); v != "" {
		c.Memory.Provider = v
	}
	if v := os.Getenv("HYDRA_MEMORY_REDIS_URL"); v != "" {
		c.Memory.RedisURL = v
	}

	// Preferences path
	if v := os.Getenv("HYDRA_PREFERENCES_PATH"); v != "" {
		c.PreferencesPath = v
	}

	// Logging settings
	if v := os.Getenv("HYDRA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HYDRA_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	// Development settings
	if v := os.Getenv("HYDRA_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Development.PrettyLogs = true
			c.Logging.Level = "debug"
			c.Logging.Format = "text"
		}
	}
	if v := os.Getenv("HYDRA_MOCK_NODES"); v != "" {
		c.Development.MockNodes = parseBool(v)
	}
	if v := os.Getenv("HYDRA_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}

	if err := c.Validate(); err != nil {
		if c.logger != nil {
			c.logger.Error("Configuration validation failed", map[string]interface{}{
				"error":         err.Error(),
				"config_source": "environment_variables",
			})
		}
		return err
	}

	if c.logger != nil {
		c.logger.Info("Configuration loading completed", map[string]interface{}{
			"discovery_enabled": c.Discovery.Enabled,
			"logging_level":     c.Logging.Level,
			"namespace":         c.Namespace,
			"development_mode":  c.Development.Enabled,
		})
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file. File settings
// override environment variables but are overridden by functional options.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(filepath.Clean(cleanPath)) // nosec G304 -- path is validated
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
// This method is called automatically by NewConfig() but can also be called
// manually after modifying configuration.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &HydraError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid port: %d", c.Port),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Name == "" {
		return &HydraError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "name is required",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return &HydraError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required when telemetry is enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Discovery.SharedRegistry && c.Discovery.RedisURL == "" {
		return &HydraError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "redis URL is required when shared registry is enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	if !c.Discovery.NetworkScan && len(c.Discovery.ManualNodes) == 0 && !c.Development.MockNodes {
		return &HydraError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "at least one manual node or network scan must be configured",
			Err:     ErrMissingConfiguration,
		}
	}

	return nil
}

// Helper functions

// parseStringList splits a comma-separated string into a slice of strings.
func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseBool converts a string to a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the Hydra instance name, used for identification in logging
// and (when a shared registry is enabled) in the Redis-backed node registry.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithPort sets the HTTP server port for the serve-api surface.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return &HydraError{
				Op:      "WithPort",
				Kind:    "config",
				Message: fmt.Sprintf("invalid port: %d", port),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Port = port
		return nil
	}
}

// WithAddress sets the bind address for the HTTP server.
func WithAddress(address string) Option {
	return func(c *Config) error {
		c.Address = address
		return nil
	}
}

// WithNamespace sets the logical namespace, used for multi-tenancy separation.
func WithNamespace(namespace string) Option {
	return func(c *Config) error {
		c.Namespace = namespace
		return nil
	}
}

// WithCORS enables CORS with specific allowed origins.
func WithCORS(origins []string, credentials bool) Option {
	return func(c *Config) error {
		c.HTTP.CORS.Enabled = true
		c.HTTP.CORS.AllowedOrigins = origins
		c.HTTP.CORS.AllowCredentials = credentials
		return nil
	}
}

// WithManualNodes configures the Node Registry with an explicit list of
// "host:port" addresses, disabling the need for network scanning.
func WithManualNodes(nodes ...string) Option {
	return func(c *Config) error {
		c.Discovery.Enabled = true
		c.Discovery.ManualNodes = nodes
		return nil
	}
}

// WithNetworkScan enables CIDR-range discovery of Ollama nodes (spec §4.3).
func WithNetworkScan(cidr string) Option {
	return func(c *Config) error {
		c.Discovery.Enabled = true
		c.Discovery.NetworkScan = true
		c.Discovery.ScanCIDR = cidr
		return nil
	}
}

// WithRedisURL sets the Redis connection URL for the shared node registry and
// memory cache, and enables the shared registry.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Discovery.RedisURL = url
		c.Memory.RedisURL = url
		c.Discovery.SharedRegistry = true
		return nil
	}
}

// WithProbeInterval sets the Health Monitor's probe cadence.
func WithProbeInterval(interval time.Duration) Option {
	return func(c *Config) error {
		c.Discovery.ProbeInterval = interval
		return nil
	}
}

// WithModels sets the light and heavy orchestration models.
func WithModels(light, heavy string) Option {
	return func(c *Config) error {
		c.Models.LightModel = light
		c.Models.HeavyModel = heavy
		return nil
	}
}

// WithCodeModels sets the preference-ordered code model chain used by the
// dispatcher for code-classified tasks.
func WithCodeModels(models ...string) Option {
	return func(c *Config) error {
		c.Models.CodeModels = models
		return nil
	}
}

// WithSampling sets the default sampling parameters.
func WithSampling(temperature, topP, repeatPenalty float32) Option {
	return func(c *Config) error {
		c.Sampling.Temperature = temperature
		c.Sampling.TopP = topP
		c.Sampling.RepeatPenalty = repeatPenalty
		return nil
	}
}

// WithReasoningMode sets the default reasoning mode and style (spec §4.8).
func WithReasoningMode(mode, style string) Option {
	return func(c *Config) error {
		c.Reasoning.Mode = mode
		c.Reasoning.Style = style
		return nil
	}
}

// WithTelemetry enables telemetry with the specified OTLP endpoint.
func WithTelemetry(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.Endpoint = endpoint
		if c.Telemetry.ServiceName == "" {
			c.Telemetry.ServiceName = c.Name
		}
		return nil
	}
}

// WithOTELEndpoint sets the OpenTelemetry endpoint and automatically enables telemetry.
func WithOTELEndpoint(endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Provider = "otel"
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithLogLevel sets the minimum logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the logging output format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithCircuitBreaker enables the circuit breaker pattern for the Pool Facade.
func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.CircuitBreaker.Enabled = true
		c.Resilience.CircuitBreaker.Threshold = threshold
		c.Resilience.CircuitBreaker.Timeout = timeout
		return nil
	}
}

// WithRetry configures failover retry with exponential backoff.
func WithRetry(maxAttempts int, initialInterval time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.Retry.MaxAttempts = maxAttempts
		c.Resilience.Retry.InitialInterval = initialInterval
		return nil
	}
}

// WithPreferencesPath overrides the default "~/.hydra/user_preferences.json" path.
func WithPreferencesPath(path string) Option {
	return func(c *Config) error {
		c.PreferencesPath = path
		return nil
	}
}

// WithConfigFile loads configuration from a JSON or YAML file at the point
// in the option list where it appears, so options after it can override
// file settings and options before it are overridden by the file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithDevelopmentMode enables development mode with developer-friendly defaults.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Development.PrettyLogs = true
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

// WithMockNodes enables an in-memory mock node pool for testing, bypassing
// real network discovery and HTTP calls to Ollama nodes.
func WithMockNodes(enabled bool) Option {
	return func(c *Config) error {
		c.Development.MockNodes = enabled
		return nil
	}
}

// WithLogger sets a logger for configuration operations. If not set,
// configuration operations are performed silently until NewConfig()
// constructs the default ProductionLogger.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig creates a new configuration with the provided options.
// Configuration is applied in the following order:
//  1. Default values from DefaultConfig()
//  2. Environment variables via LoadFromEnv()
//  3. Functional options (highest priority)
//  4. Validation via Validate()
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		logger := NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)
		if prodLogger, ok := logger.(*ProductionLogger); ok {
			trackLogger(prodLogger)
		}
		cfg.logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ============================================================================
// ProductionLogger Implementation
// ============================================================================

// ProductionLogger provides structured logging for Hydra's components, with
// an optional metrics layer enabled once telemetry is wired up.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer
	component   string

	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:          strings.ToLower(logging.Level),
		debug:          dev.DebugLogging || logging.Level == "debug",
		serviceName:    serviceName,
		format:         logging.Format,
		output:         output,
		component:      "hydra",
		metricsEnabled: false,
	}
}

// GetComponent returns the logger's default component tag. Loggers
// returned from WithComponent carry their own component via
// componentLogger.GetComponent instead.
func (p *ProductionLogger) GetComponent() string {
	return p.component
}

// EnableMetrics is called by the telemetry package once OTel is wired up.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

// WithComponent returns a Logger that tags every entry with the given
// component name (e.g. "hydra/router", "hydra/pool").
func (p *ProductionLogger) WithComponent(name string) Logger {
	return &componentLogger{parent: p, component: name}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	p.logEventComponent(level, p.component, msg, fields, ctx)
}

func (p *ProductionLogger) logEventComponent(level, component, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": component,
			"message":   msg,
		}

		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); len(baggage) > 0 {
				for k, v := range baggage {
					logEntry["trace."+k] = v
				}
			}
		}

		for k, v := range fields {
			logEntry[k] = v
		}

		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		traceInfo := ""
		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); baggage["request_id"] != "" {
				traceInfo = fmt.Sprintf("[req=%s] ", baggage["request_id"])
			}
		}

		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s%s\n",
			timestamp, level, p.serviceName, component, traceInfo, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitHydraMetric(level, component, fields, ctx)
	}
}

func (p *ProductionLogger) emitHydraMetric(level, component string, fields map[string]interface{}, ctx context.Context) {
	labels := []string{
		"level", level,
		"service", p.serviceName,
		"component", component,
	}

	for k, v := range fields {
		switch k {
		case "operation", "status", "error_type", "node_id", "mode":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}

	if ctx != nil {
		emitMetricWithContext(ctx, "hydra.operations", 1.0, labels...)
	} else {
		emitMetric("hydra.operations", 1.0, labels...)
	}
}

// componentLogger is a thin Logger wrapper that tags every entry with a
// fixed component name, returned by ProductionLogger.WithComponent.
type componentLogger struct {
	parent    *ProductionLogger
	component string
}

func (c *componentLogger) Info(msg string, fields map[string]interface{}) {
	c.parent.logEventComponent("INFO", c.component, msg, fields, nil)
}

func (c *componentLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.parent.logEventComponent("INFO", c.component, msg, fields, ctx)
}

func (c *componentLogger) Error(msg string, fields map[string]interface{}) {
	c.parent.logEventComponent("ERROR", c.component, msg, fields, nil)
}

func (c *componentLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.parent.logEventComponent("ERROR", c.component, msg, fields, ctx)
}

func (c *componentLogger) Warn(msg string, fields map[string]interface{}) {
	c.parent.logEventComponent("WARN", c.component, msg, fields, nil)
}

func (c *componentLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.parent.logEventComponent("WARN", c.component, msg, fields, ctx)
}

func (c *componentLogger) Debug(msg string, fields map[string]interface{}) {
	if c.parent.debug {
		c.parent.logEventComponent("DEBUG", c.component, msg, fields, nil)
	}
}

func (c *componentLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if c.parent.debug {
		c.parent.logEventComponent("DEBUG", c.component, msg, fields, ctx)
	}
}

// GetComponent returns the component name this logger tags every entry
// with.
func (c *componentLogger) GetComponent() string {
	return c.component
}

// WithComponent re-tags the logger, sharing the same parent.
func (c *componentLogger) WithComponent(name string) Logger {
	return &componentLogger{parent: c.parent, component: name}
}

// Helper functions for weak coupling to telemetry
func emitMetric(name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter(name, labels...)
	}
}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.EmitWithContext(ctx, name, value, labels...)
	}
}

func getContextBaggage(ctx context.Context) map[string]string {
	if globalMetricsRegistry != nil {
		return globalMetricsRegistry.GetBaggage(ctx)
	}
	return make(map[string]string)
}
