// Package config loads the process configuration: a layered viper setup
// (defaults → file → environment) with every tunable of the synthesis core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/mockforge/mockforge/internal/domain/entity"
)

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Context    ContextConfig    `mapstructure:"context"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Ingress    IngressConfig    `mapstructure:"ingress"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	Push       PushConfig       `mapstructure:"push"`
	Management ManagementConfig `mapstructure:"management"`
	Sanitize   SanitizeConfig   `mapstructure:"sanitize"`
	Specs      SpecsConfig      `mapstructure:"specs"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig covers the HTTP listener and the mock surface.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Mode            string `mapstructure:"mode"` // debug, release
	Prefix          string `mapstructure:"prefix"`
	MaxRequestBytes int64  `mapstructure:"max_request_bytes"`

	// Pre-response random delay range (milliseconds).
	RandomDelayMinMs int `mapstructure:"random_delay_min_ms"`
	RandomDelayMaxMs int `mapstructure:"random_delay_max_ms"`

	// CORS. A wildcard origin combined with credentials is forbidden by
	// the CORS spec; the middleware blocks credentials and logs a warning.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	CORSAllowCreds     bool     `mapstructure:"cors_allow_credentials"`
}

// LLMConfig covers the upstream model layer.
type LLMConfig struct {
	Backends []entity.BackendConfig `mapstructure:"backends"`

	TimeoutSeconds        int  `mapstructure:"timeout_seconds"`
	EnableRetry           bool `mapstructure:"enable_retry"`
	MaxRetryAttempts      int  `mapstructure:"max_retry_attempts"`
	RetryBaseDelaySeconds int  `mapstructure:"retry_base_delay_seconds"`

	BreakerFailureThreshold int `mapstructure:"breaker_failure_threshold"`
	BreakerOpenSeconds      int `mapstructure:"breaker_open_seconds"`

	MaxContextWindow int     `mapstructure:"max_context_window"`
	EnableAutoChunk  bool    `mapstructure:"enable_auto_chunking"`
	Temperature      float64 `mapstructure:"temperature"`
}

// CacheConfig covers the variant cache.
type CacheConfig struct {
	DefaultCount    int  `mapstructure:"default_count"`
	MaxPerKey       int  `mapstructure:"max_per_key"`
	MaxItems        int  `mapstructure:"max_items"`
	SlidingMinutes  int  `mapstructure:"sliding_minutes"`
	AbsoluteMinutes int  `mapstructure:"absolute_minutes"`
	Stats           bool `mapstructure:"stats"`

	CompressionEnabled  bool `mapstructure:"compression_enabled"`
	CompressionMinBytes int  `mapstructure:"compression_min_bytes"`
}

// ContextConfig covers the API context store.
type ContextConfig struct {
	ExpirationMinutes int      `mapstructure:"expiration_minutes"`
	MaxRecentCalls    int      `mapstructure:"max_recent_calls"`
	SharedKeyPatterns []string `mapstructure:"shared_key_patterns"`
}

// RateLimitConfig covers the simulated response-delay engine.
type RateLimitConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DelayRange      string `mapstructure:"delay_range"` // "min-max" (ms) or "max"
	StatsWindowSize int    `mapstructure:"stats_window_size"`
}

// IngressConfig covers the real per-client limiter.
type IngressConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"` // 0 = off
}

// StreamingConfig covers SSE behavior.
type StreamingConfig struct {
	DefaultMode          string `mapstructure:"default_mode"` // LlmTokens, CompleteObjects, ArrayItems
	ChunkDelayMinMs      int    `mapstructure:"chunk_delay_min_ms"`
	ChunkDelayMaxMs      int    `mapstructure:"chunk_delay_max_ms"`
	ContinuousIntervalMs int    `mapstructure:"continuous_interval_ms"`
	ContinuousMaxSeconds int    `mapstructure:"continuous_max_duration_seconds"` // 0 = unlimited
}

// PushConfig covers the push-channel engine.
type PushConfig struct {
	IntervalMs int `mapstructure:"interval_ms"`
}

// ManagementConfig covers the auth-gated management surface.
type ManagementConfig struct {
	AuthMode string `mapstructure:"auth_mode"` // apikey, jwt, off
	Secret   string `mapstructure:"secret"`
	Prefix   string `mapstructure:"prefix"`
}

// SanitizeConfig carries extra prompt-injection patterns.
type SanitizeConfig struct {
	ExtraPatterns []string `mapstructure:"extra_patterns"`
	MaxLen        int      `mapstructure:"max_len"`
}

// SpecsConfig points at the OpenAPI shape-source directory.
type SpecsConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// LogConfig covers the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads mockforge.yaml (explicit path, working dir, or ./config),
// applies defaults, and overlays MOCKFORGE_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("mockforge")
		for _, dir := range []string{".", "./config"} {
			if _, err := os.Stat(filepath.Join(dir, "mockforge.yaml")); err == nil {
				v.AddConfigPath(dir)
				break
			}
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("MOCKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RandomDelayMaxMs < c.Server.RandomDelayMinMs {
		return fmt.Errorf("server.random_delay_max_ms below min")
	}
	switch c.Management.AuthMode {
	case "apikey", "jwt", "off":
	default:
		return fmt.Errorf("management.auth_mode %q unknown (apikey|jwt|off)", c.Management.AuthMode)
	}
	if c.Management.AuthMode != "off" && c.Management.Secret == "" {
		return fmt.Errorf("management.secret required when auth_mode is %q", c.Management.AuthMode)
	}
	names := make(map[string]bool)
	for _, b := range c.LLM.Backends {
		if b.Name == "" {
			return fmt.Errorf("llm backend without a name")
		}
		if names[b.Name] {
			return fmt.Errorf("duplicate llm backend %q", b.Name)
		}
		names[b.Name] = true
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5090)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.prefix", "/api/mock")
	v.SetDefault("server.max_request_bytes", 1<<20)
	v.SetDefault("server.cors_allowed_origins", []string{})

	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.enable_retry", true)
	v.SetDefault("llm.max_retry_attempts", 2)
	v.SetDefault("llm.retry_base_delay_seconds", 1)
	v.SetDefault("llm.breaker_failure_threshold", 5)
	v.SetDefault("llm.breaker_open_seconds", 30)
	v.SetDefault("llm.max_context_window", 8192)
	v.SetDefault("llm.enable_auto_chunking", true)
	v.SetDefault("llm.temperature", 0.8)

	v.SetDefault("cache.default_count", 1)
	v.SetDefault("cache.max_per_key", 10)
	v.SetDefault("cache.max_items", 1000)
	v.SetDefault("cache.sliding_minutes", 15)
	v.SetDefault("cache.absolute_minutes", 60)
	v.SetDefault("cache.stats", true)
	v.SetDefault("cache.compression_enabled", false)
	v.SetDefault("cache.compression_min_bytes", 1024)

	v.SetDefault("context.expiration_minutes", 15)
	v.SetDefault("context.max_recent_calls", 10)

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.delay_range", "")
	v.SetDefault("ratelimit.stats_window_size", 10)

	v.SetDefault("ingress.requests_per_minute", 0)

	v.SetDefault("streaming.default_mode", "LlmTokens")
	v.SetDefault("streaming.chunk_delay_min_ms", 0)
	v.SetDefault("streaming.chunk_delay_max_ms", 0)
	v.SetDefault("streaming.continuous_interval_ms", 2000)
	v.SetDefault("streaming.continuous_max_duration_seconds", 300)

	v.SetDefault("push.interval_ms", 5000)

	v.SetDefault("management.auth_mode", "off")
	v.SetDefault("management.prefix", "/api")

	v.SetDefault("sanitize.max_len", 4000)

	v.SetDefault("specs.dir", "")
	v.SetDefault("specs.watch", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
}
