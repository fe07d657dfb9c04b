package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Gateway   GatewayConfig   `yaml:"gateway" mapstructure:"gateway"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	ExtractModel  string `yaml:"extract_model" mapstructure:"extract_model"`
	AnalysisModel string `yaml:"analysis_model" mapstructure:"analysis_model"`
	MaxTokens     int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GatewayConfig configures retries and throttling of model calls.
type GatewayConfig struct {
	MaxRetries              int     `yaml:"max_retries" mapstructure:"max_retries"`
	JitterMS                int     `yaml:"jitter_ms" mapstructure:"jitter_ms"`
	RequestsPerSecond       float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// Jitter returns the configured jitter as a duration.
func (g GatewayConfig) Jitter() time.Duration {
	return time.Duration(g.JitterMS) * time.Millisecond
}

// CircuitReset returns how long an open circuit stays open.
func (g GatewayConfig) CircuitReset() time.Duration {
	return time.Duration(g.CircuitResetSecs) * time.Second
}

// CacheConfig configures the analysis cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	TTLSecs int  `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// ExtractConfig configures document extraction.
type ExtractConfig struct {
	PromptsFile   string `yaml:"prompts_file" mapstructure:"prompts_file"`
	ProseFallback bool   `yaml:"prose_fallback" mapstructure:"prose_fallback"`
	TempDir       string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// FetchConfig configures downloads of remote documents.
type FetchConfig struct {
	MaxBytes          int64   `yaml:"max_bytes" mapstructure:"max_bytes"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	APIKeys        []APIKey `yaml:"api_keys" mapstructure:"api_keys"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// APIKey binds a bearer key to the user it acts as. Kept as a list rather
// than a map because viper lowercases map keys.
type APIKey struct {
	Key    string `yaml:"key" mapstructure:"key"`
	UserID string `yaml:"user_id" mapstructure:"user_id"`
}

// KeyMap returns the configured keys indexed by key.
func (s ServerConfig) KeyMap() map[string]string {
	out := make(map[string]string, len(s.APIKeys))
	for _, k := range s.APIKeys {
		if k.Key != "" && k.UserID != "" {
			out[k.Key] = k.UserID
		}
	}
	return out
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DIET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.analysis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.jitter_ms", 1000)
	v.SetDefault("gateway.requests_per_second", 0)
	v.SetDefault("gateway.circuit_failure_threshold", 0)
	v.SetDefault("gateway.circuit_reset_secs", 30)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("extract.prompts_file", "")
	v.SetDefault("extract.prose_fallback", false)
	v.SetDefault("extract.temp_dir", "")
	v.SetDefault("fetch.max_bytes", 5<<20)
	v.SetDefault("fetch.timeout_secs", 10)
	v.SetDefault("fetch.requests_per_second", 0)
	v.SetDefault("fetch.user_agent", "diet-analysis/1.0")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "diet-analysis.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: "serve",
// "analyze" (model calls, no server), "store" (database only).
func (c *Config) Validate(mode string) error {
	var errs []string

	needsModel := false
	needsStore := false
	switch mode {
	case "serve":
		needsModel, needsStore = true, true
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.MaxUploadBytes <= 0 {
			errs = append(errs, "server.max_upload_bytes must be > 0")
		}
	case "analyze":
		needsModel = true
	case "store":
		needsStore = true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needsModel {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Gateway.MaxRetries < 0 {
			errs = append(errs, "gateway.max_retries must be >= 0")
		}
		if c.Gateway.JitterMS < 0 || c.Gateway.JitterMS > 1000 {
			errs = append(errs, "gateway.jitter_ms must be between 0 and 1000")
		}
		if c.Gateway.RequestsPerSecond < 0 {
			errs = append(errs, "gateway.requests_per_second must be >= 0")
		}
		if c.Cache.Enabled && c.Cache.TTLSecs <= 0 {
			errs = append(errs, "cache.ttl_secs must be > 0 when cache is enabled")
		}
	}

	if needsStore {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
