package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the chat gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Upstream chat service (FastAPI backend)
	UpstreamURL            string `envconfig:"UPSTREAM_URL" default:"http://localhost:8000"`
	UpstreamConnectTimeout int    `envconfig:"UPSTREAM_CONNECT_TIMEOUT" default:"5"`   // seconds
	UpstreamReadTimeout    int    `envconfig:"UPSTREAM_READ_TIMEOUT" default:"180"`    // seconds
	UploadMaxBytes         int64  `envconfig:"UPLOAD_MAX_BYTES" default:"26214400"`    // 25 MiB
	DefaultSTTLang         string `envconfig:"DEFAULT_STT_LANG" default:"Kor"`         // used when ?lang is absent

	// Resilience configuration
	CircuitBreakerEnabled      bool `envconfig:"CIRCUIT_BREAKER_ENABLED" default:"true"`
	CircuitBreakerMaxFailures  int  `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Unreachable outcomes before opening
	CircuitBreakerResetTimeout int  `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int  `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // readiness probe only
	RetryInitialBackoff        int  `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// ConnectTimeout returns the upstream dial timeout
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.UpstreamConnectTimeout) * time.Second
}

// ReadTimeout returns the upstream response timeout
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.UpstreamReadTimeout) * time.Second
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := validateBaseURL("UPSTREAM_URL", c.UpstreamURL); err != nil {
		return err
	}
	c.UpstreamURL = strings.TrimRight(c.UpstreamURL, "/")

	// connect setup must fail well before a slow answer does
	if c.UpstreamConnectTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_CONNECT_TIMEOUT must be positive")
	}
	if c.UpstreamReadTimeout <= c.UpstreamConnectTimeout {
		return fmt.Errorf("UPSTREAM_READ_TIMEOUT must be greater than UPSTREAM_CONNECT_TIMEOUT")
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	return nil
}

// ClientConfig holds configuration for the terminal chat client
type ClientConfig struct {
	GatewayURL    string `envconfig:"GATEWAY_URL" default:"http://localhost:8080"`
	ChatTimeout   int    `envconfig:"CHAT_TIMEOUT" default:"60"` // seconds, client-side deadline per turn
	Locale        string `envconfig:"CHAT_LOCALE" default:""`    // overrides the saved preference
	PrefsPath     string `envconfig:"CHAT_PREFS_PATH" default:""`
	PlayerCommand string `envconfig:"PLAYER_COMMAND" default:"ffplay -nodisp -autoexit -loglevel quiet"`

	// Live recognition (Deepgram)
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Microphone capture and silence detection
	SampleRate         int     `envconfig:"MIC_SAMPLE_RATE" default:"16000"`
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"75"`      // 20ms frames of silence before the session closes

	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"` // recognizer connection attempts
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF" default:"500"`    // milliseconds

	LogLevel string `envconfig:"LOG_LEVEL" default:"warn"`
}

// ChatDeadline returns the client-side chat turn timeout
func (c *ClientConfig) ChatDeadline() time.Duration {
	return time.Duration(c.ChatTimeout) * time.Second
}

// LoadClient reads client configuration from .env and the environment
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}
	if err := validateBaseURL("GATEWAY_URL", cfg.GatewayURL); err != nil {
		return nil, err
	}
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	if cfg.ChatTimeout <= 0 {
		return nil, fmt.Errorf("CHAT_TIMEOUT must be positive")
	}
	return &cfg, nil
}

func validateBaseURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
