package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("UPSTREAM_URL")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.UpstreamURL != "http://localhost:8000" {
		t.Errorf("Expected default UpstreamURL 'http://localhost:8000', got '%s'", cfg.UpstreamURL)
	}
	if cfg.ConnectTimeout() != 5*time.Second {
		t.Errorf("Expected connect timeout 5s, got %v", cfg.ConnectTimeout())
	}
	if cfg.ReadTimeout() != 180*time.Second {
		t.Errorf("Expected read timeout 180s, got %v", cfg.ReadTimeout())
	}
	if cfg.DefaultSTTLang != "Kor" {
		t.Errorf("Expected default DefaultSTTLang 'Kor', got '%s'", cfg.DefaultSTTLang)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

func TestLoad_TrimsTrailingSlash(t *testing.T) {
	os.Setenv("UPSTREAM_URL", "http://fastapi:8000/")
	defer os.Unsetenv("UPSTREAM_URL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.UpstreamURL != "http://fastapi:8000" {
		t.Errorf("Expected trailing slash trimmed, got '%s'", cfg.UpstreamURL)
	}
}

func TestLoad_InvalidUpstreamURL(t *testing.T) {
	os.Setenv("UPSTREAM_URL", "ftp://fastapi")
	defer os.Unsetenv("UPSTREAM_URL")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for non-http upstream URL")
	}
}

func TestLoad_ReadTimeoutMustExceedConnect(t *testing.T) {
	os.Setenv("UPSTREAM_CONNECT_TIMEOUT", "10")
	os.Setenv("UPSTREAM_READ_TIMEOUT", "5")
	defer os.Unsetenv("UPSTREAM_CONNECT_TIMEOUT")
	defer os.Unsetenv("UPSTREAM_READ_TIMEOUT")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error when read timeout is shorter than connect timeout")
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if !cfg.CircuitBreakerEnabled {
		t.Error("Expected circuit breaker enabled by default")
	}
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}
	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
}

func TestLoadClient_Defaults(t *testing.T) {
	os.Unsetenv("GATEWAY_URL")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient() failed: %v", err)
	}

	if cfg.GatewayURL != "http://localhost:8080" {
		t.Errorf("Expected default GatewayURL, got '%s'", cfg.GatewayURL)
	}
	if cfg.ChatDeadline() != 60*time.Second {
		t.Errorf("Expected chat deadline 60s, got %v", cfg.ChatDeadline())
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("Expected default SampleRate 16000, got %d", cfg.SampleRate)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Expected default client LogLevel 'warn', got '%s'", cfg.LogLevel)
	}
}

func TestLoadClient_InvalidTimeout(t *testing.T) {
	os.Setenv("CHAT_TIMEOUT", "0")
	defer os.Unsetenv("CHAT_TIMEOUT")

	if _, err := LoadClient(); err == nil {
		t.Error("Expected error for zero chat timeout")
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
