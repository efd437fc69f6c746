// Package config loads and validates client configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Identity      IdentityConfig      `yaml:"identity"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Profile       ProfileConfig       `yaml:"profile"`
	Store         StoreConfig         `yaml:"store"`
	Ops           OpsConfig           `yaml:"ops"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// IdentityConfig describes the OTP identity provider.
type IdentityConfig struct {
	Driver         string               `yaml:"driver"`
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	ResendCooldown time.Duration        `yaml:"resend_cooldown"`
	TickInterval   time.Duration        `yaml:"tick_interval"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Dev            DevIdentityConfig    `yaml:"dev"`
}

// CircuitBreakerConfig describes circuit breaker settings for provider calls.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DevIdentityConfig configures the local development provider, which accepts
// a single fixed code for every phone number.
type DevIdentityConfig struct {
	Code       string        `yaml:"code"`
	SecretEnv  string        `yaml:"secret_env"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// CatalogConfig describes where to find survey catalog YAML files.
type CatalogConfig struct {
	Directories []string `yaml:"directories"`
}

// ProfileConfig describes field-worker profile editing. An empty
// RegionsFile leaves the state list empty.
type ProfileConfig struct {
	RegionsFile string `yaml:"regions_file"`
}

// StoreConfig describes response and draft persistence.
type StoreConfig struct {
	Responses ResponseStoreConfig `yaml:"responses"`
	Drafts    DraftStoreConfig    `yaml:"drafts"`
}

// ResponseStoreConfig describes where submitted responses are kept.
type ResponseStoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DraftStoreConfig describes where partial survey snapshots are kept.
type DraftStoreConfig struct {
	Driver  string        `yaml:"driver"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// OpsConfig describes the operational HTTP listener (health, metrics).
type OpsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Identity: IdentityConfig{
			Driver:         "http",
			Timeout:        10 * time.Second,
			ResendCooldown: 30 * time.Second,
			TickInterval:   time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Dev: DevIdentityConfig{
				SecretEnv:  "SARVEKSHAN_DEV_SECRET",
				SessionTTL: 12 * time.Hour,
			},
		},
		Catalog: CatalogConfig{
			Directories: []string{"/surveys"},
		},
		Store: StoreConfig{
			Responses: ResponseStoreConfig{
				Driver:          "memory",
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Drafts: DraftStoreConfig{
				Driver: "memory",
				TTL:    30 * 24 * time.Hour,
			},
		},
		Ops: OpsConfig{
			Enabled: true,
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

var (
	identityDrivers = map[string]bool{"http": true, "dev": true}
	responseDrivers = map[string]bool{"memory": true, "postgres": true}
	draftDrivers    = map[string]bool{"memory": true, "redis": true, "postgres": true}
)

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	switch {
	case !identityDrivers[c.Identity.Driver]:
		errs = append(errs, fmt.Sprintf("identity.driver %q is not one of http, dev", c.Identity.Driver))
	case c.Identity.Driver == "http" && c.Identity.BaseURL == "":
		errs = append(errs, "identity.base_url is required for the http driver")
	case c.Identity.Driver == "dev" && !isDigits(c.Identity.Dev.Code, 6):
		errs = append(errs, "identity.dev.code must be 6 digits for the dev driver")
	}
	if c.Identity.ResendCooldown < time.Second {
		errs = append(errs, "identity.resend_cooldown must be at least 1s")
	}
	if c.Identity.TickInterval <= 0 {
		errs = append(errs, "identity.tick_interval must be positive")
	}
	if len(c.Catalog.Directories) == 0 {
		errs = append(errs, "catalog.directories must list at least one directory")
	}
	if !responseDrivers[c.Store.Responses.Driver] {
		errs = append(errs, fmt.Sprintf("store.responses.driver %q is not one of memory, postgres", c.Store.Responses.Driver))
	}
	if !draftDrivers[c.Store.Drafts.Driver] {
		errs = append(errs, fmt.Sprintf("store.drafts.driver %q is not one of memory, redis, postgres", c.Store.Drafts.Driver))
	}
	if c.Ops.Enabled && (c.Ops.Port < 1 || c.Ops.Port > 65535) {
		errs = append(errs, "ops.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads SARVEKSHAN_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SARVEKSHAN_IDENTITY_DRIVER"); v != "" {
		cfg.Identity.Driver = v
	}
	if v := os.Getenv("SARVEKSHAN_IDENTITY_BASE_URL"); v != "" {
		cfg.Identity.BaseURL = v
	}
	if v := os.Getenv("SARVEKSHAN_CATALOG_DIRECTORIES"); v != "" {
		cfg.Catalog.Directories = strings.Split(v, ",")
	}
	if v := os.Getenv("SARVEKSHAN_PROFILE_REGIONS_FILE"); v != "" {
		cfg.Profile.RegionsFile = v
	}
	if v := os.Getenv("SARVEKSHAN_OPS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Ops.Port = port
		}
	}
	if v := os.Getenv("SARVEKSHAN_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
