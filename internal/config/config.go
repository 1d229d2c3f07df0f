package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// SecurityConfig holds the process-wide secret used to encrypt stored API keys.
type SecurityConfig struct {
	EncryptionSecret string `yaml:"encryption_secret"`
}

// GeminiConfig holds configuration for the text-generation provider.
type GeminiConfig struct {
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	TopK        int32   `yaml:"top_k"`
	TopP        float32 `yaml:"top_p"`
	MaxTokens   int32   `yaml:"max_tokens"`
}

// RetryConfig controls the backoff used around provider calls.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
}

// ImageConfig controls image acquisition.
type ImageConfig struct {
	Providers    []string `yaml:"providers"`
	ProbeTimeout string   `yaml:"probe_timeout"`
	Seed         int64    `yaml:"seed"`
}

// QuotaConfig holds the client-side usage limits.
type QuotaConfig struct {
	PerMinute     int `yaml:"per_minute"`
	DailyShared   int `yaml:"daily_shared"`
	DailyPersonal int `yaml:"daily_personal"`
}

// ServerConfig holds configuration for the HTTP surface.
type ServerConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	QuotaPurgeSpec  string `yaml:"quota_purge_spec"`
	RevivalSpec     string `yaml:"revival_spec"`
	QuotaRetainDays int    `yaml:"quota_retain_days"`
}

// Config holds the configuration for the generation service.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Security  SecurityConfig  `yaml:"security"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Retry     RetryConfig     `yaml:"retry"`
	Image     ImageConfig     `yaml:"image"`
	Quota     QuotaConfig     `yaml:"quota"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Port      int             `yaml:"port"`
	Debug     bool            `yaml:"debug"`
	LogFormat string          `yaml:"log_format"`
}

// LoadConfig reads and parses the configuration file. It returns the config and a potential warning message.
var LoadConfig = func(path string) (*Config, string, error) {
	var config Config
	var warnings []string

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, "", fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	// A missing file is fine; environment variables and defaults fill the gaps.

	applyEnv(&config)
	warnings = append(warnings, applyDefaults(&config)...)

	if config.Database.Type == "" || config.Database.DSN == "" {
		return nil, "", fmt.Errorf("database type and dsn must be configured in config.yaml or via environment variables")
	}
	if config.Security.EncryptionSecret == "" {
		return nil, "", fmt.Errorf("security.encryption_secret must be configured in config.yaml or via SPARKLIO_ENCRYPTION_SECRET")
	}
	if _, err := time.ParseDuration(config.Retry.BaseDelay); err != nil {
		return nil, "", fmt.Errorf("invalid retry.base_delay %q: %w", config.Retry.BaseDelay, err)
	}
	if _, err := time.ParseDuration(config.Image.ProbeTimeout); err != nil {
		return nil, "", fmt.Errorf("invalid image.probe_timeout %q: %w", config.Image.ProbeTimeout, err)
	}
	if config.Quota.DailyPersonal < config.Quota.DailyShared {
		return nil, "", fmt.Errorf("quota.daily_personal (%d) must not be lower than quota.daily_shared (%d)", config.Quota.DailyPersonal, config.Quota.DailyShared)
	}

	return &config, strings.Join(warnings, "; "), nil
}

func applyEnv(config *Config) {
	if dsn := os.Getenv("SPARKLIO_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv("SPARKLIO_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if port := os.Getenv("SPARKLIO_PORT"); port != "" {
		var p int
		if n, err := fmt.Sscanf(port, "%d", &p); err == nil && n == 1 {
			config.Port = p
		}
	}
	if secret := os.Getenv("SPARKLIO_ENCRYPTION_SECRET"); secret != "" {
		config.Security.EncryptionSecret = secret
	}
	if model := os.Getenv("SPARKLIO_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if debug := os.Getenv("SPARKLIO_DEBUG"); debug != "" {
		config.Debug = (debug == "true")
	}
}

// applyDefaults fills zero values and returns a warning for each default worth mentioning.
func applyDefaults(config *Config) []string {
	var warnings []string

	if config.Port == 0 {
		config.Port = 8080
	}
	if config.LogFormat == "" {
		config.LogFormat = "json"
	}
	if config.Gemini.Model == "" {
		config.Gemini.Model = "gemini-2.0-flash"
		warnings = append(warnings, "gemini.model not set, using default value of gemini-2.0-flash")
	}
	if config.Gemini.BaseURL == "" {
		config.Gemini.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if config.Gemini.Temperature == 0 {
		config.Gemini.Temperature = 0.9
	}
	if config.Gemini.TopK == 0 {
		config.Gemini.TopK = 40
	}
	if config.Gemini.TopP == 0 {
		config.Gemini.TopP = 0.95
	}
	if config.Gemini.MaxTokens == 0 {
		config.Gemini.MaxTokens = 1024
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 3
	}
	if config.Retry.BaseDelay == "" {
		config.Retry.BaseDelay = "1s"
	}
	if len(config.Image.Providers) == 0 {
		config.Image.Providers = []string{"pollinations", "picsum"}
	}
	if config.Image.ProbeTimeout == "" {
		config.Image.ProbeTimeout = "8s"
	}
	if config.Quota.PerMinute == 0 {
		config.Quota.PerMinute = 50
	}
	if config.Quota.DailyShared == 0 {
		config.Quota.DailyShared = 20
	}
	if config.Quota.DailyPersonal == 0 {
		config.Quota.DailyPersonal = 1400
		warnings = append(warnings, "quota.daily_personal not set, using default value of 1400")
	}
	if config.Server.RequestsPerSecond == 0 {
		config.Server.RequestsPerSecond = 5
	}
	if config.Server.Burst == 0 {
		config.Server.Burst = 10
	}
	if config.Scheduler.QuotaPurgeSpec == "" {
		config.Scheduler.QuotaPurgeSpec = "@daily"
	}
	if config.Scheduler.RevivalSpec == "" {
		config.Scheduler.RevivalSpec = "@daily"
	}
	if config.Scheduler.QuotaRetainDays == 0 {
		config.Scheduler.QuotaRetainDays = 7
	}

	return warnings
}

// Delay returns the parsed base delay, or one second if it cannot be parsed.
func (r RetryConfig) Delay() time.Duration {
	d, err := time.ParseDuration(r.BaseDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// Timeout returns the parsed probe timeout, or eight seconds if it cannot be parsed.
func (i ImageConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(i.ProbeTimeout)
	if err != nil {
		return 8 * time.Second
	}
	return d
}
