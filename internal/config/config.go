package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envPrefix namespaces every environment variable read by Load.
const envPrefix = "VOX"

// Config is the complete agent configuration, merged from environment
// variables (VOX_*) and an optional YAML file, environment winning.
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Activation ActivationConfig `yaml:"activation" envconfig:"ACTIVATION"`
	Paths      PathsConfig      `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig configures the local control API. Enabled is a pointer so
// that an explicit "false" from either source survives the merge; nil
// means enabled.
type ServerConfig struct {
	Enabled         *bool           `yaml:"enabled" envconfig:"ENABLED"`
	Port            int             `yaml:"port" envconfig:"PORT" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// IsEnabled reports whether the control API should be started.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// RateLimitConfig caps requests on the control API.
type RateLimitConfig struct {
	Enabled *bool   `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// IsEnabled reports whether the limiter middleware is installed.
func (r RateLimitConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// ActivationConfig holds the OTA endpoint, the identifiers sent with every
// activation request, and the polling tuning.
type ActivationConfig struct {
	OTABaseURL     string        `yaml:"ota_base_url" envconfig:"OTA_BASE_URL" validate:"required,url"`
	DeviceID       string        `yaml:"device_id" envconfig:"DEVICE_ID"`
	ClientID       string        `yaml:"client_id" envconfig:"CLIENT_ID"`
	MaxAttempts    int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" validate:"gt=0"`
	PollInterval   time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gt=0"`
}

// PathsConfig locates the agent's on-disk state.
type PathsConfig struct {
	DataDir      string `yaml:"data_dir" envconfig:"DATA_DIR"`
	IdentityFile string `yaml:"identity_file" envconfig:"IDENTITY_FILE"`
	ClientIDFile string `yaml:"client_id_file" envconfig:"CLIENT_ID_FILE"`
	LogsDir      string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// Load builds the configuration from environment variables and, when
// present, the YAML file named by VOX_CONFIG_FILE (default "config.yaml").
// Environment values win over the file; defaults fill whatever neither
// source sets. Relative paths are resolved against the executable
// directory.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := os.Getenv(envPrefix + "_CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	if _, err := os.Stat(configFile); err == nil {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	cfg.applyDefaults()

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs merges the file config under the env config; any env field
// left at its zero value takes the file's. Defaults are applied after the
// merge, never before, so the file can override them.
func mergeConfigs(fileCfg, envCfg Config) Config {
	if envCfg.Server.Enabled == nil {
		envCfg.Server.Enabled = fileCfg.Server.Enabled
	}
	if envCfg.Server.Port == 0 {
		envCfg.Server.Port = fileCfg.Server.Port
	}
	if envCfg.Server.ReadTimeout == 0 {
		envCfg.Server.ReadTimeout = fileCfg.Server.ReadTimeout
	}
	if envCfg.Server.WriteTimeout == 0 {
		envCfg.Server.WriteTimeout = fileCfg.Server.WriteTimeout
	}
	if envCfg.Server.ShutdownTimeout == 0 {
		envCfg.Server.ShutdownTimeout = fileCfg.Server.ShutdownTimeout
	}
	if envCfg.Server.RateLimit.Enabled == nil {
		envCfg.Server.RateLimit.Enabled = fileCfg.Server.RateLimit.Enabled
	}
	if envCfg.Server.RateLimit.RPS == 0 {
		envCfg.Server.RateLimit.RPS = fileCfg.Server.RateLimit.RPS
	}
	if envCfg.Server.RateLimit.Burst == 0 {
		envCfg.Server.RateLimit.Burst = fileCfg.Server.RateLimit.Burst
	}
	if envCfg.Logging.Level == "" {
		envCfg.Logging.Level = fileCfg.Logging.Level
	}
	if envCfg.Logging.Output == "" {
		envCfg.Logging.Output = fileCfg.Logging.Output
	}
	if envCfg.Logging.FilePath == "" {
		envCfg.Logging.FilePath = fileCfg.Logging.FilePath
	}
	if envCfg.Activation.OTABaseURL == "" {
		envCfg.Activation.OTABaseURL = fileCfg.Activation.OTABaseURL
	}
	if envCfg.Activation.DeviceID == "" {
		envCfg.Activation.DeviceID = fileCfg.Activation.DeviceID
	}
	if envCfg.Activation.ClientID == "" {
		envCfg.Activation.ClientID = fileCfg.Activation.ClientID
	}
	if envCfg.Activation.MaxAttempts == 0 {
		envCfg.Activation.MaxAttempts = fileCfg.Activation.MaxAttempts
	}
	if envCfg.Activation.PollInterval == 0 {
		envCfg.Activation.PollInterval = fileCfg.Activation.PollInterval
	}
	if envCfg.Activation.RequestTimeout == 0 {
		envCfg.Activation.RequestTimeout = fileCfg.Activation.RequestTimeout
	}
	if envCfg.Paths.DataDir == "" {
		envCfg.Paths.DataDir = fileCfg.Paths.DataDir
	}
	if envCfg.Paths.IdentityFile == "" {
		envCfg.Paths.IdentityFile = fileCfg.Paths.IdentityFile
	}
	if envCfg.Paths.ClientIDFile == "" {
		envCfg.Paths.ClientIDFile = fileCfg.Paths.ClientIDFile
	}
	if envCfg.Paths.LogsDir == "" {
		envCfg.Paths.LogsDir = fileCfg.Paths.LogsDir
	}
	return envCfg
}

// applyDefaults fills every field neither the environment nor the file set.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.RateLimit.RPS == 0 {
		c.Server.RateLimit.RPS = 10
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/agent.log"
	}
	if c.Activation.MaxAttempts == 0 {
		c.Activation.MaxAttempts = 60
	}
	if c.Activation.PollInterval == 0 {
		c.Activation.PollInterval = 5 * time.Second
	}
	if c.Activation.RequestTimeout == 0 {
		c.Activation.RequestTimeout = 10 * time.Second
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = "data"
	}
	if c.Paths.IdentityFile == "" {
		c.Paths.IdentityFile = "identity.json"
	}
	if c.Paths.ClientIDFile == "" {
		c.Paths.ClientIDFile = "client_id"
	}
	if c.Paths.LogsDir == "" {
		c.Paths.LogsDir = "logs"
	}
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return err
	}

	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}
	return nil
}
