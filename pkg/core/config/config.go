// Package config loads service configuration from config.yaml, a .env file
// and the environment, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Intake   IntakeConfig   `yaml:"intake"`
	Geocode  GeocodeConfig  `yaml:"geocode"`
	// AgentsFile is the provider selection file read by agent.LoadConfig.
	AgentsFile string `yaml:"agents_file"`
	// PromptsDir optionally overrides the embedded prompt templates.
	PromptsDir string `yaml:"prompts_dir"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// WebhookToken, when set, must match the "token" query parameter on
	// webhook calls.
	WebhookToken string `yaml:"webhook_token"`
	MaxUploadMB  int64  `yaml:"max_upload_mb"`
}

type DatabaseConfig struct {
	// URL empty selects the in-memory store.
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type StorageConfig struct {
	Root string `yaml:"root"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type IntakeConfig struct {
	Workers            int    `yaml:"workers"`
	TaskTimeoutSeconds int    `yaml:"task_timeout_seconds"`
	StuckAfterMinutes  int    `yaml:"stuck_after_minutes"`
	ReaperSchedule     string `yaml:"reaper_schedule"`
}

func (c IntakeConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

func (c IntakeConfig) StuckAfter() time.Duration {
	return time.Duration(c.StuckAfterMinutes) * time.Minute
}

type GeocodeConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// Default is the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:     ServerConfig{Port: "8080", MaxUploadMB: 50},
		Database:   DatabaseConfig{Migrate: true},
		Storage:    StorageConfig{Root: "data/uploads"},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
		Intake:     IntakeConfig{Workers: 4, TaskTimeoutSeconds: 300, StuckAfterMinutes: 15, ReaperSchedule: "@every 5m"},
		Geocode:    GeocodeConfig{Enabled: true},
		AgentsFile: "config/agents.yaml",
	}
}

// Load reads path (a missing file is fine), then .env, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString("DATABASE_URL", &c.Database.URL)
	setString("STORAGE_ROOT", &c.Storage.Root)
	setString("PORT", &c.Server.Port)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)
	setString("WEBHOOK_TOKEN", &c.Server.WebhookToken)
	setString("AGENTS_FILE", &c.AgentsFile)

	if v := os.Getenv("INTAKE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INTAKE_WORKERS: %w", err)
		}
		c.Intake.Workers = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Intake.Workers < 1 {
		return fmt.Errorf("intake.workers must be positive, got %d", c.Intake.Workers)
	}
	if c.Intake.TaskTimeoutSeconds < 1 {
		return fmt.Errorf("intake.task_timeout_seconds must be positive")
	}
	if c.Intake.StuckAfterMinutes < 1 {
		return fmt.Errorf("intake.stuck_after_minutes must be positive")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	return nil
}
