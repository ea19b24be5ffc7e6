// Package config loads runtime configuration for the intakeflow binaries.
// Values come from config.yaml with environment variable overrides; secrets
// come from the environment only.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`

	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Storage      StorageConfig      `yaml:"storage"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User     string `yaml:"user" env:"PGUSER" env-default:"intakeflow"`
	Password string `yaml:"-" env:"PGPASSWORD"`
	Database string `yaml:"database" env:"PGDATABASE" env-default:"intakeflow"`
	SSLMode  string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// DSN renders the pgx connection string. DATABASE_URL, when set, wins.
func (d DatabaseConfig) DSN() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type AuthConfig struct {
	JWTSecret string `yaml:"-" env:"JWT_SECRET"`
}

type ConfirmationConfig struct {
	// BaseURL prefixes the confirmation links sent to clients.
	BaseURL string `yaml:"base_url" env:"CONFIRMATION_BASE_URL" env-default:"http://localhost:8080"`
	// TokenTTLHours is the confirmation window. 72 hours matches the link
	// copy sent to clients.
	TokenTTLHours int `yaml:"token_ttl_hours" env:"CONFIRMATION_TOKEN_TTL_HOURS" env-default:"72"`
}

type StorageConfig struct {
	DocumentsDir string `yaml:"documents_dir" env:"DOCUMENTS_DIR" env-default:"storage/documents"`
	PdfDir       string `yaml:"pdf_dir" env:"PDF_DIR" env-default:"storage/pdfs"`
}

// Load reads config.yaml when present, then applies environment overrides.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("config: read config.yaml: %w", err)
		}
		return cfg, nil
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: read environment: %w", err)
	}
	return cfg, nil
}
