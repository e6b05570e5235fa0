// Package config loads service configuration from config.yaml with
// environment variable overrides. Environment variables always win for fields
// that support both; secrets only ever come from the environment.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for theworld-engine.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// MigrationsPath points at the golang-migrate source directory.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Embedding service configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// DataPlane is the MCP data service executing query / group-analysis plans.
	DataPlane DataPlaneConfig `yaml:"data_plane"`

	// SecretCipherKey encrypts tenant API keys at rest. 32 bytes, base64
	// encoded. Generate with: openssl rand -base64 32. The server refuses to
	// start without it.
	SecretCipherKey string `yaml:"-" env:"SECRET_CIPHER_KEY"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// Secret is the HS256 signing secret for bearer tokens.
	Secret string `yaml:"-" env:"AUTH_JWT_SECRET"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"theworld"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"theworld_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// EmbeddingConfig holds the dense-vector service settings. An empty endpoint
// switches retrieval to the deterministic local fallback.
type EmbeddingConfig struct {
	Endpoint  string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT" env-default:""`
	Dimension int    `yaml:"dimension" env:"EMBEDDING_DIMENSION" env-default:"16"`
	TimeoutMS int    `yaml:"timeout_ms" env:"EMBEDDING_TIMEOUT_MS" env-default:"5000"`
}

// DataPlaneConfig holds the downstream MCP data service settings.
type DataPlaneConfig struct {
	Endpoint  string `yaml:"endpoint" env:"DATA_PLANE_ENDPOINT" env-default:""`
	TimeoutMS int    `yaml:"timeout_ms" env:"DATA_PLANE_TIMEOUT_MS" env-default:"30000"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Missing config.yaml falls back to env-only loading so
// containerized deployments need no file at all.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if envErr := cleanenv.ReadEnv(cfg); envErr != nil {
			return nil, fmt.Errorf("failed to read configuration: %w", envErr)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SecretCipherKey == "" {
		return fmt.Errorf("SECRET_CIPHER_KEY must be set")
	}
	if c.Auth.EnableVerification && c.Auth.Secret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET must be set when auth verification is enabled")
	}
	return nil
}
