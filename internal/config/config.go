// Package config loads BookFlow configuration.
//
// Load order:
//  1. .env (secrets and APP_ENV)
//  2. the YAML file given with --config, or configs/{env}.yaml when present
//  3. environment variables, which override YAML
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"bookflow/internal/logging"
	"bookflow/library"
)

// Environment is the deployment environment.
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// devJWTSecret is only accepted in the dev environment.
const devJWTSecret = "bookflow-dev-secret"

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// StorageConfig selects the backing store. Backend is always explicit.
type StorageConfig struct {
	Backend        string        `yaml:"backend"`
	Offline        bool          `yaml:"offline"`
	SQLitePath     string        `yaml:"sqlite_path"`
	DatabaseURL    string        `yaml:"-"` // DATABASE_URL only
	SnapshotPath   string        `yaml:"snapshot_path"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// AuthConfig configures bearer tokens. The secret is read from JWT_SECRET
// only, never from YAML.
type AuthConfig struct {
	JWTSecret      string        `yaml:"-"`
	Issuer         string        `yaml:"issuer"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// Config is the resolved application configuration.
type Config struct {
	Env     Environment    `yaml:"-"`
	Server  ServerConfig   `yaml:"server"`
	Storage StorageConfig  `yaml:"storage"`
	Auth    AuthConfig     `yaml:"auth"`
	Log     logging.Config `yaml:"log"`
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Env: EnvDevelopment,
		Server: ServerConfig{
			Port:            "3001",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Storage: StorageConfig{
			Backend:        library.BackendSQLite,
			SQLitePath:     "data/bookflow.db",
			SnapshotPath:   "data/bookflow.json",
			ConnectTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:         "bookflow",
			AccessTokenTTL: 24 * time.Hour,
		},
		Log: logging.Config{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load resolves the configuration. An explicit path must exist; otherwise
// configs/{env}.yaml is optional.
func Load(path string) (*Config, error) {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg := Default()
	cfg.Env = parseEnv(getEnv("APP_ENV", "dev"))

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else {
		filename := fmt.Sprintf("%s.yaml", cfg.Env)
		for _, base := range configPaths {
			p := filepath.Join(base, filename)
			data, err := os.ReadFile(p)
			if err != nil {
				continue
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", p, err)
			}
			break
		}
	}

	cfg.applyEnv()
	if cfg.Auth.JWTSecret == "" && cfg.Env == EnvDevelopment {
		cfg.Auth.JWTSecret = devJWTSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Storage.Backend = getEnv("BOOKFLOW_BACKEND", c.Storage.Backend)
	c.Storage.DatabaseURL = getEnv("DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.SnapshotPath = getEnv("SNAPSHOT_PATH", c.Storage.SnapshotPath)
	if v := os.Getenv("BOOKFLOW_OFFLINE"); v != "" {
		c.Storage.Offline = v == "1" || strings.EqualFold(v, "true")
	}
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Storage.Backend {
	case library.BackendSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	case library.BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case library.BackendSnapshot:
		if !c.Storage.Offline {
			errs = append(errs, errors.New("the snapshot backend requires storage.offline: true"))
		}
		if c.Storage.SnapshotPath == "" {
			errs = append(errs, errors.New("storage.snapshot_path is required for the snapshot backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of sqlite, postgres, snapshot", c.Storage.Backend))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required in the %s environment", c.Env))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.access_token_ttl must be positive"))
	}
	return errors.Join(errs...)
}

// StoreOptions converts the storage section for library.OpenStore.
func (c *Config) StoreOptions() library.StoreOptions {
	return library.StoreOptions{
		Backend:        c.Storage.Backend,
		Offline:        c.Storage.Offline,
		SQLitePath:     c.Storage.SQLitePath,
		DatabaseURL:    c.Storage.DatabaseURL,
		SnapshotPath:   c.Storage.SnapshotPath,
		ConnectTimeout: c.Storage.ConnectTimeout,
	}
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return ":" + c.Server.Port }

// String summarizes the configuration with credentials masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Backend: %s, DB: %s, Port: %s}",
		c.Env, c.Storage.Backend, maskPassword(c.Storage.DatabaseURL), c.Server.Port)
}

var passwordRe = regexp.MustCompile(`(://[^:/]+:)([^@]+)(@)`)

func maskPassword(url string) string {
	return passwordRe.ReplaceAllString(url, "${1}***${3}")
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
