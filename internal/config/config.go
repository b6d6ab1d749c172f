package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	configLoader "github.com/andiksetyawan/config"
)

// Config is the process configuration, read from the environment and an
// optional .env file in the working directory.
type Config struct {
	// DataDir holds the job database and YAML connector presets.
	// Defaults to ~/.ingest.
	DataDir string `env:"INGEST_DATA_DIR"`
	// DBPath defaults to DataDir/ingest.db.
	DBPath string `env:"INGEST_DB_PATH"`

	MaxDepth     int           `env:"INGEST_MAX_DEPTH" envDefault:"32"`
	RunTimeout   time.Duration `env:"INGEST_RUN_TIMEOUT" envDefault:"30m"`
	PreviewRows  int           `env:"INGEST_PREVIEW_ROWS" envDefault:"20"`
	SecretPrefix string        `env:"INGEST_SECRET_PREFIX" envDefault:"INGEST_SECRET_"`
}

// Load reads the configuration. envPath names an optional dotenv file; a
// missing file is ignored.
func Load(envPath string) (*Config, error) {
	loader := configLoader.New()
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			loader = configLoader.New(configLoader.WithEnvPath(envPath))
		}
	}

	cfg := &Config{}
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolve() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".ingest")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "ingest.db")
	}
	if c.MaxDepth < 0 {
		return errors.New("INGEST_MAX_DEPTH must not be negative")
	}
	if c.RunTimeout <= 0 {
		return errors.New("INGEST_RUN_TIMEOUT must be positive")
	}
	return nil
}

// ConnectorDir is where YAML connector presets are loaded from.
func (c *Config) ConnectorDir() string {
	return filepath.Join(c.DataDir, "connectors")
}
