package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings. DATABASE_URL is honoured as a DSN fallback.
const (
	EnvStorageDriver = "UYHF_STORAGE_DRIVER"
	EnvStorageDSN    = "UYHF_STORAGE_DSN"
	EnvStateDir      = "UYHF_STATE_DIR"
	EnvListenAddr    = "UYHF_LISTEN_ADDR"
	EnvStoreMode     = "UYHF_STORE_MODE"
	EnvDatabaseURL   = "DATABASE_URL"
)

// Load reads the YAML file at path and applies the environment overlay.
// Defaults are not applied here; call Validate.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg, ""); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML config bytes.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv loads envFile (".env" when empty) if it exists, then copies
// the UYHF_* variables over the file settings. Real environment variables win over the file.
func ApplyEnv(cfg *AppConfig, envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}

	if v := os.Getenv(EnvStorageDriver); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv(EnvStorageDSN); v != "" {
		cfg.Storage.DSN = v
	} else if v := os.Getenv(EnvDatabaseURL); v != "" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv(EnvStateDir); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvStoreMode); v != "" {
		cfg.StoreMode = v
	}
	return nil
}
