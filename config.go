package strata

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/driver/docstore"
	"github.com/apopov/strata/driver/sqlstore"
)

// DriverKind selects a storage backend.
type DriverKind string

const (
	// DriverDocument is the JSON-file-per-table backend.
	DriverDocument DriverKind = "document"

	// DriverRelational is the SQLite backend.
	DriverRelational DriverKind = "relational"
)

// ParseDriverKind maps a configured driver name to its kind. The
// storage-format names "json" and "sqlite" are accepted as aliases.
func ParseDriverKind(s string) (DriverKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "document", "json":
		return DriverDocument, nil
	case "relational", "sqlite":
		return DriverRelational, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownDriver, s)
	}
}

// Source records where the active configuration came from. SwitchDriver
// consults it: a permanent switch away from an env-sourced configuration
// is refused unless forced, so code cannot silently diverge from
// deployment settings.
type Source string

const (
	SourceEnv      Source = "env"
	SourceOverride Source = "override"
	SourceContext  Source = "context"
)

// Config selects and parameterizes a driver.
//
// Zero fields take defaults: document driver, DataDir "data", and
// SQLitePath "<DataDir>/app.db".
type Config struct {
	Driver     DriverKind
	DataDir    string
	SQLitePath string
	SQLite     sqlstore.Tunables
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverDocument
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = filepath.Join(c.DataDir, "app.db")
	}
	return c
}

func (c Config) validate() error {
	switch c.Driver {
	case DriverDocument, DriverRelational:
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownDriver, c.Driver)
	}
}

// Environment variables consulted by FromEnv.
const (
	envDriver      = "STRATA_DRIVER"
	envDataDir     = "STRATA_DATA_DIR"
	envSQLitePath  = "STRATA_SQLITE_PATH"
	envConfigFile  = "STRATA_CONFIG"
	envJournalMode = "STRATA_SQLITE_JOURNAL_MODE"
	envSynchronous = "STRATA_SQLITE_SYNCHRONOUS"
	envCacheKB     = "STRATA_SQLITE_CACHE_KB"
	envBusyTimeout = "STRATA_SQLITE_BUSY_TIMEOUT_MS"
	envTempStore   = "STRATA_SQLITE_TEMP_STORE"
)

// FromEnv assembles a Config from the process environment, layered on
// top of an optional YAML file: the file named by STRATA_CONFIG (or
// ./strata.yaml when present) supplies base values, each STRATA_*
// variable overrides its field, and defaults fill what remains.
func FromEnv() (Config, error) {
	cfg, err := fromFile()
	if err != nil {
		return Config{}, err
	}

	if v := os.Getenv(envDriver); v != "" {
		kind, err := ParseDriverKind(v)
		if err != nil {
			return Config{}, err
		}
		cfg.Driver = kind
	}
	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envSQLitePath); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv(envJournalMode); v != "" {
		cfg.SQLite.JournalMode = strings.ToUpper(v)
	}
	if v := os.Getenv(envSynchronous); v != "" {
		cfg.SQLite.Synchronous = strings.ToUpper(v)
	}
	if v := os.Getenv(envTempStore); v != "" {
		cfg.SQLite.TempStore = strings.ToUpper(v)
	}
	if v := os.Getenv(envCacheKB); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("strata: parse %s: %w", envCacheKB, err)
		}
		cfg.SQLite.CacheSizeKB = n
	}
	if v := os.Getenv(envBusyTimeout); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("strata: parse %s: %w", envBusyTimeout, err)
		}
		cfg.SQLite.BusyTimeout = n
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fileConfig is the YAML shape of a config file.
type fileConfig struct {
	Driver     string `yaml:"driver"`
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	SQLite     struct {
		JournalMode   string `yaml:"journal_mode"`
		Synchronous   string `yaml:"synchronous"`
		CacheKB       int    `yaml:"cache_kb"`
		BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
		TempStore     string `yaml:"temp_store"`
	} `yaml:"sqlite"`
}

func fromFile() (Config, error) {
	path := os.Getenv(envConfigFile)
	if path == "" {
		path = "strata.yaml"
		if _, err := os.Stat(path); err != nil {
			return Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("strata: read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("strata: parse config file %s: %w", path, err)
	}

	cfg := Config{
		DataDir:    fc.DataDir,
		SQLitePath: fc.SQLitePath,
		SQLite: sqlstore.Tunables{
			JournalMode: strings.ToUpper(fc.SQLite.JournalMode),
			Synchronous: strings.ToUpper(fc.SQLite.Synchronous),
			CacheSizeKB: fc.SQLite.CacheKB,
			BusyTimeout: fc.SQLite.BusyTimeoutMS,
			TempStore:   strings.ToUpper(fc.SQLite.TempStore),
		},
	}
	if fc.Driver != "" {
		kind, err := ParseDriverKind(fc.Driver)
		if err != nil {
			return Config{}, fmt.Errorf("strata: config file %s: %w", path, err)
		}
		cfg.Driver = kind
	}
	return cfg, nil
}

func openDriver(cfg Config) (driver.Driver, error) {
	switch cfg.Driver {
	case DriverDocument:
		return docstore.Open(cfg.DataDir)
	case DriverRelational:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("strata: create database directory %s: %w", dir, err)
			}
		}
		return sqlstore.Open(cfg.SQLitePath, cfg.SQLite)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Driver)
	}
}
