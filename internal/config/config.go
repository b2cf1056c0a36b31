// Package config loads custodyctl settings from a TOML file with
// CUSTODY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"custodychain/internal/blob"
	"custodychain/internal/core"

	"github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"
)

// Defaults applied when neither the file nor the environment sets a value.
const (
	DefaultPath       = "custody.toml"
	DefaultSQLitePath = "custodychain.db"
	DefaultFSRoot     = "./evidence"
	DefaultHTTPAddr   = ":8080"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
)

// Config is the effective custodyctl configuration.
type Config struct {
	// Owner is the identity used to initialize the ledger and, in the CLI,
	// the default caller.
	Owner    string         `toml:"owner"`
	Storage  StorageConfig  `toml:"storage"`
	Evidence EvidenceConfig `toml:"evidence"`
	Log      LogConfig      `toml:"log"`
	HTTP     HTTPConfig     `toml:"http"`
}

// StorageConfig selects the ledger persistence backend.
type StorageConfig struct {
	Driver      string `toml:"driver"` // memory | sqlite | postgres
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// EvidenceConfig selects the blob backend for evidence documents.
type EvidenceConfig struct {
	Driver string        `toml:"driver"` // memory | fs | s3
	FSRoot string        `toml:"fs_root"`
	S3     blob.S3Config `toml:"s3"`
}

// LogConfig controls the charmbracelet logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text | logfmt | json
}

// HTTPConfig holds the serve command settings.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// Default returns a config that stores the ledger in SQLite and evidence on
// the local filesystem.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver:     string(core.StorageSQLite),
			SQLitePath: DefaultSQLitePath,
		},
		Evidence: EvidenceConfig{
			Driver: string(blob.DriverFilesystem),
			FSRoot: DefaultFSRoot,
		},
		Log:  LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		HTTP: HTTPConfig{Addr: DefaultHTTPAddr},
	}
}

// Load reads path over defaults, then applies environment overrides. A
// missing file is not an error.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		case len(content) > 0:
			if err := toml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode toml: %w", err)
			}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CUSTODY_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"CUSTODY_OWNER":                &c.Owner,
		"CUSTODY_STORAGE_DRIVER":       &c.Storage.Driver,
		"CUSTODY_SQLITE_PATH":          &c.Storage.SQLitePath,
		"CUSTODY_POSTGRES_DSN":         &c.Storage.PostgresDSN,
		"CUSTODY_EVIDENCE_DRIVER":      &c.Evidence.Driver,
		"CUSTODY_EVIDENCE_FS_ROOT":     &c.Evidence.FSRoot,
		"CUSTODY_EVIDENCE_S3_BUCKET":   &c.Evidence.S3.Bucket,
		"CUSTODY_EVIDENCE_S3_REGION":   &c.Evidence.S3.Region,
		"CUSTODY_EVIDENCE_S3_ENDPOINT": &c.Evidence.S3.Endpoint,
		"CUSTODY_LOG_LEVEL":            &c.Log.Level,
		"CUSTODY_LOG_FORMAT":           &c.Log.Format,
		"CUSTODY_HTTP_ADDR":            &c.HTTP.Addr,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup("CUSTODY_EVIDENCE_S3_PATH_STYLE"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid CUSTODY_EVIDENCE_S3_PATH_STYLE: %q", v)
		}
		c.Evidence.S3.PathStyle = b
	}
	return nil
}

// Validate rejects unknown drivers, log settings and missing backend fields.
func (c Config) Validate() error {
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid storage.driver: %q", c.Storage.Driver)
	}
	switch blob.Driver(c.Evidence.Driver) {
	case blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if strings.TrimSpace(c.Evidence.S3.Bucket) == "" {
			return errors.New("evidence.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("invalid evidence.driver: %q", c.Evidence.Driver)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "logfmt", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	return nil
}

// StorageOptions converts the storage section for core.OpenPersistentStore.
func (c Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// BlobOptions converts the evidence section for blob.Open.
func (c Config) BlobOptions() blob.Options {
	return blob.Options{
		Driver: blob.Driver(c.Evidence.Driver),
		FSRoot: c.Evidence.FSRoot,
		S3:     c.Evidence.S3,
	}
}

// LogLevel returns the parsed log level, falling back to info.
func (c Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// LogFormatter maps log.format to a charm formatter.
func (c Config) LogFormatter() log.Formatter {
	switch c.Log.Format {
	case "logfmt":
		return log.LogfmtFormatter
	case "json":
		return log.JSONFormatter
	default:
		return log.TextFormatter
	}
}

// NewLogger builds the process logger writing to w.
func (c Config) NewLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           c.LogLevel(),
		Prefix:          "custodychain",
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       c.LogFormatter(),
	})
}

// Encode renders c as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
