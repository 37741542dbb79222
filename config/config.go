package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	apperrors "github.com/Skryldev/grsync/errors"
)

// StorageBackend selects the storage adapter.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// Database URL schemes understood by the store factory.
const (
	SchemeSQLite = "sqlite"
	SchemeMySQL  = "mysql"
	SchemeMemory = "memory"
)

// Config is the top-level configuration struct.  Start from Default() and
// override only what you need.
type Config struct {
	ListenAddr  string `toml:"listen_addr"`
	DatabaseURL string `toml:"database_url"`

	// Storage.
	Storage StorageBackend `toml:"storage"`
	Local   LocalConfig    `toml:"local"`
	S3      S3Config       `toml:"s3"`

	Fetch     FetchConfig     `toml:"fetch"`
	Sync      SyncConfig      `toml:"sync"`
	Transcode TranscodeConfig `toml:"transcode"`
	Memcached MemcachedConfig `toml:"memcached"`

	// Logging.
	LogLevel  string `toml:"log_level"`  // "debug", "info", "warn", "error"
	LogFormat string `toml:"log_format"` // "text" or "json"
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string `toml:"root_dir"`
	Permissions uint32 `toml:"permissions"` // default 0644
}

// S3Config configures the S3-compatible storage adapter.
type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"` // host[:port], no scheme
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UseSSL          bool   `toml:"use_ssl"`
	Prefix          string `toml:"prefix"`
}

// FetchConfig controls requests to the remote avatar provider.
type FetchConfig struct {
	BaseURL    string        `toml:"base_url"`
	UserAgent  string        `toml:"user_agent"`
	AvatarSize int           `toml:"avatar_size"`
	Timeout    time.Duration `toml:"timeout"`
	// Outbound request budget.  RatePerSecond <= 0 disables limiting.
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

// SyncConfig controls refresh behaviour.
type SyncConfig struct {
	StaleAfter time.Duration `toml:"stale_after"`
}

// TranscodeConfig controls the canonical output encoding.
type TranscodeConfig struct {
	OutputFormat  string `toml:"output_format"` // "avif", "png" or "jpeg"
	Quality       int    `toml:"quality"`       // 1-100
	Lossless      bool   `toml:"lossless"`
	UseVips       bool   `toml:"use_vips"`
	MaxImageBytes int64  `toml:"max_image_bytes"` // 0 = no limit
}

// MemcachedConfig enables the artifact byte cache when Servers is non-empty.
type MemcachedConfig struct {
	Servers []string      `toml:"servers"`
	Timeout time.Duration `toml:"timeout"`
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		ListenAddr:  "127.0.0.1:9489",
		DatabaseURL: "sqlite://grsync.db",
		Storage:     StorageLocal,
		Local: LocalConfig{
			RootDir:     "resources",
			Permissions: 0o644,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Fetch: FetchConfig{
			BaseURL:       "https://gravatar.com/avatar",
			UserAgent:     "grsync/0.1.0",
			AvatarSize:    512,
			Timeout:       10 * time.Second,
			RatePerSecond: 20,
			Burst:         40,
		},
		Sync: SyncConfig{
			StaleAfter: 24 * time.Hour,
		},
		Transcode: TranscodeConfig{
			OutputFormat:  "avif",
			Quality:       60,
			UseVips:       true,
			MaxImageBytes: 8 << 20,
		},
		Memcached: MemcachedConfig{
			Timeout: 100 * time.Millisecond,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.ListenAddr == "" {
		fail("ListenAddr must not be empty")
	}
	if _, err := DatabaseScheme(c.DatabaseURL); err != nil {
		errs = append(errs, err)
	}

	switch c.Storage {
	case StorageLocal:
		if c.Local.RootDir == "" {
			fail("Local.RootDir must not be empty")
		}
	case StorageS3:
		if c.S3.Bucket == "" || c.S3.Endpoint == "" {
			fail("S3.Bucket and S3.Endpoint are required for s3 storage")
		}
	default:
		fail("unknown storage backend %q", c.Storage)
	}

	if c.Fetch.BaseURL == "" {
		fail("Fetch.BaseURL must not be empty")
	}
	if c.Fetch.AvatarSize <= 0 {
		fail("Fetch.AvatarSize must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		fail("Fetch.Timeout must be positive")
	}
	if c.Sync.StaleAfter <= 0 {
		fail("Sync.StaleAfter must be positive")
	}

	switch c.Transcode.OutputFormat {
	case "avif":
		if !c.Transcode.UseVips {
			fail("avif output requires Transcode.UseVips")
		}
	case "png", "jpeg":
	default:
		fail("unsupported output format %q", c.Transcode.OutputFormat)
	}
	if c.Transcode.Quality < 1 || c.Transcode.Quality > 100 {
		fail("Transcode.Quality must be between 1 and 100")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		fail("unknown log format %q", c.LogFormat)
	}

	if len(errs) > 0 {
		return apperrors.New(apperrors.CategoryConfig, "config.validate", errors.Join(errs...))
	}
	return nil
}

// DatabaseScheme returns the scheme of a DATABASE_URL value, rejecting
// unknown ones.
func DatabaseScheme(raw string) (string, error) {
	if raw == "" {
		return "", apperrors.New(apperrors.CategoryConfig, "config.database",
			errors.New("DatabaseURL must not be empty"))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", apperrors.New(apperrors.CategoryConfig, "config.database", err)
	}
	switch u.Scheme {
	case SchemeSQLite, SchemeMySQL, SchemeMemory:
		return u.Scheme, nil
	}
	return "", apperrors.New(apperrors.CategoryConfig, "config.database",
		fmt.Errorf("unsupported database scheme %q", u.Scheme))
}
