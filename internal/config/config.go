// Package config loads the client configuration. Values are layered:
// built-in defaults, then the YAML file, then DSARCHIVE_* environment
// variables, then command line flags that were explicitly set.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	yaml "gopkg.in/yaml.v3"

	"github.com/studio1767/dsarchive/internal/archiveio"
)

// Modes for the upload destination.
const (
	ModeIngest = "ingest"
	ModeLocal  = "local"
	ModeS3     = "s3"
)

// Window is a time range during which the archive is known to have stored
// bad ingests; remote versions created inside it are ignored.
type Window struct {
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

type Config struct {
	MetadataURL string `yaml:"metadata_url"`
	PolicyURL   string `yaml:"policy_url"`
	IngestURL   string `yaml:"ingest_url"`
	FilesURL    string `yaml:"files_url"`

	CertFile       string `yaml:"cert_file"`
	KeyFile        string `yaml:"key_file"`
	CAFile         string `yaml:"ca_file"`
	IdentitiesFile string `yaml:"identities_file"`
	Username       string `yaml:"username"`
	PasswordFile   string `yaml:"password_file"`

	Timeout       time.Duration `yaml:"timeout"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	Grace         time.Duration `yaml:"grace"`

	HashWorkers    int      `yaml:"hash_workers"`
	ReadSlots      int      `yaml:"read_slots"`
	MaxFiles       int      `yaml:"max_files"`
	CorruptWindows []Window `yaml:"corrupt_windows"`

	Mode           string `yaml:"mode"`
	StagingDir     string `yaml:"staging_dir"`
	StagingBucket  string `yaml:"staging_bucket"`
	StagingPrefix  string `yaml:"staging_prefix"`
	StagingProfile string `yaml:"staging_profile"`

	// age recipients the staged container is encrypted to
	StagingRecipientsFile string `yaml:"staging_recipients_file"`

	TraceEndpoint string `yaml:"trace_endpoint"`
	LogLevel      string `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		MetadataURL:   "https://metadata.archive.local",
		PolicyURL:     "https://policy.archive.local",
		IngestURL:     "https://ingest.archive.local",
		FilesURL:      "https://files.archive.local",
		Timeout:       60 * time.Second,
		UploadTimeout: 24 * time.Hour,
		Grace:         10 * time.Second,
		HashWorkers:   4,
		MaxFiles:      1000,
		Mode:          ModeIngest,
		LogLevel:      "info",
	}
}

// DefaultPath is ~/.dsarchive/config.yml.
func DefaultPath() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(u.HomeDir, ".dsarchive", "config.yml"), nil
}

// Load reads the configuration file at path on top of the defaults and
// applies environment overrides. A missing file at the default location
// is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != "" && path != "default"
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.MetadataURL = getEnv("DSARCHIVE_METADATA_URL", c.MetadataURL)
	c.PolicyURL = getEnv("DSARCHIVE_POLICY_URL", c.PolicyURL)
	c.IngestURL = getEnv("DSARCHIVE_INGEST_URL", c.IngestURL)
	c.FilesURL = getEnv("DSARCHIVE_FILES_URL", c.FilesURL)
	c.CertFile = getEnv("DSARCHIVE_CERT_FILE", c.CertFile)
	c.KeyFile = getEnv("DSARCHIVE_KEY_FILE", c.KeyFile)
	c.CAFile = getEnv("DSARCHIVE_CA_FILE", c.CAFile)
	c.Mode = getEnv("DSARCHIVE_MODE", c.Mode)
	c.StagingDir = getEnv("DSARCHIVE_STAGING_DIR", c.StagingDir)
	c.StagingBucket = getEnv("DSARCHIVE_STAGING_BUCKET", c.StagingBucket)
	c.TraceEndpoint = getEnv("DSARCHIVE_TRACE_ENDPOINT", c.TraceEndpoint)
	c.LogLevel = getEnv("DSARCHIVE_LOG_LEVEL", c.LogLevel)
	c.HashWorkers = getEnvAsInt("DSARCHIVE_HASH_WORKERS", c.HashWorkers)
	c.MaxFiles = getEnvAsInt("DSARCHIVE_MAX_FILES", c.MaxFiles)
	c.ReadSlots = getEnvAsInt("DSARCHIVE_READ_SLOTS", c.ReadSlots)

	var err error
	if c.Timeout, err = getEnvAsDuration("DSARCHIVE_TIMEOUT", c.Timeout); err != nil {
		return err
	}
	return nil
}

// AddFlags registers the flags that can override the loaded configuration.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("metadata-url", "", "metadata service base url")
	fs.String("policy-url", "", "policy service base url")
	fs.String("ingest-url", "", "ingest service base url")
	fs.String("files-url", "", "file download service base url")
	fs.String("cert", "", "client certificate file (PEM)")
	fs.String("key", "", "client private key file (PEM, optionally .age)")
	fs.Duration("timeout", 0, "per-request timeout")
	fs.String("mode", "", "upload destination: ingest, local or s3")
	fs.String("staging-dir", "", "directory for local mode")
	fs.Int("workers", 0, "number of parallel hash workers")
	fs.Int("max-files", 0, "maximum number of files in one upload")
	fs.Int("read-slots", 0, "maximum concurrent file reads (0 for no limit)")
	fs.String("log-level", "", "debug, info, warn or error")
}

// ApplyFlags copies every flag that was set on the command line.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	strs := map[string]*string{
		"metadata-url": &c.MetadataURL,
		"policy-url":   &c.PolicyURL,
		"ingest-url":   &c.IngestURL,
		"files-url":    &c.FilesURL,
		"cert":         &c.CertFile,
		"key":          &c.KeyFile,
		"mode":         &c.Mode,
		"staging-dir":  &c.StagingDir,
		"log-level":    &c.LogLevel,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	ints := map[string]*int{
		"workers":    &c.HashWorkers,
		"max-files":  &c.MaxFiles,
		"read-slots": &c.ReadSlots,
	}
	for name, dst := range ints {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if fs.Changed("timeout") {
		v, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		c.Timeout = v
	}

	return c.Validate()
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeIngest:
	case ModeLocal:
		if c.StagingDir == "" {
			return fmt.Errorf("mode %q requires staging_dir", c.Mode)
		}
	case ModeS3:
		if c.StagingBucket == "" {
			return fmt.Errorf("mode %q requires staging_bucket", c.Mode)
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %s", c.Timeout)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	for _, w := range c.CorruptWindows {
		if !w.End.After(w.Start) {
			return fmt.Errorf("corrupt window ends before it starts: %s - %s", w.Start, w.End)
		}
	}
	return nil
}

// InCorruptWindow reports whether t falls inside any corrupt window.
func (c *Config) InCorruptWindow(t time.Time) bool {
	for _, w := range c.CorruptWindows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// ClientOptions returns the archive client settings.
func (c *Config) ClientOptions() archiveio.Options {
	return archiveio.Options{
		Credentials: archiveio.Credentials{
			CertFile:       c.CertFile,
			KeyFile:        c.KeyFile,
			CAFile:         c.CAFile,
			IdentitiesFile: c.IdentitiesFile,
			Username:       c.Username,
			PasswordFile:   c.PasswordFile,
		},
		Timeout: c.Timeout,
		Grace:   c.Grace,
	}
}

// NewLogger returns a text logger at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.level()
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
