package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/studio1767/dsarchive/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
ingest_url: https://ingest.example.org
timeout: 5m
max_files: 20
corrupt_windows:
  - start: 2024-01-01T00:00:00Z
    end: 2024-01-02T00:00:00Z
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://ingest.example.org", cfg.IngestURL)
	require.Equal(t, config.Default().MetadataURL, cfg.MetadataURL)
	require.Equal(t, 5*time.Minute, cfg.Timeout)
	require.Equal(t, 20, cfg.MaxFiles)
	require.Len(t, cfg.CorruptWindows, 1)

	require.True(t, cfg.InCorruptWindow(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
	require.False(t, cfg.InCorruptWindow(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "ingest_url: https://from-file\n")
	t.Setenv("DSARCHIVE_INGEST_URL", "https://from-env")
	t.Setenv("DSARCHIVE_TIMEOUT", "90s")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://from-env", cfg.IngestURL)
	require.Equal(t, 90*time.Second, cfg.Timeout)
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	path := writeConfig(t, "policy_url: https://from-file\nhash_workers: 2\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--workers", "8", "--mode", "local", "--staging-dir", "/tmp/stage"}))
	require.NoError(t, cfg.ApplyFlags(fs))

	require.Equal(t, "https://from-file", cfg.PolicyURL)
	require.Equal(t, 8, cfg.HashWorkers)
	require.Equal(t, config.ModeLocal, cfg.Mode)
	require.Equal(t, "/tmp/stage", cfg.StagingDir)
}

func TestValidateRejectsIncompleteModes(t *testing.T) {
	_, err := config.Load(writeConfig(t, "mode: s3\n"))
	require.Error(t, err)

	_, err = config.Load(writeConfig(t, "mode: carrier-pigeon\n"))
	require.Error(t, err)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestClientOptionsCarryCredentials(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "cert_file: /etc/ds/client.pem\nkey_file: /etc/ds/client.key.age\ngrace: 3s\n"))
	require.NoError(t, err)

	opts := cfg.ClientOptions()
	require.True(t, opts.Credentials.HasCertificate())
	require.Equal(t, "/etc/ds/client.key.age", opts.Credentials.KeyFile)
	require.Equal(t, 3*time.Second, opts.Grace)
	require.Equal(t, cfg.Timeout, opts.Timeout)
}

func TestLogLevel(t *testing.T) {
	_, err := config.Load(writeConfig(t, "log_level: chatty\n"))
	require.Error(t, err)

	cfg, err := config.Load(writeConfig(t, "log_level: warn\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}
