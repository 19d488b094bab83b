package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	// Sync requests must be able to sit out the full job timeout.
	require.GreaterOrEqual(t, cfg.Server.TimeoutSeconds, cfg.Jobs.JobTimeoutSec)
	require.Equal(t, 330, cfg.Server.TimeoutSeconds)
	require.Equal(t, 50, cfg.Jobs.MaxURLs)
	require.Equal(t, 5, cfg.Jobs.MaxConcurrent)
	require.Equal(t, 30*time.Second, cfg.ItemTimeout())
	require.Equal(t, 5*time.Minute, cfg.JobTimeout())
	require.Equal(t, 30*time.Minute, cfg.Retention())
	require.Equal(t, "artifacts", cfg.Keys.Prefix)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, 3, cfg.Webhook.MaxAttempts)
	require.True(t, cfg.Logging.Development)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  timeout_seconds: 120
auth:
  enabled: true
  api_key: secret
jobs:
  max_urls: 25
  max_concurrent: 8
  item_timeout_seconds: 20
  job_timeout_seconds: 120
  default_namespace: acme
keys:
  prefix: converted
fetch:
  user_agent: custom-agent
headless:
  enabled: true
  max_parallel: 3
storage:
  backend: gcs
  gcs_bucket: my-bucket
pubsub:
  project_id: proj
  topic_name: conversions
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 25, cfg.Jobs.MaxURLs)
	require.Equal(t, 8, cfg.Jobs.MaxConcurrent)
	require.Equal(t, "acme", cfg.Jobs.DefaultNamespace)
	require.Equal(t, 20*time.Second, cfg.ItemTimeout())
	require.Equal(t, 2*time.Minute, cfg.JobTimeout())
	require.Equal(t, "converted", cfg.Keys.Prefix)
	require.Equal(t, "gcs", cfg.Storage.Backend)
	require.Equal(t, "my-bucket", cfg.Storage.GCSBucket)
	require.Equal(t, "conversions", cfg.PubSub.TopicName)
	require.False(t, cfg.Logging.Development)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Jobs.MaxURLs = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Server.TimeoutSeconds = 10
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Backend = "tape"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Backend = "local"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Backend = "gcs"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Archive.Enabled = true
	require.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
