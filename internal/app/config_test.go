package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/modmon/internal/data/db"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

func isolateConfigEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(ConfigFileEnv, "")
	for _, k := range []string{"MODMON_DATABASE_DRIVER", "MODMON_DATABASE_HOST", "MODMON_DATABASE_PATH", "MODMON_STORAGE_ROOT"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, db.DriverPostgres, cfg.Database.Driver)
	require.Equal(t, "localhost", cfg.Database.Host)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "modmon", cfg.Database.Name)
	require.Equal(t, "modmon_models", cfg.Storage.Root)
	require.Equal(t, 4, cfg.Storage.UploadConcurrency)
	require.True(t, cfg.Envs.RenvCondaR)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	isolateConfigEnv(t)
	path := writeConfig(t, `
database:
  driver: sqlite
  path: /var/lib/modmon/modmon.db
storage:
  root: /srv/models
  mirror:
    mode: gcs
    bucket: registered-models
envs:
  offline: true
  conda_exe: /opt/conda/bin/conda
log:
  mode: prod
`)
	t.Setenv("MODMON_STORAGE_ROOT", "/mnt/models")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, db.DriverSQLite, cfg.Database.Driver)
	require.Equal(t, "/var/lib/modmon/modmon.db", cfg.Database.DB().Path)
	require.Equal(t, "/mnt/models", cfg.Storage.Root)
	require.Equal(t, "prod", cfg.Log.Mode)
	require.True(t, cfg.Envs.Provisioner().Offline)
	require.Equal(t, "/opt/conda/bin/conda", cfg.Envs.Provisioner().CondaExe)

	mirror, err := cfg.Storage.Mirror.ObjectStorage()
	require.NoError(t, err)
	require.True(t, mirror.Enabled())
	require.Equal(t, "registered-models", mirror.Bucket)
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	isolateConfigEnv(t)
	path := writeConfig(t, "database:\n  host: db.internal\n")
	t.Setenv(ConfigFileEnv, path)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "db.internal", cfg.Database.Host)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"sqlite without path", "database:\n  driver: sqlite\n"},
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"empty storage root", "storage:\n  root: \"\"\n"},
		{"bad sample ratio", "tracing:\n  sample_ratio: 2\n"},
		{"bad mirror mode", "storage:\n  mirror:\n    mode: s3\n"},
		{"mirror without bucket", "storage:\n  mirror:\n    mode: gcs\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			isolateConfigEnv(t)
			_, err := LoadConfig(writeConfig(t, tc.body))
			require.Error(t, err)
			require.True(t, errors.Is(err, apperr.ErrConfiguration), "got %v", err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	isolateConfigEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, apperr.ErrConfiguration)
}
