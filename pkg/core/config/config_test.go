package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Intake.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Intake.StuckAfter())
	assert.Equal(t, "@every 5m", cfg.Intake.ReaperSchedule)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
intake:
  workers: 2
  task_timeout_seconds: 60
  stuck_after_minutes: 30
storage:
  root: /tmp/docs
`), 0o644))

	t.Setenv("PORT", "9100")
	t.Setenv("DATABASE_URL", "postgres://localhost/intake")
	t.Setenv("INTAKE_WORKERS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/intake", cfg.Database.URL)
	assert.Equal(t, 8, cfg.Intake.Workers)
	assert.Equal(t, time.Minute, cfg.Intake.TaskTimeout())
	assert.Equal(t, "/tmp/docs", cfg.Storage.Root)
	assert.Equal(t, "info", cfg.Logging.Level, "unset keys keep defaults")
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("intake:\n  workers: 0\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("intake: [unclosed"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
