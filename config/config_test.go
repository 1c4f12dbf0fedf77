package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("SUPER_ADMIN_EMAILS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultSuperAdmins, cfg.SuperAdminEmails)
	assert.Equal(t, "Europe/Paris", cfg.Location.String())
	assert.Equal(t, 4000, cfg.MaxMessageSize)
	assert.Equal(t, 2*time.Minute, cfg.NonceWindow)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Tick)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Lease)
	assert.NotEmpty(t, cfg.Scheduler.WorkerID)
}

func TestLoadConfigBounds(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("NONCE_WINDOW", "5s")
	t.Setenv("SCHEDULER_TICK", "5m")
	t.Setenv("SUPER_ADMIN_EMAILS", " Boss@Example.com , other@example.com ")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.NonceWindow)
	assert.Equal(t, time.Minute, cfg.Scheduler.Tick)
	assert.Equal(t, []string{"boss@example.com", "other@example.com"}, cfg.SuperAdminEmails)

	t.Setenv("SCHEDULER_TICK", "1s")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Tick)
}

func TestLoadConfigRejects(t *testing.T) {
	t.Run("missing db password", func(t *testing.T) {
		t.Setenv("DB_PASSWORD", "")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("single super admin", func(t *testing.T) {
		t.Setenv("DB_PASSWORD", "secret")
		t.Setenv("SUPER_ADMIN_EMAILS", "only@example.com")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("bad timezone", func(t *testing.T) {
		t.Setenv("DB_PASSWORD", "secret")
		t.Setenv("TIMEZONE", "Mars/Olympus")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("production without jwt secret", func(t *testing.T) {
		t.Setenv("DB_PASSWORD", "secret")
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("JWT_SECRET", "")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestMaskPassword(t *testing.T) {
	assert.Equal(t, "host=db password=***** dbname=x", maskPassword("host=db password=hunter2 dbname=x"))
	assert.Equal(t, "host=db password=*****", maskPassword("host=db password=hunter2"))
	assert.Equal(t, "host=db", maskPassword("host=db"))
}
