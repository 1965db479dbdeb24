package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env vars and restore after tests
	originalEnv := map[string]string{
		"EVERCORE_APP_NAME":                os.Getenv("EVERCORE_APP_NAME"),
		"EVERCORE_APP_ENV":                 os.Getenv("EVERCORE_APP_ENV"),
		"EVERCORE_APP_PORT":                os.Getenv("EVERCORE_APP_PORT"),
		"EVERCORE_DATABASE_HOST":           os.Getenv("EVERCORE_DATABASE_HOST"),
		"EVERCORE_DATABASE_PORT":           os.Getenv("EVERCORE_DATABASE_PORT"),
		"EVERCORE_DATABASE_USER":           os.Getenv("EVERCORE_DATABASE_USER"),
		"EVERCORE_DATABASE_PASSWORD":       os.Getenv("EVERCORE_DATABASE_PASSWORD"),
		"EVERCORE_DATABASE_DBNAME":         os.Getenv("EVERCORE_DATABASE_DBNAME"),
		"EVERCORE_DATABASE_SSLMODE":        os.Getenv("EVERCORE_DATABASE_SSLMODE"),
		"EVERCORE_DATABASE_MAX_OPEN_CONNS": os.Getenv("EVERCORE_DATABASE_MAX_OPEN_CONNS"),
		"EVERCORE_DATABASE_MAX_IDLE_CONNS": os.Getenv("EVERCORE_DATABASE_MAX_IDLE_CONNS"),
		"EVERCORE_QUEUE_BATCH_SIZE":        os.Getenv("EVERCORE_QUEUE_BATCH_SIZE"),
		"EVERCORE_SWEEPER_INTERVAL":        os.Getenv("EVERCORE_SWEEPER_INTERVAL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}

	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "evercore", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "postgres", cfg.Database.User)
		assert.Equal(t, "", cfg.Database.Password)
		assert.Equal(t, "evercore", cfg.Database.DBName)
		assert.Equal(t, "disable", cfg.Database.SSLMode)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5, cfg.Database.MaxIdleConns)
		assert.Equal(t, "outbox", cfg.Queue.Transport)
		assert.Equal(t, 100, cfg.Queue.BatchSize)
		assert.Equal(t, 2*time.Second, cfg.Queue.PollInterval)
		assert.Equal(t, 200, cfg.Dispatcher.BatchSize)
		assert.Equal(t, time.Hour, cfg.Sweeper.Interval)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, 1.0, cfg.Telemetry.SamplingRatio)
		assert.Equal(t, 60*time.Second, cfg.Telemetry.MetricsInterval)
		assert.False(t, cfg.Telemetry.MetricsEnabled)
		assert.False(t, cfg.Telemetry.LogsEnabled)
	})

	t.Run("environment variables override defaults", func(t *testing.T) {
		clearEnv()

		os.Setenv("EVERCORE_APP_NAME", "evercore-test")
		os.Setenv("EVERCORE_APP_PORT", "9090")
		os.Setenv("EVERCORE_DATABASE_HOST", "db.internal")
		os.Setenv("EVERCORE_DATABASE_PORT", "5433")
		os.Setenv("EVERCORE_QUEUE_BATCH_SIZE", "50")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "evercore-test", cfg.App.Name)
		assert.Equal(t, "9090", cfg.App.Port)
		assert.Equal(t, "db.internal", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, 50, cfg.Queue.BatchSize)
	})

	t.Run("production requires database password", func(t *testing.T) {
		clearEnv()

		os.Setenv("EVERCORE_APP_ENV", "production")
		os.Setenv("EVERCORE_DATABASE_SSLMODE", "require")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.password is required in production")
	})

	t.Run("production rejects sslmode disable", func(t *testing.T) {
		clearEnv()

		os.Setenv("EVERCORE_APP_ENV", "production")
		os.Setenv("EVERCORE_DATABASE_PASSWORD", "supersecret")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sslmode")
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("idle conns cannot exceed open conns", func(t *testing.T) {
		cfg := base()
		cfg.Database.MaxOpenConns = 5
		cfg.Database.MaxIdleConns = 10

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_idle_conns")
	})

	t.Run("sampling ratio must be a ratio", func(t *testing.T) {
		cfg := base()
		cfg.Telemetry.SamplingRatio = 1.5

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sampling_ratio")
	})

	t.Run("redis transport requires redis enabled", func(t *testing.T) {
		cfg := base()
		cfg.Queue.Transport = "redis"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis.enabled")

		cfg.Redis.Enabled = true
		assert.NoError(t, cfg.validate())
	})

	t.Run("unknown queue transport rejected", func(t *testing.T) {
		cfg := base()
		cfg.Queue.Transport = "kafka"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue.transport")
	})

	t.Run("production rejects full sql logging", func(t *testing.T) {
		cfg := base()
		cfg.App.Env = "production"
		cfg.Database.Password = "supersecret"
		cfg.Database.SSLMode = "require"
		cfg.Telemetry.DBLogFullSQL = true

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db_log_full_sql")
	})
}

func TestDatabaseDSN(t *testing.T) {
	d := &DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "p@ss:word/1",
		DBName:   "evercore",
		SSLMode:  "disable",
	}

	dsn := d.DSN()
	assert.Contains(t, dsn, "postgres://")
	assert.Contains(t, dsn, "localhost:5432")
	assert.Contains(t, dsn, "sslmode=disable")
	// Special characters in the password must be escaped
	assert.NotContains(t, dsn, "p@ss:word/1")
}

func TestRedisAddr(t *testing.T) {
	r := &RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", r.Addr())
}
