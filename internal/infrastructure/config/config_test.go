package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "erp-syncengine", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 100, cfg.Sync.PageSize)
		assert.Equal(t, 100, cfg.Sync.ProgressInterval)
		assert.Equal(t, 10*time.Minute, cfg.Sync.RefreshThreshold)
		assert.Equal(t, "last_write_wins", cfg.Sync.ConflictPolicy)
		assert.Equal(t, 72*time.Hour, cfg.Webhook.IdempotencyTTL)
		assert.Equal(t, "default", cfg.Encryption.ActiveKeyID)
		assert.Equal(t, "2024-10", cfg.Platforms.Shopify.APIVersion)
	})

	t.Run("loads values from environment variables with SYNC prefix", func(t *testing.T) {
		t.Setenv("SYNC_APP_NAME", "test-app")
		t.Setenv("SYNC_APP_PORT", "9000")
		t.Setenv("SYNC_DATABASE_DRIVER", "sqlite")
		t.Setenv("SYNC_DATABASE_SQLITE_PATH", "/tmp/test.db")
		t.Setenv("SYNC_SYNC_PAGE_SIZE", "250")
		t.Setenv("SYNC_SYNC_RETRY_BASE_DELAY", "2s")
		t.Setenv("SYNC_WEBHOOK_BATCH_SIZE", "7")
		t.Setenv("SYNC_SYNC_CONFLICT_POLICY", "most_recent_wins")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-app", cfg.App.Name)
		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "http://localhost:9000", cfg.App.PublicURL)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, "/tmp/test.db", cfg.Database.SQLitePath)
		assert.Equal(t, 250, cfg.Sync.PageSize)
		assert.Equal(t, 2*time.Second, cfg.Sync.RetryBaseDelay)
		assert.Equal(t, 7, cfg.Webhook.BatchSize)
		assert.Equal(t, "most_recent_wins", cfg.Sync.ConflictPolicy)
	})

	t.Run("rejects invalid driver", func(t *testing.T) {
		t.Setenv("SYNC_DATABASE_DRIVER", "mysql")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.driver")
	})

	t.Run("production requires secrets", func(t *testing.T) {
		t.Setenv("SYNC_APP_ENV", "production")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt.secret")
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"page size too large", func(c *Config) { c.Sync.PageSize = 20000 }, "sync.page_size"},
		{"unknown conflict policy", func(c *Config) { c.Sync.ConflictPolicy = "manual" }, "sync.conflict_policy"},
		{"idle exceeds open", func(c *Config) { c.Database.MaxIdleConns = 100 }, "max_idle_conns"},
		{"active key missing", func(c *Config) { c.Encryption.Keys = map[string]string{"other": "x"} }, "active_key_id"},
		{"sampling out of range", func(c *Config) { c.Telemetry.SamplingRatio = 2 }, "sampling_ratio"},
		{"production sqlite", func(c *Config) {
			c.App.Env = "production"
			c.JWT.Secret = strings.Repeat("s", 32)
			c.Encryption.Keys = map[string]string{"default": "k"}
			c.Database.Driver = "sqlite"
		}, "must be postgres"},
		{"production ok", func(c *Config) {
			c.App.Env = "production"
			c.JWT.Secret = strings.Repeat("s", 32)
			c.Encryption.Keys = map[string]string{"default": "k"}
			c.Database.Password = "pw"
			c.Database.SSLMode = "require"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p@ss/word", DBName: "sync", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p%40ss%2Fword@db:5432/sync?sslmode=require", d.DSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.Addr())
}
