package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/kart-pricing/internal/remote"
)

func TestConfig_ApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PORT", "9090")

	t.Run("FillsUnset", func(t *testing.T) {
		cfg := Config{Addr: defaultAddr}
		cfg.applyPlatformDefaults()
		assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
		assert.Equal(t, "redis:6379", cfg.RedisAddr)
		assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
	})
	t.Run("KeepsExplicit", func(t *testing.T) {
		cfg := Config{Addr: "127.0.0.1:8000", DatabaseURL: "postgres://explicit/db", RedisAddr: "cache:6379"}
		cfg.applyPlatformDefaults()
		assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
		assert.Equal(t, "cache:6379", cfg.RedisAddr)
		assert.Equal(t, "127.0.0.1:8000", cfg.Addr)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL: "postgres://localhost/pricing",
			Catalog:     remote.ClientConfig{URL: "http://catalog"},
			Identity:    remote.ClientConfig{URL: "http://auth"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"Valid", func(*Config) {}, ""},
		{"NoDatabase", func(c *Config) { c.DatabaseURL = "" }, "database URL is required"},
		{"NoCatalog", func(c *Config) { c.Catalog.URL = "" }, "catalog URL is required"},
		{"NoIdentity", func(c *Config) { c.Identity.URL = "" }, "identity URL is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
