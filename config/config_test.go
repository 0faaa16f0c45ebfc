package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_DefaultsAndEnv(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")
	t.Setenv("SERVER_PORT", "8181")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("LEDGER_LATE_FEE_PERCENT", "2.5")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.OpsPort)
	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, "test-secret", cfg.JWT.SecretKey)
	assert.Equal(t, 2.5, cfg.Ledger.LateFeePercent)
	assert.Equal(t, 90, cfg.Ledger.DefaultGraceDays)
	assert.Equal(t, time.Hour, cfg.Ledger.SchedulerInterval)
	assert.Equal(t, 5*time.Minute, cfg.Redis.PlanCacheTTL)
}

func TestNewConfig_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")

	_, err := NewConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET_KEY")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Port: 8080, OpsPort: 9090},
			DB:        DBConfig{Driver: "postgres", Port: 5432},
			JWT:       JWTConfig{SecretKey: "secret"},
			RateLimit: RateLimitConfig{Requests: 10, Window: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "memory driver", mutate: func(c *Config) { c.DB.Driver = "memory"; c.DB.Port = 0 }},
		{name: "unknown driver", mutate: func(c *Config) { c.DB.Driver = "sqlite" }, wantErr: true},
		{name: "zero port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "negative late fee", mutate: func(c *Config) { c.Ledger.LateFeePercent = -1 }, wantErr: true},
		{name: "no rate limit window", mutate: func(c *Config) { c.RateLimit.Window = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDBConfig_DSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", c.DSN())
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", c.MigrationURL())
}
