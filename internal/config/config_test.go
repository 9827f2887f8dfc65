package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/crowdfund/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.IsEmbedded())
	assert.Equal(t, domain.DefaultFactor, cfg.Funding.Factor)
	assert.Equal(t, domain.DefaultMinClosePercentage, cfg.Funding.MinClosePercentage)
	assert.Equal(t, int64(domain.DefaultTargetFunds), cfg.Funding.TargetFunds)
	assert.Equal(t, domain.PointsReject, cfg.Points.Policy())
	assert.Equal(t, "@hourly", cfg.Closing.Schedule)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.ProgressTTL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
funding:
  factor: 250
  min_close_percentage: 75
points:
  underflow_policy: clamp
closing:
  schedule: "*/5 * * * *"
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))
	t.Setenv("CROWDFUND_FUNDING_TARGET_FUNDS", "5000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Funding.Factor)
	assert.Equal(t, 75.0, cfg.Funding.MinClosePercentage)
	assert.Equal(t, int64(5000), cfg.Funding.TargetFunds)
	assert.Equal(t, domain.PointsClamp, cfg.Points.Policy())
	assert.Equal(t, "*/5 * * * *", cfg.Closing.Schedule)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			Logging:  LoggingConfig{Level: "info"},
			Funding: FundingConfig{
				Factor:             domain.DefaultFactor,
				MinClosePercentage: domain.DefaultMinClosePercentage,
				TargetFunds:        domain.DefaultTargetFunds,
			},
			Closing: ClosingConfig{Enabled: true, Schedule: "@hourly", BatchSize: 10},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "database.driver"},
		{name: "postgres without host", mutate: func(c *Config) {
			c.Database = DatabaseConfig{Driver: "postgres", User: "u", Database: "d"}
		}, wantErr: "database.host"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "factor out of range", mutate: func(c *Config) { c.Funding.Factor = 100001 }, wantErr: "funding.factor"},
		{name: "percentage out of range", mutate: func(c *Config) { c.Funding.MinClosePercentage = 10 }, wantErr: "funding.min_close_percentage"},
		{name: "zero target", mutate: func(c *Config) { c.Funding.TargetFunds = 0 }, wantErr: "funding.target_funds"},
		{name: "unknown policy", mutate: func(c *Config) { c.Points.UnderflowPolicy = "overdraft" }, wantErr: "points.underflow_policy"},
		{name: "bad schedule", mutate: func(c *Config) { c.Closing.Schedule = "every now and then" }, wantErr: "closing.schedule"},
		{name: "bad schedule ignored when disabled", mutate: func(c *Config) {
			c.Closing.Enabled = false
			c.Closing.Schedule = "nope"
		}},
		{name: "zero batch", mutate: func(c *Config) { c.Closing.BatchSize = 0 }, wantErr: "closing.batch_size"},
		{name: "negative cache ttl", mutate: func(c *Config) {
			c.Cache = CacheConfig{Enabled: true, ProgressTTL: -time.Second}
		}, wantErr: "cache.progress_ttl"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
