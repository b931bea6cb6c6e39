package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "be-scm-requisitions", cfg.Service.Name)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 9086, cfg.GRPC.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.TTL)
	assert.Equal(t, "notifications.scm", cfg.NATS.SubjectPrefix)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  environment: production
server:
  port: 8100
database:
  driver: memory
catalog:
  ttl: 30s
`), 0o600))

	t.Setenv("REQ_SERVER_PORT", "8200")
	t.Setenv("REQ_NATS_URL", "nats://broker:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8200, cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Catalog.TTL)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"same ports", func(c *Config) { c.GRPC.Port = c.Server.Port }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"postgres without host", func(c *Config) { c.Database.Host = "" }},
		{"negative ttl", func(c *Config) { c.Catalog.TTL = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
