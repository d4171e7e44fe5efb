package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExpandEnvVars 测试环境变量展开
func TestExpandEnvVars(t *testing.T) {
	t.Run("simple variable", func(t *testing.T) {
		t.Setenv("TEST_VAR", "hello")

		result := expandEnvVars("value is ${TEST_VAR}")
		assert.Equal(t, "value is hello", result)
	})

	t.Run("variable with default", func(t *testing.T) {
		result := expandEnvVars("value is ${NOT_EXISTS:default_value}")
		assert.Equal(t, "value is default_value", result)
	})

	t.Run("variable with default overridden", func(t *testing.T) {
		t.Setenv("MY_VAR", "actual_value")

		result := expandEnvVars("value is ${MY_VAR:default_value}")
		assert.Equal(t, "value is actual_value", result)
	})

	t.Run("default with colon", func(t *testing.T) {
		result := expandEnvVars("url: ${NOT_EXISTS:http://localhost:8545}")
		assert.Equal(t, "url: http://localhost:8545", result)
	})

	t.Run("no variables", func(t *testing.T) {
		assert.Equal(t, "no variables here", expandEnvVars("no variables here"))
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("CAMPAIGN_RPC_URL", "http://rpc.example:8545")

	path := writeConfig(t, `
service:
  name: eidos-campaign
database:
  driver: sqlite
  sqlite_path: ":memory:"
chains:
  - chain_id: 8453
    rpc_urls: ["${CAMPAIGN_RPC_URL}", "${BACKUP_RPC_URL:http://backup:8545}"]
    registry: "0x00000000000000000000000000000000000000e0"
    eth_vaults: ["0x00000000000000000000000000000000000000f1"]
    confirmations: 12
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	require.Len(t, cfg.Chains, 1)
	chain := cfg.Chains[0]
	assert.Equal(t, []string{"http://rpc.example:8545", "http://backup:8545"}, chain.RPCURLs)
	assert.Equal(t, uint64(12), chain.Confirmations)
	assert.Equal(t, uint64(500), chain.BatchSize)
	assert.Equal(t, 2000, chain.PollIntervalMs)

	assert.Equal(t, 8088, cfg.Service.HTTPPort)
	assert.Equal(t, "campaign-events", cfg.Kafka.EventsTopic)
	assert.Equal(t, "campaign-activity", cfg.Kafka.ActivityTopic)
	assert.Equal(t, 3, cfg.Pipeline.TxMaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Database: DatabaseConfig{Driver: "postgres"},
			Chains: []ChainConfig{{
				ChainID:  1,
				RPCURLs:  []string{"http://localhost:8545"},
				Registry: "0x00000000000000000000000000000000000000e0",
			}},
		}
		setDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "unsupported database driver"},
		{"duplicate chain", func(c *Config) { c.Chains = append(c.Chains, c.Chains[0]) }, "duplicate chain_id"},
		{"missing rpc", func(c *Config) { c.Chains[0].RPCURLs = nil }, "rpc_urls is required"},
		{"kafka source needs no rpc", func(c *Config) {
			c.Chains[0].RPCURLs = nil
			c.Kafka.ConsumeEvents = true
			c.Kafka.Brokers = []string{"localhost:9092"}
		}, ""},
		{"kafka without brokers", func(c *Config) { c.Kafka.PublishActivity = true }, "kafka brokers are required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
