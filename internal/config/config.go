package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service  ServiceConfig  `yaml:"service" json:"service"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	Chains   []ChainConfig  `yaml:"chains" json:"chains"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `yaml:"driver" json:"driver"` // postgres, sqlite
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	SSLMode         string `yaml:"ssl_mode" json:"ssl_mode"`
	SQLitePath      string `yaml:"sqlite_path" json:"sqlite_path"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DSN 返回 PostgreSQL 连接串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers         []string `yaml:"brokers" json:"brokers"`
	GroupID         string   `yaml:"group_id" json:"group_id"`
	ClientID        string   `yaml:"client_id" json:"client_id"`
	EventsTopic     string   `yaml:"events_topic" json:"events_topic"`
	ActivityTopic   string   `yaml:"activity_topic" json:"activity_topic"`
	ConsumeEvents   bool     `yaml:"consume_events" json:"consume_events"`     // 从 Kafka 读取事件，否则由 RPC 索引器读取
	PublishActivity bool     `yaml:"publish_activity" json:"publish_activity"` // 提交后发布动态
}

// ChainConfig 单条链的索引配置
type ChainConfig struct {
	ChainID        int64    `yaml:"chain_id" json:"chain_id"`
	RPCURLs        []string `yaml:"rpc_urls" json:"rpc_urls"`
	Registry       string   `yaml:"registry" json:"registry"`
	EthVaults      []string `yaml:"eth_vaults" json:"eth_vaults"`
	UsdcVaults     []string `yaml:"usdc_vaults" json:"usdc_vaults"`
	Confirmations  uint64   `yaml:"confirmations" json:"confirmations"`
	BatchSize      uint64   `yaml:"batch_size" json:"batch_size"`
	PollIntervalMs int      `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	StartBlock     uint64   `yaml:"start_block" json:"start_block"`
}

// PipelineConfig 事件处理配置
type PipelineConfig struct {
	TxMaxRetries    int `yaml:"tx_max_retries" json:"tx_max_retries"`
	RetryBackoffMs  int `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
	LockTTLSec      int `yaml:"lock_ttl_sec" json:"lock_ttl_sec"`
	LockWaitMs      int `yaml:"lock_wait_ms" json:"lock_wait_ms"`
	ShutdownTimeout int `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// CacheConfig 读缓存配置
type CacheConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	LeaderboardTTLSec int  `yaml:"leaderboard_ttl_sec" json:"leaderboard_ttl_sec"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
//
// 同目录或工作目录下的 .env 会先载入环境变量 (不覆盖已有值)
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// 环境变量替换
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置完整性
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	seen := make(map[int64]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chain_id is required")
		}
		if seen[chain.ChainID] {
			return fmt.Errorf("duplicate chain_id %d", chain.ChainID)
		}
		seen[chain.ChainID] = true
		if !c.Kafka.ConsumeEvents {
			if len(chain.RPCURLs) == 0 {
				return fmt.Errorf("chain %d: rpc_urls is required", chain.ChainID)
			}
			if chain.Registry == "" {
				return fmt.Errorf("chain %d: registry address is required", chain.ChainID)
			}
		}
	}

	if c.Kafka.ConsumeEvents || c.Kafka.PublishActivity {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required")
		}
	}
	return nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "eidos-campaign"
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50058
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8088
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "eidos_campaign.db"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 50
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "eidos-campaign"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "eidos-campaign"
	}
	if cfg.Kafka.EventsTopic == "" {
		cfg.Kafka.EventsTopic = "campaign-events"
	}
	if cfg.Kafka.ActivityTopic == "" {
		cfg.Kafka.ActivityTopic = "campaign-activity"
	}

	for i := range cfg.Chains {
		chain := &cfg.Chains[i]
		if chain.BatchSize == 0 {
			chain.BatchSize = 500
		}
		if chain.PollIntervalMs == 0 {
			chain.PollIntervalMs = 2000
		}
	}

	if cfg.Pipeline.TxMaxRetries == 0 {
		cfg.Pipeline.TxMaxRetries = 3
	}
	if cfg.Pipeline.RetryBackoffMs == 0 {
		cfg.Pipeline.RetryBackoffMs = 1000
	}
	if cfg.Pipeline.LockTTLSec == 0 {
		cfg.Pipeline.LockTTLSec = 30
	}
	if cfg.Pipeline.LockWaitMs == 0 {
		cfg.Pipeline.LockWaitMs = 2000
	}
	if cfg.Pipeline.ShutdownTimeout == 0 {
		cfg.Pipeline.ShutdownTimeout = 15
	}

	if cfg.Cache.LeaderboardTTLSec == 0 {
		cfg.Cache.LeaderboardTTLSec = 30
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
