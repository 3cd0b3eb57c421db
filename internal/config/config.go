package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Blockchain BlockchainConfig `yaml:"blockchain" json:"blockchain"`
	Refresher  RefresherConfig  `yaml:"refresher" json:"refresher"`
	Indexer    IndexerConfig    `yaml:"indexer" json:"indexer"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" json:"scheduler"`
	Location   LocationConfig   `yaml:"location" json:"location"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	Env      string `yaml:"env" json:"env"`
	// CORSOrigins 允许跨域的前端来源, 空表示任意
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	SSLMode         string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	AutoMigrate     bool   `yaml:"auto_migrate" json:"auto_migrate"`
}

// DSN PostgreSQL 连接串
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
	CacheTTL  int      `yaml:"cache_ttl" json:"cache_ttl"` // 秒
}

// Addr 首个 Redis 地址
func (c RedisConfig) Addr() string {
	if len(c.Addresses) == 0 {
		return "localhost:6379"
	}
	return c.Addresses[0]
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Brokers  []string `yaml:"brokers" json:"brokers"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	Network         string   `yaml:"network" json:"network"`
	RPCURL          string   `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs   []string `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID         int64    `yaml:"chain_id" json:"chain_id"`
	ExplorerURL     string   `yaml:"explorer_url" json:"explorer_url"`
	ContractAddress string   `yaml:"contract_address" json:"contract_address"`
	PrivateKey      string   `yaml:"private_key" json:"private_key"`
	ReceiptTimeout  int      `yaml:"receipt_timeout" json:"receipt_timeout"` // 秒
	ReceiptPoll     int      `yaml:"receipt_poll" json:"receipt_poll"`       // 毫秒
	MaxGasPriceGwei int64    `yaml:"max_gas_price_gwei" json:"max_gas_price_gwei"`
	FallbackGas     uint64   `yaml:"fallback_gas" json:"fallback_gas"`
	RewardBPSTTL    int      `yaml:"reward_bps_ttl" json:"reward_bps_ttl"` // 秒
}

// RefresherConfig 状态刷新配置
type RefresherConfig struct {
	StatusInterval int `yaml:"status_interval" json:"status_interval"` // 秒, 仅重算状态
	FetchInterval  int `yaml:"fetch_interval" json:"fetch_interval"`   // 秒, 重新拉取数据库
	Retention      int `yaml:"retention" json:"retention"`             // 秒, 快照保留已过期或已结算质押的时长
}

// IndexerConfig 链上事件索引配置
type IndexerConfig struct {
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	PollInterval       int    `yaml:"poll_interval" json:"poll_interval"` // 秒
	Confirmations      int    `yaml:"confirmations" json:"confirmations"`
	CheckpointInterval int    `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	BatchSize          uint64 `yaml:"batch_size" json:"batch_size"`
	StartBlock         uint64 `yaml:"start_block" json:"start_block"`
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	Enabled       bool              `yaml:"enabled" json:"enabled"`
	MaxConcurrent int               `yaml:"max_concurrent" json:"max_concurrent"`
	Jobs          map[string]string `yaml:"jobs" json:"jobs"` // 任务名 -> cron 表达式
}

// LocationConfig 定位配置
type LocationConfig struct {
	HighAccuracy bool `yaml:"high_accuracy" json:"high_accuracy"`
	Timeout      int  `yaml:"timeout" json:"timeout"` // 秒
	MaxAge       int  `yaml:"max_age" json:"max_age"` // 秒
}

// RateLimitConfig 写接口限流配置 (按客户端 IP)
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Window  int  `yaml:"window" json:"window"` // 秒
	Limit   int  `yaml:"limit" json:"limit"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
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

	return &cfg, nil
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

		parts := strings.SplitN(result[start+2:end], ":", 2)
		value := os.Getenv(parts[0])
		if value == "" && len(parts) > 1 {
			value = parts[1]
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值, 区块链默认 Avalanche Fuji 测试网
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "avaloot"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8080
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50060
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 20
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}
	if cfg.Redis.CacheTTL == 0 {
		cfg.Redis.CacheTTL = 30
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.Service.Name
	}

	if cfg.Blockchain.Network == "" {
		cfg.Blockchain.Network = "avalanche-fuji"
	}
	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 43113
	}
	if cfg.Blockchain.RPCURL == "" {
		cfg.Blockchain.RPCURL = "https://api.avax-test.network/ext/bc/C/rpc"
	}
	if cfg.Blockchain.ExplorerURL == "" {
		cfg.Blockchain.ExplorerURL = "https://testnet.snowtrace.io"
	}
	if cfg.Blockchain.ReceiptTimeout == 0 {
		cfg.Blockchain.ReceiptTimeout = 120
	}
	if cfg.Blockchain.ReceiptPoll == 0 {
		cfg.Blockchain.ReceiptPoll = 1000
	}
	if cfg.Blockchain.MaxGasPriceGwei == 0 {
		cfg.Blockchain.MaxGasPriceGwei = 500
	}
	if cfg.Blockchain.FallbackGas == 0 {
		cfg.Blockchain.FallbackGas = 200000
	}
	if cfg.Blockchain.RewardBPSTTL == 0 {
		cfg.Blockchain.RewardBPSTTL = 300
	}

	if cfg.Refresher.StatusInterval == 0 {
		cfg.Refresher.StatusInterval = 10
	}
	if cfg.Refresher.FetchInterval == 0 {
		cfg.Refresher.FetchInterval = 20
	}
	// 拉取间隔限定在 10-30 秒
	if cfg.Refresher.FetchInterval < 10 {
		cfg.Refresher.FetchInterval = 10
	}
	if cfg.Refresher.FetchInterval > 30 {
		cfg.Refresher.FetchInterval = 30
	}

	if cfg.Indexer.PollInterval == 0 {
		cfg.Indexer.PollInterval = 3
	}
	if cfg.Indexer.Confirmations == 0 {
		cfg.Indexer.Confirmations = 1
	}
	if cfg.Indexer.CheckpointInterval == 0 {
		cfg.Indexer.CheckpointInterval = 10
	}
	if cfg.Indexer.BatchSize == 0 {
		cfg.Indexer.BatchSize = 2000
	}

	if cfg.Scheduler.MaxConcurrent == 0 {
		cfg.Scheduler.MaxConcurrent = 3
	}

	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 60
	}
	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = 20
	}

	if cfg.Location.Timeout == 0 {
		cfg.Location.Timeout = 10
	}
	if cfg.Location.MaxAge == 0 {
		cfg.Location.MaxAge = 60
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
