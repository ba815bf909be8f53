package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述结算引擎在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	Events     EventsConfig     `json:"events"`
	Identity   IdentityConfig   `json:"identity"`
	Reputation ReputationConfig `json:"reputation"`
	Bank       BankConfig       `json:"bank"`
	Settlement SettlementConfig `json:"settlement"`
	Logging    LoggingConfig    `json:"logging"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述支付与分账存储的后端选择。
type StorageConfig struct {
	Driver        string `json:"driver"`
	DSN           string `json:"dsn"`
	MaxOpenConns  int    `json:"max_open_conns"`
	MaxIdleConns  int    `json:"max_idle_conns"`
	RunMigrations bool   `json:"run_migrations"`
}

// EventsConfig 选择审计事件总线的实现。
type EventsConfig struct {
	Driver     string `json:"driver"`
	BufferSize int    `json:"buffer_size"`
	Workers    int    `json:"workers"`
	Redis      struct {
		Address  string `json:"address"`
		Password string `json:"password"`
		DB       int    `json:"db"`
		Queue    string `json:"queue"`
	} `json:"redis"`
	RabbitMQ struct {
		URL   string `json:"url"`
		Queue string `json:"queue"`
	} `json:"rabbitmq"`
}

// IdentityConfig 选择身份目录的实现。
type IdentityConfig struct {
	Driver    string `json:"driver"`
	ChainFile string `json:"chain_file"`
	Chain     string `json:"chain"`
}

// ReputationConfig 选择声誉预言机与可选的 Redis 缓存。
type ReputationConfig struct {
	Driver string `json:"driver"`
	Cache  struct {
		Enabled    bool   `json:"enabled"`
		Address    string `json:"address"`
		Password   string `json:"password"`
		DB         int    `json:"db"`
		TTLSeconds int    `json:"ttl_seconds"`
	} `json:"cache"`
}

// BankConfig 选择价值通道的实现。
type BankConfig struct {
	Driver   string `json:"driver"`
	Ethereum struct {
		RPCURL          string `json:"rpc_url"`
		ContractAddress string `json:"contract_address"`
		PrivateKey      string `json:"private_key"`
		ChainID         int64  `json:"chain_id"`
	} `json:"ethereum"`
}

// SettlementConfig 描述管理面初始值。
type SettlementConfig struct {
	Admin          string `json:"admin"`
	ProtocolFeeBps uint32 `json:"protocol_fee_bps"`
	Treasury       string `json:"treasury"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level        string `json:"level"`
	AuditDir     string `json:"audit_dir"`
	AuditMaxSize int64  `json:"audit_max_size"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 256
	}
	if c.Events.Workers <= 0 {
		c.Events.Workers = 2
	}
	if c.Events.Redis.Queue == "" {
		c.Events.Redis.Queue = "agentpay:events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "agentpay.events"
	}

	if c.Identity.Driver == "" {
		c.Identity.Driver = "memory"
	}
	if c.Identity.ChainFile != "" && !filepath.IsAbs(c.Identity.ChainFile) {
		c.Identity.ChainFile = filepath.Join(baseDir, c.Identity.ChainFile)
	}

	if c.Reputation.Driver == "" {
		c.Reputation.Driver = "memory"
	}
	if c.Reputation.Cache.TTLSeconds <= 0 {
		c.Reputation.Cache.TTLSeconds = 30
	}

	if c.Bank.Driver == "" {
		c.Bank.Driver = "memory"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.AuditDir == "" {
		c.Logging.AuditDir = filepath.Join(baseDir, "logs")
	} else if !filepath.IsAbs(c.Logging.AuditDir) {
		c.Logging.AuditDir = filepath.Join(baseDir, c.Logging.AuditDir)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
