package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 AMM 报价智能体在启动阶段需要加载的全部配置。
type Config struct {
	Agent AgentConfig `json:"agent"`
	Web3  Web3Config  `json:"web3"`
	Host  HostConfig  `json:"host"`
	Log   LogConfig   `json:"log"`
}

// AgentConfig 控制报价逻辑本身。
type AgentConfig struct {
	// AuthorizedSender 是唯一允许触发报价的身份。
	AuthorizedSender string `json:"authorized_sender"`
	// ContractID 是查询储备与回写结果的目标合约。
	ContractID           string `json:"contract_id"`
	AccountIDVar         string `json:"account_id_var"`
	PrivateKeyVar        string `json:"private_key_var"`
	ExplorerTxURL        string `json:"explorer_tx_url"`
	ViewTimeoutSeconds   int    `json:"view_timeout_seconds"`
	SubmitTimeoutSeconds int    `json:"submit_timeout_seconds"`
	WaitReceipt          bool   `json:"wait_receipt"`
	FailureReply         bool   `json:"failure_reply"`
}

// ViewTimeout 返回只读调用的超时时间。
func (c AgentConfig) ViewTimeout() time.Duration {
	return time.Duration(c.ViewTimeoutSeconds) * time.Second
}

// SubmitTimeout 返回交易提交（含等待回执）的超时时间。
func (c AgentConfig) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSeconds) * time.Second
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	RPCURL        string `json:"rpc_url"`
	ChainID       int64  `json:"chain_id"`
	ChainConfig   string `json:"chain_config"`
	DefaultChain  string `json:"default_chain"`
	ABIPath       string `json:"abi_path"`
	ExplorerTxURL string `json:"explorer_tx_url"`
}

// HostConfig 选择宿主运行时的实现。
type HostConfig struct {
	Driver   string         `json:"driver"`
	File     FileHostConfig `json:"file"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	SQL      SQLConfig      `json:"sql"`
}

// FileHostConfig 描述基于本地文件的线程。
type FileHostConfig struct {
	ThreadPath string `json:"thread_path"`
	EnvPath    string `json:"env_path"`
	ReplyPath  string `json:"reply_path"`
	DonePath   string `json:"done_path"`
}

// RedisConfig 描述 Redis 宿主的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	KeyPrefix        string `json:"key_prefix"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 宿主的连接参数。
type RabbitMQConfig struct {
	URL         string `json:"url"`
	Queue       string `json:"queue"`
	ReplyQueue  string `json:"reply_queue"`
	WaitSeconds int    `json:"wait_seconds"`
	EnvPath     string `json:"env_path"`
}

// SQLConfig 描述线程存储所在的数据库。
type SQLConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	ThreadID               string `json:"thread_id"`
	AgentName              string `json:"agent_name"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制审计日志的轮转策略。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

const (
	DefaultAuthorizedSender = "ai-is-near.near"
	DefaultAccountIDVar     = "master_account_id"
	DefaultPrivateKeyVar    = "master_private_key"
	DefaultExplorerTxURL    = "https://etherscan.io/tx"
)

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查启动所必需的字段。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.ContractID) == "" {
		return errors.New("agent.contract_id 不能为空")
	}
	switch c.Host.Driver {
	case "file", "redis", "rabbitmq", "sql":
	default:
		return fmt.Errorf("未知的宿主驱动: %s", c.Host.Driver)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Agent.AuthorizedSender == "" {
		c.Agent.AuthorizedSender = DefaultAuthorizedSender
	}
	if c.Agent.AccountIDVar == "" {
		c.Agent.AccountIDVar = DefaultAccountIDVar
	}
	if c.Agent.PrivateKeyVar == "" {
		c.Agent.PrivateKeyVar = DefaultPrivateKeyVar
	}
	if c.Agent.ViewTimeoutSeconds <= 0 {
		c.Agent.ViewTimeoutSeconds = 30
	}
	if c.Agent.SubmitTimeoutSeconds <= 0 {
		c.Agent.SubmitTimeoutSeconds = 60
	}

	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)
	c.Web3.ABIPath = resolvePath(baseDir, c.Web3.ABIPath)

	c.Host.Driver = strings.ToLower(strings.TrimSpace(c.Host.Driver))
	if c.Host.Driver == "" {
		c.Host.Driver = "file"
	}
	c.Host.File.ThreadPath = resolvePath(baseDir, c.Host.File.ThreadPath)
	c.Host.File.EnvPath = resolvePath(baseDir, c.Host.File.EnvPath)
	if c.Host.File.ReplyPath != "-" {
		c.Host.File.ReplyPath = resolvePath(baseDir, c.Host.File.ReplyPath)
	}
	c.Host.File.DonePath = resolvePath(baseDir, c.Host.File.DonePath)
	c.Host.RabbitMQ.EnvPath = resolvePath(baseDir, c.Host.RabbitMQ.EnvPath)

	if c.Host.Redis.KeyPrefix == "" {
		c.Host.Redis.KeyPrefix = "ammagent"
	}
	if c.Host.Redis.BlockWaitSeconds <= 0 {
		c.Host.Redis.BlockWaitSeconds = 5
	}
	if c.Host.RabbitMQ.Queue == "" {
		c.Host.RabbitMQ.Queue = "ammagent.events"
	}
	if c.Host.RabbitMQ.WaitSeconds <= 0 {
		c.Host.RabbitMQ.WaitSeconds = 5
	}
	if c.Host.SQL.Driver == "" {
		c.Host.SQL.Driver = "sqlite3"
	}
	if c.Host.SQL.AgentName == "" {
		c.Host.SQL.AgentName = "ammagent"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Audit.Path = resolvePath(baseDir, c.Log.Audit.Path)
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
