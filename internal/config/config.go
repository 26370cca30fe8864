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

	"DappBridge/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "BRIDGE_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
const DefaultPath = "configs/bridge.json"

// Config 描述了桥接进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  logger.Config  `json:"logging"`
	Web3     Web3Config     `json:"web3"`
	Wallet   WalletConfig   `json:"wallet"`
	Contract ContractConfig `json:"contract"`
	Roles    RolesConfig    `json:"roles"`
	Storage  StorageConfig  `json:"storage"`
	Notify   NotifyConfig   `json:"notify"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务与指标端点的监听地址。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
	APIToken       string `json:"api_token"`
	APITokenEnv    string `json:"api_token_env"`
}

// Web3Config 描述链配置文件以及默认链。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
}

// 钱包提供方类型。
const (
	WalletProviderKeyed = "keyed"
	WalletProviderRPC   = "rpc"
	WalletProviderNone  = "none"
)

// WalletConfig 描述会话使用的钱包提供方。
type WalletConfig struct {
	Provider      string `json:"provider"`
	SessionID     string `json:"session_id"`
	Keystore      string `json:"keystore"`
	PassphraseEnv string `json:"passphrase_env"`
	PrivateKeyEnv string `json:"private_key_env"`
	RPCURL        string `json:"rpc_url"`
	AutoApprove   bool   `json:"auto_approve"`
}

// ContractConfig 描述远端合约端点。
type ContractConfig struct {
	Chain                 string `json:"chain"`
	Address               string `json:"address"`
	ABIPath               string `json:"abi_path"`
	ConfirmTimeoutSeconds int    `json:"confirm_timeout_seconds"`
	PollIntervalMillis    int    `json:"poll_interval_millis"`
}

// ConfirmTimeout 返回等待交易确认的超时时间。
func (c ContractConfig) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// PollInterval 返回轮询交易回执的间隔。
func (c ContractConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// RolesConfig 指定角色相关的合约操作名。
type RolesConfig struct {
	CheckOperation    string `json:"check_operation"`
	RegisterOperation string `json:"register_operation"`
}

// StorageConfig 统一描述调用日志与会话快照的存储后端。
type StorageConfig struct {
	Journal  JournalConfig  `json:"journal"`
	Snapshot SnapshotConfig `json:"snapshot"`
}

// JournalConfig 支持 memory 与 mysql 两种驱动。
type JournalConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTime int    `json:"conn_max_idle_seconds"`
}

// SnapshotConfig 支持 memory 与 redis 两种驱动。
type SnapshotConfig struct {
	Driver     string      `json:"driver"`
	Redis      RedisConfig `json:"redis"`
	TTLSeconds int         `json:"ttl_seconds"`
}

// RedisConfig 描述 Redis 连接参数，密码通过环境变量提供。
type RedisConfig struct {
	Address     string `json:"address"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
	Prefix      string `json:"prefix"`
}

// Password 从环境变量读取 Redis 密码。
func (r RedisConfig) Password() string {
	if strings.TrimSpace(r.PasswordEnv) == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// NotifyConfig 描述状态变更通知的投递方式。
type NotifyConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	Channel  string         `json:"channel"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// AlertingConfig 控制告警通道。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// PathFromEnv 返回环境变量指定的配置路径，未设置时回退到默认路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
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
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.APIToken == "" && c.Server.APITokenEnv != "" {
		c.Server.APIToken = os.Getenv(c.Server.APITokenEnv)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}

	if c.Web3.ChainConfig != "" {
		c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	}

	c.Wallet.Provider = strings.ToLower(strings.TrimSpace(c.Wallet.Provider))
	if c.Wallet.Provider == "" {
		c.Wallet.Provider = WalletProviderKeyed
	}
	if c.Wallet.Keystore != "" {
		c.Wallet.Keystore = resolve(baseDir, c.Wallet.Keystore)
	}

	if c.Contract.ABIPath != "" {
		c.Contract.ABIPath = resolve(baseDir, c.Contract.ABIPath)
	}
	if c.Contract.ConfirmTimeoutSeconds <= 0 {
		c.Contract.ConfirmTimeoutSeconds = 120
	}
	if c.Contract.PollIntervalMillis <= 0 {
		c.Contract.PollIntervalMillis = 1000
	}
	if c.Contract.Chain == "" {
		c.Contract.Chain = c.Web3.DefaultChain
	}

	if c.Roles.CheckOperation == "" {
		c.Roles.CheckOperation = "isRegistered"
	}
	if c.Roles.RegisterOperation == "" {
		c.Roles.RegisterOperation = "register"
	}

	if c.Storage.Journal.Driver == "" {
		c.Storage.Journal.Driver = "memory"
	}
	if c.Storage.Snapshot.Driver == "" {
		c.Storage.Snapshot.Driver = "memory"
	}
	if c.Storage.Snapshot.TTLSeconds <= 0 {
		c.Storage.Snapshot.TTLSeconds = 7 * 24 * 3600
	}
	if c.Storage.Snapshot.Redis.Prefix == "" {
		c.Storage.Snapshot.Redis.Prefix = "dappbridge"
	}

	if c.Notify.Driver == "" {
		c.Notify.Driver = "none"
	}
	if c.Notify.Channel == "" {
		c.Notify.Channel = "dappbridge:events"
	}

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
}

func (c *Config) validate() error {
	switch c.Wallet.Provider {
	case WalletProviderKeyed, WalletProviderRPC, WalletProviderNone:
	default:
		return fmt.Errorf("不支持的钱包提供方 %q", c.Wallet.Provider)
	}
	if c.Wallet.Provider == WalletProviderRPC && strings.TrimSpace(c.Wallet.RPCURL) == "" {
		return errors.New("rpc 钱包需要配置 wallet.rpc_url")
	}
	switch c.Storage.Journal.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("不支持的调用日志驱动 %q", c.Storage.Journal.Driver)
	}
	switch c.Storage.Snapshot.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("不支持的快照存储驱动 %q", c.Storage.Snapshot.Driver)
	}
	switch c.Notify.Driver {
	case "none", "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("不支持的通知驱动 %q", c.Notify.Driver)
	}
	return nil
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
