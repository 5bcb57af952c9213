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

	"github.com/joho/godotenv"

	"OpenNFT-Agent/pkg/logger"
)

// 环境变量名称。环境变量优先于配置文件。
const (
	EnvConfigPath = "NFTAGENT_CONFIG"
	EnvPrivateKey = "NFTAGENT_PRIVATE_KEY"
	EnvRPCURL     = "SEPOLIA_RPC_URL"
	EnvOpenAIKey  = "OPENAI_API_KEY"
)

// Config 描述了 NFT Agent 在启动阶段需要加载的核心配置。
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Storage   StorageConfig   `json:"storage"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	LLM       LLMConfig       `json:"llm"`
	Web3      Web3Config      `json:"web3"`
	Metrics   MetricsConfig   `json:"metrics"`
	Alerting  AlertingConfig  `json:"alerting"`
	Logging   logger.Config   `json:"logging"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// AgentConfig 控制对话编排行为。
type AgentConfig struct {
	MemoryDepth int `json:"memory_depth"`
}

// StorageConfig 统一描述任务存储与操作账本的后端。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
	Ledger    LedgerConfig    `json:"ledger"`
}

// TaskStoreConfig 指定任务存储驱动，支持 memory 与 mysql。
type TaskStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	Retries                int    `json:"retries"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// LedgerConfig 指定操作账本驱动，支持 bolt 与 mysql。
type LedgerConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	DSN    string `json:"dsn"`
}

// TaskQueueConfig 描述任务队列驱动以及工作协程数量。
type TaskQueueConfig struct {
	Driver string `json:"driver"`
	Worker int    `json:"worker"`
	Buffer int    `json:"buffer"`
	// 运行中任务超过 StaleAfterSeconds 秒未更新即标记为中断。0 使用默认值，负数关闭。
	StaleAfterSeconds int            `json:"stale_after_seconds"`
	Redis             RedisConfig    `json:"redis"`
	RabbitMQ          RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 是 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 是 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 用于配置意图识别所用的大模型。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// StaleAfter 返回运行中任务被判定为中断前的最长无更新时间，0 表示关闭。
func (c TaskQueueConfig) StaleAfter() time.Duration {
	if c.StaleAfterSeconds < 0 {
		return 0
	}
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// Timeout 返回请求超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Web3Config 包含访问区块链节点与签名所需的信息。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	// RPCURL 填充未配置 rpc_url 的链，或在没有链定义时作为默认链。
	RPCURL              string `json:"rpc_url"`
	PrivateKey          string `json:"-"`
	ReceiptPollSeconds  int    `json:"receipt_poll_seconds"`
	ReceiptTimeoutSecs  int    `json:"receipt_timeout_seconds"`
	ListingCacheSeconds int    `json:"listing_cache_seconds"`
}

// ReceiptPoll 返回回执轮询间隔。
func (c Web3Config) ReceiptPoll() time.Duration {
	if c.ReceiptPollSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.ReceiptPollSeconds) * time.Second
}

// ReceiptTimeout 返回等待回执的最长时间。
func (c Web3Config) ReceiptTimeout() time.Duration {
	if c.ReceiptTimeoutSecs <= 0 {
		return 3 * time.Minute
	}
	return time.Duration(c.ReceiptTimeoutSecs) * time.Second
}

// ListingCacheTTL 返回挂单读取缓存的有效期。
func (c Web3Config) ListingCacheTTL() time.Duration {
	if c.ListingCacheSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ListingCacheSeconds) * time.Second
}

// MetricsConfig 控制 Prometheus 指标端点。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// AlertingConfig 配置任务失败告警。审计日志渠道始终开启。
type AlertingConfig struct {
	Webhooks []WebhookConfig `json:"webhooks"`
}

// WebhookConfig 描述一个机器人 webhook，kind 支持 slack 与 dingtalk。
type WebhookConfig struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
	EnvFile string `json:"env_file"`
}

// Load 负责解析指定路径的 JSON 配置文件，并叠加 .env 与环境变量。
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

	baseDir := filepath.Dir(path)
	cfg.applyDefaults(baseDir)
	if err := loadEnvFile(cfg.Runtime.EnvFile); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，供命令行直接调用使用。
func Default(baseDir string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	if err := loadEnvFile(cfg.Runtime.EnvFile); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// loadEnvFile 读取 .env 文件；已存在的环境变量不会被覆盖。
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("加载环境变量文件失败: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvPrivateKey)); v != "" {
		c.Web3.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRPCURL)); v != "" {
		c.Web3.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv(c.LLM.OpenAI.APIKeyEnv)); v != "" {
		c.LLM.OpenAI.APIKey = v
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 5
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}
	if c.Storage.Ledger.Driver == "" {
		c.Storage.Ledger.Driver = "bolt"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 2
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 1024
	}
	if c.TaskQueue.StaleAfterSeconds == 0 {
		c.TaskQueue.StaleAfterSeconds = 900
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = EnvOpenAIKey
	}

	if c.Web3.DefaultChain == "" {
		c.Web3.DefaultChain = "sepolia"
	}
	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
	if c.Runtime.EnvFile == "" {
		c.Runtime.EnvFile = filepath.Join(baseDir, ".env")
	} else {
		c.Runtime.EnvFile = resolve(baseDir, c.Runtime.EnvFile)
	}
	if c.Storage.Ledger.Path == "" {
		c.Storage.Ledger.Path = filepath.Join(c.Runtime.DataDir, "ledger.db")
	} else {
		c.Storage.Ledger.Path = resolve(baseDir, c.Storage.Ledger.Path)
	}
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
