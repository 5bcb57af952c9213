package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"OpenNFT-Agent/internal/actions"
	"OpenNFT-Agent/internal/agent"
	"OpenNFT-Agent/internal/config"
	"OpenNFT-Agent/internal/ledger"
	"OpenNFT-Agent/internal/llm"
	"OpenNFT-Agent/internal/llm/openai"
	"OpenNFT-Agent/internal/nft"
	"OpenNFT-Agent/internal/observability/alerting"
	"OpenNFT-Agent/internal/observability/metrics"
	"OpenNFT-Agent/internal/storage/bolt"
	"OpenNFT-Agent/internal/storage/mysql"
	"OpenNFT-Agent/internal/task"
	"OpenNFT-Agent/internal/web3/provider"
	"OpenNFT-Agent/pkg/logger"
)

// runtime 持有一次命令执行所需的全部组件。
type runtime struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	registry *provider.Registry
	market   *nft.Service
	agent    *agent.Agent
	closers  []func() error
}

// loadConfig 读取配置文件；文件不存在时使用默认配置。
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(filepath.Dir(path))
	}
	return config.Load(path)
}

// newRuntime 按配置初始化日志、链客户端、市场 SDK、操作流水与 Agent。
func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	rt := &runtime{cfg: cfg, metrics: metrics.Default()}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	registry, err := provider.NewRegistry(c.Context, cfg.Web3)
	if err != nil {
		return nil, err
	}
	rt.registry = registry
	rt.closers = append(rt.closers, func() error { registry.Close(); return nil })

	chain, err := registry.Default()
	if err != nil {
		return nil, err
	}
	market, err := nft.NewService(chain.Client, chain.Contracts,
		nft.WithCacheTTL(cfg.Web3.ListingCacheTTL()),
		nft.WithReceiptTimeout(cfg.Web3.ReceiptTimeout()),
		nft.WithMetrics(rt.metrics),
	)
	if err != nil {
		return nil, err
	}
	rt.market = market

	repo, err := rt.openLedger(c.Context)
	if err != nil {
		return nil, err
	}

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	opts := []agent.Option{
		agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
		agent.WithMetrics(rt.metrics),
		agent.WithChainID(strconv.FormatInt(chain.ChainID, 10)),
	}
	if llmClient != nil {
		opts = append(opts, agent.WithLLMTimeout(cfg.LLM.OpenAI.Timeout()))
	}
	rt.agent = agent.New(llmClient, actions.NewDefaultSet(market), repo, opts...)

	logger.L().Info("NFT Agent 已初始化",
		slog.String("chain", chain.Name),
		slog.Int64("chain_id", chain.ChainID),
		slog.String("wallet", market.Address().Hex()),
		slog.String("nft", chain.Contracts.NFT.Hex()),
		slog.String("marketplace", chain.Contracts.Marketplace.Hex()),
		slog.String("llm", cfg.LLM.Provider),
	)
	ok = true
	return rt, nil
}

func (rt *runtime) openLedger(ctx context.Context) (ledger.Repository, error) {
	switch strings.ToLower(rt.cfg.Storage.Ledger.Driver) {
	case "", "bolt":
		repo, err := bolt.Open(rt.cfg.Storage.Ledger.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, repo.Close)
		return repo, nil
	case "mysql":
		repo, err := mysql.OpenLedger(ctx, rt.mysqlConfig(rt.cfg.Storage.Ledger.DSN))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, repo.Close)
		return repo, nil
	case "memory":
		return ledger.NewMemoryRepository(0), nil
	default:
		return nil, fmt.Errorf("未知的流水存储驱动: %s", rt.cfg.Storage.Ledger.Driver)
	}
}

func (rt *runtime) mysqlConfig(dsn string) mysql.Config {
	store := rt.cfg.Storage.TaskStore
	return mysql.Config{
		DSN:             dsn,
		MaxOpenConns:    store.MaxOpenConns,
		MaxIdleConns:    store.MaxIdleConns,
		ConnMaxLifetime: time.Duration(store.ConnMaxLifetimeSeconds) * time.Second,
	}
}

// openTasks 构造任务存储与队列。
func (rt *runtime) openTasks(ctx context.Context) (task.Store, task.Queue, error) {
	var store task.Store
	switch strings.ToLower(rt.cfg.Storage.TaskStore.Driver) {
	case "", "memory":
		store = task.NewMemoryStore()
	case "mysql":
		s, err := task.OpenMySQLStore(ctx, rt.mysqlConfig(rt.cfg.Storage.TaskStore.DSN))
		if err != nil {
			return nil, nil, err
		}
		store = s
	default:
		return nil, nil, fmt.Errorf("未知的任务存储驱动: %s", rt.cfg.Storage.TaskStore.Driver)
	}

	queueCfg := rt.cfg.TaskQueue
	queue, err := task.OpenQueue(ctx, task.QueueConfig{
		Driver: queueCfg.Driver,
		Buffer: queueCfg.Buffer,
		Redis: task.RedisQueueConfig{
			Address:   queueCfg.Redis.Address,
			Password:  queueCfg.Redis.Password,
			DB:        queueCfg.Redis.DB,
			Queue:     queueCfg.Redis.Queue,
			BlockWait: time.Duration(queueCfg.Redis.BlockWait) * time.Second,
		},
		RabbitMQ: task.RabbitMQConfig{
			URL:        queueCfg.RabbitMQ.URL,
			Queue:      queueCfg.RabbitMQ.Queue,
			Prefetch:   queueCfg.RabbitMQ.Prefetch,
			Durable:    queueCfg.RabbitMQ.Durable,
			AutoDelete: queueCfg.RabbitMQ.AutoDelete,
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, queue, nil
}

// alerter 组合审计日志与配置的 webhook 告警渠道。
func (rt *runtime) alerter() (alerting.Dispatcher, error) {
	notifiers := []alerting.Notifier{&alerting.AuditNotifier{}}
	for _, hook := range rt.cfg.Alerting.Webhooks {
		n, err := alerting.NewWebhookNotifier(hook.Kind, hook.URL)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	return alerting.NewFanout(notifiers...), nil
}

// Close 按初始化的逆序释放资源。
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			logger.L().Warn("释放资源失败", slog.Any("error", err))
		}
	}
	rt.closers = nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "", "none":
		return nil, nil
	case "openai":
		if strings.TrimSpace(cfg.LLM.OpenAI.APIKey) == "" {
			return nil, fmt.Errorf("OpenAI provider 需要配置 api_key 或环境变量 %s", cfg.LLM.OpenAI.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
