package task

import (
	"context"
	"fmt"
	"strings"

	xerrors "OpenNFT-Agent/internal/errors"
)

// Handler 处理一个任务 ID。返回错误时，支持确认机制的队列会重新投递该任务，
// 因此处理器只应在重新投递能够推进任务时返回错误。
type Handler func(ctx context.Context, taskID string) error

// Producer 投递待处理的任务 ID。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以 workerCount 个协程消费任务 ID，直到 ctx 结束。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产与消费能力，Service 与 Processor 共用一个实例。
type Queue interface {
	Producer
	Consumer
}

// 队列驱动名称。
const (
	QueueMemory   = "memory"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"
)

// QueueConfig 选择队列驱动。memory 只在单进程内有效，submit 与 serve 分开运行时需使用 redis 或 rabbitmq。
type QueueConfig struct {
	Driver   string
	Buffer   int
	Redis    RedisQueueConfig
	RabbitMQ RabbitMQConfig
}

// OpenQueue 按驱动建立队列连接。
func OpenQueue(ctx context.Context, cfg QueueConfig) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", QueueMemory:
		return NewMemoryQueue(cfg.Buffer), nil
	case QueueRedis:
		q, err := NewRedisQueue(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return q, nil
	case QueueRabbitMQ:
		q, err := NewRabbitMQQueue(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的队列驱动: %s", cfg.Driver))
	}
}
