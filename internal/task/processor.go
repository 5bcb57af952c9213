package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"OpenNFT-Agent/internal/agent"
	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/observability/alerting"
	"OpenNFT-Agent/internal/observability/metrics"
	"OpenNFT-Agent/pkg/logger"
)

// Executor 定义了处理器所需的 Agent 能力。
type Executor interface {
	Handle(ctx context.Context, msg agent.Message) (*agent.Reply, error)
}

// Processor 负责从队列消费任务并交给 Agent 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	metrics     *metrics.Metrics

	persistAttempts int
	persistBackoff  time.Duration
	staleAfter      time.Duration
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithProcessorMetrics 配置指标收集器。
func WithProcessorMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithPersistRetry 设置写入执行结果的尝试次数与首次退避间隔，退避逐次翻倍。
func WithPersistRetry(attempts int, backoff time.Duration) ProcessorOption {
	return func(p *Processor) {
		if attempts > 0 {
			p.persistAttempts = attempts
		}
		if backoff > 0 {
			p.persistBackoff = backoff
		}
	}
}

// WithStaleTaskRecovery 开启对卡在运行中状态的任务的清理，after 为任务无更新的最长时间。
func WithStaleTaskRecovery(after time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.staleAfter = after
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task"),

		persistAttempts: 5,
		persistBackoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	if p.staleAfter > 0 {
		go p.recoverLoop(ctx)
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	msg := agent.Message{ID: task.ID, UserID: task.UserID, Text: task.Message}
	if task.Action != "" {
		msg.Intent = &agent.Intent{Action: task.Action, Params: cloneParams(task.Params)}
	}
	reply, execErr := p.executor.Handle(ctx, msg)
	if execErr != nil && (reply == nil || reply.TxHash == "") {
		return p.handleExecutionFailure(ctx, task, execErr)
	}
	if execErr != nil {
		// 交易已上链但流水写入失败：保留结果，不再重试以免重复发送交易。
		logger.Audit().Warn("任务交易已完成但流水写入失败",
			slog.String("task_id", task.ID),
			slog.String("tx_hash", reply.TxHash),
			slog.String("error", execErr.Error()),
		)
		p.emitAlert(ctx, task, xerrors.CodeOf(execErr), execErr, "ledger")
	}

	record := resultFromReply(reply)
	if err := p.persistResult(ctx, task.ID, record); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		if record.TxHash != "" {
			// 交易已上链：不重新执行，结果保留在审计日志中，任务由过期清理收尾。
			logger.Audit().Error("任务交易结果写入失败",
				slog.String("task_id", task.ID),
				slog.String("action", record.Action),
				slog.String("tx_hash", record.TxHash),
				slog.String("reply", record.Reply),
				slog.String("error", err.Error()),
			)
			p.emitAlert(ctx, task, xerrors.CodeOf(err), err, "persist")
			return nil
		}
		if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), false); storeErr != nil {
			p.logger.Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", task.ID))
		}
		p.metrics.ObserveRetry()
		return nil
	}
	p.metrics.ObserveTask(string(StatusSucceeded))
	logger.Audit().Info("任务执行完成",
		slog.String("task_id", task.ID),
		slog.String("action", record.Action),
		slog.String("tx_hash", record.TxHash),
		slog.Bool("failed", record.Failed),
		slog.String("error_code", record.ErrorCode),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

// persistResult 在有限次数内重试写入结果，任务已不存在时立即返回。
func (p *Processor) persistResult(ctx context.Context, id string, record ExecutionResult) error {
	backoff := p.persistBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = p.store.MarkSucceeded(ctx, id, record); err == nil || stdErrors.Is(err, ErrTaskNotFound) {
			return err
		}
		if attempt >= p.persistAttempts {
			return err
		}
		p.logger.Warn("写入任务结果失败，准备重试",
			slog.String("task_id", id),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return stdErrors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("action", task.Action),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	if !retryable {
		stage = "non_retryable"
	} else if terminal {
		stage = "terminal"
	}
	p.emitAlert(ctx, task, code, execErr, stage)

	if terminal {
		p.metrics.ObserveTask(string(StatusFailed))
		return nil
	}
	if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
		return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
	}
	p.metrics.ObserveRetry()
	p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Action:     task.Action,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}

func resultFromReply(reply *agent.Reply) ExecutionResult {
	if reply == nil {
		return ExecutionResult{}
	}
	return ExecutionResult{
		Reply:     reply.Text,
		Action:    reply.Action,
		TxHash:    reply.TxHash,
		Failed:    reply.Failed,
		ErrorCode: reply.ErrorCode,
	}
}
