package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"OpenNFT-Agent/pkg/logger"
)

const recoverPageSize = 100

// RecoverStale 将超过 staleAfter 未更新的运行中任务标记为终态失败，返回处理数量。
// 这些任务可能已经广播过交易，因此不会重新执行。
func (p *Processor) RecoverStale(ctx context.Context) (int, error) {
	if p.staleAfter <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-p.staleAfter)
	recovered := 0
	for {
		stale, err := p.store.List(ctx, ListOptions{
			Limit:       recoverPageSize,
			Statuses:    []Status{StatusRunning},
			UpdatedLTE:  cutoff.Unix(),
			OldestFirst: true,
		})
		if err != nil {
			return recovered, err
		}
		for _, task := range stale {
			reason := fmt.Sprintf("任务运行超过 %s 未更新，结果未知，请在审计日志或链上核对", p.staleAfter)
			if err := p.store.MarkFailed(ctx, task.ID, CodeTaskInterrupted, reason, true); err != nil {
				return recovered, err
			}
			recovered++
			logger.Audit().Warn("运行中任务已过期",
				slog.String("task_id", task.ID),
				slog.String("action", task.Action),
				slog.Int("attempts", task.Attempts),
				slog.Int64("updated_at", task.UpdatedAt),
			)
			p.emitAlert(ctx, task, CodeTaskInterrupted, nil, "interrupted")
			p.metrics.ObserveTask(string(StatusFailed))
		}
		// 已处理的任务离开了 running 状态，下一页仍从头读取。
		if len(stale) < recoverPageSize {
			return recovered, nil
		}
	}
}

func (p *Processor) recoverLoop(ctx context.Context) {
	interval := max(p.staleAfter/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := p.RecoverStale(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("清理过期任务失败", slog.Any("error", err))
		} else if n > 0 {
			p.logger.Warn("已清理过期任务", slog.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
