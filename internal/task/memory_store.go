package task

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "OpenNFT-Agent/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，适用于单进程部署与测试。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if err := validateNew(task); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	now := time.Now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// Claim 将任务状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	switch task.Status {
	case StatusSucceeded:
		return cloneTask(task), ErrTaskCompleted
	case StatusRunning:
		return cloneTask(task), ErrTaskConflict
	}
	if task.Attempts >= task.MaxRetries {
		return cloneTask(task), ErrTaskExhausted
	}
	task.Status = StatusRunning
	task.Attempts++
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = time.Now().Unix()
	return cloneTask(task), nil
}

// MarkSucceeded 记录处理结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusSucceeded
	task.Result = &result
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记任务失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusFailed
	task.LastError = lastError
	task.ErrorCode = string(code)
	if terminal {
		task.MaxRetries = task.Attempts
	}
	task.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的任务，默认最近更新的在前。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if matchesListFilters(task, opts) {
			results = append(results, cloneTask(task))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.OldestFirst {
			return newerThan(results[j], results[i])
		}
		return newerThan(results[i], results[j])
	})

	if opts.Offset >= len(results) {
		return []*Task{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func newerThan(a, b *Task) bool {
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

// Stats 统计符合过滤条件的任务，分页参数不生效。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	var stats TaskStats
	for _, task := range m.tasks {
		if matchesListFilters(task, opts) {
			stats.add(task)
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func validateNew(task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	return nil
}

func cloneTask(task *Task) *Task {
	clone := *task
	if task.Result != nil {
		resultCopy := *task.Result
		clone.Result = &resultCopy
	}
	clone.Params = cloneParams(task.Params)
	return &clone
}

func matchesListFilters(task *Task, opts ListOptions) bool {
	if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, task.Status) {
		return false
	}
	if opts.UserID != "" && task.UserID != opts.UserID {
		return false
	}
	if opts.Action != "" && !matchesAction(task, opts.Action) {
		return false
	}
	if opts.UpdatedGTE > 0 && task.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && task.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && task.Result.Empty() == *opts.HasResult {
		return false
	}
	if opts.FailedReply != nil && (task.Result != nil && task.Result.Failed) != *opts.FailedReply {
		return false
	}
	if opts.Query != "" && !matchesQuery(task, strings.ToLower(opts.Query)) {
		return false
	}
	return true
}

func matchesAction(task *Task, action string) bool {
	if strings.EqualFold(task.Action, action) {
		return true
	}
	return task.Result != nil && strings.EqualFold(task.Result.Action, action)
}

func matchesQuery(task *Task, q string) bool {
	fields := []string{task.ID, task.UserID, task.Message, task.Action, task.LastError}
	if task.Result != nil {
		fields = append(fields, task.Result.Reply, task.Result.Action, task.Result.TxHash)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
