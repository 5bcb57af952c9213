package task

import (
	stdErrors "errors"

	xerrors "OpenNFT-Agent/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecutionResult 保存一次消息处理的回复。
type ExecutionResult struct {
	Reply     string `json:"reply"`
	Action    string `json:"action,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Empty 判断结果是否尚未写入。
func (r *ExecutionResult) Empty() bool {
	return r == nil || (r.Reply == "" && r.Action == "" && r.TxHash == "" && !r.Failed && r.ErrorCode == "")
}

// Task 描述一条排队处理的对话消息。Action 非空时跳过意图识别。
type Task struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id,omitempty"`
	Message    string            `json:"message"`
	Action     string            `json:"action,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Status     Status            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Result     *ExecutionResult  `json:"result,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// Done 判断任务是否已进入终态。
func (t *Task) Done() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed && t.Attempts >= t.MaxRetries
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskCompleted 表示任务已经成功完成。
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "task already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrTaskExhausted 表示任务的重试次数已经耗尽。
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "task retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeTaskNotFound    xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict    xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted   xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted   xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation  xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish     xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing  xerrors.Code = "TASK_PROCESSING_FAILED"
	CodeTaskInterrupted xerrors.Code = "TASK_INTERRUPTED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:   "task not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "task conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskCompleted, xerrors.Attributes{
		Message:   "task already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:   "task retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:   "task validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:   "task execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskInterrupted, xerrors.Attributes{
		Message:   "task interrupted while running",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// IsTaskError 判断错误是否为统一任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrTaskNotFound) {
		return target == CodeTaskNotFound
	}
	if stdErrors.Is(err, ErrTaskConflict) {
		return target == CodeTaskConflict
	}
	if stdErrors.Is(err, ErrTaskCompleted) {
		return target == CodeTaskCompleted
	}
	if stdErrors.Is(err, ErrTaskExhausted) {
		return target == CodeTaskExhausted
	}
	return false
}

func cloneParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	cloned := make(map[string]string, len(params))
	for key, value := range params {
		cloned[key] = value
	}
	return cloned
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}
