package task

import (
	"strings"
	"time"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListOptions 是任务查询条件，List 与 Stats 共用。零值表示不过滤。
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	// UserID 精确匹配；Action 匹配请求的或最终执行的操作，不区分大小写。
	UserID string
	Action string
	// UpdatedGTE 与 UpdatedLTE 为 Unix 秒，闭区间。
	UpdatedGTE int64
	UpdatedLTE int64
	HasResult  *bool
	// FailedReply 按回复是否为业务失败过滤，例如非持有人或余额不足。
	FailedReply *bool
	OldestFirst bool
	// Query 在任务 ID、用户、消息、操作、最近错误、回复与交易哈希中模糊匹配。
	Query string
}

func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultListLimit
	case opts.Limit > maxListLimit:
		opts.Limit = maxListLimit
	}
	opts.Offset = max(opts.Offset, 0)
	opts.Statuses = validStatuses(opts.Statuses)
	opts.UserID = strings.TrimSpace(opts.UserID)
	opts.Action = strings.ToUpper(strings.TrimSpace(opts.Action))
	opts.Query = strings.TrimSpace(opts.Query)
}

// ListOption 修改查询条件。
type ListOption func(*ListOptions)

// WithLimit 限制返回条数，上限 100。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 n 条。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 只保留指定状态，未知状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = append([]Status(nil), statuses...) }
}

// WithUserID 只保留某个用户提交的任务。
func WithUserID(userID string) ListOption {
	return func(opts *ListOptions) { opts.UserID = userID }
}

// WithAction 只保留请求或最终执行了某个操作的任务，例如 BUY_NFT。
func WithAction(action string) ListOption {
	return func(opts *ListOptions) { opts.Action = action }
}

// WithUpdatedSince 只保留 ts 之后更新过的任务。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留 ts 之前最后更新的任务。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

// WithResultPresence 按是否已有回复过滤。
func WithResultPresence(hasResult bool) ListOption {
	return func(opts *ListOptions) { opts.HasResult = &hasResult }
}

// WithFailedReply 按回复是否为业务失败过滤。
func WithFailedReply(failed bool) ListOption {
	return func(opts *ListOptions) { opts.FailedReply = &failed }
}

// WithOldestFirst 按更新时间升序返回。
func WithOldestFirst() ListOption {
	return func(opts *ListOptions) { opts.OldestFirst = true }
}

// WithQuery 设置模糊匹配关键字，可以是交易哈希片段。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func buildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func validStatuses(input []Status) []Status {
	var out []Status
	for _, status := range input {
		if IsValidStatus(status) && !containsStatus(out, status) {
			out = append(out, status)
		}
	}
	return out
}

func containsStatus(list []Status, status Status) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
