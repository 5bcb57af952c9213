package task

// TaskStats 汇总任务状态。FailedReplies 与 Broadcast 只统计已成功处理的任务。
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// FailedReplies 是回复为业务失败的任务数，这类任务不会重试。
	FailedReplies int `json:"failed_replies"`
	// Broadcast 是回复中带有交易哈希的任务数。
	Broadcast       int   `json:"broadcast"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// add 把一条任务计入统计。
func (s *TaskStats) add(task *Task) {
	s.Total++
	switch task.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
		if task.Result != nil && task.Result.Failed {
			s.FailedReplies++
		}
		if task.Result != nil && task.Result.TxHash != "" {
			s.Broadcast++
		}
	case StatusFailed:
		s.Failed++
	}
	if task.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = task.UpdatedAt
	}
	if task.UpdatedAt != 0 && (s.OldestUpdatedAt == 0 || task.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = task.UpdatedAt
	}
}
