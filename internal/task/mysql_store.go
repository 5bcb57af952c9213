package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "OpenNFT-Agent/internal/errors"
	storage "OpenNFT-Agent/internal/storage/mysql"
)

// MySQLStore 使用 MySQL 的 task_states 表记录任务状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于已迁移的连接池创建 MySQLStore。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// OpenMySQLStore 建立连接池、执行迁移并返回 MySQLStore。
func OpenMySQLStore(ctx context.Context, cfg storage.Config) (*MySQLStore, error) {
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewMySQLStore(db), nil
}

const taskColumns = `id, user_id, message, action, params, status, attempts, max_retries, last_error, error_code,
        result_reply, result_action, result_tx_hash, result_failed, result_error_code, created_at, updated_at`

const (
	insertTaskSQL = `INSERT INTO task_states
        (id, user_id, message, action, params, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`
	getTaskSQL   = `SELECT ` + taskColumns + ` FROM task_states WHERE id = ?`
	claimTaskSQL = `UPDATE task_states SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`
	succeedTaskSQL = `UPDATE task_states SET status = ?, result_reply = ?, result_action = ?, result_tx_hash = ?,
        result_failed = ?, result_error_code = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`
	failTaskSQL = `UPDATE task_states SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        max_retries = CASE WHEN ? THEN attempts ELSE max_retries END WHERE id = ?`
)

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if err := validateNew(task); err != nil {
		return err
	}

	now := time.Now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	params, err := marshalParams(task.Params)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务参数失败")
	}

	_, err = s.db.ExecContext(ctx, insertTaskSQL,
		task.ID,
		task.UserID,
		task.Message,
		task.Action,
		params,
		string(task.Status),
		task.Attempts,
		task.MaxRetries,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, getTaskSQL, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	res, err := s.db.ExecContext(ctx, claimTaskSQL,
		string(StatusRunning),
		time.Now().Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return task, nil
	}
	switch {
	case task.Status == StatusSucceeded:
		return task, ErrTaskCompleted
	case task.Status != StatusRunning && task.Attempts >= task.MaxRetries:
		return task, ErrTaskExhausted
	default:
		return task, ErrTaskConflict
	}
}

// MarkSucceeded 将任务标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	res, err := s.db.ExecContext(ctx, succeedTaskSQL,
		string(StatusSucceeded),
		result.Reply,
		result.Action,
		result.TxHash,
		result.Failed,
		result.ErrorCode,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkFailed 将任务标记为失败，terminal 时收紧重试上限。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	res, err := s.db.ExecContext(ctx, failTaskSQL,
		string(StatusFailed),
		lastError,
		string(code),
		time.Now().Unix(),
		terminal,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List 返回符合过滤条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	query := `SELECT ` + taskColumns + ` FROM task_states`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.OldestFirst {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN status = ? AND result_failed = 1 THEN 1 ELSE 0 END), 0) AS failed_replies,
        COALESCE(SUM(CASE WHEN status = ? AND result_tx_hash <> '' THEN 1 ELSE 0 END), 0) AS broadcast,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM task_states`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed),
		string(StatusSucceeded), string(StatusSucceeded)}
	args = append(args, filterArgs...)

	var stats TaskStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.FailedReplies,
		&stats.Broadcast,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task      Task
		result    ExecutionResult
		status    string
		params    sql.NullString
		lastError sql.NullString
		reply     sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Message,
		&task.Action,
		&params,
		&status,
		&task.Attempts,
		&task.MaxRetries,
		&lastError,
		&task.ErrorCode,
		&reply,
		&result.Action,
		&result.TxHash,
		&result.Failed,
		&result.ErrorCode,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.LastError = lastError.String
	result.Reply = reply.String
	if !result.Empty() {
		task.Result = &result
	}
	decoded, err := unmarshalParams(params)
	if err != nil {
		return nil, err
	}
	task.Params = decoded
	return &task, nil
}

func marshalParams(params map[string]string) (sql.NullString, error) {
	if len(params) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalParams(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var params map[string]string
	if err := json.Unmarshal([]byte(raw.String), &params); err != nil {
		return nil, fmt.Errorf("解析任务参数失败: %w", err)
	}
	return params, nil
}

const resultPresent = "(result_reply <> '' OR result_action <> '' OR result_tx_hash <> '' OR result_failed = 1 OR result_error_code <> '')"

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 12)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.Action != "" {
		conditions = append(conditions, "(action = ? OR result_action = ?)")
		args = append(args, opts.Action, opts.Action)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, resultPresent)
		} else {
			conditions = append(conditions, "NOT "+resultPresent)
		}
	}
	if opts.FailedReply != nil {
		conditions = append(conditions, "result_failed = ?")
		args = append(args, *opts.FailedReply)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		columns := []string{"id", "user_id", "message", "action", "last_error", "result_reply", "result_action", "result_tx_hash"}
		likes := make([]string, 0, len(columns))
		for _, col := range columns {
			likes = append(likes, col+" LIKE ?")
			args = append(args, pattern)
		}
		conditions = append(conditions, "("+strings.Join(likes, " OR ")+")")
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
