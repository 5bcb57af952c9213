package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	xerrors "OpenNFT-Agent/internal/errors"
)

// Status 表示一次消息处理的结果类别。
type Status string

const (
	// StatusSucceeded 表示操作已执行成功。
	StatusSucceeded Status = "succeeded"
	// StatusFailed 表示操作执行失败，失败原因见 ErrorCode。
	StatusFailed Status = "failed"
	// StatusReplied 表示未触发任何操作，仅返回了对话回复。
	StatusReplied Status = "replied"
)

// ActionRecord 是一条操作流水。
type ActionRecord struct {
	ID        int64             `json:"id"`
	MessageID string            `json:"message_id"`
	UserID    string            `json:"user_id,omitempty"`
	Message   string            `json:"message"`
	Action    string            `json:"action,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	TxHash    string            `json:"tx_hash,omitempty"`
	Status    Status            `json:"status"`
	ErrorCode string            `json:"error_code,omitempty"`
	Reply     string            `json:"reply"`
	ChainID   string            `json:"chain_id,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// Repository 抽象操作流水的持久化。
type Repository interface {
	// Save 追加一条记录，并回填 ID 与 CreatedAt。
	Save(ctx context.Context, record *ActionRecord) error
	// ListLatest 按写入顺序倒序返回最多 limit 条记录。
	ListLatest(ctx context.Context, limit int) ([]ActionRecord, error)
	// ListLatestByUser 与 ListLatest 相同，但只返回 userID 的记录。
	ListLatestByUser(ctx context.Context, userID string, limit int) ([]ActionRecord, error)
}

// DefaultListLimit 是 limit 非法时的默认条数。
const DefaultListLimit = 20

// Validate 检查记录能否落库。
func Validate(record *ActionRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录不能为空")
	}
	if record.MessageID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "消息 ID 不能为空")
	}
	switch record.Status {
	case StatusSucceeded, StatusFailed, StatusReplied:
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的记录状态: "+string(record.Status))
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	return nil
}

// EncodeParams 把参数编码为 JSON，空参数返回空串。
func EncodeParams(params map[string]string) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码操作参数失败")
	}
	return string(raw), nil
}

// DecodeParams 是 EncodeParams 的逆操作。
func DecodeParams(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var params map[string]string
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析操作参数失败")
	}
	return params, nil
}

// MemoryRepository 在内存中保留最近的记录，适合测试与单机对话。
type MemoryRepository struct {
	mu       sync.RWMutex
	records  []ActionRecord
	capacity int
	nextID   int64
}

// NewMemoryRepository 创建内存仓库，capacity <= 0 时保留 512 条。
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = 512
	}
	return &MemoryRepository{capacity: capacity}
}

// Save 实现 Repository 接口。
func (m *MemoryRepository) Save(_ context.Context, record *ActionRecord) error {
	if err := Validate(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID
	stored := *record
	stored.Params = cloneParams(record.Params)

	m.records = append([]ActionRecord{stored}, m.records...)
	if len(m.records) > m.capacity {
		m.records = m.records[:m.capacity]
	}
	return nil
}

// ListLatest 实现 Repository 接口。
func (m *MemoryRepository) ListLatest(_ context.Context, limit int) ([]ActionRecord, error) {
	return m.latest(limit, func(ActionRecord) bool { return true }), nil
}

// ListLatestByUser 实现 Repository 接口。
func (m *MemoryRepository) ListLatestByUser(_ context.Context, userID string, limit int) ([]ActionRecord, error) {
	return m.latest(limit, func(r ActionRecord) bool { return r.UserID == userID }), nil
}

func (m *MemoryRepository) latest(limit int, keep func(ActionRecord) bool) []ActionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	results := make([]ActionRecord, 0, min(limit, len(m.records)))
	for _, record := range m.records {
		if len(results) == limit {
			break
		}
		if !keep(record) {
			continue
		}
		record.Params = cloneParams(record.Params)
		results = append(results, record)
	}
	return results
}

func cloneParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

var _ Repository = (*MemoryRepository)(nil)
