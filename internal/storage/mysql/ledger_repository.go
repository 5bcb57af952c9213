package mysql

import (
	"context"
	"database/sql"

	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/ledger"
)

// LedgerRepository 将操作流水写入 action_records 表。
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository 基于已迁移的连接池创建仓库。
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// OpenLedger 建立连接、执行迁移并返回仓库。
func OpenLedger(ctx context.Context, cfg Config) (*LedgerRepository, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewLedgerRepository(db), nil
}

const insertActionSQL = `INSERT INTO action_records
    (message_id, user_id, message, action, params, tx_hash, status, error_code, reply, chain_id, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const actionColumns = `id, message_id, user_id, message, action, params, tx_hash, status, error_code, reply, chain_id, created_at`

const (
	listActionsSQL     = `SELECT ` + actionColumns + ` FROM action_records ORDER BY id DESC LIMIT ?`
	listUserActionsSQL = `SELECT ` + actionColumns + ` FROM action_records WHERE user_id = ? ORDER BY id DESC LIMIT ?`
)

// Save 实现 ledger.Repository 接口。
func (r *LedgerRepository) Save(ctx context.Context, record *ledger.ActionRecord) error {
	if err := ledger.Validate(record); err != nil {
		return err
	}
	params, err := ledger.EncodeParams(record.Params)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, insertActionSQL,
		record.MessageID,
		record.UserID,
		record.Message,
		record.Action,
		nullString(params),
		record.TxHash,
		string(record.Status),
		record.ErrorCode,
		record.Reply,
		record.ChainID,
		record.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入操作流水失败")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取流水 ID 失败")
	}
	record.ID = id
	return nil
}

// ListLatest 实现 ledger.Repository 接口。
func (r *LedgerRepository) ListLatest(ctx context.Context, limit int) ([]ledger.ActionRecord, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	return r.query(ctx, limit, listActionsSQL, limit)
}

// ListLatestByUser 实现 ledger.Repository 接口。
func (r *LedgerRepository) ListLatestByUser(ctx context.Context, userID string, limit int) ([]ledger.ActionRecord, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	return r.query(ctx, limit, listUserActionsSQL, userID, limit)
}

func (r *LedgerRepository) query(ctx context.Context, limit int, query string, args ...any) ([]ledger.ActionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作流水失败")
	}
	defer rows.Close()

	records := make([]ledger.ActionRecord, 0, limit)
	for rows.Next() {
		var (
			rec    ledger.ActionRecord
			params sql.NullString
			status string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.MessageID,
			&rec.UserID,
			&rec.Message,
			&rec.Action,
			&params,
			&rec.TxHash,
			&status,
			&rec.ErrorCode,
			&rec.Reply,
			&rec.ChainID,
			&rec.CreatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析操作流水失败")
		}
		rec.Status = ledger.Status(status)
		if rec.Params, err = ledger.DecodeParams(params.String); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历操作流水失败")
	}
	return records, nil
}

// Close 关闭底层连接池。
func (r *LedgerRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ ledger.Repository = (*LedgerRepository)(nil)
