package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/ledger"
)

var bucketActions = []byte("actions")

// LedgerRepository 基于 bbolt 的操作流水仓库。
type LedgerRepository struct {
	db *bolt.DB
}

// Open 打开（或创建）path 指向的数据库文件。
func Open(path string) (*LedgerRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "bbolt 文件路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 bbolt 文件失败")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketActions)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 bbolt bucket 失败")
	}
	return &LedgerRepository{db: db}, nil
}

// Save 实现 ledger.Repository 接口。
func (r *LedgerRepository) Save(ctx context.Context, record *ledger.ActionRecord) error {
	if err := ledger.Validate(record); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		record.ID = int64(seq)
		blob, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), blob)
	})
	if err != nil {
		record.ID = 0
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入操作流水失败")
	}
	return nil
}

// ListLatest 实现 ledger.Repository 接口。
func (r *LedgerRepository) ListLatest(ctx context.Context, limit int) ([]ledger.ActionRecord, error) {
	return r.latest(ctx, limit, func(ledger.ActionRecord) bool { return true })
}

// ListLatestByUser 实现 ledger.Repository 接口，从最新记录向前扫描。
func (r *LedgerRepository) ListLatestByUser(ctx context.Context, userID string, limit int) ([]ledger.ActionRecord, error) {
	return r.latest(ctx, limit, func(rec ledger.ActionRecord) bool { return rec.UserID == userID })
}

func (r *LedgerRepository) latest(ctx context.Context, limit int, keep func(ledger.ActionRecord) bool) ([]ledger.ActionRecord, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := make([]ledger.ActionRecord, 0, limit)
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketActions).Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec ledger.ActionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if keep(rec) {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取操作流水失败")
	}
	return records, nil
}

// Close 关闭数据库文件。
func (r *LedgerRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

var _ ledger.Repository = (*LedgerRepository)(nil)
