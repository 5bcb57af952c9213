package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/ledger"
	"OpenNFT-Agent/internal/storage/sqltest"
)

func TestLedgerRepositorySave(t *testing.T) {
	db, drv := sqltest.NewDB(t, sqltest.Exec(insertActionSQL, sqltest.Result{InsertID: 42, Affected: 1}))
	repo := NewLedgerRepository(db)

	rec := &ledger.ActionRecord{
		MessageID: "m1",
		Message:   "上架 NFT #3 价格 0.05",
		Action:    "LIST_NFT",
		Params:    map[string]string{"token_id": "3"},
		TxHash:    "0xabc",
		Status:    ledger.StatusSucceeded,
		Reply:     "ok",
		ChainID:   "11155111",
	}
	require.NoError(t, repo.Save(context.Background(), rec))
	drv.AssertConsumed(t)

	assert.Equal(t, int64(42), rec.ID)
	args := drv.Args(0)
	require.Len(t, args, 11)
	assert.Equal(t, "m1", args[0])
	assert.Equal(t, `{"token_id":"3"}`, args[4])
	assert.Equal(t, "succeeded", args[6])
	assert.NotZero(t, args[10])
}

func TestLedgerRepositorySaveFailure(t *testing.T) {
	db, drv := sqltest.NewDB(t, sqltest.Exec(insertActionSQL, sqltest.Result{}).WithErr(errors.New("gone")))
	repo := NewLedgerRepository(db)

	rec := &ledger.ActionRecord{MessageID: "m1", Status: ledger.StatusReplied}
	err := repo.Save(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
	assert.True(t, xerrors.RetryableError(err))
	drv.AssertConsumed(t)
}

func TestLedgerRepositoryListLatest(t *testing.T) {
	rows := sqltest.Rows{
		Columns: []string{"id", "message_id", "user_id", "message", "action", "params", "tx_hash", "status", "error_code", "reply", "chain_id", "created_at"},
		Values: [][]driver.Value{
			{int64(2), "m2", "u", "buy 3", "BUY_NFT", nil, "", "failed", "INSUFFICIENT_FUNDS", "余额不足", "11155111", int64(20)},
			{int64(1), "m1", "u", "list 3", "LIST_NFT", `{"price":"0.05"}`, "0xabc", "succeeded", "", "ok", "11155111", int64(10)},
		},
	}
	db, drv := sqltest.NewDB(t, sqltest.Query(listActionsSQL, rows))
	repo := NewLedgerRepository(db)

	list, err := repo.ListLatest(context.Background(), 0)
	require.NoError(t, err)
	drv.AssertConsumed(t)

	require.Len(t, list, 2)
	assert.Equal(t, int64(ledger.DefaultListLimit), drv.Args(0)[0])
	assert.Equal(t, ledger.StatusFailed, list[0].Status)
	assert.Nil(t, list[0].Params)
	assert.Equal(t, "0.05", list[1].Params["price"])
}

func TestLedgerRepositoryListLatestByUser(t *testing.T) {
	rows := sqltest.Rows{
		Columns: []string{"id", "message_id", "user_id", "message", "action", "params", "tx_hash", "status", "error_code", "reply", "chain_id", "created_at"},
		Values: [][]driver.Value{
			{int64(5), "m5", "alice", "info 3", "GET_NFT_INFO", nil, "", "succeeded", "", "ok", "11155111", int64(50)},
		},
	}
	db, drv := sqltest.NewDB(t, sqltest.Query(listUserActionsSQL, rows))
	repo := NewLedgerRepository(db)

	list, err := repo.ListLatestByUser(context.Background(), "alice", 3)
	require.NoError(t, err)
	drv.AssertConsumed(t)

	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].UserID)
	assert.Equal(t, []driver.Value{"alice", int64(3)}, drv.Args(0))
}

func TestRunMigrations(t *testing.T) {
	files, err := loadMigrationFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "0001", files[0].version)
	assert.Equal(t, "0002", files[1].version)

	ops := []sqltest.Op{
		sqltest.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, sqltest.Result{}),
		sqltest.Query(`SELECT version FROM schema_migrations`, sqltest.Rows{
			Columns: []string{"version"},
			Values:  [][]driver.Value{{"0001"}},
		}),
		sqltest.Begin(),
	}
	for _, stmt := range files[1].statements {
		ops = append(ops, sqltest.Exec(stmt, sqltest.Result{}))
	}
	ops = append(ops,
		sqltest.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, sqltest.Result{Affected: 1}),
		sqltest.Commit(),
	)
	db, drv := sqltest.NewDB(t, ops...)

	require.NoError(t, runMigrations(context.Background(), db))
	drv.AssertConsumed(t)
}

func TestRunMigrationsRollsBackOnFailure(t *testing.T) {
	files, err := loadMigrationFiles()
	require.NoError(t, err)

	db, drv := sqltest.NewDB(t,
		sqltest.Exec("", sqltest.Result{}),
		sqltest.Query("", sqltest.Rows{Columns: []string{"version"}}),
		sqltest.Begin(),
		sqltest.Exec(files[0].statements[0], sqltest.Result{}).WithErr(errors.New("syntax")),
		sqltest.Rollback(),
	)

	err = runMigrations(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), files[0].name)
	drv.AssertConsumed(t)
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements("CREATE TABLE a (id INT);\n\n  ;CREATE TABLE b (id INT);")
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"}, stmts)
	assert.Equal(t, "0003", parseMigrationVersion("0003_add_index.sql"))
	assert.Equal(t, "init", parseMigrationVersion("init.sql"))
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}
