package task

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/storage/sqltest"
)

var taskColumnNames = []string{
	"id", "user_id", "message", "action", "params", "status", "attempts", "max_retries", "last_error", "error_code",
	"result_reply", "result_action", "result_tx_hash", "result_failed", "result_error_code", "created_at", "updated_at",
}

func taskRow(id string, status Status, attempts, maxRetries int64, reply string, failed int64) []driver.Value {
	return []driver.Value{
		id, "alice", "上架 #7", "LIST_NFT", `{"token_id":"7"}`, string(status), attempts, maxRetries, nil, "",
		reply, "", "", failed, "", int64(100), int64(200),
	}
}

func TestMySQLStoreCreate(t *testing.T) {
	db, drv := sqltest.NewDB(t, sqltest.Exec(insertTaskSQL, sqltest.Result{Affected: 1}))
	store := NewMySQLStore(db)

	task := &Task{ID: "t1", UserID: "alice", Message: "上架 #7", Action: "LIST_NFT",
		Params: map[string]string{"token_id": "7"}, Status: StatusPending, MaxRetries: 3}
	require.NoError(t, store.Create(context.Background(), task))
	drv.AssertConsumed(t)

	args := drv.Args(0)
	require.Len(t, args, 10)
	assert.Equal(t, "t1", args[0])
	assert.Equal(t, `{"token_id":"7"}`, args[4])
	assert.Equal(t, "pending", args[5])
	assert.NotZero(t, task.CreatedAt)
}

func TestMySQLStoreCreateDuplicate(t *testing.T) {
	db, _ := sqltest.NewDB(t, sqltest.Exec(insertTaskSQL, sqltest.Result{}).WithErr(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	store := NewMySQLStore(db)

	err := store.Create(context.Background(), &Task{ID: "t1", Message: "m", Status: StatusPending, MaxRetries: 3})
	assert.True(t, errors.Is(err, ErrTaskConflict))
}

func TestMySQLStoreGetNotFound(t *testing.T) {
	db, _ := sqltest.NewDB(t, sqltest.Query(getTaskSQL, sqltest.Rows{Columns: taskColumnNames}))
	store := NewMySQLStore(db)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestMySQLStoreClaim(t *testing.T) {
	db, drv := sqltest.NewDB(t,
		sqltest.Exec(claimTaskSQL, sqltest.Result{Affected: 1}),
		sqltest.Query(getTaskSQL, sqltest.Rows{Columns: taskColumnNames, Values: [][]driver.Value{
			taskRow("t1", StatusRunning, 1, 3, "", 0),
		}}),
	)
	store := NewMySQLStore(db)

	task, err := store.Claim(context.Background(), "t1")
	require.NoError(t, err)
	drv.AssertConsumed(t)
	assert.Equal(t, StatusRunning, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, "7", task.Params["token_id"])
	assert.Nil(t, task.Result)

	args := drv.Args(0)
	assert.Equal(t, []driver.Value{"running", args[1], "t1", "pending", "failed"}, args)
}

func TestMySQLStoreClaimCompletedTask(t *testing.T) {
	db, _ := sqltest.NewDB(t,
		sqltest.Exec(claimTaskSQL, sqltest.Result{}),
		sqltest.Query(getTaskSQL, sqltest.Rows{Columns: taskColumnNames, Values: [][]driver.Value{
			taskRow("t1", StatusSucceeded, 1, 3, "已上架", 0),
		}}),
	)
	store := NewMySQLStore(db)

	task, err := store.Claim(context.Background(), "t1")
	assert.True(t, errors.Is(err, ErrTaskCompleted))
	require.NotNil(t, task.Result)
	assert.Equal(t, "已上架", task.Result.Reply)
}

func TestMySQLStoreClaimExhaustedTask(t *testing.T) {
	db, _ := sqltest.NewDB(t,
		sqltest.Exec(claimTaskSQL, sqltest.Result{}),
		sqltest.Query(getTaskSQL, sqltest.Rows{Columns: taskColumnNames, Values: [][]driver.Value{
			taskRow("t1", StatusFailed, 3, 3, "", 0),
		}}),
	)
	store := NewMySQLStore(db)

	_, err := store.Claim(context.Background(), "t1")
	assert.True(t, errors.Is(err, ErrTaskExhausted))
}

func TestMySQLStoreMarkFailedTerminal(t *testing.T) {
	db, drv := sqltest.NewDB(t, sqltest.Exec(failTaskSQL, sqltest.Result{Affected: 1}))
	store := NewMySQLStore(db)

	require.NoError(t, store.MarkFailed(context.Background(), "t1", xerrors.CodeTimeout, "llm timeout", true))
	args := drv.Args(0)
	require.Len(t, args, 6)
	assert.Equal(t, "failed", args[0])
	assert.Equal(t, string(xerrors.CodeTimeout), args[2])
	assert.Equal(t, true, args[4])
}

func TestMySQLStoreMarkSucceededMissing(t *testing.T) {
	db, _ := sqltest.NewDB(t, sqltest.Exec(succeedTaskSQL, sqltest.Result{}))
	store := NewMySQLStore(db)

	err := store.MarkSucceeded(context.Background(), "nope", ExecutionResult{Reply: "ok"})
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestMySQLStoreListBuildsFilters(t *testing.T) {
	db, drv := sqltest.NewDB(t, sqltest.Query("", sqltest.Rows{Columns: taskColumnNames, Values: [][]driver.Value{
		taskRow("t2", StatusSucceeded, 1, 3, "ok", 1),
	}}))
	store := NewMySQLStore(db)

	opts := buildListOptions([]ListOption{WithStatuses(StatusSucceeded), WithResultPresence(true), WithLimit(5), WithQuery("LIST")})
	tasks, err := store.List(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Result.Failed)

	args := drv.Args(0)
	// status + 8 LIKE patterns + limit + offset
	require.Len(t, args, 11)
	assert.Equal(t, "succeeded", args[0])
	assert.Equal(t, "%LIST%", args[1])
	assert.Equal(t, int64(5), args[9])
}

func TestBuildFilterClause(t *testing.T) {
	hasResult := false
	clause, args := buildFilterClause(ListOptions{UpdatedGTE: 10, UpdatedLTE: 20, HasResult: &hasResult})
	assert.Equal(t, 3, strings.Count(clause, " AND ")+1)
	assert.True(t, strings.Contains(clause, "NOT "+resultPresent))
	assert.Equal(t, []any{int64(10), int64(20)}, args)

	clause, args = buildFilterClause(ListOptions{})
	assert.Empty(t, clause)
	assert.Empty(t, args)
}

func TestMySQLStoreListFiltersByUserActionAndReply(t *testing.T) {
	db, drv := sqltest.NewDB(t, sqltest.Query("", sqltest.Rows{Columns: taskColumnNames}))
	store := NewMySQLStore(db)

	opts := buildListOptions([]ListOption{WithUserID("alice"), WithAction("buy_nft"), WithFailedReply(true), WithOldestFirst()})
	tasks, err := store.List(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	assert.Equal(t, []driver.Value{"alice", "BUY_NFT", "BUY_NFT", true, int64(20), int64(0)}, drv.Args(0))
}

func TestMySQLStoreStats(t *testing.T) {
	db, drv := sqltest.NewDB(t, sqltest.Query("", sqltest.Rows{
		Columns: []string{"total", "pending", "running", "succeeded", "failed", "failed_replies", "broadcast", "oldest", "newest"},
		Values:  [][]driver.Value{{int64(4), int64(1), int64(0), int64(2), int64(1), int64(1), int64(1), int64(100), int64(400)}},
	}))
	store := NewMySQLStore(db)

	stats, err := store.Stats(context.Background(), buildListOptions([]ListOption{WithUserID("alice")}))
	require.NoError(t, err)
	assert.Equal(t, TaskStats{
		Total: 4, Pending: 1, Succeeded: 2, Failed: 1, FailedReplies: 1, Broadcast: 1,
		OldestUpdatedAt: 100, NewestUpdatedAt: 400,
	}, stats)

	args := drv.Args(0)
	require.Len(t, args, 7)
	assert.Equal(t, "succeeded", args[4])
	assert.Equal(t, "succeeded", args[5])
	assert.Equal(t, "alice", args[6])
}

func TestBuildFilterClauseForChatFilters(t *testing.T) {
	failed := false
	clause, args := buildFilterClause(ListOptions{UserID: "bob", Action: "LIST_NFT", FailedReply: &failed, Query: "0x9f"})
	assert.Contains(t, clause, "user_id = ?")
	assert.Contains(t, clause, "(action = ? OR result_action = ?)")
	assert.Contains(t, clause, "result_failed = ?")
	assert.Contains(t, clause, "result_tx_hash LIKE ?")
	require.Len(t, args, 12)
	assert.Equal(t, []any{"bob", "LIST_NFT", "LIST_NFT", false}, args[:4])
	assert.Equal(t, "%0x9f%", args[4])
}
