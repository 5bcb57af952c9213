package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

// seedChatTasks 构造一组覆盖各状态的对话任务，更新时间依次递增。
func seedChatTasks(t *testing.T) (*MemoryStore, time.Time) {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()

	seeds := []*Task{
		{ID: "mint", UserID: "alice", Message: "铸造 ipfs://meta/1", Action: "MINT_NFT", Status: StatusPending, MaxRetries: 3},
		{ID: "list", UserID: "bob", Message: "上架 #2 价格 0.5", Status: StatusPending, MaxRetries: 3},
		{ID: "buy", UserID: "alice", Message: "购买 #3", Action: "BUY_NFT", Status: StatusPending, MaxRetries: 3},
		{ID: "loan", UserID: "alice", Message: "用 #4 借 0.1 ETH 30 天", Status: StatusPending, MaxRetries: 3},
	}
	for _, task := range seeds {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("创建任务 %s 失败: %v", task.ID, err)
		}
	}

	if _, err := store.Claim(ctx, "list"); err != nil {
		t.Fatalf("领取任务失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "list", ExecutionResult{
		Reply: "已上架 #2", Action: "LIST_NFT", TxHash: "0x9f1c2e",
	}); err != nil {
		t.Fatalf("写入结果失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "buy", ExecutionResult{
		Reply: "余额不足", Action: "BUY_NFT", Failed: true, ErrorCode: "INSUFFICIENT_FUNDS",
	}); err != nil {
		t.Fatalf("写入结果失败: %v", err)
	}
	if err := store.MarkFailed(ctx, "loan", CodeTaskProcessing, "rpc timeout", true); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	store.mu.Lock()
	for i, id := range []string{"mint", "list", "buy", "loan"} {
		store.tasks[id].UpdatedAt = base.Add(time.Duration(i) * time.Minute).Unix()
	}
	store.mu.Unlock()
	return store, base
}

func ids(tasks []*Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}

func TestMemoryStoreListFilters(t *testing.T) {
	store, base := seedChatTasks(t)

	tests := []struct {
		name string
		opts []ListOption
		want []string
	}{
		{"newest first", nil, []string{"loan", "buy", "list", "mint"}},
		{"oldest first", []ListOption{WithOldestFirst()}, []string{"mint", "list", "buy", "loan"}},
		{"by user", []ListOption{WithUserID("alice")}, []string{"loan", "buy", "mint"}},
		{"requested action", []ListOption{WithAction("mint_nft")}, []string{"mint"}},
		{"resolved action", []ListOption{WithAction("LIST_NFT")}, []string{"list"}},
		{"failed replies", []ListOption{WithFailedReply(true)}, []string{"buy"}},
		{"successful replies", []ListOption{WithStatuses(StatusSucceeded), WithFailedReply(false)}, []string{"list"}},
		{"tx hash query", []ListOption{WithQuery("9F1C")}, []string{"list"}},
		{"error query", []ListOption{WithQuery("rpc timeout")}, []string{"loan"}},
		{"with result", []ListOption{WithResultPresence(true)}, []string{"buy", "list"}},
		{"since", []ListOption{WithUpdatedSince(base.Add(90 * time.Second))}, []string{"loan", "buy"}},
		{"until", []ListOption{WithUpdatedUntil(base.Add(30 * time.Second))}, []string{"mint"}},
		{"unknown status ignored", []ListOption{WithStatuses("done", StatusFailed, StatusFailed)}, []string{"loan"}},
		{"page", []ListOption{WithLimit(2), WithOffset(1)}, []string{"buy", "list"}},
		{"offset past end", []ListOption{WithOffset(10)}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(context.Background(), buildListOptions(tt.opts))
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if g := ids(got); len(g) != len(tt.want) || (len(g) > 0 && !equalIDs(g, tt.want)) {
				t.Fatalf("got %v, want %v", g, tt.want)
			}
		})
	}
}

func equalIDs(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMemoryStoreStatsCountsReplies(t *testing.T) {
	store, base := seedChatTasks(t)
	ctx := context.Background()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := TaskStats{
		Total: 4, Pending: 1, Succeeded: 2, Failed: 1, FailedReplies: 1, Broadcast: 1,
		OldestUpdatedAt: base.Unix(), NewestUpdatedAt: base.Add(3 * time.Minute).Unix(),
	}
	if stats != want {
		t.Fatalf("got %+v, want %+v", stats, want)
	}

	alice, err := store.Stats(ctx, buildListOptions([]ListOption{WithUserID("alice"), WithLimit(1)}))
	if err != nil {
		t.Fatalf("stats by user: %v", err)
	}
	if alice.Total != 3 || alice.Broadcast != 0 || alice.FailedReplies != 1 {
		t.Fatalf("limit must not apply to stats: %+v", alice)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store, _ := seedChatTasks(t)
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "mint")
	if err != nil || claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("claim pending: %+v %v", claimed, err)
	}
	if _, err := store.Claim(ctx, "mint"); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("claim running: %v", err)
	}
	if _, err := store.Claim(ctx, "buy"); !errors.Is(err, ErrTaskCompleted) {
		t.Fatalf("claim failed reply: %v", err)
	}
	if _, err := store.Claim(ctx, "loan"); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("claim terminal failure: %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("claim missing: %v", err)
	}

	got, _ := store.Get(ctx, "buy")
	got.Result.Reply = "changed"
	again, _ := store.Get(ctx, "buy")
	if again.Result.Reply != "余额不足" {
		t.Fatalf("Get must return a copy")
	}
}
