package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"OpenNFT-Agent/internal/actions"
	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/ledger"
	"OpenNFT-Agent/internal/llm"
	"OpenNFT-Agent/internal/observability/metrics"
	"OpenNFT-Agent/pkg/logger"
)

// 意图来源，用于指标与日志。
const (
	SourceExplicit = "explicit"
	SourceLLM      = "llm"
	SourceKeyword  = "keyword"
	SourceNone     = "none"
)

// Intent 是已经确定的操作及其参数。
type Intent struct {
	Action string            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
}

// Message 是一条待处理的用户消息。Intent 非空时跳过意图识别。
type Message struct {
	ID     string  `json:"id,omitempty"`
	UserID string  `json:"user_id,omitempty"`
	Text   string  `json:"text"`
	Intent *Intent `json:"intent,omitempty"`
}

// Reply 是返回给用户的回复。Failed 表示操作执行失败，此时 Text 为友好提示。
type Reply struct {
	MessageID string         `json:"message_id"`
	Text      string         `json:"text"`
	Thought   string         `json:"thought,omitempty"`
	Action    string         `json:"action,omitempty"`
	Source    string         `json:"source"`
	TxHash    string         `json:"tx_hash,omitempty"`
	Failed    bool           `json:"failed,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Agent 协调意图识别、操作执行与流水记录，是系统的业务核心。
type Agent struct {
	llmClient   llm.Client
	actions     *actions.Set
	ledger      ledger.Repository
	memoryDepth int
	llmTimeout  time.Duration
	metrics     *metrics.Metrics
	chainID     string
	log         *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// defaultMemoryDepth 是大模型调用时可参考的历史消息数量的默认值。
const defaultMemoryDepth = 5

// WithMemoryDepth 设置大模型调用时可参考的历史消息数量。
func WithMemoryDepth(depth int) Option {
	return func(a *Agent) {
		a.memoryDepth = depth
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithMetrics 指定指标收集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// WithChainID 设置写入流水的链 ID。
func WithChainID(chainID string) Option {
	return func(a *Agent) {
		a.chainID = chainID
	}
}

// New 创建一个 Agent。llmClient 与 repo 均可为空。
func New(llmClient llm.Client, set *actions.Set, repo ledger.Repository, opts ...Option) *Agent {
	// 初始化 Agent 实例。
	ag := &Agent{
		llmClient:   llmClient,
		actions:     set,
		ledger:      repo,
		memoryDepth: defaultMemoryDepth,
		log:         logger.Named("agent"),
	}
	// 应用可选配置。
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	// 设置默认的历史深度。
	if ag.memoryDepth <= 0 {
		ag.memoryDepth = defaultMemoryDepth
	}
	return ag
}

// Actions 返回可用操作集合。
func (a *Agent) Actions() *actions.Set {
	return a.actions
}

// Handle 处理一条消息。操作失败体现在 Reply.Failed 中；
// 只有流水写入等基础设施错误才会返回 error，此时 Reply 仍然有效。
func (a *Agent) Handle(ctx context.Context, msg Message) (*Reply, error) {
	// 验证必要的组件是否已配置。
	if a.actions == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置操作集合")
	}
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" && msg.Intent == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	// 识别意图。
	res := a.resolve(ctx, msg)
	a.metrics.ObserveIntent(res.source)
	reply := &Reply{MessageID: msg.ID, Thought: res.thought, Source: res.source}
	record := &ledger.ActionRecord{
		MessageID: msg.ID,
		UserID:    msg.UserID,
		Message:   msg.Text,
		ChainID:   a.chainID,
		Status:    ledger.StatusReplied,
	}

	switch {
	case res.err != nil:
		// 显式指定了未知操作。
		a.fail(reply, res.err)
	case res.action == nil:
		reply.Text = res.reply
		if strings.TrimSpace(reply.Text) == "" {
			reply.Text = a.actions.Help()
		}
	default:
		res.prompted = a.execute(ctx, res.action, res.params, reply)
		record.Params = res.params.Map()
	}

	// 记录流水。
	record.Action = reply.Action
	record.TxHash = reply.TxHash
	record.Reply = reply.Text
	record.ErrorCode = reply.ErrorCode
	if reply.Failed {
		record.Status = ledger.StatusFailed
	} else if reply.Action != "" && !res.prompted {
		record.Status = ledger.StatusSucceeded
	}
	if err := a.save(ctx, record); err != nil {
		return reply, err
	}
	return reply, nil
}

// ListHistory 获取最近的消息处理记录。
func (a *Agent) ListHistory(ctx context.Context, limit int) ([]ledger.ActionRecord, error) {
	if a.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置操作流水仓库")
	}

	// 查询最近的流水记录。
	records, err := a.ledger.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作流水失败")
	}
	return records, nil
}

type resolution struct {
	source   string
	action   actions.Action
	params   actions.Params
	reply    string
	thought  string
	prompted bool
	err      error
}

// resolve 依次尝试显式意图、大模型与关键词匹配。
func (a *Agent) resolve(ctx context.Context, msg Message) *resolution {
	if msg.Intent != nil && strings.TrimSpace(msg.Intent.Action) != "" {
		act, ok := a.actions.Get(msg.Intent.Action)
		if !ok {
			return &resolution{source: SourceExplicit, err: xerrors.New(xerrors.CodeInvalidArgument,
				"unknown action "+msg.Intent.Action,
				xerrors.WithUserMessage(fmt.Sprintf("不支持的操作: %s", msg.Intent.Action)))}
		}
		return &resolution{source: SourceExplicit, action: act, params: actions.ParamsFromMap(msg.Intent.Params)}
	}

	if a.llmClient != nil {
		resp, err := a.generate(ctx, msg.UserID, msg.Text)
		if err == nil {
			out := &resolution{source: SourceLLM, reply: resp.Reply, thought: resp.Thought}
			if resp.Action == "" {
				return out
			}
			if act, ok := a.actions.Get(resp.Action); ok {
				out.action = act
				out.params = actions.ParamsFromMap(resp.Params)
				return out
			}
			a.log.Warn("大模型返回了未知操作", slog.String("action", resp.Action))
		} else {
			a.log.Warn("大模型意图识别失败，改用关键词匹配", slog.Any("error", err))
		}
	}

	if act, ok := a.actions.Match(msg.Text); ok {
		return &resolution{source: SourceKeyword, action: act}
	}
	return &resolution{source: SourceNone}
}

// generate 调用大模型提取意图，附带该用户最近的对话历史与操作目录。
func (a *Agent) generate(ctx context.Context, userID, text string) (*llm.Response, error) {
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	resp, err := a.llmClient.Generate(llmCtx, llm.Request{
		Message: text,
		History: a.loadHistory(ctx, userID),
		Actions: a.catalogue(),
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "大模型推理失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeExecutorFailure, "大模型返回为空")
	}
	return resp, nil
}

// execute 执行操作并把结果写入 reply。仅提示补充参数时返回 true。
func (a *Agent) execute(ctx context.Context, act actions.Action, params actions.Params, reply *Reply) bool {
	reply.Action = act.Name()

	// 缺少参数时提示用户补充，不触达链上。
	if missing := params.Missing(act.Required()); len(missing) > 0 {
		labels := make([]string, 0, len(missing))
		for _, m := range missing {
			labels = append(labels, actions.Label(m))
		}
		reply.Text = fmt.Sprintf("要执行 %s，请补充: %s", act.Name(), strings.Join(labels, "、"))
		if ex := act.Examples(); len(ex) > 0 {
			reply.Text += fmt.Sprintf("（例如：%s）", ex[0])
		}
		reply.Data = map[string]any{"missing": missing}
		return true
	}

	start := time.Now()
	res, err := act.Handle(ctx, params)
	a.metrics.ObserveAction(act.Name(), err, time.Since(start))
	if err != nil {
		a.log.Warn("操作执行失败",
			slog.String("message_id", reply.MessageID),
			slog.String("action", act.Name()),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		a.fail(reply, err)
		return false
	}

	reply.Text = res.Text
	reply.TxHash = res.TxHash
	reply.Data = res.Data
	if res.TxHash != "" {
		logger.Audit().Info("链上操作完成",
			slog.String("message_id", reply.MessageID),
			slog.String("action", act.Name()),
			slog.String("tx_hash", res.TxHash),
		)
	}
	return false
}

func (a *Agent) fail(reply *Reply, err error) {
	reply.Failed = true
	reply.ErrorCode = string(xerrors.CodeOf(err))
	reply.Text = actions.FriendlyError(err)
}

func (a *Agent) save(ctx context.Context, record *ledger.ActionRecord) error {
	if a.ledger == nil {
		return nil
	}
	if err := a.ledger.Save(ctx, record); err != nil {
		a.metrics.ObserveLedgerFailure()
		a.log.Error("保存操作流水失败",
			slog.String("message_id", record.MessageID),
			slog.String("action", record.Action),
			slog.String("tx_hash", record.TxHash),
			slog.Any("error", err),
		)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存操作流水失败",
			xerrors.WithMetadata("message_id", record.MessageID),
			xerrors.WithMetadata("tx_hash", record.TxHash))
	}
	return nil
}

// loadHistory 加载该用户最近的流水供大模型参考，失败时忽略历史。
func (a *Agent) loadHistory(ctx context.Context, userID string) []llm.HistoryEntry {
	if a.ledger == nil || a.memoryDepth <= 0 {
		return nil
	}
	records, err := a.ledger.ListLatestByUser(ctx, userID, a.memoryDepth)
	if err != nil {
		a.log.Warn("加载历史消息失败", slog.Any("error", err))
		return nil
	}
	history := make([]llm.HistoryEntry, 0, len(records))
	for _, record := range records {
		history = append(history, llm.HistoryEntry{
			Message:   record.Message,
			Action:    record.Action,
			Reply:     record.Reply,
			Status:    string(record.Status),
			CreatedAt: record.CreatedAt,
		})
	}
	return history
}

func (a *Agent) catalogue() []llm.ActionSpec {
	all := a.actions.All()
	specs := make([]llm.ActionSpec, 0, len(all))
	for _, act := range all {
		specs = append(specs, llm.ActionSpec{
			Name:        act.Name(),
			Description: act.Description(),
			Required:    act.Required(),
			Examples:    act.Examples(),
		})
	}
	return specs
}
