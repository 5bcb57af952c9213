package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelAudit    Channel = "audit"
	ChannelSlack    Channel = "slack"
	ChannelDingTalk Channel = "dingtalk"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	TaskID     string
	Action     string
	Attempts   int
	MaxRetries int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。同一渠道只保留最后一个通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// AuditNotifier 把告警写入审计日志。
type AuditNotifier struct {
	Logger *slog.Logger
}

// Channel 返回审计渠道。
func (n *AuditNotifier) Channel() Channel { return ChannelAudit }

// Notify 写入一条审计日志。
func (n *AuditNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Audit()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("task_id", event.TaskID),
		slog.String("action", event.Action),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
		slog.String("message", event.Message),
	}
	for _, k := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String("meta."+k, event.Metadata[k]))
	}
	level := slog.LevelWarn
	if event.Severity == xerrors.SeverityCritical {
		level = slog.LevelError
	}
	log.Log(ctx, level, "告警", attrs...)
	return nil
}

// WebhookNotifier 通过 Slack 或钉钉的机器人 webhook 发送告警。
type WebhookNotifier struct {
	Kind   Channel
	URL    string
	Client *http.Client
}

// NewWebhookNotifier 根据 kind 创建 webhook 通知器，kind 支持 slack 与 dingtalk。
func NewWebhookNotifier(kind, url string) (*WebhookNotifier, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(kind)))
	if ch != ChannelSlack && ch != ChannelDingTalk {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的告警渠道: "+kind)
	}
	if strings.TrimSpace(url) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "告警 webhook 地址不能为空")
	}
	return &WebhookNotifier{Kind: ch, URL: url, Client: &http.Client{Timeout: 5 * time.Second}}, nil
}

// Channel 返回 webhook 对应的渠道。
func (n *WebhookNotifier) Channel() Channel { return n.Kind }

// Notify 推送告警消息。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	content := formatText(event)
	var payload any
	switch n.Kind {
	case ChannelDingTalk:
		payload = map[string]any{"msgtype": "text", "text": map[string]string{"content": content}}
	default:
		payload = map[string]string{"text": content}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警 webhook 返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func formatText(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n任务: %s", event.Severity, event.Code, event.TaskID)
	if event.Action != "" {
		fmt.Fprintf(&b, "\n操作: %s", event.Action)
	}
	fmt.Fprintf(&b, "\n重试: %d/%d\n%s", event.Attempts, event.MaxRetries, event.Message)
	for _, k := range sortedKeys(event.Metadata) {
		fmt.Fprintf(&b, "\n- %s: %s", k, event.Metadata[k])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
