package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OpenNFT-Agent/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
	historyLimit     = 5
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Generate 调用 OpenAI 识别用户意图并生成回复。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}
	return parseContent(content), nil
}

// parseContent 解析模型返回的 JSON；非 JSON 内容视为普通回复。
func parseContent(content string) *llm.Response {
	var structured struct {
		Thought string         `json:"thought"`
		Reply   string         `json:"reply"`
		Action  string         `json:"action"`
		Params  map[string]any `json:"params"`
	}
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &structured); err != nil {
		return &llm.Response{Reply: content}
	}

	out := &llm.Response{
		Thought: structured.Thought,
		Reply:   structured.Reply,
		Action:  strings.ToUpper(strings.TrimSpace(structured.Action)),
	}
	if out.Action == "NONE" {
		out.Action = ""
	}
	if len(structured.Params) > 0 {
		out.Params = make(map[string]string, len(structured.Params))
		for k, v := range structured.Params {
			switch val := v.(type) {
			case nil:
				continue
			case string:
				out.Params[k] = val
			case float64:
				out.Params[k] = strconv.FormatFloat(val, 'f', -1, 64)
			default:
				out.Params[k] = fmt.Sprint(val)
			}
		}
	}
	if strings.TrimSpace(out.Reply) == "" && out.Action == "" {
		out.Reply = content
	}
	return out
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	body := map[string]any{
		"model": c.model,
		"messages": []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		"temperature":     0.1,
		"response_format": map[string]string{"type": "json_object"},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are the intent engine of an NFT marketplace assistant on Ethereum Sepolia. " +
	"Pick at most one action from the catalogue and extract its parameters from the message. " +
	"Always respond with a compact JSON object: " +
	"{\"thought\": string, \"reply\": string, \"action\": string, \"params\": object}. " +
	"Use an empty action when the user is only chatting. Amounts are decimal ETH strings, " +
	"token and loan ids are decimal integers. Never invent parameters the user did not give. " +
	"Use Chinese for the reply."

func buildUserPrompt(req llm.Request) string {
	var builder strings.Builder
	builder.WriteString("## 用户消息\n")
	builder.WriteString(strings.TrimSpace(req.Message))
	builder.WriteString("\n")

	if len(req.Actions) > 0 {
		builder.WriteString("\n## 可用操作\n")
		for _, a := range req.Actions {
			builder.WriteString(fmt.Sprintf("- %s: %s", a.Name, a.Description))
			if len(a.Required) > 0 {
				builder.WriteString(fmt.Sprintf(" 参数: %s", strings.Join(a.Required, ", ")))
			}
			builder.WriteString("\n")
		}
	}

	if len(req.History) > 0 {
		builder.WriteString("\n## 历史对话\n")
		for idx, entry := range req.History {
			if idx >= historyLimit {
				break
			}
			builder.WriteString(fmt.Sprintf("[%d] 用户:%s | 操作:%s | 回复:%s\n",
				idx+1,
				truncate(entry.Message),
				entry.Action,
				truncate(entry.Reply),
			))
		}
	}

	builder.WriteString("\n请输出 JSON。")
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 80 {
		return string([]rune(text)[:80]) + "..."
	}
	return text
}
