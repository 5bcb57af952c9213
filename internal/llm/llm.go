package llm

import "context"

// Request 描述发送给大模型的对话上下文。
type Request struct {
	Message string
	History []HistoryEntry
	Actions []ActionSpec
}

// Response 是大模型推理得到的结构化输出。
// Action 为空表示无需执行链上操作，直接回复 Reply。
type Response struct {
	Thought string
	Reply   string
	Action  string
	Params  map[string]string
}

// ActionSpec 描述一个可供大模型选择的操作。
type ActionSpec struct {
	Name        string
	Description string
	Required    []string
	Examples    []string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// HistoryEntry 描述一条历史对话，用于为大模型提供上下文记忆。
type HistoryEntry struct {
	Message   string
	Action    string
	Reply     string
	Status    string
	CreatedAt int64
}

// ClientFunc 允许普通函数作为 Client 使用。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 实现 Client 接口。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
