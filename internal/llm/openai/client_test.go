package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"OpenNFT-Agent/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func newServer(t *testing.T, content string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("authorization header missing: %q", r.Header.Get("Authorization"))
		}
		defer r.Body.Close()
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("failed to decode body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))
}

func TestGenerateExtractsAction(t *testing.T) {
	var body map[string]any
	srv := newServer(t, `{"thought":"用户想上架","reply":"好的","action":"list_nft","params":{"token_id":3,"price":"0.05"}}`, &body)
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{
		Message: "把 3 号 NFT 以 0.05 ETH 上架",
		Actions: []llm.ActionSpec{{Name: "LIST_NFT", Description: "上架", Required: []string{"token_id", "price"}}},
		History: []llm.HistoryEntry{{Message: "你好", Reply: "您好"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Action != "LIST_NFT" || resp.Params["token_id"] != "3" || resp.Params["price"] != "0.05" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if body["model"] != defaultModelName {
		t.Fatalf("model field missing in request: %v", body["model"])
	}

	messages, _ := body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(messages))
	}
	user, _ := messages[1].(map[string]any)
	prompt, _ := user["content"].(string)
	for _, want := range []string{"LIST_NFT", "token_id, price", "用户:你好"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGeneratePlainTextIsReply(t *testing.T) {
	srv := newServer(t, "今天市场很平静。", nil)
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{Message: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Action != "" || resp.Reply != "今天市场很平静。" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestParseContent(t *testing.T) {
	resp := parseContent("```json\n{\"reply\":\"\",\"action\":\"none\"}\n```")
	if resp.Action != "" {
		t.Fatalf("none should clear the action: %+v", resp)
	}
	resp = parseContent(`{"action":"CREATE_LOAN","params":{"amount":0.5,"duration_days":7,"token_id":null}}`)
	if resp.Params["amount"] != "0.5" || resp.Params["duration_days"] != "7" {
		t.Fatalf("unexpected params: %+v", resp.Params)
	}
	if _, ok := resp.Params["token_id"]; ok {
		t.Fatalf("null params should be dropped")
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{Message: "test"}); err == nil {
		t.Fatalf("expected error when http status is not success")
	}
}
