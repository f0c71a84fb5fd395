package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestNewCompat_Constructors(t *testing.T) {
	tests := []struct {
		p    *Compat
		name string
		base string
	}{
		{NewGroq("k", ""), "groq", "https://api.groq.com/openai"},
		{NewDeepSeek("k", ""), "deepseek", "https://api.deepseek.com"},
		{NewXAI("k", ""), "xai", "https://api.x.ai"},
		{NewOpenRouter("k", ""), "openrouter", "https://openrouter.ai/api"},
		{NewGoogle("k", ""), "google", "https://generativelanguage.googleapis.com/v1beta/openai"},
		{NewOllama(""), "ollama", "http://localhost:11434"},
	}
	for _, tt := range tests {
		if tt.p.Name() != tt.name {
			t.Errorf("Name() = %q, want %q", tt.p.Name(), tt.name)
		}
		if tt.p.BaseURL() != tt.base {
			t.Errorf("%s BaseURL() = %q, want %q", tt.name, tt.p.BaseURL(), tt.base)
		}
	}
}

func TestCompat_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var wire compatRequest
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if wire.Model != "llama-3.1-8b-instant" {
			t.Errorf("model = %q", wire.Model)
		}
		if wire.MaxTokens == nil || *wire.MaxTokens != 64 {
			t.Error("max_tokens not forwarded")
		}
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "llama-3.1-8b-instant",
			"choices": [{"message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`))
	}))
	defer srv.Close()

	p := NewCompat("groq", "test-key", srv.URL, nil)
	resp, err := p.Complete(context.Background(), Request{
		Model:           "llama-3.1-8b-instant",
		Messages:        []Message{{Role: RoleUser, Content: "Hi"}},
		MaxOutputTokens: intPtr(64),
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("Content = %q, want hi", resp.Content)
	}
	if resp.FinishReason != FinishStop {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 3 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if resp.Usage.Estimated {
		t.Error("vendor-reported usage must not be flagged estimated")
	}
}

func TestCompat_Complete_DeepSeekCacheTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "1", "model": "deepseek-chat",
			"choices": [{"message": {"content": "ok"}, "finish_reason": "stop"}],
			"usage": {
				"prompt_tokens": 100, "completion_tokens": 5,
				"prompt_cache_hit_tokens": 60, "prompt_cache_miss_tokens": 40
			}
		}`))
	}))
	defer srv.Close()

	p := NewCompat("deepseek", "k", srv.URL, nil)
	resp, err := p.Complete(context.Background(), Request{
		Model:    "deepseek-chat",
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Usage.CacheReadTokens != 60 {
		t.Errorf("CacheReadTokens = %d, want 60", resp.Usage.CacheReadTokens)
	}
	if resp.Usage.PromptTokens != 100 {
		t.Errorf("PromptTokens = %d, want 100", resp.Usage.PromptTokens)
	}
}

func TestCompat_Complete_EstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "1", "model": "llama3.2",
			"choices": [{"message": {"content": "hello world"}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	p := NewCompat("ollama", "", srv.URL, nil)
	resp, err := p.Complete(context.Background(), Request{
		Model:    "llama3.2",
		Messages: []Message{{Role: RoleUser, Content: "Hi there, how are you?"}},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if !resp.Usage.Estimated {
		t.Error("missing vendor usage must be flagged estimated")
	}
	if resp.Usage.PromptTokens == 0 {
		t.Error("estimated prompt tokens should be nonzero")
	}
}

func TestCompat_Complete_WireErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limit reached"}}`))
	}))
	defer srv.Close()

	p := NewCompat("groq", "k", srv.URL, nil)
	_, err := p.Complete(context.Background(), Request{
		Model:    "llama-3.1-8b-instant",
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if perr.Code != CodeRateLimited {
		t.Errorf("code = %s, want %s", perr.Code, CodeRateLimited)
	}
	if perr.RetryAfter.Seconds() != 3 {
		t.Errorf("RetryAfter = %v, want 3s", perr.RetryAfter)
	}
}

func TestCompat_Stream_FinalChunkCarriesUsage(t *testing.T) {
	sse := "data: {\"model\":\"llama-3.1-8b-instant\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"model\":\"llama-3.1-8b-instant\",\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"model\":\"llama-3.1-8b-instant\",\"choices\":[],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":2}}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire compatRequest
		_ = json.NewDecoder(r.Body).Decode(&wire)
		if !wire.Stream || wire.StreamOptions == nil || !wire.StreamOptions.IncludeUsage {
			t.Error("stream request must set stream and stream_options.include_usage")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer srv.Close()

	p := NewCompat("groq", "k", srv.URL, nil)
	ch, err := p.Stream(context.Background(), Request{
		Model:    "llama-3.1-8b-instant",
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	var chunks []StreamChunk
	for c := range ch {
		if c.Err != nil {
			t.Fatalf("unexpected stream error: %v", c.Err)
		}
		chunks = append(chunks, c)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Delta != "Hel" || chunks[1].Delta != "lo" {
		t.Errorf("deltas = %q, %q", chunks[0].Delta, chunks[1].Delta)
	}
	final := chunks[len(chunks)-1]
	if final.Usage == nil {
		t.Fatal("final chunk must carry usage")
	}
	if final.Usage.PromptTokens != 9 || final.Usage.CompletionTokens != 2 {
		t.Errorf("final usage = %+v", *final.Usage)
	}
	if final.FinishReason != FinishStop {
		t.Errorf("final finish reason = %q, want stop", final.FinishReason)
	}
	if final.Delta != "" {
		t.Error("final chunk must not carry content")
	}
}

func TestCompat_Stream_MalformedPayloadAborts(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n" +
		"data: {not json}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer srv.Close()

	p := NewCompat("groq", "k", srv.URL, nil)
	ch, err := p.Stream(context.Background(), Request{
		Model:    "llama-3.1-8b-instant",
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	var last StreamChunk
	for c := range ch {
		last = c
	}
	if last.Err == nil {
		t.Fatal("malformed payload must abort the stream with an error")
	}
	var perr *Error
	if !errors.As(last.Err, &perr) || perr.Code != CodeProviderProtocol {
		t.Errorf("error = %v, want %s", last.Err, CodeProviderProtocol)
	}
}

func TestCompat_Stream_EstimatesMissingUsage(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"hello\"},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer srv.Close()

	p := NewCompat("ollama", "", srv.URL, nil)
	ch, err := p.Stream(context.Background(), Request{
		Model:    "llama3.2",
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	var last StreamChunk
	for c := range ch {
		last = c
	}
	if last.Usage == nil || !last.Usage.Estimated {
		t.Errorf("final chunk usage = %+v, want estimated", last.Usage)
	}
}

func TestCompat_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data": [{"id": "llama-3.3-70b-versatile"}, {"id": "llama-3.1-8b-instant"}]}`))
	}))
	defer srv.Close()

	p := NewCompat("groq", "k", srv.URL, []string{"static-model"})
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %v", models)
	}
}

func TestCompat_ListModels_FallsBackToStatic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewCompat("groq", "k", srv.URL, []string{"llama-3.1-8b-instant"})
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(models) != 1 || models[0] != "llama-3.1-8b-instant" {
		t.Errorf("models = %v, want static fallback", models)
	}
}

func TestCompat_ImageContentRendering(t *testing.T) {
	wire := buildCompatRequest(Request{
		Model: "gemini-2.0-flash",
		Messages: []Message{{
			Role:    RoleUser,
			Content: "what is this?",
			Images:  []ImagePart{{MIME: "image/png", Data: "aGVsbG8="}},
		}},
	})
	parts, ok := wire.Messages[0].Content.([]compatContentPart)
	if !ok {
		t.Fatalf("content = %T, want parts", wire.Messages[0].Content)
	}
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("image part = %+v", parts[1])
	}
}

func TestEstimatedUsage(t *testing.T) {
	u := estimatedUsage([]Message{
		{Role: RoleUser, Content: "12345678"}, // 8 chars -> 2 tokens + 4 overhead
	}, "abcd")
	if u.PromptTokens != 6 {
		t.Errorf("PromptTokens = %d, want 6", u.PromptTokens)
	}
	if u.CompletionTokens != 1 {
		t.Errorf("CompletionTokens = %d, want 1", u.CompletionTokens)
	}
	if !u.Estimated {
		t.Error("Estimated flag must be set")
	}
}
