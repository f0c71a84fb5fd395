package modelmux

import (
	"context"
	"testing"
	"time"

	"github.com/modelmux/modelmux/providers"
)

// fakeProvider serves canned completions under a real provider's name so the
// bundled catalog prices its models.
type fakeProvider struct {
	name     string
	response providers.Response
	chunks   []providers.StreamChunk
	err      error
	calls    int
	lastReq  providers.Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, req providers.Request) (*providers.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	resp := f.response
	resp.Model = req.Model
	resp.CreatedAt = time.Now().UTC()
	return &resp, nil
}

func (f *fakeProvider) Stream(_ context.Context, req providers.Request) (<-chan providers.StreamChunk, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan providers.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) ListModels(context.Context) ([]string, error) {
	return []string{"llama-3.1-8b-instant"}, nil
}

func (f *fakeProvider) Supports(string, string) bool { return true }

func newTestGateway(t *testing.T, cfg Config) *Gateway {
	t.Helper()
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// groqFake registers a fake under the groq name, replacing anything the
// environment may have configured.
func groqFake(g *Gateway) *fakeProvider {
	f := &fakeProvider{
		name: "groq",
		response: providers.Response{
			Content:      "the answer",
			FinishReason: providers.FinishStop,
			Usage:        providers.Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000},
		},
	}
	g.RegisterProvider(f)
	return f
}

func pinnedReq(content string) providers.Request {
	return providers.Request{
		Model:    "groq/llama-3.1-8b-instant",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: content}},
	}
}

func TestDispatch_Success(t *testing.T) {
	g := newTestGateway(t, Config{})
	f := groqFake(g)

	req := pinnedReq("what is the answer?")
	req.SessionID = "s1"
	resp, err := g.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Content != "the answer" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Provider != "groq" || resp.Model != "llama-3.1-8b-instant" {
		t.Errorf("serving ref = %s/%s", resp.Provider, resp.Model)
	}
	// 1M prompt at $0.05/MTok + 500k completion at $0.08/MTok.
	if resp.CostUSD != 0.09 {
		t.Errorf("CostUSD = %v, want 0.09", resp.CostUSD)
	}
	if resp.Cost.InputUSD != 0.05 || resp.Cost.OutputUSD != 0.04 {
		t.Errorf("Cost breakdown = %+v", resp.Cost)
	}
	if resp.ID == "" {
		t.Error("response must carry an ID")
	}
	if f.calls != 1 {
		t.Errorf("provider calls = %d, want 1", f.calls)
	}

	sum := g.SessionSummary("s1")
	if len(sum.Calls) != 1 {
		t.Fatalf("session calls = %d, want 1", len(sum.Calls))
	}
	if sum.TotalCost != 0.09 {
		t.Errorf("session total = %v, want 0.09", sum.TotalCost)
	}
	if sum.PerProvider["groq"] != 0.09 {
		t.Errorf("per-provider = %v", sum.PerProvider)
	}
}

func TestDispatch_CacheHit(t *testing.T) {
	g := newTestGateway(t, Config{})
	f := groqFake(g)

	req := pinnedReq("cache me")
	req.SessionID = "s1"

	first, err := g.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	if first.FromCache {
		t.Fatal("first dispatch must not be a cache hit")
	}

	second, err := g.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if !second.FromCache || !second.Cost.FromCache {
		t.Error("second dispatch should be served from cache")
	}
	// A hit costs the caller nothing; the avoided spend lands in the cache's
	// savings counter instead.
	if second.CostUSD != 0 {
		t.Errorf("cache hit CostUSD = %v, want 0", second.CostUSD)
	}
	if second.Cost.InputUSD != 0 || second.Cost.OutputUSD != 0 {
		t.Errorf("cache hit breakdown = %+v, want zeroed", second.Cost)
	}
	if second.Content != first.Content {
		t.Errorf("cached content = %q", second.Content)
	}
	if savings := g.CacheStats().EstimatedSavings; savings != first.CostUSD {
		t.Errorf("estimated savings = %v, want %v", savings, first.CostUSD)
	}
	if f.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (hit must not reach the wire)", f.calls)
	}
	// A cache hit dispatches no provider call, so nothing new is recorded.
	if got := len(g.SessionSummary("s1").Calls); got != 1 {
		t.Errorf("session calls = %d, want 1", got)
	}
	if stats := g.CacheStats(); stats.Hits != 1 {
		t.Errorf("cache hits = %d, want 1", stats.Hits)
	}
}

func TestDispatch_CacheDisabled(t *testing.T) {
	g := newTestGateway(t, Config{Cache: CacheConfig{Disabled: true}})
	f := groqFake(g)

	req := pinnedReq("no cache")
	for i := 0; i < 2; i++ {
		if _, err := g.Dispatch(context.Background(), req); err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
	}
	if f.calls != 2 {
		t.Errorf("provider calls = %d, want 2 with cache disabled", f.calls)
	}
	if stats := g.CacheStats(); stats.Hits != 0 || stats.Entries != 0 {
		t.Errorf("disabled cache stats = %+v", stats)
	}
}

func TestDispatch_ValidationRejections(t *testing.T) {
	g := newTestGateway(t, Config{})
	groqFake(g)

	t.Run("no messages", func(t *testing.T) {
		_, err := g.Dispatch(context.Background(), providers.Request{Model: "groq/llama-3.1-8b-instant"})
		if providers.CodeOf(err) != providers.CodeInvalidRequest {
			t.Errorf("err = %v, want %s", err, providers.CodeInvalidRequest)
		}
	})

	t.Run("unknown model", func(t *testing.T) {
		req := pinnedReq("hi")
		req.Model = "no/such-model"
		_, err := g.Dispatch(context.Background(), req)
		if providers.CodeOf(err) != providers.CodeModelNotFound {
			t.Errorf("err = %v, want %s", err, providers.CodeModelNotFound)
		}
	})

	t.Run("temperature out of range", func(t *testing.T) {
		req := pinnedReq("hi")
		temp := 5.0
		req.Temperature = &temp
		_, err := g.Dispatch(context.Background(), req)
		if providers.CodeOf(err) != providers.CodeInvalidRequest {
			t.Errorf("err = %v, want %s", err, providers.CodeInvalidRequest)
		}
	})
}

func TestDispatch_BudgetGate(t *testing.T) {
	g := newTestGateway(t, Config{Cache: CacheConfig{Disabled: true}})
	f := groqFake(g)
	g.SetSessionLimit("s1", 0.05)

	req := pinnedReq("first call")
	req.SessionID = "s1"
	if _, err := g.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}

	// Session now holds $0.09 against a $0.05 limit; the gate rejects before
	// any provider call.
	req.Messages[0].Content = "second call"
	_, err := g.Dispatch(context.Background(), req)
	if providers.CodeOf(err) != providers.CodeBudgetExhausted {
		t.Fatalf("err = %v, want %s", err, providers.CodeBudgetExhausted)
	}
	if f.calls != 1 {
		t.Errorf("provider calls = %d, want 1", f.calls)
	}
}

func TestDispatch_FailureIsRecorded(t *testing.T) {
	g := newTestGateway(t, Config{Cache: CacheConfig{Disabled: true}, Router: RouterConfig{TopK: 1}})
	f := &fakeProvider{
		name: "groq",
		err:  &providers.Error{Code: providers.CodeAuthRejected, Provider: "groq", Model: "llama-3.1-8b-instant"},
	}
	g.RegisterProvider(f)

	req := pinnedReq("doomed")
	req.SessionID = "s1"
	_, err := g.Dispatch(context.Background(), req)
	if providers.CodeOf(err) != providers.CodeAuthRejected {
		t.Fatalf("err = %v", err)
	}

	sum := g.SessionSummary("s1")
	if len(sum.Calls) != 1 {
		t.Fatalf("session calls = %d, want 1 (failures are recorded)", len(sum.Calls))
	}
	if sum.Calls[0].ErrorCode != string(providers.CodeAuthRejected) {
		t.Errorf("recorded error code = %q", sum.Calls[0].ErrorCode)
	}
	if sum.TotalCost != 0 {
		t.Errorf("failed call cost = %v, want 0", sum.TotalCost)
	}
}

func TestDispatchStream(t *testing.T) {
	g := newTestGateway(t, Config{})
	f := &fakeProvider{
		name: "groq",
		chunks: []providers.StreamChunk{
			{Delta: "the "},
			{Delta: "answer"},
			{
				Usage:        &providers.Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000},
				FinishReason: providers.FinishStop,
			},
		},
	}
	g.RegisterProvider(f)

	req := pinnedReq("stream it")
	req.SessionID = "s1"
	ch, err := g.DispatchStream(context.Background(), req)
	if err != nil {
		t.Fatalf("DispatchStream: %v", err)
	}

	var content string
	var final providers.StreamChunk
	for c := range ch {
		if c.Err != nil {
			t.Fatalf("chunk error: %v", c.Err)
		}
		content += c.Delta
		final = c
	}
	if content != "the answer" {
		t.Errorf("content = %q", content)
	}
	if final.Usage == nil || final.FinishReason != providers.FinishStop {
		t.Errorf("final chunk = %+v", final)
	}
	if final.Provider != "groq" || final.Model != "llama-3.1-8b-instant" {
		t.Errorf("final chunk ref = %s/%s", final.Provider, final.Model)
	}

	// Settlement runs after the channel drains; wait for the recorded call.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sum := g.SessionSummary("s1")
		if len(sum.Calls) == 1 {
			if sum.TotalCost != 0.09 {
				t.Errorf("stream cost = %v, want 0.09", sum.TotalCost)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream settlement never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Streamed responses are never cached.
	if stats := g.CacheStats(); stats.Entries != 0 {
		t.Errorf("cache entries = %d, want 0", stats.Entries)
	}
}

func TestDispatchStream_CancelledAbandonedStillSettles(t *testing.T) {
	chunks := make([]providers.StreamChunk, 0, 10)
	for i := 0; i < 9; i++ {
		chunks = append(chunks, providers.StreamChunk{Delta: "x"})
	}
	chunks = append(chunks, providers.StreamChunk{
		Usage:        &providers.Usage{PromptTokens: 100, CompletionTokens: 10},
		FinishReason: providers.FinishStop,
	})

	g := newTestGateway(t, Config{})
	f := &fakeProvider{name: "groq", chunks: chunks}
	g.RegisterProvider(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := pinnedReq("long stream")
	req.SessionID = "s1"
	ch, err := g.DispatchStream(ctx, req)
	if err != nil {
		t.Fatalf("DispatchStream: %v", err)
	}

	// Read one chunk, cancel, and walk away without draining the channel.
	<-ch
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		sum := g.SessionSummary("s1")
		if len(sum.Calls) == 1 {
			if got := sum.Calls[0].FinishReason; got != providers.FinishCancelled {
				t.Errorf("finish reason = %q, want %q", got, providers.FinishCancelled)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cancelled stream never settled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatch_FixedTemperatureIgnored(t *testing.T) {
	g := newTestGateway(t, Config{Cache: CacheConfig{Disabled: true}})
	f := &fakeProvider{
		name: "openai",
		response: providers.Response{
			Content:      "reasoned",
			FinishReason: providers.FinishStop,
			Usage:        providers.Usage{PromptTokens: 10, CompletionTokens: 5},
		},
	}
	g.RegisterProvider(f)

	temp := 0.2
	req := providers.Request{
		Model:       "openai/o1-2024-12-17",
		Messages:    []providers.Message{{Role: providers.RoleUser, Content: "think hard"}},
		Temperature: &temp,
	}
	if _, err := g.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if f.lastReq.Temperature != nil {
		t.Errorf("temperature = %v, want dropped for a fixed-temperature model", *f.lastReq.Temperature)
	}

	// Models without a pinned temperature keep the caller's value.
	groq := groqFake(g)
	greq := pinnedReq("hello")
	greq.Temperature = &temp
	if _, err := g.Dispatch(context.Background(), greq); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if groq.lastReq.Temperature == nil || *groq.lastReq.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2 preserved", groq.lastReq.Temperature)
	}
}

func TestDispatch_EventHooks(t *testing.T) {
	g := newTestGateway(t, Config{})
	groqFake(g)

	events := make(chan string, 2)
	g.AddHook(func(_ context.Context, subject string, data map[string]any) {
		if data["provider"] == "groq" {
			events <- subject
		}
	})

	if _, err := g.Dispatch(context.Background(), pinnedReq("notify me")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	select {
	case subject := <-events:
		if subject != SubjectDispatchCompleted {
			t.Errorf("subject = %q, want %q", subject, SubjectDispatchCompleted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hook never fired")
	}
}

func TestRegisterProvider_WiresCatalogCapabilities(t *testing.T) {
	g := newTestGateway(t, Config{})
	p := providers.NewGroq("test-key", "")
	g.RegisterProvider(p)

	// The bundled catalog, not the compat heuristic, now answers Supports.
	if !p.Supports("llama-3.1-8b-instant", providers.CapTools) {
		t.Error("catalog says llama-3.1-8b-instant has tools")
	}
	if p.Supports("llama-3.1-8b-instant", providers.CapVision) {
		t.Error("catalog says llama-3.1-8b-instant lacks vision")
	}
}

func TestGateway_ProvidersAndDiscovery(t *testing.T) {
	g := newTestGateway(t, Config{Providers: []ProviderConfig{{Name: "ollama", BaseURL: "http://127.0.0.1:1"}}})
	f := groqFake(g)

	found := false
	for _, name := range g.Providers() {
		if name == "groq" {
			found = true
		}
	}
	if !found {
		t.Errorf("Providers() = %v, want groq included", g.Providers())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := g.StartDiscovery(ctx, 0); err == nil {
		t.Error("non-positive interval must be rejected")
	}
	if err := g.StartDiscovery(ctx, time.Hour); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if models := g.DiscoveredModels()["groq"]; len(models) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("discovery never captured the fake provider's models")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = f
}

func TestGateway_ClearCache(t *testing.T) {
	g := newTestGateway(t, Config{})
	groqFake(g)

	if _, err := g.Dispatch(context.Background(), pinnedReq("fill the cache")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if g.CacheStats().Entries != 1 {
		t.Fatalf("entries = %d, want 1", g.CacheStats().Entries)
	}
	g.ClearCache()
	if g.CacheStats().Entries != 0 {
		t.Errorf("entries after clear = %d, want 0", g.CacheStats().Entries)
	}
}
