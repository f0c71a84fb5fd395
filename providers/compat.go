package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// Compat implements the Provider interface for the OpenAI-compatible wire
// family: Groq, DeepSeek, xAI, OpenRouter, and Google's compatibility
// endpoint. One wire codec serves all five; the constructors differ only in
// name, endpoint, and the static model list used when live discovery fails.
//
// Vendor quirks are absorbed here: DeepSeek reports prompt cache hits in
// prompt_cache_hit_tokens, OpenAI-style vendors in
// prompt_tokens_details.cached_tokens. Both land in the normalized Usage.
type Compat struct {
	Base
	httpClient *http.Client
	static     []string
}

// NewCompat creates a provider for any OpenAI-compatible endpoint.
func NewCompat(name, apiKey, baseURL string, static []string) *Compat {
	return &Compat{
		Base:       Base{name: name, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")},
		httpClient: &http.Client{},
		static:     static,
	}
}

// NewGroq creates a Groq provider.
func NewGroq(apiKey, baseURL string) *Compat {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai"
	}
	return NewCompat("groq", apiKey, baseURL, []string{
		"llama-3.3-70b-versatile",
		"llama-3.1-8b-instant",
	})
}

// NewDeepSeek creates a DeepSeek provider.
func NewDeepSeek(apiKey, baseURL string) *Compat {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	return NewCompat("deepseek", apiKey, baseURL, []string{
		"deepseek-chat",
		"deepseek-reasoner",
	})
}

// NewXAI creates an xAI provider.
func NewXAI(apiKey, baseURL string) *Compat {
	if baseURL == "" {
		baseURL = "https://api.x.ai"
	}
	return NewCompat("xai", apiKey, baseURL, []string{
		"grok-2-1212",
	})
}

// NewOpenRouter creates an OpenRouter provider.
func NewOpenRouter(apiKey, baseURL string) *Compat {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api"
	}
	return NewCompat("openrouter", apiKey, baseURL, []string{
		"meta-llama/llama-3.1-70b-instruct",
	})
}

// NewOllama creates a provider for a local Ollama daemon, which exposes the
// same OpenAI-compatible surface. No API key; usage is whatever the daemon
// reports, estimated otherwise.
func NewOllama(baseURL string) *Compat {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return NewCompat("ollama", "", baseURL, []string{
		"llama3.2",
	})
}

// NewGoogle creates a Google provider speaking the Gemini OpenAI-compatible
// endpoint.
func NewGoogle(apiKey, baseURL string) *Compat {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	return NewCompat("google", apiKey, baseURL, []string{
		"gemini-2.0-flash",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
	})
}

// Supports consults the capability lookup; without one, the compat family
// claims tool support and nothing else.
func (p *Compat) Supports(model, capability string) bool {
	return p.supports(model, capability, capability == CapTools)
}

// ---------------------------------------------------------------- wire types --

type compatContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type compatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []compatContentPart
	Name    string `json:"name,omitempty"`
}

type compatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type compatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type compatRequest struct {
	Model         string               `json:"model"`
	Messages      []compatMessage      `json:"messages"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	MaxTokens     *int                 `json:"max_tokens,omitempty"`
	Stop          []string             `json:"stop,omitempty"`
	Tools         []compatTool         `json:"tools,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *compatStreamOptions `json:"stream_options,omitempty"`
}

type compatUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
	CompletionTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
	// DeepSeek's spelling of the cache split.
	PromptCacheHitTokens  int `json:"prompt_cache_hit_tokens"`
	PromptCacheMissTokens int `json:"prompt_cache_miss_tokens"`
}

type compatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *compatUsage `json:"usage"`
}

type compatStreamEvent struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *compatUsage `json:"usage"`
}

func (u *compatUsage) normalize() Usage {
	usage := Usage{
		PromptTokens:       u.PromptTokens,
		CompletionTokens:   u.CompletionTokens,
		CachedPromptTokens: u.PromptTokensDetails.CachedTokens,
		ReasoningTokens:    u.CompletionTokensDetails.ReasoningTokens,
	}
	if u.PromptCacheHitTokens > 0 {
		usage.CacheReadTokens = u.PromptCacheHitTokens
	}
	return usage
}

// normalizeFinish maps the OpenAI-wire finish reason onto the closed set.
func normalizeFinish(reason string) string {
	switch reason {
	case "stop", "":
		return FinishStop
	case "length", "max_tokens":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolUse
	}
	return reason
}

func buildCompatRequest(req Request) compatRequest {
	wire := compatRequest{
		Model:       req.Model,
		Messages:    make([]compatMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxOutputTokens,
		Stop:        req.Stop,
	}
	for _, m := range req.Messages {
		cm := compatMessage{Role: m.Role, Name: m.Name}
		if len(m.Images) == 0 {
			cm.Content = m.Content
		} else {
			parts := []compatContentPart{{Type: "text", Text: m.Content}}
			for _, img := range m.Images {
				part := compatContentPart{Type: "image_url"}
				part.ImageURL = &struct {
					URL string `json:"url"`
				}{URL: "data:" + img.MIME + ";base64," + img.Data}
				parts = append(parts, part)
			}
			cm.Content = parts
		}
		wire.Messages = append(wire.Messages, cm)
	}
	for _, t := range req.Tools {
		ct := compatTool{Type: "function"}
		ct.Function.Name = t.Name
		ct.Function.Description = t.Description
		ct.Function.Parameters = t.Parameters
		wire.Tools = append(wire.Tools, ct)
	}
	return wire
}

// post issues the chat completion POST and maps transport and HTTP errors
// onto the taxonomy. The caller owns the returned body.
func (p *Compat) post(ctx context.Context, model string, wire compatRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, WrapErr(CodeInvalidRequest, p.name, model, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, WrapErr(CodeInvalidRequest, p.name, model, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapTransportError(p.name, model, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, MapWireError(p.name, model, httpResp.StatusCode, httpResp.Header, string(respBody))
	}
	return httpResp, nil
}

// Complete sends a chat completion request and returns the full response.
func (p *Compat) Complete(ctx context.Context, req Request) (*Response, error) {
	httpResp, err := p.post(ctx, req.Model, buildCompatRequest(req))
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, MapTransportError(p.name, req.Model, err)
	}

	var wire compatResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, WrapErr(CodeProviderProtocol, p.name, req.Model, err)
	}
	if len(wire.Choices) == 0 {
		return nil, Errf(CodeProviderProtocol, p.name, req.Model, "response carries no choices")
	}

	resp := &Response{
		ID:           wire.ID,
		Content:      wire.Choices[0].Message.Content,
		Model:        wire.Model,
		Provider:     p.name,
		FinishReason: normalizeFinish(wire.Choices[0].FinishReason),
		CreatedAt:    time.Now().UTC(),
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if wire.Usage != nil {
		resp.Usage = wire.Usage.normalize()
	} else {
		resp.Usage = estimatedUsage(req.Messages, resp.Content)
	}
	return resp, nil
}

// Stream sends a streaming chat completion request. The final chunk carries
// the authoritative usage and finish reason; a malformed SSE payload aborts
// the stream with a provider protocol error.
func (p *Compat) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	wire := buildCompatRequest(req)
	wire.Stream = true
	wire.StreamOptions = &compatStreamOptions{IncludeUsage: true}

	httpResp, err := p.post(ctx, req.Model, wire)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = httpResp.Body.Close() }()

		var (
			model        = req.Model
			finishReason string
			usage        *Usage
			content      strings.Builder
		)

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == SSEDone {
				break
			}

			var event compatStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				ch <- StreamChunk{
					Model: model, Provider: p.name,
					Err: WrapErr(CodeProviderProtocol, p.name, model, err),
				}
				return
			}
			if event.Model != "" {
				model = event.Model
			}
			if event.Usage != nil {
				u := event.Usage.normalize()
				usage = &u
			}
			for _, c := range event.Choices {
				if c.FinishReason != "" {
					finishReason = normalizeFinish(c.FinishReason)
				}
				if c.Delta.Content == "" {
					continue
				}
				content.WriteString(c.Delta.Content)
				select {
				case ch <- StreamChunk{Delta: c.Delta.Content, Model: model, Provider: p.name}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- StreamChunk{
				Model: model, Provider: p.name,
				Err: MapTransportError(p.name, model, err),
			}
			return
		}

		if usage == nil {
			u := estimatedUsage(req.Messages, content.String())
			usage = &u
		}
		if finishReason == "" {
			finishReason = FinishStop
		}
		select {
		case ch <- StreamChunk{Model: model, Provider: p.name, Usage: usage, FinishReason: finishReason}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

type compatModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels queries the live /v1/models endpoint, falling back to the
// static projection when the endpoint is unreachable.
func (p *Compat) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return p.static, nil
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return p.static, nil
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return p.static, nil
	}
	var list compatModelList
	if err := json.NewDecoder(httpResp.Body).Decode(&list); err != nil {
		return p.static, nil
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return p.static, nil
	}
	return ids, nil
}
