// Package providers defines the normalized request/response types, the
// closed error taxonomy, and the Provider interface implemented by every
// vendor family.
//
// Each implementation translates the normalized message list to its vendor's
// wire shape, decodes whole responses and streams, extracts usage from
// wherever the vendor puts it, and maps vendor failures onto the taxonomy in
// errors.go.
//
// Core types: Request, Response, Message, Usage, StreamChunk.
package providers

import (
	"context"
	"encoding/json"
	"time"
)

// Message role constants used across all providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"

	// SSEDone is the sentinel value that marks the end of a server-sent event stream.
	SSEDone = "[DONE]"
)

// Finish reason constants carried on Response and the final StreamChunk.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolUse   = "tool_use"
	FinishCancelled = "cancelled"
)

// Capability names used by Supports and by catalog validation.
const (
	CapVision      = "vision"
	CapTools       = "tools"
	CapReasoning   = "reasoning"
	CapPromptCache = "prompt_cache"
)

// Provider defines the interface that all vendor families must implement.
//
// Complete and Stream are the two dispatch shapes. ListModels is best-effort
// discovery: providers without a live discovery endpoint return their static
// projection. Supports is a cheap local capability lookup.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
	ListModels(ctx context.Context) ([]string, error)
	Supports(model, capability string) bool
}

// CapabilityLookup resolves model capabilities from an external source of
// truth (the catalog). Providers consult it from Supports when set; nil
// falls back to per-provider heuristics.
type CapabilityLookup interface {
	Supports(provider, model, capability string) bool
}

// ModelRef identifies one (provider, model) pair. The router emits an
// ordered chain of these; the retry driver walks it on fallback.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (r ModelRef) String() string { return r.Provider + "/" + r.Model }

// ----------------------------------------------------------------- Message ---

// ImagePart is an inline image spliced into message content. The provider
// strategy decides how to render it on the wire.
type ImagePart struct {
	MIME string `json:"mime"`
	Data string `json:"data"` // base64, no data-URI prefix
}

// Message represents a single turn in a conversation.
//
// CacheHint marks the message as a stable reusable prefix: providers that
// support prompt caching emit their vendor cache directive for it, all
// others ignore it.
type Message struct {
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Name      string      `json:"name,omitempty"`
	Images    []ImagePart `json:"images,omitempty"`
	CacheHint bool        `json:"cache_hint,omitempty"`
}

// HasImages reports whether any message in msgs carries an inline image.
func HasImages(msgs []Message) bool {
	for _, m := range msgs {
		if len(m.Images) > 0 {
			return true
		}
	}
	return false
}

// ToolSpec describes a function the model may call.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Parameters is the JSON Schema for the function arguments.
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ----------------------------------------------------------------- Routing ---

// RouteStrategy selects the ordering applied to eligible models.
type RouteStrategy string

// Routing strategy constants.
const (
	RouteCost    RouteStrategy = "cost"
	RouteQuality RouteStrategy = "quality"
	RouteLatency RouteStrategy = "latency"
	RouteHybrid  RouteStrategy = "hybrid"
)

// Constraints narrows the candidate set before strategy ordering.
// Zero values mean unconstrained.
type Constraints struct {
	MaxPricePerMTok      float64  `json:"max_price_per_mtok,omitempty"`
	MaxLatencyClass      string   `json:"max_latency_class,omitempty"`
	MinContextWindow     int      `json:"min_context_window,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	PreferredProviders   []string `json:"preferred_providers,omitempty"`
	ExcludedProviders    []string `json:"excluded_providers,omitempty"`
}

// ----------------------------------------------------------------- Request ---

// Request is a normalized chat completion request.
type Request struct {
	// Model is the requested model ID. The router may dispatch to a different
	// model; the response records which one actually served.
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`

	// Sampling
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	// Output limits
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	Stop            []string `json:"stop,omitempty"`

	// Tools / function calling
	Tools []ToolSpec `json:"tools,omitempty"`

	// Streaming
	Stream bool `json:"stream,omitempty"`

	// Routing
	Strategy        RouteStrategy `json:"strategy,omitempty"`
	Constraints     *Constraints  `json:"constraints,omitempty"`
	AllowDeprecated bool          `json:"allow_deprecated,omitempty"`

	// SessionID attributes the call to a budget session. Empty means no
	// session accounting.
	SessionID string `json:"session_id,omitempty"`
}

// ------------------------------------------------------------------- Usage ---

// Usage carries token consumption for a completed call.
//
// PromptTokens is the full prompt size including cache reads:
// PromptTokens = uncached prompt + CacheReadTokens. CachedPromptTokens are
// provider-side automatic cache hits (OpenAI) that are billed at a discount
// rather than through the explicit cache-read price.
type Usage struct {
	PromptTokens       int `json:"prompt_tokens"`
	CompletionTokens   int `json:"completion_tokens"`
	CachedPromptTokens int `json:"cached_prompt_tokens,omitempty"`
	CacheWriteTokens   int `json:"cache_write_tokens,omitempty"`
	CacheReadTokens    int `json:"cache_read_tokens,omitempty"`
	ReasoningTokens    int `json:"reasoning_tokens,omitempty"`

	// Estimated is true when the vendor reported no usage and the counts
	// were derived from the tokenizer heuristic.
	Estimated bool `json:"estimated,omitempty"`
}

// ---------------------------------------------------------------- Response ---

// CostBreakdown records each billing term of a call for auditing.
// All figures are USD.
type CostBreakdown struct {
	InputUSD      float64 `json:"input_usd"`
	OutputUSD     float64 `json:"output_usd"`
	CacheReadUSD  float64 `json:"cache_read_usd,omitempty"`
	CacheWriteUSD float64 `json:"cache_write_usd,omitempty"`
	Estimated     bool    `json:"estimated,omitempty"`
	FromCache     bool    `json:"from_cache,omitempty"`
}

// Response is a completed chat call normalized across providers.
//
// Model may differ from the requested model when a fallback fired;
// Provider records where the call actually ran.
type Response struct {
	ID           string        `json:"id"`
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	Usage        Usage         `json:"usage"`
	CostUSD      float64       `json:"cost_usd"`
	Cost         CostBreakdown `json:"cost_breakdown"`
	LatencyMS    int64         `json:"latency_ms"`
	FinishReason string        `json:"finish_reason"`
	CreatedAt    time.Time     `json:"created_at"`
	FromCache    bool          `json:"from_cache,omitempty"`
}

// StreamChunk is one element of a streaming response.
//
// Intermediate chunks carry only Delta. The final chunk carries the
// authoritative Usage and a non-empty FinishReason, and is always the last
// value on the channel before it closes. A non-nil Err signals a stream
// failure; no further chunks follow it.
type StreamChunk struct {
	Delta        string `json:"delta,omitempty"`
	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Err          error  `json:"-"`
}
