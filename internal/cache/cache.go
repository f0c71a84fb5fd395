// Package cache provides the bounded in-process response cache. Identical
// non-streaming requests that finished cleanly are served from memory with
// zero cost.
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/modelmux/modelmux/providers"
)

// Stats is the aggregate cache telemetry exposed by the gateway.
type Stats struct {
	Entries          int     `json:"entries"`
	Hits             uint64  `json:"hit_count"`
	Misses           uint64  `json:"miss_count"`
	EstimatedSavings float64 `json:"estimated_savings"`
}

// keyedRequest is the subset of a request that participates in the cache
// key. Stream flag and session ID are deliberately excluded: the same
// conversation served streamed or attributed to a different session is the
// same completion.
type keyedRequest struct {
	Model       string               `json:"model"`
	Messages    []providers.Message  `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxOutput   *int                 `json:"max_output_tokens,omitempty"`
	TopP        *float64             `json:"top_p,omitempty"`
	Stop        []string             `json:"stop,omitempty"`
	Tools       []providers.ToolSpec `json:"tools,omitempty"`
}

// Key derives the stable cache key for a request. The requested model is
// part of the key, so rerouting the same prompt to a different model is a
// distinct entry.
func Key(req providers.Request) string {
	b, err := json.Marshal(keyedRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxOutput:   req.MaxOutputTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       req.Tools,
	})
	if err != nil {
		// Marshalling value types cannot fail in practice; keep the key
		// stable anyway.
		return fmt.Sprintf("raw:%s:%d", req.Model, len(req.Messages))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// Cacheable reports whether a completed response may be stored: whole
// responses only, finished with a clean stop. Truncated or tool-invoking
// completions are never cached.
func Cacheable(req providers.Request, resp *providers.Response) bool {
	return !req.Stream && resp != nil && !resp.FromCache && resp.FinishReason == providers.FinishStop
}
