// Package tokens estimates prompt token counts with tiktoken. Estimates
// drive the router's context-window filter, the budget gate's pre-flight
// check, and synthesized usage for vendors that never report it.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/modelmux/modelmux/providers"
)

// DefaultEncoding is cl100k_base. It undercounts slightly for non-OpenAI
// vocabularies, which is why callers that need a conservative figure apply
// SafetyMargin on top.
const DefaultEncoding = "cl100k_base"

// perMessageOverhead approximates the wire framing tokens around each
// message (role, separators).
const perMessageOverhead = 4

// SafetyMargin pads estimates for tokenizer variance across vendors.
const SafetyMargin = 1.2

// Estimator counts tokens using a shared tiktoken encoding. The zero value
// falls back to the chars/4 heuristic.
type Estimator struct {
	mu       sync.RWMutex
	encoding *tiktoken.Tiktoken
}

// New returns an estimator backed by the default encoding.
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the token count for text, falling back to chars/4 when no
// encoding is available.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.encoding.Encode(text, nil, nil))
}

// CountMessages estimates the prompt size of a message list, including
// per-message framing overhead.
func (e *Estimator) CountMessages(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Count(m.Content) + perMessageOverhead
		// Inline images are billed as vendor-specific tile tokens; a flat
		// floor keeps the context filter from treating them as free.
		total += 85 * len(m.Images)
	}
	return total
}

// Conservative applies SafetyMargin to an estimate.
func Conservative(n int) int {
	return int(float64(n) * SafetyMargin)
}
