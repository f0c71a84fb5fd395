package providers

// Base provides the fields and methods shared by every provider strategy.
// Embed it to avoid repeating name, apiKey, baseURL, and capability lookup
// handling across implementations.
type Base struct {
	name    string
	apiKey  string
	baseURL string
	caps    CapabilityLookup
}

// Name returns the provider name.
func (b *Base) Name() string { return b.name }

// BaseURL returns the provider base URL.
func (b *Base) BaseURL() string { return b.baseURL }

// SetCapabilityLookup installs the capability source of truth consulted by
// Supports. The gateway wires the catalog in here at registration time.
func (b *Base) SetCapabilityLookup(caps CapabilityLookup) { b.caps = caps }

// supports resolves a capability through the installed lookup, falling back
// to the given default when none is set.
func (b *Base) supports(model, capability string, fallback bool) bool {
	if b.caps != nil {
		return b.caps.Supports(b.name, model, capability)
	}
	return fallback
}

// estimatedUsage synthesizes usage for vendors that never report any.
// chars/4 plus per-message framing overhead, flagged Estimated so the cost
// accountant marks the figures as approximate.
func estimatedUsage(msgs []Message, completion string) Usage {
	prompt := 0
	for _, m := range msgs {
		prompt += len(m.Content)/4 + 4
		prompt += 85 * len(m.Images)
	}
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: len(completion) / 4,
		Estimated:        true,
	}
}
