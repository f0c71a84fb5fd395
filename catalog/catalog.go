// Package catalog is the single source of truth for model metadata: pricing,
// context windows, capabilities, and deprecation. The router, cost
// accountant, and request validator all read from it.
//
// The catalog is read-mostly. Loading replaces an immutable in-memory
// snapshot atomically; readers never block writers and a failed load keeps
// the previous snapshot in effect.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/modelmux/modelmux/providers"
)

// LatencyClass is the coarse latency bucket assigned per model.
type LatencyClass string

// Latency classes, fastest first.
const (
	LatencyUltra    LatencyClass = "ultra"
	LatencyFast     LatencyClass = "fast"
	LatencyStandard LatencyClass = "standard"
	LatencySlow     LatencyClass = "slow"
)

// LatencyRank maps a latency class to its ordering position (ultra < fast <
// standard < slow). Unknown classes sort last.
func LatencyRank(c LatencyClass) int {
	switch c {
	case LatencyUltra:
		return 0
	case LatencyFast:
		return 1
	case LatencyStandard:
		return 2
	case LatencySlow:
		return 3
	}
	return 4
}

// Capabilities describes what features a model supports.
type Capabilities struct {
	Vision      bool `json:"vision,omitempty"`
	Tools       bool `json:"tools,omitempty"`
	Reasoning   bool `json:"reasoning,omitempty"`
	PromptCache bool `json:"prompt_cache,omitempty"`
}

// Has reports whether the named capability is set.
func (c Capabilities) Has(capability string) bool {
	switch capability {
	case providers.CapVision:
		return c.Vision
	case providers.CapTools:
		return c.Tools
	case providers.CapReasoning:
		return c.Reasoning
	case providers.CapPromptCache:
		return c.PromptCache
	}
	return false
}

// Entry holds all metadata for a single (provider, model) pair.
//
// Token prices are USD per 1M tokens. A nil price means the field is absent
// from the catalog — it does NOT mean free. Use 0 for genuinely free models.
type Entry struct {
	Provider string `json:"-"`
	ModelID  string `json:"-"`

	DisplayName   string `json:"display_name,omitempty"`
	Category      string `json:"category,omitempty"`
	ContextWindow int    `json:"context_window"`
	OutputCeiling int    `json:"output_ceiling,omitempty"`

	InputPerMTok      *float64 `json:"input_price_per_mtok"`
	OutputPerMTok     *float64 `json:"output_price_per_mtok"`
	CacheWritePerMTok *float64 `json:"cache_write_price_per_mtok,omitempty"`
	CacheReadPerMTok  *float64 `json:"cache_read_price_per_mtok,omitempty"`

	Capabilities Capabilities `json:"capabilities,omitempty"`

	QualityScore float64      `json:"quality_score,omitempty"`
	Latency      LatencyClass `json:"latency_class,omitempty"`

	// FixedTemperature is set for models that pin sampling temperature
	// (reasoning models); requests against them ignore the field.
	FixedTemperature *float64 `json:"fixed_temperature,omitempty"`

	Deprecated     bool   `json:"deprecated,omitempty"`
	DeprecatedDate string `json:"deprecated_date,omitempty"`
	Replacement    string `json:"replacement_model_id,omitempty"`
}

// Key returns the catalog key "provider/model-id".
func (e Entry) Key() string { return e.Provider + "/" + e.ModelID }

// Ref returns the entry as a routing ModelRef.
func (e Entry) Ref() providers.ModelRef {
	return providers.ModelRef{Provider: e.Provider, Model: e.ModelID}
}

// BlendedPrice is the (input+output)/2 figure used by the cost strategy
// ordering. Nil prices count as zero here; load validation rejects chat
// entries without both prices, so this only matters for free local models.
func (e Entry) BlendedPrice() float64 {
	var in, out float64
	if e.InputPerMTok != nil {
		in = *e.InputPerMTok
	}
	if e.OutputPerMTok != nil {
		out = *e.OutputPerMTok
	}
	return (in + out) / 2
}

// MaxTemperature returns the provider's temperature ceiling: 1.0 for
// Anthropic, 2.0 for everyone else.
func (e Entry) MaxTemperature() float64 {
	if e.Provider == "anthropic" {
		return 1.0
	}
	return 2.0
}

// snapshot is the immutable table readers operate on.
type snapshot struct {
	version string
	updated string
	// entries keyed "provider/model-id"
	entries map[string]Entry
	// byModel indexes entries by bare model ID; a model offered by several
	// providers has several elements, sorted by provider for determinism.
	byModel map[string][]Entry
}

// Catalog is the process-wide model registry. The zero value is not usable;
// construct with New and call Load before serving lookups.
type Catalog struct {
	mu   sync.Mutex // serializes writers (Load)
	snap atomic.Pointer[snapshot]
}

// New returns an empty catalog. Call Load (or LoadBytes) to populate it.
func New() *Catalog {
	c := &Catalog{}
	c.snap.Store(&snapshot{
		entries: map[string]Entry{},
		byModel: map[string][]Entry{},
	})
	return c
}

func (c *Catalog) current() *snapshot { return c.snap.Load() }

// Version returns the version string of the active snapshot.
func (c *Catalog) Version() string { return c.current().version }

// Len returns the number of entries in the active snapshot.
func (c *Catalog) Len() int { return len(c.current().entries) }

// Lookup resolves a model by "provider/model-id" or by bare model ID.
// A bare ID offered by several providers resolves to the lexically first
// provider, keeping lookups deterministic.
func (c *Catalog) Lookup(modelID string) (Entry, bool) {
	s := c.current()
	if e, ok := s.entries[modelID]; ok {
		return e, true
	}
	if es := s.byModel[modelID]; len(es) > 0 {
		return es[0], true
	}
	return Entry{}, false
}

// LookupIn resolves a model within a specific provider.
func (c *Catalog) LookupIn(provider, modelID string) (Entry, bool) {
	e, ok := c.current().entries[provider+"/"+modelID]
	return e, ok
}

// List returns all entries, or only those of the given provider when
// providerID is non-empty. The result is sorted by key and safe to retain.
func (c *Catalog) List(providerID string) []Entry {
	s := c.current()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if providerID != "" && e.Provider != providerID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// IsDeprecated reports whether the model is deprecated and names its
// replacement when the catalog knows one. Unknown models are not deprecated.
func (c *Catalog) IsDeprecated(modelID string) (bool, string) {
	e, ok := c.Lookup(modelID)
	if !ok || !e.Deprecated {
		return false, ""
	}
	return true, e.Replacement
}

// Supports implements providers.CapabilityLookup.
func (c *Catalog) Supports(provider, model, capability string) bool {
	e, ok := c.LookupIn(provider, model)
	if !ok {
		return false
	}
	return e.Capabilities.Has(capability)
}

// Close releases catalog resources. Present for lifecycle symmetry; the
// in-memory snapshot needs no teardown.
func (c *Catalog) Close() error { return nil }

// ------------------------------------------------------------- validation ---

// Violation describes one request/catalog mismatch found by ValidateRequest.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string { return v.Field + ": " + v.Message }

// Violations checks req against the catalog entry for its model and returns
// every mismatch. An unknown model yields a single model violation.
func (c *Catalog) Violations(req providers.Request) []Violation {
	if len(req.Messages) == 0 {
		return []Violation{{Field: "messages", Message: "at least one message is required"}}
	}

	e, ok := c.Lookup(req.Model)
	if !ok {
		return []Violation{{Field: "model", Message: fmt.Sprintf("unknown model %q", req.Model)}}
	}

	var vs []Violation
	if providers.HasImages(req.Messages) && !e.Capabilities.Vision {
		vs = append(vs, Violation{Field: "messages", Message: "request contains images but model lacks vision"})
	}
	if len(req.Tools) > 0 && !e.Capabilities.Tools {
		vs = append(vs, Violation{Field: "tools", Message: "tool spec set but model lacks tool calling"})
	}
	// Fixed-temperature models ignore the field entirely.
	if req.Temperature != nil && e.FixedTemperature == nil {
		if *req.Temperature < 0 || *req.Temperature > e.MaxTemperature() {
			vs = append(vs, Violation{
				Field:   "temperature",
				Message: fmt.Sprintf("%.2f outside [0, %.1f] for provider %s", *req.Temperature, e.MaxTemperature(), e.Provider),
			})
		}
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		vs = append(vs, Violation{Field: "top_p", Message: "must be between 0 and 1"})
	}
	if req.MaxOutputTokens != nil {
		if *req.MaxOutputTokens <= 0 {
			vs = append(vs, Violation{Field: "max_output_tokens", Message: "must be positive"})
		} else if e.OutputCeiling > 0 && *req.MaxOutputTokens > e.OutputCeiling {
			vs = append(vs, Violation{
				Field:   "max_output_tokens",
				Message: fmt.Sprintf("%d exceeds model output ceiling %d", *req.MaxOutputTokens, e.OutputCeiling),
			})
		}
	}
	return vs
}

// ValidateRequest converts Violations into a taxonomy error, or nil when the
// request is clean. Capability mismatches get their own code so the router
// can try a capable candidate; everything else is invalid_request.
func (c *Catalog) ValidateRequest(req providers.Request) error {
	vs := c.Violations(req)
	if len(vs) == 0 {
		return nil
	}

	if _, ok := c.Lookup(req.Model); !ok && req.Model != "" && len(req.Messages) > 0 {
		return providers.Errf(providers.CodeModelNotFound, "", req.Model, "%s", vs[0].Message)
	}

	code := providers.CodeInvalidRequest
	msgs := make([]string, len(vs))
	for i, v := range vs {
		msgs[i] = v.String()
		if strings.Contains(v.Message, "lacks") {
			code = providers.CodeCapabilityMismatch
		}
	}
	// Mixed violations stay invalid_request: the capability code is only
	// used when that is the sole problem.
	if len(vs) > 1 {
		code = providers.CodeInvalidRequest
	}
	return providers.Errf(code, "", req.Model, "%s", strings.Join(msgs, "; "))
}
