// Package router selects an ordered candidate chain of (provider, model)
// pairs for a request under one of four strategies: cost, quality, latency,
// or a complexity-weighted hybrid. The chain feeds the retry driver's
// fallback walk.
//
// Routing is deterministic: the same catalog snapshot, request, strategy,
// and constraints always produce the same chain.
package router

import (
	"sort"

	"github.com/modelmux/modelmux/catalog"
	"github.com/modelmux/modelmux/internal/tokens"
	"github.com/modelmux/modelmux/providers"
)

// DefaultTopK is the chain length handed to the retry driver.
const DefaultTopK = 3

// DefaultMaxOutputTokens is assumed for the context-fit filter when the
// request does not cap its output.
const DefaultMaxOutputTokens = 1024

// deprecatedPenalty is subtracted from the hybrid utility of deprecated
// entries.
const deprecatedPenalty = 0.1

// Router scores catalog entries against requests.
type Router struct {
	cat           *catalog.Catalog
	estimator     *tokens.Estimator
	topK          int
	defaultMaxOut int
}

// Option configures a Router.
type Option func(*Router)

// WithTopK overrides the chain length.
func WithTopK(k int) Option {
	return func(r *Router) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithDefaultMaxOutput overrides the assumed output budget for requests
// without an explicit cap.
func WithDefaultMaxOutput(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.defaultMaxOut = n
		}
	}
}

// New creates a Router reading from cat and estimating prompts with est.
func New(cat *catalog.Catalog, est *tokens.Estimator, opts ...Option) *Router {
	r := &Router{
		cat:           cat,
		estimator:     est,
		topK:          DefaultTopK,
		defaultMaxOut: DefaultMaxOutputTokens,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EstimatePromptTokens exposes the router's prompt estimate so the budget
// gate prices the same figure the context filter uses.
func (r *Router) EstimatePromptTokens(req providers.Request) int {
	return r.estimator.CountMessages(req.Messages)
}

// Route produces the ordered candidate chain for req.
//
// A request that pins a model gets that model at the head of the chain with
// strategy-ordered alternates behind it as fallbacks. A request with no
// model is routed purely by strategy (hybrid by default).
func (r *Router) Route(req providers.Request) ([]providers.ModelRef, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = providers.RouteHybrid
	}

	var pinned *catalog.Entry
	if req.Model != "" {
		e, ok := r.cat.Lookup(req.Model)
		if !ok {
			return nil, providers.Errf(providers.CodeModelNotFound, "", req.Model,
				"model %q not in catalog", req.Model)
		}
		pinned = &e
	}

	eligible := r.filter(req)
	if len(eligible) == 0 && pinned == nil {
		return nil, providers.Errf(providers.CodeNoEligibleModel, "", "",
			"no catalog entry satisfies the request constraints")
	}

	r.order(strategy, req, eligible)
	preferFirst(eligible, req.Constraints)

	chain := make([]providers.ModelRef, 0, r.topK)
	if pinned != nil {
		chain = append(chain, pinned.Ref())
	}
	for _, e := range eligible {
		if len(chain) >= r.topK {
			break
		}
		if pinned != nil && e.Key() == pinned.Key() {
			continue
		}
		chain = append(chain, e.Ref())
	}
	if len(chain) == 0 {
		return nil, providers.Errf(providers.CodeNoEligibleModel, "", "",
			"no catalog entry satisfies the request constraints")
	}
	return chain, nil
}

// filter applies constraints, context fit, and deprecation before any
// strategy ordering.
func (r *Router) filter(req providers.Request) []catalog.Entry {
	cons := req.Constraints
	if cons == nil {
		cons = &providers.Constraints{}
	}
	excluded := toSet(cons.ExcludedProviders)

	promptEstimate := tokens.Conservative(r.EstimatePromptTokens(req))
	outputBudget := r.defaultMaxOut
	if req.MaxOutputTokens != nil {
		outputBudget = *req.MaxOutputTokens
	}

	var out []catalog.Entry
	for _, e := range r.cat.List("") {
		if excluded[e.Provider] {
			continue
		}
		if cons.MaxPricePerMTok > 0 && e.BlendedPrice() > cons.MaxPricePerMTok {
			continue
		}
		if cons.MaxLatencyClass != "" &&
			catalog.LatencyRank(e.Latency) > catalog.LatencyRank(catalog.LatencyClass(cons.MaxLatencyClass)) {
			continue
		}
		if cons.MinContextWindow > 0 && e.ContextWindow < cons.MinContextWindow {
			continue
		}
		if !hasCapabilities(e, cons.RequiredCapabilities) {
			continue
		}
		if providers.HasImages(req.Messages) && !e.Capabilities.Vision {
			continue
		}
		if len(req.Tools) > 0 && !e.Capabilities.Tools {
			continue
		}
		if e.ContextWindow < promptEstimate+outputBudget {
			continue
		}
		if e.Deprecated && !req.AllowDeprecated {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (r *Router) order(strategy providers.RouteStrategy, req providers.Request, entries []catalog.Entry) {
	switch strategy {
	case providers.RouteCost:
		sort.SliceStable(entries, func(i, j int) bool {
			pi, pj := entries[i].BlendedPrice(), entries[j].BlendedPrice()
			if pi != pj {
				return pi < pj
			}
			if entries[i].QualityScore != entries[j].QualityScore {
				return entries[i].QualityScore > entries[j].QualityScore
			}
			return entries[i].Key() < entries[j].Key()
		})

	case providers.RouteQuality:
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].QualityScore != entries[j].QualityScore {
				return entries[i].QualityScore > entries[j].QualityScore
			}
			pi, pj := entries[i].BlendedPrice(), entries[j].BlendedPrice()
			if pi != pj {
				return pi < pj
			}
			return entries[i].Key() < entries[j].Key()
		})

	case providers.RouteLatency:
		sort.SliceStable(entries, func(i, j int) bool {
			ri, rj := catalog.LatencyRank(entries[i].Latency), catalog.LatencyRank(entries[j].Latency)
			if ri != rj {
				return ri < rj
			}
			pi, pj := entries[i].BlendedPrice(), entries[j].BlendedPrice()
			if pi != pj {
				return pi < pj
			}
			return entries[i].Key() < entries[j].Key()
		})

	default: // hybrid
		contents := make([]string, len(req.Messages))
		for i, m := range req.Messages {
			contents[i] = m.Content
		}
		c := Complexity(contents)
		wq, wc, wl := hybridWeights(c)

		maxPrice := 0.0
		for _, e := range entries {
			if p := e.BlendedPrice(); p > maxPrice {
				maxPrice = p
			}
		}
		utility := func(e catalog.Entry) float64 {
			priceNorm := 0.0
			if maxPrice > 0 {
				priceNorm = e.BlendedPrice() / maxPrice
			}
			latencyNorm := float64(catalog.LatencyRank(e.Latency)) / 3
			u := wq*e.QualityScore - wc*priceNorm - wl*latencyNorm
			if e.Deprecated {
				u -= deprecatedPenalty
			}
			return u
		}
		sort.SliceStable(entries, func(i, j int) bool {
			ui, uj := utility(entries[i]), utility(entries[j])
			if ui != uj {
				return ui > uj
			}
			return entries[i].Key() < entries[j].Key()
		})
	}
}

// hybridWeights returns (quality, cost, latency) weights as a
// piecewise-linear function of complexity: cost-dominant for trivial
// prompts, quality-dominant for hard ones.
func hybridWeights(c float64) (wq, wc, wl float64) {
	const lo, hi = 0.3, 0.6
	switch {
	case c <= lo:
		return 0.1, 0.6, 0.3
	case c >= hi:
		return 0.6, 0.3, 0.1
	}
	t := (c - lo) / (hi - lo)
	return 0.1 + t*0.5, 0.6 - t*0.3, 0.3 - t*0.2
}

// preferFirst stably moves entries from preferred providers to the front,
// keeping the strategy order within each partition.
func preferFirst(entries []catalog.Entry, cons *providers.Constraints) {
	if cons == nil || len(cons.PreferredProviders) == 0 {
		return
	}
	preferred := toSet(cons.PreferredProviders)
	sort.SliceStable(entries, func(i, j int) bool {
		return preferred[entries[i].Provider] && !preferred[entries[j].Provider]
	})
}

func hasCapabilities(e catalog.Entry, required []string) bool {
	for _, c := range required {
		if !e.Capabilities.Has(c) {
			return false
		}
	}
	return true
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}
