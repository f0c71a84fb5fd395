// Package costing computes per-call cost from usage and catalog pricing.
// Compute is a pure function; session aggregation lives in internal/budget.
package costing

import (
	"math"

	"github.com/modelmux/modelmux/catalog"
	"github.com/modelmux/modelmux/providers"
)

// Result breaks the total down by billing term. All figures are USD, each
// rounded to the nearest $0.000001.
type Result struct {
	InputUSD      float64
	OutputUSD     float64
	CacheReadUSD  float64
	CacheWriteUSD float64
	TotalUSD      float64
	Estimated     bool
}

// Breakdown converts the result into the response audit record.
func (r Result) Breakdown() providers.CostBreakdown {
	return providers.CostBreakdown{
		InputUSD:      r.InputUSD,
		OutputUSD:     r.OutputUSD,
		CacheReadUSD:  r.CacheReadUSD,
		CacheWriteUSD: r.CacheWriteUSD,
		Estimated:     r.Estimated,
	}
}

// round snaps a dollar figure to 1e-6.
func round(usd float64) float64 {
	return math.Round(usd*1e6) / 1e6
}

func perM(price float64, tokens int) float64 {
	return price * float64(tokens) / 1_000_000
}

// Compute prices a completed call:
//
//	cost = billed_prompt × input + completion × output
//	     + cache_write × write_price + cache_read × read_price
//
// where billed_prompt excludes both explicit cache reads and provider-side
// automatic cache hits. A nil price for a term with nonzero tokens is a
// catalog defect, surfaced as catalog_incomplete — never priced as zero.
func Compute(entry catalog.Entry, u providers.Usage) (Result, error) {
	if entry.InputPerMTok == nil || entry.OutputPerMTok == nil {
		return Result{}, providers.Errf(providers.CodeCatalogIncomplete, entry.Provider, entry.ModelID,
			"missing input/output price for %s", entry.Key())
	}

	billedPrompt := u.PromptTokens - u.CacheReadTokens - u.CachedPromptTokens
	if billedPrompt < 0 {
		billedPrompt = 0
	}

	r := Result{Estimated: u.Estimated}
	r.InputUSD = round(perM(*entry.InputPerMTok, billedPrompt))
	r.OutputUSD = round(perM(*entry.OutputPerMTok, u.CompletionTokens))

	if u.CacheWriteTokens > 0 {
		if entry.CacheWritePerMTok == nil {
			return Result{}, providers.Errf(providers.CodeCatalogIncomplete, entry.Provider, entry.ModelID,
				"cache write tokens reported but %s has no cache write price", entry.Key())
		}
		r.CacheWriteUSD = round(perM(*entry.CacheWritePerMTok, u.CacheWriteTokens))
	}
	if u.CacheReadTokens > 0 {
		if entry.CacheReadPerMTok == nil {
			return Result{}, providers.Errf(providers.CodeCatalogIncomplete, entry.Provider, entry.ModelID,
				"cache read tokens reported but %s has no cache read price", entry.Key())
		}
		r.CacheReadUSD = round(perM(*entry.CacheReadPerMTok, u.CacheReadTokens))
	}

	r.TotalUSD = round(r.InputUSD + r.OutputUSD + r.CacheReadUSD + r.CacheWriteUSD)
	return r, nil
}

// MinPlausible is the budget gate's conservative pre-flight figure: prompt
// estimate times input price only. Completion cost is deliberately excluded
// so a short answer never trips the gate spuriously.
func MinPlausible(entry catalog.Entry, promptTokens int) float64 {
	if entry.InputPerMTok == nil {
		return 0
	}
	return round(perM(*entry.InputPerMTok, promptTokens))
}
