package costing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmux/modelmux/catalog"
	"github.com/modelmux/modelmux/providers"
)

func price(f float64) *float64 { return &f }

func entry() catalog.Entry {
	return catalog.Entry{
		Provider:          "anthropic",
		ModelID:           "claude-3-5-haiku-20241022",
		InputPerMTok:      price(0.8),
		OutputPerMTok:     price(4.0),
		CacheWritePerMTok: price(1.0),
		CacheReadPerMTok:  price(0.08),
	}
}

func TestCompute_Basic(t *testing.T) {
	r, err := Compute(entry(), providers.Usage{
		PromptTokens:     1_000_000,
		CompletionTokens: 500_000,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.8, r.InputUSD)
	assert.Equal(t, 2.0, r.OutputUSD)
	assert.Equal(t, 2.8, r.TotalUSD)
	assert.False(t, r.Estimated, "vendor usage must not produce an estimated cost")
}

func TestCompute_Rounding(t *testing.T) {
	// 7 tokens at $0.8/MTok = $0.0000056, rounds to $0.000006.
	r, err := Compute(entry(), providers.Usage{PromptTokens: 7})
	require.NoError(t, err)
	assert.Equal(t, 0.000006, r.InputUSD)
}

func TestCompute_PromptCache(t *testing.T) {
	// 100k prompt tokens of which 60k were read from cache: 40k billed at
	// the input price, 60k at the cache read price, plus a 10k cache write
	// at the write price.
	r, err := Compute(entry(), providers.Usage{
		PromptTokens:     100_000,
		CompletionTokens: 1_000,
		CacheReadTokens:  60_000,
		CacheWriteTokens: 10_000,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.032, r.InputUSD)
	assert.Equal(t, 0.0048, r.CacheReadUSD)
	assert.Equal(t, 0.01, r.CacheWriteUSD)
	assert.Equal(t, 0.004, r.OutputUSD)
	assert.Equal(t, 0.032+0.0048+0.01+0.004, r.TotalUSD)
}

func TestCompute_AutomaticCacheHitsNotBilled(t *testing.T) {
	// Provider-side automatic cache hits (OpenAI cached_tokens) reduce the
	// billed prompt but carry no separate price without a cache read price.
	e := entry()
	e.CacheReadPerMTok = nil
	r, err := Compute(e, providers.Usage{
		PromptTokens:       100_000,
		CachedPromptTokens: 30_000,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.056, r.InputUSD) // 70k * 0.8/M
}

func TestCompute_MissingPriceFailsClosed(t *testing.T) {
	e := entry()
	e.OutputPerMTok = nil
	_, err := Compute(e, providers.Usage{PromptTokens: 10, CompletionTokens: 10})
	require.Error(t, err)
	assert.Equal(t, providers.CodeCatalogIncomplete, providers.CodeOf(err))
}

func TestCompute_CacheTokensWithoutCachePrice(t *testing.T) {
	e := entry()
	e.CacheReadPerMTok = nil
	_, err := Compute(e, providers.Usage{PromptTokens: 100, CacheReadTokens: 50})
	assert.Equal(t, providers.CodeCatalogIncomplete, providers.CodeOf(err))

	e = entry()
	e.CacheWritePerMTok = nil
	_, err = Compute(e, providers.Usage{PromptTokens: 100, CacheWriteTokens: 50})
	assert.Equal(t, providers.CodeCatalogIncomplete, providers.CodeOf(err))
}

func TestCompute_EstimatedFlagPropagates(t *testing.T) {
	r, err := Compute(entry(), providers.Usage{PromptTokens: 100, Estimated: true})
	require.NoError(t, err)
	assert.True(t, r.Estimated, "Estimated flag must propagate to the cost result")
}

func TestCompute_NegativeBilledPromptClamped(t *testing.T) {
	// Vendors occasionally report cache reads exceeding the prompt total;
	// the billed remainder clamps at zero rather than going negative.
	r, err := Compute(entry(), providers.Usage{
		PromptTokens:    100,
		CacheReadTokens: 150,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.InputUSD)
}

func TestMinPlausible(t *testing.T) {
	assert.Equal(t, 0.8, MinPlausible(entry(), 1_000_000))
	assert.Equal(t, 0.0, MinPlausible(catalog.Entry{}, 1_000_000), "nil price floors at zero")
}

func TestBreakdown(t *testing.T) {
	r := Result{InputUSD: 1, OutputUSD: 2, CacheReadUSD: 3, CacheWriteUSD: 4, Estimated: true}
	want := providers.CostBreakdown{InputUSD: 1, OutputUSD: 2, CacheReadUSD: 3, CacheWriteUSD: 4, Estimated: true}
	assert.Equal(t, want, r.Breakdown())
}
