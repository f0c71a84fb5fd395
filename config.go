package modelmux

import "time"

// Config holds the gateway configuration. The zero value is usable: bundled
// catalog, in-memory cache, no budget limits, and providers discovered from
// environment credentials.
type Config struct {
	// CatalogPath overrides the bundled model catalog. Empty loads the
	// catalog compiled into the binary.
	CatalogPath string `json:"catalog_path,omitempty" yaml:"catalog_path,omitempty"`

	Cache          CacheConfig          `json:"cache,omitempty" yaml:"cache,omitempty"`
	Budget         BudgetConfig         `json:"budget,omitempty" yaml:"budget,omitempty"`
	Retry          RetryConfig          `json:"retry,omitempty" yaml:"retry,omitempty"`
	Router         RouterConfig         `json:"router,omitempty" yaml:"router,omitempty"`
	RateLimit      RateLimitConfig      `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`

	// Providers explicitly configures provider credentials and endpoints.
	// When empty, providers are constructed from environment variables
	// (OPENAI_API_KEY, ANTHROPIC_API_KEY, and friends).
	Providers []ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// CacheConfig controls the in-process response cache.
type CacheConfig struct {
	// Disabled turns the response cache off entirely.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	// Capacity is the maximum entry count (default 1024).
	Capacity int `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	// TTL is the entry lifetime, e.g. "5m" (default).
	TTL string `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// BudgetConfig controls per-session spend tracking.
type BudgetConfig struct {
	// DefaultLimitUSD applies to new sessions; 0 means unlimited.
	DefaultLimitUSD float64 `json:"default_limit_usd,omitempty" yaml:"default_limit_usd,omitempty"`
	// AlertThreshold is the fraction of the limit at which the alert hook
	// fires (default 0.8).
	AlertThreshold float64 `json:"alert_threshold,omitempty" yaml:"alert_threshold,omitempty"`
	// LedgerDSN enables the SQLite call ledger when set, e.g.
	// "file:modelmux.db".
	LedgerDSN string `json:"ledger_dsn,omitempty" yaml:"ledger_dsn,omitempty"`
}

// RetryConfig controls the per-candidate retry loop.
type RetryConfig struct {
	Attempts  int    `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	BaseDelay string `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
	MaxDelay  string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// RouterConfig controls candidate selection.
type RouterConfig struct {
	// TopK is the fallback chain length (default 3).
	TopK int `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	// DefaultMaxOutputTokens is assumed by the context-fit filter for
	// requests without an explicit output cap (default 1024).
	DefaultMaxOutputTokens int `json:"default_max_output_tokens,omitempty" yaml:"default_max_output_tokens,omitempty"`
}

// RateLimitConfig controls local per-provider request shedding. Zero rate
// disables the limiter.
type RateLimitConfig struct {
	RatePerSecond float64 `json:"rate_per_second,omitempty" yaml:"rate_per_second,omitempty"`
	Burst         float64 `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// CircuitBreakerConfig controls the per-provider breakers. Disabled breakers
// never interfere with the fallback chain.
type CircuitBreakerConfig struct {
	Enabled          bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	FailureThreshold int    `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	SuccessThreshold int    `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
	Timeout          string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ProviderConfig configures one provider explicitly.
type ProviderConfig struct {
	// Name selects the strategy: openai, anthropic, groq, deepseek, xai,
	// openrouter, google, ollama, bedrock.
	Name string `json:"name" yaml:"name"`
	// APIKey is the credential; prefer APIKeyEnv in committed configs.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	// BaseURL overrides the vendor endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// Region applies to bedrock only.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
	// AccessKeyID and SecretAccessKey set explicit AWS credentials for
	// bedrock. Left empty, the default AWS credential chain applies.
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
}

// parseDuration converts a config duration string, falling back to def on
// empty or malformed input.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
