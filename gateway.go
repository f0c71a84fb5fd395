// Package modelmux routes normalized chat completion requests across LLM
// providers. One Gateway fronts the whole pipeline: request validation
// against the model catalog, response caching, budget enforcement,
// strategy-based candidate selection, and a retrying fallback walk across
// the candidate chain.
//
// Create a Gateway with New, register providers (or let New discover them
// from environment credentials), and call Dispatch or DispatchStream.
package modelmux

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelmux/modelmux/catalog"
	"github.com/modelmux/modelmux/internal/budget"
	"github.com/modelmux/modelmux/internal/cache"
	"github.com/modelmux/modelmux/internal/circuitbreaker"
	"github.com/modelmux/modelmux/internal/costing"
	"github.com/modelmux/modelmux/internal/logging"
	"github.com/modelmux/modelmux/internal/metrics"
	"github.com/modelmux/modelmux/internal/ratelimit"
	"github.com/modelmux/modelmux/internal/requestlog"
	"github.com/modelmux/modelmux/internal/retry"
	"github.com/modelmux/modelmux/internal/router"
	"github.com/modelmux/modelmux/internal/tokens"
	"github.com/modelmux/modelmux/providers"
)

// EventHookFunc is called asynchronously after a dispatch settles.
type EventHookFunc func(ctx context.Context, subject string, data map[string]any)

// Event subject constants used when invoking gateway hooks.
const (
	SubjectDispatchCompleted = "modelmux.dispatch.completed"
	SubjectDispatchFailed    = "modelmux.dispatch.failed"
)

// Gateway is the main entry point for dispatching LLM requests.
type Gateway struct {
	mu        sync.RWMutex
	config    Config
	catalog   *catalog.Catalog
	providers map[string]providers.Provider
	breakers  map[string]*circuitbreaker.CircuitBreaker
	limiter   *ratelimit.Store
	router    *router.Router
	driver    *retry.Driver
	cache     *cache.Memory
	budget    *budget.Registry
	hooks     []EventHookFunc

	discovered map[string][]string
}

// New creates a Gateway from cfg. The catalog load is fail-closed: a config
// pointing at an invalid catalog document is an error, not a degraded
// gateway. When cfg.Providers is empty, providers are constructed from
// environment credentials.
func New(cfg Config) (*Gateway, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	cat := catalog.New()
	if err := cat.Load(cfg.CatalogPath); err != nil {
		return nil, err
	}

	est, err := tokens.New()
	if err != nil {
		// The zero-value estimator falls back to the chars/4 heuristic.
		est = &tokens.Estimator{}
	}

	var mem *cache.Memory
	if !cfg.Cache.Disabled {
		mem = cache.NewMemory(cfg.Cache.Capacity, parseDuration(cfg.Cache.TTL, 5*time.Minute))
	}

	budgetOpts := []budget.Option{
		budget.WithDefaultLimit(cfg.Budget.DefaultLimitUSD),
		budget.WithAlertFunc(func(sessionID string, total, limit float64) {
			logging.Logger.Warn("session budget alert",
				"session_id", sessionID, "total_cost", total, "limit", limit)
		}),
	}
	if cfg.Budget.AlertThreshold > 0 {
		budgetOpts = append(budgetOpts, budget.WithAlertThreshold(cfg.Budget.AlertThreshold))
	}
	if cfg.Budget.LedgerDSN != "" {
		ledger, err := requestlog.NewSQLite(cfg.Budget.LedgerDSN)
		if err != nil {
			return nil, err
		}
		budgetOpts = append(budgetOpts, budget.WithLedger(ledger))
	}

	var limiter *ratelimit.Store
	if cfg.RateLimit.RatePerSecond > 0 {
		limiter = ratelimit.NewStore(cfg.RateLimit.RatePerSecond, cfg.RateLimit.Burst)
	}

	g := &Gateway{
		config:     cfg,
		catalog:    cat,
		providers:  make(map[string]providers.Provider),
		breakers:   make(map[string]*circuitbreaker.CircuitBreaker),
		limiter:    limiter,
		cache:      mem,
		budget:     budget.NewRegistry(budgetOpts...),
		discovered: make(map[string][]string),
	}
	g.router = router.New(cat, est,
		router.WithTopK(cfg.Router.TopK),
		router.WithDefaultMaxOutput(cfg.Router.DefaultMaxOutputTokens),
	)
	g.driver = retry.New(g.lookup,
		retry.WithAttempts(cfg.Retry.Attempts),
		retry.WithBackoff(
			parseDuration(cfg.Retry.BaseDelay, retry.DefaultBaseDelay),
			parseDuration(cfg.Retry.MaxDelay, retry.DefaultMaxDelay),
		),
		retry.WithRetryHook(func(ref providers.ModelRef, attempt int, delay time.Duration) {
			logging.Logger.Debug("retrying candidate",
				"provider", ref.Provider, "model", ref.Model,
				"attempt", attempt, "delay_ms", delay.Milliseconds())
		}),
		retry.WithFallbackHook(func(from, to providers.ModelRef) {
			metrics.FallbackAdvances.WithLabelValues(from.Provider, to.Provider).Inc()
			logging.Logger.Info("falling back to next candidate",
				"from", from.String(), "to", to.String())
		}),
		retry.WithRequestAdapter(func(ref providers.ModelRef, req providers.Request) providers.Request {
			// Fixed-temperature models (reasoning families) ignore the
			// caller's temperature; sending it gets the request rejected
			// at the vendor.
			if entry, ok := cat.LookupIn(ref.Provider, ref.Model); ok && entry.FixedTemperature != nil {
				req.Temperature = nil
			}
			return req
		}),
	)

	if len(cfg.Providers) > 0 {
		if err := g.registerConfigured(cfg.Providers); err != nil {
			return nil, err
		}
	} else {
		g.registerFromEnv()
	}
	return g, nil
}

// RegisterProvider registers a provider strategy. Providers that accept a
// capability lookup get the catalog as their source of truth.
func (g *Gateway) RegisterProvider(p providers.Provider) {
	if c, ok := p.(interface {
		SetCapabilityLookup(providers.CapabilityLookup)
	}); ok {
		c.SetCapabilityLookup(g.catalog)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[p.Name()] = p
	if g.config.CircuitBreaker.Enabled {
		g.breakers[p.Name()] = circuitbreaker.New(
			g.config.CircuitBreaker.FailureThreshold,
			g.config.CircuitBreaker.SuccessThreshold,
			parseDuration(g.config.CircuitBreaker.Timeout, 30*time.Second),
		)
	}
}

// AddHook registers an EventHookFunc invoked asynchronously after every
// settled dispatch.
func (g *Gateway) AddHook(fn EventHookFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// Catalog returns the gateway's model catalog.
func (g *Gateway) Catalog() *catalog.Catalog { return g.catalog }

// ReloadCatalog replaces the active catalog snapshot from path. Fail-closed:
// on error the previous snapshot stays in effect.
func (g *Gateway) ReloadCatalog(path string) error {
	return g.catalog.Load(path)
}

// Providers returns the names of all registered providers.
func (g *Gateway) Providers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	return names
}

// SessionSummary returns the budget aggregates for a session.
func (g *Gateway) SessionSummary(sessionID string) budget.Summary {
	return g.budget.Summary(sessionID)
}

// SetSessionLimit overrides the budget limit for one session (USD; 0 =
// unlimited).
func (g *Gateway) SetSessionLimit(sessionID string, limitUSD float64) {
	g.budget.SetLimit(sessionID, limitUSD)
}

// Sessions lists known budget session IDs.
func (g *Gateway) Sessions() []string { return g.budget.Sessions() }

// CacheStats returns response-cache telemetry. A disabled cache reports
// zeroes.
func (g *Gateway) CacheStats() cache.Stats {
	if g.cache == nil {
		return cache.Stats{}
	}
	return g.cache.Stats()
}

// ClearCache drops all cached responses.
func (g *Gateway) ClearCache() {
	if g.cache != nil {
		g.cache.Clear()
	}
}

// Close releases gateway resources (the budget ledger).
func (g *Gateway) Close() error {
	return g.budget.Close()
}

// lookup resolves a candidate's provider for the retry driver. Unregistered
// providers and open circuit breakers disqualify the candidate so the driver
// advances down the chain without burning attempts.
func (g *Gateway) lookup(name string) (providers.Provider, error) {
	g.mu.RLock()
	p, ok := g.providers[name]
	cb := g.breakers[name]
	g.mu.RUnlock()

	if !ok {
		return nil, providers.Errf(providers.CodeAuthMissing, name, "",
			"provider %s is not configured", name)
	}
	if cb != nil && !cb.Allow() {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateOpen))
		return nil, providers.Errf(providers.CodeUpstreamServer, name, "",
			"circuit breaker open for provider %s", name)
	}
	return &guardedProvider{Provider: p, limiter: g.limiter, breaker: cb}, nil
}

// guardedProvider wraps a provider with the local rate limiter and circuit
// breaker bookkeeping. One token is consumed per attempt; breaker state only
// moves on provider-health outcomes, never on caller mistakes.
type guardedProvider struct {
	providers.Provider
	limiter *ratelimit.Store
	breaker *circuitbreaker.CircuitBreaker
}

func (p *guardedProvider) shed(model string) error {
	if p.limiter != nil && !p.limiter.Allow(p.Name()) {
		metrics.RateLimitRejections.WithLabelValues(p.Name()).Inc()
		return &providers.Error{
			Code: providers.CodeRateLimited, Provider: p.Name(), Model: model,
			Message:    "local rate limit exceeded",
			RetryAfter: time.Second,
		}
	}
	return nil
}

func (p *guardedProvider) observe(err error) {
	if p.breaker == nil {
		return
	}
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case providers.Retryable(err):
		p.breaker.RecordFailure()
	}
	metrics.CircuitBreakerState.WithLabelValues(p.Name()).Set(float64(p.breaker.State()))
}

func (p *guardedProvider) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	if err := p.shed(req.Model); err != nil {
		return nil, err
	}
	resp, err := p.Provider.Complete(ctx, req)
	p.observe(err)
	return resp, err
}

func (p *guardedProvider) Stream(ctx context.Context, req providers.Request) (<-chan providers.StreamChunk, error) {
	if err := p.shed(req.Model); err != nil {
		return nil, err
	}
	ch, err := p.Provider.Stream(ctx, req)
	p.observe(err)
	return ch, err
}

// validate applies basic request checks plus the catalog's model-specific
// rules when the request pins a model.
func (g *Gateway) validate(req providers.Request) error {
	if len(req.Messages) == 0 {
		return providers.Errf(providers.CodeInvalidRequest, "", req.Model,
			"at least one message is required")
	}
	if req.Model != "" {
		return g.catalog.ValidateRequest(req)
	}
	if req.Temperature != nil && *req.Temperature < 0 {
		return providers.Errf(providers.CodeInvalidRequest, "", "",
			"temperature must not be negative")
	}
	return nil
}

// precheck prices the prompt against the chain's head candidate and asks the
// budget gate. Sessions without a limit, and requests without a session,
// always pass.
func (g *Gateway) precheck(req providers.Request, chain []providers.ModelRef) error {
	if req.SessionID == "" {
		return nil
	}
	entry, ok := g.catalog.LookupIn(chain[0].Provider, chain[0].Model)
	if !ok {
		return nil
	}
	est := costing.MinPlausible(entry, tokens.Conservative(g.router.EstimatePromptTokens(req)))
	if err := g.budget.Precheck(req.SessionID, est); err != nil {
		metrics.BudgetRejections.Inc()
		return err
	}
	return nil
}

// settle prices a completed response and stamps the cost fields. The entry
// is resolved by the provider/model that actually served; a response whose
// model the catalog cannot price is a catalog defect and fails the dispatch.
func (g *Gateway) settle(resp *providers.Response, chain []providers.ModelRef) error {
	entry, ok := g.catalog.LookupIn(resp.Provider, resp.Model)
	if !ok {
		// Vendors may echo a dated release of the requested alias; fall back
		// to the candidate the driver dispatched.
		for _, ref := range chain {
			if ref.Provider != resp.Provider {
				continue
			}
			if e, found := g.catalog.LookupIn(ref.Provider, ref.Model); found {
				entry, ok = e, true
				break
			}
		}
	}
	if !ok {
		return providers.Errf(providers.CodeCatalogIncomplete, resp.Provider, resp.Model,
			"served model missing from catalog")
	}
	cost, err := costing.Compute(entry, resp.Usage)
	if err != nil {
		return err
	}
	resp.CostUSD = cost.TotalUSD
	resp.Cost = cost.Breakdown()
	return nil
}

func attribution(err error, fallbackModel string) (provider, model string) {
	var perr *providers.Error
	if errors.As(err, &perr) {
		return perr.Provider, perr.Model
	}
	return "", fallbackModel
}

// Dispatch executes a non-streaming request through the full pipeline:
// validation, cache, routing, budget gate, and the retrying fallback walk.
func (g *Gateway) Dispatch(ctx context.Context, req providers.Request) (*providers.Response, error) {
	start := time.Now()
	if logging.TraceIDFromContext(ctx) == "" {
		ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	}
	log := logging.FromContext(ctx)
	req.Stream = false

	if err := g.validate(req); err != nil {
		metrics.DispatchesTotal.WithLabelValues("", req.Model, "rejected").Inc()
		return nil, err
	}

	var key string
	if g.cache != nil {
		key = cache.Key(req)
		if resp, ok := g.cache.Get(key); ok {
			// A hit costs the caller nothing; the avoided spend is already
			// tracked by the cache's savings counter.
			resp.FromCache = true
			resp.CostUSD = 0
			resp.Cost = providers.CostBreakdown{FromCache: true}
			resp.LatencyMS = time.Since(start).Milliseconds()
			metrics.CacheHits.Inc()
			metrics.DispatchesTotal.WithLabelValues(resp.Provider, resp.Model, "cache_hit").Inc()
			log.Info("dispatch served from cache",
				"provider", resp.Provider, "model", resp.Model)
			return resp, nil
		}
		metrics.CacheMisses.Inc()
	}

	chain, err := g.router.Route(req)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("", req.Model, "rejected").Inc()
		return nil, err
	}
	if err := g.precheck(req, chain); err != nil {
		log.Warn("dispatch rejected by budget gate",
			"session_id", req.SessionID, "error", err.Error())
		return nil, err
	}

	resp, err := g.driver.Do(ctx, req, chain)
	latency := time.Since(start)

	if err != nil {
		code := providers.CodeOf(err)
		provider, model := attribution(err, req.Model)
		metrics.DispatchesTotal.WithLabelValues(provider, model, "error").Inc()
		metrics.ProviderErrors.WithLabelValues(provider, string(code)).Inc()

		g.budget.Record(ctx, req.SessionID, budget.Call{
			ID:        uuid.NewString(),
			Provider:  provider,
			Model:     model,
			ErrorCode: string(code),
			LatencyMS: latency.Milliseconds(),
		})
		log.Error("dispatch failed",
			"model", req.Model,
			"error_code", string(code),
			"latency_ms", latency.Milliseconds(),
			"error", err.Error(),
		)
		g.publishEvent(ctx, SubjectDispatchFailed, map[string]any{
			"trace_id":   logging.TraceIDFromContext(ctx),
			"model":      req.Model,
			"session_id": req.SessionID,
			"error_code": string(code),
			"latency_ms": latency.Milliseconds(),
			"timestamp":  time.Now().UTC(),
		})
		return nil, err
	}

	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	if err := g.settle(resp, chain); err != nil {
		g.budget.Record(ctx, req.SessionID, budget.Call{
			ID:        resp.ID,
			Provider:  resp.Provider,
			Model:     resp.Model,
			Usage:     resp.Usage,
			ErrorCode: string(providers.CodeOf(err)),
			LatencyMS: latency.Milliseconds(),
		})
		return nil, err
	}

	g.budget.Record(ctx, req.SessionID, budget.Call{
		ID:           resp.ID,
		Provider:     resp.Provider,
		Model:        resp.Model,
		CostUSD:      resp.CostUSD,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
		LatencyMS:    latency.Milliseconds(),
	})

	if g.cache != nil && cache.Cacheable(req, resp) {
		g.cache.Put(key, resp)
	}

	metrics.DispatchesTotal.WithLabelValues(resp.Provider, resp.Model, "success").Inc()
	metrics.DispatchDuration.WithLabelValues(resp.Provider, resp.Model).Observe(latency.Seconds())
	metrics.TokensInput.WithLabelValues(resp.Provider, resp.Model).Add(float64(resp.Usage.PromptTokens))
	metrics.TokensOutput.WithLabelValues(resp.Provider, resp.Model).Add(float64(resp.Usage.CompletionTokens))
	if resp.CostUSD > 0 {
		metrics.DispatchCostUSD.WithLabelValues(resp.Provider, resp.Model).Add(resp.CostUSD)
	}

	log.Info("dispatch completed",
		"provider", resp.Provider,
		"model", resp.Model,
		"latency_ms", latency.Milliseconds(),
		"tokens_in", resp.Usage.PromptTokens,
		"tokens_out", resp.Usage.CompletionTokens,
		"cost_usd", resp.CostUSD,
	)
	g.publishEvent(ctx, SubjectDispatchCompleted, map[string]any{
		"trace_id":   logging.TraceIDFromContext(ctx),
		"provider":   resp.Provider,
		"model":      resp.Model,
		"session_id": req.SessionID,
		"latency_ms": latency.Milliseconds(),
		"tokens_in":  resp.Usage.PromptTokens,
		"tokens_out": resp.Usage.CompletionTokens,
		"cost_usd":   resp.CostUSD,
		"timestamp":  time.Now().UTC(),
	})
	return resp, nil
}

// DispatchStream executes a streaming request. The returned channel relays
// the serving candidate's chunks; accounting settles when the stream ends,
// priced from the authoritative usage on the final chunk. A caller that
// cancels and walks away still gets a settled partial call with
// finish_reason=cancelled and the best-known usage. Streamed responses are
// never cached.
func (g *Gateway) DispatchStream(ctx context.Context, req providers.Request) (<-chan providers.StreamChunk, error) {
	start := time.Now()
	if logging.TraceIDFromContext(ctx) == "" {
		ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	}
	log := logging.FromContext(ctx)
	req.Stream = true

	if err := g.validate(req); err != nil {
		metrics.DispatchesTotal.WithLabelValues("", req.Model, "rejected").Inc()
		return nil, err
	}
	chain, err := g.router.Route(req)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("", req.Model, "rejected").Inc()
		return nil, err
	}
	if err := g.precheck(req, chain); err != nil {
		log.Warn("dispatch rejected by budget gate",
			"session_id", req.SessionID, "error", err.Error())
		return nil, err
	}

	upstream, err := g.driver.DoStream(ctx, req, chain)
	if err != nil {
		return nil, err
	}

	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)

		var (
			provider, model string
			finish          string
			usage           *providers.Usage
			streamErr       error
			abandoned       bool
		)
		for chunk := range upstream {
			if chunk.Provider != "" {
				provider = chunk.Provider
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
				finish = chunk.FinishReason
			}
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			if abandoned {
				continue // nobody is listening; keep draining for usage
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				abandoned = true
			}
		}

		// Caller cancellation, whether seen here or surfaced by the driver,
		// settles as a partial call rather than a failure.
		cancelled := abandoned
		if streamErr != nil && providers.CodeOf(streamErr) == providers.CodeCancelled {
			cancelled = true
			streamErr = nil
		}

		latency := time.Since(start)
		call := budget.Call{
			ID:        uuid.NewString(),
			Provider:  provider,
			Model:     model,
			LatencyMS: latency.Milliseconds(),
		}
		if usage != nil {
			call.Usage = *usage
			call.FinishReason = finish
			if entry, ok := g.catalog.LookupIn(provider, model); ok {
				if cost, cerr := costing.Compute(entry, *usage); cerr == nil {
					call.CostUSD = cost.TotalUSD
				}
			}
		}
		if cancelled {
			call.FinishReason = providers.FinishCancelled
			metrics.DispatchesTotal.WithLabelValues(provider, model, "cancelled").Inc()
			log.Info("stream dispatch cancelled",
				"provider", provider, "model", model,
				"latency_ms", latency.Milliseconds(),
				"cost_usd", call.CostUSD,
			)
		} else if streamErr != nil {
			code := providers.CodeOf(streamErr)
			call.ErrorCode = string(code)
			metrics.DispatchesTotal.WithLabelValues(provider, model, "error").Inc()
			metrics.ProviderErrors.WithLabelValues(provider, string(code)).Inc()
			log.Error("stream dispatch failed",
				"provider", provider, "model", model,
				"error_code", string(code),
				"latency_ms", latency.Milliseconds(),
			)
			g.publishEvent(ctx, SubjectDispatchFailed, map[string]any{
				"trace_id":   logging.TraceIDFromContext(ctx),
				"provider":   provider,
				"model":      model,
				"session_id": req.SessionID,
				"error_code": string(code),
				"latency_ms": latency.Milliseconds(),
				"timestamp":  time.Now().UTC(),
			})
		} else {
			metrics.DispatchesTotal.WithLabelValues(provider, model, "success").Inc()
			metrics.DispatchDuration.WithLabelValues(provider, model).Observe(latency.Seconds())
			if usage != nil {
				metrics.TokensInput.WithLabelValues(provider, model).Add(float64(usage.PromptTokens))
				metrics.TokensOutput.WithLabelValues(provider, model).Add(float64(usage.CompletionTokens))
			}
			if call.CostUSD > 0 {
				metrics.DispatchCostUSD.WithLabelValues(provider, model).Add(call.CostUSD)
			}
			log.Info("stream dispatch completed",
				"provider", provider, "model", model,
				"latency_ms", latency.Milliseconds(),
				"cost_usd", call.CostUSD,
			)
			g.publishEvent(ctx, SubjectDispatchCompleted, map[string]any{
				"trace_id":   logging.TraceIDFromContext(ctx),
				"provider":   provider,
				"model":      model,
				"session_id": req.SessionID,
				"latency_ms": latency.Milliseconds(),
				"cost_usd":   call.CostUSD,
				"timestamp":  time.Now().UTC(),
			})
		}
		// The ledger write must survive the caller's cancellation.
		g.budget.Record(context.WithoutCancel(ctx), req.SessionID, call)
	}()
	return out, nil
}

// publishEvent calls all registered hooks asynchronously.
func (g *Gateway) publishEvent(ctx context.Context, subject string, data map[string]any) {
	g.mu.RLock()
	hooks := make([]EventHookFunc, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.RUnlock()

	for _, h := range hooks {
		fn := h
		go fn(ctx, subject, data)
	}
}

// StartDiscovery periodically refreshes model lists from registered
// providers. It runs in a background goroutine until ctx is cancelled.
func (g *Gateway) StartDiscovery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return providers.Errf(providers.CodeInvalidRequest, "", "",
			"discovery interval must be greater than zero, got %v", interval)
	}
	log := logging.FromContext(ctx)
	go func() {
		g.runDiscovery(ctx, log)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.runDiscovery(ctx, log)
			}
		}
	}()
	return nil
}

func (g *Gateway) runDiscovery(ctx context.Context, log interface {
	Error(msg string, args ...any)
	Info(msg string, args ...any)
}) {
	g.mu.RLock()
	snapshot := make(map[string]providers.Provider, len(g.providers))
	for k, v := range g.providers {
		snapshot[k] = v
	}
	g.mu.RUnlock()

	for name, p := range snapshot {
		models, err := p.ListModels(ctx)
		if err != nil {
			log.Error("model discovery failed", "provider", name, "error", err.Error())
			continue
		}
		g.mu.Lock()
		g.discovered[name] = models
		g.mu.Unlock()
		log.Info("model discovery completed", "provider", name, "models", len(models))
	}
}

// DiscoveredModels returns the latest per-provider discovery results.
func (g *Gateway) DiscoveredModels() map[string][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string][]string, len(g.discovered))
	for k, v := range g.discovered {
		out[k] = append([]string(nil), v...)
	}
	return out
}
