// Package budget tracks per-session spend and enforces budget limits.
//
// Each session owns an append-only call list with derived aggregates updated
// under the session lock. The gate checks budgets before dispatch
// (conservative prompt-only estimate) and records actual calls after —
// exactly one append per dispatched call, failures and cancellations
// included.
package budget

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/modelmux/modelmux/internal/requestlog"
	"github.com/modelmux/modelmux/providers"
)

// Call is one settled dispatch attributed to a session.
type Call struct {
	ID           string          `json:"id"`
	Provider     string          `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	CostUSD      float64         `json:"cost_usd"`
	Usage        providers.Usage `json:"usage"`
	FinishReason string          `json:"finish_reason,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	LatencyMS    int64           `json:"latency_ms"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Summary is the aggregate view of a session.
type Summary struct {
	SessionID   string             `json:"session_id"`
	TotalCost   float64            `json:"total_cost"`
	PerProvider map[string]float64 `json:"per_provider"`
	PerModel    map[string]float64 `json:"per_model"`
	Calls       []Call             `json:"calls"`
}

// AlertFunc is invoked once per session when spend first crosses
// alert_threshold × budget_limit.
type AlertFunc func(sessionID string, totalCost, limit float64)

type session struct {
	mu          sync.Mutex
	id          string
	calls       []Call
	total       float64
	perProvider map[string]float64
	perModel    map[string]float64
	limit       float64 // 0 = unlimited
	threshold   float64
	alerted     bool
}

// Registry is the process-wide session store.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session

	defaultLimit     float64
	defaultThreshold float64
	alertFn          AlertFunc
	ledger           requestlog.Writer
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaultLimit sets the budget applied to new sessions (USD; 0 = unlimited).
func WithDefaultLimit(usd float64) Option {
	return func(r *Registry) { r.defaultLimit = usd }
}

// WithAlertThreshold sets the fraction of the limit at which the alert hook
// fires (default 0.8).
func WithAlertThreshold(f float64) Option {
	return func(r *Registry) { r.defaultThreshold = f }
}

// WithAlertFunc installs the threshold alert hook.
func WithAlertFunc(fn AlertFunc) Option {
	return func(r *Registry) { r.alertFn = fn }
}

// WithLedger installs the write-behind call ledger.
func WithLedger(w requestlog.Writer) Option {
	return func(r *Registry) { r.ledger = w }
}

// NewRegistry creates an empty session registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:         make(map[string]*session),
		defaultThreshold: 0.8,
		ledger:           requestlog.NoopWriter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close flushes and closes the ledger.
func (r *Registry) Close() error { return r.ledger.Close() }

func (r *Registry) get(id string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = &session{
			id:          id,
			perProvider: make(map[string]float64),
			perModel:    make(map[string]float64),
			limit:       r.defaultLimit,
			threshold:   r.defaultThreshold,
		}
		r.sessions[id] = s
	}
	return s
}

// SetLimit overrides the budget for one session.
func (r *Registry) SetLimit(sessionID string, limitUSD float64) {
	s := r.get(sessionID)
	s.mu.Lock()
	s.limit = limitUSD
	s.mu.Unlock()
}

// Precheck rejects a dispatch whose conservative pre-estimate would push the
// session past its budget. Sessions with no limit always pass; so do
// requests with no session.
func (r *Registry) Precheck(sessionID string, estimatedCostUSD float64) error {
	if sessionID == "" {
		return nil
	}
	s := r.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit <= 0 {
		return nil
	}
	if s.total+estimatedCostUSD > s.limit {
		return providers.Errf(providers.CodeBudgetExhausted, "", "",
			"session %s: spend %.6f + estimate %.6f exceeds budget %.6f",
			sessionID, s.total, estimatedCostUSD, s.limit)
	}
	return nil
}

// Record appends a settled call and updates the aggregates atomically.
// The alert hook fires outside the session lock, at most once per session.
// Ledger writes are best-effort; a failed audit write never fails the call.
func (r *Registry) Record(ctx context.Context, sessionID string, call Call) {
	if sessionID == "" {
		return
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}

	s := r.get(sessionID)
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.total += call.CostUSD
	if call.Provider != "" {
		s.perProvider[call.Provider] += call.CostUSD
	}
	if call.Model != "" {
		s.perModel[call.Model] += call.CostUSD
	}
	alert := false
	if s.limit > 0 && !s.alerted && s.total >= s.threshold*s.limit {
		s.alerted = true
		alert = true
	}
	total, limit := s.total, s.limit
	s.mu.Unlock()

	if alert && r.alertFn != nil {
		r.alertFn(sessionID, total, limit)
	}

	_ = r.ledger.Write(ctx, requestlog.Entry{
		CallID:           call.ID,
		SessionID:        sessionID,
		Provider:         call.Provider,
		Model:            call.Model,
		PromptTokens:     call.Usage.PromptTokens,
		CompletionTokens: call.Usage.CompletionTokens,
		CacheReadTokens:  call.Usage.CacheReadTokens,
		CacheWriteTokens: call.Usage.CacheWriteTokens,
		CostUSD:          call.CostUSD,
		LatencyMS:        call.LatencyMS,
		FinishReason:     call.FinishReason,
		ErrorCode:        call.ErrorCode,
		CreatedAt:        call.CreatedAt,
	})
}

// Summary returns a copy of the session's aggregates and call history.
// An unknown session yields an empty summary rather than an error.
func (r *Registry) Summary(sessionID string) Summary {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()

	out := Summary{
		SessionID:   sessionID,
		PerProvider: map[string]float64{},
		PerModel:    map[string]float64{},
	}
	if !ok {
		return out
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out.TotalCost = s.total
	for k, v := range s.perProvider {
		out.PerProvider[k] = v
	}
	for k, v := range s.perModel {
		out.PerModel[k] = v
	}
	out.Calls = append(out.Calls, s.calls...)
	return out
}

// Sessions lists known session IDs, sorted.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
