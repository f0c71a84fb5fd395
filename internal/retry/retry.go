// Package retry walks the router's candidate chain, retrying transient
// failures with exponential backoff and falling back across candidates on
// fatal-for-model errors.
//
// The driver is the only component allowed to consume a retryable error
// silently. It is stream-aware: once a chunk has been delivered to the
// caller, no further candidates are attempted — a mid-stream failure
// surfaces as a typed error rather than splicing two voices.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/modelmux/modelmux/providers"
)

// Defaults applied by New for zero option values.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Lookup resolves a provider name to a usable Provider instance. A non-nil
// error disqualifies the candidate without an attempt: the driver records it
// and advances down the chain. The gateway returns errors here for
// unregistered providers and open circuit breakers.
type Lookup func(name string) (providers.Provider, error)

// Driver executes requests against an ordered candidate chain.
type Driver struct {
	lookup    Lookup
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error

	adapt      func(ref providers.ModelRef, req providers.Request) providers.Request
	onRetry    func(ref providers.ModelRef, attempt int, delay time.Duration)
	onFallback func(from, to providers.ModelRef)
}

// Option configures a Driver.
type Option func(*Driver)

// WithAttempts sets the attempts per candidate.
func WithAttempts(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.attempts = n
		}
	}
}

// WithBackoff sets the base and cap of the exponential backoff.
func WithBackoff(base, max time.Duration) Option {
	return func(d *Driver) {
		if base > 0 {
			d.baseDelay = base
		}
		if max > 0 {
			d.maxDelay = max
		}
	}
}

// WithRequestAdapter installs a per-candidate request rewrite, applied after
// the candidate's model is stamped and before any attempt. The gateway uses
// it to drop request fields the serving model ignores.
func WithRequestAdapter(fn func(ref providers.ModelRef, req providers.Request) providers.Request) Option {
	return func(d *Driver) { d.adapt = fn }
}

// WithRetryHook installs a callback invoked before each backoff sleep.
func WithRetryHook(fn func(ref providers.ModelRef, attempt int, delay time.Duration)) Option {
	return func(d *Driver) { d.onRetry = fn }
}

// WithFallbackHook installs a callback invoked when the driver advances to
// the next candidate.
func WithFallbackHook(fn func(from, to providers.ModelRef)) Option {
	return func(d *Driver) { d.onFallback = fn }
}

// withSleep overrides the backoff sleeper. Test-only.
func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Driver) { d.sleep = fn }
}

// New creates a Driver resolving providers through lookup.
func New(lookup Lookup, opts ...Option) *Driver {
	d := &Driver{
		lookup:    lookup,
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
		sleep: func(ctx context.Context, dur time.Duration) error {
			t := time.NewTimer(dur)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// delay computes the backoff before the attempt after `attempt` failed:
// base × 2^attempt plus up to 25% jitter, capped at maxDelay. A vendor
// retry-after wins when longer.
func (d *Driver) delay(attempt int, retryAfter time.Duration) time.Duration {
	backoff := d.baseDelay << uint(attempt)
	if backoff > d.maxDelay {
		backoff = d.maxDelay
	}
	backoff += time.Duration(rand.Int63n(int64(backoff)/4 + 1)) //nolint:gosec
	if retryAfter > backoff {
		backoff = retryAfter
	}
	if backoff > d.maxDelay {
		backoff = d.maxDelay
	}
	return backoff
}

// Do executes a non-streaming request against the chain. The returned
// response records the candidate that actually served and the accumulated
// latency across all attempts.
func (d *Driver) Do(ctx context.Context, req providers.Request, chain []providers.ModelRef) (*providers.Response, error) {
	if len(chain) == 0 {
		return nil, providers.Errf(providers.CodeNoEligibleModel, "", "", "empty candidate chain")
	}

	start := time.Now()
	var lastErr error

	for i, ref := range chain {
		if i > 0 && d.onFallback != nil {
			d.onFallback(chain[i-1], ref)
		}

		p, err := d.lookup(ref.Provider)
		if err != nil {
			lastErr = err
			continue
		}

		creq := req
		creq.Model = ref.Model
		if d.adapt != nil {
			creq = d.adapt(ref, creq)
		}

		for attempt := 0; attempt < d.attempts; attempt++ {
			resp, err := p.Complete(ctx, creq)
			if err == nil {
				resp.Provider = ref.Provider
				if resp.Model == "" {
					resp.Model = ref.Model
				}
				resp.LatencyMS = time.Since(start).Milliseconds()
				return resp, nil
			}
			lastErr = err

			if providers.FatalForRequest(err) {
				return nil, err
			}
			if !providers.Retryable(err) {
				break // fatal for this model: next candidate
			}

			wait := d.delay(attempt, providers.RetryAfterOf(err))
			if d.onRetry != nil {
				d.onRetry(ref, attempt+1, wait)
			}
			if serr := d.sleep(ctx, wait); serr != nil {
				return nil, providers.MapTransportError(ref.Provider, ref.Model, serr)
			}
		}
	}
	return nil, lastErr
}

// DoStream executes a streaming request against the chain. Chunks are
// relayed on the returned channel; every chunk is stamped with the serving
// candidate. Retries and fallback happen only before the first chunk has
// been relayed. The channel is always closed; a terminal failure is the
// last chunk with Err set.
func (d *Driver) DoStream(ctx context.Context, req providers.Request, chain []providers.ModelRef) (<-chan providers.StreamChunk, error) {
	if len(chain) == 0 {
		return nil, providers.Errf(providers.CodeNoEligibleModel, "", "", "empty candidate chain")
	}

	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		var lastErr error

		for i, ref := range chain {
			if i > 0 && d.onFallback != nil {
				d.onFallback(chain[i-1], ref)
			}

			p, err := d.lookup(ref.Provider)
			if err != nil {
				lastErr = err
				continue
			}

			creq := req
			creq.Model = ref.Model
			if d.adapt != nil {
				creq = d.adapt(ref, creq)
			}

			for attempt := 0; attempt < d.attempts; attempt++ {
				delivered, err := d.relayAttempt(ctx, out, p, ref, creq)
				if delivered || err == nil {
					return
				}
				lastErr = err

				if providers.FatalForRequest(err) {
					d.emit(ctx, out, providers.StreamChunk{Provider: ref.Provider, Model: ref.Model, Err: err})
					return
				}
				if !providers.Retryable(err) {
					break
				}
				wait := d.delay(attempt, providers.RetryAfterOf(err))
				if d.onRetry != nil {
					d.onRetry(ref, attempt+1, wait)
				}
				if serr := d.sleep(ctx, wait); serr != nil {
					d.emit(ctx, out, providers.StreamChunk{
						Provider: ref.Provider, Model: ref.Model,
						Err: providers.MapTransportError(ref.Provider, ref.Model, serr),
					})
					return
				}
			}
		}
		if lastErr != nil {
			d.emit(ctx, out, providers.StreamChunk{Err: lastErr})
		}
	}()
	return out, nil
}

// relayAttempt runs one streaming attempt. It reports whether any chunk was
// delivered to the caller; once one has been, the attempt's outcome is
// final regardless of how the stream ends.
func (d *Driver) relayAttempt(ctx context.Context, out chan<- providers.StreamChunk,
	p providers.Provider, ref providers.ModelRef, req providers.Request) (bool, error) {

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := p.Stream(attemptCtx, req)
	if err != nil {
		return false, err
	}

	delivered := false
	for chunk := range ch {
		if chunk.Err != nil {
			if !delivered {
				return false, chunk.Err
			}
			// The caller already heard this voice; surface the failure.
			d.emit(ctx, out, providers.StreamChunk{
				Provider: ref.Provider, Model: ref.Model,
				Err: providers.WrapErr(providers.CodeOf(chunk.Err), ref.Provider, ref.Model, chunk.Err),
			})
			return true, nil
		}
		chunk.Provider = ref.Provider
		if chunk.Model == "" {
			chunk.Model = ref.Model
		}
		if !d.emit(ctx, out, chunk) {
			// Caller cancelled; the deferred cancel closes the vendor stream.
			d.drain(ch)
			d.emit(ctx, out, providers.StreamChunk{
				Provider: ref.Provider, Model: ref.Model,
				Err: providers.WrapErr(providers.CodeCancelled, ref.Provider, ref.Model, ctx.Err()),
			})
			return true, nil
		}
		delivered = true
	}

	if !delivered {
		// Closed without content or error: a malformed vendor stream.
		return false, providers.Errf(providers.CodeUpstreamServer, ref.Provider, ref.Model,
			"stream closed before any chunk")
	}
	return true, nil
}

// emit forwards a chunk unless the caller has gone away. Returns false on
// cancellation.
func (d *Driver) emit(ctx context.Context, out chan<- providers.StreamChunk, chunk providers.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Driver) drain(ch <-chan providers.StreamChunk) {
	for range ch {
	}
}
