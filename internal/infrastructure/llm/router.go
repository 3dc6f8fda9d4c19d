package llm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"github.com/saorsa-labs/fae/pkg/errors"
	"go.uber.org/zap"
)

// Router is the Fallback adapter described for the provider layer: an
// ordered list of Provider adapters, each guarded by its own circuit
// breaker, with a FallbackChain tracking which providers remain
// eligible. On a retryable failure it advances to the next eligible
// provider and counts the move; a non-retryable failure marks that
// provider permanently failed in the chain and propagates immediately
// without trying the rest.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	breakers  map[string]*CircuitBreaker
	chain     *FallbackChain
	fallbacks int64
	logger    *zap.Logger
}

// NewRouter creates an empty router; providers are added with AddProvider
// in priority order (primary first).
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		breakers:  make(map[string]*CircuitBreaker),
		logger:    logger.With(zap.String("component", "llm-router")),
	}
}

// AddProvider appends p to the end of the priority order.
func (r *Router) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	r.providers[name] = p
	r.order = append(r.order, name)
	r.breakers[name] = NewCircuitBreaker(5, 0)
	r.chain = NewFallbackChain(r.order)
}

var _ Provider = (*Router)(nil)

func (r *Router) Name() string             { return "fallback-router" }
func (r *Router) EndpointType() EndpointType { return EndpointType("router") }

// FallbackCount returns the number of times the router has moved past a
// failing provider onto the next one, externally observable per the
// adapter boundary's fallback-chain contract.
func (r *Router) FallbackCount() int64 {
	return atomic.LoadInt64(&r.fallbacks)
}

// Send tries each eligible provider in order. A non-retryable error
// (e.g. AUTH_FAILED) is treated as a permanent disqualification of that
// provider and immediately propagates to the caller without trying the
// rest of the chain, matching the adapter boundary's "surfaces without
// retry" classification for non-transient failures. A retryable error
// advances the chain and tries the next provider, incrementing the
// fallback counter.
func (r *Router) Send(ctx context.Context, messages []entity.Message, options valueobject.RequestOptions, tools []ToolDefinition) (<-chan LlmEvent, error) {
	r.mu.RLock()
	chain := r.chain
	r.mu.RUnlock()

	if chain == nil {
		return nil, errors.New(errors.CodeProviderConfigError, "no providers registered")
	}

	var lastErr error
	tried := 0

	for {
		name, ok := chain.NextProvider()
		if !ok {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, errors.New(errors.CodeProviderError, "all providers exhausted")
		}

		r.mu.RLock()
		provider := r.providers[name]
		breaker := r.breakers[name]
		r.mu.RUnlock()

		if breaker != nil && !breaker.Allow() {
			chain.ReportFailure(name, FailureTransient)
			chain.Advance(name)
			if tried > 0 {
				atomic.AddInt64(&r.fallbacks, 1)
			}
			tried++
			continue
		}

		events, err := provider.Send(ctx, messages, options, tools)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			chain.ReportSuccess(name)
			return events, nil
		}

		lastErr = err
		if breaker != nil {
			breaker.RecordFailure()
		}

		kind := FailureTransient
		if !errors.IsRetryable(err) {
			kind = FailurePermanent
		}
		chain.ReportFailure(name, kind)
		chain.Advance(name)

		r.logger.Warn("provider failed, trying next",
			zap.String("provider", name),
			zap.Error(err),
		)

		if kind == FailurePermanent {
			return nil, err
		}

		atomic.AddInt64(&r.fallbacks, 1)
		tried++
	}
}
