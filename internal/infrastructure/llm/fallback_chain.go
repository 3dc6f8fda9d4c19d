package llm

import "sync"

// FailureKind classifies a provider failure for the fallback chain's
// bookkeeping: Transient failures accumulate toward RetryAttempts before
// the provider is treated as permanently failed; Permanent failures
// (auth, config) disqualify the provider immediately.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailurePermanent
)

// RetryAttempts and RetryBackoffMs mirror the fixed constants used by the
// fallback chain's transient-failure classification: a provider that
// accumulates this many transient failures is treated as permanently
// failed for the remainder of the chain's lifetime.
const (
	RetryAttempts  = 3
	RetryBackoffMs = 500
)

type providerState struct {
	transientFailures int
	permanentlyFailed bool
}

// FallbackChain tracks, for an ordered list of provider names, which ones
// remain eligible to try next. It holds no transport logic itself —
// Router consults it to decide call order and wraps the actual Send.
type FallbackChain struct {
	mu         sync.Mutex
	order      []string
	states     map[string]*providerState
	cursor     int
	anySuccess bool
}

// NewFallbackChain builds a chain over providers in the given order.
func NewFallbackChain(providers []string) *FallbackChain {
	states := make(map[string]*providerState, len(providers))
	for _, name := range providers {
		states[name] = &providerState{}
	}
	return &FallbackChain{order: providers, states: states}
}

// NextProvider returns the next eligible (not permanently failed)
// provider name starting from the current cursor, wrapping once. ok is
// false when every provider has been marked permanently failed.
func (c *FallbackChain) NextProvider() (name string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.order)
	for i := 0; i < n; i++ {
		idx := (c.cursor + i) % n
		candidate := c.order[idx]
		if !c.states[candidate].permanentlyFailed {
			return candidate, true
		}
	}
	return "", false
}

// Advance moves the cursor to the provider immediately after name, so a
// subsequent NextProvider call tries the following entry first.
func (c *FallbackChain) Advance(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.order {
		if p == name {
			c.cursor = (i + 1) % len(c.order)
			return
		}
	}
}

// ReportFailure records a failure for name. A Permanent failure
// disqualifies the provider outright; a Transient failure disqualifies
// it only once it has accumulated RetryAttempts of them.
func (c *FallbackChain) ReportFailure(name string, kind FailureKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[name]
	if !ok {
		st = &providerState{}
		c.states[name] = st
	}
	if kind == FailurePermanent {
		st.permanentlyFailed = true
		return
	}
	st.transientFailures++
	if st.transientFailures >= RetryAttempts {
		st.permanentlyFailed = true
	}
}

// ReportSuccess clears name's transient-failure count and marks the
// chain as having seen at least one success.
func (c *FallbackChain) ReportSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anySuccess = true
	if st, ok := c.states[name]; ok {
		st.transientFailures = 0
	}
}

// AnySuccess reports whether any provider in the chain has ever
// succeeded.
func (c *FallbackChain) AnySuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anySuccess
}

// PermanentlyFailed reports whether name has been disqualified.
func (c *FallbackChain) PermanentlyFailed(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[name]
	return ok && st.permanentlyFailed
}
