// Package policy implements the failure policies of spec.md §4.7: Abort,
// Retry, and CircuitBreaker, each satisfying the shared
// beforeExecution/afterFailure/afterSuccess/reset contract that
// internal/router composes into a per-provider policy and
// internal/policyadapter drives from HTTP and event-bus outcomes.
package policy

import (
	"fmt"
	"time"

	"github.com/onesdk/onesdk-go/internal/backoff"
)

// FailureKind classifies what failed, matching the kinds
// internal/policyadapter derives from fetch/HTTP outcomes.
type FailureKind string

const (
	FailureBind    FailureKind = "bind"
	FailureNetwork FailureKind = "network"
	FailureRequest FailureKind = "request"
	FailureHTTP    FailureKind = "http"
	FailureUnknown FailureKind = "unknown"
)

// ExecutionInfo is passed to beforeExecution.
type ExecutionInfo struct {
	Time                 time.Time
	CheckFailoverRestore bool
}

// FailureInfo is passed to afterFailure.
type FailureInfo struct {
	Time     time.Time
	Kind     FailureKind
	Reason   string
	Response any // the HTTP response, when Kind == FailureHTTP
}

// SuccessInfo is passed to afterSuccess.
type SuccessInfo struct {
	Time time.Time
}

// ResolutionKind discriminates the tagged-union resolutions of spec.md
// §4.7.
type ResolutionKind int

const (
	ResolutionContinue ResolutionKind = iota
	ResolutionBackoff
	ResolutionAbort
	ResolutionRetry
	ResolutionSwitchProvider
	ResolutionRecache
)

// Resolution is the result of any of the three policy methods. Not every
// field is meaningful for every Kind: Timeout/BackoffDelay apply to
// Continue/Backoff, Reason to Abort/SwitchProvider/Recache,
// ProviderName to SwitchProvider, NewRegistry to Recache.
type Resolution struct {
	Kind         ResolutionKind
	Timeout      time.Duration
	BackoffDelay time.Duration
	Reason       string
	ProviderName string
	NewRegistry  any
}

func Continue(timeout time.Duration) Resolution {
	return Resolution{Kind: ResolutionContinue, Timeout: timeout}
}

func Backoff(delay, timeout time.Duration) Resolution {
	return Resolution{Kind: ResolutionBackoff, BackoffDelay: delay, Timeout: timeout}
}

func Abort(reason string) Resolution {
	return Resolution{Kind: ResolutionAbort, Reason: reason}
}

func Retry() Resolution {
	return Resolution{Kind: ResolutionRetry}
}

func SwitchProvider(name, reason string) Resolution {
	return Resolution{Kind: ResolutionSwitchProvider, ProviderName: name, Reason: reason}
}

func Recache(registry any, reason string) Resolution {
	return Resolution{Kind: ResolutionRecache, NewRegistry: registry, Reason: reason}
}

// FailurePolicy is the capability trio every policy (abort, retry, circuit
// breaker, and the router itself when treated as a policy) implements.
type FailurePolicy interface {
	BeforeExecution(info ExecutionInfo) Resolution
	AfterFailure(info FailureInfo) Resolution
	AfterSuccess(info SuccessInfo) Resolution
	Reset()
}

// DefaultRequestTimeout is used by AbortPolicy.BeforeExecution when no
// timeout override applies.
const DefaultRequestTimeout = 30 * time.Second

// AbortPolicy never retries: any failure aborts immediately.
type AbortPolicy struct{}

func NewAbortPolicy() *AbortPolicy { return &AbortPolicy{} }

func (p *AbortPolicy) BeforeExecution(ExecutionInfo) Resolution {
	return Continue(DefaultRequestTimeout)
}

func (p *AbortPolicy) AfterFailure(info FailureInfo) Resolution {
	return Abort(info.Reason)
}

func (p *AbortPolicy) AfterSuccess(SuccessInfo) Resolution {
	return Continue(DefaultRequestTimeout)
}

func (p *AbortPolicy) Reset() {}

// RetryPolicy implements the streak/balance retry accounting of spec.md
// §4.7.
type RetryPolicy struct {
	maxContiguousRetries int
	requestTimeout       time.Duration
	backoff              backoff.Backoff
	clock                func() time.Time

	streak       int
	balance      int
	lastCallTime time.Time
}

// NewRetryPolicy creates a RetryPolicy. clock defaults to time.Now when nil.
func NewRetryPolicy(maxContiguousRetries int, requestTimeout time.Duration, bo backoff.Backoff, clock func() time.Time) *RetryPolicy {
	if clock == nil {
		clock = time.Now
	}
	return &RetryPolicy{maxContiguousRetries: maxContiguousRetries, requestTimeout: requestTimeout, backoff: bo, clock: clock}
}

func (p *RetryPolicy) BeforeExecution(info ExecutionInfo) Resolution {
	if p.balance >= 0 {
		return Continue(p.requestTimeout)
	}
	elapsed := p.clock().Sub(p.lastCallTime)
	remaining := p.backoff.Current() - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Backoff(remaining, p.requestTimeout)
}

func (p *RetryPolicy) AfterFailure(info FailureInfo) Resolution {
	p.lastCallTime = p.clock()
	if info.Kind == FailureBind {
		p.streak = -p.maxContiguousRetries
	} else {
		p.streak = min(-1, p.streak-1)
	}

	if abs(p.streak) > p.maxContiguousRetries {
		return Abort(fmt.Sprintf("Max (%d) retries exceeded: %s", p.maxContiguousRetries, info.Reason))
	}

	p.balance--
	p.backoff.Up()
	return Retry()
}

func (p *RetryPolicy) AfterSuccess(info SuccessInfo) Resolution {
	p.streak = max(1, p.streak+1)
	if p.balance < 0 {
		p.balance++
		p.backoff.Down()
	}
	return Continue(p.requestTimeout)
}

func (p *RetryPolicy) Reset() {
	for p.balance != 0 {
		p.backoff.Down()
		if p.balance > 0 {
			p.balance--
		} else {
			p.balance++
		}
	}
	p.streak = 0
	p.lastCallTime = time.Time{}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CircuitBreakerState is one of closed/open/halfOpen.
type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "halfOpen"
)

// CircuitBreakerPolicy wraps an inner RetryPolicy(failureThreshold-1, ...)
// with the open/closed/half-open state machine of spec.md §4.7.
type CircuitBreakerPolicy struct {
	openTime       time.Duration
	requestTimeout time.Duration
	clock          func() time.Time

	state    CircuitBreakerState
	openedAt time.Time
	inner    *RetryPolicy
}

// NewCircuitBreakerPolicy creates a CircuitBreakerPolicy. The inner retry
// policy is constructed with maxContiguousRetries = failureThreshold-1, as
// specified.
func NewCircuitBreakerPolicy(failureThreshold int, openTime, requestTimeout time.Duration, bo backoff.Backoff, clock func() time.Time) *CircuitBreakerPolicy {
	if clock == nil {
		clock = time.Now
	}
	inner := NewRetryPolicy(failureThreshold-1, requestTimeout, bo, clock)
	return &CircuitBreakerPolicy{
		openTime:       openTime,
		requestTimeout: requestTimeout,
		clock:          clock,
		state:          CircuitClosed,
		inner:          inner,
	}
}

func (p *CircuitBreakerPolicy) State() CircuitBreakerState { return p.state }

func (p *CircuitBreakerPolicy) BeforeExecution(info ExecutionInfo) Resolution {
	switch p.state {
	case CircuitOpen:
		if p.clock().Sub(p.openedAt) >= p.openTime {
			p.state = CircuitHalfOpen
			return Continue(p.requestTimeout)
		}
		return Abort("Circuit breaker is open")
	default:
		return p.inner.BeforeExecution(info)
	}
}

func (p *CircuitBreakerPolicy) AfterFailure(info FailureInfo) Resolution {
	switch p.state {
	case CircuitHalfOpen:
		p.transitionToOpen()
		return Abort("Circuit breaker is open")
	case CircuitOpen:
		return Abort("Circuit breaker is open")
	default:
		res := p.inner.AfterFailure(info)
		if res.Kind == ResolutionAbort {
			p.transitionToOpen()
			return Abort("Circuit breaker is open")
		}
		return res
	}
}

func (p *CircuitBreakerPolicy) AfterSuccess(info SuccessInfo) Resolution {
	switch p.state {
	case CircuitHalfOpen:
		p.state = CircuitClosed
		p.inner.Reset()
		return Continue(p.requestTimeout)
	default:
		return p.inner.AfterSuccess(info)
	}
}

func (p *CircuitBreakerPolicy) Reset() {
	p.state = CircuitClosed
	p.inner.Reset()
}

func (p *CircuitBreakerPolicy) transitionToOpen() {
	p.state = CircuitOpen
	p.openedAt = p.clock()
	p.inner.Reset()
}
