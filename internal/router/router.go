// Package router implements the per-(profile, usecase) provider router of
// spec.md §4.8: it owns a FailurePolicy instance per known provider,
// decides which provider is current, and drives failover/restore when the
// current provider's policy aborts.
package router

import (
	"fmt"

	"github.com/onesdk/onesdk-go/internal/policy"
)

// Instantiate builds a fresh FailurePolicy for a named provider, typically
// reading that provider's retryPolicy/providerFailover configuration out of
// the normalized super-document profile entry.
type Instantiate func(providerName string) policy.FailurePolicy

// Router owns one FailurePolicy per known provider and the currently
// selected provider, implementing failover-on-abort and
// failover-restore.
type Router struct {
	priority        []string
	instantiate     Instantiate
	allowFailover   bool
	currentProvider string
	policies        map[string]policy.FailurePolicy
}

// New creates a Router. priority is the ordered provider preference list;
// currentProvider starts as priority[0] when priority is non-empty.
func New(priority []string, instantiate Instantiate) *Router {
	r := &Router{
		priority:      append([]string(nil), priority...),
		instantiate:   instantiate,
		allowFailover: true,
		policies:      make(map[string]policy.FailurePolicy),
	}
	if len(priority) > 0 {
		r.currentProvider = priority[0]
	}
	return r
}

// CurrentProvider returns the currently selected provider name.
func (r *Router) CurrentProvider() string { return r.currentProvider }

// SetAllowFailover lets the caller disable automatic failover/restore.
func (r *Router) SetAllowFailover(allow bool) { r.allowFailover = allow }

// AllowFailover reports whether failover is currently permitted.
func (r *Router) AllowFailover() bool { return r.allowFailover }

// Priority returns the configured provider preference order.
func (r *Router) Priority() []string { return append([]string(nil), r.priority...) }

// policyFor returns (creating on demand, per setCurrentProvider's contract)
// the FailurePolicy for name.
func (r *Router) policyFor(name string) policy.FailurePolicy {
	if p, ok := r.policies[name]; ok {
		return p
	}
	p := r.instantiate(name)
	r.policies[name] = p
	return p
}

// SetCurrentProvider switches the router's current provider, instantiating
// a policy on demand for names outside the original priority list.
func (r *Router) SetCurrentProvider(name string) {
	r.currentProvider = name
	r.policyFor(name)
}

// CurrentPolicy returns the FailurePolicy for the current provider.
func (r *Router) CurrentPolicy() policy.FailurePolicy {
	return r.policyFor(r.currentProvider)
}

// BeforeExecution, when info.CheckFailoverRestore, first attempts failover
// restore to an earlier provider; if none is restored it returns the
// current provider's resolution as is. Otherwise it drives the current
// provider's policy and, on abort, attempts failover. It returns the
// resolution that should govern the caller's next step: either the
// passed-through non-abort resolution from whichever provider ended up
// current, or an Abort carrying the final reason.
func (r *Router) BeforeExecution(info policy.ExecutionInfo) policy.Resolution {
	if info.CheckFailoverRestore {
		if restored, ok := r.tryRestore(); ok {
			return restored
		}
	}

	res := r.CurrentPolicy().BeforeExecution(info)
	if res.Kind != policy.ResolutionAbort || info.CheckFailoverRestore {
		return res
	}

	if failed, ok := r.tryFailover(res.Reason); ok {
		return failed
	}
	return policy.Abort(fmt.Sprintf("No backup provider available: %s", res.Reason))
}

// AfterFailure routes the failure to the current provider's policy. When
// that policy aborts, failover is attempted exactly as in BeforeExecution.
func (r *Router) AfterFailure(info policy.FailureInfo) policy.Resolution {
	res := r.CurrentPolicy().AfterFailure(info)
	if res.Kind != policy.ResolutionAbort {
		return res
	}
	if failed, ok := r.tryFailover(res.Reason); ok {
		return failed
	}
	return policy.Abort(fmt.Sprintf("No backup provider available: %s", res.Reason))
}

// AfterSuccess routes success notification to the current provider's
// policy.
func (r *Router) AfterSuccess(info policy.SuccessInfo) policy.Resolution {
	return r.CurrentPolicy().AfterSuccess(info)
}

// Reset resets the current provider's policy.
func (r *Router) Reset() {
	r.CurrentPolicy().Reset()
}

// tryFailover attempts to switch to the first provider later in priority
// than the current one whose beforeExecution returns continue or backoff.
func (r *Router) tryFailover(reason string) (policy.Resolution, bool) {
	if !r.allowFailover {
		return policy.Resolution{}, false
	}
	idx := r.indexInPriority(r.currentProvider)
	if idx < 0 {
		return policy.Resolution{}, false
	}
	for _, candidate := range r.priority[idx+1:] {
		candidateRes := r.policyFor(candidate).BeforeExecution(policy.ExecutionInfo{})
		if candidateRes.Kind != policy.ResolutionAbort {
			r.currentProvider = candidate
			return candidateRes, true
		}
	}
	return policy.Resolution{}, false
}

// tryRestore attempts to switch to the first provider earlier in priority
// than the current one whose beforeExecution returns continue or backoff.
// AbortPolicy-configured providers are ineligible as restore targets, to
// avoid restore loops against a provider that can never recover.
func (r *Router) tryRestore() (policy.Resolution, bool) {
	idx := r.indexInPriority(r.currentProvider)
	if idx <= 0 {
		return policy.Resolution{}, false
	}
	for _, candidate := range r.priority[:idx] {
		p := r.policyFor(candidate)
		if _, isAbort := p.(*policy.AbortPolicy); isAbort {
			continue
		}
		candidateRes := p.BeforeExecution(policy.ExecutionInfo{})
		if candidateRes.Kind != policy.ResolutionAbort {
			r.currentProvider = candidate
			return candidateRes, true
		}
	}
	return policy.Resolution{}, false
}

func (r *Router) indexInPriority(name string) int {
	for i, n := range r.priority {
		if n == name {
			return i
		}
	}
	return -1
}
