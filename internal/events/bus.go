// Package events implements the generic interceptor bus of spec.md §4.5:
// named pre-X/post-X events, priority-ordered interceptors, and the
// continue/modify/retry/abort protocol the resilience layer rides on top
// of (internal/policyadapter registers its hooks through this package).
package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Context is passed to every interceptor invocation.
type Context struct {
	ProfileID string
	Usecase   string
	Provider  string
	Time      time.Time
}

// Key identifies one (profile, usecase) perform in the process-wide hook
// context map (spec.md §3 "Event hook context").
type Key struct {
	ProfileID string
	Usecase   string
}

// Decision is what an interceptor returns after observing (and optionally
// rewriting) one stage of a hooked operation.
type Decision struct {
	Kind      DecisionKind
	NewArgs   any
	NewResult any
}

type DecisionKind int

const (
	DecisionContinue DecisionKind = iota
	DecisionModify
	DecisionRetry
	DecisionAbort
)

func Continue() Decision               { return Decision{Kind: DecisionContinue} }
func ModifyArgs(args any) Decision     { return Decision{Kind: DecisionModify, NewArgs: args} }
func ModifyResult(result any) Decision { return Decision{Kind: DecisionModify, NewResult: result} }
func Retry(newArgs any) Decision       { return Decision{Kind: DecisionRetry, NewArgs: newArgs} }
func Abort(result any) Decision        { return Decision{Kind: DecisionAbort, NewResult: result} }

// PreInterceptor observes/rewrites the arguments before an operation runs.
type PreInterceptor func(ctx Context, args any) Decision

// PostInterceptor observes/rewrites the pending result after an operation
// has run. err is the invoker's error, if any (result is its zero value in
// that case) — policyadapter's post-fetch hook classifies it to decide
// between continue/retry/abort.
type PostInterceptor func(ctx Context, args any, result any, err error) Decision

// Invoker actually performs the hooked operation given (possibly rewritten)
// arguments, returning its result.
type Invoker func(ctx context.Context, args any) (any, error)

type registration[F any] struct {
	priority int
	fn       F
}

// Bus owns the interceptor chains for every named event. The hook-context
// map shared by those interceptors is the separate HookContextMap below.
type Bus struct {
	mu   sync.RWMutex
	pre  map[string][]registration[PreInterceptor]
	post map[string][]registration[PostInterceptor]
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		pre:  make(map[string][]registration[PreInterceptor]),
		post: make(map[string][]registration[PostInterceptor]),
	}
}

// OnPre registers a pre-X interceptor at the given priority. Lower
// priority values run outermost (first). event is the bare event name
// ("fetch", "bind-and-perform"); the "pre-" prefix is added here to match
// runPre's lookup.
func (b *Bus) OnPre(event string, priority int, fn PreInterceptor) {
	key := "pre-" + event
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pre[key] = append(b.pre[key], registration[PreInterceptor]{priority: priority, fn: fn})
	sort.SliceStable(b.pre[key], func(i, j int) bool { return b.pre[key][i].priority < b.pre[key][j].priority })
}

// OnPost registers a post-X interceptor at the given priority. event is the
// bare event name; the "post-" prefix is added here to match runPost's
// lookup.
func (b *Bus) OnPost(event string, priority int, fn PostInterceptor) {
	key := "post-" + event
	b.mu.Lock()
	defer b.mu.Unlock()
	b.post[key] = append(b.post[key], registration[PostInterceptor]{priority: priority, fn: fn})
	sort.SliceStable(b.post[key], func(i, j int) bool { return b.post[key][i].priority < b.post[key][j].priority })
}

func (b *Bus) preChain(event string) []registration[PreInterceptor] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]registration[PreInterceptor], len(b.pre[event]))
	copy(out, b.pre[event])
	return out
}

func (b *Bus) postChain(event string) []registration[PostInterceptor] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]registration[PostInterceptor], len(b.post[event]))
	copy(out, b.post[event])
	return out
}

// Run executes the named event's hooked operation: it runs every
// registered pre-<event> interceptor in priority order (each can
// continue/modify/retry/abort), invokes fn with the (possibly rewritten)
// arguments, then runs every registered post-<event> interceptor over the
// result (each can continue/modify/retry/abort). A `retry` decision
// restarts the chain — from its own stage's start, pre or post — with the
// given (possibly rewritten) arguments; it never re-runs the other stage.
func (b *Bus) Run(ctx context.Context, hookCtx Context, event string, args any, fn Invoker) (any, error) {
	args, aborted, abortResult := b.runPre(hookCtx, event, args)
	if aborted {
		return abortResult, nil
	}

	result, err := fn(ctx, args)

	finalResult, aborted, abortResult := b.runPost(hookCtx, event, args, result, err)
	if aborted {
		return abortResult, nil
	}
	return finalResult, err
}

// RunPreOnly runs the pre-<event> chain with no paired invocation or post
// stage: for hook points that are pure observation sites (spec.md §4.9's
// pre-unhandled-http, which has no "operation" to invoke — only a response
// already in hand that a policy may turn into a retry or an abort).
func (b *Bus) RunPreOnly(hookCtx Context, event string, args any) (finalArgs any, aborted bool, abortResult any) {
	return b.runPre(hookCtx, event, args)
}

func (b *Bus) runPre(hookCtx Context, event string, args any) (finalArgs any, aborted bool, abortResult any) {
	chain := b.preChain("pre-" + event)
	current := args
restart:
	for _, reg := range chain {
		d := reg.fn(hookCtx, current)
		switch d.Kind {
		case DecisionContinue:
			continue
		case DecisionModify:
			current = d.NewArgs
		case DecisionRetry:
			if d.NewArgs != nil {
				current = d.NewArgs
			}
			goto restart
		case DecisionAbort:
			return current, true, d.NewResult
		}
	}
	return current, false, nil
}

func (b *Bus) runPost(hookCtx Context, event string, args any, result any, invokeErr error) (finalResult any, aborted bool, abortResult any) {
	chain := b.postChain("post-" + event)
	current := result
restart:
	for _, reg := range chain {
		d := reg.fn(hookCtx, args, current, invokeErr)
		switch d.Kind {
		case DecisionContinue:
			continue
		case DecisionModify:
			current = d.NewResult
		case DecisionRetry:
			if d.NewArgs != nil {
				args = d.NewArgs
			}
			goto restart
		case DecisionAbort:
			return current, true, d.NewResult
		}
	}
	return current, false, nil
}

// --- Process-wide hook context map (spec.md §3) ---

// QueuedActionKind is the kind of action a policy has queued against a
// (profile, usecase) hook context for the adapter to consume.
type QueuedActionKind int

const (
	ActionNone QueuedActionKind = iota
	ActionFullAbort
	ActionSwitchProvider
	ActionRecache
)

// QueuedAction is the action a failure/before-execution policy decision
// queued for the enclosing bind-and-perform hook to consume.
type QueuedAction struct {
	Kind         QueuedActionKind
	Reason       string
	ProviderName string
	NewRegistry  any
}

// HookState is the per-(profile,usecase) state shared by every
// interceptor of one client instance: the router (opaque to this
// package — stored as `any` to avoid an import cycle with
// internal/router) and the currently queued action.
type HookState struct {
	mu           sync.Mutex
	Router       any
	QueuedAction QueuedAction
}

// HookContextMap is the process-wide (per client instance) map described
// in spec.md §3: "Event hook context... Lifetime: process-wide (one map
// per client instance)."
type HookContextMap struct {
	mu     sync.RWMutex
	states map[Key]*HookState
}

func NewHookContextMap() *HookContextMap {
	return &HookContextMap{states: make(map[Key]*HookState)}
}

// Get returns the HookState for key, creating it (with the given router)
// on first access.
func (m *HookContextMap) Get(key Key, newRouter func() any) *HookState {
	m.mu.RLock()
	s, ok := m.states[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[key]; ok {
		return s
	}
	s = &HookState{Router: newRouter()}
	m.states[key] = s
	return s
}

// SetQueuedAction stores the queued action for this hook state, replacing
// any previous one.
func (s *HookState) SetQueuedAction(a QueuedAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueuedAction = a
}

// ConsumeQueuedAction returns the currently queued action and resets it to
// ActionNone.
func (s *HookState) ConsumeQueuedAction() QueuedAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.QueuedAction
	s.QueuedAction = QueuedAction{}
	return a
}

// PeekQueuedAction returns the currently queued action without consuming
// it.
func (s *HookState) PeekQueuedAction() QueuedAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueuedAction
}
