// Package policyadapter wires internal/router's failover/restore decisions
// into internal/events' interceptor bus, implementing the five hooks of
// spec.md §4.9: pre-fetch/post-fetch, pre-unhandled-http, and
// pre-bind-and-perform/post-bind-and-perform.
package policyadapter

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/onesdk/onesdk-go/internal/events"
	"github.com/onesdk/onesdk-go/internal/httpclient"
	"github.com/onesdk/onesdk-go/internal/policy"
	"github.com/onesdk/onesdk-go/internal/router"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// BindAndPerformArgs is the argument value the bind-and-perform event is
// raised with. PinnedProvider is set when the caller explicitly requested a
// provider (perform({provider: ...})); Provider is the name the adapter's
// switchProvider consumption rewrites the retry with.
type BindAndPerformArgs struct {
	PinnedProvider string
	Provider       string
}

// Adapter owns the clock the hooks use to call into FailurePolicy, so tests
// can supply a deterministic one.
type Adapter struct {
	hooks *events.HookContextMap
	now   func() time.Time
}

// New creates an Adapter. now defaults to time.Now when nil.
func New(hooks *events.HookContextMap, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{hooks: hooks, now: now}
}

// Register attaches all five hooks to bus at priority 0.
func (a *Adapter) Register(bus *events.Bus) {
	bus.OnPre("fetch", 0, a.preFetch)
	bus.OnPost("fetch", 0, a.postFetch)
	bus.OnPre("unhandled-http", 0, a.preUnhandledHTTP)
	bus.OnPre("bind-and-perform", 0, a.preBindAndPerform)
	bus.OnPost("bind-and-perform", 0, a.postBindAndPerform)
}

// NewBindRateLimiter builds the token-bucket limiter internal/registryclient
// applies before each POST /registry/bind call, so a burst of concurrent
// first binds can't hammer the registry.
func NewBindRateLimiter(ratePerSecond float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}

func (a *Adapter) routerFor(ctx events.Context) *router.Router {
	if a.hooks == nil {
		return nil
	}
	key := events.Key{ProfileID: ctx.ProfileID, Usecase: ctx.Usecase}
	state := a.hooks.Get(key, func() any { return (*router.Router)(nil) })
	r, _ := state.Router.(*router.Router)
	return r
}

func (a *Adapter) stateFor(ctx events.Context) *events.HookState {
	key := events.Key{ProfileID: ctx.ProfileID, Usecase: ctx.Usecase}
	return a.hooks.Get(key, func() any { return (*router.Router)(nil) })
}

func (a *Adapter) queue(state *events.HookState, res policy.Resolution) {
	switch res.Kind {
	case policy.ResolutionAbort:
		state.SetQueuedAction(events.QueuedAction{Kind: events.ActionFullAbort, Reason: res.Reason})
	case policy.ResolutionSwitchProvider:
		state.SetQueuedAction(events.QueuedAction{Kind: events.ActionSwitchProvider, Reason: res.Reason, ProviderName: res.ProviderName})
	case policy.ResolutionRecache:
		state.SetQueuedAction(events.QueuedAction{Kind: events.ActionRecache, Reason: res.Reason, NewRegistry: res.NewRegistry})
	}
}

// preFetch implements spec.md §4.9's pre-fetch hook.
func (a *Adapter) preFetch(ctx events.Context, args any) events.Decision {
	req, ok := args.(httpclient.Request)
	if !ok {
		return events.Continue()
	}
	r := a.routerFor(ctx)
	if r == nil {
		return events.Continue()
	}

	res := r.BeforeExecution(policy.ExecutionInfo{Time: a.now(), CheckFailoverRestore: false})
	switch res.Kind {
	case policy.ResolutionContinue:
		if res.Timeout > 0 {
			req.Timeout = res.Timeout
			return events.ModifyArgs(req)
		}
		return events.Continue()
	case policy.ResolutionBackoff:
		if res.BackoffDelay > 0 {
			time.Sleep(res.BackoffDelay)
		}
		req.Timeout = res.Timeout
		return events.ModifyArgs(req)
	default:
		a.queue(a.stateFor(ctx), res)
		return events.Abort(sdkerrors.NewPolicyAbortError(res.Reason))
	}
}

// postFetch implements spec.md §4.9's post-fetch hook.
func (a *Adapter) postFetch(ctx events.Context, args any, result any, err error) events.Decision {
	r := a.routerFor(ctx)
	if r == nil {
		return events.Continue()
	}
	state := a.stateFor(ctx)
	if state.PeekQueuedAction().Kind != events.ActionNone {
		return events.Continue()
	}
	if err == nil {
		return events.Continue()
	}

	res := r.AfterFailure(policy.FailureInfo{Time: a.now(), Kind: classifyFetchError(err), Reason: err.Error()})
	switch res.Kind {
	case policy.ResolutionContinue, policy.ResolutionBackoff:
		return events.Continue()
	case policy.ResolutionRetry:
		return events.Abort(sdkerrors.ErrRetryFetch)
	default:
		a.queue(state, res)
		return events.Abort(sdkerrors.NewPolicyAbortError(res.Reason))
	}
}

// classifyFetchError maps a fetch error into the failure kind
// router.AfterFailure keys retry/abort decisions on.
func classifyFetchError(err error) policy.FailureKind {
	var netErr *sdkerrors.NetworkFetchError
	if sdkerrors.As(err, &netErr) {
		return policy.FailureNetwork
	}
	var reqErr *sdkerrors.RequestFetchError
	if sdkerrors.As(err, &reqErr) {
		return policy.FailureRequest
	}
	return policy.FailureUnknown
}

// preUnhandledHTTP implements spec.md §4.9's pre-unhandled-http hook, the
// event internal/interpreter's HttpCallStatement loop raises for a response
// no response handler matched.
func (a *Adapter) preUnhandledHTTP(ctx events.Context, args any) events.Decision {
	resp, ok := args.(httpclient.Response)
	if !ok {
		return events.Continue()
	}
	r := a.routerFor(ctx)
	if r == nil {
		return events.Continue()
	}

	res := r.AfterFailure(policy.FailureInfo{Time: a.now(), Kind: policy.FailureHTTP, Response: resp})
	switch res.Kind {
	case policy.ResolutionRetry:
		return events.Abort("retry")
	case policy.ResolutionContinue, policy.ResolutionBackoff:
		return events.Continue()
	default:
		a.queue(a.stateFor(ctx), res)
		return events.Abort(sdkerrors.NewPolicyAbortError(res.Reason))
	}
}

// preBindAndPerform implements spec.md §4.9's pre-bind-and-perform hook.
func (a *Adapter) preBindAndPerform(ctx events.Context, args any) events.Decision {
	bp, ok := args.(BindAndPerformArgs)
	if !ok || bp.PinnedProvider != "" {
		return events.Continue()
	}
	r := a.routerFor(ctx)
	if r == nil {
		return events.Continue()
	}

	res := r.BeforeExecution(policy.ExecutionInfo{Time: a.now(), CheckFailoverRestore: true})
	if res.Kind != policy.ResolutionContinue && res.Kind != policy.ResolutionBackoff {
		a.queue(a.stateFor(ctx), res)
	}
	return events.Continue()
}

// postBindAndPerform implements spec.md §4.9's post-bind-and-perform hook.
func (a *Adapter) postBindAndPerform(ctx events.Context, args any, result any, err error) events.Decision {
	r := a.routerFor(ctx)
	state := a.stateFor(ctx)

	if state.PeekQueuedAction().Kind == events.ActionNone {
		if err == nil {
			if r != nil {
				r.AfterSuccess(policy.SuccessInfo{Time: a.now()})
			}
		} else {
			var bindErr *sdkerrors.SDKBindError
			if sdkerrors.As(err, &bindErr) && r != nil {
				res := r.AfterFailure(policy.FailureInfo{Time: a.now(), Kind: policy.FailureBind, Reason: err.Error()})
				if res.Kind != policy.ResolutionContinue && res.Kind != policy.ResolutionBackoff {
					a.queue(state, res)
				}
			}
		}
	}

	action := state.ConsumeQueuedAction()
	switch action.Kind {
	case events.ActionSwitchProvider:
		// The bus's own `retry` decision only re-runs the post chain, not
		// fn itself (the whole point of switching providers is to redo the
		// perform against the new one), so the actual re-invocation is a
		// sentinel RunBindAndPerform's caller loop recognizes.
		return events.Abort(switchProviderSentinel{Provider: action.ProviderName})
	case events.ActionRecache:
		// Reserved: no default behavior (spec.md §4.9's "recache → reserved").
		return events.Continue()
	case events.ActionFullAbort:
		return events.ModifyResult(sdkerrors.NewPolicyAbortError(action.Reason))
	default:
		return events.Continue()
	}
}

// switchProviderSentinel is returned through the abort path of
// post-bind-and-perform when the queued action calls for redoing the whole
// bind+perform against a different provider. RunBindAndPerform recognizes
// it and loops, rewriting BindAndPerformArgs.Provider.
type switchProviderSentinel struct {
	Provider string
}

// maxBindAndPerformAttempts bounds the switchProvider retry loop so a
// misbehaving router configuration (e.g. a priority cycle) can't spin
// forever.
const maxBindAndPerformAttempts = 5

// RunBindAndPerform is the convenience wrapper the root package's UseCase.Perform
// uses to raise the bind-and-perform event around its bind+invoke call,
// looping when the policy adapter switches providers mid-perform.
func RunBindAndPerform(ctx context.Context, bus *events.Bus, hookCtx events.Context, args BindAndPerformArgs, fn func(context.Context, BindAndPerformArgs) (any, error)) (any, error) {
	for attempt := 0; attempt < maxBindAndPerformAttempts; attempt++ {
		result, err := bus.Run(ctx, hookCtx, "bind-and-perform", args, func(ctx context.Context, a any) (any, error) {
			return fn(ctx, a.(BindAndPerformArgs))
		})
		if err != nil {
			return nil, err
		}
		sentinel, ok := result.(switchProviderSentinel)
		if !ok {
			return result, nil
		}
		args.Provider = sentinel.Provider
	}
	return nil, sdkerrors.NewUnexpectedError("bind-and-perform exceeded the maximum of %d provider-switch attempts", maxBindAndPerformAttempts)
}
