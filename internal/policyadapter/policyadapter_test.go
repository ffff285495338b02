package policyadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onesdk/onesdk-go/internal/backoff"
	"github.com/onesdk/onesdk-go/internal/events"
	"github.com/onesdk/onesdk-go/internal/httpclient"
	"github.com/onesdk/onesdk-go/internal/policy"
	"github.com/onesdk/onesdk-go/internal/router"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newAdapterWithRouter(t *testing.T, key events.Key, r *router.Router) (*events.Bus, *events.HookContextMap, *Adapter) {
	t.Helper()
	hooks := events.NewHookContextMap()
	hooks.Get(key, func() any { return r })
	a := New(hooks, fixedClock(time.Unix(0, 0)))
	bus := events.NewBus()
	a.Register(bus)
	return bus, hooks, a
}

func abortOnlyRouter() *router.Router {
	return router.New([]string{"p1"}, func(string) policy.FailurePolicy { return policy.NewAbortPolicy() })
}

func retryRouter(maxRetries int) *router.Router {
	return router.New([]string{"p1"}, func(string) policy.FailurePolicy {
		return policy.NewRetryPolicy(maxRetries, 5*time.Second, backoff.NewConstant(0), fixedClock(time.Unix(0, 0)))
	})
}

func TestPreFetchContinuesWhenNoRouterRegistered(t *testing.T) {
	hooks := events.NewHookContextMap()
	a := New(hooks, nil)
	bus := events.NewBus()
	a.Register(bus)

	key := events.Key{ProfileID: "p", Usecase: "u"}
	hooks.Get(key, func() any { return (*router.Router)(nil) })

	result, err := bus.Run(context.Background(), events.Context{ProfileID: "p", Usecase: "u"}, "fetch", httpclient.Request{Method: "GET"}, func(_ context.Context, args any) (any, error) {
		return args, nil
	})
	require.NoError(t, err)
	require.Equal(t, httpclient.Request{Method: "GET"}, result)
}

func TestPreFetchSetsTimeoutFromPolicy(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	bus, _, _ := newAdapterWithRouter(t, key, abortOnlyRouter())

	result, err := bus.Run(context.Background(), events.Context{ProfileID: "p", Usecase: "u"}, "fetch", httpclient.Request{Method: "GET"}, func(_ context.Context, args any) (any, error) {
		return args, nil
	})
	require.NoError(t, err)
	req := result.(httpclient.Request)
	require.Equal(t, policy.DefaultRequestTimeout, req.Timeout)
}

func TestPostFetchClassifiesNetworkErrorAndQueuesAbort(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	bus, hooks, _ := newAdapterWithRouter(t, key, abortOnlyRouter())

	fetchErr := sdkerrors.NewNetworkFetchError(sdkerrors.NetworkFetchReject, errors.New("dial tcp: connection refused"))
	result, err := bus.Run(context.Background(), events.Context{ProfileID: "p", Usecase: "u"}, "fetch", httpclient.Request{}, func(_ context.Context, args any) (any, error) {
		return httpclient.Response{}, fetchErr
	})
	require.NoError(t, err)

	var abortErr *sdkerrors.PolicyAbortError
	require.True(t, sdkerrors.As(result.(error), &abortErr))

	state := hooks.Get(key, func() any { return (*router.Router)(nil) })
	require.Equal(t, events.ActionFullAbort, state.PeekQueuedAction().Kind)
}

func TestPostFetchRetriesUpToRetryPolicyBudget(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	bus, _, _ := newAdapterWithRouter(t, key, retryRouter(2))

	fetchErr := sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, errors.New("boom"))
	result, err := bus.Run(context.Background(), events.Context{ProfileID: "p", Usecase: "u"}, "fetch", httpclient.Request{}, func(_ context.Context, args any) (any, error) {
		return httpclient.Response{}, fetchErr
	})
	require.NoError(t, err)
	require.Equal(t, sdkerrors.ErrRetryFetch, result)
}

func TestPostFetchSkipsWhenActionAlreadyQueued(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	bus, hooks, _ := newAdapterWithRouter(t, key, abortOnlyRouter())
	state := hooks.Get(key, func() any { return (*router.Router)(nil) })
	state.SetQueuedAction(events.QueuedAction{Kind: events.ActionFullAbort, Reason: "already decided"})

	fetchErr := sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, errors.New("boom"))
	result, err := bus.Run(context.Background(), events.Context{ProfileID: "p", Usecase: "u"}, "fetch", httpclient.Request{}, func(_ context.Context, args any) (any, error) {
		return httpclient.Response{}, fetchErr
	})
	require.Error(t, err)
	require.Equal(t, httpclient.Response{}, result)
	require.Same(t, fetchErr, err)
}

func TestPreUnhandledHTTPRetrySentinel(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	_, _, a := newAdapterWithRouter(t, key, retryRouter(3))
	bus := events.NewBus()
	a.Register(bus)

	_, aborted, abortResult := bus.RunPreOnly(events.Context{ProfileID: "p", Usecase: "u"}, "unhandled-http", httpclient.Response{StatusCode: 502})
	require.True(t, aborted)
	require.Equal(t, "retry", abortResult)
}

func TestPreUnhandledHTTPAbortQueuesAction(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	bus, hooks, _ := newAdapterWithRouter(t, key, abortOnlyRouter())

	_, aborted, abortResult := bus.RunPreOnly(events.Context{ProfileID: "p", Usecase: "u"}, "unhandled-http", httpclient.Response{StatusCode: 503})
	require.True(t, aborted)
	var abortErr *sdkerrors.PolicyAbortError
	require.True(t, sdkerrors.As(abortResult.(error), &abortErr))

	state := hooks.Get(key, func() any { return (*router.Router)(nil) })
	require.Equal(t, events.ActionFullAbort, state.PeekQueuedAction().Kind)
}

func TestPreBindAndPerformContinuesWhenProviderPinned(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	bus, hooks, _ := newAdapterWithRouter(t, key, abortOnlyRouter())

	result, err := bus.Run(context.Background(), events.Context{ProfileID: "p", Usecase: "u"}, "bind-and-perform", BindAndPerformArgs{PinnedProvider: "p1"}, func(_ context.Context, args any) (any, error) {
		return args, nil
	})
	require.NoError(t, err)
	require.Equal(t, BindAndPerformArgs{PinnedProvider: "p1"}, result)

	state := hooks.Get(key, func() any { return (*router.Router)(nil) })
	require.Equal(t, events.ActionNone, state.PeekQueuedAction().Kind)
}

func TestPostBindAndPerformSwitchesProviderOnQueuedSwitch(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	bus, hooks, _ := newAdapterWithRouter(t, key, abortOnlyRouter())
	state := hooks.Get(key, func() any { return (*router.Router)(nil) })
	state.SetQueuedAction(events.QueuedAction{Kind: events.ActionSwitchProvider, ProviderName: "p2", Reason: "p1 down"})

	attempts := 0
	result, err := RunBindAndPerform(context.Background(), bus, events.Context{ProfileID: "p", Usecase: "u"}, BindAndPerformArgs{}, func(_ context.Context, bp BindAndPerformArgs) (any, error) {
		attempts++
		return bp.Provider, nil
	})
	require.NoError(t, err)
	require.Equal(t, "p2", result)
	require.Equal(t, 2, attempts)
}

func TestPostBindAndPerformFullAbortModifiesResult(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	bus, hooks, _ := newAdapterWithRouter(t, key, abortOnlyRouter())
	state := hooks.Get(key, func() any { return (*router.Router)(nil) })
	state.SetQueuedAction(events.QueuedAction{Kind: events.ActionFullAbort, Reason: "no backup provider"})

	result, err := bus.Run(context.Background(), events.Context{ProfileID: "p", Usecase: "u"}, "bind-and-perform", BindAndPerformArgs{}, func(_ context.Context, args any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	var abortErr *sdkerrors.PolicyAbortError
	require.True(t, sdkerrors.As(result.(error), &abortErr))
	require.Equal(t, "no backup provider", abortErr.ShortMessage)
}

func TestPostBindAndPerformCallsAfterSuccessOnCleanPerform(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	r := retryRouter(2)
	bus, _, _ := newAdapterWithRouter(t, key, r)

	// Force the policy into a degraded state (negative balance, so it backs
	// off), then verify a clean perform calls AfterSuccess by observing that
	// the balance is restored and the policy continues again.
	r.AfterFailure(policy.FailureInfo{Time: time.Unix(0, 0), Kind: policy.FailureRequest})
	require.Equal(t, policy.ResolutionBackoff, r.BeforeExecution(policy.ExecutionInfo{Time: time.Unix(0, 0)}).Kind)

	_, err := bus.Run(context.Background(), events.Context{ProfileID: "p", Usecase: "u"}, "bind-and-perform", BindAndPerformArgs{}, func(_ context.Context, args any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, policy.ResolutionContinue, r.BeforeExecution(policy.ExecutionInfo{Time: time.Unix(0, 0)}).Kind)
}

func TestRunBindAndPerformWrapsEventArgs(t *testing.T) {
	key := events.Key{ProfileID: "p", Usecase: "u"}
	bus, _, _ := newAdapterWithRouter(t, key, abortOnlyRouter())

	result, err := RunBindAndPerform(context.Background(), bus, events.Context{ProfileID: "p", Usecase: "u"}, BindAndPerformArgs{}, func(_ context.Context, args BindAndPerformArgs) (any, error) {
		return args.Provider, nil
	})
	require.NoError(t, err)
	require.Equal(t, "", result)
}
