package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunPlainPassthrough(t *testing.T) {
	b := NewBus()
	result, err := b.Run(context.Background(), Context{Time: time.Now()}, "fetch", "req", func(_ context.Context, args any) (any, error) {
		return args.(string) + "-resp", nil
	})
	require.NoError(t, err)
	require.Equal(t, "req-resp", result)
}

func TestPreModifyRewritesArgs(t *testing.T) {
	b := NewBus()
	b.OnPre("fetch", 0, func(ctx Context, args any) Decision {
		return ModifyArgs(args.(string) + "-modified")
	})
	result, err := b.Run(context.Background(), Context{}, "fetch", "req", func(_ context.Context, args any) (any, error) {
		return args, nil
	})
	require.NoError(t, err)
	require.Equal(t, "req-modified", result)
}

func TestPreAbortShortCircuits(t *testing.T) {
	b := NewBus()
	invoked := false
	b.OnPre("fetch", 0, func(ctx Context, args any) Decision {
		return Abort("aborted-early")
	})
	result, err := b.Run(context.Background(), Context{}, "fetch", "req", func(_ context.Context, args any) (any, error) {
		invoked = true
		return args, nil
	})
	require.NoError(t, err)
	require.Equal(t, "aborted-early", result)
	require.False(t, invoked)
}

func TestPreRetryRestartsChain(t *testing.T) {
	b := NewBus()
	var seenArgs []string
	attempts := 0
	b.OnPre("fetch", 0, func(ctx Context, args any) Decision {
		seenArgs = append(seenArgs, args.(string))
		attempts++
		if attempts < 2 {
			return Retry("retried")
		}
		return Continue()
	})
	result, err := b.Run(context.Background(), Context{}, "fetch", "original", func(_ context.Context, args any) (any, error) {
		return args, nil
	})
	require.NoError(t, err)
	require.Equal(t, "retried", result)
	require.Equal(t, []string{"original", "retried"}, seenArgs)
}

func TestPostModifyRewritesResult(t *testing.T) {
	b := NewBus()
	b.OnPost("fetch", 0, func(ctx Context, args any, result any, err error) Decision {
		return ModifyResult(result.(string) + "-post")
	})
	result, err := b.Run(context.Background(), Context{}, "fetch", "req", func(_ context.Context, args any) (any, error) {
		return "resp", nil
	})
	require.NoError(t, err)
	require.Equal(t, "resp-post", result)
}

func TestInterceptorPriorityOrdering(t *testing.T) {
	b := NewBus()
	var order []int
	b.OnPre("fetch", 10, func(ctx Context, args any) Decision {
		order = append(order, 10)
		return Continue()
	})
	b.OnPre("fetch", -5, func(ctx Context, args any) Decision {
		order = append(order, -5)
		return Continue()
	})
	b.OnPre("fetch", 0, func(ctx Context, args any) Decision {
		order = append(order, 0)
		return Continue()
	})
	_, err := b.Run(context.Background(), Context{}, "fetch", "req", func(_ context.Context, args any) (any, error) {
		return args, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{-5, 0, 10}, order)
}

func TestHookContextMapGetOrCreate(t *testing.T) {
	m := NewHookContextMap()
	created := 0
	newRouter := func() any { created++; return "router" }

	key := Key{ProfileID: "p", Usecase: "u"}
	s1 := m.Get(key, newRouter)
	s2 := m.Get(key, newRouter)
	require.Same(t, s1, s2)
	require.Equal(t, 1, created)

	s1.SetQueuedAction(QueuedAction{Kind: ActionFullAbort, Reason: "boom"})
	a := s1.ConsumeQueuedAction()
	require.Equal(t, ActionFullAbort, a.Kind)
	require.Equal(t, ActionNone, s1.PeekQueuedAction().Kind)
}
