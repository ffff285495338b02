package interpreter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onesdk/onesdk-go/internal/auth"
	"github.com/onesdk/onesdk-go/internal/events"
	"github.com/onesdk/onesdk-go/internal/httpclient"
	"github.com/onesdk/onesdk-go/internal/sandbox"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

func newInterpreter(t *testing.T, bus *events.Bus) *Interpreter {
	t.Helper()
	sb, err := sandbox.New()
	require.NoError(t, err)
	return New(sb, httpclient.New(bus), bus)
}

func intPtr(v int) *int { return &v }

func TestSetConditionedAndForeachOverwrite(t *testing.T) {
	it := newInterpreter(t, nil)
	mapDef := &MapDefinition{Statements: []Statement{
		&SetStatement{Key: "seen", Expr: `[]`},
		&IterationStatement{
			IteratorVar: "item",
			Iterable:    `[1, 2, 3]`,
			Body: []Statement{
				&ConditionedStatement{
					Condition: `vars.item == 2`,
					Body: []Statement{
						&SetStatement{Key: "flag", Expr: `true`},
					},
				},
			},
		},
		&OutcomeStatement{Kind: OutcomeMapResult, Expr: `vars.flag`},
	}}

	result, err := it.Run(context.Background(), events.Context{}, mapDef, nil, Environment{}, nil)
	require.NoError(t, err)
	require.Equal(t, true, result)
}

func TestForeachIteratorOverwrittenNotMerged(t *testing.T) {
	it := newInterpreter(t, nil)
	// Each iteration replaces `item` with the next bare number, so after the
	// loop `last` holds the final element rather than an accumulation.
	mapDef := &MapDefinition{Statements: []Statement{
		&IterationStatement{
			IteratorVar: "item",
			Iterable:    `[1, 2]`,
			Body:        []Statement{&SetStatement{Key: "last", Expr: `vars.item`}},
		},
		&OutcomeStatement{Kind: OutcomeMapResult, Expr: `vars.last`},
	}}

	result, err := it.Run(context.Background(), events.Context{}, mapDef, nil, Environment{}, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, result)
}

func TestTerminalOutcomeInsideForeachExitsLoopAndDefinition(t *testing.T) {
	it := newInterpreter(t, nil)
	mapDef := &MapDefinition{Statements: []Statement{
		&SetStatement{Key: "count", Expr: `0`},
		&IterationStatement{
			IteratorVar: "item",
			Iterable:    `[1, 2, 3]`,
			Body: []Statement{
				&SetStatement{Key: "count", Expr: `vars.count + 1`},
				&ConditionedStatement{
					Condition: `vars.item == 2`,
					Body: []Statement{
						&OutcomeStatement{Kind: OutcomeFail, Expr: `"stopped early"`},
					},
				},
			},
		},
		&SetStatement{Key: "count", Expr: `vars.count + 100`}, // must never run
	}}

	_, err := it.Run(context.Background(), events.Context{}, mapDef, nil, Environment{}, nil)
	require.Error(t, err)
	var mapped *sdkerrors.MappedError
	require.True(t, sdkerrors.As(err, &mapped))
	require.Equal(t, "stopped early", mapped.Properties)
}

func TestCallStatementFreshFrameNoVariableLeak(t *testing.T) {
	it := newInterpreter(t, nil)
	ops := map[string]*OperationDefinition{
		"double": {Name: "double", Statements: []Statement{
			&SetStatement{Key: "secret", Expr: `"leaked?"`},
			&OutcomeStatement{Kind: OutcomeMapResult, Expr: `vars.n * 2`},
		}},
	}
	mapDef := &MapDefinition{Statements: []Statement{
		&CallStatement{OperationName: "double", Arguments: map[string]string{"n": `5`}, ResultVar: "doubled"},
		&ConditionedStatement{
			Condition: `has(vars.secret)`,
			Body:      []Statement{&SetStatement{Key: "doubled", Expr: `-1`}},
		},
		&OutcomeStatement{Kind: OutcomeMapResult, Expr: `vars.doubled`},
	}}

	result, err := it.Run(context.Background(), events.Context{}, mapDef, ops, Environment{}, nil)
	require.NoError(t, err)
	require.EqualValues(t, 10, result)
}

func TestCallStatementFailurePropagatesToCallerError(t *testing.T) {
	it := newInterpreter(t, nil)
	ops := map[string]*OperationDefinition{
		"risky": {Name: "risky", Statements: []Statement{
			&OutcomeStatement{Kind: OutcomeFail, Expr: `"boom"`},
		}},
	}
	mapDef := &MapDefinition{Statements: []Statement{
		&CallStatement{OperationName: "risky", Arguments: map[string]string{}, ResultVar: "r"},
	}}

	_, err := it.Run(context.Background(), events.Context{}, mapDef, ops, Environment{}, nil)
	require.Error(t, err)
	var mapped *sdkerrors.MappedError
	require.True(t, sdkerrors.As(err, &mapped))
	require.Equal(t, "boom", mapped.Properties)
}

func TestInlineCallStatement(t *testing.T) {
	it := newInterpreter(t, nil)
	mapDef := &MapDefinition{Statements: []Statement{
		&InlineCallStatement{
			Arguments: map[string]string{"a": `2`, "b": `3`},
			Body:      []Statement{&OutcomeStatement{Kind: OutcomeMapResult, Expr: `vars.a + vars.b`}},
			ResultVar: "sum",
		},
		&OutcomeStatement{Kind: OutcomeMapResult, Expr: `vars.sum`},
	}}

	result, err := it.Run(context.Background(), events.Context{}, mapDef, nil, Environment{}, nil)
	require.NoError(t, err)
	require.EqualValues(t, 5, result)
}

func TestOutcomeDataNotOverwrittenByLaterVariableNamedResult(t *testing.T) {
	it := newInterpreter(t, nil)
	mapDef := &MapDefinition{Statements: []Statement{
		&OutcomeStatement{Kind: OutcomeMapResult, Expr: `"final"`},
		&SetStatement{Key: "result", Expr: `"not magic"`},
	}}

	result, err := it.Run(context.Background(), events.Context{}, mapDef, nil, Environment{}, nil)
	require.NoError(t, err)
	require.Equal(t, "final", result)
}

func httpTestEnv(baseURL string) Environment {
	return Environment{
		DefaultServiceID: "default",
		Services: func(serviceID string) (httpclient.Service, bool) {
			return httpclient.Service{BaseURL: baseURL}, true
		},
	}
}

func TestHTTPCallMatchesHandlerBindsBodyHeadersStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_ = json.NewEncoder(w).Encode(map[string]any{"greeting": "hi"})
	}))
	defer srv.Close()

	it := newInterpreter(t, nil)
	status200 := intPtr(200)
	mapDef := &MapDefinition{Statements: []Statement{
		&HttpCallStatement{
			Request: HttpRequestSpec{Method: "GET", URL: "/greet"},
			ResponseHandlers: []ResponseHandler{
				{StatusCode: status200, Body: []Statement{
					&SetStatement{Key: "echoedStatus", Expr: `vars.statusCode`},
					&OutcomeStatement{Kind: OutcomeMapResult, Expr: `vars.body.greeting`},
				}},
			},
		},
	}}

	result, err := it.Run(context.Background(), events.Context{}, mapDef, nil, httpTestEnv(srv.URL), nil)
	require.NoError(t, err)
	require.Equal(t, "hi", result)
}

func TestHTTPCallUnmatchedErrorStatusRaisesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	it := newInterpreter(t, nil)
	mapDef := &MapDefinition{Statements: []Statement{
		&HttpCallStatement{Request: HttpRequestSpec{Method: "GET", URL: "/fail"}},
	}}

	_, err := it.Run(context.Background(), events.Context{}, mapDef, nil, httpTestEnv(srv.URL), nil)
	require.Error(t, err)
	var httpErr *sdkerrors.HTTPError
	require.True(t, sdkerrors.As(err, &httpErr))
	require.Equal(t, 500, httpErr.StatusCode)
}

func TestHTTPCallHandlerRetrySentinelRestartsCall(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(503)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	it := newInterpreter(t, nil)
	status503 := intPtr(503)
	status200 := intPtr(200)
	mapDef := &MapDefinition{Statements: []Statement{
		&HttpCallStatement{
			Request: HttpRequestSpec{Method: "GET", URL: "/flaky"},
			ResponseHandlers: []ResponseHandler{
				{StatusCode: status503, Body: []Statement{
					&OutcomeStatement{Kind: OutcomeMapResult, Expr: `"retry"`},
					&OutcomeStatement{Kind: OutcomeReturn},
				}},
				{StatusCode: status200, Body: []Statement{
					&OutcomeStatement{Kind: OutcomeMapResult, Expr: `vars.body.ok`},
				}},
			},
		},
	}}

	result, err := it.Run(context.Background(), events.Context{}, mapDef, nil, httpTestEnv(srv.URL), nil)
	require.NoError(t, err)
	require.Equal(t, true, result)
	require.Equal(t, 2, attempts)
}

func TestHTTPCallUnhandledHTTPHookRetrySentinel(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(502)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	bus := events.NewBus()
	hookCalls := 0
	bus.OnPre("unhandled-http", 0, func(ctx events.Context, args any) events.Decision {
		hookCalls++
		return events.Abort("retry")
	})

	it := newInterpreter(t, bus)
	status200 := intPtr(200)
	mapDef := &MapDefinition{Statements: []Statement{
		&HttpCallStatement{
			Request: HttpRequestSpec{Method: "GET", URL: "/flaky"},
			ResponseHandlers: []ResponseHandler{
				{StatusCode: status200, Body: []Statement{
					&OutcomeStatement{Kind: OutcomeMapResult, Expr: `vars.body.ok`},
				}},
			},
		},
	}}

	result, err := it.Run(context.Background(), events.Context{}, mapDef, nil, httpTestEnv(srv.URL), nil)
	require.NoError(t, err)
	require.Equal(t, true, result)
	require.Equal(t, 1, hookCalls)
	require.Equal(t, 2, attempts)
}

func TestHTTPCallDigestChallengeRetriesWithAuthorization(t *testing.T) {
	var gotAuthorization string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if authz == "" {
			w.Header().Set("WWW-Authenticate", `Digest realm="api", nonce="abc123", qop="auth"`)
			w.WriteHeader(401)
			return
		}
		gotAuthorization = authz
		w.WriteHeader(200)
	}))
	defer srv.Close()

	it := newInterpreter(t, nil)
	env := httpTestEnv(srv.URL)
	env.Security = map[string]auth.Scheme{
		"digestAuth": {Kind: auth.KindDigest, Username: "alice", Password: "wonderland"},
	}

	status200 := intPtr(200)
	mapDef := &MapDefinition{Statements: []Statement{
		&HttpCallStatement{
			Request: HttpRequestSpec{Method: "GET", URL: "/secure", Security: []string{"digestAuth"}},
			ResponseHandlers: []ResponseHandler{
				{StatusCode: status200, Body: []Statement{
					&OutcomeStatement{Kind: OutcomeMapResult, Expr: `true`},
				}},
			},
		},
	}}

	result, err := it.Run(context.Background(), events.Context{}, mapDef, nil, env, nil)
	require.NoError(t, err)
	require.Equal(t, true, result)
	require.Contains(t, gotAuthorization, `Digest username="alice"`)
}

func TestHTTPCallURLPlaceholderInterpolation(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(204)
	}))
	defer srv.Close()

	it := newInterpreter(t, nil)
	mapDef := &MapDefinition{Statements: []Statement{
		&SetStatement{Key: "userId", Expr: `"42"`},
		&HttpCallStatement{Request: HttpRequestSpec{Method: "GET", URL: "/users/{vars.userId}"}},
	}}

	_, err := it.Run(context.Background(), events.Context{}, mapDef, nil, httpTestEnv(srv.URL), nil)
	require.NoError(t, err)
	require.Equal(t, "/users/42", gotPath)
}

func TestHTTPCallAPIKeyQuerySecurityApplied(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(204)
	}))
	defer srv.Close()

	it := newInterpreter(t, nil)
	env := httpTestEnv(srv.URL)
	env.Security = map[string]auth.Scheme{
		"apiKeyAuth": {Kind: auth.KindAPIKey, APIKeyName: "key", APIKeyValue: "s3cr3t", APIKeyIn: auth.APIKeyInQuery},
	}

	mapDef := &MapDefinition{Statements: []Statement{
		&HttpCallStatement{Request: HttpRequestSpec{Method: "GET", URL: "/data", Security: []string{"apiKeyAuth"}}},
	}}

	_, err := it.Run(context.Background(), events.Context{}, mapDef, nil, env, nil)
	require.NoError(t, err)
	require.Equal(t, "key=s3cr3t", gotQuery)
}
