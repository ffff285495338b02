// Package sandbox evaluates the small Jessie-like expressions embedded in
// map ASTs against a variable environment, isolated from the host: no
// filesystem, no network, a bounded evaluation timeout, and a short
// allowlisted standard library (time conversions, debug logging).
//
// Expressions are compiled and run with github.com/google/cel-go, which
// already gives us exactly the properties spec.md §4.2 asks for: no access
// to Go values beyond what's explicitly bound into the activation, and a
// context-cancellable Eval.
package sandbox

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

var nativeAnyType = reflect.TypeOf((*any)(nil)).Elem()

// DefaultTimeout is applied when no policy-driven timeout is configured.
const DefaultTimeout = 100 * time.Millisecond

// Sandbox evaluates expressions against a variable environment.
type Sandbox struct {
	env     *cel.Env
	timeout time.Duration
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithTimeout overrides the evaluation timeout (SUPERFACE_SANDBOX_TIMEOUT).
func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New builds a Sandbox with the "input" and "vars" activation variables
// declared (the map interpreter binds the current frame's variables under
// "vars", including an HTTP response's body/headers/statusCode, and the
// perform's input under "input") plus the std.unstable.* library functions.
func New(opts ...Option) (*Sandbox, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("vars", cel.MapType(cel.StringType, cel.DynType)),
		isoDateToUnixTimestampDecl(),
		unixTimestampToIsoDateDecl(),
		debugLogDecl(),
	)
	if err != nil {
		return nil, fmt.Errorf("sandbox: building CEL environment: %w", err)
	}
	s := &Sandbox{env: env, timeout: DefaultTimeout}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Activation is the variable bindings an expression is evaluated against.
type Activation map[string]any

// Eval compiles and evaluates expr against activation, enforcing the
// sandbox's timeout via ctx. It returns a *sdkerrors.JessieError (carrying
// the expression source, per spec.md §4.2) on any compile or runtime
// failure, never a bare error.
func (s *Sandbox) Eval(ctx context.Context, expr string, activation Activation) (any, error) {
	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, sdkerrors.NewJessieError(expr, issues.Err())
	}

	prg, err := s.env.Program(ast)
	if err != nil {
		return nil, sdkerrors.NewJessieError(expr, err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resultCh := make(chan evalResult, 1)
	go func() {
		val, _, err := prg.Eval(toCELActivation(activation))
		resultCh <- evalResult{val: val, err: err}
	}()

	select {
	case <-evalCtx.Done():
		return nil, sdkerrors.NewJessieError(expr, evalCtx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, sdkerrors.NewJessieError(expr, res.err)
		}
		return celToNative(res.val), nil
	}
}

type evalResult struct {
	val ref.Val
	err error
}

func toCELActivation(a Activation) map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v
	}
	if _, ok := out["vars"]; !ok {
		out["vars"] = map[string]any{}
	}
	if _, ok := out["input"]; !ok {
		out["input"] = nil
	}
	return out
}

// celToNative unwraps a CEL ref.Val back into a plain Go value usable by
// internal/variables.
func celToNative(v ref.Val) any {
	if v == nil {
		return nil
	}
	if native, err := v.ConvertToNative(nativeAnyType); err == nil {
		return native
	}
	return v.Value()
}
