package interpreter

import (
	"context"
	"fmt"

	"github.com/onesdk/onesdk-go/internal/auth"
	"github.com/onesdk/onesdk-go/internal/events"
	"github.com/onesdk/onesdk-go/internal/httpclient"
	"github.com/onesdk/onesdk-go/internal/sandbox"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// Frame is one execution stack frame (spec.md §4.11): a map/operation's
// local variables plus its pending result and error.
type Frame struct {
	Variables map[string]any
	Result    any
	Error     any
}

// Environment is everything a perform resolves once at bind time that the
// interpreter needs while walking a map: where to send HTTP calls and which
// resolved security schemes are available to HttpCallStatement by id.
type Environment struct {
	Services         httpclient.ServiceResolver
	DefaultServiceID string
	Security         map[string]auth.Scheme
}

// Interpreter walks a MapDefinition against an Environment.
type Interpreter struct {
	sandbox *sandbox.Sandbox
	http    *httpclient.Client
	bus     *events.Bus
}

// New builds an Interpreter. bus may be nil (no unhandled-http hook fires;
// an unmatched 4xx/5xx always becomes an *sdkerrors.HTTPError).
func New(sb *sandbox.Sandbox, httpClient *httpclient.Client, bus *events.Bus) *Interpreter {
	return &Interpreter{sandbox: sb, http: httpClient, bus: bus}
}

// execState bundles everything exec's recursive calls need but never
// changes mid-walk, so statement handlers don't carry a growing parameter
// list.
type execState struct {
	ctx        context.Context
	hookCtx    events.Context
	env        Environment
	operations map[string]*OperationDefinition
	input      any
}

// Run executes mapDef against input, returning the map's result on success
// or a domain error (typically *sdkerrors.MappedError) on a `map error` /
// `fail` outcome.
func (it *Interpreter) Run(ctx context.Context, hookCtx events.Context, mapDef *MapDefinition, operations map[string]*OperationDefinition, env Environment, input any) (any, error) {
	frame := &Frame{Variables: map[string]any{}}
	st := &execState{ctx: ctx, hookCtx: hookCtx, env: env, operations: operations, input: input}

	if _, err := it.exec(st, frame, mapDef.Statements); err != nil {
		return nil, err
	}
	if frame.Error != nil {
		return nil, sdkerrors.NewMappedError(frame.Error)
	}
	return frame.Result, nil
}

// exec walks statements against frame. It returns terminal=true when a
// `return`/`fail` outcome (or a propagated one) ended execution early;
// callers must stop walking their own remaining statements when terminal
// is true, per spec.md §4.11's "terminal outcome exits both the loop and
// the definition" invariant.
func (it *Interpreter) exec(st *execState, frame *Frame, statements []Statement) (bool, error) {
	for _, raw := range statements {
		switch s := raw.(type) {
		case *SetStatement:
			val, err := it.eval(st, frame, s.Expr)
			if err != nil {
				return true, err
			}
			frame.Variables[s.Key] = val

		case *ConditionedStatement:
			cond, err := it.eval(st, frame, s.Condition)
			if err != nil {
				return true, err
			}
			if truthy(cond) {
				terminal, err := it.exec(st, frame, s.Body)
				if terminal || err != nil {
					return terminal, err
				}
			}

		case *IterationStatement:
			terminal, err := it.execForeach(st, frame, s)
			if terminal || err != nil {
				return terminal, err
			}

		case *HttpCallStatement:
			terminal, err := it.execHTTPCall(st, frame, s)
			if terminal || err != nil {
				return terminal, err
			}

		case *CallStatement:
			terminal, err := it.execCall(st, frame, s.OperationName, nil, s.Arguments, s.ResultVar)
			if terminal || err != nil {
				return terminal, err
			}

		case *InlineCallStatement:
			terminal, err := it.execCall(st, frame, "", s.Body, s.Arguments, s.ResultVar)
			if terminal || err != nil {
				return terminal, err
			}

		case *OutcomeStatement:
			terminal, err := it.execOutcome(st, frame, s)
			if terminal || err != nil {
				return terminal, err
			}

		default:
			return true, sdkerrors.NewMapASTError(fmt.Sprintf("%T", raw), "unsupported statement type")
		}
	}
	return false, nil
}

func (it *Interpreter) execForeach(st *execState, frame *Frame, s *IterationStatement) (bool, error) {
	iterable, err := it.eval(st, frame, s.Iterable)
	if err != nil {
		return true, err
	}

	switch coll := iterable.(type) {
	case nil:
		return false, nil

	case []any:
		for _, item := range coll {
			frame.Variables[s.IteratorVar] = item
			terminal, err := it.exec(st, frame, s.Body)
			if err != nil {
				return true, err
			}
			if terminal {
				return true, nil
			}
		}
		return false, nil

	case map[string]any:
		for k, v := range coll {
			frame.Variables[s.IteratorVar] = map[string]any{"key": k, "value": v}
			terminal, err := it.exec(st, frame, s.Body)
			if err != nil {
				return true, err
			}
			if terminal {
				return true, nil
			}
		}
		return false, nil

	default:
		return true, sdkerrors.NewMapASTError("IterationStatement", "foreach source is not iterable (got %T)", iterable)
	}
}

// execCall runs a CallStatement/InlineCallStatement: arguments are
// evaluated in the caller's frame, the callee runs in a fresh frame whose
// variables never leak back to the caller, and a callee failure
// propagates into the caller's frame.Error (non-terminal: the caller may
// still observe and act on it, e.g. via a ConditionedStatement on `error`)
// rather than unwinding the caller immediately.
func (it *Interpreter) execCall(st *execState, frame *Frame, operationName string, inlineBody []Statement, argExprs map[string]string, resultVar string) (bool, error) {
	args := make(map[string]any, len(argExprs))
	for name, expr := range argExprs {
		val, err := it.eval(st, frame, expr)
		if err != nil {
			return true, err
		}
		args[name] = val
	}

	body := inlineBody
	if body == nil {
		op, ok := st.operations[operationName]
		if !ok {
			return true, sdkerrors.NewMapASTError("CallStatement", "unknown operation %q", operationName)
		}
		body = op.Statements
	}

	callee := &Frame{Variables: args}
	if _, err := it.exec(st, callee, body); err != nil {
		return true, err
	}

	if callee.Error != nil {
		frame.Error = callee.Error
		frame.Variables["error"] = callee.Error
		return false, nil
	}

	if resultVar != "" {
		frame.Variables[resultVar] = callee.Result
	}
	return false, nil
}

func (it *Interpreter) execOutcome(st *execState, frame *Frame, s *OutcomeStatement) (bool, error) {
	switch s.Kind {
	case OutcomeMapResult:
		val, err := it.eval(st, frame, s.Expr)
		if err != nil {
			return true, err
		}
		frame.Result = val
		return false, nil

	case OutcomeMapError:
		val, err := it.eval(st, frame, s.Expr)
		if err != nil {
			return true, err
		}
		frame.Error = val
		frame.Variables["error"] = val
		return false, nil

	case OutcomeReturn:
		return true, nil

	case OutcomeFail:
		if s.Expr != "" {
			val, err := it.eval(st, frame, s.Expr)
			if err != nil {
				return true, err
			}
			frame.Error = val
			frame.Variables["error"] = val
		}
		return true, nil

	default:
		return true, sdkerrors.NewMapASTError("OutcomeStatement", "unknown outcome kind %d", s.Kind)
	}
}

func (it *Interpreter) eval(st *execState, frame *Frame, expr string) (any, error) {
	return it.sandbox.Eval(st.ctx, expr, sandbox.Activation{"vars": frame.Variables, "input": st.input})
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}
