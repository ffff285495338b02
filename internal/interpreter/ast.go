// Package interpreter implements the map interpreter of spec.md §4.11: it
// walks a declarative map AST, evaluates embedded expressions in the
// sandbox, issues HTTP calls through internal/httpclient with
// internal/auth-applied credentials, and assembles a validated result or
// error.
package interpreter

import "time"

// Statement is one node of a map or operation's body.
type Statement interface{ isStatement() }

// SetStatement assigns vars[Key] = eval(Expr).
type SetStatement struct {
	Key  string
	Expr string
}

func (*SetStatement) isStatement() {}

// ConditionedStatement runs Body iff eval(Condition) is truthy.
type ConditionedStatement struct {
	Condition string
	Body      []Statement
}

func (*ConditionedStatement) isStatement() {}

// IterationStatement is a `foreach` loop: vars[IteratorVar] is overwritten
// (never merged) with each successive value of eval(Iterable).
type IterationStatement struct {
	IteratorVar string
	Iterable    string
	Body        []Statement
}

func (*IterationStatement) isStatement() {}

// HttpRequestSpec is the child HttpRequest node an HttpCallStatement builds
// its outgoing request from. Query/Header/Body values are expression
// sources, evaluated against the current frame before the call is issued.
type HttpRequestSpec struct {
	Method      string
	URL         string // may contain `{expr}` placeholders interpolated against vars/input
	ServiceID   string
	ContentType string
	Headers     map[string]string
	Query       map[string]string
	BodyExpr    string
	Security    []string // security scheme ids, applied in order
	Timeout     time.Duration
}

// ResponseHandler matches one HTTP response by status code and/or content
// type; the first match wins.
type ResponseHandler struct {
	StatusCode         *int   // nil matches any status
	ContentTypePattern string // substring match against the response Content-Type; "" matches any
	Body               []Statement
}

// HttpCallStatement issues one HTTP call and dispatches the response to the
// first matching ResponseHandler.
type HttpCallStatement struct {
	Request          HttpRequestSpec
	ResponseHandlers []ResponseHandler
}

func (*HttpCallStatement) isStatement() {}

// CallStatement invokes a named top-level operation in a fresh frame.
type CallStatement struct {
	OperationName string
	Arguments     map[string]string // expression sources, evaluated in the caller's frame
	ResultVar     string            // "" discards the callee's result
}

func (*CallStatement) isStatement() {}

// InlineCallStatement invokes an anonymous operation body in a fresh frame,
// with the same call semantics as CallStatement.
type InlineCallStatement struct {
	Body      []Statement
	Arguments map[string]string
	ResultVar string
}

func (*InlineCallStatement) isStatement() {}

// OutcomeKind discriminates OutcomeStatement's four forms.
type OutcomeKind int

const (
	OutcomeMapResult OutcomeKind = iota
	OutcomeMapError
	OutcomeReturn
	OutcomeFail
)

// OutcomeStatement sets or terminates a frame's outcome. `map result` and
// `map error` set frame.Result/frame.Error without ending execution;
// `return` and `fail` terminate the enclosing iteration and definition.
// Fail's Expr is optional: when empty, the frame's already-set Error (from
// a preceding `map error`) stands.
type OutcomeStatement struct {
	Kind OutcomeKind
	Expr string
}

func (*OutcomeStatement) isStatement() {}

// OperationDefinition is a named, callable sequence of statements.
type OperationDefinition struct {
	Name       string
	Statements []Statement
}

// MapDefinition is the top-level entry point for one usecase's
// provider-specific implementation.
type MapDefinition struct {
	UsecaseName string
	Statements  []Statement
}
