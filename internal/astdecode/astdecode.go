// Package astdecode turns the JSON AST documents served by the registry (or
// cached on disk by internal/astcache) into the document types
// internal/binding and internal/interpreter operate on. Neither package
// owns this parsing itself: spec.md describes the documents' *meaning*
// (profile AST, provider JSON, map AST) but not a specific
// wire encoding, so this package fixes one JSON shape for all three and is
// the single place that shape is defined.
//
// Grounded on internal/binding's ProfileDocument/ProviderDocument/MapResult
// and internal/validator's Shape/Models and internal/interpreter's
// Statement tree: each wire struct mirrors the Go type it decodes into
// field-for-field, so the conversion functions below are largely
// mechanical re-typing rather than a bespoke grammar.
package astdecode

import (
	"encoding/json"
	"time"

	"github.com/onesdk/onesdk-go/internal/auth"
	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/httpclient"
	"github.com/onesdk/onesdk-go/internal/interpreter"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
	"github.com/onesdk/onesdk-go/internal/validator"
)

// --- profile ---

type profileWire struct {
	ID             string                 `json:"id"`
	DefaultService string                 `json:"defaultService"`
	Providers      []providerEntryWire    `json:"providers"`
	Usecases       map[string]usecaseWire `json:"usecases"`
	Models         map[string]shapeWire   `json:"models"`
}

type providerEntryWire struct {
	Name         string                     `json:"name"`
	Security     []securityOverlayValueWire `json:"security"`
	Parameters   map[string]string          `json:"parameters"`
	MapVariant   string                     `json:"mapVariant"`
	MapRevision  string                     `json:"mapRevision"`
	LocalMapPath string                     `json:"localMapPath"`
}

type securityOverlayValueWire struct {
	ID     string            `json:"id"`
	Values map[string]string `json:"values"`
}

type usecaseWire struct {
	Input  shapeWire `json:"input"`
	Result shapeWire `json:"result"`
}

// DecodeProfile parses a profile AST body into a
// *binding.ProfileDocument. Suitable as a binding.Binder.DecodeProfile or
// registryclient.Client.DecodeProfile value.
func DecodeProfile(data []byte) (*binding.ProfileDocument, error) {
	var w profileWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, sdkerrors.NewUnexpectedError("decoding profile AST: %s", err)
	}

	var id binding.ProfileID
	if w.ID != "" {
		parsed, err := binding.ParseProfileID(w.ID)
		if err != nil {
			return nil, err
		}
		id = parsed
	}

	providers := make([]binding.ProfileProviderEntry, 0, len(w.Providers))
	for _, p := range w.Providers {
		security := make([]binding.SecurityOverlayValue, 0, len(p.Security))
		for _, s := range p.Security {
			security = append(security, binding.SecurityOverlayValue{ID: s.ID, Values: s.Values})
		}
		providers = append(providers, binding.ProfileProviderEntry{
			Name:         p.Name,
			Security:     security,
			Parameters:   p.Parameters,
			MapVariant:   p.MapVariant,
			MapRevision:  p.MapRevision,
			LocalMapPath: p.LocalMapPath,
		})
	}

	models := make(validator.Models, len(w.Models))
	for name, s := range w.Models {
		shape, err := s.toShape()
		if err != nil {
			return nil, err
		}
		models[name] = shape
	}

	usecases := make(map[string]binding.UsecaseSpec, len(w.Usecases))
	for name, u := range w.Usecases {
		input, err := u.Input.toShape()
		if err != nil {
			return nil, err
		}
		result, err := u.Result.toShape()
		if err != nil {
			return nil, err
		}
		usecases[name] = binding.UsecaseSpec{Input: input, Result: result}
	}

	return &binding.ProfileDocument{
		ID:             id,
		DefaultService: w.DefaultService,
		Providers:      providers,
		Usecases:       usecases,
		Models:         models,
	}, nil
}

// --- shape (validator.Shape) ---

type shapeWire struct {
	Kind       string               `json:"kind"`
	Fields     map[string]fieldWire `json:"fields,omitempty"`
	Open       bool                 `json:"open,omitempty"`
	Element    *shapeWire           `json:"element,omitempty"`
	Variants   []shapeWire          `json:"variants,omitempty"`
	EnumValues []any                `json:"enumValues,omitempty"`
	ModelName  string               `json:"modelName,omitempty"`
	Inner      *shapeWire           `json:"inner,omitempty"`
}

type fieldWire struct {
	Shape    shapeWire `json:"shape"`
	Required bool      `json:"required"`
}

func (w shapeWire) toShape() (validator.Shape, error) {
	switch w.Kind {
	case "string":
		return validator.String(), nil
	case "number":
		return validator.Number(), nil
	case "boolean":
		return validator.Boolean(), nil
	case "enum":
		return validator.Enum(w.EnumValues...), nil
	case "modelRef":
		return validator.ModelRef(w.ModelName), nil

	case "object":
		fields := make(map[string]validator.Field, len(w.Fields))
		for name, f := range w.Fields {
			inner, err := f.Shape.toShape()
			if err != nil {
				return validator.Shape{}, err
			}
			fields[name] = validator.Field{Shape: inner, Required: f.Required}
		}
		return validator.Object(fields, w.Open), nil

	case "list":
		if w.Element == nil {
			return validator.Shape{}, sdkerrors.NewUnexpectedError("list shape missing element")
		}
		elem, err := w.Element.toShape()
		if err != nil {
			return validator.Shape{}, err
		}
		return validator.List(elem), nil

	case "union":
		variants := make([]validator.Shape, 0, len(w.Variants))
		for _, v := range w.Variants {
			s, err := v.toShape()
			if err != nil {
				return validator.Shape{}, err
			}
			variants = append(variants, s)
		}
		return validator.Union(variants...), nil

	case "nonNull":
		if w.Inner == nil {
			return validator.Shape{}, sdkerrors.NewUnexpectedError("nonNull shape missing inner")
		}
		inner, err := w.Inner.toShape()
		if err != nil {
			return validator.Shape{}, err
		}
		return validator.NonNull(inner), nil

	default:
		return validator.Shape{}, sdkerrors.NewUnexpectedError("unknown shape kind %q", w.Kind)
	}
}

// --- provider ---

type providerWire struct {
	Name            string                   `json:"name"`
	DefaultService  string                   `json:"defaultService"`
	Services        map[string]serviceWire   `json:"services"`
	SecuritySchemes []securitySchemeWire     `json:"securitySchemes"`
	Parameters      map[string]parameterWire `json:"parameters"`
}

type serviceWire struct {
	BaseURL string `json:"baseUrl"`
}

type securitySchemeWire struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	In      string `json:"in,omitempty"`
	Name    string `json:"name,omitempty"`
	Pointer string `json:"pointer,omitempty"`
}

type parameterWire struct {
	Default string `json:"default"`
}

// DecodeProvider parses a provider JSON document into a
// *binding.ProviderDocument.
func DecodeProvider(data []byte) (*binding.ProviderDocument, error) {
	var w providerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, sdkerrors.NewUnexpectedError("decoding provider document: %s", err)
	}

	services := make(map[string]httpclient.Service, len(w.Services))
	for id, s := range w.Services {
		services[id] = httpclient.Service{BaseURL: s.BaseURL}
	}

	schemes := make([]binding.SecuritySchemeDef, 0, len(w.SecuritySchemes))
	for _, s := range w.SecuritySchemes {
		schemes = append(schemes, binding.SecuritySchemeDef{
			ID:      s.ID,
			Kind:    auth.Kind(s.Kind),
			In:      auth.APIKeyLocation(s.In),
			Name:    s.Name,
			Pointer: s.Pointer,
		})
	}

	params := make(map[string]binding.ParameterDef, len(w.Parameters))
	for name, p := range w.Parameters {
		params[name] = binding.ParameterDef{Default: p.Default}
	}

	return &binding.ProviderDocument{
		Name:            w.Name,
		DefaultService:  w.DefaultService,
		Services:        services,
		SecuritySchemes: schemes,
		Parameters:      params,
	}, nil
}

// --- map ---

type mapWire struct {
	ProviderName string                     `json:"providerName"`
	UsecaseName  string                     `json:"usecaseName"`
	Statements   []statementWire            `json:"statements"`
	Operations   map[string][]statementWire `json:"operations"`
}

// statementWire is a tagged union over every interpreter.Statement variant,
// discriminated by Kind.
type statementWire struct {
	Kind string `json:"kind"`

	// set
	Key  string `json:"key,omitempty"`
	Expr string `json:"expr,omitempty"`

	// conditioned / iteration common
	Condition string          `json:"condition,omitempty"`
	Body      []statementWire `json:"body,omitempty"`

	// iteration
	IteratorVar string `json:"iteratorVar,omitempty"`
	Iterable    string `json:"iterable,omitempty"`

	// httpCall
	Request          httpRequestWire       `json:"request,omitempty"`
	ResponseHandlers []responseHandlerWire `json:"responseHandlers,omitempty"`

	// call / inlineCall
	OperationName string            `json:"operationName,omitempty"`
	Arguments     map[string]string `json:"arguments,omitempty"`
	ResultVar     string            `json:"resultVar,omitempty"`

	// outcome
	Outcome string `json:"outcome,omitempty"` // "mapResult" | "mapError" | "return" | "fail"
}

type httpRequestWire struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	ServiceID   string            `json:"serviceId,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Query       map[string]string `json:"query,omitempty"`
	BodyExpr    string            `json:"bodyExpr,omitempty"`
	Security    []string          `json:"security,omitempty"`
	TimeoutMs   int64             `json:"timeoutMs,omitempty"`
}

type responseHandlerWire struct {
	StatusCode         *int            `json:"statusCode,omitempty"`
	ContentTypePattern string          `json:"contentTypePattern,omitempty"`
	Body               []statementWire `json:"body,omitempty"`
}

// DecodeMap parses a map AST body into a *binding.MapResult, carrying its
// top-level usecase statements plus every named operation.
func DecodeMap(data []byte) (*binding.MapResult, error) {
	var w mapWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, sdkerrors.NewUnexpectedError("decoding map AST: %s", err)
	}

	statements, err := toStatements(w.Statements)
	if err != nil {
		return nil, err
	}

	operations := make(map[string]*interpreter.OperationDefinition, len(w.Operations))
	for name, body := range w.Operations {
		stmts, err := toStatements(body)
		if err != nil {
			return nil, err
		}
		operations[name] = &interpreter.OperationDefinition{Name: name, Statements: stmts}
	}

	return &binding.MapResult{
		Map:          &interpreter.MapDefinition{UsecaseName: w.UsecaseName, Statements: statements},
		Operations:   operations,
		ProviderName: w.ProviderName,
	}, nil
}

func toStatements(wire []statementWire) ([]interpreter.Statement, error) {
	out := make([]interpreter.Statement, 0, len(wire))
	for _, w := range wire {
		s, err := w.toStatement()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (w statementWire) toStatement() (interpreter.Statement, error) {
	switch w.Kind {
	case "set":
		return &interpreter.SetStatement{Key: w.Key, Expr: w.Expr}, nil

	case "conditioned":
		body, err := toStatements(w.Body)
		if err != nil {
			return nil, err
		}
		return &interpreter.ConditionedStatement{Condition: w.Condition, Body: body}, nil

	case "iteration":
		body, err := toStatements(w.Body)
		if err != nil {
			return nil, err
		}
		return &interpreter.IterationStatement{IteratorVar: w.IteratorVar, Iterable: w.Iterable, Body: body}, nil

	case "httpCall":
		handlers := make([]interpreter.ResponseHandler, 0, len(w.ResponseHandlers))
		for _, h := range w.ResponseHandlers {
			body, err := toStatements(h.Body)
			if err != nil {
				return nil, err
			}
			handlers = append(handlers, interpreter.ResponseHandler{
				StatusCode:         h.StatusCode,
				ContentTypePattern: h.ContentTypePattern,
				Body:               body,
			})
		}
		return &interpreter.HttpCallStatement{
			Request: interpreter.HttpRequestSpec{
				Method:      w.Request.Method,
				URL:         w.Request.URL,
				ServiceID:   w.Request.ServiceID,
				ContentType: w.Request.ContentType,
				Headers:     w.Request.Headers,
				Query:       w.Request.Query,
				BodyExpr:    w.Request.BodyExpr,
				Security:    w.Request.Security,
				Timeout:     millis(w.Request.TimeoutMs),
			},
			ResponseHandlers: handlers,
		}, nil

	case "call":
		return &interpreter.CallStatement{OperationName: w.OperationName, Arguments: w.Arguments, ResultVar: w.ResultVar}, nil

	case "inlineCall":
		body, err := toStatements(w.Body)
		if err != nil {
			return nil, err
		}
		return &interpreter.InlineCallStatement{Body: body, Arguments: w.Arguments, ResultVar: w.ResultVar}, nil

	case "outcome":
		kind, err := outcomeKind(w.Outcome)
		if err != nil {
			return nil, err
		}
		return &interpreter.OutcomeStatement{Kind: kind, Expr: w.Expr}, nil

	default:
		return nil, sdkerrors.NewMapASTError(w.Kind, "unknown statement kind %q", w.Kind)
	}
}

func outcomeKind(s string) (interpreter.OutcomeKind, error) {
	switch s {
	case "mapResult":
		return interpreter.OutcomeMapResult, nil
	case "mapError":
		return interpreter.OutcomeMapError, nil
	case "return":
		return interpreter.OutcomeReturn, nil
	case "fail":
		return interpreter.OutcomeFail, nil
	default:
		return 0, sdkerrors.NewMapASTError("outcome", "unknown outcome kind %q", s)
	}
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
