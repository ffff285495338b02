// Package sdkerrors implements the error taxonomy of §7: every error the
// SDK produces for domain failures (as opposed to programmer misuse) is a
// concrete type embedding SDKError, rooted at a single interface a caller
// can type-switch or errors.As against.
package sdkerrors

import (
	"errors"
	"fmt"
	"strings"
)

// SDKError is the base of every error the SDK returns for an expected
// domain failure: a short one-line message, optional multi-line details
// for diagnostics, and a list of hints a caller or log line can surface.
type SDKError struct {
	ShortMessage string
	Details      []string
	Hints        []string
	cause        error
}

func (e *SDKError) Error() string {
	var b strings.Builder
	b.WriteString(e.ShortMessage)
	for _, d := range e.Details {
		b.WriteString("\n  ")
		b.WriteString(d)
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %s", e.cause)
	}
	return b.String()
}

func (e *SDKError) Unwrap() error { return e.cause }

// AddDetail appends a diagnostic detail line and returns the receiver, for
// chaining while an error crosses abstraction boundaries.
func (e *SDKError) AddDetail(format string, args ...any) *SDKError {
	e.Details = append(e.Details, fmt.Sprintf(format, args...))
	return e
}

// AddPrefixMessage prepends prefix to the short message, joined with ": ".
func (e *SDKError) AddPrefixMessage(prefix string) *SDKError {
	e.ShortMessage = prefix + ": " + e.ShortMessage
	return e
}

func newBase(cause error, format string, args ...any) SDKError {
	return SDKError{ShortMessage: fmt.Sprintf(format, args...), cause: cause}
}

// SDKBindError is a bind failure from the registry or local resolution.
type SDKBindError struct {
	SDKError
	ProfileID string
	Provider  string
}

func NewSDKBindError(profileID, provider string, cause error, format string, args ...any) *SDKBindError {
	return &SDKBindError{SDKError: newBase(cause, format, args...), ProfileID: profileID, Provider: provider}
}

// UnknownBindError wraps a non-JSON, non-conformant response from the
// registry's bind endpoint.
type UnknownBindError struct {
	SDKError
	StatusCode int
}

func NewUnknownBindError(statusCode int, cause error) *UnknownBindError {
	return &UnknownBindError{
		SDKError:   newBase(cause, "unexpected registry bind response (status %d)", statusCode),
		StatusCode: statusCode,
	}
}

// MapASTError signals a structurally invalid or unsupported map AST node.
type MapASTError struct {
	SDKError
	NodeKind string
}

func NewMapASTError(nodeKind, format string, args ...any) *MapASTError {
	return &MapASTError{SDKError: newBase(nil, format, args...), NodeKind: nodeKind}
}

// JessieError carries the offending expression source for diagnostics when
// sandboxed expression evaluation fails.
type JessieError struct {
	SDKError
	Expression string
}

func NewJessieError(expr string, cause error) *JessieError {
	e := newBase(cause, "failed to evaluate expression")
	e.Details = append(e.Details, "expression: "+expr)
	return &JessieError{SDKError: e, Expression: expr}
}

// HTTPError is an unhandled HTTP response (status >= 400 with no matching
// response handler in the map).
type HTTPError struct {
	SDKError
	StatusCode int
	Body       any
}

func NewHTTPError(statusCode int, body any) *HTTPError {
	return &HTTPError{
		SDKError:   newBase(nil, "HTTP request failed with status code %d", statusCode),
		StatusCode: statusCode,
		Body:       body,
	}
}

// MappedHTTPError is raised by a map's response handler via `map error`
// against an HTTP outcome.
type MappedHTTPError struct {
	SDKError
	StatusCode int
	Properties any
}

func NewMappedHTTPError(statusCode int, properties any) *MappedHTTPError {
	return &MappedHTTPError{
		SDKError:   newBase(nil, "mapped HTTP error (status %d)", statusCode),
		StatusCode: statusCode,
		Properties: properties,
	}
}

// MappedError is raised by a map's `map error` outcome outside of an HTTP
// response handler (e.g. from validation logic inside the map).
type MappedError struct {
	SDKError
	Properties any
}

func NewMappedError(properties any) *MappedError {
	return &MappedError{SDKError: newBase(nil, "map produced an error result"), Properties: properties}
}

// InputValidationError/ResultValidationError carry the field path at which
// structural validation against the profile schema failed.
type InputValidationError struct {
	SDKError
	FieldPath string
}

func NewInputValidationError(fieldPath, format string, args ...any) *InputValidationError {
	e := newBase(nil, format, args...)
	return &InputValidationError{SDKError: e, FieldPath: fieldPath}
}

type ResultValidationError struct {
	SDKError
	FieldPath string
}

func NewResultValidationError(fieldPath, format string, args ...any) *ResultValidationError {
	e := newBase(nil, format, args...)
	return &ResultValidationError{SDKError: e, FieldPath: fieldPath}
}

// NetworkFetchKind classifies a NetworkFetchError.
type NetworkFetchKind string

const (
	NetworkFetchTimeout     NetworkFetchKind = "timeout"
	NetworkFetchDNS         NetworkFetchKind = "dns"
	NetworkFetchReject      NetworkFetchKind = "reject"
	NetworkFetchUnsignedSSL NetworkFetchKind = "unsignedSsl"
)

// NetworkFetchError is a failure that occurred before any HTTP response was
// received (DNS, connection refused, TLS, or a hard request timeout).
type NetworkFetchError struct {
	SDKError
	Kind NetworkFetchKind
}

func NewNetworkFetchError(kind NetworkFetchKind, cause error) *NetworkFetchError {
	return &NetworkFetchError{SDKError: newBase(cause, "network failure (%s)", kind), Kind: kind}
}

// RequestFetchKind classifies a RequestFetchError.
type RequestFetchKind string

const (
	RequestFetchAbort   RequestFetchKind = "abort"
	RequestFetchTimeout RequestFetchKind = "timeout"
)

// RequestFetchError is any other I/O failure surfaced while issuing or
// reading the HTTP request/response.
type RequestFetchError struct {
	SDKError
	Kind RequestFetchKind
}

func NewRequestFetchError(kind RequestFetchKind, cause error) *RequestFetchError {
	return &RequestFetchError{SDKError: newBase(cause, "request failure (%s)", kind), Kind: kind}
}

// UnexpectedError marks a programmer error: a state the SDK's own
// invariants promise never to reach in normal operation. Unlike the
// errors above, callers should treat this as a bug report, not a
// retryable domain outcome.
type UnexpectedError struct {
	SDKError
}

func NewUnexpectedError(format string, args ...any) *UnexpectedError {
	return &UnexpectedError{SDKError: newBase(nil, format, args...)}
}

// ApiKeyInBodyError is raised when an apiKey{in: body} scheme is applied to
// a request whose body is not a map (so there is nothing to JSON-Pointer
// into).
type ApiKeyInBodyError struct {
	SDKError
}

func NewApiKeyInBodyError(pointer string) *ApiKeyInBodyError {
	return &ApiKeyInBodyError{SDKError: newBase(nil, "cannot apply apiKey in body: request body is not an object (pointer %s)", pointer)}
}

// ProviderNameMismatch is a bind-time failure when the provider name
// disagrees across the super-document, provider JSON, and map header.
type ProviderNameMismatch struct {
	SDKError
}

func NewProviderNameMismatch(expected, actual string) *ProviderNameMismatch {
	return &ProviderNameMismatch{SDKError: newBase(nil, "Provider name in map does not match provider name in configuration (%s != %s)", actual, expected)}
}

// ServiceNotFound is a fatal bind-time failure when the requested/default
// service id has no matching entry in the provider JSON.
type ServiceNotFound struct {
	SDKError
}

func NewServiceNotFound(serviceID string) *ServiceNotFound {
	return &ServiceNotFound{SDKError: newBase(nil, "service %q not found in provider definition", serviceID)}
}

// PolicyAbortError is the final rejection surfaced when a failure policy
// (or the router's failover/restore) aborts an operation outright. Its
// short message is the policy resolution's reason, which already carries
// any prefix (e.g. router's "No backup provider available: <reason>").
type PolicyAbortError struct {
	SDKError
}

func NewPolicyAbortError(reason string) *PolicyAbortError {
	return &PolicyAbortError{SDKError: newBase(nil, "%s", reason)}
}

// RetrySentinel is returned by internal/httpclient when the policy adapter's
// post-fetch hook decided the fetch should be retried by its caller (the map
// interpreter's HTTP call loop), rather than treated as a terminal failure.
// It carries no diagnostic payload: it is a control signal, not a reportable
// error.
type RetrySentinel struct{}

func (RetrySentinel) Error() string { return "fetch retry requested by policy" }

// ErrRetryFetch is the sentinel value internal/policyadapter hands back
// through the event bus's abort path and internal/interpreter recognizes to
// loop its HTTP call.
var ErrRetryFetch error = RetrySentinel{}

// As is a small convenience wrapper around errors.As for call sites that
// only need a bool, matching the style used across the policy adapter.
func As[T error](err error, target *T) bool {
	return errors.As(err, target)
}
