// Package httpclient implements the HTTP transport of spec.md §4.3: base
// URL resolution against named services, content-type-driven body
// encoding/decoding, and classification of transport failures into the
// network/request failure kinds internal/policy and internal/policyadapter
// key retry decisions on.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/onesdk/onesdk-go/internal/events"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// tracer is the OTel tracer wrapping every outgoing request in a span.
// It composes with, rather than replaces, the pre-fetch/post-fetch event
// hooks below: both wrap the same request boundary. Unset (no global
// TracerProvider registered via internal/telemetry), this resolves to a
// no-op tracer.
var tracer = otel.Tracer("onesdk/httpclient")

// Service describes one named base URL a map's HttpCallStatement can
// target via serviceId.
type Service struct {
	BaseURL string
}

// ServiceResolver resolves a serviceId (falling back to defaultServiceId)
// to a Service. This is the single injectable hook recorded in DESIGN.md's
// Open Question decision for service-selection URL resolution.
type ServiceResolver func(serviceID string) (Service, bool)

// Request is the input to Client.Request, matching spec.md §4.3's
// request(url, {...}) operation signature.
type Request struct {
	URL              string
	Method           string
	Headers          map[string]string
	Query            map[string]any // values of `nil` are omitted
	Body             any
	ContentType      string
	Timeout          time.Duration
	ServiceID        string
	DefaultServiceID string
	Services         ServiceResolver
}

// Response is the output of Client.Request.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       any
}

// binaryContentType matches byte-oriented response content types that
// should be decoded as raw bytes rather than JSON or text.
var binaryContentType = regexp.MustCompile(`(?i)^(application/octet-stream|image/|audio/|video/|application/pdf|application/zip)`)

// Client issues the HTTP calls the map interpreter's HttpCallStatement
// delegates to, wrapped in pre-fetch/post-fetch events.
type Client struct {
	http *http.Client
	bus  *events.Bus
}

// New creates a Client. bus may be nil, in which case no events fire.
func New(bus *events.Bus) *Client {
	return &Client{http: &http.Client{}, bus: bus}
}

// Request performs one HTTP call per spec.md §4.3, wrapped in
// pre-fetch/post-fetch events when a bus is configured.
func (c *Client) Request(ctx context.Context, hookCtx events.Context, req Request) (Response, error) {
	if c.bus == nil {
		return c.doRequest(ctx, req)
	}
	result, err := c.bus.Run(ctx, hookCtx, "fetch", req, func(ctx context.Context, args any) (any, error) {
		return c.doRequest(ctx, args.(Request))
	})
	if err != nil {
		return Response{}, err
	}
	if resp, ok := result.(Response); ok {
		return resp, nil
	}
	if resultErr, ok := result.(error); ok {
		return Response{}, resultErr
	}
	return Response{}, sdkerrors.NewUnexpectedError("fetch aborted with non-response, non-error value %T", result)
}

func (c *Client) doRequest(ctx context.Context, req Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "httpclient.request",
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL),
		),
	)
	defer span.End()

	resp, err := c.doRequestTraced(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

func (c *Client) doRequestTraced(ctx context.Context, req Request) (Response, error) {
	fullURL, err := resolveURL(req)
	if err != nil {
		return Response{}, err
	}

	body, contentType, err := encodeBody(req.Body, req.ContentType)
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return Response{}, sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("X-Trace-Id", uuid.NewString())

	client := c.http
	if req.Timeout > 0 {
		cl := *c.http
		cl.Timeout = req.Timeout
		client = &cl
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Response{}, ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, err)
	}

	decoded, err := decodeBody(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return Response{}, err
	}

	return Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: decoded}, nil
}

func resolveURL(req Request) (string, error) {
	if strings.HasPrefix(req.URL, "http://") || strings.HasPrefix(req.URL, "https://") {
		return "", sdkerrors.NewUnexpectedError("map HTTP call used an absolute URL %q; maps must use service-relative paths", req.URL)
	}
	if !strings.HasPrefix(req.URL, "/") {
		return "", sdkerrors.NewUnexpectedError("map HTTP call path %q must be absolute relative to its service", req.URL)
	}

	serviceID := req.ServiceID
	if serviceID == "" {
		serviceID = req.DefaultServiceID
	}
	if req.Services == nil {
		return "", sdkerrors.NewServiceNotFound(serviceID)
	}
	svc, ok := req.Services(serviceID)
	if !ok {
		return "", sdkerrors.NewServiceNotFound(serviceID)
	}

	path := stripPlaceholderWhitespace(req.URL)
	full := strings.TrimRight(svc.BaseURL, "/") + path

	if len(req.Query) == 0 {
		return full, nil
	}
	q := url.Values{}
	for k, v := range req.Query {
		if v == nil {
			continue
		}
		q.Set(k, fmt.Sprintf("%v", v))
	}
	if len(q) == 0 {
		return full, nil
	}
	sep := "?"
	if strings.Contains(full, "?") {
		sep = "&"
	}
	return full + sep + q.Encode(), nil
}

var placeholderWhitespace = regexp.MustCompile(`\{\s*([^}]+?)\s*\}`)

func stripPlaceholderWhitespace(path string) string {
	return placeholderWhitespace.ReplaceAllString(path, "{$1}")
}

func encodeBody(body any, contentType string) (io.Reader, string, error) {
	if body == nil {
		return nil, "", nil
	}

	base, _, _ := mime.ParseMediaType(orDefault(contentType, "application/json"))
	switch {
	case base == "application/json" || contentType == "":
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, "", sdkerrors.NewUnexpectedError("failed to encode JSON request body: %v", err)
		}
		return bytes.NewReader(raw), "application/json", nil

	case base == "application/x-www-form-urlencoded":
		m, ok := body.(map[string]any)
		if !ok {
			return nil, "", sdkerrors.NewUnexpectedError("url-encoded body must be an object")
		}
		values := url.Values{}
		for k, v := range m {
			values.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", nil

	case strings.HasPrefix(base, "multipart/"):
		m, ok := body.(map[string]any)
		if !ok {
			return nil, "", sdkerrors.NewUnexpectedError("multipart body must be an object")
		}
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, v := range m {
			if raw, ok := v.([]byte); ok {
				part, err := w.CreateFormFile(k, k)
				if err != nil {
					return nil, "", sdkerrors.NewUnexpectedError("failed to create multipart field %q: %v", k, err)
				}
				if _, err := part.Write(raw); err != nil {
					return nil, "", sdkerrors.NewUnexpectedError("failed to write multipart field %q: %v", k, err)
				}
				continue
			}
			if err := w.WriteField(k, fmt.Sprintf("%v", v)); err != nil {
				return nil, "", sdkerrors.NewUnexpectedError("failed to write multipart field %q: %v", k, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", sdkerrors.NewUnexpectedError("failed to close multipart writer: %v", err)
		}
		return &buf, w.FormDataContentType(), nil

	case base == "application/octet-stream" || binaryContentType.MatchString(base):
		raw, ok := body.([]byte)
		if !ok {
			return nil, "", sdkerrors.NewUnexpectedError("binary body must be []byte, got %T", body)
		}
		return bytes.NewReader(raw), base, nil

	default:
		s, ok := body.(string)
		if !ok {
			return nil, "", sdkerrors.NewUnexpectedError("text body must be a string, got %T", body)
		}
		return strings.NewReader(s), orDefault(contentType, "text/plain"), nil
	}
}

func decodeBody(raw []byte, contentType string) (any, error) {
	base, _, _ := mime.ParseMediaType(orDefault(contentType, "text/plain"))
	switch {
	case strings.Contains(base, "json"):
		if len(raw) == 0 {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, sdkerrors.NewUnexpectedError("failed to decode JSON response body: %v", err)
		}
		return v, nil
	case binaryContentType.MatchString(base):
		return raw, nil
	default:
		return string(raw), nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ClassifyTransportError maps a net/http transport error to the
// network/request failure kinds of spec.md §4.3. Exported so
// internal/registryclient's registry/insights calls classify transport
// failures the same way map-driven HTTP calls do.
func ClassifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return sdkerrors.NewNetworkFetchError(sdkerrors.NetworkFetchTimeout, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return sdkerrors.NewNetworkFetchError(sdkerrors.NetworkFetchDNS, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			if opErr.Timeout() {
				return sdkerrors.NewNetworkFetchError(sdkerrors.NetworkFetchTimeout, err)
			}
			return sdkerrors.NewNetworkFetchError(sdkerrors.NetworkFetchReject, err)
		}
	}

	if strings.Contains(err.Error(), "context deadline exceeded") {
		return sdkerrors.NewNetworkFetchError(sdkerrors.NetworkFetchTimeout, err)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return sdkerrors.NewNetworkFetchError(sdkerrors.NetworkFetchReject, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "certificate") {
		return sdkerrors.NewNetworkFetchError(sdkerrors.NetworkFetchUnsignedSSL, err)
	}

	return sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, err)
}
