package interpreter

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/onesdk/onesdk-go/internal/auth"
	"github.com/onesdk/onesdk-go/internal/httpclient"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// maxHTTPCallAttempts bounds the digest-challenge retry and the
// handler/unhandled-http "retry" sentinel loop for one HttpCallStatement,
// so a misbehaving map or provider can't spin the interpreter forever.
const maxHTTPCallAttempts = 5

var urlPlaceholder = regexp.MustCompile(`\{([^}]+)\}`)

// execHTTPCall builds and issues one HTTP call, matches the response
// against the statement's handlers, and runs the matching handler's body.
// It loops (up to maxHTTPCallAttempts) on a Digest challenge response or a
// handler/unhandled-http "retry" sentinel.
func (it *Interpreter) execHTTPCall(st *execState, frame *Frame, s *HttpCallStatement) (bool, error) {
	digestAuthorization := ""

	for attempt := 0; attempt < maxHTTPCallAttempts; attempt++ {
		req, err := it.buildRequest(st, frame, s, digestAuthorization)
		if err != nil {
			return true, err
		}

		resp, err := it.http.Request(st.ctx, st.hookCtx, req)
		if err != nil {
			if errors.Is(err, sdkerrors.ErrRetryFetch) {
				continue
			}
			return true, err
		}

		if resp.StatusCode == http.StatusUnauthorized && digestAuthorization == "" {
			if authz, ok := it.tryDigestChallenge(st, s, resp); ok {
				digestAuthorization = authz
				continue
			}
		}

		handler, matched := matchResponseHandler(s.ResponseHandlers, resp)
		if matched {
			frame.Variables["body"] = resp.Body
			frame.Variables["headers"] = headersToMap(resp.Headers)
			frame.Variables["statusCode"] = float64(resp.StatusCode)

			terminal, err := it.exec(st, frame, handler.Body)
			if err != nil {
				return true, err
			}
			if !terminal {
				return false, nil
			}
			if sentinel, ok := frame.Result.(string); ok && sentinel == "retry" {
				frame.Result = nil
				continue
			}
			return true, nil
		}

		if resp.StatusCode >= 400 {
			retry, err := it.handleUnhandledHTTP(st, resp)
			if retry {
				continue
			}
			return true, err
		}

		return false, nil
	}

	return true, sdkerrors.NewUnexpectedError("HTTP call exceeded the maximum of %d attempts without resolving", maxHTTPCallAttempts)
}

// handleUnhandledHTTP raises the pre-unhandled-http hook (spec.md §4.9) for
// a response with no matching handler. It returns retry=true when the
// policy adapter queued a retry (the "retry" sentinel); otherwise it
// returns the error the call should terminate with.
func (it *Interpreter) handleUnhandledHTTP(st *execState, resp httpclient.Response) (retry bool, err error) {
	if it.bus == nil {
		return false, sdkerrors.NewHTTPError(resp.StatusCode, resp.Body)
	}

	_, aborted, abortResult := it.bus.RunPreOnly(st.hookCtx, "unhandled-http", resp)
	if !aborted {
		return false, sdkerrors.NewHTTPError(resp.StatusCode, resp.Body)
	}
	if sentinel, ok := abortResult.(string); ok && sentinel == "retry" {
		return true, nil
	}
	if abortErr, ok := abortResult.(error); ok {
		return false, abortErr
	}
	return false, sdkerrors.NewHTTPError(resp.StatusCode, resp.Body)
}

func matchResponseHandler(handlers []ResponseHandler, resp httpclient.Response) (ResponseHandler, bool) {
	for _, h := range handlers {
		if h.StatusCode != nil && *h.StatusCode != resp.StatusCode {
			continue
		}
		if h.ContentTypePattern != "" {
			ct := ""
			if resp.Headers != nil {
				ct = resp.Headers.Get("Content-Type")
			}
			if !strings.Contains(ct, h.ContentTypePattern) {
				continue
			}
		}
		return h, true
	}
	return ResponseHandler{}, false
}

func headersToMap(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// buildRequest evaluates an HttpCallStatement's URL, query, headers, and
// body against the current frame and applies the resolved security
// schemes, in declaration order, to the result.
func (it *Interpreter) buildRequest(st *execState, frame *Frame, s *HttpCallStatement, digestAuthorization string) (httpclient.Request, error) {
	url, err := it.interpolateURL(st, frame, s.Request.URL)
	if err != nil {
		return httpclient.Request{}, err
	}

	query := make(map[string]any, len(s.Request.Query))
	for k, expr := range s.Request.Query {
		v, err := it.eval(st, frame, expr)
		if err != nil {
			return httpclient.Request{}, err
		}
		query[k] = v
	}

	headers := make(map[string]string, len(s.Request.Headers))
	for k, expr := range s.Request.Headers {
		v, err := it.eval(st, frame, expr)
		if err != nil {
			return httpclient.Request{}, err
		}
		headers[k] = fmt.Sprintf("%v", v)
	}

	var body any
	if s.Request.BodyExpr != "" {
		body, err = it.eval(st, frame, s.Request.BodyExpr)
		if err != nil {
			return httpclient.Request{}, err
		}
	}

	parts := &auth.RequestParts{Method: s.Request.Method, URI: url, Headers: headers, Query: query, Body: body}
	var schemes []auth.Scheme
	for _, id := range s.Request.Security {
		if scheme, ok := st.env.Security[id]; ok {
			schemes = append(schemes, scheme)
		}
	}
	if err := auth.Apply(schemes, parts); err != nil {
		return httpclient.Request{}, err
	}
	if len(parts.Cookies) > 0 {
		parts.Headers["Cookie"] = encodeCookies(parts.Cookies)
	}
	if digestAuthorization != "" {
		parts.Headers["Authorization"] = digestAuthorization
	}

	return httpclient.Request{
		URL:              url,
		Method:           s.Request.Method,
		Headers:          parts.Headers,
		Query:            parts.Query,
		Body:             parts.Body,
		ContentType:      s.Request.ContentType,
		Timeout:          s.Request.Timeout,
		ServiceID:        s.Request.ServiceID,
		DefaultServiceID: st.env.DefaultServiceID,
		Services:         st.env.Services,
	}, nil
}

func encodeCookies(cookies map[string]string) string {
	pairs := make([]string, 0, len(cookies))
	for k, v := range cookies {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, "; ")
}

func (it *Interpreter) interpolateURL(st *execState, frame *Frame, tmpl string) (string, error) {
	var evalErr error
	result := urlPlaceholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		if evalErr != nil {
			return match
		}
		expr := strings.TrimSpace(match[1 : len(match)-1])
		val, err := it.eval(st, frame, expr)
		if err != nil {
			evalErr = err
			return match
		}
		return fmt.Sprintf("%v", val)
	})
	if evalErr != nil {
		return "", evalErr
	}
	return result, nil
}

// tryDigestChallenge looks for a configured Digest security scheme among
// the statement's security ids and, if found, computes the Authorization
// header value from the challenge in resp.
func (it *Interpreter) tryDigestChallenge(st *execState, s *HttpCallStatement, resp httpclient.Response) (string, bool) {
	var scheme auth.Scheme
	found := false
	for _, id := range s.Request.Security {
		if sch, ok := st.env.Security[id]; ok && sch.Kind == auth.KindDigest {
			scheme = sch
			found = true
			break
		}
	}
	if !found || resp.Headers == nil {
		return "", false
	}

	challengeHeader := resp.Headers.Get("WWW-Authenticate")
	if challengeHeader == "" {
		return "", false
	}
	challenge, err := auth.ParseDigestChallenge(challengeHeader)
	if err != nil {
		return "", false
	}
	authz, err := auth.ComputeDigestAuthorization(challenge, scheme.Username, scheme.Password, s.Request.Method, s.Request.URL)
	if err != nil {
		return "", false
	}
	return authz, true
}
