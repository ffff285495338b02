// Package registryclient implements the registry protocol of spec.md §6:
// binding a profile/provider pair, fetching a provider definition by name,
// and posting batched metric events — the remote fallback every local
// resolution in internal/binding and internal/astcache reaches for when a
// document has no local copy.
//
// Grounded on the teacher's pkg/artifacts/s3_store.go/factory.go (the
// env-driven backend-selection shape, adapted here to choose between an
// HTTP registry and an S3-hosted document mirror) and internal/httpclient's
// transport-error classification.
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/httpclient"
	"github.com/onesdk/onesdk-go/internal/metrics"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

const (
	mapMediaType     = "application/vnd.superface.map"
	profileMediaType = "application/vnd.superface.profile"
)

// DocumentSource is the transport backing document fetches (profile grid
// paths, provider-by-name, map fallback). HTTPSource talks to the
// registry directly; S3Source reads the same paths out of a mirrored
// bucket for deployments that front the registry with object storage.
type DocumentSource interface {
	Fetch(ctx context.Context, path string, accept string) (body []byte, statusCode int, err error)
}

// HTTPSource fetches documents by GET against the registry's API URL.
type HTTPSource struct {
	HTTP    *http.Client
	BaseURL string
	Token   string
}

func (s *HTTPSource) Fetch(ctx context.Context, path string, accept string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/"+path, nil)
	if err != nil {
		return nil, 0, sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	authorize(req, s.Token)

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, 0, httpclient.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, err)
	}
	return body, resp.StatusCode, nil
}

// Client is the registry client. It implements binding.Registry (so a
// Binder can resolve remote profiles/providers/maps through it) and
// metrics.Uplink (so a Reporter can flush batches through the same
// client), since both interfaces are this package's native shape.
type Client struct {
	http        *http.Client
	baseURL     string
	token       string
	docs        DocumentSource
	bindLimiter *rate.Limiter

	// DecodeProfile/DecodeProvider/DecodeMap parse a fetched document body
	// into internal/binding's document types. They are the same decoders a
	// Binder's local-file resolution uses: one parser, wired once, shared
	// by both resolution paths.
	DecodeProfile  func(data []byte) (*binding.ProfileDocument, error)
	DecodeProvider func(data []byte) (*binding.ProviderDocument, error)
	DecodeMap      func(data []byte) (*binding.MapResult, error)
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client (30s timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h; c.docs = &HTTPSource{HTTP: h, BaseURL: c.baseURL, Token: c.token} }
}

// WithDocumentSource overrides how profile/provider/map documents are
// fetched, e.g. to an S3Source mirroring the registry's document tree.
func WithDocumentSource(s DocumentSource) Option {
	return func(c *Client) { c.docs = s }
}

// WithBindRateLimiter throttles POST /registry/bind calls, built with
// internal/policyadapter.NewBindRateLimiter so a burst of concurrent
// first binds can't hammer the registry.
func WithBindRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.bindLimiter = l }
}

// New creates a Client talking to baseURL (e.g. SUPERFACE_API_URL), with
// token sent as the SUPERFACE-SDK-TOKEN header when non-empty.
func New(baseURL, token string, opts ...Option) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	c := &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
	c.docs = &HTTPSource{HTTP: httpClient, BaseURL: c.baseURL, Token: token}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "SUPERFACE-SDK-TOKEN "+token)
	}
}

// FetchProfile implements binding.Registry. spec.md §4.12 step 1 names the
// registry-resolved profile path as `grid/<id>@<version>.supr[.ast.json]`;
// FetchProfile requests that same path from the configured DocumentSource
// with the parsed-AST extension, the same GET-by-path shape §6 documents
// for the map fallback (`GET /<mapId>`).
func (c *Client) FetchProfile(ctx context.Context, id binding.ProfileID) (*binding.ProfileDocument, error) {
	if c.DecodeProfile == nil {
		return nil, sdkerrors.NewUnexpectedError("registry client has no profile decoder configured")
	}

	body, status, err := c.docs.Fetch(ctx, id.GridPath(true), profileMediaType)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, sdkerrors.NewSDKBindError(id.String(), "", nil,
			"fetching profile %q failed with status %d", id.String(), status)
	}

	doc, err := c.DecodeProfile(body)
	if err != nil {
		return nil, sdkerrors.NewSDKBindError(id.String(), "", err, "decoding profile %q", id.String())
	}
	return doc, nil
}

type providerEnvelope struct {
	Definition json.RawMessage `json:"definition"`
}

// FetchProvider implements binding.Registry: `GET /providers/{name}`.
func (c *Client) FetchProvider(ctx context.Context, name string) (*binding.ProviderDocument, error) {
	if c.DecodeProvider == nil {
		return nil, sdkerrors.NewUnexpectedError("registry client has no provider decoder configured")
	}

	body, status, err := c.docs.Fetch(ctx, "providers/"+url.PathEscape(name), "application/json")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, sdkerrors.NewSDKBindError("", name, nil,
			"fetching provider %q failed with status %d", name, status)
	}

	var env providerEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, sdkerrors.NewSDKBindError("", name, err, "decoding provider %q response envelope", name)
	}
	doc, err := c.DecodeProvider(env.Definition)
	if err != nil {
		return nil, sdkerrors.NewSDKBindError("", name, err, "decoding provider %q definition", name)
	}
	return doc, nil
}

type bindRequestBody struct {
	ProfileID   string `json:"profile_id"`
	Provider    string `json:"provider,omitempty"`
	MapVariant  string `json:"map_variant,omitempty"`
	MapRevision string `json:"map_revision,omitempty"`
}

type bindResponseBody struct {
	Provider json.RawMessage `json:"provider"`
	MapAST   string          `json:"map_ast"`
}

type bindErrorBody struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Bind implements binding.Registry: `POST /registry/bind`.
func (c *Client) Bind(ctx context.Context, profileID, provider, mapVariant, mapRevision string) (*binding.ProviderDocument, *binding.MapResult, error) {
	if c.DecodeProvider == nil || c.DecodeMap == nil {
		return nil, nil, sdkerrors.NewUnexpectedError("registry client has no provider/map decoder configured")
	}
	if c.bindLimiter != nil {
		if err := c.bindLimiter.Wait(ctx); err != nil {
			return nil, nil, sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, err)
		}
	}

	reqPayload, err := json.Marshal(bindRequestBody{
		ProfileID:   profileID,
		Provider:    provider,
		MapVariant:  mapVariant,
		MapRevision: mapRevision,
	})
	if err != nil {
		return nil, nil, sdkerrors.NewUnexpectedError("marshaling bind request: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/registry/bind", bytes.NewReader(reqPayload))
	if err != nil {
		return nil, nil, sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, err)
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, httpclient.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb bindErrorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Title != "" {
			return nil, nil, sdkerrors.NewSDKBindError(profileID, provider, nil, "%s: %s", eb.Title, eb.Detail)
		}
		return nil, nil, sdkerrors.NewUnknownBindError(resp.StatusCode, nil)
	}

	var br bindResponseBody
	if err := json.Unmarshal(respBody, &br); err != nil {
		return nil, nil, sdkerrors.NewUnknownBindError(resp.StatusCode, err)
	}

	providerDoc, err := c.DecodeProvider(br.Provider)
	if err != nil {
		return nil, nil, sdkerrors.NewSDKBindError(profileID, provider, err, "decoding bound provider definition")
	}

	mapDoc, err := c.DecodeMap([]byte(br.MapAST))
	if err != nil {
		mapDoc, err = c.fetchMapFallback(ctx, profileID, provider, mapVariant, mapRevision)
		if err != nil {
			return nil, nil, sdkerrors.NewSDKBindError(profileID, provider, err,
				"map AST returned by bind was unusable and the fallback fetch also failed")
		}
	}
	return providerDoc, mapDoc, nil
}

// fetchMapFallback retrieves raw map source via `GET /<mapId>` when bind's
// inline map_ast doesn't decode, per spec.md §6. The registry identifies a
// map by profile, provider, and optional variant/revision; mapID renders
// that same tuple as a path, mirroring ProfileID.GridPath's scheme.
func (c *Client) fetchMapFallback(ctx context.Context, profileID, provider, mapVariant, mapRevision string) (*binding.MapResult, error) {
	mapID := profileID + "." + provider
	if mapVariant != "" {
		mapID += "." + mapVariant
	}
	if mapRevision != "" {
		mapID += "@" + mapRevision
	}

	body, status, err := c.docs.Fetch(ctx, mapID, mapMediaType)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fallback map fetch for %q returned status %d", mapID, status)
	}
	return c.DecodeMap(body)
}

type eventPayload struct {
	Kind      string    `json:"kind"`
	ProfileID string    `json:"profile_id"`
	Usecase   string    `json:"usecase"`
	Provider  string    `json:"provider"`
	Time      time.Time `json:"time"`
	Reason    string    `json:"reason,omitempty"`
}

type insightsRequestBody struct {
	DocumentHash string         `json:"document_hash"`
	Events       []eventPayload `json:"events"`
}

// PostEvents implements metrics.Uplink: `POST /insights/sdk_event`.
func (c *Client) PostEvents(ctx context.Context, documentHash string, batch []metrics.Event) error {
	payload := make([]eventPayload, len(batch))
	for i, e := range batch {
		payload[i] = eventPayload{
			Kind:      string(e.Kind),
			ProfileID: e.ProfileID,
			Usecase:   e.Usecase,
			Provider:  e.Provider,
			Time:      e.Time,
			Reason:    e.Reason,
		}
	}

	reqPayload, err := json.Marshal(insightsRequestBody{DocumentHash: documentHash, Events: payload})
	if err != nil {
		return sdkerrors.NewUnexpectedError("marshaling insights event batch: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/insights/sdk_event", bytes.NewReader(reqPayload))
	if err != nil {
		return sdkerrors.NewRequestFetchError(sdkerrors.RequestFetchAbort, err)
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return httpclient.ClassifyTransportError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return sdkerrors.NewHTTPError(resp.StatusCode, nil)
	}
	return nil
}
