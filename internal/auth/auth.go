// Package auth implements the request authentication schemes of spec.md
// §4.4: API key (header/query/cookie/body), Basic, Bearer, and Digest,
// applied in declaration order against the generic RequestParts a caller
// (internal/interpreter) mutates before handing the request to
// internal/httpclient.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// Kind discriminates the four scheme families.
type Kind string

const (
	KindAPIKey Kind = "apiKey"
	KindBasic  Kind = "basic"
	KindBearer Kind = "bearer"
	KindDigest Kind = "digest"
)

// APIKeyLocation is where an apiKey scheme places its value.
type APIKeyLocation string

const (
	APIKeyInHeader APIKeyLocation = "header"
	APIKeyInQuery  APIKeyLocation = "query"
	APIKeyInCookie APIKeyLocation = "cookie"
	APIKeyInBody   APIKeyLocation = "body"
)

// Scheme is one configured, resolved authentication scheme, ready to apply
// to a request.
type Scheme struct {
	Kind Kind

	// apiKey
	APIKeyName    string
	APIKeyValue   string
	APIKeyIn      APIKeyLocation
	APIKeyPointer string // JSON-Pointer fragment, used only when APIKeyIn == APIKeyInBody

	// basic
	Username string
	Password string

	// bearer
	Token string
}

// RequestParts is the subset of an outgoing request an authentication
// scheme can mutate: headers, query parameters, cookies, and body.
type RequestParts struct {
	Method  string
	URI     string // path + query, used as Digest's `uri` field
	Headers map[string]string
	Query   map[string]any
	Cookies map[string]string
	Body    any
}

// Apply applies every scheme in declaration order to parts. Digest is
// intentionally NOT applied here: spec.md §4.4 sends the first Digest
// request without credentials, so Digest schemes are skipped by Apply and
// handled by internal/interpreter's HTTP call loop (tryDigestChallenge),
// which builds the Authorization header after observing a 401 and repeats
// the request.
func Apply(schemes []Scheme, parts *RequestParts) error {
	for _, s := range schemes {
		if err := applyOne(s, parts); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(s Scheme, parts *RequestParts) error {
	switch s.Kind {
	case KindAPIKey:
		return applyAPIKey(s, parts)
	case KindBasic:
		if parts.Headers == nil {
			parts.Headers = map[string]string{}
		}
		creds := base64.StdEncoding.EncodeToString([]byte(s.Username + ":" + s.Password))
		parts.Headers["Authorization"] = "Basic " + creds
		return nil
	case KindBearer:
		if parts.Headers == nil {
			parts.Headers = map[string]string{}
		}
		parts.Headers["Authorization"] = "Bearer " + s.Token
		return nil
	case KindDigest:
		return nil
	default:
		return sdkerrors.NewUnexpectedError("unknown authentication scheme kind %q", s.Kind)
	}
}

func applyAPIKey(s Scheme, parts *RequestParts) error {
	switch s.APIKeyIn {
	case APIKeyInHeader:
		if parts.Headers == nil {
			parts.Headers = map[string]string{}
		}
		parts.Headers[s.APIKeyName] = s.APIKeyValue
	case APIKeyInQuery:
		if parts.Query == nil {
			parts.Query = map[string]any{}
		}
		parts.Query[s.APIKeyName] = s.APIKeyValue
	case APIKeyInCookie:
		if parts.Cookies == nil {
			parts.Cookies = map[string]string{}
		}
		parts.Cookies[s.APIKeyName] = s.APIKeyValue
	case APIKeyInBody:
		m, ok := parts.Body.(map[string]any)
		if !ok {
			return sdkerrors.NewApiKeyInBodyError(s.APIKeyPointer)
		}
		if err := setJSONPointer(m, s.APIKeyPointer, s.APIKeyValue); err != nil {
			return sdkerrors.NewApiKeyInBodyError(s.APIKeyPointer)
		}
	default:
		return sdkerrors.NewUnexpectedError("unknown apiKey location %q", s.APIKeyIn)
	}
	return nil
}

// setJSONPointer writes value at the location described by an RFC 6901
// JSON Pointer fragment (e.g. "/credentials/apiKey"), creating intermediate
// object levels as needed.
func setJSONPointer(root map[string]any, pointer, value string) error {
	pointer = strings.TrimPrefix(pointer, "#")
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return fmt.Errorf("empty JSON pointer")
	}
	tokens := strings.Split(pointer, "/")
	for i, t := range tokens {
		t = strings.ReplaceAll(t, "~1", "/")
		t = strings.ReplaceAll(t, "~0", "~")
		tokens[i] = t
	}

	cur := root
	for _, t := range tokens[:len(tokens)-1] {
		next, ok := cur[t]
		if !ok {
			child := map[string]any{}
			cur[t] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("JSON pointer segment %q is not an object", t)
		}
		cur = child
	}
	cur[tokens[len(tokens)-1]] = value
	return nil
}

// DigestChallenge is a parsed WWW-Authenticate: Digest ... challenge.
type DigestChallenge struct {
	Realm     string
	Nonce     string
	QOP       string
	Algorithm string
	Opaque    string
}

// ParseDigestChallenge parses a WWW-Authenticate header value of the form
// `Digest realm="...", nonce="...", qop="auth", algorithm=MD5, opaque="..."`.
func ParseDigestChallenge(header string) (DigestChallenge, error) {
	if !strings.HasPrefix(strings.TrimSpace(header), "Digest") {
		return DigestChallenge{}, fmt.Errorf("not a Digest challenge: %q", header)
	}
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Digest"))

	params := map[string]string{}
	for _, part := range splitDigestParams(rest) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		params[key] = val
	}

	c := DigestChallenge{
		Realm:     params["realm"],
		Nonce:     params["nonce"],
		QOP:       params["qop"],
		Algorithm: params["algorithm"],
		Opaque:    params["opaque"],
	}
	if c.Algorithm == "" {
		c.Algorithm = "MD5"
	}
	if c.Realm == "" || c.Nonce == "" {
		return DigestChallenge{}, fmt.Errorf("Digest challenge missing realm or nonce: %q", header)
	}
	return c, nil
}

// splitDigestParams splits a comma-separated challenge parameter list,
// respecting quoted commas inside values.
func splitDigestParams(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ',':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, strings.TrimSpace(cur.String()))
	}
	return parts
}

// ComputeDigestAuthorization computes the Authorization: Digest header
// value per RFC 2617: HA1 = H(user:realm:pass), HA2 = H(method:uri),
// response = H(HA1:nonce:nc:cnonce:qop:HA2).
func ComputeDigestAuthorization(c DigestChallenge, username, password, method, uri string) (string, error) {
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", username, c.Realm, password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))

	nc := "00000001"
	cnonce, err := randomHex(8)
	if err != nil {
		return "", err
	}

	var response string
	if c.QOP != "" {
		response = md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, c.Nonce, nc, cnonce, c.QOP, ha2))
	} else {
		response = md5Hex(fmt.Sprintf("%s:%s:%s", ha1, c.Nonce, ha2))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		username, c.Realm, c.Nonce, uri, response)
	if c.QOP != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, c.QOP, nc, cnonce)
	}
	if c.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, c.Opaque)
	}
	return b.String(), nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// cacheEntry holds a cached Digest challenge plus its expiry.
type cacheEntry struct {
	challenge DigestChallenge
	expiresAt time.Time
}

// Cache is the auth cache of spec.md §4.4: cached Digest challenges keyed
// by host/realm, with a TTL matching the bound-provider TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

func cacheKey(host, realm string) string { return host + "\x00" + realm }

// Put stores a Digest challenge for host/realm with the given TTL.
func (c *Cache) Put(host, realm string, challenge DigestChallenge, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(host, realm)] = cacheEntry{challenge: challenge, expiresAt: time.Now().Add(ttl)}
}

// Get returns the cached challenge for host/realm, if present and unexpired.
func (c *Cache) Get(host, realm string) (DigestChallenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(host, realm)]
	if !ok || time.Now().After(e.expiresAt) {
		return DigestChallenge{}, false
	}
	return e.challenge, true
}

// BearerExpiry reports the expiry time of token if it parses as a JWT
// carrying an "exp" claim: a SUPERFACE_SDK_TOKEN or a Bearer scheme's
// Token may themselves be JWTs issued by the registry, and
// internal/providercache's Cache.Get uses this (via BearerNeedsRefresh) to
// decide whether a cached BoundProvider's credentials need rebinding before
// they expire server-side. The token's signature is not verified here:
// this SDK is a bearer of the token, not its issuer, so there is no key
// to verify against; ParseUnverified only decodes the claims.
func BearerExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// BearerNeedsRefresh reports whether token is a JWT whose expiry falls
// within skew of now, i.e. it should be exchanged for a fresh one before
// its next use.
func BearerNeedsRefresh(token string, skew time.Duration) bool {
	exp, ok := BearerExpiry(token)
	if !ok {
		return false
	}
	return time.Now().Add(skew).After(exp)
}
