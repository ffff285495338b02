package binding

import (
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// nameCaser normalizes provider/scope/service identifiers before they are
// compared or folded into a cache key, so "MyProvider" and "myprovider"
// collide the way the registry's own case-insensitive naming does.
var nameCaser = cases.Lower(language.Und)

func normalizeName(s string) string {
	return nameCaser.String(s)
}

// CacheKey computes the content-addressed key internal/providercache keys
// a bound provider by (spec.md §4.14's `profileConfig.cacheKey +
// providerConfig.cacheKey`): the doc is JSON-marshaled, canonicalized per
// RFC 8785 (JCS) so field order never perturbs the key, then hashed with
// BLAKE2b-256. Grounded on the teacher's own pkg/canonicalize/jcs.go shape
// (marshal, canonicalize, hash) but built on the pack's gowebpki/jcs +
// blake2b instead of the teacher's hand-rolled canonicalizer, since the
// teacher's version has no exported entry point this package could import
// without duplicating it.
func CacheKey(doc any) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", sdkerrors.NewUnexpectedError("marshaling cache key input: %s", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", sdkerrors.NewUnexpectedError("canonicalizing cache key input: %s", err)
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// InsightsIdentifier computes the hashed identifier internal/metrics
// attaches to a POST /insights/sdk_event batch (spec.md §4.15: "a hashed
// identifier of the normalized super-document"). It is the same
// canonicalize-then-hash recipe as CacheKey, kept as a distinct name since
// the two serve different spec.md sections.
func InsightsIdentifier(superDocument any) (string, error) {
	return CacheKey(superDocument)
}
