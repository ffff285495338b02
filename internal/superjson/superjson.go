// Package superjson parses the normalized super-document of spec.md §3:
// the onesdk-wide super.json that maps each profileId to its provider
// priority and per-usecase policy defaults, and each providerName to its
// security/parameter overlay. internal/binding resolves a single profile's
// own AST; this package resolves the installation-wide configuration that
// picks which provider priority and which retry/circuit-breaker policy
// apply before a bind ever happens.
//
// Grounded on internal/config's env/overlay resolution shape (a plain
// os.Getenv lookup keyed by a `$`-prefixed string, here applied per-field
// instead of per-file) and internal/registryclient's envelope-then-decode
// JSON reading pattern.
package superjson

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/onesdk/onesdk-go/internal/backoff"
	"github.com/onesdk/onesdk-go/internal/policy"
	"github.com/onesdk/onesdk-go/internal/router"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
	"github.com/onesdk/onesdk-go/internal/validator"
)

// BackoffConfig picks and parameterizes one of internal/backoff's three
// shapes (spec.md §4.6).
type BackoffConfig struct {
	Kind    string        `json:"kind"` // "constant" | "linear" | "exponential"
	Initial time.Duration `json:"-"`
	Step    time.Duration `json:"-"`
	Base    float64       `json:"base"`
	Min     time.Duration `json:"-"`
	Max     time.Duration `json:"-"`

	InitialMs int64 `json:"initialMs"`
	StepMs    int64 `json:"stepMs"`
	MinMs     int64 `json:"minMs"`
	MaxMs     int64 `json:"maxMs"`
}

func (b BackoffConfig) build() backoff.Backoff {
	initial := time.Duration(b.InitialMs) * time.Millisecond
	step := time.Duration(b.StepMs) * time.Millisecond
	min := time.Duration(b.MinMs) * time.Millisecond
	max := time.Duration(b.MaxMs) * time.Millisecond

	switch b.Kind {
	case "linear":
		return backoff.NewLinear(initial, step, min, max)
	case "exponential":
		base := b.Base
		if base == 0 {
			base = 2
		}
		if initial == 0 {
			initial = 500 * time.Millisecond
		}
		return backoff.NewExponential(initial, base, min, max)
	default:
		if initial == 0 {
			initial = 500 * time.Millisecond
		}
		return backoff.NewConstant(initial)
	}
}

// RetryPolicyConfig describes one of the three policy shapes of spec.md
// §4.7, as declared in a usecase's defaults.
type RetryPolicyConfig struct {
	Kind                 string        `json:"kind"` // "abort" | "retry" | "circuitBreaker"
	MaxContiguousRetries int           `json:"maxContiguousRetries"`
	FailureThreshold     int           `json:"failureThreshold"`
	RequestTimeoutMs     int64         `json:"requestTimeoutMs"`
	OpenTimeMs           int64         `json:"openTimeMs"`
	Backoff              BackoffConfig `json:"backoff"`
}

func (c RetryPolicyConfig) requestTimeout() time.Duration {
	if c.RequestTimeoutMs <= 0 {
		return policy.DefaultRequestTimeout
	}
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Build instantiates the FailurePolicy c describes, ready for
// internal/router.Instantiate to hand back per provider name.
func (c RetryPolicyConfig) Build() policy.FailurePolicy {
	switch c.Kind {
	case "retry":
		return policy.NewRetryPolicy(c.MaxContiguousRetries, c.requestTimeout(), c.Backoff.build(), nil)
	case "circuitBreaker":
		threshold := c.FailureThreshold
		if threshold <= 0 {
			threshold = 1
		}
		return policy.NewCircuitBreakerPolicy(threshold, time.Duration(c.OpenTimeMs)*time.Millisecond, c.requestTimeout(), c.Backoff.build(), nil)
	default:
		return policy.NewAbortPolicy()
	}
}

// UsecaseDefaults is one usecase's defaults within a provider entry:
// a default input overlay, the retry/circuit-breaker policy to run that
// provider under, and whether a failed current provider may fail over to
// the next one in priority.
type UsecaseDefaults struct {
	Input            map[string]any    `json:"input"`
	RetryPolicy      RetryPolicyConfig `json:"retryPolicy"`
	ProviderFailover bool              `json:"providerFailover"`
}

// ProfileProviderRef is one profile entry's reference to a provider: either
// a local map file, or a registry-resolved map variant/revision, plus
// per-usecase defaults.
type ProfileProviderRef struct {
	LocalFilePath string                     `json:"localFilePath"`
	MapVariant    string                     `json:"mapVariant"`
	MapRevision   string                     `json:"mapRevision"`
	Defaults      map[string]UsecaseDefaults `json:"defaults"`
}

// ProfileEntry is one profileId's super-document entry.
type ProfileEntry struct {
	Version       string                        `json:"version"`
	LocalFilePath string                        `json:"localFilePath"`
	Priority      []string                      `json:"priority"`
	Providers     map[string]ProfileProviderRef `json:"providers"`
}

// SecurityValue is one provider entry's security overlay value.
type SecurityValue struct {
	ID       string            `json:"id"`
	APIKey   string            `json:"apikey"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Token    string            `json:"token"`
	Extra    map[string]string `json:"-"`
}

// Values renders sv into the generic id→fields map internal/binding's
// resolveSecurity expects.
func (sv SecurityValue) Values() map[string]string {
	m := map[string]string{}
	if sv.APIKey != "" {
		m["apikey"] = sv.APIKey
	}
	if sv.Username != "" {
		m["username"] = sv.Username
	}
	if sv.Password != "" {
		m["password"] = sv.Password
	}
	if sv.Token != "" {
		m["token"] = sv.Token
	}
	for k, v := range sv.Extra {
		m[k] = v
	}
	return m
}

// ProviderEntry is one providerName's super-document entry.
type ProviderEntry struct {
	LocalFilePath string            `json:"localFilePath"`
	Security      []SecurityValue   `json:"security"`
	Parameters    map[string]string `json:"parameters"`
}

// SuperDocument is the parsed, environment-resolved normalized super-document.
type SuperDocument struct {
	Profiles  map[string]ProfileEntry  `json:"profiles"`
	Providers map[string]ProviderEntry `json:"providers"`
}

// Load reads and parses the super.json file at path. A missing file
// returns an empty, valid SuperDocument: a client with no super.json behaves as
// if every profile/provider entry were absent, per spec.md's "values
// prefixed with $ are environment-variable references resolved at
// normalization" being the only normalization step — everything else
// about an absent document is caller-supplied overrides only.
func Load(path string) (*SuperDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SuperDocument{Profiles: map[string]ProfileEntry{}, Providers: map[string]ProviderEntry{}}, nil
		}
		return nil, sdkerrors.NewUnexpectedError("reading super-document %q: %s", path, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, sdkerrors.NewUnexpectedError("parsing super-document %q: %s", path, err)
	}
	if err := validator.ValidateSuperDocumentStructure(generic); err != nil {
		return nil, err
	}

	var doc SuperDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, sdkerrors.NewUnexpectedError("parsing super-document %q: %s", path, err)
	}
	resolveEnvRefs(&doc)
	if doc.Profiles == nil {
		doc.Profiles = map[string]ProfileEntry{}
	}
	if doc.Providers == nil {
		doc.Providers = map[string]ProviderEntry{}
	}
	return &doc, nil
}

// resolveEnvRefs walks every string-valued field the super-document format
// allows a `$ENV_VAR` reference in, substituting the named environment
// variable's value.
func resolveEnvRefs(doc *SuperDocument) {
	for id, p := range doc.Profiles {
		p.Version = envRef(p.Version)
		p.LocalFilePath = envRef(p.LocalFilePath)
		for name, ref := range p.Providers {
			ref.LocalFilePath = envRef(ref.LocalFilePath)
			ref.MapVariant = envRef(ref.MapVariant)
			ref.MapRevision = envRef(ref.MapRevision)
			p.Providers[name] = ref
		}
		doc.Profiles[id] = p
	}
	for name, pr := range doc.Providers {
		pr.LocalFilePath = envRef(pr.LocalFilePath)
		for i, sv := range pr.Security {
			sv.APIKey = envRef(sv.APIKey)
			sv.Username = envRef(sv.Username)
			sv.Password = envRef(sv.Password)
			sv.Token = envRef(sv.Token)
			pr.Security[i] = sv
		}
		for k, v := range pr.Parameters {
			pr.Parameters[k] = envRef(v)
		}
		doc.Providers[name] = pr
	}
}

func envRef(v string) string {
	if strings.HasPrefix(v, "$") {
		return os.Getenv(strings.TrimPrefix(v, "$"))
	}
	return v
}

// Priority returns the provider priority sequence declared for profileID,
// or nil when the super-document carries no entry for it.
func (d *SuperDocument) Priority(profileID string) []string {
	if d == nil {
		return nil
	}
	return d.Profiles[profileID].Priority
}

func (d *SuperDocument) usecaseDefaults(profileID, providerName, usecase string) (UsecaseDefaults, bool) {
	if d == nil {
		return UsecaseDefaults{}, false
	}
	ref, ok := d.Profiles[profileID].Providers[providerName]
	if !ok {
		return UsecaseDefaults{}, false
	}
	ud, ok := ref.Defaults[usecase]
	return ud, ok
}

// ProviderFailover reports whether providerName is allowed to fail over
// for usecase on profileID, per its super-document defaults. Absent
// configuration defaults to false — failover must be declared, not
// assumed.
func (d *SuperDocument) ProviderFailover(profileID, providerName, usecase string) bool {
	ud, ok := d.usecaseDefaults(profileID, providerName, usecase)
	return ok && ud.ProviderFailover
}

// InstantiateFor builds the router.Instantiate factory for one
// (profileID, usecase) pair: each provider name gets the FailurePolicy its
// own super-document defaults describe, or AbortPolicy when undeclared.
func (d *SuperDocument) InstantiateFor(profileID, usecase string) router.Instantiate {
	return func(providerName string) policy.FailurePolicy {
		ud, ok := d.usecaseDefaults(profileID, providerName, usecase)
		if !ok {
			return policy.NewAbortPolicy()
		}
		return ud.RetryPolicy.Build()
	}
}

// SecurityOverrides renders providerName's super-document security
// overlay into the id→fields map internal/binding.Overrides.Security
// expects, for providers that declare one.
func (d *SuperDocument) SecurityOverrides(providerName string) map[string]map[string]string {
	pr, ok := d.Providers[providerName]
	if !ok {
		return nil
	}
	out := map[string]map[string]string{}
	for _, sv := range pr.Security {
		out[sv.ID] = sv.Values()
	}
	return out
}

// ParameterOverrides renders providerName's super-document parameter
// overlay for internal/binding.Overrides.Parameters.
func (d *SuperDocument) ParameterOverrides(providerName string) map[string]string {
	pr, ok := d.Providers[providerName]
	if !ok {
		return nil
	}
	return pr.Parameters
}
