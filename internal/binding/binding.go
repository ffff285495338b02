// Package binding implements the bind operation of spec.md §4.12: given a
// profile, a provider, and (optionally) a map, it resolves all three into
// one BoundProvider — a concrete base URL, resolved security schemes, and
// resolved integration parameters a perform can execute a map against.
//
// Grounded on the teacher's pkg/versioning/version.go (adapted into
// ProfileID, on top of Masterminds/semver/v3 rather than the teacher's own
// comparator) and pkg/registry/postgres_registry.go (the bind-result shape
// a cache entry persists).
package binding

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/onesdk/onesdk-go/internal/auth"
	"github.com/onesdk/onesdk-go/internal/httpclient"
	"github.com/onesdk/onesdk-go/internal/interpreter"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
	"github.com/onesdk/onesdk-go/internal/validator"
)

// SecurityOverlayValue is one super-document-declared security value for a
// profile-provider pairing, keyed by the scheme id it fills in.
type SecurityOverlayValue struct {
	ID     string
	Values map[string]string
}

// ProfileProviderEntry is one provider entry of a profile's priority
// sequence (spec.md §3's "Normalized super-document").
type ProfileProviderEntry struct {
	Name         string
	Security     []SecurityOverlayValue
	Parameters   map[string]string
	MapVariant   string
	MapRevision  string
	LocalMapPath string // file URI; "" means resolve the map from the registry
}

// UsecaseSpec is one profile usecase's input/result shape, validated by
// internal/validator at perform time.
type UsecaseSpec struct {
	Input  validator.Shape
	Result validator.Shape
}

// ProfileDocument is a resolved profile AST: identity, usecases, and the
// ordered provider entries a client fails over across.
type ProfileDocument struct {
	ID             ProfileID
	DefaultService string
	Providers      []ProfileProviderEntry
	Usecases       map[string]UsecaseSpec
	Models         validator.Models
}

// ParameterDef is one provider-declared integration parameter, carrying the
// default value used when neither the caller nor the super-document
// supplies one.
type ParameterDef struct {
	Default string
}

// SecuritySchemeDef is one provider-declared security scheme, matched
// against a SecurityOverlayValue by ID at bind time.
type SecuritySchemeDef struct {
	ID      string
	Kind    auth.Kind
	In      auth.APIKeyLocation // apiKey only
	Name    string              // header/query/cookie parameter name (apiKey only)
	Pointer string              // JSON-Pointer fragment (apiKey-in-body only)
}

// ProviderDocument is a resolved provider JSON document.
type ProviderDocument struct {
	Name            string
	DefaultService  string
	Services        map[string]httpclient.Service
	SecuritySchemes []SecuritySchemeDef
	Parameters      map[string]ParameterDef
}

// MapResult is a resolved map AST plus its callable operations and the
// provider name its header declares (used for the agreement check of
// spec.md §4.12 step 4).
type MapResult struct {
	Map          *interpreter.MapDefinition
	Operations   map[string]*interpreter.OperationDefinition
	ProviderName string
}

// ProfileSource is the caller's choice of how to resolve the profile AST:
// already-parsed, a file URI, or a string id to resolve against the
// registry (spec.md §4.12 step 1).
type ProfileSource struct {
	AST     *ProfileDocument
	FileURI string
	ID      string
}

// ProviderSource mirrors ProfileSource for the provider JSON (step 2). Name
// is used to fetch by name from the registry when neither JSON nor
// FileURI is given; it is also how Bind learns which provider the caller
// asked for when no local document is supplied.
type ProviderSource struct {
	JSON    *ProviderDocument
	FileURI string
	Name    string
}

// MapSource lets a caller hand Bind an already-resolved map (e.g. one
// internal/astcache served from the local cache), skipping the
// local-map-path / registry-bind resolution of step 3 entirely.
type MapSource struct {
	Result *MapResult
}

// Overrides is everything a caller can supply at perform time that takes
// precedence over the super-document's values (spec.md §4.12 steps 5-7).
type Overrides struct {
	Provider    string
	Service     string
	Security    map[string]map[string]string
	Parameters  map[string]string
	MapVariant  string
	MapRevision string
}

// BoundProvider is the result of Bind: everything internal/interpreter
// needs to run a map against one provider, kept as plain data so it can be
// persisted by internal/providercache's Redis/Postgres-backed stores.
// Environment builds the one thing that isn't plain data — the service
// resolver closure — on demand.
type BoundProvider struct {
	ProfileID        ProfileID
	ProviderName     string
	BaseURL          string
	Services         map[string]httpclient.Service
	DefaultServiceID string
	Map              *interpreter.MapDefinition
	Operations       map[string]*interpreter.OperationDefinition
	Security         map[string]auth.Scheme
	Parameters       map[string]string
	CacheKey         string
}

// Environment builds the interpreter.Environment internal/interpreter
// executes a map against, resolving a serviceId override against bp's
// stored service map the same way Bind resolved it at bind time.
func (bp *BoundProvider) Environment() interpreter.Environment {
	services := bp.Services
	defaultServiceID := bp.DefaultServiceID
	return interpreter.Environment{
		Services: func(id string) (httpclient.Service, bool) {
			if id == "" {
				id = defaultServiceID
			}
			s, ok := services[id]
			return s, ok
		},
		DefaultServiceID: defaultServiceID,
		Security:         bp.Security,
	}
}

// FileReader abstracts local super-document/file-URI reads so Bind can be
// tested without touching a real filesystem.
type FileReader interface {
	ReadFile(path string) (data []byte, exists bool, err error)
}

// Registry abstracts the registry calls Bind falls back to when a source
// can't be resolved locally (spec.md §6): fetching a profile or provider
// by name, and registering a bind for a map that has no local path.
type Registry interface {
	FetchProfile(ctx context.Context, id ProfileID) (*ProfileDocument, error)
	FetchProvider(ctx context.Context, name string) (*ProviderDocument, error)
	Bind(ctx context.Context, profileID, provider, mapVariant, mapRevision string) (*ProviderDocument, *MapResult, error)
}

// Binder resolves profile/provider/map sources into a BoundProvider.
// Decode* fields are supplied by internal/astdecode, which owns parsing a
// cached/local AST file into these package's document types; Bind returns
// a descriptive error if a file-based resolution is attempted with the
// corresponding decoder unset.
type Binder struct {
	Files    FileReader
	Registry Registry

	DecodeProfile  func(data []byte) (*ProfileDocument, error)
	DecodeProvider func(data []byte) (*ProviderDocument, error)
	DecodeMap      func(data []byte) (*MapResult, error)
}

// New creates a Binder backed by files and registry. Either may be nil; a
// nil dependency only causes an error at the resolution step that would
// have needed it.
func New(files FileReader, registry Registry) *Binder {
	return &Binder{Files: files, Registry: registry}
}

// Bind implements spec.md §4.12's seven-step bind operation.
func (b *Binder) Bind(ctx context.Context, profileSrc ProfileSource, providerSrc ProviderSource, mapSrc MapSource, overrides Overrides) (*BoundProvider, error) {
	profile, err := b.resolveProfile(ctx, profileSrc)
	if err != nil {
		return nil, err
	}

	providerName := determineProviderName(profile, providerSrc, overrides)
	if providerName == "" {
		return nil, sdkerrors.NewUnexpectedError("no provider specified and profile declares no provider priority")
	}
	if providerSrc.Name == "" {
		providerSrc.Name = providerName
	}
	providerWasLocal := providerSrc.JSON != nil || providerSrc.FileURI != ""

	provider, err := b.resolveProvider(ctx, providerSrc)
	if err != nil {
		return nil, err
	}

	entry := findProviderEntry(profile, providerName)

	mapResult, provider, err := b.resolveMap(ctx, profile, entry, providerName, providerWasLocal, mapSrc, provider, overrides)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, sdkerrors.NewUnexpectedError("no provider definition resolved for %q", providerName)
	}

	if err := validateProviderNameAgreement(providerName, provider, mapResult); err != nil {
		return nil, err
	}

	serviceID := overrides.Service
	if serviceID == "" {
		serviceID = provider.DefaultService
	}
	svc, ok := provider.Services[serviceID]
	if !ok {
		return nil, sdkerrors.NewServiceNotFound(serviceID)
	}

	security, err := b.resolveSecurity(provider, entry, overrides.Security)
	if err != nil {
		return nil, err
	}
	parameters := resolveParameters(provider, entry, overrides.Parameters)

	cacheKey, err := CacheKey(cacheKeyInput{
		Profile:    profile.ID.String(),
		Provider:   providerName,
		Service:    serviceID,
		Parameters: parameters,
	})
	if err != nil {
		return nil, err
	}

	return &BoundProvider{
		ProfileID:        profile.ID,
		ProviderName:     providerName,
		BaseURL:          svc.BaseURL,
		Services:         provider.Services,
		DefaultServiceID: serviceID,
		Map:              mapResult.Map,
		Operations:       mapResult.Operations,
		Security:         security,
		Parameters:       parameters,
		CacheKey:         cacheKey,
	}, nil
}

type cacheKeyInput struct {
	Profile    string
	Provider   string
	Service    string
	Parameters map[string]string
}

func determineProviderName(profile *ProfileDocument, providerSrc ProviderSource, overrides Overrides) string {
	if overrides.Provider != "" {
		return overrides.Provider
	}
	if providerSrc.Name != "" {
		return providerSrc.Name
	}
	if providerSrc.JSON != nil {
		return providerSrc.JSON.Name
	}
	if profile != nil && len(profile.Providers) > 0 {
		return profile.Providers[0].Name
	}
	return ""
}

func findProviderEntry(profile *ProfileDocument, name string) *ProfileProviderEntry {
	if profile == nil {
		return nil
	}
	for i := range profile.Providers {
		if normalizeName(profile.Providers[i].Name) == normalizeName(name) {
			return &profile.Providers[i]
		}
	}
	return nil
}

func profileIDString(profile *ProfileDocument) string {
	if profile == nil {
		return ""
	}
	return profile.ID.String()
}

// resolveProfile implements step 1.
func (b *Binder) resolveProfile(ctx context.Context, src ProfileSource) (*ProfileDocument, error) {
	if src.AST != nil {
		return src.AST, nil
	}
	if src.FileURI != "" {
		return b.readProfileFile(src.FileURI)
	}
	if src.ID == "" {
		return nil, sdkerrors.NewUnexpectedError("no profile source given: need an AST, file URI, or profile id")
	}
	pid, err := ParseProfileID(src.ID)
	if err != nil {
		return nil, err
	}
	if b.Registry == nil {
		return nil, sdkerrors.NewUnexpectedError("no registry client configured to resolve profile %q", src.ID)
	}
	return b.Registry.FetchProfile(ctx, pid)
}

func (b *Binder) readProfileFile(path string) (*ProfileDocument, error) {
	if b.Files == nil || b.DecodeProfile == nil {
		return nil, sdkerrors.NewUnexpectedError("no file reader/profile decoder configured to resolve %q", path)
	}
	data, ok, err := b.Files.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		data, ok, err = b.Files.ReadFile(path + ".ast.json")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, sdkerrors.NewUnexpectedError("profile file %q (or %q) not found", path, path+".ast.json")
		}
	}
	return b.DecodeProfile(data)
}

// resolveProvider implements step 2.
func (b *Binder) resolveProvider(ctx context.Context, src ProviderSource) (*ProviderDocument, error) {
	if src.JSON != nil {
		return src.JSON, nil
	}
	if src.FileURI != "" {
		return b.readProviderFile(src.FileURI)
	}
	if src.Name == "" {
		return nil, sdkerrors.NewUnexpectedError("no provider source given: need JSON, a file URI, or a provider name")
	}
	if b.Registry == nil {
		return nil, sdkerrors.NewUnexpectedError("no registry client configured to fetch provider %q", src.Name)
	}
	return b.Registry.FetchProvider(ctx, src.Name)
}

func (b *Binder) readProviderFile(path string) (*ProviderDocument, error) {
	if b.Files == nil || b.DecodeProvider == nil {
		return nil, sdkerrors.NewUnexpectedError("no file reader/provider decoder configured to resolve %q", path)
	}
	data, ok, err := b.Files.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		data, ok, err = b.Files.ReadFile(path + ".ast.json")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, sdkerrors.NewUnexpectedError("provider file %q (or %q) not found", path, path+".ast.json")
		}
	}
	if err := validateProviderJSON(data); err != nil {
		return nil, err
	}
	return b.DecodeProvider(data)
}

// validateProviderJSON runs structural pre-validation over raw provider
// JSON before DecodeProvider interprets it semantically, the same
// shape-before-meaning ordering internal/superjson.Load applies to the
// super-document.
func validateProviderJSON(data []byte) error {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return sdkerrors.NewUnexpectedError("parsing provider JSON: %s", err)
	}
	return validator.ValidateProviderJSONStructure(generic)
}

// resolveMap implements step 3, including step 4's
// locally-provided-provider-with-remote-map hard error.
func (b *Binder) resolveMap(ctx context.Context, profile *ProfileDocument, entry *ProfileProviderEntry, providerName string, providerWasLocal bool, src MapSource, provider *ProviderDocument, overrides Overrides) (*MapResult, *ProviderDocument, error) {
	if src.Result != nil {
		return src.Result, provider, nil
	}
	if entry != nil && entry.LocalMapPath != "" {
		if b.Files == nil || b.DecodeMap == nil {
			return nil, nil, sdkerrors.NewUnexpectedError("no file reader/map decoder configured to resolve local map %q", entry.LocalMapPath)
		}
		data, ok, err := b.Files.ReadFile(entry.LocalMapPath)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, sdkerrors.NewUnexpectedError("local map file %q not found", entry.LocalMapPath)
		}
		mr, err := b.DecodeMap(data)
		if err != nil {
			return nil, nil, err
		}
		return mr, provider, nil
	}

	if providerWasLocal {
		return nil, nil, sdkerrors.NewSDKBindError(profileIDString(profile), providerName, nil,
			"a locally-provided provider cannot be paired with a remotely-bound map")
	}
	if b.Registry == nil {
		return nil, nil, sdkerrors.NewUnexpectedError("no registry client configured to bind provider %q", providerName)
	}

	mapVariant, mapRevision := overrides.MapVariant, overrides.MapRevision
	if entry != nil {
		if mapVariant == "" {
			mapVariant = entry.MapVariant
		}
		if mapRevision == "" {
			mapRevision = entry.MapRevision
		}
	}
	remoteProvider, mr, err := b.Registry.Bind(ctx, profileIDString(profile), providerName, mapVariant, mapRevision)
	if err != nil {
		return nil, nil, err
	}
	if provider == nil {
		provider = remoteProvider
	}
	return mr, provider, nil
}

// validateProviderNameAgreement implements step 4's name-agreement check.
func validateProviderNameAgreement(providerName string, provider *ProviderDocument, mr *MapResult) error {
	if provider != nil && provider.Name != "" && normalizeName(provider.Name) != normalizeName(providerName) {
		return sdkerrors.NewProviderNameMismatch(providerName, provider.Name)
	}
	if mr != nil && mr.ProviderName != "" && normalizeName(mr.ProviderName) != normalizeName(providerName) {
		return sdkerrors.NewProviderNameMismatch(providerName, mr.ProviderName)
	}
	return nil
}

// resolveSecurity implements step 6: overlay caller values on
// super-document values by id, then merge each into a concrete
// auth.Scheme against the provider's declared scheme of the same id.
func (b *Binder) resolveSecurity(provider *ProviderDocument, entry *ProfileProviderEntry, overrides map[string]map[string]string) (map[string]auth.Scheme, error) {
	overlay := map[string]map[string]string{}
	if entry != nil {
		for _, v := range entry.Security {
			overlay[v.ID] = v.Values
		}
	}
	for id, values := range overrides {
		overlay[id] = values
	}

	schemesByID := make(map[string]SecuritySchemeDef, len(provider.SecuritySchemes))
	for _, s := range provider.SecuritySchemes {
		schemesByID[s.ID] = s
	}

	resolved := make(map[string]auth.Scheme, len(overlay))
	for id, values := range overlay {
		def, ok := schemesByID[id]
		if !ok {
			return nil, sdkerrors.NewUnexpectedError("security value %q does not match any security scheme declared by provider %q", id, provider.Name)
		}
		scheme, err := buildScheme(def, values)
		if err != nil {
			return nil, err
		}
		resolved[id] = scheme
	}
	return resolved, nil
}

func buildScheme(def SecuritySchemeDef, values map[string]string) (auth.Scheme, error) {
	switch def.Kind {
	case auth.KindAPIKey:
		v, ok := values["apikey"]
		if !ok {
			return auth.Scheme{}, missingKeysError(def.ID, "apikey")
		}
		return auth.Scheme{Kind: auth.KindAPIKey, APIKeyName: def.Name, APIKeyValue: v, APIKeyIn: def.In, APIKeyPointer: def.Pointer}, nil
	case auth.KindBasic, auth.KindDigest:
		username, ok1 := values["username"]
		password, ok2 := values["password"]
		if !ok1 || !ok2 {
			return auth.Scheme{}, missingKeysError(def.ID, "username", "password")
		}
		return auth.Scheme{Kind: def.Kind, Username: username, Password: password}, nil
	case auth.KindBearer:
		token, ok := values["token"]
		if !ok {
			return auth.Scheme{}, missingKeysError(def.ID, "token")
		}
		return auth.Scheme{Kind: auth.KindBearer, Token: token}, nil
	default:
		return auth.Scheme{}, sdkerrors.NewUnexpectedError("unknown security scheme kind %q for id %q", def.Kind, def.ID)
	}
}

func missingKeysError(id string, keys ...string) error {
	return sdkerrors.NewUnexpectedError("security value %q is missing required key(s): %s", id, strings.Join(keys, ", "))
}

// resolveParameters implements step 7: overlay caller-supplied parameters
// on super-document values; anything still undefined falls back to the
// provider JSON default.
func resolveParameters(provider *ProviderDocument, entry *ProfileProviderEntry, overrides map[string]string) map[string]string {
	result := map[string]string{}
	if entry != nil {
		for k, v := range entry.Parameters {
			result[k] = v
		}
	}
	for k, v := range overrides {
		result[k] = v
	}
	for name, def := range provider.Parameters {
		if _, ok := result[name]; !ok && def.Default != "" {
			result[name] = def.Default
		}
	}
	return result
}
