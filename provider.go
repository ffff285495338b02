package onesdk

import (
	"context"
	"sync"
	"time"

	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// Provider is a named provider plus the security/parameter overlays a
// caller wants applied whenever it's bound against (spec.md §6's
// `getProvider`/`getProviderForProfile` result). Resolution against a
// concrete provider JSON document happens lazily, at the point a UseCase
// actually binds against it — Provider itself is a configuration handle,
// not yet a bound provider.
type Provider struct {
	Name       string
	Security   map[string]map[string]string
	Parameters map[string]string
}

// GetProvider returns a Provider handle for name, overlaying
// super-document-declared security/parameters with the given overrides
// (caller overrides win).
func (c *Client) GetProvider(name string, security map[string]map[string]string, parameters map[string]string) *Provider {
	p := &Provider{
		Name:       name,
		Security:   mergeSecurityOverlay(c.super.SecurityOverrides(name), security),
		Parameters: mergeStringOverlay(c.super.ParameterOverrides(name), parameters),
	}
	return p
}

// GetProviderForProfile returns a Provider for profileID's first `priority`
// entry (spec.md §6: "picks the first priority entry; fails if no
// super-document").
func (c *Client) GetProviderForProfile(profileID string) (*Provider, error) {
	priority := c.super.Priority(profileID)
	if len(priority) == 0 {
		return nil, sdkerrors.NewUnexpectedError("no super-document priority declared for profile %q", profileID)
	}
	return c.GetProvider(priority[0], nil, nil), nil
}

func mergeSecurityOverlay(base, overrides map[string]map[string]string) map[string]map[string]string {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	out := map[string]map[string]string{}
	for id, values := range base {
		out[id] = values
	}
	for id, values := range overrides {
		out[id] = values
	}
	return out
}

func mergeStringOverlay(base, overrides map[string]string) map[string]string {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	out := map[string]string{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// providerSource builds the binding.ProviderSource for name: a super
// -document-declared local file when one exists, the registry otherwise —
// mirroring resolveProfileDocument's local-entry-first resolution.
func (c *Client) providerSource(name string) binding.ProviderSource {
	if entry, ok := c.super.Providers[name]; ok && entry.LocalFilePath != "" {
		return binding.ProviderSource{Name: name, FileURI: entry.LocalFilePath}
	}
	return binding.ProviderSource{Name: name}
}

// bindRequest is everything rebindProvider needs to actually perform
// Binder.Bind, keyed by the pre-bind lookup key a UseCase.Perform computes
// before consulting the provider cache (distinct from
// binding.BoundProvider.CacheKey, which is only known once a service has
// been resolved — see lookupKey below).
type bindRequest struct {
	profileSrc  binding.ProfileSource
	providerSrc binding.ProviderSource
	mapSrc      binding.MapSource
	overrides   binding.Overrides
}

// pendingBinds holds the bindRequest for every cache key currently being
// resolved, so the single process-wide RebindFunc given to
// providercache.New can recover what to bind from just a string key.
type pendingBinds struct {
	mu    sync.Mutex
	byKey map[string]bindRequest
}

func newPendingBinds() *pendingBinds {
	return &pendingBinds{byKey: map[string]bindRequest{}}
}

func (p *pendingBinds) set(key string, req bindRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byKey[key] = req
}

func (p *pendingBinds) get(key string) (bindRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.byKey[key]
	return req, ok
}

// lookupKey computes the pre-bind provider-cache key: the inputs known
// before a bind resolves a concrete service, as opposed to
// binding.BoundProvider.CacheKey (post-bind, includes the resolved
// service id).
func lookupKey(profileID, providerName string, overrides binding.Overrides) (string, error) {
	return binding.CacheKey(struct {
		Profile     string
		Provider    string
		Security    map[string]map[string]string
		Parameters  map[string]string
		MapVariant  string
		MapRevision string
	}{
		Profile:     profileID,
		Provider:    providerName,
		Security:    overrides.Security,
		Parameters:  overrides.Parameters,
		MapVariant:  overrides.MapVariant,
		MapRevision: overrides.MapRevision,
	})
}

// rebindProvider is the providercache.RebindFunc every Client installs:
// it recovers the original bind request from pendingBinds and performs a
// fresh Binder.Bind, expiring the result after the configured cache
// timeout.
func (c *Client) rebindProvider(ctx context.Context, key string) (*binding.BoundProvider, time.Time, error) {
	req, ok := c.pending.get(key)
	if !ok {
		return nil, time.Time{}, sdkerrors.NewUnexpectedError("no pending bind request for provider cache key %q", key)
	}
	bp, err := c.binder.Bind(ctx, req.profileSrc, req.providerSrc, req.mapSrc, req.overrides)
	if err != nil {
		return nil, time.Time{}, err
	}
	return bp, time.Now().Add(c.cfg.CacheTimeout), nil
}
