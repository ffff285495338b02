package onesdk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onesdk/onesdk-go/internal/astcache"
	"github.com/onesdk/onesdk-go/internal/auth"
	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/config"
	"github.com/onesdk/onesdk-go/internal/events"
	"github.com/onesdk/onesdk-go/internal/httpclient"
	"github.com/onesdk/onesdk-go/internal/interpreter"
	"github.com/onesdk/onesdk-go/internal/metrics"
	"github.com/onesdk/onesdk-go/internal/policyadapter"
	"github.com/onesdk/onesdk-go/internal/providercache"
	"github.com/onesdk/onesdk-go/internal/sandbox"
	"github.com/onesdk/onesdk-go/internal/superjson"
	"github.com/onesdk/onesdk-go/internal/validator"
)

// testUplink records every PostEvents call instead of reaching the network.
type testUplink struct {
	batches [][]metrics.Event
}

func (u *testUplink) PostEvents(_ context.Context, _ string, batch []metrics.Event) error {
	u.batches = append(u.batches, batch)
	return nil
}

// fakeRegistry stands in for internal/registryclient in tests that need
// Binder.Bind to succeed without a provider/map declared locally.
type fakeRegistry struct {
	profile  *binding.ProfileDocument
	provider *binding.ProviderDocument
	mapRes   *binding.MapResult
}

func (f *fakeRegistry) FetchProfile(_ context.Context, _ binding.ProfileID) (*binding.ProfileDocument, error) {
	return f.profile, nil
}

func (f *fakeRegistry) FetchProvider(_ context.Context, _ string) (*binding.ProviderDocument, error) {
	return f.provider, nil
}

func (f *fakeRegistry) Bind(_ context.Context, _, _, _, _ string) (*binding.ProviderDocument, *binding.MapResult, error) {
	return f.provider, f.mapRes, nil
}

// newTestClient builds a Client wired entirely from in-process fakes: no
// registry, no sqlite file beyond a throwaway temp dir, no network.
func newTestClient(t *testing.T, super *superjson.SuperDocument) *Client {
	t.Helper()

	if super == nil {
		super = &superjson.SuperDocument{}
	}

	astCache, err := astcache.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = astCache.Close() })

	bus := events.NewBus()
	hooks := events.NewHookContextMap()
	adapter := policyadapter.New(hooks, nil)
	adapter.Register(bus)

	httpClient := httpclient.New(bus)

	sb, err := sandbox.New()
	require.NoError(t, err)

	uplink := &testUplink{}
	reporter := metrics.NewReporter(uplink, metrics.Options{
		DocumentHash: "test-doc",
		Clock:        time.Now,
	})

	c := &Client{
		cfg:           &config.Config{CacheTimeout: time.Hour},
		super:         super,
		astCache:      astCache,
		bus:           bus,
		hooks:         hooks,
		adapter:       adapter,
		interp:        interpreter.New(sb, httpClient, bus),
		httpClient:    httpClient,
		providerStore: providercache.NewMemoryStore(),
		pending:       newPendingBinds(),
		metrics:       reporter,
		binder: &binding.Binder{
			Registry: &fakeRegistry{
				profile:  testProfileDocument(),
				provider: testProviderDocument(),
				mapRes:   testMapResult(),
			},
		},
	}
	c.providerCache = providercache.New(c.providerStore, c.rebindProvider, time.Now)
	return c
}

func testProfileDocument() *binding.ProfileDocument {
	id, _ := binding.ParseProfileID("scope/name@1.0.0")
	return &binding.ProfileDocument{
		ID: id,
		Providers: []binding.ProfileProviderEntry{
			{
				Name:     "p1",
				Security: []binding.SecurityOverlayValue{{ID: "api_key", Values: map[string]string{"apikey": "super-secret"}}},
			},
		},
		Usecases: map[string]binding.UsecaseSpec{
			"DoThing": {
				Input:  validator.Shape{Kind: validator.KindObject, Open: true},
				Result: validator.Shape{Kind: validator.KindObject, Open: true},
			},
		},
		Models: validator.Models{},
	}
}

func testProviderDocument() *binding.ProviderDocument {
	return &binding.ProviderDocument{
		Name:           "p1",
		DefaultService: "default",
		Services: map[string]httpclient.Service{
			"default": {BaseURL: "https://api.example.com"},
		},
		SecuritySchemes: []binding.SecuritySchemeDef{
			{ID: "api_key", Kind: auth.KindAPIKey, In: auth.APIKeyInHeader, Name: "X-Api-Key"},
		},
	}
}

func testMapResult() *binding.MapResult {
	return &binding.MapResult{
		Map:          &interpreter.MapDefinition{UsecaseName: "DoThing"},
		Operations:   map[string]*interpreter.OperationDefinition{},
		ProviderName: "p1",
	}
}
