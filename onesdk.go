// Package onesdk is OneSDK-Go's caller-facing entrypoint (spec.md §6): a
// Client resolves profiles and providers against the registry (or local
// files), binds them against a provider and a map, and performs usecases
// through the map interpreter — wiring together every internal/ component
// behind one small surface.
package onesdk

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/onesdk/onesdk-go/internal/astcache"
	"github.com/onesdk/onesdk-go/internal/astdecode"
	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/config"
	"github.com/onesdk/onesdk-go/internal/events"
	"github.com/onesdk/onesdk-go/internal/httpclient"
	"github.com/onesdk/onesdk-go/internal/interpreter"
	"github.com/onesdk/onesdk-go/internal/metrics"
	"github.com/onesdk/onesdk-go/internal/policyadapter"
	"github.com/onesdk/onesdk-go/internal/providercache"
	"github.com/onesdk/onesdk-go/internal/registryclient"
	"github.com/onesdk/onesdk-go/internal/sandbox"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
	"github.com/onesdk/onesdk-go/internal/superjson"
	"github.com/onesdk/onesdk-go/internal/telemetry"
)

// Client is the OneSDK-Go entrypoint: a single instance is meant to be
// constructed once per process and reused across every perform.
type Client struct {
	cfg    *config.Config
	super  *superjson.SuperDocument
	logger *telemetry.Logger

	binder   *binding.Binder
	registry *registryclient.Client
	astCache *astcache.Cache

	bus           *events.Bus
	hooks         *events.HookContextMap
	adapter       *policyadapter.Adapter
	interp        *interpreter.Interpreter
	httpClient    *httpclient.Client
	providerCache *providercache.Cache
	providerStore providercache.Store
	pending       *pendingBinds
	metrics       *metrics.Reporter
}

// fileReader adapts os.ReadFile to binding.FileReader.
type fileReader struct{}

func (fileReader) ReadFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, sdkerrors.NewUnexpectedError("reading file %q: %s", path, err)
	}
	return data, true, nil
}

// New builds a Client from the given Options, loading configuration from
// the environment (spec.md §5) unless overridden. Callers that need a
// local YAML overlay should pass WithConfigOverlay.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.config
	if cfg == nil {
		loaded, err := config.Load(o.configOverlayPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	super := o.super
	if super == nil {
		loaded, err := superjson.Load(cfg.SuperJSONPath())
		if err != nil {
			return nil, err
		}
		super = loaded
	}

	logger := o.logger
	if logger == nil {
		logger = telemetry.NewLogger(nil)
	}

	bus := events.NewBus()
	hooks := events.NewHookContextMap()
	adapter := policyadapter.New(hooks, nil)
	adapter.Register(bus)

	httpClient := httpclient.New(bus)

	astCache, err := astcache.Open(cfg.CachePath())
	if err != nil {
		return nil, err
	}

	registry := o.registry
	if registry == nil {
		reg, err := registryclient.NewFromEnv(ctx, cfg)
		if err != nil {
			return nil, err
		}
		registry = reg
	}

	binder := &binding.Binder{
		Files:          fileReader{},
		Registry:       registry,
		DecodeProfile:  astdecode.DecodeProfile,
		DecodeProvider: astdecode.DecodeProvider,
		DecodeMap:      astdecode.DecodeMap,
	}

	sb, err := sandbox.New(sandbox.WithTimeout(cfg.SandboxTimeout))
	if err != nil {
		return nil, err
	}
	it := interpreter.New(sb, httpClient, bus)

	providerStore := o.providerStore
	if providerStore == nil {
		providerStore = providercache.NewMemoryStore()
	}

	uplink := o.uplink
	if uplink == nil {
		uplink = registry
	}
	reporter := metrics.NewReporter(uplink, metrics.Options{
		DocumentHash: documentHash(cfg.SuperJSONPath()),
		MinDebounce:  cfg.MetricDebounceTimeMin,
		MaxDebounce:  cfg.MetricDebounceTimeMax,
		Disabled:     cfg.DisableMetricReporting,
		Clock:        time.Now,
	})

	c := &Client{
		cfg:           cfg,
		super:         super,
		logger:        logger,
		binder:        binder,
		registry:      registry,
		astCache:      astCache,
		bus:           bus,
		hooks:         hooks,
		adapter:       adapter,
		interp:        it,
		httpClient:    httpClient,
		providerStore: providerStore,
		pending:       newPendingBinds(),
		metrics:       reporter,
	}
	c.providerCache = providercache.New(providerStore, c.rebindProvider, time.Now)
	return c, nil
}

// documentHash derives the identifier the metric reporter tags its
// uplinked batches with: a content checksum of the super-document, so two
// installs running the same normalized document group under the same
// insights key even if their SUPERFACE_PATH differs. A missing document
// (no super.json at all) hashes its own path instead, so metrics from a
// caller-only (no-priority) install still group consistently.
func documentHash(superJSONPath string) string {
	raw, err := os.ReadFile(superJSONPath)
	if err != nil {
		return filepath.Base(filepath.Dir(superJSONPath)) + "/" + filepath.Base(superJSONPath)
	}
	return astcache.Checksum(raw)
}

// Close flushes pending metrics and releases the AST cache's index handle.
func (c *Client) Close(ctx context.Context) error {
	if err := c.metrics.BeforeExit(ctx); err != nil {
		return err
	}
	return c.astCache.Close()
}

// On subscribes handler to event at priority (spec.md §6's
// `on(event, {priority}, handler)`), for the "fetch" and "unhandled-http"
// pre-hooks and the "fetch"/"bind-and-perform" post-hooks a caller may
// want to observe or extend alongside the built-in policy adapter.
func (c *Client) On(event string, priority int, pre events.PreInterceptor, post events.PostInterceptor) {
	if pre != nil {
		c.bus.OnPre(event, priority, pre)
	}
	if post != nil {
		c.bus.OnPost(event, priority, post)
	}
}
