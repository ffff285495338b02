package onesdk

import (
	"github.com/onesdk/onesdk-go/internal/config"
	"github.com/onesdk/onesdk-go/internal/metrics"
	"github.com/onesdk/onesdk-go/internal/providercache"
	"github.com/onesdk/onesdk-go/internal/registryclient"
	"github.com/onesdk/onesdk-go/internal/superjson"
	"github.com/onesdk/onesdk-go/internal/telemetry"
)

// options collects every New dependency a caller can override; unset
// fields are built from the environment the way New's body describes.
type options struct {
	config            *config.Config
	configOverlayPath string
	super             *superjson.SuperDocument
	logger            *telemetry.Logger
	registry          *registryclient.Client
	providerStore     providercache.Store
	uplink            metrics.Uplink
}

func defaultOptions() *options {
	return &options{}
}

// Option configures a Client at construction time.
type Option func(*options)

// WithConfig supplies an already-loaded configuration, skipping New's own
// call to config.Load.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithConfigOverlay sets the local YAML overlay path config.Load applies
// on top of the environment.
func WithConfigOverlay(path string) Option {
	return func(o *options) { o.configOverlayPath = path }
}

// WithSuperDocument supplies an already-loaded normalized super-document,
// skipping New's own call to superjson.Load. Useful for tests and for
// callers that fetch the document from somewhere other than a local file.
func WithSuperDocument(doc *superjson.SuperDocument) Option {
	return func(o *options) { o.super = doc }
}

// WithLogger sets the telemetry.Logger the Client holds (by default one
// wrapping slog.Default()).
func WithLogger(l *telemetry.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry overrides the registry client, e.g. to point at a test
// server or an already-constructed S3-backed client.
func WithRegistry(c *registryclient.Client) Option {
	return func(o *options) { o.registry = c }
}

// WithProviderCache selects the bound-provider cache backing store
// (in-process by default; pass a *providercache.RedisStore or
// *superstore.Store for a shared, cross-process cache).
func WithProviderCache(store providercache.Store) Option {
	return func(o *options) { o.providerStore = store }
}

// WithMetricsUplink overrides the metric reporter's uplink, which
// defaults to the registry client itself (POST /insights/sdk_event).
func WithMetricsUplink(u metrics.Uplink) Option {
	return func(o *options) { o.uplink = u }
}
