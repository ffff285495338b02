// Package metrics implements the metric reporter of spec.md §4.15: a
// buffered, debounced uplink of success/failure/provider-switch events to
// the registry's insights endpoint, flushed on a timer and on process
// exit, mirrored into OTel counters for local observability.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EventKind is one of the three event kinds the reporter subscribes to.
type EventKind string

const (
	EventSuccess        EventKind = "success"
	EventFailure        EventKind = "failure"
	EventProviderSwitch EventKind = "provider-switch"
)

// Event is one perform-boundary occurrence queued for uplink.
type Event struct {
	Kind      EventKind
	ProfileID string
	Usecase   string
	Provider  string
	Time      time.Time
	Reason    string // failure reason or switch reason, when applicable
}

// Uplink sends a batch of events to the registry, tagged with the hashed
// identifier of the normalized super-document they were recorded against.
// internal/registryclient implements this by POSTing /insights/sdk_event.
type Uplink interface {
	PostEvents(ctx context.Context, documentHash string, batch []Event) error
}

// Options configures a Reporter. MinDebounce/MaxDebounce default to
// spec.md §5's 1s/60s bounds when zero.
type Options struct {
	DocumentHash string
	MinDebounce  time.Duration
	MaxDebounce  time.Duration
	Disabled     bool
	Meter        metric.Meter // optional; nil disables OTel mirroring
	Clock        func() time.Time
}

const (
	DefaultMinDebounce = 1 * time.Second
	DefaultMaxDebounce = 60 * time.Second
)

// Reporter buffers events and flushes them to Uplink on a debounced
// schedule: at least MinDebounce after the most recent event, but no
// later than MaxDebounce after the first buffered event.
type Reporter struct {
	uplink       Uplink
	documentHash string
	minDebounce  time.Duration
	maxDebounce  time.Duration
	disabled     bool
	clock        func() time.Time

	eventCounter metric.Int64Counter

	mu      sync.Mutex
	buffer  []Event
	firstAt time.Time
	timer   *time.Timer
}

// NewReporter creates a Reporter. uplink may be nil only when
// opts.Disabled is true.
func NewReporter(uplink Uplink, opts Options) *Reporter {
	minD, maxD := opts.MinDebounce, opts.MaxDebounce
	if minD <= 0 {
		minD = DefaultMinDebounce
	}
	if maxD <= 0 {
		maxD = DefaultMaxDebounce
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	r := &Reporter{
		uplink:       uplink,
		documentHash: opts.DocumentHash,
		minDebounce:  minD,
		maxDebounce:  maxD,
		disabled:     opts.Disabled,
		clock:        clock,
	}
	if opts.Meter != nil {
		if c, err := opts.Meter.Int64Counter("onesdk.sdk_events",
			metric.WithDescription("SDK perform outcomes by kind"),
			metric.WithUnit("{event}"),
		); err == nil {
			r.eventCounter = c
		}
	}
	return r
}

// Record queues an event for the next debounced flush.
func (r *Reporter) Record(ctx context.Context, e Event) {
	if r.eventCounter != nil {
		r.eventCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(e.Kind)),
			attribute.String("provider", e.Provider),
		))
	}

	if r.disabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) == 0 {
		r.firstAt = r.clock()
	}
	r.buffer = append(r.buffer, e)
	r.scheduleLocked()
}

// scheduleLocked (re-)arms the flush timer so it fires at
// min(now+minDebounce, firstBufferedAt+maxDebounce). Caller must hold r.mu.
func (r *Reporter) scheduleLocked() {
	now := r.clock()
	maxDeadline := r.firstAt.Add(r.maxDebounce)
	next := now.Add(r.minDebounce)
	if next.After(maxDeadline) {
		next = maxDeadline
	}
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(delay, func() { _ = r.Flush(context.Background()) })
}

// Flush sends any buffered events immediately, bypassing the debounce
// timer. Called by BeforeExit and by the debounce timer itself.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buffer
	r.buffer = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	if len(batch) == 0 || r.disabled {
		return nil
	}
	return r.uplink.PostEvents(ctx, r.documentHash, batch)
}

// BeforeExit flushes any remaining buffered events. Callers register this
// against their process's shutdown hook.
func (r *Reporter) BeforeExit(ctx context.Context) error {
	return r.Flush(ctx)
}
