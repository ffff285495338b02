package onesdk

import (
	"context"
	"time"

	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/events"
	"github.com/onesdk/onesdk-go/internal/metrics"
	"github.com/onesdk/onesdk-go/internal/policyadapter"
	"github.com/onesdk/onesdk-go/internal/router"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
	"github.com/onesdk/onesdk-go/internal/validator"
)

// UseCase is one usecase declared by a Profile (spec.md §6's
// `getUseCase(name)` result): its input/result shapes plus everything
// Perform needs to bind, route, and record metrics for it.
type UseCase struct {
	profile *Profile
	name    string
	spec    binding.UsecaseSpec
}

// GetUseCase looks up name among p's declared usecases.
func (p *Profile) GetUseCase(name string) (*UseCase, error) {
	spec, ok := p.doc.Usecases[name]
	if !ok {
		return nil, sdkerrors.NewUnexpectedError("profile %q declares no usecase %q", p.id.String(), name)
	}
	return &UseCase{profile: p, name: name, spec: spec}, nil
}

// PerformOptions overrides the super-document's defaults for one Perform
// call (spec.md §6's `perform(input, {provider?, security?, parameters?,
// mapVariant?, mapRevision?})`).
type PerformOptions struct {
	// Provider pins a specific provider name, skipping the router's
	// priority/failover selection entirely.
	Provider    string
	Service     string
	Security    map[string]map[string]string
	Parameters  map[string]string
	MapVariant  string
	MapRevision string
}

// Perform implements spec.md §4.12/§4.13: validate input, bind against a
// provider (pinned or router-selected), run the map, validate the result,
// and record a success/failure metric event.
func (u *UseCase) Perform(ctx context.Context, input any, opts PerformOptions) (result any, err error) {
	c := u.profile.client
	profileID := u.profile.id.String()

	if err := validator.ValidateInput(u.spec.Input, u.profile.doc.Models, input); err != nil {
		return nil, err
	}

	providerName := opts.Provider
	if providerName == "" {
		priority := c.super.Priority(profileID)
		if len(priority) > 0 {
			providerName = priority[0]
		} else if len(u.profile.doc.Providers) > 0 {
			providerName = u.profile.doc.Providers[0].Name
		} else {
			return nil, sdkerrors.NewUnexpectedError("no provider available for profile %q and no super-document priority declared", profileID)
		}
	}

	// Establishing the router must happen here, as the first hooks.Get call
	// for this (profile, usecase) key: policyadapter's routerFor/stateFor
	// only ever install a nil *router.Router on first access, so whichever
	// caller gets there first decides whether the hooks have a real router
	// to drive failover with.
	key := events.Key{ProfileID: profileID, Usecase: u.name}
	priority := c.super.Priority(profileID)
	if len(priority) == 0 {
		priority = []string{providerName}
	}
	instantiate := c.super.InstantiateFor(profileID, u.name)
	c.hooks.Get(key, func() any { return router.New(priority, instantiate) })

	hookCtx := events.Context{
		ProfileID: profileID,
		Usecase:   u.name,
		Provider:  providerName,
		Time:      time.Now(),
	}

	profileSrc := binding.ProfileSource{AST: u.profile.doc}

	var finalProvider string
	res, err := policyadapter.RunBindAndPerform(ctx, c.bus, hookCtx, policyadapter.BindAndPerformArgs{
		PinnedProvider: opts.Provider,
		Provider:       providerName,
	}, func(ctx context.Context, args policyadapter.BindAndPerformArgs) (any, error) {
		finalProvider = args.Provider
		overrides := binding.Overrides{
			Provider:    args.Provider,
			Service:     opts.Service,
			Security:    mergeSecurityOverlay(c.super.SecurityOverrides(args.Provider), opts.Security),
			Parameters:  mergeStringOverlay(c.super.ParameterOverrides(args.Provider), opts.Parameters),
			MapVariant:  opts.MapVariant,
			MapRevision: opts.MapRevision,
		}

		bindKey, err := lookupKey(profileID, args.Provider, overrides)
		if err != nil {
			return nil, err
		}
		c.pending.set(bindKey, bindRequest{
			profileSrc:  profileSrc,
			providerSrc: c.providerSource(args.Provider),
			overrides:   overrides,
		})

		bp, err := c.providerCache.Get(ctx, bindKey)
		if err != nil {
			return nil, err
		}

		return c.interp.Run(ctx, hookCtx, bp.Map, bp.Operations, bp.Environment(), input)
	})

	event := metrics.Event{
		Kind:      metrics.EventSuccess,
		ProfileID: profileID,
		Usecase:   u.name,
		Provider:  finalProvider,
		Time:      time.Now(),
	}
	if err != nil {
		event.Kind = metrics.EventFailure
		event.Reason = err.Error()
		c.metrics.Record(ctx, event)
		return nil, err
	}

	if err := validator.ValidateResult(u.spec.Result, u.profile.doc.Models, res); err != nil {
		event.Kind = metrics.EventFailure
		event.Reason = err.Error()
		c.metrics.Record(ctx, event)
		return nil, err
	}

	c.metrics.Record(ctx, event)
	return res, nil
}
