package onesdk

import (
	"context"

	"github.com/onesdk/onesdk-go/internal/astcache"
	"github.com/onesdk/onesdk-go/internal/astdecode"
	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// Profile is a resolved profile document (spec.md §6's `getProfile`
// result): its identity plus every usecase it declares.
type Profile struct {
	client *Client
	id     binding.ProfileID
	doc    *binding.ProfileDocument
}

// ID returns the profile's parsed identity.
func (p *Profile) ID() binding.ProfileID { return p.id }

// GetProfile resolves id (`scope/name[@major.minor.patch[-label]]`, per
// spec.md §6) into a Profile: a local entry from the super-document when
// one is declared, the registry otherwise. A version embedded in id must
// be a full semver triple; partial versions are rejected by
// binding.ParseProfileID.
func (c *Client) GetProfile(ctx context.Context, id string) (*Profile, error) {
	pid, err := binding.ParseProfileID(id)
	if err != nil {
		return nil, err
	}

	doc, err := c.resolveProfileDocument(ctx, pid)
	if err != nil {
		return nil, err
	}
	return &Profile{client: c, id: pid, doc: doc}, nil
}

// resolveProfileDocument implements the profile half of spec.md §4.12 step
// 1, independent of any provider/map resolution: a super-document-declared
// local file, cached through internal/astcache by content checksum, or a
// registry fetch when no local entry exists.
func (c *Client) resolveProfileDocument(ctx context.Context, id binding.ProfileID) (*binding.ProfileDocument, error) {
	entry, hasEntry := c.super.Profiles[id.String()]
	if hasEntry && entry.LocalFilePath != "" {
		return c.loadLocalProfile(id, entry.LocalFilePath)
	}

	if c.registry == nil {
		return nil, sdkerrors.NewUnexpectedError("no local profile entry and no registry configured to resolve %q", id.String())
	}
	return c.registry.FetchProfile(ctx, id)
}

func (c *Client) loadLocalProfile(id binding.ProfileID, path string) (*binding.ProfileDocument, error) {
	raw, ok, err := (fileReader{}).ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sdkerrors.NewUnexpectedError("profile file %q (declared by the super-document for %q) not found", path, id.String())
	}

	checksum := astcache.Checksum(raw)
	key := astcache.Key{Name: id.String()}
	if cached, hit, err := c.astCache.Load(key, checksum, nil); err == nil && hit {
		return astdecode.DecodeProfile(cached)
	}

	doc, err := astdecode.DecodeProfile(raw)
	if err != nil {
		return nil, err
	}
	_ = c.astCache.Store(key, checksum, raw)
	return doc, nil
}
