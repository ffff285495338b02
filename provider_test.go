package onesdk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/superjson"
)

func TestGetProviderMergesSuperDocumentOverlay(t *testing.T) {
	c := newTestClient(t, &superjson.SuperDocument{
		Providers: map[string]superjson.ProviderEntry{
			"p1": {
				Security:   []superjson.SecurityValue{{ID: "api_key", APIKey: "doc-value"}},
				Parameters: map[string]string{"region": "eu"},
			},
		},
	})

	p := c.GetProvider("p1", nil, nil)
	require.Equal(t, "doc-value", p.Security["api_key"]["apikey"])
	require.Equal(t, "eu", p.Parameters["region"])
}

func TestGetProviderCallerOverrideWinsOverSuperDocument(t *testing.T) {
	c := newTestClient(t, &superjson.SuperDocument{
		Providers: map[string]superjson.ProviderEntry{
			"p1": {Parameters: map[string]string{"region": "eu"}},
		},
	})

	p := c.GetProvider("p1", nil, map[string]string{"region": "us"})
	require.Equal(t, "us", p.Parameters["region"])
}

func TestGetProviderForProfileUsesFirstPriorityEntry(t *testing.T) {
	c := newTestClient(t, &superjson.SuperDocument{
		Profiles: map[string]superjson.ProfileEntry{
			"scope/name": {Priority: []string{"p1", "p2"}},
		},
	})

	p, err := c.GetProviderForProfile("scope/name")
	require.NoError(t, err)
	require.Equal(t, "p1", p.Name)
}

func TestGetProviderForProfileFailsWithoutPriority(t *testing.T) {
	c := newTestClient(t, nil)
	_, err := c.GetProviderForProfile("scope/name")
	require.Error(t, err)
}

func TestLookupKeyStableAcrossEquivalentOverrides(t *testing.T) {
	a, err := lookupKey("scope/name", "p1", binding.Overrides{Parameters: map[string]string{"a": "1"}})
	require.NoError(t, err)
	b, err := lookupKey("scope/name", "p1", binding.Overrides{Parameters: map[string]string{"a": "1"}})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestLookupKeyDiffersOnProvider(t *testing.T) {
	a, err := lookupKey("scope/name", "p1", binding.Overrides{})
	require.NoError(t, err)
	b, err := lookupKey("scope/name", "p2", binding.Overrides{})
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestPendingBindsSetGet(t *testing.T) {
	p := newPendingBinds()
	_, ok := p.get("missing")
	require.False(t, ok)

	req := bindRequest{overrides: binding.Overrides{Provider: "p1"}}
	p.set("key", req)
	got, ok := p.get("key")
	require.True(t, ok)
	require.Equal(t, "p1", got.overrides.Provider)
}

func TestProviderSourcePrefersSuperDocumentLocalFile(t *testing.T) {
	c := newTestClient(t, &superjson.SuperDocument{
		Providers: map[string]superjson.ProviderEntry{
			"p1": {LocalFilePath: "/tmp/p1.json"},
		},
	})
	src := c.providerSource("p1")
	require.Equal(t, "/tmp/p1.json", src.FileURI)
	require.Equal(t, "p1", src.Name)
}

func TestProviderSourceFallsBackToRegistryName(t *testing.T) {
	c := newTestClient(t, nil)
	src := c.providerSource("p1")
	require.Empty(t, src.FileURI)
	require.Equal(t, "p1", src.Name)
}
