package onesdk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onesdk/onesdk-go/internal/superjson"
)

const testProfileJSON = `{
  "id": "scope/name@1.0.0",
  "providers": [{"name": "p1"}],
  "usecases": {
    "DoThing": {
      "input": {"kind": "object", "open": true},
      "result": {"kind": "object", "open": true}
    }
  }
}`

func TestGetProfileLoadsLocalEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.supr.ast.json")
	require.NoError(t, os.WriteFile(path, []byte(testProfileJSON), 0o644))

	c := newTestClient(t, &superjson.SuperDocument{
		Profiles: map[string]superjson.ProfileEntry{
			"scope/name@1.0.0": {LocalFilePath: path},
		},
	})

	p, err := c.GetProfile(context.Background(), "scope/name@1.0.0")
	require.NoError(t, err)
	require.Equal(t, "scope/name@1.0.0", p.ID().String())

	uc, err := p.GetUseCase("DoThing")
	require.NoError(t, err)
	require.NotNil(t, uc)
}

func TestGetProfileUnknownUsecase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.supr.ast.json")
	require.NoError(t, os.WriteFile(path, []byte(testProfileJSON), 0o644))

	c := newTestClient(t, &superjson.SuperDocument{
		Profiles: map[string]superjson.ProfileEntry{
			"scope/name@1.0.0": {LocalFilePath: path},
		},
	})

	p, err := c.GetProfile(context.Background(), "scope/name@1.0.0")
	require.NoError(t, err)

	_, err = p.GetUseCase("NoSuchUsecase")
	require.Error(t, err)
}

func TestGetProfileNoLocalEntryNoRegistryFails(t *testing.T) {
	c := newTestClient(t, nil)
	_, err := c.GetProfile(context.Background(), "scope/name@1.0.0")
	require.Error(t, err)
}

func TestGetProfileMissingLocalFileFails(t *testing.T) {
	c := newTestClient(t, &superjson.SuperDocument{
		Profiles: map[string]superjson.ProfileEntry{
			"scope/name@1.0.0": {LocalFilePath: filepath.Join(t.TempDir(), "missing.json")},
		},
	})
	_, err := c.GetProfile(context.Background(), "scope/name@1.0.0")
	require.Error(t, err)
}
