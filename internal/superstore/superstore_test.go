package superstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/providercache"
)

func TestGetReturnsStoredEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	expiresAt := time.Now().Add(time.Hour).UTC()

	rows := sqlmock.NewRows([]string{"provider_json", "expires_at"}).
		AddRow([]byte(`{"providerName":"acme"}`), expiresAt)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT provider_json, expires_at FROM provider_cache_entries WHERE cache_key = $1")).
		WithArgs("key1").
		WillReturnRows(rows)

	entry, ok, err := store.Get(context.Background(), "key1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "acme", entry.Provider.ProviderName)
	require.True(t, entry.ExpiresAt.Equal(expiresAt))
}

func TestGetMissReturnsFalse(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT provider_json, expires_at FROM provider_cache_entries WHERE cache_key = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"provider_json", "expires_at"}))

	_, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	entry := providercache.Entry{
		Provider:  &binding.BoundProvider{ProviderName: "acme"},
		ExpiresAt: time.Now().Add(time.Hour),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO provider_cache_entries")).
		WithArgs("key1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Set(context.Background(), "key1", entry)
	require.NoError(t, err)
}

func TestDeleteRemovesEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM provider_cache_entries WHERE cache_key = $1")).
		WithArgs("key1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Delete(context.Background(), "key1")
	require.NoError(t, err)
}
