package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvalArithmetic(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	v, err := s.Eval(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	require.EqualValues(t, 3, v)
}

func TestEvalVarsAccess(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	v, err := s.Eval(context.Background(), `vars.foo == "bar"`, Activation{
		"vars": map[string]any{"foo": "bar"},
	})
	require.NoError(t, err)
	require.Equal(t, true, v)
}

func TestEvalInputAccess(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	v, err := s.Eval(context.Background(), `input.status == 200`, Activation{
		"input": map[string]any{"status": int64(200)},
	})
	require.NoError(t, err)
	require.Equal(t, true, v)
}

func TestEvalTimeout(t *testing.T) {
	s, err := New(WithTimeout(1 * time.Nanosecond))
	require.NoError(t, err)

	_, err = s.Eval(context.Background(), "1 + 1", nil)
	require.Error(t, err)
}

func TestEvalSyntaxErrorIsJessieError(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	_, err = s.Eval(context.Background(), "1 +", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 +")
}

func TestStdTimeConversions(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	v, err := s.Eval(context.Background(), `std.unstable.time.isoDateToUnixTimestamp("2021-01-01T00:00:00Z")`, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1609459200, v)

	v2, err := s.Eval(context.Background(), `std.unstable.time.unixTimestampToIsoDate(1609459200)`, nil)
	require.NoError(t, err)
	require.Equal(t, "2021-01-01T00:00:00Z", v2)
}
