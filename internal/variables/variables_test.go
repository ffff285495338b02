package variables

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeScalarReplaces(t *testing.T) {
	require.Equal(t, "b", Merge("a", "b"))
	require.Equal(t, int64(2), Merge(int64(1), int64(2)))
	require.Nil(t, Merge("a", nil))
}

func TestMergeSequencesAreLeaves(t *testing.T) {
	left := []any{1, 2, 3}
	right := []any{4}
	got := Merge(left, right)
	assert.Equal(t, []any{4}, got)
}

func TestMergeNonPrimitiveRecurses(t *testing.T) {
	left := map[string]any{
		"a": "1",
		"b": map[string]any{"x": 1, "y": 2},
	}
	right := map[string]any{
		"b": map[string]any{"y": 20, "z": 3},
		"c": "new",
	}
	got := Merge(left, right)
	want := map[string]any{
		"a": "1",
		"b": map[string]any{"x": 1, "y": 20, "z": 3},
		"c": "new",
	}
	assert.Equal(t, want, got)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	left := map[string]any{"a": map[string]any{"x": 1}}
	right := map[string]any{"a": map[string]any{"y": 2}}
	_ = Merge(left, right)
	assert.Equal(t, map[string]any{"x": 1}, left["a"])
	assert.Equal(t, map[string]any{"y": 2}, right["a"])
}

func TestCastToNonPrimitive(t *testing.T) {
	_, ok := CastToNonPrimitive(map[string]any{"a": 1})
	assert.True(t, ok)

	_, ok = CastToNonPrimitive([]any{1, 2})
	assert.False(t, ok)

	_, ok = CastToNonPrimitive("scalar")
	assert.False(t, ok)
}

// TestMergeIdempotentOnDisjointFields checks the §8 merge invariant as a
// property: merging b again into merge(a, b) changes nothing. a and b are
// maps of int64 values over the keys a–d, so the generated pairs cover
// both disjoint and overlapping key sets.
func TestMergeIdempotentOnDisjointFields(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	keyGen := gen.OneConstOf("a", "b", "c", "d")
	valueGen := gen.OneGenOf(gen.Int64(), gen.AlphaString())

	properties.Property("merge is idempotent once applied", prop.ForAll(
		func(aVals, bVals map[string]int64) bool {
			a := make(map[string]any, len(aVals))
			for k, v := range aVals {
				a[k] = v
			}
			b := make(map[string]any, len(bVals))
			for k, v := range bVals {
				b[k] = v
			}
			once := Merge(a, b)
			twice := Merge(once, b)
			onceMap, _ := CastToNonPrimitive(once)
			twiceMap, _ := CastToNonPrimitive(twice)
			if len(onceMap) != len(twiceMap) {
				return false
			}
			for k, v := range onceMap {
				if twiceMap[k] != v {
					return false
				}
			}
			return true
		},
		gen.MapOf(keyGen, gen.Int64Range(0, 1000)),
		gen.MapOf(keyGen, gen.Int64Range(0, 1000)),
	))
	_ = valueGen

	properties.TestingRun(t)
}

func TestClone(t *testing.T) {
	orig := map[string]any{
		"a": []any{1, 2, map[string]any{"x": 1}},
		"b": []byte{1, 2, 3},
	}
	cloned := Clone(orig).(map[string]any)
	assert.Equal(t, orig, cloned)

	// mutate the clone, original must be unaffected
	clonedSeq := cloned["a"].([]any)
	clonedSeq[0] = 999
	origSeq := orig["a"].([]any)
	assert.Equal(t, 1, origSeq[0])
}
