package aggindex

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreap_InsertAndRank(t *testing.T) {
	tr := newTreap()

	keys := []string{"q-delta", "q-alpha", "q-echo", "q-bravo", "q-charlie"}
	for _, k := range keys {
		assert.True(t, tr.Insert(k), "first insert of %s should succeed", k)
	}
	assert.Equal(t, 5, tr.Size())

	// Duplicate insert is a no-op.
	assert.False(t, tr.Insert("q-alpha"))
	assert.Equal(t, 5, tr.Size())

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	t.Run("access by rank follows sorted order", func(t *testing.T) {
		for i, want := range sorted {
			got, ok := tr.At(i)
			require.True(t, ok)
			assert.Equal(t, want, got)
		}
	})

	t.Run("rank is the inverse of access", func(t *testing.T) {
		for i, k := range sorted {
			rank, ok := tr.Rank(k)
			require.True(t, ok)
			assert.Equal(t, i, rank)
		}
	})

	t.Run("out of range access fails", func(t *testing.T) {
		_, ok := tr.At(-1)
		assert.False(t, ok)
		_, ok = tr.At(5)
		assert.False(t, ok)
	})
}

func TestTreap_Delete(t *testing.T) {
	tr := newTreap()
	for _, k := range []string{"a", "b", "c", "d"} {
		tr.Insert(k)
	}

	assert.True(t, tr.Delete("b"))
	assert.False(t, tr.Delete("b"), "second delete should be a no-op")
	assert.Equal(t, 3, tr.Size())
	assert.False(t, tr.Has("b"))

	// Ranks compact after deletion.
	got, ok := tr.At(1)
	require.True(t, ok)
	assert.Equal(t, "c", got)

	assert.Equal(t, []string{"a", "c", "d"}, tr.Keys())
}

func TestTreap_CountRange(t *testing.T) {
	tr := newTreap()
	for _, k := range []string{"a", "c", "e", "g", "i"} {
		tr.Insert(k)
	}

	assert.Equal(t, 5, tr.CountRange("a", "z"))
	assert.Equal(t, 2, tr.CountRange("c", "g"), "half-open: includes c and e, excludes g")
	assert.Equal(t, 1, tr.CountRange("b", "d"))
	assert.Equal(t, 0, tr.CountRange("g", "c"), "inverted bounds count zero")
	assert.Equal(t, 0, tr.CountRange("x", "z"))
	assert.Equal(t, 3, tr.CountLess("g"))
}

func TestTreap_RandomizedAgainstSortedSlice(t *testing.T) {
	tr := newTreap()
	rng := rand.New(rand.NewPCG(42, 7))
	present := map[string]bool{}

	for i := 0; i < 5000; i++ {
		key := fmt.Sprintf("key-%04d", rng.IntN(800))
		if rng.IntN(3) == 0 {
			assert.Equal(t, present[key], tr.Delete(key))
			delete(present, key)
		} else {
			assert.Equal(t, !present[key], tr.Insert(key))
			present[key] = true
		}
	}

	want := make([]string, 0, len(present))
	for k := range present {
		want = append(want, k)
	}
	sort.Strings(want)

	require.Equal(t, len(want), tr.Size())
	assert.Equal(t, want, tr.Keys())
	for i, k := range want {
		got, ok := tr.At(i)
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
}
