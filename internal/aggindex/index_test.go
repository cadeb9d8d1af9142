package aggindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/config"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.IndexConfig{Path: t.TempDir()}
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	store, err := Open(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestPartition_InsertCountAt(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	p := store.Partition("records_by_theme")

	for _, q := range []string{"q3", "q1", "q2"} {
		inserted, err := p.InsertIfAbsent(ctx, "theme-ortho", q)
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	t.Run("duplicate insert is a no-op", func(t *testing.T) {
		inserted, err := p.InsertIfAbsent(ctx, "theme-ortho", "q2")
		require.NoError(t, err)
		assert.False(t, inserted)

		count, err := p.Count("theme-ortho")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("at returns keys in sorted order", func(t *testing.T) {
		for i, want := range []string{"q1", "q2", "q3"} {
			got, err := p.At("theme-ortho", i)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("unknown namespace counts zero", func(t *testing.T) {
		count, err := p.Count("theme-missing")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		_, err := p.InsertIfAbsent(ctx, "theme-trauma", "q9")
		require.NoError(t, err)

		count, err := p.Count("theme-ortho")
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		has, err := p.Has("theme-ortho", "q9")
		require.NoError(t, err)
		assert.False(t, has)
	})
}

func TestPartition_RangeError(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	p := store.Partition("answered_global")

	_, err := p.InsertIfAbsent(ctx, "user-1", "q1")
	require.NoError(t, err)

	_, err = p.At("user-1", 1)
	require.Error(t, err)

	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, 1, rangeErr.Rank)
	assert.Equal(t, 1, rangeErr.Size)
	assert.True(t, errors.Is(err, contextutils.ErrRankOutOfRange))
	assert.True(t, contextutils.IsRetryable(contextutils.ErrRankOutOfRange))

	_, err = p.At("user-nobody", 0)
	var emptyErr *RangeError
	require.ErrorAs(t, err, &emptyErr)
	assert.Zero(t, emptyErr.Size)
}

func TestPartition_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	p := store.Partition("bookmarked_by_theme")

	for _, q := range []string{"q1", "q2", "q3"} {
		require.NoError(t, p.Insert(ctx, "u1_theme-a", q))
	}
	require.NoError(t, p.Insert(ctx, "u1_theme-b", "q4"))

	t.Run("delete compacts ranks", func(t *testing.T) {
		require.NoError(t, p.Delete(ctx, "u1_theme-a", "q2"))

		got, err := p.At("u1_theme-a", 1)
		require.NoError(t, err)
		assert.Equal(t, "q3", got)
	})

	t.Run("delete of absent key is a no-op", func(t *testing.T) {
		require.NoError(t, p.Delete(ctx, "u1_theme-a", "q-missing"))
		count, err := p.Count("u1_theme-a")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("clear removes one namespace only", func(t *testing.T) {
		require.NoError(t, p.Clear(ctx, "u1_theme-a"))

		count, err := p.Count("u1_theme-a")
		require.NoError(t, err)
		assert.Zero(t, count)

		count, err = p.Count("u1_theme-b")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("clear all empties the partition", func(t *testing.T) {
		require.NoError(t, p.ClearAll(ctx))
		namespaces, err := p.Namespaces()
		require.NoError(t, err)
		assert.Empty(t, namespaces)
	})
}

func TestStore_ReloadFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})

	store, err := Open(config.IndexConfig{Path: dir, SyncWrites: true}, logger)
	require.NoError(t, err)

	p := store.Partition("records_global")
	for _, q := range []string{"q2", "q1", "q3"} {
		require.NoError(t, p.Insert(ctx, "global", q))
	}
	require.NoError(t, p.Delete(ctx, "global", "q2"))
	require.NoError(t, store.Close())

	// Reopen and confirm state survived, including the deletion.
	reopened, err := Open(config.IndexConfig{Path: dir}, logger)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reopened.Close())
	}()

	p = reopened.Partition("records_global")
	count, err := p.Count("global")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	keys, err := p.Keys("global")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q3"}, keys)
}
