package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/aggindex"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/config"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/taxonomy"
)

type staticParents struct {
	subthemeToTheme map[string]string
	groupToSubtheme map[string]string
}

func (p *staticParents) SubthemeParents(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if v, ok := p.subthemeToTheme[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (p *staticParents) GroupParents(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if v, ok := p.groupToSubtheme[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// testBank seeds a store with theme T holding 10 questions: subtheme S holds
// 4 of them, group G under S holds 2 of those 4.
type testBank struct {
	engine *Engine
	store  *aggindex.Store
	ids    []string
}

func newTestBank(t *testing.T) *testBank {
	t.Helper()
	ctx := context.Background()
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})

	store, err := aggindex.Open(config.IndexConfig{Path: t.TempDir()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	parents := &staticParents{
		subthemeToTheme: map[string]string{"S": "T"},
		groupToSubtheme: map[string]string{"G": "S"},
	}
	resolver := taxonomy.NewResolver(parents, logger)
	bank := &testBank{engine: NewEngine(store, resolver, logger), store: store}

	for i := 0; i < 10; i++ {
		q := &models.Question{ID: fmt.Sprintf("q%02d", i), ThemeID: "T"}
		if i < 4 {
			q.SubthemeID = "S"
		}
		if i < 2 {
			q.GroupID = "G"
		}
		bank.indexQuestion(t, ctx, q)
		bank.ids = append(bank.ids, q.ID)
	}
	return bank
}

func (b *testBank) indexQuestion(t *testing.T, ctx context.Context, q *models.Question) {
	t.Helper()
	for _, gran := range taxonomy.Granularities {
		ns, ok, err := taxonomy.RecordNamespace(gran, q)
		require.NoError(t, err)
		if !ok {
			continue
		}
		p := b.store.Partition(taxonomy.Dimension{Gran: gran}.PartitionName())
		require.NoError(t, p.Insert(ctx, ns, q.ID))
	}
}

func (b *testBank) markFact(t *testing.T, ctx context.Context, userID string, q *models.Question, kind models.FactKind) {
	t.Helper()
	for _, gran := range taxonomy.Granularities {
		ns, ok, err := taxonomy.FactNamespace(gran, userID, q)
		require.NoError(t, err)
		if !ok {
			continue
		}
		p := b.store.Partition(taxonomy.Dimension{Fact: kind, Gran: gran}.PartitionName())
		require.NoError(t, p.Insert(ctx, ns, q.ID))
	}
}

func TestEngine_CountHierarchy(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank(t)

	t.Run("theme counts all its records", func(t *testing.T) {
		n, err := bank.engine.Count(ctx, models.ScopeSelection{ThemeIDs: []string{"T"}}, models.FilterAll, "")
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	})

	t.Run("subtheme plus group is group plus remainder", func(t *testing.T) {
		n, err := bank.engine.Count(ctx, models.ScopeSelection{
			SubthemeIDs: []string{"S"},
			GroupIDs:    []string{"G"},
		}, models.FilterAll, "")
		require.NoError(t, err)
		assert.Equal(t, 4, n, "G's 2 plus S's 2 non-grouped")
	})

	t.Run("group alone counts only the group", func(t *testing.T) {
		n, err := bank.engine.Count(ctx, models.ScopeSelection{GroupIDs: []string{"G"}}, models.FilterAll, "")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("theme with its own subtheme is not double counted", func(t *testing.T) {
		n, err := bank.engine.Count(ctx, models.ScopeSelection{
			ThemeIDs:    []string{"T"},
			SubthemeIDs: []string{"S"},
		}, models.FilterAll, "")
		require.NoError(t, err)
		assert.Equal(t, 4, n, "theme descriptor suppressed, only S remains")
	})

	t.Run("empty selection counts the whole bank", func(t *testing.T) {
		n, err := bank.engine.Count(ctx, models.ScopeSelection{}, models.FilterAll, "")
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	})

	t.Run("nonexistent group counts zero", func(t *testing.T) {
		n, err := bank.engine.Count(ctx, models.ScopeSelection{GroupIDs: []string{"grp-missing"}}, models.FilterAll, "")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestEngine_CountFilterModes(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank(t)

	answered := []*models.Question{
		{ID: "q00", ThemeID: "T", SubthemeID: "S", GroupID: "G"},
		{ID: "q05", ThemeID: "T"},
		{ID: "q06", ThemeID: "T"},
	}
	for _, q := range answered {
		bank.markFact(t, ctx, "u1", q, models.FactAnswered)
	}
	bank.markFact(t, ctx, "u1", answered[1], models.FactIncorrect)
	bank.markFact(t, ctx, "u1", answered[0], models.FactBookmarked)

	scope := models.ScopeSelection{ThemeIDs: []string{"T"}}

	t.Run("unanswered", func(t *testing.T) {
		n, err := bank.engine.Count(ctx, scope, models.FilterUnanswered, "u1")
		require.NoError(t, err)
		assert.Equal(t, 7, n)
	})

	t.Run("incorrect", func(t *testing.T) {
		n, err := bank.engine.Count(ctx, scope, models.FilterIncorrect, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("bookmarked", func(t *testing.T) {
		n, err := bank.engine.Count(ctx, scope, models.FilterBookmarked, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("other users are unaffected", func(t *testing.T) {
		n, err := bank.engine.Count(ctx, scope, models.FilterUnanswered, "u2")
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	})

	t.Run("user scoped mode without user id fails", func(t *testing.T) {
		_, err := bank.engine.Count(ctx, scope, models.FilterUnanswered, "")
		require.Error(t, err)
	})

	t.Run("unknown mode fails", func(t *testing.T) {
		_, err := bank.engine.Count(ctx, scope, models.FilterMode("starred"), "u1")
		require.Error(t, err)
	})
}

func TestEngine_Sample(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank(t)

	t.Run("without replacement and within scope", func(t *testing.T) {
		ids, err := bank.engine.Sample(ctx, models.ScopeSelection{ThemeIDs: []string{"T"}}, models.FilterAll, "", 6)
		require.NoError(t, err)
		require.Len(t, ids, 6)

		seen := make(map[string]bool)
		for _, id := range ids {
			assert.False(t, seen[id], "sample must not repeat %s", id)
			seen[id] = true
			assert.Contains(t, bank.ids, id)
		}
	})

	t.Run("oversized request returns whole pool", func(t *testing.T) {
		ids, err := bank.engine.Sample(ctx, models.ScopeSelection{SubthemeIDs: []string{"S"}}, models.FilterAll, "", 100)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"q00", "q01", "q02", "q03"}, ids)
	})

	t.Run("nonexistent group samples empty", func(t *testing.T) {
		ids, err := bank.engine.Sample(ctx, models.ScopeSelection{GroupIDs: []string{"grp-missing"}}, models.FilterAll, "", 5)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("zero k samples nothing", func(t *testing.T) {
		ids, err := bank.engine.Sample(ctx, models.ScopeSelection{}, models.FilterAll, "", 0)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("unanswered excludes answered questions", func(t *testing.T) {
		for _, id := range []string{"q00", "q01"} {
			q := &models.Question{ID: id, ThemeID: "T", SubthemeID: "S", GroupID: "G"}
			bank.markFact(t, ctx, "u9", q, models.FactAnswered)
		}

		ids, err := bank.engine.Sample(ctx, models.ScopeSelection{SubthemeIDs: []string{"S"}}, models.FilterUnanswered, "u9", 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"q02", "q03"}, ids)
	})

	t.Run("bookmarked samples from the fact pool", func(t *testing.T) {
		q := &models.Question{ID: "q07", ThemeID: "T"}
		bank.markFact(t, ctx, "u9", q, models.FactBookmarked)

		ids, err := bank.engine.Sample(ctx, models.ScopeSelection{ThemeIDs: []string{"T"}}, models.FilterBookmarked, "u9", 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"q07"}, ids)
	})
}

func TestSplitQuota(t *testing.T) {
	t.Run("equal split with remainder", func(t *testing.T) {
		assert.Equal(t, []int{4, 3, 3}, splitQuota(10, 3, nil))
	})
	t.Run("weighted split", func(t *testing.T) {
		quotas := splitQuota(10, 2, []float64{3, 1})
		assert.Equal(t, 10, quotas[0]+quotas[1])
		assert.Greater(t, quotas[0], quotas[1])
	})
	t.Run("zero weights fall back to equal", func(t *testing.T) {
		assert.Equal(t, []int{2, 2}, splitQuota(4, 2, []float64{0, 0}))
	})
}
