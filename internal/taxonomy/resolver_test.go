package taxonomy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/config"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
)

// fakeParents is an in-memory ParentReader for resolver tests.
type fakeParents struct {
	subthemeToTheme map[string]string
	groupToSubtheme map[string]string
}

func (f *fakeParents) SubthemeParents(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if theme, ok := f.subthemeToTheme[id]; ok {
			out[id] = theme
		}
	}
	return out, nil
}

func (f *fakeParents) GroupParents(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if sub, ok := f.groupToSubtheme[id]; ok {
			out[id] = sub
		}
	}
	return out, nil
}

func newTestResolver() *Resolver {
	parents := &fakeParents{
		subthemeToTheme: map[string]string{
			"sub-knee":     "theme-ortho",
			"sub-shoulder": "theme-ortho",
			"sub-spine":    "theme-trauma",
		},
		groupToSubtheme: map[string]string{
			"grp-acl":      "sub-knee",
			"grp-meniscus": "sub-knee",
			"grp-cuff":     "sub-shoulder",
		},
	}
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	return NewResolver(parents, logger)
}

func TestResolver_EmptySelectionIsGlobal(t *testing.T) {
	r := newTestResolver()
	descs, err := r.Resolve(context.Background(), models.ScopeSelection{})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, GranularityGlobal, descs[0].Gran)
	assert.Equal(t, GlobalNamespace, descs[0].Namespace)
}

func TestResolver_ThemeOnly(t *testing.T) {
	r := newTestResolver()
	descs, err := r.Resolve(context.Background(), models.ScopeSelection{ThemeIDs: []string{"theme-ortho"}})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, Descriptor{Gran: GranularityTheme, NodeID: "theme-ortho", Namespace: "theme-ortho"}, descs[0])
}

func TestResolver_SubthemeOverridesTheme(t *testing.T) {
	r := newTestResolver()
	descs, err := r.Resolve(context.Background(), models.ScopeSelection{
		ThemeIDs:    []string{"theme-ortho"},
		SubthemeIDs: []string{"sub-knee"},
	})
	require.NoError(t, err)
	require.Len(t, descs, 1, "theme descriptor must be suppressed by its own subtheme")
	assert.Equal(t, Descriptor{Gran: GranularitySubtheme, NodeID: "sub-knee", Namespace: "sub-knee"}, descs[0])
}

func TestResolver_UnrelatedThemeSurvives(t *testing.T) {
	r := newTestResolver()
	descs, err := r.Resolve(context.Background(), models.ScopeSelection{
		ThemeIDs:    []string{"theme-trauma"},
		SubthemeIDs: []string{"sub-knee"},
	})
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, GranularityTheme, descs[0].Gran)
	assert.Equal(t, "theme-trauma", descs[0].Namespace)
	assert.Equal(t, GranularitySubtheme, descs[1].Gran)
}

func TestResolver_ExplicitSubthemeWithGroupUnlocksRemainder(t *testing.T) {
	r := newTestResolver()
	descs, err := r.Resolve(context.Background(), models.ScopeSelection{
		SubthemeIDs: []string{"sub-knee"},
		GroupIDs:    []string{"grp-acl"},
	})
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, Descriptor{Gran: GranularityGroup, NodeID: "grp-acl", Namespace: "grp-acl"}, descs[0])
	assert.Equal(t, Descriptor{Gran: GranularitySubthemeUngrouped, NodeID: "sub-knee", Namespace: "sub-knee"}, descs[1])
}

func TestResolver_GroupAloneDoesNotUnlockSiblings(t *testing.T) {
	r := newTestResolver()
	descs, err := r.Resolve(context.Background(), models.ScopeSelection{
		GroupIDs: []string{"grp-acl"},
	})
	require.NoError(t, err)
	require.Len(t, descs, 1, "implied subtheme must not contribute its remainder")
	assert.Equal(t, GranularityGroup, descs[0].Gran)
	assert.Equal(t, "grp-acl", descs[0].Namespace)
}

func TestResolver_GroupImpliesSubthemeWhichOverridesTheme(t *testing.T) {
	r := newTestResolver()
	descs, err := r.Resolve(context.Background(), models.ScopeSelection{
		ThemeIDs: []string{"theme-ortho"},
		GroupIDs: []string{"grp-acl", "grp-meniscus"},
	})
	require.NoError(t, err)
	require.Len(t, descs, 2, "theme suppressed, groups only, no remainder")
	assert.Equal(t, "grp-acl", descs[0].Namespace)
	assert.Equal(t, "grp-meniscus", descs[1].Namespace)
}

func TestResolver_NonexistentGroupStillDescribed(t *testing.T) {
	r := newTestResolver()
	descs, err := r.Resolve(context.Background(), models.ScopeSelection{
		GroupIDs: []string{"grp-missing"},
	})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, Descriptor{Gran: GranularityGroup, NodeID: "grp-missing", Namespace: "grp-missing"}, descs[0])
}

func TestResolver_DuplicatesAndBlanksIgnored(t *testing.T) {
	r := newTestResolver()
	descs, err := r.Resolve(context.Background(), models.ScopeSelection{
		ThemeIDs: []string{"theme-trauma", "theme-trauma", ""},
	})
	require.NoError(t, err)
	require.Len(t, descs, 1)
}

func TestResolver_DeterministicOrder(t *testing.T) {
	r := newTestResolver()
	sel := models.ScopeSelection{
		SubthemeIDs: []string{"sub-shoulder", "sub-knee"},
		GroupIDs:    []string{"grp-meniscus", "grp-acl", "grp-cuff"},
	}

	first, err := r.Resolve(context.Background(), sel)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(context.Background(), sel)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// Descriptors must be pairwise disjoint slices of the bank: every
	// group appears once and each explicit subtheme contributes exactly
	// its remainder.
	require.Len(t, first, 5)
}
