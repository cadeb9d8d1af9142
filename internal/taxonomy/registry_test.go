package taxonomy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

func TestDimension_PartitionName(t *testing.T) {
	tests := []struct {
		dim  Dimension
		want string
	}{
		{Dimension{Gran: GranularityGlobal}, "records_global"},
		{Dimension{Gran: GranularityTheme}, "records_by_theme"},
		{Dimension{Gran: GranularitySubthemeUngrouped}, "records_by_subtheme_ungrouped"},
		{Dimension{Fact: models.FactAnswered, Gran: GranularityGlobal}, "answered_global"},
		{Dimension{Fact: models.FactIncorrect, Gran: GranularityGroup}, "incorrect_by_group"},
		{Dimension{Fact: models.FactBookmarked, Gran: GranularitySubtheme}, "bookmarked_by_subtheme"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.dim.PartitionName())
	}
}

func TestDimensions_CoversEveryVariant(t *testing.T) {
	dims := Dimensions()
	assert.Len(t, dims, 20)

	names := make(map[string]bool, len(dims))
	for _, d := range dims {
		names[d.PartitionName()] = true
	}
	assert.Len(t, names, 20, "partition names must be unique")
	assert.True(t, names["records_global"])
	assert.True(t, names["bookmarked_by_subtheme_ungrouped"])
}

func TestRecordNamespace(t *testing.T) {
	full := &models.Question{ID: "q1", ThemeID: "t1", SubthemeID: "s1", GroupID: "g1"}
	bare := &models.Question{ID: "q2", ThemeID: "t1"}

	t.Run("fully categorized question", func(t *testing.T) {
		for gran, want := range map[Granularity]string{
			GranularityGlobal:   GlobalNamespace,
			GranularityTheme:    "t1",
			GranularitySubtheme: "s1",
			GranularityGroup:    "g1",
		} {
			ns, ok, err := RecordNamespace(gran, full)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, ns)
		}

		// A grouped question is not part of the ungrouped slice.
		_, ok, err := RecordNamespace(GranularitySubthemeUngrouped, full)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("uncategorized question maps to sentinels", func(t *testing.T) {
		ns, ok, err := RecordNamespace(GranularitySubtheme, bare)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, NoSubtheme, ns)

		ns, ok, err = RecordNamespace(GranularityGroup, bare)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, NoGroup, ns)

		ns, ok, err = RecordNamespace(GranularitySubthemeUngrouped, bare)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, NoSubtheme, ns)
	})

	t.Run("missing theme is a configuration error", func(t *testing.T) {
		_, _, err := RecordNamespace(GranularityTheme, &models.Question{ID: "q3"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, contextutils.ErrMissingDimension))
		assert.False(t, contextutils.IsRetryable(contextutils.ErrMissingDimension))
	})
}

func TestFactNamespace(t *testing.T) {
	q := &models.Question{ID: "q1", ThemeID: "t1", SubthemeID: "s1"}

	ns, ok, err := FactNamespace(GranularityGlobal, "u7", q)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u7", ns)

	ns, ok, err = FactNamespace(GranularityTheme, "u7", q)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u7_t1", ns)

	assert.Equal(t, "u7", UserNamespace("u7", GlobalNamespace))
	assert.Equal(t, "u7_s1", UserNamespace("u7", "s1"))
}
