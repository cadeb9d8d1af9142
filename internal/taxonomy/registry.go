// Package taxonomy maps questions and selections onto aggregate partitions.
// The registry side is pure: given a question (and optionally a user) it names
// the namespace the question belongs to in each dimension. The resolver side
// turns a hierarchical selection into disjoint queryable descriptors.
package taxonomy

import (
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

// Granularity is the taxonomy level an aggregate dimension slices by.
type Granularity string

const (
	// GranularityGlobal is the whole question bank.
	GranularityGlobal Granularity = "global"
	// GranularityTheme slices by theme id.
	GranularityTheme Granularity = "theme"
	// GranularitySubtheme slices by subtheme id.
	GranularitySubtheme Granularity = "subtheme"
	// GranularitySubthemeUngrouped slices by subtheme id but only holds
	// questions that belong to no group. It makes the "rest of a subtheme"
	// remainder directly countable and sampleable.
	GranularitySubthemeUngrouped Granularity = "subtheme_ungrouped"
	// GranularityGroup slices by group id.
	GranularityGroup Granularity = "group"
)

// Granularities lists every granularity in a stable order.
var Granularities = []Granularity{
	GranularityGlobal,
	GranularityTheme,
	GranularitySubtheme,
	GranularitySubthemeUngrouped,
	GranularityGroup,
}

// Sentinel namespaces for questions lacking an optional taxonomy level,
// so un-categorized questions stay countable. Real ids are UUIDs and can
// never collide with these.
const (
	NoSubtheme = "no-subtheme"
	NoGroup    = "no-group"
)

// GlobalNamespace is the single namespace of every global-granularity
// record partition.
const GlobalNamespace = "global"

// userNodeSep joins a user id and a taxonomy node id into a composite
// namespace. Ids are UUIDs, which never contain underscores.
const userNodeSep = "_"

// Dimension identifies one physical aggregate partition: a fact kind
// (empty for plain record partitions) at a granularity.
type Dimension struct {
	Fact models.FactKind
	Gran Granularity
}

// PartitionName returns the stable storage name of the dimension,
// e.g. "records_by_theme" or "answered_global".
func (d Dimension) PartitionName() string {
	base := "records"
	if d.Fact != "" {
		base = string(d.Fact)
	}
	if d.Gran == GranularityGlobal {
		return base + "_global"
	}
	return base + "_by_" + string(d.Gran)
}

// Dimensions returns every aggregate dimension the system maintains:
// the four fact variants (records plus answered, incorrect, bookmarked)
// across all five granularities.
func Dimensions() []Dimension {
	facts := append([]models.FactKind{""}, models.FactKinds...)
	out := make([]Dimension, 0, len(facts)*len(Granularities))
	for _, fact := range facts {
		for _, gran := range Granularities {
			out = append(out, Dimension{Fact: fact, Gran: gran})
		}
	}
	return out
}

// RecordNamespace maps a question to its namespace within a record dimension
// at the given granularity. ok is false when the question does not belong to
// the dimension at all (a grouped question is not in the ungrouped slice).
// A question without a theme is a configuration error.
func RecordNamespace(gran Granularity, q *models.Question) (ns string, ok bool, err error) {
	switch gran {
	case GranularityGlobal:
		return GlobalNamespace, true, nil
	case GranularityTheme:
		if q.ThemeID == "" {
			return "", false, contextutils.WrapErrorf(contextutils.ErrMissingDimension,
				"question %s has no theme", q.ID)
		}
		return q.ThemeID, true, nil
	case GranularitySubtheme:
		if q.SubthemeID == "" {
			return NoSubtheme, true, nil
		}
		return q.SubthemeID, true, nil
	case GranularitySubthemeUngrouped:
		if q.GroupID != "" {
			return "", false, nil
		}
		if q.SubthemeID == "" {
			return NoSubtheme, true, nil
		}
		return q.SubthemeID, true, nil
	case GranularityGroup:
		if q.GroupID == "" {
			return NoGroup, true, nil
		}
		return q.GroupID, true, nil
	}
	return "", false, contextutils.WrapErrorf(contextutils.ErrInvalidInput,
		"unknown granularity %q", gran)
}

// FactNamespace maps a (user, question) pair to its namespace within a
// user-scoped fact dimension at the given granularity.
func FactNamespace(gran Granularity, userID string, q *models.Question) (ns string, ok bool, err error) {
	node, ok, err := RecordNamespace(gran, q)
	if err != nil || !ok {
		return "", ok, err
	}
	if gran == GranularityGlobal {
		return userID, true, nil
	}
	return userID + userNodeSep + node, true, nil
}

// UserNamespace derives the user-scoped variant of a record namespace.
// The resolver hands out record namespaces; filter modes rescope them
// to the requesting user with this.
func UserNamespace(userID, recordNamespace string) string {
	if recordNamespace == GlobalNamespace {
		return userID
	}
	return userID + userNodeSep + recordNamespace
}
