package taxonomy

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
)

// ParentReader resolves taxonomy parent links in batch. Implemented by the
// taxonomy service over the primary store.
type ParentReader interface {
	// SubthemeParents returns subtheme id -> theme id for the given ids.
	// Unknown ids are simply absent from the result.
	SubthemeParents(ctx context.Context, ids []string) (map[string]string, error)
	// GroupParents returns group id -> subtheme id for the given ids.
	// Unknown ids are simply absent from the result.
	GroupParents(ctx context.Context, ids []string) (map[string]string, error)
}

// Descriptor is one disjoint, directly queryable slice of the question bank:
// a granularity plus the namespace to consult in that granularity's
// partitions. Gran GranularitySubthemeUngrouped means "this subtheme's
// questions that belong to no group".
type Descriptor struct {
	Gran      Granularity
	NodeID    string
	Namespace string
}

// Resolver turns hierarchical scope selections into ordered, non-overlapping
// descriptor lists using most-specific-wins precedence.
type Resolver struct {
	parents ParentReader
	logger  *observability.Logger
}

// NewResolver creates a resolver over the given parent reader.
func NewResolver(parents ParentReader, logger *observability.Logger) *Resolver {
	return &Resolver{parents: parents, logger: logger}
}

// Resolve maps a selection to disjoint descriptors. Precedence is
// group > subtheme > theme:
//
//   - A selected group always yields its own descriptor, even when its parent
//     subtheme is unknown (the descriptor then counts zero).
//   - A subtheme with selected groups beneath it contributes its non-grouped
//     remainder only when it was itself explicitly selected. A group
//     selection alone does not unlock its siblings.
//   - A theme is suppressed entirely when any of its subthemes is in play.
//   - An empty selection resolves to the single global descriptor.
//
// The output order is deterministic for a given selection.
func (r *Resolver) Resolve(ctx context.Context, sel models.ScopeSelection) (result0 []Descriptor, err error) {
	ctx, span := observability.TraceTaxonomyFunction(ctx, "Resolve",
		attribute.Int("scope.themes", len(sel.ThemeIDs)),
		attribute.Int("scope.subthemes", len(sel.SubthemeIDs)),
		attribute.Int("scope.groups", len(sel.GroupIDs)),
	)
	defer observability.FinishSpan(span, &err)

	if sel.Empty() {
		return []Descriptor{{Gran: GranularityGlobal, NodeID: GlobalNamespace, Namespace: GlobalNamespace}}, nil
	}

	themes := dedupe(sel.ThemeIDs)
	explicitSubthemes := dedupe(sel.SubthemeIDs)
	groups := dedupe(sel.GroupIDs)

	groupParents, err := r.parents.GroupParents(ctx, groups)
	if err != nil {
		return nil, err
	}

	// Subthemes in play: explicitly selected ones plus parents implied by
	// selected groups.
	explicit := make(map[string]bool, len(explicitSubthemes))
	for _, s := range explicitSubthemes {
		explicit[s] = true
	}
	processing := make(map[string]bool, len(explicitSubthemes))
	for _, s := range explicitSubthemes {
		processing[s] = true
	}
	groupsBySubtheme := make(map[string][]string)
	var orphanGroups []string
	for _, g := range groups {
		parent, known := groupParents[g]
		if !known {
			orphanGroups = append(orphanGroups, g)
			continue
		}
		processing[parent] = true
		groupsBySubtheme[parent] = append(groupsBySubtheme[parent], g)
	}

	processingList := make([]string, 0, len(processing))
	for s := range processing {
		processingList = append(processingList, s)
	}
	sort.Strings(processingList)

	subthemeParents, err := r.parents.SubthemeParents(ctx, processingList)
	if err != nil {
		return nil, err
	}

	var out []Descriptor

	// Themes first, unless overridden by one of their subthemes.
	overridden := make(map[string]bool, len(processingList))
	for _, s := range processingList {
		if theme, ok := subthemeParents[s]; ok {
			overridden[theme] = true
		}
	}
	sort.Strings(themes)
	for _, t := range themes {
		if overridden[t] {
			continue
		}
		out = append(out, Descriptor{Gran: GranularityTheme, NodeID: t, Namespace: t})
	}

	for _, s := range processingList {
		selected := groupsBySubtheme[s]
		if len(selected) == 0 {
			// Only reachable when explicitly selected.
			out = append(out, Descriptor{Gran: GranularitySubtheme, NodeID: s, Namespace: s})
			continue
		}
		sort.Strings(selected)
		for _, g := range selected {
			out = append(out, Descriptor{Gran: GranularityGroup, NodeID: g, Namespace: g})
		}
		if explicit[s] {
			out = append(out, Descriptor{Gran: GranularitySubthemeUngrouped, NodeID: s, Namespace: s})
		}
	}

	// Groups whose parent subtheme is unknown still get a descriptor; they
	// count zero and sample empty rather than erroring.
	sort.Strings(orphanGroups)
	for _, g := range orphanGroups {
		out = append(out, Descriptor{Gran: GranularityGroup, NodeID: g, Namespace: g})
	}

	return out, nil
}

// RecordDimension returns the record partition a descriptor is counted in.
func (d Descriptor) RecordDimension() Dimension {
	return Dimension{Gran: d.Gran}
}

// FactDimension returns the user-scoped fact partition for a descriptor.
func (d Descriptor) FactDimension(fact models.FactKind) Dimension {
	return Dimension{Fact: fact, Gran: d.Gran}
}

// UserNamespace rescopes the descriptor's namespace to a user for fact
// partitions.
func (d Descriptor) UserNamespace(userID string) string {
	return UserNamespace(userID, d.Namespace)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
