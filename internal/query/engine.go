// Package query answers count and sample requests over the aggregate
// partitions. It composes the scope resolver's disjoint descriptors with a
// filter mode and never touches the primary store.
package query

import (
	"context"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/aggindex"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/taxonomy"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

// defaultMaxAttempts bounds the retries a single sample slot gets on rank
// collisions or entities that vanish under a concurrent delete.
const defaultMaxAttempts = 20

// Engine serves counts and samples. Safe for concurrent use.
type Engine struct {
	store       *aggindex.Store
	resolver    *taxonomy.Resolver
	logger      *observability.Logger
	maxAttempts int
}

// NewEngine creates a query engine over the given index store and resolver.
func NewEngine(store *aggindex.Store, resolver *taxonomy.Resolver, logger *observability.Logger) *Engine {
	return &Engine{
		store:       store,
		resolver:    resolver,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
}

// Count returns the number of questions in the selection under the given
// filter mode. User-scoped modes require a user id.
func (e *Engine) Count(ctx context.Context, sel models.ScopeSelection, mode models.FilterMode, userID string) (result0 int, err error) {
	ctx, span := observability.TraceQueryFunction(ctx, "Count",
		observability.AttributeFilterMode(string(mode)),
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	descs, err := e.resolveFor(ctx, sel, mode, userID)
	if err != nil {
		return 0, err
	}

	// Descriptors are disjoint, so totals are plain sums.
	switch mode {
	case models.FilterAll:
		return e.sumRecordCounts(descs)
	case models.FilterIncorrect, models.FilterBookmarked:
		return e.sumFactCounts(descs, models.FactKind(mode), userID)
	case models.FilterUnanswered:
		records, err := e.sumRecordCounts(descs)
		if err != nil {
			return 0, err
		}
		answered, err := e.sumFactCounts(descs, models.FactAnswered, userID)
		if err != nil {
			return 0, err
		}
		// Reads race with writes; a transient negative just floors to zero.
		if answered >= records {
			return 0, nil
		}
		return records - answered, nil
	}
	return 0, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown filter mode %q", mode)
}

// DescriptorCount returns the count of a single resolved descriptor under the
// given mode. Used for sampling quotas.
func (e *Engine) DescriptorCount(desc taxonomy.Descriptor, mode models.FilterMode, userID string) (int, error) {
	switch mode {
	case models.FilterAll, models.FilterUnanswered:
		// Unanswered samples by rejection from the record partition, so its
		// usable pool is bounded by the record count.
		return e.recordCount(desc)
	case models.FilterIncorrect, models.FilterBookmarked:
		return e.factCount(desc, models.FactKind(mode), userID)
	}
	return 0, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown filter mode %q", mode)
}

func (e *Engine) resolveFor(ctx context.Context, sel models.ScopeSelection, mode models.FilterMode, userID string) ([]taxonomy.Descriptor, error) {
	if !mode.Valid() {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown filter mode %q", mode)
	}
	if mode.UserScoped() && userID == "" {
		return nil, contextutils.WrapErrorf(contextutils.ErrMissingRequired, "filter mode %q requires a user id", mode)
	}
	return e.resolver.Resolve(ctx, sel)
}

func (e *Engine) recordCount(desc taxonomy.Descriptor) (int, error) {
	p := e.store.Partition(desc.RecordDimension().PartitionName())
	return p.Count(desc.Namespace)
}

func (e *Engine) factCount(desc taxonomy.Descriptor, fact models.FactKind, userID string) (int, error) {
	p := e.store.Partition(desc.FactDimension(fact).PartitionName())
	return p.Count(desc.UserNamespace(userID))
}

func (e *Engine) sumRecordCounts(descs []taxonomy.Descriptor) (int, error) {
	total := 0
	for _, d := range descs {
		n, err := e.recordCount(d)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (e *Engine) sumFactCounts(descs []taxonomy.Descriptor, fact models.FactKind, userID string) (int, error) {
	total := 0
	for _, d := range descs {
		n, err := e.factCount(d, fact, userID)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
