package query

import (
	"context"
	"errors"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/taxonomy"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

// Sample returns up to k distinct question ids drawn uniformly from the
// selection under the given filter mode. Returning fewer than k is a normal
// outcome when the pool is smaller than requested or concurrent deletes
// exhaust the retry budget.
func (e *Engine) Sample(ctx context.Context, sel models.ScopeSelection, mode models.FilterMode, userID string, k int) (result0 []string, err error) {
	ctx, span := observability.TraceQueryFunction(ctx, "Sample",
		observability.AttributeFilterMode(string(mode)),
		observability.AttributeUserID(userID),
		observability.AttributeSampleSize(k),
	)
	defer observability.FinishSpan(span, &err)

	if k <= 0 {
		return nil, nil
	}

	descs, err := e.resolveFor(ctx, sel, mode, userID)
	if err != nil {
		return nil, err
	}

	return e.sampleAcrossScopes(ctx, descs, mode, userID, k, nil)
}

// sampleAcrossScopes allocates a per-descriptor quota (equal by default, or
// proportional to weights), fans the descriptor draws out concurrently,
// then deduplicates, shuffles, and truncates to totalK.
func (e *Engine) sampleAcrossScopes(ctx context.Context, descs []taxonomy.Descriptor, mode models.FilterMode, userID string, totalK int, weights []float64) ([]string, error) {
	if len(descs) == 0 {
		return nil, nil
	}

	quotas := splitQuota(totalK, len(descs), weights)

	results := make([][]string, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	for i, desc := range descs {
		if quotas[i] == 0 {
			continue
		}
		g.Go(func() error {
			ids, err := e.sampleK(gctx, desc, mode, userID, quotas[i])
			if err != nil {
				return err
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Descriptors are disjoint record slices, but a racing re-categorization
	// can still surface the same id twice; dedupe defensively.
	seen := make(map[string]bool, totalK)
	merged := make([]string, 0, totalK)
	for _, ids := range results {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			merged = append(merged, id)
		}
	}

	rand.Shuffle(len(merged), func(i, j int) {
		merged[i], merged[j] = merged[j], merged[i]
	})
	if len(merged) > totalK {
		merged = merged[:totalK]
	}
	return merged, nil
}

// sampleK draws up to k distinct ids from one descriptor without replacement.
// Each slot gets a bounded retry budget for rank collisions, vanished
// entities, and (in unanswered mode) rejected answered questions.
func (e *Engine) sampleK(ctx context.Context, desc taxonomy.Descriptor, mode models.FilterMode, userID string, k int) ([]string, error) {
	partition, namespace, err := e.samplePool(desc, mode, userID)
	if err != nil {
		return nil, err
	}

	exclude := func(string) (bool, error) { return false, nil }
	if mode == models.FilterUnanswered {
		answered := e.store.Partition(desc.FactDimension(models.FactAnswered).PartitionName())
		answeredNS := desc.UserNamespace(userID)
		exclude = func(id string) (bool, error) {
			return answered.Has(answeredNS, id)
		}
	}

	usedRanks := make(map[int]bool, k)
	out := make([]string, 0, k)
	seen := make(map[string]bool, k)

	for slot := 0; slot < k; slot++ {
		id, found, err := e.drawSlot(ctx, partition, namespace, usedRanks, seen, exclude)
		if err != nil {
			return nil, err
		}
		if !found {
			// Pool exhausted or retry budget spent. A short result is fine.
			break
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// drawSlot attempts to fill one sample slot.
func (e *Engine) drawSlot(ctx context.Context, partition partitionReader, namespace string, usedRanks map[int]bool, seen map[string]bool, exclude func(string) (bool, error)) (string, bool, error) {
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}

		// Re-read the count every attempt; concurrent writers move it.
		count, err := partition.Count(namespace)
		if err != nil {
			return "", false, err
		}
		if count == 0 || len(usedRanks) >= count {
			return "", false, nil
		}

		r := rand.IntN(count)
		if usedRanks[r] {
			continue
		}

		id, err := partition.At(namespace, r)
		if err != nil {
			if errors.Is(err, contextutils.ErrRankOutOfRange) {
				// Entity vanished under us; try another rank.
				continue
			}
			return "", false, err
		}

		usedRanks[r] = true
		if seen[id] {
			continue
		}
		if skip, err := exclude(id); err != nil {
			return "", false, err
		} else if skip {
			continue
		}
		return id, true, nil
	}
	return "", false, nil
}

// samplePool picks the partition and namespace a descriptor samples from
// under a filter mode. Unanswered mode samples the record pool and rejects
// answered ids during the draw.
func (e *Engine) samplePool(desc taxonomy.Descriptor, mode models.FilterMode, userID string) (partitionReader, string, error) {
	switch mode {
	case models.FilterAll, models.FilterUnanswered:
		return e.store.Partition(desc.RecordDimension().PartitionName()), desc.Namespace, nil
	case models.FilterIncorrect, models.FilterBookmarked:
		return e.store.Partition(desc.FactDimension(models.FactKind(mode)).PartitionName()), desc.UserNamespace(userID), nil
	}
	return nil, "", contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown filter mode %q", mode)
}

// partitionReader is the slice of the partition API sampling needs.
type partitionReader interface {
	Count(namespace string) (int, error)
	At(namespace string, rank int) (string, error)
}

// splitQuota divides totalK across n descriptors. With no weights every
// descriptor gets an equal share; otherwise shares are proportional.
// Remainders go to the first descriptors so quotas always sum to at least
// totalK's distributable part.
func splitQuota(totalK, n int, weights []float64) []int {
	quotas := make([]int, n)
	if len(weights) != n {
		base := totalK / n
		extra := totalK % n
		for i := range quotas {
			quotas[i] = base
			if i < extra {
				quotas[i]++
			}
		}
		return quotas
	}

	var sum float64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum == 0 {
		return splitQuota(totalK, n, nil)
	}

	assigned := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		quotas[i] = int(float64(totalK) * w / sum)
		assigned += quotas[i]
	}
	for i := 0; assigned < totalK && i < n; i++ {
		if len(weights) == 0 || weights[i] > 0 {
			quotas[i]++
			assigned++
		}
	}
	return quotas
}
