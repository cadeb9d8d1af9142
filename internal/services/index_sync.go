package services

import (
	"context"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/aggindex"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/taxonomy"
)

// indexQuestion adds a question to every record partition whose dimension
// applies to it. Idempotent.
func indexQuestion(ctx context.Context, store *aggindex.Store, q *models.Question) error {
	for _, gran := range taxonomy.Granularities {
		ns, ok, err := taxonomy.RecordNamespace(gran, q)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p := store.Partition(taxonomy.Dimension{Gran: gran}.PartitionName())
		if _, err := p.InsertIfAbsent(ctx, ns, q.ID); err != nil {
			return err
		}
	}
	return nil
}

// deindexQuestion removes a question from every record partition.
func deindexQuestion(ctx context.Context, store *aggindex.Store, q *models.Question) error {
	for _, gran := range taxonomy.Granularities {
		ns, ok, err := taxonomy.RecordNamespace(gran, q)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p := store.Partition(taxonomy.Dimension{Gran: gran}.PartitionName())
		if err := p.Delete(ctx, ns, q.ID); err != nil {
			return err
		}
	}
	return nil
}

// indexUserFact adds a (user, question) fact to every fact partition whose
// dimension applies. Idempotent.
func indexUserFact(ctx context.Context, store *aggindex.Store, userID string, q *models.Question, kind models.FactKind) error {
	for _, gran := range taxonomy.Granularities {
		ns, ok, err := taxonomy.FactNamespace(gran, userID, q)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p := store.Partition(taxonomy.Dimension{Fact: kind, Gran: gran}.PartitionName())
		if _, err := p.InsertIfAbsent(ctx, ns, q.ID); err != nil {
			return err
		}
	}
	return nil
}

// deindexUserFact removes a (user, question) fact from every fact partition.
func deindexUserFact(ctx context.Context, store *aggindex.Store, userID string, q *models.Question, kind models.FactKind) error {
	for _, gran := range taxonomy.Granularities {
		ns, ok, err := taxonomy.FactNamespace(gran, userID, q)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p := store.Partition(taxonomy.Dimension{Fact: kind, Gran: gran}.PartitionName())
		if err := p.Delete(ctx, ns, q.ID); err != nil {
			return err
		}
	}
	return nil
}
