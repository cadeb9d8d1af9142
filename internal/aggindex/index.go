// Package aggindex maintains persisted order-statistics partitions. Each
// partition groups entity keys into namespaces; within a namespace keys are
// kept in sorted order with O(log n) count, membership, and access-by-rank.
// Entries live both in an in-memory tree and in a pebble keyspace, so the
// process can restart without a rebuild.
package aggindex

import (
	"bytes"
	"context"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.opentelemetry.io/otel/attribute"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/config"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

const keySep = 0x00

// Store owns the pebble database backing every partition.
type Store struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	logger    *observability.Logger

	mu         sync.Mutex
	partitions map[string]*Partition
}

// Open opens (or creates) the index database at cfg.Path.
func Open(cfg config.IndexConfig, logger *observability.Logger) (result0 *Store, err error) {
	_, span := observability.TraceIndexFunction(context.Background(), "Open",
		attribute.String("index.path", cfg.Path),
		attribute.Bool("index.sync_writes", cfg.SyncWrites),
	)
	defer observability.FinishSpan(span, &err)

	db, err := pebble.Open(cfg.Path, &pebble.Options{})
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to open index database")
	}

	writeOpts := pebble.NoSync
	if cfg.SyncWrites {
		writeOpts = pebble.Sync
	}

	return &Store{
		db:         db,
		writeOpts:  writeOpts,
		logger:     logger,
		partitions: make(map[string]*Partition),
	}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return contextutils.WrapError(err, "failed to close index database")
	}
	return nil
}

// Partition returns the named partition, creating its in-memory state on
// first access. Entries already on disk are loaded lazily on first use.
func (s *Store) Partition(name string) *Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[name]
	if !ok {
		p = &Partition{name: name, store: s, trees: make(map[string]*treap)}
		s.partitions[name] = p
	}
	return p
}

// Partition is one logical keyspace of the index, holding one order-statistics
// tree per namespace. All methods are safe for concurrent use.
type Partition struct {
	name  string
	store *Store

	mu     sync.RWMutex
	loaded bool
	trees  map[string]*treap
}

// Name returns the partition name.
func (p *Partition) Name() string {
	return p.name
}

// ensureLoaded replays the partition's on-disk entries into the in-memory
// trees. Caller must hold p.mu for writing.
func (p *Partition) ensureLoaded() error {
	if p.loaded {
		return nil
	}

	lower := partitionPrefix(p.name)
	iter, err := p.store.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound(lower),
	})
	if err != nil {
		return contextutils.WrapError(err, "failed to open index iterator")
	}
	defer func() {
		_ = iter.Close()
	}()

	for iter.First(); iter.Valid(); iter.Next() {
		ns, entity, ok := splitEntryKey(p.name, iter.Key())
		if !ok {
			continue
		}
		tree, found := p.trees[ns]
		if !found {
			tree = newTreap()
			p.trees[ns] = tree
		}
		tree.Insert(entity)
	}
	if err := iter.Error(); err != nil {
		return contextutils.WrapError(err, "index iterator failed")
	}

	p.loaded = true
	return nil
}

// Insert adds an entity key to a namespace. Inserting a key that is already
// present is a no-op.
func (p *Partition) Insert(ctx context.Context, namespace, entityKey string) error {
	_, err := p.InsertIfAbsent(ctx, namespace, entityKey)
	return err
}

// InsertIfAbsent adds an entity key to a namespace and reports whether the
// key was newly inserted.
func (p *Partition) InsertIfAbsent(ctx context.Context, namespace, entityKey string) (result0 bool, err error) {
	_, span := observability.TraceIndexFunction(ctx, "InsertIfAbsent",
		observability.AttributePartition(p.name),
		observability.AttributeNamespace(namespace),
	)
	defer observability.FinishSpan(span, &err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return false, err
	}

	tree, ok := p.trees[namespace]
	if !ok {
		tree = newTreap()
		p.trees[namespace] = tree
	}
	if !tree.Insert(entityKey) {
		return false, nil
	}

	if err := p.store.db.Set(entryKey(p.name, namespace, entityKey), nil, p.store.writeOpts); err != nil {
		// Keep memory and disk in lockstep on failure.
		tree.Delete(entityKey)
		return false, contextutils.WrapError(err, "failed to persist index entry")
	}
	return true, nil
}

// Delete removes an entity key from a namespace. Deleting an absent key is a no-op.
func (p *Partition) Delete(ctx context.Context, namespace, entityKey string) (err error) {
	_, span := observability.TraceIndexFunction(ctx, "Delete",
		observability.AttributePartition(p.name),
		observability.AttributeNamespace(namespace),
	)
	defer observability.FinishSpan(span, &err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return err
	}

	tree, ok := p.trees[namespace]
	if !ok || !tree.Delete(entityKey) {
		return nil
	}
	if tree.Size() == 0 {
		delete(p.trees, namespace)
	}

	if err := p.store.db.Delete(entryKey(p.name, namespace, entityKey), p.store.writeOpts); err != nil {
		return contextutils.WrapError(err, "failed to delete index entry")
	}
	return nil
}

// Count returns the number of entries in a namespace. Unknown namespaces count zero.
func (p *Partition) Count(namespace string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return 0, err
	}
	tree, ok := p.trees[namespace]
	if !ok {
		return 0, nil
	}
	return tree.Size(), nil
}

// CountRange returns the number of entries in a namespace whose keys fall in
// the half-open interval [lo, hi).
func (p *Partition) CountRange(namespace, lo, hi string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return 0, err
	}
	tree, ok := p.trees[namespace]
	if !ok {
		return 0, nil
	}
	return tree.CountRange(lo, hi), nil
}

// Has reports whether an entity key is present in a namespace.
func (p *Partition) Has(namespace, entityKey string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return false, err
	}
	tree, ok := p.trees[namespace]
	if !ok {
		return false, nil
	}
	return tree.Has(entityKey), nil
}

// At returns the entity key at the given zero-based rank within a namespace.
// Returns a *RangeError when the rank is outside the namespace's current size.
func (p *Partition) At(namespace string, rank int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return "", err
	}
	tree, ok := p.trees[namespace]
	if !ok {
		return "", &RangeError{Partition: p.name, Namespace: namespace, Rank: rank, Size: 0}
	}
	key, ok := tree.At(rank)
	if !ok {
		return "", &RangeError{Partition: p.name, Namespace: namespace, Rank: rank, Size: tree.Size()}
	}
	return key, nil
}

// Keys returns every entity key in a namespace in sorted order. Used by the
// repair verification pass; not a hot path.
func (p *Partition) Keys(namespace string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	tree, ok := p.trees[namespace]
	if !ok {
		return nil, nil
	}
	return tree.Keys(), nil
}

// Namespaces returns the names of all non-empty namespaces in the partition.
func (p *Partition) Namespaces() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(p.trees))
	for ns := range p.trees {
		out = append(out, ns)
	}
	return out, nil
}

// Clear removes every entry in a namespace with a single range deletion.
func (p *Partition) Clear(ctx context.Context, namespace string) (err error) {
	_, span := observability.TraceIndexFunction(ctx, "Clear",
		observability.AttributePartition(p.name),
		observability.AttributeNamespace(namespace),
	)
	defer observability.FinishSpan(span, &err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return err
	}

	lower := namespacePrefix(p.name, namespace)
	if err := p.store.db.DeleteRange(lower, keyUpperBound(lower), p.store.writeOpts); err != nil {
		return contextutils.WrapError(err, "failed to clear index namespace")
	}
	delete(p.trees, namespace)
	return nil
}

// ClearAll removes every entry in the partition with a single range deletion.
func (p *Partition) ClearAll(ctx context.Context) (err error) {
	_, span := observability.TraceIndexFunction(ctx, "ClearAll",
		observability.AttributePartition(p.name),
	)
	defer observability.FinishSpan(span, &err)

	p.mu.Lock()
	defer p.mu.Unlock()

	lower := partitionPrefix(p.name)
	if err := p.store.db.DeleteRange(lower, keyUpperBound(lower), p.store.writeOpts); err != nil {
		return contextutils.WrapError(err, "failed to clear index partition")
	}
	p.trees = make(map[string]*treap)
	p.loaded = true
	return nil
}

// Key layout: partition \x00 namespace \x00 entityKey. Partition and
// namespace names never contain NUL bytes.

func partitionPrefix(partition string) []byte {
	buf := make([]byte, 0, len(partition)+1)
	buf = append(buf, partition...)
	return append(buf, keySep)
}

func namespacePrefix(partition, namespace string) []byte {
	buf := make([]byte, 0, len(partition)+len(namespace)+2)
	buf = append(buf, partition...)
	buf = append(buf, keySep)
	buf = append(buf, namespace...)
	return append(buf, keySep)
}

func entryKey(partition, namespace, entityKey string) []byte {
	buf := namespacePrefix(partition, namespace)
	return append(buf, entityKey...)
}

func splitEntryKey(partition string, key []byte) (namespace, entityKey string, ok bool) {
	rest := key[len(partition)+1:]
	i := bytes.IndexByte(rest, keySep)
	if i < 0 {
		return "", "", false
	}
	return string(rest[:i]), string(rest[i+1:]), true
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
