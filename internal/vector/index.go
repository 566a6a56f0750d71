// Package vector provides an append-only, persistent vector index with exact
// cosine-similarity search.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/pkg/utils"
)

// Item is a vector and the chunk it was computed from, as passed to Add.
type Item struct {
	Vector []float32
	Chunk  models.Chunk
}

// IndexEntry is a stored item with its insertion id.
type IndexEntry struct {
	ID     uint64
	Vector []float32
	Chunk  models.Chunk

	norm float64
}

// state is an immutable view of the index. Later states may share the backing
// array of entries, but never write below the length of a published state.
type state struct {
	id      string
	dim     int
	nextID  uint64
	entries []IndexEntry
}

// Index is safe for concurrent use: any number of searches may run alongside one writer.
type Index struct {
	// writeMu serializes Add, Commit and Persist.
	writeMu sync.Mutex
	// mu guards only the st pointer.
	mu     sync.RWMutex
	st     *state
	logger *zap.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) {
		ix.logger = l
	}
}

// New returns an empty index with a fresh ID. Its dimension is fixed by the first insertion.
func New(opts ...Option) *Index {
	return newIndex(&state{id: uuid.NewString()}, opts)
}

func newIndex(st *state, opts []Option) *Index {
	ix := &Index{st: st}
	for _, o := range opts {
		o(ix)
	}
	ix.logger = utils.OrNop(ix.logger)
	return ix
}

// Open loads the snapshot at path, or returns an empty index when none exists.
// found reports whether a snapshot was loaded. A corrupt snapshot is an error.
func Open(path string, opts ...Option) (ix *Index, found bool, err error) {
	ix, err = Load(path, opts...)
	if errors.Is(err, ErrSnapshotNotFound) {
		return New(opts...), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ix, true, nil
}

// Load restores an index from the snapshot at path. It returns ErrSnapshotNotFound
// when the file does not exist.
func Load(path string, opts ...Option) (*Index, error) {
	st, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}
	ix := newIndex(st, opts)
	ix.logger.Info("vector index loaded",
		zap.String("path", path),
		zap.String("id", st.id),
		zap.Int("entries", len(st.entries)),
		zap.Int("dimension", st.dim))
	return ix, nil
}

func (ix *Index) current() *state {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.st
}

func (ix *Index) publish(st *state) {
	ix.mu.Lock()
	ix.st = st
	ix.mu.Unlock()
}

// ID identifies this index and every snapshot written from it. A rebuilt index
// gets a new ID, so records keyed on it never outlive the entries they describe.
func (ix *Index) ID() string {
	return ix.current().id
}

// Size returns the number of entries.
func (ix *Index) Size() int {
	return len(ix.current().entries)
}

// Dimension returns the vector dimension, or 0 while the index is empty.
func (ix *Index) Dimension() int {
	return ix.current().dim
}

// Add inserts items in order and returns their ids. The batch is all-or-nothing:
// if any vector is empty or its dimension differs from the others or from the
// index, nothing is inserted and the error wraps models.ErrDimensionMismatch.
// Add does not persist; use Commit for durable inserts.
func (ix *Index) Add(ctx context.Context, items []Item) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	next, ids, err := extend(ix.current(), items)
	if err != nil {
		return nil, err
	}
	ix.publish(next)
	return ids, nil
}

// Commit inserts items like Add and writes the resulting index to path before
// making it visible. If the snapshot cannot be written, the in-memory index is
// unchanged and the error wraps models.ErrPersist.
func (ix *Index) Commit(ctx context.Context, items []Item, path string) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	cur := ix.current()
	next, ids, err := extend(cur, items)
	if err != nil {
		return nil, err
	}
	if next == cur {
		return ids, nil
	}
	if err := writeSnapshot(path, next); err != nil {
		return nil, err
	}
	ix.publish(next)
	ix.logger.Debug("vector index committed",
		zap.Int("added", len(ids)),
		zap.Int("entries", len(next.entries)))
	return ids, nil
}

// Persist writes the current index to path atomically.
func (ix *Index) Persist(path string) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	return writeSnapshot(path, ix.current())
}

// extend returns cur plus items as a new state. An empty batch returns cur itself.
func extend(cur *state, items []Item) (*state, []uint64, error) {
	if len(items) == 0 {
		return cur, nil, nil
	}
	dim := cur.dim
	if dim == 0 {
		dim = len(items[0].Vector)
	}
	for i, it := range items {
		if len(it.Vector) == 0 {
			return nil, nil, fmt.Errorf("%w: item %d has an empty vector", models.ErrDimensionMismatch, i)
		}
		if len(it.Vector) != dim {
			return nil, nil, fmt.Errorf("%w: item %d has dimension %d, index has %d",
				models.ErrDimensionMismatch, i, len(it.Vector), dim)
		}
	}

	ids := make([]uint64, len(items))
	added := make([]IndexEntry, len(items))
	for i, it := range items {
		vec := make([]float32, dim)
		copy(vec, it.Vector)
		ids[i] = cur.nextID + uint64(i)
		added[i] = IndexEntry{ID: ids[i], Vector: vec, Chunk: it.Chunk, norm: utils.Norm(vec)}
	}
	// Appending may reuse spare capacity beyond len(cur.entries); readers of cur never look there.
	return &state{
		id:      cur.id,
		dim:     dim,
		nextID:  cur.nextID + uint64(len(items)),
		entries: append(cur.entries, added...),
	}, ids, nil
}

// Search returns up to k entries most similar to query by cosine similarity,
// ordered by descending score with ties broken by ascending id. It returns an
// empty result when k <= 0 or the index is empty, and an error wrapping
// models.ErrDimensionMismatch when the query dimension differs from the index.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]models.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := ix.current()
	if k <= 0 || len(st.entries) == 0 {
		return []models.QueryResult{}, nil
	}
	if len(query) != st.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", models.ErrDimensionMismatch, len(query), st.dim)
	}

	qnorm := utils.Norm(query)
	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(st.entries))
	for i := range st.entries {
		e := &st.entries[i]
		scores[i] = scored{idx: i, score: cosine(query, e.Vector, qnorm, e.norm)}
	}
	sort.Slice(scores, func(a, b int) bool {
		if scores[a].score != scores[b].score {
			return scores[a].score > scores[b].score
		}
		return st.entries[scores[a].idx].ID < st.entries[scores[b].idx].ID
	})
	if k > len(scores) {
		k = len(scores)
	}
	results := make([]models.QueryResult, k)
	for i := 0; i < k; i++ {
		e := st.entries[scores[i].idx]
		results[i] = models.QueryResult{ID: e.ID, Chunk: e.Chunk, Score: scores[i].score}
	}
	return results, nil
}

// Entries returns a copy of all entries in insertion order.
func (ix *Index) Entries() []IndexEntry {
	st := ix.current()
	out := make([]IndexEntry, len(st.entries))
	copy(out, st.entries)
	return out
}
