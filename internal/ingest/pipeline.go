// Package ingest turns source files into committed vector index entries.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/chunker"
	"github.com/hyperjump/yvan/internal/embedding"
	"github.com/hyperjump/yvan/internal/extract"
	"github.com/hyperjump/yvan/internal/ledger"
	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/internal/vector"
	"github.com/hyperjump/yvan/pkg/utils"
)

// NoTextNote is the IngestResult note for documents without a usable text layer.
const NoTextNote = "no usable text layer; the document may require OCR"

// Ledger is the part of the ingestion history the pipeline needs.
type Ledger interface {
	Record(ctx context.Context, r *ledger.Record) error
	HasDigest(ctx context.Context, indexID, sha256 string) (bool, error)
}

// Pipeline loads, chunks, embeds and commits documents. Ingest may be called
// directly; Submit serializes jobs through a single consumer started by Start.
type Pipeline struct {
	loader       *extract.Loader
	chunker      *chunker.Chunker
	embedder     embedding.Embedder
	index        *vector.Index
	snapshotPath string
	ledger       Ledger
	logger       *zap.Logger

	mu      sync.RWMutex // guards started, closed, cancel, done and sends on jobs
	started bool
	closed  bool
	cancel  context.CancelFunc
	jobs    chan *request
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithLedger records every queued job's outcome and enables SkipKnown.
func WithLedger(l Ledger) Option {
	return func(p *Pipeline) {
		p.ledger = l
	}
}

// WithLoader replaces the default document loader.
func WithLoader(l *extract.Loader) Option {
	return func(p *Pipeline) {
		p.loader = l
	}
}

// New creates a pipeline that commits into index and persists it to snapshotPath.
func New(ch *chunker.Chunker, emb embedding.Embedder, index *vector.Index, snapshotPath string, opts ...Option) *Pipeline {
	p := &Pipeline{
		chunker:      ch,
		embedder:     emb,
		index:        index,
		snapshotPath: snapshotPath,
		jobs:         make(chan *request),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.OrNop(p.logger)
	if p.loader == nil {
		p.loader = extract.NewLoader(extract.WithLogger(p.logger))
	}
	return p
}

// Ingest loads the file at path and appends its chunks to the index. The index is
// only changed, and the snapshot only rewritten, when every step succeeds.
// A document with too little text succeeds with NoText set and no chunks.
func (p *Pipeline) Ingest(ctx context.Context, path string) (*models.IngestResult, error) {
	doc, err := p.loader.Load(path)
	if err != nil {
		return nil, err
	}
	res := &models.IngestResult{Source: doc.Source}
	if doc.TotalChars < p.chunker.MinTextChars() {
		return noText(res), nil
	}
	chunks := p.chunker.Split(doc.Source, doc.Pages)
	if len(chunks) == 0 {
		return noText(res), nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrEmbed, doc.Source, err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("%w: %s: got %d embeddings for %d chunks", models.ErrEmbed, doc.Source, len(vecs), len(chunks))
	}
	items := make([]vector.Item, len(chunks))
	for i, ch := range chunks {
		if len(vecs[i]) == 0 {
			return nil, fmt.Errorf("%w: %s: empty embedding for chunk %d", models.ErrEmbed, doc.Source, i)
		}
		items[i] = vector.Item{Vector: vecs[i], Chunk: ch}
	}

	if _, err := p.index.Commit(ctx, items, p.snapshotPath); err != nil {
		return nil, fmt.Errorf("commit %s: %w", doc.Source, err)
	}
	res.ChunkCount = len(chunks)
	p.logger.Debug("document ingested",
		zap.String("source", doc.Source),
		zap.Int("pages", len(doc.Pages)),
		zap.Int("chunks", res.ChunkCount))
	return res, nil
}

func noText(res *models.IngestResult) *models.IngestResult {
	res.NoText = true
	res.Note = NoTextNote
	return res
}

// SupportedFiles returns the regular files under dir that the loader can read,
// in lexical order. Subdirectories are only walked when recursive is set.
func SupportedFiles(dir string, recursive bool) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var files []string
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !extract.Supported(path) {
			return nil
		}
		// Resolve symlinks so only regular files are returned
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}
