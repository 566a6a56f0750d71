// Package app wires the ingestion and query services together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/chunker"
	"github.com/hyperjump/yvan/internal/config"
	"github.com/hyperjump/yvan/internal/embedding"
	"github.com/hyperjump/yvan/internal/extract"
	"github.com/hyperjump/yvan/internal/generation"
	"github.com/hyperjump/yvan/internal/ingest"
	"github.com/hyperjump/yvan/internal/ledger"
	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/internal/rag"
	"github.com/hyperjump/yvan/internal/vector"
	"github.com/hyperjump/yvan/internal/watcher"
	"github.com/hyperjump/yvan/pkg/utils"
)

// App owns the embedder, generator, index, pipeline, query engine and ledger.
// Build it with New, call Start before ingesting, and Close when done.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	embedder  embedding.Embedder
	generator generation.Generator
	index     *vector.Index
	ledger    *ledger.Ledger
	pipeline  *ingest.Pipeline
	engine    *rag.Engine
	watcher   *watcher.Watcher

	snapshotFound bool
	watchEnabled  bool
	bootstrap     bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	bg      sync.WaitGroup
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger shared by all components.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithEmbedder uses e instead of the embedder configured in cfg.Embedding.
func WithEmbedder(e embedding.Embedder) Option {
	return func(a *App) { a.embedder = e }
}

// WithGenerator uses g instead of the generator configured in cfg.Generation.
func WithGenerator(g generation.Generator) Option {
	return func(a *App) { a.generator = g }
}

// WithWatch overrides cfg.Watch.Enabled.
func WithWatch(enabled bool) Option {
	return func(a *App) { a.watchEnabled = enabled }
}

// WithBootstrap controls whether Start ingests the documents directory when no
// snapshot exists. Defaults to true.
func WithBootstrap(enabled bool) Option {
	return func(a *App) { a.bootstrap = enabled }
}

// New builds every component from cfg. The index is loaded from its snapshot when
// one exists; a corrupt snapshot is an error rather than an empty index.
func New(cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg, watchEnabled: cfg.Watch.EnabledOrDefault(), bootstrap: true}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = utils.OrNop(a.logger)
	defer func() {
		if err != nil {
			a.closeComponents()
		}
	}()

	if a.embedder == nil {
		if a.embedder, err = embedding.New(cfg.Embedding, a.logger); err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}
	if a.generator == nil {
		if a.generator, err = generation.New(cfg.Generation, a.logger); err != nil {
			return nil, fmt.Errorf("failed to initialize generator: %w", err)
		}
	}

	snapshot := cfg.Storage.SnapshotPath()
	a.index, a.snapshotFound, err = vector.Open(snapshot, vector.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}
	if dim, want := a.index.Dimension(), a.embedder.Dimensions(); dim > 0 && want > 0 && dim != want {
		return nil, fmt.Errorf("%w: index %s has dimension %d but the embedder produces %d; re-ingest into a new index_dir",
			models.ErrDimensionMismatch, snapshot, dim, want)
	}
	a.logger.Info("vector index loaded",
		zap.String("path", snapshot),
		zap.Bool("found", a.snapshotFound),
		zap.Int("entries", a.index.Size()))

	if a.ledger, err = ledger.Open(cfg.Storage.LedgerPath); err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	ch, err := chunker.New(cfg.Chunking.TargetSize, cfg.Chunking.Overlap, cfg.Chunking.MinTextChars)
	if err != nil {
		return nil, err
	}
	a.pipeline = ingest.New(ch, a.embedder, a.index, snapshot,
		ingest.WithLogger(a.logger),
		ingest.WithLedger(a.ledger))
	a.engine = rag.NewEngine(a.embedder, a.generator, a.index, cfg.Retrieval, rag.WithLogger(a.logger))
	return a, nil
}

// Start starts the ingestion consumer and, when enabled, the directory watcher.
// In the background it then bootstraps from the documents directory when no
// snapshot existed, or picks up files added while the app was not running.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.pipeline.Start(ctx)
	a.started = true

	if a.watchEnabled {
		w := a.cfg.Watch
		a.watcher = watcher.New(w.Directories, w.Extensions, w.Recursive,
			func(path string) { a.submitKnown(ctx, path, models.TriggerWatch) },
			watcher.WithLogger(a.logger),
			watcher.WithDebounce(w.Debounce),
			watcher.WithStability(w.StableInterval, w.StableChecks))
		if err := a.watcher.Start(ctx); err != nil {
			a.watcher = nil
			a.pipeline.Stop()
			a.cancel()
			a.cancel = nil
			a.started = false
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		a.logger.Info("watching directories", zap.Strings("directories", w.Directories))
	}

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		if !a.snapshotFound {
			if !a.bootstrap {
				return
			}
			if _, err := a.Bootstrap(ctx); err != nil {
				a.logger.Warn("bootstrap failed", zap.Error(err))
			}
			return
		}
		if w := a.currentWatcher(); w != nil {
			w.SyncExistingFiles()
		}
	}()
	return nil
}

func (a *App) submitKnown(ctx context.Context, path string, trigger models.Trigger) {
	res, err := a.pipeline.Submit(ctx, ingest.Job{Path: path, Trigger: trigger, SkipKnown: true})
	switch {
	case err != nil:
		if !errors.Is(err, context.Canceled) && !errors.Is(err, models.ErrClosed) {
			a.logger.Warn("automatic ingestion failed", zap.String("path", path), zap.Error(err))
		}
	case res.Skipped:
		a.logger.Debug("file already ingested", zap.String("path", path))
	default:
		a.logger.Info("file ingested", zap.String("path", path), zap.Int("chunks", res.ChunkCount))
	}
}

// Bootstrap ingests every supported file in the documents directory, skipping
// files the ledger already holds.
func (a *App) Bootstrap(ctx context.Context) ([]FileOutcome, error) {
	dir := a.cfg.Storage.DocumentsDir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		a.logger.Info("no documents directory to bootstrap from", zap.String("dir", dir))
		return nil, nil
	}
	a.logger.Info("bootstrapping index from documents directory", zap.String("dir", dir))
	outcomes, err := a.ingestDirectory(ctx, dir, models.TriggerBootstrap, true)
	if err != nil {
		return outcomes, err
	}
	sum := Summarize(outcomes)
	a.logger.Info("bootstrap finished",
		zap.Int("files", sum.Files),
		zap.Int("chunks", sum.Chunks),
		zap.Int("failed", sum.Failed))
	return outcomes, nil
}

// IngestDocument ingests one file through the pipeline queue. Explicit ingestion
// always appends, even when the same file was ingested before.
func (a *App) IngestDocument(ctx context.Context, path string, trigger models.Trigger) (*models.IngestResult, error) {
	return a.pipeline.Submit(ctx, ingest.Job{Path: path, Trigger: trigger})
}

// FileOutcome is the result of ingesting one file of a directory.
type FileOutcome struct {
	Path   string               `json:"path"`
	Result *models.IngestResult `json:"result,omitempty"`
	Err    error                `json:"-"`
	Error  string               `json:"error,omitempty"`
}

// IngestDirectory ingests every supported file under dir, continuing past
// per-file failures. Only a failure to list dir is returned as an error.
func (a *App) IngestDirectory(ctx context.Context, dir string, trigger models.Trigger) ([]FileOutcome, error) {
	return a.ingestDirectory(ctx, dir, trigger, false)
}

func (a *App) ingestDirectory(ctx context.Context, dir string, trigger models.Trigger, skipKnown bool) ([]FileOutcome, error) {
	files, err := ingest.SupportedFiles(dir, a.cfg.Watch.Recursive)
	if err != nil {
		return nil, err
	}
	outcomes := make([]FileOutcome, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		res, err := a.pipeline.Submit(ctx, ingest.Job{Path: path, Trigger: trigger, SkipKnown: skipKnown})
		out := FileOutcome{Path: path, Result: res, Err: err}
		if err != nil {
			out.Error = err.Error()
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// Summary totals a batch of FileOutcomes.
type Summary struct {
	Files   int `json:"files"`
	Chunks  int `json:"chunks"`
	NoText  int `json:"no_text"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Summarize totals outcomes.
func Summarize(outcomes []FileOutcome) Summary {
	s := Summary{Files: len(outcomes)}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			s.Failed++
		case o.Result.Skipped:
			s.Skipped++
		case o.Result.NoText:
			s.NoText++
		default:
			s.Chunks += o.Result.ChunkCount
		}
	}
	return s
}

// SaveUpload stores an uploaded file in the documents directory under its base name,
// replacing any file with that name, and returns its path. The content is written to
// a temporary file first so a watcher never sees a partial upload.
func (a *App) SaveUpload(filename string, r io.Reader) (string, error) {
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(filename, "\\", "/")))
	if name == "/" || name == "." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: invalid filename %q", models.ErrInvalidInput, filename)
	}
	if !extract.Supported(name) {
		return "", fmt.Errorf("%w: unsupported file type %q (supported: %s)",
			models.ErrInvalidInput, filepath.Ext(name), strings.Join(extract.SupportedExtensions(), ", "))
	}
	dir := a.cfg.Storage.DocumentsDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create documents directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return path, nil
}

// Upload saves an uploaded file into the documents directory and ingests it.
func (a *App) Upload(ctx context.Context, filename string, r io.Reader) (*models.IngestResult, error) {
	path, err := a.SaveUpload(filename, r)
	if err != nil {
		return nil, err
	}
	a.logger.Info("upload saved", zap.String("path", path))
	return a.IngestDocument(ctx, path, models.TriggerUpload)
}

// AnswerQuestion answers a chat question from the indexed documents.
func (a *App) AnswerQuestion(ctx context.Context, question string) (*models.Answer, error) {
	return a.engine.Ask(ctx, question)
}

// Diagnose answers a description of symptoms with a structured diagnosis.
func (a *App) Diagnose(ctx context.Context, symptoms string) (*models.Answer, error) {
	return a.engine.Diagnose(ctx, symptoms)
}

// ListDocuments returns ingestion records, newest first.
func (a *App) ListDocuments(ctx context.Context, offset, limit int) ([]ledger.Record, error) {
	return a.ledger.List(ctx, offset, limit)
}

func (a *App) currentWatcher() *watcher.Watcher {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.watcher
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Index returns the vector index.
func (a *App) Index() *vector.Index { return a.index }

// Close stops the watcher and background work, drains the pipeline and releases
// every component.
func (a *App) Close() error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	w := a.watcher
	a.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	a.bg.Wait()
	a.closeComponents()
	return nil
}

func (a *App) closeComponents() {
	if a.pipeline != nil {
		_ = a.pipeline.Close()
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("failed to close ledger", zap.Error(err))
		}
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
}
