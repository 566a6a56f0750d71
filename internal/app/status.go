package app

import (
	"context"
	"fmt"

	"github.com/hyperjump/yvan/internal/ledger"
	"github.com/hyperjump/yvan/pkg/utils"
)

// StatusConfig is the configuration summary reported by Status.
type StatusConfig struct {
	EmbeddingProvider  string `json:"embedding_provider"`
	EmbeddingModel     string `json:"embedding_model"`
	GenerationProvider string `json:"generation_provider"`
	GenerationModel    string `json:"generation_model"`
	ChunkSize          int    `json:"chunk_size"`
	ChunkOverlap       int    `json:"chunk_overlap"`
	TopK               int    `json:"top_k"`
	DocumentsDir       string `json:"documents_dir"`
	SnapshotPath       string `json:"snapshot_path"`
	LedgerPath         string `json:"ledger_path"`
}

// Status describes the index and ingestion history.
type Status struct {
	IndexSize          int          `json:"index_size"`
	Dimension          int          `json:"dimension"`
	Documents          int64        `json:"documents"`
	Failed             int64        `json:"failed"`
	WatchedDirectories []string     `json:"watched_directories"`
	DiskUsageBytes     *int64       `json:"disk_usage_bytes,omitempty"`
	Config             StatusConfig `json:"config"`
}

// Status reports index size and dimension, ledger counts, watched directories and
// the on-disk size of the index and ledger.
func (a *App) Status(ctx context.Context) (*Status, error) {
	docs, err := a.ledger.Count(ctx, ledger.StatusIngested, ledger.StatusNoText)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	failed, err := a.ledger.Count(ctx, ledger.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("count failures: %w", err)
	}
	cfg := a.cfg
	st := &Status{
		IndexSize:          a.index.Size(),
		Dimension:          a.index.Dimension(),
		Documents:          docs,
		Failed:             failed,
		WatchedDirectories: []string{},
		Config: StatusConfig{
			EmbeddingProvider:  cfg.Embedding.Provider,
			EmbeddingModel:     cfg.Embedding.Model,
			GenerationProvider: cfg.Generation.Provider,
			GenerationModel:    cfg.Generation.Model,
			ChunkSize:          cfg.Chunking.TargetSize,
			ChunkOverlap:       cfg.Chunking.Overlap,
			TopK:               cfg.Retrieval.TopK,
			DocumentsDir:       cfg.Storage.DocumentsDir,
			SnapshotPath:       cfg.Storage.SnapshotPath(),
			LedgerPath:         cfg.Storage.LedgerPath,
		},
	}
	if w := a.currentWatcher(); w != nil {
		st.WatchedDirectories = w.Directories()
	}
	if n, err := utils.DiskUsageBytes(cfg.Storage.IndexDir, cfg.Storage.LedgerPath); err == nil {
		st.DiskUsageBytes = &n
	}
	return st, nil
}
