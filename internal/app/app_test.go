package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/yvan/internal/config"
	"github.com/hyperjump/yvan/internal/embedding"
	"github.com/hyperjump/yvan/internal/ledger"
	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/internal/rag"
	"github.com/hyperjump/yvan/internal/vector"
)

const tcmText = `Đau đầu do phong hàn: đau lan ra gáy, sợ gió, sợ lạnh.
Pháp trị: sơ phong tán hàn. Bài thuốc: Xuyên khung trà điều tán.

Mất ngủ do tâm tỳ lưỡng hư: hay quên, hồi hộp, ăn kém.
Pháp trị: bổ dưỡng tâm tỳ. Bài thuốc: Quy tỳ thang.`

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	prompts []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	return "Theo tài liệu: sơ phong tán hàn.", nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	off := false
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DocumentsDir: filepath.Join(dir, "pdfs"),
			IndexDir:     filepath.Join(dir, "vector_db"),
			LedgerPath:   filepath.Join(dir, "ledger.db"),
		},
		Embedding:  config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 32},
		Generation: config.GenerationConfig{Provider: config.ProviderOllama},
		Chunking:   config.ChunkingConfig{TargetSize: 120, Overlap: 20},
		Watch: config.WatchConfig{
			Enabled:        &off,
			Debounce:       30 * time.Millisecond,
			StableInterval: 30 * time.Millisecond,
			StableChecks:   5,
		},
	}
	config.ApplyDefaults(cfg)
	cfg.Watch.Directories = []string{cfg.Storage.DocumentsDir}
	require.NoError(t, cfg.Validate())
	return cfg
}

func startApp(t *testing.T, cfg *config.Config, gen *fakeGenerator, opts ...Option) *App {
	t.Helper()
	a, err := New(cfg, append([]Option{WithGenerator(gen)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestApp_emptyIndexAnswersWithFallback(t *testing.T) {
	gen := &fakeGenerator{}
	a := startApp(t, testConfig(t), gen)

	ans, err := a.AnswerQuestion(context.Background(), "đau đầu")
	require.NoError(t, err)
	assert.Equal(t, rag.FallbackAnswer, ans.Text)
	assert.Empty(t, ans.Sources)
	assert.Equal(t, 0, gen.callCount())
}

func TestApp_ingestThenAsk(t *testing.T) {
	cfg := testConfig(t)
	gen := &fakeGenerator{}
	a := startApp(t, cfg, gen)
	ctx := context.Background()

	path := writeDoc(t, t.TempDir(), "tcm_book.txt", tcmText)
	res, err := a.IngestDocument(ctx, path, models.TriggerCLI)
	require.NoError(t, err)
	assert.Greater(t, res.ChunkCount, 1)
	assert.Equal(t, res.ChunkCount, a.Index().Size())

	ans, err := a.AnswerQuestion(ctx, "đau đầu")
	require.NoError(t, err)
	assert.Equal(t, []string{"tcm_book.txt"}, ans.Sources)
	assert.Equal(t, "Theo tài liệu: sơ phong tán hàn.", ans.Text)
	assert.Equal(t, 1, gen.callCount())

	diag, err := a.Diagnose(ctx, "mất ngủ, hay quên")
	require.NoError(t, err)
	assert.Equal(t, []string{"tcm_book.txt"}, diag.Sources)

	_, err = a.AnswerQuestion(ctx, "   ")
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestApp_indexSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	path := writeDoc(t, t.TempDir(), "tcm_book.txt", tcmText)

	a, err := New(cfg, WithGenerator(&fakeGenerator{}))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	res, err := a.IngestDocument(ctx, path, models.TriggerCLI)
	require.NoError(t, err)
	before := a.Index().Entries()
	require.NoError(t, a.Close())

	gen := &fakeGenerator{}
	b := startApp(t, cfg, gen)
	assert.Equal(t, res.ChunkCount, b.Index().Size())
	assert.Equal(t, before, b.Index().Entries())
	ans, err := b.AnswerQuestion(ctx, "đau đầu")
	require.NoError(t, err)
	assert.Equal(t, []string{"tcm_book.txt"}, ans.Sources)
}

func TestApp_dimensionChangeRejected(t *testing.T) {
	cfg := testConfig(t)
	a := startApp(t, cfg, &fakeGenerator{})
	_, err := a.IngestDocument(context.Background(), writeDoc(t, t.TempDir(), "a.txt", tcmText), models.TriggerCLI)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = New(cfg, WithGenerator(&fakeGenerator{}), WithEmbedder(embedding.NewMockEmbedder(8)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDimensionMismatch))
}

func TestApp_corruptSnapshotIsFatal(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Storage.IndexDir, 0755))
	require.NoError(t, os.WriteFile(cfg.Storage.SnapshotPath(), []byte("not an index"), 0600))

	_, err := New(cfg, WithGenerator(&fakeGenerator{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, vector.ErrCorruptSnapshot))
}

func TestApp_bootstrapWhenNoSnapshot(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Storage.DocumentsDir, "tcm_book.txt", tcmText)
	writeDoc(t, cfg.Storage.DocumentsDir, "notes.md", strings.Repeat("Châm cứu huyệt Hợp cốc. ", 10))
	writeDoc(t, cfg.Storage.DocumentsDir, "photo.png", "not a document")

	a := startApp(t, cfg, &fakeGenerator{})
	ctx := context.Background()
	require.Eventually(t, func() bool {
		n, err := a.ledger.Count(ctx, ledger.StatusIngested)
		return err == nil && n == 2
	}, 5*time.Second, 20*time.Millisecond)
	size := a.Index().Size()
	assert.Greater(t, size, 2)

	records, err := a.ListDocuments(ctx, 0, 10)
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, models.TriggerBootstrap, r.Trigger)
	}
	require.NoError(t, a.Close())

	// the snapshot now exists, so a restart does not ingest the directory again
	b := startApp(t, cfg, &fakeGenerator{})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, size, b.Index().Size())
}

func TestApp_bootstrapDisabled(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Storage.DocumentsDir, "tcm_book.txt", tcmText)

	a := startApp(t, cfg, &fakeGenerator{}, WithBootstrap(false))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, a.Index().Size())
}

func TestApp_bootstrapSkipsKnownFiles(t *testing.T) {
	cfg := testConfig(t)
	path := writeDoc(t, cfg.Storage.DocumentsDir, "tcm_book.txt", tcmText)
	a := startApp(t, cfg, &fakeGenerator{})
	ctx := context.Background()
	require.Eventually(t, func() bool { return a.Index().Size() > 0 }, 5*time.Second, 20*time.Millisecond)
	size := a.Index().Size()

	outcomes, err := a.Bootstrap(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, path, outcomes[0].Path)
	assert.True(t, outcomes[0].Result.Skipped)
	assert.Equal(t, size, a.Index().Size())
}

func TestApp_IngestDirectory(t *testing.T) {
	a := startApp(t, testConfig(t), &fakeGenerator{})
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", tcmText)
	writeDoc(t, dir, "scan.txt", "  ")
	writeDoc(t, dir, "broken.pdf", "%PDF-1.4 garbage")

	outcomes, err := a.IngestDirectory(context.Background(), dir, models.TriggerCLI)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	sum := Summarize(outcomes)
	assert.Equal(t, 3, sum.Files)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.NoText)
	assert.Equal(t, a.Index().Size(), sum.Chunks)
	for _, o := range outcomes {
		if strings.HasSuffix(o.Path, "broken.pdf") {
			assert.True(t, errors.Is(o.Err, models.ErrLoad))
			assert.NotEmpty(t, o.Error)
		}
	}

	_, err = a.IngestDirectory(context.Background(), filepath.Join(dir, "missing"), models.TriggerCLI)
	assert.Error(t, err)
}

func TestApp_Upload(t *testing.T) {
	cfg := testConfig(t)
	a := startApp(t, cfg, &fakeGenerator{})
	ctx := context.Background()

	res, err := a.Upload(ctx, "../../etc/tcm_book.txt", strings.NewReader(tcmText))
	require.NoError(t, err)
	assert.Equal(t, "tcm_book.txt", res.Source)
	assert.Greater(t, res.ChunkCount, 0)
	saved, err := os.ReadFile(filepath.Join(cfg.Storage.DocumentsDir, "tcm_book.txt"))
	require.NoError(t, err)
	assert.Equal(t, tcmText, string(saved))

	for _, name := range []string{"image.png", ".env", "", "noext"} {
		_, err := a.Upload(ctx, name, strings.NewReader("x"))
		assert.True(t, errors.Is(err, models.ErrInvalidInput), "%q: got %v", name, err)
	}
	entries, err := os.ReadDir(cfg.Storage.DocumentsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "rejected uploads leave nothing behind")
}

func TestApp_Status(t *testing.T) {
	cfg := testConfig(t)
	a := startApp(t, cfg, &fakeGenerator{})
	ctx := context.Background()
	_, err := a.IngestDocument(ctx, writeDoc(t, t.TempDir(), "a.txt", tcmText), models.TriggerCLI)
	require.NoError(t, err)
	_, err = a.IngestDocument(ctx, filepath.Join(t.TempDir(), "missing.pdf"), models.TriggerCLI)
	require.Error(t, err)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.Index().Size(), st.IndexSize)
	assert.Equal(t, 32, st.Dimension)
	assert.Equal(t, int64(1), st.Documents)
	assert.Equal(t, int64(1), st.Failed)
	assert.Empty(t, st.WatchedDirectories)
	require.NotNil(t, st.DiskUsageBytes)
	assert.Greater(t, *st.DiskUsageBytes, int64(0))
	assert.Equal(t, cfg.Storage.SnapshotPath(), st.Config.SnapshotPath)
	assert.Equal(t, 120, st.Config.ChunkSize)
}

func TestApp_watcherIngestsNewFiles(t *testing.T) {
	cfg := testConfig(t)
	inbox := filepath.Join(t.TempDir(), "inbox")
	cfg.Watch.Directories = []string{inbox}
	a := startApp(t, cfg, &fakeGenerator{}, WithWatch(true))
	ctx := context.Background()

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{inbox}, st.WatchedDirectories)

	writeDoc(t, inbox, "dropped.txt", tcmText)
	require.Eventually(t, func() bool { return a.Index().Size() > 0 }, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		records, err := a.ListDocuments(ctx, 0, 10)
		return err == nil && len(records) == 1 && records[0].Trigger == models.TriggerWatch
	}, 2*time.Second, 20*time.Millisecond)
}

func TestApp_rebuildsIndexAfterIndexDirRemoved(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Storage.DocumentsDir, "tcm_book.txt", tcmText)
	ctx := context.Background()

	a, err := New(cfg, WithGenerator(&fakeGenerator{}))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	require.Eventually(t, func() bool { return a.Index().Size() > 0 }, 5*time.Second, 20*time.Millisecond)
	size, firstID := a.Index().Size(), a.Index().ID()
	require.NoError(t, a.Close())

	require.NoError(t, os.RemoveAll(cfg.Storage.IndexDir))

	gen := &fakeGenerator{}
	b := startApp(t, cfg, gen)
	assert.NotEqual(t, firstID, b.Index().ID())
	require.Eventually(t, func() bool { return b.Index().Size() == size }, 5*time.Second, 20*time.Millisecond)

	ans, err := b.AnswerQuestion(ctx, "đau đầu")
	require.NoError(t, err)
	assert.False(t, ans.Fallback)
	assert.Equal(t, []string{"tcm_book.txt"}, ans.Sources)
	assert.Equal(t, 1, gen.callCount())

	records, err := b.ListDocuments(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, b.Index().ID(), records[0].IndexID)
	assert.Equal(t, ledger.StatusIngested, records[0].Status)
	assert.Equal(t, firstID, records[1].IndexID)
}

func TestApp_watcherStartFailureCanBeRetried(t *testing.T) {
	cfg := testConfig(t)
	blocker := writeDoc(t, t.TempDir(), "not-a-dir", "x")
	cfg.Watch.Directories = []string{filepath.Join(blocker, "inbox")}
	a, err := New(cfg, WithGenerator(&fakeGenerator{}), WithWatch(true), WithBootstrap(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	ctx := context.Background()

	require.Error(t, a.Start(ctx))
	_, err = a.IngestDocument(ctx, writeDoc(t, t.TempDir(), "a.txt", tcmText), models.TriggerCLI)
	assert.True(t, errors.Is(err, models.ErrClosed), "got %v", err)

	cfg.Watch.Directories = []string{filepath.Join(t.TempDir(), "inbox")}
	require.NoError(t, a.Start(ctx))
	res, err := a.IngestDocument(ctx, writeDoc(t, t.TempDir(), "a.txt", tcmText), models.TriggerCLI)
	require.NoError(t, err)
	assert.Greater(t, res.ChunkCount, 0)
}
