package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/yvan/internal/chunker"
	"github.com/hyperjump/yvan/internal/embedding"
	"github.com/hyperjump/yvan/internal/ledger"
	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/internal/vector"
)

type countingEmbedder struct {
	*embedding.MockEmbedder
	batches atomic.Int32
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches.Add(1)
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

type failingEmbedder struct {
	*embedding.MockEmbedder
	vecs [][]float32
	err  error
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return f.vecs, f.err
}

// gateEmbedder blocks every batch until release is closed.
type gateEmbedder struct {
	*embedding.MockEmbedder
	entered chan struct{}
	release chan struct{}
}

func (g *gateEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.MockEmbedder.EmbedBatch(ctx, texts)
}

type memLedger struct {
	mu      sync.Mutex
	records []ledger.Record
}

func (m *memLedger) Record(ctx context.Context, r *ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *r)
	return nil
}

func (m *memLedger) HasDigest(ctx context.Context, indexID, sha256 string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.IndexID == indexID && r.SHA256 == sha256 && (r.Status == ledger.StatusIngested || r.Status == ledger.StatusNoText) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedger) all() []ledger.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Record(nil), m.records...)
}

// With target 100 and overlap 20, 260 runes without breaks make 3 chunks and 180 make 2.
const (
	threeChunks = 260
	twoChunks   = 180
)

func writeFile(t *testing.T, dir, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func newTestPipeline(t *testing.T, emb embedding.Embedder, idx *vector.Index, opts ...Option) (*Pipeline, string) {
	t.Helper()
	ch, err := chunker.New(100, 20, 10)
	require.NoError(t, err)
	snapshot := filepath.Join(t.TempDir(), "index", "index.yvx")
	return New(ch, emb, idx, snapshot, opts...), snapshot
}

func TestIngest_appendsAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "book.txt", strings.Repeat("a", threeChunks))
	idx := vector.New()
	p, snapshot := newTestPipeline(t, embedding.NewMockEmbedder(16), idx)

	res, err := p.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "book.txt", res.Source)
	assert.Equal(t, 3, res.ChunkCount)
	assert.False(t, res.NoText)
	assert.Equal(t, 3, idx.Size())

	loaded, err := vector.Load(snapshot)
	require.NoError(t, err)
	assert.Equal(t, idx.Entries(), loaded.Entries())
	for i, e := range loaded.Entries() {
		assert.Equal(t, "book.txt", e.Chunk.Source)
		assert.Equal(t, i, e.Chunk.Order)
	}
}

func TestIngest_belowThreshold(t *testing.T) {
	dir := t.TempDir()
	emb := &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(8)}
	idx := vector.New()
	p, snapshot := newTestPipeline(t, emb, idx)

	for _, content := range []string{"", "  abc  ", "\f\f"} {
		path := writeFile(t, dir, "scan.txt", content)
		res, err := p.Ingest(context.Background(), path)
		require.NoError(t, err)
		assert.True(t, res.NoText)
		assert.Equal(t, 0, res.ChunkCount)
		assert.Equal(t, NoTextNote, res.Note)
	}
	assert.Equal(t, 0, idx.Size())
	assert.Equal(t, int32(0), emb.batches.Load())
	_, err := os.Stat(snapshot)
	assert.True(t, os.IsNotExist(err), "no snapshot is written for documents without text")
}

func TestIngest_reingestAppendsDuplicates(t *testing.T) {
	path := writeFile(t, t.TempDir(), "book.txt", strings.Repeat("a", threeChunks))
	idx := vector.New()
	p, _ := newTestPipeline(t, embedding.NewMockEmbedder(8), idx)

	first, err := p.Ingest(context.Background(), path)
	require.NoError(t, err)
	second, err := p.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)
	assert.Equal(t, 6, idx.Size())
}

func TestIngest_embedFailureLeavesIndexUntouched(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.txt", strings.Repeat("a", twoChunks))
	other := writeFile(t, dir, "other.txt", strings.Repeat("b", threeChunks))
	idx := vector.New()
	p, snapshot := newTestPipeline(t, embedding.NewMockEmbedder(8), idx)
	_, err := p.Ingest(context.Background(), good)
	require.NoError(t, err)
	before, err := os.ReadFile(snapshot)
	require.NoError(t, err)

	tests := []struct {
		name string
		emb  *failingEmbedder
	}{
		{"provider error", &failingEmbedder{err: errors.New("connection refused")}},
		{"wrong count", &failingEmbedder{vecs: [][]float32{{1}}}},
		{"empty vector", &failingEmbedder{vecs: [][]float32{{1}, {}, {1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := New(p.chunker, tt.emb, idx, snapshot)
			_, err := failing.Ingest(context.Background(), other)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrEmbed), "got %v", err)
			assert.Equal(t, 2, idx.Size())
			after, err := os.ReadFile(snapshot)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestIngest_loadErrors(t *testing.T) {
	dir := t.TempDir()
	p, _ := newTestPipeline(t, embedding.NewMockEmbedder(8), vector.New())
	for _, path := range []string{
		filepath.Join(dir, "missing.pdf"),
		writeFile(t, dir, "broken.pdf", "%PDF-1.4 nothing else"),
		writeFile(t, dir, "photo.png", "png"),
	} {
		_, err := p.Ingest(context.Background(), path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrLoad), "%s: got %v", path, err)
	}
}

func TestIngest_dimensionMismatch(t *testing.T) {
	idx := vector.New()
	_, err := idx.Add(context.Background(), []vector.Item{{Vector: []float32{1, 0, 0}}})
	require.NoError(t, err)
	path := writeFile(t, t.TempDir(), "book.txt", strings.Repeat("a", twoChunks))
	p, _ := newTestPipeline(t, embedding.NewMockEmbedder(8), idx)

	_, err = p.Ingest(context.Background(), path)
	assert.True(t, errors.Is(err, models.ErrDimensionMismatch))
	assert.Equal(t, 1, idx.Size())
}

func TestQueue_concurrentSubmissions(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", strings.Repeat("a", threeChunks))
	b := writeFile(t, dir, "b.txt", strings.Repeat("b", twoChunks))
	idx := vector.New()
	led := &memLedger{}
	p, snapshot := newTestPipeline(t, embedding.NewMockEmbedder(8), idx, WithLedger(led))
	p.Start(context.Background())
	defer p.Close()

	var wg sync.WaitGroup
	counts := make([]int, 2)
	for i, job := range []Job{{Path: a, Trigger: models.TriggerUpload}, {Path: b, Trigger: models.TriggerWatch}} {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			res, err := p.Submit(context.Background(), job)
			if assert.NoError(t, err) {
				counts[i] = res.ChunkCount
			}
		}(i, job)
	}
	wg.Wait()

	assert.Equal(t, []int{3, 2}, counts)
	assert.Equal(t, 5, idx.Size())
	loaded, err := vector.Load(snapshot)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Size())

	records := led.all()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, ledger.StatusIngested, r.Status)
		assert.NotEmpty(t, r.ID)
		assert.Len(t, r.SHA256, 64)
	}
}

func TestQueue_skipKnown(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tcm.txt", strings.Repeat("a", twoChunks))
	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer led.Close()
	idx := vector.New()
	p, _ := newTestPipeline(t, embedding.NewMockEmbedder(8), idx, WithLedger(led))
	p.Start(context.Background())
	defer p.Close()
	ctx := context.Background()

	res, err := p.Submit(ctx, Job{Path: path, Trigger: models.TriggerWatch, SkipKnown: true})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, idx.Size())

	res, err = p.Submit(ctx, Job{Path: path, Trigger: models.TriggerWatch, SkipKnown: true})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 2, idx.Size())

	// explicit uploads always append
	res, err = p.Submit(ctx, Job{Path: path, Trigger: models.TriggerUpload})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChunkCount)
	assert.Equal(t, 4, idx.Size())

	records, err := led.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	n, err := led.Count(ctx, ledger.StatusSkipped)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	for _, r := range records {
		assert.Equal(t, idx.ID(), r.IndexID)
	}
}

func TestQueue_skipKnownIsScopedToIndex(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tcm.txt", strings.Repeat("a", twoChunks))
	led := &memLedger{}
	ctx := context.Background()

	first := vector.New()
	p, _ := newTestPipeline(t, embedding.NewMockEmbedder(8), first, WithLedger(led))
	p.Start(ctx)
	_, err := p.Submit(ctx, Job{Path: path, Trigger: models.TriggerBootstrap, SkipKnown: true})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.Equal(t, 2, first.Size())

	// same ledger, new index: the file is not known to it
	rebuilt := vector.New()
	p, _ = newTestPipeline(t, embedding.NewMockEmbedder(8), rebuilt, WithLedger(led))
	p.Start(ctx)
	defer p.Close()
	res, err := p.Submit(ctx, Job{Path: path, Trigger: models.TriggerBootstrap, SkipKnown: true})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, rebuilt.Size())
}

func TestQueue_failureIsRecorded(t *testing.T) {
	led := &memLedger{}
	p, _ := newTestPipeline(t, embedding.NewMockEmbedder(8), vector.New(), WithLedger(led))
	p.Start(context.Background())
	defer p.Close()

	missing := filepath.Join(t.TempDir(), "gone.pdf")
	_, err := p.Submit(context.Background(), Job{Path: missing, Trigger: models.TriggerCLI})
	assert.True(t, errors.Is(err, models.ErrLoad))

	records := led.all()
	require.Len(t, records, 1)
	assert.Equal(t, ledger.StatusFailed, records[0].Status)
	assert.Equal(t, "gone.pdf", records[0].Source)
	assert.NotEmpty(t, records[0].Error)
}

func TestQueue_submitRequiresRunningConsumer(t *testing.T) {
	p, _ := newTestPipeline(t, embedding.NewMockEmbedder(8), vector.New())
	_, err := p.Submit(context.Background(), Job{Path: "x.txt"})
	assert.True(t, errors.Is(err, models.ErrClosed), "not started")

	p.Start(context.Background())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "close is idempotent")
	_, err = p.Submit(context.Background(), Job{Path: "x.txt"})
	assert.True(t, errors.Is(err, models.ErrClosed), "closed")
}

func TestQueue_stopThenRestart(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tcm.txt", strings.Repeat("a", twoChunks))
	idx := vector.New()
	p, _ := newTestPipeline(t, embedding.NewMockEmbedder(8), idx)
	ctx := context.Background()

	p.Start(ctx)
	p.Stop()
	_, err := p.Submit(ctx, Job{Path: path})
	assert.True(t, errors.Is(err, models.ErrClosed), "stopped")

	p.Start(ctx)
	defer p.Close()
	res, err := p.Submit(ctx, Job{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChunkCount)
	assert.Equal(t, 2, idx.Size())
}

func TestQueue_closeWaitsForRunningJob(t *testing.T) {
	path := writeFile(t, t.TempDir(), "slow.txt", strings.Repeat("a", twoChunks))
	emb := &gateEmbedder{MockEmbedder: embedding.NewMockEmbedder(8), entered: make(chan struct{}, 1), release: make(chan struct{})}
	idx := vector.New()
	p, _ := newTestPipeline(t, emb, idx)
	p.Start(context.Background())

	type result struct {
		res *models.IngestResult
		err error
	}
	submitted := make(chan result, 1)
	go func() {
		res, err := p.Submit(context.Background(), Job{Path: path})
		submitted <- result{res, err}
	}()
	<-emb.entered

	closed := make(chan struct{})
	go func() {
		_ = p.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(emb.release)
	<-closed
	r := <-submitted
	require.NoError(t, r.err)
	assert.Equal(t, 2, r.res.ChunkCount)
	assert.Equal(t, 2, idx.Size())
}

func TestQueue_callerCancelDoesNotAbortJob(t *testing.T) {
	path := writeFile(t, t.TempDir(), "slow.txt", strings.Repeat("a", twoChunks))
	emb := &gateEmbedder{MockEmbedder: embedding.NewMockEmbedder(8), entered: make(chan struct{}, 1), release: make(chan struct{})}
	idx := vector.New()
	p, snapshot := newTestPipeline(t, emb, idx)
	p.Start(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := p.Submit(ctx, Job{Path: path})
		errc <- err
	}()
	<-emb.entered
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(emb.release)
	require.NoError(t, p.Close())
	assert.Equal(t, 2, idx.Size())
	_, err := os.Stat(snapshot)
	assert.NoError(t, err)
}

func TestSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "x")
	writeFile(t, dir, "b.png", "x")
	c := writeFile(t, dir, "sub/c.PDF", "x")

	files, err := SupportedFiles(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, files)

	files, err = SupportedFiles(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []string{a, c}, files)

	_, err = SupportedFiles(a, false)
	assert.Error(t, err)
}
