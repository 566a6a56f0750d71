package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/yvan/internal/models"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "sub", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger_RecordAndList(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := &Record{Source: "a.pdf", Path: "/docs/a.pdf", SHA256: "aaa", ChunkCount: 3,
		Trigger: models.TriggerUpload, Status: StatusIngested, CreatedAt: base}
	require.NoError(t, l.Record(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &Record{Source: "scan.pdf", Path: "/docs/scan.pdf", SHA256: "bbb",
		Note: "no usable text layer", Trigger: models.TriggerWatch, Status: StatusNoText, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, l.Record(ctx, second))

	records, err := l.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "scan.pdf", records[0].Source, "newest first")
	assert.Equal(t, models.TriggerWatch, records[0].Trigger)
	assert.Equal(t, StatusNoText, records[0].Status)
	assert.Equal(t, "a.pdf", records[1].Source)
	assert.Equal(t, 3, records[1].ChunkCount)
	assert.True(t, base.Equal(records[1].CreatedAt), "got %v", records[1].CreatedAt)

	page, err := l.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)
}

func TestLedger_HasDigest(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	rec := func(digest string, status Status) *Record {
		return &Record{Source: digest, Path: digest, SHA256: digest, IndexID: "idx-1", Trigger: models.TriggerCLI, Status: status}
	}
	require.NoError(t, l.Record(ctx, rec("ok", StatusIngested)))
	require.NoError(t, l.Record(ctx, rec("failed", StatusFailed)))
	require.NoError(t, l.Record(ctx, rec("scan", StatusNoText)))
	require.NoError(t, l.Record(ctx, rec("seen", StatusSkipped)))

	for digest, want := range map[string]bool{"ok": true, "failed": false, "scan": true, "seen": false, "unknown": false} {
		got, err := l.HasDigest(ctx, "idx-1", digest)
		require.NoError(t, err)
		assert.Equal(t, want, got, digest)
	}

	t.Run("other index", func(t *testing.T) {
		got, err := l.HasDigest(ctx, "idx-2", "ok")
		require.NoError(t, err)
		assert.False(t, got, "a digest ingested into a previous index is not known to a rebuilt one")
	})
}

func TestLedger_UpgradesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
	CREATE TABLE ingestions (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		path TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		triggered_by TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	INSERT INTO ingestions (id, source, path, sha256, triggered_by, status, created_at)
	VALUES ('old', 'a.pdf', 'a.pdf', 'd', 'cli', 'ingested', '2025-01-01 00:00:00');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()
	records, err := l.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "", records[0].IndexID)

	known, err := l.HasDigest(ctx, "idx-1", "d")
	require.NoError(t, err)
	assert.False(t, known)
	require.NoError(t, l.Record(ctx, &Record{Source: "a.pdf", Path: "a.pdf", SHA256: "d", IndexID: "idx-1", Trigger: models.TriggerWatch, Status: StatusIngested}))
	known, err = l.HasDigest(ctx, "idx-1", "d")
	require.NoError(t, err)
	assert.True(t, known)
}

func TestLedger_Count(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	for _, s := range []Status{StatusIngested, StatusIngested, StatusFailed, StatusSkipped} {
		require.NoError(t, l.Record(ctx, &Record{Source: "x", Path: "x", SHA256: "d", Trigger: models.TriggerBootstrap, Status: s}))
	}
	n, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	n, err = l.Count(ctx, StatusIngested)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = l.Count(ctx, StatusFailed, StatusSkipped)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLedger_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(), &Record{Source: "a", Path: "a", SHA256: "d", Trigger: models.TriggerCLI, Status: StatusIngested}))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	n, err := l.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
