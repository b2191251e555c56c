package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/config"
	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/storage"
)

func newTestWorkspace(t *testing.T) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	root := "/ws"
	if err := afero.WriteFile(fs, root+"/people.csv", []byte("id,name\n1,Ada\n2,Grace\n"), 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	return fs, root
}

func newTestBackend(t *testing.T, fs afero.Fs, root string) *storage.Local {
	t.Helper()
	backend, err := storage.New(root+"/.snapbase", storage.WithFS(fs), storage.WithLockTimeout(time.Second))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return backend
}

func TestCommitProducesSummaryAndPersistsArtifacts(t *testing.T) {
	fs, root := newTestWorkspace(t)
	backend := newTestBackend(t, fs, root)
	w := NewWriter(backend)
	w.FS = fs
	w.Clock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	cfg := config.Defaults().Snapshot
	ctx := context.Background()

	summary, err := w.Commit(ctx, cfg, root, "people.csv", "")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if summary.RowCount != 2 || summary.ColumnCount != 2 {
		t.Fatalf("summary = %+v, want 2 rows / 2 columns", summary)
	}

	keyHash := SourceKeyHash(NormalizeSourcePath(root, "people.csv"))
	idx, err := LoadIndex(ctx, backend, keyHash)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if len(idx.Snapshots) != 1 || idx.Snapshots[0].Name != summary.Name || idx.Snapshots[0].Sequence != 1 {
		t.Fatalf("index = %+v", idx)
	}

	meta, err := LoadMeta(ctx, backend, keyHash, summary.Name)
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	if meta.RowCount != 2 || meta.ContentHash == "" {
		t.Fatalf("meta = %+v", meta)
	}

	table, err := LoadTable(ctx, backend, meta, 0)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if table.RowCount() != 2 {
		t.Fatalf("round-tripped table has %d rows, want 2", table.RowCount())
	}
}

func TestCommitRejectsDuplicateName(t *testing.T) {
	fs, root := newTestWorkspace(t)
	backend := newTestBackend(t, fs, root)
	w := NewWriter(backend)
	w.FS = fs
	ctx := context.Background()
	cfg := config.Defaults().Snapshot

	if _, err := w.Commit(ctx, cfg, root, "people.csv", "v1"); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	_, err := w.Commit(ctx, cfg, root, "people.csv", "v1")
	if !snaperr.Is(err, snaperr.KindDuplicateSnapshot) {
		t.Fatalf("expected DuplicateSnapshot, got %v", err)
	}
}

func TestCommitSequenceDensity(t *testing.T) {
	fs, root := newTestWorkspace(t)
	backend := newTestBackend(t, fs, root)
	w := NewWriter(backend)
	w.FS = fs
	ctx := context.Background()
	cfg := config.Defaults().Snapshot

	for i := 0; i < 3; i++ {
		if _, err := w.Commit(ctx, cfg, root, "people.csv", ""); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
	}

	keyHash := SourceKeyHash(NormalizeSourcePath(root, "people.csv"))
	idx, err := LoadIndex(ctx, backend, keyHash)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if len(idx.Snapshots) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(idx.Snapshots))
	}
	for i, e := range idx.Snapshots {
		if e.Sequence != i+1 {
			t.Fatalf("sequence[%d] = %d, want %d", i, e.Sequence, i+1)
		}
	}
}

func TestContentHashDeterministicForIdenticalContent(t *testing.T) {
	fs, root := newTestWorkspace(t)
	backend := newTestBackend(t, fs, root)
	ctx := context.Background()
	cfg := config.Defaults().Snapshot

	w1 := NewWriter(backend)
	w1.FS = fs
	s1, err := w1.Commit(ctx, cfg, root, "people.csv", "a")
	if err != nil {
		t.Fatalf("Commit a: %v", err)
	}

	if err := afero.WriteFile(fs, root+"/people2.csv", []byte("id,name\n1,Ada\n2,Grace\n"), 0o644); err != nil {
		t.Fatalf("seed second source: %v", err)
	}
	w2 := NewWriter(backend)
	w2.FS = fs
	s2, err := w2.Commit(ctx, cfg, root, "people2.csv", "b")
	if err != nil {
		t.Fatalf("Commit b: %v", err)
	}

	hash1, err := LoadMeta(ctx, backend, SourceKeyHash(NormalizeSourcePath(root, "people.csv")), s1.Name)
	if err != nil {
		t.Fatalf("LoadMeta a: %v", err)
	}
	hash2, err := LoadMeta(ctx, backend, SourceKeyHash(NormalizeSourcePath(root, "people2.csv")), s2.Name)
	if err != nil {
		t.Fatalf("LoadMeta b: %v", err)
	}
	if hash1.ContentHash != hash2.ContentHash {
		t.Fatalf("content hashes differ for byte-identical content: %q vs %q", hash1.ContentHash, hash2.ContentHash)
	}
}

func TestExpandNameTokens(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	got := expandName("{source}_{format}_{seq}_{timestamp}", "customer data", "csv", 3, ts)
	want := "customer_data_csv_3_20260731T120000Z"
	if got != want {
		t.Fatalf("expandName = %q, want %q", got, want)
	}
}

func TestNormalizeSourcePathIsStableAcrossAbsoluteAndRelative(t *testing.T) {
	root := "/ws"
	a := NormalizeSourcePath(root, "data/people.csv")
	b := NormalizeSourcePath(root, "/ws/data/people.csv")
	if a != b {
		t.Fatalf("NormalizeSourcePath(%q) != NormalizeSourcePath(%q): %q vs %q", "data/people.csv", "/ws/data/people.csv", a, b)
	}
}
