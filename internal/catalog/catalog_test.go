package catalog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/config"
	"github.com/peter-fm/snapbase/internal/snapshot"
	"github.com/peter-fm/snapbase/internal/storage"
)

func newTestBackend(t *testing.T) (afero.Fs, string, *storage.Local) {
	t.Helper()
	fs := afero.NewMemMapFs()
	root := "/ws"
	backend, err := storage.New(root+"/.snapbase", storage.WithFS(fs), storage.WithLockTimeout(time.Second))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return fs, root, backend
}

func writeSnapshot(t *testing.T, fs afero.Fs, root string, backend *storage.Local, path, content, name string) snapshot.Summary {
	t.Helper()
	if err := afero.WriteFile(fs, root+"/"+path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	w := snapshot.NewWriter(backend)
	w.FS = fs
	summary, err := w.Commit(context.Background(), config.Defaults().Snapshot, root, path, name)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return summary
}

func TestListSnapshotsForSourceIsSequenceOrdered(t *testing.T) {
	fs, root, backend := newTestBackend(t)
	writeSnapshot(t, fs, root, backend, "people.csv", "id,name\n1,Ada\n", "v1")
	writeSnapshot(t, fs, root, backend, "people.csv", "id,name\n1,Ada\n2,Grace\n", "v2")

	cat := New(backend)
	names, err := cat.ListSnapshotsForSource(context.Background(), root, "people.csv")
	if err != nil {
		t.Fatalf("ListSnapshotsForSource: %v", err)
	}
	if want := []string{"v1", "v2"}; len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Fatalf("names = %v, want %v", names, want)
	}
}

func TestSnapshotExistsAmbiguousAcrossSources(t *testing.T) {
	fs, root, backend := newTestBackend(t)
	writeSnapshot(t, fs, root, backend, "a.csv", "id\n1\n", "same")
	writeSnapshot(t, fs, root, backend, "b.csv", "id\n1\n", "same")

	cat := New(backend)
	_, err := cat.SnapshotExists(context.Background(), root, "", "same")
	if err == nil {
		t.Fatalf("expected AmbiguousName, got nil")
	}

	ok, err := cat.SnapshotExists(context.Background(), root, "a.csv", "same")
	if err != nil {
		t.Fatalf("SnapshotExists scoped: %v", err)
	}
	if !ok {
		t.Fatalf("expected scoped SnapshotExists to be true")
	}
}

func TestStatsAggregatesAcrossSources(t *testing.T) {
	fs, root, backend := newTestBackend(t)
	writeSnapshot(t, fs, root, backend, "a.csv", "id\n1\n2\n", "v1")
	writeSnapshot(t, fs, root, backend, "b.csv", "id\n1\n2\n3\n", "v1")

	cat := New(backend)
	stats, err := cat.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.SourceCount != 2 || stats.SnapshotCount != 2 || stats.TotalRows != 5 {
		t.Fatalf("stats = %+v, want 2 sources, 2 snapshots, 5 total rows", stats)
	}
}

func TestReconcileAdoptsOrphanWithValidMeta(t *testing.T) {
	fs, root, backend := newTestBackend(t)
	writeSnapshot(t, fs, root, backend, "people.csv", "id,name\n1,Ada\n", "v1")

	ctx := context.Background()
	hash := snapshot.SourceKeyHash(snapshot.NormalizeSourcePath(root, "people.csv"))

	// Simulate the commit crash window: a second snapshot's meta.json
	// and data payload are written, but the index update never lands.
	prefix := "sources/" + hash + "/snapshots/v2-orphan"
	meta := snapshot.Meta{
		SourceKey:   hash,
		SourcePath:  "people.csv",
		Format:      "csv",
		Name:        "v2-orphan",
		Sequence:    2,
		Schema:      []snapshot.FieldMeta{{Name: "id", Kind: "int64"}},
		RowCount:    1,
		ColumnCount: 1,
		ContentHash: "deadbeef",
		DataRef:     prefix + "/data.columnar",
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal orphan meta: %v", err)
	}
	if err := backend.PutBlob(ctx, prefix+"/meta.json", metaBytes); err != nil {
		t.Fatalf("write orphan meta: %v", err)
	}
	if err := backend.PutBlob(ctx, prefix+"/data.columnar", []byte("orphan-payload")); err != nil {
		t.Fatalf("write orphan payload: %v", err)
	}

	cat := New(backend)
	names, err := cat.ListSnapshotsForSource(ctx, root, "people.csv")
	if err != nil {
		t.Fatalf("ListSnapshotsForSource: %v", err)
	}
	if len(names) != 2 || names[0] != "v1" || names[1] != "v2-orphan" {
		t.Fatalf("names = %v, want [v1 v2-orphan] (orphan should be adopted)", names)
	}
}

func TestReconcileDeletesOrphanWithoutMeta(t *testing.T) {
	fs, root, backend := newTestBackend(t)
	writeSnapshot(t, fs, root, backend, "people.csv", "id,name\n1,Ada\n", "v1")

	ctx := context.Background()
	hash := snapshot.SourceKeyHash(snapshot.NormalizeSourcePath(root, "people.csv"))
	prefix := "sources/" + hash + "/snapshots/broken"
	if err := backend.PutBlob(ctx, prefix+"/data.columnar", []byte("partial-payload")); err != nil {
		t.Fatalf("write broken payload: %v", err)
	}

	cat := New(backend)
	names, err := cat.ListSnapshotsForSource(ctx, root, "people.csv")
	if err != nil {
		t.Fatalf("ListSnapshotsForSource: %v", err)
	}
	if len(names) != 1 || names[0] != "v1" {
		t.Fatalf("names = %v, want [v1] (metaless orphan should be deleted, not adopted)", names)
	}
	if exists, _ := backend.Exists(ctx, prefix+"/data.columnar"); exists {
		t.Fatalf("broken orphan payload should have been deleted")
	}
}
