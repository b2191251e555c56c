package query

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/catalog"
	"github.com/peter-fm/snapbase/internal/config"
	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/snapshot"
	"github.com/peter-fm/snapbase/internal/storage"
)

func newTestEngine(t *testing.T) (afero.Fs, string, *Engine) {
	t.Helper()
	fs := afero.NewMemMapFs()
	root := "/ws"
	backend, err := storage.New(root+"/.snapbase", storage.WithFS(fs), storage.WithLockTimeout(time.Second))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	cat := catalog.New(backend)
	return fs, root, NewEngine(backend, cat)
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

func TestQueryUnionCountMatchesRowSum(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/ws"
	backend, err := storage.New(root+"/.snapbase", storage.WithFS(fs), storage.WithLockTimeout(time.Second))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	writeSnapshot(t, fs, root, backend, "employees.csv", "id,name\n1,Alice\n2,Bob\n", "s1")
	writeSnapshot(t, fs, root, backend, "employees.csv", "id,name\n1,Alice\n2,Bob\n", "s2")
	writeSnapshot(t, fs, root, backend, "employees.csv", "id,name\n1,Alice\n2,Bob\n3,Carol\n", "s3")

	cat := catalog.New(backend)
	engine := NewEngine(backend, cat)

	result, err := engine.Query(context.Background(), root, "employees.csv",
		"SELECT snapshot_name, COUNT(*) c FROM employees_csv GROUP BY snapshot_name ORDER BY snapshot_name", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Len() != 3 {
		t.Fatalf("result has %d rows, want 3 (one per snapshot)", result.Len())
	}
	names := result.Columns[0].([]string)
	counts := result.Columns[1].([]int64)
	if names[0] != "s1" || counts[0] != 2 {
		t.Fatalf("row0 = (%s, %d), want (s1, 2)", names[0], counts[0])
	}
	if names[2] != "s3" || counts[2] != 3 {
		t.Fatalf("row2 = (%s, %d), want (s3, 3)", names[2], counts[2])
	}
}

func TestQueryNestedSourceRegistersBasenameTable(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/ws"
	backend, err := storage.New(root+"/.snapbase", storage.WithFS(fs), storage.WithLockTimeout(time.Second))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	writeSnapshot(t, fs, root, backend, "data/employees.csv", "id,name\n1,Alice\n", "s1")

	cat := catalog.New(backend)
	engine := NewEngine(backend, cat)

	// The virtual table takes its name from the file basename, not the
	// workspace-relative path: data/employees.csv -> employees_csv.
	result, err := engine.Query(context.Background(), root, "data/employees.csv", "SELECT id FROM employees_csv", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Len() != 1 {
		t.Fatalf("result has %d rows, want 1", result.Len())
	}
}

func TestQueryTableNotFoundForUnknownSource(t *testing.T) {
	_, root, engine := newTestEngine(t)
	_, err := engine.Query(context.Background(), root, "missing.csv", "SELECT 1", 0)
	if !snaperr.Is(err, snaperr.KindTableNotFound) {
		t.Fatalf("expected TableNotFound, got %v", err)
	}
}

func TestQueryAppliesLimitAsPostSafetyCap(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/ws"
	backend, err := storage.New(root+"/.snapbase", storage.WithFS(fs), storage.WithLockTimeout(time.Second))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	writeSnapshot(t, fs, root, backend, "employees.csv", "id,name\n1,Alice\n2,Bob\n3,Carol\n", "s1")

	cat := catalog.New(backend)
	engine := NewEngine(backend, cat)
	result, err := engine.Query(context.Background(), root, "employees.csv", "SELECT * FROM employees_csv ORDER BY id", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Len() != 2 {
		t.Fatalf("result has %d rows, want 2 (limit applied)", result.Len())
	}
}

func TestQueryStrictModeEmptyResult(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/ws"
	backend, err := storage.New(root+"/.snapbase", storage.WithFS(fs), storage.WithLockTimeout(time.Second))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	writeSnapshot(t, fs, root, backend, "employees.csv", "id,name\n1,Alice\n", "s1")

	cat := catalog.New(backend)
	engine := NewEngine(backend, cat, WithStrictMode(true))
	_, err = engine.Query(context.Background(), root, "employees.csv", "SELECT * FROM employees_csv WHERE id = 999", 0)
	if !snaperr.Is(err, snaperr.KindEmptyResult) {
		t.Fatalf("expected EmptyResult, got %v", err)
	}
}
