package workspace

import (
	"context"
	"testing"

	"github.com/spf13/afero"
)

func newTestWorkspace(t *testing.T) (afero.Fs, *Workspace) {
	t.Helper()
	fs := afero.NewMemMapFs()
	ws, err := New("/ws", WithFS(fs), WithOriginDir("/ws"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ws.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return fs, ws
}

func TestNewResolvesToDefaultConfigWhenNoFileExists(t *testing.T) {
	_, ws := newTestWorkspace(t)
	info := ws.GetConfigInfo()
	if info.ConfigSource != "default" {
		t.Fatalf("ConfigSource = %q, want default", info.ConfigSource)
	}
	if info.WorkspacePath != "/ws" {
		t.Fatalf("WorkspacePath = %q, want /ws", info.WorkspacePath)
	}
}

func TestCreateSnapshotThenListAndQuery(t *testing.T) {
	fs, ws := newTestWorkspace(t)
	if err := afero.WriteFile(fs, "/ws/employees.csv", []byte("id,name,salary\n1,Alice,75000\n2,Bob,65000\n"), 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	ctx := context.Background()
	summary, err := ws.CreateSnapshot(ctx, "employees.csv", "baseline")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if summary == "" {
		t.Fatalf("CreateSnapshot returned empty summary")
	}

	exists, err := ws.SnapshotExists(ctx, "baseline")
	if err != nil {
		t.Fatalf("SnapshotExists: %v", err)
	}
	if !exists {
		t.Fatalf("SnapshotExists(baseline) = false, want true")
	}

	names, err := ws.ListSnapshotsForSource(ctx, "employees.csv")
	if err != nil {
		t.Fatalf("ListSnapshotsForSource: %v", err)
	}
	if len(names) != 1 || names[0] != "baseline" {
		t.Fatalf("ListSnapshotsForSource = %v, want [baseline]", names)
	}

	result, err := ws.Query(ctx, "employees.csv", "SELECT COUNT(*) AS c FROM employees_csv", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Len() != 1 {
		t.Fatalf("Query result len = %d, want 1", result.Len())
	}
}

func TestDiffAndStatusAgreeAfterSnapshot(t *testing.T) {
	fs, ws := newTestWorkspace(t)
	ctx := context.Background()
	if err := afero.WriteFile(fs, "/ws/people.csv", []byte("id,name\n1,Alice\n"), 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	if _, err := ws.CreateSnapshot(ctx, "people.csv", "v1"); err != nil {
		t.Fatalf("CreateSnapshot v1: %v", err)
	}
	if err := afero.WriteFile(fs, "/ws/people.csv", []byte("id,name\n1,Alice\n2,Bob\n"), 0o644); err != nil {
		t.Fatalf("update source: %v", err)
	}
	if _, err := ws.CreateSnapshot(ctx, "people.csv", "v2"); err != nil {
		t.Fatalf("CreateSnapshot v2: %v", err)
	}

	diffResult, err := ws.Diff(ctx, "people.csv", "v1", "v2")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diffResult.Added) != 1 {
		t.Fatalf("Diff.Added = %+v, want 1 row", diffResult.Added)
	}

	statusResult, err := ws.Status(ctx, "people.csv", "v1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statusResult.Added) != 1 {
		t.Fatalf("Status.Added = %+v, want 1 row", statusResult.Added)
	}
}

func TestExportRefusesExistingFileWithoutForce(t *testing.T) {
	fs, ws := newTestWorkspace(t)
	ctx := context.Background()
	if err := afero.WriteFile(fs, "/ws/a.csv", []byte("id\n1\n"), 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	if _, err := ws.CreateSnapshot(ctx, "a.csv", "v1"); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if err := ws.Export(ctx, "a.csv", "/out/a.parquet", "v1", false); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if ok, _ := afero.Exists(fs, "/out/a.parquet"); !ok {
		t.Fatalf("export did not create /out/a.parquet")
	}

	if err := ws.Export(ctx, "a.csv", "/out/a.parquet", "v1", false); err == nil {
		t.Fatalf("Export without force over an existing file, want FileExists error")
	}
	if err := ws.Export(ctx, "a.csv", "/out/a.parquet", "v1", true); err != nil {
		t.Fatalf("Export with force: %v", err)
	}
}

func TestStatsReflectsCommittedSnapshots(t *testing.T) {
	fs, ws := newTestWorkspace(t)
	ctx := context.Background()
	if err := afero.WriteFile(fs, "/ws/a.csv", []byte("id\n1\n2\n"), 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	if _, err := ws.CreateSnapshot(ctx, "a.csv", "v1"); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	stats, err := ws.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.SnapshotCount != 1 || stats.SourceCount != 1 || stats.TotalRows != 2 {
		t.Fatalf("Stats = %+v, want 1 snapshot, 1 source, 2 rows", stats)
	}

	info, err := ws.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.StorageBytes <= 0 {
		t.Fatalf("Info.StorageBytes = %d, want > 0", info.StorageBytes)
	}
}
