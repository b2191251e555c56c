package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func TestResolveExplicitIsolation(t *testing.T) {
	// For any directory P and any subdirectory C of P that contains a
	// snapbase.toml, constructing a workspace with explicit path C yields
	// config_source = workspace and config_path equal to C/snapbase.toml.
	// It never yields P/snapbase.toml.
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/P/snapbase.toml", `[storage]
path = "parent_storage"
`)
	mustWriteFile(t, fs, "/P/C/snapbase.toml", `[storage]
path = "child_storage"
`)

	ctx, err := Resolve("/P/C", WithFS(fs), WithOriginDir("/elsewhere"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if ctx.ConfigSource != SourceWorkspace {
		t.Fatalf("ConfigSource = %v, want %v", ctx.ConfigSource, SourceWorkspace)
	}
	if want := "/P/C/snapbase.toml"; ctx.ConfigPath != want {
		t.Fatalf("ConfigPath = %q, want %q", ctx.ConfigPath, want)
	}
	if ctx.Config.Storage.Path != "child_storage" {
		t.Fatalf("Storage.Path = %q, want %q (must not inherit parent's config)", ctx.Config.Storage.Path, "child_storage")
	}
}

func TestResolveImplicitInheritance(t *testing.T) {
	// Constructing a workspace with an empty path from inside C yields the
	// nearest ancestor's config if C itself has none.
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/P/snapbase.toml", `[storage]
path = "parent_storage"
`)
	if err := fs.MkdirAll("/P/C", 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, err := Resolve("", WithFS(fs), WithOriginDir("/P/C"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if ctx.ConfigSource != SourceWorkspace {
		t.Fatalf("ConfigSource = %v, want %v", ctx.ConfigSource, SourceWorkspace)
	}
	if want := "/P/snapbase.toml"; ctx.ConfigPath != want {
		t.Fatalf("ConfigPath = %q, want %q", ctx.ConfigPath, want)
	}
	if ctx.Config.Storage.Path != "parent_storage" {
		t.Fatalf("Storage.Path = %q, want %q", ctx.Config.Storage.Path, "parent_storage")
	}
	if want := "/P/C"; ctx.WorkspacePath != want {
		t.Fatalf("WorkspacePath = %q, want %q", ctx.WorkspacePath, want)
	}
}

func TestResolveExplicitNeverWalksAncestors(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/P/snapbase.toml", `[storage]
path = "parent_storage"
`)
	if err := fs.MkdirAll("/P/C", 0o755); err != nil {
		t.Fatal(err)
	}

	// C has no snapbase.toml of its own, but was constructed with an
	// explicit path, so it must fall through to defaults rather than
	// inherit /P/snapbase.toml.
	ctx, err := Resolve("/P/C", WithFS(fs), WithOriginDir("/elsewhere"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if ctx.ConfigSource != SourceDefault {
		t.Fatalf("ConfigSource = %v, want %v", ctx.ConfigSource, SourceDefault)
	}
	if ctx.ConfigPath != "" {
		t.Fatalf("ConfigPath = %q, want empty", ctx.ConfigPath)
	}
	if ctx.Config.Storage.Path != Defaults().Storage.Path {
		t.Fatalf("Storage.Path = %q, want default %q", ctx.Config.Storage.Path, Defaults().Storage.Path)
	}
}

func TestResolveDefaultsWhenNoConfigFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/only", 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, err := Resolve("", WithFS(fs), WithOriginDir("/only"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := Defaults()
	if diff := cmp.Diff(want, ctx.Config); diff != "" {
		t.Fatalf("Config mismatch (-want +got):\n%s", diff)
	}
	if ctx.ConfigSource != SourceDefault {
		t.Fatalf("ConfigSource = %v, want %v", ctx.ConfigSource, SourceDefault)
	}
}

func TestResolveFillsPartialConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/snapbase.toml", `[storage]
backend = "local"
`)

	ctx, err := Resolve("/ws", WithFS(fs), WithOriginDir("/elsewhere"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if ctx.Config.Storage.Path != Defaults().Storage.Path {
		t.Fatalf("Storage.Path = %q, want default %q", ctx.Config.Storage.Path, Defaults().Storage.Path)
	}
	if ctx.Config.Snapshot.DefaultNamePattern != Defaults().Snapshot.DefaultNamePattern {
		t.Fatalf("DefaultNamePattern not filled from defaults")
	}
}

func TestResolveMalformedConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/snapbase.toml", `this is not valid toml +++ [[[`)

	_, err := Resolve("/ws", WithFS(fs), WithOriginDir("/elsewhere"))
	if err == nil {
		t.Fatal("Resolve: expected error for malformed config, got nil")
	}
}

func mustWriteFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", path, err)
	}
}
