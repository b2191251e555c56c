// Package workspace implements the public façade: it composes the config
// resolver, storage backend, snapshot writer, catalog, query engine, and
// diff engine into the engine's public operation surface. It holds no
// mutable state of its own beyond a cached
// config.Context and the lazily-loaded catalog; all heavy state lives in
// the storage backend.
package workspace

import (
	"context"
	"path/filepath"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/catalog"
	"github.com/peter-fm/snapbase/internal/config"
	"github.com/peter-fm/snapbase/internal/diff"
	"github.com/peter-fm/snapbase/internal/query"
	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/snapshot"
	"github.com/peter-fm/snapbase/internal/storage"
)

// Option configures New.
type Option func(*options)

type options struct {
	fs     afero.Fs
	origin string
	log    logging.Logger
}

// WithFS overrides the filesystem every layer reads and writes through.
// Defaults to afero.NewOsFs().
func WithFS(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithOriginDir overrides the directory an empty/relative path resolves
// against. Defaults to the process's current working directory.
func WithOriginDir(dir string) Option {
	return func(o *options) { o.origin = dir }
}

// WithLogger overrides the workspace's logger. Defaults to
// logging.NewNopLogger().
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// Workspace is the public façade composing every engine layer.
type Workspace struct {
	ctx     *config.Context
	backend storage.Backend
	cat     *catalog.Catalog
	query   *query.Engine
	diffs   *diff.Engine
	writer  *snapshot.Writer
	fs      afero.Fs
	log     logging.Logger
}

// New resolves path into a WorkspaceContext and wires up every
// layer above the storage backend it resolves to.
func New(path string, opts ...Option) (*Workspace, error) {
	o := options{fs: afero.NewOsFs(), log: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	var resolveOpts []config.Option
	resolveOpts = append(resolveOpts, config.WithFS(o.fs))
	if o.origin != "" {
		resolveOpts = append(resolveOpts, config.WithOriginDir(o.origin))
	}
	ctx, err := config.Resolve(path, resolveOpts...)
	if err != nil {
		return nil, err
	}

	storageRoot := filepath.Join(ctx.WorkspacePath, ctx.Config.Storage.Path)
	backend, err := storage.New(storageRoot, storage.WithFS(o.fs))
	if err != nil {
		return nil, err
	}

	cat := catalog.New(backend, catalog.WithLogger(o.log))
	writer := snapshot.NewWriter(backend)
	writer.FS = o.fs

	return &Workspace{
		ctx:     ctx,
		backend: backend,
		cat:     cat,
		query:   query.NewEngine(backend, cat),
		diffs:   diff.NewEngine(backend, cat, diff.WithFS(o.fs)),
		writer:  writer,
		fs:      o.fs,
		log:     o.log,
	}, nil
}

// Init idempotently prepares the workspace's storage prefix for writes.
// storage.New already creates the storage root on construction, so Init is
// safe to call any number of times, including never.
func (w *Workspace) Init() error {
	if err := w.fs.MkdirAll(w.ctx.WorkspacePath, 0o755); err != nil {
		return snaperr.Wrap(err, snaperr.KindIoError, "could not initialize workspace").WithPath(w.ctx.WorkspacePath)
	}
	return nil
}

// GetPath returns the resolved, absolute workspace root.
func (w *Workspace) GetPath() string {
	return w.ctx.WorkspacePath
}

// GetConfigInfo reports how the workspace's configuration was resolved.
func (w *Workspace) GetConfigInfo() config.Info {
	return w.ctx.GetConfigInfo()
}

// Info is a convenience struct combining GetConfigInfo with the resolved
// path and aggregate storage size, for callers such as external dashboards.
// The stats CLI subcommand prints Stats, not Info.
type Info struct {
	ConfigSource  string `json:"config_source"`
	ConfigPath    string `json:"config_path,omitempty"`
	WorkspacePath string `json:"workspace_path"`
	StorageBytes  int64  `json:"storage_bytes"`
}

// Info combines GetConfigInfo with the workspace's current aggregate
// storage footprint.
func (w *Workspace) Info(ctx context.Context) (Info, error) {
	stats, err := w.cat.Stats(ctx)
	if err != nil {
		return Info{}, err
	}
	ci := w.GetConfigInfo()
	return Info{
		ConfigSource:  ci.ConfigSource,
		ConfigPath:    ci.ConfigPath,
		WorkspacePath: ci.WorkspacePath,
		StorageBytes:  stats.StorageBytes,
	}, nil
}

// CreateSnapshot commits a named immutable snapshot of source.
func (w *Workspace) CreateSnapshot(ctx context.Context, sourcePath, name string) (string, error) {
	summary, err := w.writer.Commit(ctx, w.ctx.Config.Snapshot, w.ctx.WorkspacePath, sourcePath, name)
	if err != nil {
		return "", err
	}
	return summary.String(), nil
}

// SnapshotExists reports whether name is resolvable anywhere in the
// workspace.
func (w *Workspace) SnapshotExists(ctx context.Context, name string) (bool, error) {
	return w.cat.SnapshotExists(ctx, w.ctx.WorkspacePath, "", name)
}

// ListSnapshots returns every snapshot name across all sources, sorted by
// (source_key, sequence).
func (w *Workspace) ListSnapshots(ctx context.Context) ([]string, error) {
	entries, err := w.cat.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// ListSnapshotsForSource returns a specific source's snapshot names in
// sequence order.
func (w *Workspace) ListSnapshotsForSource(ctx context.Context, sourcePath string) ([]string, error) {
	return w.cat.ListSnapshotsForSource(ctx, w.ctx.WorkspacePath, sourcePath)
}

// Stats returns the workspace-wide aggregate counters.
func (w *Workspace) Stats(ctx context.Context) (catalog.Stats, error) {
	return w.cat.Stats(ctx)
}

// Query executes sql against the union virtual table of source's
// snapshots.
func (w *Workspace) Query(ctx context.Context, sourcePath, sql string, limit int) (*query.Result, error) {
	return w.query.Query(ctx, w.ctx.WorkspacePath, sourcePath, sql, limit)
}

// primaryKeyFor always returns "" today: the configuration's `databases`
// mapping is reserved without a per-source primary-key declaration format,
// so the diff engine's row-identity resolution falls through to the
// conventional "id" column or the fingerprint fallback.
func (w *Workspace) primaryKeyFor(string) string {
	return ""
}

// Diff computes the row-level difference between two named snapshots of
// source.
func (w *Workspace) Diff(ctx context.Context, sourcePath, from, to string) (*diff.Result, error) {
	return w.diffs.Diff(ctx, w.ctx.WorkspacePath, sourcePath, from, to, w.primaryKeyFor(sourcePath))
}

// DetectChanges diffs the current on-disk state of source against
// baseline without creating a snapshot.
func (w *Workspace) DetectChanges(ctx context.Context, sourcePath, baseline string) (*diff.Result, error) {
	return w.diffs.DetectChanges(ctx, w.ctx.WorkspacePath, sourcePath, baseline, w.primaryKeyFor(sourcePath))
}

// Status is the façade alias for DetectChanges.
func (w *Workspace) Status(ctx context.Context, sourcePath, baseline string) (*diff.Result, error) {
	return w.DetectChanges(ctx, sourcePath, baseline)
}

// Export streams a named snapshot of source to dest, refusing to overwrite
// an existing file unless force is set.
func (w *Workspace) Export(ctx context.Context, sourcePath, dest, snapshotName string, force bool) error {
	hash := w.cat.SourceHash(w.ctx.WorkspacePath, sourcePath)
	return snapshot.Export(ctx, w.backend, w.fs, hash, snapshotName, dest, force)
}
