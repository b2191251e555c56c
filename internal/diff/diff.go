// Package diff implements row-level change detection between two snapshots
// of the same source: insertions, deletions, modifications, and
// schema drift, keyed by a declared primary key, a conventional "id"
// column, or a content fingerprint fallback.
package diff

import (
	"context"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/catalog"
	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/snapshot"
	"github.com/peter-fm/snapbase/internal/source"
	"github.com/peter-fm/snapbase/internal/storage"
)

// DefaultStreamThreshold is the row count past which the engine switches
// from an in-memory hash join to a sort/merge comparison: both
// modes are required to produce byte-identical results, so the row
// comparison rule (compareRow) and the ascending-key ordering are shared by
// both code paths even though they build their key index differently (see
// sortMergeDiff).
const DefaultStreamThreshold = 1_000_000

// Option configures an Engine.
type Option func(*Engine)

// WithRowBudget overrides columnar.DefaultRowBudget for payload/source
// reads performed while materializing both sides of a diff.
func WithRowBudget(n int) Option {
	return func(e *Engine) { e.rowBudget = n }
}

// WithStreamThreshold overrides DefaultStreamThreshold.
func WithStreamThreshold(n int) Option {
	return func(e *Engine) { e.streamThreshold = n }
}

// WithFS overrides the filesystem DetectChanges reads the live source
// file from. Defaults to afero.NewOsFs().
func WithFS(fs afero.Fs) Option {
	return func(e *Engine) { e.fs = fs }
}

// Engine computes diffs between two snapshots, or between a snapshot and
// the current on-disk state of its source, of a workspace.
type Engine struct {
	backend         storage.Backend
	catalog         *catalog.Catalog
	fs              afero.Fs
	rowBudget       int
	streamThreshold int
}

// NewEngine constructs an Engine backed by backend and cat.
func NewEngine(backend storage.Backend, cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		backend:         backend,
		catalog:         cat,
		fs:              afero.NewOsFs(),
		rowBudget:       columnar.DefaultRowBudget,
		streamThreshold: DefaultStreamThreshold,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Diff computes the row-level difference between two named snapshots of
// source. primaryKey, if non-empty, is the source's declared
// primary key column; pass
// "" when none is configured.
func (e *Engine) Diff(ctx context.Context, workspaceRoot, sourcePath, fromName, toName, primaryKey string) (*Result, error) {
	hash := e.catalog.SourceHash(workspaceRoot, sourcePath)

	fromMeta, err := e.loadNamed(ctx, hash, sourcePath, fromName)
	if err != nil {
		return nil, err
	}
	toMeta, err := e.loadNamed(ctx, hash, sourcePath, toName)
	if err != nil {
		return nil, err
	}

	fromTable, err := snapshot.LoadTable(ctx, e.backend, fromMeta, e.rowBudget)
	if err != nil {
		return nil, err
	}
	toTable, err := snapshot.LoadTable(ctx, e.backend, toMeta, e.rowBudget)
	if err != nil {
		return nil, err
	}

	return e.diffTables(ctx, fromMeta.ColumnarSchema(), fromTable, toMeta.ColumnarSchema(), toTable, primaryKey)
}

// DetectChanges reads the current on-disk state of source (without
// creating a snapshot) and diffs it against baselineName. This
// backs both detect_changes and the façade's status operation.
func (e *Engine) DetectChanges(ctx context.Context, workspaceRoot, sourcePath, baselineName, primaryKey string) (*Result, error) {
	hash := e.catalog.SourceHash(workspaceRoot, sourcePath)

	baseMeta, err := e.loadNamed(ctx, hash, sourcePath, baselineName)
	if err != nil {
		return nil, err
	}
	baseTable, err := snapshot.LoadTable(ctx, e.backend, baseMeta, e.rowBudget)
	if err != nil {
		return nil, err
	}

	_, liveTable, err := source.Read(ctx, workspaceRoot, sourcePath, source.WithFS(e.fs), source.WithRowBudget(e.rowBudget))
	if err != nil {
		return nil, err
	}

	return e.diffTables(ctx, baseMeta.ColumnarSchema(), baseTable, liveTable.Schema, liveTable, primaryKey)
}

func (e *Engine) loadNamed(ctx context.Context, hash, sourcePath, name string) (snapshot.Meta, error) {
	exists, err := e.backend.Exists(ctx, snapshot.MetaKey(hash, name))
	if err != nil {
		return snapshot.Meta{}, err
	}
	if !exists {
		return snapshot.Meta{}, snaperr.New(snaperr.KindSnapshotNotFound, "snapshot not found").WithSource(sourcePath).WithSnapshot(name)
	}
	return snapshot.LoadMeta(ctx, e.backend, hash, name)
}

// diffTables runs the full comparison: schema comparison, row-
// identity key resolution, and a hash-join or sort-merge comparison
// depending on table size, both yielding identical Result shapes. Both
// tableToRows calls below materialize their side fully regardless of which
// comparison path runs next: the row count that drives the threshold
// decision is only known after a side is read, and neither snapshot.Table
// nor this engine has a row-cursor abstraction to read less than the whole
// table. The streamThreshold switch changes the comparison algorithm (see
// sortMergeDiff), not how much of the input is read into memory.
func (e *Engine) diffTables(ctx context.Context, fromSchema columnar.Schema, fromTable *columnar.Table, toSchema columnar.Schema, toTable *columnar.Table, primaryKey string) (*Result, error) {
	schemaChanges := compareSchemas(fromSchema, toSchema)
	common := commonColumns(fromSchema, toSchema)
	keyCols, fallback := chooseKey(fromSchema, toSchema, primaryKey)

	fromRows, err := tableToRows(ctx, fromTable)
	if err != nil {
		return nil, err
	}
	toRows, err := tableToRows(ctx, toTable)
	if err != nil {
		return nil, err
	}

	if len(fromRows) > e.streamThreshold || len(toRows) > e.streamThreshold {
		return sortMergeDiff(fromRows, toRows, keyCols, fallback, common, schemaChanges), nil
	}
	return hashJoinDiff(fromRows, toRows, keyCols, fallback, common, schemaChanges), nil
}
