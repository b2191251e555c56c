// Package query implements the cross-snapshot SQL surface: every snapshot
// of a source is registered as a single virtual table, row concatenation
// across snapshots plus two injected discriminator columns, and the
// caller's SQL is executed against it.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/peter-fm/snapbase/internal/catalog"
	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/logical"
	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/snapshot"
	"github.com/peter-fm/snapbase/internal/storage"
)

// SnapshotNameColumn and SnapshotSequenceColumn are the two discriminator
// columns injected into every source's virtual table.
const (
	SnapshotNameColumn     = "snapshot_name"
	SnapshotSequenceColumn = "snapshot_sequence"
)

// Option configures an Engine.
type Option func(*Engine)

// WithRowBudget overrides columnar.DefaultRowBudget for payload reads
// performed while materializing the virtual table.
func WithRowBudget(n int) Option {
	return func(e *Engine) { e.rowBudget = n }
}

// WithStrictMode makes every Query call fail with EmptyResult when the
// caller's SQL matches zero rows.
func WithStrictMode(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// Engine executes SQL against the union virtual table of a source's
// snapshots.
type Engine struct {
	backend   storage.Backend
	catalog   *catalog.Catalog
	rowBudget int
	strict    bool
}

// NewEngine constructs an Engine backed by backend and cat.
func NewEngine(backend storage.Backend, cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{backend: backend, catalog: cat, rowBudget: columnar.DefaultRowBudget}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Result is the columnar output of a Query call: an Arrow-shaped record
// batch, the same representation the source reader and snapshot writer
// use.
type Result = columnar.Batch

// Query executes sql against the union virtual table of source's snapshots.
// The table is named after the sanitized source identifier. limit, if > 0, is
// applied after sql runs, as a safety cap on the number of rows returned.
func (e *Engine) Query(ctx context.Context, workspaceRoot, sourcePath, querySQL string, limit int) (*Result, error) {
	hash := e.catalog.SourceHash(workspaceRoot, sourcePath)
	desc, entries, err := e.catalog.Snapshots(ctx, hash)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, snaperr.New(snaperr.KindTableNotFound, "source has no snapshots").WithSource(sourcePath)
	}

	metas := make([]snapshot.Meta, 0, len(entries))
	for _, entry := range entries {
		m, err := snapshot.LoadMeta(ctx, e.backend, hash, entry.Name)
		if err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}

	union := unionSchema(metas)
	tableName := columnar.SanitizeIdentifier(tableBaseName(desc.Path, sourcePath))

	// A private ":memory:" DSN, not a "file::memory:?cache=shared" one: the
	// latter names a process-wide shared-cache database, so two concurrent
	// Query calls would collide on CREATE TABLE or see each other's rows,
	// violating the workspace's exclusive ownership of its own storage
	// prefix.
	// SetMaxOpenConns(1) below already guarantees this *db never opens a
	// second connection, so there is nothing for a shared cache to buy.
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, "could not open scratch query database")
	}
	defer db.Close() // nolint:errcheck
	db.SetMaxOpenConns(1)

	if err := createTable(ctx, db, tableName, union); err != nil {
		return nil, err
	}

	for _, m := range metas {
		if err := snaperr.CheckContext(ctx); err != nil {
			return nil, err
		}
		table, err := snapshot.LoadTable(ctx, e.backend, m, e.rowBudget)
		if err != nil {
			return nil, err
		}
		if err := insertSnapshot(ctx, db, tableName, union, m, table); err != nil {
			return nil, err
		}
	}

	rows, err := db.QueryContext(ctx, querySQL)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindSqlParseError, "could not execute query").WithSource(sourcePath)
	}
	defer rows.Close() // nolint:errcheck

	result, err := scanResult(rows, limit)
	if err != nil {
		return nil, err
	}

	if e.strict && result.Len() == 0 {
		return nil, snaperr.New(snaperr.KindEmptyResult, "query matched zero rows").WithSource(sourcePath)
	}
	return result, nil
}

// tableBaseName picks the name a source's virtual table is registered
// under: the file basename of the descriptor's recorded path if known
// (stable across relative-vs-absolute callers), otherwise of the path the
// caller passed. Only the basename enters the identifier, so a source at
// data/employees.csv still queries as employees_csv.
func tableBaseName(descPath, sourcePath string) string {
	if descPath != "" {
		return filepath.Base(descPath)
	}
	return filepath.Base(sourcePath)
}

// unionSchema computes the cross-snapshot schema union: for each column
// name, in first-seen order across snapshots in sequence order, the
// narrowest common logical.Kind across every snapshot that carries it.
func unionSchema(metas []snapshot.Meta) columnar.Schema {
	var order []string
	kinds := map[string]logical.Kind{}
	seen := map[string]bool{}

	for _, m := range metas {
		for _, f := range m.Schema {
			k := kindFromMeta(f.Kind)
			if !seen[f.Name] {
				seen[f.Name] = true
				order = append(order, f.Name)
				kinds[f.Name] = k
				continue
			}
			kinds[f.Name] = logical.Widen(kinds[f.Name], k)
		}
	}

	schema := make(columnar.Schema, len(order))
	for i, name := range order {
		schema[i] = columnar.Field{Name: name, Kind: kinds[name]}
	}
	return schema
}

func kindFromMeta(s string) logical.Kind {
	switch s {
	case "int64":
		return logical.KindInt64
	case "float64":
		return logical.KindFloat64
	case "bool":
		return logical.KindBool
	case "timestamp":
		return logical.KindTimestamp
	case "string":
		return logical.KindString
	default:
		return logical.KindNull
	}
}

func sqliteType(k logical.Kind) string {
	switch k {
	case logical.KindInt64, logical.KindBool:
		return "INTEGER"
	case logical.KindFloat64:
		return "REAL"
	default:
		return "TEXT"
	}
}

func createTable(ctx context.Context, db *sql.DB, tableName string, union columnar.Schema) error {
	var cols []string
	for _, f := range union {
		cols = append(cols, fmt.Sprintf("%s %s", columnar.SanitizeIdentifier(f.Name), sqliteType(f.Kind)))
	}
	cols = append(cols, SnapshotNameColumn+" TEXT", SnapshotSequenceColumn+" INTEGER")

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", tableName, strings.Join(cols, ", "))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return snaperr.Wrap(err, snaperr.KindSqlParseError, "could not create virtual table")
	}
	return nil
}

// insertSnapshot materializes one snapshot's rows into tableName, widening
// each value from its own snapshot's kind to the union schema's kind.
func insertSnapshot(ctx context.Context, db *sql.DB, tableName string, union columnar.Schema, meta snapshot.Meta, table *columnar.Table) error {
	placeholders := make([]string, len(union)+2)
	for i := range placeholders {
		placeholders[i] = "?"
	}
	colNames := make([]string, len(union)+2)
	for i, f := range union {
		colNames[i] = columnar.SanitizeIdentifier(f.Name)
	}
	colNames[len(union)] = SnapshotNameColumn
	colNames[len(union)+1] = SnapshotSequenceColumn

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tableName, strings.Join(colNames, ", "), strings.Join(placeholders, ", "))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return snaperr.Wrap(err, snaperr.KindIoError, "could not begin insert transaction")
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return snaperr.Wrap(err, snaperr.KindSqlParseError, "could not prepare insert statement")
	}

	localSchema := table.Schema
	for _, batch := range table.Batches {
		if err := snaperr.CheckContext(ctx); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
		for r := 0; r < batch.Len(); r++ {
			args := make([]any, len(union)+2)
			for i, f := range union {
				c := localSchema.IndexOf(f.Name)
				if c < 0 {
					args[i] = nil
					continue
				}
				args[i] = sqlValue(batch, r, c, localSchema[c].Kind, f.Kind)
			}
			args[len(union)] = meta.Name
			args[len(union)+1] = meta.Sequence
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return snaperr.Wrap(err, snaperr.KindSqlParseError, "could not insert row")
			}
		}
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return snaperr.Wrap(err, snaperr.KindIoError, "could not close insert statement")
	}
	if err := tx.Commit(); err != nil {
		return snaperr.Wrap(err, snaperr.KindIoError, "could not commit snapshot rows")
	}
	return nil
}

// sqlValue reads the value at (row, col) of batch and widens it from its
// snapshot-local kind to the union schema's target kind, returning a
// driver-bindable value (or nil for a null cell).
func sqlValue(batch *columnar.Batch, row, col int, from, to logical.Kind) any {
	if batch.IsNull(row, col) {
		return nil
	}
	v := batch.Columns[col]

	if from == to {
		return rawValue(v, row, from)
	}
	if from == logical.KindInt64 && to == logical.KindFloat64 {
		return float64(v.([]int64)[row])
	}
	// Any other widening (-> Bool, Timestamp, or String) stores the value's
	// canonical textual form, a lossless representation SQLite can still
	// compare and convert.
	return textValue(v, row, from)
}

func textValue(v any, row int, kind logical.Kind) string {
	switch kind {
	case logical.KindInt64:
		return strconv.FormatInt(v.([]int64)[row], 10)
	case logical.KindFloat64:
		return strconv.FormatFloat(v.([]float64)[row], 'g', -1, 64)
	case logical.KindBool:
		if v.([]bool)[row] {
			return "true"
		}
		return "false"
	case logical.KindTimestamp:
		return v.([]time.Time)[row].UTC().Format(time.RFC3339Nano)
	default:
		return v.([]string)[row]
	}
}

func rawValue(v any, row int, kind logical.Kind) any {
	switch kind {
	case logical.KindInt64:
		return v.([]int64)[row]
	case logical.KindFloat64:
		return v.([]float64)[row]
	case logical.KindBool:
		if v.([]bool)[row] {
			return int64(1)
		}
		return int64(0)
	case logical.KindTimestamp:
		return v.([]time.Time)[row].UTC().Format(time.RFC3339Nano)
	default:
		return v.([]string)[row]
	}
}
