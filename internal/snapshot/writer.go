package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/config"
	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/source"
	"github.com/peter-fm/snapbase/internal/storage"
)

// IndexEntry is one row of a source's index.json.
type IndexEntry struct {
	Name     string `json:"name"`
	Sequence int    `json:"sequence"`
}

// Index is the full per-source index.json document, listing snapshot names
// in sequence order.
type Index struct {
	Snapshots []IndexEntry `json:"snapshots"`
}

// SourceDescriptor is a source's source.json document.
type SourceDescriptor struct {
	Path   string `json:"path"`
	Format string `json:"format"`
}

// Summary is the human-readable commit result.
type Summary struct {
	Name        string
	RowCount    int
	ColumnCount int
}

// String renders the summary the façade returns from create_snapshot.
func (s Summary) String() string {
	return fmt.Sprintf("created snapshot %q (%d rows, %d columns)", s.Name, s.RowCount, s.ColumnCount)
}

// Writer commits named immutable snapshots of sources into a workspace's
// storage backend.
type Writer struct {
	Backend storage.Backend
	// FS is the filesystem sources are read from. Defaults to
	// afero.NewOsFs() in NewWriter; tests override it to exercise the
	// commit pipeline entirely in memory.
	FS afero.Fs
	// Clock supplies created_at; overridable for deterministic tests.
	// Defaults to time.Now in NewWriter.
	Clock func() time.Time
}

// NewWriter constructs a Writer over backend.
func NewWriter(backend storage.Backend) *Writer {
	return &Writer{Backend: backend, FS: afero.NewOsFs(), Clock: time.Now}
}

// Commit runs the full commit procedure: lock, read the source, resolve the
// final name, reject duplicates, hash its content, persist the
// payload and metadata, update the index atomically, release the lock,
// and return a summary. ctx is checked between batches
// during the read and write steps; if it is cancelled after the payload
// directory has been written but before the index update (the
// linearization point), the not-yet-indexed payload directory is deleted
// before the cancellation is surfaced.
func (w *Writer) Commit(ctx context.Context, cfg config.SnapshotConfig, workspaceRoot, sourcePath, requestedName string) (Summary, error) {
	if err := snaperr.CheckContext(ctx); err != nil {
		return Summary{}, err
	}

	release, err := w.Backend.Lock(ctx)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	normalized := NormalizeSourcePath(workspaceRoot, sourcePath)
	keyHash := SourceKeyHash(normalized)
	prefix := "sources/" + keyHash

	idx, err := loadIndex(ctx, w.Backend, prefix)
	if err != nil {
		return Summary{}, err
	}

	format, table, err := source.Read(ctx, workspaceRoot, sourcePath, source.WithFS(w.FS))
	if err != nil {
		return Summary{}, err
	}

	seq := len(idx.Snapshots) + 1
	createdAt := w.Clock().UTC()

	name := requestedName
	if name == "" {
		name = expandName(cfg.DefaultNamePattern, sourceBaseName(sourcePath), string(format), seq, createdAt)
	}

	for _, e := range idx.Snapshots {
		if e.Name == name {
			return Summary{}, snaperr.New(snaperr.KindDuplicateSnapshot, "snapshot already exists for this source").
				WithSource(normalized).WithSnapshot(name)
		}
	}

	if err := snaperr.CheckContext(ctx); err != nil {
		return Summary{}, err
	}

	hash := contentHash(table)

	payload, err := writePayload(ctx, table)
	if err != nil {
		return Summary{}, err
	}

	snapshotPrefix := prefix + "/snapshots/" + name
	// rollback deletes the not-yet-indexed payload directory; it
	// uses a background context so the cleanup delete itself is not
	// immediately cancelled by the same ctx that triggered it.
	rollback := func() {
		_ = w.Backend.DeletePrefix(context.Background(), snapshotPrefix)
	}

	dataKey := snapshotPrefix + "/data.columnar"
	if err := w.Backend.PutBlob(ctx, dataKey, payload); err != nil {
		return Summary{}, err
	}

	if err := snaperr.CheckContext(ctx); err != nil {
		rollback()
		return Summary{}, err
	}

	meta := Meta{
		SourceKey:   keyHash,
		SourcePath:  normalized,
		Format:      string(format),
		Name:        name,
		Sequence:    seq,
		CreatedAt:   createdAt,
		Schema:      schemaMeta(table.Schema),
		RowCount:    table.RowCount(),
		ColumnCount: len(table.Schema),
		ContentHash: hash,
		DataRef:     dataKey,
	}
	metaBytes, err := marshalMeta(meta)
	if err != nil {
		return Summary{}, snaperr.Wrap(err, snaperr.KindEncodingError, "could not encode snapshot metadata")
	}
	metaKey := snapshotPrefix + "/meta.json"
	if err := w.Backend.PutBlob(ctx, metaKey, metaBytes); err != nil {
		rollback()
		return Summary{}, err
	}

	if err := snaperr.CheckContext(ctx); err != nil {
		rollback()
		return Summary{}, err
	}

	descBytes, err := json.Marshal(SourceDescriptor{Path: normalized, Format: string(format)})
	if err != nil {
		return Summary{}, snaperr.Wrap(err, snaperr.KindEncodingError, "could not encode source descriptor")
	}
	if err := w.Backend.PutBlob(ctx, prefix+"/source.json", descBytes); err != nil {
		rollback()
		return Summary{}, err
	}

	if err := snaperr.CheckContext(ctx); err != nil {
		rollback()
		return Summary{}, err
	}

	// The index write is the linearization point:
	// PutBlob's write-then-rename makes it atomic, so a crash before this
	// point leaves only an orphan payload/meta pair for the catalog's
	// reconciliation scan to find on next open.
	idx.Snapshots = append(idx.Snapshots, IndexEntry{Name: name, Sequence: seq})
	idxBytes, err := json.Marshal(idx)
	if err != nil {
		return Summary{}, snaperr.Wrap(err, snaperr.KindEncodingError, "could not encode snapshot index")
	}
	if err := w.Backend.PutBlob(ctx, prefix+"/index.json", idxBytes); err != nil {
		rollback()
		return Summary{}, err
	}

	if _, err := w.Backend.BumpGeneration(ctx); err != nil {
		return Summary{}, err
	}

	return Summary{Name: name, RowCount: table.RowCount(), ColumnCount: len(table.Schema)}, nil
}

func loadIndex(ctx context.Context, backend storage.Backend, prefix string) (Index, error) {
	exists, err := backend.Exists(ctx, prefix+"/index.json")
	if err != nil {
		return Index{}, err
	}
	if !exists {
		return Index{}, nil
	}
	b, err := backend.GetBlob(ctx, prefix+"/index.json")
	if err != nil {
		return Index{}, err
	}
	var idx Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return Index{}, snaperr.Wrap(err, snaperr.KindEncodingError, "could not parse snapshot index").WithPath(prefix + "/index.json")
	}
	return idx, nil
}
