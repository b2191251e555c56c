package snapshot

import (
	"context"
	"encoding/json"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/storage"
)

// MetaKey returns the storage key for a snapshot's meta.json.
func MetaKey(sourceKeyHash, name string) string {
	return "sources/" + sourceKeyHash + "/snapshots/" + name + "/meta.json"
}

// IndexKey returns the storage key for a source's index.json.
func IndexKey(sourceKeyHash string) string {
	return "sources/" + sourceKeyHash + "/index.json"
}

// SourceDescriptorKey returns the storage key for a source's source.json.
func SourceDescriptorKey(sourceKeyHash string) string {
	return "sources/" + sourceKeyHash + "/source.json"
}

// LoadMeta reads and parses a snapshot's persisted metadata.
func LoadMeta(ctx context.Context, backend storage.Backend, sourceKeyHash, name string) (Meta, error) {
	b, err := backend.GetBlob(ctx, MetaKey(sourceKeyHash, name))
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, snaperr.Wrap(err, snaperr.KindEncodingError, "could not parse snapshot metadata").WithSnapshot(name)
	}
	return m, nil
}

// LoadIndex reads and parses a source's index.json, returning a zero-value
// Index (no error) if the index does not exist yet.
func LoadIndex(ctx context.Context, backend storage.Backend, sourceKeyHash string) (Index, error) {
	return loadIndex(ctx, backend, "sources/"+sourceKeyHash)
}

// LoadTable reads a snapshot's persisted payload and decodes it into a
// columnar.Table using the schema recorded in meta.
func LoadTable(ctx context.Context, backend storage.Backend, meta Meta, rowBudget int) (*columnar.Table, error) {
	b, err := backend.GetBlob(ctx, meta.DataRef)
	if err != nil {
		return nil, err
	}
	return readPayload(ctx, b, meta.toSchema(), rowBudget)
}

// ColumnarSchema exposes the persisted schema of a Meta as a
// columnar.Schema, for callers (catalog, query, diff) that need it without
// decoding the payload.
func (m Meta) ColumnarSchema() columnar.Schema {
	return m.toSchema()
}
