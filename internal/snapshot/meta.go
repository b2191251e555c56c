// Package snapshot implements the commit pipeline and metadata model:
// hashing, stamping, and persisting a columnar snapshot of a source
// through a storage.Backend.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/logical"
)

// FieldMeta is the JSON-serializable form of a columnar.Field.
type FieldMeta struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Meta is the full snapshot metadata persisted as meta.json. Field order
// and json tags are part of the on-disk format and must not change once
// written: a committed snapshot's meta.json bytes never change.
type Meta struct {
	SourceKey   string      `json:"source_key"`
	SourcePath  string      `json:"source_path"`
	Format      string      `json:"format"`
	Name        string      `json:"name"`
	Sequence    int         `json:"sequence"`
	CreatedAt   time.Time   `json:"created_at"`
	Schema      []FieldMeta `json:"schema"`
	RowCount    int         `json:"row_count"`
	ColumnCount int         `json:"column_count"`
	ContentHash string      `json:"content_hash"`
	DataRef     string      `json:"data_ref"`
}

// schemaMeta converts a columnar.Schema to its persisted form.
func schemaMeta(schema columnar.Schema) []FieldMeta {
	out := make([]FieldMeta, len(schema))
	for i, f := range schema {
		out[i] = FieldMeta{Name: f.Name, Kind: f.Kind.String()}
	}
	return out
}

// toSchema converts persisted field metadata back into a columnar.Schema.
func (m Meta) toSchema() columnar.Schema {
	schema := make(columnar.Schema, len(m.Schema))
	for i, f := range m.Schema {
		schema[i] = columnar.Field{Name: f.Name, Kind: kindFromString(f.Kind)}
	}
	return schema
}

func kindFromString(s string) logical.Kind {
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

// contentHash computes the SHA-256 digest over the canonical serialization
// of every row in table, in file order.
func contentHash(table *columnar.Table) string {
	h := sha256.New()
	for _, batch := range table.Batches {
		for r := 0; r < batch.Len(); r++ {
			h.Write(columnar.CanonicalRowBytes(batch, r))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// marshalMeta renders m as indented JSON, the exact bytes written to
// meta.json and compared by the immutability property.
func marshalMeta(m Meta) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
