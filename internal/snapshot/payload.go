package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	preader "github.com/xitongsys/parquet-go/reader"
	pwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/logical"
	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/source"
)

// writePayload serializes table into the bytes of a self-describing Parquet
// file, the payload data_ref points at. A real Parquet file is used
// rather than a bespoke binary layout, so the payload stays inspectable by
// any standard Parquet tool and reuses the same reader machinery as
// internal/source's Parquet ingestion path. xitongsys/parquet-go's writer
// operates on a source.ParquetFile backed by a real path, so the table is
// staged through a scratch temp file and read back into memory rather than
// streamed directly into the storage backend's []byte-oriented PutBlob.
func writePayload(ctx context.Context, table *columnar.Table) ([]byte, error) {
	tmp, err := os.CreateTemp("", "snapbase-payload-*.parquet")
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, "could not create temporary payload file")
	}
	tmpPath := tmp.Name()
	tmp.Close() // nolint:errcheck
	defer os.Remove(tmpPath) // nolint:errcheck

	fw, err := local.NewLocalFileWriter(tmpPath)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, "could not open payload writer").WithPath(tmpPath)
	}

	schemaStr, err := schemaJSON(table.Schema)
	if err != nil {
		_ = fw.Close()
		return nil, err
	}
	pw, err := pwriter.NewJSONWriter(schemaStr, fw, 1)
	if err != nil {
		_ = fw.Close()
		return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not construct parquet schema")
	}

	for _, batch := range table.Batches {
		if err := snaperr.CheckContext(ctx); err != nil {
			_ = fw.Close()
			return nil, err
		}
		for r := 0; r < batch.Len(); r++ {
			rec := rowToRecord(table.Schema, batch, r)
			b, err := json.Marshal(rec)
			if err != nil {
				_ = fw.Close()
				return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not encode row")
			}
			if err := pw.Write(string(b)); err != nil {
				_ = fw.Close()
				return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not write parquet row")
			}
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not finalize payload")
	}
	if err := fw.Close(); err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, "could not close payload writer").WithPath(tmpPath)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, "could not read back payload").WithPath(tmpPath)
	}
	return data, nil
}

// readPayload decodes a data.columnar payload back into a columnar.Table,
// trusting the schema recorded in the snapshot's metadata rather than
// re-inferring it, so values round-trip through their exact logical Kind
// regardless of how a narrower Parquet type might otherwise be read back.
func readPayload(ctx context.Context, data []byte, schema columnar.Schema, rowBudget int) (*columnar.Table, error) {
	if rowBudget <= 0 {
		rowBudget = columnar.DefaultRowBudget
	}

	tmp, err := os.CreateTemp("", "snapbase-payload-read-*.parquet")
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, "could not create temporary payload file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() // nolint:errcheck
		return nil, snaperr.Wrap(err, snaperr.KindIoError, "could not stage payload for read")
	}
	tmp.Close() // nolint:errcheck

	fr, err := local.NewLocalFileReader(tmpPath)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, "could not open payload reader").WithPath(tmpPath)
	}
	defer fr.Close() // nolint:errcheck

	pr, err := preader.NewParquetReader(fr, nil, 4)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not parse payload schema").WithPath(tmpPath)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	table := &columnar.Table{Schema: schema}
	if n == 0 {
		return table, nil
	}

	raw, err := pr.ReadByNumber(n)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not read payload rows").WithPath(tmpPath)
	}
	records, err := source.RecordsFromParquet(pr, raw)
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(records); start += rowBudget {
		if err := snaperr.CheckContext(ctx); err != nil {
			return nil, err
		}
		end := start + rowBudget
		if end > len(records) {
			end = len(records)
		}
		table.Batches = append(table.Batches, recordsToBatch(schema, records[start:end]))
	}
	return table, nil
}

// payloadSchemaNode is the JSON shape xitongsys/parquet-go's JSON writer
// takes its schema in: a root tag plus one node per field.
type payloadSchemaNode struct {
	Tag    string              `json:"Tag"`
	Fields []payloadSchemaNode `json:"Fields,omitempty"`
}

// schemaJSON renders a columnar.Schema into the JSON schema string the
// payload writer is constructed with.
func schemaJSON(schema columnar.Schema) (string, error) {
	root := payloadSchemaNode{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for _, f := range schema {
		root.Fields = append(root.Fields, payloadSchemaNode{Tag: fieldTag(f)})
	}
	b, err := json.Marshal(root)
	if err != nil {
		return "", snaperr.Wrap(err, snaperr.KindEncodingError, "could not render payload schema")
	}
	return string(b), nil
}

func fieldTag(f columnar.Field) string {
	name := columnar.SanitizeIdentifier(f.Name)
	switch f.Kind {
	case logical.KindInt64, logical.KindTimestamp:
		return fmt.Sprintf("name=%s, type=INT64, repetitiontype=OPTIONAL", name)
	case logical.KindFloat64:
		return fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", name)
	case logical.KindBool:
		return fmt.Sprintf("name=%s, type=BOOLEAN, repetitiontype=OPTIONAL", name)
	default:
		return fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", name)
	}
}

// rowToRecord renders one row of batch into the map the JSON writer
// marshals for that row, keyed by the same sanitized names used in the
// schema tags.
func rowToRecord(schema columnar.Schema, batch *columnar.Batch, row int) map[string]any {
	rec := make(map[string]any, len(schema))
	for c, f := range schema {
		key := columnar.SanitizeIdentifier(f.Name)
		if batch.IsNull(row, c) {
			rec[key] = nil
			continue
		}
		switch f.Kind {
		case logical.KindInt64:
			rec[key] = batch.Columns[c].([]int64)[row]
		case logical.KindFloat64:
			rec[key] = batch.Columns[c].([]float64)[row]
		case logical.KindBool:
			rec[key] = batch.Columns[c].([]bool)[row]
		case logical.KindTimestamp:
			rec[key] = batch.Columns[c].([]time.Time)[row].UnixMilli()
		default:
			rec[key] = batch.Columns[c].([]string)[row]
		}
	}
	return rec
}

// recordsToBatch converts decoded payload rows (generic maps keyed by
// sanitized field name, null cells nil) back into a typed columnar.Batch
// matching schema.
func recordsToBatch(schema columnar.Schema, records []map[string]any) *columnar.Batch {
	n := len(records)
	batch := &columnar.Batch{
		Schema:  schema,
		Columns: make([]any, len(schema)),
		Nulls:   make([]columnar.Bitset, len(schema)),
	}

	for c, f := range schema {
		key := columnar.SanitizeIdentifier(f.Name)
		nulls := columnar.NewBitset(n)
		switch f.Kind {
		case logical.KindInt64:
			col := make([]int64, n)
			for r, rec := range records {
				v := rec[key]
				if v == nil {
					nulls.Set(r)
					continue
				}
				col[r] = toInt64(v)
			}
			batch.Columns[c] = col
		case logical.KindFloat64:
			col := make([]float64, n)
			for r, rec := range records {
				v := rec[key]
				if v == nil {
					nulls.Set(r)
					continue
				}
				col[r] = toFloat64(v)
			}
			batch.Columns[c] = col
		case logical.KindBool:
			col := make([]bool, n)
			for r, rec := range records {
				v := rec[key]
				if v == nil {
					nulls.Set(r)
					continue
				}
				col[r], _ = v.(bool)
			}
			batch.Columns[c] = col
		case logical.KindTimestamp:
			col := make([]time.Time, n)
			for r, rec := range records {
				v := rec[key]
				if v == nil {
					nulls.Set(r)
					continue
				}
				col[r] = time.UnixMilli(toInt64(v)).UTC()
			}
			batch.Columns[c] = col
		default:
			col := make([]string, n)
			for r, rec := range records {
				v := rec[key]
				if v == nil {
					nulls.Set(r)
					continue
				}
				col[r] = toStringValue(v)
			}
			batch.Columns[c] = col
		}
		batch.Nulls[c] = nulls
	}
	return batch
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func toStringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
