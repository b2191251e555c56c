package source

import (
	"context"
	"reflect"

	"github.com/xitongsys/parquet-go-source/local"
	preader "github.com/xitongsys/parquet-go/reader"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/snaperr"
)

// readParquet reads a Parquet file into a columnar.Table, trusting the
// schema embedded in the file rather than requiring a predeclared Go
// struct. Rows are decoded
// generically into maps and funneled through the same key-union and
// type-inference path as JSON/NDJSON (tableFromRecords), so the same
// stable-typing guarantees apply uniformly across formats.
//
// xitongsys/parquet-go-source operates on real filesystem paths rather
// than an afero.Fs; the storage backend and CLI both work with real paths
// in practice, so this is a pragmatic, narrow seam rather than a general
// afero bypass.
func readParquet(ctx context.Context, path string, rowBudget int) (*columnar.Table, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindFileNotFound, "could not open parquet source").WithPath(path)
	}
	defer fr.Close() // nolint:errcheck

	pr, err := preader.NewParquetReader(fr, nil, 4)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not parse parquet schema").WithPath(path)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	raw, err := pr.ReadByNumber(n)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not read parquet rows").WithPath(path)
	}

	records, err := RecordsFromParquet(pr, raw)
	if err != nil {
		return nil, err
	}

	return tableFromRecords(ctx, records, rowBudget, path)
}

// RecordsFromParquet converts the rows preader.ParquetReader.ReadByNumber
// hands back into generic records keyed by the file's own column names.
// parquet-go materializes each row as a dynamically built struct whose
// field names are the Go-ified in-names of the schema; the reader's schema
// handler carries the in-name -> ex-name mapping needed to restore the
// original names. An OPTIONAL field decodes as a pointer, nil meaning null.
// Shared with the snapshot payload reader, which persists its payloads
// through the same library.
func RecordsFromParquet(pr *preader.ParquetReader, raw []interface{}) ([]map[string]any, error) {
	infos := pr.SchemaHandler.Infos
	records := make([]map[string]any, 0, len(raw))
	for _, row := range raw {
		rv := reflect.ValueOf(row)
		if rv.Kind() == reflect.Ptr {
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.Struct {
			return nil, snaperr.New(snaperr.KindMalformedRecord, "parquet row did not decode to a record")
		}
		// infos[0] is the schema root, not a column.
		rec := make(map[string]any, len(infos)-1)
		for _, info := range infos[1:] {
			f := rv.FieldByName(info.InName)
			if !f.IsValid() {
				continue
			}
			if f.Kind() == reflect.Ptr {
				if f.IsNil() {
					rec[info.ExName] = nil
					continue
				}
				f = f.Elem()
			}
			rec[info.ExName] = f.Interface()
		}
		records = append(records, rec)
	}
	return records, nil
}
