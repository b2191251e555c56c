package source

import (
	"context"
	"strconv"
	"time"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/logical"
	"github.com/peter-fm/snapbase/internal/snaperr"
)

// batchFromText builds a columnar.Batch from a block of text-valued rows
// (rows[i][c] is the raw cell for row i, column c) given each column's
// inferred Kind. This is shared by the delimited-text and JSON/NDJSON
// readers, and by row batching once a table exceeds the row budget.
func batchFromText(schema columnar.Schema, rows [][]string) *columnar.Batch {
	n := len(rows)
	b := &columnar.Batch{
		Schema:  schema,
		Columns: make([]any, len(schema)),
		Nulls:   make([]columnar.Bitset, len(schema)),
	}

	for c, field := range schema {
		nulls := columnar.NewBitset(n)
		switch field.Kind {
		case logical.KindInt64:
			col := make([]int64, n)
			for r := 0; r < n; r++ {
				raw := cell(rows, r, c)
				if isNullText(raw) {
					nulls.Set(r)
					continue
				}
				v, _ := strconv.ParseInt(raw, 10, 64)
				col[r] = v
			}
			b.Columns[c] = col
		case logical.KindFloat64:
			col := make([]float64, n)
			for r := 0; r < n; r++ {
				raw := cell(rows, r, c)
				if isNullText(raw) {
					nulls.Set(r)
					continue
				}
				v, _ := strconv.ParseFloat(raw, 64)
				col[r] = v
			}
			b.Columns[c] = col
		case logical.KindBool:
			col := make([]bool, n)
			for r := 0; r < n; r++ {
				raw := cell(rows, r, c)
				if isNullText(raw) {
					nulls.Set(r)
					continue
				}
				v, _ := strconv.ParseBool(raw)
				col[r] = v
			}
			b.Columns[c] = col
		case logical.KindTimestamp:
			col := make([]time.Time, n)
			for r := 0; r < n; r++ {
				raw := cell(rows, r, c)
				if isNullText(raw) {
					nulls.Set(r)
					continue
				}
				v, _ := parseTimestamp(raw)
				col[r] = v
			}
			b.Columns[c] = col
		default: // KindString
			col := make([]string, n)
			for r := 0; r < n; r++ {
				raw := cell(rows, r, c)
				if isNullText(raw) {
					nulls.Set(r)
					continue
				}
				col[r] = raw
			}
			b.Columns[c] = col
		}
		b.Nulls[c] = nulls
	}

	return b
}

func cell(rows [][]string, r, c int) string {
	if c >= len(rows[r]) {
		return ""
	}
	return rows[r][c]
}

// chunk splits rows into slices no longer than size, preserving order.
func chunk(rows [][]string, size int) [][][]string {
	if size <= 0 {
		size = columnar.DefaultRowBudget
	}
	var out [][][]string
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[i:end])
	}
	if len(out) == 0 {
		out = append(out, [][]string{})
	}
	return out
}

// batchesFromChunks builds one columnar.Batch per row-budget-sized chunk
// of rows, checking ctx between batches. Shared by every text-backed
// format reader (delimited, JSON/NDJSON, spreadsheet) so the cancellation
// checkpoint lives in one place.
func batchesFromChunks(ctx context.Context, schema columnar.Schema, rows [][]string, rowBudget int) ([]*columnar.Batch, error) {
	var batches []*columnar.Batch
	for _, rowsChunk := range chunk(rows, rowBudget) {
		if err := snaperr.CheckContext(ctx); err != nil {
			return nil, err
		}
		batches = append(batches, batchFromText(schema, rowsChunk))
	}
	return batches, nil
}

// schemaFromColumns infers a Schema from column name order and their raw
// text values (column-major: values[c] holds every row's raw cell for
// column c).
func schemaFromColumns(names []string, values [][]string) columnar.Schema {
	schema := make(columnar.Schema, len(names))
	for i, name := range names {
		schema[i] = columnar.Field{Name: name, Kind: inferColumnKind(values[i])}
	}
	return schema
}

// transpose converts row-major text cells into column-major slices.
func transpose(rows [][]string, numCols int) [][]string {
	cols := make([][]string, numCols)
	for c := range cols {
		cols[c] = make([]string, len(rows))
	}
	for r := range rows {
		for c := 0; c < numCols; c++ {
			cols[c][r] = cell(rows, r, c)
		}
	}
	return cols
}
