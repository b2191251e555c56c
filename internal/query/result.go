package query

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/logical"
	"github.com/peter-fm/snapbase/internal/snaperr"
)

// scanResult drains rows into a columnar.Batch, applying limit (if > 0) as
// a post-query safety cap. Column kinds are inferred from the
// driver values actually returned, since an aggregate or expression column
// has no schema entry to trust.
func scanResult(rows *sql.Rows, limit int) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindSqlParseError, "could not read result columns")
	}

	raw := make([][]any, len(cols))
	n := 0
	for rows.Next() {
		if limit > 0 && n >= limit {
			break
		}
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, snaperr.Wrap(err, snaperr.KindSqlParseError, "could not scan result row")
		}
		for i, v := range dest {
			raw[i] = append(raw[i], normalizeDriverValue(v))
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindSqlParseError, "error iterating result rows")
	}

	schema := make(columnar.Schema, len(cols))
	batch := &columnar.Batch{
		Columns: make([]any, len(cols)),
		Nulls:   make([]columnar.Bitset, len(cols)),
	}
	for i, name := range cols {
		kind := inferResultKind(raw[i])
		schema[i] = columnar.Field{Name: name, Kind: kind}
		batch.Columns[i], batch.Nulls[i] = materializeColumn(raw[i], kind)
	}
	batch.Schema = schema
	return batch, nil
}

// normalizeDriverValue converts the generic driver value mattn/go-sqlite3
// hands back through database/sql's *interface{} scanning into the plain
// Go value this package reasons about.
func normalizeDriverValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// inferResultKind chooses a single logical.Kind for an entire result
// column from the (possibly mixed, since SQLite is dynamically typed)
// driver values observed, widening pairwise the same way source inference
// does.
func inferResultKind(values []any) logical.Kind {
	kind := logical.KindNull
	for _, v := range values {
		kind = logical.Widen(kind, kindOfValue(v))
	}
	return kind
}

func kindOfValue(v any) logical.Kind {
	switch v.(type) {
	case nil:
		return logical.KindNull
	case int64:
		return logical.KindInt64
	case float64:
		return logical.KindFloat64
	case bool:
		return logical.KindBool
	case time.Time:
		return logical.KindTimestamp
	default:
		return logical.KindString
	}
}

func materializeColumn(values []any, kind logical.Kind) (any, columnar.Bitset) {
	n := len(values)
	nulls := columnar.NewBitset(n)

	switch kind {
	case logical.KindInt64:
		col := make([]int64, n)
		for i, v := range values {
			if v == nil {
				nulls.Set(i)
				continue
			}
			col[i], _ = v.(int64)
		}
		return col, nulls
	case logical.KindFloat64:
		col := make([]float64, n)
		for i, v := range values {
			if v == nil {
				nulls.Set(i)
				continue
			}
			switch t := v.(type) {
			case float64:
				col[i] = t
			case int64:
				col[i] = float64(t)
			}
		}
		return col, nulls
	case logical.KindBool:
		col := make([]bool, n)
		for i, v := range values {
			if v == nil {
				nulls.Set(i)
				continue
			}
			switch t := v.(type) {
			case bool:
				col[i] = t
			case int64:
				col[i] = t != 0
			}
		}
		return col, nulls
	case logical.KindTimestamp:
		col := make([]time.Time, n)
		for i, v := range values {
			if v == nil {
				nulls.Set(i)
				continue
			}
			if t, ok := v.(time.Time); ok {
				col[i] = t
			}
		}
		return col, nulls
	default:
		col := make([]string, n)
		for i, v := range values {
			if v == nil {
				nulls.Set(i)
				continue
			}
			col[i] = stringify(v)
		}
		return col, nulls
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return ""
	}
}
