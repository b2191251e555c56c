package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/snaperr"
)

// schemaDriftWindow is the number of leading records used to establish the
// column set for a line-delimited record stream.
const schemaDriftWindow = 1024

// readNDJSON reads a newline-delimited JSON record stream into a
// columnar.Table. The union of keys across the first schemaDriftWindow
// records defines the column set; a later record with a key outside that
// set raises SchemaDrift.
func readNDJSON(ctx context.Context, fs afero.Fs, path string, rowBudget int) (*columnar.Table, error) {
	records, err := decodeLines(fs, path)
	if err != nil {
		return nil, err
	}
	return tableFromRecords(ctx, records, rowBudget, path)
}

// readJSON reads a single JSON document containing an array of records
// (or a single record object) into a columnar.Table, sharing the same
// key-union and type-inference rules as NDJSON.
func readJSON(ctx context.Context, fs afero.Fs, path string, rowBudget int) (*columnar.Table, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindFileNotFound, "could not open JSON source").WithPath(path)
	}

	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not parse JSON source").WithPath(path)
	}

	var records []map[string]any
	switch v := raw.(type) {
	case []any:
		for _, el := range v {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, snaperr.New(snaperr.KindMalformedRecord, "JSON array element is not an object").WithPath(path)
			}
			records = append(records, m)
		}
	case map[string]any:
		records = append(records, v)
	default:
		return nil, snaperr.New(snaperr.KindUnsupportedFormat, "JSON source is neither an array nor an object").WithPath(path)
	}

	return tableFromRecords(ctx, records, rowBudget, path)
}

func decodeLines(fs afero.Fs, path string) ([]map[string]any, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindFileNotFound, "could not open NDJSON source").WithPath(path)
	}
	defer f.Close() // nolint:errcheck

	var records []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, snaperr.New(snaperr.KindMalformedRecord, fmt.Sprintf("invalid JSON at line %d", lineNo)).WithPath(path)
		}
		records = append(records, m)
	}
	if err := sc.Err(); err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not read NDJSON source").WithPath(path)
	}
	return records, nil
}

// tableFromRecords converts a sequence of loosely-typed JSON records into a
// columnar.Table, enforcing the schema-drift window and stable type
// inference.
func tableFromRecords(ctx context.Context, records []map[string]any, rowBudget int, path string) (*columnar.Table, error) {
	if len(records) == 0 {
		return &columnar.Table{Schema: columnar.Schema{}}, nil
	}

	window := records
	if len(window) > schemaDriftWindow {
		window = window[:schemaDriftWindow]
	}
	colSet := map[string]struct{}{}
	for _, rec := range window {
		for k := range rec {
			colSet[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(colSet))
	for k := range colSet {
		names = append(names, k)
	}
	sort.Strings(names)

	if len(records) > schemaDriftWindow {
		for i := schemaDriftWindow; i < len(records); i++ {
			for k := range records[i] {
				if _, ok := colSet[k]; !ok {
					return nil, snaperr.New(snaperr.KindSchemaDrift,
						fmt.Sprintf("record %d introduces unseen key %q outside the first %d records", i, k, schemaDriftWindow)).
						WithPath(path)
				}
			}
		}
	}

	text := make([][]string, len(records))
	for r, rec := range records {
		row := make([]string, len(names))
		for c, name := range names {
			v, ok := rec[name]
			if !ok || v == nil {
				row[c] = "" // absent field / JSON null
				continue
			}
			row[c] = jsonScalarToText(v)
		}
		text[r] = row
	}

	cols := transpose(text, len(names))
	schema := schemaFromColumns(names, cols)

	batches, err := batchesFromChunks(ctx, schema, text, rowBudget)
	if err != nil {
		return nil, err
	}
	return &columnar.Table{Schema: schema, Batches: batches}, nil
}

// jsonScalarToText renders a decoded record value as the text form the
// shared type-inference/batching path expects. It accepts both values
// decoded from JSON (string, bool, float64) and the native Go types a
// columnar reader such as the Parquet reader produces (int32/int64,
// float32, []byte), so that JSON, NDJSON, and Parquet sources all funnel
// through the same inference and batching code. Nested objects/arrays are
// rendered as their compact JSON encoding and typed as strings.
func jsonScalarToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return jsonScalarToText(float64(t))
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case []byte:
		return string(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
