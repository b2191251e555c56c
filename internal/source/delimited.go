package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/logical"
	"github.com/peter-fm/snapbase/internal/snaperr"
)

// readDelimited reads a CSV or TSV file into a columnar.Table.
// Quoting follows RFC 4180 via encoding/csv; a UTF-8 BOM is consumed
// silently; a lone CR inside an unquoted field is reported as a
// MalformedRecord. encoding/csv only normalizes a trailing CRLF, silently
// keeping a mid-field CR as a literal byte, so the lone-CR check runs over
// the raw bytes before parsing.
func readDelimited(ctx context.Context, fs afero.Fs, path string, delimiter rune, rowBudget int) (*columnar.Table, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindFileNotFound, "could not open delimited source").WithPath(path)
	}
	b = bytes.TrimPrefix(b, utf8BOM)

	if line, col, found := findLoneCR(b); found {
		return nil, snaperr.New(snaperr.KindMalformedRecord,
			fmt.Sprintf("lone carriage return in unquoted field at line %d, column %d", line, col)).
			WithPath(path)
	}

	r := csv.NewReader(bytes.NewReader(b))
	r.Comma = delimiter
	r.LazyQuotes = false
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if pe, ok := err.(*csv.ParseError); ok {
				return nil, snaperr.New(snaperr.KindMalformedRecord, fmt.Sprintf("malformed record: %v", pe)).
					WithPath(path)
			}
			return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not read delimited source").WithPath(path)
		}
		rows = append(rows, rec)
	}

	if len(rows) == 0 {
		return &columnar.Table{Schema: columnar.Schema{}, Batches: nil}, nil
	}

	numCols := len(rows[0])
	for _, row := range rows {
		if len(row) > numCols {
			numCols = len(row)
		}
	}

	header, dataRows := splitHeader(rows, numCols)

	names := header
	if names == nil {
		names = make([]string, numCols)
		for i := range names {
			names[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	cols := transpose(dataRows, numCols)
	schema := schemaFromColumns(names, cols)

	batches, err := batchesFromChunks(ctx, schema, dataRows, rowBudget)
	if err != nil {
		return nil, err
	}
	return &columnar.Table{Schema: schema, Batches: batches}, nil
}

// findLoneCR scans raw delimited-text bytes for a carriage return outside a
// quoted field that is not immediately followed by LF. Quoted fields may
// carry embedded line breaks per RFC 4180; unquoted fields may not. Returns
// the 1-based line and column of the first offender.
func findLoneCR(b []byte) (line, col int, found bool) {
	line, col = 1, 1
	inQuotes := false
	for i := 0; i < len(b); i++ {
		switch {
		case b[i] == '"':
			// an escaped "" inside a quoted field toggles twice, netting out
			inQuotes = !inQuotes
		case b[i] == '\r' && !inQuotes:
			if i+1 >= len(b) || b[i+1] != '\n' {
				return line, col, true
			}
		case b[i] == '\n':
			line++
			col = 0
		}
		col++
	}
	return 0, 0, false
}

// splitHeader performs header detection: the first row is the header
// unless it looks like a data row itself, i.e. every cell in it parses as
// a non-string logical kind. When detection concludes there is no header,
// every row is treated as data and nil is returned for the header.
func splitHeader(rows [][]string, numCols int) (header []string, data [][]string) {
	first := rows[0]
	looksLikeData := len(first) > 0
	for _, v := range first {
		if isNullText(v) || requiredKind(v) == logical.KindString {
			looksLikeData = false
			break
		}
	}
	if looksLikeData {
		return nil, rows
	}

	header = make([]string, numCols)
	for i := 0; i < numCols; i++ {
		header[i] = cell(rows, 0, i)
	}
	return header, rows[1:]
}
