package source

import (
	"context"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/snaperr"
)

// readSpreadsheet reads the first sheet of an .xlsx workbook into a
// columnar.Table: first row is the header, trailing fully-empty rows are
// trimmed. The legacy binary .xls format predates the OOXML
// container excelize reads and is reported as UnsupportedFormat.
func readSpreadsheet(ctx context.Context, fs afero.Fs, path string, format Format, rowBudget int) (*columnar.Table, error) {
	if format == FormatXLS {
		return nil, snaperr.New(snaperr.KindUnsupportedFormat, "legacy .xls binary format is not supported; convert to .xlsx").WithPath(path)
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindFileNotFound, "could not open spreadsheet source").WithPath(path)
	}
	defer f.Close() // nolint:errcheck

	xf, err := excelize.OpenReader(f)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not parse spreadsheet").WithPath(path)
	}
	defer xf.Close() // nolint:errcheck

	sheets := xf.GetSheetList()
	if len(sheets) == 0 {
		return nil, snaperr.New(snaperr.KindMalformedRecord, "spreadsheet contains no sheets").WithPath(path)
	}

	rows, err := xf.GetRows(sheets[0])
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindEncodingError, "could not read sheet rows").WithPath(path)
	}

	rows = trimTrailingEmptyRows(rows)
	if len(rows) == 0 {
		return &columnar.Table{Schema: columnar.Schema{}}, nil
	}

	numCols := 0
	for _, r := range rows {
		if len(r) > numCols {
			numCols = len(r)
		}
	}

	header := make([]string, numCols)
	for i := 0; i < numCols; i++ {
		header[i] = cell(rows, 0, i)
	}
	dataRows := rows[1:]

	cols := transpose(dataRows, numCols)
	schema := schemaFromColumns(header, cols)

	batches, err := batchesFromChunks(ctx, schema, dataRows, rowBudget)
	if err != nil {
		return nil, err
	}
	return &columnar.Table{Schema: schema, Batches: batches}, nil
}

func trimTrailingEmptyRows(rows [][]string) [][]string {
	end := len(rows)
	for end > 0 && rowIsEmpty(rows[end-1]) {
		end--
	}
	return rows[:end]
}

func rowIsEmpty(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
