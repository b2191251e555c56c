// Package source implements format detection and columnar materialization
// for the tabular inputs Snapbase ingests: delimited text,
// line-delimited JSON records, columnar (Parquet) files, and spreadsheets.
package source

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/snaperr"
)

// Format is a detected source format tag.
type Format string

// The full set of formats Snapbase detects. All are read except FormatXLS,
// for which reading reports UnsupportedFormat.
const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatJSON    Format = "json"
	FormatNDJSON  Format = "ndjson"
	FormatParquet Format = "parquet"
	FormatXLSX    Format = "xlsx"
	FormatXLS     Format = "xls"
)

var extensions = map[string]Format{
	".csv":     FormatCSV,
	".tsv":     FormatTSV,
	".json":    FormatJSON,
	".ndjson":  FormatNDJSON,
	".jsonl":   FormatNDJSON,
	".parquet": FormatParquet,
	".xlsx":    FormatXLSX,
	".xls":     FormatXLS,
}

// magic byte sequences used for content sniffing once extension-based
// detection fails.
var (
	parquetMagic = []byte("PAR1")
	zipMagic     = []byte{0x50, 0x4b, 0x03, 0x04} // xlsx is a zip container
	utf8BOM      = []byte{0xEF, 0xBB, 0xBF}
)

// Detect determines the Format of the file at path. Extension is consulted
// first; if the extension is absent or unrecognized, the file's leading
// bytes are sniffed.
func Detect(fs afero.Fs, path string) (Format, error) {
	if fmtTag, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return fmtTag, nil
	}

	f, err := fs.Open(path)
	if err != nil {
		return "", snaperr.Wrap(err, snaperr.KindFileNotFound, "could not open source for format detection").WithPath(path)
	}
	defer f.Close() // nolint:errcheck

	head := make([]byte, 8)
	n, _ := f.Read(head)
	head = head[:n]
	head = bytes.TrimPrefix(head, utf8BOM)

	switch {
	case bytes.HasPrefix(head, parquetMagic):
		return FormatParquet, nil
	case bytes.HasPrefix(head, zipMagic):
		return FormatXLSX, nil
	case len(head) > 0 && (head[0] == '{' || head[0] == '['):
		return FormatJSON, nil
	}

	return "", snaperr.New(snaperr.KindUnsupportedFormat, "could not determine source format").WithPath(path)
}
