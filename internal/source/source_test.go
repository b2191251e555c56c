package source

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/logical"
	"github.com/peter-fm/snapbase/internal/snaperr"
)

func mustWriteFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func columnOf(t *testing.T, table *columnar.Table, name string) (int, columnar.Field) {
	t.Helper()
	idx := table.Schema.IndexOf(name)
	if idx < 0 {
		t.Fatalf("column %q not found in schema %v", name, table.Schema.Names())
	}
	return idx, table.Schema[idx]
}

func TestDetectByExtension(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/people.csv", "id,name\n1,Ada\n")

	got, err := Detect(fs, "/ws/people.csv")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got != FormatCSV {
		t.Fatalf("got %v, want %v", got, FormatCSV)
	}
}

func TestDetectBySniffingJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/noext", `[{"a":1}]`)

	got, err := Detect(fs, "/ws/noext")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got != FormatJSON {
		t.Fatalf("got %v, want %v", got, FormatJSON)
	}
}

func TestDetectUnrecognized(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/mystery.bin", "\x01\x02\x03\x04\x05\x06\x07\x08")

	if _, err := Detect(fs, "/ws/mystery.bin"); !snaperr.Is(err, snaperr.KindUnsupportedFormat) {
		t.Fatalf("expected UnsupportedFormat, got %v", err)
	}
}

func TestReadDelimitedHeaderAndTypeInference(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/people.csv", "id,name,active\n1,Ada,true\n2,Grace,false\n")

	format, table, err := Read(context.Background(), "/ws", "people.csv", WithFS(fs))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if format != FormatCSV {
		t.Fatalf("format = %v, want csv", format)
	}
	if len(table.Batches) != 1 || table.Batches[0].Len() != 2 {
		t.Fatalf("expected 1 batch of 2 rows, got %+v", table.Batches)
	}

	_, idField := columnOf(t, table, "id")
	if idField.Kind != logical.KindInt64 {
		t.Errorf("id kind = %v, want int64", idField.Kind)
	}
	_, activeField := columnOf(t, table, "active")
	if activeField.Kind != logical.KindBool {
		t.Errorf("active kind = %v, want bool", activeField.Kind)
	}
	_, nameField := columnOf(t, table, "name")
	if nameField.Kind != logical.KindString {
		t.Errorf("name kind = %v, want string", nameField.Kind)
	}
}

func TestReadDelimitedNoHeaderWhenFirstRowLooksLikeData(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/nums.csv", "1,2\n3,4\n")

	_, table, err := Read(context.Background(), "/ws", "nums.csv", WithFS(fs))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if table.Schema.Names()[0] != "column_1" {
		t.Fatalf("expected synthesized header, got %v", table.Schema.Names())
	}
	if table.Batches[0].Len() != 2 {
		t.Fatalf("expected both rows treated as data, got %d rows", table.Batches[0].Len())
	}
}

func TestReadDelimitedBOMIsConsumed(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "\xEF\xBB\xBFid,name\n1,Ada\n"
	mustWriteFile(t, fs, "/ws/bom.csv", content)

	_, table, err := Read(context.Background(), "/ws", "bom.csv", WithFS(fs))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	names := table.Schema.Names()
	if names[0] != "id" {
		t.Fatalf("BOM leaked into first header cell: %q", names[0])
	}
}

func TestReadDelimitedLoneCRIsMalformed(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/bad.csv", "id,name\n1,Al\rice\n")

	_, _, err := Read(context.Background(), "/ws", "bad.csv", WithFS(fs))
	if !snaperr.Is(err, snaperr.KindMalformedRecord) {
		t.Fatalf("expected MalformedRecord for lone CR in unquoted field, got %v", err)
	}
}

func TestReadDelimitedCRLFAndQuotedCRAreAccepted(t *testing.T) {
	fs := afero.NewMemMapFs()
	// CRLF line endings are fine, and a CR inside a quoted field is legal
	// per RFC 4180; only a lone CR in an unquoted field is rejected.
	mustWriteFile(t, fs, "/ws/ok.csv", "id,name\r\n1,\"Al\rice\"\r\n")

	_, table, err := Read(context.Background(), "/ws", "ok.csv", WithFS(fs))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if table.Batches[0].Len() != 1 {
		t.Fatalf("expected 1 data row, got %d", table.Batches[0].Len())
	}
}

func TestReadTSV(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/people.tsv", "id\tname\n1\tAda\n")

	format, table, err := Read(context.Background(), "/ws", "people.tsv", WithFS(fs))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if format != FormatTSV {
		t.Fatalf("format = %v, want tsv", format)
	}
	if table.Batches[0].Len() != 1 {
		t.Fatalf("expected 1 data row, got %d", table.Batches[0].Len())
	}
}

func TestReadNDJSONKeyUnionAndWidening(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := `{"id":1,"name":"Ada"}
{"id":2,"name":"Grace","extra":"x"}
`
	mustWriteFile(t, fs, "/ws/records.ndjson", content)

	_, table, err := Read(context.Background(), "/ws", "records.ndjson", WithFS(fs))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	names := table.Schema.Names()
	if len(names) != 3 {
		t.Fatalf("expected union of 3 keys, got %v", names)
	}
}

func TestReadNDJSONSchemaDriftBeyondWindow(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := `{"id":1}
{"id":2,"unexpected":true}
`
	mustWriteFile(t, fs, "/ws/drift.ndjson", content)

	_, _, err := Read(context.Background(), "/ws", "drift.ndjson", WithFS(fs), WithRowBudget(1))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	_, _, err = readDriftBeyondWindowFixture(fs)
	if !snaperr.Is(err, snaperr.KindSchemaDrift) {
		t.Fatalf("expected SchemaDrift, got %v", err)
	}
}

// readDriftBeyondWindowFixture exercises tableFromRecords directly with a
// record set larger than schemaDriftWindow so the drift check in
// tableFromRecords is reachable without writing a 1025-line fixture file.
func readDriftBeyondWindowFixture(fs afero.Fs) (Format, *columnar.Table, error) {
	records := make([]map[string]any, schemaDriftWindow+1)
	for i := range records {
		records[i] = map[string]any{"id": float64(i)}
	}
	records[schemaDriftWindow] = map[string]any{"id": float64(schemaDriftWindow), "unexpected": true}

	table, err := tableFromRecords(context.Background(), records, columnar.DefaultRowBudget, "fixture.ndjson")
	return FormatNDJSON, table, err
}

func TestReadJSONArrayDocument(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/records.json", `[{"id":1},{"id":2}]`)

	_, table, err := Read(context.Background(), "/ws", "records.json", WithFS(fs))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if table.Batches[0].Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", table.Batches[0].Len())
	}
}

func TestReadRowBudgetSplitsBatches(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "id\n1\n2\n3\n4\n5\n"
	mustWriteFile(t, fs, "/ws/nums.csv", content)

	_, table, err := Read(context.Background(), "/ws", "nums.csv", WithFS(fs), WithRowBudget(2))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(table.Batches) != 3 {
		t.Fatalf("expected 3 batches (2,2,1), got %d", len(table.Batches))
	}
	total := 0
	for _, b := range table.Batches {
		total += b.Len()
	}
	if total != 5 {
		t.Fatalf("expected 5 total rows, got %d", total)
	}
}

func TestReadMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if _, _, err := Read(context.Background(), "/ws", "missing.csv", WithFS(fs)); !snaperr.Is(err, snaperr.KindFileNotFound) {
		t.Fatalf("expected FileNotFound, got %v", err)
	}
}

func TestReadXLSUnsupported(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWriteFile(t, fs, "/ws/legacy.xls", "not a real xls, detection is by extension")

	if _, _, err := Read(context.Background(), "/ws", "legacy.xls", WithFS(fs)); !snaperr.Is(err, snaperr.KindUnsupportedFormat) {
		t.Fatalf("expected UnsupportedFormat, got %v", err)
	}
}
