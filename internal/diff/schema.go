package diff

import "github.com/peter-fm/snapbase/internal/columnar"

// SchemaChangeKind identifies the kind of schema drift recorded between two
// snapshots' schemas.
type SchemaChangeKind string

// The possible SchemaChange kinds.
const (
	SchemaChangeAdded       SchemaChangeKind = "added"
	SchemaChangeRemoved     SchemaChangeKind = "removed"
	SchemaChangeTypeChanged SchemaChangeKind = "type_changed"
)

// SchemaChange describes one difference between a from/to schema pair:
// either a column present in only one side, or a column present in both
// whose logical type differs.
type SchemaChange struct {
	Column   string           `json:"column"`
	Kind     SchemaChangeKind `json:"kind"`
	FromType string           `json:"from_type,omitempty"`
	ToType   string           `json:"to_type,omitempty"`
}

// compareSchemas records the schema drift between two sides: columns
// present in one schema but not the other, and columns whose logical type
// differs.
// Ordering follows the "from" schema first (its removed/type-changed columns in
// schema order), then any column unique to "to".
func compareSchemas(from, to columnar.Schema) []SchemaChange {
	toIdx := map[string]columnar.Field{}
	for _, f := range to {
		toIdx[f.Name] = f
	}
	fromIdx := map[string]columnar.Field{}
	for _, f := range from {
		fromIdx[f.Name] = f
	}

	var changes []SchemaChange
	for _, f := range from {
		tf, ok := toIdx[f.Name]
		if !ok {
			changes = append(changes, SchemaChange{Column: f.Name, Kind: SchemaChangeRemoved, FromType: f.Kind.String()})
			continue
		}
		if tf.Kind != f.Kind {
			changes = append(changes, SchemaChange{Column: f.Name, Kind: SchemaChangeTypeChanged, FromType: f.Kind.String(), ToType: tf.Kind.String()})
		}
	}
	for _, f := range to {
		if _, ok := fromIdx[f.Name]; !ok {
			changes = append(changes, SchemaChange{Column: f.Name, Kind: SchemaChangeAdded, ToType: f.Kind.String()})
		}
	}
	return changes
}

// commonColumns returns the column names present in both schemas, in
// "from" schema order.
func commonColumns(from, to columnar.Schema) []string {
	toIdx := map[string]bool{}
	for _, f := range to {
		toIdx[f.Name] = true
	}
	var out []string
	for _, f := range from {
		if toIdx[f.Name] {
			out = append(out, f.Name)
		}
	}
	return out
}
