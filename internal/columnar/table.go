// Package columnar defines the uniform in-memory table representation
// produced by the source reader, persisted by the snapshot
// writer, and consumed by the query and diff engines. It is a
// lightweight, Arrow-shaped record-batch type: columns are stored densely
// and immutably, batches are reference-counted only by Go's own GC, and
// sharing a batch across goroutines requires no locking.
package columnar

import (
	"strings"
	"time"
	"unicode"

	"github.com/peter-fm/snapbase/internal/logical"
)

// Field describes one column: its name and logical type.
type Field struct {
	Name string
	Kind logical.Kind
}

// Schema is an ordered list of fields. Column order is part of a snapshot's
// identity so Schema is always treated as a slice, never a map.
type Schema []Field

// IndexOf returns the position of the named field, or -1 if absent.
func (s Schema) IndexOf(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Batch is a bounded-size, column-major slice of rows sharing Schema. A
// Batch is immutable once constructed and may be read concurrently.
type Batch struct {
	Schema Schema
	// Columns holds one entry per field in Schema, in the same order.
	// Each entry is a dense slice of len(Batch) values, using the Go type
	// that corresponds to the field's Kind:
	//   KindInt64     -> []int64   (NaN-free; nulls tracked in Nulls)
	//   KindFloat64   -> []float64
	//   KindBool      -> []bool
	//   KindTimestamp -> []time.Time
	//   KindString    -> []string
	Columns []any
	// Nulls holds one bitset per column (nil entry if the column has no
	// nulls). A set bit means the corresponding row's value for that column
	// is logically null, regardless of what the Columns slice holds there.
	Nulls []Bitset
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return columnLen(b.Columns[0])
}

func columnLen(col any) int {
	switch c := col.(type) {
	case []int64:
		return len(c)
	case []float64:
		return len(c)
	case []bool:
		return len(c)
	case []time.Time:
		return len(c)
	case []string:
		return len(c)
	default:
		return 0
	}
}

// IsNull reports whether the value at (row, col) is null.
func (b *Batch) IsNull(row, col int) bool {
	if col >= len(b.Nulls) || b.Nulls[col] == nil {
		return false
	}
	return b.Nulls[col].Get(row)
}

// Bitset is a simple fixed-size bitset used to track column nullability.
type Bitset []uint64

// NewBitset allocates a Bitset able to track n rows.
func NewBitset(n int) Bitset {
	return make(Bitset, (n+63)/64)
}

// Set marks row i as set (null).
func (b Bitset) Set(i int) {
	b[i/64] |= 1 << uint(i%64)
}

// Get reports whether row i is set (null).
func (b Bitset) Get(i int) bool {
	if b == nil {
		return false
	}
	return b[i/64]&(1<<uint(i%64)) != 0
}

// Table is a complete in-memory source materialization: a schema plus the
// ordered sequence of batches that make it up.
type Table struct {
	Schema  Schema
	Batches []*Batch
}

// RowCount sums the row counts of every batch.
func (t *Table) RowCount() int {
	n := 0
	for _, b := range t.Batches {
		n += b.Len()
	}
	return n
}

// DefaultRowBudget is the default bound on rows per batch.
const DefaultRowBudget = 65536

// SanitizeIdentifier maps an arbitrary name (a source file basename, a
// column name) onto a valid SQL/Parquet identifier: non-identifier
// characters become underscores, and a leading digit is prefixed with an
// underscore. Both the query engine's virtual table names and the
// snapshot writer's Parquet column tags go through this single function.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "_"
	}
	if unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out
}
