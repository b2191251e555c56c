// Package logical defines the closed set of logical column types shared by
// the source reader's type inference and the query engine's cross-snapshot
// schema union, along with the single widening table used by both.
package logical

// Kind is a logical column type. The zero value, KindNull, widens to
// whatever it is compared against.
type Kind int

// The full set of logical kinds Snapbase reasons about. There is
// deliberately no "unknown": every value read from a source is classified
// into one of these before it is stored.
const (
	KindNull Kind = iota
	KindInt64
	KindFloat64
	KindBool
	KindTimestamp
	KindString
)

// String returns the canonical lowercase name of the kind, as persisted in
// meta.json and surfaced in diff schema_changes.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// rank orders kinds along the single widening chain: int64 -> float64 ->
// bool -> timestamp -> string. Null has no rank of its own; it always
// defers to the other operand.
var rank = map[Kind]int{
	KindInt64:     0,
	KindFloat64:   1,
	KindBool:      2,
	KindTimestamp: 3,
	KindString:    4,
}

// Widen returns the narrowest logical kind that can represent values of both
// a and b. It is the single widening table used across the codebase: the
// source reader calls it while inferring a column's type across rows, and
// the query engine calls it while unioning schemas across snapshots.
//
// Any conflict that isn't a clean walk along the widening chain (e.g. Int64
// vs Bool) widens to String, which is always a lossless representation
// of every other kind.
func Widen(a, b Kind) Kind {
	if a == KindNull {
		return b
	}
	if b == KindNull {
		return a
	}
	if a == b {
		return a
	}

	ra, oka := rank[a]
	rb, okb := rank[b]
	if !oka || !okb {
		return KindString
	}

	// Adjacent steps on the chain widen to the higher rank; anything else
	// (e.g. Int64 vs Bool skipping Float64) falls back to String, since it
	// is not a pairwise-adjacent widening and we don't want to silently
	// coerce, say, a bool into a float64.
	if rb == ra+1 {
		return b
	}
	if ra == rb+1 {
		return a
	}
	return KindString
}
