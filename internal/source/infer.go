package source

import (
	"strconv"
	"strings"
	"time"

	"github.com/peter-fm/snapbase/internal/logical"
)

// isNullText reports whether a raw text cell represents null.
func isNullText(s string) bool {
	return s == "" || strings.EqualFold(s, "null")
}

// requiredKind returns the narrowest logical.Kind that can represent the
// non-null text value s, walking the same chain as Widen: int64 -> float64
// -> bool -> timestamp(iso-8601) -> string.
func requiredKind(s string) logical.Kind {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return logical.KindInt64
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return logical.KindFloat64
	}
	if _, err := strconv.ParseBool(s); err == nil {
		return logical.KindBool
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return logical.KindTimestamp
	}
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return logical.KindTimestamp
	}
	return logical.KindString
}

// inferColumnKind scans every non-null text value in a column and returns
// the single widened Kind able to represent all of them. Type inference is
// stable: the result depends only on the set of values present, not on
// their order.
func inferColumnKind(values []string) logical.Kind {
	present := map[logical.Kind]bool{}
	for _, v := range values {
		if isNullText(v) {
			continue
		}
		present[requiredKind(v)] = true
	}
	// Widen is not associative, so the distinct kinds are folded in chain
	// order rather than row order.
	kind := logical.KindNull
	for k := logical.KindInt64; k <= logical.KindString; k++ {
		if present[k] {
			kind = logical.Widen(kind, k)
		}
	}
	if kind == logical.KindNull {
		// an all-null column is still typed; default to string, the
		// universal lossless representation.
		return logical.KindString
	}
	return kind
}

// parseTimestamp parses a text timestamp using the same formats
// requiredKind checks for.
func parseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
