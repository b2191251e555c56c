package diff

import (
	"bytes"
	"sort"
	"strconv"
)

// hashJoinDiff compares both sides as an in-memory hash join: build a
// key->row map per side, then walk keys present on either side. Complexity
// is O(N+M), memory O(N+M).
func hashJoinDiff(fromRows, toRows []map[string]any, keyCols []string, fallback bool, commonCols []string, schemaChanges []SchemaChange) *Result {
	fromByKey := indexRows(fromRows, keyCols, fallback)
	toByKey := indexRows(toRows, keyCols, fallback)
	return buildResult(fromByKey, toByKey, commonCols, fallback, schemaChanges)
}

// keyedRow pairs a row-identity key with the row it was computed from, the
// unit sortMergeDiff sorts and merges instead of hashing.
type keyedRow struct {
	key string
	row map[string]any
}

// toKeyedRows computes each row's identity key up front, once, so the sort
// comparator never recomputes it.
func toKeyedRows(rows []map[string]any, keyCols []string, fallback bool) []keyedRow {
	out := make([]keyedRow, len(rows))
	for i, r := range rows {
		out[i] = keyedRow{key: rowKey(r, keyCols, fallback), row: r}
	}
	return out
}

// sortMergeDiff compares both sides as a genuine sort/merge: both
// sides are sorted by identity key, then walked with two pointers that
// never both materialize a key->row index for the whole input the way
// hashJoinDiff does. A key present on only one side is an add/remove; a
// key present on both is compared in place. Because both inputs are
// already sorted ascending, the merge emits added/removed/modified rows in
// ascending key order directly, with no separate output sort needed
// (unlike hashJoinDiff, which must sort the map's keys after the fact).
//
// This module's Table is always fully materialized in memory before a diff
// runs (snapshot.LoadTable and source.Read read an entire source into
// columnar.Table up front), so this pass cannot yet stream rows from the
// storage backend the way a disk-backed external sort/merge would; the
// saving this path provides over hashJoinDiff is avoiding two string-keyed
// hash maps sized to the whole input, not disk-bounded memory. See
// DESIGN.md's internal/diff entry for the streaming follow-up this would
// require.
func sortMergeDiff(fromRows, toRows []map[string]any, keyCols []string, fallback bool, commonCols []string, schemaChanges []SchemaChange) *Result {
	from := toKeyedRows(fromRows, keyCols, fallback)
	to := toKeyedRows(toRows, keyCols, fallback)
	sort.Slice(from, func(i, j int) bool { return keyLess(from[i].key, from[j].key) })
	sort.Slice(to, func(i, j int) bool { return keyLess(to[i].key, to[j].key) })

	result := &Result{SchemaChanges: schemaChanges}

	i, j := 0, 0
	for i < len(from) || j < len(to) {
		switch {
		case j >= len(to) || (i < len(from) && keyLess(from[i].key, to[j].key)):
			result.Removed = append(result.Removed, from[i].row)
			i++
		case i >= len(from) || keyLess(to[j].key, from[i].key):
			result.Added = append(result.Added, to[j].row)
			j++
		default:
			if !fallback {
				if changes := compareRow(from[i].row, to[j].row, commonCols); len(changes) > 0 {
					result.Modified = append(result.Modified, ModifiedRow{Key: from[i].key, Changes: changes})
				}
			}
			i++
			j++
		}
	}

	result.Summary = Summary{
		RowsAdded:    len(result.Added),
		RowsRemoved:  len(result.Removed),
		RowsModified: len(result.Modified),
	}
	return result
}

func indexRows(rows []map[string]any, keyCols []string, fallback bool) map[string]map[string]any {
	out := make(map[string]map[string]any, len(rows))
	for _, r := range rows {
		out[rowKey(r, keyCols, fallback)] = r
	}
	return out
}

// keyLess orders two row-identity keys ascending. Keys
// that both parse as integers compare numerically, so "2" sorts before
// "10"; anything else falls back to lexicographic order.
func keyLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// buildResult assembles a Result from two key-indexed row
// maps: added/removed in ascending key order, modified rows in ascending
// key order with their changes in schema order, and modified always empty
// when fallback mode is active (identical fingerprint means identical
// row).
func buildResult(fromByKey, toByKey map[string]map[string]any, commonCols []string, fallback bool, schemaChanges []SchemaChange) *Result {
	result := &Result{SchemaChanges: schemaChanges}

	var addedKeys, removedKeys, modifiedKeys []string
	for k := range toByKey {
		if _, ok := fromByKey[k]; !ok {
			addedKeys = append(addedKeys, k)
		}
	}
	for k := range fromByKey {
		if _, ok := toByKey[k]; !ok {
			removedKeys = append(removedKeys, k)
		}
	}
	if !fallback {
		for k := range fromByKey {
			toRow, ok := toByKey[k]
			if !ok {
				continue
			}
			if changes := compareRow(fromByKey[k], toRow, commonCols); len(changes) > 0 {
				modifiedKeys = append(modifiedKeys, k)
			}
		}
	}

	sort.Slice(addedKeys, func(i, j int) bool { return keyLess(addedKeys[i], addedKeys[j]) })
	sort.Slice(removedKeys, func(i, j int) bool { return keyLess(removedKeys[i], removedKeys[j]) })
	sort.Slice(modifiedKeys, func(i, j int) bool { return keyLess(modifiedKeys[i], modifiedKeys[j]) })

	for _, k := range addedKeys {
		result.Added = append(result.Added, toByKey[k])
	}
	for _, k := range removedKeys {
		result.Removed = append(result.Removed, fromByKey[k])
	}
	for _, k := range modifiedKeys {
		result.Modified = append(result.Modified, ModifiedRow{
			Key:     k,
			Changes: compareRow(fromByKey[k], toByKey[k], commonCols),
		})
	}

	result.Summary = Summary{
		RowsAdded:    len(addedKeys),
		RowsRemoved:  len(removedKeys),
		RowsModified: len(modifiedKeys),
	}
	return result
}

// compareRow compares fromRow and toRow column-by-column over commonCols,
// in schema order.
func compareRow(fromRow, toRow map[string]any, commonCols []string) []Change {
	var changes []Change
	for _, col := range commonCols {
		fv, tv := fromRow[col], toRow[col]
		if !bytes.Equal(canonicalValueBytes(fv), canonicalValueBytes(tv)) {
			changes = append(changes, Change{Column: col, From: fv, To: tv})
		}
	}
	return changes
}
