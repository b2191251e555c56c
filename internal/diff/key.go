package diff

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/peter-fm/snapbase/internal/columnar"
)

// chooseKey implements the row-identity resolution order:
// a declared primary key, else a conventional "id" column present in both
// schemas, else a fallback content fingerprint over every common column.
// fallback reports whether the fingerprint path was taken, since fallback
// mode changes modified-row semantics (identical fingerprint == identical
// row, so modified is always empty).
func chooseKey(from, to columnar.Schema, primaryKey string) (keyCols []string, fallback bool) {
	if primaryKey != "" && hasColumn(from, primaryKey) && hasColumn(to, primaryKey) {
		return []string{primaryKey}, false
	}
	if hasColumn(from, "id") && hasColumn(to, "id") {
		return []string{"id"}, false
	}
	return commonColumns(from, to), true
}

func hasColumn(schema columnar.Schema, name string) bool {
	return schema.IndexOf(name) >= 0
}

// rowKey renders a row's identity key as a string: the formatted value of
// a declared/conventional key column, or (in fallback mode) the hex SHA-256
// fingerprint over the canonical serialization of every key column's value,
// in the order chooseKey returned them.
func rowKey(row map[string]any, keyCols []string, fallback bool) string {
	if !fallback && len(keyCols) == 1 {
		return formatKeyValue(row[keyCols[0]])
	}

	h := sha256.New()
	for _, col := range keyCols {
		h.Write(canonicalValueBytes(row[col]))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func formatKeyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// canonicalValueBytes renders v in the same canonical byte form
// columnar.AppendCanonicalValue uses for the snapshot content hash, so the
// fallback row fingerprint and the content hash agree on what "identical
// row" means.
func canonicalValueBytes(v any) []byte {
	if v == nil {
		return []byte{0x00}
	}
	out := []byte{0x01}
	switch t := v.(type) {
	case int64:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(t))
		return append(out, buf[:]...)
	case float64:
		return append(out, []byte(strconv.FormatFloat(t, 'g', -1, 64))...)
	case bool:
		if t {
			return append(out, 1)
		}
		return append(out, 0)
	case time.Time:
		return append(out, []byte(t.UTC().Format(time.RFC3339Nano))...)
	case string:
		return append(out, []byte(t)...)
	default:
		return out
	}
}
