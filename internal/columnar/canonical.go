package columnar

import (
	"encoding/binary"
	"strconv"
	"time"
)

// AppendCanonicalValue appends the canonical byte serialization of the value
// at (row, col) in b to dst, and returns the extended slice. This is the
// single serialization routine used both by the snapshot writer's content
// hash and the diff engine's fallback row fingerprint, so that "same bytes"
// always means "same row" across both call sites.
//
// Canonical form: every non-null value is prefixed with a 0x01 presence
// byte, followed by the value itself — integers as fixed-width big-endian,
// floats in shortest-round-trip decimal form, strings as raw UTF-8,
// booleans as a single 0/1 byte, timestamps as RFC3339Nano in UTC. A null
// is the single byte 0x00, which the presence prefix keeps unambiguous
// against any value encoding.
func AppendCanonicalValue(dst []byte, b *Batch, row, col int) []byte {
	if b.IsNull(row, col) {
		return append(dst, 0x00)
	}
	dst = append(dst, 0x01)
	switch v := b.Columns[col].(type) {
	case []int64:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v[row]))
		return append(dst, buf[:]...)
	case []float64:
		return append(dst, []byte(strconv.FormatFloat(v[row], 'g', -1, 64))...)
	case []bool:
		if v[row] {
			return append(dst, 1)
		}
		return append(dst, 0)
	case []time.Time:
		return append(dst, []byte(v[row].UTC().Format(time.RFC3339Nano))...)
	case []string:
		return append(dst, []byte(v[row])...)
	default:
		return dst
	}
}

// CanonicalRowBytes returns the canonical serialization of an entire row,
// columns taken in schema order.
func CanonicalRowBytes(b *Batch, row int) []byte {
	var buf []byte
	for col := range b.Schema {
		buf = AppendCanonicalValue(buf, b, row, col)
		buf = append(buf, 0x1f) // unit separator between column values
	}
	return buf
}
