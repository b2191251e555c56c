package diff

import (
	"context"
	"time"

	"github.com/peter-fm/snapbase/internal/columnar"
	"github.com/peter-fm/snapbase/internal/snaperr"
)

// tableToRows flattens every batch of t into row-major maps keyed by
// column name, using each column's native Go representation (nil for
// null). This is the unit the key-resolution and row-comparison logic
// operate on, decoupled from columnar.Table's batch boundaries. ctx is
// checked between row-groups.
func tableToRows(ctx context.Context, t *columnar.Table) ([]map[string]any, error) {
	var rows []map[string]any
	for _, batch := range t.Batches {
		if err := snaperr.CheckContext(ctx); err != nil {
			return nil, err
		}
		for r := 0; r < batch.Len(); r++ {
			rows = append(rows, rowValues(batch, r))
		}
	}
	return rows, nil
}

func rowValues(b *columnar.Batch, row int) map[string]any {
	out := make(map[string]any, len(b.Schema))
	for c, f := range b.Schema {
		if b.IsNull(row, c) {
			out[f.Name] = nil
			continue
		}
		switch v := b.Columns[c].(type) {
		case []int64:
			out[f.Name] = v[row]
		case []float64:
			out[f.Name] = v[row]
		case []bool:
			out[f.Name] = v[row]
		case []time.Time:
			out[f.Name] = v[row]
		case []string:
			out[f.Name] = v[row]
		}
	}
	return out
}
