package catalog

import (
	"context"

	"github.com/peter-fm/snapbase/internal/snapshot"
	"github.com/peter-fm/snapbase/internal/storage"
)

// Stats is the JSON object returned by the façade's stats() operation.
type Stats struct {
	SnapshotCount int   `json:"snapshot_count"`
	SourceCount   int   `json:"source_count"`
	TotalRows     int   `json:"total_rows"`
	StorageBytes  int64 `json:"storage_bytes"`
}

// Stats aggregates snapshot_count, source_count, total_rows, and
// storage_bytes across the whole workspace.
func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return Stats{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var stats Stats
	stats.SourceCount = len(c.sources)
	for _, e := range c.sources {
		stats.SnapshotCount += len(e.index.Snapshots)
		for _, entry := range e.index.Snapshots {
			meta, err := snapshot.LoadMeta(ctx, c.backend, e.hash, entry.Name)
			if err != nil {
				continue // a meta that vanished mid-scan doesn't fail the whole report
			}
			stats.TotalRows += meta.RowCount
			if size, err := blobSize(ctx, c.backend, meta.DataRef); err == nil {
				stats.StorageBytes += size
			}
		}
	}
	return stats, nil
}

// blobSize returns the byte length of the blob at key. storage.Backend has
// no size-only op, so this reads the full blob; acceptable here since
// stats() is an occasional diagnostic call, not a hot path.
func blobSize(ctx context.Context, backend storage.Backend, key string) (int64, error) {
	b, err := backend.GetBlob(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}
