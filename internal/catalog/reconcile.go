package catalog

import (
	"context"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/snapshot"
	"github.com/peter-fm/snapbase/internal/storage"
)

// reconcile repairs the aftermath of a crash between the payload write and
// the index-update linearization point: such a crash leaves an orphan
// snapshot directory with a valid meta.json but no index.json entry. On
// catalog load, each such orphan is either adopted (meta.json present and
// well-formed) or deleted (meta.json missing or corrupt). Nothing fails;
// every action is logged at debug level through log.
func reconcile(ctx context.Context, backend storage.Backend, log logging.Logger, hash string, idx snapshot.Index) (snapshot.Index, error) {
	known := make(map[string]bool, len(idx.Snapshots))
	for _, e := range idx.Snapshots {
		known[e.Name] = true
	}

	names, err := snapshotDirNames(ctx, backend, hash)
	if err != nil {
		return idx, err
	}

	nextSeq := len(idx.Snapshots) + 1
	for _, name := range names {
		if known[name] {
			continue
		}

		metaKey := snapshot.MetaKey(hash, name)
		exists, err := backend.Exists(ctx, metaKey)
		if err != nil {
			return idx, err
		}
		if !exists {
			log.Debug("deleting orphan snapshot directory: no meta.json", "source_hash", hash, "snapshot", name)
			_ = backend.DeletePrefix(ctx, "sources/"+hash+"/snapshots/"+name)
			continue
		}

		meta, err := snapshot.LoadMeta(ctx, backend, hash, name)
		if err != nil || !orphanIsWellFormed(meta, name) {
			log.Debug("deleting orphan snapshot directory: meta.json missing or malformed", "source_hash", hash, "snapshot", name, "error", err)
			_ = backend.DeletePrefix(ctx, "sources/"+hash+"/snapshots/"+name)
			continue
		}

		// Adopt: the orphan becomes discoverable exactly once, appended
		// after every snapshot the index already knows about.
		log.Debug("adopting orphan snapshot into index", "source_hash", hash, "snapshot", name, "sequence", nextSeq)
		idx.Snapshots = append(idx.Snapshots, snapshot.IndexEntry{Name: name, Sequence: nextSeq})
		nextSeq++
		known[name] = true
	}

	return idx, nil
}

// orphanIsWellFormed is the minimal validity check a reconciliation pass
// applies to a candidate meta.json: it must describe the snapshot directory
// it was found in and carry a non-empty data reference.
func orphanIsWellFormed(meta snapshot.Meta, name string) bool {
	return meta.Name == name && meta.DataRef != "" && meta.RowCount >= 0
}

// snapshotDirNames lists the immediate snapshot-name components under
// sources/<hash>/snapshots/, derived from the meta.json/data.columnar keys
// List returns (storage.Backend has no direct directory-listing op).
func snapshotDirNames(ctx context.Context, backend storage.Backend, hash string) ([]string, error) {
	prefix := "sources/" + hash + "/snapshots"
	keys, err := backend.List(ctx, prefix)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, "could not list snapshot directories").WithPath(prefix)
	}

	seen := map[string]bool{}
	var names []string
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix+"/")
		parts := strings.SplitN(rel, "/", 2)
		if len(parts) < 1 || parts[0] == "" {
			continue
		}
		if !seen[parts[0]] {
			seen[parts[0]] = true
			names = append(names, parts[0])
		}
	}
	return names, nil
}
