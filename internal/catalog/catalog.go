// Package catalog implements the snapshot enumeration and resolution layer:
// an in-memory projection of every source's index.json, lazily loaded on
// first access and invalidated by the storage backend's write-generation
// counter.
package catalog

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/snapshot"
	"github.com/peter-fm/snapbase/internal/storage"
)

// sourceEntry is the cached, per-source projection: its descriptor plus its
// index, rehydrated from sources/<hash>/source.json and .../index.json.
type sourceEntry struct {
	hash  string
	desc  snapshot.SourceDescriptor
	index snapshot.Index
}

// Catalog is the in-memory projection of a workspace's snapshot metadata.
// It is safe for concurrent use; reads share an RWMutex.
type Catalog struct {
	backend storage.Backend
	log     logging.Logger

	mu         sync.RWMutex
	loaded     bool
	generation uint32
	sources    map[string]*sourceEntry // keyed by source hash
}

// Option configures New.
type Option func(*Catalog)

// WithLogger overrides the Catalog's logger, used by the orphan
// reconciliation pass to report each adopt/delete action. Defaults to
// logging.NewNopLogger(), the same default every other package in this
// tree uses.
func WithLogger(l logging.Logger) Option {
	return func(c *Catalog) { c.log = l }
}

// New constructs a Catalog over backend. Nothing is read from storage until
// the first operation that needs it.
func New(backend storage.Backend, opts ...Option) *Catalog {
	c := &Catalog{backend: backend, log: logging.NewNopLogger()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ensureLoaded rehydrates the catalog's in-memory projection if it has never
// been loaded, or if the backend's generation counter has advanced past the
// cached value.
func (c *Catalog) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	cachedGen := c.generation
	c.mu.RUnlock()

	if loaded {
		gen, err := c.backend.Generation(ctx)
		if err != nil {
			return err
		}
		if gen == cachedGen {
			return nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	gen, err := c.backend.Generation(ctx)
	if err != nil {
		return err
	}

	sources, err := c.scan(ctx)
	if err != nil {
		return err
	}

	c.sources = sources
	c.generation = gen
	c.loaded = true
	return nil
}

// scan walks sources/<hash>/source.json to discover every known source,
// loads its index, and runs the orphan-reconciliation pass. The scan is
// lazy: it happens once per catalog load generation, triggered by whichever
// read operation touches the catalog first.
func (c *Catalog) scan(ctx context.Context) (map[string]*sourceEntry, error) {
	keys, err := c.backend.List(ctx, "sources")
	if err != nil {
		return nil, err
	}

	hashes := map[string]bool{}
	for _, k := range keys {
		if strings.HasSuffix(k, "/source.json") {
			parts := strings.Split(k, "/")
			if len(parts) >= 2 {
				hashes[parts[1]] = true
			}
		}
	}

	out := make(map[string]*sourceEntry, len(hashes))
	for hash := range hashes {
		desc, err := loadDescriptor(ctx, c.backend, hash)
		if err != nil {
			return nil, err
		}
		idx, err := snapshot.LoadIndex(ctx, c.backend, hash)
		if err != nil {
			return nil, err
		}
		idx, err = reconcile(ctx, c.backend, c.log, hash, idx)
		if err != nil {
			return nil, err
		}
		out[hash] = &sourceEntry{hash: hash, desc: desc, index: idx}
	}
	return out, nil
}

func loadDescriptor(ctx context.Context, backend storage.Backend, hash string) (snapshot.SourceDescriptor, error) {
	exists, err := backend.Exists(ctx, snapshot.SourceDescriptorKey(hash))
	if err != nil {
		return snapshot.SourceDescriptor{}, err
	}
	if !exists {
		return snapshot.SourceDescriptor{}, nil
	}
	b, err := backend.GetBlob(ctx, snapshot.SourceDescriptorKey(hash))
	if err != nil {
		return snapshot.SourceDescriptor{}, err
	}
	var desc snapshot.SourceDescriptor
	if err := json.Unmarshal(b, &desc); err != nil {
		return snapshot.SourceDescriptor{}, snaperr.Wrap(err, snaperr.KindEncodingError, "could not parse source descriptor").WithPath(snapshot.SourceDescriptorKey(hash))
	}
	return desc, nil
}

// Name pairs a snapshot's name with the source it belongs to, the unit
// list_snapshots and list_snapshots_for_source deal in.
type Name struct {
	SourceKey string // normalized, workspace-relative source path
	Name      string
	Sequence  int
}

// ListSnapshots returns every snapshot name across all sources, sorted by
// (source_key, sequence).
func (c *Catalog) ListSnapshots(ctx context.Context) ([]Name, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Name
	for _, e := range c.sources {
		for _, entry := range e.index.Snapshots {
			out = append(out, Name{SourceKey: e.desc.Path, Name: entry.Name, Sequence: entry.Sequence})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceKey != out[j].SourceKey {
			return out[i].SourceKey < out[j].SourceKey
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

// ListSnapshotsForSource returns a specific source's snapshot names in
// sequence order.
func (c *Catalog) ListSnapshotsForSource(ctx context.Context, workspaceRoot, sourcePath string) ([]string, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	hash := snapshot.SourceKeyHash(snapshot.NormalizeSourcePath(workspaceRoot, sourcePath))

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.sources[hash]
	if !ok {
		return nil, nil
	}
	entries := append([]snapshot.IndexEntry(nil), e.index.Snapshots...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name
	}
	return names, nil
}

// SnapshotExists reports whether name is resolvable. If sourcePath is
// empty, it searches every source in the workspace and fails AmbiguousName
// if the name exists under more than one.
func (c *Catalog) SnapshotExists(ctx context.Context, workspaceRoot, sourcePath, name string) (bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if sourcePath != "" {
		hash := snapshot.SourceKeyHash(snapshot.NormalizeSourcePath(workspaceRoot, sourcePath))
		e, ok := c.sources[hash]
		if !ok {
			return false, nil
		}
		return containsName(e.index, name), nil
	}

	matches := 0
	for _, e := range c.sources {
		if containsName(e.index, name) {
			matches++
		}
	}
	if matches > 1 {
		return false, snaperr.New(snaperr.KindAmbiguousName, "snapshot name exists under multiple sources").WithSnapshot(name)
	}
	return matches == 1, nil
}

func containsName(idx snapshot.Index, name string) bool {
	for _, e := range idx.Snapshots {
		if e.Name == name {
			return true
		}
	}
	return false
}

// SourceHash resolves a workspace-relative source path to its catalog hash,
// the prefix every query/diff lookup keys off of.
func (c *Catalog) SourceHash(workspaceRoot, sourcePath string) string {
	return snapshot.SourceKeyHash(snapshot.NormalizeSourcePath(workspaceRoot, sourcePath))
}

// Snapshots returns the full, sequence-ordered index entries for the source
// identified by hash, along with its descriptor. Used by the query and diff
// engines, which need more than just names.
func (c *Catalog) Snapshots(ctx context.Context, hash string) (snapshot.SourceDescriptor, []snapshot.IndexEntry, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return snapshot.SourceDescriptor{}, nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.sources[hash]
	if !ok {
		return snapshot.SourceDescriptor{}, nil, nil
	}
	entries := append([]snapshot.IndexEntry(nil), e.index.Snapshots...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	return e.desc, entries, nil
}
