// Package storage implements the abstract key/blob store behind a workspace
// and its local filesystem backend. Keys are forward-slash-separated logical
// paths; the local backend maps them onto a directory hierarchy rooted at
// {workspace_root}/{storage.path}.
package storage

import (
	"context"
	"io"
)

// Backend is the storage capability set every implementation (local today,
// others reserved) must provide. All operations may block on I/O and accept
// a context for cancellation and deadline propagation.
type Backend interface {
	// PutBlob writes data at key, creating any needed parent directories.
	// Writes are atomic: readers never observe a partially written blob.
	PutBlob(ctx context.Context, key string, data []byte) error
	// GetBlob reads the full contents stored at key.
	GetBlob(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether a blob exists at key.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every key that starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// DeletePrefix removes every blob whose key starts with prefix.
	// Internal/init use only: callers never reach for this as
	// part of a normal, successful snapshot commit or query; it backs the
	// catalog's orphan reconciliation scan and a writer's rollback of a
	// not-yet-indexed payload after a cancelled commit.
	DeletePrefix(ctx context.Context, prefix string) error
	// OpenReader opens a streaming reader over the blob at key. Callers
	// must Close it.
	OpenReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Lock acquires the workspace write lock, blocking until it is held or
	// ctx's deadline (or the backend's configured timeout) elapses. The
	// returned func releases it.
	Lock(ctx context.Context) (release func(), err error)
	// RLock acquires a shared read lock under the same rules as Lock.
	RLock(ctx context.Context) (release func(), err error)

	// Generation returns the current write-generation counter, bumped by
	// every writer under the exclusive lock. The catalog uses
	// this to invalidate its cache.
	Generation(ctx context.Context) (uint32, error)
	// BumpGeneration atomically increments and persists the generation
	// counter. Callers must already hold the exclusive lock.
	BumpGeneration(ctx context.Context) (uint32, error)
}
