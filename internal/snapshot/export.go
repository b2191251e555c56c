package snapshot

import (
	"context"
	"io"

	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/snaperr"
	"github.com/peter-fm/snapbase/internal/storage"
)

// Export streams a named snapshot's payload to dest on fs. It never
// materializes the payload into memory: the backend's streaming reader is
// copied directly onto the destination file, so exporting a large table
// costs a copy loop, not a full decode.
func Export(ctx context.Context, backend storage.Backend, fs afero.Fs, sourceKeyHash, name, dest string, force bool) error {
	exists, err := backend.Exists(ctx, MetaKey(sourceKeyHash, name))
	if err != nil {
		return err
	}
	if !exists {
		return snaperr.New(snaperr.KindSnapshotNotFound, "snapshot not found").WithSnapshot(name)
	}
	meta, err := LoadMeta(ctx, backend, sourceKeyHash, name)
	if err != nil {
		return err
	}

	if _, err := fs.Stat(dest); err == nil && !force {
		return snaperr.New(snaperr.KindFileExists, "destination already exists").WithPath(dest)
	}

	reader, err := backend.OpenReader(ctx, meta.DataRef)
	if err != nil {
		return err
	}
	defer reader.Close()

	out, err := fs.Create(dest)
	if err != nil {
		return snaperr.Wrap(err, snaperr.KindIoError, "could not create export destination").WithPath(dest)
	}
	defer out.Close()

	if _, err := io.Copy(out, reader); err != nil {
		return snaperr.Wrap(err, snaperr.KindIoError, "could not write export destination").WithPath(dest)
	}
	return nil
}
