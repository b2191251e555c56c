package storage

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/peter-fm/snapbase/internal/snaperr"
)

// DefaultLockTimeout is the default deadline for acquiring the workspace
// lock.
const DefaultLockTimeout = 30 * time.Second

const generationFile = "index.version"

const (
	errOpenBlob  = "could not open blob"
	errWriteBlob = "could not write blob"
	errReadBlob  = "could not read blob"
	errListBlobs = "could not list blobs"
)

// Local is the filesystem-backed Backend implementation. Keys
// are joined onto root with forward slashes regardless of host OS
// separator conventions, then translated through filepath.Join for the
// actual I/O.
type Local struct {
	fs          afero.Fs
	root        string // physical directory blobs are rooted at
	lockTimeout time.Duration
	locker      locker
}

// Option configures a Local backend.
type Option func(*Local)

// WithFS overrides the filesystem. Defaults to afero.NewOsFs().
func WithFS(fs afero.Fs) Option {
	return func(l *Local) { l.fs = fs }
}

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Local) { l.lockTimeout = d }
}

// New constructs a Local backend rooted at root (typically
// {workspace_root}/{storage.path}).
func New(root string, opts ...Option) (*Local, error) {
	l := &Local{
		fs:          afero.NewOsFs(),
		root:        root,
		lockTimeout: DefaultLockTimeout,
	}
	for _, o := range opts {
		o(l)
	}
	if err := l.fs.MkdirAll(l.root, 0o755); err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, "could not create storage root").WithPath(l.root)
	}

	if _, ok := l.fs.(*afero.OsFs); ok {
		l.locker = newFileLocker(filepath.Join(l.root, ".lock"))
	} else {
		l.locker = newMemLocker()
	}

	return l, nil
}

func (l *Local) physical(key string) string {
	clean := path.Clean("/" + key)
	return filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}

// PutBlob implements Backend. It writes through a sibling temporary file
// and renames it into place, so a reader can never observe a half-written
// blob.
func (l *Local) PutBlob(_ context.Context, key string, data []byte) error {
	target := l.physical(key)
	if err := l.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return snaperr.Wrap(err, snaperr.KindIoError, errWriteBlob).WithPath(target)
	}

	tmp := target + ".tmp-" + uuid.NewString()
	if err := afero.WriteFile(l.fs, tmp, data, 0o644); err != nil {
		return snaperr.Wrap(err, snaperr.KindIoError, errWriteBlob).WithPath(tmp)
	}
	if err := l.fs.Rename(tmp, target); err != nil {
		_ = l.fs.Remove(tmp)
		return snaperr.Wrap(err, snaperr.KindIoError, errWriteBlob).WithPath(target)
	}
	return nil
}

// GetBlob implements Backend.
func (l *Local) GetBlob(_ context.Context, key string) ([]byte, error) {
	target := l.physical(key)
	b, err := afero.ReadFile(l.fs, target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, snaperr.New(snaperr.KindFileNotFound, errReadBlob).WithPath(target)
		}
		return nil, snaperr.Wrap(err, snaperr.KindIoError, errReadBlob).WithPath(target)
	}
	return b, nil
}

// Exists implements Backend.
func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	ok, err := afero.Exists(l.fs, l.physical(key))
	if err != nil {
		return false, snaperr.Wrap(err, snaperr.KindIoError, "could not stat blob").WithPath(l.physical(key))
	}
	return ok, nil
}

// List implements Backend, returning every key under prefix in
// lexicographic order.
func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	root := l.physical(prefix)
	exists, err := afero.DirExists(l.fs, root)
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, errListBlobs).WithPath(root)
	}
	if !exists {
		// prefix may itself name a file, or may not exist at all; either
		// way there is nothing to walk.
		if ok, _ := afero.Exists(l.fs, root); ok {
			return []string{path.Clean(prefix)}, nil
		}
		return nil, nil
	}

	var keys []string
	err = afero.Walk(l.fs, root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		if strings.Contains(info.Name(), ".tmp-") {
			return nil
		}
		rel, relErr := filepath.Rel(l.root, p)
		if relErr != nil {
			return relErr
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindIoError, errListBlobs).WithPath(root)
	}
	return keys, nil
}

// DeletePrefix implements Backend. Internal/init use only.
func (l *Local) DeletePrefix(_ context.Context, prefix string) error {
	target := l.physical(prefix)
	if err := l.fs.RemoveAll(target); err != nil {
		return snaperr.Wrap(err, snaperr.KindIoError, "could not delete prefix").WithPath(target)
	}
	return nil
}

// OpenReader implements Backend.
func (l *Local) OpenReader(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := l.fs.Open(l.physical(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, snaperr.New(snaperr.KindFileNotFound, errOpenBlob).WithPath(l.physical(key))
		}
		return nil, snaperr.Wrap(err, snaperr.KindIoError, errOpenBlob).WithPath(l.physical(key))
	}
	return f, nil
}

// Lock implements Backend.
func (l *Local) Lock(ctx context.Context) (func(), error) {
	return l.locker.lock(ctx, l.lockTimeout)
}

// RLock implements Backend.
func (l *Local) RLock(ctx context.Context) (func(), error) {
	return l.locker.rlock(ctx, l.lockTimeout)
}

// Generation implements Backend.
func (l *Local) Generation(_ context.Context) (uint32, error) {
	b, err := afero.ReadFile(l.fs, filepath.Join(l.root, generationFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, snaperr.Wrap(err, snaperr.KindIoError, "could not read generation counter")
	}
	if len(b) < 4 {
		return 0, nil
	}
	return binary.LittleEndian.Uint32(b), nil
}

// BumpGeneration implements Backend. Callers must already hold the
// exclusive lock.
func (l *Local) BumpGeneration(ctx context.Context) (uint32, error) {
	g, err := l.Generation(ctx)
	if err != nil {
		return 0, err
	}
	g++
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, g)
	if err := l.PutBlob(ctx, generationFile, buf); err != nil {
		return 0, err
	}
	return g, nil
}
