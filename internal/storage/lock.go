package storage

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/peter-fm/snapbase/internal/snaperr"
)

const errLockTimeout = "timed out acquiring workspace lock"

// locker is the internal abstraction behind Local's Lock/RLock. fileLocker
// backs real (OS-filesystem) workspaces with a gofrs/flock advisory lock
// file; memLocker backs in-memory (afero.MemMapFs) workspaces used in
// tests, where there is no real file to flock.
type locker interface {
	lock(ctx context.Context, timeout time.Duration) (func(), error)
	rlock(ctx context.Context, timeout time.Duration) (func(), error)
}

// fileLocker wraps a gofrs/flock.Flock advisory lock file at path.
type fileLocker struct {
	path string
}

func newFileLocker(path string) *fileLocker {
	return &fileLocker{path: path}
}

func (f *fileLocker) lock(ctx context.Context, timeout time.Duration) (func(), error) {
	fl := flock.New(f.path)
	ok, err := tryWithDeadline(ctx, timeout, fl.TryLock, func(c context.Context) (bool, error) {
		return fl.TryLockContext(c, 50*time.Millisecond)
	})
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindResourceBusy, errLockTimeout).WithPath(f.path)
	}
	if !ok {
		return nil, snaperr.New(snaperr.KindResourceBusy, errLockTimeout).WithPath(f.path)
	}
	return func() { _ = fl.Unlock() }, nil
}

func (f *fileLocker) rlock(ctx context.Context, timeout time.Duration) (func(), error) {
	fl := flock.New(f.path)
	ok, err := tryWithDeadline(ctx, timeout, fl.TryRLock, func(c context.Context) (bool, error) {
		return fl.TryRLockContext(c, 50*time.Millisecond)
	})
	if err != nil {
		return nil, snaperr.Wrap(err, snaperr.KindResourceBusy, errLockTimeout).WithPath(f.path)
	}
	if !ok {
		return nil, snaperr.New(snaperr.KindResourceBusy, errLockTimeout).WithPath(f.path)
	}
	return func() { _ = fl.Unlock() }, nil
}

// tryWithDeadline attempts a single non-blocking tryOnce when timeout <= 0
// (a zero timeout means "fail immediately if unavailable"), otherwise polls
// via tryWithCtx until timeout elapses.
func tryWithDeadline(ctx context.Context, timeout time.Duration, tryOnce func() (bool, error), tryWithCtx func(context.Context) (bool, error)) (bool, error) {
	if timeout <= 0 {
		return tryOnce()
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return tryWithCtx(lockCtx)
}

// memLocker is a sync.RWMutex-backed locker for afero.MemMapFs-rooted
// workspaces used in tests. It approximates writer-priority by tracking a
// pending-writer count and having new readers wait behind it, so a queued
// writer blocks new shared acquisitions from succeeding, without needing a
// second real lock file.
type memLocker struct {
	mu             sync.Mutex
	cond           *sync.Cond
	readers        int
	writerActive   bool
	writersWaiting int
}

func newMemLocker() *memLocker {
	l := &memLocker{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *memLocker) lock(ctx context.Context, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	l.writersWaiting++
	defer func() { l.writersWaiting--; l.mu.Unlock() }()

	if timeout <= 0 {
		if l.writerActive || l.readers > 0 {
			return nil, snaperr.New(snaperr.KindResourceBusy, errLockTimeout)
		}
		l.writerActive = true
		return l.unlockWriterFn(), nil
	}

	deadline := time.Now().Add(timeout)
	for l.writerActive || l.readers > 0 {
		if time.Now().After(deadline) {
			return nil, snaperr.New(snaperr.KindResourceBusy, errLockTimeout)
		}
		if ctx.Err() != nil {
			return nil, snaperr.Wrap(ctx.Err(), snaperr.KindResourceBusy, errLockTimeout)
		}
		l.waitWithTimeout(deadline)
	}
	l.writerActive = true
	return l.unlockWriterFn(), nil
}

func (l *memLocker) rlock(ctx context.Context, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if timeout <= 0 {
		if l.writerActive || l.writersWaiting > 0 {
			return nil, snaperr.New(snaperr.KindResourceBusy, errLockTimeout)
		}
		l.readers++
		return l.unlockReaderFn(), nil
	}

	deadline := time.Now().Add(timeout)
	for l.writerActive || l.writersWaiting > 0 {
		if time.Now().After(deadline) {
			return nil, snaperr.New(snaperr.KindResourceBusy, errLockTimeout)
		}
		if ctx.Err() != nil {
			return nil, snaperr.Wrap(ctx.Err(), snaperr.KindResourceBusy, errLockTimeout)
		}
		l.waitWithTimeout(deadline)
	}
	l.readers++
	return l.unlockReaderFn(), nil
}

// waitWithTimeout wakes cond.Wait periodically so a deadline can be
// enforced even if no unlock ever broadcasts.
func (l *memLocker) waitWithTimeout(deadline time.Time) {
	timer := time.AfterFunc(time.Until(deadline), func() { l.cond.Broadcast() })
	defer timer.Stop()
	l.cond.Wait()
}

func (l *memLocker) unlockWriterFn() func() {
	return func() {
		l.mu.Lock()
		l.writerActive = false
		l.mu.Unlock()
		l.cond.Broadcast()
	}
}

func (l *memLocker) unlockReaderFn() func() {
	return func() {
		l.mu.Lock()
		l.readers--
		l.mu.Unlock()
		l.cond.Broadcast()
	}
}
