package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WriterLock 是目录的跨进程写锁（<snapshot>.lock 上的 flock）。
type WriterLock struct {
	lock *flock.Flock
}

// AcquireWriter 以非阻塞方式获取写锁；锁已被其他持有者占用时返回 ErrCatalogLocked。
func AcquireWriter(snapshotPath string) (*WriterLock, error) {
	lockPath := snapshotPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	l := flock.New(lockPath)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: 获取写锁: %w", ErrIO, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCatalogLocked, lockPath)
	}
	return &WriterLock{lock: l}, nil
}

// Path 返回锁文件路径。
func (w *WriterLock) Path() string { return w.lock.Path() }

// Release 释放写锁。
func (w *WriterLock) Release() error {
	if w == nil || w.lock == nil {
		return nil
	}
	return w.lock.Unlock()
}
