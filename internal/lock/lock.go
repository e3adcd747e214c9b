//go:build unix

// Package lock serializes batches on one host with an advisory file lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	apperrors "hostfleet/internal/errors"
)

// FileLock is a held exclusive lock on a file.
type FileLock struct {
	file *os.File
	path string
}

// TryLock takes the lock without waiting. A lock held elsewhere yields a
// LOCKED error naming the holder's pid when known.
func TryLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrFileWrite, "Failed to create lock directory", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, apperrors.WrapWithDetails(apperrors.ErrFileWrite, "Failed to open lock file", "Path: "+path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := readPID(f)
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			details := "Path: " + path
			if holder > 0 {
				details += fmt.Sprintf(", Holder PID: %d", holder)
			}
			return nil, apperrors.NewWithDetails(apperrors.ErrLocked, "Another batch is running on this host", details)
		}
		return nil, apperrors.Wrap(apperrors.ErrInternal, "Failed to lock "+path, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &FileLock{file: f, path: path}, nil
}

// Lock waits for the lock, polling every interval until ctx is done.
func Lock(ctx context.Context, path string, interval time.Duration) (*FileLock, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	for {
		l, err := TryLock(path)
		if err == nil || !apperrors.HasCode(err, apperrors.ErrLocked) {
			return l, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(interval):
		}
	}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Unlock releases the lock and closes the file. The file itself is left in
// place so a concurrent waiter never locks an unlinked inode.
func (l *FileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("unlock: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
