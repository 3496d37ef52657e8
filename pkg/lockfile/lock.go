// Package lockfile serializes writers of the same destination across
// processes with a pid-stamped sibling .lock file.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Suffix is appended to the target path to name its lock file.
const Suffix = ".lock"

// breakSuffix names the guard held while a stale lock is removed.
const breakSuffix = ".break"

var (
	busyPoll  = 200 * time.Millisecond
	retryPoll = 100 * time.Millisecond

	// A break guard older than this was left by a process that died while
	// removing a stale lock.
	breakTimeout = 10 * time.Second
)

// Acquire locks target by creating target+".lock".
// The lock file is linked into place with its content already written, so it
// is never observed empty. If the lock exists and its owner is alive, Acquire
// waits until it is released or ctx is done. Locks left by dead processes, or
// that cannot be parsed, are removed. The parent directory must already exist.
// Returns a release function that removes the lock file.
func Acquire(ctx context.Context, target string) (func() error, error) {
	lockFile := target + Suffix

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("waiting for lock %s: %w", lockFile, err)
		}

		err := create(lockFile)
		if err == nil {
			return func() error {
				return os.Remove(lockFile)
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		pid, err := Owner(lockFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case errors.Is(err, errMalformed):
		case err != nil:
			if err := sleep(ctx, retryPoll); err != nil {
				return nil, fmt.Errorf("waiting for lock %s: %w", lockFile, err)
			}
			continue
		case isPidAlive(pid):
			if err := sleep(ctx, busyPoll); err != nil {
				return nil, fmt.Errorf("waiting for lock %s held by pid %d: %w", lockFile, pid, err)
			}
			continue
		}

		broken, err := breakStale(lockFile)
		if err != nil {
			return nil, fmt.Errorf("failed to remove stale lock %s: %w", lockFile, err)
		}
		if !broken {
			if err := sleep(ctx, retryPoll); err != nil {
				return nil, fmt.Errorf("waiting for lock %s: %w", lockFile, err)
			}
		}
	}
}

// create writes "timestamp pid" to a temporary sibling and hard-links it to
// path. It fails with fs.ErrExist when path is already there.
func create(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	content := fmt.Sprintf("%s %d", time.Now().Format(time.RFC3339), os.Getpid())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Link(tmp.Name(), path)
}

// breakStale removes lockFile if it is still stale once the break guard is
// held. A stale lock only goes away through a guard holder, so the lock
// checked under the guard is the one removed. Reports whether the lock is gone.
func breakStale(lockFile string) (bool, error) {
	guard := lockFile + breakSuffix
	if err := create(guard); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return false, err
		}
		if info, err := os.Stat(guard); err == nil && time.Since(info.ModTime()) > breakTimeout {
			os.Remove(guard)
		}
		return false, nil
	}
	defer os.Remove(guard)

	pid, err := Owner(lockFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return true, nil
	case errors.Is(err, errMalformed):
	case err != nil:
		return false, err
	case isPidAlive(pid):
		return false, nil
	}

	if err := os.Remove(lockFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return true, nil
}

var errMalformed = errors.New("malformed lock file")

// Owner reads the pid recorded in lockFile.
func Owner(lockFile string) (int, error) {
	content, err := os.ReadFile(lockFile)
	if err != nil {
		return 0, err
	}

	parts := strings.Fields(string(content))
	if len(parts) < 2 {
		return 0, errMalformed
	}
	pid, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, errMalformed
	}
	return pid, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return false
	}

	// EPERM: exists, owned by someone else.
	return true
}
