package jobstate

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

const lockPollInterval = 100 * time.Millisecond

// LockTimeoutError reports that the store lock could not be acquired within
// the bounded wait. Callers surface this instead of blocking indefinitely.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for lock %s", e.Timeout, e.Path)
}

// fileLock is a sibling lock file created with O_EXCL. It stands in for a
// transaction: whoever holds it owns the read-modify-write cycle.
type fileLock struct {
	path string
}

// acquire polls until the lock file can be created exclusively or the
// bounded timeout elapses. The holder's pid is written into the file to aid
// stale-lock diagnosis.
func acquireLock(ctx context.Context, path string, timeout time.Duration) (*fileLock, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			_ = f.Close()
			return &fileLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			return nil, &LockTimeoutError{Path: path, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// release removes the lock file. Safe to call once on every exit path.
func (l *fileLock) release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
