// Package lock implements the process-wide mutation lock. Holding it means
// owning an in-process mutex and a sentinel file recording who took it.
package lock

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eaglebank/core-banking/internal/repository"
)

// SentinelName is the lock file created under the temp directory.
const SentinelName = "tpc.lock"

// ErrLockHeld is returned when the sentinel already exists. Stale sentinels
// left by a crash are not cleared automatically.
var ErrLockHeld = errors.New("mutation lock held")

type Lock struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func New(tempDir string) *Lock {
	return &Lock{path: filepath.Join(tempDir, SentinelName), now: time.Now}
}

func (l *Lock) Path() string { return l.path }

// Acquire blocks on the in-process mutex, then creates the sentinel. The
// returned release unlinks the sentinel and unlocks; extra calls are no-ops.
func (l *Lock) Acquire() (release func(), err error) {
	l.mu.Lock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("failed to create lock dir: %w: %v", repository.ErrStorageUnavailable, err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		l.mu.Unlock()
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("sentinel %s exists: %w", l.path, ErrLockHeld)
		}
		return nil, fmt.Errorf("failed to create lock sentinel: %w: %v", repository.ErrStorageUnavailable, err)
	}
	_, werr := fmt.Fprintf(f, "%s %d\n", l.now().Format(time.RFC3339Nano), os.Getpid())
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(l.path)
		l.mu.Unlock()
		return nil, fmt.Errorf("failed to write lock sentinel: %w: %v", repository.ErrStorageUnavailable, werr)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Printf("Failed to remove lock sentinel %s: %v", l.path, err)
			}
			l.mu.Unlock()
		})
	}, nil
}

// With runs fn while holding the lock and releases it on every exit path.
func (l *Lock) With(fn func() error) error {
	release, err := l.Acquire()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Holder reports the timestamp and pid recorded in the sentinel.
func (l *Lock) Holder() (time.Time, int, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return time.Time{}, 0, err
	}
	parts := strings.Fields(string(raw))
	if len(parts) != 2 {
		return time.Time{}, 0, fmt.Errorf("malformed sentinel %q", strings.TrimSpace(string(raw)))
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed sentinel timestamp: %w", err)
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed sentinel pid: %w", err)
	}
	return ts, pid, nil
}
