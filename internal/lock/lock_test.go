package lock

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireWritesAndReleaseRemovesSentinel(t *testing.T) {
	l := New(t.TempDir())

	release, err := l.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts, pid, err := l.Holder()
	if err != nil {
		t.Fatalf("failed to read sentinel: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("expected pid %d got %d", os.Getpid(), pid)
	}
	if time.Since(ts) > time.Minute {
		t.Errorf("unexpected sentinel timestamp %s", ts)
	}

	release()
	release()
	if _, err := os.Stat(l.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected sentinel to be removed, stat err %v", err)
	}
}

func TestLeftoverSentinelIsLockHeld(t *testing.T) {
	l := New(t.TempDir())
	if err := os.WriteFile(l.Path(), []byte("2024-01-01T00:00:00Z 4242\n"), 0644); err != nil {
		t.Fatalf("failed to plant sentinel: %v", err)
	}

	if _, err := l.Acquire(); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld got %v", err)
	}
	// A failed acquire must not leave the mutex locked.
	os.Remove(l.Path())
	release, err := l.Acquire()
	if err != nil {
		t.Fatalf("expected acquire after cleanup to succeed, got %v", err)
	}
	release()
}

func TestWithReleasesOnError(t *testing.T) {
	l := New(t.TempDir())
	boom := errors.New("boom")

	if err := l.With(func() error { return boom }); err != boom {
		t.Errorf("expected fn error to pass through, got %v", err)
	}
	if _, err := os.Stat(l.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected sentinel to be removed after failed section")
	}
}

func TestWithReleasesOnPanic(t *testing.T) {
	l := New(t.TempDir())
	func() {
		defer func() { recover() }()
		l.With(func() error { panic("mid-section") })
	}()
	if err := l.With(func() error { return nil }); err != nil {
		t.Errorf("expected lock to be free after panic, got %v", err)
	}
}

func TestAtMostOneHolder(t *testing.T) {
	l := New(t.TempDir())
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.With(func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most one holder, saw %d", maxInside)
	}
}
