package session

import (
	"errors"
	"testing"
	"time"

	"github.com/eaglebank/core-banking/internal/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	cfg, err := config.New("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg.Set(config.KeySessionTimeoutSeconds, 60)
	clock := &fakeClock{t: time.Now()}
	m := NewManager([]byte("test-secret"), cfg)
	m.now = clock.now
	return m, clock
}

func TestOpenAndResolve(t *testing.T) {
	m, _ := newTestManager(t)

	token, s, err := m.Open("123456")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.IdleTimeout != time.Minute {
		t.Errorf("expected idle timeout 1m got %v", s.IdleTimeout)
	}
	p, err := m.Resolve(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != RoleCustomer || p.CardNumber != "123456" || p.SessionID != s.ID {
		t.Errorf("unexpected principal %+v", p)
	}
}

func TestIdleTimeout(t *testing.T) {
	tests := []struct {
		name        string
		idle        time.Duration
		expectedErr error
	}{
		{"within timeout", 59 * time.Second, nil},
		{"at the timeout", time.Minute, nil},
		{"past the timeout", time.Minute + time.Second, ErrExpired},
	}
	for _, tc := range tests {
		m, clock := newTestManager(t)
		token, _, err := m.Open("123456")
		if err != nil {
			t.Fatalf("[%s] unexpected error: %v", tc.name, err)
		}
		clock.t = clock.t.Add(tc.idle)
		if _, err := m.Resolve(token); !errors.Is(err, tc.expectedErr) {
			t.Errorf("[%s] expected %v got %v", tc.name, tc.expectedErr, err)
		}
	}
}

func TestActivityExtendsSession(t *testing.T) {
	m, clock := newTestManager(t)
	token, _, _ := m.Open("123456")

	for i := 0; i < 3; i++ {
		clock.t = clock.t.Add(50 * time.Second)
		if _, err := m.Resolve(token); err != nil {
			t.Fatalf("expected session to stay open after activity, got %v", err)
		}
	}
	clock.t = clock.t.Add(2 * time.Minute)
	if _, err := m.Resolve(token); !errors.Is(err, ErrExpired) {
		t.Errorf("expected %v got %v", ErrExpired, err)
	}
	if _, err := m.Resolve(token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired session to be removed, got %v", err)
	}
}

func TestRejectedTokens(t *testing.T) {
	m, _ := newTestManager(t)
	token, _, _ := m.Open("123456")

	other := NewManager([]byte("other-secret"), m.config)
	foreign, _, _ := other.Open("123456")

	tests := []struct {
		name        string
		token       string
		expectedErr error
	}{
		{"garbage", "not.a.token", ErrInvalidToken},
		{"wrong signature", foreign, ErrInvalidToken},
		{"tampered", token + "x", ErrInvalidToken},
	}
	for _, tc := range tests {
		if _, err := m.Resolve(tc.token); !errors.Is(err, tc.expectedErr) {
			t.Errorf("[%s] expected %v got %v", tc.name, tc.expectedErr, err)
		}
	}
}

func TestAdminSessionAndClose(t *testing.T) {
	m, _ := newTestManager(t)
	token, _, err := m.OpenAdmin("root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := m.Resolve(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != RoleAdmin || p.Username != "root" || p.CardNumber != "" {
		t.Errorf("unexpected principal %+v", p)
	}
	if err := m.Close(token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Resolve(token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected %v got %v", ErrNotFound, err)
	}
}

func TestSweep(t *testing.T) {
	m, clock := newTestManager(t)
	m.Open("123456")
	clock.t = clock.t.Add(30 * time.Second)
	m.Open("222222")
	clock.t = clock.t.Add(45 * time.Second)

	if removed := m.Sweep(); removed != 1 {
		t.Errorf("expected 1 session removed got %d", removed)
	}
	if m.Active() != 1 {
		t.Errorf("expected 1 active session got %d", m.Active())
	}
}
