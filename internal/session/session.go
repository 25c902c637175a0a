// Package session keeps the server-side session table for ATM customers and
// administrators. Clients hold an HS256 token naming their session; the
// session itself, including the card number, never leaves the process.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/eaglebank/core-banking/internal/config"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/eaglebank/core-banking/shared/utils"
	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Tokens stop verifying after this long even for an active session.
const tokenLifetime = 12 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrNotFound     = errors.New("session not found")
	ErrExpired      = errors.New("session expired")
)

// Claims is the token payload. The registered ID claim carries the session id.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the caller a valid token resolves to.
type Principal struct {
	SessionID  string
	Role       Role
	CardNumber string
	Username   string
}

type entry struct {
	session  models.Session
	role     Role
	username string
}

type Manager struct {
	secret   []byte
	config   *config.Provider
	mu       sync.Mutex
	sessions map[string]*entry
	now      func() time.Time
}

func NewManager(secret []byte, cfg *config.Provider) *Manager {
	return &Manager{
		secret:   secret,
		config:   cfg,
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

func (m *Manager) idleTimeout() time.Duration {
	timeout, err := m.config.SessionTimeout()
	if err != nil {
		log.Printf("Failed to read session timeout, using default: %v", err)
	}
	return timeout
}

// Open starts a customer session for an authenticated card.
func (m *Manager) Open(cardNumber string) (string, *models.Session, error) {
	return m.open(&entry{role: RoleCustomer, session: models.Session{CardNumber: cardNumber}})
}

// OpenAdmin starts an administrator session.
func (m *Manager) OpenAdmin(username string) (string, *models.Session, error) {
	return m.open(&entry{role: RoleAdmin, username: username})
}

func (m *Manager) open(e *entry) (string, *models.Session, error) {
	now := m.now()
	e.session.ID = utils.GenerateID("SES")
	e.session.AuthenticatedAt = now
	e.session.LastActivity = now
	e.session.IdleTimeout = m.idleTimeout()

	claims := Claims{
		Role: e.role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        e.session.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	m.mu.Lock()
	m.sessions[e.session.ID] = e
	m.mu.Unlock()

	s := e.session
	return signed, &s, nil
}

func (m *Manager) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Resolve checks a token, enforces the idle timeout and records activity.
// An idle session is removed.
func (m *Manager) Resolve(tokenString string) (*Principal, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[claims.ID]
	if !ok || e.role != claims.Role {
		return nil, ErrNotFound
	}
	now := m.now()
	if e.session.Expired(now) {
		delete(m.sessions, claims.ID)
		return nil, ErrExpired
	}
	e.session.LastActivity = now
	return &Principal{
		SessionID:  e.session.ID,
		Role:       e.role,
		CardNumber: e.session.CardNumber,
		Username:   e.username,
	}, nil
}

// Close ends the session a token names. Closing an unknown session is not
// an error.
func (m *Manager) Close(tokenString string) error {
	claims, err := m.parse(tokenString)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, claims.ID)
	m.mu.Unlock()
	return nil
}

// Sweep drops idle sessions and returns how many it removed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.sessions {
		if e.session.Expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
