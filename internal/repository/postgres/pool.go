package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/eaglebank/core-banking/internal/repository"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	Min              int
	Max              int
	Initial          int
	BorrowTimeout    time.Duration
	IdleTimeout      time.Duration
	ValidateOnBorrow bool
}

// DefaultPoolConfig mirrors the config provider defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Min:              3,
		Max:              10,
		Initial:          5,
		BorrowTimeout:    5 * time.Second,
		IdleTimeout:      300 * time.Second,
		ValidateOnBorrow: true,
	}
}

func (c PoolConfig) normalized() PoolConfig {
	if c.Max <= 0 {
		c.Max = 1
	}
	if c.Min < 0 {
		c.Min = 0
	}
	if c.Min > c.Max {
		c.Min = c.Max
	}
	if c.Initial < c.Min {
		c.Initial = c.Min
	}
	if c.Initial > c.Max {
		c.Initial = c.Max
	}
	return c
}

// Pool hands out dedicated *sql.Conn handles from a *sql.DB. It is safe for
// concurrent borrowers.
type Pool struct {
	db  *sql.DB
	cfg PoolConfig
	now func() time.Time

	mu     sync.Mutex
	free   []*Conn
	size   int
	closed bool
	// closed and replaced on every return so waiters can re-check.
	notify chan struct{}
}

// Conn is a borrowed connection.
type Conn struct {
	pool     *Pool
	conn     *sql.Conn
	lastUsed time.Time
	once     sync.Once
}

// SQL exposes the underlying connection for query execution.
func (c *Conn) SQL() *sql.Conn { return c.conn }

// Release returns the connection to its pool. Calls after the first are no-ops.
func (c *Conn) Release() {
	c.once.Do(func() { c.pool.put(c) })
}

// NewPool opens the initial connections.
func NewPool(ctx context.Context, db *sql.DB, cfg PoolConfig) (*Pool, error) {
	cfg = cfg.normalized()
	p := &Pool{
		db:     db,
		cfg:    cfg,
		now:    time.Now,
		notify: make(chan struct{}),
	}
	for i := 0; i < cfg.Initial; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			p.Shutdown(ctx)
			return nil, fmt.Errorf("failed to open initial connection: %w: %v", repository.ErrStorageUnavailable, err)
		}
		p.free = append(p.free, &Conn{pool: p, conn: conn, lastUsed: p.now()})
		p.size++
	}
	return p, nil
}

// Borrow takes a free connection, opens a new one while below Max, or waits
// up to the borrow timeout for a return.
func (p *Pool) Borrow(ctx context.Context) (*Conn, error) {
	timer := time.NewTimer(p.cfg.BorrowTimeout)
	defer timer.Stop()

	probed := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool is shut down: %w", repository.ErrStorageUnavailable)
		}

		if n := len(p.free); n > 0 {
			pc := p.free[n-1]
			p.free = p.free[:n-1]
			p.mu.Unlock()
			if !p.cfg.ValidateOnBorrow || pc.conn.PingContext(ctx) == nil {
				return p.fresh(pc), nil
			}
			p.discard(pc)
			if probed {
				return nil, fmt.Errorf("connection failed liveness probe: %w", repository.ErrStorageUnavailable)
			}
			probed = true
			continue
		}

		if p.size < p.cfg.Max {
			p.size++
			p.mu.Unlock()
			conn, err := p.db.Conn(ctx)
			if err != nil {
				p.mu.Lock()
				p.size--
				p.signal()
				p.mu.Unlock()
				return nil, fmt.Errorf("failed to open connection: %w: %v", repository.ErrStorageUnavailable, err)
			}
			return &Conn{pool: p, conn: conn, lastUsed: p.now()}, nil
		}

		wait := p.notify
		p.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return nil, repository.ErrPoolExhausted
		case <-ctx.Done():
			return nil, fmt.Errorf("borrow cancelled: %w", ctx.Err())
		}
	}
}

// fresh rewraps a reused connection so its Release guard starts over.
func (p *Pool) fresh(pc *Conn) *Conn {
	return &Conn{pool: p, conn: pc.conn, lastUsed: pc.lastUsed}
}

func (p *Pool) discard(pc *Conn) {
	if err := pc.conn.Close(); err != nil {
		log.Printf("Failed to close connection: %v", err)
	}
	p.mu.Lock()
	p.size--
	p.signal()
	p.mu.Unlock()
}

// signal wakes every waiter. Callers hold p.mu.
func (p *Pool) signal() {
	close(p.notify)
	p.notify = make(chan struct{})
}

func (p *Pool) put(pc *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		pc.conn.Close()
		p.size--
		p.signal()
		return
	}
	pc.lastUsed = p.now()
	p.free = append(p.free, pc)
	p.sweepLocked()
	p.signal()
}

// sweepLocked closes free connections idle past the eviction threshold while
// keeping at least Min connections open.
func (p *Pool) sweepLocked() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	now := p.now()
	kept := p.free[:0]
	for _, pc := range p.free {
		if p.size > p.cfg.Min && now.Sub(pc.lastUsed) > p.cfg.IdleTimeout {
			if err := pc.conn.Close(); err != nil {
				log.Printf("Failed to close idle connection: %v", err)
			}
			p.size--
			continue
		}
		kept = append(kept, pc)
	}
	p.free = kept
}

// Stats reports the open and idle connection counts.
func (p *Pool) Stats() (open, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size, len(p.free)
}

// Shutdown refuses new borrows, waits for outstanding connections to come
// back and closes everything. ctx bounds the wait.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for {
		for _, pc := range p.free {
			pc.conn.Close()
			p.size--
		}
		p.free = nil
		if p.size <= 0 {
			p.mu.Unlock()
			return nil
		}
		wait := p.notify
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("pool drain interrupted with connections outstanding: %w", ctx.Err())
		}
		p.mu.Lock()
	}
}
