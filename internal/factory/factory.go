// Package factory selects and owns the process's storage backend.
package factory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/eaglebank/core-banking/internal/config"
	"github.com/eaglebank/core-banking/internal/repository"
	"github.com/eaglebank/core-banking/internal/repository/flatfile"
	"github.com/eaglebank/core-banking/internal/repository/postgres"
	_ "github.com/lib/pq"
)

type Mode string

const (
	// ModeAuto tries the relational backend and falls back to files when
	// the configuration allows it.
	ModeAuto       Mode = "auto"
	ModeRelational Mode = "postgres"
	ModeFile       Mode = "file"
)

// ParseMode accepts the TPC_BACKEND values; anything unknown is auto.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeRelational:
		return ModeRelational
	case ModeFile:
		return ModeFile
	default:
		return ModeAuto
	}
}

type Options struct {
	Mode        Mode
	DatabaseURL string
	Storage     config.Storage
}

// Factory hands out one backend binding per process and closes it on
// shutdown.
type Factory struct {
	opts   Options
	openDB func(driver, dsn string) (*sql.DB, error)

	mu sync.Mutex
	da repository.DataAccess
}

func New(opts Options) *Factory {
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	return &Factory{opts: opts, openDB: sql.Open}
}

// Get returns the cached binding, creating it on first use.
func (f *Factory) Get(ctx context.Context) (repository.DataAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.da != nil {
		return f.da, nil
	}

	var (
		da  repository.DataAccess
		err error
	)
	switch f.opts.Mode {
	case ModeFile:
		da, err = f.file()
	case ModeRelational:
		da, err = f.relational(ctx)
	default:
		da, err = f.relational(ctx)
		if err != nil {
			if !f.opts.Storage.FileFallback {
				return nil, err
			}
			log.Printf("Relational backend unavailable, falling back to files: %v", err)
			da, err = f.file()
		}
	}
	if err != nil {
		return nil, err
	}
	log.Printf("Storage backend: %s", da.Name())
	f.da = da
	return da, nil
}

func (f *Factory) relational(ctx context.Context) (repository.DataAccess, error) {
	if f.opts.DatabaseURL == "" {
		return nil, fmt.Errorf("no database url configured: %w", repository.ErrStorageUnavailable)
	}
	db, err := f.openDB("postgres", f.opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w: %v", repository.ErrStorageUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w: %v", repository.ErrStorageUnavailable, err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", repository.ErrStorageUnavailable, err)
	}

	s := f.opts.Storage
	b, err := postgres.New(ctx, db, postgres.PoolConfig{
		Min:              s.PoolMin,
		Max:              s.PoolMax,
		Initial:          s.PoolInitial,
		BorrowTimeout:    s.PoolBorrowTimeout,
		IdleTimeout:      s.PoolIdleTimeout,
		ValidateOnBorrow: s.PoolValidateOnBorrow,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (f *Factory) file() (repository.DataAccess, error) {
	b, err := flatfile.New(f.opts.Storage.DataDir, f.opts.Storage.TempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open file backend: %w", err)
	}
	return b, nil
}

// Close releases the binding. A later Get creates a new one.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.da == nil {
		return nil
	}
	err := f.da.Close()
	f.da = nil
	return err
}
