package repository

import (
	"context"
	"errors"
	"log"
)

var (
	// ErrNotFound is returned when a card, account or customer does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidBalance is returned for a negative balance write.
	ErrInvalidBalance = errors.New("invalid balance")
	// ErrStorageUnavailable is transient: the store could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStorageCorrupted is not transient: a rewrite or restore left the store
	// in an unknown state. The engine refuses further mutations.
	ErrStorageCorrupted = errors.New("storage corrupted")
	// ErrPoolExhausted is returned when no connection became free in time.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrInvalidCredentials is returned by VerifyAdmin.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Retry runs op and, when it fails with ErrStorageUnavailable, runs it once
// more. Any other error is returned as is.
func Retry[T any](ctx context.Context, name string, op func() (T, error)) (T, error) {
	v, err := op()
	if err == nil || !errors.Is(err, ErrStorageUnavailable) {
		return v, err
	}
	if ctx.Err() != nil {
		return v, err
	}
	log.Printf("%s: retrying after transient failure: %v", name, err)
	return op()
}

// RetryExec is Retry for operations without a result.
func RetryExec(ctx context.Context, name string, op func() error) error {
	_, err := Retry(ctx, name, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
