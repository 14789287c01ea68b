// Package storage persists option records and registered symbols.
//
// Option records live in a generic document store keyed by (symbol, key).
// Backends only have to provide an atomic read-modify-write; everything
// option-specific (key construction, strike maps, scans) lives in OptionStore.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/navid-fn/optionsradar/internal/options"
)

var (
	// ErrNotFound is returned by Backend.Get for an absent key.
	ErrNotFound = errors.New("record not found")

	// ErrSymbolExists is returned when registering a ticker twice.
	ErrSymbolExists = errors.New("symbol already registered")

	// ErrInvalidKey rejects malformed symbols, dates, types or strike keys.
	ErrInvalidKey = errors.New("invalid option key")

	// errNoChange aborts an Update without writing anything.
	errNoChange = errors.New("no change")
)

// StorageError wraps any failure of the underlying store.
type StorageError struct {
	Op     string
	Symbol string
	Key    string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("storage %s %s/%s: %v", e.Op, e.Symbol, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UpdateFunc receives the stored record (nil when absent) and returns the
// record to persist. An empty result deletes the key. Returning an error
// aborts the update and leaves the stored record untouched.
type UpdateFunc func(current options.OptionRecord) (options.OptionRecord, error)

// Backend is a per-entity key/value document store.
// Implementations must be safe for concurrent use, and Update must be
// atomic per (symbol, key).
type Backend interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, symbol, key string) (options.OptionRecord, error)

	// Keys lists every key stored under symbol.
	Keys(ctx context.Context, symbol string) ([]string, error)

	// Update runs fn under a per-key lock and persists its result.
	Update(ctx context.Context, symbol, key string, fn UpdateFunc) error

	// Delete removes the key and reports whether it existed.
	Delete(ctx context.Context, symbol, key string) (bool, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// SymbolRegistry is the set of tickers the system syncs.
type SymbolRegistry interface {
	// Register adds ticker or returns ErrSymbolExists.
	Register(ctx context.Context, ticker string) error

	// Exists reports whether ticker is registered.
	Exists(ctx context.Context, ticker string) (bool, error)

	// List returns all tickers in ascending order.
	List(ctx context.Context) ([]string, error)
}
