package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/navid-fn/optionsradar/internal/options"
)

// MemoryBackend keeps documents as encoded JSON so callers never share maps
// with the store. One mutex serializes all writes.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

// NewMemoryBackend returns an empty in-process document store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]map[string][]byte)}
}

func (m *MemoryBackend) Get(ctx context.Context, symbol, key string) (options.OptionRecord, error) {
	m.mu.RLock()
	raw, ok := m.docs[symbol][key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeRecord(raw)
}

func (m *MemoryBackend) Keys(ctx context.Context, symbol string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.docs[symbol]))
	for k := range m.docs[symbol] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Update(ctx context.Context, symbol, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var current options.OptionRecord
	if raw, ok := m.docs[symbol][key]; ok {
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		current = rec
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if len(next) == 0 {
		delete(m.docs[symbol], key)
		return nil
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if m.docs[symbol] == nil {
		m.docs[symbol] = make(map[string][]byte)
	}
	m.docs[symbol][key] = raw
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, symbol, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[symbol][key]; !ok {
		return false, nil
	}
	delete(m.docs[symbol], key)
	return true, nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }

func decodeRecord(raw []byte) (options.OptionRecord, error) {
	var rec options.OptionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MemoryRegistry is an in-process SymbolRegistry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	symbols map[string]time.Time
}

// NewMemoryRegistry returns a registry holding tickers.
func NewMemoryRegistry(tickers ...string) *MemoryRegistry {
	r := &MemoryRegistry{symbols: make(map[string]time.Time)}
	for _, t := range tickers {
		r.symbols[t] = time.Now()
	}
	return r
}

func (r *MemoryRegistry) Register(ctx context.Context, ticker string) error {
	if !options.ValidTicker(ticker) {
		return fmt.Errorf("%w: ticker %q", ErrInvalidKey, ticker)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.symbols[ticker]; ok {
		return ErrSymbolExists
	}
	r.symbols[ticker] = time.Now()
	return nil
}

func (r *MemoryRegistry) Exists(ctx context.Context, ticker string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.symbols[ticker]
	return ok, nil
}

func (r *MemoryRegistry) List(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.symbols))
	for t := range r.symbols {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
