package cleaner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/navid-fn/optionsradar/internal/logger"
	"github.com/navid-fn/optionsradar/internal/options"
	"github.com/navid-fn/optionsradar/internal/storage"
)

var testNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func newCleaner(tickers ...string) (*Cleaner, *storage.OptionStore) {
	store := storage.NewOptionStore(storage.NewMemoryBackend(), logger.Discard())
	c := New(storage.NewMemoryRegistry(tickers...), store, logger.Discard(), Config{
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
	return c, store
}

func put(t *testing.T, store *storage.OptionStore, symbol, date string, typ options.OptionType, strike, cboeTS string) {
	t.Helper()
	q := options.StrikeQuote{CBOETimestamp: cboeTS, Option: symbol + date + string(typ) + strike, Tick: options.DefaultTick}
	if err := store.UpsertStrike(context.Background(), symbol, date, typ, strike, q); err != nil {
		t.Fatal(err)
	}
}

func has(store *storage.OptionStore, symbol, date string, typ options.OptionType, strike string) bool {
	rec, ok, _ := store.GetOptionRecord(context.Background(), symbol, date, typ)
	if !ok {
		return false
	}
	_, ok = rec[strike]
	return ok
}

const (
	fresh = "2025-07-01 10:00:00"
	old   = "2025-06-29 10:00:00"
)

func TestCleanSymbolPredicate(t *testing.T) {
	c, store := newCleaner("LMT")

	put(t, store, "LMT", "250630", options.Call, "00011000", fresh)   // expired, fresh
	put(t, store, "LMT", "250815", options.Call, "00011000", old)     // future, stale
	put(t, store, "LMT", "250815", options.Call, "00012000", fresh)   // future, fresh
	put(t, store, "LMT", "250701", options.Put, "00011000", fresh)    // expires today
	put(t, store, "LMT", "250815", options.Put, "00011000", "bad ts") // unparseable
	put(t, store, "LMT", "250815", options.Put, "00012000", "")       // no snapshot

	res := c.CleanSymbol(context.Background(), "LMT")
	if len(res.Errors) != 0 {
		t.Fatalf("Unexpected errors %v", res.Errors)
	}
	if res.Deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", res.Deleted)
	}

	tests := []struct {
		name   string
		date   string
		typ    options.OptionType
		strike string
		kept   bool
	}{
		{"past expiration with fresh timestamp", "250630", options.Call, "00011000", false},
		{"stale timestamp with future expiration", "250815", options.Call, "00011000", false},
		{"fresh and future", "250815", options.Call, "00012000", true},
		{"expires today", "250701", options.Put, "00011000", true},
		{"unparseable timestamp", "250815", options.Put, "00011000", true},
		{"missing timestamp", "250815", options.Put, "00012000", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := has(store, "LMT", tt.date, tt.typ, tt.strike); got != tt.kept {
				t.Errorf("Expected kept=%v, got %v", tt.kept, got)
			}
		})
	}

	keys, _ := store.ListKeys(context.Background(), "LMT")
	for _, k := range keys {
		if k == "LMT250630C" {
			t.Error("Expected expired record key to be removed")
		}
	}
}

func TestCleanAllAndStatistics(t *testing.T) {
	c, store := newCleaner("LMT", "BXMT", "AAPL")
	ctx := context.Background()

	put(t, store, "LMT", "250630", options.Call, "00011000", fresh)
	put(t, store, "LMT", "250630", options.Call, "00012000", fresh)
	put(t, store, "BXMT", "250815", options.Put, "00001500", old)
	put(t, store, "BXMT", "250815", options.Put, "00002000", fresh)
	put(t, store, "AAPL", "250815", options.Call, "00020000", fresh)

	stats, err := c.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	expected := Statistics{
		TotalStocks:       3,
		TotalRecords:      3,
		TotalStrikes:      5,
		ExpiredStrikes:    2,
		StaleStrikes:      1,
		StocksWithOldData: 2,
	}
	if stats != expected {
		t.Errorf("Expected %+v, got %+v", expected, stats)
	}

	res := c.CleanAll(ctx)
	if !res.Success || res.Processed != 3 || res.Deleted != 3 {
		t.Errorf("Unexpected cleanup result %+v", res)
	}

	after, _ := c.Statistics(ctx)
	if after.TotalStrikes != 2 || after.StocksWithOldData != 0 {
		t.Errorf("Expected only fresh strikes left, got %+v", after)
	}
}

func TestCleanByDateRange(t *testing.T) {
	c, store := newCleaner("LMT")
	ctx := context.Background()

	put(t, store, "LMT", "250815", options.Call, "00011000", fresh)
	put(t, store, "LMT", "250919", options.Call, "00011000", fresh)
	put(t, store, "LMT", "251017", options.Put, "00011000", fresh)

	res, err := c.CleanByDateRange(ctx, "250801", "250919")
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", res.Deleted)
	}
	if !has(store, "LMT", "251017", options.Put, "00011000") {
		t.Error("Expected record outside the range to stay")
	}

	bad := [][2]string{{"250919", "250801"}, {"2025-08-01", "250919"}, {"250801", "251340"}}
	for _, r := range bad {
		if _, err := c.CleanByDateRange(ctx, r[0], r[1]); !errors.Is(err, ErrInvalidDateRange) {
			t.Errorf("Expected ErrInvalidDateRange for %v, got %v", r, err)
		}
	}
}

// racingBackend rewrites a strike with a fresh quote right before the first
// update reaches the wrapped backend, the way a sync landing between the
// cleaner's read and its delete would.
type racingBackend struct {
	*storage.MemoryBackend
	once   sync.Once
	strike string
	quote  options.StrikeQuote
}

func (b *racingBackend) Update(ctx context.Context, symbol, key string, fn storage.UpdateFunc) error {
	b.once.Do(func() {
		_ = b.MemoryBackend.Update(ctx, symbol, key, func(current options.OptionRecord) (options.OptionRecord, error) {
			current[b.strike] = b.quote
			return current, nil
		})
	})
	return b.MemoryBackend.Update(ctx, symbol, key, fn)
}

func TestCleanSymbolKeepsStrikeRefreshedDuringCleanup(t *testing.T) {
	ctx := context.Background()
	backend := &racingBackend{
		MemoryBackend: storage.NewMemoryBackend(),
		strike:        "00011000",
		quote:         options.StrikeQuote{CBOETimestamp: fresh, Option: "LMT250815C00011000"},
	}
	store := storage.NewOptionStore(backend, logger.Discard())
	c := New(storage.NewMemoryRegistry("LMT"), store, logger.Discard(), Config{
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})

	seed := storage.NewOptionStore(backend.MemoryBackend, logger.Discard())
	put(t, seed, "LMT", "250815", options.Call, "00011000", old)
	put(t, seed, "LMT", "250815", options.Call, "00012000", old)

	res := c.CleanSymbol(ctx, "LMT")
	if len(res.Errors) != 0 {
		t.Fatalf("Unexpected errors %v", res.Errors)
	}
	if res.Deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", res.Deleted)
	}
	if !has(store, "LMT", "250815", options.Call, "00011000") {
		t.Error("Expected the refreshed strike to survive cleanup")
	}
	if has(store, "LMT", "250815", options.Call, "00012000") {
		t.Error("Expected the stale strike to be deleted")
	}
}
