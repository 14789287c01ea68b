// Package cleaner removes expired and stale option data.
//
// A strike is garbage when its record's expiration day is before today in
// the market timezone, or when its cboe_timestamp is older than the
// freshness window. Either condition alone is enough. A cboe_timestamp that
// does not parse never counts as stale.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/events"
	"github.com/navid-fn/optionsradar/internal/options"
	"github.com/navid-fn/optionsradar/internal/storage"
)

const (
	DefaultFreshness = 24 * time.Hour
	DefaultTimezone  = "America/New_York"
)

var ErrInvalidDateRange = errors.New("invalid date range")

type Cleaner struct {
	registry  storage.SymbolRegistry
	store     *storage.OptionStore
	publisher events.Publisher
	logger    *logrus.Logger
	loc       *time.Location
	freshness time.Duration
	now       func() time.Time
}

// Config tunes a Cleaner. Zero values pick defaults.
type Config struct {
	Location  *time.Location
	Freshness time.Duration
	Now       func() time.Time
	Publisher events.Publisher
}

func New(registry storage.SymbolRegistry, store *storage.OptionStore, logger *logrus.Logger, cfg Config) *Cleaner {
	if cfg.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
		cfg.Location = loc
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	return &Cleaner{
		registry:  registry,
		store:     store,
		publisher: cfg.Publisher,
		logger:    logger,
		loc:       cfg.Location,
		freshness: cfg.Freshness,
		now:       cfg.Now,
	}
}

// SymbolCleanup is the outcome for one symbol.
type SymbolCleanup struct {
	Symbol  string   `json:"symbol"`
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors"`
}

// CleanupResult aggregates a run over several symbols.
type CleanupResult struct {
	Success   bool      `json:"success"`
	Processed int       `json:"processed"`
	Deleted   int       `json:"deleted"`
	Errors    []string  `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Cleaner) today() time.Time {
	y, m, d := c.now().In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

func (c *Cleaner) expired(key options.Key, today time.Time) bool {
	exp, err := key.Expiration(c.loc)
	if err != nil {
		return false
	}
	return exp.Before(today)
}

func (c *Cleaner) stale(q options.StrikeQuote) bool {
	if q.CBOETimestamp == "" {
		return false
	}
	ts, err := time.ParseInLocation(options.TimestampLayout, q.CBOETimestamp, c.loc)
	if err != nil {
		return false
	}
	return c.now().Sub(ts) > c.freshness
}

// CleanSymbol deletes every expired record and every stale strike of symbol.
func (c *Cleaner) CleanSymbol(ctx context.Context, symbol string) SymbolCleanup {
	out := SymbolCleanup{Symbol: symbol, Errors: []string{}}

	records, err := c.store.Records(ctx, symbol)
	if err != nil {
		out.Errors = append(out.Errors, err.Error())
		return out
	}

	today := c.today()
	for key, rec := range records {
		parsed, err := options.ParseKey(key)
		if err != nil {
			continue
		}

		match := func(_ string, q options.StrikeQuote) bool { return c.stale(q) }
		if c.expired(parsed, today) {
			match = func(string, options.StrikeQuote) bool { return true }
		} else if !anyStale(rec, c.stale) {
			continue
		}

		n, err := c.store.DeleteStrikesIf(ctx, symbol, key, match)
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
			continue
		}
		out.Deleted += n
	}

	if out.Deleted > 0 {
		c.logger.Infof("Cleaned %d options for %s", out.Deleted, symbol)
	}
	return out
}

func anyStale(rec options.OptionRecord, stale func(options.StrikeQuote) bool) bool {
	for _, q := range rec {
		if stale(q) {
			return true
		}
	}
	return false
}

// CleanAll runs CleanSymbol over every registered symbol.
func (c *Cleaner) CleanAll(ctx context.Context) CleanupResult {
	result := CleanupResult{Errors: []string{}}

	symbols, err := c.registry.List(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Timestamp = c.now()
		c.logger.Errorf("Cleanup failed: %v", err)
		return result
	}

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err().Error())
			break
		}
		sc := c.CleanSymbol(ctx, symbol)
		result.Processed++
		result.Deleted += sc.Deleted
		for _, e := range sc.Errors {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", symbol, e))
		}
	}

	result.Success = true
	result.Timestamp = c.now()
	c.logger.WithFields(logrus.Fields{
		"symbols": result.Processed,
		"deleted": result.Deleted,
		"errors":  len(result.Errors),
	}).Info("Cleanup completed")
	c.publisher.Publish(events.TopicCleanupCompleted, result)
	return result
}

// CleanByDateRange deletes every record whose expiration falls within
// [start, end], both YYMMDD.
func (c *Cleaner) CleanByDateRange(ctx context.Context, start, end string) (CleanupResult, error) {
	from, err1 := time.ParseInLocation(options.DateLayout, start, c.loc)
	to, err2 := time.ParseInLocation(options.DateLayout, end, c.loc)
	if !options.ValidDate(start) || !options.ValidDate(end) || err1 != nil || err2 != nil || to.Before(from) {
		return CleanupResult{}, fmt.Errorf("%w: %q to %q", ErrInvalidDateRange, start, end)
	}

	result := CleanupResult{Errors: []string{}}
	symbols, err := c.registry.List(ctx)
	if err != nil {
		return result, err
	}

	for _, symbol := range symbols {
		records, err := c.store.Records(ctx, symbol)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", symbol, err))
			continue
		}
		result.Processed++
		for key, rec := range records {
			parsed, err := options.ParseKey(key)
			if err != nil {
				continue
			}
			exp, err := parsed.Expiration(c.loc)
			if err != nil || exp.Before(from) || exp.After(to) {
				continue
			}
			ok, err := c.store.DeleteRecord(ctx, symbol, key)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", symbol, err))
				continue
			}
			if ok {
				result.Deleted += len(rec)
			}
		}
	}

	result.Success = true
	result.Timestamp = c.now()
	c.logger.Infof("Deleted %d options expiring between %s and %s", result.Deleted, start, end)
	return result, nil
}

// Statistics counts what a cleanup would remove, without deleting anything.
type Statistics struct {
	TotalStocks       int `json:"total_stocks"`
	TotalRecords      int `json:"total_records"`
	TotalStrikes      int `json:"total_strikes"`
	ExpiredStrikes    int `json:"expired_strikes"`
	StaleStrikes      int `json:"stale_strikes"`
	StocksWithOldData int `json:"stocks_with_old_data"`
}

func (c *Cleaner) Statistics(ctx context.Context) (Statistics, error) {
	symbols, err := c.registry.List(ctx)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{TotalStocks: len(symbols)}
	today := c.today()
	for _, symbol := range symbols {
		records, err := c.store.Records(ctx, symbol)
		if err != nil {
			return Statistics{}, err
		}

		old := false
		for key, rec := range records {
			stats.TotalRecords++
			stats.TotalStrikes += len(rec)

			parsed, err := options.ParseKey(key)
			if err != nil {
				continue
			}
			if c.expired(parsed, today) {
				stats.ExpiredStrikes += len(rec)
				old = true
				continue
			}
			for _, q := range rec {
				if c.stale(q) {
					stats.StaleStrikes++
					old = true
				}
			}
		}
		if old {
			stats.StocksWithOldData++
		}
	}
	return stats, nil
}
