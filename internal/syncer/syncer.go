// Package syncer refreshes one symbol's option chain from CBOE into the
// option store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/cboe"
	"github.com/navid-fn/optionsradar/internal/events"
	"github.com/navid-fn/optionsradar/internal/options"
	"github.com/navid-fn/optionsradar/internal/storage"
)

const (
	msgInvalidStructure = "Invalid CBOE API response structure"
	msgNoOptions        = "No options data found in CBOE response"
	msgProcessFailed    = "Failed to process options data"
)

// DefaultStoreTimeout bounds each upsert when none is configured.
const DefaultStoreTimeout = 10 * time.Second

// NotRegisteredError means the symbol is unknown to the registry.
type NotRegisteredError struct {
	Symbol string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("Stock %s not registered", e.Symbol)
}

// ErrNoOptions marks a valid response that carried no entries.
var ErrNoOptions = errors.New(msgNoOptions)

// SyncResult reports one syncSymbol attempt.
type SyncResult struct {
	RunID     string    `json:"run_id"`
	BatchID   string    `json:"batch_id,omitempty"`
	Symbol    string    `json:"symbol"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Processed int       `json:"processed"`
	Errors    []string  `json:"errors"`
	Timestamp time.Time `json:"timestamp"`

	err error
}

// Cause returns the error that aborted the sync, if any.
func (r SyncResult) Cause() error { return r.err }

// EventKey keys exported sync events by symbol.
func (r SyncResult) EventKey() string { return r.Symbol }

type batchKey struct{}

// WithBatchID tags syncs run under ctx as part of one drain batch.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchKey{}, id)
}

func batchID(ctx context.Context) string {
	id, _ := ctx.Value(batchKey{}).(string)
	return id
}

// Fetcher is the part of the CBOE client the coordinator uses.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (*cboe.ChainResponse, error)
}

// Coordinator runs fetch, parse and upsert for one symbol at a time.
type Coordinator struct {
	fetcher      Fetcher
	registry     storage.SymbolRegistry
	store        *storage.OptionStore
	parser       *options.Parser
	publisher    events.Publisher
	logger       *logrus.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

// Options tunes a Coordinator. Zero values pick defaults.
type Options struct {
	StoreTimeout time.Duration
	Now          func() time.Time
	Publisher    events.Publisher
}

func NewCoordinator(fetcher Fetcher, registry storage.SymbolRegistry, store *storage.OptionStore, logger *logrus.Logger, opts Options) *Coordinator {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	return &Coordinator{
		fetcher:      fetcher,
		registry:     registry,
		store:        store,
		parser:       options.NewParser(opts.Now),
		publisher:    opts.Publisher,
		logger:       logger,
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
	}
}

// SyncSymbol refreshes ticker. One bad entry never aborts the rest; the
// result is successful when at least one entry was stored.
func (c *Coordinator) SyncSymbol(ctx context.Context, ticker string) SyncResult {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	result := SyncResult{
		RunID:   uuid.NewString(),
		BatchID: batchID(ctx),
		Symbol:  symbol,
		Errors:  []string{},
	}

	c.sync(ctx, &result)

	result.Timestamp = c.now()
	entry := c.logger.WithFields(logrus.Fields{
		"symbol":    symbol,
		"processed": result.Processed,
		"errors":    len(result.Errors),
		"run_id":    result.RunID,
	})
	if result.Success {
		entry.Info(result.Message)
	} else {
		entry.Warn(result.Message)
	}

	c.publisher.Publish(events.TopicSyncCompleted, result)
	return result
}

func (c *Coordinator) fail(result *SyncResult, err error, message string) {
	result.Success = false
	result.err = err
	result.Message = message
}

func (c *Coordinator) sync(ctx context.Context, result *SyncResult) {
	symbol := result.Symbol

	registered := false
	if options.ValidTicker(symbol) {
		var err error
		registered, err = c.registry.Exists(ctx, symbol)
		if err != nil {
			serr := &storage.StorageError{Op: "exists", Symbol: symbol, Err: err}
			c.fail(result, serr, serr.Error())
			return
		}
	}
	if !registered {
		nerr := &NotRegisteredError{Symbol: symbol}
		c.fail(result, nerr, nerr.Error())
		return
	}

	resp, err := c.fetcher.Fetch(ctx, symbol)
	if err != nil {
		c.fail(result, err, err.Error())
		return
	}

	entries, err := resp.Options()
	if err != nil {
		c.fail(result, err, msgInvalidStructure)
		return
	}
	if len(entries) == 0 {
		c.fail(result, ErrNoOptions, msgNoOptions)
		return
	}

	snapshot, _ := resp.SnapshotTime()
	for _, raw := range entries {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			break
		}

		parsed, err := c.parser.Parse(raw, snapshot)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if parsed.Ticker != symbol {
			result.Errors = append(result.Errors, (&options.RecordParseError{
				Option: parsed.Quote.Option,
				Reason: "belongs to " + parsed.Ticker,
			}).Error())
			continue
		}

		if err := c.upsert(ctx, symbol, parsed); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to save option %s: %v", parsed.Quote.Option, err))
			continue
		}
		result.Processed++
	}

	if result.Processed == 0 {
		c.fail(result, nil, msgProcessFailed)
		return
	}
	result.Success = true
	result.Message = fmt.Sprintf("Successfully processed %d options for %s", result.Processed, symbol)
}

func (c *Coordinator) upsert(ctx context.Context, symbol string, p options.ParsedOption) error {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return c.store.UpsertStrike(ctx, symbol, p.Date, p.Type, p.StrikeKey, p.Quote)
}

// SyncStatus summarizes what is stored for a symbol.
type SyncStatus struct {
	Symbol       string     `json:"symbol"`
	Exists       bool       `json:"exists"`
	LastSync     *time.Time `json:"last_sync"`
	OptionsCount int        `json:"options_count"`
}

// Status reports registration, the newest last_update and the strike count.
func (c *Coordinator) Status(ctx context.Context, ticker string) (SyncStatus, error) {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	status := SyncStatus{Symbol: symbol}

	exists, err := c.registry.Exists(ctx, symbol)
	if err != nil {
		return status, err
	}
	status.Exists = exists
	if !exists {
		return status, nil
	}

	count, err := c.store.CountStrikes(ctx, symbol)
	if err != nil {
		return status, err
	}
	status.OptionsCount = count

	latest, found, err := c.store.Latest(ctx, symbol)
	if err != nil {
		return status, err
	}
	if found {
		if ts, err := time.ParseInLocation(options.TimestampLayout, latest.LastUpdate, time.Local); err == nil {
			status.LastSync = &ts
		}
	}
	return status, nil
}
