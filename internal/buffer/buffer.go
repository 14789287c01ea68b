// Package buffer is the persisted, deduplicated queue of symbols awaiting a
// sync, drained in bounded batches under a process-wide processing lease.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/events"
	"github.com/navid-fn/optionsradar/internal/options"
	"github.com/navid-fn/optionsradar/internal/state"
	"github.com/navid-fn/optionsradar/internal/storage"
	"github.com/navid-fn/optionsradar/internal/syncer"
)

// DefaultLease bounds how long a crashed drain can hold the processing flag.
const DefaultLease = 30 * time.Minute

// ErrLeaseLost stops a batch whose processing lease expired under it.
var ErrLeaseLost = errors.New("processing lease lost")

// ErrAlreadyProcessing rejects a batch while another one holds the lease.
var ErrAlreadyProcessing = errors.New("buffer is already being processed")

// Syncer syncs one symbol.
type Syncer interface {
	SyncSymbol(ctx context.Context, symbol string) syncer.SyncResult
}

// Counter reports stored strikes per symbol.
type Counter interface {
	CountStrikes(ctx context.Context, symbol string) (int, error)
}

// BatchResult reports one dequeueBatch call.
type BatchResult struct {
	BatchID     string              `json:"batch_id"`
	Processed   int                 `json:"processed"`
	Successful  int                 `json:"successful"`
	Results     []syncer.SyncResult `json:"results"`
	Errors      []string            `json:"errors"`
	Remaining   int                 `json:"remaining"`
	BufferEmpty bool                `json:"buffer_empty"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

func (r BatchResult) EventKey() string { return r.BatchID }

type Buffer struct {
	state     state.Store
	syncer    Syncer
	registry  storage.SymbolRegistry
	counter   Counter
	publisher events.Publisher
	logger    *logrus.Logger
	lease     time.Duration
	now       func() time.Time
}

// Config tunes a Buffer. Zero values pick defaults.
type Config struct {
	Lease     time.Duration
	Publisher events.Publisher
	Now       func() time.Time
}

func New(st state.Store, s Syncer, registry storage.SymbolRegistry, counter Counter, logger *logrus.Logger, cfg Config) *Buffer {
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Buffer{
		state:     st,
		syncer:    s,
		registry:  registry,
		counter:   counter,
		publisher: cfg.Publisher,
		logger:    logger,
		lease:     cfg.Lease,
		now:       cfg.Now,
	}
}

func normalize(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !options.ValidTicker(s) {
		return "", fmt.Errorf("invalid symbol %q", symbol)
	}
	return s, nil
}

// Enqueue appends symbol unless it is already queued. It reports whether
// the queue changed.
func (b *Buffer) Enqueue(ctx context.Context, symbol string) (bool, error) {
	n, err := b.EnqueueMany(ctx, []string{symbol})
	return n == 1, err
}

// EnqueueMany appends the symbols not yet queued, in order, and returns how
// many were added.
func (b *Buffer) EnqueueMany(ctx context.Context, symbols []string) (int, error) {
	clean := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n, err := normalize(s)
		if err != nil {
			return 0, err
		}
		clean = append(clean, n)
	}

	added := 0
	_, err := b.state.UpdateQueue(ctx, func(queue []string) ([]string, error) {
		added = 0
		for _, s := range clean {
			if !slices.Contains(queue, s) {
				queue = append(queue, s)
				added++
			}
		}
		return queue, nil
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		b.logger.Infof("Added %d symbols to buffer", added)
	}
	return added, nil
}

// EnqueueMissing queues every registered symbol not already queued.
func (b *Buffer) EnqueueMissing(ctx context.Context) (int, error) {
	all, err := b.registry.List(ctx)
	if err != nil {
		return 0, err
	}
	return b.EnqueueMany(ctx, all)
}

// Remove drops symbol from the queue and reports whether it was there.
func (b *Buffer) Remove(ctx context.Context, symbol string) (bool, error) {
	s, err := normalize(symbol)
	if err != nil {
		return false, err
	}

	removed := false
	_, err = b.state.UpdateQueue(ctx, func(queue []string) ([]string, error) {
		i := slices.Index(queue, s)
		removed = i >= 0
		if !removed {
			return queue, nil
		}
		return slices.Delete(queue, i, i+1), nil
	})
	return removed, err
}

// Clear empties the queue.
func (b *Buffer) Clear(ctx context.Context) error {
	_, err := b.state.UpdateQueue(ctx, func([]string) ([]string, error) {
		return []string{}, nil
	})
	if err == nil {
		b.logger.Info("Buffer cleared")
	}
	return err
}

// Contents returns the queued symbols in FIFO order.
func (b *Buffer) Contents(ctx context.Context) ([]string, error) {
	q, err := b.state.LoadQueue(ctx)
	if q == nil && err == nil {
		q = []string{}
	}
	return q, err
}

func (b *Buffer) Len(ctx context.Context) (int, error) {
	q, err := b.state.LoadQueue(ctx)
	return len(q), err
}

// DequeueBatch syncs up to n symbols from the head of the queue. Each
// symbol is removed right after its own attempt, whatever the outcome.
// While another batch holds the lease it returns ErrAlreadyProcessing and
// leaves the queue untouched. The lease is renewed before every attempt, so
// only a single symbol's sync has to fit within it.
func (b *Buffer) DequeueBatch(ctx context.Context, n int) (BatchResult, error) {
	if n < 1 {
		n = 1
	}

	owner := uuid.NewString()
	ok, err := b.state.AcquireProcessing(ctx, owner, b.lease)
	if err != nil {
		return BatchResult{}, err
	}
	if !ok {
		return BatchResult{}, ErrAlreadyProcessing
	}
	defer func() {
		if err := b.state.ReleaseProcessing(context.WithoutCancel(ctx), owner); err != nil {
			b.logger.Errorf("Failed to release processing flag: %v", err)
		}
	}()

	result := BatchResult{
		BatchID:   owner,
		Results:   []syncer.SyncResult{},
		Errors:    []string{},
		StartedAt: b.now(),
	}

	queue, err := b.state.LoadQueue(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	if len(queue) > n {
		queue = queue[:n]
	}

	batchCtx := syncer.WithBatchID(ctx, owner)
	for _, symbol := range queue {
		held, err := b.state.RenewProcessing(ctx, owner, b.lease)
		if err == nil && !held {
			err = ErrLeaseLost
		}
		if err != nil {
			b.logger.Errorf("Stopping batch %s before %s: %v", owner, symbol, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", symbol, err))
			break
		}

		res := b.syncer.SyncSymbol(batchCtx, symbol)
		result.Results = append(result.Results, res)
		result.Processed++
		if res.Success {
			result.Successful++
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", symbol, res.Message))
		}

		if _, err := b.Remove(context.WithoutCancel(ctx), symbol); err != nil {
			b.logger.Errorf("Failed to remove %s from buffer: %v", symbol, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", symbol, err))
		}
	}

	if result.Processed > 0 {
		if err := b.state.SetTime(ctx, state.TimeLastBufferProcessed, b.now()); err != nil {
			b.logger.Warnf("Failed to record last processed time: %v", err)
		}
	}

	remaining, err := b.Len(ctx)
	if err != nil {
		return result, err
	}
	result.Remaining = remaining
	result.BufferEmpty = remaining == 0
	result.FinishedAt = b.now()

	b.logger.WithFields(logrus.Fields{
		"batch_id":   result.BatchID,
		"processed":  result.Processed,
		"successful": result.Successful,
		"remaining":  remaining,
	}).Info("Buffer batch processed")
	b.publisher.Publish(events.TopicBatchProcessed, result)
	return result, nil
}

// Info is the short buffer status.
type Info struct {
	Count         int        `json:"count"`
	IsProcessing  bool       `json:"is_processing"`
	LastProcessed *time.Time `json:"last_processed"`
}

func (b *Buffer) Info(ctx context.Context) (Info, error) {
	count, err := b.Len(ctx)
	if err != nil {
		return Info{}, err
	}
	processing, err := b.state.IsProcessing(ctx)
	if err != nil {
		return Info{}, err
	}
	info := Info{Count: count, IsProcessing: processing}

	last, ok, err := b.state.GetTime(ctx, state.TimeLastBufferProcessed)
	if err != nil {
		return Info{}, err
	}
	if ok {
		info.LastProcessed = &last
	}
	return info, nil
}

// Statistics compares the queue with the registry.
type Statistics struct {
	StocksInBuffer    int        `json:"stocks_in_buffer"`
	TotalStocks       int        `json:"total_stocks"`
	StocksNotInBuffer int        `json:"stocks_not_in_buffer"`
	IsProcessing      bool       `json:"is_processing"`
	LastProcessed     *time.Time `json:"last_processed"`
}

func (b *Buffer) Statistics(ctx context.Context) (Statistics, error) {
	info, err := b.Info(ctx)
	if err != nil {
		return Statistics{}, err
	}
	all, err := b.registry.List(ctx)
	if err != nil {
		return Statistics{}, err
	}
	queue, err := b.state.LoadQueue(ctx)
	if err != nil {
		return Statistics{}, err
	}

	missing := 0
	for _, s := range all {
		if !slices.Contains(queue, s) {
			missing++
		}
	}
	return Statistics{
		StocksInBuffer:    info.Count,
		TotalStocks:       len(all),
		StocksNotInBuffer: missing,
		IsProcessing:      info.IsProcessing,
		LastProcessed:     info.LastProcessed,
	}, nil
}

// Detail describes one queued symbol.
type Detail struct {
	Symbol       string `json:"symbol"`
	ExistsInDB   bool   `json:"exists_in_db"`
	OptionsCount int    `json:"options_count"`
}

func (b *Buffer) Details(ctx context.Context) ([]Detail, error) {
	queue, err := b.state.LoadQueue(ctx)
	if err != nil {
		return nil, err
	}

	details := make([]Detail, 0, len(queue))
	for _, s := range queue {
		exists, err := b.registry.Exists(ctx, s)
		if err != nil {
			return nil, err
		}
		d := Detail{Symbol: s, ExistsInDB: exists}
		if exists {
			if d.OptionsCount, err = b.counter.CountStrikes(ctx, s); err != nil {
				return nil, err
			}
		}
		details = append(details, d)
	}
	return details, nil
}
