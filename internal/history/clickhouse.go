// Package history keeps an append-only log of sync attempts in ClickHouse.
package history

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/navid-fn/optionsradar/internal/storage/models"
)

// Sink persists sync runs. Implementations must be safe for concurrent use.
type Sink interface {
	// InsertRuns writes a batch of runs.
	InsertRuns(ctx context.Context, runs []*models.SyncRun) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases connection resources.
	Close() error
}

// clickhouseSink writes sync_runs with the native batch API.
type clickhouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink parses the DSN, opens a connection and pings it.
func NewClickHouseSink(dsn string) (Sink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}

	return &clickhouseSink{conn: conn}, nil
}

// InsertRuns appends every run to one batch; all rows share inserted_at.
func (s *clickhouseSink) InsertRuns(ctx context.Context, runs []*models.SyncRun) error {
	if len(runs) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO sync_runs (
			run_id, batch_id, symbol, success,
			message, processed, errors,
			synced_at, inserted_at
		)
	`)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, r := range runs {
		err := batch.Append(
			r.RunID,
			r.BatchID,
			r.Symbol,
			r.Success,
			r.Message,
			r.Processed,
			r.Errors,
			r.SyncedAt,
			now,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (s *clickhouseSink) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *clickhouseSink) Close() error {
	return s.conn.Close()
}
