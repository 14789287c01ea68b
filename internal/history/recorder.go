package history

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/storage/models"
	"github.com/navid-fn/optionsradar/internal/syncer"
)

// Config holds recorder batching parameters.
type Config struct {
	// BatchSize is the maximum number of runs to accumulate before flushing.
	BatchSize int

	// BatchTimeout is the maximum time to wait before flushing, even if the
	// batch isn't full.
	BatchTimeout time.Duration

	// QueueSize bounds runs waiting for the loop; beyond it runs are dropped.
	QueueSize int

	// RetryDelay is the pause between failed inserts.
	RetryDelay time.Duration
}

// Recorder receives sync results from the event bus and writes them to a
// Sink in batches.
type Recorder struct {
	sink   Sink
	logger *logrus.Logger
	cfg    Config
	runs   chan *models.SyncRun
}

func NewRecorder(sink Sink, logger *logrus.Logger, cfg Config) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.BatchSize * 4
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Recorder{
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		runs:   make(chan *models.SyncRun, cfg.QueueSize),
	}
}

// Handle is the event bus callback for sync results. It never blocks.
func (r *Recorder) Handle(payload any) {
	res, ok := payload.(syncer.SyncResult)
	if !ok {
		return
	}

	run := &models.SyncRun{
		RunID:     res.RunID,
		BatchID:   res.BatchID,
		Symbol:    res.Symbol,
		Success:   res.Success,
		Message:   res.Message,
		Processed: uint32(res.Processed),
		Errors:    res.Errors,
		SyncedAt:  res.Timestamp,
	}
	select {
	case r.runs <- run:
	default:
		r.logger.Warnf("History queue full, dropping run %s for %s", res.RunID, res.Symbol)
	}
}

// Start runs the batching loop until ctx is cancelled, then flushes what is
// left once more.
func (r *Recorder) Start(ctx context.Context) error {
	r.logger.Infof("Starting history recorder, batch size %d", r.cfg.BatchSize)

	batch := make([]*models.SyncRun, 0, r.cfg.BatchSize)
	ticker := time.NewTicker(r.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func(ctx context.Context) error {
		if len(batch) == 0 {
			return nil
		}

		for {
			err := r.sink.InsertRuns(ctx, batch)
			if err == nil {
				break
			}
			r.logger.Errorf("History insert failed (retrying in %s): %v", r.cfg.RetryDelay, err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.RetryDelay):
			}
		}

		batch = batch[:0]
		ticker.Reset(r.cfg.BatchTimeout)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
		pending:
			for {
				select {
				case run := <-r.runs:
					batch = append(batch, run)
				default:
					break pending
				}
			}
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.BatchTimeout)
			defer cancel()
			if err := flush(flushCtx); err != nil {
				r.logger.Errorf("Dropped %d history rows on shutdown: %v", len(batch), err)
			}
			return nil

		case <-ticker.C:
			if err := flush(ctx); err != nil {
				return nil
			}

		case run := <-r.runs:
			batch = append(batch, run)
			if len(batch) >= r.cfg.BatchSize {
				if err := flush(ctx); err != nil {
					return nil
				}
			}
		}
	}
}
