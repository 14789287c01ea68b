package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/buffer"
	"github.com/navid-fn/optionsradar/internal/cleaner"
	"github.com/navid-fn/optionsradar/internal/scheduler"
	"github.com/navid-fn/optionsradar/internal/state"
	"github.com/navid-fn/optionsradar/internal/storage"
	"github.com/navid-fn/optionsradar/internal/syncer"
)

// SymbolChecker asks the upstream whether it lists a symbol.
type SymbolChecker interface {
	SymbolExists(ctx context.Context, symbol string) (bool, error)
}

// AdminService backs the privileged endpoints.
type AdminService struct {
	registry  storage.SymbolRegistry
	checker   SymbolChecker
	syncer    *syncer.Coordinator
	buffer    *buffer.Buffer
	scheduler *scheduler.Scheduler
	cleaner   *cleaner.Cleaner
	logger    *logrus.Logger
}

func NewAdminService(
	registry storage.SymbolRegistry,
	checker SymbolChecker,
	coordinator *syncer.Coordinator,
	buf *buffer.Buffer,
	sched *scheduler.Scheduler,
	gc *cleaner.Cleaner,
	logger *logrus.Logger,
) *AdminService {
	return &AdminService{
		registry:  registry,
		checker:   checker,
		syncer:    coordinator,
		buffer:    buf,
		scheduler: sched,
		cleaner:   gc,
		logger:    logger,
	}
}

type AddSymbolResult struct {
	Symbol   string `json:"symbol"`
	Enqueued bool   `json:"enqueued"`
}

// AddSymbol registers a ticker CBOE publishes a chain for and, when asked,
// queues it for the next drain.
func (s *AdminService) AddSymbol(ctx context.Context, raw string, enqueue bool) (AddSymbolResult, error) {
	symbol, err := normalizeSymbol(raw)
	if err != nil {
		return AddSymbolResult{}, err
	}

	exists, err := s.registry.Exists(ctx, symbol)
	if err != nil {
		return AddSymbolResult{}, internalError(err)
	}
	if exists {
		return AddSymbolResult{}, newError(CodeStockExists, "Stock %s already exists", symbol)
	}

	listed, err := s.checker.SymbolExists(ctx, symbol)
	if err != nil {
		return AddSymbolResult{}, &Error{Code: CodeInternal, Message: "Failed to reach CBOE: " + err.Error(), Err: err}
	}
	if !listed {
		return AddSymbolResult{}, newError(CodeNotInCBOE, "Stock %s not found in CBOE", symbol)
	}

	if err := s.registry.Register(ctx, symbol); err != nil {
		if errors.Is(err, storage.ErrSymbolExists) {
			return AddSymbolResult{}, newError(CodeStockExists, "Stock %s already exists", symbol)
		}
		return AddSymbolResult{}, internalError(err)
	}
	s.logger.WithField("symbol", symbol).Info("Symbol registered")

	result := AddSymbolResult{Symbol: symbol}
	if enqueue {
		if result.Enqueued, err = s.buffer.Enqueue(ctx, symbol); err != nil {
			return result, internalError(err)
		}
	}
	return result, nil
}

// Sync runs one synchronous sync. The returned error is only set for input
// that never reached the coordinator; sync failures live in the result.
func (s *AdminService) Sync(ctx context.Context, raw string) (syncer.SyncResult, error) {
	symbol, err := normalizeSymbol(raw)
	if err != nil {
		return syncer.SyncResult{}, err
	}
	return s.syncer.SyncSymbol(ctx, symbol), nil
}

func (s *AdminService) SyncStatus(ctx context.Context, raw string) (syncer.SyncStatus, error) {
	symbol, err := normalizeSymbol(raw)
	if err != nil {
		return syncer.SyncStatus{}, err
	}
	status, err := s.syncer.Status(ctx, symbol)
	if err != nil {
		return status, internalError(err)
	}
	if !status.Exists {
		return status, newError(CodeStockNotFound, "Stock %s not found", symbol)
	}
	return status, nil
}

func (s *AdminService) TriggerRefill(ctx context.Context) (scheduler.RefillResult, error) {
	res, err := s.scheduler.TriggerRefill(ctx)
	if err != nil {
		return res, internalError(err)
	}
	return res, nil
}

func drainError(err error) error {
	if errors.Is(err, buffer.ErrAlreadyProcessing) {
		return &Error{Code: CodeAlreadyProcessing, Message: "Buffer is already being processed", Err: err}
	}
	return internalError(err)
}

func (s *AdminService) TriggerDrainOnce(ctx context.Context) (buffer.BatchResult, error) {
	res, err := s.scheduler.TriggerDrainOnce(ctx)
	if err != nil {
		return res, drainError(err)
	}
	return res, nil
}

func (s *AdminService) ForceDrainNow(ctx context.Context) (buffer.BatchResult, error) {
	res, err := s.scheduler.ForceDrainNow(ctx)
	if err != nil {
		return res, drainError(err)
	}
	return res, nil
}

func (s *AdminService) CancelNextRefill(ctx context.Context) bool {
	return s.scheduler.CancelNextRefill(ctx)
}

func (s *AdminService) CancelNextDrain(ctx context.Context) bool {
	return s.scheduler.CancelNextDrain(ctx)
}

// BufferStatus combines the queue statistics with per-symbol details.
type BufferStatus struct {
	buffer.Statistics
	Details []buffer.Detail `json:"details"`
}

func (s *AdminService) BufferStatus(ctx context.Context) (BufferStatus, error) {
	stats, err := s.buffer.Statistics(ctx)
	if err != nil {
		return BufferStatus{}, internalError(err)
	}
	details, err := s.buffer.Details(ctx)
	if err != nil {
		return BufferStatus{}, internalError(err)
	}
	return BufferStatus{Statistics: stats, Details: details}, nil
}

func (s *AdminService) BufferContents(ctx context.Context) ([]string, error) {
	q, err := s.buffer.Contents(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	return q, nil
}

func (s *AdminService) ClearBuffer(ctx context.Context) error {
	if err := s.buffer.Clear(ctx); err != nil {
		return internalError(err)
	}
	return nil
}

// EnqueueMissing queues every registered symbol not already waiting.
func (s *AdminService) EnqueueMissing(ctx context.Context) (int, error) {
	n, err := s.buffer.EnqueueMissing(ctx)
	if err != nil {
		return 0, internalError(err)
	}
	return n, nil
}

func (s *AdminService) ScheduleStatus(ctx context.Context) (scheduler.Status, error) {
	st, err := s.scheduler.Status(ctx)
	if err != nil {
		return st, internalError(err)
	}
	return st, nil
}

func (s *AdminService) SetRefillSchedule(ctx context.Context, raw string) (scheduler.Schedule, error) {
	schedule, err := s.scheduler.SetRefillSchedule(ctx, raw)
	if errors.Is(err, scheduler.ErrInvalidSchedule) {
		return "", &Error{Code: CodeInvalidSchedule, Message: err.Error(), Err: err}
	}
	if err != nil {
		return "", internalError(err)
	}
	return schedule, nil
}

func (s *AdminService) SetBatchSize(ctx context.Context, n int) error {
	err := s.scheduler.SetBatchSize(ctx, n)
	if errors.Is(err, scheduler.ErrInvalidBatchSize) {
		return &Error{Code: CodeInvalidBatchSize, Message: err.Error(), Err: err}
	}
	if err != nil {
		return internalError(err)
	}
	return nil
}

func (s *AdminService) Logs(ctx context.Context, n int) ([]state.LogEntry, error) {
	logs, err := s.scheduler.RecentLogs(ctx, n)
	if err != nil {
		return nil, internalError(err)
	}
	if logs == nil {
		logs = []state.LogEntry{}
	}
	return logs, nil
}

func (s *AdminService) ClearLogs(ctx context.Context) error {
	if err := s.scheduler.ClearLogs(ctx); err != nil {
		return internalError(err)
	}
	return nil
}

// Cleanup runs garbage collection now. With start and end set it deletes
// the records expiring in that inclusive YYMMDD range instead.
func (s *AdminService) Cleanup(ctx context.Context, start, end string) (cleaner.CleanupResult, error) {
	if start == "" && end == "" {
		return s.scheduler.TriggerCleanup(ctx), nil
	}
	res, err := s.cleaner.CleanByDateRange(ctx, start, end)
	if errors.Is(err, cleaner.ErrInvalidDateRange) {
		return res, &Error{Code: CodeInvalidDateRange, Message: err.Error(), Err: err}
	}
	if err != nil {
		return res, internalError(err)
	}
	return res, nil
}

func (s *AdminService) CleanupStatistics(ctx context.Context) (cleaner.Statistics, error) {
	stats, err := s.cleaner.Statistics(ctx)
	if err != nil {
		return stats, internalError(err)
	}
	return stats, nil
}
