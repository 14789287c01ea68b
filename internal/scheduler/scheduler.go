// Package scheduler owns the refill, drain and cleanup triggers.
//
// Refill enqueues every registered symbol and makes sure a drain is pending.
// Drain processes one batch and, while symbols remain, re-arms itself, so at
// most one batch is ever in flight. Cleanup runs the garbage collector on a
// fixed interval. Every trigger can be cancelled or reconfigured; a batch
// that already started always runs to completion.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/buffer"
	"github.com/navid-fn/optionsradar/internal/cleaner"
	"github.com/navid-fn/optionsradar/internal/events"
	"github.com/navid-fn/optionsradar/internal/state"
	"github.com/navid-fn/optionsradar/internal/storage"
)

const (
	DefaultInitialDrainDelay = 30 * time.Second
	DefaultDrainDelay        = 60 * time.Second
	DefaultCleanupInterval   = 24 * time.Hour
)

// Trigger names recorded in the run log.
const (
	TriggerRefill     = "refill"
	TriggerDrain      = "drain"
	TriggerForceDrain = "force_drain"
	TriggerCleanup    = "cleanup"
	TriggerSettings   = "settings"
)

// Queue is the buffer surface the scheduler drives.
type Queue interface {
	EnqueueMany(ctx context.Context, symbols []string) (int, error)
	DequeueBatch(ctx context.Context, n int) (buffer.BatchResult, error)
	Len(ctx context.Context) (int, error)
}

// Cleaner runs garbage collection over all symbols.
type Cleaner interface {
	CleanAll(ctx context.Context) cleaner.CleanupResult
}

type Config struct {
	DefaultSchedule   Schedule
	DefaultBatchSize  int
	InitialDrainDelay time.Duration
	DrainDelay        time.Duration
	CleanupInterval   time.Duration
	Clock             Clock
	Publisher         events.Publisher
}

type trigger struct {
	timer Timer
	seq   uint64
	next  time.Time
}

type Scheduler struct {
	state    state.Store
	queue    Queue
	registry storage.SymbolRegistry
	cleaner  Cleaner
	logger   *logrus.Logger
	cfg      Config

	mu        sync.Mutex
	ctx       context.Context
	running   bool
	refilling bool
	refill    trigger
	drain     trigger
	cleanup   trigger
}

func New(st state.Store, queue Queue, registry storage.SymbolRegistry, gc Cleaner, logger *logrus.Logger, cfg Config) *Scheduler {
	if _, err := ParseSchedule(string(cfg.DefaultSchedule)); err != nil {
		cfg.DefaultSchedule = Never
	}
	if ValidateBatchSize(cfg.DefaultBatchSize) != nil {
		cfg.DefaultBatchSize = DefaultBatchSize
	}
	if cfg.InitialDrainDelay <= 0 {
		cfg.InitialDrainDelay = DefaultInitialDrainDelay
	}
	if cfg.DrainDelay <= 0 {
		cfg.DrainDelay = DefaultDrainDelay
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	return &Scheduler{
		state:    st,
		queue:    queue,
		registry: registry,
		cleaner:  gc,
		logger:   logger,
		cfg:      cfg,
		ctx:      context.Background(),
	}
}

// Start arms the refill and cleanup triggers and resumes draining a queue
// left over from a previous run.
func (s *Scheduler) Start(ctx context.Context) {
	schedule := s.RefillSchedule(ctx)

	s.mu.Lock()
	s.ctx = ctx
	s.running = true
	s.armRefillLocked(schedule)
	s.arm(&s.cleanup, s.cfg.CleanupInterval, s.onCleanup)
	s.mu.Unlock()

	if n, err := s.queue.Len(ctx); err == nil && n > 0 {
		s.ensureDrain(s.cfg.InitialDrainDelay)
	}
	s.logger.Infof("Scheduler started: refill %s, cleanup every %s", schedule, s.cfg.CleanupInterval)
}

// Stop cancels every pending trigger. Running callbacks finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.disarm(&s.refill)
	s.disarm(&s.drain)
	s.disarm(&s.cleanup)
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(t *trigger, d time.Duration, fn func()) {
	s.disarm(t)
	seq := t.seq
	t.next = s.cfg.Clock.Now().Add(d)
	t.timer = s.cfg.Clock.AfterFunc(d, func() {
		s.mu.Lock()
		if !s.running || t.seq != seq {
			s.mu.Unlock()
			return
		}
		t.timer = nil
		t.next = time.Time{}
		s.mu.Unlock()
		fn()
	})
}

// disarm must be called with s.mu held.
func (s *Scheduler) disarm(t *trigger) bool {
	t.seq++
	t.next = time.Time{}
	if t.timer == nil {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	return true
}

func (s *Scheduler) armRefillLocked(schedule Schedule) {
	s.disarm(&s.refill)
	if iv := schedule.Interval(); iv > 0 {
		s.arm(&s.refill, iv, s.onRefill)
	}
}

// ensureDrain arms a drain after d unless one is already pending.
func (s *Scheduler) ensureDrain(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.drain.timer != nil {
		return false
	}
	s.arm(&s.drain, d, s.onDrain)
	return true
}

func (s *Scheduler) record(ctx context.Context, trigger, level, message string) {
	entry := s.logger.WithField("trigger", trigger)
	switch level {
	case "error":
		entry.Error(message)
	case "warning":
		entry.Warn(message)
	default:
		entry.Info(message)
	}

	err := s.state.AppendLog(context.WithoutCancel(ctx), state.LogEntry{
		Time:    s.cfg.Clock.Now(),
		Trigger: trigger,
		Level:   level,
		Message: message,
	})
	if err != nil {
		s.logger.Warnf("Failed to append run log: %v", err)
	}
}

// onRefill re-arms the next refill unless the trigger was cancelled or
// replaced while this one ran.
func (s *Scheduler) onRefill() {
	ctx := s.context()
	s.mu.Lock()
	seq := s.refill.seq
	s.refilling = true
	s.mu.Unlock()

	_, _ = s.TriggerRefill(ctx)

	schedule := s.RefillSchedule(ctx)
	s.mu.Lock()
	s.refilling = false
	if s.running && s.refill.timer == nil && s.refill.seq == seq {
		s.armRefillLocked(schedule)
	}
	s.mu.Unlock()
}

func (s *Scheduler) onDrain() {
	_, _ = s.TriggerDrainOnce(s.context())
}

func (s *Scheduler) onCleanup() {
	ctx := s.context()
	s.TriggerCleanup(ctx)

	s.mu.Lock()
	if s.running && s.cleanup.timer == nil {
		s.arm(&s.cleanup, s.cfg.CleanupInterval, s.onCleanup)
	}
	s.mu.Unlock()
}

// RefillResult reports one refill.
type RefillResult struct {
	Added        int  `json:"added"`
	Total        int  `json:"total"`
	DrainPending bool `json:"drain_pending"`
}

// TriggerRefill enqueues every registered symbol and ensures a drain is
// pending.
func (s *Scheduler) TriggerRefill(ctx context.Context) (RefillResult, error) {
	symbols, err := s.registry.List(ctx)
	if err != nil {
		s.record(ctx, TriggerRefill, "error", fmt.Sprintf("Failed to list symbols: %v", err))
		return RefillResult{}, err
	}

	added, err := s.queue.EnqueueMany(ctx, symbols)
	if err != nil {
		s.record(ctx, TriggerRefill, "error", fmt.Sprintf("Failed to refill buffer: %v", err))
		return RefillResult{}, err
	}
	if err := s.state.SetTime(ctx, state.TimeLastRefill, s.cfg.Clock.Now()); err != nil {
		s.logger.Warnf("Failed to record refill time: %v", err)
	}
	s.record(ctx, TriggerRefill, "info", fmt.Sprintf("Added %d of %d symbols to buffer", added, len(symbols)))

	s.ensureDrain(s.cfg.InitialDrainDelay)
	return RefillResult{Added: added, Total: len(symbols), DrainPending: s.drainPending()}, nil
}

func (s *Scheduler) drainPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drain.timer != nil
}

// TriggerDrainOnce processes one batch and keeps the chain going while
// symbols remain.
func (s *Scheduler) TriggerDrainOnce(ctx context.Context) (buffer.BatchResult, error) {
	res, err := s.queue.DequeueBatch(ctx, s.BatchSize(ctx))
	if errors.Is(err, buffer.ErrAlreadyProcessing) {
		s.record(ctx, TriggerDrain, "warning", "Buffer is already being processed")
		s.ensureDrain(s.cfg.DrainDelay)
		return res, err
	}
	if err != nil {
		s.record(ctx, TriggerDrain, "error", fmt.Sprintf("Drain failed: %v", err))
		s.ensureDrain(s.cfg.DrainDelay)
		return res, err
	}

	s.record(ctx, TriggerDrain, "info", fmt.Sprintf("Processed %d symbols (%d successful), %d remaining",
		res.Processed, res.Successful, res.Remaining))
	if !res.BufferEmpty {
		s.ensureDrain(s.cfg.DrainDelay)
	} else {
		s.cfg.Publisher.Publish(events.TopicBufferEmpty, events.BufferEmpty{Time: s.cfg.Clock.Now()})
	}
	return res, nil
}

// ForceDrainNow processes one batch immediately without scheduling a
// follow-up.
func (s *Scheduler) ForceDrainNow(ctx context.Context) (buffer.BatchResult, error) {
	res, err := s.queue.DequeueBatch(ctx, s.BatchSize(ctx))
	if err != nil {
		level := "error"
		if errors.Is(err, buffer.ErrAlreadyProcessing) {
			level = "warning"
		}
		s.record(ctx, TriggerForceDrain, level, err.Error())
		return res, err
	}
	s.record(ctx, TriggerForceDrain, "info", fmt.Sprintf("Processed %d symbols (%d successful), %d remaining",
		res.Processed, res.Successful, res.Remaining))
	return res, nil
}

// TriggerCleanup runs garbage collection now.
func (s *Scheduler) TriggerCleanup(ctx context.Context) cleaner.CleanupResult {
	res := s.cleaner.CleanAll(ctx)
	if err := s.state.SetTime(ctx, state.TimeLastCleanup, s.cfg.Clock.Now()); err != nil {
		s.logger.Warnf("Failed to record cleanup time: %v", err)
	}

	level := "info"
	if len(res.Errors) > 0 {
		level = "warning"
	}
	s.record(ctx, TriggerCleanup, level, fmt.Sprintf("Deleted %d options across %d symbols, %d errors",
		res.Deleted, res.Processed, len(res.Errors)))
	return res
}

// RefillSchedule returns the persisted schedule, or the configured default.
func (s *Scheduler) RefillSchedule(ctx context.Context) Schedule {
	raw, ok, err := s.state.GetSetting(ctx, state.SettingRefillSchedule)
	if err != nil || !ok {
		return s.cfg.DefaultSchedule
	}
	schedule, err := ParseSchedule(raw)
	if err != nil {
		return s.cfg.DefaultSchedule
	}
	return schedule
}

// SetRefillSchedule persists the schedule and replaces the pending refill.
func (s *Scheduler) SetRefillSchedule(ctx context.Context, raw string) (Schedule, error) {
	schedule, err := ParseSchedule(raw)
	if err != nil {
		return "", err
	}
	if err := s.state.SetSetting(ctx, state.SettingRefillSchedule, string(schedule)); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.running {
		s.armRefillLocked(schedule)
	}
	s.mu.Unlock()

	s.record(ctx, TriggerSettings, "info", fmt.Sprintf("Refill schedule set to %s", schedule))
	return schedule, nil
}

// BatchSize returns the persisted drain batch size, or the configured
// default when unset or out of range.
func (s *Scheduler) BatchSize(ctx context.Context) int {
	raw, ok, err := s.state.GetSetting(ctx, state.SettingBatchSize)
	if err != nil || !ok {
		return s.cfg.DefaultBatchSize
	}
	n, err := strconv.Atoi(raw)
	if err != nil || ValidateBatchSize(n) != nil {
		return s.cfg.DefaultBatchSize
	}
	return n
}

func (s *Scheduler) SetBatchSize(ctx context.Context, n int) error {
	if err := ValidateBatchSize(n); err != nil {
		return err
	}
	if err := s.state.SetSetting(ctx, state.SettingBatchSize, strconv.Itoa(n)); err != nil {
		return err
	}
	s.record(ctx, TriggerSettings, "info", fmt.Sprintf("Batch size set to %d", n))
	return nil
}

// CancelNextRefill drops the pending refill. It stays cancelled until the
// schedule is set again or the process restarts.
func (s *Scheduler) CancelNextRefill(ctx context.Context) bool {
	s.mu.Lock()
	cancelled := s.disarm(&s.refill) || s.refilling
	s.mu.Unlock()

	if cancelled {
		s.record(ctx, TriggerRefill, "info", "Next refill cancelled")
	}
	return cancelled
}

// CancelNextDrain drops the pending drain; an in-flight batch is unaffected.
func (s *Scheduler) CancelNextDrain(ctx context.Context) bool {
	s.mu.Lock()
	cancelled := s.disarm(&s.drain)
	s.mu.Unlock()

	if cancelled {
		s.record(ctx, TriggerDrain, "info", "Next drain cancelled")
	}
	return cancelled
}

type Status struct {
	Running        bool       `json:"running"`
	RefillSchedule Schedule   `json:"refill_schedule"`
	BatchSize      int        `json:"batch_size"`
	NextRefill     *time.Time `json:"next_refill"`
	NextDrain      *time.Time `json:"next_drain"`
	NextCleanup    *time.Time `json:"next_cleanup"`
	LastRefill     *time.Time `json:"last_refill"`
	LastCleanup    *time.Time `json:"last_cleanup"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	st := Status{
		RefillSchedule: s.RefillSchedule(ctx),
		BatchSize:      s.BatchSize(ctx),
	}

	s.mu.Lock()
	st.Running = s.running
	st.NextRefill = timePtr(s.refill.next)
	st.NextDrain = timePtr(s.drain.next)
	st.NextCleanup = timePtr(s.cleanup.next)
	s.mu.Unlock()

	if t, ok, err := s.state.GetTime(ctx, state.TimeLastRefill); err != nil {
		return st, err
	} else if ok {
		st.LastRefill = &t
	}
	if t, ok, err := s.state.GetTime(ctx, state.TimeLastCleanup); err != nil {
		return st, err
	} else if ok {
		st.LastCleanup = &t
	}
	return st, nil
}

// RecentLogs returns up to n run log entries, newest first.
func (s *Scheduler) RecentLogs(ctx context.Context, n int) ([]state.LogEntry, error) {
	return s.state.RecentLogs(ctx, n)
}

func (s *Scheduler) ClearLogs(ctx context.Context) error {
	return s.state.ClearLogs(ctx)
}
