package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/navid-fn/optionsradar/internal/buffer"
	"github.com/navid-fn/optionsradar/internal/cleaner"
	"github.com/navid-fn/optionsradar/internal/events"
	"github.com/navid-fn/optionsradar/internal/logger"
	"github.com/navid-fn/optionsradar/internal/state"
	"github.com/navid-fn/optionsradar/internal/storage"
	"github.com/navid-fn/optionsradar/internal/syncer"
)

// fakeClock fires callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	when  time.Time
	fn    func()
	done  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.done
	t.done = true
	return wasPending
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].when.Before(c.timers[j].when) })
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.done && !t.when.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			break
		}
		next.done = true
		c.now = next.when
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

type recordingSyncer struct {
	mu     sync.Mutex
	synced []string
}

func (r *recordingSyncer) SyncSymbol(_ context.Context, symbol string) syncer.SyncResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = append(r.synced, symbol)
	return syncer.SyncResult{Symbol: symbol, Success: true, Processed: 1}
}

func (r *recordingSyncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.synced)
}

type countingCleaner struct {
	mu   sync.Mutex
	runs int
}

func (c *countingCleaner) CleanAll(context.Context) cleaner.CleanupResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	return cleaner.CleanupResult{Success: true, Errors: []string{}}
}

type topicCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (p *topicCounter) Publish(topic string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[topic]++
}

type fixture struct {
	clock   *fakeClock
	state   *state.MemoryStore
	buf     *buffer.Buffer
	sync    *recordingSyncer
	cleaner *countingCleaner
	pub     *topicCounter
	sched   *Scheduler
}

func newFixture(tickers ...string) *fixture {
	f := &fixture{
		clock:   newFakeClock(),
		sync:    &recordingSyncer{},
		cleaner: &countingCleaner{},
		pub:     &topicCounter{counts: map[string]int{}},
	}
	f.state = state.NewMemoryStore(f.clock.Now)
	registry := storage.NewMemoryRegistry(tickers...)
	f.buf = buffer.New(f.state, f.sync, registry, nil, logger.Discard(), buffer.Config{Now: f.clock.Now})
	f.sched = New(f.state, f.buf, registry, f.cleaner, logger.Discard(), Config{
		DefaultSchedule:  Never,
		DefaultBatchSize: 5,
		Clock:            f.clock,
		Publisher:        f.pub,
	})
	return f
}

func TestDrainChainsUntilBufferEmpty(t *testing.T) {
	f := newFixture("AAPL", "BXMT", "LMT")
	ctx := context.Background()
	f.sched.Start(ctx)
	defer f.sched.Stop()

	if err := f.sched.SetBatchSize(ctx, 1); err != nil {
		t.Fatal(err)
	}
	res, err := f.sched.TriggerRefill(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 3 || !res.DrainPending {
		t.Fatalf("Expected 3 added with drain pending, got %+v", res)
	}

	f.clock.Advance(DefaultInitialDrainDelay - time.Second)
	if f.sync.count() != 0 {
		t.Fatalf("Expected no drain before the initial delay, got %d syncs", f.sync.count())
	}

	f.clock.Advance(time.Second)
	if f.sync.count() != 1 {
		t.Fatalf("Expected first batch after initial delay, got %d syncs", f.sync.count())
	}

	f.clock.Advance(DefaultDrainDelay)
	f.clock.Advance(DefaultDrainDelay)
	if f.sync.count() != 3 {
		t.Fatalf("Expected 3 syncs after the chain, got %d", f.sync.count())
	}

	st, _ := f.sched.Status(ctx)
	if st.NextDrain != nil {
		t.Errorf("Expected no drain pending once empty, got %v", st.NextDrain)
	}
	if f.pub.counts[events.TopicBufferEmpty] != 1 {
		t.Errorf("Expected one buffer empty event, got %d", f.pub.counts[events.TopicBufferEmpty])
	}

	f.clock.Advance(10 * DefaultDrainDelay)
	if f.sync.count() != 3 {
		t.Errorf("Expected chain to stop, got %d syncs", f.sync.count())
	}
}

func TestRefillDoesNotStackDrains(t *testing.T) {
	f := newFixture("LMT", "BXMT")
	ctx := context.Background()
	f.sched.Start(ctx)
	defer f.sched.Stop()

	_, _ = f.sched.TriggerRefill(ctx)
	_, _ = f.sched.TriggerRefill(ctx)

	f.clock.Advance(DefaultInitialDrainDelay)
	if f.sync.count() != 2 {
		t.Errorf("Expected a single batch of 2, got %d syncs", f.sync.count())
	}
}

func TestRefillScheduleRearms(t *testing.T) {
	f := newFixture("LMT")
	ctx := context.Background()
	f.sched.Start(ctx)
	defer f.sched.Stop()

	if _, err := f.sched.SetRefillSchedule(ctx, "hourly"); err != nil {
		t.Fatal(err)
	}
	st, _ := f.sched.Status(ctx)
	if st.NextRefill == nil || !st.NextRefill.Equal(f.clock.Now().Add(time.Hour)) {
		t.Fatalf("Expected refill in an hour, got %v", st.NextRefill)
	}

	f.clock.Advance(time.Hour)
	if n, _ := f.buf.Len(ctx); n != 1 {
		t.Errorf("Expected LMT queued by refill, got %d", n)
	}
	st, _ = f.sched.Status(ctx)
	if st.NextRefill == nil || st.LastRefill == nil {
		t.Errorf("Expected refill re-armed and recorded, got %+v", st)
	}

	if _, err := f.sched.SetRefillSchedule(ctx, "never"); err != nil {
		t.Fatal(err)
	}
	st, _ = f.sched.Status(ctx)
	if st.NextRefill != nil {
		t.Errorf("Expected no refill for never, got %v", st.NextRefill)
	}
}

func TestCancelNextRefillAndDrain(t *testing.T) {
	f := newFixture("LMT")
	ctx := context.Background()
	f.sched.Start(ctx)
	defer f.sched.Stop()

	_, _ = f.sched.SetRefillSchedule(ctx, "every_15_minutes")
	if !f.sched.CancelNextRefill(ctx) {
		t.Error("Expected a pending refill to cancel")
	}
	if f.sched.CancelNextRefill(ctx) {
		t.Error("Expected nothing left to cancel")
	}

	_, _ = f.buf.Enqueue(ctx, "LMT")
	_, _ = f.sched.TriggerDrainOnce(ctx)
	_, _ = f.buf.Enqueue(ctx, "LMT")
	if !f.sched.ensureDrain(time.Minute) {
		t.Fatal("Expected drain to be armed")
	}
	if !f.sched.CancelNextDrain(ctx) {
		t.Error("Expected a pending drain to cancel")
	}

	f.clock.Advance(24 * time.Hour)
	if f.sync.count() != 1 {
		t.Errorf("Expected no further syncs after cancellation, got %d", f.sync.count())
	}
}

// listHook runs onList before every List call.
type listHook struct {
	storage.SymbolRegistry
	onList func()
}

func (r *listHook) List(ctx context.Context) ([]string, error) {
	if r.onList != nil {
		r.onList()
	}
	return r.SymbolRegistry.List(ctx)
}

func TestCancelNextRefillDuringRefill(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	st := state.NewMemoryStore(clock.Now)
	registry := &listHook{SymbolRegistry: storage.NewMemoryRegistry("LMT")}
	buf := buffer.New(st, &recordingSyncer{}, registry, nil, logger.Discard(), buffer.Config{Now: clock.Now})
	sched := New(st, buf, registry, &countingCleaner{}, logger.Discard(), Config{
		DefaultSchedule:  Never,
		DefaultBatchSize: 5,
		Clock:            clock,
	})
	sched.Start(ctx)
	defer sched.Stop()

	if _, err := sched.SetRefillSchedule(ctx, "hourly"); err != nil {
		t.Fatal(err)
	}

	var cancelled bool
	registry.onList = func() {
		registry.onList = nil
		cancelled = sched.CancelNextRefill(ctx)
	}
	clock.Advance(time.Hour)

	if !cancelled {
		t.Error("Expected cancel during a running refill to report success")
	}
	status, _ := sched.Status(ctx)
	if status.NextRefill != nil {
		t.Errorf("Expected no refill re-armed after cancel, got %v", status.NextRefill)
	}
}

func TestDrainRetriesWhileProcessing(t *testing.T) {
	f := newFixture("LMT")
	ctx := context.Background()
	f.sched.Start(ctx)
	defer f.sched.Stop()

	_, _ = f.buf.Enqueue(ctx, "LMT")
	_, _ = f.state.AcquireProcessing(ctx, "other", time.Hour)

	_, err := f.sched.TriggerDrainOnce(ctx)
	if !errors.Is(err, buffer.ErrAlreadyProcessing) {
		t.Fatalf("Expected ErrAlreadyProcessing, got %v", err)
	}
	if n, _ := f.buf.Len(ctx); n != 1 {
		t.Errorf("Expected queue untouched, got %d", n)
	}

	_ = f.state.ReleaseProcessing(ctx, "other")
	f.clock.Advance(DefaultDrainDelay)
	if f.sync.count() != 1 {
		t.Errorf("Expected retry drain to sync LMT, got %d", f.sync.count())
	}
}

func TestForceDrainNowDoesNotChain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.sched.Start(ctx)
	defer f.sched.Stop()

	_ = f.sched.SetBatchSize(ctx, 1)
	_, _ = f.buf.EnqueueMany(ctx, []string{"LMT", "BXMT"})

	res, err := f.sched.ForceDrainNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.Remaining != 1 {
		t.Errorf("Expected 1 processed and 1 remaining, got %+v", res)
	}
	st, _ := f.sched.Status(ctx)
	if st.NextDrain != nil {
		t.Errorf("Expected no follow-up drain, got %v", st.NextDrain)
	}
}

func TestStartResumesLeftoverQueue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.buf.Enqueue(ctx, "LMT")

	f.sched.Start(ctx)
	defer f.sched.Stop()

	st, _ := f.sched.Status(ctx)
	if st.NextDrain == nil {
		t.Fatal("Expected drain armed for leftover queue")
	}
	f.clock.Advance(DefaultInitialDrainDelay)
	if f.sync.count() != 1 {
		t.Errorf("Expected leftover symbol synced, got %d", f.sync.count())
	}
}

func TestCleanupRunsDaily(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.sched.Start(ctx)
	defer f.sched.Stop()

	f.clock.Advance(48 * time.Hour)
	if f.cleaner.runs != 2 {
		t.Errorf("Expected 2 cleanups, got %d", f.cleaner.runs)
	}
	st, _ := f.sched.Status(ctx)
	if st.LastCleanup == nil {
		t.Error("Expected last cleanup time")
	}
}

func TestStopCancelsEverything(t *testing.T) {
	f := newFixture("LMT")
	ctx := context.Background()
	f.sched.Start(ctx)
	_, _ = f.sched.SetRefillSchedule(ctx, "hourly")
	_, _ = f.sched.TriggerRefill(ctx)

	f.sched.Stop()
	if f.clock.pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", f.clock.pending())
	}
	f.clock.Advance(48 * time.Hour)
	if f.sync.count() != 0 || f.cleaner.runs != 0 {
		t.Error("Expected nothing to run after Stop")
	}
}

func TestSettingsValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, n := range []int{0, 51, -1} {
		if err := f.sched.SetBatchSize(ctx, n); !errors.Is(err, ErrInvalidBatchSize) {
			t.Errorf("Expected ErrInvalidBatchSize for %d, got %v", n, err)
		}
	}
	if f.sched.BatchSize(ctx) != 5 {
		t.Errorf("Expected default batch size 5, got %d", f.sched.BatchSize(ctx))
	}
	_ = f.sched.SetBatchSize(ctx, 50)
	if f.sched.BatchSize(ctx) != 50 {
		t.Errorf("Expected batch size 50, got %d", f.sched.BatchSize(ctx))
	}

	if _, err := f.sched.SetRefillSchedule(ctx, "weekly"); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("Expected ErrInvalidSchedule, got %v", err)
	}
	for _, s := range Schedules {
		if _, err := f.sched.SetRefillSchedule(ctx, string(s)); err != nil {
			t.Errorf("Expected %s to be accepted, got %v", s, err)
		}
	}
}

func TestRunLog(t *testing.T) {
	f := newFixture("LMT")
	ctx := context.Background()
	f.sched.Start(ctx)
	defer f.sched.Stop()

	_, _ = f.sched.TriggerRefill(ctx)
	_ = f.sched.SetBatchSize(ctx, 3)

	logs, err := f.sched.RecentLogs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(logs))
	}
	if logs[0].Trigger != TriggerSettings || logs[1].Trigger != TriggerRefill {
		t.Errorf("Expected newest first, got %+v", logs)
	}

	_ = f.sched.ClearLogs(ctx)
	if logs, _ := f.sched.RecentLogs(ctx, 10); len(logs) != 0 {
		t.Errorf("Expected cleared log, got %d", len(logs))
	}
}
