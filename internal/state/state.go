// Package state persists the small amount of process-wide bookkeeping the
// buffer and scheduler need: the pending queue, the processing lease,
// timestamps, settings and the run log.
package state

import (
	"context"
	"errors"
	"time"
)

// Names of timestamps kept in the store.
const (
	TimeLastBufferProcessed = "last_buffer_processed"
	TimeLastRefill          = "last_refill"
	TimeLastCleanup         = "last_cleanup"
)

// Names of settings kept in the store.
const (
	SettingRefillSchedule = "refill_schedule"
	SettingBatchSize      = "batch_size"
)

// MaxLogEntries is how many run log entries are retained.
const MaxLogEntries = 100

// ErrConflict is returned when an optimistic queue update keeps losing races.
var ErrConflict = errors.New("state: too many concurrent queue updates")

// LogEntry is one line of the scheduler run log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Trigger string    `json:"trigger"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// QueueFunc maps the current queue to the next one. Returning an error
// leaves the stored queue unchanged.
type QueueFunc func(current []string) ([]string, error)

// Store is the persisted state. Implementations must be safe for concurrent
// use across goroutines, and for RedisStore across processes.
type Store interface {
	// LoadQueue returns the pending queue in order.
	LoadQueue(ctx context.Context) ([]string, error)

	// UpdateQueue applies fn atomically and returns the stored result.
	UpdateQueue(ctx context.Context, fn QueueFunc) ([]string, error)

	// AcquireProcessing takes the processing lease for owner unless someone
	// else holds an unexpired one.
	AcquireProcessing(ctx context.Context, owner string, ttl time.Duration) (bool, error)

	// RenewProcessing extends owner's lease to ttl from now. It reports
	// false when owner no longer holds the lease.
	RenewProcessing(ctx context.Context, owner string, ttl time.Duration) (bool, error)

	// ReleaseProcessing drops the lease if owner still holds it.
	ReleaseProcessing(ctx context.Context, owner string) error

	// IsProcessing reports whether any unexpired lease exists.
	IsProcessing(ctx context.Context) (bool, error)

	// SetTime and GetTime store named timestamps.
	SetTime(ctx context.Context, name string, t time.Time) error
	GetTime(ctx context.Context, name string) (time.Time, bool, error)

	// GetSetting and SetSetting store named string settings.
	GetSetting(ctx context.Context, name string) (string, bool, error)
	SetSetting(ctx context.Context, name, value string) error

	// AppendLog adds an entry, keeping the newest MaxLogEntries.
	AppendLog(ctx context.Context, entry LogEntry) error

	// RecentLogs returns up to n entries, newest first.
	RecentLogs(ctx context.Context, n int) ([]LogEntry, error)

	// ClearLogs empties the run log.
	ClearLogs(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
