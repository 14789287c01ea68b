package models

import "time"

// SyncRun is one symbol sync attempt as recorded in ClickHouse.
type SyncRun struct {
	// RunID identifies the attempt.
	RunID string

	// BatchID groups attempts made by the same drain; empty for manual syncs.
	BatchID string

	// Symbol is the ticker that was synced.
	Symbol string

	// Success is true when at least one option was stored.
	Success bool

	// Message is the human summary.
	Message string

	// Processed is the number of options stored.
	Processed uint32

	// Errors are the per-record failures.
	Errors []string

	// SyncedAt is when the attempt finished.
	SyncedAt time.Time
}
