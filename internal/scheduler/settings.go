package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// Schedule is a refill cadence.
type Schedule string

const (
	Never          Schedule = "never"
	Every15Minutes Schedule = "every_15_minutes"
	Every30Minutes Schedule = "every_30_minutes"
	Hourly         Schedule = "hourly"
	TwiceDaily     Schedule = "twicedaily"
	Daily          Schedule = "daily"
)

// Batch size bounds for a drain.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 50
	DefaultBatchSize = 5
)

var (
	ErrInvalidSchedule  = errors.New("invalid refill schedule")
	ErrInvalidBatchSize = errors.New("invalid batch size")
)

var intervals = map[Schedule]time.Duration{
	Never:          0,
	Every15Minutes: 15 * time.Minute,
	Every30Minutes: 30 * time.Minute,
	Hourly:         time.Hour,
	TwiceDaily:     12 * time.Hour,
	Daily:          24 * time.Hour,
}

// Schedules lists the accepted values, shortest interval first.
var Schedules = []Schedule{Never, Every15Minutes, Every30Minutes, Hourly, TwiceDaily, Daily}

func ParseSchedule(s string) (Schedule, error) {
	if _, ok := intervals[Schedule(s)]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
	}
	return Schedule(s), nil
}

// Interval returns the refill period; zero means disabled.
func (s Schedule) Interval() time.Duration {
	return intervals[s]
}

func ValidateBatchSize(n int) error {
	if n < MinBatchSize || n > MaxBatchSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidBatchSize, n, MinBatchSize, MaxBatchSize)
	}
	return nil
}
