package cboe

import (
	"errors"
	"fmt"
)

// ErrRateLimited marks an HTTP 429 so the retryer can pick it out.
var ErrRateLimited = errors.New("rate limited by CBOE")

// TransportError is a network failure or timeout talking to CBOE.
type TransportError struct {
	Symbol string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("CBOE request for %s failed: %v", e.Symbol, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamStatusError is any non-200 answer.
type UpstreamStatusError struct {
	Symbol string
	Code   int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("CBOE API returned status code %d", e.Code)
}

func (e *UpstreamStatusError) Is(target error) bool {
	return target == ErrRateLimited && e.Code == 429
}

// DecodeError means the body is not the expected JSON object.
type DecodeError struct {
	Symbol string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("Failed to parse JSON response from CBOE API: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError means the JSON is well formed but lacks data.options.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "Invalid CBOE API response structure: " + e.Reason
}
