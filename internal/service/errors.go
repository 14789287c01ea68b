package service

import (
	"errors"
	"fmt"
)

// Machine-readable error codes returned to API clients.
const (
	CodeInvalidSymbol     = "invalid_symbol"
	CodeInvalidDate       = "invalid_date"
	CodeInvalidStrike     = "invalid_strike"
	CodeInvalidField      = "invalid_field"
	CodeInvalidOptionType = "invalid_option_type"
	CodeInvalidSchedule   = "invalid_schedule"
	CodeInvalidBatchSize  = "invalid_batch_size"
	CodeInvalidDateRange  = "invalid_date_range"
	CodeStockNotFound     = "stock_not_found"
	CodeStockExists       = "stock_exists"
	CodeNotInCBOE         = "cboe_symbol_not_found"
	CodeNoOptionsFound    = "no_options_found"
	CodeOptionNotFound    = "option_not_found"
	CodeFieldNotFound     = "field_not_found"
	CodeAlreadyProcessing = "already_processing"
	CodeInternal          = "internal"
)

// Error is a client-facing failure with a stable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func internalError(err error) *Error {
	return &Error{Code: CodeInternal, Message: "Internal error", Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
