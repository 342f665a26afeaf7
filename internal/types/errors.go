package types

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when unsetting an id with no live alarm.
	ErrNotFound = errors.New("alarm not found")
	// ErrNothingToUnset is returned by unset-all when no alarm is live.
	ErrNothingToUnset = errors.New("no alarm to unset")
)

// ValidationError rejects a registration before any state changes.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// DuplicateAlarmError is returned when an id already has a live alarm.
type DuplicateAlarmError struct {
	ID string
}

func (e *DuplicateAlarmError) Error() string {
	return fmt.Sprintf("alarm %s is already set", e.ID)
}

// FetchError reports a failed or incomplete price lookup.
type FetchError struct {
	Ticker string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("price cannot be retrieved for ticker %s: %v", e.Ticker, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err as a FetchError unless it already is one.
func NewFetchError(ticker string, err error) error {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return &FetchError{Ticker: ticker, Err: err}
}
