package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an activity does not exist or belongs to another owner.
	ErrNotFound = errors.New("scheduled activity not found")
	// ErrConflict indicates a double booking.
	ErrConflict = errors.New("schedule conflict")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
)

// ValidationError describes the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is lets callers match with errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError is a refused booking. Err is set when the conflict check
// itself failed and the booking was refused without a confirmed overlap.
type ConflictError struct {
	Date           time.Time
	Interval       Interval
	ConflictingIDs []string
	Err            error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schedule conflict on %s: conflict check unavailable: %v", FormatDate(e.Date), e.Err)
	}
	return fmt.Sprintf("schedule conflict on %s %s-%s with %s",
		FormatDate(e.Date), TimeOfDay(e.Interval.Start), TimeOfDay(e.Interval.End%minutesInDay), strings.Join(e.ConflictingIDs, ","))
}

// Is lets callers match with errors.Is(err, ErrConflict).
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return e.Err }
