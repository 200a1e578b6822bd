package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrQuotaExceeded is the sentinel for quota admission denial.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrConflict is the sentinel for state conflicts (double resolve,
	// duplicate in-flight transcode for the same upload).
	ErrConflict = errors.New("conflict")
)

// QuotaExceededError carries the window the caller ran into so handlers can
// report the limit back to the uploader.
type QuotaExceededError struct {
	ChapterID    string
	ContentType  string
	MonthlyLimit int
	CurrentUsage int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly quota exceeded for chapter=%s type=%s (limit=%d usage=%d)",
		e.ChapterID, e.ContentType, e.MonthlyLimit, e.CurrentUsage)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }
