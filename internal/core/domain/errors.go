package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrItemNotFound    = errors.New("captured item not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTemporary       = errors.New("temporary failure")
	ErrOfflineSave     = errors.New("failed to save offline")
	ErrSummaryTimeout  = errors.New("report generation timed out: reduce photo count or wait for uploads to finish")
	ErrSummaryService  = errors.New("report generation failed")
	ErrEmptySummary    = errors.New("no summary produced")
	ErrNothingToSubmit = errors.New("nothing to submit")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ServiceMessage returns the underlying message of a summary service failure,
// without the operation prefix, for user-visible display.
func ServiceMessage(err error) string {
	var svc *ServiceError
	if errors.As(err, &svc) {
		return svc.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ServiceError carries the message surfaced by the summary service.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("summary service status %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return ErrSummaryService
}
