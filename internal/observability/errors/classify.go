// Package errors turns errors into low-cardinality class names for metric tags.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// sentinelClasses is checked in order; the first match wins.
var sentinelClasses = []struct {
	err   error
	class string
}{
	{model.ErrJobCancelled, "job_cancelled"},
	{model.ErrVersionConflict, "version_conflict"},
	{model.ErrStoreUnavailable, "store_unavailable"},
	{model.ErrDuplicateJob, "duplicate_job"},
	{model.ErrJobNotFound, "job_not_found"},
	{model.ErrNoWorkAvailable, "no_work_available"},
	{model.ErrInvalidTransition, "invalid_transition"},
	{context.DeadlineExceeded, "deadline_exceeded"},
	{context.Canceled, "canceled"},
}

// Classify returns a normalized error type name suitable for tagging metrics/logs.
// Domain sentinels map to fixed names; anything else is named after the
// innermost concrete type, converted to snake_case-ish.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	for _, sc := range sentinelClasses {
		if goerrors.Is(err, sc.err) {
			return sc.class
		}
	}

	// Unwrap to the innermost error for better signal.
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
