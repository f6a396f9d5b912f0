package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that the requested role, resource or route
	// mapping does not exist. Callers treat it as deny, not as a fault.
	ErrNotFound = errors.New("rbac: not found")
	// ErrTimeout indicates the caller deadline expired while waiting for
	// an in-flight evaluation.
	ErrTimeout = errors.New("rbac: evaluation timed out")
)

// ValidationError aggregates every configuration violation found during a
// catalog mutation or import, never just the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "rbac: invalid configuration"
	}
	return "rbac: invalid configuration: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// MirrorError wraps a failed distributed-cache operation. It is logged by
// the cache and never propagated; the local path stays authoritative.
type MirrorError struct {
	Op  string
	Err error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("rbac: mirror %s: %v", e.Op, e.Err)
}

func (e *MirrorError) Unwrap() error { return e.Err }
