package schema

import (
	"errors"
	"fmt"
)

// Common errors returned by backends and the orchestrator.
var (
	ErrNotFound             = errors.New("not found")
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnknownBackendType   = errors.New("unknown backend type")
	ErrOperationFailed      = errors.New("operation failed")
	ErrUnsupportedOperation = errors.New("operation not supported")
)

// OperationFailed wraps a backend-side failure so that both ErrOperationFailed
// and the underlying cause match with errors.Is.
func OperationFailed(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, ErrOperationFailed)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrOperationFailed, cause)
}

// NotFoundf formats a NotFound error naming the missing entity.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// InvalidArgumentf formats an InvalidArgument error.
func InvalidArgumentf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

// IsNotFound reports whether err is a NotFound condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
