package protocol

import (
	"errors"
	"fmt"
)

// DispatchError marks a transient failure to reach an executor's backing
// collaborator (unreachable host, broker down). The engine retries these
// with backoff, bounded by the step's retry policy; any other executor error
// is final.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NewDispatchError wraps err so the engine knows a retry may succeed.
func NewDispatchError(err error) error {
	return &DispatchError{Err: err}
}

// IsDispatchError reports whether err is transient.
func IsDispatchError(err error) bool {
	var de *DispatchError

	return errors.As(err, &de)
}
