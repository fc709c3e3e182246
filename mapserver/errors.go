package mapserver

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotRunning is returned by operations that need a started node.
	ErrNotRunning = errors.New("map server node is not running")
	// ErrShutdown is returned once a shutdown of the node has been requested.
	ErrShutdown = errors.New("map server node is shutting down")
)

// InvariantError reports a broken internal invariant of the node. It stops the pipeline.
type InvariantError struct {
	Op  string
	Err error
}

func newInvariantError(op, format string, args ...interface{}) *InvariantError {
	return &InvariantError{Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated during %s: %v", e.Op, e.Err)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// asInvariantError marks err as an invariant violation unless it already is one.
func asInvariantError(op string, err error) error {
	if IsInvariantError(err) {
		return err
	}
	return &InvariantError{Op: op, Err: err}
}

// IsInvariantError returns whether err is or wraps an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

var (
	errWorkerPoolSize         = errors.New("worker_pool_size must be positive")
	errNegativeBackupInterval = errors.New("backup_interval cannot be negative")
	errStatusInterval         = errors.New("status_interval must be positive")
	errMergeInterval          = errors.New("merge_interval must be positive")
	errMergeRetryAttempts     = errors.New("merge_retry_attempts must be positive")
)

func errUnknownExclusivity(e Exclusivity) error {
	return errors.Errorf("unknown submap_exclusivity %q, expected %q or %q", e, ExclusivityNonExclusive, ExclusivityPerRobot)
}
