package mapserver

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/rdk/logging"

	"go.viam.com/mapserver/mapmanager"
	"go.viam.com/mapserver/posegraph"
)

var (
	// initialRetryWait is the wait before the first retried merge. Tests lower it.
	initialRetryWait       = 200 * time.Millisecond
	retryExponentialFactor = 2
	maxRetryInterval       = 10 * time.Second
)

type exponentialRetry struct {
	ctx      context.Context
	clock    clock.Clock
	logger   logging.Logger
	name     string
	attempts int
	onRetry  func()
	fun      func(context.Context) error
}

// run calls fun up to attempts times, waiting exponentially longer between attempts.
// It returns nil on success, the context error if ctx is done, and otherwise the last error.
// Terminal errors are returned without retrying.
func (er exponentialRetry) run() error {
	nextWait := initialRetryWait
	var err error
	for attempt := 1; ; attempt++ {
		err = er.fun(er.ctx)
		switch {
		case err == nil:
			if attempt > 1 {
				er.logger.Infof("%s succeeded after %d attempts", er.name, attempt)
			}
			return nil
		case terminalError(err):
			er.logger.Debugf("%s hit non retryable error: %s", er.name, err.Error())
			return err
		case attempt >= er.attempts:
			return errors.Wrapf(err, "%s failed after %d attempts", er.name, attempt)
		}

		er.logger.Warnw("retrying after transient error", "operation", er.name, "attempt", attempt, "wait", nextWait, "error", err)
		if er.onRetry != nil {
			er.onRetry()
		}
		select {
		case <-er.ctx.Done():
			return er.ctx.Err()
		case <-er.clock.After(nextWait):
		}
		nextWait = getNextWait(nextWait)
	}
}

func getNextWait(lastWait time.Duration) time.Duration {
	if lastWait == 0 {
		return initialRetryWait
	}
	nextWait := lastWait * time.Duration(retryExponentialFactor)
	if nextWait > maxRetryInterval {
		return maxRetryInterval
	}
	return nextWait
}

// terminalError returns true if retrying can never succeed. The in-memory store only fails with
// terminal errors; anything else comes from a MapStore that can fail transiently.
func terminalError(err error) bool {
	return errors.Is(err, posegraph.ErrInvalidSubmap) ||
		errors.Is(err, mapmanager.ErrMapNotFound) ||
		errors.Is(err, mapmanager.ErrMergeIntoSelf) ||
		errors.Is(err, context.Canceled) ||
		IsInvariantError(err)
}
