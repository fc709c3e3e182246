package inject

import (
	"context"

	"github.com/pkg/errors"
)

// CommandRunner is an injected command runner.
type CommandRunner struct {
	RunCommandFunc func(ctx context.Context, mapKey, command string) error
}

// RunCommand calls the injected RunCommand or succeeds without doing anything.
func (r *CommandRunner) RunCommand(ctx context.Context, mapKey, command string) error {
	if r.RunCommandFunc == nil {
		return nil
	}
	if err := r.RunCommandFunc(ctx, mapKey, command); err != nil {
		return errors.Wrapf(err, "command %q on map %q", command, mapKey)
	}
	return nil
}
