package mapserver

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

const loadingCommand = "loading"

// processSubmap loads a submap into the store and runs the submap commands on it. It holds the
// record's lock throughout so the merge loop and the status reporter see it as busy, and wakes
// the merge loop only after releasing it.
func (n *Node) processSubmap(r *submapRecord) {
	r.mu.Lock()
	processed := n.loadAndProcessLocked(r)
	r.mu.Unlock()
	if processed {
		n.wakeMergeLoop()
	}
}

// loadAndProcessLocked returns whether the record reached the processed state.
func (n *Node) loadAndProcessLocked(r *submapRecord) bool {
	if n.shutdownRequested.Load() {
		n.workerLogger.Warnw("shutdown was requested, skipping submap", "key", r.mapKey)
		return false
	}
	ctx, span := trace.StartSpan(context.Background(), "mapserver::processSubmap")
	defer span.End()

	n.workerLogger.Debugw("loading and processing submap", "path", r.path, "key", r.mapKey)
	n.ledger.set(r.mapHash, loadingCommand)
	defer n.ledger.clear(r.mapHash)

	if n.store.HasMap(r.mapKey) {
		n.fatal(newInvariantError("load", "there is already a map with key %q in storage", r.mapKey))
		return false
	}
	if err := n.store.LoadMapFromFolder(ctx, r.path, r.mapKey); err != nil {
		n.fatal(errors.Wrapf(err, "cannot load submap %q from %s", r.mapKey, r.path))
		return false
	}
	if err := r.setLoaded(); err != nil {
		n.fatal(err)
		return false
	}
	n.workerLogger.Debugw("finished loading submap, starting processing", "key", r.mapKey)

	for _, command := range n.cfg.SubmapCommands {
		n.ledger.set(r.mapHash, command)
		if err := n.runner.RunCommand(ctx, r.mapKey, command); err != nil {
			r.failedCommands.Add(1)
			n.metrics.commandFailures.WithLabelValues("submap").Inc()
			n.workerLogger.Errorw("failed to run command on submap", "command", command, "key", r.mapKey, "error", err)
		}
		if n.shutdownRequested.Load() {
			n.workerLogger.Warnw("shutdown was requested, aborting processing of submap", "key", r.mapKey)
			return false
		}
	}

	if err := r.setProcessed(); err != nil {
		n.fatal(err)
		return false
	}
	if failed := r.failedCommands.Load(); failed > 0 {
		n.workerLogger.Warnw("submap will be merged although some of its commands failed", "key", r.mapKey, "failed_commands", failed)
	}
	n.workerLogger.Debugw("finished processing submap", "key", r.mapKey)
	return true
}
