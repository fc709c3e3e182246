package mapserver

import (
	"context"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/mapserver/posegraph"
)

const (
	mergingCommand = "merging submap"
	backupCommand  = "save map"
)

func (n *Node) mergeLoop(ctx context.Context) {
	for !n.shutdownRequested.Load() {
		n.mergeCycle(ctx)
		if n.shutdownRequested.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-n.wake:
		case <-n.clock.After(n.cfg.MergeInterval):
		}
	}
}

// mergeCycle merges every ready submap at the head of the queue, runs the global map commands
// and backs the shared map up when due.
func (n *Node) mergeCycle(ctx context.Context) {
	if !n.firstSubmapMerged.Load() && n.queue.len() == 0 {
		n.mergeLogger.Debug("waiting for the first submap")
		return
	}
	n.activity.setBusy(true)
	defer n.activity.setBusy(false)

	keys := n.store.MapKeys()
	n.mergeLogger.Debugw("loaded maps", "count", len(keys), "keys", keys)

	n.mergeReadySubmaps(ctx)

	if n.firstSubmapMerged.Load() {
		n.runGlobalCommands(ctx)
	}
	n.backupIfDue(ctx)
}

// mergeReadySubmaps merges queued submaps in arrival order. It stops at the first submap that
// is owned by a worker or not fully processed, so no submap is merged ahead of an earlier one.
func (n *Node) mergeReadySubmaps(ctx context.Context) {
	for !n.shutdownRequested.Load() {
		r := n.queue.front()
		if r == nil {
			return
		}
		if !r.mu.TryLock() {
			return
		}
		if !r.readyToMerge() {
			r.mu.Unlock()
			return
		}

		n.mergeLogger.Debugw("submap is ready to be merged", "key", r.mapKey)
		err := n.mergeSubmap(ctx, r)
		if err == nil {
			err = r.setMerged()
		}
		if err == nil {
			err = n.queue.popFront(r)
		}
		r.mu.Unlock()
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				n.mergeLogger.Warnw("merge interrupted by shutdown", "key", r.mapKey)
				return
			}
			n.fatal(err)
			return
		}

		n.mergedCount.Add(1)
		n.metrics.submapsMerged.Inc()
		n.metrics.queueLength.Set(float64(n.queue.len()))
		n.recordMergeLatency(n.clock.Since(r.submittedAt))
	}
}

// mergeSubmap folds one submap into the shared map, creating the shared map from the first
// submap, and records the submap's mission for its robot.
func (n *Node) mergeSubmap(ctx context.Context, r *submapRecord) error {
	ctx, span := trace.StartSpan(ctx, "mapserver::mergeSubmap")
	defer span.End()
	start := n.clock.Now()
	n.activity.setCommand(mergingCommand)

	if r.mapKey == "" || !n.store.HasMap(r.mapKey) {
		return newInvariantError("merge", "submap %q is not in storage", r.mapKey)
	}

	var missionID uuid.UUID
	if err := n.store.WithReadAccess(r.mapKey, func(m *posegraph.Map) error {
		if m.NumMissions() != 1 {
			return newInvariantError("merge", "submap %q has %d missions, expected 1", r.mapKey, m.NumMissions())
		}
		mission, err := m.FirstMission()
		if err != nil {
			return err
		}
		missionID = mission.ID
		return nil
	}); err != nil {
		return asInvariantError("merge", err)
	}

	if !n.store.HasMap(MergedMapKey) {
		n.mergeLogger.Infow("first submap initializes the shared map", "key", r.mapKey)
		if err := n.store.RenameMap(r.mapKey, MergedMapKey); err != nil {
			return asInvariantError("rename", err)
		}
		if err := n.store.WithWriteAccess(MergedMapKey, func(m *posegraph.Map) error {
			if m.NumMissions() != 1 {
				return newInvariantError("rename", "shared map has %d missions, expected 1", m.NumMissions())
			}
			mission, err := m.FirstMission()
			if err != nil {
				return err
			}
			mission.BaseFrame.Known = true
			return nil
		}); err != nil {
			return asInvariantError("rename", err)
		}
		n.firstSubmapMerged.Store(true)
		n.lastBackup = n.clock.Now()
	} else {
		n.mergeLogger.Debugw("merging submap into the shared map", "key", r.mapKey)
		retry := exponentialRetry{
			ctx:      ctx,
			clock:    n.clock,
			logger:   n.mergeLogger,
			name:     "merge of submap " + r.mapKey,
			attempts: n.cfg.MergeRetryAttempts,
			onRetry:  n.metrics.mergeRetries.Inc,
			fun: func(context.Context) error {
				return n.store.MergeSubmapIntoBaseMap(MergedMapKey, r.mapKey)
			},
		}
		if err := retry.run(); err != nil {
			return asInvariantError("merge", err)
		}
		if err := n.store.DeleteMap(r.mapKey); err != nil {
			return asInvariantError("merge", err)
		}
	}

	if !n.store.HasMap(MergedMapKey) {
		return newInvariantError("merge", "shared map is missing after merging %q", r.mapKey)
	}
	if n.store.HasMap(r.mapKey) {
		return newInvariantError("merge", "submap %q is still in storage after merging", r.mapKey)
	}

	if r.robotName != "" {
		n.robots.set(r.robotName, missionID)
	} else {
		n.mergeLogger.Warnw("submap does not have a robot name associated with it", "key", r.mapKey)
	}
	n.metrics.mergeDuration.Observe(n.clock.Since(start).Seconds())
	n.mergeLogger.Infow("merged submap", "key", r.mapKey, "robot", r.robotName, "mission", missionID)
	return nil
}

func (n *Node) runGlobalCommands(ctx context.Context) {
	defer n.activity.setCommand("")
	for _, command := range n.cfg.GlobalMapCommands {
		if n.shutdownRequested.Load() {
			return
		}
		n.activity.setCommand(command)
		n.mergeLogger.Debugw("running global map command", "command", command)
		if err := n.runner.RunCommand(ctx, MergedMapKey, command); err != nil {
			n.metrics.commandFailures.WithLabelValues("global").Inc()
			n.mergeLogger.Errorw("failed to run global map command", "command", command, "error", err)
		}
	}
}

// backupIfDue saves the shared map once more than the backup interval has passed since the
// last backup. A zero interval disables backups.
func (n *Node) backupIfDue(ctx context.Context) bool {
	if n.cfg.BackupInterval <= 0 || !n.firstSubmapMerged.Load() {
		return false
	}
	now := n.clock.Now()
	if now.Sub(n.lastBackup) <= n.cfg.BackupInterval {
		return false
	}
	n.mergeLogger.Info("saving map as backup")
	n.activity.setCommand(backupCommand)
	n.SaveMapToConfiguredFolder(ctx)
	n.lastBackup = now
	return true
}

// SaveMap writes the shared map to folder. It returns false if there is no shared map yet or
// the save failed.
func (n *Node) SaveMap(ctx context.Context, folder string) bool {
	ctx, span := trace.StartSpan(ctx, "mapserver::SaveMap")
	defer span.End()

	n.saveMu.Lock()
	defer n.saveMu.Unlock()

	if folder == "" {
		n.logger.Error("cannot save map to an empty folder")
		n.metrics.saves.WithLabelValues("error").Inc()
		return false
	}
	if !n.store.HasMap(MergedMapKey) {
		n.logger.Warnw("cannot save map, there is no shared map yet", "folder", folder)
		n.metrics.saves.WithLabelValues("no_map").Inc()
		return false
	}
	n.logger.Infow("saving map", "folder", folder)
	size, err := n.store.SaveMapToFolder(ctx, MergedMapKey, folder, posegraph.WriteOptions{
		Compress:       n.cfg.CompressSavedMaps,
		ResourceFolder: n.cfg.ResourceFolder,
	})
	if err != nil {
		n.logger.Errorw("failed to save map", "folder", folder, "error", err)
		n.metrics.saves.WithLabelValues("error").Inc()
		return false
	}
	n.logger.Infow("saved map", "folder", folder, "size", units.HumanSize(float64(size)))
	n.metrics.saves.WithLabelValues("ok").Inc()
	return true
}

// SaveMapToConfiguredFolder writes the shared map to the configured merged map folder.
func (n *Node) SaveMapToConfiguredFolder(ctx context.Context) bool {
	if n.cfg.MergedMapFolder == "" {
		n.logger.Error("cannot save map because merged_map_folder is not configured")
		n.metrics.saves.WithLabelValues("error").Inc()
		return false
	}
	return n.SaveMap(ctx, n.cfg.MergedMapFolder)
}
