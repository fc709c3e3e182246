package console

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/rdk/logging"

	"go.viam.com/mapserver/posegraph"
)

const defaultSparsifyInterval = 100 * time.Millisecond

func init() {
	RegisterCommand(Command{
		Name:        "anchor_all_missions",
		Description: "anchors every mission with an unknown base frame at its current estimate",
		Run:         anchorAllMissions,
	})
	RegisterCommand(Command{
		Name:        "remove_empty_missions",
		Description: "removes missions without vertices, keeping at least one mission",
		Run:         removeEmptyMissions,
	})
	RegisterCommand(Command{
		Name:        "check_map",
		Description: "fails if the map is inconsistent",
		Run:         checkMap,
	})
	RegisterCommand(Command{
		Name:        "sparsify_vertices",
		Description: "drops vertices closer in time than the given interval (default 100ms)",
		Run:         sparsifyVertices,
	})
	RegisterCommand(Command{
		Name:        "describe_map",
		Description: "logs the missions of the map",
		Run:         describeMap,
	})
}

func anchorAllMissions(ctx context.Context, m *posegraph.Map, args []string, logger logging.Logger) error {
	anchored := 0
	for _, id := range m.MissionIDs() {
		mission, _ := m.Mission(id)
		if mission.BaseFrame.Known {
			continue
		}
		mission.BaseFrame.Known = true
		anchored++
	}
	logger.Debugf("anchored %d missions", anchored)
	return nil
}

func removeEmptyMissions(ctx context.Context, m *posegraph.Map, args []string, logger logging.Logger) error {
	for _, id := range m.MissionIDs() {
		if m.NumMissions() == 1 {
			break
		}
		mission, _ := m.Mission(id)
		if len(mission.Vertices) > 0 {
			continue
		}
		m.RemoveMission(id)
		logger.Infow("removed empty mission", "mission", id, "robot", mission.RobotName)
	}
	return nil
}

func checkMap(ctx context.Context, m *posegraph.Map, args []string, logger logging.Logger) error {
	if m.NumMissions() == 0 {
		return errors.New("map has no missions")
	}
	return m.Validate()
}

func sparsifyVertices(ctx context.Context, m *posegraph.Map, args []string, logger logging.Logger) error {
	interval := defaultSparsifyInterval
	if len(args) > 1 {
		return errors.Errorf("expected at most one argument, got %d", len(args))
	}
	if len(args) == 1 {
		var err error
		if interval, err = time.ParseDuration(args[0]); err != nil {
			return errors.Wrap(err, "invalid interval")
		}
		if interval <= 0 {
			return errors.Errorf("interval must be positive, got %s", interval)
		}
	}
	for _, id := range m.MissionIDs() {
		mission, _ := m.Mission(id)
		if len(mission.Vertices) < 3 {
			continue
		}
		last := len(mission.Vertices) - 1
		kept := []posegraph.Vertex{mission.Vertices[0]}
		for i := 1; i < last; i++ {
			v := mission.Vertices[i]
			if v.TimestampNs-kept[len(kept)-1].TimestampNs >= interval.Nanoseconds() {
				kept = append(kept, v)
			}
		}
		kept = append(kept, mission.Vertices[last])
		logger.Debugf("mission %s: kept %d of %d vertices", id, len(kept), len(mission.Vertices))
		mission.Vertices = kept
	}
	return nil
}

func describeMap(ctx context.Context, m *posegraph.Map, args []string, logger logging.Logger) error {
	for _, id := range m.MissionIDs() {
		mission, _ := m.Mission(id)
		minNs, maxNs, _ := mission.TimeRange()
		logger.Infow("mission",
			"id", id,
			"robot", mission.RobotName,
			"anchored", mission.BaseFrame.Known,
			"vertices", len(mission.Vertices),
			"sensors", len(mission.Sensors),
			"start_ns", minNs,
			"end_ns", maxNs,
		)
	}
	return nil
}
