package mapserver

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"go.opencensus.io/trace"

	"go.viam.com/rdk/spatialmath"

	"go.viam.com/mapserver/posegraph"
)

// LookupStatus is the result of a pose lookup.
type LookupStatus int

// Pose lookup results.
const (
	LookupSuccess LookupStatus = iota
	NoSuchMission
	NoSuchSensor
	PoseNeverAvailable
	PoseNotAvailableYet
)

func (s LookupStatus) String() string {
	switch s {
	case LookupSuccess:
		return "success"
	case NoSuchMission:
		return "no_such_mission"
	case NoSuchSensor:
		return "no_such_sensor"
	case PoseNeverAvailable:
		return "pose_never_available"
	case PoseNotAvailableYet:
		return "pose_not_available_yet"
	default:
		return "unknown"
	}
}

// LookupResult holds the outputs of a successful pose lookup, in the global frame.
type LookupResult struct {
	Point        r3.Vector
	SensorOrigin r3.Vector
}

// MapLookup transforms pS, a point in the frame of the robot's sensor of the given type at the
// given time, into the global frame of the shared map. It also returns the sensor's origin
// in the global frame. Timestamps at either end of the mission's trajectory are available.
func (n *Node) MapLookup(
	ctx context.Context,
	robotName string,
	sensorType posegraph.SensorType,
	timestampNs int64,
	pS r3.Vector,
) (LookupResult, LookupStatus) {
	_, span := trace.StartSpan(ctx, "mapserver::MapLookup")
	defer span.End()

	res, status := n.mapLookup(robotName, sensorType, timestampNs, pS)
	n.metrics.lookups.WithLabelValues(status.String()).Inc()
	return res, status
}

func (n *Node) mapLookup(robotName string, sensorType posegraph.SensorType, timestampNs int64, pS r3.Vector) (LookupResult, LookupStatus) {
	if robotName == "" {
		n.lookupLogger.Warn("received map lookup with empty robot name")
		return LookupResult{}, NoSuchMission
	}
	missionID, ok := n.robots.get(robotName)
	if !ok {
		n.lookupLogger.Warnw("received map lookup with unknown robot name", "robot", robotName)
		return LookupResult{}, NoSuchMission
	}
	if timestampNs < 0 {
		n.lookupLogger.Warnw("received map lookup with invalid timestamp", "timestamp_ns", timestampNs)
		return LookupResult{}, PoseNeverAvailable
	}

	var (
		res    LookupResult
		status LookupStatus
	)
	err := n.store.WithReadAccess(MergedMapKey, func(m *posegraph.Map) error {
		mission, ok := m.Mission(missionID)
		if !ok {
			n.lookupLogger.Warnw("mission of robot is not in the shared map", "robot", robotName, "mission", missionID)
			status = NoSuchMission
			return nil
		}
		sensor, ok := mission.Sensors[sensorType]
		if !ok {
			n.lookupLogger.Warnw("received map lookup for a sensor the mission does not have",
				"robot", robotName, "sensor", sensorType.String())
			status = NoSuchSensor
			return nil
		}

		minNs, maxNs, err := n.interpolator.TimeRange(m, missionID)
		if err != nil {
			n.lookupLogger.Warnw("mission has no pose data yet", "robot", robotName, "error", err)
			status = PoseNotAvailableYet
			return nil
		}
		if timestampNs < minNs {
			n.lookupLogger.Warnw("received map lookup with a timestamp before the robot's mission, "+
				"this position will never be available",
				"timestamp", nsToTime(timestampNs), "earliest", nsToTime(minNs))
			status = PoseNeverAvailable
			return nil
		}
		if timestampNs > maxNs {
			n.lookupLogger.Warnw("received map lookup with a timestamp that is not yet available",
				"timestamp", nsToTime(timestampNs), "latest", nsToTime(maxNs))
			status = PoseNotAvailableYet
			return nil
		}

		poses, err := n.interpolator.PosesAtTime(m, missionID, []int64{timestampNs})
		if err != nil || len(poses) != 1 {
			n.lookupLogger.Warnw("cannot interpolate pose", "robot", robotName, "timestamp_ns", timestampNs, "error", err)
			status = PoseNotAvailableYet
			return nil
		}

		globalFromBody := spatialmath.Compose(mission.BaseFrame.GlobalFromMission, poses[0])
		globalFromSensor := spatialmath.Compose(globalFromBody, sensor.BodyFromSensor)
		res = LookupResult{
			Point:        spatialmath.Compose(globalFromSensor, spatialmath.NewPoseFromPoint(pS)).Point(),
			SensorOrigin: globalFromSensor.Point(),
		}
		status = LookupSuccess
		return nil
	})
	if err != nil {
		n.lookupLogger.Warnw("shared map is not available for lookup", "error", err)
		return LookupResult{}, NoSuchMission
	}
	return res, status
}

func nsToTime(ns int64) string {
	return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
}
