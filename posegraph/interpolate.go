package posegraph

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/rdk/spatialmath"
)

// ErrTimestampOutOfRange is returned when a pose is requested outside a mission's trajectory.
var ErrTimestampOutOfRange = errors.New("timestamp outside of mission time range")

// PoseInterpolator computes body poses at arbitrary times from a mission's vertices.
type PoseInterpolator struct{}

// TimeRange returns the earliest and latest vertex timestamps of a mission.
func (PoseInterpolator) TimeRange(m *Map, missionID uuid.UUID) (int64, int64, error) {
	mission, ok := m.Mission(missionID)
	if !ok {
		return 0, 0, errors.Errorf("no mission %s in map", missionID)
	}
	minNs, maxNs, ok := mission.TimeRange()
	if !ok {
		return 0, 0, errors.Errorf("mission %s has no vertices", missionID)
	}
	return minNs, maxNs, nil
}

// PosesAtTime returns the interpolated mission-from-body pose for every timestamp.
// Translation is interpolated linearly and rotation spherically between the two vertices
// bracketing each timestamp.
func (PoseInterpolator) PosesAtTime(m *Map, missionID uuid.UUID, timestampsNs []int64) ([]spatialmath.Pose, error) {
	mission, ok := m.Mission(missionID)
	if !ok {
		return nil, errors.Errorf("no mission %s in map", missionID)
	}
	poses := make([]spatialmath.Pose, 0, len(timestampsNs))
	for _, ts := range timestampsNs {
		pose, err := poseAt(mission.Vertices, ts)
		if err != nil {
			return nil, errors.Wrapf(err, "mission %s", missionID)
		}
		poses = append(poses, pose)
	}
	return poses, nil
}

func poseAt(vertices []Vertex, timestampNs int64) (spatialmath.Pose, error) {
	if len(vertices) == 0 {
		return nil, ErrTimestampOutOfRange
	}
	idx := sort.Search(len(vertices), func(i int) bool {
		return vertices[i].TimestampNs >= timestampNs
	})
	if idx == len(vertices) || (idx == 0 && vertices[0].TimestampNs != timestampNs) {
		return nil, errors.Wrapf(ErrTimestampOutOfRange, "%dns", timestampNs)
	}
	after := vertices[idx]
	if after.TimestampNs == timestampNs {
		return after.MissionFromBody, nil
	}
	before := vertices[idx-1]
	by := float64(timestampNs-before.TimestampNs) / float64(after.TimestampNs-before.TimestampNs)
	return spatialmath.Interpolate(before.MissionFromBody, after.MissionFromBody, by), nil
}
