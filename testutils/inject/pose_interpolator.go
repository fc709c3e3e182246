package inject

import (
	"github.com/google/uuid"

	"go.viam.com/rdk/spatialmath"

	"go.viam.com/mapserver/posegraph"
)

// PoseInterpolator is an injected pose interpolator.
type PoseInterpolator struct {
	posegraph.PoseInterpolator
	TimeRangeFunc   func(m *posegraph.Map, missionID uuid.UUID) (int64, int64, error)
	PosesAtTimeFunc func(m *posegraph.Map, missionID uuid.UUID, timestampsNs []int64) ([]spatialmath.Pose, error)
}

// TimeRange calls the injected TimeRange or the real version.
func (p *PoseInterpolator) TimeRange(m *posegraph.Map, missionID uuid.UUID) (int64, int64, error) {
	if p.TimeRangeFunc == nil {
		return p.PoseInterpolator.TimeRange(m, missionID)
	}
	return p.TimeRangeFunc(m, missionID)
}

// PosesAtTime calls the injected PosesAtTime or the real version.
func (p *PoseInterpolator) PosesAtTime(m *posegraph.Map, missionID uuid.UUID, timestampsNs []int64) ([]spatialmath.Pose, error) {
	if p.PosesAtTimeFunc == nil {
		return p.PoseInterpolator.PosesAtTime(m, missionID, timestampsNs)
	}
	return p.PosesAtTimeFunc(m, missionID, timestampsNs)
}
