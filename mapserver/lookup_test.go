package mapserver

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/rdk/spatialmath"

	"go.viam.com/mapserver/posegraph"
)

func TestMapLookup(t *testing.T) {
	ctx := context.Background()
	tn := newTestNode(t, testConfig())

	missionID := uuid.New()
	path := writeSubmap(t, "r1", missionID, spatialmath.NewPoseFromPoint(r3.Vector{X: 10}), vertexAt{100, 0}, vertexAt{200, 100})
	test.That(t, tn.Submit("r1", path), test.ShouldBeTrue)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, tn.Snapshot().Robots, test.ShouldHaveLength, 1)
	})

	t.Run("failures", func(t *testing.T) {
		for _, tc := range []struct {
			name   string
			robot  string
			sensor posegraph.SensorType
			ts     int64
			status LookupStatus
		}{
			{"empty robot", "", posegraph.Lidar, 150, NoSuchMission},
			{"unknown robot", "r9", posegraph.Lidar, 150, NoSuchMission},
			{"negative timestamp", "r1", posegraph.Lidar, -1, PoseNeverAvailable},
			{"missing sensor", "r1", posegraph.IMU, 150, NoSuchSensor},
			{"before the mission", "r1", posegraph.Lidar, 99, PoseNeverAvailable},
			{"after the mission", "r1", posegraph.Lidar, 201, PoseNotAvailableYet},
		} {
			t.Run(tc.name, func(t *testing.T) {
				res, status := tn.MapLookup(ctx, tc.robot, tc.sensor, tc.ts, r3.Vector{Z: 1})
				test.That(t, status, test.ShouldEqual, tc.status)
				test.That(t, res, test.ShouldResemble, LookupResult{})
			})
		}
	})

	t.Run("boundaries are available", func(t *testing.T) {
		_, status := tn.MapLookup(ctx, "r1", posegraph.Lidar, 100, r3.Vector{})
		test.That(t, status, test.ShouldEqual, LookupSuccess)
		_, status = tn.MapLookup(ctx, "r1", posegraph.Lidar, 200, r3.Vector{})
		test.That(t, status, test.ShouldEqual, LookupSuccess)
	})

	t.Run("transform chain", func(t *testing.T) {
		res, status := tn.MapLookup(ctx, "r1", posegraph.Lidar, 150, r3.Vector{Z: 1})
		test.That(t, status, test.ShouldEqual, LookupSuccess)
		// mission is offset by 10 in x, body is halfway at 50, lidar sits 1 above the body
		test.That(t, spatialmath.R3VectorAlmostEqual(res.SensorOrigin, r3.Vector{X: 60, Z: 1}, 1e-9), test.ShouldBeTrue)
		test.That(t, spatialmath.R3VectorAlmostEqual(res.Point, r3.Vector{X: 60, Z: 2}, 1e-9), test.ShouldBeTrue)
	})

	test.That(t, tn.logs.FilterMessage("received map lookup with empty robot name").Len(), test.ShouldEqual, 1)
	test.That(t, tn.logs.FilterLevelExact(zapcore.ErrorLevel).Len(), test.ShouldEqual, 0)
	test.That(t, testutil.ToFloat64(tn.metrics.lookups.WithLabelValues("no_such_mission")), test.ShouldEqual, 2)
}

func TestMapLookupRotatedMission(t *testing.T) {
	ctx := context.Background()
	tn := newTestNode(t, testConfig())

	// a quarter turn about z maps the mission x axis onto the global y axis
	rotation := &spatialmath.OrientationVectorDegrees{OZ: 1, Theta: 90}
	path := writeSubmap(t, "r1", uuid.New(), spatialmath.NewPose(r3.Vector{}, rotation), vertexAt{0, 0}, vertexAt{10, 10})
	test.That(t, tn.Submit("r1", path), test.ShouldBeTrue)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		_, status := tn.MapLookup(ctx, "r1", posegraph.Lidar, 10, r3.Vector{})
		test.That(tb, status, test.ShouldEqual, LookupSuccess)
	})

	res, _ := tn.MapLookup(ctx, "r1", posegraph.Lidar, 10, r3.Vector{X: 1})
	test.That(t, spatialmath.R3VectorAlmostEqual(res.SensorOrigin, r3.Vector{Y: 10, Z: 1}, 1e-6), test.ShouldBeTrue)
	test.That(t, spatialmath.R3VectorAlmostEqual(res.Point, r3.Vector{Y: 11, Z: 1}, 1e-6), test.ShouldBeTrue)
}

func TestMapLookupInterpolatorFailure(t *testing.T) {
	ctx := context.Background()
	tn := newTestNode(t, testConfig())
	test.That(t, tn.Submit("r1", writeSubmap(t, "r1", uuid.New(), nil, vertexAt{0, 0})), test.ShouldBeTrue)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		_, status := tn.MapLookup(ctx, "r1", posegraph.Lidar, 0, r3.Vector{})
		test.That(tb, status, test.ShouldEqual, LookupSuccess)
	})

	tn.interpolator.PosesAtTimeFunc = func(m *posegraph.Map, missionID uuid.UUID, timestampsNs []int64) ([]spatialmath.Pose, error) {
		return nil, errors.New("cannot interpolate")
	}
	_, status := tn.MapLookup(ctx, "r1", posegraph.Lidar, 0, r3.Vector{})
	test.That(t, status, test.ShouldEqual, PoseNotAvailableYet)

	tn.interpolator.TimeRangeFunc = func(m *posegraph.Map, missionID uuid.UUID) (int64, int64, error) {
		return 0, 0, errors.New("no vertices")
	}
	_, status = tn.MapLookup(ctx, "r1", posegraph.Lidar, 0, r3.Vector{})
	test.That(t, status, test.ShouldEqual, PoseNotAvailableYet)
}
