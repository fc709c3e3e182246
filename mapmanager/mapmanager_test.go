package mapmanager

import (
	"context"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/rdk/spatialmath"

	"go.viam.com/mapserver/posegraph"
)

func singleMissionMap(robot string, timestamps ...int64) (*posegraph.Map, uuid.UUID) {
	m := posegraph.NewMap()
	mission := posegraph.NewMission(uuid.New(), robot)
	for _, ts := range timestamps {
		mission.Vertices = append(mission.Vertices, posegraph.Vertex{
			TimestampNs:     ts,
			MissionFromBody: spatialmath.NewPoseFromPoint(r3.Vector{X: float64(ts)}),
		})
	}
	if err := m.AddMission(mission); err != nil {
		panic(err)
	}
	return m, mission.ID
}

func TestAddRenameDelete(t *testing.T) {
	mgr := New()
	m, _ := singleMissionMap("a", 1)

	test.That(t, mgr.AddMap("a", m), test.ShouldBeNil)
	err := mgr.AddMap("a", m)
	test.That(t, errors.Is(err, ErrMapExists), test.ShouldBeTrue)
	test.That(t, mgr.HasMap("a"), test.ShouldBeTrue)

	test.That(t, mgr.RenameMap("a", "b"), test.ShouldBeNil)
	test.That(t, mgr.HasMap("a"), test.ShouldBeFalse)
	test.That(t, mgr.MapKeys(), test.ShouldResemble, []string{"b"})

	err = mgr.RenameMap("a", "c")
	test.That(t, errors.Is(err, ErrMapNotFound), test.ShouldBeTrue)

	other, _ := singleMissionMap("c", 1)
	test.That(t, mgr.AddMap("c", other), test.ShouldBeNil)
	err = mgr.RenameMap("b", "c")
	test.That(t, errors.Is(err, ErrMapExists), test.ShouldBeTrue)
	test.That(t, mgr.MapKeys(), test.ShouldResemble, []string{"b", "c"})

	test.That(t, mgr.DeleteMap("b"), test.ShouldBeNil)
	err = mgr.DeleteMap("b")
	test.That(t, errors.Is(err, ErrMapNotFound), test.ShouldBeTrue)
}

func TestMergeSubmapIntoBaseMap(t *testing.T) {
	mgr := New()
	base, _ := singleMissionMap("a", 1)
	sub, subMission := singleMissionMap("b", 2)
	test.That(t, mgr.AddMap("base", base), test.ShouldBeNil)
	test.That(t, mgr.AddMap("sub", sub), test.ShouldBeNil)

	test.That(t, mgr.MergeSubmapIntoBaseMap("base", "sub"), test.ShouldBeNil)
	test.That(t, mgr.MergeSubmapIntoBaseMap("base", "base"), test.ShouldNotBeNil)
	test.That(t, errors.Is(mgr.MergeSubmapIntoBaseMap("base", "missing"), ErrMapNotFound), test.ShouldBeTrue)

	err := mgr.WithReadAccess("base", func(m *posegraph.Map) error {
		test.That(t, m.NumMissions(), test.ShouldEqual, 2)
		_, ok := m.Mission(subMission)
		test.That(t, ok, test.ShouldBeTrue)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mgr.HasMap("sub"), test.ShouldBeTrue)
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	mgr := New()
	m, id := singleMissionMap("a", 1, 2)
	test.That(t, mgr.AddMap("a", m), test.ShouldBeNil)

	dir := t.TempDir()
	size, err := mgr.SaveMapToFolder(ctx, "a", dir, posegraph.WriteOptions{Compress: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldBeGreaterThan, 0)

	_, err = mgr.SaveMapToFolder(ctx, "missing", dir, posegraph.WriteOptions{})
	test.That(t, errors.Is(err, ErrMapNotFound), test.ShouldBeTrue)

	test.That(t, mgr.LoadMapFromFolder(ctx, dir, "copy"), test.ShouldBeNil)
	test.That(t, errors.Is(mgr.LoadMapFromFolder(ctx, dir, "copy"), ErrMapExists), test.ShouldBeTrue)
	test.That(t, mgr.LoadMapFromFolder(ctx, t.TempDir(), "empty"), test.ShouldNotBeNil)
	test.That(t, mgr.HasMap("empty"), test.ShouldBeFalse)

	err = mgr.WithReadAccess("copy", func(loaded *posegraph.Map) error {
		mission, ok := loaded.Mission(id)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, len(mission.Vertices), test.ShouldEqual, 2)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
}

func TestConcurrentWriters(t *testing.T) {
	mgr := New()
	m, id := singleMissionMap("a")
	test.That(t, mgr.AddMap("a", m), test.ShouldBeNil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			_ = mgr.WithWriteAccess("a", func(m *posegraph.Map) error {
				mission, _ := m.Mission(id)
				mission.AddVertices(posegraph.Vertex{TimestampNs: ts, MissionFromBody: spatialmath.NewZeroPose()})
				return nil
			})
		}(int64(i))
	}
	wg.Wait()

	err := mgr.WithReadAccess("a", func(m *posegraph.Map) error {
		mission, _ := m.Mission(id)
		test.That(t, len(mission.Vertices), test.ShouldEqual, 50)
		return errors.New("passed through")
	})
	test.That(t, err, test.ShouldBeError, errors.New("passed through"))
}
