// Package posegraph contains the map model the server ingests and merges: missions, the
// sensors mounted on each mission's robot, and the timestamped body poses along its trajectory.
package posegraph

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/rdk/spatialmath"
)

// ErrInvalidSubmap is returned when a map cannot be merged into another map.
var ErrInvalidSubmap = errors.New("invalid submap")

// SensorType identifies the kind of a sensor attached to a mission.
type SensorType int

// The sensor kinds a mission can carry.
const (
	SensorTypeUnknown SensorType = iota
	NCamera
	IMU
	Lidar
	Odometry6DoF
)

var sensorTypeNames = map[SensorType]string{
	NCamera:      "ncamera",
	IMU:          "imu",
	Lidar:        "lidar",
	Odometry6DoF: "odometry_6dof",
}

func (st SensorType) String() string {
	if name, ok := sensorTypeNames[st]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the sensor type by name.
func (st SensorType) MarshalText() ([]byte, error) {
	if _, ok := sensorTypeNames[st]; !ok {
		return nil, errors.Errorf("cannot marshal sensor type %d", int(st))
	}
	return []byte(st.String()), nil
}

// UnmarshalText decodes a sensor type name.
func (st *SensorType) UnmarshalText(text []byte) error {
	parsed, err := ParseSensorType(string(text))
	if err != nil {
		return err
	}
	*st = parsed
	return nil
}

// ParseSensorType returns the sensor type with the given name.
func ParseSensorType(name string) (SensorType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for st, stName := range sensorTypeNames {
		if stName == name {
			return st, nil
		}
	}
	return SensorTypeUnknown, errors.Errorf("unknown sensor type %q", name)
}

// Vertex is one pose of the robot body along a mission, expressed in the mission frame.
type Vertex struct {
	TimestampNs     int64
	MissionFromBody spatialmath.Pose
}

// Sensor is a sensor rigidly mounted on the robot body.
type Sensor struct {
	ID             uuid.UUID
	Type           SensorType
	BodyFromSensor spatialmath.Pose
}

// BaseFrame anchors a mission frame in the global frame of the map.
type BaseFrame struct {
	GlobalFromMission spatialmath.Pose
	// Known is set once the mission frame has been anchored to the global frame.
	Known bool
}

// Mission is the trajectory and sensor setup of one robot session.
type Mission struct {
	ID        uuid.UUID
	RobotName string
	BaseFrame BaseFrame
	Sensors   map[SensorType]*Sensor
	// Vertices are sorted by timestamp, without duplicate timestamps.
	Vertices []Vertex
}

// NewMission returns an empty mission with an unknown base frame at the origin.
func NewMission(id uuid.UUID, robotName string) *Mission {
	return &Mission{
		ID:        id,
		RobotName: robotName,
		BaseFrame: BaseFrame{GlobalFromMission: spatialmath.NewZeroPose()},
		Sensors:   map[SensorType]*Sensor{},
	}
}

// HasSensor returns whether a sensor of the given type is mounted.
func (m *Mission) HasSensor(st SensorType) bool {
	_, ok := m.Sensors[st]
	return ok
}

// AddVertices inserts vertices, keeping the trajectory sorted and dropping any vertex
// whose timestamp is already present.
func (m *Mission) AddVertices(vertices ...Vertex) {
	m.Vertices = append(m.Vertices, vertices...)
	m.normalizeVertices()
}

func (m *Mission) normalizeVertices() {
	sort.SliceStable(m.Vertices, func(i, j int) bool {
		return m.Vertices[i].TimestampNs < m.Vertices[j].TimestampNs
	})
	deduped := m.Vertices[:0]
	for i, v := range m.Vertices {
		if i > 0 && v.TimestampNs == deduped[len(deduped)-1].TimestampNs {
			continue
		}
		deduped = append(deduped, v)
	}
	m.Vertices = deduped
}

// TimeRange returns the first and last vertex timestamps.
func (m *Mission) TimeRange() (int64, int64, bool) {
	if len(m.Vertices) == 0 {
		return 0, 0, false
	}
	return m.Vertices[0].TimestampNs, m.Vertices[len(m.Vertices)-1].TimestampNs, true
}

func (m *Mission) validate() error {
	if m.ID == uuid.Nil {
		return errors.New("mission has no id")
	}
	if m.BaseFrame.GlobalFromMission == nil {
		return errors.Errorf("mission %s has no base frame pose", m.ID)
	}
	for st, sensor := range m.Sensors {
		if sensor == nil || sensor.BodyFromSensor == nil {
			return errors.Errorf("mission %s has an incomplete %s sensor", m.ID, st)
		}
	}
	for i, v := range m.Vertices {
		if v.MissionFromBody == nil {
			return errors.Errorf("mission %s vertex %d has no pose", m.ID, i)
		}
		if i > 0 && v.TimestampNs <= m.Vertices[i-1].TimestampNs {
			return errors.Errorf("mission %s vertices are not strictly increasing in time at index %d", m.ID, i)
		}
	}
	return nil
}

// Map is a set of missions in a shared global frame.
type Map struct {
	missions map[uuid.UUID]*Mission
	order    []uuid.UUID
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{missions: map[uuid.UUID]*Mission{}}
}

// AddMission adds a mission to the map.
func (m *Map) AddMission(mission *Mission) error {
	if mission == nil {
		return errors.New("cannot add nil mission")
	}
	if _, ok := m.missions[mission.ID]; ok {
		return errors.Errorf("mission %s already exists", mission.ID)
	}
	if mission.Sensors == nil {
		mission.Sensors = map[SensorType]*Sensor{}
	}
	m.missions[mission.ID] = mission
	m.order = append(m.order, mission.ID)
	return nil
}

// RemoveMission deletes a mission from the map.
func (m *Map) RemoveMission(id uuid.UUID) bool {
	if _, ok := m.missions[id]; !ok {
		return false
	}
	delete(m.missions, id)
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// NumMissions returns the number of missions in the map.
func (m *Map) NumMissions() int {
	return len(m.order)
}

// MissionIDs returns the mission ids in insertion order.
func (m *Map) MissionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(m.order))
	copy(ids, m.order)
	return ids
}

// Mission returns the mission with the given id.
func (m *Map) Mission(id uuid.UUID) (*Mission, bool) {
	mission, ok := m.missions[id]
	return mission, ok
}

// FirstMission returns the mission that was added first.
func (m *Map) FirstMission() (*Mission, error) {
	if len(m.order) == 0 {
		return nil, errors.New("map has no missions")
	}
	return m.missions[m.order[0]], nil
}

// Validate checks the structural consistency of every mission.
func (m *Map) Validate() error {
	for _, id := range m.order {
		if err := m.missions[id].validate(); err != nil {
			return err
		}
	}
	return nil
}

// MergeSubmap folds the missions of sub into m. A mission already present in m is extended
// with the submap's vertices and sensors; a new mission is added with an unknown base frame.
// The map is left untouched if the submap is invalid.
func (m *Map) MergeSubmap(sub *Map) error {
	if sub == nil || sub.NumMissions() == 0 {
		return errors.Wrap(ErrInvalidSubmap, "submap has no missions")
	}
	if err := sub.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidSubmap, "%v", err)
	}
	for _, id := range sub.order {
		subMission := sub.missions[id]
		existing, ok := m.missions[id]
		if !ok {
			added := cloneMission(subMission)
			added.BaseFrame.Known = false
			if err := m.AddMission(added); err != nil {
				return err
			}
			continue
		}
		for st, sensor := range subMission.Sensors {
			if _, has := existing.Sensors[st]; !has {
				s := *sensor
				existing.Sensors[st] = &s
			}
		}
		existing.AddVertices(subMission.Vertices...)
	}
	return nil
}

func cloneMission(mission *Mission) *Mission {
	clone := &Mission{
		ID:        mission.ID,
		RobotName: mission.RobotName,
		BaseFrame: mission.BaseFrame,
		Sensors:   make(map[SensorType]*Sensor, len(mission.Sensors)),
		Vertices:  make([]Vertex, len(mission.Vertices)),
	}
	for st, sensor := range mission.Sensors {
		s := *sensor
		clone.Sensors[st] = &s
	}
	copy(clone.Vertices, mission.Vertices)
	return clone
}
