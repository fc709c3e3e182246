package posegraph

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rdk/spatialmath"
)

const (
	// DocumentName is the name of the uncompressed map document inside a map folder.
	DocumentName = "map.json"
	// CompressedDocumentName is the name of the zstd compressed map document.
	CompressedDocumentName = DocumentName + ".zst"

	formatVersion = 1
)

// WriteOptions controls how a map is written to a folder.
type WriteOptions struct {
	// Compress writes the document zstd compressed.
	Compress bool
	// ResourceFolder is recorded in the document as the location of external resources.
	// Nothing is read from or written to it.
	ResourceFolder string
}

type vectorJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quaternionJSON struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type poseJSON struct {
	Translation vectorJSON      `json:"translation"`
	Rotation    *quaternionJSON `json:"rotation,omitempty"`
}

type sensorJSON struct {
	ID             uuid.UUID  `json:"id"`
	Type           SensorType `json:"type"`
	BodyFromSensor poseJSON   `json:"body_from_sensor"`
}

type vertexJSON struct {
	TimestampNs     int64    `json:"timestamp_ns"`
	MissionFromBody poseJSON `json:"mission_from_body"`
}

type baseFrameJSON struct {
	Known             bool     `json:"known"`
	GlobalFromMission poseJSON `json:"global_from_mission"`
}

type missionJSON struct {
	ID        uuid.UUID     `json:"id"`
	RobotName string        `json:"robot_name"`
	BaseFrame baseFrameJSON `json:"base_frame"`
	Sensors   []sensorJSON  `json:"sensors,omitempty"`
	Vertices  []vertexJSON  `json:"vertices,omitempty"`
}

type mapJSON struct {
	Version        int           `json:"version"`
	ResourceFolder string        `json:"resource_folder,omitempty"`
	Missions       []missionJSON `json:"missions"`
}

func poseToJSON(p spatialmath.Pose) poseJSON {
	pt := p.Point()
	q := p.Orientation().Quaternion()
	return poseJSON{
		Translation: vectorJSON{X: pt.X, Y: pt.Y, Z: pt.Z},
		Rotation:    &quaternionJSON{W: q.Real, X: q.Imag, Y: q.Jmag, Z: q.Kmag},
	}
}

func poseFromJSON(p poseJSON) spatialmath.Pose {
	pt := r3.Vector{X: p.Translation.X, Y: p.Translation.Y, Z: p.Translation.Z}
	if p.Rotation == nil {
		return spatialmath.NewPoseFromPoint(pt)
	}
	aa := spatialmath.QuatToR4AA(quat.Number{Real: p.Rotation.W, Imag: p.Rotation.X, Jmag: p.Rotation.Y, Kmag: p.Rotation.Z})
	return spatialmath.NewPose(pt, aa)
}

// Marshal encodes a map document.
func Marshal(m *Map, opts WriteOptions) ([]byte, error) {
	doc := mapJSON{Version: formatVersion, ResourceFolder: opts.ResourceFolder, Missions: []missionJSON{}}
	for _, id := range m.order {
		mission := m.missions[id]
		mj := missionJSON{
			ID:        mission.ID,
			RobotName: mission.RobotName,
			BaseFrame: baseFrameJSON{
				Known:             mission.BaseFrame.Known,
				GlobalFromMission: poseToJSON(mission.BaseFrame.GlobalFromMission),
			},
		}
		for _, st := range []SensorType{NCamera, IMU, Lidar, Odometry6DoF} {
			sensor, ok := mission.Sensors[st]
			if !ok {
				continue
			}
			mj.Sensors = append(mj.Sensors, sensorJSON{
				ID:             sensor.ID,
				Type:           st,
				BodyFromSensor: poseToJSON(sensor.BodyFromSensor),
			})
		}
		for _, v := range mission.Vertices {
			mj.Vertices = append(mj.Vertices, vertexJSON{TimestampNs: v.TimestampNs, MissionFromBody: poseToJSON(v.MissionFromBody)})
		}
		doc.Missions = append(doc.Missions, mj)
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Unmarshal decodes a map document.
func Unmarshal(data []byte) (*Map, error) {
	var doc mapJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "cannot decode map document")
	}
	if doc.Version != formatVersion {
		return nil, errors.Errorf("unsupported map document version %d", doc.Version)
	}
	m := NewMap()
	for _, mj := range doc.Missions {
		mission := NewMission(mj.ID, mj.RobotName)
		mission.BaseFrame = BaseFrame{
			Known:             mj.BaseFrame.Known,
			GlobalFromMission: poseFromJSON(mj.BaseFrame.GlobalFromMission),
		}
		for _, sj := range mj.Sensors {
			if sj.Type == SensorTypeUnknown {
				return nil, errors.Errorf("mission %s has a sensor without a type", mj.ID)
			}
			mission.Sensors[sj.Type] = &Sensor{ID: sj.ID, Type: sj.Type, BodyFromSensor: poseFromJSON(sj.BodyFromSensor)}
		}
		for _, vj := range mj.Vertices {
			mission.Vertices = append(mission.Vertices, Vertex{TimestampNs: vj.TimestampNs, MissionFromBody: poseFromJSON(vj.MissionFromBody)})
		}
		mission.normalizeVertices()
		if err := m.AddMission(mission); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadFolder loads the map stored in folder. A compressed document is preferred when both exist.
func ReadFolder(folder string) (*Map, error) {
	compressedPath := filepath.Join(folder, CompressedDocumentName)
	//nolint:gosec
	if f, err := os.Open(compressedPath); err == nil {
		defer func() {
			_ = f.Close()
		}()
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open %s", compressedPath)
		}
		defer dec.Close()
		data, err := io.ReadAll(dec)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot decompress %s", compressedPath)
		}
		return Unmarshal(data)
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "cannot open %s", compressedPath)
	}

	plainPath := filepath.Join(folder, DocumentName)
	//nolint:gosec
	data, err := os.ReadFile(plainPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read map from %s", folder)
	}
	return Unmarshal(data)
}

// WriteFolder stores the map in folder, replacing any previous document atomically, and returns
// the number of bytes written.
func WriteFolder(m *Map, folder string, opts WriteOptions) (int64, error) {
	data, err := Marshal(m, opts)
	if err != nil {
		return 0, err
	}
	name, stale := DocumentName, CompressedDocumentName
	if opts.Compress {
		var buf bytes.Buffer
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			return 0, err
		}
		if _, err := enc.Write(data); err != nil {
			return 0, err
		}
		if err := enc.Close(); err != nil {
			return 0, err
		}
		data = buf.Bytes()
		name, stale = CompressedDocumentName, DocumentName
	}

	if err := os.MkdirAll(folder, 0o750); err != nil {
		return 0, errors.Wrapf(err, "cannot create map folder %s", folder)
	}
	tmp, err := os.CreateTemp(folder, "."+name+".*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, errors.Wrapf(err, "cannot write %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, filepath.Join(folder, name)); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := os.Remove(filepath.Join(folder, stale)); err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return int64(len(data)), nil
}
