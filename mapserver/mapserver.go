// Package mapserver implements the submap aggregation node: submaps handed to the node are
// loaded and processed concurrently by a worker pool, then folded into a single shared map
// strictly in the order they were submitted. The node also answers pose lookups against the
// shared map, reports its status periodically and backs the shared map up to disk.
package mapserver

import (
	"context"

	"github.com/google/uuid"

	"go.viam.com/rdk/spatialmath"

	"go.viam.com/mapserver/posegraph"
)

// MergedMapKey is the store key of the shared map.
const MergedMapKey = "merged_map"

// MapStore is the keyed map container the node loads, merges and saves maps through.
type MapStore interface {
	HasMap(key string) bool
	MapKeys() []string
	LoadMapFromFolder(ctx context.Context, folder, key string) error
	SaveMapToFolder(ctx context.Context, key, folder string, opts posegraph.WriteOptions) (int64, error)
	RenameMap(oldKey, newKey string) error
	DeleteMap(key string) error
	MergeSubmapIntoBaseMap(baseKey, subKey string) error
	WithReadAccess(key string, fn func(m *posegraph.Map) error) error
	WithWriteAccess(key string, fn func(m *posegraph.Map) error) error
}

// CommandRunner runs a named processing command against a stored map.
type CommandRunner interface {
	RunCommand(ctx context.Context, mapKey, command string) error
}

// PoseInterpolator reports the time range of a mission and interpolates its body poses.
type PoseInterpolator interface {
	TimeRange(m *posegraph.Map, missionID uuid.UUID) (int64, int64, error)
	PosesAtTime(m *posegraph.Map, missionID uuid.UUID, timestampsNs []int64) ([]spatialmath.Pose, error)
}
