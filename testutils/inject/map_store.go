package inject

import (
	"context"

	"go.viam.com/mapserver/mapmanager"
	"go.viam.com/mapserver/posegraph"
)

// MapStore is an injected map store backed by a real map manager.
type MapStore struct {
	*mapmanager.Manager
	HasMapFunc                 func(key string) bool
	LoadMapFromFolderFunc      func(ctx context.Context, folder, key string) error
	SaveMapToFolderFunc        func(ctx context.Context, key, folder string, opts posegraph.WriteOptions) (int64, error)
	RenameMapFunc              func(oldKey, newKey string) error
	DeleteMapFunc              func(key string) error
	MergeSubmapIntoBaseMapFunc func(baseKey, subKey string) error
}

// NewMapStore returns a MapStore over an empty map manager.
func NewMapStore() *MapStore {
	return &MapStore{Manager: mapmanager.New()}
}

// HasMap calls the injected HasMap or the real version.
func (s *MapStore) HasMap(key string) bool {
	if s.HasMapFunc == nil {
		return s.Manager.HasMap(key)
	}
	return s.HasMapFunc(key)
}

// LoadMapFromFolder calls the injected LoadMapFromFolder or the real version.
func (s *MapStore) LoadMapFromFolder(ctx context.Context, folder, key string) error {
	if s.LoadMapFromFolderFunc == nil {
		return s.Manager.LoadMapFromFolder(ctx, folder, key)
	}
	return s.LoadMapFromFolderFunc(ctx, folder, key)
}

// SaveMapToFolder calls the injected SaveMapToFolder or the real version.
func (s *MapStore) SaveMapToFolder(ctx context.Context, key, folder string, opts posegraph.WriteOptions) (int64, error) {
	if s.SaveMapToFolderFunc == nil {
		return s.Manager.SaveMapToFolder(ctx, key, folder, opts)
	}
	return s.SaveMapToFolderFunc(ctx, key, folder, opts)
}

// RenameMap calls the injected RenameMap or the real version.
func (s *MapStore) RenameMap(oldKey, newKey string) error {
	if s.RenameMapFunc == nil {
		return s.Manager.RenameMap(oldKey, newKey)
	}
	return s.RenameMapFunc(oldKey, newKey)
}

// DeleteMap calls the injected DeleteMap or the real version.
func (s *MapStore) DeleteMap(key string) error {
	if s.DeleteMapFunc == nil {
		return s.Manager.DeleteMap(key)
	}
	return s.DeleteMapFunc(key)
}

// MergeSubmapIntoBaseMap calls the injected MergeSubmapIntoBaseMap or the real version.
func (s *MapStore) MergeSubmapIntoBaseMap(baseKey, subKey string) error {
	if s.MergeSubmapIntoBaseMapFunc == nil {
		return s.Manager.MergeSubmapIntoBaseMap(baseKey, subKey)
	}
	return s.MergeSubmapIntoBaseMapFunc(baseKey, subKey)
}
