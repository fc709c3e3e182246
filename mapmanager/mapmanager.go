// Package mapmanager holds the named maps of a server and guards concurrent access to them.
package mapmanager

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"

	"go.viam.com/mapserver/posegraph"
)

var (
	// ErrMapNotFound is returned when no map is stored under a key.
	ErrMapNotFound = errors.New("map not found")
	// ErrMapExists is returned when a key is already in use.
	ErrMapExists = errors.New("map already exists")
	// ErrMergeIntoSelf is returned when a map is merged into itself.
	ErrMergeIntoSelf = errors.New("cannot merge a map into itself")
)

type entry struct {
	mu sync.RWMutex
	m  *posegraph.Map
}

// Manager is a keyed store of maps. The store's structure and each map have their own lock,
// so callbacks given to WithReadAccess and WithWriteAccess only block users of the same map.
// Callbacks must not call back into the Manager.
type Manager struct {
	mu   sync.RWMutex
	maps map[string]*entry
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{maps: map[string]*entry{}}
}

func (mgr *Manager) get(key string) (*entry, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	e, ok := mgr.maps[key]
	if !ok {
		return nil, errors.Wrapf(ErrMapNotFound, "%q", key)
	}
	return e, nil
}

// HasMap returns whether a map is stored under key.
func (mgr *Manager) HasMap(key string) bool {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	_, ok := mgr.maps[key]
	return ok
}

// MapKeys returns the stored keys in sorted order.
func (mgr *Manager) MapKeys() []string {
	mgr.mu.RLock()
	keys := lo.Keys(mgr.maps)
	mgr.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// AddMap stores m under key.
func (mgr *Manager) AddMap(key string, m *posegraph.Map) error {
	if m == nil {
		return errors.New("cannot add nil map")
	}
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if _, ok := mgr.maps[key]; ok {
		return errors.Wrapf(ErrMapExists, "%q", key)
	}
	mgr.maps[key] = &entry{m: m}
	return nil
}

// LoadMapFromFolder reads the map stored in folder and adds it under key.
func (mgr *Manager) LoadMapFromFolder(ctx context.Context, folder, key string) error {
	_, span := trace.StartSpan(ctx, "mapmanager::LoadMapFromFolder")
	defer span.End()

	if mgr.HasMap(key) {
		return errors.Wrapf(ErrMapExists, "%q", key)
	}
	m, err := posegraph.ReadFolder(folder)
	if err != nil {
		return errors.Wrapf(err, "cannot load map %q", key)
	}
	return mgr.AddMap(key, m)
}

// SaveMapToFolder writes the map stored under key to folder and returns the written size in bytes.
func (mgr *Manager) SaveMapToFolder(ctx context.Context, key, folder string, opts posegraph.WriteOptions) (int64, error) {
	_, span := trace.StartSpan(ctx, "mapmanager::SaveMapToFolder")
	defer span.End()

	var size int64
	err := mgr.WithReadAccess(key, func(m *posegraph.Map) error {
		var err error
		size, err = posegraph.WriteFolder(m, folder, opts)
		return err
	})
	if err != nil {
		return 0, errors.Wrapf(err, "cannot save map %q to %s", key, folder)
	}
	return size, nil
}

// RenameMap moves the map stored under oldKey to newKey.
func (mgr *Manager) RenameMap(oldKey, newKey string) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	e, ok := mgr.maps[oldKey]
	if !ok {
		return errors.Wrapf(ErrMapNotFound, "%q", oldKey)
	}
	if _, ok := mgr.maps[newKey]; ok {
		return errors.Wrapf(ErrMapExists, "%q", newKey)
	}
	delete(mgr.maps, oldKey)
	mgr.maps[newKey] = e
	return nil
}

// DeleteMap removes the map stored under key. Holders of the map's lock finish undisturbed.
func (mgr *Manager) DeleteMap(key string) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if _, ok := mgr.maps[key]; !ok {
		return errors.Wrapf(ErrMapNotFound, "%q", key)
	}
	delete(mgr.maps, key)
	return nil
}

// MergeSubmapIntoBaseMap merges the map stored under subKey into the map stored under baseKey.
// The submap stays in the store. Every error it returns is permanent for the given keys.
func (mgr *Manager) MergeSubmapIntoBaseMap(baseKey, subKey string) error {
	if baseKey == subKey {
		return errors.Wrapf(ErrMergeIntoSelf, "%q", baseKey)
	}
	base, err := mgr.get(baseKey)
	if err != nil {
		return err
	}
	sub, err := mgr.get(subKey)
	if err != nil {
		return err
	}
	sub.mu.RLock()
	defer sub.mu.RUnlock()
	base.mu.Lock()
	defer base.mu.Unlock()
	return base.m.MergeSubmap(sub.m)
}

// WithReadAccess runs fn while holding a shared lock on the map stored under key.
func (mgr *Manager) WithReadAccess(key string, fn func(m *posegraph.Map) error) error {
	e, err := mgr.get(key)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.m)
}

// WithWriteAccess runs fn while holding an exclusive lock on the map stored under key.
func (mgr *Manager) WithWriteAccess(key string, fn func(m *posegraph.Map) error) error {
	e, err := mgr.get(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.m)
}
