package mapserver

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// submapRecord tracks one submap from submission until it is merged into the shared map.
// The flags only ever go from false to true, in the order loaded, processed, merged.
type submapRecord struct {
	path        string
	robotName   string
	mapHash     uint64
	mapKey      string
	submittedAt time.Time

	// mu is held by whichever of the worker or the merge loop currently owns the record.
	mu sync.Mutex

	loaded         atomic.Bool
	processed      atomic.Bool
	merged         atomic.Bool
	failedCommands atomic.Int32
}

func newSubmapRecord(robotName, path string, now time.Time) *submapRecord {
	hash := xxhash.Sum64String(path)
	return &submapRecord{
		path:        path,
		robotName:   robotName,
		mapHash:     hash,
		mapKey:      robotName + "_" + strconv.FormatUint(hash, 10),
		submittedAt: now,
	}
}

func (r *submapRecord) setLoaded() error {
	if !r.loaded.CompareAndSwap(false, true) {
		return newInvariantError("load", "submap %q was already loaded", r.mapKey)
	}
	return nil
}

func (r *submapRecord) setProcessed() error {
	if !r.loaded.Load() {
		return newInvariantError("process", "submap %q processed before it was loaded", r.mapKey)
	}
	if !r.processed.CompareAndSwap(false, true) {
		return newInvariantError("process", "submap %q was already processed", r.mapKey)
	}
	return nil
}

func (r *submapRecord) setMerged() error {
	if !r.processed.Load() {
		return newInvariantError("merge", "submap %q merged before it was processed", r.mapKey)
	}
	if !r.merged.CompareAndSwap(false, true) {
		return newInvariantError("merge", "submap %q was already merged", r.mapKey)
	}
	return nil
}

func (r *submapRecord) readyToMerge() bool {
	return r.loaded.Load() && r.processed.Load()
}

// submapQueue is the arrival-ordered list of in-flight submaps. Its lock only guards the
// slice; it is never held while a record is loaded, processed or merged.
type submapQueue struct {
	mu      sync.Mutex
	records []*submapRecord
}

func (q *submapQueue) push(r *submapRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, r)
}

func (q *submapQueue) front() *submapRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return nil
	}
	return q.records[0]
}

// popFront removes r, which must be the head of the queue.
func (q *submapQueue) popFront(r *submapRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 || q.records[0] != r {
		return newInvariantError("pop", "submap %q is not at the head of the queue", r.mapKey)
	}
	q.records[0] = nil
	q.records = q.records[1:]
	return nil
}

func (q *submapQueue) snapshot() []*submapRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	records := make([]*submapRecord, len(q.records))
	copy(records, q.records)
	return records
}

func (q *submapQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
