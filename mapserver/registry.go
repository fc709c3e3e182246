package mapserver

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// robotRegistry maps each robot to the mission its latest merged submap contributed.
// Only the merge loop writes to it.
type robotRegistry struct {
	mu       sync.RWMutex
	missions map[string]uuid.UUID
}

func newRobotRegistry() *robotRegistry {
	return &robotRegistry{missions: map[string]uuid.UUID{}}
}

func (rr *robotRegistry) set(robotName string, missionID uuid.UUID) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.missions[robotName] = missionID
}

func (rr *robotRegistry) get(robotName string) (uuid.UUID, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	id, ok := rr.missions[robotName]
	return id, ok
}

// RobotMission is one entry of the robot registry.
type RobotMission struct {
	RobotName string    `json:"robot_name"`
	MissionID uuid.UUID `json:"mission_id"`
}

func (rr *robotRegistry) snapshot() []RobotMission {
	rr.mu.RLock()
	entries := lo.MapToSlice(rr.missions, func(robot string, id uuid.UUID) RobotMission {
		return RobotMission{RobotName: robot, MissionID: id}
	})
	rr.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].RobotName < entries[j].RobotName })
	return entries
}

// commandLedger records the command currently running on each submap, keyed by map hash.
type commandLedger struct {
	mu      sync.Mutex
	running map[uint64]string
}

func newCommandLedger() *commandLedger {
	return &commandLedger{running: map[uint64]string{}}
}

func (cl *commandLedger) set(mapHash uint64, command string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.running[mapHash] = command
}

func (cl *commandLedger) clear(mapHash uint64) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.running, mapHash)
}

// SubmapCommand is one entry of the command ledger.
type SubmapCommand struct {
	MapHash uint64 `json:"map_hash"`
	Command string `json:"command"`
}

func (cl *commandLedger) snapshot() []SubmapCommand {
	cl.mu.Lock()
	entries := lo.MapToSlice(cl.running, func(hash uint64, command string) SubmapCommand {
		return SubmapCommand{MapHash: hash, Command: command}
	})
	cl.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].MapHash < entries[j].MapHash })
	return entries
}

// mergeActivity is the merge loop's busy flag and the single slot naming what it is doing.
type mergeActivity struct {
	mu      sync.Mutex
	busy    bool
	command string
}

func (ma *mergeActivity) setBusy(busy bool) {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.busy = busy
	if !busy {
		ma.command = ""
	}
}

func (ma *mergeActivity) setCommand(command string) {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.command = command
}

func (ma *mergeActivity) get() (bool, string) {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	return ma.busy, ma.command
}
