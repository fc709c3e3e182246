package mapserver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// SubmapState is the derived processing state of a queued submap.
type SubmapState int

// The states a queued submap moves through.
const (
	QueuedForLoading SubmapState = iota
	Loading
	QueuedForProcessing
	Processing
	ReadyToMerge
	Merging
	Merged
)

var submapStateNames = map[SubmapState]string{
	QueuedForLoading:    "queued for loading",
	Loading:             "loading",
	QueuedForProcessing: "queued for processing",
	Processing:          "processing",
	ReadyToMerge:        "ready to merge",
	Merging:             "merging",
	Merged:              "merged",
}

func (s SubmapState) String() string {
	if name, ok := submapStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s SubmapState) MarshalText() ([]byte, error) {
	if _, ok := submapStateNames[s]; !ok {
		return nil, errors.Errorf("unknown submap state %d", int(s))
	}
	return []byte(s.String()), nil
}

// deriveState combines a record's flags with whether someone currently holds its lock.
func deriveState(loaded, processed, merged, locked bool) SubmapState {
	switch {
	case merged:
		return Merged
	case processed && locked:
		return Merging
	case processed:
		return ReadyToMerge
	case loaded && locked:
		return Processing
	case loaded:
		return QueuedForProcessing
	case locked:
		return Loading
	default:
		return QueuedForLoading
	}
}

// SubmapStatus describes one queued submap.
type SubmapStatus struct {
	RobotName      string      `json:"robot_name"`
	MapKey         string      `json:"map_key"`
	State          SubmapState `json:"state"`
	Locked         bool        `json:"locked"`
	FailedCommands int         `json:"failed_commands"`
}

// StatusSnapshot is a point in time view of the node.
type StatusSnapshot struct {
	Submaps            []SubmapStatus  `json:"submaps"`
	ActiveWorkers      int             `json:"active_workers"`
	TotalWorkers       int             `json:"total_workers"`
	QueuedTasks        int             `json:"queued_tasks"`
	Commands           []SubmapCommand `json:"commands"`
	MergeBusy          bool            `json:"merge_busy"`
	MergeCommand       string          `json:"merge_command,omitempty"`
	Robots             []RobotMission  `json:"robots"`
	SubmapsMerged      int64           `json:"submaps_merged"`
	MergeLatencyMedian time.Duration   `json:"merge_latency_median"`
	MergeLatencyP95    time.Duration   `json:"merge_latency_p95"`
}

// Snapshot collects the current status without waiting on any submap.
func (n *Node) Snapshot() StatusSnapshot {
	snap := StatusSnapshot{
		TotalWorkers:  n.cfg.WorkerPoolSize,
		Commands:      n.ledger.snapshot(),
		Robots:        n.robots.snapshot(),
		SubmapsMerged: n.mergedCount.Load(),
	}
	for _, r := range n.queue.snapshot() {
		locked := true
		if r.mu.TryLock() {
			locked = false
			r.mu.Unlock()
		}
		snap.Submaps = append(snap.Submaps, SubmapStatus{
			RobotName:      r.robotName,
			MapKey:         r.mapKey,
			State:          deriveState(r.loaded.Load(), r.processed.Load(), r.merged.Load(), locked),
			Locked:         locked,
			FailedCommands: int(r.failedCommands.Load()),
		})
	}

	n.lifecycleMu.Lock()
	pool := n.pool
	n.lifecycleMu.Unlock()
	if pool != nil {
		snap.ActiveWorkers = pool.NumActive()
		snap.QueuedTasks = pool.QueueLen()
	}
	snap.MergeBusy, snap.MergeCommand = n.activity.get()

	if latencies := n.mergeLatencies(); len(latencies) > 0 {
		if median, err := stats.Median(latencies); err == nil {
			snap.MergeLatencyMedian = secondsToDuration(median)
		}
		if p95, err := stats.Percentile(latencies, 95); err == nil {
			snap.MergeLatencyP95 = secondsToDuration(p95)
		}
	}
	return snap
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// String renders the snapshot as tables.
func (s StatusSnapshot) String() string {
	var sb strings.Builder

	submaps := table.NewWriter()
	submaps.SetTitle("Submaps")
	submaps.AppendHeader(table.Row{"#", "Robot", "Map", "Lock", "State", "Failed commands"})
	if len(s.Submaps) == 0 {
		submaps.AppendRow(table.Row{"-", "", "no submaps to process or merge", "", "", ""})
	}
	for i, submap := range s.Submaps {
		lock := "unlocked"
		if submap.Locked {
			lock = "locked"
		}
		submaps.AppendRow(table.Row{i + 1, submap.RobotName, submap.MapKey, lock, submap.State.String(), submap.FailedCommands})
	}
	sb.WriteString(submaps.Render())
	sb.WriteString("\n")

	activity := table.NewWriter()
	activity.SetTitle("Activity")
	activity.AppendRow(table.Row{"active submap workers", fmt.Sprintf("%d/%d", s.ActiveWorkers, s.TotalWorkers)})
	activity.AppendRow(table.Row{"waiting submap tasks", s.QueuedTasks})
	for _, cmd := range s.Commands {
		activity.AppendRow(table.Row{"submap " + strconv.FormatUint(cmd.MapHash, 10), cmd.Command})
	}
	merging := "no"
	if s.MergeBusy {
		merging = "yes"
	}
	activity.AppendRow(table.Row{"active merging", merging})
	if s.MergeBusy {
		activity.AppendRow(table.Row{"current merge command", s.MergeCommand})
	}
	activity.AppendRow(table.Row{"submaps merged", s.SubmapsMerged})
	if s.SubmapsMerged > 0 {
		activity.AppendRow(table.Row{"merge latency median", s.MergeLatencyMedian.Round(time.Millisecond)})
		activity.AppendRow(table.Row{"merge latency p95", s.MergeLatencyP95.Round(time.Millisecond)})
	}
	sb.WriteString(activity.Render())
	sb.WriteString("\n")

	robots := table.NewWriter()
	robots.SetTitle("Robot to mission map")
	robots.AppendHeader(table.Row{"Robot", "Mission"})
	if len(s.Robots) == 0 {
		robots.AppendRow(table.Row{"-", "no submap has been merged yet"})
	}
	for _, rm := range s.Robots {
		robots.AppendRow(table.Row{rm.RobotName, rm.MissionID.String()})
	}
	sb.WriteString(robots.Render())
	return sb.String()
}

// Status renders the current snapshot.
func (n *Node) Status() string {
	return n.Snapshot().String()
}

func (n *Node) reportStatus() {
	n.statusLogger.Infof("status:\n%s", n.Status())
}
