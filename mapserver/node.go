package mapserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"
	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"

	"go.viam.com/mapserver/workerpool"
)

const maxTrackedLatencies = 512

// Option configures optional behavior of a Node.
type Option func(*Node)

// WithClock sets the clock used for backups, retries and the merge loop's wait.
func WithClock(c clock.Clock) Option {
	return func(n *Node) {
		n.clock = c
	}
}

// WithFatalHandler sets a function called once when the node hits an unrecoverable error.
// It runs on the goroutine that hit the error and must not call Shutdown.
func WithFatalHandler(fn func(error)) Option {
	return func(n *Node) {
		n.onFatal = fn
	}
}

// WithMetricsRegistry registers the node's metrics with reg instead of a private registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(n *Node) {
		n.registry = reg
	}
}

// Node ingests submaps and folds them into the shared map in submission order.
type Node struct {
	cfg          Config
	store        MapStore
	runner       CommandRunner
	interpolator PoseInterpolator

	logger       logging.Logger
	workerLogger logging.Logger
	mergeLogger  logging.Logger
	statusLogger logging.Logger
	lookupLogger logging.Logger

	clock    clock.Clock
	onFatal  func(error)
	registry *prometheus.Registry
	metrics  *nodeMetrics

	queue    submapQueue
	robots   *robotRegistry
	ledger   *commandLedger
	activity mergeActivity
	wake     chan struct{}

	lifecycleMu       sync.Mutex
	running           bool
	stopped           bool
	shutdownRequested atomic.Bool
	pool              *workerpool.Pool
	mergeWorkers      *goutils.StoppableWorkers
	scheduler         gocron.Scheduler

	// owned by the merge loop
	firstSubmapMerged atomic.Bool
	lastBackup        time.Time

	saveMu sync.Mutex

	mergedCount atomic.Int64
	latencyMu   sync.Mutex
	latencies   []float64

	fatalOnce sync.Once
	fatalCh   chan struct{}
	errMu     sync.Mutex
	err       error
}

// New returns a Node that is ready to Start.
func New(
	cfg Config,
	store MapStore,
	runner CommandRunner,
	interpolator PoseInterpolator,
	logger logging.Logger,
	opts ...Option,
) (*Node, error) {
	if err := cfg.Validate("mapserver"); err != nil {
		return nil, err
	}
	if store == nil || runner == nil || interpolator == nil {
		return nil, errors.New("map server node needs a map store, a command runner and a pose interpolator")
	}
	if cfg.SubmapExclusivity == "" {
		cfg.SubmapExclusivity = ExclusivityNonExclusive
	}

	n := &Node{
		cfg:          cfg,
		store:        store,
		runner:       runner,
		interpolator: interpolator,
		logger:       logger,
		workerLogger: logger.Sublogger("worker"),
		mergeLogger:  logger.Sublogger("merge"),
		statusLogger: logger.Sublogger("status"),
		lookupLogger: logger.Sublogger("lookup"),
		clock:        clock.New(),
		robots:       newRobotRegistry(),
		ledger:       newCommandLedger(),
		wake:         make(chan struct{}, 1),
		fatalCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.registry == nil {
		n.registry = prometheus.NewRegistry()
	}
	n.metrics = newNodeMetrics(n.registry)
	return n, nil
}

// Start launches the worker pool, the merge loop and the status reporter.
func (n *Node) Start() error {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()
	if n.shutdownRequested.Load() || n.stopped {
		n.logger.Error("cannot start node, a shutdown has already been requested")
		return ErrShutdown
	}
	if n.running {
		return errors.New("map server node is already running")
	}

	pool, err := workerpool.New(n.cfg.WorkerPoolSize, n.workerLogger)
	if err != nil {
		return err
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		pool.Stop()
		return err
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(n.cfg.StatusInterval),
		gocron.NewTask(n.reportStatus),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		pool.Stop()
		return multierr.Combine(err, scheduler.Shutdown())
	}

	n.pool = pool
	n.scheduler = scheduler
	n.lastBackup = n.clock.Now()

	n.logger.Info("launching merge loop and status reporter")
	n.mergeWorkers = goutils.NewBackgroundStoppableWorkers(n.mergeLoop)
	n.scheduler.Start()
	n.running = true
	return nil
}

// Shutdown stops the merge loop, drains the worker pool and stops the status reporter.
// Work that has not started yet is skipped. Shutdown is safe to call more than once.
func (n *Node) Shutdown() error {
	n.lifecycleMu.Lock()
	n.shutdownRequested.Store(true)
	if !n.running || n.stopped {
		n.stopped = true
		n.lifecycleMu.Unlock()
		return nil
	}
	n.stopped = true
	n.lifecycleMu.Unlock()

	n.logger.Info("shutting down")
	n.logger.Info("stopping merge loop")
	n.mergeWorkers.Stop()
	n.logger.Info("stopping submap workers")
	n.pool.Stop()
	n.logger.Info("stopping status reporter")
	err := n.scheduler.Shutdown()

	n.lifecycleMu.Lock()
	n.running = false
	n.lifecycleMu.Unlock()
	n.logger.Info("shut down")
	return err
}

// Running returns whether the node has been started and not shut down.
func (n *Node) Running() bool {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()
	return n.running && !n.shutdownRequested.Load()
}

// Submit queues the submap stored at path for loading, processing and merging. It returns
// false if the node is not running or is shutting down.
func (n *Node) Submit(robotName, path string) bool {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()

	if n.shutdownRequested.Load() {
		n.logger.Warnw("shutdown was requested, ignoring submap", "path", path, "robot", robotName)
		n.metrics.submapsRejected.Inc()
		return false
	}
	if !n.running {
		n.logger.Warnw("node is not running, ignoring submap", "path", path, "robot", robotName)
		n.metrics.submapsRejected.Inc()
		return false
	}
	if path == "" {
		n.logger.Warnw("ignoring submap without a path", "robot", robotName)
		n.metrics.submapsRejected.Inc()
		return false
	}

	record := newSubmapRecord(robotName, path, n.clock.Now())
	n.queue.push(record)

	group := workerpool.NonExclusiveGroup
	if n.cfg.SubmapExclusivity == ExclusivityPerRobot {
		group = xxhash.Sum64String(robotName)
	}
	if err := n.pool.EnqueueOrdered(group, func() { n.processSubmap(record) }); err != nil {
		// the pool only stops after shutdown was requested, which is excluded above
		n.fatal(newInvariantError("submit", "cannot schedule submap %q: %v", record.mapKey, err))
		return false
	}
	n.metrics.submapsSubmitted.Inc()
	n.metrics.queueLength.Set(float64(n.queue.len()))
	n.logger.Infow("queued submap", "path", path, "robot", robotName, "key", record.mapKey)
	return true
}

// Err returns the error that stopped the pipeline, if any.
func (n *Node) Err() error {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	return n.err
}

// Fatal is closed once the node hits an unrecoverable error.
func (n *Node) Fatal() <-chan struct{} {
	return n.fatalCh
}

// Gatherer returns the registry holding the node's metrics.
func (n *Node) Gatherer() prometheus.Gatherer {
	return n.registry
}

// fatal stops the pipeline after a broken invariant or an unrecoverable store failure.
func (n *Node) fatal(err error) {
	n.fatalOnce.Do(func() {
		n.logger.Errorw("unrecoverable error, stopping the pipeline", "error", err)
		n.shutdownRequested.Store(true)
		n.errMu.Lock()
		n.err = err
		n.errMu.Unlock()
		close(n.fatalCh)
		if n.onFatal != nil {
			n.onFatal(err)
		}
	})
}

func (n *Node) wakeMergeLoop() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Node) recordMergeLatency(d time.Duration) {
	n.latencyMu.Lock()
	defer n.latencyMu.Unlock()
	if len(n.latencies) == maxTrackedLatencies {
		n.latencies = n.latencies[1:]
	}
	n.latencies = append(n.latencies, d.Seconds())
}

func (n *Node) mergeLatencies() []float64 {
	n.latencyMu.Lock()
	defer n.latencyMu.Unlock()
	latencies := make([]float64, len(n.latencies))
	copy(latencies, n.latencies)
	return latencies
}
