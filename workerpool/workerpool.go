// Package workerpool implements a fixed-size pool of goroutines that run queued tasks, with
// optional mutual exclusion between tasks of the same group.
package workerpool

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
)

// NonExclusiveGroup is the group of tasks that may run concurrently with any other task.
const NonExclusiveGroup uint64 = math.MaxUint64

// ErrPoolStopped is returned when enqueueing into a stopped pool.
var ErrPoolStopped = errors.New("worker pool stopped")

type task struct {
	group uint64
	fn    func()
}

// Pool runs tasks on a fixed number of workers. Tasks start in the order they were enqueued,
// except that a task is held back while another task of its exclusive group is running; later
// tasks of other groups may start ahead of it.
type Pool struct {
	size   int
	logger logging.Logger

	mu           sync.Mutex
	cond         *sync.Cond
	queue        []task
	activeGroups map[uint64]struct{}
	numActive    int
	stopped      bool

	workers *goutils.StoppableWorkers
}

// New starts a pool of size workers.
func New(size int, logger logging.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, errors.Errorf("worker pool size must be positive, got %d", size)
	}
	p := &Pool{
		size:         size,
		logger:       logger,
		activeGroups: map[uint64]struct{}{},
	}
	p.cond = sync.NewCond(&p.mu)
	p.workers = goutils.NewBackgroundStoppableWorkers()
	for i := 0; i < size; i++ {
		p.workers.Add(p.work)
	}
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Enqueue queues fn to run without any exclusivity.
func (p *Pool) Enqueue(fn func()) error {
	return p.EnqueueOrdered(NonExclusiveGroup, fn)
}

// EnqueueOrdered queues fn in group. At most one task of a group other than NonExclusiveGroup
// runs at a time, and tasks of one group start in enqueue order.
func (p *Pool) EnqueueOrdered(group uint64, fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	p.queue = append(p.queue, task{group: group, fn: fn})
	p.cond.Broadcast()
	return nil
}

// NumActive returns the number of tasks currently running.
func (p *Pool) NumActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numActive
}

// QueueLen returns the number of tasks waiting to start.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// WaitForEmptyQueue blocks until no task is queued or running, or ctx is done.
func (p *Pool) WaitForEmptyQueue(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 || p.numActive > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.cond.Wait()
	}
	return nil
}

// Stop rejects new tasks, waits for the queued and running tasks to finish, and stops the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.workers.Stop()
}

// nextRunnable returns the index of the first queued task whose group is free, or -1.
func (p *Pool) nextRunnable() int {
	for i, t := range p.queue {
		if t.group == NonExclusiveGroup {
			return i
		}
		if _, busy := p.activeGroups[t.group]; !busy {
			return i
		}
	}
	return -1
}

func (p *Pool) work(ctx context.Context) {
	for {
		p.mu.Lock()
		idx := p.nextRunnable()
		for idx < 0 {
			if p.stopped && len(p.queue) == 0 {
				p.mu.Unlock()
				return
			}
			p.cond.Wait()
			idx = p.nextRunnable()
		}
		t := p.queue[idx]
		p.queue = append(p.queue[:idx], p.queue[idx+1:]...)
		if t.group != NonExclusiveGroup {
			p.activeGroups[t.group] = struct{}{}
		}
		p.numActive++
		p.mu.Unlock()

		p.run(t)

		p.mu.Lock()
		if t.group != NonExclusiveGroup {
			delete(p.activeGroups, t.group)
		}
		p.numActive--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *Pool) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("task panicked", "group", t.group, "panic", r)
		}
	}()
	t.fn()
}
