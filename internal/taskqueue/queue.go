// Package taskqueue runs storage writes off the hub goroutine. Tasks are
// sharded into lanes by key, so work submitted for one key runs in
// submission order while different keys proceed in parallel.
package taskqueue

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("task queue closed")

// Task is one unit of work. ctx is the queue's base context.
type Task func(ctx context.Context)

type job struct {
	key  string
	task Task
}

// lane is an unbounded FIFO drained by one worker.
type lane struct {
	mu      sync.Mutex
	backlog []job
	wake    chan struct{}
}

// Queue is a fixed set of ordered lanes, one worker each.
type Queue struct {
	ctx       context.Context
	lanes     []*lane
	highWater int
	done      chan struct{}
	wg        conc.WaitGroup
	log       *zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// New starts workers lanes. Submit never blocks: a lane whose backlog
// reaches highWater tasks logs a warning and keeps growing.
// Tasks keep running on ctx after Close until their lane drains.
func New(ctx context.Context, workers, highWater int, logger *zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if highWater <= 0 {
		highWater = 1
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "taskqueue").Logger()
	q := &Queue{
		ctx:       ctx,
		lanes:     make([]*lane, workers),
		highWater: highWater,
		done:      make(chan struct{}),
		log:       &l,
	}
	for i := range q.lanes {
		ln := &lane{wake: make(chan struct{}, 1)}
		q.lanes[i] = ln
		q.wg.Go(func() { q.work(ln) })
	}
	return q
}

// Submit appends task to the lane owning key and returns at once.
func (q *Queue) Submit(key string, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	ln := q.lanes[q.laneFor(key)]
	ln.mu.Lock()
	ln.backlog = append(ln.backlog, job{key: key, task: task})
	depth := len(ln.backlog)
	ln.mu.Unlock()

	select {
	case ln.wake <- struct{}{}:
	default:
	}
	if depth == q.highWater {
		q.log.Warn().Str("key", key).Int("depth", depth).Msg("lane backlog reached high water")
	}
	return nil
}

// Pending reports the number of tasks not yet started.
func (q *Queue) Pending() int {
	n := 0
	for _, ln := range q.lanes {
		ln.mu.Lock()
		n += len(ln.backlog)
		ln.mu.Unlock()
	}
	return n
}

// Close stops accepting tasks and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) laneFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.lanes)))
}

func (q *Queue) work(ln *lane) {
	for {
		ln.mu.Lock()
		var next job
		ok := len(ln.backlog) > 0
		if ok {
			next = ln.backlog[0]
			ln.backlog[0] = job{}
			ln.backlog = ln.backlog[1:]
		}
		ln.mu.Unlock()

		if ok {
			q.run(next)
			continue
		}

		select {
		case <-ln.wake:
			continue
		case <-q.done:
		}
		// Close waits out in-flight Submits, so an empty lane stays empty.
		ln.mu.Lock()
		empty := len(ln.backlog) == 0
		ln.mu.Unlock()
		if empty {
			return
		}
	}
}

func (q *Queue) run(j job) {
	if r := panics.Try(func() { j.task(q.ctx) }); r != nil {
		q.log.Error().
			Str("key", j.key).
			Interface("panic", r.Value).
			Str("stack", string(r.Stack)).
			Msg("task panicked")
	}
}
