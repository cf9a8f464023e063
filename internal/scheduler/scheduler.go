// Package scheduler implements the Lane Scheduler and Heavy Task Queue:
// per-lane FIFO serialization for ordinary requests, plus a bounded
// single-worker queue for long-running background jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LaneKey identifies an independent FIFO execution lane. Commands
// submitted to the same lane run strictly in submission order; lanes
// run concurrently with each other.
type LaneKey string

// LaneMain is the default lane for cron-triggered and system-initiated work.
const LaneMain LaneKey = "main"

// SessionLane derives a per-client lane key so concurrent messages
// from the same chat session never interleave.
func SessionLane(clientID string) LaneKey {
	return LaneKey("session:" + clientID)
}

type job struct {
	run  func(context.Context) (any, error)
	resp chan result
}

type result struct {
	val any
	err error
}

type lane struct {
	queue chan job
}

// Scheduler fans requests out across independent FIFO lanes, each
// drained by its own goroutine, so that work on one lane never blocks
// another.
type Scheduler struct {
	mu    sync.Mutex
	lanes map[LaneKey]*lane
}

// New creates an empty Scheduler. Lanes are created lazily on first use.
func New() *Scheduler {
	return &Scheduler{lanes: make(map[LaneKey]*lane)}
}

func (s *Scheduler) laneFor(key LaneKey) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lanes[key]; ok {
		return l
	}
	l := &lane{queue: make(chan job, 64)}
	s.lanes[key] = l
	go s.drain(key, l)
	return l
}

func (s *Scheduler) drain(key LaneKey, l *lane) {
	for j := range l.queue {
		start := time.Now()
		val, err := j.run(context.Background())
		if d := time.Since(start); d > 30*time.Second {
			slog.Warn("lane task took a long time", "lane", key, "duration", d)
		}
		j.resp <- result{val: val, err: err}
	}
}

// Schedule enqueues cmd on lane and blocks until it runs and returns,
// ctx is cancelled, or warnAfter elapses (in which case a warning is
// logged but the wait continues — the caller is still blocked on the
// lane's FIFO order).
func (s *Scheduler) Schedule(ctx context.Context, key LaneKey, cmd func(context.Context) (any, error), warnAfter time.Duration) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.laneFor(key)
	j := job{run: cmd, resp: make(chan result, 1)}

	var timer *time.Timer
	var warnCh <-chan time.Time
	if warnAfter > 0 {
		timer = time.NewTimer(warnAfter)
		warnCh = timer.C
		defer timer.Stop()
	}

	select {
	case l.queue <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		select {
		case r := <-j.resp:
			return r.val, r.err
		case <-warnCh:
			slog.Warn("lane queue wait exceeded threshold", "lane", key, "after", warnAfter)
			warnCh = nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// HeavyTask is a unit of background work submitted to the Heavy Task
// Queue (memory distillation, archival embedding, long tool runs).
type HeavyTask struct {
	ID      string
	Kind    string
	Run     func(context.Context) error
	Created time.Time
}

// HeavyQueue is a bounded, single-worker background job runner. Tasks
// enqueue instantly and run strictly one at a time, in submission
// order, so the daemon never runs two heavy jobs concurrently.
type HeavyQueue struct {
	tasks chan HeavyTask
	mu    sync.RWMutex
	state map[string]error // terminal error of each failed task; absent while pending/running and after success (see done)
	done  map[string]bool
}

// NewHeavyQueue starts a HeavyQueue with the given backlog capacity.
func NewHeavyQueue(capacity int) *HeavyQueue {
	q := &HeavyQueue{
		tasks: make(chan HeavyTask, capacity),
		state: make(map[string]error),
		done:  make(map[string]bool),
	}
	go q.worker()
	return q
}

func (q *HeavyQueue) worker() {
	for t := range q.tasks {
		err := t.Run(context.Background())
		q.mu.Lock()
		q.done[t.ID] = true
		if err != nil {
			q.state[t.ID] = err
			slog.Warn("heavy task failed", "task", t.Kind, "id", t.ID, "error", err)
		}
		q.mu.Unlock()
	}
}

// Enqueue submits a task and returns its ID immediately without
// waiting for it to run.
func (q *HeavyQueue) Enqueue(kind string, run func(context.Context) error) (string, error) {
	id := uuid.NewString()
	t := HeavyTask{ID: id, Kind: kind, Run: run, Created: time.Now()}
	select {
	case q.tasks <- t:
		return id, nil
	default:
		return "", fmt.Errorf("heavy task queue full")
	}
}

// Status reports whether a task has finished and its terminal error, if any.
func (q *HeavyQueue) Status(id string) (done bool, err error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.done[id], q.state[id]
}
