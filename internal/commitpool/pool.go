// Package commitpool implements the fixed commit-worker pool: a Task here
// is one table's drained WriteBatch, not a general background
// metadata refresh.
package commitpool

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lakewriter/deltaingest/pkg/errors"
)

var (
	CodeAlreadyRunning = errors.MustNewCode("commitpool.already_running")
	CodeNotRunning     = errors.MustNewCode("commitpool.not_running")
	CodeQueueFull      = errors.MustNewCode("commitpool.queue_full")
)

// Task is one unit of commit work: a drained WriteBatch ready for the
// Commit Coordinator's optimistic-commit loop.
type Task interface {
	Execute(ctx context.Context) error
	GetID() string
}

// Pool runs a fixed number of workers pulling Tasks off a shared channel.
// Per-table serialization is NOT this pool's job (a per-table lock taken
// inside each Task's Execute is what makes that guarantee); the pool only
// bounds how much commit I/O runs concurrently across the whole process.
type Pool struct {
	maxWorkers int
	workers    []*worker
	taskQueue  chan Task
	logger     zerolog.Logger

	mu      sync.RWMutex
	running bool
	stats   Stats
}

// WorkerStats is one worker's per-lifetime counters.
type WorkerStats struct {
	ID             int
	TasksProcessed int64
	TotalWorkTime  time.Duration
	LastTaskTime   time.Time
	Status         string // idle, busy, stopped
}

// Stats tracks pool-wide commit throughput, exposed through the engine's
// metrics() surface.
type Stats struct {
	TotalWorkers    int
	TasksQueued     int
	TasksCompleted  int64
	TasksFailed     int64
	TotalWaitTime   time.Duration
	AverageWaitTime time.Duration
}

type worker struct {
	id        int
	pool      *Pool
	taskQueue <-chan Task
	logger    zerolog.Logger
	stats     WorkerStats
	statsMu   sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// New returns a Pool sized to maxWorkers (clamped to at least 1). The
// caller is responsible for clamping against runtime.NumCPU() before
// calling New.
func New(maxWorkers int, logger zerolog.Logger) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	p := &Pool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan Task, maxWorkers*2),
		logger:     logger,
	}
	p.workers = make([]*worker, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		p.workers[i] = p.newWorker(i)
	}
	p.stats.TotalWorkers = maxWorkers
	return p
}

func (p *Pool) newWorker(id int) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		id:        id,
		pool:      p,
		taskQueue: p.taskQueue,
		logger:    p.logger.With().Int("worker_id", id).Logger(),
		stats:     WorkerStats{ID: id, Status: "idle"},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches every worker goroutine.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New(CodeAlreadyRunning, "commit pool is already running", nil)
	}
	for _, w := range p.workers {
		go w.run()
	}
	p.running = true
	p.logger.Info().Int("max_workers", p.maxWorkers).Msg("commit pool started")
	return nil
}

// Stop cancels every worker and closes the task queue. In-flight tasks are
// allowed to finish; queued-but-undispatched tasks are dropped. Callers
// that need every submitted task to run to completion should drain the
// write queue before calling Stop.
func (p *Pool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return errors.New(CodeNotRunning, "commit pool is not running", nil)
	}
	for _, w := range p.workers {
		w.cancel()
	}
	close(p.taskQueue)
	p.running = false
	p.logger.Info().Msg("commit pool stopped")
	return nil
}

// Submit hands task to the pool. It never blocks: if every worker's buffer
// is full, it returns CodeQueueFull immediately so the caller (the Write
// Queue's dispatcher) can decide whether to retry next cycle.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return errors.New(CodeNotRunning, "commit pool is not running", nil)
	}
	select {
	case p.taskQueue <- task:
		return nil
	default:
		return errors.New(CodeQueueFull, "commit pool task queue is full", nil)
	}
}

// Stats returns a snapshot of pool-wide throughput counters.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := Stats{
		TotalWorkers:   p.stats.TotalWorkers,
		TasksQueued:    len(p.taskQueue),
		TasksCompleted: p.stats.TasksCompleted,
		TasksFailed:    p.stats.TasksFailed,
		TotalWaitTime:  p.stats.TotalWaitTime,
	}
	if out.TasksCompleted > 0 {
		out.AverageWaitTime = out.TotalWaitTime / time.Duration(out.TasksCompleted)
	}
	return out
}

func (w *worker) run() {
	w.logger.Debug().Msg("commit worker started")
	for {
		select {
		case task, ok := <-w.taskQueue:
			if !ok {
				return
			}
			w.process(task)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *worker) process(task Task) {
	start := time.Now()
	w.setStatus("busy")

	if err := task.Execute(w.ctx); err != nil {
		w.pool.mu.Lock()
		w.pool.stats.TasksFailed++
		w.pool.mu.Unlock()
		w.logger.Error().Err(err).Str("task_id", task.GetID()).Msg("commit task failed")
	} else {
		w.pool.mu.Lock()
		w.pool.stats.TasksCompleted++
		w.pool.mu.Unlock()
	}

	elapsed := time.Since(start)
	w.statsMu.Lock()
	w.stats.TasksProcessed++
	w.stats.TotalWorkTime += elapsed
	w.stats.LastTaskTime = time.Now()
	w.statsMu.Unlock()

	w.pool.mu.Lock()
	w.pool.stats.TotalWaitTime += elapsed
	w.pool.mu.Unlock()

	w.setStatus("idle")
}

func (w *worker) setStatus(status string) {
	w.statsMu.Lock()
	w.stats.Status = status
	w.statsMu.Unlock()
}
