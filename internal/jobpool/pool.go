// Package jobpool is the bounded worker pool (C4): a fixed number of
// worker goroutines pull jobs from a bounded queue, execute them, and
// post completions to an unbounded status queue drained by the owning
// event loop through a self-pipe wakeup — the same two-queue split
// `th_sem`/`th_queue` give the original chunkserver's bgjobs (spec.md
// §4.4, SPEC_FULL §4).
package jobpool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"chunkserver/internal/logging"
	"chunkserver/internal/status"
)

// Config configures a Pool.
type Config struct {
	Workers  int // number of worker goroutines (W in spec.md §4.4)
	JobQueue int // bounded jobqueue capacity; 0 defaults to 4*Workers
	Logger   *slog.Logger
}

// Pool is the job pool. One Pool typically serves one client
// connection's worth of blocking I/O ops.
type Pool struct {
	logger *slog.Logger

	workers int

	mu       sync.Mutex
	jobs     map[uint32]*job
	nextID   uint32
	handlers map[OpCode]Handler
	closed   bool

	jobqueue chan *job
	statusQ  *statusQueue

	rpipe, wpipe *os.File

	wg sync.WaitGroup
}

// New constructs a Pool and starts its worker goroutines. Call
// RegisterHandler for every op you intend to submit before the first
// Submit of that op; submitting an op with no handler registered
// completes it with ErrUnknownOp.
//
// A Config with Workers == 0 builds a pool with no worker goroutines
// at all (spec.md §8: "a job pool with W=0 workers rejects all
// submissions with NOT_DONE"); Submit on such a pool returns
// ErrNotDone immediately without enqueueing anything. A negative
// Workers is treated the same as 0.
func New(cfg Config) (*Pool, error) {
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}
	if cfg.JobQueue <= 0 {
		cfg.JobQueue = 4 * cfg.Workers
		if cfg.JobQueue <= 0 {
			cfg.JobQueue = 1
		}
	}
	rpipe, wpipe, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("jobpool: creating wakeup pipe: %w", err)
	}
	p := &Pool{
		logger:   logging.Default(cfg.Logger).With("component", "jobpool"),
		workers:  cfg.Workers,
		jobs:     make(map[uint32]*job),
		nextID:   1,
		handlers: make(map[OpCode]Handler),
		jobqueue: make(chan *job, cfg.JobQueue),
		statusQ:  &statusQueue{wpipe: wpipe},
		rpipe:    rpipe,
		wpipe:    wpipe,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	p.logger.Info("started", "workers", cfg.Workers, "jobqueue_capacity", cfg.JobQueue)
	return p, nil
}

// RegisterHandler binds op to its implementation. Not safe to call
// concurrently with Submit for the same op.
func (p *Pool) RegisterHandler(op OpCode, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[op] = h
}

// NotifyFD returns the pipe's read end for event-loop poll registration
// (spec.md §4.10's register_pollable). A readable byte means CheckJobs
// has work to do.
func (p *Pool) NotifyFD() *os.File { return p.rpipe }

// Submit enqueues a new job (job_new). nextjobid wraps 0 -> 1 so a job
// id of 0 can be reserved as "no job" by callers.
func (p *Pool) Submit(op OpCode, args any, cb Callback, extra any) (uint32, error) {
	if p.workers == 0 {
		return 0, ErrNotDone
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPoolClosed
	}
	if p.nextID == 0 {
		p.nextID = 1
	}
	id := p.nextID
	p.nextID++
	j := newJob(id, op, args, cb, extra)
	p.jobs[id] = j
	p.mu.Unlock()

	p.jobqueue <- j
	return id, nil
}

// DisableJob flips Enabled -> Disabled (disable_job). Already
// in-progress or already-disabled jobs are untouched; a job that has
// not yet been picked up by a worker will still run its handler (per
// spec.md §4.4) but the handler observes Context.Disabled() and should
// short-circuit with ErrNotDone, and its completion callback is
// suppressed in CheckJobs regardless.
func (p *Pool) DisableJob(jobID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	j.state.CompareAndSwap(int32(StateEnabled), int32(StateDisabled))
	return nil
}

// ChangeCallback retargets a pending job's completion callback.
func (p *Pool) ChangeCallback(jobID uint32, cb Callback, extra any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	j.callback = cb
	j.extra = extra
	return nil
}

// DisableAndChangeCallbackAll retargets every outstanding job's
// callback to cb and disables the ones no worker has picked up yet,
// used when the pool's owning connection is being torn down (spec.md
// §4.4). A job already in progress is not disabled, so its completion
// invokes cb; a disabled job's completion invokes no callback.
func (p *Pool) DisableAndChangeCallbackAll(cb Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, j := range p.jobs {
		j.state.CompareAndSwap(int32(StateEnabled), int32(StateDisabled))
		j.callback = cb
	}
}

// CheckJobs drains the wakeup pipe and then the status queue, invoking
// each completed job's callback (unless it was disabled) and removing
// it from the hash (job_pool_check_jobs).
func (p *Pool) CheckJobs() {
	drainWakePipe(p.rpipe)
	msgs := p.statusQ.drain()
	for _, m := range msgs {
		p.mu.Lock()
		j, ok := p.jobs[m.jobID]
		if ok {
			delete(p.jobs, m.jobID)
		}
		p.mu.Unlock()
		if !ok {
			continue
		}
		if j.State() != StateDisabled && j.callback != nil {
			j.callback(m.status, j.extra)
		}
	}
}

// Shutdown enqueues W EXIT jobs to drain every worker and waits for
// them to exit. Submit after Shutdown returns ErrPoolClosed.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.jobqueue <- &job{op: opExit}
	}
	p.wg.Wait()
	p.logger.Info("stopped")
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for j := range p.jobqueue {
		if j.op == opExit {
			return
		}
		j.tryEnter()
		p.runJob(j)
	}
}

// Run pumps CheckJobs every time NotifyFD becomes readable, the same
// duty spec.md §4.10's serve_cb(pdesc) performs after poll returns.
// Components that have no real event loop to register with (every
// caller until C10's concrete implementation lands) start Run in its
// own goroutine instead. Run returns when ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	buf := make([]byte, 64)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = p.rpipe.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := p.rpipe.Read(buf)
		if n > 0 {
			p.CheckJobs()
		}
		if err != nil {
			continue
		}
	}
}

func (p *Pool) runJob(j *job) {
	var st error
	switch {
	case j.op == OpInval:
		st = status.ErrInvalid
	default:
		p.mu.Lock()
		h, ok := p.handlers[j.op]
		p.mu.Unlock()
		if !ok {
			st = fmt.Errorf("%w: %s", ErrUnknownOp, j.op)
		} else {
			ctx := &Context{job: j}
			func() {
				defer func() {
					if r := recover(); r != nil {
						p.logger.Error("job handler panicked", "op", j.op, "panic", r)
						st = fmt.Errorf("jobpool: %s handler panicked: %v", j.op, r)
					}
				}()
				st = h(ctx, j.args)
			}()
		}
	}
	p.statusQ.push(statusMsg{jobID: j.id, status: st})
}
