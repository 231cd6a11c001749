package jobpool

import "sync/atomic"

// State is a Job's lifecycle stage (spec.md §4.4).
type State int32

const (
	StateEnabled State = iota
	StateInProgress
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateEnabled:
		return "enabled"
	case StateInProgress:
		return "in_progress"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Callback is invoked from job_pool_check_jobs (CheckJobs), on the
// caller's goroutine, never from a worker.
type Callback func(status error, extra any)

// Handler executes one op's work on a worker goroutine. It receives a
// Context so it can honor a disable_job race the way spec.md §4.4
// describes: "disabled jobs still execute up to the op handler, which
// short-circuits with NOT_DONE."
type Handler func(ctx *Context, args any) error

// Context is passed to a Handler for the duration of one execution.
type Context struct {
	job *job
}

// Disabled reports whether disable_job (or DisableAndChangeCallbackAll)
// reached this job before a worker picked it up; disabling a job that is
// already in progress has no effect, so this stays false for it.
func (c *Context) Disabled() bool {
	return State(c.job.state.Load()) == StateDisabled
}

type job struct {
	id       uint32
	op       OpCode
	args     any
	extra    any
	callback Callback
	state    atomic.Int32
}

func newJob(id uint32, op OpCode, args any, cb Callback, extra any) *job {
	j := &job{id: id, op: op, args: args, extra: extra, callback: cb}
	j.state.Store(int32(StateEnabled))
	return j
}

// tryEnter transitions Enabled -> InProgress, or leaves Disabled alone.
// It never fails: a disabled job is still picked up so its handler can
// observe ctx.Disabled() and short-circuit, per spec.md §4.4.
func (j *job) tryEnter() {
	j.state.CompareAndSwap(int32(StateEnabled), int32(StateInProgress))
}

func (j *job) State() State { return State(j.state.Load()) }
