// Package poller drives status checks for one analysis job at a time.
//
// A run keeps two budgets: in-progress answers count against MaxAttempts,
// failed queries count against MaxErrors and are retried after the longer
// ErrorBackoff. Starting a new run abandons the previous one; a late answer
// for an abandoned handle is never delivered.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/logging"
	"github.com/trendreview/trendreview/internal/models"
)

// ErrTimedOut is the cause of a TimedOut result whose attempt budget ran out.
var ErrTimedOut = errors.New("analysis did not finish within the polling budget")

// StatusChecker performs one status query for a job.
type StatusChecker interface {
	AnalysisStatus(ctx context.Context, handle models.JobHandle) (models.JobStatus, error)
}

// StatusFunc adapts a function to StatusChecker.
type StatusFunc func(ctx context.Context, handle models.JobHandle) (models.JobStatus, error)

func (f StatusFunc) AnalysisStatus(ctx context.Context, handle models.JobHandle) (models.JobStatus, error) {
	return f(ctx, handle)
}

// Config is the polling budget.
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	ErrorBackoff time.Duration
	MaxAttempts  int
	MaxErrors    int
}

// DefaultConfig returns the stock budget: first check after 3s, then every
// 3s for at most 60 in-progress answers, failed queries retried after 10s at
// most 5 times.
func DefaultConfig() Config {
	return Config{
		InitialDelay: constants.PollInitialDelay,
		Interval:     constants.PollInterval,
		ErrorBackoff: constants.PollErrorBackoff,
		MaxAttempts:  constants.PollMaxAttempts,
		MaxErrors:    constants.PollMaxErrors,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = d.MaxErrors
	}
	return c
}

// State of the poller.
type State int

const (
	Idle State = iota
	Polling
	Terminal
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Terminal:
		return "terminal"
	default:
		return "idle"
	}
}

// Outcome of a finished run.
type Outcome int

const (
	Completed Outcome = iota + 1
	Failed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Attempt reports one finished status check.
type Attempt struct {
	Handle   models.JobHandle
	Attempts int // in-progress answers so far
	Errors   int // failed queries so far
	Status   models.JobStatus
	Err      error // set when the query itself failed
	Elapsed  time.Duration
}

// Result is the terminal outcome of a run.
type Result struct {
	Handle   models.JobHandle
	Outcome  Outcome
	Status   models.JobStatus
	Err      error
	Attempts int
	Errors   int
	Elapsed  time.Duration
}

// Handlers receive run notifications. Either may be nil. They are called from
// the polling goroutine, one at a time. A run that was abandoned before a
// check returned delivers nothing further; callers that race Start against a
// delivery should still compare Handle against their own current job.
type Handlers struct {
	Progress func(Attempt)
	Done     func(Result)
}

type run struct {
	handle   models.JobHandle
	cancel   context.CancelFunc
	done     chan struct{}
	started  time.Time
	attempts int
	errors   int
}

// Poller polls one job at a time.
type Poller struct {
	checker StatusChecker
	cfg     Config
	logger  *logging.Logger

	mu      sync.Mutex
	current *run
	state   State
	last    *Result
}

// New creates a poller.
func New(checker StatusChecker, cfg Config, logger *logging.Logger) *Poller {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return &Poller{checker: checker, cfg: cfg.normalized(), logger: logger}
}

// Config returns the effective budget.
func (p *Poller) Config() Config {
	return p.cfg
}

// Start abandons any current run and begins polling handle with fresh
// counters. The first check happens after InitialDelay.
func (p *Poller) Start(ctx context.Context, handle models.JobHandle, h Handlers) {
	p.mu.Lock()
	if p.current != nil {
		p.current.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{handle: handle, cancel: cancel, done: make(chan struct{}), started: time.Now()}
	p.current = r
	p.state = Polling
	p.last = nil
	p.mu.Unlock()

	p.logger.Debug().Str("job_id", handle.ID).Msg("polling started")
	go p.loop(runCtx, r, h)
}

// Stop abandons the current run. It is a no-op when nothing is polling.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	p.current.cancel()
	p.logger.Debug().Str("job_id", p.current.handle.ID).Msg("polling stopped")
	p.current = nil
	if p.state == Polling {
		p.state = Idle
	}
}

// State returns the poller state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Handle returns the handle being polled, if any.
func (p *Poller) Handle() (models.JobHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return models.JobHandle{}, false
	}
	return p.current.handle, true
}

// Last returns the result of the most recent finished run.
func (p *Poller) Last() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Result{}, false
	}
	return *p.last, true
}

// Done returns a channel closed when the current run's goroutine exits.
// With no run it returns a closed channel.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.current.done
}

func (p *Poller) loop(ctx context.Context, r *run, h Handlers) {
	defer close(r.done)

	timer := time.NewTimer(p.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		st, err := p.checker.AnalysisStatus(ctx, r.handle)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			r.errors++
			p.logger.Debug().Err(err).Str("job_id", r.handle.ID).
				Int("errors", r.errors).Int("max_errors", p.cfg.MaxErrors).Msg("status query failed")
			if !p.progress(r, h, Attempt{Err: err}) {
				return
			}
			if r.errors >= p.cfg.MaxErrors {
				p.finish(r, h, Result{Outcome: TimedOut, Err: err})
				return
			}
			timer.Reset(p.cfg.ErrorBackoff)
			continue
		}

		switch st.State {
		case models.JobCompleted:
			p.finish(r, h, Result{Outcome: Completed, Status: st})
			return
		case models.JobFailed:
			cause := st.Error
			if cause == "" {
				cause = "analysis failed"
			}
			p.finish(r, h, Result{Outcome: Failed, Status: st, Err: errors.New(cause)})
			return
		default:
			r.attempts++
			if !p.progress(r, h, Attempt{Status: st}) {
				return
			}
			if r.attempts >= p.cfg.MaxAttempts {
				p.finish(r, h, Result{Outcome: TimedOut, Status: st, Err: ErrTimedOut})
				return
			}
			timer.Reset(p.cfg.Interval)
		}
	}
}

// progress delivers a if r is still current and reports whether it was.
func (p *Poller) progress(r *run, h Handlers, a Attempt) bool {
	if !p.isCurrent(r) {
		return false
	}
	a.Handle = r.handle
	a.Attempts = r.attempts
	a.Errors = r.errors
	a.Elapsed = time.Since(r.started)
	if h.Progress != nil {
		h.Progress(a)
	}
	return true
}

func (p *Poller) finish(r *run, h Handlers, res Result) {
	res.Handle = r.handle
	res.Attempts = r.attempts
	res.Errors = r.errors
	res.Elapsed = time.Since(r.started)

	p.mu.Lock()
	if p.current != r {
		p.mu.Unlock()
		return
	}
	p.state = Terminal
	p.last = &res
	p.mu.Unlock()

	p.logger.Debug().Str("job_id", r.handle.ID).Str("outcome", res.Outcome.String()).
		Int("attempts", res.Attempts).Int("errors", res.Errors).Msg("polling finished")
	if h.Done != nil {
		h.Done(res)
	}
}

func (p *Poller) isCurrent(r *run) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current == r
}
