package poller

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendreview/trendreview/internal/logging"
	"github.com/trendreview/trendreview/internal/models"
)

var errConnRefused = errors.New("dial tcp 127.0.0.1:5000: connect: connection refused")

// scripted answers the n-th (1-based) status query for a handle.
type scripted struct {
	mu     sync.Mutex
	calls  map[string]int
	answer func(id string, n int) (models.JobStatus, error)
}

func newScripted(answer func(id string, n int) (models.JobStatus, error)) *scripted {
	return &scripted{calls: make(map[string]int), answer: answer}
}

func (s *scripted) AnalysisStatus(ctx context.Context, h models.JobHandle) (models.JobStatus, error) {
	s.mu.Lock()
	s.calls[h.ID]++
	n := s.calls[h.ID]
	s.mu.Unlock()
	return s.answer(h.ID, n)
}

func (s *scripted) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func running() models.JobStatus { return models.JobStatus{State: models.JobRunning, Raw: "running"} }

func completed() models.JobStatus {
	return models.JobStatus{State: models.JobCompleted, Raw: "completed", Files: []string{"j-summary.md"}}
}

func fastConfig(maxAttempts, maxErrors int) Config {
	return Config{
		InitialDelay: time.Millisecond,
		Interval:     time.Millisecond,
		ErrorBackoff: 2 * time.Millisecond,
		MaxAttempts:  maxAttempts,
		MaxErrors:    maxErrors,
	}
}

func quietLogger() *logging.Logger { return logging.NewLogger(io.Discard, nil) }

// startAndWait runs one poll to completion and returns its result.
func startAndWait(t *testing.T, p *Poller, id string) Result {
	t.Helper()
	results := make(chan Result, 1)
	p.Start(context.Background(), models.JobHandle{ID: id}, Handlers{Done: func(r Result) { results <- r }})
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish")
		return Result{}
	}
}

func TestCompletedOnSixtiethCheck(t *testing.T) {
	s := newScripted(func(_ string, n int) (models.JobStatus, error) {
		if n < 60 {
			return running(), nil
		}
		return completed(), nil
	})
	p := New(s, fastConfig(60, 5), quietLogger())

	res := startAndWait(t, p, "job-1")
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 59, res.Attempts)
	assert.Equal(t, 60, s.count("job-1"))
	assert.Equal(t, Terminal, p.State())

	last, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, "job-1", last.Handle.ID)
}

func TestTimedOutAfterExactlyMaxAttempts(t *testing.T) {
	s := newScripted(func(string, int) (models.JobStatus, error) { return running(), nil })
	p := New(s, fastConfig(60, 5), quietLogger())

	res := startAndWait(t, p, "job-1")
	assert.Equal(t, TimedOut, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrTimedOut)
	assert.Equal(t, 60, res.Attempts)
	assert.Equal(t, 0, res.Errors)

	<-p.Done()
	assert.Equal(t, 60, s.count("job-1"), "no check after the budget is spent")
}

func TestTimedOutAfterMaxErrors(t *testing.T) {
	s := newScripted(func(string, int) (models.JobStatus, error) { return models.JobStatus{}, errConnRefused })
	p := New(s, fastConfig(60, 5), quietLogger())

	var progress []Attempt
	var mu sync.Mutex
	results := make(chan Result, 1)
	p.Start(context.Background(), models.JobHandle{ID: "job-1"}, Handlers{
		Progress: func(a Attempt) {
			mu.Lock()
			progress = append(progress, a)
			mu.Unlock()
		},
		Done: func(r Result) { results <- r },
	})

	res := <-results
	assert.Equal(t, TimedOut, res.Outcome)
	assert.ErrorIs(t, res.Err, errConnRefused)
	assert.Equal(t, 5, res.Errors)
	assert.Equal(t, 0, res.Attempts)
	<-p.Done()
	assert.Equal(t, 5, s.count("job-1"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, progress, 5)
	for i, a := range progress {
		assert.Equal(t, i+1, a.Errors)
		assert.Error(t, a.Err)
	}
}

func TestCountersAreIndependent(t *testing.T) {
	// err, running, err, running, completed: neither budget of 3 is reached
	seq := []error{errConnRefused, nil, errConnRefused, nil}
	s := newScripted(func(_ string, n int) (models.JobStatus, error) {
		if n > len(seq) {
			return completed(), nil
		}
		if seq[n-1] != nil {
			return models.JobStatus{}, seq[n-1]
		}
		return running(), nil
	})
	p := New(s, fastConfig(3, 3), quietLogger())

	res := startAndWait(t, p, "job-1")
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, res.Errors)
}

func TestFailedStopsPolling(t *testing.T) {
	s := newScripted(func(_ string, n int) (models.JobStatus, error) {
		if n == 1 {
			return running(), nil
		}
		return models.JobStatus{State: models.JobFailed, Raw: "error", Error: "Job not found"}, nil
	})
	p := New(s, fastConfig(60, 5), quietLogger())

	res := startAndWait(t, p, "job-1")
	assert.Equal(t, Failed, res.Outcome)
	assert.EqualError(t, res.Err, "Job not found")
	<-p.Done()
	assert.Equal(t, 2, s.count("job-1"))
}

func TestErrorBackoffIsLongerThanInterval(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	s := newScripted(func(_ string, n int) (models.JobStatus, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		switch n {
		case 1:
			return models.JobStatus{}, errConnRefused
		case 2:
			return running(), nil
		default:
			return completed(), nil
		}
	})
	cfg := fastConfig(10, 10)
	cfg.ErrorBackoff = 80 * time.Millisecond
	p := New(s, cfg, quietLogger())

	startAndWait(t, p, "job-1")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 80*time.Millisecond)
	assert.Less(t, stamps[2].Sub(stamps[1]), 80*time.Millisecond)
}

func TestNewHandleResetsCounters(t *testing.T) {
	release := make(chan struct{})
	s := newScripted(func(id string, n int) (models.JobStatus, error) {
		if id == "old" {
			if n > 3 {
				<-release
			}
			if n%2 == 0 {
				return models.JobStatus{}, errConnRefused
			}
			return running(), nil
		}
		return completed(), nil
	})
	p := New(s, fastConfig(60, 60), quietLogger())

	progressed := make(chan Attempt, 10)
	p.Start(context.Background(), models.JobHandle{ID: "old"}, Handlers{Progress: func(a Attempt) { progressed <- a }})
	for i := 0; i < 3; i++ {
		<-progressed
	}

	first := make(chan Attempt, 1)
	results := make(chan Result, 1)
	p.Start(context.Background(), models.JobHandle{ID: "new"}, Handlers{
		Progress: func(a Attempt) { first <- a },
		Done:     func(r Result) { results <- r },
	})
	close(release)

	res := <-results
	assert.Equal(t, "new", res.Handle.ID)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 0, res.Errors)
}

func TestStaleRunNeverDelivers(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	s := newScripted(func(id string, n int) (models.JobStatus, error) {
		if id == "old" {
			close(inFlight)
			<-release
			return completed(), nil
		}
		return running(), nil
	})
	p := New(s, Config{InitialDelay: time.Millisecond, Interval: time.Hour, ErrorBackoff: 2 * time.Hour, MaxAttempts: 60, MaxErrors: 5}, quietLogger())

	var mu sync.Mutex
	var staleCalls int
	stale := Handlers{
		Progress: func(Attempt) { mu.Lock(); staleCalls++; mu.Unlock() },
		Done:     func(Result) { mu.Lock(); staleCalls++; mu.Unlock() },
	}
	p.Start(context.Background(), models.JobHandle{ID: "old"}, stale)
	<-inFlight
	oldDone := p.Done()

	newProgress := make(chan Attempt, 1)
	p.Start(context.Background(), models.JobHandle{ID: "new"}, Handlers{Progress: func(a Attempt) { newProgress <- a }})
	close(release)
	<-oldDone

	a := <-newProgress
	assert.Equal(t, "new", a.Handle.ID)
	assert.Equal(t, 1, a.Attempts)

	mu.Lock()
	assert.Zero(t, staleCalls)
	mu.Unlock()
	h, ok := p.Handle()
	require.True(t, ok)
	assert.Equal(t, "new", h.ID)
	p.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	p := New(newScripted(func(string, int) (models.JobStatus, error) { return running(), nil }), fastConfig(60, 5), quietLogger())

	p.Stop()
	assert.Equal(t, Idle, p.State())
	<-p.Done()

	done := make(chan Result, 1)
	p.Start(context.Background(), models.JobHandle{ID: "job-1"}, Handlers{Done: func(r Result) { done <- r }})
	runDone := p.Done()
	p.Stop()
	p.Stop()
	<-runDone

	assert.Equal(t, Idle, p.State())
	_, ok := p.Handle()
	assert.False(t, ok)
	select {
	case r := <-done:
		t.Fatalf("stopped run delivered %v", r.Outcome)
	default:
	}
}

func TestParentContextCancelEndsRun(t *testing.T) {
	p := New(newScripted(func(string, int) (models.JobStatus, error) { return running(), nil }), fastConfig(1000, 5), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx, models.JobHandle{ID: "job-1"}, Handlers{})
	done := p.Done()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end after cancel")
	}
}

func TestConfigDefaults(t *testing.T) {
	p := New(nil, Config{}, quietLogger())
	assert.Equal(t, DefaultConfig(), p.Config())
	assert.Equal(t, 60, p.Config().MaxAttempts)
	assert.Greater(t, p.Config().ErrorBackoff, p.Config().Interval)
	assert.Equal(t, "timed_out", TimedOut.String())
}

func TestZeroInitialDelayWaitsBeforeFirstCheck(t *testing.T) {
	s := newScripted(func(string, int) (models.JobStatus, error) { return running(), nil })
	p := New(s, Config{Interval: time.Millisecond, ErrorBackoff: 2 * time.Millisecond}, quietLogger())
	require.Equal(t, DefaultConfig().InitialDelay, p.Config().InitialDelay)

	p.Start(context.Background(), models.JobHandle{ID: "job-1"}, Handlers{})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, s.count("job-1"), "first check must wait for the initial delay")
	p.Stop()
}
