// Package workflow is the session state machine: it owns the dataset store,
// the row selector, the running job and its result, and gates every user
// action on what earlier stages produced.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trendreview/trendreview/internal/api"
	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/dataset"
	"github.com/trendreview/trendreview/internal/events"
	"github.com/trendreview/trendreview/internal/logging"
	"github.com/trendreview/trendreview/internal/models"
	"github.com/trendreview/trendreview/internal/poller"
	"github.com/trendreview/trendreview/internal/results"
	"github.com/trendreview/trendreview/internal/selection"
)

// Options configure a Controller. Remote is required.
type Options struct {
	Remote       api.Remote
	Poll         poller.Config
	MaxSelection int
	DefaultQuery string
	EventBus     *events.EventBus
	Logger       *logging.Logger
}

// Outcome is the end of one analysis run.
type Outcome struct {
	JobID    string
	Outcome  poller.Outcome
	Result   *models.AnalysisResult // set when Completed
	Err      error                  // *AnalysisFailedError, *TimedOutError or ErrJobAbandoned otherwise
	Attempts int
	Errors   int
	Elapsed  time.Duration
}

// Checks returns how many status queries the run made, failed ones included.
func (o *Outcome) Checks() int {
	n := o.Attempts + o.Errors
	if o.Outcome == poller.Completed || o.Outcome == poller.Failed {
		n++
	}
	return n
}

// Controller serializes user actions; each method runs to completion,
// network calls included, before the next one starts.
type Controller struct {
	remote       api.Remote
	store        *dataset.Store
	selector     *selection.Selector
	poller       *poller.Poller
	bus          *events.EventBus
	logger       *logging.Logger
	defaultQuery string

	baseCtx context.Context
	cancel  context.CancelFunc

	mu             sync.Mutex
	stage          Stage
	handle         *models.JobHandle
	run            uint64 // identifies the current poll run; job ids may repeat
	savedFile      string // backend basename of the submitted selection
	processResults *models.ProcessResults
	result         *models.AnalysisResult
	last           *Outcome
	done           chan struct{} // closed when the current run ends
}

// New creates a controller in StageEmpty.
func New(opts Options) (*Controller, error) {
	if opts.Remote == nil {
		return nil, errors.New("workflow: remote client is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultCLILogger()
	}
	if opts.DefaultQuery == "" {
		opts.DefaultQuery = constants.DefaultQuery
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		remote:       opts.Remote,
		store:        dataset.NewStore(),
		selector:     selection.NewSelector(opts.MaxSelection),
		poller:       poller.New(opts.Remote, opts.Poll, opts.Logger),
		bus:          opts.EventBus,
		logger:       opts.Logger,
		defaultQuery: opts.DefaultQuery,
		baseCtx:      ctx,
		cancel:       cancel,
	}, nil
}

// Close abandons any running analysis. The controller must not be used afterwards.
func (c *Controller) Close() {
	c.poller.Stop()
	c.cancel()
}

// Reset drops all session state and returns to StageEmpty.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abandonJobLocked("session reset")
	c.store.Reset()
	c.selector.Reset(0)
	c.savedFile = ""
	c.processResults = nil
	c.result = nil
	c.last = nil
	c.setStageLocked(StageEmpty, "")
}

// UploadRaw starts a session over newly uploaded data.
func (c *Controller) UploadRaw(snap *dataset.Snapshot) error {
	if err := checkUpload(snap); err != nil {
		return invalid("upload", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.abandonJobLocked("new upload")
	if err := c.store.SetRaw(snap); err != nil {
		return invalid("upload", err)
	}
	c.selector.Reset(0)
	c.savedFile = ""
	c.processResults = nil
	c.logger.Info().Str("file", snap.Name()).Int("rows", snap.Len()).Msg("Raw data loaded")
	if bad := snap.MalformedRows(); len(bad) > 0 {
		c.logger.Warn().Ints("rows", bad).Msg("Some rows do not match the header width")
	}
	c.setStageLocked(StageRawUploaded, "")
	return nil
}

// EditCell replaces one cell of the data to be processed. Processed data and
// any selection derived from the previous version are dropped.
func (c *Controller) EditCell(row, col int, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := c.store.Source()
	if src == nil {
		return invalid("edit", ErrNoRawUpload)
	}
	edited, err := src.WithCell(row, col, value)
	if err != nil {
		return invalid("edit", err)
	}
	c.abandonJobLocked("data edited")
	if err := c.store.SetEdited(edited); err != nil {
		return invalid("edit", err)
	}
	c.selector.Reset(0)
	c.savedFile = ""
	c.processResults = nil
	c.setStageLocked(StageRawUploaded, "")
	return nil
}

// Process submits the uploaded (or edited) data for trend processing. The
// processed snapshot is the server's enhanced-analysis echo when it can be
// fetched, else the submitted data. On failure the stage is unchanged.
func (c *Controller) Process(ctx context.Context) (*models.ProcessResults, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := c.store.Source()
	if src == nil {
		c.attentionLocked(ControlProcess, ErrNoRawUpload.Error())
		return nil, invalid("process", ErrNoRawUpload)
	}

	c.logger.Info().Str("file", src.Name()).Msg("Processing data")
	res, err := c.remote.SubmitSnapshot(ctx, src, api.EndpointProcess)
	if err != nil {
		c.failLocked("process", err)
		return nil, err
	}

	processed := c.fetchEcho(ctx, res.Results)
	if processed == nil {
		processed, err = dataset.New(src.Name(), dataset.OriginServer, src.Header(), src.Rows())
		if err != nil {
			c.failLocked("process", err)
			return nil, err
		}
	}

	c.abandonJobLocked("data reprocessed")
	if err := c.store.SetProcessed(processed); err != nil {
		return nil, invalid("process", err)
	}
	c.selector.Reset(processed.Len())
	c.savedFile = ""
	c.processResults = res.Results
	c.logger.Info().Int("rows", processed.Len()).Msg("Data processed")
	c.setStageLocked(StageProcessed, "")
	return res.Results, nil
}

// fetchEcho loads the first enhanced-analysis CSV the backend produced.
func (c *Controller) fetchEcho(ctx context.Context, pr *models.ProcessResults) *dataset.Snapshot {
	if pr == nil {
		return nil
	}
	for _, name := range []string{pr.Sensitive.EnhancedAnalysis, pr.Insensitive.EnhancedAnalysis} {
		if name == "" {
			continue
		}
		snap, err := c.fetchSnapshot(ctx, name)
		if err != nil {
			c.logger.Warn().Err(err).Str("file", name).Msg("Could not load processed data from server")
			continue
		}
		return snap
	}
	return nil
}

func (c *Controller) fetchSnapshot(ctx context.Context, name string) (*dataset.Snapshot, error) {
	rc, _, err := c.remote.FetchArtifact(ctx, models.ArtifactPath(name))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return dataset.Read(name, dataset.OriginServer, rc)
}

// UploadProcessed loads already-processed data directly. The ready flag and
// the selection are reset; a running analysis is abandoned.
func (c *Controller) UploadProcessed(snap *dataset.Snapshot) error {
	if err := checkUpload(snap); err != nil {
		return invalid("load processed data", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.abandonJobLocked("new processed data")
	if err := c.store.SetProcessed(snap); err != nil {
		return invalid("load processed data", err)
	}
	c.selector.Reset(snap.Len())
	c.savedFile = ""
	c.logger.Info().Str("file", snap.Name()).Int("rows", snap.Len()).Msg("Processed data loaded")
	c.setStageLocked(StageProcessed, "")
	return nil
}

// ToggleRow adds or removes one processed row from the selection.
func (c *Controller) ToggleRow(i int) (selection.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store.Processed() == nil {
		return c.selector.State(), invalid("select rows", ErrNoProcessedData)
	}
	st, err := c.selector.Toggle(i)
	if err != nil {
		if errors.Is(err, selection.ErrSelectionLimitExceeded) {
			c.logger.Warn().Int("max", st.Max).Msg("Selection limit reached; deselect a row first")
		}
		return st, invalid("select rows", err)
	}
	return st, nil
}

// Selection returns the current selection.
func (c *Controller) Selection() selection.State {
	return c.selector.State()
}

// MaterializeSelection turns the selected rows into a new processed snapshot
// and stores it on the backend. On success the session is ready for
// analysis; on failure the previous processed data, ready flag and stage
// are restored.
func (c *Controller) MaterializeSelection(ctx context.Context) (*dataset.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	full := c.store.Processed()
	if full == nil {
		return nil, invalid("submit selection", ErrNoProcessedData)
	}
	sel, err := c.selector.Materialize(full)
	if err != nil {
		return nil, invalid("submit selection", err)
	}

	prevReady, prevStage := c.store.Ready(), c.stage
	if err := c.store.SetProcessed(sel); err != nil {
		return nil, invalid("submit selection", err)
	}

	res, err := c.remote.SubmitSnapshot(ctx, sel, api.EndpointSave)
	if err != nil {
		c.store.RestoreProcessed(full, prevReady)
		c.setStageLocked(prevStage, err.Error())
		c.failLocked("submit selection", err)
		return nil, err
	}

	c.abandonJobLocked("new selection")
	c.savedFile = res.FileName()
	c.store.MarkReady()
	c.selector.Reset(sel.Len())
	c.logger.Info().Str("file", c.savedFile).Int("rows", sel.Len()).Msg("Selection saved; ready for analysis")
	c.setStageLocked(StageReady, "")
	c.attentionLocked(ControlStartAnalysis, "selection saved")
	return sel, nil
}

// StartAnalysis submits an analysis job over the saved selection and starts
// polling it. An empty query uses the default query.
func (c *Controller) StartAnalysis(ctx context.Context, query string) (models.JobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store.Processed() == nil {
		return models.JobHandle{}, invalid("start analysis", ErrNoProcessedData)
	}
	if !c.store.Ready() || c.savedFile == "" {
		c.attentionLocked(ControlMaterializeSelection, ErrSelectionNotSubmitted.Error())
		return models.JobHandle{}, invalid("start analysis", ErrSelectionNotSubmitted)
	}
	if c.stage == StageAnalysisRunning {
		return models.JobHandle{}, invalid("start analysis", ErrAnalysisInProgress)
	}
	if query == "" {
		query = c.defaultQuery
	}

	h, err := c.remote.SubmitAnalysisJob(ctx, c.savedFile, query)
	if err != nil {
		c.failLocked("start analysis", err)
		return models.JobHandle{}, err
	}

	c.handle = &h
	c.run++
	run := c.run
	c.result = nil
	c.done = make(chan struct{})
	c.logger.Info().Str("job_id", h.ID).Str("query", query).Msg("Analysis started")
	c.setStageLocked(StageAnalysisRunning, "")

	c.poller.Start(c.baseCtx, h, poller.Handlers{
		Progress: func(a poller.Attempt) { c.onProgress(run, a) },
		Done:     func(r poller.Result) { c.onDone(run, r) },
	})
	return h, nil
}

func (c *Controller) onProgress(run uint64, a poller.Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(run) {
		return
	}

	cfg := c.poller.Config()
	p := events.ProgressEvent{
		JobID:       a.Handle.ID,
		Attempt:     a.Attempts,
		MaxAttempts: cfg.MaxAttempts,
		Errors:      a.Errors,
		MaxErrors:   cfg.MaxErrors,
		Status:      a.Status.Raw,
		Message:     a.Status.Message,
		Elapsed:     a.Elapsed,
	}
	if a.Err != nil {
		p.Message = a.Err.Error()
		c.logger.Warn().Err(a.Err).Int("errors", a.Errors).Int("max_errors", cfg.MaxErrors).Msg("Status check failed, retrying")
	} else {
		c.logger.Debug().Int("attempt", a.Attempts).Int("max_attempts", cfg.MaxAttempts).Msg("Analysis still running")
	}
	c.bus.PublishProgress(p)
}

func (c *Controller) onDone(run uint64, r poller.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(run) {
		return
	}

	out := &Outcome{
		JobID:    r.Handle.ID,
		Outcome:  r.Outcome,
		Attempts: r.Attempts,
		Errors:   r.Errors,
		Elapsed:  r.Elapsed,
	}
	switch r.Outcome {
	case poller.Completed:
		out.Result = results.Assemble(r.Handle.ID, r.Status.Files, r.Status.Summary)
		c.result = out.Result
		c.logger.Info().Str("job_id", r.Handle.ID).Int("files", len(r.Status.Files)).Msg("Analysis complete")
		c.setStageLocked(StageAnalysisComplete, "")
	case poller.Failed:
		msg := r.Status.Error
		if msg == "" && r.Err != nil {
			msg = r.Err.Error()
		}
		out.Err = &AnalysisFailedError{JobID: r.Handle.ID, Message: msg}
		c.logger.Error().Str("job_id", r.Handle.ID).Msg(out.Err.Error())
		c.setStageLocked(StageAnalysisFailed, out.Err.Error())
	default:
		out.Err = &TimedOutError{JobID: r.Handle.ID, Attempts: r.Attempts, Errors: r.Errors, Cause: r.Err}
		c.logger.Warn().Str("job_id", r.Handle.ID).Msg(out.Err.Error())
		c.setStageLocked(StageAnalysisFailed, out.Err.Error())
	}

	c.bus.PublishComplete(r.Handle.ID, r.Outcome.String(), r.Attempts, r.Errors, r.Elapsed)
	if out.Err != nil {
		c.bus.PublishError(StageAnalysisRunning.String(), r.Handle.ID, out.Err, r.Outcome == poller.TimedOut)
	}
	c.last = out
	c.handle = nil
	c.closeDoneLocked()
}

// Wait blocks until the current analysis ends and returns its outcome. With
// no analysis running it returns the last outcome, or ErrNoAnalysis.
func (c *Controller) Wait(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil, ErrNoAnalysis
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil, ErrNoAnalysis
	}
	out := *c.last
	return &out, nil
}

// Stage returns the active stage.
func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Handle returns the job being polled, if any.
func (c *Controller) Handle() (models.JobHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return models.JobHandle{}, false
	}
	return *c.handle, true
}

// Active returns the most downstream snapshot of the session.
func (c *Controller) Active() *dataset.Snapshot {
	return c.store.Active()
}

// Processed returns the processed snapshot, if any.
func (c *Controller) Processed() *dataset.Snapshot {
	return c.store.Processed()
}

// SavedFile returns the backend name of the submitted selection.
func (c *Controller) SavedFile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.savedFile
}

// ProcessResults returns the artifacts of the last successful Process.
func (c *Controller) ProcessResults() *models.ProcessResults {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processResults
}

// Result returns the result of the last completed analysis.
func (c *Controller) Result() *models.AnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// LastOutcome returns the outcome of the most recent finished analysis.
func (c *Controller) LastOutcome() (*Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil, false
	}
	out := *c.last
	return &out, true
}

// Affordances projects the current state onto the available controls.
func (c *Controller) Affordances() Affordances {
	c.mu.Lock()
	defer c.mu.Unlock()

	sel := c.selector.State()
	processed := c.store.Processed()
	ready := c.store.Ready() && c.savedFile != ""
	a := Affordances{
		Stage:                c.stage,
		CanEdit:              c.store.Source() != nil,
		CanProcess:           c.store.Source() != nil,
		CanToggleRows:        processed != nil,
		CanMaterialize:       processed != nil && sel.Count() > 0,
		CanStartAnalysis:     processed != nil && ready && c.stage != StageAnalysisRunning,
		CanDownloadResults:   c.result != nil,
		SelectionCount:       sel.Count(),
		SelectionMax:         sel.Max,
		ReadyForAnalysis:     ready,
		ProcessResultsExists: c.processResults != nil,
	}
	if processed != nil {
		a.ProcessedRows = processed.Len()
	}
	if c.handle != nil {
		a.RunningJobID = c.handle.ID
	}
	if c.stage.Terminal() && c.last != nil {
		a.LastJobID = c.last.JobID
		a.LastOutcome = c.last.Outcome.String()
	}
	return a
}

func (c *Controller) currentLocked(run uint64) bool {
	return c.handle != nil && c.run == run
}

// abandonJobLocked stops polling the current job. The job keeps running on
// the server and can be followed with `trendreview wait`.
func (c *Controller) abandonJobLocked(reason string) {
	if c.handle == nil {
		return
	}
	c.poller.Stop()
	c.logger.Warn().Str("job_id", c.handle.ID).Str("reason", reason).
		Msg(fmt.Sprintf("Stopped following analysis; resume with: trendreview wait %s", c.handle.ID))
	c.last = &Outcome{JobID: c.handle.ID, Err: fmt.Errorf("%w: %s (job %s)", ErrJobAbandoned, reason, c.handle.ID)}
	c.handle = nil
	c.closeDoneLocked()
}

func (c *Controller) closeDoneLocked() {
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
}

func (c *Controller) setStageLocked(next Stage, errMsg string) {
	if c.stage == next && errMsg == "" {
		return
	}
	prev := c.stage
	c.stage = next
	jobID := ""
	if c.handle != nil {
		jobID = c.handle.ID
	}
	c.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("stage changed")
	c.bus.PublishStateChange(prev.String(), next.String(), jobID, errMsg)
}

func (c *Controller) attentionLocked(control, reason string) {
	d := constants.AttentionPulseDuration
	if control == ControlStartAnalysis {
		d = constants.ReadyHighlightDuration
	}
	c.bus.PublishAttention(control, reason, d)
}

func (c *Controller) failLocked(action string, err error) {
	c.logger.Error().Err(err).Msg(fmt.Sprintf("Failed to %s", action))
	c.bus.PublishError(c.stage.String(), "", err, false)
}

func checkUpload(snap *dataset.Snapshot) error {
	if snap == nil || snap.Len() == 0 {
		return dataset.ErrEmptySnapshot
	}
	return dataset.ValidateFilename(snap.Name())
}
