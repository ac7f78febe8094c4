package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/http"
	"github.com/trendreview/trendreview/internal/logging"
	"github.com/trendreview/trendreview/internal/models"
	"github.com/trendreview/trendreview/internal/progress"
	"github.com/trendreview/trendreview/internal/ratelimit"
	"github.com/trendreview/trendreview/internal/validation"
)

// Names of the files the exporter writes itself.
const (
	SummaryFile  = "summary.md"
	ManifestFile = "manifest.json"
)

// Fetcher opens an artifact by server path.
type Fetcher interface {
	FetchArtifact(ctx context.Context, path string) (io.ReadCloser, int64, error)
}

// Options configures an Exporter. Zero values fall back to defaults.
type Options struct {
	Workers int
	Retry   http.Config
	// NewUI creates the progress view for n artifacts.
	NewUI func(n int) *progress.ArtifactUI
	// Limiter throttles fetches from the backend; nil means unlimited.
	Limiter *ratelimit.Limiter
	Logger  *logging.Logger
}

// Exporter copies the artifacts of a result into a Sink.
type Exporter struct {
	fetcher Fetcher
	opts    Options
}

// Item is the outcome of one artifact.
type Item struct {
	Artifact models.Artifact `json:"artifact"`
	Location string          `json:"location,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Report lists every exported and failed artifact.
type Report struct {
	JobID       string `json:"job_id"`
	Destination string `json:"destination"`
	Items       []Item `json:"items"`
	Summary     string `json:"summary_location,omitempty"`
	Manifest    string `json:"-"`
}

// Failed returns the items that could not be exported.
func (r *Report) Failed() []Item {
	var out []Item
	for _, it := range r.Items {
		if it.Error != "" {
			out = append(out, it)
		}
	}
	return out
}

// PartialError is returned when some artifacts failed and others did not.
type PartialError struct {
	Failed int
	Total  int
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d of %d artifacts failed to export", e.Failed, e.Total)
}

// New creates an Exporter reading through f.
func New(f Fetcher, opts Options) *Exporter {
	if opts.Workers <= 0 {
		opts.Workers = constants.ArtifactWorkers
	}
	if opts.Retry.MaxRetries <= 0 {
		opts.Retry = http.DefaultConfig()
	}
	if opts.NewUI == nil {
		opts.NewUI = progress.NewArtifactUI
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultCLILogger()
	}
	return &Exporter{fetcher: f, opts: opts}
}

// Export copies every artifact of res into sink, then writes the summary
// text (when the backend sent no summary file) and a manifest. Artifacts
// are independent: one failure does not stop the others.
func (e *Exporter) Export(ctx context.Context, res *models.AnalysisResult, sink Sink) (*Report, error) {
	if res == nil {
		return nil, errors.New("nothing to export: no analysis result")
	}
	artifacts := res.Artifacts()
	report := &Report{JobID: res.JobID, Destination: sink.String(), Items: make([]Item, len(artifacts))}

	ui := e.opts.NewUI(len(artifacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	var mu sync.Mutex
	for i, a := range artifacts {
		i, a := i, a
		g.Go(func() error {
			loc, err := e.exportOne(gctx, ui, i+1, a, sink)
			item := Item{Artifact: a, Location: loc}
			if err != nil {
				item.Error = err.Error()
				e.opts.Logger.Warn().Err(err).Str("artifact", a.Name).Msg("artifact export failed")
			}
			mu.Lock()
			report.Items[i] = item
			mu.Unlock()
			// Cancellation is the only error that stops the group
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	err := g.Wait()
	ui.Wait()
	if err != nil {
		return report, err
	}

	if res.Summary != "" && res.SummaryReport == nil {
		loc, err := sink.Put(ctx, SummaryFile, strings.NewReader(res.Summary), int64(len(res.Summary)))
		if err != nil {
			return report, fmt.Errorf("write summary: %w", err)
		}
		report.Summary = loc
	}

	manifest, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return report, fmt.Errorf("marshal manifest: %w", err)
	}
	loc, err := sink.Put(ctx, ManifestFile, strings.NewReader(string(manifest)), int64(len(manifest)))
	if err != nil {
		return report, fmt.Errorf("write manifest: %w", err)
	}
	report.Manifest = loc

	if failed := len(report.Failed()); failed > 0 {
		return report, &PartialError{Failed: failed, Total: len(artifacts)}
	}
	e.opts.Logger.Info().Int("artifacts", len(artifacts)).Str("destination", sink.String()).Msg("export complete")
	return report, nil
}

func (e *Exporter) exportOne(ctx context.Context, ui *progress.ArtifactUI, index int, a models.Artifact, sink Sink) (string, error) {
	var bar *progress.ArtifactBar
	var location string

	cfg := e.opts.Retry
	cfg.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		e.opts.Logger.Debug().Err(err).Str("artifact", a.Name).Int("attempt", attempt).
			Str("type", http.ErrorTypeName(errType)).Msg("retrying artifact export")
		if bar != nil {
			bar.SetRetry(attempt)
		}
	}

	if err := validation.ArtifactName(a.Name); err != nil {
		bar = ui.AddBar(index, a.Name, a.Name, 0)
		bar.Complete("", err)
		return "", err
	}

	err := http.ExecuteWithRetry(ctx, cfg, func() error {
		if err := e.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
		body, size, err := e.fetcher.FetchArtifact(ctx, a.Path)
		if err != nil {
			return err
		}
		defer body.Close()
		if bar == nil {
			bar = ui.AddBar(index, a.Name, a.Name, size)
		}
		location, err = sink.Put(ctx, a.Name, bar.ProxyReader(body), size)
		return err
	})
	if bar == nil {
		bar = ui.AddBar(index, a.Name, a.Name, 0)
	}
	bar.Complete(location, err)
	return location, err
}
