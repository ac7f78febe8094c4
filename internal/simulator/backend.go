// Package simulator is an in-memory stand-in for the trend-review backend.
// It backs both the mock remote client and the development server, so the
// two behave identically.
package simulator

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/dataset"
	"github.com/trendreview/trendreview/internal/models"
)

var (
	// ErrBadRequest marks input the real backend would answer with 400.
	ErrBadRequest = errors.New("bad request")
	// ErrNotFound marks unknown files or jobs (404).
	ErrNotFound = errors.New("not found")
)

type job struct {
	id      string
	file    string
	query   string
	rows    int
	polls   int
	created time.Time
	files   []string
	summary string
}

// Backend simulates processing, selection storage and analysis jobs.
type Backend struct {
	mu           sync.Mutex
	runningPolls int
	inputs       map[string][]byte
	artifacts    map[string][]byte
	jobs         map[string]*job
	latest       *job
	now          func() time.Time
}

// New returns a backend whose jobs report "running" for runningPolls status
// checks before completing.
func New(runningPolls int) *Backend {
	if runningPolls < 0 {
		runningPolls = 0
	}
	return &Backend{
		runningPolls: runningPolls,
		inputs:       make(map[string][]byte),
		artifacts:    make(map[string][]byte),
		jobs:         make(map[string]*job),
		now:          time.Now,
	}
}

// Process runs the simulated trend analysis over an uploaded CSV and
// returns the artifact filenames. Both enhanced-analysis files echo the input.
func (b *Backend) Process(name string, data []byte) (*models.ProcessResults, error) {
	snap, err := b.checkUpload(name, data)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.now().Format("20060102_150405")
	stem := fmt.Sprintf("%s_%s", ts, uuid.NewString()[:8])
	res := &models.ProcessResults{
		Timestamp: ts,
		Filename:  stem,
	}
	for _, variant := range []string{"sensitive", "insensitive"} {
		files := models.VariantFiles{
			Visualization:    fmt.Sprintf("%s-%s-trend_visualization.png", stem, variant),
			Analysis:         fmt.Sprintf("%s-%s-trend_analysis.csv", stem, variant),
			EnhancedAnalysis: fmt.Sprintf("%s-%s-enhanced_analysis.csv", stem, variant),
		}
		b.artifacts[files.Visualization] = placeholderPNG
		b.artifacts[files.Analysis] = trendTable(snap, variant)
		b.artifacts[files.EnhancedAnalysis] = append([]byte(nil), data...)
		if variant == "sensitive" {
			res.Sensitive = files
		} else {
			res.Insensitive = files
		}
	}
	res.ComparisonReport = stem + "-comparison_report.csv"
	res.DetailedReport = stem + "-detailed_report.md"
	b.artifacts[res.ComparisonReport] = []byte("metric,sensitive,insensitive\nrows," +
		fmt.Sprint(snap.Len()) + "," + fmt.Sprint(snap.Len()) + "\n")
	b.artifacts[res.DetailedReport] = []byte(fmt.Sprintf("# Detailed report\n\nInput: %s\nRows: %d\n", name, snap.Len()))
	return res, nil
}

// Save stores a selection for a later analysis run and returns its server path.
func (b *Backend) Save(name string, data []byte) (string, error) {
	if _, err := b.checkUpload(name, data); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	stored := fmt.Sprintf("%s_%s", b.now().Format("20060102_150405"), path.Base(name))
	b.inputs[stored] = append([]byte(nil), data...)
	return "input/" + stored, nil
}

// Run starts an analysis job over a saved file.
func (b *Backend) Run(file, query string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("%w: no input file given", ErrBadRequest)
	}
	if query == "" {
		query = constants.DefaultQuery
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.inputs[path.Base(file)]
	if !ok {
		return "", fmt.Errorf("%w: file %s", ErrNotFound, file)
	}
	snap, err := dataset.Parse(file, dataset.OriginServer, data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	id := fmt.Sprintf("%s_%s", b.now().Format("20060102_150405"), uuid.NewString()[:8])
	j := &job{id: id, file: file, query: query, rows: snap.Len(), created: b.now()}
	b.jobs[id] = j
	b.latest = j
	return id, nil
}

// Status answers one status check of a job. Each call counts as one poll.
func (b *Backend) Status(id string) (*models.StatusResponse, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("%w: invalid job id", ErrBadRequest)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	j.polls++
	if j.polls <= b.runningPolls {
		resp := &models.StatusResponse{Status: models.StatusRunning, Message: "analysis in progress"}
		// Halfway through, partial output appears without the summary
		if j.polls*2 > b.runningPolls {
			resp.Message = "analysis in progress, partial output written"
			resp.Files = []string{j.id + "-sensitive-trend_analysis.csv"}
		}
		return resp, nil
	}
	b.completeLocked(j)
	return &models.StatusResponse{
		Status:  models.StatusCompleted,
		Summary: j.summary,
		Files:   append([]string(nil), j.files...),
	}, nil
}

// OutputFiles answers the legacy output check for the most recent job.
func (b *Backend) OutputFiles() *models.OutputFilesResponse {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latest == nil {
		return &models.OutputFilesResponse{Status: models.StatusError, Error: "no analysis has been started"}
	}
	j := b.latest
	j.polls++
	if j.polls <= b.runningPolls {
		return &models.OutputFilesResponse{Status: models.StatusRunning, Message: "analysis in progress"}
	}
	b.completeLocked(j)
	return &models.OutputFilesResponse{
		Status:            models.StatusCompleted,
		FinalReportExists: true,
		FinalReport:       j.id + "-summary.md",
	}
}

func (b *Backend) completeLocked(j *job) {
	if j.files != nil {
		return
	}
	j.summary = fmt.Sprintf("# Trend review\n\nQuery: %s\n\nRows analysed: %d\nInput: %s\n", j.query, j.rows, path.Base(j.file))
	for _, variant := range []string{"sensitive", "insensitive"} {
		vis := fmt.Sprintf("%s-%s-trend_visualization.png", j.id, variant)
		ana := fmt.Sprintf("%s-%s-trend_analysis.csv", j.id, variant)
		enh := fmt.Sprintf("%s-%s-enhanced_analysis.csv", j.id, variant)
		b.artifacts[vis] = placeholderPNG
		b.artifacts[ana] = []byte("date,trend\n")
		b.artifacts[enh] = b.inputs[path.Base(j.file)]
		j.files = append(j.files, vis, ana, enh)
	}
	cmp := j.id + "-comparison_report.csv"
	det := j.id + "-detailed_report.md"
	sum := j.id + "-summary.md"
	b.artifacts[cmp] = []byte("metric,sensitive,insensitive\n")
	b.artifacts[det] = []byte(j.summary)
	b.artifacts[sum] = []byte(j.summary)
	j.files = append(j.files, cmp, det, sum)
}

// Artifact returns the content of a produced file.
func (b *Backend) Artifact(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.artifacts[path.Base(name)]
	return data, ok
}

// Jobs lists known job ids, oldest first.
func (b *Backend) Jobs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.jobs))
	for id := range b.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, k int) bool { return b.jobs[ids[i]].created.Before(b.jobs[ids[k]].created) })
	return ids
}

func (b *Backend) checkUpload(name string, data []byte) (*dataset.Snapshot, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: no file selected", ErrBadRequest)
	}
	if err := dataset.ValidateFilename(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	snap, err := dataset.Parse(name, dataset.OriginServer, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return snap, nil
}

// trendTable derives a tiny per-row trend table from the input.
func trendTable(snap *dataset.Snapshot, variant string) []byte {
	var buf bytes.Buffer
	buf.WriteString("row,variant,direction\n")
	for i := 0; i < snap.Len(); i++ {
		dir := "flat"
		if i > 0 {
			dir = "up"
		}
		fmt.Fprintf(&buf, "%d,%s,%s\n", i, variant, dir)
	}
	return buf.Bytes()
}

var placeholderPNG = func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}()
