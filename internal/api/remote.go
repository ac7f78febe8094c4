package api

import (
	"context"
	"io"
	"strings"

	"github.com/trendreview/trendreview/internal/dataset"
	"github.com/trendreview/trendreview/internal/models"
)

// EndpointKind selects where a snapshot is submitted.
type EndpointKind int

const (
	// EndpointProcess runs the trend analysis over the snapshot.
	EndpointProcess EndpointKind = iota
	// EndpointSave stores the snapshot as input for a later analysis job.
	EndpointSave
)

func (k EndpointKind) String() string {
	if k == EndpointSave {
		return "save-processed-csv"
	}
	return "process-csv"
}

// SubmitResult is the normalized outcome of SubmitSnapshot: Path for
// EndpointSave, Results for EndpointProcess.
type SubmitResult struct {
	Path    string
	Results *models.ProcessResults
}

// FileName returns the basename of Path, the name analysis jobs refer to.
func (r *SubmitResult) FileName() string {
	if r == nil {
		return ""
	}
	return baseName(r.Path)
}

// Remote is the backend contract the workflow depends on.
type Remote interface {
	SubmitSnapshot(ctx context.Context, snap *dataset.Snapshot, kind EndpointKind) (*SubmitResult, error)
	SubmitAnalysisJob(ctx context.Context, filename, query string) (models.JobHandle, error)
	AnalysisStatus(ctx context.Context, handle models.JobHandle) (models.JobStatus, error)
	// FetchArtifact opens a produced file by server path (see models.ArtifactPath).
	FetchArtifact(ctx context.Context, path string) (io.ReadCloser, int64, error)
}

// NormalizeStatus maps an analysis-status body onto a JobStatus. A
// completion claim without any output file is treated as still running;
// an unrecognized status is a failure.
func NormalizeStatus(resp *models.StatusResponse) models.JobStatus {
	st := models.JobStatus{
		Raw:     resp.Status,
		Message: resp.Message,
		Summary: resp.Summary,
		Files:   append([]string(nil), resp.Files...),
		Error:   resp.Error,
	}
	switch strings.ToLower(resp.Status) {
	case models.StatusRunning:
		st.State = models.JobRunning
	case models.StatusCompleted:
		if len(resp.Files) > 0 {
			st.State = models.JobCompleted
		} else {
			st.State = models.JobRunning
		}
	case models.StatusError, models.StatusFailed:
		st.State = models.JobFailed
		if st.Error == "" {
			st.Error = resp.Message
		}
	default:
		st.State = models.JobFailed
		st.Error = "unrecognized job status " + quote(resp.Status)
	}
	return st
}

// NormalizeOutputFiles maps the legacy check-output-files body onto a
// JobStatus. Completion requires final_report_exists.
func NormalizeOutputFiles(resp *models.OutputFilesResponse) models.JobStatus {
	st := models.JobStatus{Raw: resp.Status, Message: resp.Message, Error: resp.Error}
	switch strings.ToLower(resp.Status) {
	case models.StatusRunning:
		st.State = models.JobRunning
	case models.StatusCompleted:
		if resp.FinalReportExists && resp.FinalReport != "" {
			st.State = models.JobCompleted
			st.Files = []string{resp.FinalReport}
		} else {
			st.State = models.JobRunning
		}
	case models.StatusError, models.StatusFailed:
		st.State = models.JobFailed
	default:
		st.State = models.JobFailed
		st.Error = "unrecognized job status " + quote(resp.Status)
	}
	return st
}

func quote(s string) string { return `"` + s + `"` }

// baseName returns the last path element of a server path, accepting both
// slash styles since the backend may run on Windows.
func baseName(p string) string {
	p = strings.TrimRight(p, `/\`)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
