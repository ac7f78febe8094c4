// Package models defines the data exchanged with the trend-review backend.
package models

import (
	"strings"
	"time"
)

// Server status markers
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusFailed    = "failed"
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// JobHandle correlates a submitted analysis request with its status polls.
type JobHandle struct {
	ID          string    `json:"job_id"`
	File        string    `json:"file"`  // basename of the submitted selection
	Query       string    `json:"query"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (h JobHandle) String() string { return h.ID }

// JobState is the normalized state of a remote analysis job.
type JobState int

const (
	JobRunning JobState = iota
	JobCompleted
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobRunning:
		return "running"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// JobStatus is one normalized status response.
//
// State is JobCompleted only when the server reports completion AND the
// required artifact is present; a completion claim without it is JobRunning.
type JobStatus struct {
	State   JobState
	Raw     string // status string as sent by the server
	Message string
	Summary string
	Files   []string
	Error   string
}

// ArtifactKind classifies one output file of an analysis run.
type ArtifactKind string

const (
	KindVisualization    ArtifactKind = "visualization"
	KindAnalysis         ArtifactKind = "analysis"
	KindEnhancedAnalysis ArtifactKind = "enhanced_analysis"
	KindComparison       ArtifactKind = "comparison_report"
	KindDetailed         ArtifactKind = "detailed_report"
	KindSummary          ArtifactKind = "summary"
)

// Artifact is a named output file and where it can be fetched.
type Artifact struct {
	Name    string       `json:"name"`
	Kind    ArtifactKind `json:"kind"`
	Variant string       `json:"variant,omitempty"` // "sensitive", "insensitive" or empty
	Path    string       `json:"path"`              // server path, e.g. /static/images/<name>
}

// VariantArtifacts holds the per-variant references; nil means not produced.
type VariantArtifacts struct {
	Visualization    *Artifact `json:"visualization,omitempty"`
	Analysis         *Artifact `json:"analysis,omitempty"`
	EnhancedAnalysis *Artifact `json:"enhanced_analysis,omitempty"`
}

func (v VariantArtifacts) all() []Artifact {
	var out []Artifact
	for _, a := range []*Artifact{v.Visualization, v.Analysis, v.EnhancedAnalysis} {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

// Empty reports whether the variant produced no artifacts.
func (v VariantArtifacts) Empty() bool { return len(v.all()) == 0 }

// AnalysisResult is the bundle of artifacts produced by one run. It is never
// modified after assembly; a re-run produces a new one.
type AnalysisResult struct {
	JobID            string           `json:"job_id,omitempty"`
	Sensitive        VariantArtifacts `json:"sensitive"`
	Insensitive      VariantArtifacts `json:"insensitive"`
	ComparisonReport *Artifact        `json:"comparison_report,omitempty"`
	DetailedReport   *Artifact        `json:"detailed_report,omitempty"`
	SummaryReport    *Artifact        `json:"summary_report,omitempty"`
	Summary          string           `json:"summary,omitempty"`
	Unclassified     []string         `json:"unclassified,omitempty"`
}

// Artifacts lists every artifact present in the result.
func (r *AnalysisResult) Artifacts() []Artifact {
	if r == nil {
		return nil
	}
	out := append(r.Sensitive.all(), r.Insensitive.all()...)
	for _, a := range []*Artifact{r.ComparisonReport, r.DetailedReport, r.SummaryReport} {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

// ArtifactPath returns the server path an artifact name is served under.
// Images live under /static/images/, everything else under /static/files/.
func ArtifactPath(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".svg"} {
		if strings.HasSuffix(lower, ext) {
			return "/static/images/" + name
		}
	}
	return "/static/files/" + name
}
