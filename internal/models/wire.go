package models

// SubmitResponse is the envelope returned by the submission endpoints.
// Exactly one of Filepath, Results or JobID is meaningful per endpoint.
type SubmitResponse struct {
	Status   string          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
	Filepath string          `json:"filepath,omitempty"`
	Results  *ProcessResults `json:"results,omitempty"`
	JobID    string          `json:"job_id,omitempty"`
}

// ProcessResults describes the trend-analysis artifacts of /api/process-csv.
// Values are bare filenames.
type ProcessResults struct {
	Timestamp        string       `json:"timestamp,omitempty"`
	Filename         string       `json:"filename,omitempty"`
	Sensitive        VariantFiles `json:"sensitive"`
	Insensitive      VariantFiles `json:"insensitive"`
	ComparisonReport string       `json:"comparison_report,omitempty"`
	DetailedReport   string       `json:"detailed_report,omitempty"`
}

// VariantFiles holds the filenames of one variant.
type VariantFiles struct {
	Visualization    string `json:"visualization,omitempty"`
	Analysis         string `json:"analysis,omitempty"`
	EnhancedAnalysis string `json:"enhanced_analysis,omitempty"`
}

// Names returns every non-empty filename, sensitive variant first.
func (p *ProcessResults) Names() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, n := range []string{
		p.Sensitive.Visualization, p.Sensitive.Analysis, p.Sensitive.EnhancedAnalysis,
		p.Insensitive.Visualization, p.Insensitive.Analysis, p.Insensitive.EnhancedAnalysis,
		p.ComparisonReport, p.DetailedReport,
	} {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// RunAnalysisRequest is the JSON body of /api/run-analysis.
type RunAnalysisRequest struct {
	File  string `json:"file"`
	Query string `json:"query"`
}

// StatusResponse is the body of /api/analysis-status/{job_id}.
type StatusResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Summary string   `json:"summary,omitempty"`
	Files   []string `json:"files,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// OutputFilesResponse is the body of the deprecated /api/check-output-files.
type OutputFilesResponse struct {
	Status            string `json:"status"`
	FinalReportExists bool   `json:"final_report_exists,omitempty"`
	FinalReport       string `json:"final_report,omitempty"`
	Error             string `json:"error,omitempty"`
	Message           string `json:"message,omitempty"`
}
