// Package results rebuilds an AnalysisResult from the flat list of output
// filenames a finished job reports.
//
// The backend does not describe its outputs; the variant and the kind of each
// file are encoded in its name. Matching is case-insensitive on the basename:
//
//	variant: "insensitive" before "sensitive" (the former contains the latter)
//	kind:    "visualization", "enhanced", "comparison", "detailed", "summary",
//	         then "analysis" (checked last, "enhanced_analysis" contains it)
//
// Missing files leave their slot nil. Names that fit no slot, or that repeat
// a slot already taken, are listed in Unclassified.
package results

import (
	"path"
	"strings"

	"github.com/trendreview/trendreview/internal/models"
)

// Variant tags
const (
	VariantSensitive   = "sensitive"
	VariantInsensitive = "insensitive"
)

// Classify returns the variant and kind encoded in name. ok is false when the
// kind is unknown, or when a per-variant kind carries no variant.
func Classify(name string) (variant string, kind models.ArtifactKind, ok bool) {
	lower := strings.ToLower(baseName(name))

	switch {
	case strings.Contains(lower, VariantInsensitive):
		variant = VariantInsensitive
	case strings.Contains(lower, VariantSensitive):
		variant = VariantSensitive
	}

	switch {
	case strings.Contains(lower, "visualization"):
		kind = models.KindVisualization
	case strings.Contains(lower, "enhanced"):
		kind = models.KindEnhancedAnalysis
	case strings.Contains(lower, "comparison"):
		return "", models.KindComparison, true
	case strings.Contains(lower, "detailed"):
		return "", models.KindDetailed, true
	case strings.Contains(lower, "summary"):
		return "", models.KindSummary, true
	case strings.Contains(lower, "analysis"):
		kind = models.KindAnalysis
	default:
		return variant, "", false
	}
	if variant == "" {
		return "", kind, false
	}
	return variant, kind, true
}

// Assemble builds the result of job jobID from its reported files.
func Assemble(jobID string, files []string, summary string) *models.AnalysisResult {
	res := &models.AnalysisResult{JobID: jobID, Summary: summary}

	for _, f := range files {
		name := baseName(f)
		if name == "" {
			continue
		}
		variant, kind, ok := Classify(name)
		if !ok {
			res.Unclassified = append(res.Unclassified, name)
			continue
		}
		a := &models.Artifact{Name: name, Kind: kind, Variant: variant, Path: models.ArtifactPath(name)}
		if slot := slotFor(res, variant, kind); slot != nil && *slot == nil {
			*slot = a
		} else {
			res.Unclassified = append(res.Unclassified, name)
		}
	}
	return res
}

// FromProcessResults builds a result from the structured process-csv answer.
// The same name matching applies, so a field holding an unexpected name is
// placed where its name says, not where the field says.
func FromProcessResults(p *models.ProcessResults) *models.AnalysisResult {
	if p == nil {
		return &models.AnalysisResult{}
	}
	return Assemble(p.Filename, p.Names(), "")
}

func slotFor(res *models.AnalysisResult, variant string, kind models.ArtifactKind) **models.Artifact {
	switch kind {
	case models.KindComparison:
		return &res.ComparisonReport
	case models.KindDetailed:
		return &res.DetailedReport
	case models.KindSummary:
		return &res.SummaryReport
	}

	v := &res.Sensitive
	if variant == VariantInsensitive {
		v = &res.Insensitive
	}
	switch kind {
	case models.KindVisualization:
		return &v.Visualization
	case models.KindEnhancedAnalysis:
		return &v.EnhancedAnalysis
	case models.KindAnalysis:
		return &v.Analysis
	}
	return nil
}

// NarrativeReport returns the report a reader should open first: the
// detailed report, else the summary file.
func NarrativeReport(res *models.AnalysisResult) *models.Artifact {
	if res == nil {
		return nil
	}
	if res.DetailedReport != nil {
		return res.DetailedReport
	}
	return res.SummaryReport
}

func baseName(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	b := path.Base(p)
	if b == "." || b == "/" {
		return ""
	}
	return b
}
