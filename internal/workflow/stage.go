package workflow

// Stage is the single active stage of a session.
type Stage int

const (
	StageEmpty Stage = iota
	StageRawUploaded
	StageProcessed
	StageReady
	StageAnalysisRunning
	StageAnalysisComplete
	StageAnalysisFailed
)

var stageNames = map[Stage]string{
	StageEmpty:            "empty",
	StageRawUploaded:      "raw_uploaded",
	StageProcessed:        "processed",
	StageReady:            "ready",
	StageAnalysisRunning:  "analysis_running",
	StageAnalysisComplete: "analysis_complete",
	StageAnalysisFailed:   "analysis_failed",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether an analysis has finished in this stage.
func (s Stage) Terminal() bool {
	return s == StageAnalysisComplete || s == StageAnalysisFailed
}

// Controls named in attention events.
const (
	ControlProcess              = "process"
	ControlMaterializeSelection = "materialize_selection"
	ControlStartAnalysis        = "start_analysis"
)

// Affordances is the projection of controller state onto the controls a
// front end shows. It is recomputed on demand and never stored.
type Affordances struct {
	Stage                Stage
	CanEdit              bool
	CanProcess           bool
	CanToggleRows        bool
	CanMaterialize       bool
	CanStartAnalysis     bool
	CanDownloadResults   bool
	SelectionCount       int
	SelectionMax         int
	ReadyForAnalysis     bool
	RunningJobID         string
	LastJobID            string // set once an analysis has finished
	LastOutcome          string
	ProcessedRows        int
	ProcessResultsExists bool
}
