package pipeline

import "time"

// State of a pipeline run
type State string

const (
	StateParsing           State = "PARSING"
	StateCriteriaExtracted State = "CRITERIA_EXTRACTED"
	StateContentFetched    State = "CONTENT_FETCHED"
	StateImagesAnalyzed    State = "IMAGES_ANALYZED"
	StateReportGenerated   State = "REPORT_GENERATED"
	StateFailed            State = "FAILED"
)

// Terminal returns true if no transition leaves s
func (s State) Terminal() bool {
	return s == StateReportGenerated || s == StateFailed
}

// Stage names reported in failed_stage and degraded_stages
const (
	StageExtract = "extract"
	StageFetch   = "fetch"
	StageImages  = "images"
	StageReport  = "report"
)

// Outcome of a single stage
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFatal    Outcome = "fatal"
)

// StageResult tagged result of a stage
type StageResult struct {
	Stage   string
	Outcome Outcome
	Reason  string
}

func ok(stage string) StageResult {
	return StageResult{Stage: stage, Outcome: OutcomeOK}
}

func degraded(stage, reason string) StageResult {
	return StageResult{Stage: stage, Outcome: OutcomeDegraded, Reason: reason}
}

func fatal(stage, reason string) StageResult {
	return StageResult{Stage: stage, Outcome: OutcomeFatal, Reason: reason}
}

// Transition one step of the run log
type Transition struct {
	From     State
	To       State
	Result   StageResult
	Duration time.Duration
}

// next returns the state a stage leads to
func next(from State, result StageResult) State {
	if result.Outcome == OutcomeFatal {
		return StateFailed
	}
	switch from {
	case StateParsing:
		return StateCriteriaExtracted
	case StateCriteriaExtracted:
		return StateContentFetched
	case StateContentFetched:
		return StateImagesAnalyzed
	case StateImagesAnalyzed:
		return StateReportGenerated
	default:
		return from
	}
}
