package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mixelka/repa/internal/metrics"
	"github.com/mixelka/repa/pkg/models"
)

// CriteriaExtractor turns free text into criteria
type CriteriaExtractor interface {
	Extract(ctx context.Context, text string) (models.UserCriteria, error)
}

// ListingFetcher fetches listing content
type ListingFetcher interface {
	Fetch(ctx context.Context, listingURL string) (models.ListingContent, error)
}

// ImageAnalyzer describes listing images
type ImageAnalyzer interface {
	Analyze(ctx context.Context, urls []string) []models.ImageAnalysisResult
}

// ReportGenerator builds match reports
type ReportGenerator interface {
	Generate(ctx context.Context, criteria models.UserCriteria, content models.ListingContent, images []models.ImageAnalysisResult) (models.MatchReport, error)
}

// Timeouts per stage. Zero means no stage timeout.
type Timeouts struct {
	Extract time.Duration
	Fetch   time.Duration
	Images  time.Duration
	Report  time.Duration
}

// Deps orchestrator dependencies
type Deps struct {
	Extractor CriteriaExtractor
	Fetcher   ListingFetcher
	Analyzer  ImageAnalyzer
	Generator ReportGenerator
	Timeouts  Timeouts
	Logger    *slog.Logger
	Now       func() time.Time
}

// Orchestrator runs the listing match pipeline. It keeps no state between runs.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
}

// Request input of a single run
type Request struct {
	Source   Source
	Text     string               // Free text to extract criteria from, may be empty
	URL      string               // Listing URL, may be empty
	Criteria *models.UserCriteria // Saved criteria, refined by criteria extracted from Text
}

// Result of a run. Report is always set.
type Result struct {
	RunID       uuid.UUID
	Report      models.MatchReport
	Criteria    models.UserCriteria // Criteria the listing was matched against
	Extracted   models.UserCriteria // Criteria extracted from the request text
	State       State
	Transitions []Transition
}

// New creates a new orchestrator
func New(deps Deps) *Orchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		deps:   deps,
		logger: deps.Logger.With("component", "pipeline"),
	}
}

type run struct {
	o      *Orchestrator
	result *Result
	logger *slog.Logger
}

// step executes one stage and records its transition
func (r *run) step(ctx context.Context, timeout time.Duration, stage func(ctx context.Context) StageResult) StageResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := r.o.deps.Now()
	res := stage(ctx)
	elapsed := r.o.deps.Now().Sub(start)

	from := r.result.State
	to := next(from, res)
	r.result.State = to
	r.result.Transitions = append(r.result.Transitions, Transition{From: from, To: to, Result: res, Duration: elapsed})
	metrics.RecordStage(res.Stage, string(res.Outcome), elapsed)

	if res.Outcome != OutcomeOK {
		r.logger.Warn("Stage not ok", "stage", res.Stage, "outcome", res.Outcome, "reason", res.Reason)
	} else {
		r.logger.Debug("Stage done", "stage", res.Stage, "state", to)
	}
	return res
}

// Run executes the pipeline to a terminal state
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	result := &Result{RunID: uuid.New(), State: StateParsing}
	r := &run{
		o:      o,
		result: result,
		logger: o.logger.With("run_id", result.RunID, "source", req.Source, "url", req.URL),
	}
	r.logger.Info("Pipeline run started")

	var base models.UserCriteria
	if req.Criteria != nil {
		base = *req.Criteria
	}

	res := r.step(ctx, o.deps.Timeouts.Extract, func(ctx context.Context) StageResult {
		result.Criteria = base
		var extractErr error
		if req.Text != "" {
			result.Extracted, extractErr = o.deps.Extractor.Extract(ctx, req.Text)
			result.Criteria = base.Merge(result.Extracted)
		}
		if result.Criteria.IsEmpty() && req.URL == "" {
			reason := "no criteria and no listing URL"
			if extractErr != nil {
				reason += ": " + extractErr.Error()
			}
			return fatal(StageExtract, reason)
		}
		if extractErr != nil {
			return degraded(StageExtract, extractErr.Error())
		}
		return ok(StageExtract)
	})
	if res.Outcome == OutcomeFatal {
		return o.finish(r, req, failedReport(req.URL, res, o.deps.Now()))
	}

	var content models.ListingContent
	res = r.step(ctx, o.deps.Timeouts.Fetch, func(ctx context.Context) StageResult {
		if req.URL == "" {
			content = models.ListingContent{ImageURLs: []string{}, Status: models.FetchDegraded, Reason: "no listing URL"}
			return degraded(StageFetch, content.Reason)
		}
		var err error
		content, err = o.deps.Fetcher.Fetch(ctx, req.URL)
		if err == nil && !content.Usable() {
			err = fmt.Errorf("listing content unusable: %s", content.Reason)
		}
		if err != nil {
			if result.Criteria.IsEmpty() {
				return fatal(StageFetch, "no criteria and no listing content: "+err.Error())
			}
			return degraded(StageFetch, err.Error())
		}
		return ok(StageFetch)
	})
	if res.Outcome == OutcomeFatal {
		return o.finish(r, req, failedReport(req.URL, res, o.deps.Now()))
	}

	var images []models.ImageAnalysisResult
	r.step(ctx, o.deps.Timeouts.Images, func(ctx context.Context) StageResult {
		if len(content.ImageURLs) == 0 {
			images = []models.ImageAnalysisResult{}
			return ok(StageImages)
		}
		images = o.deps.Analyzer.Analyze(ctx, content.ImageURLs)
		failed := 0
		for _, img := range images {
			if img.Failed() {
				failed++
			}
		}
		if failed > 0 {
			return degraded(StageImages, fmt.Sprintf("%d of %d images failed", failed, len(images)))
		}
		return ok(StageImages)
	})

	var report models.MatchReport
	r.step(ctx, o.deps.Timeouts.Report, func(ctx context.Context) StageResult {
		var err error
		report, err = o.deps.Generator.Generate(ctx, result.Criteria, content, images)
		if err != nil {
			return degraded(StageReport, err.Error())
		}
		if report.Status == models.ReportDegraded {
			return degraded(StageReport, "report degraded")
		}
		return ok(StageReport)
	})

	report = clampScore(report)
	if report.ListingURL == "" {
		report.ListingURL = req.URL
	}
	report.Status = models.ReportComplete
	report.FailedStage = nil
	report.DegradedStages = nil
	for _, t := range result.Transitions {
		if t.Result.Outcome != OutcomeDegraded {
			continue
		}
		if report.FailedStage == nil {
			stage := t.Result.Stage
			report.FailedStage = &stage
		}
		report.Status = models.ReportDegraded
		report.DegradedStages = append(report.DegradedStages, t.Result.Stage)
	}

	return o.finish(r, req, report)
}

func (o *Orchestrator) finish(r *run, req Request, report models.MatchReport) Result {
	r.result.Report = report
	source := req.Source
	if source == "" {
		source = SourceChat
	}
	metrics.RecordRun(string(source), string(report.Status))
	r.logger.Info("Pipeline run finished", "state", r.result.State, "status", report.Status, "score", report.Score)
	return *r.result
}

// failedReport is the report of a run that ended in FAILED
func failedReport(listingURL string, res StageResult, now time.Time) models.MatchReport {
	stage := res.Stage
	return models.MatchReport{
		Score:          0,
		Matched:        []string{},
		Mismatched:     []string{},
		Recommendation: "Nothing to analyze: " + res.Reason,
		Images:         []models.ImageAnalysisResult{},
		Status:         models.ReportFailed,
		FailedStage:    &stage,
		ListingURL:     listingURL,
		GeneratedAt:    now,
	}
}

// clampScore keeps a generator score within [0, 100]
func clampScore(r models.MatchReport) models.MatchReport {
	if r.Score < 0 {
		r.Score = 0
	}
	if r.Score > 100 {
		r.Score = 100
	}
	if r.Matched == nil {
		r.Matched = []string{}
	}
	if r.Mismatched == nil {
		r.Mismatched = []string{}
	}
	if r.Images == nil {
		r.Images = []models.ImageAnalysisResult{}
	}
	return r
}
