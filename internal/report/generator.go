package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mixelka/repa/internal/llm"
	"github.com/mixelka/repa/pkg/models"
)

// AnalysisValidationError is returned when the model output violates the report schema
type AnalysisValidationError struct {
	Field  string
	Reason string
}

func (e *AnalysisValidationError) Error() string {
	return fmt.Sprintf("invalid report field %q: %s", e.Field, e.Reason)
}

// Generator produces match reports
type Generator struct {
	llm    llm.Completer
	model  string
	now    func() time.Time
	logger *slog.Logger
}

// New creates a new report generator
func New(completer llm.Completer, model string, logger *slog.Logger) *Generator {
	return &Generator{
		llm:    completer,
		model:  model,
		now:    time.Now,
		logger: logger.With("component", "report"),
	}
}

// Generate builds the match report of a listing.
// The report always has a score in [0, 100]. If the model failed or answered outside the
// schema, the report is degraded with the neutral score and the error is returned too.
func (g *Generator) Generate(ctx context.Context, criteria models.UserCriteria, content models.ListingContent, images []models.ImageAnalysisResult) (models.MatchReport, error) {
	if images == nil {
		images = []models.ImageAnalysisResult{}
	}

	report := models.MatchReport{
		Matched:      []string{},
		Mismatched:   []string{},
		Images:       images,
		Status:       models.ReportComplete,
		ListingURL:   content.URL,
		ListingTitle: content.Title,
		GeneratedAt:  g.now(),
	}

	out, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Model:       g.model,
		System:      systemPrompt,
		User:        buildPrompt(criteria, content, images),
		Temperature: 0.1,
		JSON:        true,
	})
	if err != nil {
		g.logger.Warn("Report completion failed", "url", content.URL, "error", err)
		return neutral(report, "The match report could not be generated right now."), fmt.Errorf("completion: %w", err)
	}

	obj, err := llm.DecodeObject(out)
	if err != nil {
		g.logger.Warn("Unparseable report response", "url", content.URL, "error", err)
		return neutral(report, "The match report could not be read."), &AnalysisValidationError{Field: "document", Reason: err.Error()}
	}

	facts := decodeFacts(obj)
	report.Matched, report.Mismatched = Compare(criteria, facts)
	if report.ListingTitle == "" && facts.Title != nil {
		report.ListingTitle = *facts.Title
	}
	report.Highlights, _ = obj.GetStrings("highlights")
	if rec, _ := obj.GetString("recommendation"); rec != nil {
		report.Recommendation = *rec
	}

	var validationErr error
	score, reason := decodeScore(obj)
	if reason != "" {
		validationErr = &AnalysisValidationError{Field: "score", Reason: reason}
		g.logger.Warn("Invalid report score", "url", content.URL, "reason", reason)
		report.Status = models.ReportDegraded
		report.Score = models.NeutralScore
		note := fmt.Sprintf("The score could not be determined (%s), a neutral score of %d is shown.", reason, models.NeutralScore)
		report.Recommendation = strings.TrimSpace(note + " " + report.Recommendation)
	} else {
		report.Score = score
	}

	report.Verdict = decodeVerdict(obj, report.Score)
	for _, m := range report.Mismatched {
		if m == CriterionPropertyType {
			report.Verdict = models.VerdictNotAGoodFit
		}
	}

	if report.Verdict.Recommends() {
		report.ContactMessage, _ = obj.GetString("contact_message")
	}

	return report, validationErr
}

// neutral marks report as degraded with the neutral score
func neutral(report models.MatchReport, recommendation string) models.MatchReport {
	report.Status = models.ReportDegraded
	report.Score = models.NeutralScore
	report.Recommendation = recommendation
	return report
}

// scoreSchema is the score contract of a report response
type scoreSchema struct {
	Score *float64 `json:"score" validate:"required,whole,min=0,max=100"`
}

var validate = llm.NewValidator()

// decodeScore returns the score or the reason it is invalid
func decodeScore(obj llm.Object) (int, string) {
	var s scoreSchema
	if raw, ok := obj["score"]; ok {
		if err := json.Unmarshal(raw, &s.Score); err != nil {
			return 0, "not a number"
		}
	}

	for _, fe := range llm.FieldErrors(validate.Struct(s)) {
		if fe.Tag() == "required" {
			return 0, "missing"
		}
		return 0, fmt.Sprintf("%v is not an integer in [0, 100]", *s.Score)
	}
	return int(*s.Score), ""
}

func decodeVerdict(obj llm.Object, score int) models.Verdict {
	if s, _ := obj.GetString("verdict"); s != nil {
		v := models.Verdict(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(*s)), " ", "_"))
		switch v {
		case models.VerdictHighlyRecommended, models.VerdictWorthConsidering, models.VerdictNotAGoodFit:
			return v
		}
	}

	switch {
	case score >= 75:
		return models.VerdictHighlyRecommended
	case score >= 50:
		return models.VerdictWorthConsidering
	default:
		return models.VerdictNotAGoodFit
	}
}

// decodeFacts reads the listing object. Ill-typed facts are treated as unknown.
func decodeFacts(obj llm.Object) Facts {
	var f Facts
	listing, err := obj.GetObject("listing")
	if err != nil || listing == nil {
		return f
	}

	if pt, _ := listing.GetString("property_type"); pt != nil {
		p := models.PropertyType(strings.ToLower(*pt))
		if p.Valid() {
			f.PropertyType = &p
		}
	}
	f.Location, _ = listing.GetString("location")
	f.Title, _ = listing.GetString("title")
	f.Rooms, _ = listing.GetFloat("rooms")
	f.LivingSpace, _ = listing.GetFloat("living_space")
	f.Price, _ = listing.GetFloat("price")
	if f.Price == nil {
		f.Price, _ = listing.GetFloat("rent")
	}
	return f
}

func buildPrompt(criteria models.UserCriteria, content models.ListingContent, images []models.ImageAnalysisResult) string {
	// Mailbox filters are not listing criteria
	criteria.EmailSender, criteria.EmailSubjectKeywords = nil, nil
	criteriaJSON, err := json.MarshalIndent(criteria, "", "  ")
	if err != nil {
		criteriaJSON = []byte("{}")
	}

	propertyNote := ""
	if criteria.PropertyType != nil {
		propertyNote = fmt.Sprintf("\nThe user wants to %s. Only recommend listings of that kind.\n", *criteria.PropertyType)
	}

	body := content.Body
	if !content.Usable() {
		body = "The listing page could not be fetched. Judge from the URL and criteria only and say so."
	}
	title := content.Title
	if title == "" {
		title = content.URL
	}

	var sb strings.Builder
	for i, img := range images {
		if img.Description == nil {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("\nImage analysis:\n")
		}
		fmt.Fprintf(&sb, "Image %d (%s): %s\n", i+1, img.URL, *img.Description)
	}

	return fmt.Sprintf(userPromptTemplate, string(criteriaJSON), propertyNote, title, body, sb.String())
}
