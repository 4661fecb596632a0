package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ReportStatus generation status of a match report
type ReportStatus string

const (
	ReportComplete ReportStatus = "complete"
	ReportDegraded ReportStatus = "degraded"
	ReportFailed   ReportStatus = "failed"
)

// Verdict overall recommendation of a report
type Verdict string

const (
	VerdictHighlyRecommended Verdict = "highly_recommended"
	VerdictWorthConsidering  Verdict = "worth_considering"
	VerdictNotAGoodFit       Verdict = "not_a_good_fit"
)

// Recommends returns true if the listing is worth contacting the advertiser for
func (v Verdict) Recommends() bool {
	return v == VerdictHighlyRecommended || v == VerdictWorthConsidering
}

// NeutralScore is used whenever a reliable score could not be produced
const NeutralScore = 50

// MatchReport result of matching one listing against user criteria
type MatchReport struct {
	Score          int                   `json:"score"`
	Matched        []string              `json:"matched"`
	Mismatched     []string              `json:"mismatched"`
	Recommendation string                `json:"recommendation"`
	Verdict        Verdict               `json:"verdict,omitempty"`
	Highlights     []string              `json:"highlights,omitempty"`
	ContactMessage *string               `json:"contact_message"`
	Images         []ImageAnalysisResult `json:"images"`
	Status         ReportStatus          `json:"status"`
	FailedStage    *string               `json:"failed_stage"`
	DegradedStages []string              `json:"degraded_stages,omitempty"`
	ListingURL     string                `json:"listing_url,omitempty"`
	ListingTitle   string                `json:"listing_title,omitempty"`
	GeneratedAt    time.Time             `json:"generated_at"`
}

// ListingReport report produced for one listing URL of an email
type ListingReport struct {
	URL    string      `json:"url"`
	Report MatchReport `json:"report"`
}

// ListingReports reports attached to a processed email, stored as JSON
type ListingReports []ListingReport

// Value implements driver.Valuer. An empty list is stored as NULL.
func (r ListingReports) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]ListingReport(r))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (r *ListingReports) Scan(src any) error {
	*r = nil
	return scanJSON(src, (*[]ListingReport)(r))
}

// ProcessedEmailRecord marks an email as handled for a user. Never updated after insert.
type ProcessedEmailRecord struct {
	ID             int64          `db:"id"`
	UserID         int64          `db:"user_id"`
	EmailMessageID string         `db:"email_message_id"` // Message-ID header
	Subject        string         `db:"subject"`
	Sender         string         `db:"sender"`
	ListingURLs    StringList     `db:"listing_urls"`
	Reports        ListingReports `db:"reports"` // NULL if no URL could be analyzed
	ProcessedAt    time.Time      `db:"processed_at"`
}
