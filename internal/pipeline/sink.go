package pipeline

import (
	"context"

	"github.com/mixelka/repa/pkg/models"
)

// Source where a run was requested from
type Source string

const (
	SourceChat  Source = "chat"
	SourceEmail Source = "email"
)

// Delivery a finished report addressed to a user
type Delivery struct {
	Source      Source
	ListingURL  string
	Report      models.MatchReport
	Subject     string // Email subject for monitor deliveries
	RecordID    int64  // Processed email record holding the report, 0 for chat
	ReportIndex int    // Index of the report within the record
}

// Sink receives finished reports of both chat and monitor runs
type Sink interface {
	Deliver(ctx context.Context, userID int64, d Delivery) error
}
