package models

// FetchStatus outcome of fetching a listing
type FetchStatus string

const (
	FetchOK       FetchStatus = "ok"
	FetchDegraded FetchStatus = "degraded"
	FetchFailed   FetchStatus = "failed"
)

// ListingContent normalized listing page. Lives for a single pipeline run.
type ListingContent struct {
	URL       string      `json:"url"`
	Title     string      `json:"title,omitempty"`
	Body      string      `json:"body"`
	ImageURLs []string    `json:"image_urls"`
	Status    FetchStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"` // Why the fetch degraded
}

// Usable returns true if the listing has content to compare against
func (l ListingContent) Usable() bool {
	return l.Status == FetchOK && l.Body != ""
}

// ImageAnalysisResult description of a single listing image.
// Exactly one of Description and Error is set.
type ImageAnalysisResult struct {
	URL         string  `json:"url"`
	Description *string `json:"description"`
	Error       *string `json:"error"`
}

// Failed returns true if the image could not be analyzed
func (r ImageAnalysisResult) Failed() bool {
	return r.Error != nil
}
