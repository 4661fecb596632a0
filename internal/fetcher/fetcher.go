package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mixelka/repa/internal/metrics"
	"github.com/mixelka/repa/internal/parser"
	"github.com/mixelka/repa/internal/scrape"
	"github.com/mixelka/repa/pkg/models"
)

// Scraper fetches a rendered listing page
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (*scrape.Page, error)
}

// Config for the listing fetcher
type Config struct {
	MaxBodyBytes   int
	MaxImages      int
	RetryMax       int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// FetchError is returned alongside degraded content when a listing could not be fetched
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrEmptyPage is returned when the scraper produced no text for a listing
var ErrEmptyPage = errors.New("listing page has no content")

// Fetcher turns a listing URL into bounded listing content
type Fetcher struct {
	scraper Scraper
	html    *parser.HTMLParser
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// New creates a new listing fetcher
func New(scraper Scraper, cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.MaxImages < 0 {
		cfg.MaxImages = 0
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}

	return &Fetcher{
		scraper: scraper,
		html:    parser.NewHTMLParser(),
		cfg:     cfg,
		sleep:   sleepContext,
		logger:  logger.With("component", "fetcher"),
	}
}

// Fetch scrapes the listing and normalizes it.
// On failure it returns degraded content with an empty body and no images, and a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, listingURL string) (models.ListingContent, error) {
	page, attempts, err := f.scrapeWithRetry(ctx, listingURL)
	if err != nil {
		return f.degraded(listingURL, attempts, err)
	}

	body := strings.TrimSpace(page.Markdown)
	if body == "" && page.HTML != "" {
		if text, err := f.html.Parse(page.HTML); err == nil {
			body = text
		}
	}
	if body == "" {
		return f.degraded(listingURL, attempts, ErrEmptyPage)
	}

	return models.ListingContent{
		URL:       listingURL,
		Title:     strings.TrimSpace(page.Title),
		Body:      truncate(body, f.cfg.MaxBodyBytes),
		ImageURLs: parser.ExtractImageURLs(page.Markdown, page.HTML, f.cfg.MaxImages),
		Status:    models.FetchOK,
	}, nil
}

func (f *Fetcher) degraded(listingURL string, attempts int, err error) (models.ListingContent, error) {
	f.logger.Warn("Listing fetch degraded", "url", listingURL, "attempts", attempts, "error", err)
	return models.ListingContent{
		URL:       listingURL,
		ImageURLs: []string{},
		Status:    models.FetchDegraded,
		Reason:    err.Error(),
	}, &FetchError{URL: listingURL, Attempts: attempts, Err: err}
}

func (f *Fetcher) scrapeWithRetry(ctx context.Context, listingURL string) (*scrape.Page, int, error) {
	var lastErr error
	attempt := 0
	for ; attempt <= f.cfg.RetryMax; attempt++ {
		page, err := f.scraper.Scrape(ctx, listingURL)
		if err == nil {
			return page, attempt + 1, nil
		}
		lastErr = err

		if !retryable(ctx, err) || attempt == f.cfg.RetryMax {
			return nil, attempt + 1, lastErr
		}

		metrics.FetchRetries.Inc()
		f.logger.Debug("Retrying listing fetch", "url", listingURL, "attempt", attempt+1, "error", err)
		if err := f.sleep(ctx, f.backoff(attempt)); err != nil {
			return nil, attempt + 1, err
		}
	}
	return nil, attempt, lastErr
}

// backoff returns initial * 2^attempt capped at max, plus up to 250ms jitter
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := f.cfg.BackoffInitial * time.Duration(1<<attempt)
	if d > f.cfg.BackoffMax || d <= 0 {
		d = f.cfg.BackoffMax
	}
	return d + time.Duration(rand.Intn(250))*time.Millisecond
}

// retryable returns false for client errors except 408/429, for unsuccessful scrapes and once ctx is done
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, scrape.ErrUnsuccessful) {
		return false
	}
	var statusErr *scrape.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
