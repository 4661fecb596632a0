package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mixelka/repa/internal/database"
	"github.com/mixelka/repa/internal/email"
	"github.com/mixelka/repa/internal/metrics"
	"github.com/mixelka/repa/internal/pipeline"
	"github.com/mixelka/repa/pkg/models"
)

// ErrNotConfigured is returned by CheckUser for users without a mailbox
var ErrNotConfigured = errors.New("mailbox monitoring is not configured")

// DuplicateMessageError means another check already recorded the message
type DuplicateMessageError struct {
	UserID    int64
	MessageID string
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("email %s already processed for user %d", e.MessageID, e.UserID)
}

// Store persistence used by the monitor
type Store interface {
	ListMonitoredUsers(ctx context.Context) ([]*models.UserProfile, error)
	GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
	HasProcessedEmail(ctx context.Context, userID int64, messageID string) (bool, error)
	CreateProcessedEmail(ctx context.Context, rec *models.ProcessedEmailRecord) error
	UpdateLastEmailCheck(ctx context.Context, userID int64, at time.Time) error
}

// Runner runs the listing pipeline
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Result
}

// Mailbox an open inbox session
type Mailbox interface {
	FetchUnseen(ctx context.Context) ([]*email.Message, error)
	Close()
}

// Dialer opens mailbox sessions
type Dialer interface {
	Dial(ctx context.Context, cfg email.ClientConfig) (Mailbox, error)
}

// DialFunc adapts a function to Dialer
type DialFunc func(ctx context.Context, cfg email.ClientConfig) (Mailbox, error)

// Dial calls f
func (f DialFunc) Dial(ctx context.Context, cfg email.ClientConfig) (Mailbox, error) {
	return f(ctx, cfg)
}

// IMAPDialer dials real IMAP servers
func IMAPDialer(logger *slog.Logger) Dialer {
	return DialFunc(func(ctx context.Context, cfg email.ClientConfig) (Mailbox, error) {
		c, err := email.Dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// LinkExtractor finds listing URLs in message bodies
type LinkExtractor interface {
	Extract(htmlBody, textBody string) []string
}

// Config monitor limits and defaults
type Config struct {
	TickTimeout            time.Duration
	DialTimeout            time.Duration
	UserConcurrency        int
	URLConcurrency         int
	RunConcurrency         int // Pipeline runs in flight per tick across users
	DefaultSenderFilter    string
	DefaultSubjectKeywords models.Keywords
}

// Deps monitor dependencies
type Deps struct {
	Store  Store
	Runner Runner
	Dialer Dialer
	Links  LinkExtractor
	Sink   pipeline.Sink
	Open   func(sealed string) (string, error) // Unseals stored app passwords
	Config Config
	Logger *slog.Logger
	Now    func() time.Time
}

// CheckSummary outcome of one mailbox check
type CheckSummary struct {
	Messages   int // Unseen messages fetched
	Filtered   int
	Duplicates int
	Recorded   int
	Abandoned  int // Left for the next check because the deadline passed
	Runs       int
}

// Monitor polls user inboxes for listing alerts
type Monitor struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New creates a new monitor
func New(deps Deps) *Monitor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg := deps.Config
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 4 * time.Minute
	}
	if cfg.UserConcurrency < 1 {
		cfg.UserConcurrency = 1
	}
	if cfg.URLConcurrency < 1 {
		cfg.URLConcurrency = 1
	}
	if cfg.RunConcurrency < 1 {
		cfg.RunConcurrency = 1
	}
	return &Monitor{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With("component", "monitor"),
	}
}

// Tick checks every monitored mailbox once
func (m *Monitor) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.TickTimeout)
	defer cancel()

	users, err := m.deps.Store.ListMonitoredUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list monitored users: %w", err)
	}
	if len(users) == 0 {
		return nil
	}

	m.logger.Debug("monitor tick", "users", len(users))

	runs := semaphore.NewWeighted(int64(m.cfg.RunConcurrency))

	// One failing mailbox must not stop the others
	var g errgroup.Group
	g.SetLimit(m.cfg.UserConcurrency)
	for _, p := range users {
		p := p
		g.Go(func() error {
			summary, err := m.check(ctx, p, runs)
			if err != nil {
				m.logger.Error("mailbox check failed", "user_id", p.UserID, "error", err)
				return nil
			}
			m.logSummary(p.UserID, summary)
			return nil
		})
	}
	return g.Wait()
}

// CheckUser checks the mailbox of a single user now
func (m *Monitor) CheckUser(ctx context.Context, userID int64) (CheckSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.TickTimeout)
	defer cancel()

	p, err := m.deps.Store.GetProfile(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return CheckSummary{}, ErrNotConfigured
	}
	if err != nil {
		return CheckSummary{}, fmt.Errorf("failed to get profile: %w", err)
	}
	if !p.Configured() {
		return CheckSummary{}, ErrNotConfigured
	}

	summary, err := m.check(ctx, p, semaphore.NewWeighted(int64(m.cfg.RunConcurrency)))
	if err != nil {
		return summary, err
	}
	m.logSummary(userID, summary)
	return summary, nil
}

func (m *Monitor) logSummary(userID int64, s CheckSummary) {
	m.logger.Info("mailbox checked",
		"user_id", userID,
		"messages", s.Messages,
		"filtered", s.Filtered,
		"duplicates", s.Duplicates,
		"recorded", s.Recorded,
		"abandoned", s.Abandoned,
		"runs", s.Runs,
	)
}

// check handles all unseen messages of one user
func (m *Monitor) check(ctx context.Context, p *models.UserProfile, runs *semaphore.Weighted) (CheckSummary, error) {
	var summary CheckSummary
	logger := m.logger.With("user_id", p.UserID)

	password, err := m.deps.Open(*p.AppPassword)
	if err != nil {
		return summary, fmt.Errorf("failed to open app password: %w", err)
	}
	server, err := email.ServerForProvider(p.Provider)
	if err != nil {
		return summary, err
	}

	mbox, err := m.deps.Dialer.Dial(ctx, email.ClientConfig{
		Address:     *p.MonitorEmail,
		Password:    password,
		Server:      server,
		DialTimeout: m.cfg.DialTimeout,
	})
	if err != nil {
		var authErr *email.MailboxAuthError
		if errors.As(err, &authErr) {
			metrics.RecordMailboxError("auth")
		} else {
			metrics.RecordMailboxError("connect")
		}
		return summary, err
	}
	defer mbox.Close()

	msgs, err := mbox.FetchUnseen(ctx)
	if err != nil {
		metrics.RecordMailboxError("fetch")
		return summary, fmt.Errorf("failed to fetch unseen messages: %w", err)
	}
	summary.Messages = len(msgs)

	f := m.filtersFor(p)
	for _, msg := range msgs {
		if ctx.Err() != nil {
			summary.Abandoned++
			metrics.RecordEmail("abandoned")
			continue
		}

		if !f.match(msg.From.String(), msg.Subject) {
			summary.Filtered++
			metrics.RecordEmail("filtered")
			continue
		}

		n, err := m.handleMessage(ctx, p, msg, runs)
		summary.Runs += n

		var dup *DuplicateMessageError
		switch {
		case err == nil:
			summary.Recorded++
			metrics.RecordEmail("recorded")
		case errors.As(err, &dup):
			summary.Duplicates++
			metrics.RecordEmail("duplicate")
		case ctx.Err() != nil:
			summary.Abandoned++
			metrics.RecordEmail("abandoned")
		default:
			metrics.RecordEmail("failed")
			logger.Error("failed to process email", "message_id", msg.MessageID, "error", err)
		}
	}

	if ctx.Err() != nil {
		return summary, nil
	}

	if err := m.deps.Store.UpdateLastEmailCheck(ctx, p.UserID, m.deps.Now()); err != nil {
		logger.Warn("failed to update last email check", "error", err)
	}

	return summary, nil
}

// handleMessage analyzes every listing of a message and records it once.
// Returns the number of pipeline runs made.
func (m *Monitor) handleMessage(ctx context.Context, p *models.UserProfile, msg *email.Message, runs *semaphore.Weighted) (int, error) {
	seen, err := m.deps.Store.HasProcessedEmail(ctx, p.UserID, msg.MessageID)
	if err != nil {
		return 0, fmt.Errorf("failed to check processed email: %w", err)
	}
	if seen {
		return 0, &DuplicateMessageError{UserID: p.UserID, MessageID: msg.MessageID}
	}

	urls := m.deps.Links.Extract(msg.BodyHTML, msg.BodyText)
	results := m.analyze(ctx, p, urls, runs)
	started := 0
	for _, res := range results {
		if res != nil {
			started++
		}
	}

	// An expired deadline leaves the message for the next check
	if err := ctx.Err(); err != nil {
		return started, err
	}

	var reports models.ListingReports
	for i, url := range urls {
		res := results[i]
		if res == nil || res.Status == models.ReportFailed {
			continue
		}
		reports = append(reports, models.ListingReport{URL: url, Report: *res})
	}

	rec := &models.ProcessedEmailRecord{
		UserID:         p.UserID,
		EmailMessageID: msg.MessageID,
		Subject:        msg.Subject,
		Sender:         msg.From.String(),
		ListingURLs:    models.StringList(urls),
		Reports:        reports,
		ProcessedAt:    m.deps.Now(),
	}
	if err := m.deps.Store.CreateProcessedEmail(ctx, rec); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			return started, &DuplicateMessageError{UserID: p.UserID, MessageID: msg.MessageID}
		}
		return started, fmt.Errorf("failed to record email: %w", err)
	}

	m.deliver(ctx, p.UserID, rec)
	return started, nil
}

// analyze runs the pipeline for every URL. A nil entry means the run never started.
func (m *Monitor) analyze(ctx context.Context, p *models.UserProfile, urls []string, runs *semaphore.Weighted) []*models.MatchReport {
	results := make([]*models.MatchReport, len(urls))
	criteria := p.UserCriteria

	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(int64(m.cfg.URLConcurrency))
	for i, url := range urls {
		i, url := i, url
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			if err := runs.Acquire(ctx, 1); err != nil {
				return
			}
			defer runs.Release(1)

			res := m.deps.Runner.Run(ctx, pipeline.Request{
				Source:   pipeline.SourceEmail,
				URL:      url,
				Criteria: &criteria,
			})
			results[i] = &res.Report
		}()
	}
	wg.Wait()

	return results
}

// deliver notifies the user about each stored report
func (m *Monitor) deliver(ctx context.Context, userID int64, rec *models.ProcessedEmailRecord) {
	if m.deps.Sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	for i, lr := range rec.Reports {
		err := m.deps.Sink.Deliver(ctx, userID, pipeline.Delivery{
			Source:      pipeline.SourceEmail,
			ListingURL:  lr.URL,
			Report:      lr.Report,
			Subject:     rec.Subject,
			RecordID:    rec.ID,
			ReportIndex: i,
		})
		if err != nil {
			m.logger.Warn("failed to deliver report", "user_id", userID, "url", lr.URL, "error", err)
		}
	}
}
