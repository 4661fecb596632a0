package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mixelka/repa/internal/database"
	"github.com/mixelka/repa/internal/email"
	"github.com/mixelka/repa/internal/parser"
	"github.com/mixelka/repa/internal/pipeline"
	"github.com/mixelka/repa/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

type fakeMailbox struct {
	messages []*email.Message
	closed   atomic.Bool
}

func (m *fakeMailbox) FetchUnseen(ctx context.Context) ([]*email.Message, error) {
	return m.messages, nil
}

func (m *fakeMailbox) Close() { m.closed.Store(true) }

type fakeDialer struct {
	mu      sync.Mutex
	mailbox *fakeMailbox
	err     error
	configs []email.ClientConfig
}

func (d *fakeDialer) Dial(ctx context.Context, cfg email.ClientConfig) (Mailbox, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs = append(d.configs, cfg)
	if d.err != nil {
		return nil, d.err
	}
	return d.mailbox, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	requests []pipeline.Request
	failURLs map[string]bool
	block    bool // Wait for the context before returning
	active   atomic.Int32
	peak     atomic.Int32
}

func (r *fakeRunner) Run(ctx context.Context, req pipeline.Request) pipeline.Result {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}

	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	if r.block {
		<-ctx.Done()
		return pipeline.Result{Report: models.MatchReport{Status: models.ReportFailed, ListingURL: req.URL}}
	}
	if r.failURLs[req.URL] {
		return pipeline.Result{Report: models.MatchReport{Status: models.ReportFailed, ListingURL: req.URL}}
	}
	return pipeline.Result{Report: models.MatchReport{
		Score:      80,
		Status:     models.ReportComplete,
		Verdict:    models.VerdictHighlyRecommended,
		ListingURL: req.URL,
		Matched:    []string{"rooms"},
		Mismatched: []string{},
	}}
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type fakeSink struct {
	mu         sync.Mutex
	deliveries []pipeline.Delivery
}

func (s *fakeSink) Deliver(ctx context.Context, userID int64, d pipeline.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	return nil
}

type MonitorSuite struct {
	suite.Suite
	ctx     context.Context
	db      *database.DB
	dialer  *fakeDialer
	runner  *fakeRunner
	sink    *fakeSink
	now     time.Time
	monitor *Monitor
}

func TestMonitor(t *testing.T) {
	suite.Run(t, new(MonitorSuite))
}

const userID int64 = 42

func (s *MonitorSuite) SetupTest() {
	s.ctx = context.Background()
	db, err := database.New(filepath.Join(s.T().TempDir(), "monitor.db"))
	s.Require().NoError(err)
	s.Require().NoError(db.Migrate(s.ctx))
	s.db = db

	s.Require().NoError(db.SaveCriteria(s.ctx, userID, userID, models.UserCriteria{
		Location: ptr("Zurich"),
		MinRooms: ptr(3),
		MaxRooms: ptr(3),
	}))
	s.Require().NoError(db.SaveMonitorSettings(s.ctx, userID, userID, "anna@gmail.com", models.ProviderGmail, "sealed:secret"))

	s.dialer = &fakeDialer{mailbox: &fakeMailbox{}}
	s.runner = &fakeRunner{}
	s.sink = &fakeSink{}
	s.now = time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	s.monitor = s.newMonitor(Config{TickTimeout: 5 * time.Second, URLConcurrency: 2})
}

func (s *MonitorSuite) newMonitor(cfg Config) *Monitor {
	if cfg.DefaultSubjectKeywords == nil {
		cfg.DefaultSubjectKeywords = models.Keywords{"match"}
	}
	return New(Deps{
		Store:  s.db,
		Runner: s.runner,
		Dialer: s.dialer,
		Links:  parser.NewLinkExtractor(parser.DefaultListingDomains),
		Sink:   s.sink,
		Open: func(sealed string) (string, error) {
			return sealed[len("sealed:"):], nil
		},
		Config: cfg,
		Logger: discardLogger(),
		Now:    func() time.Time { return s.now },
	})
}

func (s *MonitorSuite) TearDownTest() {
	s.db.Close()
}

func alert(id, subject, html string) *email.Message {
	return &email.Message{
		MessageID: id,
		From:      email.Address{Name: "Homegate", Address: "noreply@homegate.ch"},
		Subject:   subject,
		BodyHTML:  html,
	}
}

func (s *MonitorSuite) records() []*models.ProcessedEmailRecord {
	recs, err := s.db.ListProcessedEmails(s.ctx, userID, 50)
	s.Require().NoError(err)
	return recs
}

func (s *MonitorSuite) TestTick_RecordsOncePerMessage() {
	s.dialer.mailbox.messages = []*email.Message{
		alert("<m1@homegate.ch>", "New match in Zurich",
			`<a href="https://www.homegate.ch/rent/4001">A</a> <a href="https://www.homegate.ch/rent/4002">B</a>`),
	}

	s.Require().NoError(s.monitor.Tick(s.ctx))

	s.Equal(2, s.runner.count())
	recs := s.records()
	s.Require().Len(recs, 1)
	rec := recs[0]
	s.Equal("<m1@homegate.ch>", rec.EmailMessageID)
	s.Equal("New match in Zurich", rec.Subject)
	s.Equal("Homegate <noreply@homegate.ch>", rec.Sender)
	s.Equal(models.StringList{"https://www.homegate.ch/rent/4001", "https://www.homegate.ch/rent/4002"}, rec.ListingURLs)
	s.Require().Len(rec.Reports, 2)
	s.Equal("https://www.homegate.ch/rent/4001", rec.Reports[0].URL)
	s.Equal(80, rec.Reports[0].Report.Score)

	s.Require().Len(s.sink.deliveries, 2)
	for _, d := range s.sink.deliveries {
		s.Equal(pipeline.SourceEmail, d.Source)
		s.Equal(rec.ID, d.RecordID)
		s.Equal(rec.Reports[d.ReportIndex].URL, d.ListingURL)
		s.Equal("New match in Zurich", d.Subject)
	}

	// The same unseen message on the next tick triggers no runs
	s.Require().NoError(s.monitor.Tick(s.ctx))
	s.Equal(2, s.runner.count())
	s.Len(s.records(), 1)
	s.Len(s.sink.deliveries, 2)
}

func (s *MonitorSuite) TestTick_ConcurrentTicksRecordOnce() {
	s.dialer.mailbox.messages = []*email.Message{
		alert("<m1@homegate.ch>", "New match", `<a href="https://www.homegate.ch/rent/4001">A</a>`),
	}

	const ticks = 8
	var wg sync.WaitGroup
	errs := make(chan error, ticks)
	for i := 0; i < ticks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.monitor.Tick(s.ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	s.GreaterOrEqual(s.runner.count(), 1)
	s.Len(s.records(), 1)
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	s.Len(s.sink.deliveries, 1)
}

func (s *MonitorSuite) TestTick_PassesSavedCriteriaAndServer() {
	s.dialer.mailbox.messages = []*email.Message{
		alert("<m1@homegate.ch>", "match", `<a href="https://www.homegate.ch/rent/4001">A</a>`),
	}

	s.Require().NoError(s.monitor.Tick(s.ctx))

	s.Require().Len(s.dialer.configs, 1)
	cfg := s.dialer.configs[0]
	s.Equal("anna@gmail.com", cfg.Address)
	s.Equal("secret", cfg.Password)
	s.Equal("imap.gmail.com:993", cfg.Server)

	s.Require().Len(s.runner.requests, 1)
	req := s.runner.requests[0]
	s.Equal(pipeline.SourceEmail, req.Source)
	s.Equal("https://www.homegate.ch/rent/4001", req.URL)
	s.Require().NotNil(req.Criteria)
	s.Equal("Zurich", *req.Criteria.Location)
	s.True(s.dialer.mailbox.closed.Load())
}

func (s *MonitorSuite) TestTick_DigestFilteredBySubject() {
	s.dialer.mailbox.messages = []*email.Message{
		alert("<d1@homegate.ch>", "Weekly digest", `<a href="https://www.homegate.ch/rent/4001">A</a>`),
	}

	summary, err := s.monitor.CheckUser(s.ctx, userID)
	s.Require().NoError(err)

	s.Equal(1, summary.Messages)
	s.Equal(1, summary.Filtered)
	s.Equal(0, s.runner.count())
	s.Empty(s.records())
}

func (s *MonitorSuite) TestTick_SenderFilter() {
	s.Require().NoError(s.db.SaveCriteria(s.ctx, userID, userID, models.UserCriteria{
		EmailSender: ptr("immoscout24, flatfox"),
	}))
	s.dialer.mailbox.messages = []*email.Message{
		alert("<m1@homegate.ch>", "New match", `<a href="https://www.homegate.ch/rent/4001">A</a>`),
		{
			MessageID: "<m2@flatfox.ch>",
			From:      email.Address{Address: "alerts@flatfox.ch"},
			Subject:   "New match",
			BodyText:  "https://flatfox.ch/en/flat/77/",
		},
	}

	summary, err := s.monitor.CheckUser(s.ctx, userID)
	s.Require().NoError(err)

	s.Equal(1, summary.Filtered)
	s.Equal(1, summary.Recorded)
	recs := s.records()
	s.Require().Len(recs, 1)
	s.Equal("<m2@flatfox.ch>", recs[0].EmailMessageID)
	s.Equal(models.StringList{"https://flatfox.ch/en/flat/77"}, recs[0].ListingURLs)
}

func (s *MonitorSuite) TestTick_MessageWithoutURLStillRecorded() {
	s.dialer.mailbox.messages = []*email.Message{
		alert("<m1@homegate.ch>", "Your match settings", `<p>No listings today</p>`),
	}

	s.Require().NoError(s.monitor.Tick(s.ctx))

	recs := s.records()
	s.Require().Len(recs, 1)
	s.Empty(recs[0].ListingURLs)
	s.Nil(recs[0].Reports)
	s.Empty(s.sink.deliveries)
	s.Equal(0, s.runner.count())
}

func (s *MonitorSuite) TestTick_FailedRunsNotStored() {
	s.runner.failURLs = map[string]bool{"https://www.homegate.ch/rent/4002": true}
	s.dialer.mailbox.messages = []*email.Message{
		alert("<m1@homegate.ch>", "New match",
			`<a href="https://www.homegate.ch/rent/4001">A</a> <a href="https://www.homegate.ch/rent/4002">B</a>`),
	}

	s.Require().NoError(s.monitor.Tick(s.ctx))

	recs := s.records()
	s.Require().Len(recs, 1)
	s.Len(recs[0].ListingURLs, 2)
	s.Require().Len(recs[0].Reports, 1)
	s.Equal("https://www.homegate.ch/rent/4001", recs[0].Reports[0].URL)
	s.Len(s.sink.deliveries, 1)
}

func (s *MonitorSuite) TestTick_ExpiredDeadlineWritesNothing() {
	s.runner.block = true
	s.monitor = s.newMonitor(Config{TickTimeout: 50 * time.Millisecond, URLConcurrency: 2})
	s.dialer.mailbox.messages = []*email.Message{
		alert("<m1@homegate.ch>", "New match", `<a href="https://www.homegate.ch/rent/4001">A</a>`),
	}

	s.Require().NoError(s.monitor.Tick(s.ctx))

	s.Empty(s.records())
	s.Empty(s.sink.deliveries)

	p, err := s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.Nil(p.LastCheck)
}

func (s *MonitorSuite) TestTick_URLConcurrencyBounded() {
	html := ""
	for i := 0; i < 6; i++ {
		html += fmt.Sprintf(`<a href="https://www.homegate.ch/rent/%d">L</a>`, 5000+i)
	}
	s.dialer.mailbox.messages = []*email.Message{alert("<m1@homegate.ch>", "New match", html)}

	s.Require().NoError(s.monitor.Tick(s.ctx))

	s.Equal(6, s.runner.count())
	s.LessOrEqual(s.runner.peak.Load(), int32(2))
	recs := s.records()
	s.Require().Len(recs, 1)
	s.Len(recs[0].Reports, 6)
}

func (s *MonitorSuite) TestTick_UpdatesLastCheck() {
	s.Require().NoError(s.monitor.Tick(s.ctx))

	p, err := s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.Require().NotNil(p.LastCheck)
	s.True(p.LastCheck.Equal(s.now))
}

func (s *MonitorSuite) TestTick_SkipsDisabledUsers() {
	s.Require().NoError(s.db.SetMonitoringEnabled(s.ctx, userID, false))

	s.Require().NoError(s.monitor.Tick(s.ctx))

	s.Empty(s.dialer.configs)
}

func (s *MonitorSuite) TestCheckUser_AuthError() {
	s.dialer.err = &email.MailboxAuthError{Address: "anna@gmail.com", Err: errors.New("invalid credentials")}

	_, err := s.monitor.CheckUser(s.ctx, userID)

	var authErr *email.MailboxAuthError
	s.Require().ErrorAs(err, &authErr)
	p, err := s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.Nil(p.LastCheck)
}

func (s *MonitorSuite) TestTick_AuthErrorDoesNotFailTick() {
	s.dialer.err = &email.MailboxAuthError{Address: "anna@gmail.com", Err: errors.New("invalid credentials")}

	s.NoError(s.monitor.Tick(s.ctx))
}

func (s *MonitorSuite) TestCheckUser_NotConfigured() {
	_, err := s.monitor.CheckUser(s.ctx, 7)
	s.ErrorIs(err, ErrNotConfigured)

	s.Require().NoError(s.db.SaveCriteria(s.ctx, 8, 8, models.UserCriteria{Location: ptr("Bern")}))
	_, err = s.monitor.CheckUser(s.ctx, 8)
	s.ErrorIs(err, ErrNotConfigured)
}

func (s *MonitorSuite) TestHandleMessage_DuplicateInsert() {
	p, err := s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	msg := alert("<m1@homegate.ch>", "New match", "")

	s.Require().NoError(s.db.CreateProcessedEmail(s.ctx, &models.ProcessedEmailRecord{
		UserID:         userID,
		EmailMessageID: msg.MessageID,
	}))

	_, err = s.monitor.handleMessage(s.ctx, p, msg, nil)
	var dup *DuplicateMessageError
	s.Require().ErrorAs(err, &dup)
	s.Equal(msg.MessageID, dup.MessageID)
}
