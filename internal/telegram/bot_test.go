package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/suite"

	"github.com/mixelka/repa/internal/database"
	"github.com/mixelka/repa/internal/email"
	"github.com/mixelka/repa/internal/formatter"
	"github.com/mixelka/repa/internal/monitor"
	"github.com/mixelka/repa/internal/pipeline"
	appmodels "github.com/mixelka/repa/pkg/models"
)

func ptr[T any](v T) *T { return &v }

type fakeAPI struct {
	mu        sync.Mutex
	sent      []*bot.SendMessageParams
	deleted   []int
	answers   []*bot.AnswerCallbackQueryParams
	editedIDs []int
}

func (a *fakeAPI) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, params)
	return &models.Message{ID: len(a.sent)}, nil
}

func (a *fakeAPI) DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, params.MessageID)
	return true, nil
}

func (a *fakeAPI) EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.editedIDs = append(a.editedIDs, params.MessageID)
	return &models.Message{ID: params.MessageID}, nil
}

func (a *fakeAPI) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, params)
	return true, nil
}

func (a *fakeAPI) SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error) {
	return true, nil
}

func (a *fakeAPI) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sent))
	for i, p := range a.sent {
		out[i] = p.Text
	}
	return out
}

func (a *fakeAPI) last() *bot.SendMessageParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent[len(a.sent)-1]
}

type fakeExtractor struct {
	criteria appmodels.UserCriteria
	err      error
}

func (e *fakeExtractor) Extract(ctx context.Context, text string) (appmodels.UserCriteria, error) {
	return e.criteria, e.err
}

type fakeRunner struct {
	mu       sync.Mutex
	requests []pipeline.Request
	result   pipeline.Result
}

func (r *fakeRunner) Run(ctx context.Context, req pipeline.Request) pipeline.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.result
}

type fakeChecker struct {
	summary monitor.CheckSummary
	err     error
}

func (c *fakeChecker) CheckUser(ctx context.Context, userID int64) (monitor.CheckSummary, error) {
	return c.summary, c.err
}

type prefixSealer struct{}

func (prefixSealer) Seal(plaintext string) (string, error) { return "sealed:" + plaintext, nil }

type nopMailbox struct{}

func (nopMailbox) FetchUnseen(ctx context.Context) ([]*email.Message, error) { return nil, nil }
func (nopMailbox) Close()                                                    {}

const userID int64 = 42

type BotSuite struct {
	suite.Suite
	ctx       context.Context
	db        *database.DB
	api       *fakeAPI
	extractor *fakeExtractor
	runner    *fakeRunner
	checker   *fakeChecker
	dialErr   error
	dialed    []email.ClientConfig
	bot       *Bot
}

func TestBot(t *testing.T) {
	suite.Run(t, new(BotSuite))
}

func (s *BotSuite) SetupTest() {
	s.ctx = context.Background()
	db, err := database.New(filepath.Join(s.T().TempDir(), "bot.db"))
	s.Require().NoError(err)
	s.Require().NoError(db.Migrate(s.ctx))
	s.db = db

	s.api = &fakeAPI{}
	s.extractor = &fakeExtractor{}
	s.runner = &fakeRunner{}
	s.checker = &fakeChecker{}
	s.dialErr = nil
	s.dialed = nil

	s.bot = newBot(BotDeps{
		Store:     db,
		Runner:    s.runner,
		Extractor: s.extractor,
		Checker:   s.checker,
		Dialer: monitor.DialFunc(func(ctx context.Context, cfg email.ClientConfig) (monitor.Mailbox, error) {
			s.dialed = append(s.dialed, cfg)
			if s.dialErr != nil {
				return nil, s.dialErr
			}
			return nopMailbox{}, nil
		}),
		Sealer: prefixSealer{},
		Config: Config{DefaultSubjectKeywords: appmodels.Keywords{"match"}},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.bot.api = s.api
}

func (s *BotSuite) TearDownTest() {
	s.db.Close()
}

func message(text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   7,
		From: &models.User{ID: userID},
		Chat: models.Chat{ID: userID, Type: "private"},
		Text: text,
	}}
}

func (s *BotSuite) TestChat_SavesExtractedCriteria() {
	s.Require().NoError(s.db.SaveCriteria(s.ctx, userID, userID, appmodels.UserCriteria{
		Location:    ptr("Bern"),
		EmailSender: ptr("homegate"),
	}))
	s.extractor.criteria = appmodels.UserCriteria{MinRooms: ptr(3), MaxRooms: ptr(3)}

	s.bot.defaultHandler(s.ctx, nil, message("3 rooms please"))

	p, err := s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal("Bern", *p.Location)
	s.Equal(3, *p.MinRooms)
	s.Equal("homegate", *p.EmailSender)

	last := s.api.last()
	s.Contains(last.Text, "Your preferences have been saved")
	s.Contains(last.Text, "<b>Rooms:</b> 3")
	s.Contains(last.Text, "<b>Location:</b> Bern")
	s.Empty(s.runner.requests)
}

func (s *BotSuite) TestChat_NothingExtracted() {
	s.extractor.err = errors.New("no criteria")

	s.bot.defaultHandler(s.ctx, nil, message("hello there"))

	s.Contains(s.api.last().Text, "could not find any apartment criteria")
	_, err := s.db.GetProfile(s.ctx, userID)
	s.ErrorIs(err, database.ErrNotFound)
}

func (s *BotSuite) TestChat_ListingURLRunsPipeline() {
	s.Require().NoError(s.db.SaveCriteria(s.ctx, userID, userID, appmodels.UserCriteria{Location: ptr("Zurich")}))
	s.runner.result = pipeline.Result{
		Extracted: appmodels.UserCriteria{MaxRent: ptr(2800.0)},
		Criteria:  appmodels.UserCriteria{Location: ptr("Zurich"), MaxRent: ptr(2800.0)},
		Report: appmodels.MatchReport{
			Score:          85,
			Verdict:        appmodels.VerdictHighlyRecommended,
			Status:         appmodels.ReportComplete,
			ContactMessage: ptr("Dear landlord"),
			ListingURL:     "https://www.homegate.ch/rent/4001",
		},
	}

	s.bot.defaultHandler(s.ctx, nil, message("up to 2800 https://www.homegate.ch/rent/4001"))
	s.bot.Wait()

	s.Require().Len(s.runner.requests, 1)
	req := s.runner.requests[0]
	s.Equal(pipeline.SourceChat, req.Source)
	s.Equal("https://www.homegate.ch/rent/4001", req.URL)
	s.Equal("up to 2800", req.Text)
	s.Equal("Zurich", *req.Criteria.Location)

	texts := s.api.texts()
	s.Require().Len(texts, 3)
	s.Contains(texts[0], "Analyzing the listing")
	s.Contains(texts[1], "Match score: 85/100")
	s.Contains(texts[2], "Dear landlord")

	p, err := s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal(2800.0, *p.MaxRent)
}

func (s *BotSuite) TestChat_RejectsGroupChats() {
	u := message("3 rooms")
	u.Message.Chat.Type = "group"

	s.bot.defaultHandler(s.ctx, nil, u)

	s.Contains(s.api.last().Text, "only in a private chat")
}

func (s *BotSuite) TestMonitor_StoresSealedPassword() {
	s.bot.handleMonitor(s.ctx, nil, message("/monitor anna@gmail.com gmail abcd efgh ijkl mnop"))

	s.Equal([]int{7}, s.api.deleted)
	s.Require().Len(s.dialed, 1)
	s.Equal("abcdefghijklmnop", s.dialed[0].Password)
	s.Equal("imap.gmail.com:993", s.dialed[0].Server)

	p, err := s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.True(p.Configured())
	s.True(p.Enabled)
	s.Equal(appmodels.ProviderGmail, p.Provider)
	s.Equal("sealed:abcdefghijklmnop", *p.AppPassword)
	s.Contains(s.api.last().Text, "connected")
}

func (s *BotSuite) TestMonitor_GuessesProvider() {
	s.bot.handleMonitor(s.ctx, nil, message("/monitor anna@hotmail.com secret"))

	p, err := s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal(appmodels.ProviderOutlook, p.Provider)
	s.Equal("sealed:secret", *p.AppPassword)
}

func (s *BotSuite) TestMonitor_AuthRejected() {
	s.dialErr = &email.MailboxAuthError{Address: "anna@gmail.com", Err: errors.New("bad credentials")}

	s.bot.handleMonitor(s.ctx, nil, message("/monitor anna@gmail.com gmail wrong"))

	s.Contains(s.api.last().Text, "Login rejected")
	_, err := s.db.GetProfile(s.ctx, userID)
	s.ErrorIs(err, database.ErrNotFound)
}

func (s *BotSuite) TestFilters_KeepCriteria() {
	s.Require().NoError(s.db.SaveCriteria(s.ctx, userID, userID, appmodels.UserCriteria{Location: ptr("Basel")}))

	s.bot.handleSender(s.ctx, nil, message("/sender homegate, flatfox"))
	s.bot.handleKeywords(s.ctx, nil, message("/keywords Match, New Listing"))

	p, err := s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal("Basel", *p.Location)
	s.Equal("homegate, flatfox", *p.EmailSender)
	s.Equal(appmodels.Keywords{"match", "new listing"}, p.EmailSubjectKeywords)

	s.bot.handleSender(s.ctx, nil, message("/sender off"))
	s.bot.handleKeywords(s.ctx, nil, message("/keywords default"))

	p, err = s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.Nil(p.EmailSender)
	s.Empty(p.EmailSubjectKeywords)
}

func (s *BotSuite) TestEnableRequiresMailbox() {
	s.bot.handleEnable(s.ctx, nil, message("/enable"))
	s.Contains(s.api.last().Text, "/monitor first")

	s.Require().NoError(s.db.SaveMonitorSettings(s.ctx, userID, userID, "anna@gmail.com", appmodels.ProviderGmail, "sealed:x"))
	s.bot.handleDisable(s.ctx, nil, message("/disable"))

	p, err := s.db.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.False(p.Enabled)
}

func (s *BotSuite) TestCheck() {
	s.checker.summary = monitor.CheckSummary{Messages: 2, Recorded: 1, Runs: 2}

	s.bot.handleCheck(s.ctx, nil, message("/check"))
	s.bot.Wait()
	s.Contains(s.api.last().Text, "New alerts recorded: 1 (2 listing analyses)")

	s.checker.err = monitor.ErrNotConfigured
	s.bot.handleCheck(s.ctx, nil, message("/check"))
	s.bot.Wait()
	s.Contains(s.api.last().Text, "/monitor first")
}

func (s *BotSuite) storeRecord() *appmodels.ProcessedEmailRecord {
	s.Require().NoError(s.db.SaveMonitorSettings(s.ctx, userID, userID, "anna@gmail.com", appmodels.ProviderGmail, "sealed:x"))
	rec := &appmodels.ProcessedEmailRecord{
		UserID:         userID,
		EmailMessageID: "<m1@homegate.ch>",
		Subject:        "New match",
		ListingURLs:    appmodels.StringList{"https://www.homegate.ch/rent/4001"},
		Reports: appmodels.ListingReports{{
			URL: "https://www.homegate.ch/rent/4001",
			Report: appmodels.MatchReport{
				Score:          78,
				Verdict:        appmodels.VerdictHighlyRecommended,
				Status:         appmodels.ReportComplete,
				ContactMessage: ptr("Hello, is the flat still available?"),
			},
		}},
	}
	s.Require().NoError(s.db.CreateProcessedEmail(s.ctx, rec))
	return rec
}

func (s *BotSuite) TestAnalyses() {
	s.storeRecord()

	s.bot.handleAnalyses(s.ctx, nil, message("/analyses 5"))

	text := s.api.last().Text
	s.Contains(text, "Recent analyses (1)")
	s.Contains(text, "78/100 Highly recommended")
}

func (s *BotSuite) TestCallback_ContactMessage() {
	rec := s.storeRecord()
	data := formatter.EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackContactMessage, RecordID: rec.ID})

	s.bot.handleCallback(s.ctx, nil, &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb1",
		From: models.User{ID: userID},
		Data: data,
	}})

	s.Contains(s.api.last().Text, "Hello, is the flat still available?")
	s.Require().Len(s.api.answers, 1)
	s.Equal("cb1", s.api.answers[0].CallbackQueryID)
}

func (s *BotSuite) TestCallback_ContactMessageOtherUser() {
	rec := s.storeRecord()

	s.bot.handleCallback(s.ctx, nil, &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb1",
		From: models.User{ID: 99},
		Data: formatter.EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackContactMessage, RecordID: rec.ID}),
	}})

	s.Empty(s.api.sent)
	s.Require().Len(s.api.answers, 1)
	s.Equal("Analysis not found", s.api.answers[0].Text)
}

func (s *BotSuite) TestDeliver_StoredReportGetsContactButton() {
	err := s.bot.Deliver(s.ctx, userID, pipeline.Delivery{
		Source:     pipeline.SourceEmail,
		ListingURL: "https://www.homegate.ch/rent/4001",
		Subject:    "New match",
		RecordID:   3,
		Report: appmodels.MatchReport{
			Score:          90,
			Verdict:        appmodels.VerdictHighlyRecommended,
			Status:         appmodels.ReportComplete,
			ContactMessage: ptr("Hi"),
		},
	})
	s.Require().NoError(err)

	s.Require().Len(s.api.sent, 1)
	params := s.api.sent[0]
	s.Equal(userID, params.ChatID)
	s.Contains(params.Text, "<b>From email:</b> New match")
	kb, ok := params.ReplyMarkup.(*models.InlineKeyboardMarkup)
	s.Require().True(ok)
	s.Len(kb.InlineKeyboard[0], 2)
}
