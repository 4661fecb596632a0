package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/repa/internal/formatter"
	"github.com/mixelka/repa/internal/monitor"
	"github.com/mixelka/repa/internal/pipeline"
	appmodels "github.com/mixelka/repa/pkg/models"
)

// api subset of the Telegram Bot API used by the handlers
type api interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// Store persistence used by the bot
type Store interface {
	GetProfile(ctx context.Context, userID int64) (*appmodels.UserProfile, error)
	SaveCriteria(ctx context.Context, userID, chatID int64, c appmodels.UserCriteria) error
	SaveMonitorSettings(ctx context.Context, userID, chatID int64, address string, provider appmodels.EmailProvider, sealedPassword string) error
	SetMonitoringEnabled(ctx context.Context, userID int64, enabled bool) error
	GetProcessedEmail(ctx context.Context, userID, id int64) (*appmodels.ProcessedEmailRecord, error)
	ListProcessedEmails(ctx context.Context, userID int64, limit int) ([]*appmodels.ProcessedEmailRecord, error)
}

// Checker runs a manual mailbox check
type Checker interface {
	CheckUser(ctx context.Context, userID int64) (monitor.CheckSummary, error)
}

// Sealer encrypts app passwords before they are stored
type Sealer interface {
	Seal(plaintext string) (string, error)
}

// Config bot settings
type Config struct {
	DialTimeout            time.Duration
	DefaultSenderFilter    string
	DefaultSubjectKeywords appmodels.Keywords
}

// Bot represents the Telegram bot
type Bot struct {
	bot       *bot.Bot
	api       api
	store     Store
	runner    monitor.Runner
	extractor pipeline.CriteriaExtractor
	checker   Checker
	dialer    monitor.Dialer
	sealer    Sealer
	formatter *formatter.TelegramFormatter
	config    Config
	logger    *slog.Logger

	// Background runs started by handlers
	wg sync.WaitGroup
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Token     string
	Store     Store
	Runner    monitor.Runner
	Extractor pipeline.CriteriaExtractor
	Checker   Checker
	Dialer    monitor.Dialer
	Sealer    Sealer
	Formatter *formatter.TelegramFormatter
	Config    Config
	Logger    *slog.Logger
}

// NewBot creates a new Telegram bot
func NewBot(deps BotDeps) (*Bot, error) {
	b := newBot(deps)

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
	}

	tgBot, err := bot.New(deps.Token, opts...)
	if err != nil {
		return nil, err
	}

	b.bot = tgBot
	b.api = tgBot
	b.registerHandlers()

	return b, nil
}

func newBot(deps BotDeps) *Bot {
	f := deps.Formatter
	if f == nil {
		f = formatter.NewTelegramFormatter()
	}
	return &Bot{
		store:     deps.Store,
		runner:    deps.Runner,
		extractor: deps.Extractor,
		checker:   deps.Checker,
		dialer:    deps.Dialer,
		sealer:    deps.Sealer,
		formatter: f,
		config:    deps.Config,
		logger:    deps.Logger.With("component", "telegram_bot"),
	}
}

// SetChecker sets the manual mailbox checker. The monitor delivers through
// the bot, so it is created after it.
func (b *Bot) SetChecker(c Checker) {
	b.checker = c
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.handleHelp)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, b.handleHelp)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/criteria", bot.MatchTypePrefix, b.handleCriteria)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/monitor", bot.MatchTypePrefix, b.handleMonitor)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix, b.handleStatus)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/sender", bot.MatchTypePrefix, b.handleSender)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/keywords", bot.MatchTypePrefix, b.handleKeywords)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/enable", bot.MatchTypePrefix, b.handleEnable)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/disable", bot.MatchTypePrefix, b.handleDisable)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/check", bot.MatchTypePrefix, b.handleCheck)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/analyses", bot.MatchTypePrefix, b.handleAnalyses)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Start starts the bot and blocks until ctx is done
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("starting telegram bot")
	b.bot.Start(ctx)
}

// Wait blocks until background runs started by handlers finish
func (b *Bot) Wait() {
	b.wg.Wait()
}

// background runs fn detached from the update context
func (b *Bot) background(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(ctx)
	}()
}

// defaultHandler handles plain chat messages
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	// Ignore non-message updates and messages without text
	if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
		return
	}

	if update.Message.Text[0] == '/' {
		b.logger.Debug("unknown command", "text", update.Message.Text)
		b.sendMessage(ctx, update.Message.Chat.ID, "Unknown command. See /help")
		return
	}

	b.handleChat(ctx, update.Message)
}

// handleHelp handles /start and /help commands
func (b *Bot) handleHelp(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	text := `<b>Apartment match assistant</b>

Describe the apartment you are looking for and I will remember it.
Send a listing link (homegate.ch, immoscout24.ch, flatfox.ch or any other site) and I will rate how well it fits.

<b>Commands:</b>
/criteria - show saved criteria
/monitor email provider app_password - watch a mailbox for listing alerts
/status - show mailbox monitoring settings
/sender homegate,flatfox - only process alerts from these senders (off to clear)
/keywords match,new listing - required subject keywords (default to reset)
/enable, /disable - turn mailbox monitoring on or off
/check - check the mailbox now
/analyses [n] - recent analyzed alert emails

<b>Examples:</b>
<code>3.5 rooms in Zurich up to 2800 CHF, balcony</code>
<code>What about this one? https://www.homegate.ch/rent/4001234567</code>
<code>/monitor anna@gmail.com gmail abcd efgh ijkl mnop</code>

<b>Providers:</b> gmail, outlook, yahoo, icloud. Use an app password, not your account password.`

	b.sendMessage(ctx, msg.Chat.ID, text)
}
