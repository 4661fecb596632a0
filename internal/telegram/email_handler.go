package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/repa/internal/database"
	"github.com/mixelka/repa/internal/email"
	"github.com/mixelka/repa/internal/formatter"
	"github.com/mixelka/repa/internal/monitor"
	appmodels "github.com/mixelka/repa/pkg/models"
)

// handleMonitor handles /monitor command
// Usage: /monitor email [provider] app_password
func (b *Bot) handleMonitor(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.isPrivate(ctx, msg) {
		return
	}
	userID, chatID := msg.From.ID, msg.Chat.ID

	args := commandArgs(msg.Text)
	if len(args) < 2 {
		b.sendMessage(ctx, chatID,
			"Usage: <code>/monitor email@gmail.com gmail app_password</code>\nProviders: gmail, outlook, yahoo, icloud")
		return
	}

	// Delete the message with password immediately
	if err := b.deleteMessage(ctx, chatID, msg.ID); err != nil {
		b.logger.Warn("failed to delete monitor message", "error", err)
	}

	address := args[0]
	if email.GetDomainFromEmail(address) == "" {
		b.sendMessage(ctx, chatID, fmt.Sprintf("<b>%s</b> is not an email address", b.formatter.EscapeHTML(address)))
		return
	}

	provider, passwordParts := appmodels.EmailProvider(""), args[1:]
	if p, err := email.ParseProvider(args[1]); err == nil && len(args) > 2 {
		provider, passwordParts = p, args[2:]
	} else if guessed, ok := email.ProviderForAddress(address); ok {
		provider = guessed
	} else {
		b.sendMessage(ctx, chatID, "Could not tell the provider of this address. Add it after the address: gmail, outlook, yahoo or icloud")
		return
	}

	// App passwords are often shown in groups separated by spaces
	password := strings.Join(passwordParts, "")

	server, err := email.ServerForProvider(provider)
	if err != nil {
		b.sendMessage(ctx, chatID, b.formatter.EscapeHTML(err.Error()))
		return
	}

	b.sendMessage(ctx, chatID, fmt.Sprintf("Checking connection to %s...", server))

	// Test connection
	dialCtx, cancel := context.WithTimeout(ctx, b.config.DialTimeout+10*time.Second)
	defer cancel()
	mbox, err := b.dialer.Dial(dialCtx, email.ClientConfig{
		Address:     address,
		Password:    password,
		Server:      server,
		DialTimeout: b.config.DialTimeout,
	})
	if err != nil {
		b.logger.Warn("mailbox connection test failed", "user_id", userID, "error", err)
		var authErr *email.MailboxAuthError
		if errors.As(err, &authErr) {
			b.sendMessage(ctx, chatID, "Login rejected. Check the address and use an app password, not your account password.")
			return
		}
		b.sendMessage(ctx, chatID, fmt.Sprintf("Connection failed: %s", b.formatter.EscapeHTML(err.Error())))
		return
	}
	mbox.Close()

	sealed, err := b.sealer.Seal(password)
	if err != nil {
		b.logger.Error("failed to seal password", "error", err)
		b.sendMessage(ctx, chatID, "Could not store the app password securely")
		return
	}

	if err := b.store.SaveMonitorSettings(ctx, userID, chatID, address, provider, sealed); err != nil {
		b.logger.Error("failed to save monitor settings", "error", err)
		b.sendMessage(ctx, chatID, "Could not save the mailbox settings")
		return
	}

	b.logger.Info("mailbox monitoring configured", "user_id", userID, "provider", provider)
	b.sendMessage(ctx, chatID, fmt.Sprintf("Mailbox <b>%s</b> connected. New listing alerts will be rated automatically.",
		b.formatter.EscapeHTML(address)))
}

// handleStatus handles /status command
func (b *Bot) handleStatus(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.isPrivate(ctx, msg) {
		return
	}

	p, err := b.profile(ctx, msg.From.ID)
	if err != nil {
		b.logger.Error("failed to get profile", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "Could not load your settings")
		return
	}

	text := b.formatter.FormatMonitorStatus(p, b.config.DefaultSenderFilter, b.config.DefaultSubjectKeywords)
	if !p.Configured() {
		b.sendMessage(ctx, msg.Chat.ID, text)
		return
	}
	b.sendMessageWithKeyboard(ctx, msg.Chat.ID, text, formatter.BuildMonitorKeyboard(p.Enabled))
}

// handleSender handles /sender command
func (b *Bot) handleSender(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.isPrivate(ctx, msg) {
		return
	}

	value := commandRest(msg.Text)
	if value == "" {
		b.sendMessage(ctx, msg.Chat.ID, "Usage: <code>/sender homegate,flatfox</code> or <code>/sender off</code>")
		return
	}

	b.updateFilters(ctx, msg, func(c *appmodels.UserCriteria) string {
		if strings.EqualFold(value, "off") || strings.EqualFold(value, "any") {
			c.EmailSender = nil
			return "Sender filter cleared"
		}
		c.EmailSender = &value
		return fmt.Sprintf("Only alerts from <b>%s</b> will be processed", b.formatter.EscapeHTML(value))
	})
}

// handleKeywords handles /keywords command
func (b *Bot) handleKeywords(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.isPrivate(ctx, msg) {
		return
	}

	value := commandRest(msg.Text)
	if value == "" {
		b.sendMessage(ctx, msg.Chat.ID, "Usage: <code>/keywords match,new listing</code> or <code>/keywords default</code>")
		return
	}

	b.updateFilters(ctx, msg, func(c *appmodels.UserCriteria) string {
		keywords := appmodels.ParseKeywords(value)
		if strings.EqualFold(value, "default") || len(keywords) == 0 {
			c.EmailSubjectKeywords = nil
			return "Subject keywords reset to the default"
		}
		c.EmailSubjectKeywords = keywords
		return fmt.Sprintf("Subjects must contain one of: <b>%s</b>", b.formatter.EscapeHTML(strings.Join(keywords, ", ")))
	})
}

// updateFilters applies a change to the mailbox filters of a user
func (b *Bot) updateFilters(ctx context.Context, msg *models.Message, apply func(c *appmodels.UserCriteria) string) {
	userID, chatID := msg.From.ID, msg.Chat.ID

	p, err := b.profile(ctx, userID)
	if err != nil {
		b.logger.Error("failed to get profile", "error", err)
		b.sendMessage(ctx, chatID, "Could not load your settings")
		return
	}

	c := p.UserCriteria
	reply := apply(&c)
	if err := b.store.SaveCriteria(ctx, userID, chatID, c); err != nil {
		b.logger.Error("failed to save filters", "error", err)
		b.sendMessage(ctx, chatID, "Could not save the filter")
		return
	}

	b.sendMessage(ctx, chatID, reply)
}

// handleEnable handles /enable command
func (b *Bot) handleEnable(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.setMonitoring(ctx, update.Message, true)
}

// handleDisable handles /disable command
func (b *Bot) handleDisable(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.setMonitoring(ctx, update.Message, false)
}

func (b *Bot) setMonitoring(ctx context.Context, msg *models.Message, enabled bool) {
	if !b.isPrivate(ctx, msg) {
		return
	}

	p, err := b.profile(ctx, msg.From.ID)
	if err != nil || !p.Configured() {
		b.sendMessage(ctx, msg.Chat.ID, "Set up a mailbox with /monitor first")
		return
	}

	if err := b.store.SetMonitoringEnabled(ctx, msg.From.ID, enabled); err != nil {
		b.logger.Error("failed to set monitoring", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "Could not update monitoring")
		return
	}

	if enabled {
		b.sendMessage(ctx, msg.Chat.ID, "Mailbox monitoring enabled")
	} else {
		b.sendMessage(ctx, msg.Chat.ID, "Mailbox monitoring disabled")
	}
}

// handleCheck handles /check command
func (b *Bot) handleCheck(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.isPrivate(ctx, msg) {
		return
	}
	userID, chatID := msg.From.ID, msg.Chat.ID

	b.sendMessage(ctx, chatID, "Checking your mailbox...")

	b.background(ctx, func(ctx context.Context) {
		start := time.Now()
		summary, err := b.checker.CheckUser(ctx, userID)

		var authErr *email.MailboxAuthError
		switch {
		case errors.Is(err, monitor.ErrNotConfigured), errors.Is(err, database.ErrNotFound):
			b.sendMessage(ctx, chatID, "Set up a mailbox with /monitor first")
		case errors.As(err, &authErr):
			b.sendMessage(ctx, chatID, "Login rejected by your mail provider. Run /monitor again with a new app password.")
		case err != nil:
			b.logger.Error("manual check failed", "user_id", userID, "error", err)
			b.sendMessage(ctx, chatID, fmt.Sprintf("Mailbox check failed: %s", b.formatter.EscapeHTML(err.Error())))
		default:
			b.sendMessage(ctx, chatID, b.formatter.FormatCheckSummary(summary, time.Since(start)))
		}
	})
}
