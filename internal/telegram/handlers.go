package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/repa/internal/database"
	"github.com/mixelka/repa/internal/formatter"
	"github.com/mixelka/repa/internal/parser"
	"github.com/mixelka/repa/internal/pipeline"
	appmodels "github.com/mixelka/repa/pkg/models"
)

// profile returns the stored profile of a user, or an empty one
func (b *Bot) profile(ctx context.Context, userID int64) (*appmodels.UserProfile, error) {
	p, err := b.store.GetProfile(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return &appmodels.UserProfile{UserID: userID, ChatID: userID}, nil
	}
	return p, err
}

// handleChat handles a free text message, optionally with a listing URL
func (b *Bot) handleChat(ctx context.Context, msg *models.Message) {
	if !b.isPrivate(ctx, msg) {
		return
	}
	userID, chatID := msg.From.ID, msg.Chat.ID

	text, url := parser.SplitURL(msg.Text)

	p, err := b.profile(ctx, userID)
	if err != nil {
		b.logger.Error("failed to get profile", "user_id", userID, "error", err)
		b.sendMessage(ctx, chatID, "Could not load your saved criteria, please try again")
		return
	}

	if url == "" {
		b.updateCriteria(ctx, userID, chatID, p, text)
		return
	}

	b.sendMessage(ctx, chatID, "Analyzing the listing, this can take a minute...")
	b.sendTyping(ctx, chatID)

	saved := p.UserCriteria
	b.background(ctx, func(ctx context.Context) {
		b.analyzeListing(ctx, userID, chatID, text, url, saved)
	})
}

// updateCriteria extracts criteria from text and merges them into the saved ones
func (b *Bot) updateCriteria(ctx context.Context, userID, chatID int64, p *appmodels.UserProfile, text string) {
	b.sendTyping(ctx, chatID)

	extracted, err := b.extractor.Extract(ctx, text)
	if err != nil {
		b.logger.Warn("criteria extraction incomplete", "user_id", userID, "error", err)
	}
	if extracted.IsEmpty() {
		b.sendMessage(ctx, chatID, "I could not find any apartment criteria in that message. Try something like <code>3 rooms in Bern up to 2200 CHF</code>")
		return
	}

	merged := p.UserCriteria.Merge(extracted)
	if err := b.store.SaveCriteria(ctx, userID, chatID, merged); err != nil {
		b.logger.Error("failed to save criteria", "user_id", userID, "error", err)
		b.sendMessage(ctx, chatID, "Could not save your criteria:\n\n"+b.formatter.FormatCriteria(merged))
		return
	}

	b.sendMessage(ctx, chatID, "<b>Your preferences have been saved</b>\n\n"+b.formatter.FormatCriteria(merged)+
		"\n\nSend a listing link to rate it, or set up /monitor to rate alert emails automatically.")
}

// analyzeListing runs the pipeline for a chat request and delivers the report
func (b *Bot) analyzeListing(ctx context.Context, userID, chatID int64, text, url string, saved appmodels.UserCriteria) {
	res := b.runner.Run(ctx, pipeline.Request{
		Source:   pipeline.SourceChat,
		Text:     text,
		URL:      url,
		Criteria: &saved,
	})

	if !res.Extracted.IsEmpty() {
		if err := b.store.SaveCriteria(ctx, userID, chatID, res.Criteria); err != nil {
			b.logger.Error("failed to save criteria", "user_id", userID, "error", err)
		}
	}

	if err := b.Deliver(ctx, userID, pipeline.Delivery{
		Source:     pipeline.SourceChat,
		ListingURL: url,
		Report:     res.Report,
	}); err != nil {
		b.logger.Error("failed to deliver report", "user_id", userID, "run_id", res.RunID, "error", err)
	}
}

// Deliver sends a finished report to the user's private chat
func (b *Bot) Deliver(ctx context.Context, userID int64, d pipeline.Delivery) error {
	r := d.Report
	if r.ListingURL == "" {
		r.ListingURL = d.ListingURL
	}

	text := b.formatter.FormatReport(r, d.Subject)
	keyboard := formatter.BuildReportKeyboard(d.RecordID, d.ReportIndex, r)
	if _, err := b.sendMessageWithKeyboard(ctx, userID, text, keyboard); err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}

	// Chat reports are not stored, so the contact message goes out right away
	if d.RecordID == 0 && r.ContactMessage != nil && r.Verdict.Recommends() {
		if _, err := b.sendMessage(ctx, userID, b.formatter.FormatContactMessage(*r.ContactMessage)); err != nil {
			return fmt.Errorf("failed to send contact message: %w", err)
		}
	}

	b.logger.Info("report delivered",
		"user_id", userID,
		"source", d.Source,
		"score", r.Score,
		"status", r.Status,
	)
	return nil
}

// handleCriteria handles /criteria command
func (b *Bot) handleCriteria(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.isPrivate(ctx, msg) {
		return
	}

	p, err := b.profile(ctx, msg.From.ID)
	if err != nil {
		b.logger.Error("failed to get profile", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "Could not load your saved criteria")
		return
	}

	b.sendMessage(ctx, msg.Chat.ID, "<b>Saved criteria</b>\n\n"+b.formatter.FormatCriteria(p.UserCriteria))
}

// handleAnalyses handles /analyses [n] command
func (b *Bot) handleAnalyses(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.isPrivate(ctx, msg) {
		return
	}

	limit := parseLimit(commandArgs(msg.Text), 10, 50)
	recs, err := b.store.ListProcessedEmails(ctx, msg.From.ID, limit)
	if err != nil {
		b.logger.Error("failed to list processed emails", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "Could not load your analyses")
		return
	}

	b.sendMessage(ctx, msg.Chat.ID, b.formatter.FormatRecords(recs))
}

// handleCallback handles inline button callbacks
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, "Error", false)
		return
	}

	switch data.Action {
	case appmodels.CallbackContactMessage:
		b.handleContactMessage(ctx, callback, data)
	case appmodels.CallbackToggleMonitor:
		b.handleToggleMonitor(ctx, callback)
	default:
		b.answerCallback(ctx, callback.ID, "Unknown action", false)
	}
}

// handleContactMessage sends the stored contact message of a report
func (b *Bot) handleContactMessage(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	userID := callback.From.ID

	rec, err := b.store.GetProcessedEmail(ctx, userID, data.RecordID)
	if err != nil {
		b.logger.Error("failed to get processed email", "record_id", data.RecordID, "error", err)
		b.answerCallback(ctx, callback.ID, "Analysis not found", false)
		return
	}

	if data.ReportIndex < 0 || data.ReportIndex >= len(rec.Reports) {
		b.answerCallback(ctx, callback.ID, "Analysis not found", false)
		return
	}
	r := rec.Reports[data.ReportIndex].Report
	if r.ContactMessage == nil {
		b.answerCallback(ctx, callback.ID, "No contact message for this listing", false)
		return
	}

	b.sendMessage(ctx, userID, b.formatter.FormatContactMessage(*r.ContactMessage))
	b.answerCallback(ctx, callback.ID, "", false)
}

// handleToggleMonitor flips mailbox monitoring from the status keyboard
func (b *Bot) handleToggleMonitor(ctx context.Context, callback *models.CallbackQuery) {
	userID := callback.From.ID

	p, err := b.profile(ctx, userID)
	if err != nil || !p.Configured() {
		b.answerCallback(ctx, callback.ID, "Set up a mailbox with /monitor first", true)
		return
	}

	enabled := !p.Enabled
	if err := b.store.SetMonitoringEnabled(ctx, userID, enabled); err != nil {
		b.logger.Error("failed to toggle monitoring", "user_id", userID, "error", err)
		b.answerCallback(ctx, callback.ID, "Error", false)
		return
	}

	if m := callback.Message.Message; m != nil {
		if err := b.editMessageReplyMarkup(ctx, m.Chat.ID, m.ID, formatter.BuildMonitorKeyboard(enabled)); err != nil {
			b.logger.Warn("failed to update keyboard", "error", err)
		}
	}

	text := "Monitoring disabled"
	if enabled {
		text = "Monitoring enabled"
	}
	b.answerCallback(ctx, callback.ID, text, false)
}
