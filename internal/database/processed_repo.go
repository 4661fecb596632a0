package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/repa/pkg/models"
)

// CreateProcessedEmail records an email as processed.
// Returns ErrAlreadyExists if the (user_id, email_message_id) pair is already stored.
func (db *DB) CreateProcessedEmail(ctx context.Context, rec *models.ProcessedEmailRecord) error {
	query := `
		INSERT OR IGNORE INTO processed_emails (user_id, email_message_id, subject, sender, listing_urls, reports, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}
	result, err := db.ExecContext(ctx, query,
		rec.UserID,
		rec.EmailMessageID,
		rec.Subject,
		rec.Sender,
		rec.ListingURLs,
		rec.Reports,
		rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create processed email: %w", err)
	}

	// Check if row was actually inserted (not ignored due to duplicate)
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// HasProcessedEmail returns true if the email was already processed for the user
func (db *DB) HasProcessedEmail(ctx context.Context, userID int64, messageID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM processed_emails WHERE user_id = ? AND email_message_id = ?)`
	if err := db.GetContext(ctx, &exists, query, userID, messageID); err != nil {
		return false, fmt.Errorf("failed to check processed email: %w", err)
	}
	return exists, nil
}

// GetProcessedEmail returns a processed email of a user by ID
func (db *DB) GetProcessedEmail(ctx context.Context, userID, id int64) (*models.ProcessedEmailRecord, error) {
	var rec models.ProcessedEmailRecord
	query := `SELECT * FROM processed_emails WHERE id = ? AND user_id = ?`
	err := db.GetContext(ctx, &rec, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed email: %w", err)
	}
	return &rec, nil
}

// ListProcessedEmails returns the latest processed emails of a user, newest first
func (db *DB) ListProcessedEmails(ctx context.Context, userID int64, limit int) ([]*models.ProcessedEmailRecord, error) {
	var records []*models.ProcessedEmailRecord
	query := `SELECT * FROM processed_emails WHERE user_id = ? ORDER BY processed_at DESC, id DESC LIMIT ?`
	err := db.SelectContext(ctx, &records, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed emails: %w", err)
	}
	return records, nil
}
