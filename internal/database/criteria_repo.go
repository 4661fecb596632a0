package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/repa/pkg/models"
)

// SaveCriteria creates or replaces the criteria of a user.
// Monitor settings of an existing row are left untouched.
func (db *DB) SaveCriteria(ctx context.Context, userID, chatID int64, c models.UserCriteria) error {
	query := `
		INSERT INTO user_criteria (user_id, chat_id, location, property_type, min_rooms, max_rooms,
			min_living_space, max_living_space, min_rent, max_rent, occupants, duration, starting_when,
			additional_requirements, email_sender, email_subject_keywords, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			chat_id = excluded.chat_id,
			location = excluded.location,
			property_type = excluded.property_type,
			min_rooms = excluded.min_rooms,
			max_rooms = excluded.max_rooms,
			min_living_space = excluded.min_living_space,
			max_living_space = excluded.max_living_space,
			min_rent = excluded.min_rent,
			max_rent = excluded.max_rent,
			occupants = excluded.occupants,
			duration = excluded.duration,
			starting_when = excluded.starting_when,
			additional_requirements = excluded.additional_requirements,
			email_sender = excluded.email_sender,
			email_subject_keywords = excluded.email_subject_keywords,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		userID,
		chatID,
		c.Location,
		c.PropertyType,
		c.MinRooms,
		c.MaxRooms,
		c.MinLivingSpace,
		c.MaxLivingSpace,
		c.MinRent,
		c.MaxRent,
		c.Occupants,
		c.Duration,
		c.StartingWhen,
		c.AdditionalRequirements,
		c.EmailSender,
		c.EmailSubjectKeywords,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save criteria: %w", err)
	}
	return nil
}

// SaveMonitorSettings stores the mailbox of a user and enables monitoring
func (db *DB) SaveMonitorSettings(ctx context.Context, userID, chatID int64, address string, provider models.EmailProvider, sealedPassword string) error {
	query := `
		INSERT INTO user_criteria (user_id, chat_id, monitor_email, email_provider, email_app_password,
			email_monitoring_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, true, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			chat_id = excluded.chat_id,
			monitor_email = excluded.monitor_email,
			email_provider = excluded.email_provider,
			email_app_password = excluded.email_app_password,
			email_monitoring_enabled = true,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, query, userID, chatID, address, provider, sealedPassword, now, now)
	if err != nil {
		return fmt.Errorf("failed to save monitor settings: %w", err)
	}
	return nil
}

// SetMonitoringEnabled enables or disables mailbox monitoring for a user
func (db *DB) SetMonitoringEnabled(ctx context.Context, userID int64, enabled bool) error {
	query := `UPDATE user_criteria SET email_monitoring_enabled = ?, updated_at = ? WHERE user_id = ?`
	result, err := db.ExecContext(ctx, query, enabled, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to set monitoring enabled: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProfile returns the stored row of a user
func (db *DB) GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	var profile models.UserProfile
	query := `SELECT * FROM user_criteria WHERE user_id = ?`
	err := db.GetContext(ctx, &profile, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// ListMonitoredUsers returns all users with monitoring enabled and a configured mailbox
func (db *DB) ListMonitoredUsers(ctx context.Context) ([]*models.UserProfile, error) {
	var profiles []*models.UserProfile
	query := `
		SELECT * FROM user_criteria
		WHERE email_monitoring_enabled = true
			AND monitor_email IS NOT NULL AND monitor_email != ''
			AND email_app_password IS NOT NULL AND email_app_password != ''
		ORDER BY user_id
	`
	err := db.SelectContext(ctx, &profiles, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitored users: %w", err)
	}
	return profiles, nil
}

// UpdateLastEmailCheck records when a user's mailbox was last checked
func (db *DB) UpdateLastEmailCheck(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE user_criteria SET last_email_check = ? WHERE user_id = ?`
	_, err := db.ExecContext(ctx, query, at, userID)
	if err != nil {
		return fmt.Errorf("failed to update last email check: %w", err)
	}
	return nil
}
