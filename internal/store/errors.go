package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LoggedError is a failed operation surfaced to the user
type LoggedError struct {
	ID        int       `json:"id"`
	Operation string    `json:"operation"`
	BundleID  string    `json:"bundleIdentifier"`
	AppName   string    `json:"appName"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrorLogStore persists operation failures
type ErrorLogStore struct {
	db *sql.DB
}

// NewErrorLogStore creates a new error log store
func NewErrorLogStore(db *sql.DB) *ErrorLogStore {
	return &ErrorLogStore{db: db}
}

// Log records a failure
func (s *ErrorLogStore) Log(ctx context.Context, entry *LoggedError) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO logged_errors (operation, bundle_id, app_name, title, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, entry.Operation, entry.BundleID, entry.AppName, entry.Title, entry.Message, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to log error: %w", err)
	}

	return nil
}

// Recent returns the newest logged errors, newest first
func (s *ErrorLogStore) Recent(ctx context.Context, limit int) ([]*LoggedError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, bundle_id, app_name, title, message, created_at
		FROM logged_errors
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query logged errors: %w", err)
	}
	defer rows.Close()

	entries := []*LoggedError{}
	for rows.Next() {
		var e LoggedError
		if err := rows.Scan(&e.ID, &e.Operation, &e.BundleID, &e.AppName, &e.Title, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan logged error: %w", err)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
