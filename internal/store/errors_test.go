package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorLogStore_Log(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO logged_errors`).
		WithArgs("install", "com.example.delta", "Delta", "Failed to Install Delta", "boom", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))

	entry := &LoggedError{Operation: "install", BundleID: "com.example.delta", AppName: "Delta", Title: "Failed to Install Delta", Message: "boom"}
	require.NoError(t, NewErrorLogStore(db).Log(context.Background(), entry))

	assert.Equal(t, 12, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorLogStore_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM logged_errors`).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "operation", "bundle_id", "app_name", "title", "message", "created_at"}).
			AddRow(2, "update", "com.example.b", "B", "Failed to Update B", "network", now).
			AddRow(1, "install", "com.example.a", "A", "Failed to Install A", "denied", now.Add(-time.Minute)))

	entries, err := NewErrorLogStore(db).Recent(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "update", entries[0].Operation)
	assert.Equal(t, "Failed to Install A", entries[1].Title)

	require.NoError(t, mock.ExpectationsWereMet())
}
