package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// PostgresStore's Jobs/Cache/RateLimit/Alerts paths go through pgxpool,
// which speaks the native pgx wire protocol rather than database/sql, so
// go-sqlmock (a database/sql driver fake) cannot intercept them: there is
// no pgx-native mock in the example pack to reach for, and standing one up
// would mean fabricating a dependency the corpus never uses. The api_keys
// reads below go through the parallel sqlx handle and are sqlmock-testable
// in isolation; the pgxpool paths have no test in this repository, see
// DESIGN.md.

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{sqlx: sqlx.NewDb(db, "pgx")}, mock
}

func TestPostgresStore_GetAPIKeyByHash(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"key_id", "key_hash", "user_id", "tier", "permissions", "status", "expires_at", "created_at", "last_used_at"}).
		AddRow("key-1", "hash-1", "user-1", "standard", []string{"read", "write"}, "active", nil, now, nil)
	mock.ExpectQuery(`SELECT key_id, key_hash, user_id, tier, permissions, status, expires_at, created_at, last_used_at\s+FROM api_keys WHERE key_hash = \$1`).
		WithArgs("hash-1").
		WillReturnRows(rows)

	key, err := s.GetAPIKeyByHash(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", key.UserID)
	assert.Equal(t, models.Tier("standard"), key.Tier)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAPIKeyByHash_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT key_id, key_hash, user_id, tier, permissions, status, expires_at, created_at, last_used_at\s+FROM api_keys WHERE key_hash = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetAPIKeyByHash(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAPIKeysByUser(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"key_id", "key_hash", "user_id", "tier", "permissions", "status", "expires_at", "created_at", "last_used_at"}).
		AddRow("key-1", "hash-1", "user-1", "basic", []string{"read"}, "active", nil, now, nil).
		AddRow("key-2", "hash-2", "user-1", "basic", []string{"read"}, "revoked", nil, now, nil)
	mock.ExpectQuery(`SELECT key_id, key_hash, user_id, tier, permissions, status, expires_at, created_at, last_used_at\s+FROM api_keys WHERE user_id = \$1 ORDER BY created_at DESC`).
		WithArgs("user-1").
		WillReturnRows(rows)

	keys, err := s.ListAPIKeysByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
