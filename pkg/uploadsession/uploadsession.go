// Package uploadsession implements the optional UploadSession entity
// (spec.md §3): short-lived, TTL-native metadata tying a job id to the
// upload that created it. It is kept out of the Postgres structured
// store and held in Redis instead, matching SPEC_FULL.md §10.6 — native
// key expiry is a better fit than simulating TTL with a cron-swept SQL
// table for data that is never queried in aggregate.
package uploadsession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bin2nlp/bin2nlp/pkg/models"
)

const keyPrefix = "bin2nlp:upload_session:"

// Store holds UploadSession rows in Redis under a TTL key.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Store against addr/db, with sessions expiring after ttl.
func New(addr, password string, db int, ttl time.Duration) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

// Create starts a session for jobID with the given metadata, returning
// its session id.
func (s *Store) Create(ctx context.Context, jobID string, metadata map[string]string) (*models.UploadSession, error) {
	now := time.Now()
	sess := &models.UploadSession{
		SessionID: uuid.NewString(),
		JobID:     jobID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		Metadata:  metadata,
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("uploadsession: marshal: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+sess.SessionID, data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("uploadsession: set: %w", err)
	}
	return sess, nil
}

// Get returns the session for id, or (nil, nil) if it has expired or
// never existed.
func (s *Store) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("uploadsession: get: %w", err)
	}
	var sess models.UploadSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("uploadsession: unmarshal: %w", err)
	}
	return &sess, nil
}

// Delete removes a session early, e.g. once its job reaches a terminal
// status and the upload metadata is no longer needed.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, keyPrefix+id).Err()
}

// Ping verifies connectivity, used once by serve at startup.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
