// Package auth implements C9: API key hashing/validation, permission
// checks, and the one-shot bootstrap-admin operation (spec.md §4.9).
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// identifierPattern enforces spec §4.9's whitelist: no '/', '\', '.', ':',
// or whitespace in user_id/key_id.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidIdentifier reports whether s is safe to use as a user_id or key_id.
func ValidIdentifier(s string) bool {
	return s != "" && identifierPattern.MatchString(s)
}

// Authenticator resolves bearer credentials to ApiKey records and checks
// bootstrap eligibility, backed by the structured store.
type Authenticator struct {
	store Store
	salt  string
}

// Store is the subset of storage.Store that auth needs.
type Store interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.ApiKey, error)
	CreateAPIKey(ctx context.Context, k *models.ApiKey) error
	ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.ApiKey, error)
	RevokeAPIKey(ctx context.Context, userID, keyID string) error
	TouchAPIKeyLastUsed(ctx context.Context, keyID string, at time.Time) error
	AnyAdminExists(ctx context.Context) (bool, error)
}

// NewAuthenticator builds an Authenticator; salt must be non-empty
// (config.Config.Validate enforces this before the process starts).
func NewAuthenticator(store Store, salt string) *Authenticator {
	return &Authenticator{store: store, salt: salt}
}

// HashSecret returns the process-salted SHA-256 hash of a bearer secret.
// Secrets themselves are never stored (spec §4.9).
func (a *Authenticator) HashSecret(secret string) string {
	h := sha256.New()
	h.Write([]byte(a.salt))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateSecret returns a new bearer credential with at least 32 bytes of
// entropy, base64url-encoded (spec §4.9).
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "generate secret", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Authenticate resolves bearer to an active, unexpired ApiKey.
func (a *Authenticator) Authenticate(ctx context.Context, bearer string) (*models.ApiKey, error) {
	if bearer == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "missing bearer credential")
	}
	key, err := a.store.GetAPIKeyByHash(ctx, a.HashSecret(bearer))
	if err != nil {
		return nil, err
	}
	if !key.Usable(time.Now().UTC()) {
		return nil, apperr.New(apperr.KindUnauthorized, "api key inactive or expired")
	}
	_ = a.store.TouchAPIKeyLastUsed(ctx, key.KeyID, time.Now().UTC())
	return key, nil
}

// RequirePermission checks permission set-containment, never treating
// admin as implied by read/write (spec §4.9 known-defect note: this
// conflation must NOT be reproduced).
func RequirePermission(key *models.ApiKey, required models.Permission) error {
	if key.HasPermission(required) {
		return nil
	}
	return apperr.New(apperr.KindForbidden, "missing required permission: "+string(required))
}

// CreateKey mints a new ApiKey for userID with the given tier and
// permissions, rejecting any permission outside the closed set or any
// identifier containing disallowed characters (spec §3 invariants).
func (a *Authenticator) CreateKey(ctx context.Context, userID string, tier models.Tier, permissions []models.Permission, expiresAt *time.Time) (*models.ApiKey, string, error) {
	if !ValidIdentifier(userID) {
		return nil, "", apperr.New(apperr.KindValidationError, "invalid user_id")
	}
	for _, p := range permissions {
		if !models.ValidPermission(p) {
			return nil, "", apperr.New(apperr.KindValidationError, "invalid permission: "+string(p))
		}
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}

	key := &models.ApiKey{
		KeyID:       uuid.NewString(),
		KeyHash:     a.HashSecret(secret),
		UserID:      userID,
		Tier:        tier,
		Permissions: permissions,
		Status:      models.KeyStatusActive,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, secret, nil
}

// Revoke revokes keyID owned by userID.
func (a *Authenticator) Revoke(ctx context.Context, userID, keyID string) error {
	if !ValidIdentifier(userID) || !ValidIdentifier(keyID) {
		return apperr.New(apperr.KindValidationError, "invalid identifier")
	}
	return a.store.RevokeAPIKey(ctx, userID, keyID)
}

// ListForUser returns every key belonging to userID.
func (a *Authenticator) ListForUser(ctx context.Context, userID string) ([]*models.ApiKey, error) {
	if !ValidIdentifier(userID) {
		return nil, apperr.New(apperr.KindValidationError, "invalid user_id")
	}
	return a.store.ListAPIKeysByUser(ctx, userID)
}

// BootstrapAdmin creates the first admin key, and only the first: once any
// admin-permissioned key exists, subsequent calls are rejected (spec §4.9
// "one-shot; subsequent calls return 403").
func (a *Authenticator) BootstrapAdmin(ctx context.Context, userID string) (*models.ApiKey, string, error) {
	exists, err := a.store.AnyAdminExists(ctx)
	if err != nil {
		return nil, "", err
	}
	if exists {
		return nil, "", apperr.New(apperr.KindForbidden, "bootstrap already completed")
	}
	return a.CreateKey(ctx, userID, models.TierEnterprise, []models.Permission{models.PermissionRead, models.PermissionWrite, models.PermissionAdmin}, nil)
}
