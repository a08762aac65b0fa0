package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/models"
	"github.com/bin2nlp/bin2nlp/pkg/storage/storagetest"
)

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"alphanumeric", "user123", true},
		{"with underscore and dash", "user_123-abc", true},
		{"empty", "", false},
		{"contains slash", "user/123", false},
		{"contains dot", "user.123", false},
		{"contains colon", "user:123", false},
		{"contains whitespace", "user 123", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidIdentifier(tt.in))
		})
	}
}

func TestGenerateSecret_UniqueAndLongEnough(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), 32)
}

func TestHashSecret_DeterministicAndSaltScoped(t *testing.T) {
	a1 := NewAuthenticator(storagetest.New(), "salt-one")
	a2 := NewAuthenticator(storagetest.New(), "salt-two")

	assert.Equal(t, a1.HashSecret("secret"), a1.HashSecret("secret"))
	assert.NotEqual(t, a1.HashSecret("secret"), a2.HashSecret("secret"))
}

func TestCreateKey_RejectsInvalidUserID(t *testing.T) {
	a := NewAuthenticator(storagetest.New(), "salt")
	_, _, err := a.CreateKey(context.Background(), "bad/user", models.TierBasic, nil, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidationError))
}

func TestCreateKey_RejectsInvalidPermission(t *testing.T) {
	a := NewAuthenticator(storagetest.New(), "salt")
	_, _, err := a.CreateKey(context.Background(), "user1", models.TierBasic, []models.Permission{"superuser"}, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidationError))
}

func TestCreateKey_Success(t *testing.T) {
	a := NewAuthenticator(storagetest.New(), "salt")
	key, secret, err := a.CreateKey(context.Background(), "user1", models.TierStandard, []models.Permission{models.PermissionRead}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.Equal(t, "user1", key.UserID)
	assert.Equal(t, models.KeyStatusActive, key.Status)
	assert.Equal(t, a.HashSecret(secret), key.KeyHash)
}

func TestAuthenticate(t *testing.T) {
	store := storagetest.New()
	a := NewAuthenticator(store, "salt")
	_, secret, err := a.CreateKey(context.Background(), "user1", models.TierBasic, []models.Permission{models.PermissionRead}, nil)
	require.NoError(t, err)

	t.Run("valid bearer authenticates", func(t *testing.T) {
		key, err := a.Authenticate(context.Background(), secret)
		require.NoError(t, err)
		assert.Equal(t, "user1", key.UserID)
	})

	t.Run("missing bearer rejected", func(t *testing.T) {
		_, err := a.Authenticate(context.Background(), "")
		assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	})

	t.Run("unknown bearer rejected", func(t *testing.T) {
		_, err := a.Authenticate(context.Background(), "not-a-real-secret")
		assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	})

	t.Run("revoked key rejected", func(t *testing.T) {
		key, err := a.Authenticate(context.Background(), secret)
		require.NoError(t, err)
		require.NoError(t, a.Revoke(context.Background(), "user1", key.KeyID))

		_, err = a.Authenticate(context.Background(), secret)
		assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	})
}

func TestAuthenticate_ExpiredKeyRejected(t *testing.T) {
	store := storagetest.New()
	a := NewAuthenticator(store, "salt")
	past := time.Now().UTC().Add(-time.Hour)
	_, secret, err := a.CreateKey(context.Background(), "user1", models.TierBasic, []models.Permission{models.PermissionRead}, &past)
	require.NoError(t, err)

	_, err = a.Authenticate(context.Background(), secret)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestRequirePermission(t *testing.T) {
	key := &models.ApiKey{Permissions: []models.Permission{models.PermissionRead, models.PermissionWrite}}

	assert.NoError(t, RequirePermission(key, models.PermissionRead))
	assert.NoError(t, RequirePermission(key, models.PermissionWrite))

	err := RequirePermission(key, models.PermissionAdmin)
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "admin must not be implied by read/write")
}

func TestBootstrapAdmin(t *testing.T) {
	store := storagetest.New()
	a := NewAuthenticator(store, "salt")

	key, secret, err := a.BootstrapAdmin(context.Background(), "first-admin")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.True(t, key.HasPermission(models.PermissionAdmin))
	assert.True(t, key.HasPermission(models.PermissionRead))
	assert.True(t, key.HasPermission(models.PermissionWrite))

	_, _, err = a.BootstrapAdmin(context.Background(), "second-admin")
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "bootstrap is one-shot")
}

func TestListAndRevoke(t *testing.T) {
	store := storagetest.New()
	a := NewAuthenticator(store, "salt")
	key1, _, err := a.CreateKey(context.Background(), "user1", models.TierBasic, nil, nil)
	require.NoError(t, err)
	_, _, err = a.CreateKey(context.Background(), "user2", models.TierBasic, nil, nil)
	require.NoError(t, err)

	keys, err := a.ListForUser(context.Background(), "user1")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, a.Revoke(context.Background(), "user1", key1.KeyID))
	assert.Equal(t, models.KeyStatusRevoked, keys[0].Status)

	_, err = a.ListForUser(context.Background(), "bad/id")
	assert.True(t, apperr.Is(err, apperr.KindValidationError))
}
