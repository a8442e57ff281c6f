package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := mgr.GenerateKey(ctx, "acd_1", "u1", "front desk")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "sk_"))
	assert.NotContains(t, key.Hash, raw)

	got, err := mgr.ValidateKey(ctx, "Bearer "+raw)
	require.NoError(t, err)
	assert.Equal(t, "acd_1", got.AcademyID)
	assert.Equal(t, "u1", got.UserID)
}

func TestValidateKey_Rejects(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()

	_, err := mgr.ValidateKey(ctx, "")
	assert.ErrorIs(t, err, ErrNoAPIKey)
	_, err = mgr.ValidateKey(ctx, "pk_nope")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	_, err = mgr.ValidateKey(ctx, "sk_unknown")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestValidateKey_Expired(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	raw, key, err := mgr.GenerateKey(ctx, "acd_1", "u1", "temp")
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	store.keys[key.ID].ExpiresAt = &past

	_, err = mgr.ValidateKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestRevokeKey(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := mgr.GenerateKey(ctx, "acd_1", "u1", "k")
	require.NoError(t, err)

	assert.ErrorIs(t, mgr.RevokeKey(ctx, "acd_other", key.ID), ErrKeyNotFound)
	require.NoError(t, mgr.RevokeKey(ctx, "acd_1", key.ID))

	_, err = mgr.ValidateKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	keys, err := mgr.ListKeys(ctx, "acd_1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, keys[0].Revoked)
}

func TestMemoryStore_UpdateKeepsRevocation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &APIKey{ID: "ak_1", Hash: "h", Revoked: true}))

	now := time.Now()
	require.NoError(t, store.Update(ctx, &APIKey{ID: "ak_1", LastUsed: &now}))

	k, err := store.GetByHash(ctx, "h")
	require.NoError(t, err)
	assert.True(t, k.Revoked)
	assert.NotNil(t, k.LastUsed)
}
