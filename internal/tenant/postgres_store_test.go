//go:build integration

package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := &Academy{ID: "acd_pg1", Name: "PG Dojo", Slug: "pg-dojo", OwnerID: "u1", TaxID: "12.345",
		Active: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Create(ctx, a))

	dup := *a
	dup.ID, dup.OwnerID, dup.TaxID = "acd_pg2", "u2", "99"
	assert.ErrorIs(t, store.Create(ctx, &dup), ErrSlugTaken)

	dup.Slug, dup.OwnerID = "pg-dojo-1", "u1"
	assert.ErrorIs(t, store.Create(ctx, &dup), ErrOwnerTaken)

	dup.OwnerID, dup.TaxID = "u2", "12.345"
	assert.ErrorIs(t, store.Create(ctx, &dup), ErrTaxIDTaken)

	got, err := store.GetBySlug(ctx, "pg-dojo")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.OwnerID)

	exists, err := store.SlugExists(ctx, "pg-dojo")
	require.NoError(t, err)
	assert.True(t, exists)

	got.Settings.NotifyAbsence = true
	got.Active = false
	require.NoError(t, store.Update(ctx, got))

	byOwner, err := store.GetByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, byOwner.Settings.NotifyAbsence)

	active, err := store.ListAllAcademies(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrAcademyNotFound)
}
