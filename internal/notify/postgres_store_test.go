//go:build integration

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/pagination"
	"github.com/mbd888/dojo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_MessageLog(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	testutil.SeedAcademy(t, db, "ac1")
	testutil.SeedAcademy(t, db, "ac2")
	ctx := context.Background()
	store := NewPostgresStore(db)

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seedLogs(t, store, "ac1", 25, start)
	seedLogs(t, store, "ac2", 2, start)

	got, err := store.Get(ctx, "ac1", "msg_a")
	require.NoError(t, err)
	assert.Nil(t, got.StudentID)
	assert.True(t, got.SentAt.Equal(start))
	_, err = store.Get(ctx, "ac2", "msg_y")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := store.List(ctx, "ac1", Filter{Limit: 20})
	require.NoError(t, err)
	require.Len(t, first, 21)
	assert.Equal(t, "msg_y", first[0].ID)

	last := first[19]
	rest, err := store.List(ctx, "ac1", Filter{Limit: 20, Cursor: &pagination.Cursor{At: last.SentAt, ID: last.ID}})
	require.NoError(t, err)
	assert.Len(t, rest, 5)

	search, err := store.List(ctx, "ac1", Filter{Limit: 100, Query: "BOAS"})
	require.NoError(t, err)
	assert.Len(t, search, 13)

	window, err := store.List(ctx, "ac1", Filter{Limit: 100, Since: start.Add(24 * time.Hour), Until: start.Add(48 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, window, 1)

	typed, err := store.List(ctx, "ac1", Filter{Limit: 100, Type: TypeWelcome})
	require.NoError(t, err)
	assert.Empty(t, typed)

	delivered, err := store.Delivered(ctx, "ac1", "stu_1", TypeWelcome)
	require.NoError(t, err)
	assert.False(t, delivered)
}
