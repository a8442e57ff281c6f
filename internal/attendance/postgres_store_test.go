//go:build integration

package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Attendance(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	testutil.SeedAcademy(t, db, "ac1")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rs := roster.NewPostgresStore(db)
	require.NoError(t, rs.CreateStudent(ctx, &roster.Student{ID: "stu_1", AcademyID: "ac1", FullName: "Ana",
		BirthDate: clock.Date(2000, 1, 1), Active: true, EnrolledOn: clock.Date(2025, 1, 1), CreatedAt: now}))

	store := NewPostgresStore(db)
	day := clock.Date(2025, 3, 10)
	a, created, err := store.GetOrCreate(ctx, &Attendance{ID: "att_1", AcademyID: "ac1", StudentID: "stu_1", Date: day, CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, day, a.Date)

	again, created, err := store.GetOrCreate(ctx, &Attendance{ID: "att_2", AcademyID: "ac1", StudentID: "stu_1", Date: day, CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "att_1", again.ID)

	_, _, err = store.GetOrCreate(ctx, &Attendance{ID: "att_3", AcademyID: "ac1", StudentID: "stu_1", Date: day.AddDate(0, 0, -40), CreatedAt: now})
	require.NoError(t, err)

	n, err := store.CountSince(ctx, "ac1", "stu_1", day.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	last, err := store.LastAttendance(ctx, "ac1", "stu_1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, day, *last)

	counts, err := store.CountByStudent(ctx, "ac1", day.AddDate(0, 0, -60), day, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"stu_1": 2}, counts)

	list, err := store.List(ctx, "ac1", Filter{From: day.AddDate(0, 0, -1)})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.CreateDay(ctx, &NonTeachingDay{ID: "ntd_1", AcademyID: "ac1", Date: day, Description: "Feriado"}))
	assert.ErrorIs(t, store.CreateDay(ctx, &NonTeachingDay{ID: "ntd_2", AcademyID: "ac1", Date: day, Description: "dup"}), ErrDuplicateDay)
	require.NoError(t, store.DeleteDay(ctx, "ac1", "ntd_1"))
	assert.ErrorIs(t, store.Delete(ctx, "ac1", "att_missing"), ErrNotFound)
}
