//go:build integration

package ranks

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

func TestPostgresStore_Ranks(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	testutil.SeedAcademy(t, db, "ac1")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rs := roster.NewPostgresStore(db)
	require.NoError(t, rs.CreateDiscipline(ctx, &roster.Discipline{ID: "dis_1", AcademyID: "ac1", Name: "Judo"}))
	require.NoError(t, rs.CreateStudent(ctx, &roster.Student{ID: "stu_1", AcademyID: "ac1", FullName: "Ana",
		BirthDate: clock.Date(2000, 1, 1), Active: true, EnrolledOn: clock.Date(2025, 1, 1), CreatedAt: now}))

	store := NewPostgresStore(db)
	white := &Rank{ID: "rnk_1", AcademyID: "ac1", DisciplineID: "dis_1", Name: "Branca", Order: 1, MinMonths: 6}
	blue := &Rank{ID: "rnk_2", AcademyID: "ac1", DisciplineID: "dis_1", Name: "Azul", Order: 2, MinMonths: 12}
	require.NoError(t, store.CreateRank(ctx, white))
	require.NoError(t, store.CreateRank(ctx, blue))
	assert.ErrorIs(t, store.CreateRank(ctx, &Rank{ID: "rnk_3", AcademyID: "ac1", DisciplineID: "dis_1", Name: "x", Order: 2}), ErrDuplicateOrder)

	inUse, err := store.DisciplineInUse(ctx, "ac1", "dis_1")
	require.NoError(t, err)
	assert.True(t, inUse)

	day := clock.Date(2024, 6, 1)
	first := &RankHistory{ID: "rkh_1", AcademyID: "ac1", StudentID: "stu_1", RankID: "rnk_1", PromotedOn: day}
	second := &RankHistory{ID: "rkh_2", AcademyID: "ac1", StudentID: "stu_1", RankID: "rnk_2", PromotedOn: day}
	require.NoError(t, store.AddHistory(ctx, first))
	require.NoError(t, store.AddHistory(ctx, second))
	assert.Greater(t, second.Seq, first.Seq)

	history, err := store.ListHistory(ctx, "ac1", "stu_1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "rkh_2", CurrentRank(history).ID)

	assert.ErrorIs(t, store.DeleteRank(ctx, "ac1", "rnk_1"), ErrProtected)

	exam := &Exam{ID: "exm_1", AcademyID: "ac1", DisciplineID: "dis_1", ScheduledAt: now.Add(48 * time.Hour), Location: "Tatame"}
	require.NoError(t, store.CreateExam(ctx, exam))

	e, created, err := store.GetOrCreateEnrollment(ctx, &Enrollment{ID: "enr_1", AcademyID: "ac1", ExamID: "exm_1",
		StudentID: "stu_1", TargetRankID: "rnk_2", Status: StatusInvited, EnrolledAt: now})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := store.GetOrCreateEnrollment(ctx, &Enrollment{ID: "enr_2", AcademyID: "ac1", ExamID: "exm_1",
		StudentID: "stu_1", TargetRankID: "rnk_2", Status: StatusInvited, EnrolledAt: now})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "enr_1", again.ID)

	e.Notes = "confirmed"
	e.Status = StatusConfirmed
	require.NoError(t, store.UpdateEnrollment(ctx, e))

	promo := &RankHistory{ID: "rkh_3", AcademyID: "ac1", StudentID: "stu_1", RankID: "rnk_2", PromotedOn: clock.Date(2025, 3, 10)}
	promoted, err := store.PassEnrollment(ctx, e, promo)
	require.NoError(t, err)
	assert.True(t, promoted)
	// a second pass keeps the single promotion
	promoted, err = store.PassEnrollment(ctx, e, &RankHistory{ID: "rkh_4", AcademyID: "ac1", StudentID: "stu_1",
		RankID: "rnk_2", PromotedOn: clock.Date(2025, 3, 11)})
	require.NoError(t, err)
	assert.False(t, promoted)
	_, err = store.PassEnrollment(ctx, &Enrollment{ID: "enr_missing", AcademyID: "ac1"}, promo)
	assert.ErrorIs(t, err, ErrEnrollmentNotFound)

	got, err := store.GetEnrollment(ctx, "ac1", "enr_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, got.Status)

	history, err = store.ListHistory(ctx, "ac1", "")
	require.NoError(t, err)
	assert.Len(t, history, 3)

	require.NoError(t, store.DeleteExam(ctx, "ac1", "exm_1"))
	list, err := store.ListEnrollments(ctx, "ac1", "exm_1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
