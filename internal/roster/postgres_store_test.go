//go:build integration

package roster

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Roster(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	testutil.SeedAcademy(t, db, "ac1")
	testutil.SeedAcademy(t, db, "ac2")

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	day := 10
	st := &Student{ID: "stu_1", AcademyID: "ac1", FullName: "Ana Souza", BirthDate: clock.Date(2010, 5, 20),
		Contact: "+55", Active: true, EnrolledOn: clock.Date(2025, 1, 2), DueDay: &day,
		ReceiveNotifications: true, CreatedAt: now}
	require.NoError(t, store.CreateStudent(ctx, st))

	got, err := store.GetStudent(ctx, "ac1", "stu_1")
	require.NoError(t, err)
	assert.Equal(t, st.BirthDate, got.BirthDate.UTC())
	require.NotNil(t, got.DueDay)
	assert.Equal(t, 10, *got.DueDay)

	_, err = store.GetStudent(ctx, "ac2", "stu_1")
	assert.ErrorIs(t, err, ErrStudentNotFound)

	list, err := store.ListStudents(ctx, "ac1", StudentFilter{Query: "SOUZA"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.CreateDiscipline(ctx, &Discipline{ID: "dis_1", AcademyID: "ac1", Name: "Judo"}))
	assert.ErrorIs(t, store.CreateDiscipline(ctx, &Discipline{ID: "dis_2", AcademyID: "ac1", Name: "Judo"}), ErrDuplicateDiscipline)
	require.NoError(t, store.CreateDiscipline(ctx, &Discipline{ID: "dis_3", AcademyID: "ac2", Name: "Judo"}))

	require.NoError(t, store.CreateInstructor(ctx, &Instructor{ID: "ins_1", AcademyID: "ac1", FullName: "Sensei"}))
	insID := "ins_1"
	capacity := 1
	cls := &Class{ID: "cls_1", AcademyID: "ac1", DisciplineID: "dis_1", InstructorID: &insID,
		Capacity: &capacity, Active: true, CreatedAt: now}
	require.NoError(t, store.CreateClass(ctx, cls))

	require.NoError(t, store.AddStudentToClass(ctx, "ac1", "cls_1", "stu_1"))
	require.NoError(t, store.AddStudentToClass(ctx, "ac1", "cls_1", "stu_1"))
	require.NoError(t, store.CreateStudent(ctx, &Student{ID: "stu_2", AcademyID: "ac1", FullName: "Bia",
		BirthDate: clock.Date(2011, 1, 1), Active: true, EnrolledOn: clock.Date(2025, 1, 2), CreatedAt: now}))
	assert.ErrorIs(t, store.AddStudentToClass(ctx, "ac1", "cls_1", "stu_2"), ErrClassFull)

	sch := &Schedule{ID: "sch_1", ClassID: "cls_1", Weekdays: []time.Weekday{time.Monday, time.Friday}, Start: "18:00", End: "19:00"}
	require.NoError(t, store.AddSchedule(ctx, "ac1", sch))
	assert.ErrorIs(t, store.AddSchedule(ctx, "ac2", &Schedule{ID: "sch_2", ClassID: "cls_1", Weekdays: []time.Weekday{1}, Start: "07:00", End: "08:00"}), ErrClassNotFound)

	gotCls, err := store.GetClass(ctx, "ac1", "cls_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"stu_1"}, gotCls.StudentIDs)
	require.Len(t, gotCls.Schedules, 1)
	assert.Equal(t, sch.Weekdays, gotCls.Schedules[0].Weekdays)

	n, err := store.CountClassesByDiscipline(ctx, "ac1", "dis_1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, store.DeleteDiscipline(ctx, "ac1", "dis_1"), ErrProtected)

	require.NoError(t, store.DeleteInstructor(ctx, "ac1", "ins_1"))
	gotCls, err = store.GetClass(ctx, "ac1", "cls_1")
	require.NoError(t, err)
	assert.Nil(t, gotCls.InstructorID)

	counts, err := store.Counts(ctx, "ac1")
	require.NoError(t, err)
	assert.Equal(t, Counts{Students: 2, Disciplines: 1, Classes: 1}, counts)

	require.NoError(t, store.RemoveStudentFromClass(ctx, "ac1", "cls_1", "stu_1"))
	require.NoError(t, store.DeleteSchedule(ctx, "ac1", "cls_1", "sch_1"))
	assert.ErrorIs(t, store.DeleteSchedule(ctx, "ac1", "cls_1", "sch_1"), ErrScheduleNotFound)
	require.NoError(t, store.DeleteClass(ctx, "ac1", "cls_1"))
	require.NoError(t, store.DeleteDiscipline(ctx, "ac1", "dis_1"))
}
