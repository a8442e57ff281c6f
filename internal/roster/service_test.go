package roster

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, clock.Fixed(testNow)), store
}

func academyCtx(id string) context.Context {
	return tenant.WithAcademy(context.Background(), &tenant.Academy{ID: id, Slug: id, Active: true})
}

func studentInput(name string) StudentInput {
	return StudentInput{FullName: name, BirthDate: "2010-05-20", Contact: "+5575999990000"}
}

type stubRefs struct{ inUse bool }

func (s stubRefs) DisciplineInUse(context.Context, string, string) (bool, error) { return s.inUse, nil }

type stubLimits struct {
	max   int
	calls []string
}

func (s *stubLimits) CheckLimit(_ context.Context, _, resource string, current int) error {
	s.calls = append(s.calls, resource)
	if current >= s.max {
		return fmt.Errorf("%w: %s %d/%d", ErrLimitReached, resource, current, s.max)
	}
	return nil
}

func TestCreateStudent_StampsAcademyAndEnrollment(t *testing.T) {
	svc, _ := newTestService()
	st, err := svc.CreateStudent(academyCtx("ac1"), studentInput("Ana Souza"))
	require.NoError(t, err)

	assert.Equal(t, "ac1", st.AcademyID)
	assert.Equal(t, clock.Date(2025, 3, 10), st.EnrolledOn)
	assert.Equal(t, clock.Date(2010, 5, 20), st.BirthDate)
	assert.True(t, st.Active)
	assert.True(t, st.ReceiveNotifications)
	assert.Equal(t, "Ana", st.FirstName())
}

func TestCreateStudent_Unbound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.CreateStudent(context.Background(), studentInput("Ana"))
	assert.ErrorIs(t, err, tenant.ErrNoTenant)
}

func TestCreateStudent_ExplicitAcademyWins(t *testing.T) {
	svc, _ := newTestService()
	in := studentInput("Ana")
	in.AcademyID = "ac2"
	st, err := svc.CreateStudent(academyCtx("ac1"), in)
	require.NoError(t, err)
	assert.Equal(t, "ac2", st.AcademyID)
}

func TestCreateStudent_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := academyCtx("ac1")

	_, err := svc.CreateStudent(ctx, StudentInput{BirthDate: "2010-01-01", Contact: "1"})
	var verrs validation.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "fullName", verrs[0].Field)

	in := studentInput("Ana")
	in.BirthDate = "20/05/2010"
	_, err = svc.CreateStudent(ctx, in)
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "birthDate", verrs[0].Field)

	bad := 32
	in = studentInput("Ana")
	in.DueDay = &bad
	_, err = svc.CreateStudent(ctx, in)
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "dueDay", verrs[0].Field)
}

func TestStudents_TenantIsolation(t *testing.T) {
	svc, _ := newTestService()
	a, err := svc.CreateStudent(academyCtx("ac1"), studentInput("Ana"))
	require.NoError(t, err)
	_, err = svc.CreateStudent(academyCtx("ac2"), studentInput("Bruno"))
	require.NoError(t, err)

	_, err = svc.GetStudent(context.Background(), "ac2", a.ID)
	assert.ErrorIs(t, err, ErrStudentNotFound)

	list, err := svc.ListStudents(context.Background(), "ac1", StudentFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Ana", list[0].FullName)

	assert.ErrorIs(t, svc.DeleteStudent(context.Background(), "ac2", a.ID), ErrStudentNotFound)
}

func TestListStudents_Filter(t *testing.T) {
	svc, _ := newTestService()
	ctx := academyCtx("ac1")
	_, err := svc.CreateStudent(ctx, studentInput("Ana Souza"))
	require.NoError(t, err)
	in := studentInput("Bruno Lima")
	inactive := false
	in.Active = &inactive
	_, err = svc.CreateStudent(ctx, in)
	require.NoError(t, err)

	got, err := svc.ListStudents(ctx, "ac1", StudentFilter{Query: "souza"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = svc.ActiveStudents(ctx, "ac1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ana Souza", got[0].FullName)
}

func TestUpdateStudent(t *testing.T) {
	svc, _ := newTestService()
	st, err := svc.CreateStudent(academyCtx("ac1"), studentInput("Ana"))
	require.NoError(t, err)

	in := studentInput("Ana Maria")
	day := 15
	in.DueDay = &day
	got, err := svc.UpdateStudent(context.Background(), "ac1", st.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", got.FullName)
	require.NotNil(t, got.DueDay)
	assert.Equal(t, 15, *got.DueDay)
	assert.Equal(t, st.EnrolledOn, got.EnrolledOn)
}

func TestDisciplines_DuplicateName(t *testing.T) {
	svc, _ := newTestService()
	ctx := academyCtx("ac1")
	_, err := svc.CreateDiscipline(ctx, DisciplineInput{Name: "Judo"})
	require.NoError(t, err)
	_, err = svc.CreateDiscipline(ctx, DisciplineInput{Name: "Judo"})
	assert.ErrorIs(t, err, ErrDuplicateDiscipline)

	// same name in another academy is fine
	_, err = svc.CreateDiscipline(academyCtx("ac2"), DisciplineInput{Name: "Judo"})
	assert.NoError(t, err)
}

func TestDeleteDiscipline_Protected(t *testing.T) {
	svc, _ := newTestService()
	ctx := academyCtx("ac1")
	d, err := svc.CreateDiscipline(ctx, DisciplineInput{Name: "Judo"})
	require.NoError(t, err)
	cls, err := svc.CreateClass(ctx, ClassInput{DisciplineID: d.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteDiscipline(ctx, "ac1", d.ID), ErrProtected)

	require.NoError(t, svc.DeleteClass(ctx, "ac1", cls.ID))
	svc.WithReferenceChecker(stubRefs{inUse: true})
	assert.ErrorIs(t, svc.DeleteDiscipline(ctx, "ac1", d.ID), ErrProtected)

	svc.WithReferenceChecker(stubRefs{})
	require.NoError(t, svc.DeleteDiscipline(ctx, "ac1", d.ID))
	_, err = svc.GetDiscipline(ctx, "ac1", d.ID)
	assert.ErrorIs(t, err, ErrDisciplineNotFound)
}

func TestCreateClass_ForeignReferences(t *testing.T) {
	svc, _ := newTestService()
	other, err := svc.CreateDiscipline(academyCtx("ac2"), DisciplineInput{Name: "Judo"})
	require.NoError(t, err)

	_, err = svc.CreateClass(academyCtx("ac1"), ClassInput{DisciplineID: other.ID})
	assert.ErrorIs(t, err, ErrDisciplineNotFound)

	d, err := svc.CreateDiscipline(academyCtx("ac1"), DisciplineInput{Name: "Judo"})
	require.NoError(t, err)
	inst, err := svc.CreateInstructor(academyCtx("ac2"), InstructorInput{FullName: "Sensei"})
	require.NoError(t, err)
	_, err = svc.CreateClass(academyCtx("ac1"), ClassInput{DisciplineID: d.ID, InstructorID: &inst.ID})
	assert.ErrorIs(t, err, ErrInstructorNotFound)
}

func TestDeleteInstructor_ClearsClasses(t *testing.T) {
	svc, _ := newTestService()
	ctx := academyCtx("ac1")
	d, err := svc.CreateDiscipline(ctx, DisciplineInput{Name: "Judo"})
	require.NoError(t, err)
	inst, err := svc.CreateInstructor(ctx, InstructorInput{FullName: "Sensei"})
	require.NoError(t, err)
	cls, err := svc.CreateClass(ctx, ClassInput{DisciplineID: d.ID, InstructorID: &inst.ID})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteInstructor(ctx, "ac1", inst.ID))
	got, err := svc.GetClass(ctx, "ac1", cls.ID)
	require.NoError(t, err)
	assert.Nil(t, got.InstructorID)
}

func TestEnroll_Capacity(t *testing.T) {
	svc, _ := newTestService()
	ctx := academyCtx("ac1")
	d, err := svc.CreateDiscipline(ctx, DisciplineInput{Name: "Judo"})
	require.NoError(t, err)
	capacity := 2
	cls, err := svc.CreateClass(ctx, ClassInput{DisciplineID: d.ID, Capacity: &capacity})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		st, err := svc.CreateStudent(ctx, studentInput(fmt.Sprintf("Student %d", i)))
		require.NoError(t, err)
		ids = append(ids, st.ID)
	}

	_, err = svc.Enroll(ctx, "ac1", cls.ID, ids[0])
	require.NoError(t, err)
	// idempotent
	got, err := svc.Enroll(ctx, "ac1", cls.ID, ids[0])
	require.NoError(t, err)
	assert.Len(t, got.StudentIDs, 1)

	_, err = svc.Enroll(ctx, "ac1", cls.ID, ids[1])
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, "ac1", cls.ID, ids[2])
	assert.ErrorIs(t, err, ErrClassFull)

	got, err = svc.Unenroll(ctx, "ac1", cls.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, got.StudentIDs)
}

func TestEnroll_ConcurrentRespectsCapacity(t *testing.T) {
	svc, _ := newTestService()
	ctx := academyCtx("ac1")
	d, err := svc.CreateDiscipline(ctx, DisciplineInput{Name: "Judo"})
	require.NoError(t, err)
	capacity := 5
	cls, err := svc.CreateClass(ctx, ClassInput{DisciplineID: d.ID, Capacity: &capacity})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 20; i++ {
		st, err := svc.CreateStudent(ctx, studentInput(fmt.Sprintf("Student %d", i)))
		require.NoError(t, err)
		ids = append(ids, st.ID)
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = svc.Enroll(ctx, "ac1", cls.ID, id)
		}(id)
	}
	wg.Wait()

	got, err := svc.GetClass(ctx, "ac1", cls.ID)
	require.NoError(t, err)
	assert.Len(t, got.StudentIDs, 5)
}

func TestEnroll_ForeignStudent(t *testing.T) {
	svc, _ := newTestService()
	d, err := svc.CreateDiscipline(academyCtx("ac1"), DisciplineInput{Name: "Judo"})
	require.NoError(t, err)
	cls, err := svc.CreateClass(academyCtx("ac1"), ClassInput{DisciplineID: d.ID})
	require.NoError(t, err)
	st, err := svc.CreateStudent(academyCtx("ac2"), studentInput("Ana"))
	require.NoError(t, err)

	_, err = svc.Enroll(context.Background(), "ac1", cls.ID, st.ID)
	assert.ErrorIs(t, err, ErrStudentNotFound)
}

func TestAddSchedule(t *testing.T) {
	svc, _ := newTestService()
	ctx := academyCtx("ac1")
	d, err := svc.CreateDiscipline(ctx, DisciplineInput{Name: "Judo"})
	require.NoError(t, err)
	cls, err := svc.CreateClass(ctx, ClassInput{DisciplineID: d.ID})
	require.NoError(t, err)

	sch, err := svc.AddSchedule(ctx, "ac1", cls.ID, ScheduleInput{Weekdays: []int{1, 3, 3}, Start: "18:00", End: "19:30"})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, sch.Weekdays)

	_, err = svc.AddSchedule(ctx, "ac1", cls.ID, ScheduleInput{Weekdays: []int{1}, Start: "19:00", End: "18:00"})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = svc.AddSchedule(ctx, "ac1", cls.ID, ScheduleInput{Weekdays: []int{7}, Start: "18:00", End: "19:00"})
	var verrs validation.ValidationErrors
	assert.ErrorAs(t, err, &verrs)

	_, err = svc.AddSchedule(ctx, "ac2", cls.ID, ScheduleInput{Weekdays: []int{1}, Start: "18:00", End: "19:00"})
	assert.ErrorIs(t, err, ErrClassNotFound)

	got, err := svc.GetClass(ctx, "ac1", cls.ID)
	require.NoError(t, err)
	require.Len(t, got.Schedules, 1)

	require.NoError(t, svc.DeleteSchedule(ctx, "ac1", cls.ID, sch.ID))
	assert.ErrorIs(t, svc.DeleteSchedule(ctx, "ac1", cls.ID, sch.ID), ErrScheduleNotFound)
}

func TestLimits(t *testing.T) {
	svc, _ := newTestService()
	limits := &stubLimits{max: 1}
	svc.WithLimits(limits)
	ctx := academyCtx("ac1")

	_, err := svc.CreateStudent(ctx, studentInput("Ana"))
	require.NoError(t, err)
	_, err = svc.CreateStudent(ctx, studentInput("Bruno"))
	assert.ErrorIs(t, err, ErrLimitReached)

	// other academies have their own counts
	_, err = svc.CreateStudent(academyCtx("ac2"), studentInput("Bruno"))
	require.NoError(t, err)

	_, err = svc.CreateInstructor(ctx, InstructorInput{FullName: "Sensei"})
	require.NoError(t, err)
	assert.Contains(t, limits.calls, ResourceInstructors)

	counts, err := svc.Counts(ctx, "ac1")
	require.NoError(t, err)
	assert.Equal(t, Counts{Students: 1, Instructors: 1}, counts)
}
