package roster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/idgen"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
)

// StudentInput is the editable part of a student. AcademyID is filled from
// the request context when empty.
type StudentInput struct {
	AcademyID            string `json:"-"`
	FullName             string `json:"fullName" validate:"required,max=100"`
	BirthDate            string `json:"birthDate" validate:"required"`
	TaxID                string `json:"taxId" validate:"max=14"`
	Contact              string `json:"contact" validate:"required,max=20"`
	GuardianName         string `json:"guardianName" validate:"max=100"`
	GuardianContact      string `json:"guardianContact" validate:"max=20"`
	MedicalNotes         string `json:"medicalNotes" validate:"max=2000"`
	Active               *bool  `json:"active"`
	DueDay               *int   `json:"dueDay" validate:"omitempty,min=1,max=31"`
	ReceiveNotifications *bool  `json:"receiveNotifications"`
}

// InstructorInput is the editable part of an instructor.
type InstructorInput struct {
	AcademyID string `json:"-"`
	FullName  string `json:"fullName" validate:"required,max=100"`
	Contact   string `json:"contact" validate:"max=20"`
	Notes     string `json:"notes" validate:"max=2000"`
}

// DisciplineInput is the editable part of a discipline.
type DisciplineInput struct {
	AcademyID   string `json:"-"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=2000"`
}

// ClassInput is the editable part of a class.
type ClassInput struct {
	AcademyID    string  `json:"-"`
	DisciplineID string  `json:"disciplineId" validate:"required"`
	InstructorID *string `json:"instructorId"`
	Capacity     *int    `json:"capacity" validate:"omitempty,min=1"`
	Active       *bool   `json:"active"`
}

// ScheduleInput describes a weekly slot. Weekdays use 0 for Sunday.
type ScheduleInput struct {
	Weekdays []int  `json:"weekdays" validate:"required,min=1,dive,min=0,max=6"`
	Start    string `json:"start" validate:"required,hhmm"`
	End      string `json:"end" validate:"required,hhmm"`
}

// Service implements roster operations.
type Service struct {
	store  Store
	clock  clock.Clock
	refs   ReferenceChecker
	limits LimitChecker
}

// NewService creates a roster service.
func NewService(store Store, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, clock: clk}
}

// WithReferenceChecker registers the owner of discipline references held
// outside the roster.
func (s *Service) WithReferenceChecker(rc ReferenceChecker) *Service {
	s.refs = rc
	return s
}

// WithLimits enables plan limit checks on create paths.
func (s *Service) WithLimits(lc LimitChecker) *Service {
	s.limits = lc
	return s
}

// Store exposes the underlying store for read-only collaborators.
func (s *Service) Store() Store { return s.store }

func (s *Service) checkLimit(ctx context.Context, academyID, resource string) error {
	if s.limits == nil {
		return nil
	}
	counts, err := s.store.Counts(ctx, academyID)
	if err != nil {
		return fmt.Errorf("count %s: %w", resource, err)
	}
	return s.limits.CheckLimit(ctx, academyID, resource, counts.Of(resource))
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// --- students ---

func (s *Service) applyStudent(st *Student, in StudentInput) error {
	birth, err := clock.ParseDate(in.BirthDate)
	if err != nil {
		return validation.ValidationErrors{{Field: "birthDate", Message: "must be a date in YYYY-MM-DD format"}}
	}
	st.FullName = validation.SanitizeString(in.FullName, 100)
	st.BirthDate = birth
	st.TaxID = strings.TrimSpace(in.TaxID)
	st.Contact = strings.TrimSpace(in.Contact)
	st.GuardianName = validation.SanitizeString(in.GuardianName, 100)
	st.GuardianContact = strings.TrimSpace(in.GuardianContact)
	st.MedicalNotes = validation.SanitizeString(in.MedicalNotes, 2000)
	st.Active = boolOr(in.Active, st.Active)
	st.DueDay = in.DueDay
	st.ReceiveNotifications = boolOr(in.ReceiveNotifications, st.ReceiveNotifications)
	return nil
}

// CreateStudent enrolls a student today.
func (s *Service) CreateStudent(ctx context.Context, in StudentInput) (*Student, error) {
	if err := tenant.Stamp(ctx, &in.AcademyID); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, in.AcademyID, ResourceStudents); err != nil {
		return nil, err
	}
	st := &Student{
		ID:                   idgen.WithPrefix("stu_"),
		AcademyID:            in.AcademyID,
		Active:               true,
		ReceiveNotifications: true,
		EnrolledOn:           clock.Today(s.clock),
		CreatedAt:            s.clock.Now(),
	}
	if err := s.applyStudent(st, in); err != nil {
		return nil, err
	}
	if err := s.store.CreateStudent(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// UpdateStudent replaces a student's editable fields.
func (s *Service) UpdateStudent(ctx context.Context, academyID, id string, in StudentInput) (*Student, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	st, err := s.store.GetStudent(ctx, academyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyStudent(st, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateStudent(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) GetStudent(ctx context.Context, academyID, id string) (*Student, error) {
	return s.store.GetStudent(ctx, academyID, id)
}

func (s *Service) DeleteStudent(ctx context.Context, academyID, id string) error {
	return s.store.DeleteStudent(ctx, academyID, id)
}

func (s *Service) ListStudents(ctx context.Context, academyID string, f StudentFilter) ([]*Student, error) {
	return s.store.ListStudents(ctx, academyID, f)
}

// ActiveStudents lists the academy's active students.
func (s *Service) ActiveStudents(ctx context.Context, academyID string) ([]*Student, error) {
	active := true
	return s.store.ListStudents(ctx, academyID, StudentFilter{Active: &active})
}

// --- instructors ---

func (s *Service) CreateInstructor(ctx context.Context, in InstructorInput) (*Instructor, error) {
	if err := tenant.Stamp(ctx, &in.AcademyID); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, in.AcademyID, ResourceInstructors); err != nil {
		return nil, err
	}
	inst := &Instructor{
		ID:        idgen.WithPrefix("ins_"),
		AcademyID: in.AcademyID,
		FullName:  validation.SanitizeString(in.FullName, 100),
		Contact:   strings.TrimSpace(in.Contact),
		Notes:     validation.SanitizeString(in.Notes, 2000),
	}
	if err := s.store.CreateInstructor(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Service) UpdateInstructor(ctx context.Context, academyID, id string, in InstructorInput) (*Instructor, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	inst, err := s.store.GetInstructor(ctx, academyID, id)
	if err != nil {
		return nil, err
	}
	inst.FullName = validation.SanitizeString(in.FullName, 100)
	inst.Contact = strings.TrimSpace(in.Contact)
	inst.Notes = validation.SanitizeString(in.Notes, 2000)
	if err := s.store.UpdateInstructor(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Service) GetInstructor(ctx context.Context, academyID, id string) (*Instructor, error) {
	return s.store.GetInstructor(ctx, academyID, id)
}

// DeleteInstructor removes an instructor; their classes keep running
// without one.
func (s *Service) DeleteInstructor(ctx context.Context, academyID, id string) error {
	return s.store.DeleteInstructor(ctx, academyID, id)
}

func (s *Service) ListInstructors(ctx context.Context, academyID string) ([]*Instructor, error) {
	return s.store.ListInstructors(ctx, academyID)
}

// --- disciplines ---

func (s *Service) CreateDiscipline(ctx context.Context, in DisciplineInput) (*Discipline, error) {
	if err := tenant.Stamp(ctx, &in.AcademyID); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, in.AcademyID, ResourceDisciplines); err != nil {
		return nil, err
	}
	d := &Discipline{
		ID:          idgen.WithPrefix("dis_"),
		AcademyID:   in.AcademyID,
		Name:        validation.SanitizeString(in.Name, 100),
		Description: validation.SanitizeString(in.Description, 2000),
	}
	if err := s.store.CreateDiscipline(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) UpdateDiscipline(ctx context.Context, academyID, id string, in DisciplineInput) (*Discipline, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	d, err := s.store.GetDiscipline(ctx, academyID, id)
	if err != nil {
		return nil, err
	}
	d.Name = validation.SanitizeString(in.Name, 100)
	d.Description = validation.SanitizeString(in.Description, 2000)
	if err := s.store.UpdateDiscipline(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDiscipline(ctx context.Context, academyID, id string) (*Discipline, error) {
	return s.store.GetDiscipline(ctx, academyID, id)
}

// DeleteDiscipline fails with ErrProtected while classes, ranks or exams
// still reference the discipline.
func (s *Service) DeleteDiscipline(ctx context.Context, academyID, id string) error {
	if _, err := s.store.GetDiscipline(ctx, academyID, id); err != nil {
		return err
	}
	n, err := s.store.CountClassesByDiscipline(ctx, academyID, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrProtected
	}
	if s.refs != nil {
		inUse, err := s.refs.DisciplineInUse(ctx, academyID, id)
		if err != nil {
			return err
		}
		if inUse {
			return ErrProtected
		}
	}
	return s.store.DeleteDiscipline(ctx, academyID, id)
}

func (s *Service) ListDisciplines(ctx context.Context, academyID string) ([]*Discipline, error) {
	return s.store.ListDisciplines(ctx, academyID)
}

// --- classes ---

func (s *Service) checkClassRefs(ctx context.Context, academyID string, in ClassInput) error {
	if _, err := s.store.GetDiscipline(ctx, academyID, in.DisciplineID); err != nil {
		return err
	}
	if in.InstructorID != nil && *in.InstructorID != "" {
		if _, err := s.store.GetInstructor(ctx, academyID, *in.InstructorID); err != nil {
			return err
		}
	}
	return nil
}

func nonEmpty(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	return p
}

func (s *Service) CreateClass(ctx context.Context, in ClassInput) (*Class, error) {
	if err := tenant.Stamp(ctx, &in.AcademyID); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.checkClassRefs(ctx, in.AcademyID, in); err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, in.AcademyID, ResourceClasses); err != nil {
		return nil, err
	}
	c := &Class{
		ID:           idgen.WithPrefix("cls_"),
		AcademyID:    in.AcademyID,
		DisciplineID: in.DisciplineID,
		InstructorID: nonEmpty(in.InstructorID),
		Capacity:     in.Capacity,
		Active:       boolOr(in.Active, true),
		StudentIDs:   []string{},
		Schedules:    []Schedule{},
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.CreateClass(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) UpdateClass(ctx context.Context, academyID, id string, in ClassInput) (*Class, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	c, err := s.store.GetClass(ctx, academyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkClassRefs(ctx, academyID, in); err != nil {
		return nil, err
	}
	c.DisciplineID = in.DisciplineID
	c.InstructorID = nonEmpty(in.InstructorID)
	c.Capacity = in.Capacity
	c.Active = boolOr(in.Active, c.Active)
	if err := s.store.UpdateClass(ctx, c); err != nil {
		return nil, err
	}
	return s.store.GetClass(ctx, academyID, id)
}

func (s *Service) GetClass(ctx context.Context, academyID, id string) (*Class, error) {
	return s.store.GetClass(ctx, academyID, id)
}

func (s *Service) DeleteClass(ctx context.Context, academyID, id string) error {
	return s.store.DeleteClass(ctx, academyID, id)
}

func (s *Service) ListClasses(ctx context.Context, academyID string) ([]*Class, error) {
	return s.store.ListClasses(ctx, academyID)
}

// Enroll adds a student to a class, respecting its capacity.
func (s *Service) Enroll(ctx context.Context, academyID, classID, studentID string) (*Class, error) {
	if err := s.store.AddStudentToClass(ctx, academyID, classID, studentID); err != nil {
		return nil, err
	}
	return s.store.GetClass(ctx, academyID, classID)
}

// Unenroll removes a student from a class.
func (s *Service) Unenroll(ctx context.Context, academyID, classID, studentID string) (*Class, error) {
	if err := s.store.RemoveStudentFromClass(ctx, academyID, classID, studentID); err != nil {
		return nil, err
	}
	return s.store.GetClass(ctx, academyID, classID)
}

// AddSchedule attaches a weekly slot to a class.
func (s *Service) AddSchedule(ctx context.Context, academyID, classID string, in ScheduleInput) (*Schedule, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	start, _ := validation.ParseClock(in.Start)
	end, _ := validation.ParseClock(in.End)
	if end <= start {
		return nil, ErrInvalidSchedule
	}
	sch := &Schedule{
		ID:      idgen.WithPrefix("sch_"),
		ClassID: classID,
		Start:   in.Start,
		End:     in.End,
	}
	seen := make(map[int]bool, len(in.Weekdays))
	for _, d := range in.Weekdays {
		if !seen[d] {
			seen[d] = true
			sch.Weekdays = append(sch.Weekdays, time.Weekday(d))
		}
	}
	if err := s.store.AddSchedule(ctx, academyID, sch); err != nil {
		return nil, err
	}
	return sch, nil
}

func (s *Service) DeleteSchedule(ctx context.Context, academyID, classID, scheduleID string) error {
	return s.store.DeleteSchedule(ctx, academyID, classID, scheduleID)
}

// Counts returns the academy's limited resource counts.
func (s *Service) Counts(ctx context.Context, academyID string) (Counts, error) {
	return s.store.Counts(ctx, academyID)
}
