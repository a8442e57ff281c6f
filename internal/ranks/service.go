package ranks

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/idgen"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
)

// Roster is the part of the roster the ranks engine reads.
type Roster interface {
	GetStudent(ctx context.Context, academyID, id string) (*roster.Student, error)
	ListStudents(ctx context.Context, academyID string, f roster.StudentFilter) ([]*roster.Student, error)
	GetDiscipline(ctx context.Context, academyID, id string) (*roster.Discipline, error)
	GetInstructor(ctx context.Context, academyID, id string) (*roster.Instructor, error)
}

// Notifier delivers graduation messages. Implementations decide whether the
// academy and the student accept them and record their own failures.
type Notifier interface {
	ExamInvite(ctx context.Context, academyID string, st *roster.Student, exam *Exam, target *Rank, discipline string)
	ExamPassed(ctx context.Context, academyID string, st *roster.Student, rank *Rank)
	ExamFailed(ctx context.Context, academyID string, st *roster.Student, feedback string)
}

// RankInput is the editable part of a rank.
type RankInput struct {
	AcademyID     string `json:"-"`
	DisciplineID  string `json:"disciplineId" validate:"required"`
	Name          string `json:"name" validate:"required,max=100"`
	Order         int    `json:"order" validate:"min=1"`
	MinMonths     *int   `json:"minMonths" validate:"omitempty,min=0,max=240"`
	Prerequisites string `json:"prerequisites" validate:"max=2000"`
	Icon          string `json:"icon" validate:"max=100"`
}

// PromotionInput records a promotion outside an exam.
type PromotionInput struct {
	RankID string `json:"rankId" validate:"required"`
	Date   string `json:"date"`
	Notes  string `json:"notes" validate:"max=2000"`
}

// ExamInput is the editable part of an exam.
type ExamInput struct {
	AcademyID    string    `json:"-"`
	DisciplineID string    `json:"disciplineId" validate:"required"`
	ScheduledAt  time.Time `json:"scheduledAt" validate:"required"`
	Location     string    `json:"location" validate:"max=200"`
	InstructorID *string   `json:"instructorId"`
}

// InviteInput names the students invited to an exam and the rank they test for.
type InviteInput struct {
	StudentIDs   []string `json:"studentIds" validate:"required,min=1,dive,required"`
	TargetRankID string   `json:"targetRankId" validate:"required"`
}

// ResultInput is an exam outcome. Notes are required when Passed is false.
type ResultInput struct {
	Passed bool   `json:"passed"`
	Notes  string `json:"notes" validate:"max=2000"`
	Date   string `json:"date"`
}

const defaultMinMonths = 6

// Service implements rank progression.
type Service struct {
	store  Store
	roster Roster
	clock  clock.Clock
	notify Notifier
}

// NewService creates a ranks service.
func NewService(store Store, r Roster, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, roster: r, clock: clk}
}

// WithNotifier sends graduation messages through n.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notify = n
	return s
}

// DisciplineInUse implements roster.ReferenceChecker.
func (s *Service) DisciplineInUse(ctx context.Context, academyID, disciplineID string) (bool, error) {
	return s.store.DisciplineInUse(ctx, academyID, disciplineID)
}

func (s *Service) today() time.Time {
	return clock.Today(s.clock)
}

func (s *Service) dateOrToday(field, value string) (time.Time, error) {
	if value == "" {
		return s.today(), nil
	}
	d, err := clock.ParseDate(value)
	if err != nil {
		return time.Time{}, validation.ValidationErrors{{Field: field, Message: "must be a date in YYYY-MM-DD format"}}
	}
	return d, nil
}

// --- ranks ---

func (s *Service) applyRank(ctx context.Context, academyID string, r *Rank, in RankInput) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if _, err := s.roster.GetDiscipline(ctx, academyID, in.DisciplineID); err != nil {
		return err
	}
	r.DisciplineID = in.DisciplineID
	r.Name = validation.SanitizeString(in.Name, 100)
	r.Order = in.Order
	r.MinMonths = defaultMinMonths
	if in.MinMonths != nil {
		r.MinMonths = *in.MinMonths
	}
	r.Prerequisites = validation.SanitizeString(in.Prerequisites, 2000)
	r.Icon = validation.SanitizeString(in.Icon, 100)
	return nil
}

func (s *Service) CreateRank(ctx context.Context, in RankInput) (*Rank, error) {
	if err := tenant.Stamp(ctx, &in.AcademyID); err != nil {
		return nil, err
	}
	r := &Rank{ID: idgen.WithPrefix("rnk_"), AcademyID: in.AcademyID}
	if err := s.applyRank(ctx, in.AcademyID, r, in); err != nil {
		return nil, err
	}
	if err := s.store.CreateRank(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) UpdateRank(ctx context.Context, academyID, id string, in RankInput) (*Rank, error) {
	r, err := s.store.GetRank(ctx, academyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyRank(ctx, academyID, r, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRank(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) GetRank(ctx context.Context, academyID, id string) (*Rank, error) {
	return s.store.GetRank(ctx, academyID, id)
}

// DeleteRank fails with ErrProtected once any student holds or tests for
// the rank.
func (s *Service) DeleteRank(ctx context.Context, academyID, id string) error {
	return s.store.DeleteRank(ctx, academyID, id)
}

func (s *Service) ListRanks(ctx context.Context, academyID, disciplineID string) ([]*Rank, error) {
	return s.store.ListRanks(ctx, academyID, disciplineID)
}

// --- promotions ---

// StudentRanks is a student's promotion history with the rank they hold.
type StudentRanks struct {
	Current *Rank          `json:"current"`
	History []*RankHistory `json:"history"`
}

// History returns the student's promotions, newest first, and current rank.
func (s *Service) History(ctx context.Context, academyID, studentID string) (*StudentRanks, error) {
	if _, err := s.roster.GetStudent(ctx, academyID, studentID); err != nil {
		return nil, err
	}
	history, err := s.store.ListHistory(ctx, academyID, studentID)
	if err != nil {
		return nil, err
	}
	out := &StudentRanks{History: history}
	if out.History == nil {
		out.History = []*RankHistory{}
	}
	if cur := CurrentRank(history); cur != nil {
		if out.Current, err = s.store.GetRank(ctx, academyID, cur.RankID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Promote appends a promotion for the student directly, outside any exam.
func (s *Service) Promote(ctx context.Context, academyID, studentID string, in PromotionInput) (*RankHistory, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	on, err := s.dateOrToday("date", in.Date)
	if err != nil {
		return nil, err
	}
	if _, err := s.roster.GetStudent(ctx, academyID, studentID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetRank(ctx, academyID, in.RankID); err != nil {
		return nil, err
	}
	h := &RankHistory{
		ID:         idgen.WithPrefix("rkh_"),
		AcademyID:  academyID,
		StudentID:  studentID,
		RankID:     in.RankID,
		PromotedOn: on,
		Notes:      validation.SanitizeString(in.Notes, 2000),
	}
	if err := s.store.AddHistory(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// DeletePromotion removes a history entry recorded by mistake.
func (s *Service) DeletePromotion(ctx context.Context, academyID, id string) error {
	return s.store.DeleteHistory(ctx, academyID, id)
}

// --- eligibility ---

// eligible computes eligibility for the given students. Students without
// history or not yet eligible are left out; a non-empty disciplineID keeps
// only holders of that discipline's ranks.
func (s *Service) eligible(ctx context.Context, academyID string, students []*roster.Student, disciplineID string, today time.Time) ([]EligibleStudent, error) {
	history, err := s.store.ListHistory(ctx, academyID, "")
	if err != nil {
		return nil, err
	}
	byStudent := make(map[string][]*RankHistory)
	for _, h := range history {
		byStudent[h.StudentID] = append(byStudent[h.StudentID], h)
	}
	ranks, err := s.store.ListRanks(ctx, academyID, "")
	if err != nil {
		return nil, err
	}
	rankByID := make(map[string]*Rank, len(ranks))
	for _, r := range ranks {
		rankByID[r.ID] = r
	}

	out := []EligibleStudent{}
	for _, st := range students {
		cur := CurrentRank(byStudent[st.ID])
		if cur == nil {
			continue
		}
		rank, ok := rankByID[cur.RankID]
		if !ok || (disciplineID != "" && rank.DisciplineID != disciplineID) {
			continue
		}
		if !IsEligible(cur, rank, today) {
			continue
		}
		since := EligibilityDate(cur.PromotedOn, rank.MinMonths)
		out = append(out, EligibleStudent{
			Student:       st,
			CurrentRank:   rank,
			PromotedOn:    cur.PromotedOn,
			EligibleSince: since,
			DaysEligible:  DaysEligible(since, today),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysEligible > out[j].DaysEligible })
	return out, nil
}

func (s *Service) activeStudents(ctx context.Context, academyID string) ([]*roster.Student, error) {
	active := true
	return s.roster.ListStudents(ctx, academyID, roster.StudentFilter{Active: &active})
}

// EligibleStudents lists active students who have served their current
// rank's minimum time, longest eligible first. A zero today means today.
func (s *Service) EligibleStudents(ctx context.Context, academyID string, today time.Time) ([]EligibleStudent, error) {
	if today.IsZero() {
		today = s.today()
	}
	students, err := s.activeStudents(ctx, academyID)
	if err != nil {
		return nil, err
	}
	return s.eligible(ctx, academyID, students, "", clock.DateOf(today))
}

// Candidates lists the eligible active students who hold a rank of the
// exam's discipline and are not enrolled in it yet.
func (s *Service) Candidates(ctx context.Context, academyID, examID string, today time.Time) ([]EligibleStudent, error) {
	if today.IsZero() {
		today = s.today()
	}
	exam, err := s.store.GetExam(ctx, academyID, examID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.store.ListEnrollments(ctx, academyID, examID)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(enrolled))
	for _, e := range enrolled {
		skip[e.StudentID] = true
	}
	students, err := s.activeStudents(ctx, academyID)
	if err != nil {
		return nil, err
	}
	var open []*roster.Student
	for _, st := range students {
		if !skip[st.ID] {
			open = append(open, st)
		}
	}
	return s.eligible(ctx, academyID, open, exam.DisciplineID, clock.DateOf(today))
}

// --- exams ---

func (s *Service) applyExam(ctx context.Context, academyID string, e *Exam, in ExamInput) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if _, err := s.roster.GetDiscipline(ctx, academyID, in.DisciplineID); err != nil {
		return err
	}
	if in.InstructorID != nil && *in.InstructorID != "" {
		if _, err := s.roster.GetInstructor(ctx, academyID, *in.InstructorID); err != nil {
			return err
		}
		id := *in.InstructorID
		e.InstructorID = &id
	} else {
		e.InstructorID = nil
	}
	e.DisciplineID = in.DisciplineID
	e.ScheduledAt = in.ScheduledAt
	e.Location = validation.SanitizeString(in.Location, 200)
	return nil
}

func (s *Service) CreateExam(ctx context.Context, in ExamInput) (*Exam, error) {
	if err := tenant.Stamp(ctx, &in.AcademyID); err != nil {
		return nil, err
	}
	e := &Exam{ID: idgen.WithPrefix("exm_"), AcademyID: in.AcademyID}
	if err := s.applyExam(ctx, in.AcademyID, e, in); err != nil {
		return nil, err
	}
	if err := s.store.CreateExam(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) UpdateExam(ctx context.Context, academyID, id string, in ExamInput) (*Exam, error) {
	e, err := s.store.GetExam(ctx, academyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyExam(ctx, academyID, e, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateExam(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) GetExam(ctx context.Context, academyID, id string) (*Exam, error) {
	return s.store.GetExam(ctx, academyID, id)
}

func (s *Service) DeleteExam(ctx context.Context, academyID, id string) error {
	return s.store.DeleteExam(ctx, academyID, id)
}

func (s *Service) ListExams(ctx context.Context, academyID string) ([]*Exam, error) {
	return s.store.ListExams(ctx, academyID)
}

func (s *Service) Enrollments(ctx context.Context, academyID, examID string) ([]*Enrollment, error) {
	if _, err := s.store.GetExam(ctx, academyID, examID); err != nil {
		return nil, err
	}
	return s.store.ListEnrollments(ctx, academyID, examID)
}

// Invite enrolls each student in the exam for the target rank. Students
// already enrolled keep their enrollment; only new invitations are
// notified. It returns every enrollment and how many were new.
func (s *Service) Invite(ctx context.Context, academyID, examID string, in InviteInput) ([]*Enrollment, int, error) {
	if err := validation.Struct(in); err != nil {
		return nil, 0, err
	}
	exam, err := s.store.GetExam(ctx, academyID, examID)
	if err != nil {
		return nil, 0, err
	}
	target, err := s.store.GetRank(ctx, academyID, in.TargetRankID)
	if err != nil {
		return nil, 0, err
	}
	if target.DisciplineID != exam.DisciplineID {
		return nil, 0, ErrDisciplineMismatch
	}
	discipline, err := s.roster.GetDiscipline(ctx, academyID, exam.DisciplineID)
	if err != nil {
		return nil, 0, err
	}

	students := make([]*roster.Student, 0, len(in.StudentIDs))
	for _, id := range in.StudentIDs {
		st, err := s.roster.GetStudent(ctx, academyID, id)
		if err != nil {
			return nil, 0, err
		}
		students = append(students, st)
	}

	var out []*Enrollment
	created := 0
	for _, st := range students {
		e, isNew, err := s.store.GetOrCreateEnrollment(ctx, &Enrollment{
			ID:           idgen.WithPrefix("enr_"),
			AcademyID:    academyID,
			ExamID:       exam.ID,
			StudentID:    st.ID,
			TargetRankID: target.ID,
			Status:       StatusInvited,
			EnrolledAt:   s.clock.Now(),
		})
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
		if !isNew {
			continue
		}
		created++
		if s.notify != nil {
			s.notify.ExamInvite(ctx, academyID, st, exam, target, discipline.Name)
		}
	}
	logging.L(ctx).Info("exam invitations sent", "exam_id", exam.ID, "invited", created, "requested", len(in.StudentIDs))
	return out, created, nil
}

// RecordResult closes an enrollment. A pass records the promotion to the
// target rank; recording a pass twice promotes once. A failure requires
// feedback, which is sent to the student.
func (s *Service) RecordResult(ctx context.Context, academyID, enrollmentID string, in ResultInput) (*Enrollment, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	e, err := s.store.GetEnrollment(ctx, academyID, enrollmentID)
	if err != nil {
		return nil, err
	}
	notes := validation.SanitizeString(in.Notes, 2000)
	if !in.Passed {
		if strings.TrimSpace(notes) == "" {
			return nil, ErrFeedbackRequired
		}
		e.Status = StatusFailed
		e.Notes = notes
		if err := s.store.UpdateEnrollment(ctx, e); err != nil {
			return nil, err
		}
		if st, err := s.roster.GetStudent(ctx, academyID, e.StudentID); err == nil && s.notify != nil {
			s.notify.ExamFailed(ctx, academyID, st, notes)
		}
		return e, nil
	}

	on, err := s.dateOrToday("date", in.Date)
	if err != nil {
		return nil, err
	}
	if notes != "" {
		e.Notes = notes
	}
	return s.pass(ctx, e, on)
}

// SetStatus overwrites an enrollment's status. Moving to passed records
// the promotion as RecordResult does.
func (s *Service) SetStatus(ctx context.Context, academyID, enrollmentID string, status EnrollmentStatus) (*Enrollment, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	e, err := s.store.GetEnrollment(ctx, academyID, enrollmentID)
	if err != nil {
		return nil, err
	}
	if status == StatusPassed {
		return s.pass(ctx, e, s.today())
	}
	e.Status = status
	if err := s.store.UpdateEnrollment(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) pass(ctx context.Context, e *Enrollment, on time.Time) (*Enrollment, error) {
	promotion := &RankHistory{
		ID:         idgen.WithPrefix("rkh_"),
		AcademyID:  e.AcademyID,
		StudentID:  e.StudentID,
		RankID:     e.TargetRankID,
		PromotedOn: on,
		Notes:      "exam " + e.ExamID,
	}
	e.Status = StatusPassed
	promoted, err := s.store.PassEnrollment(ctx, e, promotion)
	if err != nil {
		return nil, err
	}
	if !promoted || s.notify == nil {
		return e, nil
	}
	st, err := s.roster.GetStudent(ctx, e.AcademyID, e.StudentID)
	if err != nil {
		if !errors.Is(err, roster.ErrStudentNotFound) {
			logging.L(ctx).Warn("skipping exam result notice", "enrollment_id", e.ID, "error", err)
		}
		return e, nil
	}
	rank, err := s.store.GetRank(ctx, e.AcademyID, e.TargetRankID)
	if err != nil {
		logging.L(ctx).Warn("skipping exam result notice", "enrollment_id", e.ID, "error", err)
		return e, nil
	}
	s.notify.ExamPassed(ctx, e.AcademyID, st, rank)
	return e, nil
}

var _ roster.ReferenceChecker = (*Service)(nil)
