package attendance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/idgen"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/realtime"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/validation"
)

// DefaultReportDays is the report window when no start date is given.
const DefaultReportDays = 30

// Roster is the part of the roster attendance reads.
type Roster interface {
	GetStudent(ctx context.Context, academyID, id string) (*roster.Student, error)
	GetClass(ctx context.Context, academyID, id string) (*roster.Class, error)
	ListStudents(ctx context.Context, academyID string, f roster.StudentFilter) ([]*roster.Student, error)
}

// Publisher pushes events to an academy's live board.
type Publisher interface {
	Publish(academyID string, t realtime.EventType, data map[string]any)
}

// DayInput registers a non-teaching day.
type DayInput struct {
	Date        string `json:"date" validate:"required"`
	Description string `json:"description" validate:"required,max=200"`
}

// Service implements attendance operations.
type Service struct {
	store  Store
	roster Roster
	clock  clock.Clock
	pub    Publisher
}

// NewService creates an attendance service.
func NewService(store Store, r Roster, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, roster: r, clock: clk}
}

// WithPublisher broadcasts new check-ins to the live board.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.pub = p
	return s
}

// Mark records the student present on date (today when zero). Marking the
// same student twice on a day returns the first mark with created=false.
func (s *Service) Mark(ctx context.Context, academyID, studentID string, classID *string, date time.Time) (*Attendance, bool, error) {
	today := clock.Today(s.clock)
	if date.IsZero() {
		date = today
	}
	date = clock.DateOf(date)
	if date.After(today) {
		return nil, false, ErrFutureDate
	}
	st, err := s.roster.GetStudent(ctx, academyID, studentID)
	if err != nil {
		return nil, false, err
	}
	if classID != nil && *classID == "" {
		classID = nil
	}
	if classID != nil {
		if _, err := s.roster.GetClass(ctx, academyID, *classID); err != nil {
			return nil, false, err
		}
	}

	mark, created, err := s.store.GetOrCreate(ctx, &Attendance{
		ID:        idgen.WithPrefix("att_"),
		AcademyID: academyID,
		StudentID: studentID,
		ClassID:   classID,
		Date:      date,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("mark attendance: %w", err)
	}
	if created && s.pub != nil {
		data := map[string]any{
			"attendanceId": mark.ID,
			"studentId":    st.ID,
			"studentName":  st.FullName,
			"date":         mark.Date.Format(clock.DateLayout),
		}
		if mark.ClassID != nil {
			data["classId"] = *mark.ClassID
		}
		s.pub.Publish(academyID, realtime.EventAttendanceMarked, data)
	}
	if created {
		logging.L(ctx).Debug("attendance marked", "student_id", studentID, "date", mark.Date.Format(clock.DateLayout))
	}
	return mark, created, nil
}

func (s *Service) Get(ctx context.Context, academyID, id string) (*Attendance, error) {
	return s.store.Get(ctx, academyID, id)
}

func (s *Service) Delete(ctx context.Context, academyID, id string) error {
	return s.store.Delete(ctx, academyID, id)
}

func (s *Service) List(ctx context.Context, academyID string, f Filter) ([]*Attendance, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, ErrInvalidRange
	}
	return s.store.List(ctx, academyID, f)
}

// CountSince counts the student's marks on or after since.
func (s *Service) CountSince(ctx context.Context, academyID, studentID string, since time.Time) (int, error) {
	return s.store.CountSince(ctx, academyID, studentID, clock.DateOf(since))
}

// LastAttendance returns the student's latest mark date, or nil.
func (s *Service) LastAttendance(ctx context.Context, academyID, studentID string) (*time.Time, error) {
	return s.store.LastAttendance(ctx, academyID, studentID)
}

// CountByStudent counts marks per student in [from, to].
func (s *Service) CountByStudent(ctx context.Context, academyID string, from, to time.Time) (map[string]int, error) {
	return s.store.CountByStudent(ctx, academyID, from, to, "")
}

// Frequency reports each active student's attendance between from and to.
// A zero to means today; a zero from means DefaultReportDays before to.
func (s *Service) Frequency(ctx context.Context, academyID string, from, to time.Time, classID string) (*FrequencyReport, error) {
	if to.IsZero() {
		to = clock.Today(s.clock)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -DefaultReportDays)
	}
	if from.After(to) {
		return nil, ErrInvalidRange
	}
	active := true
	students, err := s.roster.ListStudents(ctx, academyID, roster.StudentFilter{Active: &active})
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountByStudent(ctx, academyID, from, to, classID)
	if err != nil {
		return nil, err
	}

	report := &FrequencyReport{From: from, To: to, ClassID: classID, Rows: make([]FrequencyRow, 0, len(students))}
	for _, st := range students {
		n := counts[st.ID]
		report.Rows = append(report.Rows, FrequencyRow{StudentID: st.ID, StudentName: st.FullName, Count: n})
		report.Total += n
	}
	sort.SliceStable(report.Rows, func(i, j int) bool {
		if report.Rows[i].Count != report.Rows[j].Count {
			return report.Rows[i].Count < report.Rows[j].Count
		}
		return report.Rows[i].StudentName < report.Rows[j].StudentName
	})
	return report, nil
}

// RollCall lists active students matching query and whether each is
// marked present on date.
func (s *Service) RollCall(ctx context.Context, academyID string, date time.Time, query string) ([]RollCallEntry, error) {
	if date.IsZero() {
		date = clock.Today(s.clock)
	}
	active := true
	students, err := s.roster.ListStudents(ctx, academyID, roster.StudentFilter{Active: &active, Query: strings.TrimSpace(query)})
	if err != nil {
		return nil, err
	}
	present, err := s.store.CountByStudent(ctx, academyID, date, date, "")
	if err != nil {
		return nil, err
	}
	out := make([]RollCallEntry, 0, len(students))
	for _, st := range students {
		out = append(out, RollCallEntry{StudentID: st.ID, StudentName: st.FullName, Present: present[st.ID] > 0})
	}
	return out, nil
}

// Calendar returns the first day of the month shown and the days of that
// month on which the student attended. An out-of-range year or month
// selects the current month.
func (s *Service) Calendar(ctx context.Context, academyID, studentID string, year int, month time.Month) (time.Time, []int, error) {
	if _, err := s.roster.GetStudent(ctx, academyID, studentID); err != nil {
		return time.Time{}, nil, err
	}
	if year < 1900 || month < time.January || month > time.December {
		today := clock.Today(s.clock)
		year, month = today.Year(), today.Month()
	}
	first := clock.Date(year, month, 1)
	last := clock.Date(year, month, clock.DaysIn(year, month))
	marks, err := s.store.List(ctx, academyID, Filter{From: first, To: last, StudentID: studentID})
	if err != nil {
		return time.Time{}, nil, err
	}
	days := make([]int, 0, len(marks))
	for _, m := range marks {
		days = append(days, m.Date.Day())
	}
	sort.Ints(days)
	return first, days, nil
}

// --- non-teaching days ---

// AddDay registers a non-teaching day; one per date.
func (s *Service) AddDay(ctx context.Context, academyID string, in DayInput) (*NonTeachingDay, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	date, err := clock.ParseDate(in.Date)
	if err != nil {
		return nil, validation.ValidationErrors{{Field: "date", Message: "must be a date in YYYY-MM-DD format"}}
	}
	d := &NonTeachingDay{
		ID:          idgen.WithPrefix("ntd_"),
		AcademyID:   academyID,
		Date:        date,
		Description: validation.SanitizeString(in.Description, 200),
	}
	if err := s.store.CreateDay(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) DeleteDay(ctx context.Context, academyID, id string) error {
	return s.store.DeleteDay(ctx, academyID, id)
}

func (s *Service) ListDays(ctx context.Context, academyID string) ([]*NonTeachingDay, error) {
	return s.store.ListDays(ctx, academyID)
}
