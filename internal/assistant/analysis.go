// Package assistant summarises an academy's finances and attendance and
// answers staff questions, first from the data layer by keyword and then
// through an LLM.
package assistant

import (
	"context"
	"sort"
	"time"

	"github.com/mbd888/dojo/internal/billing"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/shopspring/decimal"
)

// Analysis windows.
const (
	AbsentDays        = 3
	FrequencyWindow   = 30
	LowFrequencyBelow = 4
	NewStudentWindow  = 7
)

// Billing is the part of billing the assistant reads.
type Billing interface {
	Revenue(ctx context.Context, academyID string, from, to time.Time) (decimal.Decimal, error)
	OverdueTotal(ctx context.Context, academyID string, today time.Time) (decimal.Decimal, error)
	OverdueStudents(ctx context.Context, academyID string, today time.Time) ([]billing.OverdueStudent, error)
	NewSubscriptions(ctx context.Context, academyID string, from, to time.Time) (int, error)
	StudentsWithoutPlan(ctx context.Context, academyID string) ([]*roster.Student, error)
	ListPlans(ctx context.Context, academyID string) ([]*billing.Plan, error)
	ListInvoices(ctx context.Context, academyID string, f billing.InvoiceFilter) ([]billing.InvoiceView, error)
	ActiveSubscription(ctx context.Context, academyID, studentID string) (*billing.Subscription, error)
	GetPlan(ctx context.Context, academyID, id string) (*billing.Plan, error)
}

// Roster lists students.
type Roster interface {
	ListStudents(ctx context.Context, academyID string, f roster.StudentFilter) ([]*roster.Student, error)
}

// Attendance counts check-ins.
type Attendance interface {
	CountByStudent(ctx context.Context, academyID string, from, to time.Time) (map[string]int, error)
}

// Academies resolves academy names.
type Academies interface {
	Get(ctx context.Context, id string) (*tenant.Academy, error)
}

// Attendee is a student with their check-in count in the frequency window.
type Attendee struct {
	Student *roster.Student `json:"student"`
	Count   int             `json:"count"`
}

// Analysis is the snapshot the report and the bulletin are rendered from.
type Analysis struct {
	Academy          string                   `json:"academy"`
	Date             time.Time                `json:"date"`
	RevenueThisMonth decimal.Decimal          `json:"revenueThisMonth"`
	RevenueLastMonth decimal.Decimal          `json:"revenueLastMonth"`
	LastMonthFrom    time.Time                `json:"lastMonthFrom"`
	LastMonthTo      time.Time                `json:"lastMonthTo"`
	OverdueTotal     decimal.Decimal          `json:"overdueTotal"`
	NewSubscriptions int                      `json:"newSubscriptions"`
	ActiveStudents   int                      `json:"activeStudents"`
	InactiveStudents int                      `json:"inactiveStudents"`
	WithoutPlan      []*roster.Student        `json:"withoutPlan"`
	Absent           []*roster.Student        `json:"absent"`
	LowFrequency     []Attendee               `json:"lowFrequency"`
	LeastAttending   *Attendee                `json:"leastAttending,omitempty"`
	Overdue          []billing.OverdueStudent `json:"overdue"`
	NewStudents      []*roster.Student        `json:"newStudents"`
	Plans            []*billing.Plan          `json:"plans"`
}

// Analyze collects the academy's KPIs as of today.
func (s *Service) Analyze(ctx context.Context, academyID string, today time.Time) (*Analysis, error) {
	if today.IsZero() {
		today = clock.Today(s.clock)
	}
	today = clock.DateOf(today)
	a := &Analysis{Date: today}

	academy, err := s.academies.Get(ctx, academyID)
	if err != nil {
		return nil, err
	}
	a.Academy = academy.Name

	monthStart := clock.Date(today.Year(), today.Month(), 1)
	a.LastMonthTo = monthStart.AddDate(0, 0, -1)
	a.LastMonthFrom = clock.Date(a.LastMonthTo.Year(), a.LastMonthTo.Month(), 1)

	if a.RevenueThisMonth, err = s.billing.Revenue(ctx, academyID, monthStart, clock.ClampedDate(today.Year(), today.Month(), 31)); err != nil {
		return nil, err
	}
	if a.RevenueLastMonth, err = s.billing.Revenue(ctx, academyID, a.LastMonthFrom, a.LastMonthTo); err != nil {
		return nil, err
	}
	if a.OverdueTotal, err = s.billing.OverdueTotal(ctx, academyID, today); err != nil {
		return nil, err
	}
	if a.NewSubscriptions, err = s.billing.NewSubscriptions(ctx, academyID, a.LastMonthFrom, a.LastMonthTo); err != nil {
		return nil, err
	}
	if a.Overdue, err = s.billing.OverdueStudents(ctx, academyID, today); err != nil {
		return nil, err
	}
	if a.WithoutPlan, err = s.billing.StudentsWithoutPlan(ctx, academyID); err != nil {
		return nil, err
	}
	if a.Plans, err = s.billing.ListPlans(ctx, academyID); err != nil {
		return nil, err
	}

	students, err := s.roster.ListStudents(ctx, academyID, roster.StudentFilter{})
	if err != nil {
		return nil, err
	}
	var active []*roster.Student
	newSince := today.AddDate(0, 0, -NewStudentWindow)
	for _, st := range students {
		if !st.Active {
			a.InactiveStudents++
			continue
		}
		a.ActiveStudents++
		active = append(active, st)
		if !st.EnrolledOn.Before(newSince) {
			a.NewStudents = append(a.NewStudents, st)
		}
	}

	recent, err := s.attendance.CountByStudent(ctx, academyID, today.AddDate(0, 0, -AbsentDays), today)
	if err != nil {
		return nil, err
	}
	window, err := s.attendance.CountByStudent(ctx, academyID, today.AddDate(0, 0, -FrequencyWindow), today)
	if err != nil {
		return nil, err
	}
	for _, st := range active {
		if recent[st.ID] == 0 {
			a.Absent = append(a.Absent, st)
		}
		n := window[st.ID]
		if n > 0 && n < LowFrequencyBelow {
			a.LowFrequency = append(a.LowFrequency, Attendee{Student: st, Count: n})
		}
		if a.LeastAttending == nil || n < a.LeastAttending.Count {
			a.LeastAttending = &Attendee{Student: st, Count: n}
		}
	}
	sort.SliceStable(a.LowFrequency, func(i, j int) bool { return a.LowFrequency[i].Count < a.LowFrequency[j].Count })
	return a, nil
}
