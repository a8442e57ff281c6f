// Package ranks tracks belt and grade progression: the rank ladder of each
// discipline, promotion history, graduation exams and their results.
package ranks

import (
	"errors"
	"time"

	"github.com/mbd888/dojo/internal/roster"
)

var (
	ErrRankNotFound       = errors.New("ranks: rank not found")
	ErrHistoryNotFound    = errors.New("ranks: promotion not found")
	ErrExamNotFound       = errors.New("ranks: exam not found")
	ErrEnrollmentNotFound = errors.New("ranks: enrollment not found")
	ErrDuplicateOrder     = errors.New("ranks: discipline already has a rank at this order")
	ErrProtected          = errors.New("ranks: rank is referenced by promotions or exams and cannot be deleted")
	ErrFeedbackRequired   = errors.New("ranks: a failed result needs feedback notes")
	ErrInvalidStatus      = errors.New("ranks: invalid enrollment status")
	ErrDisciplineMismatch = errors.New("ranks: rank belongs to another discipline")
)

// Rank is one step of a discipline's ladder. Order is unique per discipline.
type Rank struct {
	ID            string `json:"id"`
	AcademyID     string `json:"academyId"`
	DisciplineID  string `json:"disciplineId"`
	Name          string `json:"name"`
	Order         int    `json:"order"`
	MinMonths     int    `json:"minMonths"`
	Prerequisites string `json:"prerequisites,omitempty"`
	Icon          string `json:"icon,omitempty"`
}

// RankHistory records a promotion. Seq orders promotions that share a date.
type RankHistory struct {
	ID         string    `json:"id"`
	AcademyID  string    `json:"academyId"`
	StudentID  string    `json:"studentId"`
	RankID     string    `json:"rankId"`
	PromotedOn time.Time `json:"promotedOn"`
	Notes      string    `json:"notes,omitempty"`
	Seq        int64     `json:"-"`
}

// Exam is a scheduled graduation exam for one discipline.
type Exam struct {
	ID           string    `json:"id"`
	AcademyID    string    `json:"academyId"`
	DisciplineID string    `json:"disciplineId"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	Location     string    `json:"location,omitempty"`
	InstructorID *string   `json:"instructorId,omitempty"`
}

// EnrollmentStatus is the state of a student's place in an exam.
type EnrollmentStatus string

const (
	StatusInvited   EnrollmentStatus = "invited"
	StatusConfirmed EnrollmentStatus = "confirmed"
	StatusPassed    EnrollmentStatus = "passed"
	StatusFailed    EnrollmentStatus = "failed"
)

// Valid reports whether s is a known status.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case StatusInvited, StatusConfirmed, StatusPassed, StatusFailed:
		return true
	}
	return false
}

// Enrollment is a student invited to an exam, at most once per exam.
type Enrollment struct {
	ID           string           `json:"id"`
	AcademyID    string           `json:"academyId"`
	ExamID       string           `json:"examId"`
	StudentID    string           `json:"studentId"`
	TargetRankID string           `json:"targetRankId"`
	Status       EnrollmentStatus `json:"status"`
	EnrolledAt   time.Time        `json:"enrolledAt"`
	Notes        string           `json:"notes,omitempty"`
}

// EligibleStudent is a student who has served the minimum time at their
// current rank.
type EligibleStudent struct {
	Student       *roster.Student `json:"student"`
	CurrentRank   *Rank           `json:"currentRank"`
	PromotedOn    time.Time       `json:"promotedOn"`
	EligibleSince time.Time       `json:"eligibleSince"`
	DaysEligible  int             `json:"daysEligible"`
}
