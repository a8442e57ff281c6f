// Package roster manages an academy's people and class structure: students,
// instructors, disciplines, classes and their weekly schedules.
package roster

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrStudentNotFound     = errors.New("roster: student not found")
	ErrInstructorNotFound  = errors.New("roster: instructor not found")
	ErrDisciplineNotFound  = errors.New("roster: discipline not found")
	ErrClassNotFound       = errors.New("roster: class not found")
	ErrScheduleNotFound    = errors.New("roster: schedule not found")
	ErrDuplicateDiscipline = errors.New("roster: discipline name already exists")
	ErrClassFull           = errors.New("roster: class is at capacity")
	ErrProtected           = errors.New("roster: record is referenced and cannot be deleted")
	ErrInvalidSchedule     = errors.New("roster: schedule must end after it starts")
	// ErrLimitReached is wrapped by LimitChecker implementations.
	ErrLimitReached = errors.New("roster: plan limit reached")
)

// Limited resources, as named by the platform plan limits.
const (
	ResourceStudents    = "students"
	ResourceInstructors = "instructors"
	ResourceDisciplines = "disciplines"
	ResourceClasses     = "classes"
)

// Student is a person enrolled at an academy.
type Student struct {
	ID                   string    `json:"id"`
	AcademyID            string    `json:"academyId"`
	FullName             string    `json:"fullName"`
	BirthDate            time.Time `json:"birthDate"`
	TaxID                string    `json:"taxId,omitempty"`
	Contact              string    `json:"contact"`
	GuardianName         string    `json:"guardianName,omitempty"`
	GuardianContact      string    `json:"guardianContact,omitempty"`
	MedicalNotes         string    `json:"medicalNotes,omitempty"`
	Active               bool      `json:"active"`
	EnrolledOn           time.Time `json:"enrolledOn"`
	DueDay               *int      `json:"dueDay,omitempty"`
	ReceiveNotifications bool      `json:"receiveNotifications"`
	CreatedAt            time.Time `json:"createdAt"`
}

// FirstName is the first word of the student's name, used in messages.
func (s *Student) FirstName() string {
	if f := strings.Fields(s.FullName); len(f) > 0 {
		return f[0]
	}
	return s.FullName
}

// Instructor teaches classes and runs exams.
type Instructor struct {
	ID        string `json:"id"`
	AcademyID string `json:"academyId"`
	FullName  string `json:"fullName"`
	Contact   string `json:"contact,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Discipline is a martial art offered by an academy.
type Discipline struct {
	ID          string `json:"id"`
	AcademyID   string `json:"academyId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Schedule is a weekly time slot of a class. Start and End are "HH:MM".
type Schedule struct {
	ID       string         `json:"id"`
	ClassID  string         `json:"classId"`
	Weekdays []time.Weekday `json:"weekdays"`
	Start    string         `json:"start"`
	End      string         `json:"end"`
}

// Class groups students of one discipline under an optional instructor.
type Class struct {
	ID           string     `json:"id"`
	AcademyID    string     `json:"academyId"`
	DisciplineID string     `json:"disciplineId"`
	InstructorID *string    `json:"instructorId,omitempty"`
	StudentIDs   []string   `json:"studentIds"`
	Capacity     *int       `json:"capacity,omitempty"`
	Active       bool       `json:"active"`
	Schedules    []Schedule `json:"schedules"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Counts is the number of limited resources an academy holds.
type Counts struct {
	Students    int `json:"students"`
	Instructors int `json:"instructors"`
	Disciplines int `json:"disciplines"`
	Classes     int `json:"classes"`
}

// Of returns the count for a resource name.
func (c Counts) Of(resource string) int {
	switch resource {
	case ResourceStudents:
		return c.Students
	case ResourceInstructors:
		return c.Instructors
	case ResourceDisciplines:
		return c.Disciplines
	case ResourceClasses:
		return c.Classes
	}
	return 0
}

// ReferenceChecker reports references to disciplines held outside this
// package (ranks and exams).
type ReferenceChecker interface {
	DisciplineInUse(ctx context.Context, academyID, disciplineID string) (bool, error)
}

// LimitChecker enforces plan limits before a resource is created.
type LimitChecker interface {
	CheckLimit(ctx context.Context, academyID, resource string, current int) error
}
