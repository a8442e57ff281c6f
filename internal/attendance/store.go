package attendance

import (
	"context"
	"time"
)

// Store persists attendance and non-teaching days. Every method is scoped
// by academy.
type Store interface {
	// GetOrCreate inserts a unless the student already has a mark on that
	// date, in which case the existing mark is returned with created=false.
	GetOrCreate(ctx context.Context, a *Attendance) (existing *Attendance, created bool, err error)
	Get(ctx context.Context, academyID, id string) (*Attendance, error)
	Delete(ctx context.Context, academyID, id string) error
	// List returns marks newest first.
	List(ctx context.Context, academyID string, f Filter) ([]*Attendance, error)
	CountSince(ctx context.Context, academyID, studentID string, since time.Time) (int, error)
	// LastAttendance returns nil when the student was never marked.
	LastAttendance(ctx context.Context, academyID, studentID string) (*time.Time, error)
	// CountByStudent counts marks in [from, to], optionally for one class.
	CountByStudent(ctx context.Context, academyID string, from, to time.Time, classID string) (map[string]int, error)

	CreateDay(ctx context.Context, d *NonTeachingDay) error
	DeleteDay(ctx context.Context, academyID, id string) error
	ListDays(ctx context.Context, academyID string) ([]*NonTeachingDay, error)
}
