// Package attendance records class check-ins and the days an academy does
// not teach.
package attendance

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("attendance: record not found")
	ErrDayNotFound  = errors.New("attendance: non-teaching day not found")
	ErrDuplicateDay = errors.New("attendance: non-teaching day already registered")
	ErrInvalidRange = errors.New("attendance: start date is after end date")
	ErrFutureDate   = errors.New("attendance: cannot mark attendance in the future")
)

// Attendance marks a student present on a date. A student has at most one
// mark per day regardless of class.
type Attendance struct {
	ID        string    `json:"id"`
	AcademyID string    `json:"academyId"`
	StudentID string    `json:"studentId"`
	ClassID   *string   `json:"classId,omitempty"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"createdAt"`
}

// NonTeachingDay is a holiday or closure. One per academy and date.
type NonTeachingDay struct {
	ID          string    `json:"id"`
	AcademyID   string    `json:"academyId"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

// Filter narrows List. Zero dates are open bounds.
type Filter struct {
	From      time.Time
	To        time.Time
	StudentID string
	ClassID   string
}

// FrequencyRow is one student's attendance count in a report.
type FrequencyRow struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	Count       int    `json:"count"`
}

// FrequencyReport counts active students' attendance in a date range,
// least frequent first.
type FrequencyReport struct {
	From    time.Time      `json:"from"`
	To      time.Time      `json:"to"`
	ClassID string         `json:"classId,omitempty"`
	Rows    []FrequencyRow `json:"rows"`
	Total   int            `json:"total"`
}

// RollCallEntry is an active student and whether they are marked for the day.
type RollCallEntry struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	Present     bool   `json:"present"`
}
