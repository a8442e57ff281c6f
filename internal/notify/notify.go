// Package notify sends WhatsApp messages to students through the academy's
// gateway and keeps a log row for every attempt.
package notify

import (
	"errors"
	"time"

	"github.com/mbd888/dojo/internal/pagination"
	"github.com/mbd888/dojo/internal/roster"
)

var (
	ErrNotFound             = errors.New("notify: message log not found")
	ErrGatewayNotConfigured = errors.New("notify: gateway not configured")
	ErrGatewayStatus        = errors.New("notify: gateway returned an error status")
	ErrNotEligible          = errors.New("notify: student has no contact or opted out")
)

// MessageType classifies a logged message.
type MessageType string

const (
	TypeWelcome       MessageType = "welcome"
	TypeOverdue       MessageType = "overdue"
	TypeLowAttendance MessageType = "low_attendance"
	TypeExamInvite    MessageType = "exam_invite"
	TypeExamPassed    MessageType = "exam_passed"
	TypeExamFailed    MessageType = "exam_failed"
	TypeOther         MessageType = "other"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeWelcome, TypeOverdue, TypeLowAttendance, TypeExamInvite,
		TypeExamPassed, TypeExamFailed, TypeOther:
		return true
	}
	return false
}

// MessageLog records one delivery attempt.
type MessageLog struct {
	ID              string      `json:"id"`
	AcademyID       string      `json:"academyId"`
	StudentID       *string     `json:"studentId,omitempty"`
	Type            MessageType `json:"type"`
	Body            string      `json:"body"`
	SentAt          time.Time   `json:"sentAt"`
	Success         bool        `json:"success"`
	GatewayResponse string      `json:"gatewayResponse"`
}

// Filter narrows a message log listing. Since is inclusive and Until
// exclusive; zero values leave the bound open.
type Filter struct {
	Query  string
	Type   MessageType
	Since  time.Time
	Until  time.Time
	Cursor *pagination.Cursor
	Limit  int
}

// Eligible reports whether a student can receive messages: a contact number
// is on file and the student has not opted out.
func Eligible(st *roster.Student) bool {
	return st != nil && st.Contact != "" && st.ReceiveNotifications
}
