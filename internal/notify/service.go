package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/idgen"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/metrics"
	"github.com/mbd888/dojo/internal/pagination"
	"github.com/mbd888/dojo/internal/ranks"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/traces"
	"github.com/mbd888/dojo/internal/validation"
)

// notConfigured is the gateway response stored when no gateway URL is set.
const notConfigured = "gateway not configured"

// Academies resolves the academy a message is sent on behalf of.
type Academies interface {
	Get(ctx context.Context, id string) (*tenant.Academy, error)
}

// Roster is the part of the roster notify reads.
type Roster interface {
	GetStudent(ctx context.Context, academyID, id string) (*roster.Student, error)
}

// Sessions manages an academy's WhatsApp session on the gateway.
// HTTPGateway implements it.
type Sessions interface {
	Connect(ctx context.Context, academyID string) error
	Status(ctx context.Context, academyID string) (*SessionStatus, error)
	Disconnect(ctx context.Context, academyID string) error
}

// MessageInput is a free-form message to one student.
type MessageInput struct {
	Body string `json:"body" validate:"required,max=2000"`
}

// ListPage is one page of the message log.
type ListPage struct {
	Messages []*MessageLog  `json:"messages"`
	Page     pagination.Page `json:"page"`
}

// Service sends messages and keeps the message log.
type Service struct {
	store     Store
	gateway   Gateway
	academies Academies
	roster    Roster
	clock     clock.Clock
	loc       *time.Location
}

// NewService creates a notification service. A nil gateway is valid: every
// send is then logged as failed with "gateway not configured".
func NewService(store Store, gw Gateway, academies Academies, r Roster, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, gateway: gw, academies: academies, roster: r, clock: clk, loc: time.UTC}
}

// WithLocation sets the zone used for exam times and report date bounds.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// Configured reports whether a gateway is wired.
func (s *Service) Configured() bool { return s.gateway != nil }

// Send delivers body to number and writes exactly one log row describing
// the outcome. Gateway failures are recorded, not returned; the error is
// non-nil only when the log itself cannot be written.
func (s *Service) Send(ctx context.Context, academyID string, studentID *string, number, body string, typ MessageType) (*MessageLog, error) {
	if !typ.Valid() {
		typ = TypeOther
	}
	ctx, span := traces.StartSpan(ctx, "notify.send", traces.AcademyID(academyID), traces.MessageType(string(typ)))

	entry := &MessageLog{
		ID:        idgen.WithPrefix("msg_"),
		AcademyID: academyID,
		StudentID: studentID,
		Type:      typ,
		Body:      body,
		SentAt:    s.clock.Now().UTC(),
	}

	var result string
	var sendErr error
	if s.gateway == nil {
		entry.GatewayResponse = notConfigured
		result = "not_configured"
	} else {
		res, err := s.gateway.Send(ctx, academyID, number, body)
		switch {
		case err != nil:
			sendErr = err
			entry.GatewayResponse = err.Error()
			result = "error"
		case res.Success:
			entry.Success = true
			entry.GatewayResponse = res.Raw
			result = "success"
		default:
			entry.GatewayResponse = res.Raw
			result = "rejected"
		}
	}
	metrics.NotificationsTotal.WithLabelValues(string(typ), result).Inc()
	if !entry.Success {
		logging.L(ctx).Warn("message not delivered",
			"academy_id", academyID, "type", typ, "result", result, "response", entry.GatewayResponse)
	}

	if err := s.store.Create(ctx, entry); err != nil {
		err = fmt.Errorf("notify: write message log: %w", err)
		traces.End(span, err)
		return nil, err
	}
	traces.End(span, sendErr)
	return entry, nil
}

// SendToStudent sends a free-form message to one of the academy's students.
func (s *Service) SendToStudent(ctx context.Context, academyID, studentID string, in MessageInput) (*MessageLog, error) {
	in.Body = strings.TrimSpace(in.Body)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	st, err := s.roster.GetStudent(ctx, academyID, studentID)
	if err != nil {
		return nil, err
	}
	if !Eligible(st) {
		return nil, ErrNotEligible
	}
	return s.Send(ctx, academyID, &st.ID, st.Contact, in.Body, TypeOther)
}

// toStudent sends body when the student is eligible. Returns false without
// logging anything when they are not.
func (s *Service) toStudent(ctx context.Context, academyID string, st *roster.Student, body string, typ MessageType) (bool, error) {
	if !Eligible(st) {
		return false, nil
	}
	id := st.ID
	if _, err := s.Send(ctx, academyID, &id, st.Contact, body, typ); err != nil {
		return false, err
	}
	return true, nil
}

// NotifyOverdue reminds a student of an open invoice when the academy has
// overdue reminders enabled.
func (s *Service) NotifyOverdue(ctx context.Context, academy *tenant.Academy, st *roster.Student) (bool, error) {
	if !academy.Settings.NotifyOverdue {
		return false, nil
	}
	return s.toStudent(ctx, academy.ID, st, OverdueMessage(academy.Name, st.FirstName()), TypeOverdue)
}

// NotifyAbsence nudges a student with low attendance.
func (s *Service) NotifyAbsence(ctx context.Context, academy *tenant.Academy, st *roster.Student) (bool, error) {
	if !academy.Settings.NotifyAbsence {
		return false, nil
	}
	return s.toStudent(ctx, academy.ID, st, LowAttendanceMessage(academy.Name, st.FirstName()), TypeLowAttendance)
}

// NotifyWelcome greets a newly enrolled student. A student who already got a
// welcome is skipped, so daily sweeps over the enrolment window send it once.
func (s *Service) NotifyWelcome(ctx context.Context, academy *tenant.Academy, st *roster.Student) (bool, error) {
	if !academy.Settings.NotifyWelcome || !Eligible(st) {
		return false, nil
	}
	done, err := s.store.Delivered(ctx, academy.ID, st.ID, TypeWelcome)
	if err != nil || done {
		return false, err
	}
	return s.toStudent(ctx, academy.ID, st, WelcomeMessage(academy.Name, st.FirstName()), TypeWelcome)
}

// graduation loads the academy and reports whether graduation notices are on.
func (s *Service) graduation(ctx context.Context, academyID string) (*tenant.Academy, bool) {
	academy, err := s.academies.Get(ctx, academyID)
	if err != nil {
		logging.L(ctx).Error("graduation notice: load academy", "academy_id", academyID, "error", err)
		return nil, false
	}
	return academy, academy.Settings.NotifyGraduation
}

func (s *Service) logFailure(ctx context.Context, academyID string, typ MessageType, err error) {
	if err != nil {
		logging.L(ctx).Error("graduation notice failed", "academy_id", academyID, "type", typ, "error", err)
	}
}

// ExamInvite implements ranks.Notifier.
func (s *Service) ExamInvite(ctx context.Context, academyID string, st *roster.Student, exam *ranks.Exam, target *ranks.Rank, discipline string) {
	if _, ok := s.graduation(ctx, academyID); !ok {
		return
	}
	body := ExamInviteMessage(st.FirstName(), target.Name, discipline, exam.ScheduledAt.In(s.loc))
	_, err := s.toStudent(ctx, academyID, st, body, TypeExamInvite)
	s.logFailure(ctx, academyID, TypeExamInvite, err)
}

// ExamPassed implements ranks.Notifier.
func (s *Service) ExamPassed(ctx context.Context, academyID string, st *roster.Student, rank *ranks.Rank) {
	academy, ok := s.graduation(ctx, academyID)
	if !ok {
		return
	}
	_, err := s.toStudent(ctx, academyID, st, ExamPassedMessage(academy.Name, st.FirstName(), rank.Name), TypeExamPassed)
	s.logFailure(ctx, academyID, TypeExamPassed, err)
}

// ExamFailed implements ranks.Notifier.
func (s *Service) ExamFailed(ctx context.Context, academyID string, st *roster.Student, feedback string) {
	if _, ok := s.graduation(ctx, academyID); !ok {
		return
	}
	_, err := s.toStudent(ctx, academyID, st, ExamFailedMessage(st.FirstName(), feedback), TypeExamFailed)
	s.logFailure(ctx, academyID, TypeExamFailed, err)
}

// ListQuery carries the raw report parameters.
type ListQuery struct {
	Query  string
	Type   string
	From   *time.Time
	To     *time.Time
	Cursor string
	Limit  string
}

// List returns one page of the message log, newest first. From and To are
// calendar dates in the service location, both inclusive.
func (s *Service) List(ctx context.Context, academyID string, q ListQuery) (*ListPage, error) {
	cursor, err := pagination.Decode(q.Cursor)
	if err != nil {
		return nil, err
	}
	typ := MessageType(q.Type)
	if typ != "" && !typ.Valid() {
		return nil, validation.ValidationErrors{{Field: "type", Message: "unknown message type"}}
	}
	f := Filter{
		Query:  strings.TrimSpace(q.Query),
		Type:   typ,
		Cursor: cursor,
		Limit:  pagination.Limit(q.Limit),
	}
	if q.From != nil {
		f.Since = time.Date(q.From.Year(), q.From.Month(), q.From.Day(), 0, 0, 0, 0, s.loc)
	}
	if q.To != nil {
		f.Until = time.Date(q.To.Year(), q.To.Month(), q.To.Day()+1, 0, 0, 0, 0, s.loc)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return nil, validation.ValidationErrors{{Field: "from", Message: "must not be after to"}}
	}

	rows, err := s.store.List(ctx, academyID, f)
	if err != nil {
		return nil, err
	}
	items, page := pagination.ComputePage(rows, f.Limit, func(m *MessageLog) (time.Time, string) {
		return m.SentAt, m.ID
	})
	if items == nil {
		items = []*MessageLog{}
	}
	return &ListPage{Messages: items, Page: page}, nil
}

// Get returns one log row.
func (s *Service) Get(ctx context.Context, academyID, id string) (*MessageLog, error) {
	return s.store.Get(ctx, academyID, id)
}

// Sessions returns the gateway's session manager, or nil when the gateway
// does not support one.
func (s *Service) Sessions() Sessions {
	if sm, ok := s.gateway.(Sessions); ok {
		return sm
	}
	return nil
}

var _ ranks.Notifier = (*Service)(nil)
