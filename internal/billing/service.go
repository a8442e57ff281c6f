package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/idgen"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/metrics"
	"github.com/mbd888/dojo/internal/realtime"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/syncutil"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
	"github.com/shopspring/decimal"
)

// Roster is the part of the roster billing reads.
type Roster interface {
	GetStudent(ctx context.Context, academyID, id string) (*roster.Student, error)
	ListStudents(ctx context.Context, academyID string, f roster.StudentFilter) ([]*roster.Student, error)
}

// Publisher pushes events to an academy's live board.
type Publisher interface {
	Publish(academyID string, t realtime.EventType, data map[string]any)
}

// PlanInput is the editable part of a plan.
type PlanInput struct {
	AcademyID      string          `json:"-"`
	Name           string          `json:"name" validate:"required,max=100"`
	Price          decimal.Decimal `json:"price"`
	DurationMonths int             `json:"durationMonths" validate:"min=1,max=120"`
	Description    string          `json:"description" validate:"max=2000"`
}

// Service implements the billing lifecycle.
type Service struct {
	store  Store
	roster Roster
	clock  clock.Clock
	pub    Publisher
	starts *syncutil.KeyedMutex
}

// NewService creates a billing service.
func NewService(store Store, r Roster, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, roster: r, clock: clk, starts: syncutil.NewKeyedMutex()}
}

// WithPublisher broadcasts payments to the live board.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.pub = p
	return s
}

func (s *Service) today() time.Time {
	return clock.Today(s.clock)
}

// --- plans ---

func (s *Service) applyPlan(p *Plan, in PlanInput) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if in.Price.IsNegative() {
		return ErrInvalidAmount
	}
	p.Name = validation.SanitizeString(in.Name, 100)
	p.Price = in.Price.Round(2)
	p.DurationMonths = in.DurationMonths
	p.Description = validation.SanitizeString(in.Description, 2000)
	return nil
}

func (s *Service) CreatePlan(ctx context.Context, in PlanInput) (*Plan, error) {
	if err := tenant.Stamp(ctx, &in.AcademyID); err != nil {
		return nil, err
	}
	p := &Plan{ID: idgen.WithPrefix("pln_"), AcademyID: in.AcademyID}
	if err := s.applyPlan(p, in); err != nil {
		return nil, err
	}
	if err := s.store.CreatePlan(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) UpdatePlan(ctx context.Context, academyID, id string, in PlanInput) (*Plan, error) {
	p, err := s.store.GetPlan(ctx, academyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyPlan(p, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePlan(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPlan(ctx context.Context, academyID, id string) (*Plan, error) {
	return s.store.GetPlan(ctx, academyID, id)
}

// DeletePlan fails with ErrProtected while any subscription uses the plan.
func (s *Service) DeletePlan(ctx context.Context, academyID, id string) error {
	return s.store.DeletePlan(ctx, academyID, id)
}

func (s *Service) ListPlans(ctx context.Context, academyID string) ([]*Plan, error) {
	return s.store.ListPlans(ctx, academyID)
}

// --- subscriptions ---

// StartSubscription replaces the student's active subscription with a new
// one on planID starting at start (today when zero). When the student has a
// due day the first invoice is created with it.
func (s *Service) StartSubscription(ctx context.Context, academyID, studentID, planID string, start time.Time) (*Subscription, *Invoice, error) {
	unlock, err := s.starts.LockContext(ctx, academyID+"/"+studentID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	st, err := s.roster.GetStudent(ctx, academyID, studentID)
	if err != nil {
		return nil, nil, err
	}
	plan, err := s.store.GetPlan(ctx, academyID, planID)
	if err != nil {
		return nil, nil, err
	}
	today := s.today()
	if start.IsZero() {
		start = today
	}
	sub := &Subscription{
		ID:        idgen.WithPrefix("sub_"),
		AcademyID: academyID,
		StudentID: st.ID,
		PlanID:    plan.ID,
		StartDate: clock.DateOf(start),
		Status:    StatusActive,
		CreatedAt: s.clock.Now(),
	}
	var first *Invoice
	if st.DueDay != nil {
		first = &Invoice{
			ID:             idgen.WithPrefix("inv_"),
			AcademyID:      academyID,
			SubscriptionID: sub.ID,
			Amount:         plan.Price,
			DueDate:        FirstDueDate(today, sub.StartDate, *st.DueDay),
			CreatedAt:      s.clock.Now(),
		}
	}
	if err := s.store.StartSubscription(ctx, sub, first); err != nil {
		return nil, nil, err
	}
	if first != nil {
		metrics.InvoicesGeneratedTotal.WithLabelValues("first").Inc()
	}
	logging.L(ctx).Info("subscription started", "student_id", st.ID, "plan_id", plan.ID, "first_invoice", first != nil)
	return sub, first, nil
}

func (s *Service) GetSubscription(ctx context.Context, academyID, id string) (*Subscription, error) {
	return s.store.GetSubscription(ctx, academyID, id)
}

func (s *Service) ListSubscriptions(ctx context.Context, academyID string, f SubscriptionFilter) ([]*Subscription, error) {
	return s.store.ListSubscriptions(ctx, academyID, f)
}

func (s *Service) ActiveSubscription(ctx context.Context, academyID, studentID string) (*Subscription, error) {
	return s.store.ActiveSubscription(ctx, academyID, studentID)
}

// allowed lists the status changes a subscription may make.
var allowed = map[SubscriptionStatus][]SubscriptionStatus{
	StatusActive: {StatusFrozen, StatusCanceled},
	StatusFrozen: {StatusActive, StatusCanceled},
}

func (s *Service) transition(ctx context.Context, academyID, id string, to SubscriptionStatus) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, academyID, id)
	if err != nil {
		return nil, err
	}
	ok := false
	for _, next := range allowed[sub.Status] {
		if next == to {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, sub.Status, to)
	}
	if err := s.store.SetSubscriptionStatus(ctx, academyID, id, to); err != nil {
		return nil, err
	}
	sub.Status = to
	return sub, nil
}

func (s *Service) CancelSubscription(ctx context.Context, academyID, id string) (*Subscription, error) {
	return s.transition(ctx, academyID, id, StatusCanceled)
}

// FreezeSubscription pauses an active subscription; the generator skips it.
func (s *Service) FreezeSubscription(ctx context.Context, academyID, id string) (*Subscription, error) {
	return s.transition(ctx, academyID, id, StatusFrozen)
}

// ResumeSubscription reactivates a frozen subscription unless the student
// has since started another.
func (s *Service) ResumeSubscription(ctx context.Context, academyID, id string) (*Subscription, error) {
	return s.transition(ctx, academyID, id, StatusActive)
}

// --- invoices ---

func (s *Service) GetInvoice(ctx context.Context, academyID, id string) (*Invoice, error) {
	return s.store.GetInvoice(ctx, academyID, id)
}

// ListInvoices returns invoices with their status as of today.
func (s *Service) ListInvoices(ctx context.Context, academyID string, f InvoiceFilter) ([]InvoiceView, error) {
	invoices, err := s.store.ListInvoices(ctx, academyID, f)
	if err != nil {
		return nil, err
	}
	today := s.today()
	out := make([]InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, View(inv, today))
	}
	return out, nil
}

// RegisterPayment sets the invoice's payment date (today when zero). Paying
// again overwrites the date.
func (s *Service) RegisterPayment(ctx context.Context, academyID, id string, paidOn time.Time) (*Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, academyID, id)
	if err != nil {
		return nil, err
	}
	if paidOn.IsZero() {
		paidOn = s.today()
	}
	d := clock.DateOf(paidOn)
	inv.PaidDate = &d
	if err := s.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	metrics.InvoicePaymentsTotal.Inc()
	if s.pub != nil {
		s.pub.Publish(academyID, realtime.EventInvoicePaid, map[string]any{
			"invoiceId":      inv.ID,
			"subscriptionId": inv.SubscriptionID,
			"amount":         inv.Amount.StringFixed(2),
			"paidDate":       d.Format(clock.DateLayout),
		})
	}
	return inv, nil
}

// AdjustDueDate moves an invoice's due date.
func (s *Service) AdjustDueDate(ctx context.Context, academyID, id string, due time.Time) (*Invoice, error) {
	if due.IsZero() {
		return nil, validation.ValidationErrors{{Field: "dueDate", Message: "is required"}}
	}
	inv, err := s.store.GetInvoice(ctx, academyID, id)
	if err != nil {
		return nil, err
	}
	inv.DueDate = clock.DateOf(due)
	if err := s.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// GenerateDueInvoices creates the next invoice of every active subscription
// across all academies whose last invoice is paid and whose next due month
// has arrived. A failing academy is recorded and skipped; running it twice
// on the same day creates nothing new.
func (s *Service) GenerateDueInvoices(ctx context.Context, today time.Time) (*GenerationReport, error) {
	today = clock.DateOf(today)
	report := &GenerationReport{
		Date:     today,
		Skipped:  make(map[SkipReason]int),
		Failures: make(map[string]string),
	}
	subs, err := s.store.ListActiveSubscriptionsAllAcademies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}

	plans := make(map[string]*Plan)
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, failed := report.Failures[sub.AcademyID]; failed {
			continue
		}
		report.Checked++
		inv, reason, err := s.generateOne(ctx, sub, today, plans)
		switch {
		case err != nil:
			report.Failures[sub.AcademyID] = err.Error()
			logging.L(ctx).Error("invoice generation failed", "academy_id", sub.AcademyID, "subscription_id", sub.ID, "error", err)
		case inv != nil:
			report.Created++
			report.Invoices = append(report.Invoices, inv)
			metrics.InvoicesGeneratedTotal.WithLabelValues("recurring").Inc()
		default:
			report.Skipped[reason]++
			if reason == SkipNoInvoice {
				logging.L(ctx).Warn("active subscription has no invoice", "academy_id", sub.AcademyID, "subscription_id", sub.ID)
			}
		}
	}
	return report, nil
}

func (s *Service) generateOne(ctx context.Context, sub *Subscription, today time.Time, plans map[string]*Plan) (*Invoice, SkipReason, error) {
	last, err := s.store.LatestInvoice(ctx, sub.AcademyID, sub.ID)
	if errors.Is(err, ErrInvoiceNotFound) {
		return nil, SkipNoInvoice, nil
	}
	if err != nil {
		return nil, "", err
	}
	if last.PaidDate == nil {
		return nil, SkipUnpaid, nil
	}
	plan, ok := plans[sub.PlanID]
	if !ok {
		if plan, err = s.store.GetPlan(ctx, sub.AcademyID, sub.PlanID); err != nil {
			return nil, "", err
		}
		plans[sub.PlanID] = plan
	}
	next := NextDueDate(last.DueDate, plan.DurationMonths)
	if !dueThisMonth(today, next) {
		return nil, SkipTooEarly, nil
	}
	inv := &Invoice{
		ID:             idgen.WithPrefix("inv_"),
		AcademyID:      sub.AcademyID,
		SubscriptionID: sub.ID,
		Amount:         plan.Price,
		DueDate:        next,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		if errors.Is(err, ErrDuplicateInvoice) {
			return nil, SkipExists, nil
		}
		return nil, "", err
	}
	return inv, "", nil
}

// --- reports ---

// FinancialReport lists invoices due between from and to (default: this
// month so far), optionally narrowed to a status and a plan, with totals
// received and receivable.
func (s *Service) FinancialReport(ctx context.Context, academyID string, from, to time.Time, status InvoiceStatus, planID string) (*FinancialReport, error) {
	today := s.today()
	if to.IsZero() {
		to = today
	}
	if from.IsZero() {
		from = clock.Date(today.Year(), today.Month(), 1)
	}
	if from.After(to) {
		return nil, ErrInvalidRange
	}
	f := InvoiceFilter{DueFrom: from, DueTo: to, PlanID: planID}
	switch status {
	case InvoicePaid:
		paid := true
		f.Paid = &paid
	case InvoiceOverdue, InvoicePending:
		unpaid := false
		f.Paid = &unpaid
	case "":
	default:
		return nil, validation.ValidationErrors{{Field: "status", Message: "must be one of: paid overdue pending"}}
	}
	invoices, err := s.store.ListInvoices(ctx, academyID, f)
	if err != nil {
		return nil, err
	}
	report := &FinancialReport{
		From: from, To: to, Status: status, PlanID: planID,
		Invoices:   []InvoiceView{},
		Received:   decimal.Zero,
		Receivable: decimal.Zero,
	}
	for _, inv := range invoices {
		v := View(inv, today)
		if status != "" && v.Status != status {
			continue
		}
		report.Invoices = append(report.Invoices, v)
		if inv.PaidDate != nil {
			report.Received = report.Received.Add(inv.Amount)
		} else {
			report.Receivable = report.Receivable.Add(inv.Amount)
		}
	}
	report.Total = report.Received.Add(report.Receivable)
	return report, nil
}

// Board returns the billing standing of every active student.
func (s *Service) Board(ctx context.Context, academyID string) ([]StudentFinance, error) {
	active := true
	students, err := s.roster.ListStudents(ctx, academyID, roster.StudentFilter{Active: &active})
	if err != nil {
		return nil, err
	}
	today := s.today()
	unpaid := false
	out := make([]StudentFinance, 0, len(students))
	for _, st := range students {
		row := StudentFinance{StudentID: st.ID, StudentName: st.FullName, Status: FinanceNoPlan, Pending: []InvoiceView{}}
		sub, err := s.store.ActiveSubscription(ctx, academyID, st.ID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			out = append(out, row)
			continue
		}
		if err != nil {
			return nil, err
		}
		row.Subscription = sub
		invoices, err := s.store.ListInvoices(ctx, academyID, InvoiceFilter{SubscriptionID: sub.ID, Paid: &unpaid})
		if err != nil {
			return nil, err
		}
		row.Status = FinanceUpToDate
		for _, inv := range invoices {
			v := View(inv, today)
			row.Pending = append(row.Pending, v)
			if v.Status == InvoiceOverdue {
				row.Status = FinanceOverdue
			} else if row.Status != FinanceOverdue {
				row.Status = FinancePending
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// Revenue sums payments received between from and to.
func (s *Service) Revenue(ctx context.Context, academyID string, from, to time.Time) (decimal.Decimal, error) {
	paid := true
	invoices, err := s.store.ListInvoices(ctx, academyID, InvoiceFilter{Paid: &paid, PaidFrom: from, PaidTo: to})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, inv := range invoices {
		total = total.Add(inv.Amount)
	}
	return total, nil
}

// PaymentHistory lists invoices paid between from and to.
func (s *Service) PaymentHistory(ctx context.Context, academyID string, from, to time.Time) ([]*Invoice, error) {
	paid := true
	invoices, err := s.store.ListInvoices(ctx, academyID, InvoiceFilter{Paid: &paid, PaidFrom: from, PaidTo: to})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(invoices, func(i, j int) bool { return invoices[i].PaidDate.After(*invoices[j].PaidDate) })
	return invoices, nil
}

// OverdueInvoices lists unpaid invoices due before today.
func (s *Service) OverdueInvoices(ctx context.Context, academyID string, today time.Time) ([]*Invoice, error) {
	unpaid := false
	return s.store.ListInvoices(ctx, academyID, InvoiceFilter{Paid: &unpaid, DueTo: clock.DateOf(today).AddDate(0, 0, -1)})
}

// OverdueTotal sums OverdueInvoices.
func (s *Service) OverdueTotal(ctx context.Context, academyID string, today time.Time) (decimal.Decimal, error) {
	invoices, err := s.OverdueInvoices(ctx, academyID, today)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, inv := range invoices {
		total = total.Add(inv.Amount)
	}
	return total, nil
}

// OverdueStudent is an active student with overdue invoices.
type OverdueStudent struct {
	Student   *roster.Student `json:"student"`
	Amount    decimal.Decimal `json:"amount"`
	Invoices  int             `json:"invoices"`
	OldestDue time.Time       `json:"oldestDue"`
}

// OverdueStudents groups overdue invoices by active student, largest debt
// first.
func (s *Service) OverdueStudents(ctx context.Context, academyID string, today time.Time) ([]OverdueStudent, error) {
	invoices, err := s.OverdueInvoices(ctx, academyID, today)
	if err != nil {
		return nil, err
	}
	subs := make(map[string]*Subscription)
	byStudent := make(map[string]*OverdueStudent)
	var order []string
	for _, inv := range invoices {
		sub, ok := subs[inv.SubscriptionID]
		if !ok {
			if sub, err = s.store.GetSubscription(ctx, academyID, inv.SubscriptionID); err != nil {
				return nil, err
			}
			subs[inv.SubscriptionID] = sub
		}
		row, ok := byStudent[sub.StudentID]
		if !ok {
			st, err := s.roster.GetStudent(ctx, academyID, sub.StudentID)
			if errors.Is(err, roster.ErrStudentNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if !st.Active {
				continue
			}
			row = &OverdueStudent{Student: st, Amount: decimal.Zero, OldestDue: inv.DueDate}
			byStudent[sub.StudentID] = row
			order = append(order, sub.StudentID)
		}
		row.Amount = row.Amount.Add(inv.Amount)
		row.Invoices++
		if inv.DueDate.Before(row.OldestDue) {
			row.OldestDue = inv.DueDate
		}
	}
	out := make([]OverdueStudent, 0, len(order))
	for _, id := range order {
		out = append(out, *byStudent[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount.GreaterThan(out[j].Amount) })
	return out, nil
}

// NewSubscriptions counts subscriptions that started between from and to.
func (s *Service) NewSubscriptions(ctx context.Context, academyID string, from, to time.Time) (int, error) {
	subs, err := s.store.ListSubscriptions(ctx, academyID, SubscriptionFilter{StartFrom: from, StartTo: to})
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

// StudentsWithoutPlan lists active students with no active subscription.
func (s *Service) StudentsWithoutPlan(ctx context.Context, academyID string) ([]*roster.Student, error) {
	active := true
	students, err := s.roster.ListStudents(ctx, academyID, roster.StudentFilter{Active: &active})
	if err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubscriptions(ctx, academyID, SubscriptionFilter{Status: StatusActive})
	if err != nil {
		return nil, err
	}
	withPlan := make(map[string]bool, len(subs))
	for _, sub := range subs {
		withPlan[sub.StudentID] = true
	}
	var out []*roster.Student
	for _, st := range students {
		if !withPlan[st.ID] {
			out = append(out, st)
		}
	}
	return out, nil
}
