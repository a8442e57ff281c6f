package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory billing store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	plans         map[string]*Plan
	subscriptions map[string]*Subscription
	invoices      map[string]*Invoice
}

// NewMemoryStore creates an empty billing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:         make(map[string]*Plan),
		subscriptions: make(map[string]*Subscription),
		invoices:      make(map[string]*Invoice),
	}
}

func copyInvoice(inv *Invoice) *Invoice {
	cp := *inv
	if inv.PaidDate != nil {
		d := *inv.PaidDate
		cp.PaidDate = &d
	}
	return &cp
}

// --- plans ---

func (m *MemoryStore) CreatePlan(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPlan(_ context.Context, academyID, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok || p.AcademyID != academyID {
		return nil, ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdatePlan(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.plans[p.ID]
	if !ok || existing.AcademyID != p.AcademyID {
		return ErrPlanNotFound
	}
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *MemoryStore) DeletePlan(_ context.Context, academyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok || p.AcademyID != academyID {
		return ErrPlanNotFound
	}
	for _, s := range m.subscriptions {
		if s.PlanID == id {
			return ErrProtected
		}
	}
	delete(m.plans, id)
	return nil
}

func (m *MemoryStore) ListPlans(_ context.Context, academyID string) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Plan
	for _, p := range m.plans {
		if p.AcademyID == academyID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- subscriptions ---

func (m *MemoryStore) StartSubscription(_ context.Context, sub *Subscription, first *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscriptions {
		if s.StudentID == sub.StudentID && s.Status == StatusActive {
			s.Status = StatusCanceled
		}
	}
	cp := *sub
	m.subscriptions[sub.ID] = &cp
	if first != nil {
		m.invoices[first.ID] = copyInvoice(first)
	}
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, academyID, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions[id]
	if !ok || s.AcademyID != academyID {
		return nil, ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SetSubscriptionStatus(_ context.Context, academyID, id string, status SubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok || s.AcademyID != academyID {
		return ErrSubscriptionNotFound
	}
	if status == StatusActive {
		for _, other := range m.subscriptions {
			if other.ID != id && other.StudentID == s.StudentID && other.Status == StatusActive {
				return ErrAlreadyActive
			}
		}
	}
	s.Status = status
	return nil
}

func within(d, from, to time.Time) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && d.After(to) {
		return false
	}
	return true
}

func (m *MemoryStore) ListSubscriptions(_ context.Context, academyID string, f SubscriptionFilter) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subscriptions {
		if s.AcademyID != academyID || !within(s.StartDate, f.StartFrom, f.StartTo) {
			continue
		}
		if (f.StudentID != "" && s.StudentID != f.StudentID) ||
			(f.PlanID != "" && s.PlanID != f.PlanID) ||
			(f.Status != "" && s.Status != f.Status) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sortSubscriptions(out)
	return out, nil
}

// sortSubscriptions orders newest start first.
func sortSubscriptions(subs []*Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].StartDate.Equal(subs[j].StartDate) {
			return subs[i].StartDate.After(subs[j].StartDate)
		}
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
}

func (m *MemoryStore) ActiveSubscription(_ context.Context, academyID, studentID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subscriptions {
		if s.AcademyID == academyID && s.StudentID == studentID && s.Status == StatusActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) ListActiveSubscriptionsAllAcademies(_ context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subscriptions {
		if s.Status == StatusActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AcademyID != out[j].AcademyID {
			return out[i].AcademyID < out[j].AcademyID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- invoices ---

func (m *MemoryStore) CreateInvoice(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invoices {
		if existing.SubscriptionID == inv.SubscriptionID && existing.DueDate.Equal(inv.DueDate) {
			return ErrDuplicateInvoice
		}
	}
	m.invoices[inv.ID] = copyInvoice(inv)
	return nil
}

func (m *MemoryStore) GetInvoice(_ context.Context, academyID, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok || inv.AcademyID != academyID {
		return nil, ErrInvoiceNotFound
	}
	return copyInvoice(inv), nil
}

func (m *MemoryStore) UpdateInvoice(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.invoices[inv.ID]
	if !ok || existing.AcademyID != inv.AcademyID {
		return ErrInvoiceNotFound
	}
	for _, other := range m.invoices {
		if other.ID != inv.ID && other.SubscriptionID == inv.SubscriptionID && other.DueDate.Equal(inv.DueDate) {
			return ErrDuplicateInvoice
		}
	}
	m.invoices[inv.ID] = copyInvoice(inv)
	return nil
}

func (m *MemoryStore) LatestInvoice(_ context.Context, academyID, subscriptionID string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Invoice
	for _, inv := range m.invoices {
		if inv.AcademyID != academyID || inv.SubscriptionID != subscriptionID {
			continue
		}
		if latest == nil || inv.DueDate.After(latest.DueDate) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, ErrInvoiceNotFound
	}
	return copyInvoice(latest), nil
}

func (m *MemoryStore) ListInvoices(_ context.Context, academyID string, f InvoiceFilter) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Invoice
	for _, inv := range m.invoices {
		if inv.AcademyID != academyID || !within(inv.DueDate, f.DueFrom, f.DueTo) {
			continue
		}
		if f.SubscriptionID != "" && inv.SubscriptionID != f.SubscriptionID {
			continue
		}
		if f.Paid != nil && (inv.PaidDate != nil) != *f.Paid {
			continue
		}
		if !f.PaidFrom.IsZero() || !f.PaidTo.IsZero() {
			if inv.PaidDate == nil || !within(*inv.PaidDate, f.PaidFrom, f.PaidTo) {
				continue
			}
		}
		if f.StudentID != "" || f.PlanID != "" {
			sub, ok := m.subscriptions[inv.SubscriptionID]
			if !ok || (f.StudentID != "" && sub.StudentID != f.StudentID) || (f.PlanID != "" && sub.PlanID != f.PlanID) {
				continue
			}
		}
		out = append(out, copyInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
