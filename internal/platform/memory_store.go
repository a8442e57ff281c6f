package platform

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory platform store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	plans         map[string]*Plan
	subscriptions map[string]*Subscription
	payments      []*Payment
	events        []*Event
	webhookEvents map[string]time.Time
}

// NewMemoryStore creates an empty platform store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:         make(map[string]*Plan),
		subscriptions: make(map[string]*Subscription),
		webhookEvents: make(map[string]time.Time),
	}
}

func copySubscription(s *Subscription) *Subscription {
	cp := *s
	if s.TrialEndsAt != nil {
		t := *s.TrialEndsAt
		cp.TrialEndsAt = &t
	}
	if s.NextDueAt != nil {
		t := *s.NextDueAt
		cp.NextDueAt = &t
	}
	return &cp
}

// --- plans ---

func (m *MemoryStore) CreatePlanIfAbsent(_ context.Context, p *Plan) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.plans {
		if existing.Slug == p.Slug {
			return false, nil
		}
	}
	cp := *p
	m.plans[p.ID] = &cp
	return true, nil
}

func (m *MemoryStore) GetPlan(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetPlanBySlug(_ context.Context, slug string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.plans {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPlanNotFound
}

func (m *MemoryStore) ListPlans(_ context.Context, activeOnly bool) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Plan
	for _, p := range m.plans {
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// --- subscriptions ---

func (m *MemoryStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscriptions {
		if s.AcademyID == sub.AcademyID {
			return ErrSubscriptionExists
		}
	}
	m.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

func (m *MemoryStore) UpdateSubscription(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	m.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return copySubscription(s), nil
}

func (m *MemoryStore) find(match func(*Subscription) bool) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subscriptions {
		if match(s) {
			return copySubscription(s), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) GetSubscriptionByAcademy(_ context.Context, academyID string) (*Subscription, error) {
	return m.find(func(s *Subscription) bool { return s.AcademyID == academyID })
}

func (m *MemoryStore) GetSubscriptionByStripeID(_ context.Context, stripeSubscriptionID string) (*Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}
	return m.find(func(s *Subscription) bool { return s.StripeSubscriptionID == stripeSubscriptionID })
}

func (m *MemoryStore) ListSubscriptions(_ context.Context, f SubscriptionFilter) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subscriptions {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.PlanID != "" && s.PlanID != f.PlanID {
			continue
		}
		out = append(out, copySubscription(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// --- payments ---

func (m *MemoryStore) CreatePayment(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments = append(m.payments, &cp)
	return nil
}

func (m *MemoryStore) PaymentExists(_ context.Context, externalID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if externalID == "" {
		return false, nil
	}
	for _, p := range m.payments {
		if p.ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ClaimWebhookEvent(_ context.Context, eventID, _ string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhookEvents[eventID]; ok {
		return false, nil
	}
	m.webhookEvents[eventID] = at
	return true, nil
}

func (m *MemoryStore) ReleaseWebhookEvent(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.webhookEvents, eventID)
	return nil
}

func (m *MemoryStore) ListPayments(_ context.Context, subscriptionID string) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Payment
	for i := len(m.payments) - 1; i >= 0; i-- {
		if p := m.payments[i]; p.SubscriptionID == subscriptionID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- events ---

func (m *MemoryStore) CreateEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.Data = maps.Clone(e.Data)
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, subscriptionID string, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Event
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if subscriptionID != "" && e.SubscriptionID != subscriptionID {
			continue
		}
		cp := *e
		cp.Data = maps.Clone(e.Data)
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
