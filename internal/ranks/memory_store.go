package ranks

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory ranks store for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	seq         int64
	ranks       map[string]*Rank
	history     map[string]*RankHistory
	exams       map[string]*Exam
	enrollments map[string]*Enrollment
}

// NewMemoryStore creates an empty ranks store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ranks:       make(map[string]*Rank),
		history:     make(map[string]*RankHistory),
		exams:       make(map[string]*Exam),
		enrollments: make(map[string]*Enrollment),
	}
}

func copyExam(e *Exam) *Exam {
	cp := *e
	if e.InstructorID != nil {
		id := *e.InstructorID
		cp.InstructorID = &id
	}
	return &cp
}

// --- ranks ---

func (m *MemoryStore) orderTaken(r *Rank) bool {
	for _, other := range m.ranks {
		if other.ID != r.ID && other.DisciplineID == r.DisciplineID && other.Order == r.Order {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateRank(_ context.Context, r *Rank) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orderTaken(r) {
		return ErrDuplicateOrder
	}
	cp := *r
	m.ranks[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRank(_ context.Context, academyID, id string) (*Rank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ranks[id]
	if !ok || r.AcademyID != academyID {
		return nil, ErrRankNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateRank(_ context.Context, r *Rank) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.ranks[r.ID]
	if !ok || existing.AcademyID != r.AcademyID {
		return ErrRankNotFound
	}
	if m.orderTaken(r) {
		return ErrDuplicateOrder
	}
	cp := *r
	m.ranks[r.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteRank(_ context.Context, academyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ranks[id]
	if !ok || r.AcademyID != academyID {
		return ErrRankNotFound
	}
	for _, h := range m.history {
		if h.RankID == id {
			return ErrProtected
		}
	}
	for _, e := range m.enrollments {
		if e.TargetRankID == id {
			return ErrProtected
		}
	}
	delete(m.ranks, id)
	return nil
}

func (m *MemoryStore) ListRanks(_ context.Context, academyID, disciplineID string) ([]*Rank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Rank
	for _, r := range m.ranks {
		if r.AcademyID != academyID || (disciplineID != "" && r.DisciplineID != disciplineID) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisciplineID != out[j].DisciplineID {
			return out[i].DisciplineID < out[j].DisciplineID
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

// --- history ---

func (m *MemoryStore) addHistory(h *RankHistory) {
	m.seq++
	h.Seq = m.seq
	cp := *h
	m.history[h.ID] = &cp
}

func (m *MemoryStore) AddHistory(_ context.Context, h *RankHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addHistory(h)
	return nil
}

func (m *MemoryStore) DeleteHistory(_ context.Context, academyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.history[id]
	if !ok || h.AcademyID != academyID {
		return ErrHistoryNotFound
	}
	delete(m.history, id)
	return nil
}

func (m *MemoryStore) ListHistory(_ context.Context, academyID, studentID string) ([]*RankHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*RankHistory
	for _, h := range m.history {
		if h.AcademyID != academyID || (studentID != "" && h.StudentID != studentID) {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PromotedOn.Equal(out[j].PromotedOn) {
			return out[i].PromotedOn.After(out[j].PromotedOn)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

// --- exams ---

func (m *MemoryStore) CreateExam(_ context.Context, e *Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = copyExam(e)
	return nil
}

func (m *MemoryStore) GetExam(_ context.Context, academyID, id string) (*Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok || e.AcademyID != academyID {
		return nil, ErrExamNotFound
	}
	return copyExam(e), nil
}

func (m *MemoryStore) UpdateExam(_ context.Context, e *Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.exams[e.ID]
	if !ok || existing.AcademyID != e.AcademyID {
		return ErrExamNotFound
	}
	m.exams[e.ID] = copyExam(e)
	return nil
}

func (m *MemoryStore) DeleteExam(_ context.Context, academyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok || e.AcademyID != academyID {
		return ErrExamNotFound
	}
	delete(m.exams, id)
	for eid, en := range m.enrollments {
		if en.ExamID == id {
			delete(m.enrollments, eid)
		}
	}
	return nil
}

func (m *MemoryStore) ListExams(_ context.Context, academyID string) ([]*Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Exam
	for _, e := range m.exams {
		if e.AcademyID == academyID {
			out = append(out, copyExam(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return out, nil
}

// --- enrollments ---

func (m *MemoryStore) GetOrCreateEnrollment(_ context.Context, e *Enrollment) (*Enrollment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.enrollments {
		if existing.ExamID == e.ExamID && existing.StudentID == e.StudentID {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *e
	m.enrollments[e.ID] = &cp
	out := *e
	return &out, true, nil
}

func (m *MemoryStore) GetEnrollment(_ context.Context, academyID, id string) (*Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[id]
	if !ok || e.AcademyID != academyID {
		return nil, ErrEnrollmentNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) UpdateEnrollment(_ context.Context, e *Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.enrollments[e.ID]
	if !ok || existing.AcademyID != e.AcademyID {
		return ErrEnrollmentNotFound
	}
	cp := *e
	m.enrollments[e.ID] = &cp
	return nil
}

func (m *MemoryStore) PassEnrollment(_ context.Context, e *Enrollment, promotion *RankHistory) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.enrollments[e.ID]
	if !ok || existing.AcademyID != e.AcademyID {
		return false, ErrEnrollmentNotFound
	}
	promoted := existing.Status != StatusPassed
	cp := *e
	cp.Status = StatusPassed
	m.enrollments[e.ID] = &cp
	if promoted {
		m.addHistory(promotion)
	}
	return promoted, nil
}

func (m *MemoryStore) ListEnrollments(_ context.Context, academyID, examID string) ([]*Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Enrollment
	for _, e := range m.enrollments {
		if e.AcademyID == academyID && e.ExamID == examID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) DisciplineInUse(_ context.Context, academyID, disciplineID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.ranks {
		if r.AcademyID == academyID && r.DisciplineID == disciplineID {
			return true, nil
		}
	}
	for _, e := range m.exams {
		if e.AcademyID == academyID && e.DisciplineID == disciplineID {
			return true, nil
		}
	}
	return false, nil
}

var _ Store = (*MemoryStore)(nil)
