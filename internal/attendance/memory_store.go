package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory attendance store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	marks map[string]*Attendance
	days  map[string]*NonTeachingDay
}

// NewMemoryStore creates an empty attendance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		marks: make(map[string]*Attendance),
		days:  make(map[string]*NonTeachingDay),
	}
}

func copyMark(a *Attendance) *Attendance {
	cp := *a
	if a.ClassID != nil {
		id := *a.ClassID
		cp.ClassID = &id
	}
	return &cp
}

func (m *MemoryStore) GetOrCreate(_ context.Context, a *Attendance) (*Attendance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.marks {
		if existing.StudentID == a.StudentID && existing.Date.Equal(a.Date) {
			return copyMark(existing), false, nil
		}
	}
	m.marks[a.ID] = copyMark(a)
	return copyMark(a), true, nil
}

func (m *MemoryStore) Get(_ context.Context, academyID, id string) (*Attendance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.marks[id]
	if !ok || a.AcademyID != academyID {
		return nil, ErrNotFound
	}
	return copyMark(a), nil
}

func (m *MemoryStore) Delete(_ context.Context, academyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.marks[id]
	if !ok || a.AcademyID != academyID {
		return ErrNotFound
	}
	delete(m.marks, id)
	return nil
}

func inRange(d, from, to time.Time) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && d.After(to) {
		return false
	}
	return true
}

func (m *MemoryStore) List(_ context.Context, academyID string, f Filter) ([]*Attendance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Attendance
	for _, a := range m.marks {
		if a.AcademyID != academyID || !inRange(a.Date, f.From, f.To) {
			continue
		}
		if f.StudentID != "" && a.StudentID != f.StudentID {
			continue
		}
		if f.ClassID != "" && (a.ClassID == nil || *a.ClassID != f.ClassID) {
			continue
		}
		out = append(out, copyMark(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CountSince(_ context.Context, academyID, studentID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.marks {
		if a.AcademyID == academyID && a.StudentID == studentID && !a.Date.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LastAttendance(_ context.Context, academyID, studentID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *time.Time
	for _, a := range m.marks {
		if a.AcademyID != academyID || a.StudentID != studentID {
			continue
		}
		if last == nil || a.Date.After(*last) {
			d := a.Date
			last = &d
		}
	}
	return last, nil
}

func (m *MemoryStore) CountByStudent(_ context.Context, academyID string, from, to time.Time, classID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for _, a := range m.marks {
		if a.AcademyID != academyID || !inRange(a.Date, from, to) {
			continue
		}
		if classID != "" && (a.ClassID == nil || *a.ClassID != classID) {
			continue
		}
		out[a.StudentID]++
	}
	return out, nil
}

// --- non-teaching days ---

func (m *MemoryStore) CreateDay(_ context.Context, d *NonTeachingDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.days {
		if existing.AcademyID == d.AcademyID && existing.Date.Equal(d.Date) {
			return ErrDuplicateDay
		}
	}
	cp := *d
	m.days[d.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteDay(_ context.Context, academyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.days[id]
	if !ok || d.AcademyID != academyID {
		return ErrDayNotFound
	}
	delete(m.days, id)
	return nil
}

func (m *MemoryStore) ListDays(_ context.Context, academyID string) ([]*NonTeachingDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*NonTeachingDay
	for _, d := range m.days {
		if d.AcademyID == academyID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
