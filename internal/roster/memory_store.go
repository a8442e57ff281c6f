package roster

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory roster store for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	students    map[string]*Student
	instructors map[string]*Instructor
	disciplines map[string]*Discipline
	classes     map[string]*Class
}

// NewMemoryStore creates an empty roster store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:    make(map[string]*Student),
		instructors: make(map[string]*Instructor),
		disciplines: make(map[string]*Discipline),
		classes:     make(map[string]*Class),
	}
}

func copyStudent(s *Student) *Student {
	cp := *s
	if s.DueDay != nil {
		d := *s.DueDay
		cp.DueDay = &d
	}
	return &cp
}

func copyClass(c *Class) *Class {
	cp := *c
	if c.InstructorID != nil {
		id := *c.InstructorID
		cp.InstructorID = &id
	}
	if c.Capacity != nil {
		n := *c.Capacity
		cp.Capacity = &n
	}
	cp.StudentIDs = slices.Clone(c.StudentIDs)
	cp.Schedules = make([]Schedule, len(c.Schedules))
	for i, s := range c.Schedules {
		s.Weekdays = slices.Clone(s.Weekdays)
		cp.Schedules[i] = s
	}
	return &cp
}

// --- students ---

func (m *MemoryStore) CreateStudent(_ context.Context, s *Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = copyStudent(s)
	return nil
}

func (m *MemoryStore) GetStudent(_ context.Context, academyID, id string) (*Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok || s.AcademyID != academyID {
		return nil, ErrStudentNotFound
	}
	return copyStudent(s), nil
}

func (m *MemoryStore) UpdateStudent(_ context.Context, s *Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.students[s.ID]
	if !ok || old.AcademyID != s.AcademyID {
		return ErrStudentNotFound
	}
	m.students[s.ID] = copyStudent(s)
	return nil
}

func (m *MemoryStore) DeleteStudent(_ context.Context, academyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok || s.AcademyID != academyID {
		return ErrStudentNotFound
	}
	delete(m.students, id)
	for _, c := range m.classes {
		c.StudentIDs = slices.DeleteFunc(c.StudentIDs, func(sid string) bool { return sid == id })
	}
	return nil
}

func (m *MemoryStore) ListStudents(_ context.Context, academyID string, f StudentFilter) ([]*Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	var out []*Student
	for _, s := range m.students {
		if s.AcademyID != academyID {
			continue
		}
		if f.Active != nil && s.Active != *f.Active {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(s.FullName), q) {
			continue
		}
		out = append(out, copyStudent(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

// --- instructors ---

func (m *MemoryStore) CreateInstructor(_ context.Context, in *Instructor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.instructors[in.ID] = &cp
	return nil
}

func (m *MemoryStore) GetInstructor(_ context.Context, academyID, id string) (*Instructor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.instructors[id]
	if !ok || in.AcademyID != academyID {
		return nil, ErrInstructorNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *MemoryStore) UpdateInstructor(_ context.Context, in *Instructor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.instructors[in.ID]
	if !ok || old.AcademyID != in.AcademyID {
		return ErrInstructorNotFound
	}
	cp := *in
	m.instructors[in.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteInstructor(_ context.Context, academyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instructors[id]
	if !ok || in.AcademyID != academyID {
		return ErrInstructorNotFound
	}
	delete(m.instructors, id)
	for _, c := range m.classes {
		if c.InstructorID != nil && *c.InstructorID == id {
			c.InstructorID = nil
		}
	}
	return nil
}

func (m *MemoryStore) ListInstructors(_ context.Context, academyID string) ([]*Instructor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Instructor
	for _, in := range m.instructors {
		if in.AcademyID == academyID {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

// --- disciplines ---

func (m *MemoryStore) nameTaken(d *Discipline) bool {
	for _, other := range m.disciplines {
		if other.ID != d.ID && other.AcademyID == d.AcademyID && strings.EqualFold(other.Name, d.Name) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateDiscipline(_ context.Context, d *Discipline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nameTaken(d) {
		return ErrDuplicateDiscipline
	}
	cp := *d
	m.disciplines[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDiscipline(_ context.Context, academyID, id string) (*Discipline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disciplines[id]
	if !ok || d.AcademyID != academyID {
		return nil, ErrDisciplineNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpdateDiscipline(_ context.Context, d *Discipline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.disciplines[d.ID]
	if !ok || old.AcademyID != d.AcademyID {
		return ErrDisciplineNotFound
	}
	if m.nameTaken(d) {
		return ErrDuplicateDiscipline
	}
	cp := *d
	m.disciplines[d.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteDiscipline(_ context.Context, academyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disciplines[id]
	if !ok || d.AcademyID != academyID {
		return ErrDisciplineNotFound
	}
	for _, c := range m.classes {
		if c.DisciplineID == id {
			return ErrProtected
		}
	}
	delete(m.disciplines, id)
	return nil
}

func (m *MemoryStore) ListDisciplines(_ context.Context, academyID string) ([]*Discipline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Discipline
	for _, d := range m.disciplines {
		if d.AcademyID == academyID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- classes ---

func (m *MemoryStore) CreateClass(_ context.Context, c *Class) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.ID] = copyClass(c)
	return nil
}

func (m *MemoryStore) GetClass(_ context.Context, academyID, id string) (*Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[id]
	if !ok || c.AcademyID != academyID {
		return nil, ErrClassNotFound
	}
	return copyClass(c), nil
}

// UpdateClass replaces the class's own fields. Membership and schedules are
// managed through their dedicated methods.
func (m *MemoryStore) UpdateClass(_ context.Context, c *Class) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.classes[c.ID]
	if !ok || old.AcademyID != c.AcademyID {
		return ErrClassNotFound
	}
	next := copyClass(c)
	next.StudentIDs = old.StudentIDs
	next.Schedules = old.Schedules
	m.classes[c.ID] = next
	return nil
}

func (m *MemoryStore) DeleteClass(_ context.Context, academyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[id]
	if !ok || c.AcademyID != academyID {
		return ErrClassNotFound
	}
	delete(m.classes, id)
	return nil
}

func (m *MemoryStore) ListClasses(_ context.Context, academyID string) ([]*Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Class
	for _, c := range m.classes {
		if c.AcademyID == academyID {
			out = append(out, copyClass(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountClassesByDiscipline(_ context.Context, academyID, disciplineID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.classes {
		if c.AcademyID == academyID && c.DisciplineID == disciplineID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AddStudentToClass(_ context.Context, academyID, classID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[classID]
	if !ok || c.AcademyID != academyID {
		return ErrClassNotFound
	}
	if s, ok := m.students[studentID]; !ok || s.AcademyID != academyID {
		return ErrStudentNotFound
	}
	if slices.Contains(c.StudentIDs, studentID) {
		return nil
	}
	if c.Capacity != nil && len(c.StudentIDs) >= *c.Capacity {
		return ErrClassFull
	}
	c.StudentIDs = append(c.StudentIDs, studentID)
	return nil
}

func (m *MemoryStore) RemoveStudentFromClass(_ context.Context, academyID, classID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[classID]
	if !ok || c.AcademyID != academyID {
		return ErrClassNotFound
	}
	c.StudentIDs = slices.DeleteFunc(c.StudentIDs, func(id string) bool { return id == studentID })
	return nil
}

func (m *MemoryStore) AddSchedule(_ context.Context, academyID string, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[s.ClassID]
	if !ok || c.AcademyID != academyID {
		return ErrClassNotFound
	}
	cp := *s
	cp.Weekdays = slices.Clone(s.Weekdays)
	c.Schedules = append(c.Schedules, cp)
	return nil
}

func (m *MemoryStore) DeleteSchedule(_ context.Context, academyID, classID, scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[classID]
	if !ok || c.AcademyID != academyID {
		return ErrClassNotFound
	}
	before := len(c.Schedules)
	c.Schedules = slices.DeleteFunc(c.Schedules, func(s Schedule) bool { return s.ID == scheduleID })
	if len(c.Schedules) == before {
		return ErrScheduleNotFound
	}
	return nil
}

func (m *MemoryStore) Counts(_ context.Context, academyID string) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c Counts
	for _, s := range m.students {
		if s.AcademyID == academyID && s.Active {
			c.Students++
		}
	}
	for _, in := range m.instructors {
		if in.AcademyID == academyID {
			c.Instructors++
		}
	}
	for _, d := range m.disciplines {
		if d.AcademyID == academyID {
			c.Disciplines++
		}
	}
	for _, cl := range m.classes {
		if cl.AcademyID == academyID {
			c.Classes++
		}
	}
	return c, nil
}

var _ Store = (*MemoryStore)(nil)
