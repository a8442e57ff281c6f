package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory message log for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string]*MessageLog
}

// NewMemoryStore creates an empty message log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]*MessageLog)}
}

func copyLog(m *MessageLog) *MessageLog {
	cp := *m
	if m.StudentID != nil {
		id := *m.StudentID
		cp.StudentID = &id
	}
	return &cp
}

func (s *MemoryStore) Create(_ context.Context, m *MessageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[m.ID] = copyLog(m)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, academyID, id string) (*MessageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.logs[id]
	if !ok || m.AcademyID != academyID {
		return nil, ErrNotFound
	}
	return copyLog(m), nil
}

func (s *MemoryStore) List(_ context.Context, academyID string, f Filter) ([]*MessageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(f.Query)
	var out []*MessageLog
	for _, m := range s.logs {
		if m.AcademyID != academyID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(m.Body), query) {
			continue
		}
		if f.Type != "" && m.Type != f.Type {
			continue
		}
		if !f.Since.IsZero() && m.SentAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !m.SentAt.Before(f.Until) {
			continue
		}
		if !f.Cursor.Before(m.SentAt, m.ID) {
			continue
		}
		out = append(out, copyLog(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SentAt.After(out[j].SentAt)
	})
	if f.Limit > 0 && len(out) > f.Limit+1 {
		out = out[:f.Limit+1]
	}
	return out, nil
}

func (s *MemoryStore) Delivered(_ context.Context, academyID, studentID string, typ MessageType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.logs {
		if m.AcademyID == academyID && m.Type == typ && m.Success &&
			m.StudentID != nil && *m.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

var _ Store = (*MemoryStore)(nil)
