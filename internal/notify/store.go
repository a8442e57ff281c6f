package notify

import "context"

// Store persists the message log.
type Store interface {
	Create(ctx context.Context, m *MessageLog) error
	Get(ctx context.Context, academyID, id string) (*MessageLog, error)
	// List returns up to f.Limit+1 rows, newest first, so callers can tell
	// whether another page exists.
	List(ctx context.Context, academyID string, f Filter) ([]*MessageLog, error)
	// Delivered reports whether a message of type typ ever reached the student.
	Delivered(ctx context.Context, academyID, studentID string, typ MessageType) (bool, error)
}
