package notify

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists the message log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed message log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const logColumns = `id, academy_id, student_id, type, body, sent_at, success, gateway_response`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*MessageLog, error) {
	m := &MessageLog{}
	var studentID sql.NullString
	if err := row.Scan(&m.ID, &m.AcademyID, &studentID, &m.Type, &m.Body,
		&m.SentAt, &m.Success, &m.GatewayResponse); err != nil {
		return nil, err
	}
	if studentID.Valid {
		m.StudentID = &studentID.String
	}
	return m, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (p *PostgresStore) Create(ctx context.Context, m *MessageLog) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO message_logs (`+logColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.AcademyID, nullable(m.StudentID), m.Type, m.Body, m.SentAt, m.Success, m.GatewayResponse)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, academyID, id string) (*MessageLog, error) {
	m, err := scanLog(p.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM message_logs WHERE id = $1 AND academy_id = $2`, id, academyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (p *PostgresStore) List(ctx context.Context, academyID string, f Filter) ([]*MessageLog, error) {
	var cursorAt sql.NullTime
	var cursorID string
	if f.Cursor != nil {
		cursorAt = sql.NullTime{Time: f.Cursor.At, Valid: true}
		cursorID = f.Cursor.ID
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+logColumns+` FROM message_logs
		WHERE academy_id = $1
		  AND ($2 = '' OR body ILIKE '%' || $2 || '%')
		  AND ($3 = '' OR type = $3)
		  AND ($4::timestamptz IS NULL OR sent_at >= $4)
		  AND ($5::timestamptz IS NULL OR sent_at < $5)
		  AND ($6::timestamptz IS NULL OR (sent_at, id) < ($6, $7))
		ORDER BY sent_at DESC, id DESC
		LIMIT $8`,
		academyID, f.Query, string(f.Type), nullTime(f.Since), nullTime(f.Until), cursorAt, cursorID, limit+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MessageLog
	for rows.Next() {
		m, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Delivered(ctx context.Context, academyID, studentID string, typ MessageType) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM message_logs
			WHERE academy_id = $1 AND student_id = $2 AND type = $3 AND success
		)`, academyID, studentID, typ).Scan(&ok)
	return ok, err
}

var _ Store = (*PostgresStore)(nil)
