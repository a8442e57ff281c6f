package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists attendance in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed attendance store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const markColumns = `id, academy_id, student_id, class_id, attended_on, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMark(row rowScanner) (*Attendance, error) {
	a := &Attendance{}
	var classID sql.NullString
	if err := row.Scan(&a.ID, &a.AcademyID, &a.StudentID, &classID, &a.Date, &a.CreatedAt); err != nil {
		return nil, err
	}
	if classID.Valid {
		a.ClassID = &classID.String
	}
	a.Date = a.Date.UTC()
	return a, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullDate maps an open bound to NULL.
func nullDate(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (p *PostgresStore) GetOrCreate(ctx context.Context, a *Attendance) (*Attendance, bool, error) {
	created, err := scanMark(p.db.QueryRowContext(ctx, `
		INSERT INTO attendance (`+markColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT attendance_student_date_key DO NOTHING
		RETURNING `+markColumns,
		a.ID, a.AcademyID, a.StudentID, nullable(a.ClassID), a.Date, a.CreatedAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	existing, err := scanMark(p.db.QueryRowContext(ctx, `
		SELECT `+markColumns+` FROM attendance
		WHERE student_id = $1 AND attended_on = $2 AND academy_id = $3`,
		a.StudentID, a.Date, a.AcademyID))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (p *PostgresStore) Get(ctx context.Context, academyID, id string) (*Attendance, error) {
	a, err := scanMark(p.db.QueryRowContext(ctx,
		`SELECT `+markColumns+` FROM attendance WHERE id = $1 AND academy_id = $2`, id, academyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (p *PostgresStore) Delete(ctx context.Context, academyID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM attendance WHERE id = $1 AND academy_id = $2`, id, academyID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, academyID string, f Filter) ([]*Attendance, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+markColumns+` FROM attendance
		WHERE academy_id = $1
		  AND ($2::DATE IS NULL OR attended_on >= $2)
		  AND ($3::DATE IS NULL OR attended_on <= $3)
		  AND ($4 = '' OR student_id = $4)
		  AND ($5 = '' OR class_id = $5)
		ORDER BY attended_on DESC, created_at DESC`,
		academyID, nullDate(f.From), nullDate(f.To), f.StudentID, f.ClassID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Attendance
	for rows.Next() {
		a, err := scanMark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountSince(ctx context.Context, academyID, studentID string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance
		WHERE academy_id = $1 AND student_id = $2 AND attended_on >= $3`,
		academyID, studentID, since).Scan(&n)
	return n, err
}

func (p *PostgresStore) LastAttendance(ctx context.Context, academyID, studentID string) (*time.Time, error) {
	var last sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT MAX(attended_on) FROM attendance WHERE academy_id = $1 AND student_id = $2`,
		academyID, studentID).Scan(&last)
	if err != nil || !last.Valid {
		return nil, err
	}
	t := last.Time.UTC()
	return &t, nil
}

func (p *PostgresStore) CountByStudent(ctx context.Context, academyID string, from, to time.Time, classID string) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT student_id, COUNT(*) FROM attendance
		WHERE academy_id = $1
		  AND ($2::DATE IS NULL OR attended_on >= $2)
		  AND ($3::DATE IS NULL OR attended_on <= $3)
		  AND ($4 = '' OR class_id = $4)
		GROUP BY student_id`,
		academyID, nullDate(from), nullDate(to), classID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// --- non-teaching days ---

func (p *PostgresStore) CreateDay(ctx context.Context, d *NonTeachingDay) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO non_teaching_days (id, academy_id, day, description) VALUES ($1, $2, $3, $4)`,
		d.ID, d.AcademyID, d.Date, d.Description)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateDay
	}
	return err
}

func (p *PostgresStore) DeleteDay(ctx context.Context, academyID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM non_teaching_days WHERE id = $1 AND academy_id = $2`, id, academyID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDayNotFound
	}
	return nil
}

func (p *PostgresStore) ListDays(ctx context.Context, academyID string) ([]*NonTeachingDay, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, academy_id, day, description FROM non_teaching_days
		WHERE academy_id = $1 ORDER BY day`, academyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*NonTeachingDay
	for rows.Next() {
		d := &NonTeachingDay{}
		if err := rows.Scan(&d.ID, &d.AcademyID, &d.Date, &d.Description); err != nil {
			return nil, err
		}
		d.Date = d.Date.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
