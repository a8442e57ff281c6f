package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists roster data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed roster store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func affected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- students ---

const studentColumns = `id, academy_id, full_name, birth_date, tax_id, contact, guardian_name,
	guardian_contact, medical_notes, active, enrolled_on, due_day, receive_notifications, created_at`

func scanStudent(row rowScanner) (*Student, error) {
	s := &Student{}
	var dueDay sql.NullInt32
	err := row.Scan(&s.ID, &s.AcademyID, &s.FullName, &s.BirthDate, &s.TaxID, &s.Contact,
		&s.GuardianName, &s.GuardianContact, &s.MedicalNotes, &s.Active, &s.EnrolledOn,
		&dueDay, &s.ReceiveNotifications, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if dueDay.Valid {
		d := int(dueDay.Int32)
		s.DueDay = &d
	}
	s.BirthDate = s.BirthDate.UTC()
	s.EnrolledOn = s.EnrolledOn.UTC()
	return s, nil
}

func (p *PostgresStore) CreateStudent(ctx context.Context, s *Student) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO students (`+studentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.AcademyID, s.FullName, s.BirthDate, s.TaxID, s.Contact, s.GuardianName,
		s.GuardianContact, s.MedicalNotes, s.Active, s.EnrolledOn, s.DueDay,
		s.ReceiveNotifications, s.CreatedAt)
	return err
}

func (p *PostgresStore) GetStudent(ctx context.Context, academyID, id string) (*Student, error) {
	s, err := scanStudent(p.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = $1 AND academy_id = $2`, id, academyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	return s, err
}

func (p *PostgresStore) UpdateStudent(ctx context.Context, s *Student) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE students SET full_name = $1, birth_date = $2, tax_id = $3, contact = $4,
			guardian_name = $5, guardian_contact = $6, medical_notes = $7, active = $8,
			due_day = $9, receive_notifications = $10
		WHERE id = $11 AND academy_id = $12`,
		s.FullName, s.BirthDate, s.TaxID, s.Contact, s.GuardianName, s.GuardianContact,
		s.MedicalNotes, s.Active, s.DueDay, s.ReceiveNotifications, s.ID, s.AcademyID)
	if err != nil {
		return err
	}
	return affected(res, ErrStudentNotFound)
}

func (p *PostgresStore) DeleteStudent(ctx context.Context, academyID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1 AND academy_id = $2`, id, academyID)
	if err != nil {
		return err
	}
	return affected(res, ErrStudentNotFound)
}

func (p *PostgresStore) ListStudents(ctx context.Context, academyID string, f StudentFilter) ([]*Student, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+studentColumns+` FROM students
		WHERE academy_id = $1
		  AND ($2 = '' OR full_name ILIKE '%' || $2 || '%')
		  AND ($3::BOOLEAN IS NULL OR active = $3)
		ORDER BY full_name`, academyID, f.Query, f.Active)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- instructors ---

func (p *PostgresStore) CreateInstructor(ctx context.Context, in *Instructor) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO instructors (id, academy_id, full_name, contact, notes) VALUES ($1, $2, $3, $4, $5)`,
		in.ID, in.AcademyID, in.FullName, in.Contact, in.Notes)
	return err
}

func (p *PostgresStore) GetInstructor(ctx context.Context, academyID, id string) (*Instructor, error) {
	in := &Instructor{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, academy_id, full_name, contact, notes FROM instructors
		WHERE id = $1 AND academy_id = $2`, id, academyID).
		Scan(&in.ID, &in.AcademyID, &in.FullName, &in.Contact, &in.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstructorNotFound
	}
	return in, err
}

func (p *PostgresStore) UpdateInstructor(ctx context.Context, in *Instructor) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE instructors SET full_name = $1, contact = $2, notes = $3
		WHERE id = $4 AND academy_id = $5`, in.FullName, in.Contact, in.Notes, in.ID, in.AcademyID)
	if err != nil {
		return err
	}
	return affected(res, ErrInstructorNotFound)
}

func (p *PostgresStore) DeleteInstructor(ctx context.Context, academyID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM instructors WHERE id = $1 AND academy_id = $2`, id, academyID)
	if err != nil {
		return err
	}
	return affected(res, ErrInstructorNotFound)
}

func (p *PostgresStore) ListInstructors(ctx context.Context, academyID string) ([]*Instructor, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, academy_id, full_name, contact, notes FROM instructors
		WHERE academy_id = $1 ORDER BY full_name`, academyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Instructor
	for rows.Next() {
		in := &Instructor{}
		if err := rows.Scan(&in.ID, &in.AcademyID, &in.FullName, &in.Contact, &in.Notes); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// --- disciplines ---

func (p *PostgresStore) CreateDiscipline(ctx context.Context, d *Discipline) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disciplines (id, academy_id, name, description) VALUES ($1, $2, $3, $4)`,
		d.ID, d.AcademyID, d.Name, d.Description)
	if pqCode(err) == "23505" {
		return ErrDuplicateDiscipline
	}
	return err
}

func (p *PostgresStore) GetDiscipline(ctx context.Context, academyID, id string) (*Discipline, error) {
	d := &Discipline{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, academy_id, name, description FROM disciplines
		WHERE id = $1 AND academy_id = $2`, id, academyID).
		Scan(&d.ID, &d.AcademyID, &d.Name, &d.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisciplineNotFound
	}
	return d, err
}

func (p *PostgresStore) UpdateDiscipline(ctx context.Context, d *Discipline) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE disciplines SET name = $1, description = $2 WHERE id = $3 AND academy_id = $4`,
		d.Name, d.Description, d.ID, d.AcademyID)
	if pqCode(err) == "23505" {
		return ErrDuplicateDiscipline
	}
	if err != nil {
		return err
	}
	return affected(res, ErrDisciplineNotFound)
}

func (p *PostgresStore) DeleteDiscipline(ctx context.Context, academyID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM disciplines WHERE id = $1 AND academy_id = $2`, id, academyID)
	if pqCode(err) == "23503" {
		return ErrProtected
	}
	if err != nil {
		return err
	}
	return affected(res, ErrDisciplineNotFound)
}

func (p *PostgresStore) ListDisciplines(ctx context.Context, academyID string) ([]*Discipline, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, academy_id, name, description FROM disciplines
		WHERE academy_id = $1 ORDER BY name`, academyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Discipline
	for rows.Next() {
		d := &Discipline{}
		if err := rows.Scan(&d.ID, &d.AcademyID, &d.Name, &d.Description); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- classes ---

func (p *PostgresStore) CreateClass(ctx context.Context, c *Class) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO classes (id, academy_id, discipline_id, instructor_id, capacity, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.AcademyID, c.DisciplineID, c.InstructorID, c.Capacity, c.Active, c.CreatedAt)
	return err
}

func scanClass(row rowScanner) (*Class, error) {
	c := &Class{StudentIDs: []string{}, Schedules: []Schedule{}}
	var instructorID sql.NullString
	var capacity sql.NullInt32
	if err := row.Scan(&c.ID, &c.AcademyID, &c.DisciplineID, &instructorID, &capacity,
		&c.Active, &c.CreatedAt); err != nil {
		return nil, err
	}
	if instructorID.Valid {
		c.InstructorID = &instructorID.String
	}
	if capacity.Valid {
		n := int(capacity.Int32)
		c.Capacity = &n
	}
	return c, nil
}

func (p *PostgresStore) GetClass(ctx context.Context, academyID, id string) (*Class, error) {
	c, err := scanClass(p.db.QueryRowContext(ctx, `
		SELECT id, academy_id, discipline_id, instructor_id, capacity, active, created_at
		FROM classes WHERE id = $1 AND academy_id = $2`, id, academyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := p.loadClassDetails(ctx, []*Class{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *PostgresStore) UpdateClass(ctx context.Context, c *Class) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE classes SET discipline_id = $1, instructor_id = $2, capacity = $3, active = $4
		WHERE id = $5 AND academy_id = $6`,
		c.DisciplineID, c.InstructorID, c.Capacity, c.Active, c.ID, c.AcademyID)
	if err != nil {
		return err
	}
	return affected(res, ErrClassNotFound)
}

func (p *PostgresStore) DeleteClass(ctx context.Context, academyID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM classes WHERE id = $1 AND academy_id = $2`, id, academyID)
	if err != nil {
		return err
	}
	return affected(res, ErrClassNotFound)
}

func (p *PostgresStore) ListClasses(ctx context.Context, academyID string) ([]*Class, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, academy_id, discipline_id, instructor_id, capacity, active, created_at
		FROM classes WHERE academy_id = $1 ORDER BY created_at`, academyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := p.loadClassDetails(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadClassDetails fills members and schedules with one query each.
func (p *PostgresStore) loadClassDetails(ctx context.Context, classes []*Class) error {
	if len(classes) == 0 {
		return nil
	}
	byID := make(map[string]*Class, len(classes))
	ids := make([]string, len(classes))
	for i, c := range classes {
		byID[c.ID] = c
		ids[i] = c.ID
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT class_id, student_id FROM class_students
		WHERE class_id = ANY($1) ORDER BY student_id`, pq.Array(ids))
	if err != nil {
		return err
	}
	for rows.Next() {
		var classID, studentID string
		if err := rows.Scan(&classID, &studentID); err != nil {
			_ = rows.Close()
			return err
		}
		byID[classID].StudentIDs = append(byID[classID].StudentIDs, studentID)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = p.db.QueryContext(ctx, `
		SELECT id, class_id, weekdays, start_time, end_time FROM schedules
		WHERE class_id = ANY($1) ORDER BY start_time`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var s Schedule
		var days pq.Int64Array
		if err := rows.Scan(&s.ID, &s.ClassID, &days, &s.Start, &s.End); err != nil {
			return err
		}
		for _, d := range days {
			s.Weekdays = append(s.Weekdays, time.Weekday(d))
		}
		byID[s.ClassID].Schedules = append(byID[s.ClassID].Schedules, s)
	}
	return rows.Err()
}

func (p *PostgresStore) CountClassesByDiscipline(ctx context.Context, academyID, disciplineID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM classes WHERE academy_id = $1 AND discipline_id = $2`,
		academyID, disciplineID).Scan(&n)
	return n, err
}

func (p *PostgresStore) AddStudentToClass(ctx context.Context, academyID, classID, studentID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var capacity sql.NullInt32
	err = tx.QueryRowContext(ctx, `
		SELECT capacity FROM classes WHERE id = $1 AND academy_id = $2 FOR UPDATE`,
		classID, academyID).Scan(&capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrClassNotFound
	}
	if err != nil {
		return err
	}

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM students WHERE id = $1 AND academy_id = $2)`,
		studentID, academyID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrStudentNotFound
	}

	var enrolled int
	var already bool
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(BOOL_OR(student_id = $2), FALSE)
		FROM class_students WHERE class_id = $1`, classID, studentID).Scan(&enrolled, &already)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	if capacity.Valid && enrolled >= int(capacity.Int32) {
		return ErrClassFull
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO class_students (class_id, student_id) VALUES ($1, $2)`, classID, studentID); err != nil {
		return fmt.Errorf("enroll student: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) RemoveStudentFromClass(ctx context.Context, academyID, classID, studentID string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM class_students cs USING classes c
		WHERE cs.class_id = c.id AND c.id = $1 AND c.academy_id = $2 AND cs.student_id = $3`,
		classID, academyID, studentID)
	return err
}

func (p *PostgresStore) AddSchedule(ctx context.Context, academyID string, s *Schedule) error {
	days := make(pq.Int64Array, len(s.Weekdays))
	for i, d := range s.Weekdays {
		days[i] = int64(d)
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO schedules (id, class_id, weekdays, start_time, end_time)
		SELECT $1, c.id, $3, $4, $5 FROM classes c WHERE c.id = $2 AND c.academy_id = $6`,
		s.ID, s.ClassID, days, s.Start, s.End, academyID)
	if err != nil {
		return err
	}
	return affected(res, ErrClassNotFound)
}

func (p *PostgresStore) DeleteSchedule(ctx context.Context, academyID, classID, scheduleID string) error {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM schedules s USING classes c
		WHERE s.class_id = c.id AND s.id = $1 AND c.id = $2 AND c.academy_id = $3`,
		scheduleID, classID, academyID)
	if err != nil {
		return err
	}
	return affected(res, ErrScheduleNotFound)
}

func (p *PostgresStore) Counts(ctx context.Context, academyID string) (Counts, error) {
	var c Counts
	err := p.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM students WHERE academy_id = $1 AND active),
			(SELECT COUNT(*) FROM instructors WHERE academy_id = $1),
			(SELECT COUNT(*) FROM disciplines WHERE academy_id = $1),
			(SELECT COUNT(*) FROM classes WHERE academy_id = $1)`, academyID).
		Scan(&c.Students, &c.Instructors, &c.Disciplines, &c.Classes)
	return c, err
}

var _ Store = (*PostgresStore)(nil)
