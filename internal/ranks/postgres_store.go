package ranks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists ranks and exams in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ranks store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	rankColumns       = `id, academy_id, discipline_id, name, rank_order, min_months, prerequisites, icon`
	historyColumns    = `id, academy_id, student_id, rank_id, promoted_on, notes, seq`
	examColumns       = `id, academy_id, discipline_id, scheduled_at, location, instructor_id`
	enrollmentColumns = `id, academy_id, exam_id, student_id, target_rank_id, status, enrolled_at, notes`
)

type rowScanner interface {
	Scan(dest ...any) error
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func pqError(err error) *pq.Error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr
	}
	return nil
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

func rankWriteError(err error) error {
	if e := pqError(err); e != nil && e.Code == "23505" && e.Constraint == "ranks_discipline_order_key" {
		return ErrDuplicateOrder
	}
	return err
}

func scanRank(row rowScanner) (*Rank, error) {
	r := &Rank{}
	err := row.Scan(&r.ID, &r.AcademyID, &r.DisciplineID, &r.Name, &r.Order, &r.MinMonths, &r.Prerequisites, &r.Icon)
	return r, err
}

func scanHistory(row rowScanner) (*RankHistory, error) {
	h := &RankHistory{}
	if err := row.Scan(&h.ID, &h.AcademyID, &h.StudentID, &h.RankID, &h.PromotedOn, &h.Notes, &h.Seq); err != nil {
		return nil, err
	}
	h.PromotedOn = h.PromotedOn.UTC()
	return h, nil
}

func scanExam(row rowScanner) (*Exam, error) {
	e := &Exam{}
	var instructorID sql.NullString
	if err := row.Scan(&e.ID, &e.AcademyID, &e.DisciplineID, &e.ScheduledAt, &e.Location, &instructorID); err != nil {
		return nil, err
	}
	if instructorID.Valid {
		e.InstructorID = &instructorID.String
	}
	return e, nil
}

func scanEnrollment(row rowScanner) (*Enrollment, error) {
	e := &Enrollment{}
	err := row.Scan(&e.ID, &e.AcademyID, &e.ExamID, &e.StudentID, &e.TargetRankID, &e.Status, &e.EnrolledAt, &e.Notes)
	return e, err
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// --- ranks ---

func (p *PostgresStore) CreateRank(ctx context.Context, r *Rank) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ranks (`+rankColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.AcademyID, r.DisciplineID, r.Name, r.Order, r.MinMonths, r.Prerequisites, r.Icon)
	return rankWriteError(err)
}

func (p *PostgresStore) GetRank(ctx context.Context, academyID, id string) (*Rank, error) {
	r, err := scanRank(p.db.QueryRowContext(ctx,
		`SELECT `+rankColumns+` FROM ranks WHERE id = $1 AND academy_id = $2`, id, academyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRankNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) UpdateRank(ctx context.Context, r *Rank) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE ranks SET discipline_id = $1, name = $2, rank_order = $3, min_months = $4,
			prerequisites = $5, icon = $6
		WHERE id = $7 AND academy_id = $8`,
		r.DisciplineID, r.Name, r.Order, r.MinMonths, r.Prerequisites, r.Icon, r.ID, r.AcademyID)
	if err != nil {
		return rankWriteError(err)
	}
	return affected(res, ErrRankNotFound)
}

func (p *PostgresStore) DeleteRank(ctx context.Context, academyID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM ranks WHERE id = $1 AND academy_id = $2`, id, academyID)
	if e := pqError(err); e != nil && e.Code == "23503" {
		return ErrProtected
	}
	if err != nil {
		return err
	}
	return affected(res, ErrRankNotFound)
}

func (p *PostgresStore) ListRanks(ctx context.Context, academyID, disciplineID string) ([]*Rank, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rankColumns+` FROM ranks
		WHERE academy_id = $1 AND ($2 = '' OR discipline_id = $2)
		ORDER BY discipline_id, rank_order`, academyID, disciplineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Rank
	for rows.Next() {
		r, err := scanRank(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- history ---

func insertHistory(ctx context.Context, q rowQueryer, h *RankHistory) error {
	return q.QueryRowContext(ctx, `
		INSERT INTO rank_history (id, academy_id, student_id, rank_id, promoted_on, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`,
		h.ID, h.AcademyID, h.StudentID, h.RankID, h.PromotedOn, h.Notes).Scan(&h.Seq)
}

func (p *PostgresStore) AddHistory(ctx context.Context, h *RankHistory) error {
	return insertHistory(ctx, p.db, h)
}

func (p *PostgresStore) DeleteHistory(ctx context.Context, academyID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM rank_history WHERE id = $1 AND academy_id = $2`, id, academyID)
	if err != nil {
		return err
	}
	return affected(res, ErrHistoryNotFound)
}

func (p *PostgresStore) ListHistory(ctx context.Context, academyID, studentID string) ([]*RankHistory, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM rank_history
		WHERE academy_id = $1 AND ($2 = '' OR student_id = $2)
		ORDER BY promoted_on DESC, seq DESC`, academyID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RankHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- exams ---

func (p *PostgresStore) CreateExam(ctx context.Context, e *Exam) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO exams (`+examColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AcademyID, e.DisciplineID, e.ScheduledAt, e.Location, nullable(e.InstructorID))
	return err
}

func (p *PostgresStore) GetExam(ctx context.Context, academyID, id string) (*Exam, error) {
	e, err := scanExam(p.db.QueryRowContext(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1 AND academy_id = $2`, id, academyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	return e, err
}

func (p *PostgresStore) UpdateExam(ctx context.Context, e *Exam) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE exams SET discipline_id = $1, scheduled_at = $2, location = $3, instructor_id = $4
		WHERE id = $5 AND academy_id = $6`,
		e.DisciplineID, e.ScheduledAt, e.Location, nullable(e.InstructorID), e.ID, e.AcademyID)
	if err != nil {
		return err
	}
	return affected(res, ErrExamNotFound)
}

func (p *PostgresStore) DeleteExam(ctx context.Context, academyID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM exams WHERE id = $1 AND academy_id = $2`, id, academyID)
	if err != nil {
		return err
	}
	return affected(res, ErrExamNotFound)
}

func (p *PostgresStore) ListExams(ctx context.Context, academyID string) ([]*Exam, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+examColumns+` FROM exams WHERE academy_id = $1
		ORDER BY scheduled_at DESC`, academyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- enrollments ---

func (p *PostgresStore) GetOrCreateEnrollment(ctx context.Context, e *Enrollment) (*Enrollment, bool, error) {
	created, err := scanEnrollment(p.db.QueryRowContext(ctx, `
		INSERT INTO exam_enrollments (`+enrollmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT exam_enrollments_exam_student_key DO NOTHING
		RETURNING `+enrollmentColumns,
		e.ID, e.AcademyID, e.ExamID, e.StudentID, e.TargetRankID, e.Status, e.EnrolledAt, e.Notes))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	existing, err := scanEnrollment(p.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+` FROM exam_enrollments
		WHERE exam_id = $1 AND student_id = $2 AND academy_id = $3`,
		e.ExamID, e.StudentID, e.AcademyID))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (p *PostgresStore) GetEnrollment(ctx context.Context, academyID, id string) (*Enrollment, error) {
	e, err := scanEnrollment(p.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM exam_enrollments WHERE id = $1 AND academy_id = $2`, id, academyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) UpdateEnrollment(ctx context.Context, e *Enrollment) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE exam_enrollments SET target_rank_id = $1, status = $2, notes = $3
		WHERE id = $4 AND academy_id = $5`,
		e.TargetRankID, e.Status, e.Notes, e.ID, e.AcademyID)
	if err != nil {
		return err
	}
	return affected(res, ErrEnrollmentNotFound)
}

func (p *PostgresStore) PassEnrollment(ctx context.Context, e *Enrollment, promotion *RankHistory) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE exam_enrollments SET status = 'passed', notes = $1
		WHERE id = $2 AND academy_id = $3 AND status <> 'passed'`,
		e.Notes, e.ID, e.AcademyID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// already passed, or missing
		res, err = tx.ExecContext(ctx, `
			UPDATE exam_enrollments SET notes = $1 WHERE id = $2 AND academy_id = $3`,
			e.Notes, e.ID, e.AcademyID)
		if err != nil {
			return false, err
		}
		if err := affected(res, ErrEnrollmentNotFound); err != nil {
			return false, err
		}
		return false, tx.Commit()
	}
	if err := insertHistory(ctx, tx, promotion); err != nil {
		return false, fmt.Errorf("record promotion: %w", err)
	}
	return true, tx.Commit()
}

func (p *PostgresStore) ListEnrollments(ctx context.Context, academyID, examID string) ([]*Enrollment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+enrollmentColumns+` FROM exam_enrollments
		WHERE academy_id = $1 AND exam_id = $2
		ORDER BY enrolled_at, id`, academyID, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DisciplineInUse(ctx context.Context, academyID, disciplineID string) (bool, error) {
	var inUse bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM ranks WHERE academy_id = $1 AND discipline_id = $2)
			OR EXISTS (SELECT 1 FROM exams WHERE academy_id = $1 AND discipline_id = $2)`,
		academyID, disciplineID).Scan(&inUse)
	return inUse, err
}

var _ Store = (*PostgresStore)(nil)
