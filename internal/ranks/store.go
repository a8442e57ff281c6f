package ranks

import "context"

// Store persists ranks, promotions, exams and enrollments. Every method is
// scoped by academy.
type Store interface {
	// CreateRank fails with ErrDuplicateOrder when the discipline already
	// has a rank at the same order.
	CreateRank(ctx context.Context, r *Rank) error
	GetRank(ctx context.Context, academyID, id string) (*Rank, error)
	UpdateRank(ctx context.Context, r *Rank) error
	// DeleteRank fails with ErrProtected while promotions or enrollments
	// reference it.
	DeleteRank(ctx context.Context, academyID, id string) error
	// ListRanks orders by discipline then order; an empty disciplineID
	// lists all.
	ListRanks(ctx context.Context, academyID, disciplineID string) ([]*Rank, error)

	AddHistory(ctx context.Context, h *RankHistory) error
	DeleteHistory(ctx context.Context, academyID, id string) error
	// ListHistory returns a student's promotions, newest first. An empty
	// studentID lists the whole academy.
	ListHistory(ctx context.Context, academyID, studentID string) ([]*RankHistory, error)

	CreateExam(ctx context.Context, e *Exam) error
	GetExam(ctx context.Context, academyID, id string) (*Exam, error)
	UpdateExam(ctx context.Context, e *Exam) error
	DeleteExam(ctx context.Context, academyID, id string) error
	// ListExams returns exams, latest first.
	ListExams(ctx context.Context, academyID string) ([]*Exam, error)

	// GetOrCreateEnrollment returns the student's enrollment in the exam,
	// inserting e when there is none.
	GetOrCreateEnrollment(ctx context.Context, e *Enrollment) (*Enrollment, bool, error)
	GetEnrollment(ctx context.Context, academyID, id string) (*Enrollment, error)
	UpdateEnrollment(ctx context.Context, e *Enrollment) error
	// PassEnrollment marks e passed and saves its notes. The promotion is
	// appended in the same transaction only when the stored enrollment was
	// not already passed; the result reports whether it was.
	PassEnrollment(ctx context.Context, e *Enrollment, promotion *RankHistory) (bool, error)
	ListEnrollments(ctx context.Context, academyID, examID string) ([]*Enrollment, error)

	// DisciplineInUse reports whether ranks or exams reference the
	// discipline.
	DisciplineInUse(ctx context.Context, academyID, disciplineID string) (bool, error)
}
