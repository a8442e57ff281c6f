package roster

import "context"

// StudentFilter narrows ListStudents. Zero value lists everyone.
type StudentFilter struct {
	Query  string
	Active *bool
}

// Store persists roster data. Every method is scoped by academy.
type Store interface {
	CreateStudent(ctx context.Context, s *Student) error
	GetStudent(ctx context.Context, academyID, id string) (*Student, error)
	UpdateStudent(ctx context.Context, s *Student) error
	DeleteStudent(ctx context.Context, academyID, id string) error
	ListStudents(ctx context.Context, academyID string, f StudentFilter) ([]*Student, error)

	CreateInstructor(ctx context.Context, in *Instructor) error
	GetInstructor(ctx context.Context, academyID, id string) (*Instructor, error)
	UpdateInstructor(ctx context.Context, in *Instructor) error
	// DeleteInstructor clears the instructor from the academy's classes.
	DeleteInstructor(ctx context.Context, academyID, id string) error
	ListInstructors(ctx context.Context, academyID string) ([]*Instructor, error)

	CreateDiscipline(ctx context.Context, d *Discipline) error
	GetDiscipline(ctx context.Context, academyID, id string) (*Discipline, error)
	UpdateDiscipline(ctx context.Context, d *Discipline) error
	DeleteDiscipline(ctx context.Context, academyID, id string) error
	ListDisciplines(ctx context.Context, academyID string) ([]*Discipline, error)

	CreateClass(ctx context.Context, c *Class) error
	GetClass(ctx context.Context, academyID, id string) (*Class, error)
	UpdateClass(ctx context.Context, c *Class) error
	DeleteClass(ctx context.Context, academyID, id string) error
	ListClasses(ctx context.Context, academyID string) ([]*Class, error)
	CountClassesByDiscipline(ctx context.Context, academyID, disciplineID string) (int, error)

	// AddStudentToClass enforces the class capacity atomically. Adding a
	// student who is already enrolled is a no-op.
	AddStudentToClass(ctx context.Context, academyID, classID, studentID string) error
	RemoveStudentFromClass(ctx context.Context, academyID, classID, studentID string) error

	AddSchedule(ctx context.Context, academyID string, s *Schedule) error
	DeleteSchedule(ctx context.Context, academyID, classID, scheduleID string) error

	Counts(ctx context.Context, academyID string) (Counts, error)
}
