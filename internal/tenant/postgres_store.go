package tenant

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists academies in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed academy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const academyColumns = `id, name, legal_name, slug, tax_id, owner_id, phone, address,
	whatsapp_number, active, notify_overdue, notify_welcome, notify_absence,
	notify_graduation, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Academy) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO academies (`+academyColumns+`)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.Name, a.LegalName, a.Slug, a.TaxID, a.OwnerID, a.Phone, a.Address,
		a.WhatsAppNumber, a.Active, a.Settings.NotifyOverdue, a.Settings.NotifyWelcome,
		a.Settings.NotifyAbsence, a.Settings.NotifyGraduation, a.CreatedAt, a.UpdatedAt,
	)
	return mapUniqueViolation(err)
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Academy, error) {
	return scanAcademy(p.db.QueryRowContext(ctx,
		`SELECT `+academyColumns+` FROM academies WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Academy, error) {
	return scanAcademy(p.db.QueryRowContext(ctx,
		`SELECT `+academyColumns+` FROM academies WHERE slug = $1`, slug))
}

func (p *PostgresStore) GetByOwner(ctx context.Context, ownerID string) (*Academy, error) {
	return scanAcademy(p.db.QueryRowContext(ctx,
		`SELECT `+academyColumns+` FROM academies WHERE owner_id = $1`, ownerID))
}

func (p *PostgresStore) Update(ctx context.Context, a *Academy) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE academies SET name = $1, legal_name = $2, slug = $3, phone = $4, address = $5,
			whatsapp_number = $6, active = $7, notify_overdue = $8, notify_welcome = $9,
			notify_absence = $10, notify_graduation = $11, updated_at = $12
		WHERE id = $13`,
		a.Name, a.LegalName, a.Slug, a.Phone, a.Address, a.WhatsAppNumber, a.Active,
		a.Settings.NotifyOverdue, a.Settings.NotifyWelcome, a.Settings.NotifyAbsence,
		a.Settings.NotifyGraduation, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAcademyNotFound
	}
	return nil
}

func (p *PostgresStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM academies WHERE slug = $1)`, slug).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) ListAllAcademies(ctx context.Context, activeOnly bool) ([]*Academy, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+academyColumns+` FROM academies
		WHERE ($1 = FALSE OR active) ORDER BY name`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Academy
	for rows.Next() {
		a, err := scanAcademy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAcademy(row scanner) (*Academy, error) {
	a := &Academy{}
	var taxID, ownerID sql.NullString
	err := row.Scan(&a.ID, &a.Name, &a.LegalName, &a.Slug, &taxID, &ownerID, &a.Phone,
		&a.Address, &a.WhatsAppNumber, &a.Active, &a.Settings.NotifyOverdue,
		&a.Settings.NotifyWelcome, &a.Settings.NotifyAbsence, &a.Settings.NotifyGraduation,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAcademyNotFound
	}
	if err != nil {
		return nil, err
	}
	a.TaxID = taxID.String
	a.OwnerID = ownerID.String
	return a, nil
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case "academies_owner_id_key":
		return ErrOwnerTaken
	case "academies_tax_id_key":
		return ErrTaxIDTaken
	default:
		return ErrSlugTaken
	}
}

var _ Store = (*PostgresStore)(nil)
