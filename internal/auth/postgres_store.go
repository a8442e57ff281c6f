package auth

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists API keys in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed key store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, academy_id, user_id, name, created_at, expires_at, revoked)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		key.ID, key.Hash, key.AcademyID, key.UserID, key.Name, key.CreatedAt, key.ExpiresAt, key.Revoked,
	)
	return err
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	k, err := scanKey(p.db.QueryRowContext(ctx, `
		SELECT id, hash, academy_id, user_id, name, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE hash = $1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	return k, err
}

func (p *PostgresStore) ListByAcademy(ctx context.Context, academyID string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, academy_id, user_id, name, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE academy_id = $1 ORDER BY created_at DESC`, academyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Update records last use and revocation. Revocation is sticky.
func (p *PostgresStore) Update(ctx context.Context, key *APIKey) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = COALESCE($1, last_used), revoked = revoked OR $2
		WHERE id = $3`, key.LastUsed, key.Revoked, key.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*APIKey, error) {
	k := &APIKey{}
	var academyID sql.NullString
	var lastUsed, expiresAt sql.NullTime
	if err := row.Scan(&k.ID, &k.Hash, &academyID, &k.UserID, &k.Name, &k.CreatedAt,
		&lastUsed, &expiresAt, &k.Revoked); err != nil {
		return nil, err
	}
	k.AcademyID = academyID.String
	if lastUsed.Valid {
		k.LastUsed = &lastUsed.Time
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	return k, nil
}

var _ Store = (*PostgresStore)(nil)
