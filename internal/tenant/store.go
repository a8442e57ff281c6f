package tenant

import "context"

// Store persists academies. Academies are the tenant root, so lookups here
// are not themselves tenant-scoped.
type Store interface {
	Create(ctx context.Context, a *Academy) error
	Get(ctx context.Context, id string) (*Academy, error)
	GetBySlug(ctx context.Context, slug string) (*Academy, error)
	GetByOwner(ctx context.Context, ownerID string) (*Academy, error)
	Update(ctx context.Context, a *Academy) error
	SlugExists(ctx context.Context, slug string) (bool, error)

	// ListAllAcademies is the audited all-tenant path used by jobs and the
	// superadmin area.
	ListAllAcademies(ctx context.Context, activeOnly bool) ([]*Academy, error)
}
