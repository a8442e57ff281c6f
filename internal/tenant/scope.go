package tenant

import "context"

// Scope returns the academy ID every tenant-owned query must filter by.
// It fails with ErrNoTenant when nothing is bound, so an unbound request
// can never fall through to an unscoped read.
func Scope(ctx context.Context) (string, error) {
	id := IDFromContext(ctx)
	if id == "" {
		return "", ErrNoTenant
	}
	return id, nil
}

// Stamp fills an unset owning field from the context. A field that is
// already set is left as is.
func Stamp(ctx context.Context, academyID *string) error {
	if *academyID != "" {
		return nil
	}
	id, err := Scope(ctx)
	if err != nil {
		return err
	}
	*academyID = id
	return nil
}
