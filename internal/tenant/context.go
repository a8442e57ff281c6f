package tenant

import (
	"context"

	"github.com/mbd888/dojo/internal/logging"
)

type ctxKey struct{}

// WithAcademy returns a context bound to a. The logger attached to the
// context picks up academy_id as well.
func WithAcademy(ctx context.Context, a *Academy) context.Context {
	if a == nil {
		return ctx
	}
	cp := *a
	ctx = logging.WithAcademy(ctx, a.ID)
	return context.WithValue(ctx, ctxKey{}, &cp)
}

// FromContext returns the bound academy, if any.
func FromContext(ctx context.Context) (*Academy, bool) {
	a, ok := ctx.Value(ctxKey{}).(*Academy)
	return a, ok && a != nil
}

// IDFromContext returns the bound academy ID or "".
func IDFromContext(ctx context.Context) string {
	if a, ok := FromContext(ctx); ok {
		return a.ID
	}
	return ""
}
