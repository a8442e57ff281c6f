package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, clock.Fixed(testNow)), store
}

func TestScope_Unbound(t *testing.T) {
	_, err := Scope(context.Background())
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestScope_Bound(t *testing.T) {
	ctx := WithAcademy(context.Background(), &Academy{ID: "acd_1"})
	id, err := Scope(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acd_1", id)
}

func TestWithAcademy_CopiesValue(t *testing.T) {
	a := &Academy{ID: "acd_1", Name: "Before"}
	ctx := WithAcademy(context.Background(), a)
	a.Name = "After"

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "Before", got.Name)
}

func TestUnbound_HidesOuterAcademy(t *testing.T) {
	ctx := WithAcademy(context.Background(), &Academy{ID: "acd_1"})
	ctx = unbound(ctx)
	_, ok := FromContext(ctx)
	assert.False(t, ok)
	assert.Empty(t, IDFromContext(ctx))
}

func TestStamp(t *testing.T) {
	ctx := WithAcademy(context.Background(), &Academy{ID: "acd_1"})

	var empty string
	require.NoError(t, Stamp(ctx, &empty))
	assert.Equal(t, "acd_1", empty)

	set := "acd_other"
	require.NoError(t, Stamp(ctx, &set))
	assert.Equal(t, "acd_other", set, "explicit owner is kept")

	var unset string
	assert.ErrorIs(t, Stamp(context.Background(), &unset), ErrNoTenant)
}

func TestCreate_SlugFromName(t *testing.T) {
	svc, _ := newTestService()
	a, err := svc.Create(context.Background(), CreateInput{Name: "Academia São Jorge", OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "academia-sao-jorge", a.Slug)
	assert.True(t, a.Active)
	assert.Equal(t, "Academia São Jorge", a.LegalName)
	assert.Equal(t, testNow, a.CreatedAt)
	assert.False(t, a.Settings.NotifyOverdue)
}

func TestCreate_SlugSuffixes(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateInput{Name: "Dojo Central", OwnerID: "u1"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateInput{Name: "Dojo Central", OwnerID: "u2"})
	require.NoError(t, err)
	third, err := svc.Create(ctx, CreateInput{Name: "dojo  central!", OwnerID: "u3"})
	require.NoError(t, err)

	assert.Equal(t, "dojo-central", first.Slug)
	assert.Equal(t, "dojo-central-1", second.Slug)
	assert.Equal(t, "dojo-central-2", third.Slug)
}

func TestCreate_OwnerIsOneToOne(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{Name: "One", OwnerID: "u1"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "Two", OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrOwnerTaken)
}

func TestCreate_InvalidSlug(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateInput{Name: "!!", Slug: "!"})
	assert.ErrorIs(t, err, ErrInvalidSlug)
}

func TestCreate_ReservedSlug(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// derived from the name: suffixed past the reserved word
	a, err := svc.Create(ctx, CreateInput{Name: "Planos", OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "planos-1", a.Slug)
	b, err := svc.Create(ctx, CreateInput{Name: "Webhook", OwnerID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "webhook-1", b.Slug)

	// requested explicitly: rejected
	for _, slug := range []string{"superadmin", "health", "Cadastro", "metrics"} {
		_, err = svc.Create(ctx, CreateInput{Name: "Dojo", Slug: slug, OwnerID: "u-" + slug})
		assert.ErrorIs(t, err, ErrInvalidSlug, slug)
	}

	_, err = svc.UpdateSlug(ctx, a.ID, "metrics")
	assert.ErrorIs(t, err, ErrInvalidSlug)
	got, err := svc.UpdateSlug(ctx, a.ID, "metrics-muay-thai")
	require.NoError(t, err)
	assert.Equal(t, "metrics-muay-thai", got.Slug)
}

func TestUpdateSlug_NoSuffixing(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	a, _ := svc.Create(ctx, CreateInput{Name: "Alpha Team", OwnerID: "u1"})
	b, _ := svc.Create(ctx, CreateInput{Name: "Beta Team", OwnerID: "u2"})

	_, err := svc.UpdateSlug(ctx, b.ID, a.Slug)
	assert.ErrorIs(t, err, ErrSlugTaken)

	got, err := svc.UpdateSlug(ctx, b.ID, "beta-squad")
	require.NoError(t, err)
	assert.Equal(t, "beta-squad", got.Slug)

	_, err = svc.GetBySlug(ctx, "beta-team")
	assert.ErrorIs(t, err, ErrAcademyNotFound)
}

func TestSetActive_HidesFromSlugLookup(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	a, _ := svc.Create(ctx, CreateInput{Name: "Gamma Club", OwnerID: "u1"})

	_, err := svc.SetActive(ctx, a.ID, false)
	require.NoError(t, err)
	_, err = svc.GetBySlug(ctx, a.Slug)
	assert.ErrorIs(t, err, ErrAcademyNotFound)

	all, _ := svc.ListAllAcademies(ctx, true)
	assert.Empty(t, all)
	all, _ = svc.ListAllAcademies(ctx, false)
	assert.Len(t, all, 1)
}

func TestUpdate_Settings(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	a, _ := svc.Create(ctx, CreateInput{Name: "Delta Gym", OwnerID: "u1"})

	name := "Delta Fight"
	phone := "+55 (75) 99999-8888"
	got, err := svc.Update(ctx, a.ID, UpdateInput{
		Name:           &name,
		WhatsAppNumber: &phone,
		Settings:       &Settings{NotifyOverdue: true, NotifyGraduation: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "Delta Fight", got.Name)
	assert.Equal(t, "+5575999998888", got.WhatsAppNumber)
	assert.True(t, got.Settings.NotifyOverdue)
	assert.False(t, got.Settings.NotifyWelcome)
}
