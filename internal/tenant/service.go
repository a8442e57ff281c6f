package tenant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/idgen"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/validation"
)

const maxSlugAttempts = 100

// CreateInput is the data needed to register an academy.
type CreateInput struct {
	Name           string `json:"name" validate:"required,max=100"`
	LegalName      string `json:"legalName" validate:"max=100"`
	Slug           string `json:"slug" validate:"omitempty,max=64"`
	TaxID          string `json:"taxId" validate:"max=18"`
	OwnerID        string `json:"ownerId"`
	Phone          string `json:"phone" validate:"max=20"`
	Address        string `json:"address" validate:"max=255"`
	WhatsAppNumber string `json:"whatsappNumber" validate:"omitempty,phone"`
}

// UpdateInput carries optional changes to an academy's profile and settings.
type UpdateInput struct {
	Name           *string   `json:"name" validate:"omitempty,min=1,max=100"`
	LegalName      *string   `json:"legalName" validate:"omitempty,max=100"`
	Phone          *string   `json:"phone" validate:"omitempty,max=20"`
	Address        *string   `json:"address" validate:"omitempty,max=255"`
	WhatsAppNumber *string   `json:"whatsappNumber" validate:"omitempty,phone"`
	Settings       *Settings `json:"settings"`
}

// Service implements academy registration and maintenance.
type Service struct {
	store Store
	clock clock.Clock
}

// NewService creates an academy service.
func NewService(store Store, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, clock: clk}
}

// Create registers an academy. The slug is derived from the requested slug
// or the name, and suffixed with -1, -2, ... until it is free.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Academy, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	source := in.Slug
	if strings.TrimSpace(source) == "" {
		source = in.Name
	}
	base := validation.Slugify(source)
	if len(base) > 58 {
		base = strings.TrimRight(base[:58], "-_")
	}
	if !validation.IsValidSlug(base) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlug, source)
	}
	explicit := strings.TrimSpace(in.Slug) != ""
	if explicit && IsReserved(base) {
		return nil, fmt.Errorf("%w: %q is reserved", ErrInvalidSlug, base)
	}

	now := s.clock.Now()
	a := &Academy{
		ID:             idgen.WithPrefix("acd_"),
		Name:           validation.SanitizeString(in.Name, 100),
		LegalName:      validation.SanitizeString(in.LegalName, 100),
		TaxID:          strings.TrimSpace(in.TaxID),
		OwnerID:        in.OwnerID,
		Phone:          in.Phone,
		Address:        in.Address,
		WhatsAppNumber: validation.NormalizePhone(in.WhatsAppNumber),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if a.LegalName == "" {
		a.LegalName = a.Name
	}

	for i := 0; i < maxSlugAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = base + "-" + strconv.Itoa(i)
		}
		if IsReserved(candidate) {
			continue
		}
		taken, err := s.store.SlugExists(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("check slug: %w", err)
		}
		if taken {
			continue
		}
		a.Slug = candidate
		err = s.store.Create(ctx, a)
		if errors.Is(err, ErrSlugTaken) {
			// lost a race for this candidate
			continue
		}
		if err != nil {
			return nil, err
		}
		logging.L(ctx).Info("academy created", "academy_id", a.ID, "slug", a.Slug)
		return a, nil
	}
	return nil, fmt.Errorf("%w: no free suffix for %q", ErrSlugTaken, base)
}

// UpdateSlug renames an academy's slug. Unlike Create it never suffixes.
func (s *Service) UpdateSlug(ctx context.Context, academyID, slug string) (*Academy, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !validation.IsValidSlug(slug) || IsReserved(slug) {
		return nil, ErrInvalidSlug
	}
	a, err := s.store.Get(ctx, academyID)
	if err != nil {
		return nil, err
	}
	if a.Slug == slug {
		return a, nil
	}
	taken, err := s.store.SlugExists(ctx, slug)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSlugTaken
	}
	a.Slug = slug
	a.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Update applies profile and settings changes.
func (s *Service) Update(ctx context.Context, academyID string, in UpdateInput) (*Academy, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	a, err := s.store.Get(ctx, academyID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		a.Name = validation.SanitizeString(*in.Name, 100)
	}
	if in.LegalName != nil {
		a.LegalName = validation.SanitizeString(*in.LegalName, 100)
	}
	if in.Phone != nil {
		a.Phone = *in.Phone
	}
	if in.Address != nil {
		a.Address = *in.Address
	}
	if in.WhatsAppNumber != nil {
		a.WhatsAppNumber = validation.NormalizePhone(*in.WhatsAppNumber)
	}
	if in.Settings != nil {
		a.Settings = *in.Settings
	}
	a.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetActive soft-enables or soft-disables an academy. Inactive academies no
// longer resolve by slug and are skipped by the daily jobs.
func (s *Service) SetActive(ctx context.Context, academyID string, active bool) (*Academy, error) {
	a, err := s.store.Get(ctx, academyID)
	if err != nil {
		return nil, err
	}
	if a.Active == active {
		return a, nil
	}
	a.Active = active
	a.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("academy active flag changed", "academy_id", a.ID, "active", active)
	return a, nil
}

// Get returns an academy by ID regardless of its active flag.
func (s *Service) Get(ctx context.Context, id string) (*Academy, error) {
	return s.store.Get(ctx, id)
}

// GetBySlug returns an active academy by slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Academy, error) {
	a, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return nil, ErrAcademyNotFound
	}
	return a, nil
}

// GetByOwner returns the academy owned by a user.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (*Academy, error) {
	return s.store.GetByOwner(ctx, ownerID)
}

// ListAllAcademies lists every academy across tenants.
func (s *Service) ListAllAcademies(ctx context.Context, activeOnly bool) ([]*Academy, error) {
	return s.store.ListAllAcademies(ctx, activeOnly)
}
