// Package tenant models academies (the tenants of the platform) and binds
// the current academy to each request.
//
// The academy travels through context.Context. Middleware installs it per
// request, handlers read it with Scope, and every tenant-owned store takes
// the academy ID as an explicit argument.
package tenant

import (
	"errors"
	"time"
)

var (
	ErrAcademyNotFound = errors.New("tenant: academy not found or inactive")
	ErrSlugTaken       = errors.New("tenant: slug already taken")
	ErrInvalidSlug     = errors.New("tenant: invalid slug")
	ErrOwnerTaken      = errors.New("tenant: owner already has an academy")
	ErrTaxIDTaken      = errors.New("tenant: tax id already registered")
	ErrNoTenant        = errors.New("tenant: no academy bound to context")
)

// Settings holds the per-academy notification switches. All default off.
type Settings struct {
	NotifyOverdue    bool `json:"notifyOverdue"`
	NotifyWelcome    bool `json:"notifyWelcome"`
	NotifyAbsence    bool `json:"notifyAbsence"`
	NotifyGraduation bool `json:"notifyGraduation"`
}

// Academy is a tenant.
type Academy struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	LegalName      string    `json:"legalName"`
	Slug           string    `json:"slug"`
	TaxID          string    `json:"taxId"`
	OwnerID        string    `json:"ownerId"`
	Phone          string    `json:"phone,omitempty"`
	Address        string    `json:"address,omitempty"`
	WhatsAppNumber string    `json:"whatsappNumber,omitempty"`
	Active         bool      `json:"active"`
	Settings       Settings  `json:"settings"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
