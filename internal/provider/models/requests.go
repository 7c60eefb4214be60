package models

import (
	"strings"

	dErrors "authed/pkg/domain-errors"
)

// RegisterProviderRequest creates a provider. All fields optional; a CLI
// registration typically sends none of them.
type RegisterProviderRequest struct {
	Name             string `json:"name,omitempty"`
	ContactEmail     string `json:"contact_email,omitempty"`
	RegisteredUserID string `json:"registered_user_id,omitempty"`
}

func (r *RegisterProviderRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.ContactEmail = strings.TrimSpace(strings.ToLower(r.ContactEmail))
	r.RegisteredUserID = strings.TrimSpace(r.RegisteredUserID)
}

func (r *RegisterProviderRequest) Validate() error {
	if len(r.Name) > 128 {
		return dErrors.New(dErrors.CodeInvalidInput, "name must be 128 characters or less")
	}
	if r.ContactEmail != "" && !strings.Contains(r.ContactEmail, "@") {
		return dErrors.New(dErrors.CodeInvalidInput, "contact_email is not a valid email address")
	}
	return nil
}

// UpdateProviderRequest patches a provider. Nil fields are left untouched.
type UpdateProviderRequest struct {
	Name         *string `json:"name,omitempty"`
	ContactEmail *string `json:"contact_email,omitempty"`
	Claimed      *bool   `json:"claimed,omitempty"`
}

func (r *UpdateProviderRequest) Normalize() {
	if r.Name != nil {
		trimmed := strings.TrimSpace(*r.Name)
		r.Name = &trimmed
	}
	if r.ContactEmail != nil {
		lowered := strings.TrimSpace(strings.ToLower(*r.ContactEmail))
		r.ContactEmail = &lowered
	}
}

func (r *UpdateProviderRequest) Validate() error {
	if r.Name == nil && r.ContactEmail == nil && r.Claimed == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one field must be provided")
	}
	if r.Name != nil && len(*r.Name) > 128 {
		return dErrors.New(dErrors.CodeInvalidInput, "name must be 128 characters or less")
	}
	if r.ContactEmail != nil && *r.ContactEmail != "" && !strings.Contains(*r.ContactEmail, "@") {
		return dErrors.New(dErrors.CodeInvalidInput, "contact_email is not a valid email address")
	}
	return nil
}
