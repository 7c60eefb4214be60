package models

import (
	"strings"

	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
)

// RegisterAgentRequest creates an agent under the authenticated provider.
// ProviderID may be omitted by provider-authenticated callers; the handler
// fills it from the authenticated principal.
type RegisterAgentRequest struct {
	ProviderID    string `json:"provider_id"`
	Name          string `json:"name"`
	DPoPPublicKey string `json:"dpop_public_key"`
}

func (r *RegisterAgentRequest) Normalize() {
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.Name = strings.TrimSpace(r.Name)
	r.DPoPPublicKey = strings.TrimSpace(r.DPoPPublicKey)
}

func (r *RegisterAgentRequest) Validate() error {
	if r.ProviderID != "" {
		if _, err := id.ParseProviderID(r.ProviderID); err != nil {
			return err
		}
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "name is required")
	}
	if len(r.Name) > 128 {
		return dErrors.New(dErrors.CodeInvalidInput, "name must be 128 characters or less")
	}
	if r.DPoPPublicKey == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "dpop_public_key is required")
	}
	return nil
}

// UpdatePermissionsRequest replaces an agent's permission list.
type UpdatePermissionsRequest struct {
	Permissions []Permission `json:"permissions"`
}

func (r *UpdatePermissionsRequest) Normalize() {
	seen := make(map[Permission]struct{}, len(r.Permissions))
	deduped := r.Permissions[:0]
	for _, p := range r.Permissions {
		p.TargetID = strings.TrimSpace(p.TargetID)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		deduped = append(deduped, p)
	}
	r.Permissions = deduped
}

func (r *UpdatePermissionsRequest) Validate() error {
	for _, p := range r.Permissions {
		if !p.Type.Valid() {
			return dErrors.New(dErrors.CodeInvalidInput, "permission type must be allow_agent or allow_provider")
		}
		switch p.Type {
		case PermissionAllowAgent:
			if _, err := id.ParseAgentID(p.TargetID); err != nil {
				return err
			}
		case PermissionAllowProvider:
			if _, err := id.ParseProviderID(p.TargetID); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateAgentRequest patches an agent's mutable fields.
type UpdateAgentRequest struct {
	Name   *string `json:"name,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

func (r *UpdateAgentRequest) Normalize() {
	if r.Name != nil {
		trimmed := strings.TrimSpace(*r.Name)
		r.Name = &trimmed
	}
}

func (r *UpdateAgentRequest) Validate() error {
	if r.Name == nil && r.Active == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one field must be provided")
	}
	if r.Name != nil {
		if *r.Name == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "name cannot be empty")
		}
		if len(*r.Name) > 128 {
			return dErrors.New(dErrors.CodeInvalidInput, "name must be 128 characters or less")
		}
	}
	return nil
}
