// Package models - project.go defines the Project entity owned by exactly one
// organization, including its visibility attribute governing default read
// access beyond explicit permissions.
package models

import (
	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/validation"
)

// Project visibility values.
const (
	// VisibilityPrivate grants access only through the project permission map.
	VisibilityPrivate = "private"
	// VisibilityInternal additionally grants read access to anyone with read on
	// the owning organization.
	VisibilityInternal = "internal"
)

// Project is owned by exactly one organization. Its ID is the composite
// "org:project" reference.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Org         string        `json:"org"`
	Visibility  string        `json:"visibility"`
	Permissions PermissionMap `json:"permissions,omitempty"`
	Custom      Custom        `json:"custom,omitempty"`
	Metadata
}

func (p *Project) RefID() string                { return p.ID }
func (p *Project) EntityKind() Kind             { return KindProject }
func (p *Project) PermissionMap() PermissionMap { return p.Permissions }

// ShortID returns the project segment of the composite ID.
func (p *Project) ShortID() string {
	segs, err := refid.Parse(p.ID)
	if err != nil || len(segs) < 2 {
		return p.ID
	}
	return segs[1]
}

// Validate checks the create-time required fields and the ID/org consistency.
func (p *Project) Validate() error {
	segs, err := refid.Parse(p.ID)
	if err != nil {
		return err
	}
	if len(segs) != 2 {
		return apperrors.DataFormat("project id %q must be of the form org:project", p.ID)
	}
	if err := validation.ID("project id", segs[1]); err != nil {
		return err
	}
	if err := validation.Name("project name", p.Name); err != nil {
		return err
	}
	if p.Org != segs[0] {
		return apperrors.DataFormat("project org %q does not match id %q", p.Org, p.ID)
	}
	switch p.Visibility {
	case VisibilityPrivate, VisibilityInternal:
	default:
		return apperrors.DataFormat("project visibility %q must be private or internal", p.Visibility)
	}
	return validation.CustomData(p.Custom)
}

// UpdatableFields lists the keys an update patch may carry.
func (p *Project) UpdatableFields() []string {
	return []string{"name", "custom", "archived", "permissions", "visibility"}
}
