// Package models - organization.go defines the Organization entity, the
// top-level tenant container owning projects and the root of every permission
// scope chain.
package models

import (
	"github.com/lmco/mcf-sub003/internal/validation"
)

// Organization is a top-level container. Exactly one organization per
// deployment is designated the default organization (by configured ID); it
// cannot be deleted and its identity fields cannot be altered.
type Organization struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Permissions PermissionMap `json:"permissions,omitempty"`
	Custom      Custom        `json:"custom,omitempty"`
	Metadata
}

func (o *Organization) RefID() string                { return o.ID }
func (o *Organization) EntityKind() Kind             { return KindOrganization }
func (o *Organization) PermissionMap() PermissionMap { return o.Permissions }

// Validate checks the create-time required fields.
func (o *Organization) Validate() error {
	if err := validation.ID("organization id", o.ID); err != nil {
		return err
	}
	if err := validation.Name("organization name", o.Name); err != nil {
		return err
	}
	return validation.CustomData(o.Custom)
}

// UpdatableFields lists the keys an update patch may carry. The ID names the
// target and is never mutable; createdBy/createdOn are system-immutable.
func (o *Organization) UpdatableFields() []string {
	return []string{"name", "custom", "archived", "permissions"}
}
