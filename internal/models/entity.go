// Package models - entity.go defines the entity kinds managed by the batch CRUD
// controllers, the shared system metadata embedded in every document, and the
// Entity interface controllers and stores operate on.
//
// Controllers never receive a live persistence-layer object: stores decode rows
// into these plain structs at the boundary, so all controller logic runs against
// one canonical data-transfer shape per kind.
package models

import "time"

// Kind identifies an entity collection in the store.
type Kind string

const (
	KindOrganization Kind = "organizations"
	KindProject      Kind = "projects"
	KindBranch       Kind = "branches"
	KindElement      Kind = "elements"
	KindArtifact     Kind = "artifacts"
	KindWebhook      Kind = "webhooks"
	KindUser         Kind = "users"
)

// Metadata holds the system-managed fields stamped by controllers on every
// create, update and archive transition. It is embedded in every entity kind.
type Metadata struct {
	CreatedBy      string     `json:"createdBy,omitempty"`
	CreatedOn      time.Time  `json:"createdOn,omitempty"`
	LastModifiedBy string     `json:"lastModifiedBy,omitempty"`
	UpdatedOn      time.Time  `json:"updatedOn,omitempty"`
	Archived       bool       `json:"archived"`
	ArchivedBy     string     `json:"archivedBy,omitempty"`
	ArchivedOn     *time.Time `json:"archivedOn,omitempty"`

	// Populated carries eagerly resolved references (createdBy, lastModifiedBy,
	// archivedBy) when the caller asked for population. Never persisted.
	Populated map[string]any `json:"populated,omitempty"`
}

// Meta gives controllers uniform access to the embedded metadata.
func (m *Metadata) Meta() *Metadata { return m }

// StampCreate records the creating principal and sets both timestamps.
func (m *Metadata) StampCreate(principal string, now time.Time) {
	m.CreatedBy = principal
	m.CreatedOn = now
	m.StampUpdate(principal, now)
}

// StampUpdate records the modifying principal and bumps the update timestamp.
func (m *Metadata) StampUpdate(principal string, now time.Time) {
	m.LastModifiedBy = principal
	m.UpdatedOn = now
}

// SetArchived applies an archive-state edge, stamping or clearing the
// archivedBy/archivedOn pair. A no-op when the state does not change.
func (m *Metadata) SetArchived(archived bool, principal string, now time.Time) {
	if archived == m.Archived {
		return
	}
	m.Archived = archived
	if archived {
		m.ArchivedBy = principal
		t := now
		m.ArchivedOn = &t
	} else {
		m.ArchivedBy = ""
		m.ArchivedOn = nil
	}
}

// Entity is the canonical document shape exchanged between controllers and
// stores. RefID is the composite reference ID (or username for users, UUID for
// webhooks); implementations are plain structs with no behavior beyond
// validation.
type Entity interface {
	RefID() string
	EntityKind() Kind
	Meta() *Metadata
}

// PermissionHolder is implemented by the kinds that carry a permission map
// (organizations and projects). The Permission Resolver uses it as its sole
// entity-facing API so the role hierarchy lives in exactly one place.
type PermissionHolder interface {
	Entity
	PermissionMap() PermissionMap
}
