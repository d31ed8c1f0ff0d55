// Package models - element.go defines the Element entity, the model content
// stored under an (org, project, branch) triple. Elements are shallow here:
// the batch controllers expose read access and the Cascade Coordinator accounts
// for them on ancestor deletion.
package models

import (
	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/validation"
)

// Element is owned by exactly one (org, project, branch) triple. Its ID is the
// composite "org:project:branch:element" reference.
type Element struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Branch string `json:"branch"`
	// Parent references the containing element within the same branch, empty
	// for the branch root.
	Parent        string `json:"parent,omitempty"`
	Documentation string `json:"documentation,omitempty"`
	Custom        Custom `json:"custom,omitempty"`
	Metadata
}

func (e *Element) RefID() string    { return e.ID }
func (e *Element) EntityKind() Kind { return KindElement }

// Validate checks ID shape and branch consistency.
func (e *Element) Validate() error {
	segs, err := refid.Parse(e.ID)
	if err != nil {
		return err
	}
	if len(segs) != 4 {
		return apperrors.DataFormat("element id %q must be of the form org:project:branch:element", e.ID)
	}
	if err := validation.ID("element id", segs[3]); err != nil {
		return err
	}
	if e.Branch != refid.Build(segs[0], segs[1], segs[2]) {
		return apperrors.DataFormat("element branch %q does not match id %q", e.Branch, e.ID)
	}
	return validation.CustomData(e.Custom)
}
