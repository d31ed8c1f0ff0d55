// Package models - branch.go defines the Branch entity, a named revision line
// for elements under a project. Branches are not created through direct end-user
// CRUD; the default branch is materialized when its project is created and the
// rest exist as addressing components for elements and artifacts.
package models

import (
	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/validation"
)

// DefaultBranch is the branch created with every new project.
const DefaultBranch = "master"

// Branch is owned by exactly one project. Its ID is the composite
// "org:project:branch" reference.
type Branch struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Project string `json:"project"`
	// Source is the branch this one was cut from; empty for the default branch.
	Source string `json:"source,omitempty"`
	Custom Custom `json:"custom,omitempty"`
	Metadata
}

func (b *Branch) RefID() string    { return b.ID }
func (b *Branch) EntityKind() Kind { return KindBranch }

// Validate checks ID shape and project consistency.
func (b *Branch) Validate() error {
	segs, err := refid.Parse(b.ID)
	if err != nil {
		return err
	}
	if len(segs) != 3 {
		return apperrors.DataFormat("branch id %q must be of the form org:project:branch", b.ID)
	}
	if err := validation.ID("branch id", segs[2]); err != nil {
		return err
	}
	if b.Project != refid.Build(segs[0], segs[1]) {
		return apperrors.DataFormat("branch project %q does not match id %q", b.Project, b.ID)
	}
	return validation.CustomData(b.Custom)
}
