// Package models - artifact.go defines the Artifact entity: a blob reference
// stored under an (org, project, branch) triple. The document holds location
// and checksum metadata; the blob itself lives in a storage backend.
package models

import (
	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/validation"
)

// Artifact is owned by exactly one (org, project, branch) triple. Its ID is
// the composite "org:project:branch:artifact" reference.
type Artifact struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Branch   string `json:"branch"`
	// Location is the storage-backend path to the blob.
	Location string `json:"location,omitempty"`
	// Checksum is the SHA-256 of the blob contents, recorded at upload.
	Checksum string `json:"checksum,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Custom   Custom `json:"custom,omitempty"`
	Metadata
}

func (a *Artifact) RefID() string    { return a.ID }
func (a *Artifact) EntityKind() Kind { return KindArtifact }

// Validate checks ID shape, branch consistency and the required filename.
func (a *Artifact) Validate() error {
	segs, err := refid.Parse(a.ID)
	if err != nil {
		return err
	}
	if len(segs) != 4 {
		return apperrors.DataFormat("artifact id %q must be of the form org:project:branch:artifact", a.ID)
	}
	if err := validation.ID("artifact id", segs[3]); err != nil {
		return err
	}
	if a.Branch != refid.Build(segs[0], segs[1], segs[2]) {
		return apperrors.DataFormat("artifact branch %q does not match id %q", a.Branch, a.ID)
	}
	if a.Filename == "" {
		return apperrors.DataFormat("artifact filename is required")
	}
	return validation.CustomData(a.Custom)
}
