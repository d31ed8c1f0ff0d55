// artifacts.go implements the artifact controller. Artifact documents live
// under an (org, project, branch) triple like elements; the blob itself lives
// in a storage backend and the document records its location, SHA-256
// checksum and size. Upload requires write on the containing project,
// download read.
package controllers

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/storage"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Artifacts is the controller for the artifact kind: find, blob upload and
// download, and remove.
type Artifacts struct {
	deps
	blobs storage.Storage
}

// NewArtifacts wires an artifact controller over the given blob backend.
func NewArtifacts(s store.Store, r *permissions.Resolver, blobs storage.Storage) *Artifacts {
	return &Artifacts{deps: newDeps(s, r), blobs: blobs}
}

// blobPath derives the storage-backend path for an artifact's blob from its
// reference ID.
func blobPath(artifactID string) string {
	return "artifacts/" + strings.ReplaceAll(artifactID, refid.Delimiter, "/")
}

// Find returns the artifact documents of one branch. branchID is the full
// "org:project:branch" reference. Requires read on the containing project.
func (c *Artifacts) Find(ctx context.Context, requester *models.User, branchID string, selector any, opts Options) ([]*models.Artifact, error) {
	out, err := c.find(ctx, requester, branchID, selector, opts)
	return out, apperrors.Normalize("artifacts.find", err)
}

func (c *Artifacts) find(ctx context.Context, requester *models.User, branchID string, selector any, opts Options) ([]*models.Artifact, error) {
	ids, _, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if ids, err = qualifyScopedIDs("artifact", branchID, ids); err != nil {
		return nil, err
	}
	if err := validateConditions(opts.Conditions, "filename", "checksum", "createdBy"); err != nil {
		return nil, err
	}
	if _, _, _, err := c.resolveBranchScope(ctx, requester, branchID); err != nil {
		return nil, err
	}

	q := store.Query{IDs: ids, Archived: opts.archivedFilter(), Conditions: opts.Conditions}
	if len(ids) == 0 {
		q.IDPrefix = refid.Prefix(branchID)
	}
	found, err := c.store.Find(ctx, models.KindArtifact, q, store.FindOptions{
		Skip: opts.Skip, Limit: opts.Limit, Sort: opts.Sort,
	})
	if err != nil {
		return nil, err
	}
	artifacts := make([]*models.Artifact, 0, len(found))
	for _, e := range found {
		artifacts = append(artifacts, e.(*models.Artifact))
	}
	if err := c.populate(ctx, found, opts.Populate); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// Upload stores a blob and its artifact document. artifact carries the ID
// (full or short against branchID), filename and optional custom data; the
// location, checksum and size fields are filled from the upload. Requires
// write on the containing project. Re-uploading an existing artifact ID is a
// conflict.
func (c *Artifacts) Upload(ctx context.Context, requester *models.User, branchID string, artifact *models.Artifact, blob io.Reader, size int64) (*models.Artifact, error) {
	out, err := c.upload(ctx, requester, branchID, artifact, blob, size)
	return out, apperrors.Normalize("artifacts.upload", err)
}

func (c *Artifacts) upload(ctx context.Context, requester *models.User, branchID string, artifact *models.Artifact, blob io.Reader, size int64) (*models.Artifact, error) {
	if artifact == nil {
		return nil, apperrors.DataFormat("no artifact supplied")
	}
	org, proj, _, err := c.resolveBranchScope(ctx, requester, branchID)
	if err != nil {
		return nil, err
	}
	if err := c.perms.Check(requester, models.RoleWrite, org, proj); err != nil {
		return nil, err
	}

	if artifact.ID != "" && !strings.Contains(artifact.ID, refid.Delimiter) {
		artifact.ID = refid.Build(branchID, artifact.ID)
	}
	artifact.Branch = branchID
	if err := artifact.Validate(); err != nil {
		return nil, err
	}

	existing, err := c.store.FindOne(ctx, models.KindArtifact, artifact.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Conflict("artifact already exists", artifact.ID)
	}

	res, err := c.blobs.Upload(ctx, blobPath(artifact.ID), blob, size)
	if err != nil {
		return nil, apperrors.Server(err, "failed to store artifact blob %q", artifact.ID)
	}
	artifact.Location = res.Path
	artifact.Checksum = res.Checksum
	artifact.Size = res.Size
	artifact.Metadata = models.Metadata{}
	artifact.StampCreate(requester.Username, c.now())

	if err := c.store.InsertMany(ctx, models.KindArtifact, []models.Entity{artifact}); err != nil {
		// The blob is orphaned if the document write fails; remove it again.
		if derr := c.blobs.Delete(ctx, res.Path); derr != nil {
			slog.Error("failed to clean up orphaned artifact blob", "path", res.Path, "error", derr)
		}
		return nil, err
	}
	return artifact, nil
}

// Download returns the artifact document and a reader over its blob. Requires
// read on the containing project. Callers close the reader.
func (c *Artifacts) Download(ctx context.Context, requester *models.User, artifactID string) (*models.Artifact, io.ReadCloser, error) {
	artifact, rc, err := c.download(ctx, requester, artifactID)
	return artifact, rc, apperrors.Normalize("artifacts.download", err)
}

func (c *Artifacts) download(ctx context.Context, requester *models.User, artifactID string) (*models.Artifact, io.ReadCloser, error) {
	e, err := c.store.FindOne(ctx, models.KindArtifact, artifactID)
	if err != nil {
		return nil, nil, err
	}
	if e == nil {
		return nil, nil, apperrors.NotFound("artifact not found", artifactID)
	}
	artifact := e.(*models.Artifact)
	if _, _, _, err := c.resolveBranchScope(ctx, requester, artifact.Branch); err != nil {
		return nil, nil, err
	}

	rc, err := c.blobs.Download(ctx, artifact.Location)
	if err != nil {
		return nil, nil, apperrors.Server(err, "failed to read artifact blob %q", artifactID)
	}
	return artifact, rc, nil
}

// Remove hard-deletes artifact documents and their blobs. Requires write on
// the containing project. A blob the backend cannot delete is logged, not
// fatal; the document removal is what revokes access.
func (c *Artifacts) Remove(ctx context.Context, requester *models.User, branchID string, selector any, opts Options) ([]*models.Artifact, error) {
	out, err := c.remove(ctx, requester, branchID, selector)
	return out, apperrors.Normalize("artifacts.remove", err)
}

func (c *Artifacts) remove(ctx context.Context, requester *models.User, branchID string, selector any) ([]*models.Artifact, error) {
	ids, all, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if all {
		return nil, apperrors.DataFormat("artifact removal requires explicit ids")
	}
	if ids, err = qualifyScopedIDs("artifact", branchID, ids); err != nil {
		return nil, err
	}
	if dups := duplicateIDs(ids); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate artifact ids in batch: %v", dups)
	}
	org, proj, _, err := c.resolveBranchScope(ctx, requester, branchID)
	if err != nil {
		return nil, err
	}
	if err := c.perms.Check(requester, models.RoleWrite, org, proj); err != nil {
		return nil, err
	}

	found, err := c.store.Find(ctx, models.KindArtifact, store.Query{IDs: ids}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, e := range found {
		exists[e.RefID()] = true
	}
	if missing := missingIDs(ids, exists); len(missing) > 0 {
		return nil, apperrors.NotFound("artifacts not found", missing...)
	}

	result := make([]*models.Artifact, 0, len(found))
	for _, e := range found {
		result = append(result, e.(*models.Artifact))
	}
	if err := c.deleteByIDs(ctx, models.KindArtifact, ids); err != nil {
		return nil, err
	}
	for _, a := range result {
		if a.Location == "" {
			continue
		}
		if err := c.blobs.Delete(ctx, a.Location); err != nil {
			slog.Error("failed to delete artifact blob", "path", a.Location, "error", err)
		}
	}
	return result, nil
}
