// branches.go implements the read-only branch controller. Branches are not
// created through direct end-user CRUD: the default branch is seeded with its
// project and the rest exist as addressing components, so only find is
// exposed. Access is governed by the containing project's permission map.
package controllers

import (
	"context"
	"strings"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Branches is the read-only controller for the branch kind.
type Branches struct {
	deps
}

// NewBranches wires a branch controller.
func NewBranches(s store.Store, r *permissions.Resolver) *Branches {
	return &Branches{deps: newDeps(s, r)}
}

// resolveProjectScope fetches the (org, project) chain for a full project
// reference ID and verifies the requester can read it.
func (d deps) resolveProjectScope(ctx context.Context, requester *models.User, projectID string) (*models.Organization, *models.Project, error) {
	segs, err := refid.Parse(projectID)
	if err != nil {
		return nil, nil, err
	}
	if len(segs) != 2 {
		return nil, nil, apperrors.DataFormat("project id %q must be of the form org:project", projectID)
	}
	org, err := d.lookupOrg(ctx, segs[0])
	if err != nil {
		return nil, nil, err
	}
	proj, err := d.lookupProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if err := d.perms.Check(requester, models.RoleRead, org, proj); err != nil {
		return nil, nil, err
	}
	return org, proj, nil
}

// qualifyScopedIDs expands short IDs against a scope prefix and checks that
// full IDs belong to it.
func qualifyScopedIDs(kind string, scopeID string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !strings.Contains(id, refid.Delimiter) {
			out = append(out, refid.Build(scopeID, id))
			continue
		}
		if !strings.HasPrefix(id, refid.Prefix(scopeID)) {
			return nil, apperrors.DataFormat("%s id %q is outside scope %q", kind, id, scopeID)
		}
		out = append(out, id)
	}
	return out, nil
}

// Find returns the branches of one project. projectID is the full
// "org:project" reference; selector IDs may be short branch names or full
// reference IDs. Requires read on the project.
func (c *Branches) Find(ctx context.Context, requester *models.User, projectID string, selector any, opts Options) ([]*models.Branch, error) {
	out, err := c.find(ctx, requester, projectID, selector, opts)
	return out, apperrors.Normalize("branches.find", err)
}

func (c *Branches) find(ctx context.Context, requester *models.User, projectID string, selector any, opts Options) ([]*models.Branch, error) {
	ids, _, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if ids, err = qualifyScopedIDs("branch", projectID, ids); err != nil {
		return nil, err
	}
	if err := validateConditions(opts.Conditions, "name", "source", "createdBy"); err != nil {
		return nil, err
	}
	if _, _, err := c.resolveProjectScope(ctx, requester, projectID); err != nil {
		return nil, err
	}

	q := store.Query{IDs: ids, Archived: opts.archivedFilter(), Conditions: opts.Conditions}
	if len(ids) == 0 {
		q.IDPrefix = refid.Prefix(projectID)
	}
	found, err := c.store.Find(ctx, models.KindBranch, q, store.FindOptions{
		Skip: opts.Skip, Limit: opts.Limit, Sort: opts.Sort,
	})
	if err != nil {
		return nil, err
	}
	branches := make([]*models.Branch, 0, len(found))
	for _, e := range found {
		branches = append(branches, e.(*models.Branch))
	}
	if err := c.populate(ctx, found, opts.Populate); err != nil {
		return nil, err
	}
	return branches, nil
}
