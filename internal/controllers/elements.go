// elements.go implements the read-only element controller. Elements live under
// an (org, project, branch) triple and are governed by the containing
// project's permission map; only find is exposed here.
package controllers

import (
	"context"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Elements is the read-only controller for the element kind.
type Elements struct {
	deps
}

// NewElements wires an element controller.
func NewElements(s store.Store, r *permissions.Resolver) *Elements {
	return &Elements{deps: newDeps(s, r)}
}

// resolveBranchScope fetches the (org, project, branch) chain for a full
// branch reference ID and verifies the requester can read the project.
func (d deps) resolveBranchScope(ctx context.Context, requester *models.User, branchID string) (*models.Organization, *models.Project, *models.Branch, error) {
	segs, err := refid.Parse(branchID)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(segs) != 3 {
		return nil, nil, nil, apperrors.DataFormat("branch id %q must be of the form org:project:branch", branchID)
	}
	org, proj, err := d.resolveProjectScope(ctx, requester, refid.Build(segs[0], segs[1]))
	if err != nil {
		return nil, nil, nil, err
	}
	e, err := d.store.FindOne(ctx, models.KindBranch, branchID)
	if err != nil {
		return nil, nil, nil, err
	}
	if e == nil {
		return nil, nil, nil, apperrors.NotFound("branch not found", branchID)
	}
	return org, proj, e.(*models.Branch), nil
}

// Find returns the elements of one branch. branchID is the full
// "org:project:branch" reference; selector IDs may be short element names or
// full reference IDs. Requires read on the containing project.
func (c *Elements) Find(ctx context.Context, requester *models.User, branchID string, selector any, opts Options) ([]*models.Element, error) {
	out, err := c.find(ctx, requester, branchID, selector, opts)
	return out, apperrors.Normalize("elements.find", err)
}

func (c *Elements) find(ctx context.Context, requester *models.User, branchID string, selector any, opts Options) ([]*models.Element, error) {
	ids, _, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if ids, err = qualifyScopedIDs("element", branchID, ids); err != nil {
		return nil, err
	}
	if err := validateConditions(opts.Conditions, "name", "parent", "createdBy"); err != nil {
		return nil, err
	}
	if _, _, _, err := c.resolveBranchScope(ctx, requester, branchID); err != nil {
		return nil, err
	}

	q := store.Query{IDs: ids, Archived: opts.archivedFilter(), Conditions: opts.Conditions}
	if len(ids) == 0 {
		q.IDPrefix = refid.Prefix(branchID)
	}
	found, err := c.store.Find(ctx, models.KindElement, q, store.FindOptions{
		Skip: opts.Skip, Limit: opts.Limit, Sort: opts.Sort,
	})
	if err != nil {
		return nil, err
	}
	elements := make([]*models.Element, 0, len(found))
	for _, e := range found {
		elements = append(elements, e.(*models.Element))
	}
	if err := c.populate(ctx, found, opts.Populate); err != nil {
		return nil, err
	}
	return elements, nil
}
