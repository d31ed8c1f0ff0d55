// projects.go implements the batch CRUD controller for projects. Projects live
// under an organization scope: callers address them by short ID within an org
// route or by full "org:project" reference ID, and creation seeds the default
// branch.
package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/cascade"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Projects is the batch CRUD controller for the project kind.
type Projects struct {
	deps
	cascade *cascade.Coordinator
}

// NewProjects wires a project controller.
func NewProjects(s store.Store, r *permissions.Resolver, c *cascade.Coordinator) *Projects {
	return &Projects{deps: newDeps(s, r), cascade: c}
}

// qualifyProjectIDs expands short project IDs against the org scope and checks
// that full IDs actually belong to it. With no org scope, every ID must be a
// full reference ID.
func qualifyProjectIDs(orgID string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !strings.Contains(id, refid.Delimiter) {
			if orgID == "" {
				return nil, apperrors.DataFormat("project id %q must be qualified as org:project", id)
			}
			out = append(out, refid.Build(orgID, id))
			continue
		}
		if orgID != "" && refid.Org(id) != orgID {
			return nil, apperrors.DataFormat("project id %q is outside organization %q", id, orgID)
		}
		out = append(out, id)
	}
	return out, nil
}

// Find returns the projects the requester can read. orgID scopes the search to
// one organization; pass "" to search across all organizations, in which case
// selector IDs must be fully qualified. Inaccessible results are silently
// dropped.
func (c *Projects) Find(ctx context.Context, requester *models.User, orgID string, selector any, opts Options) ([]*models.Project, error) {
	out, err := c.find(ctx, requester, orgID, selector, opts)
	return out, apperrors.Normalize("projects.find", err)
}

func (c *Projects) find(ctx context.Context, requester *models.User, orgID string, selector any, opts Options) ([]*models.Project, error) {
	ids, _, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if ids, err = qualifyProjectIDs(orgID, ids); err != nil {
		return nil, err
	}
	if err := validateConditions(opts.Conditions, "name", "visibility", "createdBy"); err != nil {
		return nil, err
	}

	var org *models.Organization
	if orgID != "" {
		if org, err = c.lookupOrg(ctx, orgID); err != nil {
			return nil, err
		}
	}

	q := store.Query{IDs: ids, Archived: opts.archivedFilter(), Conditions: opts.Conditions}
	if orgID != "" && len(ids) == 0 {
		q.IDPrefix = refid.Prefix(orgID)
	}
	found, err := c.store.Find(ctx, models.KindProject, q, store.FindOptions{
		Skip: opts.Skip, Limit: opts.Limit, Sort: opts.Sort,
	})
	if err != nil {
		return nil, err
	}

	// Cross-org finds resolve each project's org lazily, caching per org.
	orgs := map[string]*models.Organization{}
	if org != nil {
		orgs[org.ID] = org
	}
	visible := make([]*models.Project, 0, len(found))
	readable := make([]models.Entity, 0, len(found))
	for _, e := range found {
		proj := e.(*models.Project)
		parent, ok := orgs[proj.Org]
		if !ok {
			pe, err := c.store.FindOne(ctx, models.KindOrganization, proj.Org)
			if err != nil {
				return nil, err
			}
			if pe != nil {
				parent = pe.(*models.Organization)
			}
			orgs[proj.Org] = parent
		}
		if c.perms.Readable(requester, parent, proj) {
			visible = append(visible, proj)
			readable = append(readable, e)
		}
	}
	if err := c.populate(ctx, readable, opts.Populate); err != nil {
		return nil, err
	}
	return visible, nil
}

// Create inserts new projects under one organization in an all-or-nothing
// batch. Requires write on the organization. Each new project gets its default
// branch seeded; if that bookkeeping write fails, the created projects are
// deleted again so the batch leaves no partial state.
func (c *Projects) Create(ctx context.Context, requester *models.User, orgID string, projects []*models.Project, opts Options) ([]*models.Project, error) {
	out, err := c.create(ctx, requester, orgID, projects, opts)
	return out, apperrors.Normalize("projects.create", err)
}

func (c *Projects) create(ctx context.Context, requester *models.User, orgID string, projects []*models.Project, opts Options) ([]*models.Project, error) {
	if len(projects) == 0 {
		return nil, apperrors.DataFormat("no projects supplied")
	}
	org, err := c.lookupOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org.Archived {
		return nil, apperrors.Operation("organization %q is archived; unarchive it before creating projects", orgID)
	}
	if err := c.perms.Check(requester, models.RoleWrite, org, nil); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(projects))
	for _, proj := range projects {
		if proj.ID != "" && !strings.Contains(proj.ID, refid.Delimiter) {
			proj.ID = refid.Build(orgID, proj.ID)
		}
		proj.Org = orgID
		if err := proj.Validate(); err != nil {
			return nil, err
		}
		ids = append(ids, proj.ID)
	}
	if dups := duplicateIDs(ids); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate project ids in batch: %v", dups)
	}

	existing, err := c.store.Find(ctx, models.KindProject, store.Query{IDs: ids}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		conflicts := make([]string, 0, len(existing))
		for _, e := range existing {
			conflicts = append(conflicts, e.RefID())
		}
		return nil, apperrors.Conflict("projects already exist", conflicts...)
	}

	now := c.now()
	entities := make([]models.Entity, 0, len(projects))
	for _, proj := range projects {
		if proj.Permissions == nil {
			proj.Permissions = models.PermissionMap{}
		}
		if !proj.Permissions.Has(requester.Username, models.RoleAdmin) {
			proj.Permissions[requester.Username] = models.RoleAdmin
		}
		preArchived := proj.Archived
		proj.Metadata = models.Metadata{}
		proj.StampCreate(requester.Username, now)
		if preArchived {
			proj.SetArchived(true, requester.Username, now)
		}
		entities = append(entities, proj)
	}
	if err := c.store.InsertMany(ctx, models.KindProject, entities); err != nil {
		return nil, err
	}

	if err := c.seedDefaultBranches(ctx, requester, projects, now); err != nil {
		// Compensating delete keeps the batch all-or-nothing.
		if _, derr := c.store.DeleteMany(ctx, models.KindProject, store.Query{IDs: ids}); derr != nil {
			return nil, apperrors.Server(derr, "failed to roll back projects after branch seeding error: %v", err)
		}
		return nil, err
	}
	if err := c.populate(ctx, entities, opts.Populate); err != nil {
		return nil, err
	}
	return projects, nil
}

// seedDefaultBranches writes the default branch document for each new project.
func (c *Projects) seedDefaultBranches(ctx context.Context, requester *models.User, projects []*models.Project, now time.Time) error {
	branches := make([]models.Entity, 0, len(projects))
	for _, proj := range projects {
		b := &models.Branch{
			ID:      refid.Build(proj.ID, models.DefaultBranch),
			Name:    models.DefaultBranch,
			Project: proj.ID,
		}
		b.StampCreate(requester.Username, now)
		branches = append(branches, b)
	}
	return c.store.InsertMany(ctx, models.KindBranch, branches)
}

// Update applies a batch of patch objects to projects under one organization.
// Requires write on each target project.
func (c *Projects) Update(ctx context.Context, requester *models.User, orgID string, patches []Patch, opts Options) ([]*models.Project, error) {
	out, err := c.update(ctx, requester, orgID, patches, opts)
	return out, apperrors.Normalize("projects.update", err)
}

func (c *Projects) update(ctx context.Context, requester *models.User, orgID string, patches []Patch, opts Options) ([]*models.Project, error) {
	if len(patches) == 0 {
		return nil, apperrors.DataFormat("no update objects supplied")
	}
	org, err := c.lookupOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(patches))
	byTarget := make(map[string]Patch, len(patches))
	for _, p := range patches {
		id, err := p.ID()
		if err != nil {
			return nil, err
		}
		qualified, err := qualifyProjectIDs(orgID, []string{id})
		if err != nil {
			return nil, err
		}
		ids = append(ids, qualified[0])
		byTarget[qualified[0]] = p
	}
	if dups := duplicateIDs(ids); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate project ids in batch: %v", dups)
	}

	found, err := c.store.Find(ctx, models.KindProject, store.Query{IDs: ids}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, e := range found {
		exists[e.RefID()] = true
	}
	if missing := missingIDs(ids, exists); len(missing) > 0 {
		return nil, apperrors.NotFound("projects not found", missing...)
	}

	now := c.now()
	updated := make([]models.Entity, 0, len(found))
	result := make([]*models.Project, 0, len(found))
	for _, e := range found {
		proj := e.(*models.Project)
		patch := byTarget[proj.ID]

		if err := c.perms.Check(requester, models.RoleWrite, org, proj); err != nil {
			return nil, err
		}
		if err := c.applyProjectPatch(ctx, requester, org, proj, patch, now); err != nil {
			return nil, err
		}
		proj.StampUpdate(requester.Username, now)
		updated = append(updated, proj)
		result = append(result, proj)
	}

	if err := c.bulkWrite(ctx, models.KindProject, updated); err != nil {
		return nil, err
	}
	if err := c.populate(ctx, updated, opts.Populate); err != nil {
		return nil, err
	}
	return result, nil
}

// applyProjectPatch validates and applies one patch onto a fetched project.
func (c *Projects) applyProjectPatch(ctx context.Context, requester *models.User, org *models.Organization, proj *models.Project, patch Patch, now time.Time) error {
	unarchive, err := checkArchivedFreeze(&proj.Metadata, proj.ID, patch)
	if err != nil {
		return err
	}
	if unarchive {
		proj.SetArchived(false, requester.Username, now)
		return nil
	}
	if err := checkArchiveIsolation(patch); err != nil {
		return err
	}

	allowed := proj.UpdatableFields()
	for key, val := range patch {
		if !allowedKey(key, allowed) {
			return apperrors.Operation("project field %q cannot be changed", key)
		}
		switch key {
		case "id", "username":
			// addressing only
		case "name":
			name, err := stringField(key, val)
			if err != nil {
				return err
			}
			proj.Name = name
		case "visibility":
			vis, err := stringField(key, val)
			if err != nil {
				return err
			}
			if vis != models.VisibilityPrivate && vis != models.VisibilityInternal {
				return apperrors.DataFormat("project visibility %q must be private or internal", vis)
			}
			proj.Visibility = vis
		case "custom":
			patchData, err := customField(val)
			if err != nil {
				return err
			}
			proj.Custom = models.MergeCustom(proj.Custom, patchData)
		case "archived":
			b, err := boolField(key, val)
			if err != nil {
				return err
			}
			proj.SetArchived(b, requester.Username, now)
		case "permissions":
			updated, err := c.applyPermissionPatch(ctx, requester, val, proj.Permissions, org, proj)
			if err != nil {
				return err
			}
			proj.Permissions = updated
		}
	}
	return nil
}

// Remove hard-deletes projects by ID, cascading to their branches, elements,
// artifacts and scoped webhooks. Requires write at each project. Returns the
// removed documents for audit.
func (c *Projects) Remove(ctx context.Context, requester *models.User, orgID string, selector any, opts Options) ([]*models.Project, error) {
	out, err := c.remove(ctx, requester, orgID, selector)
	return out, apperrors.Normalize("projects.remove", err)
}

func (c *Projects) remove(ctx context.Context, requester *models.User, orgID string, selector any) ([]*models.Project, error) {
	ids, all, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if all {
		return nil, apperrors.DataFormat("project removal requires explicit ids")
	}
	if ids, err = qualifyProjectIDs(orgID, ids); err != nil {
		return nil, err
	}
	if dups := duplicateIDs(ids); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate project ids in batch: %v", dups)
	}
	org, err := c.lookupOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	found, err := c.store.Find(ctx, models.KindProject, store.Query{IDs: ids}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, e := range found {
		exists[e.RefID()] = true
	}
	if missing := missingIDs(ids, exists); len(missing) > 0 {
		return nil, apperrors.NotFound("projects not found", missing...)
	}

	result := make([]*models.Project, 0, len(found))
	for _, e := range found {
		proj := e.(*models.Project)
		if err := c.perms.Check(requester, models.RoleWrite, org, proj); err != nil {
			return nil, err
		}
		result = append(result, proj)
	}

	for _, proj := range result {
		if err := c.cascade.ProjectRemoved(ctx, proj.ID); err != nil {
			return nil, err
		}
	}
	if err := c.deleteByIDs(ctx, models.KindProject, ids); err != nil {
		return nil, err
	}
	return result, nil
}
