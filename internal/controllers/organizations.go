// organizations.go implements the batch CRUD controller for organizations:
// permission-filtered finds, admin-only all-or-nothing creates, allow-listed
// updates with custom-data merge and archive transitions, and cascading hard
// deletes that protect the default organization.
package controllers

import (
	"context"
	"time"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/cascade"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Organizations is the batch CRUD controller for the organization kind.
type Organizations struct {
	deps
	cascade    *cascade.Coordinator
	defaultOrg string
}

// NewOrganizations wires an organization controller. defaultOrg is the
// deployment-wide default organization ID, which is protected from deletion
// and identity changes.
func NewOrganizations(s store.Store, r *permissions.Resolver, c *cascade.Coordinator, defaultOrg string) *Organizations {
	return &Organizations{deps: newDeps(s, r), cascade: c, defaultOrg: defaultOrg}
}

// Find returns the organizations the requester can read. selector is nil for
// all, a single ID, or an ID list; inaccessible results are silently dropped,
// and an empty result is not an error.
func (c *Organizations) Find(ctx context.Context, requester *models.User, selector any, opts Options) ([]*models.Organization, error) {
	out, err := c.find(ctx, requester, selector, opts)
	return out, apperrors.Normalize("orgs.find", err)
}

func (c *Organizations) find(ctx context.Context, requester *models.User, selector any, opts Options) ([]*models.Organization, error) {
	ids, _, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if err := validateConditions(opts.Conditions, "name", "createdBy"); err != nil {
		return nil, err
	}

	q := store.Query{IDs: ids, Archived: opts.archivedFilter(), Conditions: opts.Conditions}
	found, err := c.store.Find(ctx, models.KindOrganization, q, store.FindOptions{
		Skip: opts.Skip, Limit: opts.Limit, Sort: opts.Sort,
	})
	if err != nil {
		return nil, err
	}

	visible := make([]*models.Organization, 0, len(found))
	readable := make([]models.Entity, 0, len(found))
	for _, e := range found {
		org := e.(*models.Organization)
		if c.perms.Readable(requester, org, nil) {
			visible = append(visible, org)
			readable = append(readable, e)
		}
	}
	if err := c.populate(ctx, readable, opts.Populate); err != nil {
		return nil, err
	}
	return visible, nil
}

// Create inserts new organizations in one all-or-nothing batch. Organization
// creation is reserved for system administrators; the creator is granted admin
// on each new organization.
func (c *Organizations) Create(ctx context.Context, requester *models.User, orgs []*models.Organization, opts Options) ([]*models.Organization, error) {
	out, err := c.create(ctx, requester, orgs, opts)
	return out, apperrors.Normalize("orgs.create", err)
}

func (c *Organizations) create(ctx context.Context, requester *models.User, orgs []*models.Organization, opts Options) ([]*models.Organization, error) {
	if len(orgs) == 0 {
		return nil, apperrors.DataFormat("no organizations supplied")
	}
	if err := c.perms.CheckSystemAdmin(requester); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(orgs))
	for _, org := range orgs {
		if err := org.Validate(); err != nil {
			return nil, err
		}
		ids = append(ids, org.ID)
	}
	if dups := duplicateIDs(ids); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate organization ids in batch: %v", dups)
	}

	existing, err := c.store.Find(ctx, models.KindOrganization, store.Query{IDs: ids}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		conflicts := make([]string, 0, len(existing))
		for _, e := range existing {
			conflicts = append(conflicts, e.RefID())
		}
		return nil, apperrors.Conflict("organizations already exist", conflicts...)
	}

	now := c.now()
	entities := make([]models.Entity, 0, len(orgs))
	for _, org := range orgs {
		if org.Permissions == nil {
			org.Permissions = models.PermissionMap{}
		}
		if !org.Permissions.Has(requester.Username, models.RoleAdmin) {
			org.Permissions[requester.Username] = models.RoleAdmin
		}
		preArchived := org.Archived
		org.Metadata = models.Metadata{}
		org.StampCreate(requester.Username, now)
		if preArchived {
			org.SetArchived(true, requester.Username, now)
		}
		entities = append(entities, org)
	}
	if err := c.store.InsertMany(ctx, models.KindOrganization, entities); err != nil {
		return nil, err
	}
	if err := c.populate(ctx, entities, opts.Populate); err != nil {
		return nil, err
	}
	return orgs, nil
}

// Update applies a batch of patch objects, each addressing one organization by
// ID. The batch fails whole on unknown IDs, unknown fields, duplicate targets
// or archived-state violations before anything is written.
func (c *Organizations) Update(ctx context.Context, requester *models.User, patches []Patch, opts Options) ([]*models.Organization, error) {
	out, err := c.update(ctx, requester, patches, opts)
	return out, apperrors.Normalize("orgs.update", err)
}

func (c *Organizations) update(ctx context.Context, requester *models.User, patches []Patch, opts Options) ([]*models.Organization, error) {
	if len(patches) == 0 {
		return nil, apperrors.DataFormat("no update objects supplied")
	}

	ids := make([]string, 0, len(patches))
	byTarget := make(map[string]Patch, len(patches))
	for _, p := range patches {
		id, err := p.ID()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		byTarget[id] = p
	}
	if dups := duplicateIDs(ids); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate organization ids in batch: %v", dups)
	}

	found, err := c.store.Find(ctx, models.KindOrganization, store.Query{IDs: ids}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, e := range found {
		exists[e.RefID()] = true
	}
	if missing := missingIDs(ids, exists); len(missing) > 0 {
		return nil, apperrors.NotFound("organizations not found", missing...)
	}

	now := c.now()
	updated := make([]models.Entity, 0, len(found))
	result := make([]*models.Organization, 0, len(found))
	for _, e := range found {
		org := e.(*models.Organization)
		patch := byTarget[org.ID]

		if err := c.perms.Check(requester, models.RoleWrite, org, nil); err != nil {
			return nil, err
		}
		if err := c.applyOrgPatch(ctx, requester, org, patch, now); err != nil {
			return nil, err
		}
		org.StampUpdate(requester.Username, now)
		updated = append(updated, org)
		result = append(result, org)
	}

	if err := c.bulkWrite(ctx, models.KindOrganization, updated); err != nil {
		return nil, err
	}
	if err := c.populate(ctx, updated, opts.Populate); err != nil {
		return nil, err
	}
	return result, nil
}

// applyOrgPatch validates and applies one patch onto a fetched organization.
func (c *Organizations) applyOrgPatch(ctx context.Context, requester *models.User, org *models.Organization, patch Patch, now time.Time) error {
	unarchive, err := checkArchivedFreeze(&org.Metadata, org.ID, patch)
	if err != nil {
		return err
	}
	if unarchive {
		org.SetArchived(false, requester.Username, now)
		return nil
	}
	if err := checkArchiveIsolation(patch); err != nil {
		return err
	}

	allowed := org.UpdatableFields()
	for key, val := range patch {
		if !allowedKey(key, allowed) {
			return apperrors.Operation("organization field %q cannot be changed", key)
		}
		switch key {
		case "id", "username":
			// addressing only
		case "name":
			name, err := stringField(key, val)
			if err != nil {
				return err
			}
			if org.ID == c.defaultOrg {
				return apperrors.Operation("the default organization cannot be renamed")
			}
			org.Name = name
		case "custom":
			patchData, err := customField(val)
			if err != nil {
				return err
			}
			org.Custom = models.MergeCustom(org.Custom, patchData)
		case "archived":
			b, err := boolField(key, val)
			if err != nil {
				return err
			}
			if b && org.ID == c.defaultOrg {
				return apperrors.Operation("the default organization cannot be archived")
			}
			org.SetArchived(b, requester.Username, now)
		case "permissions":
			updated, err := c.applyPermissionPatch(ctx, requester, val, org.Permissions, org, nil)
			if err != nil {
				return err
			}
			org.Permissions = updated
		}
	}
	return nil
}

// Remove hard-deletes organizations by ID, cascading to everything under each
// organization's scope. Hard delete is irreversible, so unlike other removals
// it requires admin at each organization; the default organization is never
// removable. Returns the removed documents for audit.
func (c *Organizations) Remove(ctx context.Context, requester *models.User, selector any, opts Options) ([]*models.Organization, error) {
	out, err := c.remove(ctx, requester, selector)
	return out, apperrors.Normalize("orgs.remove", err)
}

func (c *Organizations) remove(ctx context.Context, requester *models.User, selector any) ([]*models.Organization, error) {
	ids, all, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if all {
		// Destructive safety: removal always names its targets.
		return nil, apperrors.DataFormat("organization removal requires explicit ids")
	}
	if dups := duplicateIDs(ids); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate organization ids in batch: %v", dups)
	}

	found, err := c.store.Find(ctx, models.KindOrganization, store.Query{IDs: ids}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, e := range found {
		exists[e.RefID()] = true
	}
	if missing := missingIDs(ids, exists); len(missing) > 0 {
		return nil, apperrors.NotFound("organizations not found", missing...)
	}

	result := make([]*models.Organization, 0, len(found))
	for _, e := range found {
		org := e.(*models.Organization)
		if org.ID == c.defaultOrg {
			return nil, apperrors.Operation("the default organization cannot be deleted")
		}
		if err := c.perms.Check(requester, models.RoleAdmin, org, nil); err != nil {
			return nil, err
		}
		result = append(result, org)
	}

	for _, org := range result {
		if err := c.cascade.OrganizationRemoved(ctx, org.ID); err != nil {
			return nil, err
		}
	}
	if err := c.deleteByIDs(ctx, models.KindOrganization, ids); err != nil {
		return nil, err
	}
	return result, nil
}
