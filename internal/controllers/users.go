// users.go implements the batch CRUD controller for users. User administration
// is hardened: creation and removal are reserved for system administrators,
// while any active principal may look users up and edit their own profile
// fields. New users are enrolled into the deployment's default organization
// with read access, with a compensating delete if that enrollment fails.
package controllers

import (
	"context"
	"log/slog"
	"time"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/cascade"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Users is the batch CRUD controller for the user kind.
type Users struct {
	deps
	cascade    *cascade.Coordinator
	defaultOrg string
}

// NewUsers wires a user controller. New users are granted read on defaultOrg.
func NewUsers(s store.Store, r *permissions.Resolver, c *cascade.Coordinator, defaultOrg string) *Users {
	return &Users{deps: newDeps(s, r), cascade: c, defaultOrg: defaultOrg}
}

// requireActive rejects missing or archived principals. User lookups are not
// permission-scoped beyond that.
func requireActive(requester *models.User) error {
	if requester == nil {
		return apperrors.Permission("no requesting principal")
	}
	if requester.Archived {
		return apperrors.Permission("user %q is archived", requester.Username)
	}
	return nil
}

// Find returns users by username selector. Any active principal may search
// the user directory.
func (c *Users) Find(ctx context.Context, requester *models.User, selector any, opts Options) ([]*models.User, error) {
	out, err := c.find(ctx, requester, selector, opts)
	return out, apperrors.Normalize("users.find", err)
}

func (c *Users) find(ctx context.Context, requester *models.User, selector any, opts Options) ([]*models.User, error) {
	if err := requireActive(requester); err != nil {
		return nil, err
	}
	ids, _, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if err := validateConditions(opts.Conditions, "fname", "lname", "email", "createdBy"); err != nil {
		return nil, err
	}

	q := store.Query{IDs: ids, Archived: opts.archivedFilter(), Conditions: opts.Conditions}
	found, err := c.store.Find(ctx, models.KindUser, q, store.FindOptions{
		Skip: opts.Skip, Limit: opts.Limit, Sort: opts.Sort,
	})
	if err != nil {
		return nil, err
	}
	users := make([]*models.User, 0, len(found))
	for _, e := range found {
		users = append(users, e.(*models.User))
	}
	if err := c.populate(ctx, found, opts.Populate); err != nil {
		return nil, err
	}
	return users, nil
}

// Create inserts new users in one all-or-nothing batch and enrolls each into
// the default organization with read access. System administrators only. If
// the enrollment write fails, the created users are deleted again so no
// half-provisioned principals remain.
func (c *Users) Create(ctx context.Context, requester *models.User, users []*models.User, opts Options) ([]*models.User, error) {
	out, err := c.create(ctx, requester, users, opts)
	return out, apperrors.Normalize("users.create", err)
}

func (c *Users) create(ctx context.Context, requester *models.User, users []*models.User, opts Options) ([]*models.User, error) {
	if len(users) == 0 {
		return nil, apperrors.DataFormat("no users supplied")
	}
	if err := c.perms.CheckSystemAdmin(requester); err != nil {
		return nil, err
	}

	usernames := make([]string, 0, len(users))
	for _, u := range users {
		if err := u.Validate(); err != nil {
			return nil, err
		}
		usernames = append(usernames, u.Username)
	}
	if dups := duplicateIDs(usernames); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate usernames in batch: %v", dups)
	}

	existing, err := c.store.Find(ctx, models.KindUser, store.Query{IDs: usernames}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		conflicts := make([]string, 0, len(existing))
		for _, e := range existing {
			conflicts = append(conflicts, e.RefID())
		}
		return nil, apperrors.Conflict("users already exist", conflicts...)
	}

	now := c.now()
	entities := make([]models.Entity, 0, len(users))
	for _, u := range users {
		preArchived := u.Archived
		u.Metadata = models.Metadata{}
		u.StampCreate(requester.Username, now)
		if preArchived {
			u.SetArchived(true, requester.Username, now)
		}
		entities = append(entities, u)
	}
	if err := c.store.InsertMany(ctx, models.KindUser, entities); err != nil {
		return nil, err
	}

	if err := c.enrollDefaultOrg(ctx, usernames); err != nil {
		// Compensating delete keeps user provisioning all-or-nothing.
		if _, derr := c.store.DeleteMany(ctx, models.KindUser, store.Query{IDs: usernames}); derr != nil {
			return nil, apperrors.Server(derr, "failed to roll back users after enrollment error: %v", err)
		}
		return nil, err
	}
	if err := c.populate(ctx, entities, opts.Populate); err != nil {
		return nil, err
	}
	return users, nil
}

// enrollDefaultOrg grants each new username write (which carries read) on
// the default organization. A deployment without its default organization
// logs a warning and skips enrollment rather than failing user provisioning.
func (c *Users) enrollDefaultOrg(ctx context.Context, usernames []string) error {
	e, err := c.store.FindOne(ctx, models.KindOrganization, c.defaultOrg)
	if err != nil {
		return err
	}
	if e == nil {
		slog.Warn("default organization missing, skipping enrollment", "org", c.defaultOrg, "users", usernames)
		return nil
	}
	org := e.(*models.Organization)
	if org.Permissions == nil {
		org.Permissions = models.PermissionMap{}
	}
	for _, u := range usernames {
		if _, ok := org.Permissions[u]; !ok {
			org.Permissions[u] = models.RoleWrite
		}
	}
	_, err = c.store.BulkWrite(ctx, models.KindOrganization, []models.Entity{org})
	return err
}

// Update applies a batch of patch objects, each addressing one user by
// username. A principal may edit their own profile fields; everything else,
// and the admin and archived flags in particular, is system-admin territory.
func (c *Users) Update(ctx context.Context, requester *models.User, patches []Patch, opts Options) ([]*models.User, error) {
	out, err := c.update(ctx, requester, patches, opts)
	return out, apperrors.Normalize("users.update", err)
}

func (c *Users) update(ctx context.Context, requester *models.User, patches []Patch, opts Options) ([]*models.User, error) {
	if len(patches) == 0 {
		return nil, apperrors.DataFormat("no update objects supplied")
	}
	if err := requireActive(requester); err != nil {
		return nil, err
	}

	usernames := make([]string, 0, len(patches))
	byTarget := make(map[string]Patch, len(patches))
	for _, p := range patches {
		username, err := p.ID()
		if err != nil {
			return nil, err
		}
		usernames = append(usernames, username)
		byTarget[username] = p
	}
	if dups := duplicateIDs(usernames); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate usernames in batch: %v", dups)
	}

	found, err := c.store.Find(ctx, models.KindUser, store.Query{IDs: usernames}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, e := range found {
		exists[e.RefID()] = true
	}
	if missing := missingIDs(usernames, exists); len(missing) > 0 {
		return nil, apperrors.NotFound("users not found", missing...)
	}

	now := c.now()
	updated := make([]models.Entity, 0, len(found))
	result := make([]*models.User, 0, len(found))
	for _, e := range found {
		user := e.(*models.User)
		patch := byTarget[user.Username]

		if !requester.Admin && requester.Username != user.Username {
			return nil, apperrors.Permission("user %q cannot update user %q", requester.Username, user.Username)
		}
		if err := c.applyUserPatch(requester, user, patch, now); err != nil {
			return nil, err
		}
		user.StampUpdate(requester.Username, now)
		updated = append(updated, user)
		result = append(result, user)
	}

	if err := c.bulkWrite(ctx, models.KindUser, updated); err != nil {
		return nil, err
	}
	if err := c.populate(ctx, updated, opts.Populate); err != nil {
		return nil, err
	}
	return result, nil
}

// applyUserPatch validates and applies one patch onto a fetched user.
func (c *Users) applyUserPatch(requester *models.User, user *models.User, patch Patch, now time.Time) error {
	unarchive, err := checkArchivedFreeze(&user.Metadata, user.Username, patch)
	if err != nil {
		return err
	}
	if unarchive {
		if !requester.Admin {
			return apperrors.Permission("only system administrators may unarchive users")
		}
		user.SetArchived(false, requester.Username, now)
		return nil
	}
	if err := checkArchiveIsolation(patch); err != nil {
		return err
	}

	allowed := user.UpdatableFields()
	for key, val := range patch {
		if !allowedKey(key, allowed) {
			return apperrors.Operation("user field %q cannot be changed", key)
		}
		switch key {
		case "id", "username":
			// addressing only
		case "fname":
			s, err := stringField(key, val)
			if err != nil {
				return err
			}
			user.FName = s
		case "lname":
			s, err := stringField(key, val)
			if err != nil {
				return err
			}
			user.LName = s
		case "email":
			s, err := stringField(key, val)
			if err != nil {
				return err
			}
			user.Email = s
		case "custom":
			patchData, err := customField(val)
			if err != nil {
				return err
			}
			user.Custom = models.MergeCustom(user.Custom, patchData)
		case "archived":
			b, err := boolField(key, val)
			if err != nil {
				return err
			}
			if !requester.Admin {
				return apperrors.Permission("only system administrators may archive users")
			}
			user.SetArchived(b, requester.Username, now)
		case "admin":
			b, err := boolField(key, val)
			if err != nil {
				return err
			}
			if !requester.Admin {
				return apperrors.Permission("only system administrators may change the admin flag")
			}
			if requester.Username == user.Username {
				return apperrors.Permission("user %q cannot change their own admin flag", user.Username)
			}
			user.Admin = b
		}
	}
	return nil
}

// Remove hard-deletes users by username. System administrators only; a
// principal can never delete themselves. The removed users' permission entries
// are stripped from every organization and project best-effort. Returns the
// removed documents for audit.
func (c *Users) Remove(ctx context.Context, requester *models.User, selector any, opts Options) ([]*models.User, error) {
	out, err := c.remove(ctx, requester, selector)
	return out, apperrors.Normalize("users.remove", err)
}

func (c *Users) remove(ctx context.Context, requester *models.User, selector any) ([]*models.User, error) {
	if err := c.perms.CheckSystemAdmin(requester); err != nil {
		return nil, err
	}
	usernames, all, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if all {
		return nil, apperrors.DataFormat("user removal requires explicit usernames")
	}
	if dups := duplicateIDs(usernames); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate usernames in batch: %v", dups)
	}
	for _, u := range usernames {
		if u == requester.Username {
			return nil, apperrors.Permission("user %q cannot delete themselves", u)
		}
	}

	found, err := c.store.Find(ctx, models.KindUser, store.Query{IDs: usernames}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, e := range found {
		exists[e.RefID()] = true
	}
	if missing := missingIDs(usernames, exists); len(missing) > 0 {
		return nil, apperrors.NotFound("users not found", missing...)
	}

	result := make([]*models.User, 0, len(found))
	for _, e := range found {
		result = append(result, e.(*models.User))
	}

	for _, u := range usernames {
		c.cascade.UserRemoved(ctx, u)
	}
	if err := c.deleteByIDs(ctx, models.KindUser, usernames); err != nil {
		return nil, err
	}
	return result, nil
}
