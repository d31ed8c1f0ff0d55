// controller.go holds the plumbing shared by every batch CRUD controller:
// scope lookups, the JMI id-index conversion, permission-map patch
// application, the archived-state freeze rule, reference population and
// metadata stamping.
package controllers

import (
	"context"
	"log/slog"
	"time"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Patch is one raw update object. Key presence matters (a patch that omits
// "name" leaves the name alone), so updates stay maps rather than typed
// structs until validated.
type Patch map[string]any

// ID extracts the mandatory target ID of a patch.
func (p Patch) ID() (string, error) {
	v, ok := p["id"]
	if !ok {
		// Users address documents by username.
		if v, ok = p["username"]; !ok {
			return "", apperrors.DataFormat("update object is missing its id")
		}
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", apperrors.DataFormat("update object id must be a non-empty string")
	}
	return id, nil
}

// deps bundles what every controller needs. The clock is injectable so tests
// control metadata timestamps.
type deps struct {
	store store.Store
	perms *permissions.Resolver
	now   func() time.Time
}

func newDeps(s store.Store, r *permissions.Resolver) deps {
	return deps{store: s, perms: r, now: time.Now}
}

// lookupOrg fetches an organization scope component, distinguishing "absent"
// from store failure.
func (d deps) lookupOrg(ctx context.Context, orgID string) (*models.Organization, error) {
	e, err := d.store.FindOne(ctx, models.KindOrganization, orgID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperrors.NotFound("organization not found", orgID)
	}
	return e.(*models.Organization), nil
}

// lookupProject fetches a project scope component by composite ID.
func (d deps) lookupProject(ctx context.Context, projectID string) (*models.Project, error) {
	e, err := d.store.FindOne(ctx, models.KindProject, projectID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperrors.NotFound("project not found", projectID)
	}
	return e.(*models.Project), nil
}

// indexByID converts a batch of entities into a map keyed by reference ID for
// O(1) lookups during update and validation passes.
func indexByID[E models.Entity](entities []E) map[string]E {
	m := make(map[string]E, len(entities))
	for _, e := range entities {
		m[e.RefID()] = e
	}
	return m
}

// checkArchivedFreeze enforces the archived-state lock: an archived document
// accepts exactly one update shape, {id, archived: false}. Anything else is an
// Operation error. Returns true when the patch is that exact unarchive.
func checkArchivedFreeze(meta *models.Metadata, id string, patch Patch) (unarchive bool, err error) {
	if !meta.Archived {
		return false, nil
	}
	archVal, hasArchived := patch["archived"]
	wantsUnarchive := false
	if hasArchived {
		b, ok := archVal.(bool)
		if !ok {
			return false, apperrors.DataFormat("field archived must be a boolean")
		}
		wantsUnarchive = !b
	}
	for key := range patch {
		switch key {
		case "id", "username", "archived":
		default:
			return false, apperrors.Operation("%q is archived; unarchive it before changing other fields", id)
		}
	}
	if !wantsUnarchive {
		return false, apperrors.Operation("%q is archived and cannot be updated", id)
	}
	return true, nil
}

// checkArchiveIsolation rejects a patch that sets archived=true alongside
// other semantic field changes. Archiving is a standalone transition; a
// document entering the archived state is already frozen, so the combined
// changes would never be editable again through the normal update path.
func checkArchiveIsolation(patch Patch) error {
	v, ok := patch["archived"]
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok || !b {
		// Non-boolean values fail field coercion later.
		return nil
	}
	for key := range patch {
		switch key {
		case "id", "username", "archived":
		default:
			return apperrors.Operation("archiving cannot be combined with other field changes (%q)", key)
		}
	}
	return nil
}

// allowedKey reports whether key is on the kind's update allow-list. The id
// key addresses the target and always passes.
func allowedKey(key string, allowed []string) bool {
	if key == "id" || key == "username" {
		return true
	}
	for _, a := range allowed {
		if key == a {
			return true
		}
	}
	return false
}

// stringField coerces a patch value that must be a string.
func stringField(key string, val any) (string, error) {
	s, ok := val.(string)
	if !ok {
		return "", apperrors.DataFormat("field %s must be a string, got %T", key, val)
	}
	return s, nil
}

// boolField coerces a patch value that must be a boolean.
func boolField(key string, val any) (bool, error) {
	b, ok := val.(bool)
	if !ok {
		return false, apperrors.DataFormat("field %s must be a boolean, got %T", key, val)
	}
	return b, nil
}

// customField coerces a patch value that must be a custom-data object.
func customField(val any) (models.Custom, error) {
	switch v := val.(type) {
	case map[string]any:
		return models.Custom(v), nil
	case models.Custom:
		return v, nil
	default:
		return nil, apperrors.DataFormat("field custom must be an object, got %T", val)
	}
}

// applyPermissionPatch validates and applies a permissions update object
// (username -> role, or the "remove_all" directive) onto a working copy of the
// scope's permission map. Every entry change is individually authorized
// through the resolver, target principals must exist, and self-changes are
// denied.
func (d deps) applyPermissionPatch(ctx context.Context, requester *models.User, val any,
	current models.PermissionMap, org *models.Organization, project *models.Project) (models.PermissionMap, error) {

	rawMap, ok := val.(map[string]any)
	if !ok {
		return nil, apperrors.DataFormat("field permissions must be an object, got %T", val)
	}

	updated := current.Clone()
	var targets []string
	for username, roleVal := range rawMap {
		roleStr, ok := roleVal.(string)
		if !ok {
			return nil, apperrors.DataFormat("permission for %q must be a role string, got %T", username, roleVal)
		}
		if err := d.perms.CheckPermissionChange(requester, username, org, project); err != nil {
			return nil, err
		}
		if roleStr == "remove_all" {
			delete(updated, username)
			continue
		}
		role := models.Role(roleStr)
		if !role.Valid() {
			return nil, apperrors.DataFormat("invalid role %q for %q (valid: read, write, admin, remove_all)", roleStr, username)
		}
		updated[username] = role
		targets = append(targets, username)
	}

	// Granting a role to a nonexistent principal would strand a dangling map
	// entry; removing one is how dangling entries get cleaned up.
	if len(targets) > 0 {
		found, err := d.store.Find(ctx, models.KindUser, store.Query{IDs: targets}, store.FindOptions{})
		if err != nil {
			return nil, err
		}
		exists := make(map[string]bool, len(found))
		for _, u := range found {
			exists[u.RefID()] = true
		}
		if missing := missingIDs(targets, exists); len(missing) > 0 {
			return nil, apperrors.NotFound("users not found", missing...)
		}
	}
	return updated, nil
}

// populate eagerly resolves the requested reference fields (createdBy,
// lastModifiedBy, archivedBy) into each entity's Populated map.
func (d deps) populate(ctx context.Context, entities []models.Entity, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	for _, f := range fields {
		switch f {
		case "createdBy", "lastModifiedBy", "archivedBy":
		default:
			return apperrors.DataFormat("field %q cannot be populated (valid: createdBy, lastModifiedBy, archivedBy)", f)
		}
	}

	// One batched user fetch for the whole result set.
	wanted := make(map[string]bool)
	for _, e := range entities {
		meta := e.Meta()
		for _, f := range fields {
			if ref := metaRef(meta, f); ref != "" {
				wanted[ref] = true
			}
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	users, err := d.store.Find(ctx, models.KindUser, store.Query{IDs: ids}, store.FindOptions{})
	if err != nil {
		return err
	}
	byID := indexByID(users)

	for _, e := range entities {
		meta := e.Meta()
		for _, f := range fields {
			ref := metaRef(meta, f)
			if ref == "" {
				continue
			}
			if u, ok := byID[ref]; ok {
				if meta.Populated == nil {
					meta.Populated = make(map[string]any, len(fields))
				}
				meta.Populated[f] = u
			}
		}
	}
	return nil
}

func metaRef(meta *models.Metadata, field string) string {
	switch field {
	case "createdBy":
		return meta.CreatedBy
	case "lastModifiedBy":
		return meta.LastModifiedBy
	case "archivedBy":
		return meta.ArchivedBy
	default:
		return ""
	}
}

// bulkWrite submits the batch and logs (rather than fails on) a
// requested-vs-written discrepancy: the documents that did apply are valid and
// useful, and the absent ones cannot be written twice.
func (d deps) bulkWrite(ctx context.Context, kind models.Kind, entities []models.Entity) error {
	res, err := d.store.BulkWrite(ctx, kind, entities)
	if err != nil {
		return err
	}
	if res.Matched != int64(len(entities)) {
		slog.Warn("bulk write count mismatch",
			"kind", kind, "requested", len(entities), "matched", res.Matched, "modified", res.Modified)
	}
	return nil
}

// deleteByIDs removes the named documents and logs (rather than fails on) a
// requested-vs-deleted discrepancy, mirroring bulkWrite.
func (d deps) deleteByIDs(ctx context.Context, kind models.Kind, ids []string) error {
	n, err := d.store.DeleteMany(ctx, kind, store.Query{IDs: ids})
	if err != nil {
		return err
	}
	if n != int64(len(ids)) {
		slog.Warn("delete count mismatch", "kind", kind, "requested", len(ids), "deleted", n)
	}
	return nil
}
