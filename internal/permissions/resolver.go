// Package permissions implements the layered role-based access checks every
// batch CRUD controller performs before touching the store. The resolver walks
// the most specific provided scope first: a branch is governed by its
// containing project's permission map; a project by its own map (with an
// organization fallback for reads on internally visible projects); an
// organization by its own map. System-wide administrators bypass the maps
// entirely. A principal can never modify or remove its own permission entry.
package permissions

import (
	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
)

// Resolver performs permission checks. It is stateless; the caller supplies
// the already-resolved scope chain so the resolver issues no store queries of
// its own.
type Resolver struct{}

// New returns a Resolver.
func New() *Resolver { return &Resolver{} }

// Check verifies that principal holds at least the required role at the scope
// described by (org, project). Pass project == nil for organization-scope
// operations; branch-scope operations pass the branch's containing project
// since the project map governs branches. Returns a PermissionError on
// denial, nil on success.
func (r *Resolver) Check(principal *models.User, required models.Role, org *models.Organization, project *models.Project) error {
	if principal == nil {
		return apperrors.Permission("no requesting principal")
	}
	if principal.Archived {
		return apperrors.Permission("user %q is archived", principal.Username)
	}
	if principal.Admin {
		return nil
	}

	if project != nil {
		if project.Permissions.Has(principal.Username, required) {
			return nil
		}
		// Organization admins hold implicit admin on every contained project.
		if org != nil && org.Permissions.Has(principal.Username, models.RoleAdmin) {
			return nil
		}
		// Internally visible projects grant read to anyone who can read the
		// owning organization.
		if required == models.RoleRead && project.Visibility == models.VisibilityInternal &&
			org != nil && org.Permissions.Has(principal.Username, models.RoleRead) {
			return nil
		}
		return apperrors.Permission("user %q does not have %s access on project %q",
			principal.Username, required, project.ID)
	}

	if org == nil {
		// Scope-less targets (system-wide webhooks, user administration) are
		// reserved for system administrators, already handled above.
		return apperrors.Permission("user %q does not have system-level %s access",
			principal.Username, required)
	}
	if org.Permissions.Has(principal.Username, required) {
		return nil
	}
	return apperrors.Permission("user %q does not have %s access on org %q",
		principal.Username, required, org.ID)
}

// CheckSystemAdmin verifies the principal is a system-wide administrator.
// Used for the hardened operations: user creation/deletion and system-scoped
// webhooks.
func (r *Resolver) CheckSystemAdmin(principal *models.User) error {
	if principal == nil {
		return apperrors.Permission("no requesting principal")
	}
	if principal.Archived {
		return apperrors.Permission("user %q is archived", principal.Username)
	}
	if !principal.Admin {
		return apperrors.Permission("user %q is not a system administrator", principal.Username)
	}
	return nil
}

// CheckPermissionChange verifies that principal may change target's role in
// the given permission map: admin on the scope is required, and changing one's
// own entry is always denied regardless of role, to rule out both privilege
// escalation and self-lockout.
func (r *Resolver) CheckPermissionChange(principal *models.User, target string, org *models.Organization, project *models.Project) error {
	if principal != nil && principal.Username == target {
		return apperrors.Permission("user %q cannot change their own permissions", target)
	}
	return r.Check(principal, models.RoleAdmin, org, project)
}

// Readable reports whether principal can read the scoped entity without
// surfacing an error; find operations use it to silently drop inaccessible
// results.
func (r *Resolver) Readable(principal *models.User, org *models.Organization, project *models.Project) bool {
	return r.Check(principal, models.RoleRead, org, project) == nil
}
