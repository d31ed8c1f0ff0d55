package controllers

import (
	"context"
	"testing"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/cascade"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/store"
	"github.com/lmco/mcf-sub003/internal/store/memstore"
)

func newProjectController(s store.Store) *Projects {
	return NewProjects(s, permissions.New(), cascade.New(s))
}

func seedProject(t *testing.T, s store.Store, id string, visibility string, perms models.PermissionMap) *models.Project {
	t.Helper()
	proj := &models.Project{ID: id, Name: id, Org: orgOf(id), Visibility: visibility, Permissions: perms}
	proj.StampCreate("root", testNow())
	if err := s.InsertMany(context.Background(), models.KindProject, []models.Entity{proj}); err != nil {
		t.Fatalf("failed to seed project %s: %v", id, err)
	}
	return proj
}

func orgOf(projectID string) string {
	for i := 0; i < len(projectID); i++ {
		if projectID[i] == ':' {
			return projectID[:i]
		}
	}
	return projectID
}

func TestProjectsCreateSeedsDefaultBranch(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newProjectController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleWrite})

	projects, err := c.Create(ctx, regularUser("alice"), "eng",
		[]*models.Project{{ID: "rocket", Name: "Rocket", Visibility: models.VisibilityPrivate}}, Options{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "eng:rocket" {
		t.Fatalf("short id should have been qualified, got %v", projects)
	}
	if projects[0].Permissions["alice"] != models.RoleAdmin {
		t.Errorf("creator should hold admin on the new project, got %q", projects[0].Permissions["alice"])
	}

	branch, err := s.FindOne(ctx, models.KindBranch, "eng:rocket:master")
	if err != nil {
		t.Fatalf("find branch failed: %v", err)
	}
	if branch == nil {
		t.Fatal("default branch was not seeded")
	}
	if b := branch.(*models.Branch); b.Project != "eng:rocket" || b.Name != models.DefaultBranch {
		t.Errorf("seeded branch wrong: %+v", b)
	}
}

func TestProjectsCreateRequiresOrgWrite(t *testing.T) {
	s := memstore.New()
	c := newProjectController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleRead})

	_, err := c.Create(context.Background(), regularUser("alice"), "eng",
		[]*models.Project{{ID: "rocket", Name: "Rocket", Visibility: models.VisibilityPrivate}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestProjectsCreateInUnknownOrg(t *testing.T) {
	s := memstore.New()
	c := newProjectController(s)

	_, err := c.Create(context.Background(), sysadmin(), "ghost",
		[]*models.Project{{ID: "rocket", Name: "Rocket", Visibility: models.VisibilityPrivate}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestProjectsCreateInArchivedOrg(t *testing.T) {
	s := memstore.New()
	c := newProjectController(s)
	org := seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleWrite})
	org.SetArchived(true, "root", testNow())
	if _, err := s.BulkWrite(context.Background(), models.KindOrganization, []models.Entity{org}); err != nil {
		t.Fatalf("seed update failed: %v", err)
	}

	_, err := c.Create(context.Background(), regularUser("alice"), "eng",
		[]*models.Project{{ID: "rocket", Name: "Rocket", Visibility: models.VisibilityPrivate}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindOperation) {
		t.Fatalf("expected operation error, got %v", err)
	}
}

func TestProjectsCreateConflict(t *testing.T) {
	s := memstore.New()
	c := newProjectController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleWrite})
	seedProject(t, s, "eng:rocket", models.VisibilityPrivate, models.PermissionMap{"alice": models.RoleAdmin})

	_, err := c.Create(context.Background(), regularUser("alice"), "eng", []*models.Project{
		{ID: "rover", Name: "Rover", Visibility: models.VisibilityPrivate},
		{ID: "rocket", Name: "Rocket", Visibility: models.VisibilityPrivate},
	}, Options{})
	appErr := apperrors.As(err)
	if appErr == nil || !appErr.Conflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if len(appErr.IDs) != 1 || appErr.IDs[0] != "eng:rocket" {
		t.Errorf("conflict should name eng:rocket, got %v", appErr.IDs)
	}
	got, _ := s.FindOne(context.Background(), models.KindProject, "eng:rover")
	if got != nil {
		t.Error("conflicting batch wrote a sibling document")
	}
}

func TestProjectsInternalVisibilityReadFallback(t *testing.T) {
	s := memstore.New()
	c := newProjectController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"bob": models.RoleRead})
	seedProject(t, s, "eng:open", models.VisibilityInternal, models.PermissionMap{"alice": models.RoleAdmin})
	seedProject(t, s, "eng:closed", models.VisibilityPrivate, models.PermissionMap{"alice": models.RoleAdmin})

	// bob has org read but no project entries: internal is visible, private not.
	projects, err := c.Find(context.Background(), regularUser("bob"), "eng", nil, Options{})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "eng:open" {
		t.Fatalf("expected only the internal project, got %d results", len(projects))
	}
}

func TestProjectsCrossOrgFindRequiresQualifiedIDs(t *testing.T) {
	s := memstore.New()
	c := newProjectController(s)

	_, err := c.Find(context.Background(), sysadmin(), "", "rocket", Options{})
	if !apperrors.IsKind(err, apperrors.KindDataFormat) {
		t.Fatalf("expected data format error, got %v", err)
	}
}

func TestProjectsFindRejectsForeignID(t *testing.T) {
	s := memstore.New()
	c := newProjectController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleRead})

	_, err := c.Find(context.Background(), regularUser("alice"), "eng", "sales:crm", Options{})
	if !apperrors.IsKind(err, apperrors.KindDataFormat) {
		t.Fatalf("expected data format error for foreign id, got %v", err)
	}
}

func TestProjectsUpdateVisibility(t *testing.T) {
	s := memstore.New()
	c := newProjectController(s)
	seedOrg(t, s, "eng", models.PermissionMap{})
	seedProject(t, s, "eng:rocket", models.VisibilityPrivate, models.PermissionMap{"alice": models.RoleWrite})

	projects, err := c.Update(context.Background(), regularUser("alice"), "eng", []Patch{{
		"id": "rocket", "visibility": "internal",
	}}, Options{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if projects[0].Visibility != models.VisibilityInternal {
		t.Errorf("visibility not updated: %q", projects[0].Visibility)
	}

	_, err = c.Update(context.Background(), regularUser("alice"), "eng", []Patch{{
		"id": "rocket", "visibility": "public",
	}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindDataFormat) {
		t.Fatalf("expected data format error for bad visibility, got %v", err)
	}
}

func TestProjectsUpdateOrgAdminImpliesProjectAdmin(t *testing.T) {
	s := memstore.New()
	c := newProjectController(s)
	seedUsers(t, s, "bob")
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})
	seedProject(t, s, "eng:rocket", models.VisibilityPrivate, models.PermissionMap{})

	// alice holds no project entry, but org admin governs the project too.
	projects, err := c.Update(context.Background(), regularUser("alice"), "eng", []Patch{{
		"id": "rocket", "permissions": map[string]any{"bob": "read"},
	}}, Options{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if projects[0].Permissions["bob"] != models.RoleRead {
		t.Errorf("bob should hold read on the project, got %q", projects[0].Permissions["bob"])
	}
}

func TestProjectsRemoveCascades(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newProjectController(s)
	seedOrg(t, s, "eng", models.PermissionMap{})
	seedProject(t, s, "eng:rocket", models.VisibilityPrivate, models.PermissionMap{"alice": models.RoleWrite})

	branch := &models.Branch{ID: "eng:rocket:master", Name: "master", Project: "eng:rocket"}
	branch.StampCreate("alice", testNow())
	if err := s.InsertMany(ctx, models.KindBranch, []models.Entity{branch}); err != nil {
		t.Fatalf("failed to seed branch: %v", err)
	}

	removed, err := c.Remove(ctx, regularUser("alice"), "eng", "rocket", Options{})
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != "eng:rocket" {
		t.Fatalf("expected the removed project back, got %v", removed)
	}

	if got, _ := s.FindOne(ctx, models.KindProject, "eng:rocket"); got != nil {
		t.Error("project should be gone")
	}
	if got, _ := s.FindOne(ctx, models.KindBranch, "eng:rocket:master"); got != nil {
		t.Error("branch should have been cascaded away")
	}
}

func TestProjectsArchiveDoesNotCascade(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newProjectController(s)
	seedOrg(t, s, "eng", models.PermissionMap{})
	seedProject(t, s, "eng:rocket", models.VisibilityPrivate, models.PermissionMap{"alice": models.RoleWrite})

	branch := &models.Branch{ID: "eng:rocket:master", Name: "master", Project: "eng:rocket"}
	branch.StampCreate("alice", testNow())
	if err := s.InsertMany(ctx, models.KindBranch, []models.Entity{branch}); err != nil {
		t.Fatalf("failed to seed branch: %v", err)
	}

	projects, err := c.Update(ctx, regularUser("alice"), "eng", []Patch{{
		"id": "rocket", "archived": true,
	}}, Options{})
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if !projects[0].Archived {
		t.Fatal("project should be archived")
	}

	got, err := s.FindOne(ctx, models.KindBranch, "eng:rocket:master")
	if err != nil {
		t.Fatalf("find branch failed: %v", err)
	}
	if got == nil {
		t.Error("archive must not remove descendants")
	}
	if got.(*models.Branch).Archived {
		t.Error("archive must not propagate to descendants")
	}
}
