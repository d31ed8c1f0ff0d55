package controllers

import (
	"context"
	"testing"
	"time"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/cascade"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/store"
	"github.com/lmco/mcf-sub003/internal/store/memstore"
)

const testDefaultOrg = "default"

func testNow() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func newOrgController(s store.Store) *Organizations {
	return NewOrganizations(s, permissions.New(), cascade.New(s), testDefaultOrg)
}

func sysadmin() *models.User {
	return &models.User{Username: "root", Admin: true}
}

func regularUser(name string) *models.User {
	return &models.User{Username: name}
}

func seedUsers(t *testing.T, s store.Store, usernames ...string) {
	t.Helper()
	entities := make([]models.Entity, 0, len(usernames))
	for _, u := range usernames {
		entities = append(entities, &models.User{Username: u})
	}
	if err := s.InsertMany(context.Background(), models.KindUser, entities); err != nil {
		t.Fatalf("failed to seed users: %v", err)
	}
}

func seedOrg(t *testing.T, s store.Store, id string, perms models.PermissionMap) *models.Organization {
	t.Helper()
	org := &models.Organization{ID: id, Name: id, Permissions: perms}
	org.StampCreate("root", testNow())
	if err := s.InsertMany(context.Background(), models.KindOrganization, []models.Entity{org}); err != nil {
		t.Fatalf("failed to seed org %s: %v", id, err)
	}
	return org
}

func TestOrganizationsCreateRequiresSystemAdmin(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)

	_, err := c.Create(context.Background(), regularUser("alice"),
		[]*models.Organization{{ID: "eng", Name: "Engineering"}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestOrganizationsCreate(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)

	orgs, err := c.Create(context.Background(), sysadmin(),
		[]*models.Organization{{ID: "eng", Name: "Engineering"}}, Options{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(orgs) != 1 {
		t.Fatalf("expected 1 org, got %d", len(orgs))
	}
	org := orgs[0]
	if org.Permissions["root"] != models.RoleAdmin {
		t.Errorf("creator should hold admin, got %q", org.Permissions["root"])
	}
	if org.CreatedBy != "root" || org.LastModifiedBy != "root" {
		t.Errorf("metadata not stamped: %+v", org.Metadata)
	}
	if org.Archived {
		t.Error("new org should not be archived")
	}
}

func TestOrganizationsCreateDuplicateIDsInBatch(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)

	_, err := c.Create(context.Background(), sysadmin(), []*models.Organization{
		{ID: "eng", Name: "Engineering"},
		{ID: "eng", Name: "Engineering Again"},
	}, Options{})
	if !apperrors.IsKind(err, apperrors.KindDataFormat) {
		t.Fatalf("expected data format error for duplicate ids, got %v", err)
	}
}

func TestOrganizationsCreateConflictIsAllOrNothing(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"root": models.RoleAdmin})

	_, err := c.Create(context.Background(), sysadmin(), []*models.Organization{
		{ID: "sales", Name: "Sales"},
		{ID: "eng", Name: "Engineering"},
	}, Options{})
	appErr := apperrors.As(err)
	if appErr == nil || !appErr.Conflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if len(appErr.IDs) != 1 || appErr.IDs[0] != "eng" {
		t.Errorf("conflict should name eng, got %v", appErr.IDs)
	}

	// The non-conflicting sibling must not have been written.
	got, err := s.FindOne(context.Background(), models.KindOrganization, "sales")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got != nil {
		t.Error("conflicting batch wrote a sibling document")
	}
}

func TestOrganizationsFindFiltersUnreadable(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleRead})
	seedOrg(t, s, "sales", models.PermissionMap{"bob": models.RoleRead})

	orgs, err := c.Find(context.Background(), regularUser("alice"), nil, Options{})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(orgs) != 1 || orgs[0].ID != "eng" {
		t.Fatalf("expected only eng to be visible, got %d results", len(orgs))
	}
}

func TestOrganizationsFindEmptyResultIsNotError(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)

	orgs, err := c.Find(context.Background(), regularUser("alice"), nil, Options{})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(orgs) != 0 {
		t.Fatalf("expected empty result, got %d", len(orgs))
	}
}

func TestOrganizationsUpdateCustomMerge(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	org := seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleWrite})
	org.Custom = models.Custom{"keep": "old", "drop": "old", "replace": "old"}
	if _, err := s.BulkWrite(context.Background(), models.KindOrganization, []models.Entity{org}); err != nil {
		t.Fatalf("seed update failed: %v", err)
	}

	orgs, err := c.Update(context.Background(), regularUser("alice"), []Patch{{
		"id":     "eng",
		"custom": map[string]any{"replace": "new", "drop": nil, "added": true},
	}}, Options{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	custom := orgs[0].Custom
	if custom["keep"] != "old" || custom["replace"] != "new" || custom["added"] != true {
		t.Errorf("merge result wrong: %v", custom)
	}
	if _, ok := custom["drop"]; ok {
		t.Error("nil-valued key should have been deleted")
	}
}

func TestOrganizationsUpdateRejectsImmutableField(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleWrite})

	_, err := c.Update(context.Background(), regularUser("alice"), []Patch{{
		"id": "eng", "createdBy": "mallory",
	}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindOperation) {
		t.Fatalf("expected operation error, got %v", err)
	}
}

func TestOrganizationsUpdateUnknownIDFailsBatch(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleWrite})

	_, err := c.Update(context.Background(), regularUser("alice"), []Patch{
		{"id": "eng", "name": "Renamed"},
		{"id": "ghost", "name": "Nope"},
	}, Options{})
	appErr := apperrors.As(err)
	if appErr == nil || appErr.Kind != apperrors.KindNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
	if len(appErr.IDs) != 1 || appErr.IDs[0] != "ghost" {
		t.Errorf("error should name ghost, got %v", appErr.IDs)
	}

	// Whole batch rejected: the valid target keeps its old name.
	got, _ := s.FindOne(context.Background(), models.KindOrganization, "eng")
	if got.(*models.Organization).Name != "eng" {
		t.Error("partial update applied despite batch failure")
	}
}

func TestOrganizationsArchivedFreeze(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	org := seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})
	org.SetArchived(true, "alice", testNow())
	if _, err := s.BulkWrite(context.Background(), models.KindOrganization, []models.Entity{org}); err != nil {
		t.Fatalf("seed update failed: %v", err)
	}

	// Any field change on an archived org is rejected, even combined with
	// the unarchive.
	_, err := c.Update(context.Background(), regularUser("alice"), []Patch{{
		"id": "eng", "name": "Renamed", "archived": false,
	}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindOperation) {
		t.Fatalf("expected operation error on archived edit, got %v", err)
	}

	// The exact unarchive shape is the one accepted update.
	orgs, err := c.Update(context.Background(), regularUser("alice"), []Patch{{
		"id": "eng", "archived": false,
	}}, Options{})
	if err != nil {
		t.Fatalf("unarchive failed: %v", err)
	}
	if orgs[0].Archived {
		t.Error("org should be unarchived")
	}
	if orgs[0].ArchivedBy != "" || orgs[0].ArchivedOn != nil {
		t.Error("unarchive should clear archive attribution")
	}
}

func TestOrganizationsArchiveIsStandalone(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})

	// Archiving together with other field changes would freeze those changes
	// into an uneditable document, so the combination is rejected outright.
	_, err := c.Update(context.Background(), regularUser("alice"), []Patch{{
		"id": "eng", "archived": true, "name": "Sneaky",
	}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindOperation) {
		t.Fatalf("expected operation error archiving with other fields, got %v", err)
	}
	e, err := s.FindOne(context.Background(), models.KindOrganization, "eng")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if org := e.(*models.Organization); org.Archived || org.Name != "eng" {
		t.Errorf("rejected patch must leave the org untouched, got %+v", org)
	}

	// Archiving alone is fine.
	orgs, err := c.Update(context.Background(), regularUser("alice"), []Patch{{
		"id": "eng", "archived": true,
	}}, Options{})
	if err != nil {
		t.Fatalf("standalone archive failed: %v", err)
	}
	if !orgs[0].Archived {
		t.Error("org should be archived")
	}
}

func TestOrganizationsPermissionUpdate(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	seedUsers(t, s, "alice", "bob")
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin, "bob": models.RoleRead})

	orgs, err := c.Update(context.Background(), regularUser("alice"), []Patch{{
		"id": "eng", "permissions": map[string]any{"bob": "write"},
	}}, Options{})
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if orgs[0].Permissions["bob"] != models.RoleWrite {
		t.Errorf("bob should hold write, got %q", orgs[0].Permissions["bob"])
	}

	orgs, err = c.Update(context.Background(), regularUser("alice"), []Patch{{
		"id": "eng", "permissions": map[string]any{"bob": "remove_all"},
	}}, Options{})
	if err != nil {
		t.Fatalf("remove_all failed: %v", err)
	}
	if _, ok := orgs[0].Permissions["bob"]; ok {
		t.Error("remove_all should delete bob's entry")
	}
}

func TestOrganizationsSelfPermissionChangeDenied(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	seedUsers(t, s, "alice")
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})

	_, err := c.Update(context.Background(), regularUser("alice"), []Patch{{
		"id": "eng", "permissions": map[string]any{"alice": "read"},
	}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindPermission) {
		t.Fatalf("expected permission error on self change, got %v", err)
	}
}

func TestOrganizationsPermissionGrantUnknownUser(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})

	_, err := c.Update(context.Background(), regularUser("alice"), []Patch{{
		"id": "eng", "permissions": map[string]any{"ghost": "read"},
	}}, Options{})
	appErr := apperrors.As(err)
	if appErr == nil || appErr.Kind != apperrors.KindNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
	if len(appErr.IDs) != 1 || appErr.IDs[0] != "ghost" {
		t.Errorf("error should name ghost, got %v", appErr.IDs)
	}
}

func TestOrganizationsRemoveCascades(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newOrgController(s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})

	proj := &models.Project{ID: "eng:rocket", Name: "Rocket", Org: "eng", Visibility: models.VisibilityPrivate}
	proj.StampCreate("alice", testNow())
	if err := s.InsertMany(ctx, models.KindProject, []models.Entity{proj}); err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	elem := &models.Element{ID: "eng:rocket:master:model", Name: "model", Branch: "eng:rocket:master"}
	elem.StampCreate("alice", testNow())
	if err := s.InsertMany(ctx, models.KindElement, []models.Entity{elem}); err != nil {
		t.Fatalf("failed to seed element: %v", err)
	}
	hook := &models.Webhook{ID: "wh-1", Name: "notify", Type: models.WebhookOutgoing,
		Triggers: []string{"element.updated"}, Reference: "eng:rocket",
		Responses: []models.WebhookResponse{{URL: "https://example.com/hook"}}}
	hook.StampCreate("alice", testNow())
	if err := s.InsertMany(ctx, models.KindWebhook, []models.Entity{hook}); err != nil {
		t.Fatalf("failed to seed webhook: %v", err)
	}

	removed, err := c.Remove(ctx, regularUser("alice"), "eng", Options{})
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != "eng" {
		t.Fatalf("expected the removed org back, got %v", removed)
	}

	for _, check := range []struct {
		kind models.Kind
		id   string
	}{
		{models.KindOrganization, "eng"},
		{models.KindProject, "eng:rocket"},
		{models.KindElement, "eng:rocket:master:model"},
		{models.KindWebhook, "wh-1"},
	} {
		got, err := s.FindOne(ctx, check.kind, check.id)
		if err != nil {
			t.Fatalf("find %s failed: %v", check.kind, err)
		}
		if got != nil {
			t.Errorf("%s %s should have been cascaded away", check.kind, check.id)
		}
	}
}

func TestOrganizationsRemoveUnknownID(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)

	_, err := c.Remove(context.Background(), sysadmin(), []string{"ghost"}, Options{})
	appErr := apperrors.As(err)
	if appErr == nil || appErr.Kind != apperrors.KindNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
	if len(appErr.IDs) != 1 || appErr.IDs[0] != "ghost" {
		t.Errorf("error should name ghost, got %v", appErr.IDs)
	}
}

func TestOrganizationsRemoveRequiresAdmin(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	seedOrg(t, s, "eng", models.PermissionMap{
		"alice": models.RoleAdmin,
		"wendy": models.RoleWrite,
	})

	// Hard delete cascades over the whole subtree, so write is not enough.
	_, err := c.Remove(context.Background(), regularUser("wendy"), "eng", Options{})
	if !apperrors.IsKind(err, apperrors.KindPermission) {
		t.Fatalf("expected permission error for write-only principal, got %v", err)
	}
	if e, _ := s.FindOne(context.Background(), models.KindOrganization, "eng"); e == nil {
		t.Fatal("denied remove must not delete the org")
	}

	removed, err := c.Remove(context.Background(), regularUser("alice"), "eng", Options{})
	if err != nil {
		t.Fatalf("admin remove failed: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != "eng" {
		t.Fatalf("expected the removed org back, got %v", removed)
	}
}

func TestOrganizationsDefaultOrgProtected(t *testing.T) {
	s := memstore.New()
	c := newOrgController(s)
	seedOrg(t, s, testDefaultOrg, models.PermissionMap{"alice": models.RoleAdmin})

	if _, err := c.Remove(context.Background(), sysadmin(), testDefaultOrg, Options{}); !apperrors.IsKind(err, apperrors.KindOperation) {
		t.Errorf("expected operation error deleting default org, got %v", err)
	}
	if _, err := c.Update(context.Background(), sysadmin(), []Patch{{
		"id": testDefaultOrg, "name": "Renamed",
	}}, Options{}); !apperrors.IsKind(err, apperrors.KindOperation) {
		t.Errorf("expected operation error renaming default org, got %v", err)
	}
	if _, err := c.Update(context.Background(), sysadmin(), []Patch{{
		"id": testDefaultOrg, "archived": true,
	}}, Options{}); !apperrors.IsKind(err, apperrors.KindOperation) {
		t.Errorf("expected operation error archiving default org, got %v", err)
	}
}
