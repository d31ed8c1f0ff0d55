package controllers

import (
	"bytes"
	"context"
	"testing"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/crypto"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/store"
	"github.com/lmco/mcf-sub003/internal/store/memstore"
)

func newWebhookController(t *testing.T, s store.Store) *Webhooks {
	t.Helper()
	cipher, err := crypto.NewTokenCipher(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("failed to build cipher: %v", err)
	}
	return NewWebhooks(s, permissions.New(), cipher)
}

func outgoingHook(reference string) *models.Webhook {
	return &models.Webhook{
		Name:      "notify",
		Type:      models.WebhookOutgoing,
		Triggers:  []string{"element.updated"},
		Reference: reference,
		Responses: []models.WebhookResponse{{URL: "https://example.com/hook"}},
	}
}

func incomingHook(reference string) *models.Webhook {
	return &models.Webhook{
		Name:          "intake",
		Type:          models.WebhookIncoming,
		Triggers:      []string{"external.sync"},
		Reference:     reference,
		Token:         "hunter2",
		TokenLocation: "headers.x-hook-token",
	}
}

func TestWebhooksCreateAssignsID(t *testing.T) {
	s := memstore.New()
	c := newWebhookController(t, s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})

	hooks, err := c.Create(context.Background(), regularUser("alice"),
		[]*models.Webhook{outgoingHook("eng")}, Options{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if hooks[0].ID == "" {
		t.Error("webhook should have a server-assigned id")
	}

	supplied := outgoingHook("eng")
	supplied.ID = "my-id"
	_, err = c.Create(context.Background(), regularUser("alice"),
		[]*models.Webhook{supplied}, Options{})
	if !apperrors.IsKind(err, apperrors.KindDataFormat) {
		t.Fatalf("expected data format error for supplied id, got %v", err)
	}
}

func TestWebhooksCreateRequiresScopeAdmin(t *testing.T) {
	s := memstore.New()
	c := newWebhookController(t, s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleWrite})

	_, err := c.Create(context.Background(), regularUser("alice"),
		[]*models.Webhook{outgoingHook("eng")}, Options{})
	if !apperrors.IsKind(err, apperrors.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}

	// System-wide webhooks are system-admin territory.
	_, err = c.Create(context.Background(), regularUser("alice"),
		[]*models.Webhook{outgoingHook("")}, Options{})
	if !apperrors.IsKind(err, apperrors.KindPermission) {
		t.Fatalf("expected permission error for system webhook, got %v", err)
	}
	if _, err = c.Create(context.Background(), sysadmin(),
		[]*models.Webhook{outgoingHook("")}, Options{}); err != nil {
		t.Fatalf("sysadmin create of system webhook failed: %v", err)
	}
}

func TestWebhooksTokenEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newWebhookController(t, s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})

	hooks, err := c.Create(ctx, regularUser("alice"), []*models.Webhook{incomingHook("eng")}, Options{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	e, err := s.FindOne(ctx, models.KindWebhook, hooks[0].ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored := e.(*models.Webhook).Token; stored == "hunter2" || stored == "" {
		t.Errorf("token should be encrypted at rest, got %q", stored)
	}

	if err := c.VerifyToken(ctx, hooks[0].ID, "hunter2"); err != nil {
		t.Errorf("correct token should verify: %v", err)
	}
	if err := c.VerifyToken(ctx, hooks[0].ID, "wrong"); !apperrors.IsKind(err, apperrors.KindPermission) {
		t.Errorf("wrong token should be denied, got %v", err)
	}
}

func TestWebhooksTypeImmutable(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newWebhookController(t, s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})

	hooks, err := c.Create(ctx, regularUser("alice"), []*models.Webhook{incomingHook("eng")}, Options{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = c.Update(ctx, regularUser("alice"), []Patch{{
		"id": hooks[0].ID, "type": models.WebhookOutgoing,
	}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindOperation) {
		t.Fatalf("expected operation error changing type, got %v", err)
	}
}

func TestWebhooksFieldGroupExclusivity(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newWebhookController(t, s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})

	hooks, err := c.Create(ctx, regularUser("alice"), []*models.Webhook{
		outgoingHook("eng"), incomingHook("eng"),
	}, Options{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	outgoing, incoming := hooks[0], hooks[1]

	_, err = c.Update(ctx, regularUser("alice"), []Patch{{
		"id": outgoing.ID, "token": "sneaky",
	}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindDataFormat) {
		t.Errorf("token on an outgoing webhook should be rejected, got %v", err)
	}

	_, err = c.Update(ctx, regularUser("alice"), []Patch{{
		"id": incoming.ID, "responses": []any{map[string]any{"url": "https://example.com"}},
	}}, Options{})
	if !apperrors.IsKind(err, apperrors.KindDataFormat) {
		t.Errorf("responses on an incoming webhook should be rejected, got %v", err)
	}
}

func TestWebhooksUpdateResponses(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newWebhookController(t, s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})

	hooks, err := c.Create(ctx, regularUser("alice"), []*models.Webhook{outgoingHook("eng")}, Options{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := c.Update(ctx, regularUser("alice"), []Patch{{
		"id": hooks[0].ID,
		"responses": []any{map[string]any{
			"url": "https://other.example.com", "method": "PUT",
			"headers": map[string]any{"authorization": "Bearer x"},
		}},
	}}, Options{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	r := updated[0].Responses
	if len(r) != 1 || r[0].URL != "https://other.example.com" || r[0].Method != "PUT" {
		t.Errorf("responses not updated: %+v", r)
	}
	if r[0].Headers["authorization"] != "Bearer x" {
		t.Errorf("headers not carried: %+v", r[0].Headers)
	}
}

func TestWebhooksFindFiltersByScope(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newWebhookController(t, s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin})
	seedOrg(t, s, "sales", models.PermissionMap{"bob": models.RoleAdmin})

	if _, err := c.Create(ctx, regularUser("alice"), []*models.Webhook{outgoingHook("eng")}, Options{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := c.Create(ctx, regularUser("bob"), []*models.Webhook{outgoingHook("sales")}, Options{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	hooks, err := c.Find(ctx, regularUser("alice"), nil, Options{})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(hooks) != 1 || hooks[0].Reference != "eng" {
		t.Fatalf("alice should see only the eng webhook, got %d results", len(hooks))
	}
}

func TestWebhooksRemove(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newWebhookController(t, s)
	seedOrg(t, s, "eng", models.PermissionMap{"alice": models.RoleAdmin, "bob": models.RoleWrite})

	hooks, err := c.Create(ctx, regularUser("alice"), []*models.Webhook{outgoingHook("eng")}, Options{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = c.Remove(ctx, regularUser("bob"), hooks[0].ID, Options{})
	if !apperrors.IsKind(err, apperrors.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}

	removed, err := c.Remove(ctx, regularUser("alice"), hooks[0].ID, Options{})
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != hooks[0].ID {
		t.Fatalf("expected the removed webhook back, got %v", removed)
	}
	if got, _ := s.FindOne(ctx, models.KindWebhook, hooks[0].ID); got != nil {
		t.Error("webhook should be gone")
	}
}
