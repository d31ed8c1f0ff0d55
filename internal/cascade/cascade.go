// Package cascade coordinates the cleanup that follows a permanent removal of
// a parent scope. Hard-deleting an organization or project removes every
// dependent document under its reference prefix; hard-deleting a user strips
// the user's entries from every permission map best-effort. Soft deletes
// (archiving) never cascade.
//
// The coordinator depends only on the store's query interface — controllers
// call into it, never the reverse — which is what keeps the entity kinds free
// of circular references to each other.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Coordinator walks dependent entities on hard deletes.
type Coordinator struct {
	store store.Store
}

// New returns a Coordinator over the given store.
func New(s store.Store) *Coordinator {
	return &Coordinator{store: s}
}

// scopedKinds are the kinds addressed by composite reference IDs, deleted by
// prefix when an ancestor goes away.
var scopedKinds = []models.Kind{
	models.KindProject,
	models.KindBranch,
	models.KindElement,
	models.KindArtifact,
}

// OrganizationRemoved hard-deletes everything owned by the organization:
// projects, branches, elements, artifacts under the "org:" prefix and every
// webhook referencing the organization or any scope beneath it.
func (c *Coordinator) OrganizationRemoved(ctx context.Context, orgID string) error {
	return c.subtreeRemoved(ctx, orgID)
}

// ProjectRemoved hard-deletes everything owned by the project: branches,
// elements, artifacts under the "org:project:" prefix and webhooks referencing
// the project or its branches.
func (c *Coordinator) ProjectRemoved(ctx context.Context, projectID string) error {
	return c.subtreeRemoved(ctx, projectID)
}

func (c *Coordinator) subtreeRemoved(ctx context.Context, scopeID string) error {
	prefix := refid.Prefix(scopeID)
	for _, kind := range scopedKinds {
		n, err := c.store.DeleteMany(ctx, kind, store.Query{IDPrefix: prefix})
		if err != nil {
			return fmt.Errorf("failed to cascade delete %s under %q: %w", kind, scopeID, err)
		}
		if n > 0 {
			slog.Info("cascade removed dependents", "scope", scopeID, "kind", kind, "count", n)
		}
	}
	return c.removeScopedWebhooks(ctx, scopeID)
}

// removeScopedWebhooks deletes webhooks whose reference equals the removed
// scope or lives beneath it. Webhook IDs are UUIDs, so the scope match runs on
// the reference field rather than an ID prefix.
func (c *Coordinator) removeScopedWebhooks(ctx context.Context, scopeID string) error {
	hooks, err := c.store.Find(ctx, models.KindWebhook, store.Query{}, store.FindOptions{})
	if err != nil {
		return fmt.Errorf("failed to list webhooks for cascade under %q: %w", scopeID, err)
	}
	var doomed []string
	prefix := refid.Prefix(scopeID)
	for _, h := range hooks {
		ref := h.(*models.Webhook).Reference
		if ref == scopeID || strings.HasPrefix(ref, prefix) {
			doomed = append(doomed, h.RefID())
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	n, err := c.store.DeleteMany(ctx, models.KindWebhook, store.Query{IDs: doomed})
	if err != nil {
		return fmt.Errorf("failed to cascade delete webhooks under %q: %w", scopeID, err)
	}
	slog.Info("cascade removed webhooks", "scope", scopeID, "count", n)
	return nil
}

// UserRemoved strips the removed user from every organization and project
// permission map. Best-effort by design: a failure to update one dependent is
// logged and does not abort the deletion, because a dangling entry for a
// nonexistent username can never match a principal again.
func (c *Coordinator) UserRemoved(ctx context.Context, username string) {
	c.stripPermissions(ctx, models.KindOrganization, username)
	c.stripPermissions(ctx, models.KindProject, username)
}

func (c *Coordinator) stripPermissions(ctx context.Context, kind models.Kind, username string) {
	entities, err := c.store.Find(ctx, kind, store.Query{}, store.FindOptions{})
	if err != nil {
		slog.Error("failed to list documents for permission cleanup",
			"kind", kind, "user", username, "error", err)
		return
	}
	var touched []models.Entity
	for _, e := range entities {
		holder, ok := e.(models.PermissionHolder)
		if !ok {
			continue
		}
		pm := holder.PermissionMap()
		if _, present := pm[username]; !present {
			continue
		}
		delete(pm, username)
		touched = append(touched, e)
	}
	if len(touched) == 0 {
		return
	}
	if _, err := c.store.BulkWrite(ctx, kind, touched); err != nil {
		slog.Error("failed to persist permission cleanup",
			"kind", kind, "user", username, "count", len(touched), "error", err)
		return
	}
	slog.Info("stripped permissions of removed user",
		"kind", kind, "user", username, "count", len(touched))
}
