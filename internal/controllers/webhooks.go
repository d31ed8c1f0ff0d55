// webhooks.go implements the batch CRUD controller for webhooks. Webhooks are
// governed by the permission map of their reference scope and every operation
// on them requires admin there: a system-wide webhook (empty reference) is
// system-admin territory, an org-scoped one needs org admin, a project- or
// branch-scoped one needs project admin. Incoming-webhook validation tokens
// are encrypted at rest.
package controllers

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/crypto"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Webhooks is the batch CRUD controller for the webhook kind.
type Webhooks struct {
	deps
	cipher *crypto.TokenCipher
}

// NewWebhooks wires a webhook controller. cipher encrypts incoming-webhook
// validation tokens at rest; pass nil to store tokens in the clear (tests,
// deployments without a master key).
func NewWebhooks(s store.Store, r *permissions.Resolver, cipher *crypto.TokenCipher) *Webhooks {
	return &Webhooks{deps: newDeps(s, r), cipher: cipher}
}

// scopeOf resolves a webhook reference to its governing (org, project) pair.
// An empty reference returns (nil, nil): the system scope.
func (c *Webhooks) scopeOf(ctx context.Context, reference string) (*models.Organization, *models.Project, error) {
	if reference == "" {
		return nil, nil, nil
	}
	segs, err := refid.Parse(reference)
	if err != nil {
		return nil, nil, err
	}
	org, err := c.lookupOrg(ctx, segs[0])
	if err != nil {
		return nil, nil, err
	}
	if len(segs) == 1 {
		return org, nil, nil
	}
	// Branch references are governed by the containing project's map.
	proj, err := c.lookupProject(ctx, refid.Build(segs[0], segs[1]))
	if err != nil {
		return nil, nil, err
	}
	return org, proj, nil
}

// checkScopeAdmin requires admin at the webhook's reference scope.
func (c *Webhooks) checkScopeAdmin(requester *models.User, org *models.Organization, proj *models.Project) error {
	if org == nil {
		return c.perms.CheckSystemAdmin(requester)
	}
	return c.perms.Check(requester, models.RoleAdmin, org, proj)
}

// Find returns the webhooks whose reference scope the requester administers,
// optionally restricted to one reference via opts.Conditions["reference"].
// Inaccessible results are silently dropped.
func (c *Webhooks) Find(ctx context.Context, requester *models.User, selector any, opts Options) ([]*models.Webhook, error) {
	out, err := c.find(ctx, requester, selector, opts)
	return out, apperrors.Normalize("webhooks.find", err)
}

func (c *Webhooks) find(ctx context.Context, requester *models.User, selector any, opts Options) ([]*models.Webhook, error) {
	ids, _, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if err := validateConditions(opts.Conditions, "name", "type", "reference", "createdBy"); err != nil {
		return nil, err
	}

	q := store.Query{IDs: ids, Archived: opts.archivedFilter(), Conditions: opts.Conditions}
	found, err := c.store.Find(ctx, models.KindWebhook, q, store.FindOptions{
		Skip: opts.Skip, Limit: opts.Limit, Sort: opts.Sort,
	})
	if err != nil {
		return nil, err
	}

	visible := make([]*models.Webhook, 0, len(found))
	readable := make([]models.Entity, 0, len(found))
	for _, e := range found {
		hook := e.(*models.Webhook)
		org, proj, err := c.scopeOfSilent(ctx, hook.Reference)
		if err != nil {
			return nil, err
		}
		if c.checkScopeAdmin(requester, org, proj) == nil {
			visible = append(visible, hook)
			readable = append(readable, e)
		}
	}
	if err := c.populate(ctx, readable, opts.Populate); err != nil {
		return nil, err
	}
	return visible, nil
}

// scopeOfSilent resolves a reference scope without turning a dangling
// reference into an error; find filtering treats those as unreadable.
func (c *Webhooks) scopeOfSilent(ctx context.Context, reference string) (*models.Organization, *models.Project, error) {
	org, proj, err := c.scopeOf(ctx, reference)
	if err != nil && apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, nil, nil
	}
	return org, proj, err
}

// Create inserts new webhooks in one all-or-nothing batch. IDs are server
// assigned; supplying one is rejected. Requires admin at each webhook's
// reference scope.
func (c *Webhooks) Create(ctx context.Context, requester *models.User, hooks []*models.Webhook, opts Options) ([]*models.Webhook, error) {
	out, err := c.create(ctx, requester, hooks, opts)
	return out, apperrors.Normalize("webhooks.create", err)
}

func (c *Webhooks) create(ctx context.Context, requester *models.User, hooks []*models.Webhook, opts Options) ([]*models.Webhook, error) {
	if len(hooks) == 0 {
		return nil, apperrors.DataFormat("no webhooks supplied")
	}

	now := c.now()
	entities := make([]models.Entity, 0, len(hooks))
	for _, hook := range hooks {
		if hook.ID != "" {
			return nil, apperrors.DataFormat("webhook ids are server assigned")
		}
		if err := hook.Validate(); err != nil {
			return nil, err
		}
		org, proj, err := c.scopeOf(ctx, hook.Reference)
		if err != nil {
			return nil, err
		}
		if err := c.checkScopeAdmin(requester, org, proj); err != nil {
			return nil, err
		}

		hook.ID = uuid.NewString()
		if hook.Type == models.WebhookIncoming {
			if hook.Token, err = c.sealToken(hook.Token); err != nil {
				return nil, err
			}
		}
		preArchived := hook.Archived
		hook.Metadata = models.Metadata{}
		hook.StampCreate(requester.Username, now)
		if preArchived {
			hook.SetArchived(true, requester.Username, now)
		}
		entities = append(entities, hook)
	}
	if err := c.store.InsertMany(ctx, models.KindWebhook, entities); err != nil {
		return nil, err
	}
	if err := c.populate(ctx, entities, opts.Populate); err != nil {
		return nil, err
	}
	return hooks, nil
}

func (c *Webhooks) sealToken(token string) (string, error) {
	if c.cipher == nil {
		return token, nil
	}
	sealed, err := c.cipher.Seal(token)
	if err != nil {
		return "", apperrors.Server(err, "failed to encrypt webhook token")
	}
	return sealed, nil
}

// Update applies a batch of patch objects, each addressing one webhook by ID.
// The type is immutable and the type-specific field groups stay exclusive:
// token fields on an outgoing webhook (or responses on an incoming one) are
// rejected.
func (c *Webhooks) Update(ctx context.Context, requester *models.User, patches []Patch, opts Options) ([]*models.Webhook, error) {
	out, err := c.update(ctx, requester, patches, opts)
	return out, apperrors.Normalize("webhooks.update", err)
}

func (c *Webhooks) update(ctx context.Context, requester *models.User, patches []Patch, opts Options) ([]*models.Webhook, error) {
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
		return nil, apperrors.DataFormat("duplicate webhook ids in batch: %v", dups)
	}

	found, err := c.store.Find(ctx, models.KindWebhook, store.Query{IDs: ids}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, e := range found {
		exists[e.RefID()] = true
	}
	if missing := missingIDs(ids, exists); len(missing) > 0 {
		return nil, apperrors.NotFound("webhooks not found", missing...)
	}

	now := c.now()
	updated := make([]models.Entity, 0, len(found))
	result := make([]*models.Webhook, 0, len(found))
	for _, e := range found {
		hook := e.(*models.Webhook)
		patch := byTarget[hook.ID]

		org, proj, err := c.scopeOf(ctx, hook.Reference)
		if err != nil {
			return nil, err
		}
		if err := c.checkScopeAdmin(requester, org, proj); err != nil {
			return nil, err
		}
		if err := c.applyWebhookPatch(requester, hook, patch, now); err != nil {
			return nil, err
		}
		hook.StampUpdate(requester.Username, now)
		updated = append(updated, hook)
		result = append(result, hook)
	}

	if err := c.bulkWrite(ctx, models.KindWebhook, updated); err != nil {
		return nil, err
	}
	if err := c.populate(ctx, updated, opts.Populate); err != nil {
		return nil, err
	}
	return result, nil
}

// applyWebhookPatch validates and applies one patch onto a fetched webhook.
func (c *Webhooks) applyWebhookPatch(requester *models.User, hook *models.Webhook, patch Patch, now time.Time) error {
	unarchive, err := checkArchivedFreeze(&hook.Metadata, hook.ID, patch)
	if err != nil {
		return err
	}
	if unarchive {
		hook.SetArchived(false, requester.Username, now)
		return nil
	}
	if err := checkArchiveIsolation(patch); err != nil {
		return err
	}

	allowed := hook.UpdatableFields()
	for key, val := range patch {
		if !allowedKey(key, allowed) {
			return apperrors.Operation("webhook field %q cannot be changed", key)
		}
		switch key {
		case "id", "username":
			// addressing only
		case "name":
			s, err := stringField(key, val)
			if err != nil {
				return err
			}
			hook.Name = s
		case "description":
			s, err := stringField(key, val)
			if err != nil {
				return err
			}
			hook.Description = s
		case "triggers":
			list, err := stringList(key, val)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				return apperrors.DataFormat("webhook requires at least one trigger")
			}
			hook.Triggers = list
		case "responses":
			if hook.Type != models.WebhookOutgoing {
				return apperrors.DataFormat("responses apply only to outgoing webhooks")
			}
			responses, err := responsesField(val)
			if err != nil {
				return err
			}
			hook.Responses = responses
		case "token":
			if hook.Type != models.WebhookIncoming {
				return apperrors.DataFormat("token fields apply only to incoming webhooks")
			}
			s, err := stringField(key, val)
			if err != nil {
				return err
			}
			if s == "" {
				return apperrors.DataFormat("incoming webhook token cannot be empty")
			}
			if hook.Token, err = c.sealToken(s); err != nil {
				return err
			}
		case "tokenLocation":
			if hook.Type != models.WebhookIncoming {
				return apperrors.DataFormat("token fields apply only to incoming webhooks")
			}
			s, err := stringField(key, val)
			if err != nil {
				return err
			}
			hook.TokenLocation = s
		case "custom":
			patchData, err := customField(val)
			if err != nil {
				return err
			}
			hook.Custom = models.MergeCustom(hook.Custom, patchData)
		case "archived":
			b, err := boolField(key, val)
			if err != nil {
				return err
			}
			hook.SetArchived(b, requester.Username, now)
		}
	}
	return nil
}

// responsesField coerces a patch value into a dispatch-target list.
func responsesField(val any) ([]models.WebhookResponse, error) {
	items, ok := val.([]any)
	if !ok {
		if typed, ok := val.([]models.WebhookResponse); ok {
			items = make([]any, len(typed))
			for i, r := range typed {
				items[i] = r
			}
		} else {
			return nil, apperrors.DataFormat("field responses must be an array, got %T", val)
		}
	}
	if len(items) == 0 {
		return nil, apperrors.DataFormat("outgoing webhook requires a responses list")
	}
	out := make([]models.WebhookResponse, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case models.WebhookResponse:
			if v.URL == "" {
				return nil, apperrors.DataFormat("webhook response requires a url")
			}
			out = append(out, v)
		case map[string]any:
			r := models.WebhookResponse{}
			if u, ok := v["url"].(string); ok {
				r.URL = u
			}
			if m, ok := v["method"].(string); ok {
				r.Method = m
			}
			if ca, ok := v["ca"].(string); ok {
				r.CA = ca
			}
			if hs, ok := v["headers"].(map[string]any); ok {
				r.Headers = make(map[string]string, len(hs))
				for hk, hv := range hs {
					s, ok := hv.(string)
					if !ok {
						return nil, apperrors.DataFormat("webhook response header %q must be a string", hk)
					}
					r.Headers[hk] = s
				}
			}
			if r.URL == "" {
				return nil, apperrors.DataFormat("webhook response requires a url")
			}
			out = append(out, r)
		default:
			return nil, apperrors.DataFormat("field responses must contain response objects, got %T", item)
		}
	}
	return out, nil
}

// Remove hard-deletes webhooks by ID. Requires admin at each webhook's
// reference scope. Returns the removed documents for audit.
func (c *Webhooks) Remove(ctx context.Context, requester *models.User, selector any, opts Options) ([]*models.Webhook, error) {
	out, err := c.remove(ctx, requester, selector)
	return out, apperrors.Normalize("webhooks.remove", err)
}

func (c *Webhooks) remove(ctx context.Context, requester *models.User, selector any) ([]*models.Webhook, error) {
	ids, all, err := NormalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	if all {
		return nil, apperrors.DataFormat("webhook removal requires explicit ids")
	}
	if dups := duplicateIDs(ids); len(dups) > 0 {
		return nil, apperrors.DataFormat("duplicate webhook ids in batch: %v", dups)
	}

	found, err := c.store.Find(ctx, models.KindWebhook, store.Query{IDs: ids}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, e := range found {
		exists[e.RefID()] = true
	}
	if missing := missingIDs(ids, exists); len(missing) > 0 {
		return nil, apperrors.NotFound("webhooks not found", missing...)
	}

	result := make([]*models.Webhook, 0, len(found))
	for _, e := range found {
		hook := e.(*models.Webhook)
		org, proj, err := c.scopeOf(ctx, hook.Reference)
		if err != nil {
			return nil, err
		}
		if err := c.checkScopeAdmin(requester, org, proj); err != nil {
			return nil, err
		}
		result = append(result, hook)
	}

	if err := c.deleteByIDs(ctx, models.KindWebhook, ids); err != nil {
		return nil, err
	}
	return result, nil
}

// VerifyToken checks an inbound trigger credential against the stored token of
// an incoming webhook, in constant time. The API layer calls this before
// firing the webhook's triggers.
func (c *Webhooks) VerifyToken(ctx context.Context, webhookID, candidate string) error {
	err := c.verifyToken(ctx, webhookID, candidate)
	return apperrors.Normalize("webhooks.verify", err)
}

func (c *Webhooks) verifyToken(ctx context.Context, webhookID, candidate string) error {
	e, err := c.store.FindOne(ctx, models.KindWebhook, webhookID)
	if err != nil {
		return err
	}
	if e == nil {
		return apperrors.NotFound("webhook not found", webhookID)
	}
	hook := e.(*models.Webhook)
	if hook.Type != models.WebhookIncoming {
		return apperrors.Operation("webhook %q does not accept inbound triggers", webhookID)
	}
	if hook.Archived {
		return apperrors.Operation("webhook %q is archived", webhookID)
	}

	stored := hook.Token
	if c.cipher != nil {
		if stored, err = c.cipher.Open(stored); err != nil {
			return apperrors.Server(err, "failed to decrypt webhook token")
		}
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) != 1 {
		return apperrors.Permission("invalid webhook token")
	}
	return nil
}

// TriggerCandidate resolves the inbound credential from an external trigger
// request according to the hook's tokenLocation descriptor, a dot path into
// the request view such as "body.token" or "headers.x-mcf-token". The view is
// built by the API layer; header keys are lowercased. The candidate is then
// checked with VerifyToken.
func (c *Webhooks) TriggerCandidate(ctx context.Context, webhookID string, request map[string]any) (string, error) {
	candidate, err := c.triggerCandidate(ctx, webhookID, request)
	return candidate, apperrors.Normalize("webhooks.trigger", err)
}

func (c *Webhooks) triggerCandidate(ctx context.Context, webhookID string, request map[string]any) (string, error) {
	e, err := c.store.FindOne(ctx, models.KindWebhook, webhookID)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", apperrors.NotFound("webhook not found", webhookID)
	}
	hook := e.(*models.Webhook)
	if hook.Type != models.WebhookIncoming {
		return "", apperrors.Operation("webhook %q does not accept inbound triggers", webhookID)
	}

	node := any(request)
	for _, part := range strings.Split(hook.TokenLocation, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return "", apperrors.Permission("invalid webhook token")
		}
		node = m[strings.ToLower(part)]
	}
	candidate, ok := node.(string)
	if !ok {
		return "", apperrors.Permission("invalid webhook token")
	}
	return candidate, nil
}
