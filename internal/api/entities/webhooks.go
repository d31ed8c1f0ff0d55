// webhooks.go implements the webhook endpoints: CRUD over webhook documents
// plus the public trigger endpoint external systems POST to. Webhook access
// is governed by the permission scope of the document's reference; the
// trigger endpoint is the one unauthenticated write in the API and is guarded
// by the webhook's own validation token instead.
package entities

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/telemetry"
)

// GetWebhooksHandler implements GET /api/v1/webhooks.
func (h *Handlers) GetWebhooksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		hooks, err := h.webhooks.Find(c.Request.Context(), requester(c), querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, hooks)
	}
}

// PostWebhooksHandler implements POST /api/v1/webhooks. Server-side IDs are
// generated; client-supplied IDs are rejected by the controller.
func (h *Handlers) PostWebhooksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := decodeDocs[models.Webhook](c)
		if err != nil {
			writeError(c, err)
			return
		}
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		created, err := h.webhooks.Create(c.Request.Context(), requester(c), docs, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, created)
	}
}

// PatchWebhooksHandler implements PATCH /api/v1/webhooks.
func (h *Handlers) PatchWebhooksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		patches, err := decodePatches(c)
		if err != nil {
			writeError(c, err)
			return
		}
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		updated, err := h.webhooks.Update(c.Request.Context(), requester(c), patches, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

// DeleteWebhooksHandler implements DELETE /api/v1/webhooks?ids=a,b.
func (h *Handlers) DeleteWebhooksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		removed, err := h.webhooks.Remove(c.Request.Context(), requester(c), querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, removed)
	}
}

// GetWebhookHandler implements GET /api/v1/webhooks/:webhookid.
func (h *Handlers) GetWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("webhookid")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		hooks, err := h.webhooks.Find(c.Request.Context(), requester(c), id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, hooks, id)
	}
}

// PatchWebhookHandler implements PATCH /api/v1/webhooks/:webhookid.
func (h *Handlers) PatchWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("webhookid")
		patches, err := decodePatches(c)
		if err != nil {
			writeError(c, err)
			return
		}
		if len(patches) != 1 {
			writeError(c, apperrors.DataFormat("expected a single patch object"))
			return
		}
		if bodyID, ok := patches[0]["id"].(string); ok && bodyID != id {
			writeError(c, apperrors.DataFormat("body id %q does not match path id %q", bodyID, id))
			return
		}
		patches[0]["id"] = id
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		updated, err := h.webhooks.Update(c.Request.Context(), requester(c), patches, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, updated, id)
	}
}

// DeleteWebhookHandler implements DELETE /api/v1/webhooks/:webhookid.
func (h *Handlers) DeleteWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("webhookid")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		removed, err := h.webhooks.Remove(c.Request.Context(), requester(c), id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, removed, id)
	}
}

// triggerRequestView builds the request view the tokenLocation descriptor is
// resolved against: lowercased headers plus the decoded JSON body, if any.
func triggerRequestView(c *gin.Context) map[string]any {
	headers := map[string]any{}
	for key, vals := range c.Request.Header {
		if len(vals) > 0 {
			headers[strings.ToLower(key)] = vals[0]
		}
	}
	view := map[string]any{"headers": headers}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err == nil && len(raw) > 0 {
		var body map[string]any
		if json.Unmarshal(raw, &body) == nil {
			view["body"] = body
		}
	}
	return view
}

// @Summary      Trigger incoming webhook
// @Description  Fires an incoming webhook from an external system. The validation token is read from the request per the webhook's tokenLocation descriptor and compared in constant time.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Param        webhookid  path  string  true  "Webhook ID"
// @Success      200  {object}  map[string]interface{}  "Trigger accepted"
// @Failure      403  {object}  map[string]interface{}  "Invalid token"
// @Failure      404  {object}  map[string]interface{}  "Unknown webhook"
// @Router       /api/v1/webhooks/trigger/{webhookid} [post]
// TriggerWebhookHandler implements POST /api/v1/webhooks/trigger/:webhookid.
// Unauthenticated; every attempt is counted in the trigger metric by result.
func (h *Handlers) TriggerWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		webhookID := c.Param("webhookid")

		candidate, err := h.webhooks.TriggerCandidate(c.Request.Context(), webhookID, triggerRequestView(c))
		if err == nil {
			err = h.webhooks.VerifyToken(c.Request.Context(), webhookID, candidate)
		}
		switch {
		case err == nil:
			telemetry.WebhookTriggersTotal.WithLabelValues("accepted").Inc()
			c.JSON(http.StatusOK, gin.H{"message": "webhook triggered"})
		case apperrors.IsKind(err, apperrors.KindNotFound):
			telemetry.WebhookTriggersTotal.WithLabelValues("not_found").Inc()
			writeError(c, err)
		default:
			telemetry.WebhookTriggersTotal.WithLabelValues("invalid_token").Inc()
			writeError(c, err)
		}
	}
}
