// orgs.go implements the organization endpoints.
package entities

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
)

// @Summary      Find organizations
// @Description  Returns the organizations readable by the requester, optionally restricted to ?ids=a,b,c.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        ids              query  string  false  "Comma-separated organization IDs"
// @Param        includeArchived  query  bool    false  "Include archived documents"
// @Success      200  {array}   models.Organization
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/v1/orgs [get]
// GetOrgsHandler implements GET /api/v1/orgs.
func (h *Handlers) GetOrgsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		orgs, err := h.orgs.Find(c.Request.Context(), requester(c), querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, orgs)
	}
}

// @Summary      Create organizations
// @Description  Creates one organization (object body) or several (array body). All-or-nothing: one invalid document fails the whole batch.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {array}   models.Organization
// @Failure      403  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "Pre-existing IDs"
// @Router       /api/v1/orgs [post]
// PostOrgsHandler implements POST /api/v1/orgs.
func (h *Handlers) PostOrgsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := decodeDocs[models.Organization](c)
		if err != nil {
			writeError(c, err)
			return
		}
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		created, err := h.orgs.Create(c.Request.Context(), requester(c), docs, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, created)
	}
}

// PatchOrgsHandler implements PATCH /api/v1/orgs. The body carries one patch
// object or an array of patches, each identified by its "id" field.
func (h *Handlers) PatchOrgsHandler() gin.HandlerFunc {
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
		updated, err := h.orgs.Update(c.Request.Context(), requester(c), patches, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

// DeleteOrgsHandler implements DELETE /api/v1/orgs?ids=a,b. Hard delete with
// subtree cascade; system admin only.
func (h *Handlers) DeleteOrgsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		removed, err := h.orgs.Remove(c.Request.Context(), requester(c), querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, removed)
	}
}

// GetOrgHandler implements GET /api/v1/orgs/:orgid.
func (h *Handlers) GetOrgHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("orgid")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		orgs, err := h.orgs.Find(c.Request.Context(), requester(c), id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, orgs, id)
	}
}

// PostOrgHandler implements POST /api/v1/orgs/:orgid. The document ID comes
// from the path; a differing body ID is rejected.
func (h *Handlers) PostOrgHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("orgid")
		docs, err := decodeDocs[models.Organization](c)
		if err != nil {
			writeError(c, err)
			return
		}
		if len(docs) != 1 {
			writeError(c, apperrors.DataFormat("expected a single organization document"))
			return
		}
		if docs[0].ID != "" && docs[0].ID != id {
			writeError(c, apperrors.DataFormat("body id %q does not match path id %q", docs[0].ID, id))
			return
		}
		docs[0].ID = id
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		created, err := h.orgs.Create(c.Request.Context(), requester(c), docs, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, created, id)
	}
}

// PatchOrgHandler implements PATCH /api/v1/orgs/:orgid.
func (h *Handlers) PatchOrgHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("orgid")
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
		updated, err := h.orgs.Update(c.Request.Context(), requester(c), patches, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, updated, id)
	}
}

// DeleteOrgHandler implements DELETE /api/v1/orgs/:orgid.
func (h *Handlers) DeleteOrgHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("orgid")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		removed, err := h.orgs.Remove(c.Request.Context(), requester(c), id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, removed, id)
	}
}
