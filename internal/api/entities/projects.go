// projects.go implements the project endpoints, nested under their owning
// organization. Path IDs are the short form; the controllers qualify them
// into full "org:project" references.
package entities

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
)

// @Summary      Find projects
// @Description  Returns the projects of one organization readable by the requester. Internal-visibility projects are readable by any member of the org.
// @Tags         Projects
// @Security     Bearer
// @Produce      json
// @Param        orgid  path   string  true   "Organization ID"
// @Param        ids    query  string  false  "Comma-separated project IDs (short or full form)"
// @Success      200  {array}   models.Project
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/orgs/{orgid}/projects [get]
// GetProjectsHandler implements GET /api/v1/orgs/:orgid/projects.
func (h *Handlers) GetProjectsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		projects, err := h.projects.Find(c.Request.Context(), requester(c), c.Param("orgid"), querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, projects)
	}
}

// PostProjectsHandler implements POST /api/v1/orgs/:orgid/projects.
func (h *Handlers) PostProjectsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := decodeDocs[models.Project](c)
		if err != nil {
			writeError(c, err)
			return
		}
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		created, err := h.projects.Create(c.Request.Context(), requester(c), c.Param("orgid"), docs, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, created)
	}
}

// PatchProjectsHandler implements PATCH /api/v1/orgs/:orgid/projects.
func (h *Handlers) PatchProjectsHandler() gin.HandlerFunc {
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
		updated, err := h.projects.Update(c.Request.Context(), requester(c), c.Param("orgid"), patches, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

// DeleteProjectsHandler implements DELETE /api/v1/orgs/:orgid/projects?ids=a,b.
func (h *Handlers) DeleteProjectsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		removed, err := h.projects.Remove(c.Request.Context(), requester(c), c.Param("orgid"), querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, removed)
	}
}

// GetProjectHandler implements GET /api/v1/orgs/:orgid/projects/:projectid.
func (h *Handlers) GetProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("projectid")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		projects, err := h.projects.Find(c.Request.Context(), requester(c), c.Param("orgid"), id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, projects, id)
	}
}

// PostProjectHandler implements POST /api/v1/orgs/:orgid/projects/:projectid.
func (h *Handlers) PostProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("projectid")
		docs, err := decodeDocs[models.Project](c)
		if err != nil {
			writeError(c, err)
			return
		}
		if len(docs) != 1 {
			writeError(c, apperrors.DataFormat("expected a single project document"))
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
		created, err := h.projects.Create(c.Request.Context(), requester(c), c.Param("orgid"), docs, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, created, id)
	}
}

// PatchProjectHandler implements PATCH /api/v1/orgs/:orgid/projects/:projectid.
func (h *Handlers) PatchProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("projectid")
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
		updated, err := h.projects.Update(c.Request.Context(), requester(c), c.Param("orgid"), patches, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, updated, id)
	}
}

// DeleteProjectHandler implements DELETE /api/v1/orgs/:orgid/projects/:projectid.
func (h *Handlers) DeleteProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("projectid")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		removed, err := h.projects.Remove(c.Request.Context(), requester(c), c.Param("orgid"), id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, removed, id)
	}
}
