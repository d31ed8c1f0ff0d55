// elements.go implements the read-only element finders. Element documents
// are written by model-sync tooling, not this API; the finders exist so
// clients can browse a branch's model tree with the same options and
// permission rules as every other kind.
package entities

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/refid"
)

// GetElementsHandler implements
// GET /api/v1/orgs/:orgid/projects/:projectid/branches/:branchid/elements.
func (h *Handlers) GetElementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID := refid.Build(c.Param("orgid"), c.Param("projectid"), c.Param("branchid"))
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		elements, err := h.elements.Find(c.Request.Context(), requester(c), branchID, querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, elements)
	}
}

// GetElementHandler implements
// GET /api/v1/orgs/:orgid/projects/:projectid/branches/:branchid/elements/:elementid.
func (h *Handlers) GetElementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID := refid.Build(c.Param("orgid"), c.Param("projectid"), c.Param("branchid"))
		id := c.Param("elementid")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		elements, err := h.elements.Find(c.Request.Context(), requester(c), branchID, id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, elements, id)
	}
}
