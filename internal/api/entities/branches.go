// branches.go implements the read-only branch endpoints. Branches are seeded
// with their project (the "master" default) and cleaned up by the cascade
// coordinator; end users only list and inspect them.
package entities

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/refid"
)

// GetBranchesHandler implements
// GET /api/v1/orgs/:orgid/projects/:projectid/branches.
func (h *Handlers) GetBranchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := refid.Build(c.Param("orgid"), c.Param("projectid"))
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		branches, err := h.branches.Find(c.Request.Context(), requester(c), projectID, querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, branches)
	}
}

// GetBranchHandler implements
// GET /api/v1/orgs/:orgid/projects/:projectid/branches/:branchid.
func (h *Handlers) GetBranchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := refid.Build(c.Param("orgid"), c.Param("projectid"))
		id := c.Param("branchid")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		branches, err := h.branches.Find(c.Request.Context(), requester(c), projectID, id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, branches, id)
	}
}
