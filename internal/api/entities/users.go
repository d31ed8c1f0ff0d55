// users.go implements the user endpoints. Users are keyed by username, not a
// reference ID, and patches identify their target with a "username" field.
package entities

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
)

// GetUsersHandler implements GET /api/v1/users.
func (h *Handlers) GetUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		users, err := h.users.Find(c.Request.Context(), requester(c), querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

// PostUsersHandler implements POST /api/v1/users. System admin only; new
// users are enrolled into the default organization with read access.
func (h *Handlers) PostUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := decodeDocs[models.User](c)
		if err != nil {
			writeError(c, err)
			return
		}
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		created, err := h.users.Create(c.Request.Context(), requester(c), docs, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, created)
	}
}

// PatchUsersHandler implements PATCH /api/v1/users.
func (h *Handlers) PatchUsersHandler() gin.HandlerFunc {
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
		updated, err := h.users.Update(c.Request.Context(), requester(c), patches, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

// DeleteUsersHandler implements DELETE /api/v1/users?ids=a,b.
func (h *Handlers) DeleteUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		removed, err := h.users.Remove(c.Request.Context(), requester(c), querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, removed)
	}
}

// WhoamiHandler implements GET /api/v1/users/whoami, returning the
// authenticated user's own document.
func (h *Handlers) WhoamiHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, requester(c))
	}
}

// GetUserHandler implements GET /api/v1/users/:username.
func (h *Handlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		users, err := h.users.Find(c.Request.Context(), requester(c), username, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, users, username)
	}
}

// PostUserHandler implements POST /api/v1/users/:username.
func (h *Handlers) PostUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")
		docs, err := decodeDocs[models.User](c)
		if err != nil {
			writeError(c, err)
			return
		}
		if len(docs) != 1 {
			writeError(c, apperrors.DataFormat("expected a single user document"))
			return
		}
		if docs[0].Username != "" && docs[0].Username != username {
			writeError(c, apperrors.DataFormat("body username %q does not match path username %q", docs[0].Username, username))
			return
		}
		docs[0].Username = username
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		created, err := h.users.Create(c.Request.Context(), requester(c), docs, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, created, username)
	}
}

// PatchUserHandler implements PATCH /api/v1/users/:username.
func (h *Handlers) PatchUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")
		patches, err := decodePatches(c)
		if err != nil {
			writeError(c, err)
			return
		}
		if len(patches) != 1 {
			writeError(c, apperrors.DataFormat("expected a single patch object"))
			return
		}
		if bodyName, ok := patches[0]["username"].(string); ok && bodyName != username {
			writeError(c, apperrors.DataFormat("body username %q does not match path username %q", bodyName, username))
			return
		}
		patches[0]["username"] = username
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		updated, err := h.users.Update(c.Request.Context(), requester(c), patches, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, updated, username)
	}
}

// DeleteUserHandler implements DELETE /api/v1/users/:username.
func (h *Handlers) DeleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		removed, err := h.users.Remove(c.Request.Context(), requester(c), username, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, removed, username)
	}
}
