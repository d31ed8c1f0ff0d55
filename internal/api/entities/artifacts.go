// artifacts.go implements the artifact endpoints: document finds, multipart
// blob upload, blob download and removal. The document API mirrors the other
// kinds; the blob moves through the storage backend, never through the
// document store.
package entities

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/refid"
)

// maxBlobBytes bounds a single artifact blob upload.
const maxBlobBytes = 512 << 20

// GetArtifactsHandler implements
// GET /api/v1/orgs/:orgid/projects/:projectid/branches/:branchid/artifacts.
func (h *Handlers) GetArtifactsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID := refid.Build(c.Param("orgid"), c.Param("projectid"), c.Param("branchid"))
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		artifacts, err := h.artifacts.Find(c.Request.Context(), requester(c), branchID, querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, artifacts)
	}
}

// GetArtifactHandler implements GET .../artifacts/:artifactid.
func (h *Handlers) GetArtifactHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID := refid.Build(c.Param("orgid"), c.Param("projectid"), c.Param("branchid"))
		id := c.Param("artifactid")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		artifacts, err := h.artifacts.Find(c.Request.Context(), requester(c), branchID, id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, artifacts, id)
	}
}

// @Summary      Upload artifact
// @Description  Stores an artifact blob and its document. Multipart form: required "file" part, optional "filename" and "custom" (JSON object) fields.
// @Tags         Artifacts
// @Security     Bearer
// @Accept       multipart/form-data
// @Produce      json
// @Success      200  {object}  models.Artifact
// @Failure      409  {object}  map[string]interface{}  "Artifact ID already exists"
// @Router       /api/v1/orgs/{orgid}/projects/{projectid}/branches/{branchid}/artifacts/{artifactid} [post]
// PostArtifactHandler implements POST .../artifacts/:artifactid.
func (h *Handlers) PostArtifactHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID := refid.Build(c.Param("orgid"), c.Param("projectid"), c.Param("branchid"))
		id := c.Param("artifactid")

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBlobBytes)
		fileHeader, err := c.FormFile("file")
		if err != nil {
			writeError(c, apperrors.DataFormat("multipart upload requires a \"file\" part: %v", err))
			return
		}

		artifact := &models.Artifact{ID: id, Filename: fileHeader.Filename}
		if name := c.PostForm("filename"); name != "" {
			artifact.Filename = name
		}
		if raw := c.PostForm("custom"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &artifact.Custom); err != nil {
				writeError(c, apperrors.DataFormat("malformed custom data: %v", err))
				return
			}
		}

		blob, err := fileHeader.Open()
		if err != nil {
			writeError(c, apperrors.Server(err, "failed to open uploaded file"))
			return
		}
		defer blob.Close()

		created, err := h.artifacts.Upload(c.Request.Context(), requester(c), branchID, artifact, blob, fileHeader.Size)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, created)
	}
}

// GetArtifactBlobHandler implements GET .../artifacts/:artifactid/blob,
// streaming the stored blob back to the client.
func (h *Handlers) GetArtifactBlobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID := refid.Build(c.Param("orgid"), c.Param("projectid"), c.Param("branchid"))
		artifactID := refid.Build(branchID, c.Param("artifactid"))

		artifact, blob, err := h.artifacts.Download(c.Request.Context(), requester(c), artifactID)
		if err != nil {
			writeError(c, err)
			return
		}
		defer blob.Close()

		headers := map[string]string{
			"Content-Disposition": `attachment; filename="` + artifact.Filename + `"`,
			"X-Checksum-SHA256":   artifact.Checksum,
		}
		c.DataFromReader(http.StatusOK, artifact.Size, "application/octet-stream", blob, headers)
	}
}

// DeleteArtifactsHandler implements DELETE .../artifacts?ids=a,b.
func (h *Handlers) DeleteArtifactsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID := refid.Build(c.Param("orgid"), c.Param("projectid"), c.Param("branchid"))
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		removed, err := h.artifacts.Remove(c.Request.Context(), requester(c), branchID, querySelector(c), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, removed)
	}
}

// DeleteArtifactHandler implements DELETE .../artifacts/:artifactid.
func (h *Handlers) DeleteArtifactHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID := refid.Build(c.Param("orgid"), c.Param("projectid"), c.Param("branchid"))
		id := c.Param("artifactid")
		opts, err := queryOptions(c)
		if err != nil {
			writeError(c, err)
			return
		}
		removed, err := h.artifacts.Remove(c.Request.Context(), requester(c), branchID, id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		respondOne(c, http.StatusOK, removed, id)
	}
}
