// Package files serves artifact blobs directly from a local storage backend.
// Cloud backends hand out signed URLs instead; this endpoint only exists when
// local storage runs with serve_directly enabled.
package files

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/storage"
)

// ServeFileHandler implements GET /api/v1/files/*filepath.
func ServeFileHandler(blobs storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.TrimPrefix(c.Param("filepath"), "/")
		if path == "" || strings.Contains(path, "..") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file path"})
			return
		}

		exists, err := blobs.Exists(c.Request.Context(), path)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check file existence"})
			return
		}
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}

		meta, err := blobs.GetMetadata(c.Request.Context(), path)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file metadata"})
			return
		}
		reader, err := blobs.Download(c.Request.Context(), path)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
			return
		}
		defer reader.Close()

		headers := map[string]string{
			"Content-Disposition": "attachment",
			"X-Checksum-SHA256":   meta.Checksum,
		}
		c.DataFromReader(http.StatusOK, meta.Size, "application/octet-stream", reader, headers)
	}
}
