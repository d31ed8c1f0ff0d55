// request.go holds the shared request plumbing: one-or-many JSON decoding,
// query-parameter option parsing and the error-to-status mapping.
package entities

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/controllers"
	"github.com/lmco/mcf-sub003/internal/middleware"
	"github.com/lmco/mcf-sub003/internal/models"
)

// maxBodyBytes bounds JSON request bodies. Artifact blobs are exempt; they
// stream through multipart uploads with their own limit.
const maxBodyBytes = 8 << 20

// requester returns the authenticated user set by the auth middleware.
func requester(c *gin.Context) *models.User {
	return middleware.RequestUser(c)
}

// writeError maps a controller error onto its HTTP status and client-safe
// message. Internal detail never reaches the response body.
func writeError(c *gin.Context, err error) {
	c.JSON(apperrors.Status(err), gin.H{"error": apperrors.Public(err)})
}

// queryOptions converts the request's query parameters into controller
// options. Repeated parameters keep their first value; the "ids" parameter is
// the selector, not an option, and is excluded here.
func queryOptions(c *gin.Context) (controllers.Options, error) {
	raw := map[string]any{}
	for key, vals := range c.Request.URL.Query() {
		if key == "ids" || len(vals) == 0 {
			continue
		}
		raw[key] = vals[0]
	}
	return controllers.ParseOptions(raw)
}

// querySelector reads the "ids" query parameter as a comma-separated ID list.
// Absent means "all in scope".
func querySelector(c *gin.Context) any {
	raw := strings.TrimSpace(c.Query("ids"))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// peekJSONArray reports whether the body's first JSON token opens an array,
// returning the body for re-reading.
func peekJSONArray(r io.Reader) (bool, io.Reader, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return false, nil, err
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return false, nil, apperrors.DataFormat("empty request body")
	}
	return trimmed[0] == '[', bytes.NewReader(body), nil
}

// decodeDocs decodes a request body holding either one document or an array
// of documents. Unknown fields are rejected so typos fail loudly instead of
// silently dropping data.
func decodeDocs[T any](c *gin.Context) ([]*T, error) {
	isArray, body, err := peekJSONArray(c.Request.Body)
	if err != nil {
		return nil, apperrors.DataFormat("unreadable request body: %v", err)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if isArray {
		var docs []*T
		if err := dec.Decode(&docs); err != nil {
			return nil, apperrors.DataFormat("malformed request body: %v", err)
		}
		return docs, nil
	}
	var doc T
	if err := dec.Decode(&doc); err != nil {
		return nil, apperrors.DataFormat("malformed request body: %v", err)
	}
	return []*T{&doc}, nil
}

// decodePatches decodes a request body holding one patch object or an array
// of patch objects. Patches are open maps; field validation happens in the
// controllers, not here.
func decodePatches(c *gin.Context) ([]controllers.Patch, error) {
	isArray, body, err := peekJSONArray(c.Request.Body)
	if err != nil {
		return nil, apperrors.DataFormat("unreadable request body: %v", err)
	}
	dec := json.NewDecoder(body)
	if isArray {
		var patches []controllers.Patch
		if err := dec.Decode(&patches); err != nil {
			return nil, apperrors.DataFormat("malformed request body: %v", err)
		}
		return patches, nil
	}
	var patch controllers.Patch
	if err := dec.Decode(&patch); err != nil {
		return nil, apperrors.DataFormat("malformed request body: %v", err)
	}
	return []controllers.Patch{patch}, nil
}

// respondOne writes the single element of a one-document operation, or 404
// when the result set is empty.
func respondOne[T any](c *gin.Context, status int, docs []*T, id string) {
	if len(docs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found: [" + id + "]"})
		return
	}
	c.JSON(status, docs[0])
}
