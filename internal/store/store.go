// Package store defines the Scope Store Adapter consumed by the batch CRUD
// controllers: a document store addressed by entity kind and composite
// reference ID. Controllers treat it as a black box with find / insert-many /
// bulk-write / delete-many operations over plain filter structs; they never
// construct storage-engine queries themselves.
//
// Two implementations exist: the Postgres-backed document store under
// store/postgres (production) and the in-memory store under store/memstore
// (tests, local development).
package store

import (
	"context"

	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/models"
)

// Query is a plain key/value filter. Zero-value fields are not applied.
// No aggregation pipeline exists; controllers combine ID membership, scope
// prefixes, the archived flag and field equality, which is the whole query
// surface the core needs.
type Query struct {
	// IDs restricts to exact reference-ID membership.
	IDs []string
	// IDPrefix restricts to descendants of a scope, e.g. "acme:" matches every
	// document whose reference ID lives under the acme organization.
	IDPrefix string
	// Archived filters on the archived flag when non-nil.
	Archived *bool
	// Conditions applies equality filters on top-level document fields
	// ("type", "createdBy", "reference", ...) and on nested custom data via
	// dotted "custom.<key>" keys.
	Conditions map[string]any
}

// FindOptions carries pagination and ordering for Find.
type FindOptions struct {
	// Skip is the number of matching documents to pass over.
	Skip int
	// Limit bounds the result set; 0 means unlimited.
	Limit int
	// Sort names a document field; a leading "-" sorts descending. Empty sorts
	// ascending by reference ID.
	Sort string
}

// BulkResult reports how many documents a BulkWrite matched and rewrote so
// controllers can log requested-vs-written discrepancies.
type BulkResult struct {
	Matched  int64
	Modified int64
}

// Store is the persistence interface the controllers depend on. Every call is
// a suspension point; implementations must honor ctx cancellation.
//
// Documents within one InsertMany or BulkWrite batch target disjoint IDs by
// construction, so no cross-document ordering is guaranteed or needed.
type Store interface {
	// Find returns the documents of kind matching q, in FindOptions order.
	// An empty result is not an error.
	Find(ctx context.Context, kind models.Kind, q Query, opts FindOptions) ([]models.Entity, error)

	// FindOne returns the document with the given reference ID, or nil when
	// absent.
	FindOne(ctx context.Context, kind models.Kind, id string) (models.Entity, error)

	// InsertMany writes new documents in one batch. It is the caller's job to
	// pre-check ID conflicts; on a storage-level uniqueness violation the whole
	// batch fails.
	InsertMany(ctx context.Context, kind models.Kind, entities []models.Entity) error

	// BulkWrite replaces each document by its reference ID. Per-document
	// updates are independent; partial application on storage failure is
	// reported through BulkResult, not retried.
	BulkWrite(ctx context.Context, kind models.Kind, entities []models.Entity) (BulkResult, error)

	// DeleteMany removes every document matching q and returns the count.
	DeleteMany(ctx context.Context, kind models.Kind, q Query) (int64, error)

	// Count returns the number of documents matching q.
	Count(ctx context.Context, kind models.Kind, q Query) (int64, error)
}

// NewEntity returns the zero document struct for kind. Store implementations
// use it to decode persisted rows into the canonical model shapes.
func NewEntity(kind models.Kind) (models.Entity, error) {
	switch kind {
	case models.KindOrganization:
		return &models.Organization{}, nil
	case models.KindProject:
		return &models.Project{}, nil
	case models.KindBranch:
		return &models.Branch{}, nil
	case models.KindElement:
		return &models.Element{}, nil
	case models.KindArtifact:
		return &models.Artifact{}, nil
	case models.KindWebhook:
		return &models.Webhook{}, nil
	case models.KindUser:
		return &models.User{}, nil
	default:
		return nil, apperrors.Server(nil, "unknown entity kind %q", kind)
	}
}
