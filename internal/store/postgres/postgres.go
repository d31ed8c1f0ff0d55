// Package postgres implements the Scope Store Adapter on PostgreSQL. Documents
// are stored as JSONB rows in a single table keyed by (kind, id); the query
// surface the controllers need (ID membership, scope prefix, archived flag,
// field equality) maps onto plain WHERE clauses, with JSONB containment doing
// the field matching.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Store is the PostgreSQL-backed document store.
type Store struct {
	db *sqlx.DB
}

// New wraps an open connection pool. Schema management happens elsewhere
// (db.RunMigrations); the store assumes the documents table exists.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

var _ store.Store = (*Store)(nil)

// buildWhere renders q into a WHERE clause over the documents table. The kind
// is always the first predicate so every query stays on the primary-key index.
func buildWhere(kind models.Kind, q store.Query) (string, []any, error) {
	clauses := []string{"kind = $1"}
	args := []any{string(kind)}

	next := func() int { return len(args) + 1 }

	if len(q.IDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("id = ANY($%d)", next()))
		args = append(args, pq.Array(q.IDs))
	}
	if q.IDPrefix != "" {
		// Reference IDs are validated lowercase [a-z0-9-] plus the colon
		// separator, so the prefix can never contain LIKE metacharacters.
		clauses = append(clauses, fmt.Sprintf("id LIKE $%d", next()))
		args = append(args, q.IDPrefix+"%")
	}
	if q.Archived != nil {
		clauses = append(clauses, fmt.Sprintf("archived = $%d", next()))
		args = append(args, *q.Archived)
	}

	// Deterministic clause order keeps query plans and test expectations stable.
	keys := make([]string, 0, len(q.Conditions))
	for k := range q.Conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		want, err := json.Marshal(q.Conditions[key])
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode condition %q: %w", key, err)
		}
		// #> walks dotted keys ("custom.vendor" → {custom,vendor}); comparing
		// JSONB to JSONB gives the same normalized equality the controllers get
		// from the in-memory store.
		clauses = append(clauses, fmt.Sprintf("doc #> $%d = $%d::jsonb", next(), next()+1))
		args = append(args, pq.Array(strings.Split(key, ".")), string(want))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// orderBy renders the FindOptions sort into an ORDER BY clause. The sort field
// is passed as a bind parameter into a JSONB extraction, never interpolated, so
// caller-supplied field names cannot alter the statement.
func orderBy(sort string, argOffset int) (string, []any) {
	field := strings.TrimPrefix(sort, "-")
	dir := "ASC"
	if strings.HasPrefix(sort, "-") {
		dir = "DESC"
	}
	if field == "" || field == "id" {
		return fmt.Sprintf(" ORDER BY id %s", dir), nil
	}
	return fmt.Sprintf(" ORDER BY doc ->> $%d %s, id ASC", argOffset, dir), []any{field}
}

// Find returns the documents of kind matching q, in FindOptions order.
func (s *Store) Find(ctx context.Context, kind models.Kind, q store.Query, opts store.FindOptions) ([]models.Entity, error) {
	where, args, err := buildWhere(kind, q)
	if err != nil {
		return nil, err
	}

	query := "SELECT doc FROM documents WHERE " + where
	order, orderArgs := orderBy(opts.Sort, len(args)+1)
	query += order
	args = append(args, orderArgs...)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Skip > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s documents: %w", kind, err)
	}
	defer rows.Close()

	out := make([]models.Entity, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", kind, err)
		}
		e, err := decode(kind, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindOne returns the document with the given reference ID, or nil when absent.
func (s *Store) FindOne(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		"SELECT doc FROM documents WHERE kind = $1 AND id = $2", string(kind), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s %q: %w", kind, id, err)
	}
	return decode(kind, raw)
}

// InsertMany writes new documents in one transaction; a duplicate ID anywhere
// in the batch rolls back the whole insert.
func (s *Store) InsertMany(ctx context.Context, kind models.Kind, entities []models.Entity) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entities {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode %s document: %w", kind, err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO documents (kind, id, archived, doc) VALUES ($1, $2, $3, $4)",
			string(kind), e.RefID(), e.Meta().Archived, raw)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return fmt.Errorf("duplicate key: %s %q already exists", kind, e.RefID())
			}
			return fmt.Errorf("failed to insert %s %q: %w", kind, e.RefID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert: %w", err)
	}
	return nil
}

// BulkWrite replaces each document by its reference ID. Documents with no
// existing row are skipped, mirroring the upsert-free replace semantics the
// controllers rely on for their count-mismatch logging.
func (s *Store) BulkWrite(ctx context.Context, kind models.Kind, entities []models.Entity) (store.BulkResult, error) {
	var res store.BulkResult

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entities {
		raw, err := json.Marshal(e)
		if err != nil {
			return res, fmt.Errorf("failed to encode %s document: %w", kind, err)
		}
		result, err := tx.ExecContext(ctx,
			"UPDATE documents SET archived = $3, doc = $4, updated_at = NOW() WHERE kind = $1 AND id = $2",
			string(kind), e.RefID(), e.Meta().Archived, raw)
		if err != nil {
			return res, fmt.Errorf("failed to update %s %q: %w", kind, e.RefID(), err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return res, fmt.Errorf("failed to read rows affected: %w", err)
		}
		res.Matched += n
		res.Modified += n
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit bulk write: %w", err)
	}
	return res, nil
}

// DeleteMany removes every document matching q and returns the count.
func (s *Store) DeleteMany(ctx context.Context, kind models.Kind, q store.Query) (int64, error) {
	where, args, err := buildWhere(kind, q)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s documents: %w", kind, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// Count returns the number of documents matching q.
func (s *Store) Count(ctx context.Context, kind models.Kind, q store.Query) (int64, error) {
	where, args, err := buildWhere(kind, q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM documents WHERE "+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count %s documents: %w", kind, err)
	}
	return n, nil
}

func decode(kind models.Kind, raw []byte) (models.Entity, error) {
	e, err := store.NewEntity(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", kind, err)
	}
	return e, nil
}
