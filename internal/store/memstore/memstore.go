// Package memstore implements the Scope Store Adapter in memory. It backs the
// controller test suites and local development; documents are deep-copied
// through a JSON round trip on every read and write so callers can never alias
// stored state.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Store is a thread-safe in-memory document store keyed by kind and
// reference ID.
type Store struct {
	mu    sync.RWMutex
	kinds map[models.Kind]map[string]json.RawMessage
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{kinds: make(map[models.Kind]map[string]json.RawMessage)}
}

var _ store.Store = (*Store)(nil)

func (s *Store) collection(kind models.Kind) map[string]json.RawMessage {
	coll, ok := s.kinds[kind]
	if !ok {
		coll = make(map[string]json.RawMessage)
		s.kinds[kind] = coll
	}
	return coll
}

func encode(e models.Entity) (json.RawMessage, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s document: %w", e.EntityKind(), err)
	}
	return raw, nil
}

func decode(kind models.Kind, raw json.RawMessage) (models.Entity, error) {
	e, err := store.NewEntity(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", kind, err)
	}
	return e, nil
}

// matches evaluates q against the document's JSON representation.
func matches(raw json.RawMessage, id string, q store.Query) bool {
	if len(q.IDs) > 0 {
		found := false
		for _, want := range q.IDs {
			if id == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.IDPrefix != "" && !strings.HasPrefix(id, q.IDPrefix) {
		return false
	}
	if q.Archived == nil && len(q.Conditions) == 0 {
		return true
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	if q.Archived != nil {
		archived, _ := doc["archived"].(bool)
		if archived != *q.Archived {
			return false
		}
	}
	for key, want := range q.Conditions {
		if !fieldEquals(doc, key, want) {
			return false
		}
	}
	return true
}

// fieldEquals resolves a possibly dotted key against the document and compares
// the value through JSON normalization, so int/float64 mismatches from decoding
// do not produce false negatives.
func fieldEquals(doc map[string]any, key string, want any) bool {
	cur := any(doc)
	for _, seg := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		cur, ok = m[seg]
		if !ok {
			return false
		}
	}
	got, err1 := json.Marshal(cur)
	expect, err2 := json.Marshal(want)
	return err1 == nil && err2 == nil && string(got) == string(expect)
}

// sortField extracts the value used for ordering. Unknown fields fall back to
// the reference ID so ordering stays deterministic.
func sortField(raw json.RawMessage, field string) string {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	v, ok := doc[field]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// Find returns matching documents ordered per opts.
func (s *Store) Find(ctx context.Context, kind models.Kind, q store.Query, opts store.FindOptions) ([]models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type row struct {
		id  string
		raw json.RawMessage
	}
	rows := make([]row, 0)
	for id, raw := range s.kinds[kind] {
		if matches(raw, id, q) {
			rows = append(rows, row{id: id, raw: raw})
		}
	}

	field, desc := strings.TrimPrefix(opts.Sort, "-"), strings.HasPrefix(opts.Sort, "-")
	sort.Slice(rows, func(i, j int) bool {
		var less bool
		if field == "" || field == "id" {
			less = rows[i].id < rows[j].id
		} else {
			a, b := sortField(rows[i].raw, field), sortField(rows[j].raw, field)
			if a == b {
				less = rows[i].id < rows[j].id
			} else {
				less = a < b
			}
		}
		if desc {
			return !less
		}
		return less
	})

	if opts.Skip > 0 {
		if opts.Skip >= len(rows) {
			rows = nil
		} else {
			rows = rows[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}

	out := make([]models.Entity, 0, len(rows))
	for _, r := range rows {
		e, err := decode(kind, r.raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FindOne returns the document with the given ID, or nil when absent.
func (s *Store) FindOne(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.kinds[kind][id]
	if !ok {
		return nil, nil
	}
	return decode(kind, raw)
}

// InsertMany writes new documents, failing the whole batch on a duplicate ID.
func (s *Store) InsertMany(ctx context.Context, kind models.Kind, entities []models.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collection(kind)
	encoded := make(map[string]json.RawMessage, len(entities))
	for _, e := range entities {
		id := e.RefID()
		if _, exists := coll[id]; exists {
			return fmt.Errorf("duplicate key: %s %q already exists", kind, id)
		}
		if _, dup := encoded[id]; dup {
			return fmt.Errorf("duplicate key: %s %q appears twice in batch", kind, id)
		}
		raw, err := encode(e)
		if err != nil {
			return err
		}
		encoded[id] = raw
	}
	for id, raw := range encoded {
		coll[id] = raw
	}
	return nil
}

// BulkWrite replaces each document by its reference ID.
func (s *Store) BulkWrite(ctx context.Context, kind models.Kind, entities []models.Entity) (store.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return store.BulkResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collection(kind)
	var res store.BulkResult
	for _, e := range entities {
		id := e.RefID()
		if _, ok := coll[id]; !ok {
			continue
		}
		raw, err := encode(e)
		if err != nil {
			return res, err
		}
		coll[id] = raw
		res.Matched++
		res.Modified++
	}
	return res, nil
}

// DeleteMany removes every matching document and returns the count.
func (s *Store) DeleteMany(ctx context.Context, kind models.Kind, q store.Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.kinds[kind]
	var deleted int64
	for id, raw := range coll {
		if matches(raw, id, q) {
			delete(coll, id)
			deleted++
		}
	}
	return deleted, nil
}

// Count returns the number of matching documents.
func (s *Store) Count(ctx context.Context, kind models.Kind, q store.Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for id, raw := range s.kinds[kind] {
		if matches(raw, id, q) {
			n++
		}
	}
	return n, nil
}
