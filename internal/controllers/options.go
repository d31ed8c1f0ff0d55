// Package controllers implements the permission-scoped batch CRUD operations
// over organizations, projects, users, webhooks, branches, elements and
// artifacts. Every operation follows the same state machine: normalize
// heterogeneous input into a uniform batch, resolve the permission scope chain,
// validate the payload against field and immutability rules, delegate
// persistence to the Scope Store Adapter, and run cascading cleanup when a
// parent entity is removed.
//
// options.go is the input normalizer: it converts single/array/ID selectors
// into canonical ID lists and parses the heterogeneous options bag with strict
// type checking. All failures are DataFormat errors; nothing fails silently.
package controllers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lmco/mcf-sub003/internal/apperrors"
)

// Options is the parsed, validated options bag accepted by every controller
// operation.
type Options struct {
	// Populate lists reference fields to eagerly resolve (createdBy,
	// lastModifiedBy, archivedBy).
	Populate []string
	// Fields is a projection list; a leading "-" excludes the field.
	Fields []string
	// Limit bounds the result set; 0 means unlimited.
	Limit int
	// Skip is the number of results to pass over.
	Skip int
	// Sort names a document field; a leading "-" sorts descending.
	Sort string
	// IncludeArchived widens find results to archived and unarchived documents.
	IncludeArchived bool
	// ArchivedOnly restricts find results to archived documents. Takes
	// precedence over IncludeArchived.
	ArchivedOnly bool
	// Conditions carries field-level search filters (name, createdBy, type,
	// custom.<key>) validated per kind by the controller.
	Conditions map[string]any
}

// archivedFilter translates the archive options into the store's tri-state
// filter: default excludes archived documents, IncludeArchived matches both,
// ArchivedOnly restricts to archived.
func (o Options) archivedFilter() *bool {
	if o.ArchivedOnly {
		t := true
		return &t
	}
	if o.IncludeArchived {
		return nil
	}
	f := false
	return &f
}

// ParseOptions validates a raw options map (decoded JSON or query parameters).
// Recognized keys are type-checked strictly; unrecognized keys are collected
// as search conditions and validated against the kind's searchable fields by
// the controller that receives them.
func ParseOptions(raw map[string]any) (Options, error) {
	var opts Options
	for key, val := range raw {
		var err error
		switch key {
		case "populate":
			opts.Populate, err = stringList(key, val)
		case "fields":
			opts.Fields, err = stringList(key, val)
		case "limit":
			opts.Limit, err = nonNegativeInt(key, val)
		case "skip":
			opts.Skip, err = nonNegativeInt(key, val)
		case "sort":
			s, ok := val.(string)
			if !ok {
				err = apperrors.DataFormat("option sort must be a string, got %T", val)
			}
			opts.Sort = s
		case "includeArchived":
			opts.IncludeArchived, err = boolean(key, val)
		case "archived":
			opts.ArchivedOnly, err = boolean(key, val)
		default:
			if opts.Conditions == nil {
				opts.Conditions = make(map[string]any)
			}
			opts.Conditions[key] = val
		}
		if err != nil {
			return Options{}, err
		}
	}
	return opts, nil
}

// stringList accepts a []string, a []any of strings, or a comma-separated
// string (the query-parameter form).
func stringList(key string, val any) ([]string, error) {
	switch v := val.(type) {
	case []string:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return strings.Split(v, ","), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, apperrors.DataFormat("option %s must contain only strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, apperrors.DataFormat("option %s must be a string array, got %T", key, val)
	}
}

// nonNegativeInt accepts ints, JSON numbers and numeric strings, rejecting
// negatives and fractions.
func nonNegativeInt(key string, val any) (int, error) {
	var n int
	switch v := val.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != float64(int(v)) {
			return 0, apperrors.DataFormat("option %s must be an integer, got %v", key, v)
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, apperrors.DataFormat("option %s must be an integer, got %q", key, v)
		}
		n = parsed
	default:
		return 0, apperrors.DataFormat("option %s must be an integer, got %T", key, val)
	}
	if n < 0 {
		return 0, apperrors.DataFormat("option %s must be >= 0, got %d", key, n)
	}
	return n, nil
}

// boolean accepts bools and the query-parameter strings "true"/"false".
func boolean(key string, val any) (bool, error) {
	switch v := val.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, apperrors.DataFormat("option %s must be a boolean, got %q", key, v)
		}
		return b, nil
	default:
		return false, apperrors.DataFormat("option %s must be a boolean, got %T", key, val)
	}
}

// NormalizeSelector converts a find/remove target selector into a canonical
// ID list. A nil selector means "all accessible entities of this kind" and
// returns all == true with a nil list. A single string is wrapped; string
// arrays pass through; arrays mixing strings with anything else are rejected.
func NormalizeSelector(selector any) (ids []string, all bool, err error) {
	switch sel := selector.(type) {
	case nil:
		return nil, true, nil
	case string:
		return []string{sel}, false, nil
	case []string:
		return sel, false, nil
	case []any:
		out := make([]string, 0, len(sel))
		for _, item := range sel {
			s, ok := item.(string)
			if !ok {
				return nil, false, apperrors.DataFormat("selector array mixes strings with %T", item)
			}
			out = append(out, s)
		}
		return out, false, nil
	default:
		return nil, false, apperrors.DataFormat("selector must be an ID or ID array, got %T", selector)
	}
}

// duplicateIDs returns the IDs appearing more than once, preserving first-seen
// order.
func duplicateIDs(ids []string) []string {
	seen := make(map[string]int, len(ids))
	var dups []string
	for _, id := range ids {
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}

// missingIDs cross-references requested IDs against found documents and
// returns the absent ones.
func missingIDs(requested []string, found map[string]bool) []string {
	var missing []string
	for _, id := range requested {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// validateConditions checks the search-condition keys against the kind's
// searchable fields. Dotted custom.<key> paths are always allowed.
func validateConditions(conditions map[string]any, searchable ...string) error {
	for key := range conditions {
		if strings.HasPrefix(key, "custom.") {
			continue
		}
		ok := false
		for _, s := range searchable {
			if key == s {
				ok = true
				break
			}
		}
		if !ok {
			return apperrors.DataFormat("unsupported search field %q (valid: %s, custom.*)",
				key, fmt.Sprint(searchable))
		}
	}
	return nil
}
