// Package refid builds and parses the composite hierarchical identifiers that
// encode an entity's ownership path: "org", "org:project", "org:project:branch"
// and "org:project:branch:element". The delimiter is a reserved character; edge
// validators reject it inside individual ID segments so that Parse(Build(parts))
// always round-trips.
package refid

import (
	"strings"

	"github.com/lmco/mcf-sub003/internal/apperrors"
)

// Delimiter separates the segments of a composite reference ID.
const Delimiter = ":"

// Build joins non-empty parts with the delimiter.
func Build(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, Delimiter)
}

// Parse splits a composite ID into its segments. An empty ID or an ID with an
// empty segment (leading, trailing or doubled delimiter) is malformed.
func Parse(id string) ([]string, error) {
	if id == "" {
		return nil, apperrors.DataFormat("reference ID is empty")
	}
	segs := strings.Split(id, Delimiter)
	for _, s := range segs {
		if s == "" {
			return nil, apperrors.DataFormat("malformed reference ID %q", id)
		}
	}
	return segs, nil
}

// Org returns the organization segment of id, or "" when id is malformed.
func Org(id string) string {
	segs, err := Parse(id)
	if err != nil {
		return ""
	}
	return segs[0]
}

// Project returns the "org:project" prefix of id, or "" when id has no project
// segment.
func Project(id string) string {
	segs, err := Parse(id)
	if err != nil || len(segs) < 2 {
		return ""
	}
	return Build(segs[0], segs[1])
}

// Prefix returns the scope prefix used to match every descendant of id,
// i.e. id followed by the delimiter.
func Prefix(id string) string {
	return id + Delimiter
}
