// Package validation holds the edge validators applied to caller-supplied
// values before any controller logic runs: ID segments, display names and
// custom-data payloads. Validators return typed DataFormat errors so HTTP
// handlers map them to 400 responses without special-casing.
package validation

import (
	"regexp"

	"github.com/lmco/mcf-sub003/internal/apperrors"
)

// MaxIDLength bounds a single ID segment. Composite reference IDs concatenate
// up to four segments plus delimiters.
const MaxIDLength = 36

// idPattern matches a single ID segment: lowercase alphanumerics and dashes,
// starting with an alphanumeric. The reference-ID delimiter ":" is reserved
// and therefore unmatchable here.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ID validates a single ID segment (an org ID, the project part of a composite
// ID, a username-free short ID). field names the offending input in errors.
func ID(field, id string) error {
	if id == "" {
		return apperrors.DataFormat("%s is required", field)
	}
	if len(id) > MaxIDLength {
		return apperrors.DataFormat("%s %q exceeds %d characters", field, id, MaxIDLength)
	}
	if !idPattern.MatchString(id) {
		return apperrors.DataFormat("%s %q contains invalid characters", field, id)
	}
	return nil
}

// usernamePattern is slightly wider than idPattern: usernames may contain
// underscores and mixed case, matching what identity providers issue.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Username validates a principal handle.
func Username(username string) error {
	if username == "" {
		return apperrors.DataFormat("username is required")
	}
	if len(username) > 64 {
		return apperrors.DataFormat("username %q exceeds 64 characters", username)
	}
	if !usernamePattern.MatchString(username) {
		return apperrors.DataFormat("username %q contains invalid characters", username)
	}
	return nil
}
