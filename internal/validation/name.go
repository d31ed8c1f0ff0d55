// name.go validates human-readable display names.
package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/lmco/mcf-sub003/internal/apperrors"
)

// MaxNameLength bounds display names.
const MaxNameLength = 128

// Name validates a display name: non-empty after trimming, bounded length,
// printable UTF-8.
func Name(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.DataFormat("%s is required", field)
	}
	if !utf8.ValidString(name) {
		return apperrors.DataFormat("%s is not valid UTF-8", field)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return apperrors.DataFormat("%s exceeds %d characters", field, MaxNameLength)
	}
	return nil
}
