// custom.go bounds free-form custom-data payloads so a single document cannot
// grow past what the store comfortably indexes.
package validation

import (
	"encoding/json"

	"github.com/lmco/mcf-sub003/internal/apperrors"
)

// MaxCustomBytes bounds the serialized size of one entity's custom data.
const MaxCustomBytes = 64 * 1024

// CustomData validates a custom-data object: it must serialize to JSON and
// stay within the size bound. Non-serializable values (channels, funcs) can
// only appear through programmatic misuse, but the check keeps the store
// insert path panic-free.
func CustomData(data map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return apperrors.DataFormat("custom data is not JSON-serializable: %v", err)
	}
	if len(raw) > MaxCustomBytes {
		return apperrors.DataFormat("custom data exceeds %d bytes", MaxCustomBytes)
	}
	return nil
}
