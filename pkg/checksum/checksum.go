// Package checksum provides SHA-256 checksum utilities for artifact blob
// integrity verification. Checksums are computed on upload, stored on the
// artifact record, and returned to clients on download so they can verify
// the bytes they received.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// CalculateSHA256 streams reader through SHA-256 and returns the digest as
// lowercase hex.
func CalculateSHA256(reader io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifySHA256 reports whether reader's content hashes to expected.
func VerifySHA256(reader io.Reader, expected string) (bool, error) {
	actual, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}
