// Package storage defines the blob backend interface and common types for
// artifact binary storage. Artifact documents live in the document store; the
// blobs they describe live behind this interface, addressed by the
// slash-joined form of the artifact reference ID.
//
// New backends are added by implementing the Storage interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    factory.Register("mybackend", func(cfg *config.Config) (Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The router imports each backend with a blank import to trigger init(), so
// adding a backend changes nothing in the factory itself.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage is the contract every blob backend implements. All methods take a
// context so callers can bound cloud round-trips.
type Storage interface {
	// Upload streams size bytes from reader into the backend at path and
	// reports the stored path, byte count, and content checksum.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens a reader over the blob at path. The caller closes it.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the blob at path.
	Delete(ctx context.Context, path string) error

	// GetURL returns a client-usable download URL. Cloud backends sign the
	// URL for the given TTL; the local backend returns a server-relative
	// serving path.
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists reports whether a blob is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata returns size, checksum, and modification time for the blob
	// at path without reading its contents where the backend allows it.
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)
}

// UploadResult describes a completed upload. Checksum is the hex SHA-256 of
// the stored bytes and is recorded on the artifact document.
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string
}

// FileMetadata describes a stored blob.
type FileMetadata struct {
	Path         string
	Size         int64
	Checksum     string
	LastModified time.Time
}
