// Package local stores artifact blobs on the server's filesystem. Suitable
// for development and single-node deployments; multiple server instances
// would need a shared mount. Production deployments use a cloud backend.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lmco/mcf-sub003/internal/config"
	"github.com/lmco/mcf-sub003/internal/storage"
	"github.com/lmco/mcf-sub003/pkg/checksum"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Local, cfg.Server.BaseURL)
	})
}

// Backend implements storage.Storage over a base directory.
type Backend struct {
	basePath      string
	serveDirectly bool
	baseURL       string
}

// New creates the base directory if needed and returns a filesystem backend.
func New(cfg *config.LocalStorageConfig, serverBaseURL string) (*Backend, error) {
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Backend{
		basePath:      cfg.BasePath,
		serveDirectly: cfg.ServeDirectly,
		baseURL:       serverBaseURL,
	}, nil
}

// resolve maps a slash-form blob path onto the base directory.
func (b *Backend) resolve(path string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(path))
}

// Upload writes the blob through a temp file and renames it into place, so a
// failed write never leaves a partial blob at the final path.
func (b *Backend) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	fullPath := b.resolve(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to finalize file: %w", err)
	}

	return &storage.UploadResult{
		Path:     path,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	file, err := os.Open(b.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes the blob and prunes any directories it leaves empty.
func (b *Backend) Delete(ctx context.Context, path string) error {
	fullPath := b.resolve(path)
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	for dir := filepath.Dir(fullPath); dir != b.basePath; dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// GetURL returns the file-serving endpoint URL when direct serving is
// enabled, and a file:// URL otherwise. The TTL is meaningless for
// filesystem paths and is ignored.
func (b *Backend) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("file not found: %s", path)
	}

	if b.serveDirectly {
		return fmt.Sprintf("%s/api/v1/files/%s", b.baseURL, path), nil
	}
	return "file://" + b.resolve(path), nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := os.Stat(b.resolve(path)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// GetMetadata stats the file and hashes its contents. The filesystem keeps no
// stored checksum, so this reads the whole blob.
func (b *Backend) GetMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	fullPath := b.resolve(path)
	stat, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to get file metadata: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	sum, err := checksum.CalculateSHA256(file)
	if err != nil {
		return nil, err
	}

	return &storage.FileMetadata{
		Path:         path,
		Size:         stat.Size(),
		Checksum:     sum,
		LastModified: stat.ModTime(),
	}, nil
}
