// Package gcs stores artifact blobs in Google Cloud Storage. Downloads hand
// out V4 signed URLs so blob traffic bypasses the API server. Credentials
// come from Application Default Credentials, a service account key, or
// Workload Identity Federation.
package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/lmco/mcf-sub003/internal/config"
	appstorage "github.com/lmco/mcf-sub003/internal/storage"
	"github.com/lmco/mcf-sub003/pkg/checksum"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// Backend implements storage.Storage against one GCS bucket.
type Backend struct {
	client *storage.Client
	bucket string
}

// New builds a GCS backend. The auth method defaults to "service_account"
// when key material is configured and to Application Default Credentials
// otherwise; "workload_identity" also resolves through ADC.
func New(cfg *appconfig.GCSStorageConfig) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			authMethod = "service_account"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "service_account":
		switch {
		case cfg.CredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		case cfg.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		default:
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth")
		}
	case "default", "workload_identity":
		// ADC resolves GOOGLE_APPLICATION_CREDENTIALS, the metadata server,
		// and workload identity without extra options.
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'service_account', or 'workload_identity')", authMethod)
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Backend{client: client, bucket: cfg.Bucket}, nil
}

// Close releases the underlying client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) object(path string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(path)
}

// Upload buffers the blob to hash it, then writes it with the checksum in
// object metadata so GetMetadata can avoid a re-read.
func (b *Backend) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*appstorage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	hasher := sha256.New()
	hasher.Write(data)
	sum := hex.EncodeToString(hasher.Sum(nil))

	writer := b.object(path).NewWriter(ctx)
	writer.Metadata = map[string]string{"sha256": sum}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.UploadResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: sum,
	}, nil
}

func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	reader, err := b.object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return reader, nil
}

// Delete removes the blob. A missing object is not an error.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := b.object(path).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// GetURL signs a V4 GET URL for the given TTL. The credentials must carry
// signBlob permission (iam.serviceAccountTokenCreator or a key file).
func (b *Backend) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("file not found: %s", path)
	}

	url, err := b.client.Bucket(b.bucket).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return url, nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := b.object(path).Attrs(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// GetMetadata reads attributes from the object. Objects written by other
// tools lack the sha256 metadata entry; those are downloaded and hashed.
func (b *Backend) GetMetadata(ctx context.Context, path string) (*appstorage.FileMetadata, error) {
	attrs, err := b.object(path).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	sum := attrs.Metadata["sha256"]
	if sum == "" {
		reader, err := b.Download(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to download for checksum: %w", err)
		}
		defer reader.Close()
		if sum, err = checksum.CalculateSHA256(reader); err != nil {
			return nil, err
		}
	}

	return &appstorage.FileMetadata{
		Path:         path,
		Size:         attrs.Size,
		Checksum:     sum,
		LastModified: attrs.Updated,
	}, nil
}
