// Package azure stores artifact blobs in Azure Blob Storage. Downloads hand
// out time-limited SAS URLs (or a CDN URL when one is configured) so blob
// traffic bypasses the API server. Authentication uses a shared account key.
package azure

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/lmco/mcf-sub003/internal/config"
	"github.com/lmco/mcf-sub003/internal/storage"
	"github.com/lmco/mcf-sub003/pkg/checksum"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// Backend implements storage.Storage against one blob container.
type Backend struct {
	client        *azblob.Client
	containerName string
	accountName   string
	accountKey    string
	cdnURL        string
}

// New validates the shared-key configuration and builds the blob client.
func New(cfg *config.AzureStorageConfig) (*Backend, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &Backend{
		client:        client,
		containerName: cfg.ContainerName,
		accountName:   cfg.AccountName,
		accountKey:    cfg.AccountKey,
		cdnURL:        cfg.CDNURL,
	}, nil
}

func (b *Backend) blobClient(path string) *blob.Client {
	return b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(path)
}

// Upload buffers the blob to hash it, then writes it with the SHA-256 stored
// as blob metadata. Azure natively keeps MD5 only, so the metadata entry is
// what lets GetMetadata skip re-reading the blob.
func (b *Backend) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	hasher := sha256.New()
	hasher.Write(data)
	sum := hex.EncodeToString(hasher.Sum(nil))

	blockClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlockBlobClient(path)
	_, err = blockClient.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		Metadata: map[string]*string{"sha256": &sum},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.UploadResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: sum,
	}, nil
}

func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := b.blobClient(path).DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	return resp.Body, nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	if _, err := b.blobClient(path).Delete(ctx, nil); err != nil {
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// GetURL returns the CDN URL when configured, or signs a read-only SAS URL
// for the given TTL. The SAS start time is backdated to absorb clock skew.
func (b *Backend) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("file not found: %s", path)
	}

	if b.cdnURL != "" {
		return fmt.Sprintf("%s/%s", b.cdnURL, path), nil
	}

	credential, err := azblob.NewSharedKeyCredential(b.accountName, b.accountKey)
	if err != nil {
		return "", fmt.Errorf("failed to create credential for SAS: %w", err)
	}

	perms := sas.BlobPermissions{Read: true}
	now := time.Now().UTC()
	sasQueryParams, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     now.Add(-5 * time.Minute),
		ExpiryTime:    now.Add(ttl),
		Permissions:   perms.String(),
		ContainerName: b.containerName,
		BlobName:      path,
	}.SignWithSharedKey(credential)
	if err != nil {
		return "", fmt.Errorf("failed to generate SAS token: %w", err)
	}

	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s?%s",
		b.accountName, b.containerName, url.PathEscape(path), sasQueryParams.Encode()), nil
}

// Exists probes blob properties. The SDK wraps missing blobs in a generic
// response error, so any error is treated as absence.
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := b.blobClient(path).GetProperties(ctx, nil); err != nil {
		return false, nil
	}
	return true, nil
}

// GetMetadata reads blob properties. Blobs written by other tools lack the
// sha256 metadata entry; those are downloaded and hashed on demand.
func (b *Backend) GetMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	props, err := b.blobClient(path).GetProperties(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	var sum string
	if v, ok := props.Metadata["sha256"]; ok && v != nil {
		sum = *v
	}
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

	meta := &storage.FileMetadata{Path: path, Checksum: sum}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		meta.LastModified = *props.LastModified
	}
	return meta, nil
}
