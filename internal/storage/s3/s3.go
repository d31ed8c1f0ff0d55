// Package s3 stores artifact blobs in AWS S3 or any S3-compatible service
// (MinIO, DigitalOcean Spaces) via a configurable endpoint. Downloads hand
// out pre-signed URLs so blob traffic bypasses the API server. Credentials
// come from the default AWS chain, static keys, an OIDC web identity, or an
// assumed IAM role.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	appconfig "github.com/lmco/mcf-sub003/internal/config"
	"github.com/lmco/mcf-sub003/internal/storage"
	"github.com/lmco/mcf-sub003/pkg/checksum"
)

func init() {
	storage.Register("s3", func(cfg *appconfig.Config) (storage.Storage, error) {
		return New(&cfg.Storage.S3)
	})
}

// Backend implements storage.Storage against one S3 bucket.
type Backend struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
}

// New builds an S3 backend from configuration. The auth method defaults to
// "static" when access keys are present and to the AWS default credential
// chain otherwise.
func New(cfg *appconfig.S3StorageConfig) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			authMethod = "static"
		} else {
			authMethod = "default"
		}
	}

	awsCfg, err := loadAWSConfig(cfg, authMethod)
	if err != nil {
		return nil, err
	}
	if err := applyRoleCredentials(cfg, authMethod, &awsCfg); err != nil {
		return nil, err
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible services generally require path-style addressing.
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)
	return &Backend{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
	}, nil
}

// loadAWSConfig resolves the base AWS configuration for the chosen auth
// method. OIDC and assume_role credentials layer on top afterwards because
// they need an STS client built from this base.
func loadAWSConfig(cfg *appconfig.S3StorageConfig, authMethod string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	switch authMethod {
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return aws.Config{}, fmt.Errorf("access_key_id and secret_access_key are required for static auth")
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case "default", "oidc", "assume_role":
		// The default chain covers env vars, shared config, and instance or
		// pod identity. OIDC and assume_role replace the credentials below.
	default:
		return aws.Config{}, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'static', 'oidc', or 'assume_role')", authMethod)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// applyRoleCredentials swaps in web-identity or assume-role credentials when
// configured. No-op for static and default auth.
func applyRoleCredentials(cfg *appconfig.S3StorageConfig, authMethod string, awsCfg *aws.Config) error {
	switch authMethod {
	case "oidc":
		if cfg.RoleARN == "" {
			return fmt.Errorf("role_arn is required for OIDC auth")
		}
		if cfg.WebIdentityTokenFile == "" {
			return fmt.Errorf("web_identity_token_file is required for OIDC auth (or set AWS_WEB_IDENTITY_TOKEN_FILE)")
		}
		stsClient := sts.NewFromConfig(*awsCfg)
		var opts []func(*stscreds.WebIdentityRoleOptions)
		if cfg.RoleSessionName != "" {
			opts = append(opts, func(o *stscreds.WebIdentityRoleOptions) {
				o.RoleSessionName = cfg.RoleSessionName
			})
		}
		provider := stscreds.NewWebIdentityRoleProvider(
			stsClient, cfg.RoleARN, stscreds.IdentityTokenFile(cfg.WebIdentityTokenFile), opts...)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)

	case "assume_role":
		if cfg.RoleARN == "" {
			return fmt.Errorf("role_arn is required for assume_role auth")
		}
		stsClient := sts.NewFromConfig(*awsCfg)
		var opts []func(*stscreds.AssumeRoleOptions)
		if cfg.RoleSessionName != "" {
			opts = append(opts, func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = cfg.RoleSessionName
			})
		}
		if cfg.ExternalID != "" {
			opts = append(opts, func(o *stscreds.AssumeRoleOptions) {
				o.ExternalID = aws.String(cfg.ExternalID)
			})
		}
		awsCfg.Credentials = aws.NewCredentialsCache(
			stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, opts...))
	}
	return nil
}

// Upload buffers the blob to hash it, then writes it with the checksum stored
// as object metadata so GetMetadata can avoid a re-read.
func (b *Backend) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	sum, err := checksum.CalculateSHA256(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{"sha256": sum},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &storage.UploadResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: sum,
	}, nil
}

func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return result.Body, nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// GetURL pre-signs a GetObject request valid for the given TTL.
func (b *Backend) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("file not found: %s", path)
	}

	request, err := b.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return request.URL, nil
}

// Exists issues a HeadObject. The SDK surfaces missing keys as generic API
// errors, so any error is treated as absence.
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// GetMetadata reads size and checksum from the object head. Objects written
// by other tools lack the sha256 metadata entry; those are downloaded and
// hashed on demand.
func (b *Backend) GetMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	sum := result.Metadata["sha256"]
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
	if result.ContentLength != nil {
		meta.Size = *result.ContentLength
	}
	if result.LastModified != nil {
		meta.LastModified = *result.LastModified
	}
	return meta, nil
}
