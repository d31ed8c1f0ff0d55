package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "github.com/lmco/mcf-sub003/internal/config"
)

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  appconfig.S3StorageConfig
	}{
		{"missing bucket", appconfig.S3StorageConfig{Region: "us-east-1"}},
		{"missing region", appconfig.S3StorageConfig{Bucket: "blobs"}},
		{"static auth without keys", appconfig.S3StorageConfig{Bucket: "blobs", Region: "us-east-1", AuthMethod: "static"}},
		{"unknown auth method", appconfig.S3StorageConfig{Bucket: "blobs", Region: "us-east-1", AuthMethod: "kerberos"}},
		{"oidc without role_arn", appconfig.S3StorageConfig{Bucket: "blobs", Region: "us-east-1", AuthMethod: "oidc"}},
		{"oidc without token file", appconfig.S3StorageConfig{Bucket: "blobs", Region: "us-east-1", AuthMethod: "oidc", RoleARN: "arn:aws:iam::123456789:role/blobs"}},
		{"assume_role without role_arn", appconfig.S3StorageConfig{Bucket: "blobs", Region: "us-east-1", AuthMethod: "assume_role"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(&tc.cfg); err == nil {
				t.Error("New() = nil error, want validation error")
			}
		})
	}
}

func TestNewStaticAuthWithEndpoint(t *testing.T) {
	b, err := New(&appconfig.S3StorageConfig{
		Bucket:          "blobs",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b == nil {
		t.Fatal("New returned nil backend")
	}
}

func TestNewAssumeRoleDefersSTSCall(t *testing.T) {
	// AssumeRole credentials are lazy, so construction must not hit STS.
	_, _ = New(&appconfig.S3StorageConfig{
		Bucket:     "blobs",
		Region:     "us-east-1",
		AuthMethod: "assume_role",
		RoleARN:    "arn:aws:iam::123456789:role/blobs",
		ExternalID: "mcf-prod",
	})
}

// fakeBucket speaks just enough path-style S3 REST for the backend's CRUD
// surface: PUT, GET, HEAD, and DELETE on object keys.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

func (fb *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		// Bucket-level HEAD from presign or client probes.
		w.WriteHeader(http.StatusOK)
		return
	}
	key := path[idx+1:]

	fb.mu.Lock()
	defer fb.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for hk, hv := range r.Header {
			lk := strings.ToLower(hk)
			if strings.HasPrefix(lk, "x-amz-meta-") && len(hv) > 0 {
				meta[strings.TrimPrefix(lk, "x-amz-meta-")] = hv[0]
			}
		}
		fb.objects[key] = data
		fb.meta[key] = meta
		w.Header().Set("ETag", `"fake-etag"`)
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		data, ok := fb.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code></Error>`)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)

	case http.MethodHead:
		data, ok := fb.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		for mk, mv := range fb.meta[key] {
			w.Header().Set("x-amz-meta-"+mk, mv)
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		delete(fb.objects, key)
		delete(fb.meta, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeBackend(t *testing.T) *Backend {
	t.Helper()
	fb := &fakeBucket{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	b, err := New(&appconfig.S3StorageConfig{
		Bucket:          "blobs",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("New against fake bucket: %v", err)
	}
	return b
}

func TestUploadDownloadDelete(t *testing.T) {
	b := newFakeBackend(t)
	ctx := context.Background()
	key := "acme/rocket/master/thermal-model.step"
	data := []byte("solid model payload")

	res, err := b.Upload(ctx, key, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Path != key || res.Size != int64(len(data)) {
		t.Errorf("Upload result = %+v", res)
	}
	if len(res.Checksum) != 64 {
		t.Errorf("Checksum = %q, want 64 hex chars", res.Checksum)
	}

	rc, err := b.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Errorf("Download = %q, want %q", got, data)
	}

	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := b.Exists(ctx, key); ok {
		t.Error("Exists = true after delete")
	}
}

func TestUploadChecksumIsDeterministic(t *testing.T) {
	b := newFakeBackend(t)
	ctx := context.Background()

	content := "same bytes both times"
	r1, err := b.Upload(ctx, "c1.bin", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatal(err)
	}
	r2, err := b.Upload(ctx, "c2.bin", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatal(err)
	}
	if r1.Checksum != r2.Checksum {
		t.Errorf("checksums differ: %q vs %q", r1.Checksum, r2.Checksum)
	}
}

func TestDownloadMissingKey(t *testing.T) {
	b := newFakeBackend(t)
	if _, err := b.Download(context.Background(), "ghost.bin"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestExists(t *testing.T) {
	b := newFakeBackend(t)
	ctx := context.Background()

	if ok, err := b.Exists(ctx, "nope.bin"); err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
	if _, err := b.Upload(ctx, "present.bin", strings.NewReader("x"), 1); err != nil {
		t.Fatal(err)
	}
	if ok, err := b.Exists(ctx, "present.bin"); err != nil || !ok {
		t.Errorf("Exists(present) = %v, %v", ok, err)
	}
}

func TestGetMetadataUsesStoredChecksum(t *testing.T) {
	b := newFakeBackend(t)
	ctx := context.Background()

	data := []byte("requirements export")
	res, err := b.Upload(ctx, "meta.json", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}

	meta, err := b.GetMetadata(ctx, "meta.json")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Path != "meta.json" || meta.Size != int64(len(data)) {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.Checksum != res.Checksum {
		t.Errorf("metadata checksum %q != upload checksum %q", meta.Checksum, res.Checksum)
	}

	if _, err := b.GetMetadata(ctx, "missing.json"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestGetURL(t *testing.T) {
	b := newFakeBackend(t)
	ctx := context.Background()

	if _, err := b.GetURL(ctx, "missing.bin", time.Hour); err == nil {
		t.Error("expected error for missing key")
	}

	if _, err := b.Upload(ctx, "signed.bin", strings.NewReader("content"), 7); err != nil {
		t.Fatal(err)
	}
	url, err := b.GetURL(ctx, "signed.bin", time.Hour)
	if err != nil {
		t.Fatalf("GetURL: %v", err)
	}
	if !strings.Contains(url, "signed.bin") || !strings.Contains(url, "X-Amz-Signature") {
		t.Errorf("GetURL = %q, want presigned URL", url)
	}
}
