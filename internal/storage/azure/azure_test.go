package azure

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

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/lmco/mcf-sub003/internal/config"
)

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.AzureStorageConfig
	}{
		{"missing account name", config.AzureStorageConfig{AccountKey: "key", ContainerName: "blobs"}},
		{"missing account key", config.AzureStorageConfig{AccountName: "acct", ContainerName: "blobs"}},
		{"missing container", config.AzureStorageConfig{AccountName: "acct", AccountKey: "key"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(&tc.cfg); err == nil {
				t.Error("New() = nil error, want validation error")
			}
		})
	}
}

// fakeContainer speaks just enough of the Azure Blob REST API for the
// backend's CRUD surface. Keys include the container segment.
type fakeContainer struct {
	mu    sync.Mutex
	blobs map[string]*fakeBlob
}

type fakeBlob struct {
	content      []byte
	metadata     map[string]string
	lastModified time.Time
}

func (fc *fakeContainer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")

	fc.mu.Lock()
	defer fc.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for hk, hv := range r.Header {
			lk := strings.ToLower(hk)
			if strings.HasPrefix(lk, "x-ms-meta-") && len(hv) > 0 {
				meta[strings.TrimPrefix(lk, "x-ms-meta-")] = hv[0]
			}
		}
		fc.blobs[key] = &fakeBlob{content: data, metadata: meta, lastModified: time.Now().UTC()}
		w.WriteHeader(http.StatusCreated)

	case http.MethodGet:
		b, ok := fc.blobs[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
		w.WriteHeader(http.StatusOK)
		w.Write(b.content)

	case http.MethodHead:
		b, ok := fc.blobs[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
		w.Header().Set("Last-Modified", b.lastModified.Format(time.RFC1123))
		for mk, mv := range b.metadata {
			w.Header().Set("x-ms-meta-"+mk, mv)
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		delete(fc.blobs, key)
		w.WriteHeader(http.StatusAccepted)

	default:
		http.NotFound(w, r)
	}
}

func newFakeBackend(t *testing.T) *Backend {
	t.Helper()
	fc := &fakeContainer{blobs: map[string]*fakeBlob{}}
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		t.Fatalf("azblob client: %v", err)
	}
	return &Backend{
		client:        client,
		containerName: "blobs",
		accountName:   "acct",
		accountKey:    "key",
	}
}

func TestUploadDownloadDelete(t *testing.T) {
	b := newFakeBackend(t)
	ctx := context.Background()
	data := []byte("interface control document")

	res, err := b.Upload(ctx, "acme/rocket/master/icd.pdf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Size != int64(len(data)) || len(res.Checksum) != 64 {
		t.Errorf("Upload result = %+v", res)
	}

	rc, err := b.Download(ctx, "acme/rocket/master/icd.pdf")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Errorf("Download = %q, want %q", got, data)
	}

	if ok, _ := b.Exists(ctx, "acme/rocket/master/icd.pdf"); !ok {
		t.Error("Exists = false after upload")
	}
	if err := b.Delete(ctx, "acme/rocket/master/icd.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := b.Exists(ctx, "acme/rocket/master/icd.pdf"); ok {
		t.Error("Exists = true after delete")
	}
}

func TestGetMetadataUsesStoredChecksum(t *testing.T) {
	b := newFakeBackend(t)
	ctx := context.Background()
	data := []byte("mass properties table")

	res, err := b.Upload(ctx, "meta.csv", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	meta, err := b.GetMetadata(ctx, "meta.csv")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Path != "meta.csv" || meta.Size != int64(len(data)) {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.Checksum != res.Checksum {
		t.Errorf("metadata checksum %q != upload checksum %q", meta.Checksum, res.Checksum)
	}
}

func TestGetURL(t *testing.T) {
	b := newFakeBackend(t)
	ctx := context.Background()

	if _, err := b.Upload(ctx, "report.pdf", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	t.Run("CDN configured", func(t *testing.T) {
		b.cdnURL = "https://cdn.example"
		defer func() { b.cdnURL = "" }()

		u, err := b.GetURL(ctx, "report.pdf", time.Hour)
		if err != nil {
			t.Fatalf("GetURL: %v", err)
		}
		if u != "https://cdn.example/report.pdf" {
			t.Errorf("GetURL = %q", u)
		}
	})

	t.Run("missing blob", func(t *testing.T) {
		if _, err := b.GetURL(ctx, "nonexistent.pdf", time.Hour); err == nil {
			t.Error("expected error for missing blob")
		}
	})
}
