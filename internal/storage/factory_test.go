package storage_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lmco/mcf-sub003/internal/config"
	"github.com/lmco/mcf-sub003/internal/storage"
)

type stubBackend struct{ name string }

func (s *stubBackend) Upload(context.Context, string, io.Reader, int64) (*storage.UploadResult, error) {
	return nil, nil
}
func (s *stubBackend) Download(context.Context, string) (io.ReadCloser, error) { return nil, nil }
func (s *stubBackend) Delete(context.Context, string) error                    { return nil }
func (s *stubBackend) GetURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}
func (s *stubBackend) Exists(context.Context, string) (bool, error) { return false, nil }
func (s *stubBackend) GetMetadata(context.Context, string) (*storage.FileMetadata, error) {
	return nil, nil
}

func TestNewStorageDispatchesToRegisteredFactory(t *testing.T) {
	storage.Register("stub", func(*config.Config) (storage.Storage, error) {
		return &stubBackend{name: "stub"}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "stub"

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	if sb, ok := s.(*stubBackend); !ok || sb.name != "stub" {
		t.Errorf("NewStorage returned %#v, want the registered stub", s)
	}
}

func TestNewStoragePropagatesConstructorError(t *testing.T) {
	wantErr := errors.New("bad credentials")
	storage.Register("failing", func(*config.Config) (storage.Storage, error) {
		return nil, wantErr
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "failing"

	if _, err := storage.NewStorage(cfg); !errors.Is(err, wantErr) {
		t.Errorf("NewStorage error = %v, want %v", err, wantErr)
	}
}

func TestNewStorageUnknownBackend(t *testing.T) {
	for _, backend := range []string{"never-registered", ""} {
		cfg := &config.Config{}
		cfg.Storage.DefaultBackend = backend

		_, err := storage.NewStorage(cfg)
		if err == nil {
			t.Errorf("NewStorage(%q) = nil error, want error", backend)
			continue
		}
		if !strings.Contains(err.Error(), "registered:") {
			t.Errorf("error %q should list registered backends", err)
		}
	}
}
