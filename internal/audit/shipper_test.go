package audit_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmco/mcf-sub003/internal/audit"
)

// captureServer records each request body it receives and signals on got.
func captureServer(t *testing.T, status int) (*httptest.Server, chan []byte) {
	t.Helper()
	got := make(chan []byte, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(status)
		got <- body
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func waitForBody(t *testing.T, got chan []byte) []byte {
	t.Helper()
	select {
	case body := <-got:
		return body
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for audit delivery")
		return nil
	}
}

func TestNewMultiShipperConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  audit.ShipperConfig
	}{
		{"unknown type", audit.ShipperConfig{Enabled: true, Type: "syslog"}},
		{"webhook without config", audit.ShipperConfig{Enabled: true, Type: "webhook"}},
		{"file without config", audit.ShipperConfig{Enabled: true, Type: "file"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := audit.NewMultiShipper([]audit.ShipperConfig{tc.cfg})
			require.Error(t, err)
		})
	}
}

func TestMultiShipperNoDestinations(t *testing.T) {
	ms, err := audit.NewMultiShipper([]audit.ShipperConfig{
		{Enabled: false, Type: "webhook", Webhook: &audit.WebhookConfig{URL: "http://example.invalid"}},
	})
	require.NoError(t, err)

	assert.NoError(t, ms.Ship(context.Background(), &audit.LogEntry{Action: "element.update"}))
	assert.NoError(t, ms.Close())
}

func TestMultiShipperContinuesPastFailingDestination(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	healthy, got := captureServer(t, http.StatusOK)

	ms, err := audit.NewMultiShipper([]audit.ShipperConfig{
		{Enabled: true, Type: "webhook", Webhook: &audit.WebhookConfig{URL: failing.URL, Timeout: time.Second}},
		{Enabled: true, Type: "webhook", Webhook: &audit.WebhookConfig{URL: healthy.URL, Timeout: time.Second}},
	})
	require.NoError(t, err)
	defer ms.Close()

	err = ms.Ship(context.Background(), &audit.LogEntry{Action: "project.delete"})
	assert.Error(t, err, "failing destination error should surface")
	waitForBody(t, got)
}

func TestWebhookShipperDelivery(t *testing.T) {
	var gotHeader string
	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotHeader = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		got <- body
	}))
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:     srv.URL,
		Timeout: 5 * time.Second,
		Headers: map[string]string{"Authorization": "Bearer audit-token"},
	})
	require.NoError(t, err)
	defer ws.Close()

	entry := &audit.LogEntry{
		Action:       "artifact.upload",
		Username:     "jdoe",
		ResourceKind: "artifact",
		ResourceID:   "acme:rocket:master:thermal-model.step",
		StatusCode:   201,
	}
	require.NoError(t, ws.Ship(context.Background(), entry))

	var decoded audit.LogEntry
	require.NoError(t, json.Unmarshal(waitForBody(t, got), &decoded))
	assert.Equal(t, entry.Action, decoded.Action)
	assert.Equal(t, entry.Username, decoded.Username)
	assert.Equal(t, entry.ResourceID, decoded.ResourceID)
	assert.Equal(t, "Bearer audit-token", gotHeader)
}

func TestWebhookShipperErrorStatus(t *testing.T) {
	srv, _ := captureServer(t, http.StatusInternalServerError)

	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	defer ws.Close()

	assert.Error(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "user.login"}))
}

func TestWebhookShipperCloseIsIdempotent(t *testing.T) {
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: "http://localhost:0", Timeout: time.Second})
	require.NoError(t, err)

	assert.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())
}

func TestWebhookShipperBatching(t *testing.T) {
	t.Run("flush when batch fills", func(t *testing.T) {
		srv, got := captureServer(t, http.StatusOK)
		ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
			URL:           srv.URL,
			Timeout:       time.Second,
			BatchSize:     2,
			FlushInterval: time.Hour,
		})
		require.NoError(t, err)
		defer ws.Close()

		require.NoError(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "element.create"}))
		require.NoError(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "element.update"}))

		var batch []audit.LogEntry
		require.NoError(t, json.Unmarshal(waitForBody(t, got), &batch))
		require.Len(t, batch, 2)
		assert.Equal(t, "element.create", batch[0].Action)
		assert.Equal(t, "element.update", batch[1].Action)
	})

	t.Run("flush on interval", func(t *testing.T) {
		srv, got := captureServer(t, http.StatusOK)
		ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
			URL:           srv.URL,
			Timeout:       time.Second,
			BatchSize:     100,
			FlushInterval: 50 * time.Millisecond,
		})
		require.NoError(t, err)
		defer ws.Close()

		require.NoError(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "branch.create"}))
		waitForBody(t, got)
	})

	t.Run("flush on close", func(t *testing.T) {
		srv, got := captureServer(t, http.StatusOK)
		ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
			URL:           srv.URL,
			Timeout:       time.Second,
			BatchSize:     100,
			FlushInterval: time.Hour,
		})
		require.NoError(t, err)

		require.NoError(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "org.delete"}))
		time.Sleep(50 * time.Millisecond)
		ws.Close()
		waitForBody(t, got)
	})
}

func TestFileShipperWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	fs, err := audit.NewFileShipper(&audit.FileConfig{Path: path})
	require.NoError(t, err)

	actions := []string{"user.login", "element.create", "webhook.trigger"}
	for _, action := range actions {
		require.NoError(t, fs.Ship(context.Background(), &audit.LogEntry{Action: action, Username: "jdoe"}))
	}
	require.NoError(t, fs.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, len(actions))
	for i, line := range lines {
		var decoded audit.LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &decoded))
		assert.Equal(t, actions[i], decoded.Action)
	}
}

func TestNewFileShipperMissingParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "audit.log")
	_, err := audit.NewFileShipper(&audit.FileConfig{Path: path})
	require.Error(t, err)
}

func TestFileShipperRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, os.WriteFile(path, make([]byte, 1<<20+1), 0600))

	fs, err := audit.NewFileShipper(&audit.FileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.Ship(context.Background(), &audit.LogEntry{Action: "after.rotate"}))

	info, err := os.Stat(path)
	require.NoError(t, err, "live file reopened after rotation")
	assert.Less(t, info.Size(), int64(1024), "live file starts fresh")

	backup, err := os.Stat(path + ".1")
	require.NoError(t, err, "rotated file kept as .1 backup")
	assert.Greater(t, backup.Size(), int64(1<<20))
}
