// Package audit emits structured audit records for security-relevant
// operations: logins, entity writes, artifact uploads, hard deletes, and
// permission changes. Audit records are kept apart from application logs
// because their consumers differ; application logs are ephemeral debug
// output, audit records feed security review and carry long retention.
// The Shipper interface routes records to one or more destinations (file,
// webhook) so they can reach a SIEM independently of the logging pipeline.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// LogEntry is one audit record. ResourceKind and ResourceID identify the
// entity the operation touched; Metadata carries operation-specific detail.
type LogEntry struct {
	Timestamp    time.Time      `json:"timestamp"`
	Action       string         `json:"action"`
	Username     string         `json:"username,omitempty"`
	ResourceKind string         `json:"resource_kind,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	StatusCode   int            `json:"status_code,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Shipper delivers audit records to a destination.
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	Close() error
}

// ShipperConfig selects and configures one destination.
type ShipperConfig struct {
	Enabled bool           `json:"enabled"`
	Type    string         `json:"type"`
	Webhook *WebhookConfig `json:"webhook,omitempty"`
	File    *FileConfig    `json:"file,omitempty"`
}

// WebhookConfig configures HTTP delivery. With BatchSize > 0 entries are
// buffered and sent as JSON arrays; otherwise each entry posts individually.
type WebhookConfig struct {
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers,omitempty"`
	Timeout       time.Duration     `json:"timeout"`
	BatchSize     int               `json:"batch_size"`
	FlushInterval time.Duration     `json:"flush_interval"`
}

// FileConfig configures append-only JSON-lines delivery with size-based
// rotation.
type FileConfig struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// MultiShipper fans one record out to every enabled destination.
type MultiShipper struct {
	mu       sync.RWMutex
	shippers []Shipper
}

// NewMultiShipper builds a shipper per enabled config entry. Disabled
// entries are skipped; a misconfigured entry fails construction outright so
// audit gaps are caught at startup, not at delivery time.
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var (
			shipper Shipper
			err     error
		)
		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}
		ms.shippers = append(ms.shippers, shipper)
	}
	return ms, nil
}

// Ship delivers to every destination. One failing destination does not block
// the others; the last error is returned.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			lastErr = err
			slog.Warn("audit shipper delivery failed", "error", err)
		}
	}
	return lastErr
}

func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WebhookShipper posts audit records to an HTTP endpoint.
type WebhookShipper struct {
	cfg       *WebhookConfig
	client    *http.Client
	queue     chan *LogEntry
	done      chan struct{}
	closeOnce sync.Once
}

const webhookQueueDepth = 1000

// NewWebhookShipper starts the batching goroutine when batching is
// configured. Timeout defaults to 10 seconds.
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
		cfg.Timeout = timeout
	}

	ws := &WebhookShipper{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		queue:  make(chan *LogEntry, webhookQueueDepth),
		done:   make(chan struct{}),
	}
	if cfg.BatchSize > 0 {
		go ws.batchLoop()
	}
	return ws, nil
}

// batchLoop owns the pending batch. Entries flush when the batch fills, on
// the flush interval, and once more on close.
func (ws *WebhookShipper) batchLoop() {
	interval := ws.cfg.FlushInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []*LogEntry
	flush := func() {
		if len(pending) == 0 {
			return
		}
		data, err := json.Marshal(pending)
		pending = pending[:0]
		if err != nil {
			slog.Error("failed to marshal audit batch", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout)
		defer cancel()
		if err := ws.post(ctx, data); err != nil {
			slog.Warn("failed to send audit batch", "error", err)
		}
	}

	for {
		select {
		case entry := <-ws.queue:
			pending = append(pending, entry)
			if len(pending) >= ws.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.done:
			flush()
			return
		}
	}
}

// Ship queues the entry when batching is on, falling back to a direct post
// if the queue is full so records are not silently dropped.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.queue <- entry:
			return nil
		default:
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return ws.post(ctx, data)
}

func (ws *WebhookShipper) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() { close(ws.done) })
	return nil
}

// FileShipper appends one JSON line per record, rotating by size.
type FileShipper struct {
	cfg  *FileConfig
	mu   sync.Mutex
	file *os.File
}

func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	file, err := openAuditFile(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

func openAuditFile(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return file, nil
}

func (fs *FileShipper) Ship(ctx context.Context, entry *LogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		if info, err := fs.file.Stat(); err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)<<20 {
			if err := fs.rotate(); err != nil {
				slog.Warn("failed to rotate audit log", "error", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1, and
// reopens. Caller holds mu.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(
			fmt.Sprintf("%s.%d", fs.cfg.Path, i),
			fmt.Sprintf("%s.%d", fs.cfg.Path, i+1),
		)
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := openAuditFile(fs.cfg.Path)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
