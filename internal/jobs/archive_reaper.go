// archive_reaper.go implements the ArchiveReaper background job, which
// periodically hard-deletes documents that have been archived for longer than
// the configured retention. Archiving is the soft-delete state: documents stay
// queryable (with the archived filter) until the reaper decides they are old
// enough to remove for good. Removal goes through the cascade coordinator so a
// reaped organization or project takes its subtree with it, exactly as a
// manual hard delete would. The job is a no-op when retention.enabled is
// false, so it is always safe to start regardless of deployment environment.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/lmco/mcf-sub003/internal/cascade"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/store"
	"github.com/lmco/mcf-sub003/internal/telemetry"
)

// reapOrder lists the kinds the reaper sweeps, leaves first. Sweeping children
// before parents keeps each cascade small: by the time an archived project is
// reaped, its individually archived elements are already gone.
var reapOrder = []models.Kind{
	models.KindElement,
	models.KindArtifact,
	models.KindWebhook,
	models.KindBranch,
	models.KindProject,
	models.KindOrganization,
	models.KindUser,
}

// ArchiveReaper permanently removes documents whose archive age exceeds the
// retention limit.
type ArchiveReaper struct {
	store    store.Store
	cascade  *cascade.Coordinator
	maxAge   time.Duration
	interval time.Duration
	stopChan chan struct{}
	now      func() time.Time
}

// NewArchiveReaper creates a reaper that sweeps every interval and removes
// documents archived longer than maxAge ago.
func NewArchiveReaper(s store.Store, c *cascade.Coordinator, maxAge, interval time.Duration) *ArchiveReaper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ArchiveReaper{
		store:    s,
		cascade:  c,
		maxAge:   maxAge,
		interval: interval,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the background sweep loop. It runs an initial sweep
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (r *ArchiveReaper) Start(ctx context.Context) {
	if r.maxAge <= 0 {
		slog.Info("archive reaper: disabled (retention max age not set)")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("archive reaper started",
		"sweep_interval", r.interval,
		"max_archive_age", r.maxAge)

	// Run once immediately on startup
	r.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-r.stopChan:
			slog.Info("archive reaper stopped")
			return
		case <-ctx.Done():
			slog.Info("archive reaper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (r *ArchiveReaper) Stop() {
	close(r.stopChan)
}

// Sweep runs one pass over every kind and removes the expired documents.
// Returns the total number of documents deleted directly (cascaded dependents
// are not counted).
func (r *ArchiveReaper) Sweep(ctx context.Context) int64 {
	start := r.now()
	var total int64

	for _, kind := range reapOrder {
		n, err := r.sweepKind(ctx, kind)
		if err != nil {
			slog.Error("archive reaper: sweep failed", "kind", kind, "error", err)
			continue
		}
		if n > 0 {
			telemetry.ReaperDocumentsReapedTotal.WithLabelValues(string(kind)).Add(float64(n))
			slog.Info("archive reaper: removed expired documents", "kind", kind, "count", n)
			total += n
		}
	}

	telemetry.ReaperSweepDuration.Observe(time.Since(start).Seconds())
	return total
}

// sweepKind deletes the expired documents of one kind, cascading the way a
// manual hard delete of the same scope would.
func (r *ArchiveReaper) sweepKind(ctx context.Context, kind models.Kind) (int64, error) {
	archived := true
	entities, err := r.store.Find(ctx, kind, store.Query{Archived: &archived}, store.FindOptions{})
	if err != nil {
		return 0, err
	}

	cutoff := r.now().Add(-r.maxAge)
	var doomed []string
	for _, e := range entities {
		meta := e.Meta()
		if meta.ArchivedOn == nil || meta.ArchivedOn.After(cutoff) {
			continue
		}
		doomed = append(doomed, e.RefID())
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	n, err := r.store.DeleteMany(ctx, kind, store.Query{IDs: doomed})
	if err != nil {
		return 0, err
	}

	for _, id := range doomed {
		switch kind {
		case models.KindOrganization:
			if err := r.cascade.OrganizationRemoved(ctx, id); err != nil {
				slog.Error("archive reaper: cascade failed", "kind", kind, "id", id, "error", err)
			}
		case models.KindProject:
			if err := r.cascade.ProjectRemoved(ctx, id); err != nil {
				slog.Error("archive reaper: cascade failed", "kind", kind, "id", id, "error", err)
			}
		case models.KindUser:
			r.cascade.UserRemoved(ctx, id)
		}
	}

	return n, nil
}
