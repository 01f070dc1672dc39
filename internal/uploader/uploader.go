// Package uploader is the consumer side of the sync pair: it drains
// pending pages from the sync store and uploads them, driving each
// page's lifecycle state.
//
// The uploader never talks to the watcher. At the start of each cycle
// it reloads the store from disk to pick up the watcher's writes,
// processes a bounded batch, and persists the resulting status
// transitions. Failed pages are retried on later cycles under a
// hold-down delay rather than blocking the batch in place; the retry
// schedule is uploader-local state, not store state, so it costs
// nothing on the wire.
package uploader

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/remsync/remsync/internal/store"
)

// Transport uploads one page file tagged with its virtual path.
type Transport interface {
	Upload(ctx context.Context, filePath, virtualPath string) (status int, body []byte, err error)
}

// PathResolver reconstructs a page's full virtual path.
type PathResolver interface {
	Resolve(docID, pageLabel string) (string, error)
}

// Config holds the uploader's tunables.
type Config struct {
	// Root is the device document root; page files live at
	// <root>/<docID>/<pageUUID>.rm.
	Root string

	// SharedPath restricts uploads to virtual paths under this
	// path-segment prefix. "*" matches everything.
	SharedPath string

	// Interval is the wait between sync cycles.
	Interval time.Duration

	// BatchSize caps pages processed per cycle.
	BatchSize int

	// MaxRetries is the attempt ceiling before a page is marked failed.
	MaxRetries int

	// RetryDelay is the hold-down before a failed page becomes
	// eligible again.
	RetryDelay time.Duration
}

// Uploader drains pending pages from the store on a fixed interval.
type Uploader struct {
	store     *store.Store
	transport Transport
	resolver  PathResolver
	cfg       Config
	logger    *log.Logger

	// holdUntil gates retries per page UUID. Local to this process and
	// deliberately not persisted: after a restart every pending page is
	// immediately eligible again, which is the safe direction.
	holdUntil map[string]time.Time

	now func() time.Time
}

// New creates an Uploader. The transport and resolver are the external
// collaborators; status transitions stay in this package.
func New(st *store.Store, transport Transport, resolver PathResolver, cfg Config, logger *log.Logger) *Uploader {
	return &Uploader{
		store:     st,
		transport: transport,
		resolver:  resolver,
		cfg:       cfg,
		logger:    logger,
		holdUntil: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Run executes sync cycles until ctx is cancelled. An in-flight upload
// is not preempted; shutdown latency is bounded by one cycle.
func (u *Uploader) Run(ctx context.Context) error {
	u.logger.Printf("Uploader started: interval=%s batch=%d maxRetries=%d shared=%q",
		u.cfg.Interval, u.cfg.BatchSize, u.cfg.MaxRetries, u.cfg.SharedPath)

	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			u.logger.Printf("Uploader stopped")
			return nil
		case <-ticker.C:
		}

		cycle++
		processed, err := u.RunCycle(ctx)
		if err != nil {
			u.logger.Printf("Cycle %d: %v", cycle, err)
			continue
		}
		if processed > 0 {
			u.logger.Printf("Cycle %d: processed %d pages (%d pending, %d uploaded, %d failed)",
				cycle, processed,
				u.store.CountByStatus(store.StatusPending),
				u.store.CountByStatus(store.StatusUploaded),
				u.store.CountByStatus(store.StatusFailed))
		}
	}
}

// RunCycle performs one reload/drain/persist pass and returns the
// number of pages whose state changed.
func (u *Uploader) RunCycle(ctx context.Context) (int, error) {
	if err := u.store.Reload(); err != nil {
		return 0, fmt.Errorf("reload store: %w", err)
	}

	pending := u.store.PendingPages(u.cfg.BatchSize)
	processed := 0

	for _, page := range pending {
		if ctx.Err() != nil {
			break
		}
		if hold, ok := u.holdUntil[page.UUID]; ok && u.now().Before(hold) {
			continue
		}
		if u.processPage(ctx, page) {
			processed++
		}
	}

	if processed > 0 || u.store.Dirty() {
		if err := u.store.Persist(); err != nil {
			return processed, fmt.Errorf("persist store: %w", err)
		}
	}
	return processed, nil
}

// processPage drives one page through resolution, filtering and upload.
// It reports whether the page's state changed.
func (u *Uploader) processPage(ctx context.Context, page *store.Page) bool {
	docID, ok := u.store.DocumentForPage(page.UUID)
	if !ok {
		// No owning document in this snapshot; try again next cycle.
		u.logger.Printf("No document for page %s", page.UUID)
		return false
	}

	virtualPath, err := u.resolver.Resolve(docID, page.Label)
	if err != nil {
		u.logger.Printf("Cannot resolve path for %s/%s: %v", docID, page.UUID, err)
		u.setStatus(docID, page.UUID, store.StatusSkipped, 0)
		return true
	}

	if !MatchesSharedPath(virtualPath, u.cfg.SharedPath) {
		u.logger.Printf("Path %q outside shared path %q, skipping %s", virtualPath, u.cfg.SharedPath, page.UUID)
		u.setStatus(docID, page.UUID, store.StatusSkipped, 0)
		return true
	}

	filePath := filepath.Join(u.cfg.Root, docID, page.UUID+".rm")
	u.logger.Printf("Uploading %s -> %s", filePath, virtualPath)

	status, body, err := u.transport.Upload(ctx, filePath, virtualPath)
	if err == nil && (status == http.StatusOK || status == http.StatusCreated) {
		u.setStatus(docID, page.UUID, store.StatusUploaded, 0)
		delete(u.holdUntil, page.UUID)
		return true
	}

	if err != nil {
		u.logger.Printf("Upload of %s failed: %v", page.UUID, err)
	} else {
		u.logger.Printf("Upload of %s rejected: status=%d body=%q", page.UUID, status, truncateBody(body))
	}

	retry := page.RetryCount + 1
	if int(retry) >= u.cfg.MaxRetries {
		u.logger.Printf("Page %s failed after %d attempts, giving up", page.UUID, retry)
		u.setStatus(docID, page.UUID, store.StatusFailed, retry)
		delete(u.holdUntil, page.UUID)
	} else {
		u.logger.Printf("Page %s failed (attempt %d/%d), will retry", page.UUID, retry, u.cfg.MaxRetries)
		u.setStatus(docID, page.UUID, store.StatusPending, retry)
		u.holdUntil[page.UUID] = u.now().Add(u.cfg.RetryDelay)
	}
	return true
}

func (u *Uploader) setStatus(docID, uuid string, status store.Status, retry uint8) {
	if err := u.store.SetStatus(docID, uuid, status, retry); err != nil {
		u.logger.Printf("Cannot update %s/%s: %v", docID, uuid, err)
	}
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
