// Package watcher is the producer side of the sync pair: it turns
// filesystem-change notifications under the device's document root into
// pending entries in the sync store.
//
// The watcher treats the store as its own record of what is already
// known. A metadata change re-scans every page file of that document,
// because a single metadata change can mean page reordering or a first
// sync of the whole document; a direct page-file change triggers the
// same scan for just that document. A scan is idempotent: pages whose
// recorded modification time is current are left untouched.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/remsync/remsync/internal/store"
)

// housekeepingInterval bounds how long the watcher blocks on the event
// source before re-scanning the tree and flushing any state a failed
// save left dirty. The rescan covers changes the event stream missed
// (queue overflow, mtime-only updates that raise no write event).
const housekeepingInterval = 30 * time.Second

// Labeler resolves the positional label of a page within a document.
type Labeler interface {
	PageLabel(docID, pageUUID string) string
}

// Watcher observes a xochitl document root and records changed pages as
// pending in the store.
type Watcher struct {
	store   *store.Store
	root    string
	labeler Labeler
	logger  *log.Logger

	fsw *fsnotify.Watcher

	housekeeping time.Duration
}

// New creates a Watcher over root. Call Run to start it.
func New(st *store.Store, root string, labeler Labeler, logger *log.Logger) (*Watcher, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		store:        st,
		root:         root,
		labeler:      labeler,
		logger:       logger,
		fsw:          fsw,
		housekeeping: housekeepingInterval,
	}, nil
}

// Run scans every known document once, then blocks processing events
// until ctx is cancelled, re-scanning the whole tree on the
// housekeeping interval. In-flight scans are not preempted; shutdown
// latency is bounded by one scan plus the housekeeping interval.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.fsw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.watchDocumentDirs()

	// Pages created while the watcher was down have no event coming.
	updated, err := w.ScanAll()
	if err != nil {
		w.logger.Printf("Initial scan: %v", err)
	}
	if updated > 0 {
		w.logger.Printf("Initial scan marked %d pages for sync", updated)
	}
	w.persistIfDirty()

	w.logger.Printf("Watching %s", w.root)

	ticker := time.NewTicker(w.housekeeping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.persistIfDirty()
			w.logger.Printf("Watcher stopped")
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("event source closed")
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("event source closed")
			}
			w.logger.Printf("Watch error: %v", err)

		case <-ticker.C:
			if n, err := w.ScanAll(); err != nil {
				w.logger.Printf("Rescan: %v", err)
			} else if n > 0 {
				w.logger.Printf("Rescan marked %d pages for sync", n)
			}
			w.persistIfDirty()
		}
	}
}

// handleEvent routes one filesystem event. Metadata changes and page
// file changes both funnel into a per-document scan; new document
// directories are added to the watch set so their page files are seen.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Remove events are deliberately ignored: store entries are never
	// deleted, so a vanished file leaves nothing to update.
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	name := filepath.Base(event.Name)
	switch {
	case strings.HasSuffix(name, ".metadata"):
		docID, ok := documentID(strings.TrimSuffix(name, ".metadata"))
		if !ok {
			return
		}
		w.logger.Printf("Metadata change for document %s", docID)
		w.scanAndPersist(docID)

	case strings.HasSuffix(name, ".rm"):
		docID, ok := documentID(filepath.Base(filepath.Dir(event.Name)))
		if !ok {
			return
		}
		w.logger.Printf("Page change in document %s", docID)
		w.scanAndPersist(docID)

	case event.Op&fsnotify.Create != 0:
		// A new document directory appeared under the root.
		if docID, ok := documentID(name); ok && filepath.Dir(event.Name) == w.root {
			if err := w.fsw.Add(event.Name); err != nil {
				w.logger.Printf("Cannot watch %s: %v", event.Name, err)
			}
			w.scanAndPersist(docID)
		}
	}
}

func (w *Watcher) scanAndPersist(docID string) {
	updated, err := w.ScanDocument(docID)
	if err != nil {
		w.logger.Printf("Scan of %s: %v", docID, err)
		return
	}
	if updated == 0 {
		return
	}
	w.logger.Printf("Marked %d pages of %s for sync", updated, docID)
	if err := w.store.Persist(); err != nil {
		// Store stays dirty; the housekeeping tick retries.
		w.logger.Printf("Persist failed: %v", err)
	}
}

func (w *Watcher) persistIfDirty() {
	if !w.store.Dirty() {
		return
	}
	if err := w.store.Persist(); err != nil {
		w.logger.Printf("Persist failed: %v", err)
	}
}

// documentID reports whether name is a well-formed 36-character
// document identifier.
func documentID(name string) (string, bool) {
	if len(name) != store.IDLen {
		return "", false
	}
	if _, err := uuid.Parse(name); err != nil {
		return "", false
	}
	return name, true
}
