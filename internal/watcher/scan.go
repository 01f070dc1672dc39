package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/remsync/remsync/internal/store"
)

// ScanDocument re-scans every page file currently present in one
// document's directory and applies the per-page update rule:
//
//   - a page absent from the store is added as pending;
//   - a page whose recorded modification time is older than the file's
//     is set pending with the new time, whatever its current status —
//     this is how an already-uploaded page is invalidated after an
//     edit;
//   - a page whose recorded time is equal or newer is left untouched.
//
// Returns the number of pages that changed state.
func (w *Watcher) ScanDocument(docID string) (int, error) {
	dir := filepath.Join(w.root, docID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read document directory %s: %w", dir, err)
	}

	updated := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rm") {
			continue
		}
		pageUUID, ok := documentID(strings.TrimSuffix(entry.Name(), ".rm"))
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		// Stored times have second precision; compare at that grain so
		// a re-scan of an unchanged file is a no-op.
		mtime := info.ModTime().Truncate(time.Second)

		if page, ok := w.store.FindPage(docID, pageUUID); ok && !page.ModifiedAt.Before(mtime) {
			continue
		}

		label := "1"
		if w.labeler != nil {
			label = w.labeler.PageLabel(docID, pageUUID)
		}
		w.store.UpsertPage(docID, pageUUID, label, mtime, store.StatusPending)
		updated++
	}
	return updated, nil
}

// ScanAll scans every document directory under the root. Used at
// startup to pick up changes that happened while the watcher was down.
func (w *Watcher) ScanAll() (int, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0, fmt.Errorf("read watch root %s: %w", w.root, err)
	}

	total := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		docID, ok := documentID(entry.Name())
		if !ok {
			continue
		}
		n, err := w.ScanDocument(docID)
		if err != nil {
			w.logger.Printf("Scan of %s: %v", docID, err)
			continue
		}
		total += n
	}
	return total, nil
}

// watchDocumentDirs adds existing document directories to the watch
// set so page-file events inside them are delivered.
func (w *Watcher) watchDocumentDirs() {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.logger.Printf("Cannot list %s: %v", w.root, err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := documentID(entry.Name()); !ok {
			continue
		}
		if err := w.fsw.Add(filepath.Join(w.root, entry.Name())); err != nil {
			w.logger.Printf("Cannot watch %s: %v", entry.Name(), err)
		}
	}
}
