package watcher

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/remsync/remsync/internal/store"
)

const (
	testDoc   = "036f73e1-32ad-44a4-8909-182a7381b5a6"
	testPage1 = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	testPage2 = "99999999-8888-7777-6666-555555555555"
)

// stubLabeler returns fixed labels keyed by page UUID.
type stubLabeler map[string]string

func (s stubLabeler) PageLabel(docID, pageUUID string) string {
	if l, ok := s[pageUUID]; ok {
		return l
	}
	return "1"
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// setupRoot creates a watch root with one document directory holding
// the given page files.
func setupRoot(t *testing.T, pages ...string) string {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, testDoc)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create document dir: %v", err)
	}
	for _, p := range pages {
		if err := os.WriteFile(filepath.Join(dir, p+".rm"), []byte("ink"), 0644); err != nil {
			t.Fatalf("Failed to write page file: %v", err)
		}
	}
	return root
}

func newTestWatcher(t *testing.T, st *store.Store, root string) *Watcher {
	t.Helper()

	w, err := New(st, root, stubLabeler{testPage1: "1", testPage2: "2"}, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { w.fsw.Close() })
	return w
}

func TestScanDocument_AddsNewPagesAsPending(t *testing.T) {
	root := setupRoot(t, testPage1, testPage2)
	st := store.Open(filepath.Join(root, ".sync_cache"))
	w := newTestWatcher(t, st, root)

	updated, err := w.ScanDocument(testDoc)
	if err != nil {
		t.Fatalf("ScanDocument() failed: %v", err)
	}
	if updated != 2 {
		t.Errorf("ScanDocument() updated %d pages, want 2", updated)
	}

	p, ok := st.FindPage(testDoc, testPage2)
	if !ok {
		t.Fatal("Page missing from store after scan")
	}
	if p.Status != store.StatusPending || p.Label != "2" {
		t.Errorf("Page = %+v, want pending with label 2", *p)
	}
}

func TestScanDocument_Idempotent(t *testing.T) {
	root := setupRoot(t, testPage1, testPage2)
	st := store.Open(filepath.Join(root, ".sync_cache"))
	w := newTestWatcher(t, st, root)

	if _, err := w.ScanDocument(testDoc); err != nil {
		t.Fatalf("ScanDocument() failed: %v", err)
	}
	updated, err := w.ScanDocument(testDoc)
	if err != nil {
		t.Fatalf("Second ScanDocument() failed: %v", err)
	}
	if updated != 0 {
		t.Errorf("Second scan with no file changes updated %d pages, want 0", updated)
	}
}

func TestScanDocument_MtimeInvalidatesUploadedPage(t *testing.T) {
	root := setupRoot(t, testPage1)
	st := store.Open(filepath.Join(root, ".sync_cache"))
	w := newTestWatcher(t, st, root)

	if _, err := w.ScanDocument(testDoc); err != nil {
		t.Fatalf("ScanDocument() failed: %v", err)
	}
	if err := st.SetStatus(testDoc, testPage1, store.StatusUploaded, 0); err != nil {
		t.Fatalf("SetStatus() failed: %v", err)
	}

	// Edit the page: bump its mtime past the recorded second.
	pagePath := filepath.Join(root, testDoc, testPage1+".rm")
	future := time.Now().Add(5 * time.Second)
	if err := os.Chtimes(pagePath, future, future); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	updated, err := w.ScanDocument(testDoc)
	if err != nil {
		t.Fatalf("ScanDocument() failed: %v", err)
	}
	if updated != 1 {
		t.Fatalf("Scan after edit updated %d pages, want 1", updated)
	}

	p, _ := st.FindPage(testDoc, testPage1)
	if p.Status != store.StatusPending {
		t.Errorf("Status = %v after edit of uploaded page, want pending", p.Status)
	}
	if p.RetryCount != 0 {
		t.Errorf("RetryCount = %d after re-arm, want 0", p.RetryCount)
	}
}

func TestScanDocument_IgnoresForeignFiles(t *testing.T) {
	root := setupRoot(t, testPage1)
	dir := filepath.Join(root, testDoc)
	for _, name := range []string{"thumbnail.png", "notes.rm", testPage2 + ".json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}

	st := store.Open(filepath.Join(root, ".sync_cache"))
	w := newTestWatcher(t, st, root)

	updated, err := w.ScanDocument(testDoc)
	if err != nil {
		t.Fatalf("ScanDocument() failed: %v", err)
	}
	if updated != 1 {
		t.Errorf("ScanDocument() updated %d pages, want only the real page file", updated)
	}
}

func TestScanDocument_MissingDirectory(t *testing.T) {
	root := t.TempDir()
	st := store.Open(filepath.Join(root, ".sync_cache"))
	w := newTestWatcher(t, st, root)

	if _, err := w.ScanDocument(testDoc); err == nil {
		t.Error("ScanDocument() of missing directory succeeded, want error")
	}
}

func TestScanAll_CoversAllDocuments(t *testing.T) {
	root := setupRoot(t, testPage1)
	other := "11111111-2222-3333-4444-555555555555"
	if err := os.MkdirAll(filepath.Join(root, other), 0755); err != nil {
		t.Fatalf("Failed to create second document dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, other, testPage2+".rm"), []byte("ink"), 0644); err != nil {
		t.Fatalf("Failed to write page file: %v", err)
	}
	// Directories that are not document IDs are skipped.
	if err := os.MkdirAll(filepath.Join(root, "lost+found"), 0755); err != nil {
		t.Fatalf("Failed to create stray dir: %v", err)
	}

	st := store.Open(filepath.Join(root, ".sync_cache"))
	w := newTestWatcher(t, st, root)

	total, err := w.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll() failed: %v", err)
	}
	if total != 2 {
		t.Errorf("ScanAll() updated %d pages, want 2", total)
	}
}

func TestRun_HousekeepingRescanCatchesSilentChanges(t *testing.T) {
	root := setupRoot(t, testPage1)
	cachePath := filepath.Join(t.TempDir(), ".sync_cache")
	st := store.Open(cachePath)

	w := newTestWatcher(t, st, root)
	w.housekeeping = 50 * time.Millisecond

	if _, err := w.ScanDocument(testDoc); err != nil {
		t.Fatalf("ScanDocument() failed: %v", err)
	}
	if err := st.SetStatus(testDoc, testPage1, store.StatusUploaded, 0); err != nil {
		t.Fatalf("SetStatus() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let the initial scan pass, then bump the file's mtime without
	// writing it. That raises no write event, so only the periodic
	// rescan can notice the change.
	time.Sleep(100 * time.Millisecond)
	pagePath := filepath.Join(root, testDoc, testPage1+".rm")
	future := time.Now().Add(5 * time.Second)
	if err := os.Chtimes(pagePath, future, future); err != nil {
		t.Fatalf("Failed to bump mtime: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		check := store.Open(cachePath)
		if p, ok := check.FindPage(testDoc, testPage1); ok && p.Status == store.StatusPending {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for the rescan to re-arm the page")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run() did not stop after cancellation")
	}
}

func TestRun_MetadataEventMarksPagesPending(t *testing.T) {
	root := t.TempDir()
	cachePath := filepath.Join(t.TempDir(), ".sync_cache")
	st := store.Open(cachePath)

	w, err := New(st, root, stubLabeler{}, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watch a moment to attach, then drop a new document in.
	time.Sleep(100 * time.Millisecond)
	dir := filepath.Join(root, testDoc)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create document dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, testPage1+".rm"), []byte("ink"), 0644); err != nil {
		t.Fatalf("Failed to write page file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, testDoc+".metadata"), []byte(`{"visibleName":"Doc"}`), 0644); err != nil {
		t.Fatalf("Failed to write metadata file: %v", err)
	}

	// The watcher persists after a successful scan; poll the file.
	deadline := time.After(5 * time.Second)
	for {
		check := store.Open(cachePath)
		if p, ok := check.FindPage(testDoc, testPage1); ok && p.Status == store.StatusPending {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for the watcher to record the new page")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run() did not stop after cancellation")
	}
}
