package store

import (
	"errors"
	"fmt"
	"time"
)

// IDLen is the exact length of document and page identifiers
// (reMarkable UUIDs, 8-4-4-4-12 with hyphens).
const IDLen = 36

// MaxLabelLen bounds page labels; labels of this length or longer are
// rejected by the codec.
const MaxLabelLen = 8

// ErrNotFound is returned by operations that require an existing
// document or page.
var ErrNotFound = errors.New("store: not found")

// Status is the upload lifecycle state of a page.
type Status uint8

const (
	// StatusPending marks a page that needs to be uploaded.
	StatusPending Status = 0
	// StatusUploaded marks a page whose last observed content was
	// uploaded successfully.
	StatusUploaded Status = 1
	// StatusFailed marks a page that exhausted its retry budget.
	StatusFailed Status = 2
	// StatusSkipped marks a page outside the shared path or with an
	// unresolvable virtual path.
	StatusSkipped Status = 3
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUploaded:
		return "uploaded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseStatus converts a status name back to its value.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "uploaded":
		return StatusUploaded, nil
	case "failed":
		return StatusFailed, nil
	case "skipped":
		return StatusSkipped, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}

// Page is one sheet of a document tracked for sync.
type Page struct {
	// UUID identifies the page within its document.
	UUID string

	// Label is the short page-position label ("1", "2", ...). May be
	// empty when no content index exists for the document.
	Label string

	// ModifiedAt is the last observed content change, second precision.
	ModifiedAt time.Time

	// Status is the upload lifecycle state.
	Status Status

	// RetryCount is the number of attempts since the page last became
	// pending. Meaningful only while Status != StatusUploaded.
	RetryCount uint8
}

// Document groups the pages sharing a document ID. Pages iterate in
// discovery order, not page order.
type Document struct {
	ID string

	pages map[string]*Page
	order []string
}

func newDocument(id string) *Document {
	return &Document{ID: id, pages: make(map[string]*Page)}
}

// Page looks up a page by UUID.
func (d *Document) Page(uuid string) (*Page, bool) {
	p, ok := d.pages[uuid]
	return p, ok
}

// Pages returns the document's pages in discovery order.
func (d *Document) Pages() []*Page {
	out := make([]*Page, 0, len(d.order))
	for _, uuid := range d.order {
		out = append(out, d.pages[uuid])
	}
	return out
}

// Len returns the number of pages in the document.
func (d *Document) Len() int { return len(d.order) }

func (d *Document) put(p *Page) {
	if _, ok := d.pages[p.UUID]; !ok {
		d.order = append(d.order, p.UUID)
	}
	d.pages[p.UUID] = p
}

type pageKey struct {
	docID string
	uuid  string
}

// Store is the full sync-state table. It is not safe for concurrent use
// within a process; each process runs a single loop. Cross-process
// coordination happens at the file level (see Persist and Reload).
type Store struct {
	path string

	docs  map[string]*Document
	order []string

	dirty bool
	// dirtyPages records which entries this process modified since the
	// last successful Persist, so a conflicting save can merge instead
	// of clobbering the other process's writes.
	dirtyPages map[pageKey]struct{}

	// disk identifies the on-disk image this index was read from or
	// last wrote. Zero when the file did not exist.
	disk fileStamp
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Dirty reports whether in-memory state differs from the last durable
// save.
func (s *Store) Dirty() bool { return s.dirty }

// FindDocument looks up a document by ID.
func (s *Store) FindDocument(docID string) (*Document, bool) {
	d, ok := s.docs[docID]
	return d, ok
}

// FindPage looks up a page by document ID and page UUID.
func (s *Store) FindPage(docID, uuid string) (*Page, bool) {
	d, ok := s.docs[docID]
	if !ok {
		return nil, false
	}
	return d.Page(uuid)
}

// Documents returns all documents in discovery order.
func (s *Store) Documents() []*Document {
	out := make([]*Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id])
	}
	return out
}

// Len returns the number of documents.
func (s *Store) Len() int { return len(s.order) }

// UpsertPage finds or creates the document and page and updates the
// page's mutable fields. Entries are never removed. Setting a page
// pending through this path is a content-change transition, so the
// retry count restarts at zero.
func (s *Store) UpsertPage(docID, uuid, label string, modifiedAt time.Time, status Status) {
	doc, ok := s.docs[docID]
	if !ok {
		doc = newDocument(docID)
		s.docs[docID] = doc
		s.order = append(s.order, docID)
	}

	page, ok := doc.Page(uuid)
	if !ok {
		page = &Page{UUID: uuid}
		doc.put(page)
	}

	page.Label = label
	page.ModifiedAt = modifiedAt.Truncate(time.Second)
	page.Status = status
	if status == StatusPending {
		page.RetryCount = 0
	}

	s.markDirty(docID, uuid)
}

// SetStatus updates a page's status and retry count. Returns
// ErrNotFound if the document or page does not exist.
func (s *Store) SetStatus(docID, uuid string, status Status, retryCount uint8) error {
	doc, ok := s.docs[docID]
	if !ok {
		return fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	page, ok := doc.Page(uuid)
	if !ok {
		return fmt.Errorf("page %s/%s: %w", docID, uuid, ErrNotFound)
	}

	page.Status = status
	page.RetryCount = retryCount
	s.markDirty(docID, uuid)
	return nil
}

// PendingPages returns up to limit pending pages across all documents,
// in discovery order. The order is deterministic for a fixed store
// state but otherwise unspecified.
func (s *Store) PendingPages(limit int) []*Page {
	if limit <= 0 {
		return nil
	}
	var out []*Page
	for _, docID := range s.order {
		for _, p := range s.docs[docID].Pages() {
			if p.Status != StatusPending {
				continue
			}
			out = append(out, p)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// CountByStatus counts pages with the given status. Full scan.
func (s *Store) CountByStatus(status Status) int {
	n := 0
	for _, docID := range s.order {
		for _, p := range s.docs[docID].Pages() {
			if p.Status == status {
				n++
			}
		}
	}
	return n
}

// DocumentForPage finds the document owning a page UUID. Full scan;
// page updates only carry a page ID.
func (s *Store) DocumentForPage(uuid string) (string, bool) {
	for _, docID := range s.order {
		if _, ok := s.docs[docID].Page(uuid); ok {
			return docID, true
		}
	}
	return "", false
}

func (s *Store) markDirty(docID, uuid string) {
	s.dirty = true
	s.dirtyPages[pageKey{docID, uuid}] = struct{}{}
}

func (s *Store) clearIndex() {
	s.docs = make(map[string]*Document)
	s.order = nil
}

func (s *Store) clearDirty() {
	s.dirty = false
	s.dirtyPages = make(map[pageKey]struct{})
}
