package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"
)

// fileStamp fingerprints an on-disk image so a writer can tell whether
// the file changed underneath it since it last read or wrote. It stands
// in for a generation counter without widening the wire format.
type fileStamp struct {
	modTime int64 // nanoseconds
	size    int64
}

func stampOf(info fs.FileInfo) fileStamp {
	return fileStamp{modTime: info.ModTime().UnixNano(), size: info.Size()}
}

func statStamp(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	return stampOf(info), nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}

// Open loads the store file at path. A missing file, unreadable file,
// bad magic, or unsupported version all yield an empty, usable store;
// only well-formed leading records are kept from a damaged file. Open
// never fails.
func Open(path string) *Store {
	s := &Store{
		path:       path,
		docs:       make(map[string]*Document),
		dirtyPages: make(map[pageKey]struct{}),
	}
	// Errors here degrade to an empty store by design of the format:
	// both processes must come up even when the other left nothing
	// behind or the file is damaged.
	_ = s.loadLocked()
	s.clearDirty()
	return s
}

// Reload discards the in-memory index and re-parses the on-disk file
// under a shared advisory lock. A missing file yields an empty store
// and a nil error. An invalid header is an error; the index stays
// cleared so the caller is not left acting on stale entries.
func (s *Store) Reload() error {
	err := s.loadLocked()
	// Dirty state refers to the discarded index either way; keeping it
	// after a failed load would let a later Persist write out the
	// cleared index.
	s.clearDirty()
	return err
}

// loadLocked replaces the index with the current on-disk contents and
// refreshes the disk stamp.
func (s *Store) loadLocked() error {
	s.clearIndex()
	s.disk = fileStamp{}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	// Shared lock: coordinate with a concurrent exclusive writer at
	// the OS level so we never read a half-written temp image.
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_SH); err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}

	docs, err := decodeFrom(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}

	for _, doc := range docs {
		s.docs[doc.ID] = doc
		s.order = append(s.order, doc.ID)
	}
	s.disk = stampOf(info)
	return nil
}

// Persist writes the full index to disk. It is a no-op when the store
// is clean. The index is serialized to a temporary sibling file under
// an exclusive advisory lock and atomically renamed over the real path,
// so a concurrent reader sees either the old complete file or the new
// complete file. On failure the temp file is discarded, the error is
// returned, and the store stays dirty so a later Persist can retry.
//
// If the on-disk file changed since this store last read or wrote it,
// Persist first re-reads the disk image and overlays only the pages
// this process modified, so a save landing after the other process's
// save keeps that process's writes for every entry we did not touch.
func (s *Store) Persist() error {
	if !s.dirty {
		return nil
	}

	if onDisk, err := statStamp(s.path); err == nil && onDisk != s.disk {
		s.mergeFromDisk()
	}

	t, err := renameio.TempFile("", s.path)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", s.path, err)
	}
	defer t.Cleanup()

	fd := int(t.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock temp for %s: %w", s.path, err)
	}

	err = encodeTo(t, s.Documents())
	unix.Flock(fd, unix.LOCK_UN)
	if err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	if st, err := statStamp(s.path); err == nil {
		s.disk = st
	}
	s.clearDirty()
	return nil
}

// mergeFromDisk rebuilds the index from the current on-disk image and
// re-applies this process's dirty pages on top. Last writer wins per
// page, not per file.
//
// A disk image that cannot be read back (corrupt header, I/O failure)
// skips the merge and keeps the in-memory index as-is: the pending save
// then replaces the unusable file outright. A bad file must never block
// persisting fresh state.
func (s *Store) mergeFromDisk() {
	ours := s.docs
	oursOrder := s.order
	dirty := s.dirtyPages

	if err := s.loadLocked(); err != nil {
		s.docs = ours
		s.order = oursOrder
	} else {
		for _, docID := range oursOrder {
			for _, p := range ours[docID].Pages() {
				if _, modified := dirty[pageKey{docID, p.UUID}]; !modified {
					continue
				}
				doc, ok := s.docs[docID]
				if !ok {
					doc = newDocument(docID)
					s.docs[docID] = doc
					s.order = append(s.order, docID)
				}
				clone := *p
				doc.put(&clone)
			}
		}
	}

	s.dirty = true
	s.dirtyPages = dirty
}
