package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// cacheMagic is "RMCH" interpreted as a little-endian u32.
	cacheMagic uint32 = 0x524D4348

	versionLegacy  uint8 = 1
	versionCurrent uint8 = 2
)

// errBadHeader reports a file whose magic or version is not ours.
// Callers degrade to an empty store rather than failing.
var errBadHeader = errors.New("store: bad header")

// encodeTo serializes documents in iteration order as a version 2 file.
func encodeTo(w io.Writer, docs []*Document) error {
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.LittleEndian, cacheMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(versionCurrent); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(docs))); err != nil {
		return err
	}

	for _, doc := range docs {
		if len(doc.ID) != IDLen {
			return fmt.Errorf("document ID %q is not %d bytes", doc.ID, IDLen)
		}
		if err := bw.WriteByte(uint8(IDLen)); err != nil {
			return err
		}
		if _, err := bw.WriteString(doc.ID); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint16(doc.Len())); err != nil {
			return err
		}

		for _, page := range doc.Pages() {
			if len(page.UUID) != IDLen {
				return fmt.Errorf("page UUID %q is not %d bytes", page.UUID, IDLen)
			}
			if len(page.Label) >= MaxLabelLen {
				return fmt.Errorf("page label %q exceeds %d bytes", page.Label, MaxLabelLen-1)
			}
			if _, err := bw.WriteString(page.UUID); err != nil {
				return err
			}
			if err := bw.WriteByte(uint8(len(page.Label))); err != nil {
				return err
			}
			if _, err := bw.WriteString(page.Label); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, page.ModifiedAt.Unix()); err != nil {
				return err
			}
			if err := bw.WriteByte(uint8(page.Status)); err != nil {
				return err
			}
			if err := bw.WriteByte(page.RetryCount); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// decodeFrom parses a store file. A bad magic or unsupported version
// returns errBadHeader with no documents. A read that fails mid-record
// stops parsing and keeps everything parsed so far, including the
// partially read document's completed pages; truncated tails are
// dropped silently, not fatal.
func decodeFrom(r io.Reader) ([]*Document, error) {
	br := bufio.NewReader(r)

	var magic uint32
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return nil, errBadHeader
	}
	if magic != cacheMagic {
		return nil, errBadHeader
	}

	version, err := br.ReadByte()
	if err != nil {
		return nil, errBadHeader
	}
	if version != versionLegacy && version != versionCurrent {
		return nil, errBadHeader
	}

	var docCount uint32
	if err := binary.Read(br, binary.LittleEndian, &docCount); err != nil {
		return nil, errBadHeader
	}

	var docs []*Document
	for i := uint32(0); i < docCount; i++ {
		doc, ok := decodeDocument(br, version)
		if doc != nil {
			docs = append(docs, doc)
		}
		if !ok {
			break
		}
	}
	return docs, nil
}

// decodeDocument reads one document record. The returned document may
// be non-nil even when ok is false: a document whose page list was cut
// short keeps the pages that did parse.
func decodeDocument(br *bufio.Reader, version uint8) (*Document, bool) {
	idLen, err := br.ReadByte()
	if err != nil || int(idLen) != IDLen {
		return nil, false
	}

	id := make([]byte, IDLen)
	if _, err := io.ReadFull(br, id); err != nil {
		return nil, false
	}

	var pageCount uint16
	if err := binary.Read(br, binary.LittleEndian, &pageCount); err != nil {
		return nil, false
	}

	doc := newDocument(string(id))
	for j := uint16(0); j < pageCount; j++ {
		page, ok := decodePage(br, version)
		if !ok {
			return doc, false
		}
		doc.put(page)
	}
	return doc, true
}

func decodePage(br *bufio.Reader, version uint8) (*Page, bool) {
	uuid := make([]byte, IDLen)
	if _, err := io.ReadFull(br, uuid); err != nil {
		return nil, false
	}

	labelLen, err := br.ReadByte()
	if err != nil || int(labelLen) >= MaxLabelLen {
		return nil, false
	}
	label := make([]byte, labelLen)
	if _, err := io.ReadFull(br, label); err != nil {
		return nil, false
	}

	var mtime int64
	if err := binary.Read(br, binary.LittleEndian, &mtime); err != nil {
		return nil, false
	}

	page := &Page{
		UUID:       string(uuid),
		Label:      string(label),
		ModifiedAt: unixTime(mtime),
		Status:     StatusPending,
	}

	if version == versionCurrent {
		status, err := br.ReadByte()
		if err != nil {
			return nil, false
		}
		retry, err := br.ReadByte()
		if err != nil {
			return nil, false
		}
		page.Status = Status(status)
		page.RetryCount = retry
	}
	return page, true
}
