// Package device reads the note device's document tree: the
// .metadata/.content JSON files xochitl keeps next to each document's
// page directory. It resolves the virtual folder path a document
// appears under in the device UI and the positional label of a page
// within its document.
package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrCyclicParent reports a document whose parent chain loops back on
// itself. The chain cannot be resolved to a root folder.
var ErrCyclicParent = errors.New("device: cyclic parent chain")

// ErrNotFound reports a document with no readable metadata, or one
// whose ancestry passes through a deleted entry.
var ErrNotFound = errors.New("device: document not found")

// Metadata mirrors the fields of a <uuid>.metadata file we care about.
type Metadata struct {
	VisibleName string `json:"visibleName"`
	Parent      string `json:"parent"`
	Type        string `json:"type"`
	Deleted     bool   `json:"deleted"`
}

// content mirrors a <uuid>.content file. Newer firmware nests the page
// list under cPages; older firmware has a flat pages array.
type content struct {
	Pages  []string `json:"pages"`
	CPages struct {
		Pages []struct {
			ID string `json:"id"`
		} `json:"pages"`
	} `json:"cPages"`
}

// Resolver resolves virtual paths and page labels against a xochitl
// document root.
type Resolver struct {
	root string
}

// NewResolver returns a Resolver reading metadata under root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// readMetadata loads <root>/<id>.metadata. A missing visibleName
// becomes "Untitled"; a parent of "trash" is treated as the root
// folder, matching how the device files away restored documents.
func (r *Resolver) readMetadata(id string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(r.root, id+".metadata"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse metadata for %s: %w", id, err)
	}
	if md.VisibleName == "" {
		md.VisibleName = "Untitled"
	}
	if md.Parent == "trash" {
		md.Parent = ""
	}
	return &md, nil
}

// Resolve reconstructs the full virtual path for a page: the folder
// chain from root to the document, the document name, and "Page <label>"
// when a label is known.
//
// The parent chain is walked iteratively with a visited set; a chain
// that revisits an ID is cyclic metadata and resolves to an error
// rather than a silently truncated path. A deleted document or ancestor
// is not resolvable.
func (r *Resolver) Resolve(docID, pageLabel string) (string, error) {
	var parts []string
	visited := map[string]bool{}

	id := docID
	for id != "" {
		if visited[id] {
			return "", fmt.Errorf("%w: %s revisits %s", ErrCyclicParent, docID, id)
		}
		visited[id] = true

		md, err := r.readMetadata(id)
		if err != nil {
			// A missing ancestor truncates the chain at that point, the
			// document itself must exist.
			if id != docID && errors.Is(err, ErrNotFound) {
				break
			}
			return "", err
		}
		if md.Deleted {
			return "", fmt.Errorf("%w: %s is deleted", ErrNotFound, id)
		}

		parts = append(parts, md.VisibleName)
		id = md.Parent
	}

	// Reverse: we collected leaf-first.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}

	if pageLabel != "" {
		parts = append(parts, "Page "+pageLabel)
	}
	return strings.Join(parts, "/"), nil
}

// PageLabel returns the 1-based position of a page within its
// document's content index, as a decimal string. It returns "1" when
// the content file is missing, has no page list, or does not mention
// the page; a single-page notebook has no index worth consulting.
func (r *Resolver) PageLabel(docID, pageUUID string) string {
	data, err := os.ReadFile(filepath.Join(r.root, docID+".content"))
	if err != nil {
		return "1"
	}

	var c content
	if err := json.Unmarshal(data, &c); err != nil {
		return "1"
	}

	pages := c.Pages
	if len(pages) == 0 {
		for _, p := range c.CPages.Pages {
			pages = append(pages, p.ID)
		}
	}

	for i, id := range pages {
		if id == pageUUID {
			return strconv.Itoa(i + 1)
		}
	}
	return "1"
}
