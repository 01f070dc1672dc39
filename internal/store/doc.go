// Package store implements the durable sync-state table shared by the
// watcher and uploader processes.
//
// The store is a small embedded database backed by a single binary file.
// It maps document IDs to their pages and records, per page, the last
// observed modification time and the upload lifecycle state
// (pending/uploaded/failed/skipped). The two processes never talk to
// each other directly: the watcher writes pending work into the file and
// the uploader picks it up by reloading the file at the start of each
// cycle.
//
// Durability discipline:
//   - Saves serialize the full index to a temporary sibling file while
//     holding an exclusive advisory lock, then atomically rename it over
//     the real path. A reader never observes a torn file.
//   - Reloads re-parse the file under a shared advisory lock.
//   - A save that would overwrite changes another process persisted
//     since our last read first merges those changes back in, page by
//     page, keeping only our locally modified entries on top.
//
// On-disk format (all integers little-endian):
//
//	magic:u32 = 0x524D4348 ("RMCH")
//	version:u8 (1 = legacy, 2 = current)
//	documentCount:u32
//	per document:
//	  docIdLen:u8 (must be 36), docId, pageCount:u16
//	  per page:
//	    uuid[36], labelLen:u8 (< 8), label, modifiedAt:i64
//	    version 2 only: status:u8, retryCount:u8
//
// Version 1 files lack the status/retryCount trailer; pages load as
// pending with zero retries and the file is rewritten as version 2 on
// the next save. A file that fails to parse mid-record keeps everything
// parsed so far; a partially loaded store is usable, not an error.
package store
