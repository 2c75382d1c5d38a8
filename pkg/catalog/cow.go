package catalog

import (
	"github.com/coldtree/coldtree/pkg/coldtreeerr"
)

// CopyUnchangedFiles implements the incremental snapshot's copy-on-write step
// (spec.md §4.2): for every file in the parent snapshot whose path is not in
// changedPaths, duplicate its row (with its chunk edges and blind-index
// keyword rows) into the new snapshot
// under a freshly generated ID, bumping each referenced chunk's reference
// count. Returns the number of files copied.
func (c *Catalog) CopyUnchangedFiles(tx *Tx, parentSnapshotID, newSnapshotID string, changedPaths map[string]bool) (int, error) {
	parentFiles, err := c.ListFilesInSnapshot(tx, parentSnapshotID)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, src := range parentFiles {
		if changedPaths[src.Path] {
			continue
		}

		dst, err := c.CopyFileWithNewID(tx, src, newSnapshotID)
		if err != nil {
			return copied, err
		}

		refs, err := c.GetFileChunks(tx, src.ID)
		if err != nil {
			return copied, err
		}
		if src.Size == 0 && len(refs) != 0 {
			return copied, coldtreeerr.New(coldtreeerr.CodeIntegrityError, "zero-size file unexpectedly has chunk edges")
		}

		newRefs := make([]ChunkRef, len(refs))
		for i, r := range refs {
			newRefs[i] = ChunkRef{FileID: dst.ID, ChunkHash: r.ChunkHash, ChunkOrder: r.ChunkOrder, ChunkSize: r.ChunkSize}
			if _, err := c.UpsertChunk(tx, r.ChunkHash, r.ChunkSize); err != nil {
				return copied, err
			}
		}
		if err := c.AddFileChunks(tx, newRefs); err != nil {
			return copied, err
		}
		if _, err := c.q(tx).Exec(
			`INSERT INTO file_keywords (file_id, keyword_hash) SELECT ?, keyword_hash FROM file_keywords WHERE file_id = ?`,
			dst.ID, src.ID,
		); err != nil {
			return copied, coldtreeerr.Wrap(coldtreeerr.CodeIo, "copy file keywords", err)
		}
		copied++
	}
	return copied, nil
}
