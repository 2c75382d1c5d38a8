package catalog

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/coldtree/coldtree/pkg/coldtreeerr"
	"github.com/coldtree/coldtree/pkg/hashing"
)

// InsertFile inserts a new file row scoped to a snapshot (spec.md §4.2, the
// per-file step of a snapshot ingest). path is whatever the caller passes
// in — already path-encrypted if pathcrypto is in use.
func (c *Catalog) InsertFile(tx *Tx, snapshotID, path string, size int64, modTime time.Time, fileHash hashing.Digest, mode EncryptionMode) (*FileRecord, error) {
	f := &FileRecord{
		ID:             uuid.NewString(),
		SnapshotID:     snapshotID,
		Path:           path,
		Size:           size,
		ModifiedTime:   modTime,
		FileHash:       fileHash,
		EncryptionMode: mode,
	}
	_, err := c.q(tx).Exec(
		`INSERT INTO files (id, snapshot_id, path, size, modified_time, file_hash, encryption_mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.SnapshotID, f.Path, f.Size, f.ModifiedTime.UnixMilli(), f.FileHash.Hex(), string(f.EncryptionMode),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, coldtreeerr.Wrap(coldtreeerr.CodeConflict, "file path already present in snapshot", err)
		}
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "insert file", err)
	}
	return f, nil
}

// CopyFileWithNewID inserts a copy of src scoped to a different snapshot with
// a freshly generated ID, used by the incremental snapshot's copy-unchanged
// path (spec.md §4.2: "duplicate unchanged file metadata with fresh IDs"
// rather than re-reference the prior snapshot's row).
func (c *Catalog) CopyFileWithNewID(tx *Tx, src *FileRecord, targetSnapshotID string) (*FileRecord, error) {
	return c.InsertFile(tx, targetSnapshotID, src.Path, src.Size, src.ModifiedTime, src.FileHash, src.EncryptionMode)
}

// GetFile fetches a file row by ID.
func (c *Catalog) GetFile(tx *Tx, id string) (*FileRecord, error) {
	row := c.q(tx).QueryRow(
		`SELECT id, snapshot_id, path, size, modified_time, file_hash, encryption_mode FROM files WHERE id = ?`, id)
	return scanFile(row)
}

// GetFileByPath fetches the file row for path within a snapshot, if any.
func (c *Catalog) GetFileByPath(tx *Tx, snapshotID, path string) (*FileRecord, error) {
	row := c.q(tx).QueryRow(
		`SELECT id, snapshot_id, path, size, modified_time, file_hash, encryption_mode
		 FROM files WHERE snapshot_id = ? AND path = ?`, snapshotID, path)
	return scanFile(row)
}

// ListFilesInSnapshot returns every file row belonging to a snapshot, in
// path order.
func (c *Catalog) ListFilesInSnapshot(tx *Tx, snapshotID string) ([]*FileRecord, error) {
	rows, err := c.q(tx).Query(
		`SELECT id, snapshot_id, path, size, modified_time, file_hash, encryption_mode
		 FROM files WHERE snapshot_id = ? ORDER BY path`, snapshotID)
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "list files", err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		var f FileRecord
		var hashHex, mode string
		var modTime int64
		if err := rows.Scan(&f.ID, &f.SnapshotID, &f.Path, &f.Size, &modTime, &hashHex, &mode); err != nil {
			return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "scan file", err)
		}
		f.ModifiedTime = time.UnixMilli(modTime).UTC()
		f.FileHash, _ = hashing.ParseHex(hashHex)
		f.EncryptionMode = EncryptionMode(mode)
		out = append(out, &f)
	}
	return out, nil
}

// AddFileChunks records the ordered chunk references for a file (spec.md
// §4.2, §6.2 file_chunks table).
func (c *Catalog) AddFileChunks(tx *Tx, refs []ChunkRef) error {
	for _, r := range refs {
		_, err := c.q(tx).Exec(
			`INSERT INTO file_chunks (file_id, chunk_hash, chunk_order, chunk_size) VALUES (?, ?, ?, ?)`,
			r.FileID, r.ChunkHash.Hex(), r.ChunkOrder, r.ChunkSize,
		)
		if err != nil {
			return coldtreeerr.Wrap(coldtreeerr.CodeIo, "insert file_chunks row", err)
		}
	}
	return nil
}

// GetFileChunks returns a file's chunk references in order.
func (c *Catalog) GetFileChunks(tx *Tx, fileID string) ([]ChunkRef, error) {
	rows, err := c.q(tx).Query(
		`SELECT file_id, chunk_hash, chunk_order, chunk_size FROM file_chunks
		 WHERE file_id = ? ORDER BY chunk_order`, fileID)
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "list file_chunks", err)
	}
	defer rows.Close()

	var out []ChunkRef
	for rows.Next() {
		var r ChunkRef
		var hashHex string
		if err := rows.Scan(&r.FileID, &hashHex, &r.ChunkOrder, &r.ChunkSize); err != nil {
			return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "scan file_chunks row", err)
		}
		r.ChunkHash, _ = hashing.ParseHex(hashHex)
		out = append(out, r)
	}
	return out, nil
}

func scanFile(row *sql.Row) (*FileRecord, error) {
	var f FileRecord
	var hashHex, mode string
	var modTime int64
	err := row.Scan(&f.ID, &f.SnapshotID, &f.Path, &f.Size, &modTime, &hashHex, &mode)
	if err == sql.ErrNoRows {
		return nil, coldtreeerr.New(coldtreeerr.CodeNotFound, "file not found")
	}
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "scan file", err)
	}
	f.ModifiedTime = time.UnixMilli(modTime).UTC()
	f.FileHash, _ = hashing.ParseHex(hashHex)
	f.EncryptionMode = EncryptionMode(mode)
	return &f, nil
}
