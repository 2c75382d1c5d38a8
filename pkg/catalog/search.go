package catalog

import (
	"time"

	"github.com/coldtree/coldtree/pkg/coldtreeerr"
	"github.com/coldtree/coldtree/pkg/hashing"
	"github.com/coldtree/coldtree/pkg/pathcrypto"
)

// searchResultLimit bounds search_files results (spec.md §4.7: "up to 100
// files per call").
const searchResultLimit = 100

// SearchFilesPlain searches the FTS path index, used when path encryption is
// off (spec.md §4.7: "When encryption is off, search uses the FTS path index
// instead").
func (c *Catalog) SearchFilesPlain(tx *Tx, snapshotID, query string) ([]*FileRecord, error) {
	rows, err := c.q(tx).Query(
		`SELECT f.id, f.snapshot_id, f.path, f.size, f.modified_time, f.file_hash, f.encryption_mode
		 FROM files f
		 JOIN files_fts ON files_fts.rowid = f.rowid
		 WHERE f.snapshot_id = ? AND files_fts MATCH ?
		 LIMIT ?`,
		snapshotID, query, searchResultLimit,
	)
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "search files (fts)", err)
	}
	defer rows.Close()
	return scanFileRows(rows)
}

// SearchFilesEncrypted evaluates query against the blind index: tokenize
// identically to indexing time, hash each token with cipher, join
// file_keywords on hash equality, dedup file_ids, cap at 100 (spec.md §4.7).
func (c *Catalog) SearchFilesEncrypted(tx *Tx, snapshotID, query string, cipher *pathcrypto.Cipher) ([]*FileRecord, error) {
	hashes := cipher.HashKeywords(query)
	if len(hashes) == 0 {
		return nil, nil
	}

	placeholders := make([]byte, 0, len(hashes)*2)
	args := make([]interface{}, 0, len(hashes)+2)
	for i, h := range hashes {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, h)
	}
	args = append(args, snapshotID, searchResultLimit)

	q := `SELECT DISTINCT f.id, f.snapshot_id, f.path, f.size, f.modified_time, f.file_hash, f.encryption_mode
	      FROM files f
	      JOIN file_keywords fk ON fk.file_id = f.id
	      WHERE fk.keyword_hash IN (` + string(placeholders) + `) AND f.snapshot_id = ?
	      LIMIT ?`

	rows, err := c.q(tx).Query(q, args...)
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "search files (blind index)", err)
	}
	defer rows.Close()
	return scanFileRows(rows)
}

// IndexFileKeywords tokenizes plaintextPath and writes the resulting
// keyword_hash rows for fileID, in the same transaction as the file insert
// (spec.md §4.7).
func (c *Catalog) IndexFileKeywords(tx *Tx, fileID, plaintextPath string, cipher *pathcrypto.Cipher) error {
	for _, h := range cipher.HashKeywords(plaintextPath) {
		if _, err := c.q(tx).Exec(
			`INSERT INTO file_keywords (file_id, keyword_hash) VALUES (?, ?)`, fileID, h,
		); err != nil {
			return coldtreeerr.Wrap(coldtreeerr.CodeIo, "insert file keyword", err)
		}
	}
	return nil
}

func scanFileRows(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
}) ([]*FileRecord, error) {
	var out []*FileRecord
	for rows.Next() {
		var f FileRecord
		var hashHex, mode string
		var modTime int64
		if err := rows.Scan(&f.ID, &f.SnapshotID, &f.Path, &f.Size, &modTime, &hashHex, &mode); err != nil {
			return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "scan search result", err)
		}
		f.ModifiedTime = time.UnixMilli(modTime).UTC()
		f.FileHash, _ = hashing.ParseHex(hashHex)
		f.EncryptionMode = EncryptionMode(mode)
		out = append(out, &f)
	}
	return out, nil
}
