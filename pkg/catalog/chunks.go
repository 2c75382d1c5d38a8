package catalog

import (
	"database/sql"
	"time"

	"github.com/coldtree/coldtree/pkg/coldtreeerr"
	"github.com/coldtree/coldtree/pkg/hashing"
)

// UpsertChunk records a chunk's first appearance or increments its reference
// count on a repeat (spec.md §4.1/§4.6: reference counting is how dedup and
// GC cooperate). Returns true if this was a brand-new chunk.
func (c *Catalog) UpsertChunk(tx *Tx, hash hashing.Digest, size int64) (inserted bool, err error) {
	now := time.Now().UTC().UnixMilli()
	res, err := c.q(tx).Exec(
		`UPDATE chunks SET reference_count = reference_count + 1, last_accessed = ? WHERE hash = ?`,
		now, hash.Hex(),
	)
	if err != nil {
		return false, coldtreeerr.Wrap(coldtreeerr.CodeIo, "increment chunk reference count", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = c.q(tx).Exec(
		`INSERT INTO chunks (hash, size, first_seen, reference_count, last_accessed) VALUES (?, ?, ?, 1, ?)`,
		hash.Hex(), size, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// lost a race with a concurrent writer's first insert; treat as a repeat
			_, err2 := c.q(tx).Exec(
				`UPDATE chunks SET reference_count = reference_count + 1, last_accessed = ? WHERE hash = ?`,
				now, hash.Hex())
			if err2 != nil {
				return false, coldtreeerr.Wrap(coldtreeerr.CodeIo, "increment chunk reference count after race", err2)
			}
			return false, nil
		}
		return false, coldtreeerr.Wrap(coldtreeerr.CodeIo, "insert chunk", err)
	}
	return true, nil
}

// DecrementChunkRefs lowers the reference count of every hash in hashes by
// one, used when a snapshot referencing them is deleted (spec.md §4.6 GC).
func (c *Catalog) DecrementChunkRefs(tx *Tx, hashes []hashing.Digest) error {
	for _, h := range hashes {
		_, err := c.q(tx).Exec(
			`UPDATE chunks SET reference_count = MAX(reference_count - 1, 0) WHERE hash = ?`, h.Hex())
		if err != nil {
			return coldtreeerr.Wrap(coldtreeerr.CodeIo, "decrement chunk reference count", err)
		}
	}
	return nil
}

// GetChunk fetches a chunk's catalog row.
func (c *Catalog) GetChunk(tx *Tx, hash hashing.Digest) (*ChunkRecord, error) {
	row := c.q(tx).QueryRow(
		`SELECT hash, size, first_seen, reference_count, last_accessed FROM chunks WHERE hash = ?`, hash.Hex())
	var r ChunkRecord
	var hashHex string
	var firstSeen, lastAccessed int64
	err := row.Scan(&hashHex, &r.Size, &firstSeen, &r.ReferenceCount, &lastAccessed)
	if err == sql.ErrNoRows {
		return nil, coldtreeerr.New(coldtreeerr.CodeNotFound, "chunk not found")
	}
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "scan chunk", err)
	}
	r.Hash, _ = hashing.ParseHex(hashHex)
	r.FirstSeen = time.UnixMilli(firstSeen).UTC()
	r.LastAccessed = time.UnixMilli(lastAccessed).UTC()
	return &r, nil
}

// ListOrphanChunks returns every chunk whose reference_count has fallen to
// zero: candidates for the GC sweep's physical delete from the chunk store
// (spec.md §4.6).
func (c *Catalog) ListOrphanChunks(tx *Tx) ([]hashing.Digest, error) {
	rows, err := c.q(tx).Query(`SELECT hash FROM chunks WHERE reference_count <= 0`)
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "list orphan chunks", err)
	}
	defer rows.Close()

	var out []hashing.Digest
	for rows.Next() {
		var hashHex string
		if err := rows.Scan(&hashHex); err != nil {
			return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "scan orphan chunk", err)
		}
		d, err := hashing.ParseHex(hashHex)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteChunkRow removes a chunk's catalog row once its blob has been
// physically deleted from the chunk store (spec.md §4.6 GC, final step).
func (c *Catalog) DeleteChunkRow(tx *Tx, hash hashing.Digest) error {
	_, err := c.q(tx).Exec(`DELETE FROM chunks WHERE hash = ?`, hash.Hex())
	if err != nil {
		return coldtreeerr.Wrap(coldtreeerr.CodeIo, "delete chunk row", err)
	}
	return nil
}

// ChunkStats summarizes the chunks table for reporting (spec.md §4.1 Stats,
// catalog-side complement to the chunk store's filesystem walk).
type ChunkStats struct {
	TotalChunks int64
	TotalBytes  int64
	OrphanCount int64
}

// Stats computes ChunkStats over the current chunks table.
func (c *Catalog) Stats(tx *Tx) (ChunkStats, error) {
	var s ChunkStats
	err := c.q(tx).QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(CASE WHEN reference_count <= 0 THEN 1 ELSE 0 END), 0) FROM chunks`,
	).Scan(&s.TotalChunks, &s.TotalBytes, &s.OrphanCount)
	if err != nil {
		return ChunkStats{}, coldtreeerr.Wrap(coldtreeerr.CodeIo, "compute chunk stats", err)
	}
	return s, nil
}
