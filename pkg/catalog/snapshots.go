package catalog

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coldtree/coldtree/pkg/coldtreeerr"
	"github.com/coldtree/coldtree/pkg/hashing"
)

// CreateSnapshot inserts a new snapshot row with a fresh ID and returns it.
// A non-empty parentID must already exist (spec.md §4.2, full/incremental
// snapshot creation).
func (c *Catalog) CreateSnapshot(tx *Tx, name, description, parentID string) (*Snapshot, error) {
	if parentID != "" {
		if _, err := c.GetSnapshot(tx, parentID); err != nil {
			return nil, err
		}
	}

	s := &Snapshot{
		ID:          uuid.NewString(),
		Name:        name,
		CreatedAt:   time.Now().UTC(),
		Description: description,
		ParentID:    parentID,
	}

	var parent interface{}
	if parentID != "" {
		parent = parentID
	}
	_, err := c.q(tx).Exec(
		`INSERT INTO snapshots (id, name, created_at, description, parent_id, total_files, total_size)
		 VALUES (?, ?, ?, ?, ?, 0, 0)`,
		s.ID, s.Name, s.CreatedAt.UnixMilli(), s.Description, parent,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, coldtreeerr.Wrap(coldtreeerr.CodeConflict, "snapshot name already exists", err)
		}
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "insert snapshot", err)
	}
	return s, nil
}

// GetSnapshot fetches a snapshot by ID.
func (c *Catalog) GetSnapshot(tx *Tx, id string) (*Snapshot, error) {
	row := c.q(tx).QueryRow(
		`SELECT id, name, created_at, description, COALESCE(parent_id, ''), total_files, total_size, COALESCE(merkle_root, '')
		 FROM snapshots WHERE id = ?`, id)
	return scanSnapshot(row)
}

// GetSnapshotByName fetches a snapshot by its unique name.
func (c *Catalog) GetSnapshotByName(tx *Tx, name string) (*Snapshot, error) {
	row := c.q(tx).QueryRow(
		`SELECT id, name, created_at, description, COALESCE(parent_id, ''), total_files, total_size, COALESCE(merkle_root, '')
		 FROM snapshots WHERE name = ?`, name)
	return scanSnapshot(row)
}

// ListSnapshots returns every snapshot, newest first.
func (c *Catalog) ListSnapshots(tx *Tx) ([]*Snapshot, error) {
	rows, err := c.q(tx).Query(
		`SELECT id, name, created_at, description, COALESCE(parent_id, ''), total_files, total_size, COALESCE(merkle_root, '')
		 FROM snapshots ORDER BY created_at DESC`)
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "list snapshots", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		s, err := scanSnapshotRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// SetSnapshotTotals updates the cached file count/size summary (spec.md §4.2,
// populated once ingest completes).
func (c *Catalog) SetSnapshotTotals(tx *Tx, id string, totalFiles, totalSize int64) error {
	_, err := c.q(tx).Exec(
		`UPDATE snapshots SET total_files = ?, total_size = ? WHERE id = ?`,
		totalFiles, totalSize, id)
	if err != nil {
		return coldtreeerr.Wrap(coldtreeerr.CodeIo, "update snapshot totals", err)
	}
	return nil
}

// SetMerkleRoot commits the snapshot's tree root hash (spec.md §4.5, final
// step of a snapshot's ingest).
func (c *Catalog) SetMerkleRoot(tx *Tx, id string, root hashing.Digest) error {
	_, err := c.q(tx).Exec(`UPDATE snapshots SET merkle_root = ? WHERE id = ?`, root.Hex(), id)
	if err != nil {
		return coldtreeerr.Wrap(coldtreeerr.CodeIo, "set merkle root", err)
	}
	return nil
}

// DeleteSnapshot removes a snapshot and, via ON DELETE CASCADE, its files and
// file_chunks edges. Chunk reference counts must be decremented by the
// caller (spec.md §4.6 GC) before or after this call, since chunks has no
// foreign key back to file_chunks.
func (c *Catalog) DeleteSnapshot(tx *Tx, id string) error {
	res, err := c.q(tx).Exec(`DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return coldtreeerr.Wrap(coldtreeerr.CodeIo, "delete snapshot", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return coldtreeerr.New(coldtreeerr.CodeNotFound, "snapshot not found")
	}
	return nil
}

// ValidateSnapshotChain walks parent_id links from id back to the root and
// fails with IntegrityError if a cycle or dangling parent is found (spec.md
// §4.2 edge case: a corrupted parent chain).
func (c *Catalog) ValidateSnapshotChain(tx *Tx, id string) error {
	seen := make(map[string]bool)
	cur := id
	for cur != "" {
		if seen[cur] {
			return coldtreeerr.New(coldtreeerr.CodeIntegrityError, "snapshot parent chain contains a cycle")
		}
		seen[cur] = true

		s, err := c.GetSnapshot(tx, cur)
		if err != nil {
			if coldtreeerr.IsNotFound(err) {
				return coldtreeerr.New(coldtreeerr.CodeIntegrityError, "snapshot parent chain references a missing snapshot")
			}
			return err
		}
		cur = s.ParentID
	}
	return nil
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var s Snapshot
	var createdAt int64
	var rootHex string
	err := row.Scan(&s.ID, &s.Name, &createdAt, &s.Description, &s.ParentID, &s.TotalFiles, &s.TotalSize, &rootHex)
	if err == sql.ErrNoRows {
		return nil, coldtreeerr.New(coldtreeerr.CodeNotFound, "snapshot not found")
	}
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "scan snapshot", err)
	}
	s.CreatedAt = time.UnixMilli(createdAt).UTC()
	if rootHex != "" {
		s.MerkleRoot, _ = hashing.ParseHex(rootHex)
	}
	return &s, nil
}

func scanSnapshotRows(rows *sql.Rows) (*Snapshot, error) {
	var s Snapshot
	var createdAt int64
	var rootHex string
	if err := rows.Scan(&s.ID, &s.Name, &createdAt, &s.Description, &s.ParentID, &s.TotalFiles, &s.TotalSize, &rootHex); err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "scan snapshot", err)
	}
	s.CreatedAt = time.UnixMilli(createdAt).UTC()
	if rootHex != "" {
		s.MerkleRoot, _ = hashing.ParseHex(rootHex)
	}
	return &s, nil
}

// ListInvalidSnapshots returns every snapshot whose merkle_root is still
// null: rows left behind by an ingest that failed before the root commit
// (spec.md §4.6: "any failure before Merkle root commit leaves the snapshot
// row present but with merkle_root==NULL"). Startup cleanup deletes these.
func (c *Catalog) ListInvalidSnapshots(tx *Tx) ([]*Snapshot, error) {
	rows, err := c.q(tx).Query(
		`SELECT id, name, created_at, description, COALESCE(parent_id, ''), total_files, total_size, COALESCE(merkle_root, '')
		 FROM snapshots WHERE merkle_root IS NULL`)
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "list invalid snapshots", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		s, err := scanSnapshotRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
