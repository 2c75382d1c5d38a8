package catalog

import (
	"time"

	"github.com/coldtree/coldtree/pkg/hashing"
)

// Snapshot is one row of the snapshots table (spec.md §3, §6.2).
type Snapshot struct {
	ID          string
	Name        string
	CreatedAt   time.Time
	Description string
	ParentID    string // empty for the first snapshot
	TotalFiles  int64
	TotalSize   int64
	MerkleRoot  hashing.Digest
}

// EncryptionMode records whether a file row's path is stored in the clear or
// under deterministic AES path encryption (spec.md §3, §4.7).
type EncryptionMode string

const (
	EncryptionNone EncryptionMode = "NONE"
	EncryptionAES  EncryptionMode = "AES"
)

// FileRecord is one row of the files table.
type FileRecord struct {
	ID             string
	SnapshotID     string
	Path           string // ciphertext when EncryptionMode != EncryptionNone
	Size           int64
	ModifiedTime   time.Time
	FileHash       hashing.Digest
	EncryptionMode EncryptionMode
}

// ChunkRef is one row of the file_chunks table: the file's ordered reference
// to a chunk.
type ChunkRef struct {
	FileID     string
	ChunkHash  hashing.Digest
	ChunkOrder int
	ChunkSize  int64
}

// ChunkRecord is one row of the chunks table (spec.md §3, §6.2): a
// reference-counted content-addressed blob's catalog-side bookkeeping.
type ChunkRecord struct {
	Hash           hashing.Digest
	Size           int64
	FirstSeen      time.Time
	ReferenceCount int64
	LastAccessed   time.Time
}
