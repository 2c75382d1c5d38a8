// Package merkle implements the per-snapshot Merkle tree from spec.md §4.5:
// canonical byte-exact node serialization, tree build, persistence through
// the catalog, and O(delta) diff between two roots.
package merkle

import (
	"encoding/binary"
	"sort"

	"github.com/coldtree/coldtree/pkg/hashing"
)

// NodeType distinguishes file leaves from directory nodes (spec.md §3).
type NodeType string

const (
	TypeFile      NodeType = "FILE"
	TypeDirectory NodeType = "DIRECTORY"
)

// ChildSummary is the lightweight reference a directory node keeps to each
// child: its hash, type, name, size and (for files) file ID, enough to
// identify and describe the child without loading it or its own children.
// Re-serializing the child itself needs the child node (spec.md §3, §9 on
// eliminating the cycle through the MerkleNode embeds-children design).
type ChildSummary struct {
	Hash   hashing.Digest
	Type   NodeType
	Name   string
	Size   int64
	FileID string // only meaningful when Type == TypeFile
}

// Node is a persisted Merkle node (spec.md §3). FILE nodes carry FileID;
// DIRECTORY nodes carry Children, sorted by name ascending.
type Node struct {
	Hash     hashing.Digest
	Type     NodeType
	Name     string
	Size     int64
	Children []ChildSummary // nil for FILE nodes
	FileID   string         // set only for FILE nodes
}

// tag bytes for the canonical serialization in spec.md §4.5.
const (
	tagFile      byte = 0x01
	tagDirectory byte = 0x02
)

// Serialize produces the canonical, byte-exact encoding of n used both to
// derive n.Hash and as the cross-host interoperability wire format
// (spec.md §6.3). FILE nodes encode their file hash; DIRECTORY nodes encode
// their children's hashes only, sorted by name, so a node's hash depends
// purely on its children's identities, never on how those children happen to
// be stored (spec.md §4.5).
func Serialize(n *Node, fileHashBasis hashing.Digest) []byte {
	var buf []byte
	switch n.Type {
	case TypeFile:
		buf = append(buf, tagFile)
		buf = binary.AppendUvarint(buf, uint64(len(n.Name)))
		buf = append(buf, n.Name...)
		buf = binary.AppendUvarint(buf, uint64(n.Size))
		buf = append(buf, fileHashBasis[:]...)
	case TypeDirectory:
		children := make([]ChildSummary, len(n.Children))
		copy(children, n.Children)
		sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })

		buf = append(buf, tagDirectory)
		buf = binary.AppendUvarint(buf, uint64(len(n.Name)))
		buf = append(buf, n.Name...)
		buf = binary.AppendUvarint(buf, uint64(n.Size))
		buf = binary.AppendUvarint(buf, uint64(len(children)))
		for _, c := range children {
			buf = append(buf, c.Hash[:]...)
		}
	}
	return buf
}

// HashNode computes n.Hash = hasher.digest(Serialize(n, fileHashBasis)).
func HashNode(hasher *hashing.Hasher, n *Node, fileHashBasis hashing.Digest) hashing.Digest {
	return hasher.HashBytes(Serialize(n, fileHashBasis))
}
