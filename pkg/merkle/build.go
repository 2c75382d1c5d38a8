package merkle

import (
	"sort"
	"strings"

	"github.com/coldtree/coldtree/pkg/hashing"
)

// FileEntry is the per-file input to Build: the path-prefix leaf data needed
// to construct a FILE node (spec.md §4.5 step 1).
type FileEntry struct {
	Path     string
	Size     int64
	FileHash hashing.Digest
	FileID   string
}

// NodeStore is the persistence capability Build and Diff require. The
// catalog's Merkle operations (spec.md §4.3.1) satisfy this interface;
// merkle itself holds no storage dependency, matching the "accept
// interfaces" idiom used throughout the teacher's networking layer.
type NodeStore interface {
	UpsertNode(n *Node) error
	GetNode(hash hashing.Digest) (*Node, bool, error)
}

// trieNode is the in-memory path-prefix tree used only during Build.
type trieNode struct {
	name     string
	file     *FileEntry // non-nil at leaves
	children map[string]*trieNode
}

func newTrieNode(name string) *trieNode {
	return &trieNode{name: name, children: make(map[string]*trieNode)}
}

// Build constructs the Merkle tree for a snapshot's file set and returns the
// root hash, persisting every node (file leaves and directories) via store
// (spec.md §4.5).
func Build(hasher *hashing.Hasher, store NodeStore, files []FileEntry) (hashing.Digest, error) {
	root := newTrieNode("")
	for i := range files {
		insertIntoTrie(root, files[i])
	}
	node, err := buildSubtree(hasher, store, root)
	if err != nil {
		return hashing.Digest{}, err
	}
	return node.Hash, nil
}

func insertIntoTrie(root *trieNode, entry FileEntry) {
	segments := strings.Split(entry.Path, "/")
	cur := root
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		child, ok := cur.children[seg]
		if !ok {
			child = newTrieNode(seg)
			cur.children[seg] = child
		}
		cur = child
		if i == len(segments)-1 {
			e := entry
			cur.file = &e
		}
	}
}

// buildSubtree post-order traverses t, persisting and returning the Node for
// t. Directories with a single child still get their own directory node so
// that full paths are reconstructible from the tree shape.
func buildSubtree(hasher *hashing.Hasher, store NodeStore, t *trieNode) (*Node, error) {
	if t.file != nil && len(t.children) == 0 {
		basis := t.file.FileHash
		n := &Node{
			Type:   TypeFile,
			Name:   t.name,
			Size:   t.file.Size,
			FileID: t.file.FileID,
		}
		n.Hash = HashNode(hasher, n, basis)
		if err := store.UpsertNode(n); err != nil {
			return nil, err
		}
		return n, nil
	}

	names := make([]string, 0, len(t.children))
	for name := range t.children {
		names = append(names, name)
	}
	sort.Strings(names)

	children := make([]ChildSummary, 0, len(names))
	var total int64
	for _, name := range names {
		childNode, err := buildSubtree(hasher, store, t.children[name])
		if err != nil {
			return nil, err
		}
		children = append(children, ChildSummary{
			Hash:   childNode.Hash,
			Type:   childNode.Type,
			Name:   childNode.Name,
			Size:   childNode.Size,
			FileID: childNode.FileID,
		})
		total += childNode.Size
	}

	n := &Node{
		Type:     TypeDirectory,
		Name:     t.name,
		Size:     total,
		Children: children,
	}
	n.Hash = HashNode(hasher, n, hashing.Digest{})
	if err := store.UpsertNode(n); err != nil {
		return nil, err
	}
	return n, nil
}
