package merkle

import (
	"path"
	"sort"

	"github.com/coldtree/coldtree/pkg/coldtreeerr"
	"github.com/coldtree/coldtree/pkg/hashing"
)

// DiffKind classifies a single diff entry (spec.md §4.5).
type DiffKind string

const (
	Added    DiffKind = "ADDED"
	Removed  DiffKind = "REMOVED"
	Modified DiffKind = "MODIFIED"
)

// DiffEntry is one emitted change; Path is file-leaf path (never a
// directory path) to match the diff-soundness property in spec.md §8.
type DiffEntry struct {
	Path string
	Kind DiffKind
}

// Diff walks rootA and rootB (either may be nil, meaning "no tree") and
// emits the set of file-level changes between them in O(|delta|), per
// spec.md §4.5.
func Diff(store NodeStore, rootA, rootB *hashing.Digest) ([]DiffEntry, error) {
	var entries []DiffEntry
	err := diffNodes(store, rootA, rootB, "", &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func diffNodes(store NodeStore, a, b *hashing.Digest, dirPath string, out *[]DiffEntry) error {
	if a == nil && b == nil {
		return nil
	}
	if a != nil && b != nil && *a == *b {
		return nil
	}
	if a == nil {
		node, ok, err := store.GetNode(*b)
		if err != nil {
			return err
		}
		if !ok {
			return coldtreeerr.New(coldtreeerr.CodeNotFound, "merkle node missing: "+b.Hex())
		}
		emitSubtree(store, node, dirPath, Added, out)
		return nil
	}
	if b == nil {
		node, ok, err := store.GetNode(*a)
		if err != nil {
			return err
		}
		if !ok {
			return coldtreeerr.New(coldtreeerr.CodeNotFound, "merkle node missing: "+a.Hex())
		}
		emitSubtree(store, node, dirPath, Removed, out)
		return nil
	}

	nodeA, ok, err := store.GetNode(*a)
	if err != nil {
		return err
	}
	if !ok {
		return coldtreeerr.New(coldtreeerr.CodeNotFound, "merkle node missing: "+a.Hex())
	}
	nodeB, ok, err := store.GetNode(*b)
	if err != nil {
		return err
	}
	if !ok {
		return coldtreeerr.New(coldtreeerr.CodeNotFound, "merkle node missing: "+b.Hex())
	}

	if nodeA.Type == TypeFile || nodeB.Type == TypeFile {
		// Same name, different hash, and at least one is a file leaf: the
		// file itself changed (or a file was replaced by a directory, which
		// we still report as a single modification at that path).
		*out = append(*out, DiffEntry{Path: childPath(dirPath, nodeA.Name), Kind: Modified})
		return nil
	}

	// Both directories with differing hashes: merge-sort-like walk by name.
	childrenA := childMap(nodeA.Children)
	childrenB := childMap(nodeB.Children)

	names := make([]string, 0, len(childrenA)+len(childrenB))
	for name := range childrenA {
		names = append(names, name)
	}
	for name := range childrenB {
		if _, inA := childrenA[name]; !inA {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	selfPath := childPath(dirPath, nodeA.Name)
	for _, name := range names {
		ca, hasA := childrenA[name]
		cb, hasB := childrenB[name]
		var ha, hb *hashing.Digest
		if hasA {
			h := ca.Hash
			ha = &h
		}
		if hasB {
			h := cb.Hash
			hb = &h
		}
		if err := diffNodes(store, ha, hb, selfPath, out); err != nil {
			return err
		}
	}
	return nil
}

func childMap(children []ChildSummary) map[string]ChildSummary {
	m := make(map[string]ChildSummary, len(children))
	for _, c := range children {
		m[c.Name] = c
	}
	return m
}

func childPath(dirPath, name string) string {
	if dirPath == "" {
		return name
	}
	return path.Join(dirPath, name)
}

// emitSubtree recursively emits kind for every FILE leaf under node.
func emitSubtree(store NodeStore, node *Node, dirPath string, kind DiffKind, out *[]DiffEntry) {
	if node.Type == TypeFile {
		*out = append(*out, DiffEntry{Path: childPath(dirPath, node.Name), Kind: kind})
		return
	}
	for _, c := range node.Children {
		child, ok, err := store.GetNode(c.Hash)
		if err != nil || !ok {
			// Node rows are immutable once written, so this indicates
			// catalog corruption; surface nothing rather than guess.
			continue
		}
		emitSubtree(store, child, childPath(dirPath, node.Name), kind, out)
	}
}
