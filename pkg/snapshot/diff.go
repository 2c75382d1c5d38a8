package snapshot

import (
	"github.com/coldtree/coldtree/pkg/catalog"
	"github.com/coldtree/coldtree/pkg/hashing"
	"github.com/coldtree/coldtree/pkg/merkle"
)

// Diff compares two snapshots' committed trees and returns their changed
// paths (spec.md §4.5 O(delta) diff, exposed here at the snapshot level
// rather than the raw node level).
func (s *Service) Diff(snapshotAID, snapshotBID string) ([]merkle.DiffEntry, error) {
	tx, err := s.Catalog.BeginTransaction()
	if err != nil {
		return nil, err
	}
	defer s.Catalog.Rollback(tx)

	a, err := s.Catalog.GetSnapshot(tx, snapshotAID)
	if err != nil {
		return nil, err
	}
	b, err := s.Catalog.GetSnapshot(tx, snapshotBID)
	if err != nil {
		return nil, err
	}

	return merkle.Diff(s.Catalog.Nodes(tx), rootOrNil(a.MerkleRoot), rootOrNil(b.MerkleRoot))
}

func rootOrNil(d hashing.Digest) *hashing.Digest {
	var zero hashing.Digest
	if d == zero {
		return nil
	}
	return &d
}

// Search runs search_files against a snapshot, dispatching to the blind
// index or the FTS path index depending on whether path encryption is
// enabled (spec.md §4.7).
func (s *Service) Search(snapshotID, query string) ([]string, error) {
	tx, err := s.Catalog.BeginTransaction()
	if err != nil {
		return nil, err
	}
	defer s.Catalog.Rollback(tx)

	var recs []*catalog.FileRecord
	if s.Cipher != nil {
		recs, err = s.Catalog.SearchFilesEncrypted(tx, snapshotID, query, s.Cipher)
	} else {
		recs, err = s.Catalog.SearchFilesPlain(tx, snapshotID, query)
	}
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(recs))
	for i, f := range recs {
		paths[i] = s.displayPath(f)
	}
	return paths, nil
}
