package snapshot

import (
	"github.com/coldtree/coldtree/pkg/catalog"
	"github.com/coldtree/coldtree/pkg/hashing"
	"github.com/coldtree/coldtree/pkg/merkle"
)

// GCResult summarizes one sweep (spec.md §4.6).
type GCResult struct {
	ChunksDeleted           int
	MerkleNodesDeleted      int
	InvalidSnapshotsDropped int
}

// CleanupInvalidSnapshots deletes every snapshot row whose merkle_root is
// still null, per spec.md §4.6's startup cleanup / validate_snapshot_chain
// path.
func (s *Service) CleanupInvalidSnapshots() (int, error) {
	tx, err := s.Catalog.BeginTransaction()
	if err != nil {
		return 0, err
	}
	defer s.Catalog.Rollback(tx)

	invalid, err := s.Catalog.ListInvalidSnapshots(tx)
	if err != nil {
		return 0, err
	}
	for _, snap := range invalid {
		if err := s.Catalog.DeleteSnapshot(tx, snap.ID); err != nil {
			return 0, err
		}
	}
	if err := s.Catalog.Commit(tx); err != nil {
		return 0, err
	}
	return len(invalid), nil
}

// SweepGC runs the offline GC sweep (spec.md §4.6): delete orphaned chunks
// (reference_count==0) from both the catalog and the chunk store, then
// delete every Merkle node unreachable from any snapshot's root. Callers
// must ensure no ingest is concurrently running.
func (s *Service) SweepGC() (GCResult, error) {
	var result GCResult

	dropped, err := s.CleanupInvalidSnapshots()
	if err != nil {
		return result, err
	}
	result.InvalidSnapshotsDropped = dropped

	if err := s.sweepOrphanChunks(&result); err != nil {
		return result, err
	}
	if err := s.sweepUnreachableMerkleNodes(&result); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) sweepOrphanChunks(result *GCResult) error {
	tx, err := s.Catalog.BeginTransaction()
	if err != nil {
		return err
	}
	orphans, err := s.Catalog.ListOrphanChunks(tx)
	s.Catalog.Rollback(tx)
	if err != nil {
		return err
	}

	for _, hash := range orphans {
		if _, err := s.Store.Delete(hash.Hex()); err != nil {
			return err
		}

		dtx, err := s.Catalog.BeginTransaction()
		if err != nil {
			return err
		}
		if err := s.Catalog.DeleteChunkRow(dtx, hash); err != nil {
			s.Catalog.Rollback(dtx)
			return err
		}
		if err := s.Catalog.Commit(dtx); err != nil {
			return err
		}
		result.ChunksDeleted++
	}
	return nil
}

func (s *Service) sweepUnreachableMerkleNodes(result *GCResult) error {
	tx, err := s.Catalog.BeginTransaction()
	if err != nil {
		return err
	}
	defer s.Catalog.Rollback(tx)

	snaps, err := s.Catalog.ListSnapshots(tx)
	if err != nil {
		return err
	}
	all, err := s.Catalog.ListAllMerkleNodeHashes(tx)
	if err != nil {
		return err
	}

	store := s.Catalog.Nodes(tx)
	reachable := make(map[hashing.Digest]bool)
	for _, snap := range snaps {
		var zero hashing.Digest
		if snap.MerkleRoot == zero {
			continue
		}
		if err := markReachable(store, snap.MerkleRoot, reachable); err != nil {
			return err
		}
	}

	for _, hash := range all {
		if reachable[hash] {
			continue
		}
		if err := s.Catalog.DeleteMerkleNode(tx, hash); err != nil {
			return err
		}
		result.MerkleNodesDeleted++
	}
	return s.Catalog.Commit(tx)
}

func markReachable(store *catalog.NodeCatalog, hash hashing.Digest, reachable map[hashing.Digest]bool) error {
	if reachable[hash] {
		return nil
	}
	reachable[hash] = true

	node, ok, err := store.GetNode(hash)
	if err != nil {
		return err
	}
	if !ok || node.Type != merkle.TypeDirectory {
		return nil
	}
	for _, child := range node.Children {
		if err := markReachable(store, child.Hash, reachable); err != nil {
			return err
		}
	}
	return nil
}
