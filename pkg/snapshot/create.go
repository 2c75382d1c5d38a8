package snapshot

import (
	"context"

	"github.com/coldtree/coldtree/pkg/catalog"
	"github.com/coldtree/coldtree/pkg/coldtreeerr"
	"github.com/coldtree/coldtree/pkg/merkle"
)

// CreateFull ingests every source as a brand-new snapshot with no parent
// (spec.md §4.2, §4.6 full ingest path).
func (s *Service) CreateFull(ctx context.Context, name, description string, sources []FileSource) (*catalog.Snapshot, error) {
	return s.createSnapshot(ctx, name, description, "", sources, nil)
}

// CreateIncremental ingests only the sources explicitly provided (the
// changed set) and copies every other file from parentID forward unchanged,
// with fresh IDs and bumped chunk reference counts (spec.md §4.2, §4.6
// incremental ingest path).
func (s *Service) CreateIncremental(ctx context.Context, name, description, parentID string, changed []FileSource) (*catalog.Snapshot, error) {
	if parentID == "" {
		return nil, coldtreeerr.New(coldtreeerr.CodeInvalid, "incremental snapshot requires a parent_id")
	}
	return s.createSnapshot(ctx, name, description, parentID, changed, &parentID)
}

// CreateIncrementalAuto determines the changed set itself: a path is changed
// iff (size, mtime) differ from the parent's entry, or it has no entry in
// the parent at all (spec.md §4.6 step 2), and only rehashes those. Callers
// that already know which paths changed should call CreateIncremental
// directly instead.
func (s *Service) CreateIncrementalAuto(ctx context.Context, name, description, parentID string, candidates []FileSource) (*catalog.Snapshot, error) {
	if parentID == "" {
		return nil, coldtreeerr.New(coldtreeerr.CodeInvalid, "incremental snapshot requires a parent_id")
	}

	tx, err := s.Catalog.BeginTransaction()
	if err != nil {
		return nil, err
	}
	parentFiles, err := s.Catalog.ListFilesInSnapshot(tx, parentID)
	s.Catalog.Rollback(tx)
	if err != nil {
		return nil, err
	}

	parentByPath := make(map[string]*catalog.FileRecord, len(parentFiles))
	for _, f := range parentFiles {
		parentByPath[s.displayPath(f)] = f
	}

	var changed []FileSource
	for _, c := range candidates {
		prior, ok := parentByPath[c.Path]
		if !ok || prior.Size != c.Size || !prior.ModifiedTime.Equal(c.ModifiedTime) {
			changed = append(changed, c)
		}
	}

	return s.createSnapshot(ctx, name, description, parentID, changed, &parentID)
}

func (s *Service) createSnapshot(ctx context.Context, name, description, parentID string, sources []FileSource, copyFrom *string) (*catalog.Snapshot, error) {
	meta, err := s.Catalog.BeginTransaction()
	if err != nil {
		return nil, err
	}
	snap, err := s.Catalog.CreateSnapshot(meta, name, description, parentID)
	if err != nil {
		s.Catalog.Rollback(meta)
		return nil, err
	}
	if err := s.Catalog.Commit(meta); err != nil {
		return nil, err
	}

	files, err := s.ingestAll(ctx, snap.ID, sources)
	if err != nil {
		s.abortSnapshot(snap.ID)
		return nil, err
	}

	cowTx, err := s.Catalog.BeginTransaction()
	if err != nil {
		s.abortSnapshot(snap.ID)
		return nil, err
	}

	copiedCount := 0
	if copyFrom != nil {
		changedPaths := make(map[string]bool, len(sources))
		for _, src := range sources {
			stored, _, err := s.pathForStorage(src.Path)
			if err != nil {
				s.Catalog.Rollback(cowTx)
				s.abortSnapshot(snap.ID)
				return nil, err
			}
			changedPaths[stored] = true
		}
		copiedCount, err = s.Catalog.CopyUnchangedFiles(cowTx, *copyFrom, snap.ID, changedPaths)
		if err != nil {
			s.Catalog.Rollback(cowTx)
			s.abortSnapshot(snap.ID)
			return nil, err
		}
	}

	allFiles, err := s.Catalog.ListFilesInSnapshot(cowTx, snap.ID)
	if err != nil {
		s.Catalog.Rollback(cowTx)
		s.abortSnapshot(snap.ID)
		return nil, err
	}

	entries := make([]merkle.FileEntry, len(allFiles))
	var totalSize int64
	for i, f := range allFiles {
		entries[i] = merkle.FileEntry{
			Path:     s.displayPath(f),
			Size:     f.Size,
			FileHash: f.FileHash,
			FileID:   f.ID,
		}
		totalSize += f.Size
	}

	root, err := merkle.Build(s.Hasher, s.Catalog.Nodes(cowTx), entries)
	if err != nil {
		s.Catalog.Rollback(cowTx)
		s.abortSnapshot(snap.ID)
		return nil, err
	}

	if err := s.Catalog.SetSnapshotTotals(cowTx, snap.ID, int64(len(allFiles)), totalSize); err != nil {
		s.Catalog.Rollback(cowTx)
		s.abortSnapshot(snap.ID)
		return nil, err
	}
	if err := s.Catalog.SetMerkleRoot(cowTx, snap.ID, root); err != nil {
		s.Catalog.Rollback(cowTx)
		s.abortSnapshot(snap.ID)
		return nil, err
	}

	if err := s.Catalog.Commit(cowTx); err != nil {
		s.abortSnapshot(snap.ID)
		return nil, err
	}

	log.Info().Str("snapshot_id", snap.ID).Str("name", name).Int("files", len(allFiles)).Int("copied_unchanged", copiedCount).Msg("snapshot committed")

	snap.TotalFiles = int64(len(allFiles))
	snap.TotalSize = totalSize
	snap.MerkleRoot = root
	return snap, nil
}

// abortSnapshot deletes a partially-ingested snapshot so a failed create
// never leaves a root-less snapshot row behind (spec.md §4.2: "a snapshot's
// Merkle root is set atomically after all file inserts commit").
func (s *Service) abortSnapshot(id string) {
	tx, err := s.Catalog.BeginTransaction()
	if err != nil {
		log.Error().Err(err).Str("snapshot_id", id).Msg("failed to begin abort transaction")
		return
	}
	if err := s.Catalog.DeleteSnapshot(tx, id); err != nil {
		s.Catalog.Rollback(tx)
		log.Error().Err(err).Str("snapshot_id", id).Msg("failed to delete aborted snapshot")
		return
	}
	if err := s.Catalog.Commit(tx); err != nil {
		log.Error().Err(err).Str("snapshot_id", id).Msg("failed to commit abort transaction")
	}
}
