package snapshot

import (
	"context"

	"github.com/coldtree/coldtree/pkg/catalog"
	"github.com/coldtree/coldtree/pkg/chunking"
	"github.com/coldtree/coldtree/pkg/coldtreeerr"
)

// ingestOneFile reads src fully, chunking it, hashing each piece, writing
// each piece to the chunk store, and recording the file + chunk edges in tx
// (spec.md §4.6 ingest data flow, one file's worth). It also computes
// file_hash as the digest of the whole stream, distinct from any individual
// chunk hash (spec.md §3).
func (s *Service) ingestOneFile(ctx context.Context, tx *catalog.Tx, snapshotID string, src FileSource) (*catalog.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapCancel(err)
	}

	rc, err := src.Open()
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "open source file: "+src.Path, err)
	}
	defer rc.Close()

	wholeFile := s.Hasher.Incremental()
	var refs []catalog.ChunkRef
	var totalSize int64
	order := 0

	splitErr := s.Chunker.Split(rc, func(p chunking.Piece) error {
		if err := ctx.Err(); err != nil {
			return wrapCancel(err)
		}
		if err := wholeFile.Update(p.Data); err != nil {
			return err
		}

		digest := s.Hasher.HashBytes(p.Data)
		if _, err := s.Store.Put(digest.Hex(), p.Data); err != nil {
			return err
		}
		if _, err := s.Catalog.UpsertChunk(tx, digest, int64(len(p.Data))); err != nil {
			return err
		}

		refs = append(refs, catalog.ChunkRef{
			ChunkHash:  digest,
			ChunkOrder: order,
			ChunkSize:  int64(len(p.Data)),
		})
		order++
		totalSize += int64(len(p.Data))
		return nil
	})
	if splitErr != nil {
		return nil, splitErr
	}

	fileHash, err := wholeFile.Digest()
	if err != nil {
		return nil, err
	}

	storedPath, mode, err := s.pathForStorage(src.Path)
	if err != nil {
		return nil, err
	}

	f, err := s.Catalog.InsertFile(tx, snapshotID, storedPath, totalSize, src.ModifiedTime, fileHash, mode)
	if err != nil {
		return nil, err
	}

	for i := range refs {
		refs[i].FileID = f.ID
	}
	if len(refs) > 0 {
		if err := s.Catalog.AddFileChunks(tx, refs); err != nil {
			return nil, err
		}
	}

	if s.Cipher != nil {
		if err := s.Catalog.IndexFileKeywords(tx, f.ID, src.Path, s.Cipher); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// ingestResult pairs one FileSource's outcome with its index so callers can
// correlate results back to the original, order-independent submission list.
type ingestResult struct {
	index int
	file  *catalog.FileRecord
	err   error
}

// ingestAll drives sources through ingestOneFile with s.Workers of
// concurrency, one transaction per file, retrying a failed file exactly once
// before giving up on it (spec.md §5 ingest concurrency model). The snapshot
// is rolled back as a whole by the caller if any file exhausts its retry.
func (s *Service) ingestAll(ctx context.Context, snapshotID string, sources []FileSource) ([]*catalog.FileRecord, error) {
	results := make([]ingestResult, len(sources))
	sem := make(chan struct{}, s.Workers)
	done := make(chan struct{})
	work := make(chan int)

	go func() {
		defer close(work)
		for i := range sources {
			select {
			case work <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	workerCount := s.Workers
	if workerCount > len(sources) {
		workerCount = len(sources)
	}
	if workerCount == 0 {
		close(done)
	}

	for w := 0; w < workerCount; w++ {
		go func() {
			for i := range work {
				sem <- struct{}{}
				results[i] = s.ingestWithRetry(ctx, snapshotID, i, sources[i])
				<-sem
			}
			done <- struct{}{}
		}()
	}

	finished := 0
	for workerCount > 0 && finished < workerCount {
		<-done
		finished++
	}

	files := make([]*catalog.FileRecord, 0, len(sources))
	for _, r := range results {
		if r.err == nil && r.file == nil {
			// Never dispatched: the producer stopped on ctx.Done().
			return nil, wrapCancel(ctx.Err())
		}
		if r.err != nil {
			return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "ingest file "+sources[r.index].Path, r.err)
		}
		files = append(files, r.file)
	}
	return files, nil
}

// ingestWithRetry runs one file's ingest in its own transaction, retrying
// exactly once on failure (spec.md §5: "per-file retry-once policy").
func (s *Service) ingestWithRetry(ctx context.Context, snapshotID string, index int, src FileSource) ingestResult {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		tx, err := s.Catalog.BeginTransaction()
		if err != nil {
			lastErr = err
			continue
		}

		f, err := s.ingestOneFile(ctx, tx, snapshotID, src)
		if err != nil {
			s.Catalog.Rollback(tx)
			lastErr = err
			continue
		}

		if err := s.Catalog.Commit(tx); err != nil {
			lastErr = err
			continue
		}
		return ingestResult{index: index, file: f}
	}
	return ingestResult{index: index, err: lastErr}
}
