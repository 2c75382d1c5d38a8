package snapshot

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/coldtree/coldtree/pkg/catalog"
	"github.com/coldtree/coldtree/pkg/chunkstore"
	"github.com/coldtree/coldtree/pkg/config"
	"github.com/coldtree/coldtree/pkg/hashing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()

	cat, err := catalog.OpenTestJournal(filepath.Join(dir, "metadata.db"), 4)
	if err != nil {
		t.Fatalf("OpenTestJournal failed: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	store, err := chunkstore.New(filepath.Join(dir, "chunks"), hashing.New(0))
	if err != nil {
		t.Fatalf("chunkstore.New failed: %v", err)
	}

	cfg := config.DefaultConfig(dir)
	cfg.FixedChunkSize = 8
	cfg.IngestWorkers = 2

	svc, err := New(cat, store, hashing.New(0), nil, cfg)
	if err != nil {
		t.Fatalf("New service failed: %v", err)
	}
	return svc
}

func sourceFromBytes(path string, data []byte) FileSource {
	return FileSource{
		Path:         path,
		Size:         int64(len(data)),
		ModifiedTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:         func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func TestCreateFullIngestsAndCommitsRoot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sources := []FileSource{
		sourceFromBytes("a.txt", []byte("hello world, this is file a")),
		sourceFromBytes("dir/b.txt", []byte("file b contents here")),
	}

	snap, err := svc.CreateFull(ctx, "full-1", "", sources)
	if err != nil {
		t.Fatalf("CreateFull failed: %v", err)
	}
	if snap.TotalFiles != 2 {
		t.Errorf("expected 2 files, got %d", snap.TotalFiles)
	}
	var zero hashing.Digest
	if snap.MerkleRoot == zero {
		t.Error("expected a non-zero merkle root after successful create")
	}

	files, err := svc.Catalog.ListFilesInSnapshot(nil, snap.ID)
	if err != nil {
		t.Fatalf("ListFilesInSnapshot failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 persisted files, got %d", len(files))
	}
}

func TestRestoreFileRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	content := []byte("this content is long enough to span multiple fixed-size chunks of eight bytes each")
	snap, err := svc.CreateFull(ctx, "restore-1", "", []FileSource{sourceFromBytes("f.bin", content)})
	if err != nil {
		t.Fatalf("CreateFull failed: %v", err)
	}

	files, err := svc.Catalog.ListFilesInSnapshot(nil, snap.ID)
	if err != nil || len(files) != 1 {
		t.Fatalf("ListFilesInSnapshot failed: err=%v files=%v", err, files)
	}

	var buf bytes.Buffer
	if err := svc.RestoreFile(ctx, files[0].ID, &buf); err != nil {
		t.Fatalf("RestoreFile failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Errorf("restored content mismatch: got %q, want %q", buf.Bytes(), content)
	}
}

func TestRestoreSnapshotVisitsEveryFile(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sources := []FileSource{
		sourceFromBytes("one.txt", []byte("first file content")),
		sourceFromBytes("two.txt", []byte("second file content, a bit longer")),
	}
	snap, err := svc.CreateFull(ctx, "restore-all", "", sources)
	if err != nil {
		t.Fatalf("CreateFull failed: %v", err)
	}

	got := make(map[string][]byte)
	err = svc.RestoreSnapshot(ctx, snap.ID, func(f *catalog.FileRecord, displayPath string, r io.Reader) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		got[displayPath] = data
		return nil
	})
	if err != nil {
		t.Fatalf("RestoreSnapshot failed: %v", err)
	}

	if string(got["one.txt"]) != "first file content" {
		t.Errorf("unexpected content for one.txt: %q", got["one.txt"])
	}
	if string(got["two.txt"]) != "second file content, a bit longer" {
		t.Errorf("unexpected content for two.txt: %q", got["two.txt"])
	}
}

func TestCreateIncrementalAutoCopiesUnchangedFiles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	parent, err := svc.CreateFull(ctx, "parent", "", []FileSource{
		sourceFromBytes("stable.txt", []byte("never changes between snapshots")),
		sourceFromBytes("volatile.txt", []byte("version one of this file")),
	})
	if err != nil {
		t.Fatalf("CreateFull (parent) failed: %v", err)
	}

	candidates := []FileSource{
		sourceFromBytes("stable.txt", []byte("never changes between snapshots")),
		{
			Path:         "volatile.txt",
			Size:         int64(len("version two, now different")),
			ModifiedTime: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			Open:         func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader([]byte("version two, now different"))), nil },
		},
	}

	child, err := svc.CreateIncrementalAuto(ctx, "child", "", parent.ID, candidates)
	if err != nil {
		t.Fatalf("CreateIncrementalAuto failed: %v", err)
	}
	if child.TotalFiles != 2 {
		t.Errorf("expected 2 files in child snapshot, got %d", child.TotalFiles)
	}

	var buf bytes.Buffer
	files, err := svc.Catalog.ListFilesInSnapshot(nil, child.ID)
	if err != nil {
		t.Fatalf("ListFilesInSnapshot failed: %v", err)
	}
	for _, f := range files {
		if svc.displayPath(f) == "volatile.txt" {
			buf.Reset()
			if err := svc.RestoreFile(ctx, f.ID, &buf); err != nil {
				t.Fatalf("RestoreFile failed: %v", err)
			}
			if buf.String() != "version two, now different" {
				t.Errorf("expected updated content for volatile.txt, got %q", buf.String())
			}
		}
	}
}

func TestCreateIncrementalAutoWithPathEncryptionDoesNotCollide(t *testing.T) {
	dir := t.TempDir()

	cat, err := catalog.OpenTestJournal(filepath.Join(dir, "metadata.db"), 4)
	if err != nil {
		t.Fatalf("OpenTestJournal failed: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	store, err := chunkstore.New(filepath.Join(dir, "chunks"), hashing.New(0))
	if err != nil {
		t.Fatalf("chunkstore.New failed: %v", err)
	}

	cfg := config.DefaultConfig(dir)
	cfg.FixedChunkSize = 8
	cfg.IngestWorkers = 2
	cfg.PathEncryptionKey = make([]byte, 32)
	for i := range cfg.PathEncryptionKey {
		cfg.PathEncryptionKey[i] = byte(i)
	}

	svc, err := New(cat, store, hashing.New(0), nil, cfg)
	if err != nil {
		t.Fatalf("New service failed: %v", err)
	}
	ctx := context.Background()

	parent, err := svc.CreateFull(ctx, "enc-parent", "", []FileSource{
		sourceFromBytes("stable.txt", []byte("never changes between snapshots")),
		sourceFromBytes("volatile.txt", []byte("version one of this file")),
	})
	if err != nil {
		t.Fatalf("CreateFull (parent) failed: %v", err)
	}

	candidates := []FileSource{
		sourceFromBytes("stable.txt", []byte("never changes between snapshots")),
		{
			Path:         "volatile.txt",
			Size:         int64(len("version two, now different")),
			ModifiedTime: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			Open:         func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader([]byte("version two, now different"))), nil },
		},
	}

	child, err := svc.CreateIncrementalAuto(ctx, "enc-child", "", parent.ID, candidates)
	if err != nil {
		t.Fatalf("CreateIncrementalAuto with path encryption failed: %v", err)
	}
	if child.TotalFiles != 2 {
		t.Errorf("expected 2 files in child snapshot, got %d", child.TotalFiles)
	}

	files, err := svc.Catalog.ListFilesInSnapshot(nil, child.ID)
	if err != nil {
		t.Fatalf("ListFilesInSnapshot failed: %v", err)
	}
	var buf bytes.Buffer
	for _, f := range files {
		if svc.displayPath(f) == "volatile.txt" {
			buf.Reset()
			if err := svc.RestoreFile(ctx, f.ID, &buf); err != nil {
				t.Fatalf("RestoreFile failed: %v", err)
			}
			if buf.String() != "version two, now different" {
				t.Errorf("expected updated content for volatile.txt, got %q", buf.String())
			}
		}
	}
}

func TestDiffBetweenSnapshots(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	parent, err := svc.CreateFull(ctx, "diff-parent", "", []FileSource{
		sourceFromBytes("keep.txt", []byte("unchanged file content")),
		sourceFromBytes("removed.txt", []byte("will be removed")),
	})
	if err != nil {
		t.Fatalf("CreateFull (parent) failed: %v", err)
	}

	// A full snapshot without removed.txt: CreateIncremental would copy it
	// forward from the parent.
	child, err := svc.CreateFull(ctx, "diff-child", "", []FileSource{
		sourceFromBytes("keep.txt", []byte("unchanged file content")),
		sourceFromBytes("added.txt", []byte("brand new file")),
	})
	if err != nil {
		t.Fatalf("CreateFull (child) failed: %v", err)
	}

	entries, err := svc.Diff(parent.ID, child.ID)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}

	byPath := make(map[string]string)
	for _, e := range entries {
		byPath[e.Path] = string(e.Kind)
	}
	if byPath["added.txt"] != "ADDED" {
		t.Errorf("expected added.txt ADDED, got %v", byPath["added.txt"])
	}
	if byPath["removed.txt"] != "REMOVED" {
		t.Errorf("expected removed.txt REMOVED, got %v", byPath["removed.txt"])
	}
	if _, present := byPath["keep.txt"]; present {
		t.Errorf("expected keep.txt to be absent from the diff, got entry %v", byPath["keep.txt"])
	}
}

func TestSweepGCRemovesOrphanedChunksAfterSnapshotDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	snap, err := svc.CreateFull(ctx, "gc-1", "", []FileSource{
		sourceFromBytes("only.txt", []byte("only file in this snapshot, long enough for chunks")),
	})
	if err != nil {
		t.Fatalf("CreateFull failed: %v", err)
	}

	files, err := svc.Catalog.ListFilesInSnapshot(nil, snap.ID)
	if err != nil || len(files) != 1 {
		t.Fatalf("ListFilesInSnapshot failed: err=%v files=%v", err, files)
	}
	refs, err := svc.Catalog.GetFileChunks(nil, files[0].ID)
	if err != nil {
		t.Fatalf("GetFileChunks failed: %v", err)
	}

	tx, err := svc.Catalog.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	hashes := make([]hashing.Digest, len(refs))
	for i, r := range refs {
		hashes[i] = r.ChunkHash
	}
	if err := svc.Catalog.DecrementChunkRefs(tx, hashes); err != nil {
		t.Fatalf("DecrementChunkRefs failed: %v", err)
	}
	if err := svc.Catalog.DeleteSnapshot(tx, snap.ID); err != nil {
		t.Fatalf("DeleteSnapshot failed: %v", err)
	}
	if err := svc.Catalog.Commit(tx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	result, err := svc.SweepGC()
	if err != nil {
		t.Fatalf("SweepGC failed: %v", err)
	}
	if result.ChunksDeleted != len(hashes) {
		t.Errorf("expected %d chunks deleted, got %d", len(hashes), result.ChunksDeleted)
	}

	for _, h := range hashes {
		if ok, _ := svc.Store.Exists(h.Hex()); ok {
			t.Errorf("expected orphaned chunk %s removed from the store", h.Hex())
		}
	}
}
