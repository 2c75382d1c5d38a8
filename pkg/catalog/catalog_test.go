package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/coldtree/coldtree/pkg/hashing"
	"github.com/coldtree/coldtree/pkg/merkle"
	"github.com/coldtree/coldtree/pkg/pathcrypto"
)

func fixedTime() time.Time {
	return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()
	cat, err := OpenTestJournal(filepath.Join(dir, "metadata.db"), 1)
	if err != nil {
		t.Fatalf("OpenTestJournal failed: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	return cat
}

func digest(t *testing.T, s string) hashing.Digest {
	t.Helper()
	return hashing.New(0).HashBytes([]byte(s))
}

func TestCreateAndGetSnapshot(t *testing.T) {
	cat := newTestCatalog(t)

	snap, err := cat.CreateSnapshot(nil, "first", "desc", "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	if snap.ID == "" {
		t.Fatal("expected a generated snapshot ID")
	}

	got, err := cat.GetSnapshot(nil, snap.ID)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if got.Name != "first" || got.Description != "desc" {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}

func TestCreateSnapshotDuplicateNameConflict(t *testing.T) {
	cat := newTestCatalog(t)

	if _, err := cat.CreateSnapshot(nil, "dup", "", ""); err != nil {
		t.Fatalf("first CreateSnapshot failed: %v", err)
	}
	_, err := cat.CreateSnapshot(nil, "dup", "", "")
	if err == nil {
		t.Fatal("expected conflict error for duplicate snapshot name")
	}
}

func TestCreateSnapshotMissingParentFails(t *testing.T) {
	cat := newTestCatalog(t)
	_, err := cat.CreateSnapshot(nil, "child", "", "does-not-exist")
	if err == nil {
		t.Fatal("expected error for a nonexistent parent ID")
	}
}

func TestSetMerkleRootPersistsOnCorrectRow(t *testing.T) {
	cat := newTestCatalog(t)
	snap, err := cat.CreateSnapshot(nil, "rooted", "", "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	root := digest(t, "root contents")
	if err := cat.SetMerkleRoot(nil, snap.ID, root); err != nil {
		t.Fatalf("SetMerkleRoot failed: %v", err)
	}

	got, err := cat.GetSnapshot(nil, snap.ID)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if got.ID != snap.ID {
		t.Fatalf("SetMerkleRoot corrupted the row identity: got id %q, want %q", got.ID, snap.ID)
	}
	if got.MerkleRoot != root {
		t.Errorf("merkle root not persisted: got %s, want %s", got.MerkleRoot.Hex(), root.Hex())
	}
}

func TestListInvalidSnapshotsFindsNullRoot(t *testing.T) {
	cat := newTestCatalog(t)
	snap, err := cat.CreateSnapshot(nil, "pending", "", "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	invalid, err := cat.ListInvalidSnapshots(nil)
	if err != nil {
		t.Fatalf("ListInvalidSnapshots failed: %v", err)
	}
	found := false
	for _, s := range invalid {
		if s.ID == snap.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected snapshot without a merkle root to be listed as invalid")
	}

	if err := cat.SetMerkleRoot(nil, snap.ID, digest(t, "x")); err != nil {
		t.Fatalf("SetMerkleRoot failed: %v", err)
	}
	invalid, err = cat.ListInvalidSnapshots(nil)
	if err != nil {
		t.Fatalf("ListInvalidSnapshots failed: %v", err)
	}
	for _, s := range invalid {
		if s.ID == snap.ID {
			t.Fatal("snapshot with a committed root should no longer be invalid")
		}
	}
}

func TestValidateSnapshotChainDetectsDanglingParent(t *testing.T) {
	cat := newTestCatalog(t)
	snap, err := cat.CreateSnapshot(nil, "orphaned-chain", "", "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	tx, err := cat.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if _, err := tx.tx.Exec(`UPDATE snapshots SET parent_id = ? WHERE id = ?`, "missing-parent", snap.ID); err != nil {
		t.Fatalf("manual update failed: %v", err)
	}
	if err := cat.Commit(tx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := cat.ValidateSnapshotChain(nil, snap.ID); err == nil {
		t.Fatal("expected IntegrityError for a dangling parent reference")
	}
}

func TestDeleteSnapshotCascadesFiles(t *testing.T) {
	cat := newTestCatalog(t)
	snap, err := cat.CreateSnapshot(nil, "to-delete", "", "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	if _, err := cat.InsertFile(nil, snap.ID, "a.txt", 1, fixedTime(), digest(t, "a"), EncryptionNone); err != nil {
		t.Fatalf("InsertFile failed: %v", err)
	}

	if err := cat.DeleteSnapshot(nil, snap.ID); err != nil {
		t.Fatalf("DeleteSnapshot failed: %v", err)
	}

	files, err := cat.ListFilesInSnapshot(nil, snap.ID)
	if err != nil {
		t.Fatalf("ListFilesInSnapshot failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected cascading delete of files, got %d remaining", len(files))
	}

	if err := cat.DeleteSnapshot(nil, snap.ID); err == nil {
		t.Fatal("expected NotFound deleting an already-deleted snapshot")
	}
}

func TestInsertFileDuplicatePathConflict(t *testing.T) {
	cat := newTestCatalog(t)
	snap, err := cat.CreateSnapshot(nil, "dup-path", "", "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	if _, err := cat.InsertFile(nil, snap.ID, "a.txt", 1, fixedTime(), digest(t, "a"), EncryptionNone); err != nil {
		t.Fatalf("first InsertFile failed: %v", err)
	}
	_, err = cat.InsertFile(nil, snap.ID, "a.txt", 1, fixedTime(), digest(t, "a"), EncryptionNone)
	if err == nil {
		t.Fatal("expected conflict for duplicate (snapshot_id, path)")
	}
}

func TestFileChunksOrderedByChunkOrder(t *testing.T) {
	cat := newTestCatalog(t)
	snap, err := cat.CreateSnapshot(nil, "chunked", "", "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	f, err := cat.InsertFile(nil, snap.ID, "big.bin", 300, fixedTime(), digest(t, "big"), EncryptionNone)
	if err != nil {
		t.Fatalf("InsertFile failed: %v", err)
	}

	refs := []ChunkRef{
		{FileID: f.ID, ChunkHash: digest(t, "c2"), ChunkOrder: 2, ChunkSize: 100},
		{FileID: f.ID, ChunkHash: digest(t, "c0"), ChunkOrder: 0, ChunkSize: 100},
		{FileID: f.ID, ChunkHash: digest(t, "c1"), ChunkOrder: 1, ChunkSize: 100},
	}
	for _, r := range refs {
		if _, err := cat.UpsertChunk(nil, r.ChunkHash, r.ChunkSize); err != nil {
			t.Fatalf("UpsertChunk failed: %v", err)
		}
	}
	if err := cat.AddFileChunks(nil, refs); err != nil {
		t.Fatalf("AddFileChunks failed: %v", err)
	}

	got, err := cat.GetFileChunks(nil, f.ID)
	if err != nil {
		t.Fatalf("GetFileChunks failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunk refs, got %d", len(got))
	}
	for i, r := range got {
		if r.ChunkOrder != i {
			t.Errorf("expected chunk order %d at position %d, got %d", i, i, r.ChunkOrder)
		}
	}
}

func TestUpsertChunkIncrementsReferenceCount(t *testing.T) {
	cat := newTestCatalog(t)
	h := digest(t, "shared chunk")

	inserted, err := cat.UpsertChunk(nil, h, 42)
	if err != nil {
		t.Fatalf("first UpsertChunk failed: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true on first UpsertChunk")
	}

	inserted, err = cat.UpsertChunk(nil, h, 42)
	if err != nil {
		t.Fatalf("second UpsertChunk failed: %v", err)
	}
	if inserted {
		t.Error("expected inserted=false on repeat UpsertChunk")
	}

	rec, err := cat.GetChunk(nil, h)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if rec.ReferenceCount != 2 {
		t.Errorf("expected reference count 2, got %d", rec.ReferenceCount)
	}
}

func TestDecrementChunkRefsClampsAtZero(t *testing.T) {
	cat := newTestCatalog(t)
	h := digest(t, "solo chunk")
	if _, err := cat.UpsertChunk(nil, h, 10); err != nil {
		t.Fatalf("UpsertChunk failed: %v", err)
	}

	if err := cat.DecrementChunkRefs(nil, []hashing.Digest{h, h}); err != nil {
		t.Fatalf("DecrementChunkRefs failed: %v", err)
	}

	rec, err := cat.GetChunk(nil, h)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if rec.ReferenceCount != 0 {
		t.Errorf("expected reference count clamped to 0, got %d", rec.ReferenceCount)
	}

	orphans, err := cat.ListOrphanChunks(nil)
	if err != nil {
		t.Fatalf("ListOrphanChunks failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != h {
		t.Errorf("expected the zero-ref chunk to be listed as orphan, got %v", orphans)
	}
}

func TestCopyUnchangedFilesBumpsReferenceCounts(t *testing.T) {
	cat := newTestCatalog(t)
	parent, err := cat.CreateSnapshot(nil, "parent", "", "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	unchanged, err := cat.InsertFile(nil, parent.ID, "stable.txt", 10, fixedTime(), digest(t, "stable"), EncryptionNone)
	if err != nil {
		t.Fatalf("InsertFile failed: %v", err)
	}
	changed, err := cat.InsertFile(nil, parent.ID, "volatile.txt", 10, fixedTime(), digest(t, "volatile-old"), EncryptionNone)
	if err != nil {
		t.Fatalf("InsertFile failed: %v", err)
	}

	ch := digest(t, "stable-chunk")
	if _, err := cat.UpsertChunk(nil, ch, 10); err != nil {
		t.Fatalf("UpsertChunk failed: %v", err)
	}
	if err := cat.AddFileChunks(nil, []ChunkRef{{FileID: unchanged.ID, ChunkHash: ch, ChunkOrder: 0, ChunkSize: 10}}); err != nil {
		t.Fatalf("AddFileChunks failed: %v", err)
	}
	_ = changed

	child, err := cat.CreateSnapshot(nil, "child", "", parent.ID)
	if err != nil {
		t.Fatalf("CreateSnapshot (child) failed: %v", err)
	}

	copied, err := cat.CopyUnchangedFiles(nil, parent.ID, child.ID, map[string]bool{"volatile.txt": true})
	if err != nil {
		t.Fatalf("CopyUnchangedFiles failed: %v", err)
	}
	if copied != 1 {
		t.Fatalf("expected exactly 1 unchanged file copied, got %d", copied)
	}

	files, err := cat.ListFilesInSnapshot(nil, child.ID)
	if err != nil {
		t.Fatalf("ListFilesInSnapshot failed: %v", err)
	}
	if len(files) != 1 || files[0].Path != "stable.txt" {
		t.Fatalf("expected only stable.txt copied into child, got %v", files)
	}
	if files[0].ID == unchanged.ID {
		t.Error("copied file should receive a fresh ID, not reuse the parent's")
	}

	rec, err := cat.GetChunk(nil, ch)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if rec.ReferenceCount != 2 {
		t.Errorf("expected chunk reference count 2 after copy, got %d", rec.ReferenceCount)
	}
}

func TestMerkleNodeRoundTrip(t *testing.T) {
	cat := newTestCatalog(t)
	nodes := cat.Nodes(nil)

	leaf := &merkle.Node{Hash: digest(t, "leaf"), Type: merkle.TypeFile, Name: "leaf.txt", Size: 5, FileID: "file-1"}
	if err := nodes.UpsertNode(leaf); err != nil {
		t.Fatalf("UpsertNode (leaf) failed: %v", err)
	}

	dir := &merkle.Node{
		Hash: digest(t, "dir"),
		Type: merkle.TypeDirectory,
		Name: "dir",
		Size: 5,
		Children: []merkle.ChildSummary{
			{Hash: leaf.Hash, Type: merkle.TypeFile, Name: "leaf.txt", Size: 5, FileID: "file-1"},
		},
	}
	if err := nodes.UpsertNode(dir); err != nil {
		t.Fatalf("UpsertNode (dir) failed: %v", err)
	}

	got, ok, err := nodes.GetNode(dir.Hash)
	if err != nil || !ok {
		t.Fatalf("GetNode failed: ok=%v err=%v", ok, err)
	}
	if len(got.Children) != 1 || got.Children[0].Name != "leaf.txt" {
		t.Fatalf("unexpected children: %+v", got.Children)
	}

	gotLeaf, ok, err := nodes.GetNode(leaf.Hash)
	if err != nil || !ok {
		t.Fatalf("GetNode (leaf) failed: ok=%v err=%v", ok, err)
	}
	if gotLeaf.FileID != "file-1" {
		t.Errorf("expected file_id to round trip, got %q", gotLeaf.FileID)
	}
}

func TestMerkleNodeRoundTripAboveCompressionThreshold(t *testing.T) {
	cat := newTestCatalog(t)
	nodes := cat.Nodes(nil)

	children := make([]merkle.ChildSummary, 20)
	for i := range children {
		name := "child-" + digest(t, "name").Hex()[:8] + string(rune('a'+i))
		children[i] = merkle.ChildSummary{
			Hash: digest(t, name),
			Type: merkle.TypeFile,
			Name: name,
			Size: int64(i),
		}
	}

	dir := &merkle.Node{
		Hash:     digest(t, "big-dir"),
		Type:     merkle.TypeDirectory,
		Name:     "big-dir",
		Children: children,
	}
	if err := nodes.UpsertNode(dir); err != nil {
		t.Fatalf("UpsertNode failed: %v", err)
	}

	var storedCompression string
	row := cat.db.QueryRow(`SELECT COALESCE(compression, '') FROM merkle_nodes WHERE hash = ?`, dir.Hash.Hex())
	if err := row.Scan(&storedCompression); err != nil {
		t.Fatalf("scan compression column failed: %v", err)
	}
	if storedCompression != "GZIP" {
		t.Errorf("expected compression=GZIP for a large children blob, got %q", storedCompression)
	}

	got, ok, err := nodes.GetNode(dir.Hash)
	if err != nil || !ok {
		t.Fatalf("GetNode failed: ok=%v err=%v", ok, err)
	}
	if len(got.Children) != len(children) {
		t.Fatalf("expected %d children after gzip round trip, got %d", len(children), len(got.Children))
	}
	for i, c := range got.Children {
		if c.Name != children[i].Name || c.Hash != children[i].Hash {
			t.Errorf("child %d mismatch: got %+v, want %+v", i, c, children[i])
		}
	}
}

func TestSearchFilesPlainMatchesIndexedPath(t *testing.T) {
	cat := newTestCatalog(t)
	snap, err := cat.CreateSnapshot(nil, "searchable", "", "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	if _, err := cat.InsertFile(nil, snap.ID, "reports/quarterly.pdf", 1, fixedTime(), digest(t, "q"), EncryptionNone); err != nil {
		t.Fatalf("InsertFile failed: %v", err)
	}

	results, err := cat.SearchFilesPlain(nil, snap.ID, "quarterly")
	if err != nil {
		t.Fatalf("SearchFilesPlain failed: %v", err)
	}
	if len(results) != 1 || results[0].Path != "reports/quarterly.pdf" {
		t.Fatalf("expected to find reports/quarterly.pdf, got %v", results)
	}
}

func TestSearchFilesEncryptedUsesBlindIndex(t *testing.T) {
	cat := newTestCatalog(t)
	key := make([]byte, pathcrypto.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	cipher, err := pathcrypto.New(key)
	if err != nil {
		t.Fatalf("pathcrypto.New failed: %v", err)
	}

	snap, err := cat.CreateSnapshot(nil, "encrypted-search", "", "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	plain := "invoices/march.pdf"
	enc, err := cipher.EncryptPath(plain)
	if err != nil {
		t.Fatalf("EncryptPath failed: %v", err)
	}
	f, err := cat.InsertFile(nil, snap.ID, enc, 1, fixedTime(), digest(t, "inv"), EncryptionAES)
	if err != nil {
		t.Fatalf("InsertFile failed: %v", err)
	}
	if err := cat.IndexFileKeywords(nil, f.ID, plain, cipher); err != nil {
		t.Fatalf("IndexFileKeywords failed: %v", err)
	}

	results, err := cat.SearchFilesEncrypted(nil, snap.ID, "march", cipher)
	if err != nil {
		t.Fatalf("SearchFilesEncrypted failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != f.ID {
		t.Fatalf("expected to find the indexed file via blind index, got %v", results)
	}
}
