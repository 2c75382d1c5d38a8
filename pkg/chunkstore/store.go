// Package chunkstore implements the durable, content-addressed blob store
// from spec.md §4.2: chunks are keyed by the lowercase hex of their 32-byte
// digest and laid out in two-level hex-prefix directories (spec.md §6.1),
// grounded on the teacher's content-addressed chunk model
// (pkg/content/types.go's ChunkStore interface and chunker.go's chunk CIDs),
// adapted from an in-memory network cache to a durable on-disk store.
package chunkstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coldtree/coldtree/pkg/coldtreeerr"
	"github.com/coldtree/coldtree/pkg/hashing"
)

// PutResult reports whether a Put inserted new bytes or found them already
// present (spec.md §4.2).
type PutResult int

const (
	Inserted PutResult = iota
	Existed
)

// Stats summarizes the store's contents (spec.md §4.2).
type Stats struct {
	Count     int64
	TotalSize int64
}

// Store is a durable, content-addressed blob store rooted at a directory.
type Store struct {
	root   string
	hasher *hashing.Hasher
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string, hasher *hashing.Hasher) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "create chunk store root", err)
	}
	return &Store{root: root, hasher: hasher}, nil
}

func (s *Store) pathFor(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:4], hash)
}

// Put idempotently stores bytes under hash. If a blob already exists at
// hash, its bytes are left unchanged (spec.md §4.2, §8 idempotence).
func (s *Store) Put(hash string, data []byte) (PutResult, error) {
	if _, err := hashing.ParseHex(hash); err != nil {
		return 0, err
	}

	dst := s.pathFor(hash)
	if _, err := os.Stat(dst); err == nil {
		return Existed, nil
	} else if !os.IsNotExist(err) {
		return 0, coldtreeerr.Wrap(coldtreeerr.CodeIo, "stat chunk", err)
	}

	digest := s.hasher.HashBytes(data)
	if digest.Hex() != hash {
		return 0, coldtreeerr.New(coldtreeerr.CodeIntegrityError,
			fmt.Sprintf("content hash mismatch: expected %s, computed %s", hash, digest.Hex()))
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, coldtreeerr.Wrap(coldtreeerr.CodeIo, "create chunk shard dir", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, coldtreeerr.Wrap(coldtreeerr.CodeIo, "create temp chunk file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, coldtreeerr.Wrap(coldtreeerr.CodeIo, "write chunk bytes", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, coldtreeerr.Wrap(coldtreeerr.CodeIo, "fsync chunk bytes", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, coldtreeerr.Wrap(coldtreeerr.CodeIo, "close temp chunk file", err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		// Another writer may have won the race for the same hash; since
		// writes are content-addressed and idempotent, that is success.
		if _, statErr := os.Stat(dst); statErr == nil {
			return Existed, nil
		}
		return 0, coldtreeerr.Wrap(coldtreeerr.CodeIo, "rename chunk into place", err)
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return Inserted, nil
}

// Get returns the bytes stored under hash, or NotFound.
func (s *Store) Get(hash string) ([]byte, error) {
	if _, err := hashing.ParseHex(hash); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coldtreeerr.New(coldtreeerr.CodeNotFound, "chunk not found: "+hash)
		}
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "read chunk", err)
	}
	return data, nil
}

// Exists reports whether a blob is present for hash.
func (s *Store) Exists(hash string) (bool, error) {
	if _, err := hashing.ParseHex(hash); err != nil {
		return false, err
	}
	_, err := os.Stat(s.pathFor(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, coldtreeerr.Wrap(coldtreeerr.CodeIo, "stat chunk", err)
}

// Delete removes the blob at hash. Callers must have already ensured the
// chunk's reference count is zero (spec.md §4.2); this store does not track
// reference counts itself, that is the catalog's responsibility.
func (s *Store) Delete(hash string) (bool, error) {
	if _, err := hashing.ParseHex(hash); err != nil {
		return false, err
	}
	err := os.Remove(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, coldtreeerr.Wrap(coldtreeerr.CodeIo, "delete chunk", err)
	}
	return true, nil
}

// Stats walks the store to compute aggregate counts and size. It is used by
// the offline GC sweep and consistency checks to reconcile the filesystem
// against the catalog's chunk table, not as a hot-path operation.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		st.Count++
		st.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return Stats{}, coldtreeerr.Wrap(coldtreeerr.CodeIo, "walk chunk store", err)
	}
	return st, nil
}

// Open opens hash for streaming reads without loading the whole blob into
// memory, used by restore to stream large chunks directly to the output.
func (s *Store) Open(hash string) (io.ReadCloser, error) {
	if _, err := hashing.ParseHex(hash); err != nil {
		return nil, err
	}
	f, err := os.Open(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coldtreeerr.New(coldtreeerr.CodeNotFound, "chunk not found: "+hash)
		}
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "open chunk", err)
	}
	return f, nil
}
