// Package snapshot implements the Snapshot Service (spec.md §4.6): the
// orchestrator that drives a file set through the Chunker, Hasher, Chunk
// Store, Metadata Catalog, and Merkle Engine to produce one committed
// snapshot, and that inverts the same path to restore one. The bounded
// worker pool is grounded on the teacher's pkg/content ContentFetcher
// (semaphore + sync.WaitGroup fan-out over a per-item channel, pkg/content/fetcher.go).
package snapshot

import (
	"io"
	"time"

	"github.com/coldtree/coldtree/internal/logging"
	"github.com/coldtree/coldtree/pkg/catalog"
	"github.com/coldtree/coldtree/pkg/chunking"
	"github.com/coldtree/coldtree/pkg/chunkstore"
	"github.com/coldtree/coldtree/pkg/coldtreeerr"
	"github.com/coldtree/coldtree/pkg/config"
	"github.com/coldtree/coldtree/pkg/hashing"
	"github.com/coldtree/coldtree/pkg/pathcrypto"
)

var log = logging.Component("snapshot")

// FileSource is one file a caller wants ingested: Open must return a fresh
// reader each call (the service may retry once on failure, spec.md §5).
type FileSource struct {
	Path         string
	Size         int64
	ModifiedTime time.Time
	Open         func() (io.ReadCloser, error)
}

// Service orchestrates snapshot creation and restore over the engine's
// storage layers.
type Service struct {
	Catalog *catalog.Catalog
	Store   *chunkstore.Store
	Hasher  *hashing.Hasher
	Chunker chunking.Chunker
	Cipher  *pathcrypto.Cipher // nil when path encryption is off
	Workers int
}

// New builds a Service. If chunker is nil, a FixedSizeChunker using
// cfg.FixedChunkSize is used (spec.md §1: chunking policy is an external
// collaborator; this is only the fallback).
func New(cat *catalog.Catalog, store *chunkstore.Store, hasher *hashing.Hasher, chunker chunking.Chunker, cfg *config.Config) (*Service, error) {
	if chunker == nil {
		fixed, err := chunking.NewFixedSizeChunker(cfg.FixedChunkSize)
		if err != nil {
			return nil, err
		}
		chunker = fixed
	}

	var cipher *pathcrypto.Cipher
	if len(cfg.PathEncryptionKey) > 0 {
		c, err := pathcrypto.New(cfg.PathEncryptionKey)
		if err != nil {
			return nil, err
		}
		cipher = c
	}

	workers := cfg.IngestWorkers
	if workers <= 0 {
		workers = 1
	}

	return &Service{
		Catalog: cat,
		Store:   store,
		Hasher:  hasher,
		Chunker: chunker,
		Cipher:  cipher,
		Workers: workers,
	}, nil
}

// pathForStorage returns the string to persist in files.path, encrypting it
// first when path encryption is enabled (spec.md §4.7).
func (s *Service) pathForStorage(plainPath string) (string, catalog.EncryptionMode, error) {
	if s.Cipher == nil {
		return plainPath, catalog.EncryptionNone, nil
	}
	enc, err := s.Cipher.EncryptPath(plainPath)
	if err != nil {
		return "", "", err
	}
	return enc, catalog.EncryptionAES, nil
}

// displayPath decrypts a stored path for the caller, surfacing the
// "(Decryption Failed)" marker rather than erroring (spec.md §4.7).
func (s *Service) displayPath(f *catalog.FileRecord) string {
	if f.EncryptionMode == catalog.EncryptionNone || s.Cipher == nil {
		return f.Path
	}
	plain, err := s.Cipher.DecryptPath(f.Path)
	if err != nil {
		log.Error().Err(err).Str("file_id", f.ID).Msg("path decryption failed")
		return plain
	}
	return plain
}

func wrapCancel(err error) error {
	if err == nil {
		return nil
	}
	return coldtreeerr.Wrap(coldtreeerr.CodeIo, "ingest canceled", err)
}
