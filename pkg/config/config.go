// Package config defines the engine-wide configuration record, grounded on
// the teacher's content.Config/DefaultConfig() pattern.
package config

import (
	"runtime"
	"time"
)

// Config holds the tunables for a single engine instance: where the chunk
// store and catalog live on disk, pool sizing, and the resource limits from
// spec.md §4.1 and §5.
type Config struct {
	// RootDir is the engine root; chunks live under RootDir/chunks and the
	// catalog file is RootDir/metadata.db, per spec.md §6.1.
	RootDir string

	// MaxConnections bounds the catalog's connection pool (spec.md §5,
	// default 10).
	MaxConnections int

	// BusyTimeout holds the catalog's SQLite busy_timeout (spec.md §4.3.4,
	// minimum 5s). The catalog does not read it: its connection strings fix
	// busy_timeout at 5000 ms.
	BusyTimeout time.Duration

	// MaxStreamSize bounds hash_stream inputs (spec.md §4.1, default 10 GiB).
	MaxStreamSize int64

	// StreamHashTimeout holds a wall-clock budget for a single hash_stream
	// call (spec.md §5, default 30s). Nothing applies it: Hasher.HashStream
	// runs without a time limit.
	StreamHashTimeout time.Duration

	// IngestWorkers bounds the number of files ingested concurrently by the
	// Snapshot Service (spec.md §4.6).
	IngestWorkers int

	// FixedChunkSize is the chunk size used by the default FixedSizeChunker
	// (spec.md §1: chunking policy is an external collaborator; this is only
	// the fallback used when no Chunker is supplied).
	FixedChunkSize int

	// PathEncryptionKey, when non-nil, must be exactly 32 bytes and turns on
	// deterministic path encryption + blind index search (spec.md §4.7).
	PathEncryptionKey []byte
}

const (
	DefaultMaxConnections    = 10
	DefaultBusyTimeout       = 5 * time.Second
	DefaultMaxStreamSize     = 10 * 1024 * 1024 * 1024 // 10 GiB
	DefaultStreamHashTimeout = 30 * time.Second
	DefaultFixedChunkSize    = 1024 * 1024 // 1 MiB
)

// DefaultConfig returns a Config with the defaults named throughout spec.md.
func DefaultConfig(rootDir string) *Config {
	return &Config{
		RootDir:           rootDir,
		MaxConnections:    DefaultMaxConnections,
		BusyTimeout:       DefaultBusyTimeout,
		MaxStreamSize:     DefaultMaxStreamSize,
		StreamHashTimeout: DefaultStreamHashTimeout,
		IngestWorkers:     runtime.NumCPU(),
		FixedChunkSize:    DefaultFixedChunkSize,
	}
}
