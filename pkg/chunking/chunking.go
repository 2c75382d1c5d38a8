// Package chunking provides the default chunking policy used when a
// snapshot's caller supplies none: fixed-size splitting of a file's byte
// stream. spec.md §1 treats the chunking policy as an external collaborator
// the Snapshot Service depends on through this interface; FixedSizeChunker is
// only the fallback. Grounded on the teacher's pkg/content chunker
// (ChunkReader/ChunkData offset bookkeeping), adapted to stream one piece at
// a time instead of buffering the whole chunk set in memory.
package chunking

import (
	"io"

	"github.com/coldtree/coldtree/pkg/coldtreeerr"
)

// Piece is one chunk boundary's worth of data, in order, from a single file.
type Piece struct {
	Data   []byte
	Offset int64
}

// Chunker splits a file's byte stream into ordered pieces. Implementations
// decide the splitting policy (fixed-size, content-defined, etc); the
// Snapshot Service only depends on this interface.
type Chunker interface {
	// Split reads r fully and invokes emit once per piece, in offset order.
	// emit returning an error aborts the split and propagates that error.
	Split(r io.Reader, emit func(Piece) error) error
}

// FixedSizeChunker splits a stream into chunkSize-byte pieces, the last of
// which may be shorter (spec.md §1 fallback policy).
type FixedSizeChunker struct {
	ChunkSize int
}

// NewFixedSizeChunker validates chunkSize and returns a FixedSizeChunker.
func NewFixedSizeChunker(chunkSize int) (*FixedSizeChunker, error) {
	if chunkSize <= 0 {
		return nil, coldtreeerr.New(coldtreeerr.CodeInvalid, "chunk size must be positive")
	}
	return &FixedSizeChunker{ChunkSize: chunkSize}, nil
}

// Split reads r in ChunkSize-byte windows and emits each as a Piece, in
// order, until EOF.
func (f *FixedSizeChunker) Split(r io.Reader, emit func(Piece) error) error {
	buf := make([]byte, f.ChunkSize)
	var offset int64

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			piece := Piece{Data: append([]byte(nil), buf[:n]...), Offset: offset}
			if emitErr := emit(piece); emitErr != nil {
				return emitErr
			}
			offset += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return coldtreeerr.Wrap(coldtreeerr.CodeIo, "read during chunking", err)
		}
	}
}
