package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/maneesh/commonfiles/internal/models"
)

// Chunker cuts byte streams into fixed-size chunks
type Chunker struct {
	chunkSize int64
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int64) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1024 * 1024
	}
	return &Chunker{
		chunkSize: chunkSize,
	}
}

// ChunkSize returns the configured chunk size in bytes
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// NewWriter returns a writer that hands every full chunk to emit, in order.
// Call Flush once the stream ends to emit the trailing partial chunk.
func (c *Chunker) NewWriter(emit func(*models.ChunkData) error) *Writer {
	return &Writer{
		buf:  make([]byte, 0, c.chunkSize),
		emit: emit,
	}
}

// Writer is a streaming chunker. Only one chunk is buffered at a time.
type Writer struct {
	buf   []byte
	next  int
	total int64
	emit  func(*models.ChunkData) error
	err   error
}

var errFlushed = errors.New("chunker: write after flush")

func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	written := 0
	for len(p) > 0 {
		n := copy(w.buf[len(w.buf):cap(w.buf)], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		written += n
		w.total += int64(n)

		if len(w.buf) == cap(w.buf) {
			if err := w.emitChunk(); err != nil {
				w.err = err
				return written, err
			}
		}
	}
	return written, nil
}

// Flush emits the buffered remainder. The writer rejects writes afterwards.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if len(w.buf) > 0 {
		if err := w.emitChunk(); err != nil {
			w.err = err
			return err
		}
	}
	w.err = errFlushed
	return nil
}

// Size is the number of bytes accepted so far
func (w *Writer) Size() int64 {
	return w.total
}

// Chunks is the number of chunks emitted so far
func (w *Writer) Chunks() int {
	return w.next
}

func (w *Writer) emitChunk() error {
	data := make([]byte, len(w.buf))
	copy(data, w.buf)
	w.buf = w.buf[:0]

	chunk := &models.ChunkData{
		Data:       data,
		OrderIndex: w.next,
		Hash:       ComputeHash(data),
		Size:       int64(len(data)),
	}
	w.next++
	return w.emit(chunk)
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChunkHash verifies that chunk data matches the expected hash
func VerifyChunkHash(data []byte, expectedHash string) bool {
	actualHash := ComputeHash(data)
	return actualHash == expectedHash
}
