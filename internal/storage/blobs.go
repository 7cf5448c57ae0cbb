package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/maneesh/commonfiles/internal/chunker"
	"github.com/maneesh/commonfiles/internal/common"
	"github.com/maneesh/commonfiles/internal/models"
)

// A blob is stored as numbered chunk objects plus a manifest. The manifest
// is written last and is the commit point: without it the blob does not exist.
func blobPrefix(id string) string  { return "blobs/" + id + "/" }
func manifestKey(id string) string { return blobPrefix(id) + "manifest" }
func chunkKey(id string, index int) string {
	return fmt.Sprintf("%schunks/%06d", blobPrefix(id), index)
}

type manifest struct {
	ID        string          `json:"id"`
	Size      int64           `json:"size"`
	ChunkSize int64           `json:"chunk_size"`
	Chunks    []manifestChunk `json:"chunks"`
	CreatedAt time.Time       `json:"created_at"`
}

type manifestChunk struct {
	Index       int                 `json:"index"`
	Hash        string              `json:"hash"`
	Size        int64               `json:"size"`
	StoredSize  int64               `json:"stored_size"`
	Compression chunker.Compression `json:"compression"`
}

// ChunkedBlobs implements BlobStore on top of an ObjectStore.
type ChunkedBlobs struct {
	objects     ObjectStore
	chunker     *chunker.Chunker
	compression chunker.Compression
	parallelism int
}

// NewChunkedBlobs creates a blob store. parallelism bounds how many chunks a
// reader fetches at once.
func NewChunkedBlobs(objects ObjectStore, c *chunker.Chunker, compression chunker.Compression, parallelism int) *ChunkedBlobs {
	if parallelism < 1 {
		parallelism = 1
	}
	return &ChunkedBlobs{
		objects:     objects,
		chunker:     c,
		compression: compression,
		parallelism: parallelism,
	}
}

// OpenWrite starts a new blob. Its id is assigned immediately.
func (b *ChunkedBlobs) OpenWrite(ctx context.Context) (BlobWriter, error) {
	id := uuid.New().String()
	w := &blobWriter{
		ctx:   ctx,
		store: b,
		man: manifest{
			ID:        id,
			ChunkSize: b.chunker.ChunkSize(),
			Chunks:    []manifestChunk{},
		},
	}
	w.chunks = b.chunker.NewWriter(w.putChunk)
	return w, nil
}

// OpenRead opens a committed blob.
func (b *ChunkedBlobs) OpenRead(ctx context.Context, id string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "blobs.open_read",
		trace.WithAttributes(attribute.String("blob_id", id)),
	)
	defer span.End()

	raw, err := b.objects.GetObject(ctx, manifestKey(id))
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			span.RecordError(err)
		}
		return nil, fmt.Errorf("blob %s: %w", id, err)
	}

	var man manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: blob %s has unreadable manifest: %v", common.ErrInternalInconsistency, id, err)
	}

	span.SetAttributes(
		attribute.Int64("blob_size", man.Size),
		attribute.Int("chunk_count", len(man.Chunks)),
	)
	return &blobReader{ctx: ctx, store: b, man: &man}, nil
}

// Delete removes the manifest first so the blob disappears for readers at
// once, then the chunks.
func (b *ChunkedBlobs) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "blobs.delete",
		trace.WithAttributes(attribute.String("blob_id", id)),
	)
	defer span.End()

	if err := b.objects.RemoveObject(ctx, manifestKey(id)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete blob manifest %s: %w", id, err)
	}
	if err := b.objects.RemovePrefix(ctx, blobPrefix(id)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete blob chunks %s: %w", id, err)
	}
	return nil
}

func (b *ChunkedBlobs) fetchChunk(ctx context.Context, id string, mc manifestChunk) ([]byte, error) {
	raw, err := b.objects.GetObject(ctx, chunkKey(id, mc.Index))
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: blob %s is missing chunk %d", common.ErrInternalInconsistency, id, mc.Index)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download chunk %d: %w", mc.Index, err)
	}

	data, err := chunker.Decompress(raw, mc.Compression, int(mc.Size))
	if err != nil {
		return nil, fmt.Errorf("%w: blob %s chunk %d: %v", common.ErrInternalInconsistency, id, mc.Index, err)
	}
	if !chunker.VerifyChunkHash(data, mc.Hash) {
		return nil, fmt.Errorf("%w: hash mismatch for blob %s chunk %d", common.ErrInternalInconsistency, id, mc.Index)
	}
	return data, nil
}

type blobWriter struct {
	ctx    context.Context
	store  *ChunkedBlobs
	man    manifest
	chunks *chunker.Writer
	done   bool
}

var errWriterDone = errors.New("blob writer already closed")

func (w *blobWriter) ID() string {
	return w.man.ID
}

func (w *blobWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errWriterDone
	}
	return w.chunks.Write(p)
}

func (w *blobWriter) putChunk(cd *models.ChunkData) error {
	data, used, err := chunker.Compress(cd.Data, w.store.compression)
	if err != nil {
		return fmt.Errorf("failed to compress chunk %d: %w", cd.OrderIndex, err)
	}
	if err := w.store.objects.PutObject(w.ctx, chunkKey(w.man.ID, cd.OrderIndex), data); err != nil {
		return fmt.Errorf("failed to upload chunk %d: %w", cd.OrderIndex, err)
	}
	w.man.Chunks = append(w.man.Chunks, manifestChunk{
		Index:       cd.OrderIndex,
		Hash:        cd.Hash,
		Size:        cd.Size,
		StoredSize:  int64(len(data)),
		Compression: used,
	})
	return nil
}

// Close flushes the last chunk and writes the manifest.
func (w *blobWriter) Close() error {
	if w.done {
		return errWriterDone
	}

	ctx, span := tracer.Start(w.ctx, "blobs.commit",
		trace.WithAttributes(attribute.String("blob_id", w.man.ID)),
	)
	defer span.End()

	if err := w.chunks.Flush(); err != nil {
		span.RecordError(err)
		return err
	}
	w.man.Size = w.chunks.Size()
	w.man.CreatedAt = time.Now().UTC()

	raw, err := json.Marshal(&w.man)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := w.store.objects.PutObject(ctx, manifestKey(w.man.ID), raw); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit blob %s: %w", w.man.ID, err)
	}

	w.done = true
	span.SetAttributes(
		attribute.Int64("blob_size", w.man.Size),
		attribute.Int("chunk_count", w.chunks.Chunks()),
	)
	return nil
}

// Abort removes uploaded chunks. It runs even when the write context was cancelled.
func (w *blobWriter) Abort() error {
	w.done = true
	ctx := context.WithoutCancel(w.ctx)
	if err := w.store.objects.RemovePrefix(ctx, blobPrefix(w.man.ID)); err != nil {
		return fmt.Errorf("failed to discard blob %s: %w", w.man.ID, err)
	}
	return nil
}

// blobReader streams a blob, fetching up to parallelism chunks at a time.
type blobReader struct {
	ctx   context.Context
	store *ChunkedBlobs
	man   *manifest
	next  int
	batch [][]byte
	cur   []byte
	err   error
}

var errReaderClosed = errors.New("blob reader closed")

func (r *blobReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if len(r.batch) > 0 {
			r.cur, r.batch = r.batch[0], r.batch[1:]
			continue
		}
		if r.err != nil {
			return 0, r.err
		}
		if r.next >= len(r.man.Chunks) {
			r.err = io.EOF
			continue
		}
		r.batch, r.err = r.fetchBatch()
		if r.err != nil {
			r.batch = nil
		}
	}

	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

func (r *blobReader) fetchBatch() ([][]byte, error) {
	end := min(r.next+r.store.parallelism, len(r.man.Chunks))
	ctx, span := tracer.Start(r.ctx, "blobs.fetch_chunks_parallel",
		trace.WithAttributes(
			attribute.String("blob_id", r.man.ID),
			attribute.Int("first_chunk", r.next),
			attribute.Int("chunk_count", end-r.next),
		),
	)
	defer span.End()

	results := make([][]byte, end-r.next)
	g, gctx := errgroup.WithContext(ctx)
	for i := r.next; i < end; i++ {
		slot := i - r.next
		mc := r.man.Chunks[i]
		g.Go(func() error {
			data, err := r.store.fetchChunk(gctx, r.man.ID, mc)
			if err != nil {
				return err
			}
			results[slot] = data
			return nil
		})
	}
	err := g.Wait()
	r.next = end
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return results, nil
}

func (r *blobReader) Close() error {
	r.batch, r.cur = nil, nil
	r.err = errReaderClosed
	return nil
}
