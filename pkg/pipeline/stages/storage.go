package stages

import (
	"context"
	"io"

	"github.com/chbackup/chbackup/pkg/errs"
	"github.com/chbackup/chbackup/pkg/objstorage"
	"github.com/chbackup/chbackup/pkg/pipeline"
)

// chunkReader adapts an inbound pipeline channel to an io.Reader so it can
// feed the object-storage SDK's own multipart uploader, which owns its part
// sizing and worker pool internally.
type chunkReader struct {
	ctx     context.Context
	in      <-chan pipeline.Chunk
	pending []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		select {
		case chunk, ok := <-r.in:
			if !ok {
				return 0, io.EOF
			}
			r.pending = chunk.Data
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// UploadToStorage is a sink stage uploading the incoming byte stream to a
// remote key via multipart upload. EstimatedSize informs the caller's
// progress display; the SDK's own uploader chooses part size internally.
type UploadToStorage struct {
	Store         *objstorage.Store
	Key           string
	EstimatedSize int64
	Metadata      map[string]string
}

func (u UploadToStorage) Consume(ctx context.Context, in <-chan pipeline.Chunk) error {
	r := &chunkReader{ctx: ctx, in: in}
	return u.Store.Upload(ctx, u.Key, r, u.Metadata)
}

// DownloadFromStorage is a generator stage fetching a remote key, retrying
// transient failures internally via the store, and re-chunking to ChunkSize.
type DownloadFromStorage struct {
	Store     *objstorage.Store
	Key       string
	ChunkSize int
}

func (d DownloadFromStorage) Generate(ctx context.Context, out chan<- pipeline.Chunk) error {
	chunkSize := d.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	body, err := d.Store.Download(ctx, d.Key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	buf := make([]byte, chunkSize)
	var seq int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- pipeline.Chunk{Seq: seq, Data: data}:
				seq++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.Storage("read download stream", d.Key, err)
		}
	}
}

// DeleteMultipleStorage is a sink, generatorless of input meaning, that
// waits for a completion signal on in (if any) then issues a batched delete
// against remote storage.
type DeleteMultipleStorage struct {
	Store *objstorage.Store
	Keys  []string
}

func (d DeleteMultipleStorage) Consume(ctx context.Context, in <-chan pipeline.Chunk) error {
	for {
		select {
		case _, ok := <-in:
			if !ok {
				return d.Store.DeleteBatch(ctx, d.Keys)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
