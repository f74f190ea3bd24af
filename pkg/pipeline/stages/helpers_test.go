package stages

import (
	"context"

	"github.com/chbackup/chbackup/pkg/pipeline"
)

func contextBackground() context.Context { return context.Background() }

// byteSliceGenerator feeds one fixed byte slice through the pipeline as a
// single chunk, used by tests that need to replay previously-collected
// output (e.g. a tarball) back through a sink stage.
type byteSliceGenerator struct{ data []byte }

func (g byteSliceGenerator) Generate(ctx context.Context, out chan<- pipeline.Chunk) error {
	select {
	case out <- pipeline.Chunk{Data: g.data}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
