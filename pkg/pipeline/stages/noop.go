package stages

import (
	"context"

	"github.com/chbackup/chbackup/pkg/pipeline"
)

// Empty is a generator that emits nothing and closes immediately, used to
// drive a single sink stage (e.g. DeleteMultipleStorage) through the
// pipeline runtime's build(stages...).run() contract without a real source.
type Empty struct{}

func (Empty) Generate(_ context.Context, _ chan<- pipeline.Chunk) error { return nil }
