// Package pipeline implements the chunked streaming runtime (spec §4.1):
// a linear chain of generator/transform/sink stages connected by bounded
// channels, with cancellation cascading through channel closure. Grounded
// on the teacher's worker/errgroup-less goroutine-and-channel style
// (pkg/worker, pkg/reconciler) and generalized using golang.org/x/sync/errgroup,
// which other pack members use for the same fan-out/fan-in shape
// (kelindar/s3 uploader.go).
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Chunk is one unit flowing between stages: a byte payload plus its
// sequence number within the stream, preserved across ordered stages so a
// multi-worker stage can still reassemble output in order when required.
type Chunk struct {
	Seq  int64
	Data []byte
}

// Generator produces a stream with no upstream input.
type Generator interface {
	Generate(ctx context.Context, out chan<- Chunk) error
}

// Transform consumes the upstream channel and emits zero or more chunks
// per input to the downstream channel.
type Transform interface {
	Run(ctx context.Context, in <-chan Chunk, out chan<- Chunk) error
}

// Sink consumes the upstream channel to completion and emits nothing.
type Sink interface {
	Consume(ctx context.Context, in <-chan Chunk) error
}

// Stage is one position in the pipeline. Exactly one of Generator, Transform
// or Sink must be set. Workers applies to transform stages only; with
// Workers > 1 the output order is not preserved unless the stage
// implementation itself restores it.
type Stage struct {
	Name      string
	Generator Generator
	Transform Transform
	Sink      Sink
	Workers   int
	QueueSize int
}

// Pipeline is a built, runnable chain of stages.
type Pipeline struct {
	stages []Stage
}

// Build validates a stage chain: a generator first, a sink last, transforms
// in between. A non-positive worker count or queue size is set to 1.
func Build(stages ...Stage) (*Pipeline, error) {
	if len(stages) < 2 {
		return nil, errInvalid("pipeline requires at least a generator and a sink")
	}
	if stages[0].Generator == nil {
		return nil, errInvalid("first stage must be a generator")
	}
	if stages[len(stages)-1].Sink == nil {
		return nil, errInvalid("last stage must be a sink")
	}
	for i, s := range stages {
		if i > 0 && i < len(stages)-1 && s.Transform == nil {
			return nil, errInvalid("middle stage %q must be a transform", s.Name)
		}
		if s.Workers <= 0 {
			stages[i].Workers = 1
		}
		if s.QueueSize <= 0 {
			stages[i].QueueSize = 1
		}
	}
	return &Pipeline{stages: stages}, nil
}

type invalidError string

func (e invalidError) Error() string { return string(e) }
func errInvalid(format string, args ...interface{}) error {
	return invalidError(fmt.Sprintf(format, args...))
}

// Run executes the pipeline: it blocks until the terminal sink drains or any
// stage returns an error, in which case ctx is canceled and the first error
// is returned (spec §4.1 contract).
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	channels := make([]chan Chunk, len(p.stages)-1)
	for i := range channels {
		channels[i] = make(chan Chunk, p.stages[i].QueueSize)
	}

	for i, stage := range p.stages {
		i, stage := i, stage
		var in <-chan Chunk
		var out chan<- Chunk
		if i > 0 {
			in = channels[i-1]
		}
		if i < len(channels) {
			out = channels[i]
		}

		switch {
		case stage.Generator != nil:
			g.Go(func() error {
				defer close(channels[i])
				return stage.Generator.Generate(gctx, out)
			})
		case stage.Sink != nil:
			g.Go(func() error {
				return stage.Sink.Consume(gctx, in)
			})
		default:
			runTransformStage(g, gctx, stage, i, channels, in, out)
		}
	}

	return g.Wait()
}

// runTransformStage fans a transform stage out across Workers goroutines,
// closing its output channel only once every worker has finished so the
// downstream stage observes a clean EOF.
func runTransformStage(g *errgroup.Group, ctx context.Context, stage Stage, idx int, channels []chan Chunk, in <-chan Chunk, out chan<- Chunk) {
	workers := stage.Workers
	done := make(chan struct{}, workers)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			defer func() { done <- struct{}{} }()
			return stage.Transform.Run(ctx, in, out)
		})
	}
	g.Go(func() error {
		for w := 0; w < workers; w++ {
			<-done
		}
		close(channels[idx])
		return nil
	})
}
