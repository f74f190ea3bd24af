package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceGenerator struct{ chunks [][]byte }

func (g sliceGenerator) Generate(ctx context.Context, out chan<- Chunk) error {
	for i, c := range g.chunks {
		select {
		case out <- Chunk{Seq: int64(i), Data: c}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type upperTransform struct{}

func (upperTransform) Run(ctx context.Context, in <-chan Chunk, out chan<- Chunk) error {
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			data := make([]byte, len(chunk.Data))
			for i, b := range chunk.Data {
				if b >= 'a' && b <= 'z' {
					b -= 32
				}
				data[i] = b
			}
			select {
			case out <- Chunk{Seq: chunk.Seq, Data: data}:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type collectSink struct{ out *[]byte }

func (s collectSink) Consume(ctx context.Context, in <-chan Chunk) error {
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			*s.out = append(*s.out, chunk.Data...)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type failingGenerator struct{ err error }

func (g failingGenerator) Generate(ctx context.Context, out chan<- Chunk) error {
	return g.err
}

func TestBuildRejectsTooFewStages(t *testing.T) {
	_, err := Build(Stage{Name: "only-one", Generator: sliceGenerator{}})
	require.Error(t, err)
}

func TestBuildRequiresGeneratorFirst(t *testing.T) {
	var result []byte
	_, err := Build(
		Stage{Name: "not-a-generator"},
		Stage{Name: "sink", Sink: collectSink{out: &result}},
	)
	require.Error(t, err)
}

func TestBuildRequiresSinkLast(t *testing.T) {
	_, err := Build(
		Stage{Name: "gen", Generator: sliceGenerator{}},
		Stage{Name: "not-a-sink"},
	)
	require.Error(t, err)
}

func TestPipelineRunThreeStage(t *testing.T) {
	var result []byte
	p, err := Build(
		Stage{Name: "gen", Generator: sliceGenerator{chunks: [][]byte{[]byte("hello "), []byte("world")}}},
		Stage{Name: "upper", Transform: upperTransform{}},
		Stage{Name: "collect", Sink: collectSink{out: &result}},
	)
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, "HELLO WORLD", string(result))
}

func TestPipelinePropagatesGeneratorError(t *testing.T) {
	var result []byte
	boom := errors.New("boom")
	p, err := Build(
		Stage{Name: "gen", Generator: failingGenerator{err: boom}},
		Stage{Name: "collect", Sink: collectSink{out: &result}},
	)
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestPipelineMultiWorkerTransformClosesOutputOnce(t *testing.T) {
	var result []byte
	p, err := Build(
		Stage{Name: "gen", Generator: sliceGenerator{chunks: [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}}},
		Stage{Name: "upper", Transform: upperTransform{}, Workers: 3},
		Stage{Name: "collect", Sink: collectSink{out: &result}},
	)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	assert.Len(t, result, 4)
}
