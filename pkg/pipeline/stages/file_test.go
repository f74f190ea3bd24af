package stages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chbackup/chbackup/pkg/pipeline"
)

func TestTarSizeSingleSmallFile(t *testing.T) {
	// one 100-byte file: one 512-byte header block + one rounded-up 512-byte
	// data block, plus the two trailing zero blocks.
	assert.Equal(t, int64(512+512+1024), TarSize([]int64{100}))
}

func TestTarSizeExactBlockMultiple(t *testing.T) {
	assert.Equal(t, int64(512+512+1024), TarSize([]int64{512}))
}

func TestTarSizeMultipleFiles(t *testing.T) {
	got := TarSize([]int64{100, 600})
	want := int64(512+512) + int64(512+1024) + 1024
	assert.Equal(t, want, got)
}

func TestReadWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "nested", "dst.bin")
	content := []byte("some part data, repeated to cross one chunk boundary maybe")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	p, err := pipeline.Build(
		pipeline.Stage{Name: "read", Generator: ReadFile{Path: src, ChunkSize: 8}},
		pipeline.Stage{Name: "write", Sink: WriteFile{Path: dst}},
	)
	require.NoError(t, err)
	require.NoError(t, p.Run(contextBackground()))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestTarballRoundTrip(t *testing.T) {
	dir := t.TempDir()
	partDir := filepath.Join(dir, "part")
	require.NoError(t, os.MkdirAll(partDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(partDir, "data.bin"), []byte("columnar-bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(partDir, "count.txt"), []byte("42"), 0o644))

	var tarball []byte
	p, err := pipeline.Build(
		pipeline.Stage{Name: "tar", Generator: ReadFilesTarball{BaseDir: partDir, RelPaths: []string{"data.bin", "count.txt"}}},
		pipeline.Stage{Name: "collect", Sink: CollectData{Result: &tarball}},
	)
	require.NoError(t, err)
	require.NoError(t, p.Run(contextBackground()))
	require.NotEmpty(t, tarball)

	outDir := filepath.Join(dir, "out")
	p2, err := pipeline.Build(
		pipeline.Stage{Name: "feed", Generator: byteSliceGenerator{data: tarball}},
		pipeline.Stage{Name: "extract", Sink: WriteFiles{Dir: outDir}},
	)
	require.NoError(t, err)
	require.NoError(t, p2.Run(contextBackground()))

	got, err := os.ReadFile(filepath.Join(outDir, "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, "columnar-bytes", string(got))

	got2, err := os.ReadFile(filepath.Join(outDir, "count.txt"))
	require.NoError(t, err)
	assert.Equal(t, "42", string(got2))
}
