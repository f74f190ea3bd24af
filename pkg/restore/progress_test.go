package restore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProgressMissingFileIsEmpty(t *testing.T) {
	p, err := LoadProgress(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.False(t, p.IsDiskDone("s3_disk"))
	assert.False(t, p.IsPartDone("default", "events", "all_0_0_0"))
}

func TestMarkAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restore-state.json")

	p, err := LoadProgress(path)
	require.NoError(t, err)

	require.NoError(t, p.MarkDiskDone("s3_disk"))
	require.NoError(t, p.MarkPartDone("default", "events", "all_0_0_0"))

	assert.True(t, p.IsDiskDone("s3_disk"))
	assert.True(t, p.IsPartDone("default", "events", "all_0_0_0"))
	assert.False(t, p.IsPartDone("default", "events", "all_1_1_0"))

	reloaded, err := LoadProgress(path)
	require.NoError(t, err)
	assert.True(t, reloaded.IsDiskDone("s3_disk"))
	assert.True(t, reloaded.IsPartDone("default", "events", "all_0_0_0"))
}

func TestProgressKeyDistinguishesDiskAndPart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restore-state.json")
	p, err := LoadProgress(path)
	require.NoError(t, err)

	require.NoError(t, p.MarkDiskDone("default"))
	assert.True(t, p.IsDiskDone("default"))
	assert.False(t, p.IsPartDone("default", "events", "all_0_0_0"))
}
