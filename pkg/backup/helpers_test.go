package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListShadowFilesMissingDirIsEmpty(t *testing.T) {
	files, err := listShadowFiles(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListShadowFilesWalksNested(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "disk1", "store"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "disk1", "store", "data.bin"), []byte("x"), 0o644))

	files, err := listShadowFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join("disk1", "store", "data.bin"), files[0])
}
