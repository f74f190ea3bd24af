package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsInvalidWithoutBucket(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.bucket")
}

func TestValidateRequiresEncryptionKey(t *testing.T) {
	cfg := Default()
	cfg.Storage.Bucket = "chbackups"
	cfg.Encryption.Type = "nacl-secretbox"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryption.key")
}

func TestValidateRejectsZeroChunkSize(t *testing.T) {
	cfg := Default()
	cfg.Storage.Bucket = "chbackups"
	cfg.Encryption.ChunkSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
storage:
  bucket: chbackups
  endpoint: https://s3.example.com
clickhouse:
  host: ch1.internal
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "chbackups", cfg.Storage.Bucket)
	assert.Equal(t, "ch1.internal", cfg.ClickHouse.Host)
	// untouched defaults survive the merge
	assert.Equal(t, 8123, cfg.ClickHouse.Port)
	assert.Equal(t, 10, cfg.Backup.TarballThresholdFiles)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.ClickHouse.Host)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yml")
	require.Error(t, err)
}
