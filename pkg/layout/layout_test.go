package layout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chbackup/chbackup/pkg/config"
)

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "backup1/backup_struct.json", metaKey("backup1"))
	assert.Equal(t, "backup1/metadata/default/events.sql", ddlKey("backup1", "default", "events"))
	assert.Equal(t, "backup1/data/default/events/all_0_0_0.tar", partTarKey("backup1", "default", "events", "all_0_0_0"))
	assert.Equal(t, "backup1/data/default/events/all_0_0_0/data.bin", partFileKey("backup1", "default", "events", "all_0_0_0", "data.bin"))
	assert.Equal(t, "backup1/cloud_storage/s3_disk/shadow.tar", cloudStorageKey("backup1", "s3_disk"))
}

func TestMaybeEncryptSmallNoOpWithoutEncryption(t *testing.T) {
	l := New(nil, config.EncryptionConfig{}, 10)
	out, err := l.maybeEncryptSmall([]byte("plain bytes"))
	require.NoError(t, err)
	assert.Equal(t, "plain bytes", string(out))
}

func TestMaybeEncryptDecryptSmallRoundTrip(t *testing.T) {
	l := New(nil, config.EncryptionConfig{Type: "nacl-secretbox", Key: "a test passphrase", ChunkSize: 4096}, 10)

	cipher, err := l.maybeEncryptSmall([]byte("a table's create statement"))
	require.NoError(t, err)
	assert.NotEqual(t, "a table's create statement", string(cipher))

	plain, err := l.maybeDecryptSmall(cipher, true)
	require.NoError(t, err)
	assert.Equal(t, "a table's create statement", string(plain))
}

func TestMaybeDecryptSmallNoOpWhenNotEncrypted(t *testing.T) {
	l := New(nil, config.EncryptionConfig{}, 10)
	plain, err := l.maybeDecryptSmall([]byte("raw bytes"), false)
	require.NoError(t, err)
	assert.Equal(t, "raw bytes", string(plain))
}

func TestWaitReturnsFirstErrorOnceAndResets(t *testing.T) {
	l := New(nil, config.EncryptionConfig{}, 10)
	boom := errors.New("upload failed")

	l.goUpload(func() error { return boom })
	l.goUpload(func() error { return nil })

	err := l.Wait()
	require.Error(t, err)
	assert.Equal(t, boom, err)

	// a second Wait with no new uploads queued must not resurface the error
	assert.NoError(t, l.Wait())
}

func TestPartChecksumMatchesUploadForPerFilePart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bin"), []byte("beta"), 0o644))

	l := New(nil, config.EncryptionConfig{}, 10)
	sum, err := l.PartChecksum(context.Background(), dir, []string{"b.bin", "a.bin"})
	require.NoError(t, err)

	h := sha256.New()
	h.Write([]byte("alpha"))
	h.Write([]byte("beta"))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), sum)
}

func TestPartChecksumCrossesTarballThresholdConsistently(t *testing.T) {
	dir := t.TempDir()
	files := []string{"a.bin", "b.bin", "c.bin"}
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("data-"+f), 0o644))
	}

	// tarballMin of 2 means these 3 files are hashed over the tar stream,
	// the same branch UploadDataPart takes for the same input.
	l := New(nil, config.EncryptionConfig{}, 2)
	sum1, err := l.PartChecksum(context.Background(), dir, []string{"a.bin", "b.bin", "c.bin"})
	require.NoError(t, err)
	sum2, err := l.PartChecksum(context.Background(), dir, []string{"c.bin", "a.bin", "b.bin"})
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2, "file order must not affect the tarball checksum")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("changed"), 0o644))
	sum3, err := l.PartChecksum(context.Background(), dir, []string{"a.bin", "b.bin", "c.bin"})
	require.NoError(t, err)
	assert.NotEqual(t, sum1, sum3)
}
