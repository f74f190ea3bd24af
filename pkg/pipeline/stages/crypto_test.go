package stages

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chbackup/chbackup/pkg/pipeline"
)

func randomKey(t *testing.T) [32]byte {
	t.Helper()
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := randomKey(t)
	plain := make([]byte, 50000)
	_, err := rand.Read(plain)
	require.NoError(t, err)

	var ciphertext []byte
	p, err := pipeline.Build(
		pipeline.Stage{Name: "feed", Generator: byteSliceGenerator{data: plain}},
		pipeline.Stage{Name: "encrypt", Transform: Encrypt{Key: key, ChunkSize: 4096}},
		pipeline.Stage{Name: "collect", Sink: CollectData{Result: &ciphertext}},
	)
	require.NoError(t, err)
	require.NoError(t, p.Run(contextBackground()))
	assert.NotEqual(t, plain, ciphertext)

	var recovered []byte
	p2, err := pipeline.Build(
		pipeline.Stage{Name: "feed", Generator: byteSliceGenerator{data: ciphertext}},
		pipeline.Stage{Name: "decrypt", Transform: Decrypt{Key: key}},
		pipeline.Stage{Name: "collect", Sink: CollectData{Result: &recovered}},
	)
	require.NoError(t, err)
	require.NoError(t, p2.Run(contextBackground()))
	assert.Equal(t, plain, recovered)
}

func TestDecryptRejectsTamperedFrame(t *testing.T) {
	key := randomKey(t)
	plain := []byte("sensitive part bytes")

	var ciphertext []byte
	p, err := pipeline.Build(
		pipeline.Stage{Name: "feed", Generator: byteSliceGenerator{data: plain}},
		pipeline.Stage{Name: "encrypt", Transform: Encrypt{Key: key, ChunkSize: 4096}},
		pipeline.Stage{Name: "collect", Sink: CollectData{Result: &ciphertext}},
	)
	require.NoError(t, err)
	require.NoError(t, p.Run(contextBackground()))

	// flip a byte inside the sealed payload, past the 4-byte length prefix
	// and 24-byte nonce.
	ciphertext[len(ciphertext)-1] ^= 0xFF

	var recovered []byte
	p2, err := pipeline.Build(
		pipeline.Stage{Name: "feed", Generator: byteSliceGenerator{data: ciphertext}},
		pipeline.Stage{Name: "decrypt", Transform: Decrypt{Key: key}},
		pipeline.Stage{Name: "collect", Sink: CollectData{Result: &recovered}},
	)
	require.NoError(t, err)
	err = p2.Run(contextBackground())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tag mismatch")
}

func TestEncryptedSizeFormula(t *testing.T) {
	assert.Equal(t, int64(0), EncryptedSize(0, 4096))
	assert.Equal(t, int64(4096+MetadataSize), EncryptedSize(1, 4096))
	assert.Equal(t, int64(4096+MetadataSize), EncryptedSize(4096, 4096))
	assert.Equal(t, int64(2*(4096+MetadataSize)), EncryptedSize(4097, 4096))
}
