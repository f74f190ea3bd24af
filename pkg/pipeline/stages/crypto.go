package stages

import (
	"context"
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/chbackup/chbackup/pkg/errs"
	"github.com/chbackup/chbackup/pkg/pipeline"
)

// secretboxOverhead is nacl/secretbox's fixed per-message metadata size
// (24-byte nonce + 16-byte Poly1305 tag).
const secretboxOverhead = 24 + secretbox.Overhead

// MetadataSize is the per-chunk overhead of an Encrypt frame: the 4-byte
// length prefix plus secretboxOverhead, i.e. 44 bytes.
const MetadataSize = 4 + secretboxOverhead

// EncryptedSize returns ceil(plain/chunk) × (chunk + MetadataSize) for
// plainSize bytes encrypted in chunkSize plaintext chunks. This is the exact
// Encrypt output size when plainSize is a multiple of chunkSize; otherwise
// it is an upper bound, since Encrypt does not pad the final short chunk.
func EncryptedSize(plainSize int64, chunkSize int) int64 {
	if plainSize == 0 {
		return 0
	}
	chunks := (plainSize + int64(chunkSize) - 1) / int64(chunkSize)
	return chunks * int64(chunkSize+MetadataSize)
}

// Encrypt is a transform stage: consumes plaintext bytes regardless of
// upstream chunking, re-chunks to ChunkSize, and emits one self-delimiting
// ciphertext chunk (4-byte length prefix + nonce + sealed box) per plaintext
// chunk so Decrypt can process the stream without buffering it whole.
type Encrypt struct {
	Key       [32]byte
	ChunkSize int
}

func (e Encrypt) Run(ctx context.Context, in <-chan pipeline.Chunk, out chan<- pipeline.Chunk) error {
	chunkSize := e.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var pending []byte
	var seq int64

	flush := func(plain []byte) error {
		var nonce [24]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return errs.Validation("generate nonce: %v", err)
		}
		sealed := secretbox.Seal(nonce[:], plain, &nonce, &e.Key)
		frame := make([]byte, 4+len(sealed))
		binary.BigEndian.PutUint32(frame, uint32(len(sealed)))
		copy(frame[4:], sealed)
		select {
		case out <- pipeline.Chunk{Seq: seq, Data: frame}:
			seq++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				if len(pending) > 0 {
					return flush(pending)
				}
				return nil
			}
			pending = append(pending, chunk.Data...)
			for len(pending) >= chunkSize {
				if err := flush(pending[:chunkSize]); err != nil {
					return err
				}
				pending = pending[chunkSize:]
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Decrypt is the inverse transform: reassembles length-prefixed ciphertext
// frames and opens each, failing hard on a tag mismatch (spec §4.1).
type Decrypt struct {
	Key [32]byte
}

func (d Decrypt) Run(ctx context.Context, in <-chan pipeline.Chunk, out chan<- pipeline.Chunk) error {
	var buf []byte
	var seq int64

	emitReady := func() error {
		for {
			if len(buf) < 4 {
				return nil
			}
			frameLen := int(binary.BigEndian.Uint32(buf))
			if len(buf) < 4+frameLen {
				return nil
			}
			sealed := buf[4 : 4+frameLen]
			buf = buf[4+frameLen:]

			if len(sealed) < 24 {
				return errs.Validation("ciphertext frame shorter than nonce")
			}
			var nonce [24]byte
			copy(nonce[:], sealed[:24])
			plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &d.Key)
			if !ok {
				return errs.Validation("AEAD tag mismatch decrypting chunk %d", seq)
			}
			select {
			case out <- pipeline.Chunk{Seq: seq, Data: plain}:
				seq++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				if err := emitReady(); err != nil {
					return err
				}
				if len(buf) != 0 {
					return errs.Validation("trailing incomplete ciphertext frame")
				}
				return nil
			}
			buf = append(buf, chunk.Data...)
			if err := emitReady(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
