// Package layout maps logical backup artifacts to remote object-storage keys
// (spec §4.2) and mediates every upload/download through the pipeline
// runtime. Grounded on the teacher's storage wrapper shape (pkg/storage) and
// generalized from local bbolt persistence to object-storage keys.
package layout

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/chbackup/chbackup/pkg/config"
	"github.com/chbackup/chbackup/pkg/errs"
	"github.com/chbackup/chbackup/pkg/log"
	"github.com/chbackup/chbackup/pkg/metadata"
	"github.com/chbackup/chbackup/pkg/objstorage"
	"github.com/chbackup/chbackup/pkg/pipeline"
	"github.com/chbackup/chbackup/pkg/pipeline/stages"
)

// Layout is the storage-key scheme plus the fire-and-forget upload tracker
// required by Wait().
type Layout struct {
	store      *objstorage.Store
	enc        config.EncryptionConfig
	key        [32]byte
	tarballMin int

	wg       sync.WaitGroup
	mu       sync.Mutex
	firstErr error
}

// New builds a Layout over an object store, using enc's key for any
// encrypted uploads (the key material is derived once via SHA-256 of the
// configured passphrase so the AEAD key is always exactly 32 bytes).
func New(store *objstorage.Store, enc config.EncryptionConfig, tarballThresholdFiles int) *Layout {
	var key [32]byte
	if enc.Key != "" {
		key = sha256.Sum256([]byte(enc.Key))
	}
	return &Layout{
		store:      store,
		enc:        enc,
		key:        key,
		tarballMin: tarballThresholdFiles,
	}
}

// goUpload submits an upload to run in the background, tracked by Wait().
func (l *Layout) goUpload(fn func() error) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := fn(); err != nil {
			l.mu.Lock()
			if l.firstErr == nil {
				l.firstErr = err
			}
			l.mu.Unlock()
		}
	}()
}

func metaKey(backupName string) string {
	return fmt.Sprintf("%s/backup_struct.json", backupName)
}

func ddlKey(backupName, database, table string) string {
	return fmt.Sprintf("%s/metadata/%s/%s.sql", backupName, database, table)
}

func partTarKey(backupName, database, table, part string) string {
	return fmt.Sprintf("%s/data/%s/%s/%s.tar", backupName, database, table, part)
}

func partFileKey(backupName, database, table, part, file string) string {
	return fmt.Sprintf("%s/data/%s/%s/%s/%s", backupName, database, table, part, file)
}

func cloudStorageKey(backupName, disk string) string {
	return fmt.Sprintf("%s/cloud_storage/%s/shadow.tar", backupName, disk)
}

// UploadBackupMetadata serializes and atomically PUTs the backup document.
func (l *Layout) UploadBackupMetadata(ctx context.Context, b *metadata.Backup) error {
	data, err := b.Encode()
	if err != nil {
		return errs.Validation("encode backup metadata: %v", err)
	}
	if err := l.store.Upload(ctx, metaKey(b.Name), bytes.NewReader(data), nil); err != nil {
		return err
	}
	return nil
}

// GetBackupMetadata loads one backup's document by name.
func (l *Layout) GetBackupMetadata(ctx context.Context, name string) (*metadata.Backup, error) {
	r, err := l.store.Download(ctx, metaKey(name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, errs.Storage("read backup metadata", metaKey(name), err)
	}
	b, err := metadata.Decode(buf.Bytes())
	if err != nil {
		return nil, errs.Validation("decode backup metadata %s: %v", name, err)
	}
	return b, nil
}

// GetBackupNames lists every backup_struct.json's parent directory name.
func (l *Layout) GetBackupNames(ctx context.Context) ([]string, error) {
	keys, err := l.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{})
	for _, k := range keys {
		const suffix = "/backup_struct.json"
		if len(k) > len(suffix) && k[len(k)-len(suffix):] == suffix {
			names[k[:len(k)-len(suffix)]] = struct{}{}
		}
	}
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// GetBackups loads every backup matching stateFilter (nil means all).
func (l *Layout) GetBackups(ctx context.Context, stateFilter func(metadata.State) bool) ([]*metadata.Backup, error) {
	names, err := l.GetBackupNames(ctx)
	if err != nil {
		return nil, err
	}
	var out []*metadata.Backup
	for _, name := range names {
		b, err := l.GetBackupMetadata(ctx, name)
		if err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if stateFilter == nil || stateFilter(b.State) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// UploadTableCreateStatement uploads a table's DDL, encrypted when configured.
func (l *Layout) UploadTableCreateStatement(ctx context.Context, backupName, database, table string, ddl []byte) error {
	body, err := l.maybeEncryptSmall(ddl)
	if err != nil {
		return err
	}
	return l.store.Upload(ctx, ddlKey(backupName, database, table), bytes.NewReader(body), nil)
}

// GetTableCreateStatement downloads and decrypts (when needed) a table's
// stored DDL, used by restore to rebuild its CREATE statement.
func (l *Layout) GetTableCreateStatement(ctx context.Context, backupName, database, table string, encrypted bool) ([]byte, error) {
	r, err := l.store.Download(ctx, ddlKey(backupName, database, table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, errs.Storage("read table ddl", ddlKey(backupName, database, table), err)
	}
	return l.maybeDecryptSmall(buf.Bytes(), encrypted)
}

// maybeEncryptSmall wraps a small in-memory payload through a one-shot
// Encrypt stage when encryption is configured.
func (l *Layout) maybeEncryptSmall(plain []byte) ([]byte, error) {
	if l.enc.Type == "" {
		return plain, nil
	}
	out := make(chan pipeline.Chunk, 1)
	in := make(chan pipeline.Chunk, 1)
	in <- pipeline.Chunk{Data: plain}
	close(in)
	var result []byte
	done := make(chan error, 1)
	go func() {
		enc := stages.Encrypt{Key: l.key, ChunkSize: l.enc.ChunkSize}
		done <- enc.Run(context.Background(), in, out)
		close(out)
	}()
	for chunk := range out {
		result = append(result, chunk.Data...)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return result, nil
}

// UploadDataPart uploads a frozen part's bytes as tarball or per-file,
// encrypting when configured, and returns its PartMetadata with checksum.
func (l *Layout) UploadDataPart(ctx context.Context, backupName, database, table, part, diskPath string, files []string) (metadata.PartMetadata, error) {
	tarball := len(files) >= l.tarballMin
	sort.Strings(files)

	checksum := sha256.New()
	var size int64

	if tarball {
		key := partTarKey(backupName, database, table, part)
		var sizes []int64
		for _, f := range files {
			info, err := statSize(diskPath, f)
			if err != nil {
				return metadata.PartMetadata{}, err
			}
			sizes = append(sizes, info)
		}

		var result []byte
		p, err := pipeline.Build(
			pipeline.Stage{Name: "tar", Generator: stages.ReadFilesTarball{BaseDir: diskPath, RelPaths: files}},
			pipeline.Stage{Name: "checksum", Transform: &teeChecksum{hasher: checksum, size: &size}},
			pipeline.Stage{Name: "collect", Sink: stages.CollectData{Result: &result}},
		)
		if err != nil {
			return metadata.PartMetadata{}, errs.Validation("build tar upload pipeline: %v", err)
		}
		if err := p.Run(ctx); err != nil {
			return metadata.PartMetadata{}, err
		}
		body, err := l.maybeEncryptSmall(result)
		if err != nil {
			return metadata.PartMetadata{}, err
		}
		l.goUpload(func() error {
			return l.store.Upload(context.Background(), key, bytes.NewReader(body), nil)
		})
	} else {
		for _, f := range files {
			full := filepath.Join(diskPath, f)
			data, err := readAndHash(full, checksum)
			if err != nil {
				return metadata.PartMetadata{}, err
			}
			size += int64(len(data))
			body, err := l.maybeEncryptSmall(data)
			if err != nil {
				return metadata.PartMetadata{}, err
			}
			key := partFileKey(backupName, database, table, part, f)
			l.goUpload(func() error {
				return l.store.Upload(context.Background(), key, bytes.NewReader(body), nil)
			})
		}
	}

	return metadata.PartMetadata{
		Database:  database,
		Table:     table,
		Name:      part,
		Checksum:  hex.EncodeToString(checksum.Sum(nil)),
		Size:      size,
		Files:     files,
		Tarball:   tarball,
		Encrypted: l.enc.Type != "",
	}, nil
}

// PartChecksum computes the checksum UploadDataPart would produce for these
// files without uploading anything, using the same tarball-threshold rule,
// so a dedup lookup can tell whether a part is already stored before paying
// to upload it again.
func (l *Layout) PartChecksum(ctx context.Context, diskPath string, files []string) (string, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	checksum := sha256.New()

	if len(sorted) >= l.tarballMin {
		var size int64
		var discard []byte
		p, err := pipeline.Build(
			pipeline.Stage{Name: "tar", Generator: stages.ReadFilesTarball{BaseDir: diskPath, RelPaths: sorted}},
			pipeline.Stage{Name: "checksum", Transform: &teeChecksum{hasher: checksum, size: &size}},
			pipeline.Stage{Name: "collect", Sink: stages.CollectData{Result: &discard}},
		)
		if err != nil {
			return "", errs.Validation("build tar checksum pipeline: %v", err)
		}
		if err := p.Run(ctx); err != nil {
			return "", err
		}
		return hex.EncodeToString(checksum.Sum(nil)), nil
	}

	for _, f := range sorted {
		full := filepath.Join(diskPath, f)
		if _, err := readAndHash(full, checksum); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(checksum.Sum(nil)), nil
}

// DownloadDataPart fetches a part's bytes and writes them under localDest.
// A deduplicated part's bytes live under its Link backup, not backupName.
func (l *Layout) DownloadDataPart(ctx context.Context, backupName string, part metadata.PartMetadata, localDest string) error {
	if part.IsLink() {
		backupName = part.Link
	}
	if part.Tarball {
		key := partTarKey(backupName, part.Database, part.Table, part.Name)
		r, err := l.store.Download(ctx, key)
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return errs.Storage("read part tar", key, err)
		}
		plain, err := l.maybeDecryptSmall(buf.Bytes(), part.Encrypted)
		if err != nil {
			return err
		}
		p, err := pipeline.Build(
			pipeline.Stage{Name: "feed", Generator: byteFeeder{data: plain}},
			pipeline.Stage{Name: "pass", Transform: passthrough{}},
			pipeline.Stage{Name: "extract", Sink: stages.WriteFiles{Dir: localDest}},
		)
		if err != nil {
			return errs.Validation("build tar extract pipeline: %v", err)
		}
		return p.Run(ctx)
	}

	for _, f := range part.Files {
		key := partFileKey(backupName, part.Database, part.Table, part.Name, f)
		r, err := l.store.Download(ctx, key)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		_, readErr := buf.ReadFrom(r)
		_ = r.Close()
		if readErr != nil {
			return errs.Storage("read part file", key, readErr)
		}
		plain, err := l.maybeDecryptSmall(buf.Bytes(), part.Encrypted)
		if err != nil {
			return err
		}
		if err := writeFile(localDest+"/"+f, plain); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layout) maybeDecryptSmall(cipher []byte, encrypted bool) ([]byte, error) {
	if !encrypted {
		return cipher, nil
	}
	in := make(chan pipeline.Chunk, 1)
	in <- pipeline.Chunk{Data: cipher}
	close(in)
	out := make(chan pipeline.Chunk, 8)
	done := make(chan error, 1)
	go func() {
		dec := stages.Decrypt{Key: l.key}
		done <- dec.Run(context.Background(), in, out)
		close(out)
	}()
	var result []byte
	for chunk := range out {
		result = append(result, chunk.Data...)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return result, nil
}

// UploadCloudStorageMetadata backs up the shadow tree of an S3-backed disk.
// Returns false when the disk had no frozen data to upload.
func (l *Layout) UploadCloudStorageMetadata(ctx context.Context, backupName, disk, shadowDir string, files []string) (bool, error) {
	if len(files) == 0 {
		return false, nil
	}
	var sizes []int64
	for _, f := range files {
		size, err := statSize(shadowDir, f)
		if err != nil {
			return false, err
		}
		sizes = append(sizes, size)
	}
	key := cloudStorageKey(backupName, disk)
	p, err := pipeline.Build(
		pipeline.Stage{Name: "tar", Generator: stages.ReadFilesTarball{BaseDir: shadowDir, RelPaths: files}},
		pipeline.Stage{Name: "pass", Transform: passthrough{}},
		pipeline.Stage{Name: "upload", Sink: stages.UploadToStorage{Store: l.store, Key: key, EstimatedSize: stages.TarSize(sizes)}},
	)
	if err != nil {
		return false, errs.Validation("build cloud storage upload pipeline: %v", err)
	}
	if err := p.Run(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// CheckDataPart re-downloads a part and verifies its checksum still matches.
func (l *Layout) CheckDataPart(ctx context.Context, backupName string, part metadata.PartMetadata) error {
	var key string
	if part.Tarball {
		key = partTarKey(backupName, part.Database, part.Table, part.Name)
	} else {
		// per-file parts are checked by re-hashing each file's uploaded bytes
		h := sha256.New()
		for _, f := range part.Files {
			k := partFileKey(backupName, part.Database, part.Table, part.Name, f)
			r, err := l.store.Download(ctx, k)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			_, rerr := buf.ReadFrom(r)
			_ = r.Close()
			if rerr != nil {
				return errs.Storage("read part file for checksum", k, rerr)
			}
			plain, err := l.maybeDecryptSmall(buf.Bytes(), part.Encrypted)
			if err != nil {
				return err
			}
			h.Write(plain)
		}
		if hex.EncodeToString(h.Sum(nil)) != part.Checksum {
			return errs.Validation("checksum mismatch for part %s", part.Name)
		}
		return nil
	}

	r, err := l.store.Download(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return errs.Storage("read part for checksum", key, err)
	}
	plain, err := l.maybeDecryptSmall(buf.Bytes(), part.Encrypted)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(plain)
	if hex.EncodeToString(sum[:]) != part.Checksum {
		return errs.Validation("checksum mismatch for part %s", part.Name)
	}
	return nil
}

// Wait blocks until all fire-and-forget uploads submitted so far complete,
// returning the first error observed, if any (spec §4.2: must be called
// before the backup metadata is finalized).
func (l *Layout) Wait() error {
	l.wg.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.firstErr
	l.firstErr = nil
	return err
}

// DeleteBackup removes every object under a backup's prefix.
func (l *Layout) DeleteBackup(ctx context.Context, name string) error {
	keys, err := l.store.List(ctx, name+"/")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	log.WithComponent("layout").Info().Str("backup_name", name).Int("object_count", len(keys)).Msg("deleting backup objects")
	return l.store.DeleteBatch(ctx, keys)
}

// DeleteDataParts removes the given parts' objects, idempotently.
func (l *Layout) DeleteDataParts(ctx context.Context, backupName string, parts []metadata.PartMetadata) error {
	var keys []string
	for _, p := range parts {
		if p.IsLink() {
			continue
		}
		if p.Tarball {
			keys = append(keys, partTarKey(backupName, p.Database, p.Table, p.Name))
			continue
		}
		for _, f := range p.Files {
			keys = append(keys, partFileKey(backupName, p.Database, p.Table, p.Name, f))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return l.store.DeleteBatch(ctx, keys)
}

// --- small local helpers kept free of exported surface ---

type teeChecksum struct {
	hasher interface{ Write([]byte) (int, error) }
	size   *int64
}

func (t *teeChecksum) Run(ctx context.Context, in <-chan pipeline.Chunk, out chan<- pipeline.Chunk) error {
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			t.hasher.Write(chunk.Data)
			*t.size += int64(len(chunk.Data))
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type passthrough struct{}

func (passthrough) Run(ctx context.Context, in <-chan pipeline.Chunk, out chan<- pipeline.Chunk) error {
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type byteFeeder struct{ data []byte }

func (b byteFeeder) Generate(ctx context.Context, out chan<- pipeline.Chunk) error {
	select {
	case out <- pipeline.Chunk{Data: b.data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func statSize(baseDir, rel string) (int64, error) {
	info, err := os.Stat(filepath.Join(baseDir, rel))
	if err != nil {
		return 0, errs.Storage("stat part file", rel, err)
	}
	return info.Size(), nil
}

func readAndHash(path string, h interface{ Write([]byte) (int, error) }) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Storage("read part file", path, err)
	}
	h.Write(data)
	return data, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Storage("mkdir for part file", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Storage("write part file", path, err)
	}
	return nil
}
