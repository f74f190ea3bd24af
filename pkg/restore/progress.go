package restore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/chbackup/chbackup/pkg/errs"
)

// progressKey identifies one restorable unit: either a whole disk (Part=="")
// or one (database, table, part) triple.
type progressKey struct {
	Disk, Database, Table, Part string
}

// Progress is the resumable JSON index of spec §4.5: a small local file
// listing restored disks and (database, table, part) tuples, updated
// atomically via write-temp + rename so a crash mid-restore never corrupts
// it.
type Progress struct {
	path string
	mu   sync.Mutex
	Done map[string]bool `json:"done"`
}

// LoadProgress reads path, treating a missing file as an empty index.
func LoadProgress(path string) (*Progress, error) {
	p := &Progress{path: path, Done: make(map[string]bool)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, errs.Storage("read progress file", path, err)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, errs.Validation("decode progress file %s: %v", path, err)
	}
	if p.Done == nil {
		p.Done = make(map[string]bool)
	}
	return p, nil
}

func (k progressKey) String() string {
	if k.Part == "" {
		return "disk:" + k.Disk
	}
	return "part:" + k.Database + "/" + k.Table + "/" + k.Part
}

// IsDiskDone reports whether disk was already restored.
func (p *Progress) IsDiskDone(disk string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Done[progressKey{Disk: disk}.String()]
}

// MarkDiskDone records a disk as restored and persists immediately.
func (p *Progress) MarkDiskDone(disk string) error {
	return p.mark(progressKey{Disk: disk}.String())
}

// IsPartDone reports whether (database, table, part) was already restored.
func (p *Progress) IsPartDone(database, table, part string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Done[progressKey{Database: database, Table: table, Part: part}.String()]
}

// MarkPartDone records a part as restored and persists immediately.
func (p *Progress) MarkPartDone(database, table, part string) error {
	return p.mark(progressKey{Database: database, Table: table, Part: part}.String())
}

func (p *Progress) mark(k string) error {
	p.mu.Lock()
	p.Done[k] = true
	data, err := json.Marshal(p)
	p.mu.Unlock()
	if err != nil {
		return errs.Validation("encode progress file: %v", err)
	}
	return atomicWrite(p.path, data)
}

// atomicWrite writes data to a temp file in the same directory as path, then
// renames it into place, so a crash never leaves a half-written progress
// file (spec §4.5).
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Storage("mkdir for progress file", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".progress-*.tmp")
	if err != nil {
		return errs.Storage("create progress temp file", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errs.Storage("write progress temp file", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errs.Storage("close progress temp file", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errs.Storage("rename progress file", path, err)
	}
	return nil
}
