// Package dedup builds the content-addressed part-level deduplication index
// described in spec §4.3: before a backup starts, recent eligible backups
// are indexed by (database, table, part) so a freshly frozen part with a
// matching checksum can be recorded as a link instead of re-uploaded.
package dedup

import (
	"context"
	"time"

	"github.com/chbackup/chbackup/pkg/metadata"
)

// Entry is one indexed part: enough to decide whether a fresh part matches
// and, if so, where its bytes actually live.
type Entry struct {
	Checksum       string
	BackupPath     string
	Size           int64
	Files          []string
	LinkChainDepth int
}

type key struct {
	database, table, part string
}

// Index maps (database, table, part_name) to the most recent matching entry.
type Index struct {
	entries map[key]Entry
}

// Build scans every backup layout.GetBackups returns that is CREATED or
// PARTIALLY_DELETED, within ageLimit of now, and indexes its parts. Backups
// later in the slice overwrite earlier entries for the same key; since
// layout.GetBackups returns backups sorted by StartTime, the freshest match
// wins.
func Build(ctx context.Context, backups []*metadata.Backup, now time.Time, ageLimit time.Duration, hostFilter func(*metadata.Backup) bool) *Index {
	idx := &Index{entries: make(map[key]Entry)}
	for _, b := range backups {
		if b.State != metadata.StateCreated && b.State != metadata.StatePartiallyDeleted {
			continue
		}
		if ageLimit > 0 && now.Sub(b.StartTime) > ageLimit {
			continue
		}
		if hostFilter != nil && !hostFilter(b) {
			continue
		}
		for _, t := range b.Tables {
			for _, p := range t.Parts {
				if p.IsLink() {
					continue
				}
				idx.entries[key{t.Database, t.Name, p.Name}] = Entry{
					Checksum:   p.Checksum,
					BackupPath: b.Path,
					Size:       p.Size,
					Files:      p.Files,
				}
			}
		}
	}
	return idx
}

// Lookup implements spec §4.3's matching rule: checksum must match the
// indexed entry exactly; a match against an entry that is itself only one
// hop from its bytes is fine, but the returned link never chains deeper
// than one hop (it always points straight at entry.BackupPath, which Build
// already resolved to the owning backup, not an intermediate link).
func (idx *Index) Lookup(database, table, partName, checksum string) (Entry, bool) {
	entry, ok := idx.entries[key{database, table, partName}]
	if !ok {
		return Entry{}, false
	}
	if entry.Checksum != checksum {
		return Entry{}, false
	}
	return entry, true
}
