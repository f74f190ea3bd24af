package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chbackup/chbackup/pkg/metadata"
)

func backupWith(name string, start time.Time, state metadata.State, checksum string) *metadata.Backup {
	b := metadata.NewBackup(name, name, "host1", "23.8.1.1", false, false, nil)
	b.State = state
	b.StartTime = start
	b.AppendTable(metadata.TableMetadata{
		Database: "default",
		Name:     "events",
		Engine:   "MergeTree",
		Parts: []metadata.PartMetadata{
			{Database: "default", Table: "events", Name: "all_0_0_0", Checksum: checksum, Size: 1024, Files: []string{"data.bin"}},
		},
	})
	return b
}

func TestBuildIndexesCreatedAndPartiallyDeleted(t *testing.T) {
	now := time.Now()
	backups := []*metadata.Backup{
		backupWith("backup1", now.Add(-2*time.Hour), metadata.StateCreated, "abc123"),
		backupWith("backup2", now.Add(-1*time.Hour), metadata.StatePartiallyDeleted, "def456"),
		backupWith("backup3", now.Add(-30*time.Minute), metadata.StateFailed, "zzz999"),
	}

	idx := Build(context.Background(), backups, now, 0, nil)

	entry, ok := idx.Lookup("default", "events", "all_0_0_0", "def456")
	require.True(t, ok)
	assert.Equal(t, "backup2", entry.BackupPath)

	_, ok = idx.Lookup("default", "events", "all_0_0_0", "zzz999")
	assert.False(t, ok, "failed backups must never be indexed")
}

func TestBuildNewerBackupWins(t *testing.T) {
	now := time.Now()
	backups := []*metadata.Backup{
		backupWith("older", now.Add(-2*time.Hour), metadata.StateCreated, "same-checksum"),
		backupWith("newer", now.Add(-1*time.Minute), metadata.StateCreated, "same-checksum"),
	}

	idx := Build(context.Background(), backups, now, 0, nil)

	entry, ok := idx.Lookup("default", "events", "all_0_0_0", "same-checksum")
	require.True(t, ok)
	assert.Equal(t, "newer", entry.BackupPath)
}

func TestBuildRespectsAgeLimit(t *testing.T) {
	now := time.Now()
	backups := []*metadata.Backup{
		backupWith("stale", now.Add(-48*time.Hour), metadata.StateCreated, "abc123"),
	}

	idx := Build(context.Background(), backups, now, 24*time.Hour, nil)

	_, ok := idx.Lookup("default", "events", "all_0_0_0", "abc123")
	assert.False(t, ok)
}

func TestLookupChecksumMismatch(t *testing.T) {
	now := time.Now()
	backups := []*metadata.Backup{backupWith("backup1", now, metadata.StateCreated, "abc123")}
	idx := Build(context.Background(), backups, now, 0, nil)

	_, ok := idx.Lookup("default", "events", "all_0_0_0", "different-checksum")
	assert.False(t, ok)
}
