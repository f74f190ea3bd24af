package metadata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupSizeExcludesLinkedParts(t *testing.T) {
	b := NewBackup("backup2", "backup2", "host1", "23.8.1.1", false, false, nil)
	b.AppendTable(TableMetadata{
		Database: "default",
		Name:     "events",
		Parts: []PartMetadata{
			{Name: "all_0_0_0", Size: 100},
			{Name: "all_1_1_0", Size: 200, Link: "backup1"},
		},
	})

	assert.Equal(t, int64(100), b.Size())
	assert.Equal(t, int64(300), b.RealSize())
}

func TestAppendTableReplacesExisting(t *testing.T) {
	b := NewBackup("backup1", "backup1", "host1", "23.8.1.1", false, false, nil)
	b.AppendTable(TableMetadata{Database: "default", Name: "events", Engine: "MergeTree"})
	b.AppendTable(TableMetadata{Database: "default", Name: "events", Engine: "ReplicatedMergeTree"})

	require.Len(t, b.Tables, 1)
	assert.Equal(t, "ReplicatedMergeTree", b.Tables[0].Engine)
}

func TestTableLookup(t *testing.T) {
	b := NewBackup("backup1", "backup1", "host1", "23.8.1.1", false, false, nil)
	b.AppendTable(TableMetadata{Database: "default", Name: "events"})

	tbl, ok := b.Table("default", "events")
	require.True(t, ok)
	assert.Equal(t, "events", tbl.Name)

	_, ok = b.Table("default", "missing")
	assert.False(t, ok)
}

func TestUnknownFieldsRoundTrip(t *testing.T) {
	raw := []byte(`{
		"meta.version": 1,
		"name": "backup1",
		"path": "backup1",
		"state": "created",
		"start_time": "2026-01-01T00:00:00Z",
		"hostname": "host1",
		"db_version": "23.8.1.1",
		"schema_only": false,
		"encrypted": false,
		"tables": [],
		"cloud_storage": {},
		"future_field": "kept-for-forward-compat"
	}`)

	var b Backup
	require.NoError(t, json.Unmarshal(raw, &b))

	out, err := json.Marshal(&b)
	require.NoError(t, err)

	var roundTripped map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.Equal(t, "kept-for-forward-compat", roundTripped["future_field"])
}

func TestPartMetadataIsLink(t *testing.T) {
	assert.False(t, PartMetadata{}.IsLink())
	assert.True(t, PartMetadata{Link: "backup1"}.IsLink())
}
