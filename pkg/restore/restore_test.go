package restore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chbackup/chbackup/pkg/metadata"
)

func sampleBackup() *metadata.Backup {
	b := metadata.NewBackup("backup1", "backup1", "host1", "23.8.1.1", false, false, nil)
	b.AppendTable(metadata.TableMetadata{Database: "default", Name: "events", Engine: "MergeTree"})
	b.AppendTable(metadata.TableMetadata{Database: "default", Name: "events_view", Engine: "View"})
	b.AppendTable(metadata.TableMetadata{Database: "other", Name: "clicks", Engine: "MergeTree"})
	return b
}

func TestValidateIncludeTablesMissing(t *testing.T) {
	b := sampleBackup()
	err := validateIncludeTables(b, []string{"default.missing"})
	require.Error(t, err)
}

func TestValidateIncludeTablesPresent(t *testing.T) {
	b := sampleBackup()
	assert.NoError(t, validateIncludeTables(b, []string{"default.events"}))
}

func TestSplitQualified(t *testing.T) {
	db, table := splitQualified("default.events")
	assert.Equal(t, "default", db)
	assert.Equal(t, "events", table)

	db, table = splitQualified("events")
	assert.Equal(t, "", db)
	assert.Equal(t, "events", table)
}

func TestFilterTablesByDatabase(t *testing.T) {
	b := sampleBackup()
	got := filterTables(b.Tables, []string{"default"}, nil, nil)
	require.Len(t, got, 2)
	for _, tbl := range got {
		assert.Equal(t, "default", tbl.Database)
	}
}

func TestFilterTablesIncludeExclude(t *testing.T) {
	b := sampleBackup()
	got := filterTables(b.Tables, nil, []string{"default.events", "other.clicks"}, []string{"other.clicks"})
	require.Len(t, got, 1)
	assert.Equal(t, "events", got[0].Name)
}

func TestEngineClassOrdering(t *testing.T) {
	assert.Equal(t, 0, engineClass("MergeTree"))
	assert.Equal(t, 0, engineClass("ReplicatedMergeTree"))
	assert.Equal(t, 1, engineClass("Memory"))
	assert.Equal(t, 2, engineClass("Distributed"))
	assert.Equal(t, 3, engineClass("MaterializedView"))
}

func TestHasSuffix(t *testing.T) {
	assert.True(t, hasSuffix("ReplicatedMergeTree", "MergeTree"))
	assert.False(t, hasSuffix("MergeTree", "ReplicatedMergeTree"))
	assert.True(t, hasSuffix("View", "View"))
}
