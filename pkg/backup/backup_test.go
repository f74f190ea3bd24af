package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chbackup/chbackup/pkg/config"
)

func TestSplitQualified(t *testing.T) {
	db, table := splitQualified("default.events")
	assert.Equal(t, "default", db)
	assert.Equal(t, "events", table)

	db, table = splitQualified("events")
	assert.Equal(t, "", db)
	assert.Equal(t, "events", table)
}

func TestTablesMatchDatabases(t *testing.T) {
	assert.True(t, tablesMatchDatabases([]string{"default.events"}, []string{"default"}))
	assert.False(t, tablesMatchDatabases([]string{"other.events"}, []string{"default"}))
	assert.True(t, tablesMatchDatabases(nil, []string{"default"}))
}

func TestTableSelected(t *testing.T) {
	assert.True(t, tableSelected("events", nil))
	assert.True(t, tableSelected("events", []string{"default.events"}))
	assert.True(t, tableSelected("events", []string{"events"}))
	assert.False(t, tableSelected("events", []string{"default.clicks"}))
}

func TestMergeTreeEngine(t *testing.T) {
	assert.True(t, mergeTreeEngine("MergeTree"))
	assert.True(t, mergeTreeEngine("ReplicatedMergeTree"))
	assert.True(t, mergeTreeEngine("AggregatingMergeTree"))
	assert.False(t, mergeTreeEngine("Memory"))
	assert.False(t, mergeTreeEngine("Log"))
}

func TestExcludedEngine(t *testing.T) {
	o := &Orchestrator{Cfg: config.BackupConfig{ExcludedDBEngines: []string{"MySQL"}}}
	assert.True(t, o.excludedEngine("MySQL"))
	assert.False(t, o.excludedEngine("Atomic"))
}

func TestEngineAllowlist(t *testing.T) {
	o := &Orchestrator{}
	assert.True(t, o.engineAllowed("MergeTree"), "empty allowlist permits everything")

	o.Cfg.TableEngineAllowlist = []string{"MergeTree"}
	assert.True(t, o.engineAllowed("MergeTree"))
	assert.False(t, o.engineAllowed("ReplacingMergeTree"))
}
