package restore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForceNonReplicated(t *testing.T) {
	ddl := "CREATE TABLE default.events (id UInt64) ENGINE = ReplicatedMergeTree('/clickhouse/tables/{shard}/events', '{replica}') ORDER BY id"
	got := RewriteDDL(ddl, RewriteOptions{ForceNonReplicated: true})
	assert.Contains(t, got, "ENGINE = MergeTree()")
	assert.NotContains(t, got, "Replicated")
}

func TestOverrideReplicaMacro(t *testing.T) {
	ddl := "CREATE TABLE default.events (id UInt64) ENGINE = ReplicatedMergeTree('/clickhouse/tables/{shard}/events', '{replica}') ORDER BY id"
	got := RewriteDDL(ddl, RewriteOptions{ReplicaName: "replica-02"})
	assert.Contains(t, got, "'replica-02'")
	assert.NotContains(t, got, "{replica}")
}

func TestInjectUUIDForAtomicDatabase(t *testing.T) {
	ddl := "CREATE TABLE default.events (id UInt64) ENGINE = MergeTree() ORDER BY id"
	got := RewriteDDL(ddl, RewriteOptions{AtomicDatabase: true})
	assert.Contains(t, got, "UUID '")
}

func TestInjectUUIDSkippedWhenAlreadyPresent(t *testing.T) {
	ddl := "CREATE TABLE default.events UUID '11111111-1111-1111-1111-111111111111' (id UInt64) ENGINE = MergeTree() ORDER BY id"
	got := RewriteDDL(ddl, RewriteOptions{AtomicDatabase: true})
	assert.Equal(t, ddl, got)
}

func TestRewriteDDLComposesAllOptions(t *testing.T) {
	ddl := "CREATE TABLE default.events (id UInt64) ENGINE = ReplicatedMergeTree('/clickhouse/tables/{shard}/events', '{replica}') ORDER BY id"
	got := RewriteDDL(ddl, RewriteOptions{
		ForceNonReplicated: true,
		ReplicaName:        "replica-02",
		AtomicDatabase:     true,
	})
	assert.Contains(t, got, "ENGINE = MergeTree()")
	assert.Contains(t, got, "UUID '")
}

func TestInjectUUIDReusesRecordedTableUUID(t *testing.T) {
	ddl := "CREATE TABLE default.events (id UInt64) ENGINE = MergeTree() ORDER BY id"
	got := RewriteDDL(ddl, RewriteOptions{AtomicDatabase: true, TableUUID: "22222222-2222-2222-2222-222222222222"})
	assert.Contains(t, got, "UUID '22222222-2222-2222-2222-222222222222'")
}

func TestInjectUUIDAttachesInnerUUIDForMaterializedView(t *testing.T) {
	ddl := "CREATE MATERIALIZED VIEW default.mv (id UInt64) ENGINE = MergeTree() AS SELECT id FROM default.events"
	got := RewriteDDL(ddl, RewriteOptions{
		AtomicDatabase: true,
		TableUUID:      "11111111-1111-1111-1111-111111111111",
		InnerUUID:      "33333333-3333-3333-3333-333333333333",
	})
	assert.Contains(t, got, "UUID '11111111-1111-1111-1111-111111111111'")
	assert.Contains(t, got, "TO INNER UUID '33333333-3333-3333-3333-333333333333'")
	assert.True(t, strings.Index(got, "UUID '1") < strings.Index(got, "TO INNER UUID"))
}

func TestInjectUUIDWithoutInnerUUIDOmitsToInnerClause(t *testing.T) {
	ddl := "CREATE MATERIALIZED VIEW default.mv (id UInt64) ENGINE = MergeTree() AS SELECT id FROM default.events"
	got := RewriteDDL(ddl, RewriteOptions{AtomicDatabase: true})
	assert.Contains(t, got, "UUID '")
	assert.NotContains(t, got, "TO INNER UUID")
}

func TestDBVersionAtLeast(t *testing.T) {
	assert.True(t, dbVersionAtLeast("21.8.4.51", 21, 8))
	assert.True(t, dbVersionAtLeast("22.1.0.0", 21, 8))
	assert.False(t, dbVersionAtLeast("21.7.9.1", 21, 8))
	assert.False(t, dbVersionAtLeast("20.12.0.0", 21, 8))
	assert.False(t, dbVersionAtLeast("bad-version", 21, 8))
}
