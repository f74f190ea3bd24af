package restore

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RewriteOptions controls DDL rewriting before a table is re-created (spec
// §4.5 step 3).
type RewriteOptions struct {
	ForceNonReplicated  bool
	ReplicaName         string
	ShardMacro          string
	AtomicDatabase      bool
	DBVersionAtLeast218 bool

	// TableUUID is the uuid recorded for this table at backup time, reused
	// instead of a freshly generated one so a re-run restore is idempotent.
	// A fresh uuid is generated when empty.
	TableUUID string

	// InnerUUID, when non-empty, is attached as a materialized view's
	// `TO INNER UUID` clause alongside the injected UUID (spec §4.5 step 3).
	InnerUUID string
}

// RewriteDDL applies the configured rewrites to one table's CREATE
// statement before it is attempted against the live DB.
func RewriteDDL(ddl string, opts RewriteOptions) string {
	out := ddl

	if opts.ForceNonReplicated {
		out = forceNonReplicated(out)
	}
	if opts.ReplicaName != "" {
		out = overrideReplicaMacro(out, opts.ReplicaName)
	}
	if opts.AtomicDatabase && !strings.Contains(out, "UUID") {
		id := opts.TableUUID
		if id == "" {
			id = uuid.NewString()
		}
		clause := "UUID '" + id + "' "
		if opts.InnerUUID != "" {
			clause += "TO INNER UUID '" + opts.InnerUUID + "' "
		}
		out = injectClause(out, clause)
	}
	return out
}

// forceNonReplicated rewrites ReplicatedMergeTree-family engines to their
// plain MergeTree-family equivalent, dropping the ZooKeeper-path and
// replica-name engine arguments.
func forceNonReplicated(ddl string) string {
	const prefix = "Replicated"
	idx := strings.Index(ddl, "ENGINE = "+prefix)
	if idx < 0 {
		idx = strings.Index(ddl, "ENGINE="+prefix)
	}
	if idx < 0 {
		return ddl
	}
	engineStart := strings.Index(ddl[idx:], prefix) + idx
	parenStart := strings.Index(ddl[engineStart:], "(")
	if parenStart < 0 {
		return strings.Replace(ddl, prefix, "", 1)
	}
	parenStart += engineStart
	depth := 0
	parenEnd := -1
	for i := parenStart; i < len(ddl); i++ {
		switch ddl[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				parenEnd = i
			}
		}
		if parenEnd >= 0 {
			break
		}
	}
	if parenEnd < 0 {
		return ddl
	}
	engineName := ddl[engineStart : parenStart]
	newEngine := strings.TrimPrefix(engineName, prefix)
	return ddl[:engineStart] + newEngine + "()" + ddl[parenEnd+1:]
}

// overrideReplicaMacro substitutes a literal replica name for the
// `{replica}` macro inside a Replicated engine's ZooKeeper path argument.
func overrideReplicaMacro(ddl, replica string) string {
	return strings.ReplaceAll(ddl, "{replica}", replica)
}

// createMarkers lists the CREATE statement forms whose object name can be
// followed by an injected UUID (and, for materialized views, TO INNER
// UUID) clause.
var createMarkers = []string{
	"CREATE MATERIALIZED VIEW ",
	"CREATE TABLE ",
	"CREATE VIEW ",
	"CREATE DICTIONARY ",
}

// injectClause inserts clause right after the object name, required for
// tables restored into an Atomic-engine database (spec §4.5 step 3).
func injectClause(ddl, clause string) string {
	for _, marker := range createMarkers {
		idx := strings.Index(ddl, marker)
		if idx < 0 {
			continue
		}
		rest := ddl[idx+len(marker):]
		spaceIdx := strings.IndexAny(rest, " (")
		if spaceIdx < 0 {
			continue
		}
		insertAt := idx + len(marker) + spaceIdx
		return ddl[:insertAt] + " " + clause + ddl[insertAt:]
	}
	return ddl
}

// dbVersionAtLeast parses ClickHouse-style "MAJOR.MINOR.PATCH.BUILD"
// versions and compares major.minor against the given threshold.
func dbVersionAtLeast(version string, majorWant, minorWant int) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	if major != majorWant {
		return major > majorWant
	}
	return minor >= minorWant
}
