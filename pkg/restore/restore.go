// Package restore implements the restore orchestrator (spec §4.5):
// dependency-aware table re-creation with a FIFO retry queue, ZooKeeper
// cleanup, cloud-storage disk restore, and resumable part attachment.
// Grounded on the teacher's reconciler retry-and-requeue shape
// (pkg/reconciler), generalized from a periodic cluster loop into a
// one-shot ordered queue drain.
package restore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/chbackup/chbackup/pkg/chclient"
	"github.com/chbackup/chbackup/pkg/config"
	"github.com/chbackup/chbackup/pkg/errs"
	"github.com/chbackup/chbackup/pkg/layout"
	"github.com/chbackup/chbackup/pkg/log"
	"github.com/chbackup/chbackup/pkg/metadata"
	"github.com/chbackup/chbackup/pkg/metrics"
	"github.com/chbackup/chbackup/pkg/zkclient"
)

// Options configures one restore invocation (spec §4.5 entry point).
type Options struct {
	BackupName            string
	DatabasesFilter        []string
	SchemaOnly             bool
	IncludeTables          []string
	ExcludeTables          []string
	ReplicaName            string
	CloudStorageOverrides  map[string]CloudStorageOverride
	SkipCloudStorage       bool
	CleanZookeeper         bool
	KeepGoing              bool
}

// CloudStorageOverride describes where to source a disk's data from during
// restore, when the default ("use our own uploaded shadow archive") isn't
// wanted.
type CloudStorageOverride struct {
	SourceBucket   string
	SourcePath     string
	SourceEndpoint string
	Revision       int64
	UseLatest      bool
}

// TableFailure records one table that failed to restore; returned to the
// caller when KeepGoing is true instead of aborting.
type TableFailure struct {
	Database, Table string
	Err             error
}

// Result summarizes one restore run.
type Result struct {
	Failures []TableFailure
}

// Orchestrator drives the restore sequence.
type Orchestrator struct {
	DB       chclient.Client
	Layout   *layout.Layout
	ZK       *zkclient.Client
	Cfg      config.RestoreConfig
	DataPath string // ClickHouse data directory, for detached-part destinations
	DBVer218 bool    // true when connected DB version is >= 21.8, resolved once per Run
	DBVer214 bool    // true when connected DB version is >= 21.4, resolved once per Run
}

func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	logger := log.WithBackup(opts.BackupName)
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RestoreDuration)

	b, err := o.Layout.GetBackupMetadata(ctx, opts.BackupName)
	if err != nil {
		return nil, err
	}

	if err := validateIncludeTables(b, opts.IncludeTables); err != nil {
		return nil, err
	}

	version, err := o.DB.Version(ctx)
	if err != nil {
		return nil, err
	}
	o.DBVer218 = dbVersionAtLeast(version, 21, 8)
	o.DBVer214 = dbVersionAtLeast(version, 21, 4)

	tables := filterTables(b.Tables, opts.DatabasesFilter, opts.IncludeTables, opts.ExcludeTables)

	rewritten, err := o.rewriteAndFilter(ctx, tables, opts, b.Encrypted)
	if err != nil {
		return nil, err
	}

	if opts.CleanZookeeper && o.ZK != nil {
		if err := o.cleanZookeeper(rewritten); err != nil {
			return nil, err
		}
	}

	result := &Result{}
	if err := o.recreateTables(ctx, rewritten, opts, result); err != nil {
		return nil, err
	}
	if !opts.KeepGoing && len(result.Failures) > 0 {
		return result, result.Failures[0].Err
	}

	if !opts.SchemaOnly {
		progress, err := LoadProgress(o.Cfg.ProgressPath)
		if err != nil {
			return nil, err
		}
		if !opts.SkipCloudStorage {
			if err := o.restoreCloudStorageDisks(ctx, b, opts, progress); err != nil {
				return nil, err
			}
		}
		if err := o.restoreParts(ctx, b, rewritten, opts, progress, result); err != nil {
			return nil, err
		}
	}

	logger.Info().Int("failed_tables", len(result.Failures)).Msg("restore complete")
	return result, nil
}

func validateIncludeTables(b *metadata.Backup, include []string) error {
	if len(include) == 0 {
		return nil
	}
	for _, want := range include {
		db, table := splitQualified(want)
		if _, ok := b.Table(db, table); !ok {
			return errs.Validation("required table %s not present in backup %s", want, b.Name)
		}
	}
	return nil
}

func splitQualified(qualified string) (database, table string) {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			return qualified[:i], qualified[i+1:]
		}
	}
	return "", qualified
}

func filterTables(tables []metadata.TableMetadata, databases, include, exclude []string) []metadata.TableMetadata {
	dbset := toSet(databases)
	incset := toSet(include)
	excset := toSet(exclude)

	var out []metadata.TableMetadata
	for _, t := range tables {
		qualified := t.Database + "." + t.Name
		if len(dbset) > 0 && !dbset[t.Database] {
			continue
		}
		if len(incset) > 0 && !incset[qualified] && !incset[t.Name] {
			continue
		}
		if excset[qualified] || excset[t.Name] {
			continue
		}
		out = append(out, t)
	}
	return out
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[i] = true
	}
	return s
}

// rewrittenTable pairs a table's metadata with its rewritten DDL, loaded
// from the backup's own stored schema.
type rewrittenTable struct {
	metadata.TableMetadata
	DDL string
}

func (o *Orchestrator) rewriteAndFilter(ctx context.Context, tables []metadata.TableMetadata, opts Options, backupEncrypted bool) ([]rewrittenTable, error) {
	var out []rewrittenTable
	for _, t := range tables {
		ddl, err := o.Layout.GetTableCreateStatement(ctx, opts.BackupName, t.Database, t.Name, backupEncrypted)
		if err != nil {
			return nil, err
		}

		var innerUUID string
		if isMaterializedView(t.Engine) && t.UUID != "" && o.DBVer214 {
			if id, ok, err := o.DB.TableUUID(ctx, t.Database, ".inner_id."+t.UUID); err != nil {
				return nil, err
			} else if ok {
				innerUUID = id
			}
		}

		rewriteOpts := RewriteOptions{
			ForceNonReplicated:  o.Cfg.ForceNonReplicated,
			ReplicaName:         opts.ReplicaName,
			AtomicDatabase:      true,
			DBVersionAtLeast218: o.DBVer218,
			TableUUID:           t.UUID,
			InnerUUID:           innerUUID,
		}
		rewritten := RewriteDDL(string(ddl), rewriteOpts)

		matches, err := o.DB.SchemaMatches(ctx, t.Database, t.Name, rewritten)
		if err != nil {
			return nil, err
		}
		if matches {
			continue
		}
		out = append(out, rewrittenTable{TableMetadata: t, DDL: rewritten})
	}
	return out, nil
}

func engineClass(engine string) int {
	switch {
	case hasSuffix(engine, "MergeTree"):
		return 0
	case engine == "Distributed":
		return 2
	case hasSuffix(engine, "View"):
		return 3
	default:
		return 1
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// recreateTables implements spec §4.5 step 6: a FIFO queue partitioned by
// engine class, ATTACH-then-CREATE per table, consecutive-failure abort.
func (o *Orchestrator) recreateTables(ctx context.Context, tables []rewrittenTable, opts Options, result *Result) error {
	sort.SliceStable(tables, func(i, j int) bool {
		return engineClass(tables[i].Engine) < engineClass(tables[j].Engine)
	})

	type queued struct {
		rewrittenTable
		lastErr error
	}
	queue := make([]queued, 0, len(tables))
	for _, t := range tables {
		queue = append(queue, queued{rewrittenTable: t})
	}

	consecutiveErrors := 0
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]

		err := o.createOneTable(ctx, t.rewrittenTable)
		if err == nil {
			consecutiveErrors = 0
			continue
		}

		consecutiveErrors++
		t.lastErr = err
		metrics.TableRetries.Inc()

		if consecutiveErrors > len(queue)+1 {
			result.Failures = append(result.Failures, TableFailure{Database: t.Database, Table: t.Name, Err: err})
			for _, remaining := range queue {
				result.Failures = append(result.Failures, TableFailure{Database: remaining.Database, Table: remaining.Name, Err: fmt.Errorf("aborted: progress stalled")})
			}
			if opts.KeepGoing {
				return nil
			}
			return err
		}
		queue = append(queue, t)
	}
	return nil
}

func (o *Orchestrator) createOneTable(ctx context.Context, t rewrittenTable) error {
	logger := log.WithTable(t.Database, t.Name)

	if err := o.DB.AttachTable(ctx, t.DDL); err != nil {
		if err := o.DB.CreateTable(ctx, t.DDL); err != nil {
			logger.Warn().Err(err).Msg("create table failed")
			return err
		}
	}

	if isReplicatedEngine(t.Engine) && !isMaterializedView(t.Engine) && o.DBVer218 {
		if err := o.DB.RestoreReplica(ctx, t.Database, t.Name); err != nil {
			return err
		}
	}
	return nil
}

func isReplicatedEngine(engine string) bool {
	return len(engine) >= 10 && engine[:10] == "Replicated"
}

func isMaterializedView(engine string) bool {
	return hasSuffix(engine, "MaterializedView")
}

// cleanZookeeper removes replica registrations for every replicated table
// about to be restored (spec §4.5 step 5).
func (o *Orchestrator) cleanZookeeper(tables []rewrittenTable) error {
	for _, t := range tables {
		if !isReplicatedEngine(t.Engine) {
			continue
		}
		path := fmt.Sprintf("/clickhouse/tables/%s/%s/replicas/%s", t.Database, t.Name, "replica")
		if err := o.ZK.DeleteReplicaPath(path); err != nil {
			return err
		}
	}
	return nil
}

// restoreCloudStorageDisks writes per-disk restore markers and restarts
// each disk so it picks them up (spec §4.5 step 7).
func (o *Orchestrator) restoreCloudStorageDisks(ctx context.Context, b *metadata.Backup, opts Options, progress *Progress) error {
	disks, err := o.DB.Disks(ctx)
	if err != nil {
		return err
	}
	for _, d := range disks {
		if d.Type != "s3" {
			continue
		}
		if progress.IsDiskDone(d.Name) {
			continue
		}
		override, has := opts.CloudStorageOverrides[d.Name]
		marker := map[string]interface{}{
			"revision": 0,
		}
		if has {
			marker["source_bucket"] = override.SourceBucket
			marker["source_path"] = override.SourcePath
			marker["source_endpoint"] = override.SourceEndpoint
			if !override.UseLatest {
				marker["revision"] = override.Revision
			}
		}
		if err := writeDiskRestoreMarker(d.Path, marker); err != nil {
			return err
		}
		if err := o.DB.RestartDisk(ctx, d.Name); err != nil {
			return err
		}
		if err := progress.MarkDiskDone(d.Name); err != nil {
			return err
		}
	}
	return nil
}

func writeDiskRestoreMarker(diskPath string, marker map[string]interface{}) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return errs.Validation("encode disk restore marker: %v", err)
	}
	markerPath := filepath.Join(diskPath, "restore_marker.json")
	if err := os.MkdirAll(diskPath, 0o755); err != nil {
		return errs.Storage("mkdir disk path", diskPath, err)
	}
	return atomicWrite(markerPath, data)
}

// restoreParts implements spec §4.5 step 7's per-table, per-part download
// and attach loop.
func (o *Orchestrator) restoreParts(ctx context.Context, b *metadata.Backup, tables []rewrittenTable, opts Options, progress *Progress, result *Result) error {
	for _, t := range tables {
		tm, ok := b.Table(t.Database, t.Name)
		if !ok {
			continue
		}
		for _, part := range tm.Parts {
			if progress.IsPartDone(t.Database, t.Name, part.Name) {
				continue
			}
			dest := filepath.Join(o.DataPath, t.Database, t.Name, "detached", part.Name)
			if err := o.Layout.DownloadDataPart(ctx, b.Name, part, dest); err != nil {
				metrics.PartsFailed.Inc()
				result.Failures = append(result.Failures, TableFailure{Database: t.Database, Table: t.Name, Err: err})
				if !opts.KeepGoing {
					return err
				}
				continue
			}
			metrics.BytesDownloaded.Add(float64(part.Size))
		}

		if err := o.Layout.Wait(); err != nil {
			if !opts.KeepGoing {
				return err
			}
			result.Failures = append(result.Failures, TableFailure{Database: t.Database, Table: t.Name, Err: err})
		}

		for _, part := range tm.Parts {
			if progress.IsPartDone(t.Database, t.Name, part.Name) {
				continue
			}
			if err := o.DB.AttachPart(ctx, t.Database, t.Name, part.Name); err != nil {
				result.Failures = append(result.Failures, TableFailure{Database: t.Database, Table: t.Name, Err: err})
				if !opts.KeepGoing {
					return err
				}
				continue
			}
			if err := progress.MarkPartDone(t.Database, t.Name, part.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
