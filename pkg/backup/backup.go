// Package backup implements the backup orchestrator (spec §4.4): target
// resolution, min-interval gating, per-table freeze/OCC/upload/unfreeze,
// content-addressed dedup, and cloud-storage disk shadow capture. Grounded
// on the teacher's reconciler loop shape (pkg/reconciler) generalized from a
// ticking cluster-state loop into a one-shot, per-table sequential pass.
package backup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chbackup/chbackup/pkg/chclient"
	"github.com/chbackup/chbackup/pkg/config"
	"github.com/chbackup/chbackup/pkg/dedup"
	"github.com/chbackup/chbackup/pkg/errs"
	"github.com/chbackup/chbackup/pkg/layout"
	"github.com/chbackup/chbackup/pkg/log"
	"github.com/chbackup/chbackup/pkg/metadata"
	"github.com/chbackup/chbackup/pkg/metrics"
)

// Options configures one backup invocation (spec §4.4 entry point).
type Options struct {
	Name       string
	Databases  []string
	Tables     []string
	Force      bool
	Labels     map[string]string
	SchemaOnly bool
}

// Orchestrator drives the backup sequence against a DB client and storage
// layout.
type Orchestrator struct {
	DB         chclient.Client
	Layout     *layout.Layout
	Cfg        config.BackupConfig
	Encryption config.EncryptionConfig
}

// Result is returned by Run: either a freshly created backup name, or the
// name of an existing backup when min_interval skipped the run.
type Result struct {
	BackupName string
	Skipped    bool
	Message    string
}

// mergeTreeEngine reports whether engine is in the MergeTree family, the
// only family that supports FREEZE/data parts.
func mergeTreeEngine(engine string) bool {
	return len(engine) >= 9 && (engine[len(engine)-9:] == "MergeTree" || engine == "MergeTree")
}

func (o *Orchestrator) excludedEngine(engine string) bool {
	for _, e := range o.Cfg.ExcludedDBEngines {
		if e == engine {
			return true
		}
	}
	return false
}

func (o *Orchestrator) engineAllowed(engine string) bool {
	if len(o.Cfg.TableEngineAllowlist) == 0 {
		return true
	}
	for _, e := range o.Cfg.TableEngineAllowlist {
		if e == engine {
			return true
		}
	}
	return false
}

// Run executes one backup per spec §4.4's numbered steps.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	logger := log.WithBackup(opts.Name)

	if len(opts.Databases) > 0 && len(opts.Tables) > 0 {
		if !tablesMatchDatabases(opts.Tables, opts.Databases) {
			return nil, errs.Validation("databases and tables filters are mutually inconsistent")
		}
	}

	if !opts.Force {
		last, ok, err := o.mostRecentCreated(ctx)
		if err != nil {
			return nil, err
		}
		if ok && time.Since(last.StartTime) < o.Cfg.MinInterval {
			return &Result{BackupName: last.Name, Skipped: true, Message: "backup skipped"}, nil
		}
	}

	hostname, _ := os.Hostname()
	dbVersion, err := o.DB.Version(ctx)
	if err != nil {
		return nil, err
	}

	b := metadata.NewBackup(opts.Name, opts.Name, hostname, dbVersion, opts.SchemaOnly, o.Encryption.Type != "", opts.Labels)
	if err := o.Layout.UploadBackupMetadata(ctx, b); err != nil {
		return nil, err
	}

	idx, err := o.buildDedupIndex(ctx, hostname)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BackupDuration)

	databases, err := o.resolveDatabases(ctx, opts)
	if err != nil {
		return nil, err
	}

	for _, db := range databases {
		if err := o.backupDatabase(ctx, b, db, opts, idx); err != nil {
			logger.Error().Err(err).Str("database", db.Name).Msg("database backup step failed")
			return nil, err
		}
	}

	if err := o.backupCloudStorageDisks(ctx, b); err != nil {
		logger.Error().Err(err).Msg("cloud storage disk backup failed")
		return nil, err
	}

	b.State = metadata.StateCreated
	b.EndTime = time.Now().UTC()
	if err := o.Layout.UploadBackupMetadata(ctx, b); err != nil {
		return nil, err
	}

	logger.Info().Str("backup_name", b.Name).Dur("duration", time.Since(b.StartTime)).Msg("backup created")
	return &Result{BackupName: b.Name}, nil
}

func tablesMatchDatabases(tables, databases []string) bool {
	dbset := make(map[string]bool, len(databases))
	for _, d := range databases {
		dbset[d] = true
	}
	for _, t := range tables {
		db, _ := splitQualified(t)
		if !dbset[db] {
			return false
		}
	}
	return true
}

func splitQualified(qualified string) (database, table string) {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			return qualified[:i], qualified[i+1:]
		}
	}
	return "", qualified
}

func (o *Orchestrator) mostRecentCreated(ctx context.Context) (*metadata.Backup, bool, error) {
	backups, err := o.Layout.GetBackups(ctx, func(s metadata.State) bool { return s == metadata.StateCreated })
	if err != nil {
		return nil, false, err
	}
	if len(backups) == 0 {
		return nil, false, nil
	}
	return backups[len(backups)-1], true, nil
}

func (o *Orchestrator) buildDedupIndex(ctx context.Context, hostname string) (*dedup.Index, error) {
	backups, err := o.Layout.GetBackups(ctx, nil)
	if err != nil {
		return nil, err
	}
	return dedup.Build(ctx, backups, time.Now(), o.Cfg.DeduplicationAgeLimit, func(b *metadata.Backup) bool {
		return b.Hostname == hostname
	}), nil
}

func (o *Orchestrator) resolveDatabases(ctx context.Context, opts Options) ([]chclient.Database, error) {
	all, err := o.DB.Databases(ctx)
	if err != nil {
		return nil, err
	}
	if len(opts.Databases) == 0 && len(opts.Tables) == 0 {
		return all, nil
	}
	want := make(map[string]bool)
	for _, d := range opts.Databases {
		want[d] = true
	}
	for _, t := range opts.Tables {
		db, _ := splitQualified(t)
		want[db] = true
	}
	var out []chclient.Database
	for _, d := range all {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (o *Orchestrator) backupDatabase(ctx context.Context, b *metadata.Backup, db chclient.Database, opts Options, idx *dedup.Index) error {
	logger := log.WithTable(db.Name, "")

	if !o.excludedEngine(db.Engine) {
		if err := o.Layout.UploadTableCreateStatement(ctx, b.Name, db.Name, "__database__", []byte(db.DDL)); err != nil {
			return err
		}
	}

	tables, err := o.DB.Tables(ctx, db.Name)
	if err != nil {
		return err
	}

	for _, t := range tables {
		if !tableSelected(t.Name, opts.Tables) {
			continue
		}
		if err := o.backupTable(ctx, b, t, opts.SchemaOnly, idx); err != nil {
			logger.Warn().Str("table", t.Name).Err(err).Msg("skipping table")
			continue
		}
		if err := o.Layout.UploadBackupMetadata(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func tableSelected(name string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		_, t := splitQualified(f)
		if t == name || f == name {
			return true
		}
	}
	return false
}

// backupTable implements spec §4.4 step 4c: the per-table freeze/OCC/upload
// sequence.
func (o *Orchestrator) backupTable(ctx context.Context, b *metadata.Backup, t chclient.Table, schemaOnly bool, idx *dedup.Index) error {
	logger := log.WithTable(t.Database, t.Name)

	ddl, err := o.DB.ReadDDL(ctx, t.DDLPath)
	if err != nil {
		return fmt.Errorf("ddl file missing: %w", err)
	}
	if !o.engineAllowed(t.Engine) {
		if err := o.Layout.UploadTableCreateStatement(ctx, b.Name, t.Database, t.Name, ddl); err != nil {
			return err
		}
		b.AppendTable(metadata.TableMetadata{Database: t.Database, Name: t.Name, Engine: t.Engine, UUID: t.UUID})
		return nil
	}

	mtimeBefore, err := o.DB.DDLMTime(ctx, t.DDLPath)
	if err != nil {
		return err
	}

	tm := metadata.TableMetadata{Database: t.Database, Name: t.Name, Engine: t.Engine, UUID: t.UUID}

	if !schemaOnly && mergeTreeEngine(t.Engine) {
		shadowDir, parts, freezeErr := o.DB.Freeze(ctx, t.Database, t.Name, b.Name)
		if freezeErr != nil {
			logger.Warn().Err(freezeErr).Msg("freeze failed, table likely dropped")
			return freezeErr
		}
		defer func() {
			if err := o.DB.Unfreeze(ctx, t.Database, t.Name, b.Name); err != nil {
				logger.Warn().Err(err).Msg("unfreeze failed")
			}
		}()

		mtimeAfter, err := o.DB.DDLMTime(ctx, t.DDLPath)
		if err != nil {
			return err
		}
		if !mtimeAfter.Equal(mtimeBefore) {
			return errs.Concurrency(t.Database, t.Name)
		}

		if err := o.Layout.UploadTableCreateStatement(ctx, b.Name, t.Database, t.Name, ddl); err != nil {
			return err
		}

		var uploaded []metadata.PartMetadata
		for _, part := range parts {
			pm, uploadErr := o.backupPart(ctx, b.Name, shadowDir, part, idx)
			if uploadErr != nil {
				return uploadErr
			}
			tm.Parts = append(tm.Parts, pm)
			if !pm.IsLink() {
				uploaded = append(uploaded, pm)
				metrics.PartsUploaded.WithLabelValues(t.Database, t.Name).Inc()
			}
		}

		if o.Cfg.ValidatePartAfterUpload {
			if err := o.Layout.Wait(); err != nil {
				return err
			}
			for _, pm := range uploaded {
				if err := o.Layout.CheckDataPart(ctx, b.Name, pm); err != nil {
					return err
				}
			}
		}
	} else {
		if err := o.Layout.UploadTableCreateStatement(ctx, b.Name, t.Database, t.Name, ddl); err != nil {
			return err
		}
	}

	b.AppendTable(tm)
	return nil
}

func (o *Orchestrator) backupPart(ctx context.Context, backupName, shadowDir string, part chclient.Part, idx *dedup.Index) (metadata.PartMetadata, error) {
	checksum, err := o.Layout.PartChecksum(ctx, shadowDir+"/"+part.Name, part.Files)
	if err != nil {
		return metadata.PartMetadata{}, err
	}

	if entry, ok := idx.Lookup(part.Database, part.Table, part.Name, checksum); ok {
		metrics.PartsDeduplicated.WithLabelValues(part.Database, part.Table).Inc()
		return metadata.PartMetadata{
			Database: part.Database,
			Table:    part.Table,
			Name:     part.Name,
			Checksum: checksum,
			Size:     entry.Size,
			Files:    entry.Files,
			Link:     entry.BackupPath,
		}, nil
	}

	pm, err := o.Layout.UploadDataPart(ctx, backupName, part.Database, part.Table, part.Name, shadowDir+"/"+part.Name, part.Files)
	if err != nil {
		metrics.PartsFailed.Inc()
		return metadata.PartMetadata{}, err
	}
	metrics.BytesUploaded.Add(float64(pm.Size))
	return pm, nil
}

func (o *Orchestrator) backupCloudStorageDisks(ctx context.Context, b *metadata.Backup) error {
	disks, err := o.DB.Disks(ctx)
	if err != nil {
		return err
	}
	var backedUp []string
	for _, d := range disks {
		if d.Type != "s3" {
			continue
		}
		files, err := listShadowFiles(d.Path)
		if err != nil {
			return err
		}
		ok, err := o.Layout.UploadCloudStorageMetadata(ctx, b.Name, d.Name, d.Path, files)
		if err != nil {
			return err
		}
		if ok {
			backedUp = append(backedUp, d.Name)
		}
	}
	b.CloudStorage = metadata.CloudStorage{Disks: backedUp}
	return nil
}
