package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chbackup/chbackup/pkg/restore"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <name|LAST>",
	Short: "Restore a backup",
	Long:  "Re-creates tables in dependency order, then attaches their data parts and cloud-storage disks.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

var (
	restoreDatabases      []string
	restoreSchemaOnly     bool
	restoreIncludeTables  []string
	restoreExcludeTables  []string
	restoreReplicaName    string
	restoreSkipCloud      bool
	restoreCleanZookeeper bool
	restoreKeepGoing      bool
)

func init() {
	restoreCmd.Flags().StringSliceVar(&restoreDatabases, "databases", nil, "Restrict to these databases")
	restoreCmd.Flags().BoolVar(&restoreSchemaOnly, "schema-only", false, "Re-create table schemas only, skip data parts")
	restoreCmd.Flags().StringSliceVar(&restoreIncludeTables, "tables", nil, "Restrict to these database.table pairs")
	restoreCmd.Flags().StringSliceVar(&restoreExcludeTables, "exclude-tables", nil, "Exclude these database.table pairs")
	restoreCmd.Flags().StringVar(&restoreReplicaName, "replica-name", "", "Override the {replica} macro in Replicated engine DDL")
	restoreCmd.Flags().BoolVar(&restoreSkipCloud, "skip-cloud-storage", false, "Skip restoring cloud-storage (s3-backed) disks")
	restoreCmd.Flags().BoolVar(&restoreCleanZookeeper, "clean-zookeeper", false, "Remove stale replica paths from ZooKeeper before re-creating tables")
	restoreCmd.Flags().BoolVar(&restoreKeepGoing, "keep-going", false, "Continue restoring remaining tables after a table fails")
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name, err := resolveBackupName(ctx, a, args[0])
	if err != nil {
		return err
	}

	restoreCfg := cfg.Restore
	if restoreSkipCloud {
		restoreCfg.SkipCloudStorage = true
	}
	if restoreCleanZookeeper {
		restoreCfg.CleanZookeeper = true
	}
	if restoreKeepGoing {
		restoreCfg.KeepGoing = true
	}

	orch := &restore.Orchestrator{
		DB:       a.db,
		Layout:   a.layout,
		ZK:       a.zk,
		Cfg:      restoreCfg,
		DataPath: cfg.ClickHouse.DataPath,
	}

	result, err := orch.Run(ctx, restore.Options{
		BackupName:            name,
		DatabasesFilter:       restoreDatabases,
		SchemaOnly:            restoreSchemaOnly,
		IncludeTables:         restoreIncludeTables,
		ExcludeTables:         restoreExcludeTables,
		ReplicaName:           restoreReplicaName,
		SkipCloudStorage:      restoreCfg.SkipCloudStorage,
		CleanZookeeper:        restoreCfg.CleanZookeeper,
		KeepGoing:             restoreCfg.KeepGoing,
	})
	if err != nil {
		return err
	}

	if len(result.Failures) == 0 {
		fmt.Println("restore complete")
		return nil
	}
	fmt.Printf("restore finished with %d failed table(s):\n", len(result.Failures))
	for _, f := range result.Failures {
		fmt.Printf("  %s.%s: %v\n", f.Database, f.Table, f.Err)
	}
	return nil
}
