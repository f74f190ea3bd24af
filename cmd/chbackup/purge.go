package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/chbackup/chbackup/pkg/metadata"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete backups beyond the configured retention policy",
	Long:  "Applies backup.retain_count and backup.retain_time, oldest-first, skipping any backup still relied on by a dedup link from a newer backup.",
	RunE:  runPurge,
}

var purgeDryRun bool

func init() {
	purgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "List what would be deleted without deleting")
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	backups, err := a.layout.GetBackups(ctx, func(s metadata.State) bool {
		return s == metadata.StateCreated
	})
	if err != nil {
		return err
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].StartTime.Before(backups[j].StartTime)
	})

	linkedFrom := referencedBackupNames(backups)

	now := time.Now()
	var victims []string
	keep := len(backups)
	if cfg.Backup.RetainCount > 0 {
		keep = cfg.Backup.RetainCount
	}

	for i, b := range backups {
		tooMany := cfg.Backup.RetainCount > 0 && i < len(backups)-keep
		tooOld := cfg.Backup.RetainTime > 0 && now.Sub(b.StartTime) > cfg.Backup.RetainTime
		if !tooMany && !tooOld {
			continue
		}
		if linkedFrom[b.Name] {
			fmt.Printf("skip %s: still referenced by a dedup link from a newer backup\n", b.Name)
			continue
		}
		victims = append(victims, b.Name)
	}

	if len(victims) == 0 {
		fmt.Println("nothing to purge")
		return nil
	}

	for _, name := range victims {
		if purgeDryRun {
			fmt.Printf("would delete: %s\n", name)
			continue
		}
		if err := a.layout.DeleteBackup(ctx, name); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
		fmt.Printf("deleted: %s\n", name)
	}
	return nil
}

// referencedBackupNames returns the set of backup names that at least one
// part among backups links to (spec §4.6's retention safety rule: a backup
// holding bytes another backup's link chain still points at must not be
// purged out from under it).
func referencedBackupNames(backups []*metadata.Backup) map[string]bool {
	refs := make(map[string]bool)
	for _, b := range backups {
		for _, t := range b.Tables {
			for _, p := range t.Parts {
				if p.IsLink() {
					refs[p.Link] = true
				}
			}
		}
	}
	return refs
}
