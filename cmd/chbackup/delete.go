package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chbackup/chbackup/pkg/metadata"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <name|LAST>",
	Short: "Delete one backup",
	Long:  "Refuses when any CREATED backup still holds a dedup link to the target. Otherwise transitions the backup to DELETING, removes all of its own (non-link) data parts, then removes its metadata. A referenced backup is not partially deleted; it is left unchanged.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
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

	target, err := a.layout.GetBackupMetadata(ctx, name)
	if err != nil {
		return err
	}

	all, err := a.layout.GetBackups(ctx, func(s metadata.State) bool { return s == metadata.StateCreated })
	if err != nil {
		return err
	}
	if referencedBackupNames(all)[name] {
		return fmt.Errorf("backup %s: still referenced by a dedup link from a newer backup", name)
	}

	target.State = metadata.StateDeleting
	if err := a.layout.UploadBackupMetadata(ctx, target); err != nil {
		return err
	}

	var parts []metadata.PartMetadata
	for _, t := range target.Tables {
		parts = append(parts, t.Parts...)
	}
	if err := a.layout.DeleteDataParts(ctx, name, parts); err != nil {
		return err
	}

	if err := a.layout.DeleteBackup(ctx, name); err != nil {
		return err
	}
	fmt.Printf("deleted: %s\n", name)
	return nil
}
