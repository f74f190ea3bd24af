package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <name|LAST>",
	Short: "Show one backup's metadata",
	Long:  "Prints a backup's full metadata document as JSON. --verbose additionally prints a derived per-table summary.",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var showVerbose bool

func init() {
	showCmd.Flags().BoolVar(&showVerbose, "verbose", false, "Also print a derived per-table summary")
}

func runShow(cmd *cobra.Command, args []string) error {
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

	b, err := a.layout.GetBackupMetadata(ctx, name)
	if err != nil {
		return err
	}

	encoded, err := b.Encode()
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))

	if !showVerbose {
		return nil
	}

	fmt.Printf("\ntables (%d), total size %d, real size %d:\n", len(b.Tables), b.Size(), b.RealSize())
	for _, t := range b.Tables {
		fmt.Printf("  %s.%s  engine=%s  parts=%d  size=%d\n", t.Database, t.Name, t.Engine, len(t.Parts), t.Size())
	}
	return nil
}
