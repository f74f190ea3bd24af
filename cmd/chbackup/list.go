package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chbackup/chbackup/pkg/metadata"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known backups",
	Long:  "Prints the names of CREATED backups, one per line. --all widens the listing to every state; --verbose switches to a tabular summary.",
	RunE:  runList,
}

var (
	listAll     bool
	listVerbose bool
)

func init() {
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "List backups in every state, not just CREATED")
	listCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "Print a tabular summary instead of bare names")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	filter := func(s metadata.State) bool { return s == metadata.StateCreated }
	if listAll {
		filter = func(metadata.State) bool { return true }
	}

	backups, err := a.layout.GetBackups(ctx, filter)
	if err != nil {
		return err
	}

	if !listVerbose {
		for _, b := range backups {
			fmt.Println(b.Name)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "name\tstate\tstart_time\tend_time\tsize\treal_size\tdb_version")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			b.Name, b.State,
			b.StartTime.Format("2006-01-02 15:04:05"),
			b.EndTime.Format("2006-01-02 15:04:05"),
			b.Size(), b.RealSize(), b.DBVersion)
	}
	return w.Flush()
}
