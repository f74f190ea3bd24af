package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chbackup/chbackup/pkg/config"
	"github.com/chbackup/chbackup/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chbackup",
	Short: "chbackup performs consistent, deduplicated, encrypted backups of a ClickHouse-compatible DB",
	Long: `chbackup backs up and restores a column-oriented analytical database to
remote object storage, using per-table freeze/unfreeze, content-addressed
part-level deduplication, and a streaming encrypt/upload pipeline.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"chbackup version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("protocol", "", "Override clickhouse.protocol")
	rootCmd.PersistentFlags().Int("port", 0, "Override clickhouse.port")
	rootCmd.PersistentFlags().String("ca-path", "", "Override clickhouse.ca_path")
	rootCmd.PersistentFlags().Bool("insecure", false, "Override clickhouse.insecure")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the chbackup version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chbackup version %s\n", Version)
		},
	})
}

func initConfig() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if v, _ := rootCmd.PersistentFlags().GetString("protocol"); v != "" {
		loaded.ClickHouse.Protocol = v
	}
	if v, _ := rootCmd.PersistentFlags().GetInt("port"); v != 0 {
		loaded.ClickHouse.Port = v
	}
	if v, _ := rootCmd.PersistentFlags().GetString("ca-path"); v != "" {
		loaded.ClickHouse.CAPath = v
	}
	if v, _ := rootCmd.PersistentFlags().GetBool("insecure"); v {
		loaded.ClickHouse.Insecure = v
	}
	if v, _ := rootCmd.PersistentFlags().GetString("log-level"); v != "" {
		loaded.Logging.Level = v
	}
	if v, _ := rootCmd.PersistentFlags().GetBool("log-json"); v {
		loaded.Logging.JSON = v
	}

	cfg = loaded
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
	})
}
