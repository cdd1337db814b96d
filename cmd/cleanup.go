package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/theapemachine/indexpilot/logger"
)

var (
	retentionDays int
)

/*
cleanupCmd deletes archived mutation log entries older than the retention
period. This is mainly useful for S3 storage to control storage costs, but
works with file storage too.
*/
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up old archived mutation log entries",
	Long: `Delete archived entries that are older than the specified retention period.
The hot audit store is never touched: the mutation log itself stays complete.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("Starting cleanup of archived entries",
			"retention_days", retentionDays,
			"storage_type", cfg.StorageType)

		archive, err := buildArchive(cmd.Context())
		if err != nil {
			return err
		}

		retention := time.Duration(retentionDays) * 24 * time.Hour
		count, err := archive.DeleteOldEntries(cmd.Context(), retention)
		if err != nil {
			return err
		}

		logger.Info("Cleanup completed successfully", "deleted_entries", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVar(&retentionDays, "retention-days", 90, "Delete entries older than this many days")
}
