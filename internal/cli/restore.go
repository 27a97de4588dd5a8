package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ringbackup/sidecar/internal/restore"
)

func newRestoreCmd(flags *globalFlags) *cobra.Command {
	var (
		targetTimeStr string
		keyspace      string
		columnFamily  string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the most recent backup at or before a point in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			target := time.Now().UTC()
			if targetTimeStr != "" {
				target, err = time.Parse(time.RFC3339, targetTimeStr)
				if err != nil {
					return fmt.Errorf("parsing --at: %w", err)
				}
			}

			app, err := NewApp(cmd.Context(), cfg, flags.dbBaseURL, flags.statePath, flags.token, flags.region)
			if err != nil {
				return err
			}
			defer app.Close()

			roundID := newRoundID()
			logger := app.Logger.WithRound(roundID)

			filter := restore.Filter{Keyspace: keyspace, ColumnFamily: columnFamily}
			plan, err := restore.BuildPlan(cmd.Context(), app.Manifest, app.Codec, flags.token, target, filter)
			if err != nil {
				logger.Errorf(err, "building restore plan failed")
				return err
			}
			logger.Infof("restore plan: %d files from snapshot at %s through %s", len(plan.Entries), plan.SnapshotTime, plan.TargetTime)

			result := app.Executor.Execute(cmd.Context(), plan)
			if result.Outcome != restore.OutcomeSuccess {
				logger.Errorf(result.Cause, "restore failed after placing %d files", result.Placed)
				return result.Cause
			}
			logger.Infof("restore complete: %d placed, %d already present", result.Placed, result.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&targetTimeStr, "at", "", "restore to the latest backup at or before this RFC3339 timestamp (default: now)")
	cmd.Flags().StringVar(&keyspace, "keyspace", "", "restrict restore to this keyspace (default: all)")
	cmd.Flags().StringVar(&columnFamily, "column-family", "", "restrict restore to this column family (default: all)")
	return cmd
}
