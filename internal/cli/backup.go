package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ringbackup/sidecar/internal/manifest"
	"github.com/ringbackup/sidecar/internal/upload"
	"github.com/ringbackup/sidecar/internal/util/strings"
)

func newBackupCmd(flags *globalFlags) *cobra.Command {
	var schemaHash string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Trigger a snapshot and upload it as one backup round",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			app, err := NewApp(cmd.Context(), cfg, flags.dbBaseURL, flags.statePath, flags.token, flags.region)
			if err != nil {
				return err
			}
			defer app.Close()

			return runBackupRound(cmd.Context(), app, schemaHash)
		},
	}

	cmd.Flags().StringVar(&schemaHash, "schema-hash", "", "schema fingerprint recorded in the manifest")
	return cmd
}

// runBackupRound triggers a snapshot, uploads every discovered file, and
// writes the round's manifest last, per the commit-marker ordering
// invariant: a manifest's presence must mean every file it names is already
// durably stored. A manifest is therefore only ever written when every file
// in the round succeeded (RoundSuccess); on RoundPartialFailure no manifest
// is published and a *upload.PartialFailureError is returned, so a partial
// round can never be resolved by a point-in-time restore as if it were
// complete.
func runBackupRound(ctx context.Context, app *App, schemaHash string) error {
	roundID := newRoundID()
	logger := app.Logger.WithRound(roundID)
	now := time.Now().UTC()
	tag := now.Format("200601021504")

	files, err := app.Discovery.SnapshotBackup(ctx, tag)
	if err != nil {
		logger.Errorf(err, "snapshot trigger failed")
		return err
	}

	builder := manifest.NewBuilder(app.Discovery.Token, now, app.Discovery.ClusterName, schemaHash)
	result := app.Pipeline.UploadRound(ctx, files, builder)
	logger.Infof("backup round %s: %d %s uploaded, %d %s skipped, %d %s failed",
		roundID,
		result.Completed, strings.Pluralize("file", int64(result.Completed)),
		result.Skipped, strings.Pluralize("file", int64(result.Skipped)),
		result.Failed, strings.Pluralize("file", int64(result.Failed)))

	switch result.Outcome() {
	case upload.RoundFailed:
		if err := app.State.RecordRound(roundID, now, false); err != nil {
			logger.Errorf(err, "recording round state failed")
		}
		return fmt.Errorf("backup round %s: all %d files failed", roundID, result.Failed)

	case upload.RoundPartialFailure:
		logger.Warnf("backup round %s: partial failure, manifest not published", roundID)
		if err := app.State.RecordRound(roundID, now, false); err != nil {
			logger.Errorf(err, "recording round state failed")
		}
		return &upload.PartialFailureError{Failed: result.Failed}
	}

	if builder.Len() > 0 {
		if _, err := app.Manifest.Write(ctx, builder.Finalize()); err != nil {
			logger.Errorf(err, "writing manifest failed")
			return err
		}
	}

	if err := app.State.RecordRound(roundID, now, true); err != nil {
		logger.Errorf(err, "recording round state failed")
	}
	return nil
}
