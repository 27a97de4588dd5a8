package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ringbackup/sidecar/internal/config"
	"github.com/ringbackup/sidecar/internal/version"
)

// globalFlags holds the flags shared by every subcommand: where the
// configuration file lives and how to reach the local database control
// endpoint.
type globalFlags struct {
	configPath string
	dbBaseURL  string
	statePath  string
	token      string
	region     string
}

// NewRootCmd builds the sidecar's cobra command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "sidecar",
		Short:         "Backup and restore sidecar for a distributed columnar database node",
		Version:       fmt.Sprintf("%s (built %s)", version.Version, version.BuildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "/etc/sidecar/sidecar.ini", "path to the sidecar's INI configuration file")
	root.PersistentFlags().StringVar(&flags.dbBaseURL, "db-url", "http://127.0.0.1:8080", "base URL of the local database control endpoint")
	root.PersistentFlags().StringVar(&flags.statePath, "state-file", "/var/lib/sidecar/state.db", "path to the scheduler's persistent state file")
	root.PersistentFlags().StringVar(&flags.token, "token", "", "this node's ring token")
	root.PersistentFlags().StringVar(&flags.region, "region", "", "this node's ring region/datacenter")

	root.AddCommand(
		newBackupCmd(flags),
		newRestoreCmd(flags),
		newStatusCmd(flags),
		newServeCmd(flags),
	)
	return root
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", flags.configPath, err)
	}
	if flags.token == "" {
		return nil, fmt.Errorf("--token is required")
	}
	return cfg, nil
}
