package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ringbackup/sidecar/internal/registry"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of in-flight and recent transfers",
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

			if !watch {
				printStatus(app.Registry)
				return nil
			}
			for {
				printStatus(app.Registry)
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(2 * time.Second):
				}
			}
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "refresh the status view every 2 seconds")
	return cmd
}

// printStatus renders the registry's current transfers. When stdout is an
// interactive terminal, running transfers get a live progress bar;
// otherwise it falls back to a plain line per transfer, suitable for piping
// to a log collector.
func printStatus(reg *registry.Registry) {
	interactive := isatty.IsTerminal(os.Stdout.Fd())
	for _, snap := range reg.All() {
		if interactive && snap.State == registry.StateRunning {
			bar := progressbar.DefaultBytes(-1, snap.RemoteKey)
			bar.Set64(snap.BytesTransferred)
			continue
		}
		line := fmt.Sprintf("%-8s %s attempts=%d bytes=%d", snap.State, snap.RemoteKey, snap.Attempts, snap.BytesTransferred)
		if snap.Err != nil {
			line += fmt.Sprintf(" err=%v", snap.Err)
		}
		fmt.Println(line)
	}
}
