package cli

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/discovery"
	"github.com/ringbackup/sidecar/internal/manifest"
	"github.com/ringbackup/sidecar/internal/scheduler"
)

// incrementalFlushInterval bounds how long newly-watched files accumulate
// in one manifest before it is written, so a long-running incremental
// window still produces periodic commit markers instead of one at process
// exit.
const incrementalFlushInterval = 5 * time.Minute

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		metricsAddr string
		schemaHash  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler continuously, taking snapshot and incremental backups on schedule",
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go collectMetrics(app.Bus)
			go serveMetrics(ctx, metricsAddr)

			schedule, err := resolveSchedule(cfg.SnapshotSchedule)
			if err != nil {
				return err
			}

			round := func(ctx context.Context) error {
				return runBackupRound(ctx, app, schemaHash)
			}

			sched := scheduler.New(schedule, round, app.Registry, app.Logger)
			sched.Start(ctx)

			if cfg.IncrementalEnabled {
				go runIncrementalWatcher(ctx, app)
			}

			<-ctx.Done()
			sched.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
	cmd.Flags().StringVar(&schemaHash, "schema-hash", "", "schema fingerprint recorded in each round's manifest")
	return cmd
}

// resolveSchedule parses expr as a 5-field cron expression, falling back to
// an hourly interval if expr is empty.
func resolveSchedule(expr string) (scheduler.Schedule, error) {
	if expr == "" {
		return scheduler.Interval(time.Hour), nil
	}
	return scheduler.ParseCron(expr)
}

// runIncrementalWatcher watches for newly-written SSTables and commit log
// segments and uploads each one as it appears, flushing an incremental
// manifest every incrementalFlushInterval so the commit marker is never far
// behind what has actually been uploaded.
func runIncrementalWatcher(ctx context.Context, app *App) {
	watcher, err := discovery.NewWatcher(app.Discovery)
	if err != nil {
		app.Logger.Errorf(err, "starting incremental watcher failed")
		return
	}
	defer watcher.Close()

	var mu sync.Mutex
	builder := manifest.NewBuilder(app.Discovery.Token, time.Now().UTC(), app.Discovery.ClusterName, "")
	flush := time.NewTicker(incrementalFlushInterval)
	defer flush.Stop()

	emit := func(bp backuppath.BackupPath) {
		entry, _, err := app.Pipeline.UploadOne(ctx, bp)
		if err != nil {
			app.Logger.Errorf(err, "incremental upload failed for %s", bp.FileName)
			return
		}
		mu.Lock()
		builder.Add(entry)
		mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := watcher.Run(ctx, emit); err != nil {
			app.Logger.Errorf(err, "incremental watcher stopped")
		}
	}()

	swapBuilder := func() *manifest.Builder {
		mu.Lock()
		defer mu.Unlock()
		old := builder
		builder = manifest.NewBuilder(app.Discovery.Token, time.Now().UTC(), app.Discovery.ClusterName, "")
		return old
	}

	for {
		select {
		case <-ctx.Done():
			flushIncrementalManifest(ctx, app, swapBuilder())
			<-done
			return
		case <-flush.C:
			flushIncrementalManifest(ctx, app, swapBuilder())
		}
	}
}

func flushIncrementalManifest(ctx context.Context, app *App, builder *manifest.Builder) {
	if builder.Len() == 0 {
		return
	}
	if _, err := app.Manifest.Write(ctx, builder.Finalize()); err != nil {
		app.Logger.Errorf(err, "writing incremental manifest failed")
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	_ = server.ListenAndServe()
}
