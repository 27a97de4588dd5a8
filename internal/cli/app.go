// Package cli wires the core components (object store, codec, throttle,
// registry, pipelines, scheduler) into a runnable application and exposes
// the cobra commands the sidecar binary invokes.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/google/uuid"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/config"
	"github.com/ringbackup/sidecar/internal/constants"
	"github.com/ringbackup/sidecar/internal/dbcontrol"
	"github.com/ringbackup/sidecar/internal/discovery"
	"github.com/ringbackup/sidecar/internal/errs"
	"github.com/ringbackup/sidecar/internal/events"
	"github.com/ringbackup/sidecar/internal/fingerprint"
	"github.com/ringbackup/sidecar/internal/logging"
	"github.com/ringbackup/sidecar/internal/manifest"
	"github.com/ringbackup/sidecar/internal/objectstore"
	"github.com/ringbackup/sidecar/internal/objectstore/azure"
	"github.com/ringbackup/sidecar/internal/objectstore/s3"
	"github.com/ringbackup/sidecar/internal/registry"
	"github.com/ringbackup/sidecar/internal/restore"
	"github.com/ringbackup/sidecar/internal/retry"
	"github.com/ringbackup/sidecar/internal/scheduler"
	"github.com/ringbackup/sidecar/internal/throttle"
	"github.com/ringbackup/sidecar/internal/upload"
)

// eventLogCapacity bounds the registry's in-memory ring buffer of recent
// round/transfer events, surfaced by the status command.
const eventLogCapacity = 512

// App holds every long-lived component the commands operate on. It is built
// once at process startup from a loaded Config and torn down on exit.
type App struct {
	Config *config.Config

	Objs     objectstore.Store
	Codec    *backuppath.Codec
	Governor *throttle.Governor
	Cache    *fingerprint.Cache
	Bus      *events.Bus
	Registry *registry.Registry
	Logger   *logging.Logger
	Manifest *manifest.Store
	DB       dbcontrol.Control
	State    *StateStore

	Discovery *discovery.Discovery
	Pipeline  *upload.Pipeline
	Executor  *restore.Executor
}

// NewApp constructs every component from cfg. dbBaseURL is the database's
// local management endpoint (e.g. "http://127.0.0.1:8080"); statePath is
// where the scheduler's bolt-backed state file lives.
func NewApp(ctx context.Context, cfg *config.Config, dbBaseURL, statePath, clusterToken, region string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	objs, err := newObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(256)
	reg := registry.New(eventLogCapacity, bus)
	logger := logging.NewWithFile(os.Stderr, bus, cfg.LogFile)
	codec := backuppath.NewCodec(cfg.BackupLocation, cfg.BackupPrefix, cfg.AppName)
	cache := fingerprint.New()
	manifestStore := manifest.NewStore(objs, codec)

	db := dbcontrol.NewHTTPControl(dbcontrol.HTTPConfig{
		BaseURL:    dbBaseURL,
		MaxRetries: cfg.RetryAttempts,
	})

	rate := throttle.NewByteRateLimiter(cfg.UploadRateBytesPerSec, cfg.UploadRateBytesPerSec)
	governor := throttle.NewGovernor(cfg.MaxConcurrentFiles, rate)

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    constants.DefaultRetryMaxDelay,
	}

	state, err := OpenStateStore(statePath)
	if err != nil {
		return nil, err
	}

	disc := &discovery.Discovery{
		DataFileLocation:  cfg.DataFileLocation,
		CommitLogLocation: cfg.CommitLogLocation,
		ClusterName:       cfg.AppName,
		Token:             clusterToken,
		Region:            region,
		Codec:             codec,
		DB:                db,
		Cache:             cache,
	}

	pipeline := &upload.Pipeline{
		Objs:        objs,
		Codec:       codec,
		Governor:    governor,
		Cache:       cache,
		Registry:    reg,
		Bus:         bus,
		Compression: cfg.CompressionCodec,
		RetryPolicy: retryPolicy,
	}

	restoreGovernor := throttle.NewGovernor(cfg.MaxConcurrentRestores, throttle.NewByteRateLimiter(0, 0))
	executor := &restore.Executor{
		Objs:              objs,
		Governor:          restoreGovernor,
		DB:                db,
		Registry:          reg,
		DataFileLocation:  cfg.DataFileLocation,
		CommitLogLocation: cfg.CommitLogLocation,
		Compression:       cfg.CompressionCodec,
		RetryPolicy:       retryPolicy,
	}

	return &App{
		Config:    cfg,
		Objs:      objs,
		Codec:     codec,
		Governor:  governor,
		Cache:     cache,
		Bus:       bus,
		Registry:  reg,
		Logger:    logger,
		Manifest:  manifestStore,
		DB:        db,
		State:     state,
		Discovery: disc,
		Pipeline:  pipeline,
		Executor:  executor,
	}, nil
}

// Close releases resources held by the App's components.
func (a *App) Close() error {
	if a.State != nil {
		return a.State.Close()
	}
	return nil
}

func newObjectStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	switch cfg.Backend {
	case config.BackendS3:
		store, err := s3.New(ctx, s3.Config{
			Bucket:             cfg.S3Bucket,
			Region:             cfg.S3Region,
			MultipartThreshold: cfg.MultipartThreshold,
			PartSize:           cfg.MultipartPartSize,
			MaxRetries:         cfg.RetryAttempts,
		})
		if err != nil {
			return nil, errs.New(errs.KindConfig, "cli.newObjectStore", err)
		}
		return store, nil
	case config.BackendAzure:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, errs.New(errs.KindConfig, "cli.newObjectStore", err)
		}
		store, err := azure.New(ctx, azure.Config{
			AccountURL:         cfg.AzureAccountURL,
			Container:          cfg.AzureContainer,
			MultipartThreshold: cfg.MultipartThreshold,
			BlockSize:          cfg.MultipartPartSize,
			MaxRetries:         cfg.RetryAttempts,
		}, cred)
		if err != nil {
			return nil, errs.New(errs.KindConfig, "cli.newObjectStore", err)
		}
		return store, nil
	default:
		return nil, errs.New(errs.KindConfig, "cli.newObjectStore", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}

// newRoundID returns a fresh correlation id for one backup or restore
// invocation, used to tie together log lines, events, and the state store
// entry a single command run produces.
func newRoundID() string {
	return uuid.NewString()
}
