// Package config loads the sidecar's configuration surface from an INI file,
// the same format and library the rest of this codebase's ancestry used for
// its on-disk settings.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/ringbackup/sidecar/internal/constants"
	"github.com/ringbackup/sidecar/internal/errs"
	"github.com/ringbackup/sidecar/internal/pathutil"
)

// CompressionCodec identifies the stream codec used for data files.
type CompressionCodec string

const (
	CodecSnappy CompressionCodec = "snappy"
	CodecLZF    CompressionCodec = "lzf"
	CodecNone   CompressionCodec = "none"
)

// ObjectStoreBackend selects which object-store implementation the core
// talks to.
type ObjectStoreBackend string

const (
	BackendS3    ObjectStoreBackend = "s3"
	BackendAzure ObjectStoreBackend = "azure"
)

// Config is the full recognized configuration surface for the sidecar core.
type Config struct {
	BackupLocation    string
	BackupPrefix      string
	AppName           string
	DataFileLocation  string
	CommitLogLocation string

	Backend        ObjectStoreBackend
	S3Bucket       string
	S3Region       string
	AzureContainer string
	AzureAccountURL string

	SnapshotSchedule   string
	IncrementalEnabled bool

	MaxConcurrentFiles    int
	MaxConcurrentRestores int
	UploadRateBytesPerSec int64

	CompressionCodec  CompressionCodec
	MultipartThreshold int64
	MultipartPartSize  int64

	RetryAttempts  int
	RetryBaseDelay time.Duration

	RetentionDays int

	LogFile string
}

// Default returns a Config populated with the package-wide defaults,
// overridable by whatever an INI file supplies.
func Default() *Config {
	return &Config{
		BackupPrefix:          "backup",
		Backend:               BackendS3,
		IncrementalEnabled:    true,
		MaxConcurrentFiles:    constants.DefaultMaxConcurrentFiles,
		MaxConcurrentRestores: constants.DefaultMaxConcurrentRestores,
		CompressionCodec:      CodecSnappy,
		MultipartThreshold:    constants.MultipartThreshold,
		MultipartPartSize:     constants.ChunkSize,
		RetryAttempts:         constants.DefaultMaxRetries,
		RetryBaseDelay:        constants.DefaultRetryBaseDelay,
		RetentionDays:         constants.DefaultRetentionDays,
	}
}

// Load reads an INI file at path and overlays it onto Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := ini.Load(path)
	if err != nil {
		return nil, errs.New(errs.KindConfig, "config.Load", err)
	}

	sec := f.Section("sidecar")

	cfg.BackupLocation = sec.Key("backupLocation").MustString(cfg.BackupLocation)
	cfg.BackupPrefix = sec.Key("backupPrefix").MustString(cfg.BackupPrefix)
	cfg.AppName = sec.Key("appName").MustString(cfg.AppName)
	cfg.DataFileLocation = sec.Key("dataFileLocation").MustString(cfg.DataFileLocation)
	cfg.CommitLogLocation = sec.Key("commitLogLocation").MustString(cfg.CommitLogLocation)

	cfg.Backend = ObjectStoreBackend(sec.Key("backend").MustString(string(cfg.Backend)))
	cfg.S3Bucket = sec.Key("s3Bucket").MustString(cfg.S3Bucket)
	cfg.S3Region = sec.Key("s3Region").MustString(cfg.S3Region)
	cfg.AzureContainer = sec.Key("azureContainer").MustString(cfg.AzureContainer)
	cfg.AzureAccountURL = sec.Key("azureAccountURL").MustString(cfg.AzureAccountURL)

	cfg.SnapshotSchedule = sec.Key("snapshotSchedule").MustString(cfg.SnapshotSchedule)
	cfg.IncrementalEnabled = sec.Key("incrementalEnabled").MustBool(cfg.IncrementalEnabled)

	cfg.MaxConcurrentFiles = sec.Key("maxConcurrentFiles").MustInt(cfg.MaxConcurrentFiles)
	cfg.MaxConcurrentRestores = sec.Key("maxConcurrentRestores").MustInt(cfg.MaxConcurrentRestores)
	cfg.UploadRateBytesPerSec = sec.Key("uploadRateBytesPerSec").MustInt64(cfg.UploadRateBytesPerSec)

	codec := sec.Key("compressionCodec").MustString(string(cfg.CompressionCodec))
	cfg.CompressionCodec = CompressionCodec(codec)

	cfg.MultipartThreshold = sec.Key("multipartThreshold").MustInt64(cfg.MultipartThreshold)
	cfg.MultipartPartSize = sec.Key("multipartPartSize").MustInt64(cfg.MultipartPartSize)

	cfg.RetryAttempts = sec.Key("retryAttempts").MustInt(cfg.RetryAttempts)
	retryBaseDelay := sec.Key("retryBaseDelay").MustString(cfg.RetryBaseDelay.String())
	d, err := time.ParseDuration(retryBaseDelay)
	if err != nil {
		return nil, errs.New(errs.KindConfig, "config.Load", fmt.Errorf("retryBaseDelay: %w", err))
	}
	cfg.RetryBaseDelay = d

	cfg.RetentionDays = sec.Key("retentionDays").MustInt(cfg.RetentionDays)
	cfg.LogFile = sec.Key("logFile").MustString(cfg.LogFile)

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePaths resolves the local filesystem paths the config names (but not
// BackupLocation, which names a location inside the remote object store, not
// on local disk) to absolute paths, expanding "~" and following symlinks in
// whatever portion of the path already exists. dataFileLocation is required
// by Validate, so it is always resolved; commitLogLocation is optional.
func (c *Config) resolvePaths() error {
	if c.DataFileLocation != "" {
		resolved, err := pathutil.ResolveAbsolutePath(c.DataFileLocation)
		if err != nil {
			return errs.New(errs.KindConfig, "config.resolvePaths", fmt.Errorf("dataFileLocation: %w", err))
		}
		c.DataFileLocation = resolved
	}
	if c.CommitLogLocation != "" {
		resolved, err := pathutil.ResolveAbsolutePath(c.CommitLogLocation)
		if err != nil {
			return errs.New(errs.KindConfig, "config.resolvePaths", fmt.Errorf("commitLogLocation: %w", err))
		}
		c.CommitLogLocation = resolved
	}
	return nil
}

// Validate enforces the invariants the configuration surface promises
// downstream components: required fields are set and numeric fields are sane.
func (c *Config) Validate() error {
	if c.BackupLocation == "" {
		return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("backupLocation is required"))
	}
	if c.AppName == "" {
		return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("appName is required"))
	}
	if c.DataFileLocation == "" {
		return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("dataFileLocation is required"))
	}
	if c.MaxConcurrentFiles < 1 {
		return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("maxConcurrentFiles must be >= 1"))
	}
	if c.MaxConcurrentRestores < 1 {
		return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("maxConcurrentRestores must be >= 1"))
	}
	if c.UploadRateBytesPerSec < 0 {
		return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("uploadRateBytesPerSec must be >= 0"))
	}
	switch c.CompressionCodec {
	case CodecSnappy, CodecLZF, CodecNone:
	default:
		return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("unknown compressionCodec %q", c.CompressionCodec))
	}
	switch c.Backend {
	case BackendS3:
		if c.S3Bucket == "" {
			return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("s3Bucket is required for backend=s3"))
		}
	case BackendAzure:
		if c.AzureContainer == "" || c.AzureAccountURL == "" {
			return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("azureContainer and azureAccountURL are required for backend=azure"))
		}
	default:
		return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.RetryAttempts < 0 {
		return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("retryAttempts must be >= 0"))
	}
	if c.RetentionDays < 0 {
		return errs.New(errs.KindConfig, "config.Validate", fmt.Errorf("retentionDays must be >= 0"))
	}
	return nil
}
