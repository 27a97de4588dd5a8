// Package constants centralizes tunables shared across the backup/restore
// pipeline so that upload, download, and planning code agree on sizing and
// timing without importing each other.
package constants

import "time"

// Storage operation thresholds.
const (
	// MultipartThreshold - files larger than this use multipart/block upload (100 MB).
	// Applies to both the S3 multipart and Azure block-blob backends.
	MultipartThreshold = 100 * 1024 * 1024

	// ChunkSize - default size of each streamed chunk for compression and
	// the bounded in-memory window described in the compression design (32 MB).
	ChunkSize = 32 * 1024 * 1024

	// MinPartSize - AWS S3 minimum part size (5 MB, except the last part).
	MinPartSize = 5 * 1024 * 1024

	// MaxS3PartSize - AWS S3 maximum part size (5 GB).
	MaxS3PartSize = 5 * 1024 * 1024 * 1024

	// MaxAzureBlockSize - Azure maximum block size for large-block accounts (4000 MB).
	MaxAzureBlockSize = 4000 * 1024 * 1024

	// MinAzureBlockSize - practical minimum block size for Azure uploads (1 MB).
	MinAzureBlockSize = 1 * 1024 * 1024

	// MaxParts is the object-store imposed ceiling on the number of parts in
	// a single multipart upload (AWS S3's limit; used when sizing parts).
	MaxParts = 10000

	// SmallBufferSize is the size of the pooled buffer used for checksum
	// scratch space and other short-lived, non-chunk-sized reads (64 KB).
	SmallBufferSize = 64 * 1024
)

// Credential refresh intervals.
const (
	// CredentialRefreshInterval - a proactive credential refresh period for
	// long-running rounds (10 minutes). No object-store backend reads it;
	// each backend takes its credentials from its SDK's credential chain.
	CredentialRefreshInterval = 10 * time.Minute

	// LargeFileThreshold - a size threshold for mid-transfer credential
	// refresh checks at part boundaries (1 GB). No transfer path reads it.
	LargeFileThreshold = 1 * 1024 * 1024 * 1024
)

// Retry configuration.
const (
	// DefaultMaxRetries - default number of attempts for a transient failure.
	DefaultMaxRetries = 10

	// DefaultRetryBaseDelay - base delay before the first retry.
	DefaultRetryBaseDelay = 200 * time.Millisecond

	// DefaultRetryMaxDelay - ceiling for exponential backoff between retries.
	DefaultRetryMaxDelay = 15 * time.Second
)

// Concurrency and rate defaults, overridable via the configuration surface.
const (
	// DefaultMaxConcurrentFiles - default slot-semaphore capacity for backup uploads.
	DefaultMaxConcurrentFiles = 4

	// DefaultMaxConcurrentRestores - default slot-semaphore capacity for restore downloads.
	DefaultMaxConcurrentRestores = 4

	// DefaultBurstSeconds - seconds of transfer at the configured rate to allow
	// as byte-rate limiter burst capacity (2). The CLI does not read it: it
	// builds its limiter with a burst equal to one second of the configured rate.
	DefaultBurstSeconds = 2
)

// Key layout.
const (
	// KeyTimeLayout is the lexicographically-sortable minute-resolution instant
	// format embedded in every remote key (yyyyMMddHHmm).
	KeyTimeLayout = "200601021504"

	// MetaDirName is the fixed path segment under which manifests live.
	MetaDirName = "META"

	// SnapshotDirName and BackupsDirName mirror the database's on-disk layout
	// for snapshot and incremental directories under a column family.
	SnapshotDirName = "snapshots"
	BackupsDirName  = "backups"
)

// Event bus sizing.
const (
	// EventBusDefaultBuffer is the default per-subscriber channel buffer size.
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer caps how large a caller may request a subscriber buffer.
	EventBusMaxBuffer = 4096
)

// Retention and timeouts.
const (
	// DefaultRetentionDays - default number of days TransferRecords and
	// manifests are considered for retention/cleanup purposes.
	DefaultRetentionDays = 14

	// DefaultRequestTimeout - per-request HTTP timeout the database control
	// adapter uses when none is configured. Object-store calls are not
	// bounded by it.
	DefaultRequestTimeout = 2 * time.Minute

	// DefaultFileTimeout - a bound on the total time (including retries) spent
	// on one file. No transfer path applies it; a file's transfer is bounded
	// only by its context and the retry attempt limit.
	DefaultFileTimeout = 30 * time.Minute

	// DefaultRoundTimeout - a bound on an entire backup round. No round
	// driver applies it.
	DefaultRoundTimeout = 6 * time.Hour
)
