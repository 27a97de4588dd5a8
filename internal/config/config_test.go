package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ringbackup/sidecar/internal/errs"
)

func writeTestIni(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sidecar.ini")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write ini: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeTestIni(t, `
[sidecar]
backupLocation = b
appName = Test
dataFileLocation = /var/lib/db
maxConcurrentFiles = 8
compressionCodec = lzf
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConcurrentFiles != 8 {
		t.Fatalf("expected override to apply, got %d", cfg.MaxConcurrentFiles)
	}
	if cfg.CompressionCodec != CodecLZF {
		t.Fatalf("expected lzf, got %s", cfg.CompressionCodec)
	}
	if cfg.MaxConcurrentRestores == 0 {
		t.Fatal("expected default to remain populated")
	}
	if cfg.BackupPrefix != "backup" {
		t.Fatalf("expected default backupPrefix, got %q", cfg.BackupPrefix)
	}
}

func TestLoadMissingRequiredFieldFails(t *testing.T) {
	path := writeTestIni(t, `
[sidecar]
appName = Test
dataFileLocation = /var/lib/db
`)

	_, err := Load(path)
	if !errs.Is(err, errs.KindConfig) {
		t.Fatalf("expected KindConfig error, got %v", err)
	}
}

func TestLoadRejectsS3BackendWithoutBucket(t *testing.T) {
	path := writeTestIni(t, `
[sidecar]
backupLocation = b
appName = Test
dataFileLocation = /var/lib/db
backend = s3
`)

	_, err := Load(path)
	if !errs.Is(err, errs.KindConfig) {
		t.Fatalf("expected KindConfig error, got %v", err)
	}
}

func TestLoadAcceptsAzureBackendWithRequiredFields(t *testing.T) {
	path := writeTestIni(t, `
[sidecar]
backupLocation = b
appName = Test
dataFileLocation = /var/lib/db
backend = azure
azureContainer = backups
azureAccountURL = https://example.blob.core.windows.net
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendAzure {
		t.Fatalf("expected azure backend, got %s", cfg.Backend)
	}
}

func TestLoadRejectsUnknownCodec(t *testing.T) {
	path := writeTestIni(t, `
[sidecar]
backupLocation = b
appName = Test
dataFileLocation = /var/lib/db
compressionCodec = zstd
`)

	_, err := Load(path)
	if !errs.Is(err, errs.KindConfig) {
		t.Fatalf("expected KindConfig error, got %v", err)
	}
}
