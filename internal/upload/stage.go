package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/ringbackup/sidecar/internal/config"
	"github.com/ringbackup/sidecar/internal/errs"
	"github.com/ringbackup/sidecar/internal/streamio"
)

// codecFor maps the configuration surface's compression codec to the stream
// codec streamio understands. The two types exist separately because config
// is an on-disk settings concern and streamio is a pure codec concern; this
// is the one place that bridges them.
func codecFor(c config.CompressionCodec) streamio.Codec {
	switch c {
	case config.CodecLZF:
		return streamio.CodecLZF
	case config.CodecNone:
		return streamio.CodecNone
	default:
		return streamio.CodecSnappy
	}
}

// stageResult is what staging one local file produces.
type stageResult struct {
	path           string // staged, compressed temp file
	compressedSize int64
	sha256         string // of the original, uncompressed bytes
}

// stage reads localPath, computes its sha256, and writes a compressed copy
// to a temp file under dir, returning the staged file's path and size. The
// caller owns removing the staged file once it's been transmitted.
func stage(dir, localPath string, codec config.CompressionCodec) (stageResult, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return stageResult{}, errs.New(errs.KindLocalIO, "upload.stage.open", err)
	}
	defer src.Close()

	out, err := os.CreateTemp(dir, "sidecar-upload-*.tmp")
	if err != nil {
		return stageResult{}, errs.New(errs.KindLocalIO, "upload.stage.createTemp", err)
	}
	defer out.Close()

	cw, err := streamio.NewCompressWriter(out, codecFor(codec))
	if err != nil {
		os.Remove(out.Name())
		return stageResult{}, err
	}

	h := sha256.New()
	tee := io.TeeReader(src, h)
	if _, err := io.Copy(cw, tee); err != nil {
		os.Remove(out.Name())
		return stageResult{}, errs.New(errs.KindLocalIO, "upload.stage.copy", err)
	}
	if err := cw.Close(); err != nil {
		os.Remove(out.Name())
		return stageResult{}, errs.New(errs.KindLocalIO, "upload.stage.flush", err)
	}

	info, err := out.Stat()
	if err != nil {
		os.Remove(out.Name())
		return stageResult{}, errs.New(errs.KindLocalIO, "upload.stage.stat", err)
	}

	return stageResult{
		path:           filepath.Clean(out.Name()),
		compressedSize: info.Size(),
		sha256:         hex.EncodeToString(h.Sum(nil)),
	}, nil
}
