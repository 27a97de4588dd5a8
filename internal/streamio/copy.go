package streamio

import (
	"io"

	"github.com/ringbackup/sidecar/internal/errs"
	"github.com/ringbackup/sidecar/internal/util/buffers"
)

// CopyBounded copies from src to dst using a single pooled chunk buffer,
// never allocating memory proportional to the amount of data copied. The
// upload stage and the restore executor copy with io.Copy, not with
// CopyBounded.
func CopyBounded(dst io.Writer, src io.Reader) (int64, error) {
	buf := buffers.GetChunkBuffer()
	defer buffers.PutChunkBuffer(buf)

	var written int64
	for {
		n, rerr := src.Read(*buf)
		if n > 0 {
			wn, werr := dst.Write((*buf)[:n])
			written += int64(wn)
			if werr != nil {
				return written, errs.New(errs.KindLocalIO, "streamio.CopyBounded", werr)
			}
			if wn != n {
				return written, errs.New(errs.KindLocalIO, "streamio.CopyBounded", io.ErrShortWrite)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
