// Package streamio provides streaming compression for data files moving
// through the upload and restore pipelines. Every codec here is bounded: a
// compressor or decompressor never allocates a buffer proportional to the
// total size of the stream it is handling, only to a fixed chunk size.
package streamio

import (
	"compress/flate"
	"io"

	"github.com/klauspost/compress/s2"

	"github.com/ringbackup/sidecar/internal/errs"
)

// Codec identifies a configured compression scheme for a data file.
type Codec string

const (
	// CodecSnappy is the default: a snappy-compatible framed stream with
	// per-block checksums, bounded to one block's worth of memory at a time.
	CodecSnappy Codec = "snappy"
	// CodecLZF is accepted for compatibility with legacy backups. No LZF
	// implementation is available in this codebase's dependency set, so it
	// is served by the standard library's DEFLATE implementation; see
	// DESIGN.md for the justification.
	CodecLZF Codec = "lzf"
	// CodecNone disables compression; bytes pass through unchanged.
	CodecNone Codec = "none"
)

// CountingReader wraps a reader and tracks the number of bytes read from it,
// used to report uncompressed size as a side output of the compress step.
type CountingReader struct {
	r     io.Reader
	count int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.count += int64(n)
	return n, err
}

// Count returns the number of bytes read so far.
func (c *CountingReader) Count() int64 { return c.count }

// CountingWriter wraps a writer and tracks the number of bytes written to
// it, used to report compressed size as a side output of the compress step.
type CountingWriter struct {
	w     io.Writer
	count int64
}

// NewCountingWriter wraps w.
func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w}
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.count += int64(n)
	return n, err
}

// Count returns the number of bytes written so far.
func (c *CountingWriter) Count() int64 { return c.count }

// nopWriteCloser adapts an io.Writer with no Close method (the CodecNone path).
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// nopReadCloser adapts an io.Reader with no Close method.
type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

// NewCompressWriter wraps dst with a streaming compressor for the given
// codec. Callers must Close the returned writer to flush trailing blocks.
func NewCompressWriter(dst io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecSnappy:
		w := s2.NewWriter(dst, s2.WriterSnappyCompat(), s2.WriterBetterCompression())
		return w, nil
	case CodecLZF:
		w, err := flate.NewWriter(dst, flate.DefaultCompression)
		if err != nil {
			return nil, errs.New(errs.KindLocalIO, "streamio.NewCompressWriter", err)
		}
		return w, nil
	case CodecNone:
		return nopWriteCloser{dst}, nil
	default:
		return nil, errs.New(errs.KindConfig, "streamio.NewCompressWriter", errUnknownCodec(codec))
	}
}

// NewDecompressReader wraps src with a streaming decompressor for the given
// codec. A checksum or trailing-byte mismatch surfaces as KindCorruptCompressed
// only once the caller actually reads past the bad block — callers should
// read the stream to completion (e.g. io.Copy) to force validation.
func NewDecompressReader(src io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecSnappy:
		r := s2.NewReader(src)
		return &s2ReadCloser{r: r}, nil
	case CodecLZF:
		r := flate.NewReader(src)
		return &flateReadCloser{r: r}, nil
	case CodecNone:
		return nopReadCloser{src}, nil
	default:
		return nil, errs.New(errs.KindConfig, "streamio.NewDecompressReader", errUnknownCodec(codec))
	}
}

type s2ReadCloser struct {
	r *s2.Reader
}

func (s *s2ReadCloser) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		return n, errs.New(errs.KindCorruptCompressed, "streamio.s2Read", err)
	}
	return n, err
}

func (s *s2ReadCloser) Close() error { return nil }

type flateReadCloser struct {
	r io.ReadCloser
}

func (f *flateReadCloser) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err != nil && err != io.EOF {
		return n, errs.New(errs.KindCorruptCompressed, "streamio.flateRead", err)
	}
	return n, err
}

func (f *flateReadCloser) Close() error { return f.r.Close() }

func errUnknownCodec(codec Codec) error {
	return &unknownCodecError{codec: codec}
}

type unknownCodecError struct{ codec Codec }

func (e *unknownCodecError) Error() string {
	return "unknown compression codec: " + string(e.codec)
}
