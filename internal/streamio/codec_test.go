package streamio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ringbackup/sidecar/internal/errs"
)

func roundTrip(t *testing.T, codec Codec, payload []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer

	cw, err := NewCompressWriter(&compressed, codec)
	if err != nil {
		t.Fatalf("NewCompressWriter: %v", err)
	}
	if _, err := cw.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	dr, err := NewDecompressReader(&compressed, codec)
	if err != nil {
		t.Fatalf("NewDecompressReader: %v", err)
	}
	defer dr.Close()

	var out bytes.Buffer
	if _, err := CopyBounded(&out, dr); err != nil {
		t.Fatalf("CopyBounded: %v", err)
	}
	return out.Bytes()
}

func TestSnappyRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 10000))
	got := roundTrip(t, CodecSnappy, payload)
	if !bytes.Equal(got, payload) {
		t.Fatal("round trip mismatch for snappy codec")
	}
}

func TestLZFRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("sstable data block ", 5000))
	got := roundTrip(t, CodecLZF, payload)
	if !bytes.Equal(got, payload) {
		t.Fatal("round trip mismatch for lzf codec")
	}
}

func TestNoneRoundTrip(t *testing.T) {
	payload := []byte("raw bytes, no compression")
	got := roundTrip(t, CodecNone, payload)
	if !bytes.Equal(got, payload) {
		t.Fatal("round trip mismatch for none codec")
	}
}

func TestCorruptSnappyStreamFailsWithCorruptCompressed(t *testing.T) {
	var compressed bytes.Buffer
	cw, _ := NewCompressWriter(&compressed, CodecSnappy)
	cw.Write([]byte(strings.Repeat("data", 1000)))
	cw.Close()

	corrupted := compressed.Bytes()
	for i := len(corrupted) / 2; i < len(corrupted); i++ {
		corrupted[i] ^= 0xFF
	}

	dr, err := NewDecompressReader(bytes.NewReader(corrupted), CodecSnappy)
	if err != nil {
		t.Fatalf("NewDecompressReader: %v", err)
	}
	defer dr.Close()

	var out bytes.Buffer
	_, err = CopyBounded(&out, dr)
	if !errs.Is(err, errs.KindCorruptCompressed) {
		t.Fatalf("expected KindCorruptCompressed, got %v", err)
	}
}

func TestUnknownCodecRejected(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewCompressWriter(&buf, Codec("zstd"))
	if !errs.Is(err, errs.KindConfig) {
		t.Fatalf("expected KindConfig, got %v", err)
	}
}

func TestCountingReaderWriter(t *testing.T) {
	src := bytes.NewReader([]byte("hello world"))
	cr := NewCountingReader(src)
	var dst bytes.Buffer
	cw := NewCountingWriter(&dst)

	if _, err := CopyBounded(cw, cr); err != nil {
		t.Fatalf("CopyBounded: %v", err)
	}
	if cr.Count() != 11 || cw.Count() != 11 {
		t.Fatalf("expected counts of 11, got read=%d write=%d", cr.Count(), cw.Count())
	}
}
