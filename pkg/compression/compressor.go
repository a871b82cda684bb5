// Package compression provides the output framings supported for emitted
// log artifacts. The default framing is gzip; zstd and lz4 are selectable
// per-instance, and "none" disables compression entirely.
package compression

import (
	"bytes"
	"compress/gzip"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hashicorp-forge/grove/pkg/errors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None disables compression
	None Algorithm = "none"
	// Gzip represents gzip compression, the default framing
	Gzip Algorithm = "gzip"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// LZ4 represents lz4 compression
	LZ4 Algorithm = "lz4"
)

// Compressor compresses serialized batches before they are written to an
// output backend. Implementations are safe for concurrent use.
type Compressor interface {
	// Compress compresses data and returns the compressed bytes. The
	// input is not modified.
	Compress(data []byte) ([]byte, error)

	// Extension returns the file extension suffix for this framing,
	// including any leading content extension (e.g. "json.gz").
	Extension() string
}

// NewCompressor returns a compressor for the named algorithm. An empty
// algorithm selects gzip.
func NewCompressor(algorithm Algorithm) (Compressor, error) {
	switch algorithm {
	case "", Gzip:
		return &gzipCompressor{}, nil
	case Zstd:
		return newZstdCompressor()
	case LZ4:
		return &lz4Compressor{}, nil
	case None:
		return &passthrough{}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfiguration, "unsupported output encoding %q", algorithm)
	}
}

type gzipCompressor struct {
	writers sync.Pool
}

func (c *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, _ := c.writers.Get().(*gzip.Writer)
	if writer == nil {
		writer = gzip.NewWriter(&buf)
	} else {
		writer.Reset(&buf)
	}
	defer c.writers.Put(writer)

	if _, err := writer.Write(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "gzip compression failed")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "gzip compression failed")
	}
	return buf.Bytes(), nil
}

func (c *gzipCompressor) Extension() string { return "json.gz" }

type zstdCompressor struct {
	encoder *zstd.Encoder
}

func newZstdCompressor() (*zstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "unable to construct zstd encoder")
	}
	return &zstdCompressor{encoder: encoder}, nil
}

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *zstdCompressor) Extension() string { return "json.zst" }

type lz4Compressor struct{}

func (c *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer := lz4.NewWriter(&buf)
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "lz4 compression failed")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "lz4 compression failed")
	}
	return buf.Bytes(), nil
}

func (c *lz4Compressor) Extension() string { return "json.lz4" }

type passthrough struct{}

func (c *passthrough) Compress(data []byte) ([]byte, error) { return data, nil }

func (c *passthrough) Extension() string { return "json" }
