package core

import "io"

// CompressionType names a stream codec in configuration and manifests.
type CompressionType string

const (
	CompressionSnappy CompressionType = "snappy"
	CompressionLZ4    CompressionType = "lz4"
	CompressionZstd   CompressionType = "zstd"
	CompressionNone   CompressionType = "none"
)

// Codec is a streaming compressor. Both directions operate with bounded
// in-memory windows; neither side may buffer proportional to the total
// stream size.
type Codec interface {
	Type() CompressionType
	// NewWriter wraps w so that writes are compressed. Close flushes the
	// final frame and must be called before the stream is complete.
	NewWriter(w io.Writer) io.WriteCloser
	// NewReader wraps r so that reads are decompressed. Integrity failures
	// surface as CorruptCompressed errors from Read.
	NewReader(r io.Reader) (io.ReadCloser, error)
}
