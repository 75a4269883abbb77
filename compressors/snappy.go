package compressors

import (
	"io"

	"github.com/golang/snappy"

	"github.com/INLOpen/nexusvault/core"
)

// SnappyCodec implements the streaming codec using the snappy framing
// format. It is the default codec.
type SnappyCodec struct{}

var _ core.Codec = (*SnappyCodec)(nil)

func NewSnappyCodec() *SnappyCodec { return &SnappyCodec{} }

func (c *SnappyCodec) Type() core.CompressionType { return core.CompressionSnappy }

func (c *SnappyCodec) NewWriter(w io.Writer) io.WriteCloser {
	// The buffered writer emits the framing format, which carries per-chunk
	// CRCs and is streamable with a fixed 64KiB window.
	return snappy.NewBufferedWriter(w)
}

func (c *SnappyCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return &decompressReader{r: snappy.NewReader(r)}, nil
}
