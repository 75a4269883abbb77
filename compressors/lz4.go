package compressors

import (
	"io"

	lz4 "github.com/pierrec/lz4/v4"

	"github.com/INLOpen/nexusvault/core"
)

// LZ4Codec implements the streaming codec using the lz4 frame format. It
// serves configurations that name the legacy codec; the frame carries a
// content checksum so corruption is detected on read.
type LZ4Codec struct{}

var _ core.Codec = (*LZ4Codec)(nil)

func NewLZ4Codec() *LZ4Codec { return &LZ4Codec{} }

func (c *LZ4Codec) Type() core.CompressionType { return core.CompressionLZ4 }

func (c *LZ4Codec) NewWriter(w io.Writer) io.WriteCloser {
	zw := lz4.NewWriter(w)
	// Content checksum on, so corruption is caught on read.
	_ = zw.Apply(lz4.ChecksumOption(true))
	return zw
}

func (c *LZ4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return &decompressReader{r: lz4.NewReader(r)}, nil
}
