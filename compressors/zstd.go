package compressors

import (
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/INLOpen/nexusvault/core"
)

// ZstdCodec implements the streaming codec using zstandard.
type ZstdCodec struct{}

var _ core.Codec = (*ZstdCodec)(nil)

func NewZstdCodec() *ZstdCodec { return &ZstdCodec{} }

func (c *ZstdCodec) Type() core.CompressionType { return core.CompressionZstd }

func (c *ZstdCodec) NewWriter(w io.Writer) io.WriteCloser {
	// NewWriter only fails on invalid options; the defaults are valid.
	zw, _ := zstd.NewWriter(w)
	return zw
}

func (c *ZstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, core.NewError(core.KindCorruptCompressed, "compressors.zstd", err)
	}
	return &decompressReader{r: zr.IOReadCloser()}, nil
}
