package compressors

import (
	"io"

	"github.com/INLOpen/nexusvault/core"
)

// NoneCodec passes bytes through unmodified.
type NoneCodec struct{}

var _ core.Codec = (*NoneCodec)(nil)

func NewNoneCodec() *NoneCodec { return &NoneCodec{} }

func (c *NoneCodec) Type() core.CompressionType { return core.CompressionNone }

func (c *NoneCodec) NewWriter(w io.Writer) io.WriteCloser {
	return &nopWriteCloser{w}
}

func (c *NoneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
