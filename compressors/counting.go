package compressors

import (
	"io"
	"sync/atomic"
)

// CountingWriter counts bytes written through it. Used to measure the
// compressed size of an upload at the transport boundary.
type CountingWriter struct {
	w io.Writer
	n atomic.Int64
}

func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w}
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *CountingWriter) Count() int64 { return c.n.Load() }

// CountingReader counts bytes read through it. Used to measure the
// uncompressed size of a stream as a side output.
type CountingReader struct {
	r io.Reader
	n atomic.Int64
}

func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *CountingReader) Count() int64 { return c.n.Load() }
