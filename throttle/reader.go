package throttle

import (
	"context"
	"io"

	"github.com/INLOpen/nexusvault/core"
)

// Reader meters an io.Reader through the governor's byte bucket. Token
// consumption happens at the read boundary, which is also where
// cancellation is observed.
type Reader struct {
	ctx context.Context
	r   io.Reader
	g   *Governor
}

func (g *Governor) NewReader(ctx context.Context, r io.Reader) *Reader {
	return &Reader{ctx: ctx, r: r, g: g}
}

func (t *Reader) Read(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		kind := core.KindCancelled
		if err == context.DeadlineExceeded {
			kind = core.KindTimeout
		}
		return 0, core.NewError(kind, "throttle.read", err)
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.g.WaitBytes(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
