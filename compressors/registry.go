package compressors

import (
	"errors"
	"io"
	"strings"

	"github.com/INLOpen/nexusvault/core"
)

// ParseType resolves a configured codec name. "lzf" is accepted as an
// alias for lz4: configurations written for the legacy codec keep loading,
// and the lz4 frame is its maintained successor.
func ParseType(name string) (core.CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return core.CompressionSnappy, nil
	case "lz4", "lzf":
		return core.CompressionLZ4, nil
	case "zstd":
		return core.CompressionZstd, nil
	case "none":
		return core.CompressionNone, nil
	default:
		return "", core.Errorf(core.KindConfig, "compressors.parse", "unknown compression codec %q", name)
	}
}

// ForType returns the codec implementing the given type.
func ForType(t core.CompressionType) (core.Codec, error) {
	switch t {
	case core.CompressionSnappy:
		return NewSnappyCodec(), nil
	case core.CompressionLZ4:
		return NewLZ4Codec(), nil
	case core.CompressionZstd:
		return NewZstdCodec(), nil
	case core.CompressionNone:
		return NewNoneCodec(), nil
	default:
		return nil, core.Errorf(core.KindConfig, "compressors.fortype", "no codec registered for %q", t)
	}
}

// decompressReader translates decoder failures into CorruptCompressed
// errors so callers match on kind instead of on codec internals.
type decompressReader struct {
	r io.Reader
}

func (d *decompressReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && core.KindOf(err) == core.KindUnknown {
		err = core.NewError(core.KindCorruptCompressed, "compressors.read", err)
	}
	return n, err
}

func (d *decompressReader) Close() error {
	if c, ok := d.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
