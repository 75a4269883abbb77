// Package objectstore defines the uniform contract the pipeline speaks to
// a blob backend, plus the S3, local-filesystem and in-memory drivers.
package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/INLOpen/nexusvault/core"
)

// ErrNotFound marks a key that does not exist. Callers translate it into
// their own policy (a broken manifest during restore, false from
// S3Store.Exists).
var ErrNotFound = errors.New("object not found")

// ErrStopIteration may be returned from a List callback to stop the
// listing early without error.
var ErrStopIteration = errors.New("stop iteration")

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the backend contract. All methods honor ctx cancellation;
// failures carry a core error kind (RemoteTransient, RemotePermanent) so
// the retry policy can match without knowing the driver.
type Store interface {
	// Put writes size bytes from r under key and returns the backend ETag.
	// Drivers may switch to a multipart upload above their threshold.
	Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (string, error)
	// Get opens the object for reading. Drivers with range support return
	// a reader that restarts on transient failures.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List calls fn for every object under prefix in lexicographic key
	// order. fn returning ErrStopIteration stops the listing early.
	List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// MultipartConfig sizes multipart uploads.
type MultipartConfig struct {
	Threshold   int64 // switch to multipart above this size
	MinPartSize int64
	MaxParts    int64
	Parallelism int // concurrent part uploads
}

// DefaultMultipart mirrors the S3 service limits.
func DefaultMultipart() MultipartConfig {
	return MultipartConfig{
		Threshold:   64 << 20,
		MinPartSize: 5 << 20,
		MaxParts:    10000,
		Parallelism: 4,
	}
}

// PartSize returns the part size for a file of the given total size:
// max(minPart, ceil(size/maxParts)).
func (c MultipartConfig) PartSize(size int64) int64 {
	part := (size + c.MaxParts - 1) / c.MaxParts
	if part < c.MinPartSize {
		part = c.MinPartSize
	}
	return part
}

func notFoundErr(op, key string) error {
	return core.NewError(core.KindRemotePermanent, op, fmt.Errorf("%w: %s", ErrNotFound, key))
}

// etagOf computes the hex md5 of a payload, the ETag convention of
// single-part S3 uploads, reused by the non-S3 drivers.
func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
