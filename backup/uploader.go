package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/INLOpen/nexusvault/compressors"
	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/meta"
	"github.com/INLOpen/nexusvault/objectstore"
	"github.com/INLOpen/nexusvault/status"
	"github.com/INLOpen/nexusvault/throttle"
)

// Uploader moves one local file into the object store: compress, meter,
// put, record. It is shared by the snapshot and incremental paths.
type Uploader struct {
	store       objectstore.Store
	codec       core.Codec
	governor    *throttle.Governor
	registry    *status.Registry
	cache       *FingerprintCache
	retry       objectstore.RetryPolicy
	fileTimeout time.Duration
	clock       core.Clock
	logger      *slog.Logger
}

// UploaderOptions wires an Uploader.
type UploaderOptions struct {
	Store       objectstore.Store
	Codec       core.Codec
	Governor    *throttle.Governor
	Registry    *status.Registry
	Cache       *FingerprintCache
	Retry       objectstore.RetryPolicy
	FileTimeout time.Duration
	Clock       core.Clock
	Logger      *slog.Logger
}

func NewUploader(opts UploaderOptions) *Uploader {
	if opts.Clock == nil {
		opts.Clock = core.SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = objectstore.DefaultRetry()
	}
	return &Uploader{
		store:       opts.Store,
		codec:       opts.Codec,
		governor:    opts.Governor,
		registry:    opts.Registry,
		cache:       opts.Cache,
		retry:       opts.Retry,
		fileTimeout: opts.FileTimeout,
		clock:       opts.Clock,
		logger:      opts.Logger.With("component", "Uploader"),
	}
}

// UploadResult reports one pipeline outcome.
type UploadResult struct {
	Entry   meta.Entry
	Skipped bool
}

// Upload runs the pipeline for one BackupPath: skip decision, governor
// admission, compressed streaming put, fingerprint and status updates.
// Retryable failures are re-attempted under the policy; the error
// returned is terminal.
func (u *Uploader) Upload(ctx context.Context, p core.BackupPath, roundID string) (UploadResult, error) {
	key := p.RemoteKey()
	if u.cache != nil && u.cache.Contains(key, p.Size) {
		// Already uploaded. The round's manifest still needs this entry,
		// so re-derive it from the local file; stable compression makes
		// the result identical to the original upload's.
		compressed, digest, err := u.measure(p)
		if err != nil {
			u.logger.Warn("Could not re-measure skipped file.", "key", key, "error", err)
			return UploadResult{Skipped: true, Entry: u.entryFor(p, 0, "")}, nil
		}
		u.logger.Debug("Upload skipped, fingerprint known.", "key", key)
		return UploadResult{Skipped: true, Entry: u.entryFor(p, compressed, digest)}, nil
	}

	u.registry.Enqueue(key, roundID)

	ticket, err := u.governor.Acquire(ctx, throttle.ClassBackup)
	if err != nil {
		u.registry.MarkFailed(key, err)
		return UploadResult{}, err
	}
	defer ticket.Release()

	if u.fileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.fileTimeout)
		defer cancel()
	}

	var compressed int64
	var digest string
	err = objectstore.Do(ctx, u.retry, func() error {
		u.registry.MarkRunning(key)
		n, sum, attemptErr := u.attempt(ctx, p, key)
		if attemptErr != nil {
			return attemptErr
		}
		compressed, digest = n, sum
		return nil
	})
	if err != nil {
		u.registry.MarkFailed(key, err)
		u.logger.Warn("Upload failed.", "key", key, "error", err)
		return UploadResult{}, err
	}

	now := u.clock.Now()
	if u.cache != nil {
		u.cache.Record(key, p.Size, now)
	}
	u.registry.MarkDone(key, compressed)
	u.logger.Info("Upload complete.", "key", key, "size", p.Size, "compressed_size", compressed)
	return UploadResult{Entry: u.entryFor(p, compressed, digest)}, nil
}

// attempt performs a single streaming put and verifies the source file
// did not change underneath the read.
func (u *Uploader) attempt(ctx context.Context, p core.BackupPath, key string) (int64, string, error) {
	src, err := openLocal(p.LocalPath)
	if err != nil {
		return 0, "", err
	}
	defer src.Close()

	hasher := sha256.New()
	metered := u.governor.NewReader(ctx, io.TeeReader(src, hasher))

	pr, pw := io.Pipe()
	counting := compressors.NewCountingWriter(pw)
	go func() {
		enc := u.codec.NewWriter(counting)
		_, copyErr := io.Copy(enc, metered)
		closeErr := enc.Close()
		if copyErr == nil {
			copyErr = closeErr
		}
		pw.CloseWithError(copyErr)
	}()

	metadata := map[string]string{
		"uncompressed-size": strconv.FormatInt(p.Size, 10),
		"codec":             string(u.codec.Type()),
	}
	if _, err := u.store.Put(ctx, key, pr, p.Size, metadata); err != nil {
		pr.CloseWithError(err)
		return 0, "", err
	}

	if src.Changed() {
		return 0, "", core.Errorf(core.KindLocalIO, "backup.upload", "file %s changed during upload", p.LocalPath)
	}
	return counting.Count(), hex.EncodeToString(hasher.Sum(nil)), nil
}

// measure streams the file through the codec without transmitting,
// producing the compressed size and digest a fresh upload would have.
func (u *Uploader) measure(p core.BackupPath) (int64, string, error) {
	src, err := openLocal(p.LocalPath)
	if err != nil {
		return 0, "", err
	}
	defer src.Close()

	hasher := sha256.New()
	counting := compressors.NewCountingWriter(io.Discard)
	enc := u.codec.NewWriter(counting)
	if _, err := io.Copy(enc, io.TeeReader(src, hasher)); err != nil {
		return 0, "", err
	}
	if err := enc.Close(); err != nil {
		return 0, "", err
	}
	return counting.Count(), hex.EncodeToString(hasher.Sum(nil)), nil
}

func (u *Uploader) entryFor(p core.BackupPath, compressed int64, digest string) meta.Entry {
	return meta.Entry{
		Keyspace:       p.Keyspace,
		ColumnFamily:   p.ColumnFamily,
		FileName:       p.FileName,
		RemoteKey:      p.RemoteKey(),
		Size:           p.Size,
		CompressedSize: compressed,
		SHA256:         digest,
	}
}
