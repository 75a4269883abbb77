package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/INLOpen/nexusvault/core"
)

// S3Store implements Store on an S3-compatible backend. The canonical
// key's leading segment is the bucket (the configured backup location);
// the remainder is the object key.
type S3Store struct {
	client    *s3.S3
	uploader  *s3manager.Uploader
	multipart MultipartConfig
}

// S3Config carries driver-level options.
type S3Config struct {
	Region   string
	Endpoint string // non-empty for S3-compatible stores
	// RequestTimeout bounds a single HTTP call; per-file and per-round
	// bounds live above the driver.
	RequestTimeout time.Duration
	Multipart      MultipartConfig
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.RequestTimeout > 0 {
		awsCfg = awsCfg.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout})
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, core.NewError(core.KindConfig, "s3store.new", err)
	}
	if cfg.Multipart.MaxParts == 0 {
		cfg.Multipart = DefaultMultipart()
	}
	client := s3.New(sess)
	uploader := s3manager.NewUploaderWithClient(client, func(u *s3manager.Uploader) {
		u.Concurrency = cfg.Multipart.Parallelism
	})
	return &S3Store{client: client, uploader: uploader, multipart: cfg.Multipart}, nil
}

var _ Store = (*S3Store)(nil)

func splitKey(op, key string) (bucket, objectKey string, err error) {
	i := strings.IndexByte(key, '/')
	if i <= 0 || i == len(key)-1 {
		return "", "", core.Errorf(core.KindMalformedKey, op, "key %q has no bucket segment", key)
	}
	return key[:i], key[i+1:], nil
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (string, error) {
	const op = "s3store.put"
	bucket, objectKey, err := splitKey(op, key)
	if err != nil {
		return "", err
	}
	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = aws.String(v)
	}

	// s3manager streams parts concurrently and cancels the siblings of a
	// failed part through ctx; below the threshold it keeps the SDK default
	// part size, so a body that fits one default part goes as a single
	// PutObject and a larger one is still sent in default-sized parts.
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(objectKey),
		Body:     r,
		Metadata: meta,
	}, func(u *s3manager.Uploader) {
		if size > s.multipart.Threshold {
			u.PartSize = s.multipart.PartSize(size)
		} else {
			u.PartSize = s3manager.DefaultUploadPartSize
		}
	})
	if err != nil {
		return "", mapAWSError(op, err)
	}
	return aws.StringValue(out.ETag), nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	const op = "s3store.get"
	bucket, objectKey, err := splitKey(op, key)
	if err != nil {
		return nil, err
	}
	open := func(offset int64) (io.ReadCloser, error) {
		in := &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(objectKey),
		}
		if offset > 0 {
			in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
		out, err := s.client.GetObjectWithContext(ctx, in)
		if err != nil {
			return nil, mapAWSError(op, err)
		}
		return out.Body, nil
	}
	body, err := open(0)
	if err != nil {
		return nil, err
	}
	return &restartingReader{open: open, cur: body}, nil
}

func (s *S3Store) List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	const op = "s3store.list"
	bucket, objectPrefix, err := splitKey(op, prefix)
	if err != nil {
		return err
	}
	var cbErr error
	pageErr := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(objectPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			info := ObjectInfo{
				Key:     bucket + "/" + aws.StringValue(obj.Key),
				Size:    aws.Int64Value(obj.Size),
				ModTime: aws.TimeValue(obj.LastModified),
			}
			if err := fn(info); err != nil {
				cbErr = err
				return false
			}
		}
		return true
	})
	if cbErr != nil {
		if cbErr == ErrStopIteration {
			return nil
		}
		return cbErr
	}
	if pageErr != nil {
		return mapAWSError(op, pageErr)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	const op = "s3store.delete"
	bucket, objectKey, err := splitKey(op, key)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return mapAWSError(op, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	const op = "s3store.exists"
	bucket, objectKey, err := splitKey(op, key)
	if err != nil {
		return false, err
	}
	if _, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		mapped := mapAWSError(op, err)
		if IsNotFound(mapped) {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

// mapAWSError folds SDK errors into the error-kind policy: missing keys
// become ErrNotFound, throttling and 5xx are transient, the rest of the
// 4xx space is permanent.
func mapAWSError(op string, err error) error {
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return notFoundErr(op, aerr.Message())
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", request.ErrCodeRequestError, request.CanceledErrorCode:
			if aerr.Code() == request.CanceledErrorCode {
				return core.NewError(core.KindCancelled, op, err)
			}
			return core.NewError(core.KindRemoteTransient, op, err)
		}
		if rf, ok := err.(awserr.RequestFailure); ok {
			switch {
			case rf.StatusCode() == http.StatusNotFound:
				return notFoundErr(op, rf.Message())
			case rf.StatusCode() >= 500 || rf.StatusCode() == http.StatusTooManyRequests:
				return core.NewError(core.KindRemoteTransient, op, err)
			default:
				return core.NewError(core.KindRemotePermanent, op, err)
			}
		}
		// Connection-level failures come through without an HTTP status.
		return core.NewError(core.KindRemoteTransient, op, err)
	}
	return core.NewError(core.KindRemoteTransient, op, err)
}

// restartingReader resumes an interrupted download with a range request,
// so a long fetch survives transient connection resets.
type restartingReader struct {
	open     func(offset int64) (io.ReadCloser, error)
	cur      io.ReadCloser
	offset   int64
	restarts int
}

const maxReadRestarts = 3

func (r *restartingReader) Read(p []byte) (int, error) {
	for {
		n, err := r.cur.Read(p)
		r.offset += int64(n)
		if err == nil || err == io.EOF {
			return n, err
		}
		if r.restarts >= maxReadRestarts {
			return n, core.NewError(core.KindRemoteTransient, "s3store.read", err)
		}
		r.restarts++
		r.cur.Close()
		next, openErr := r.open(r.offset)
		if openErr != nil {
			return n, openErr
		}
		r.cur = next
		if n > 0 {
			return n, nil
		}
	}
}

func (r *restartingReader) Close() error {
	return r.cur.Close()
}
