package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// sharedHTTPClient pools connections across every S3Backend in the process,
// the same connection-reuse tradeoff the teacher's multi-cloud uploader made.
var sharedHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	},
}

// S3Backend stores objects in a single AWS S3 (or S3-compatible) bucket.
// Client is the S3Client interface so tests can substitute a mock without a
// live bucket.
type S3Backend struct {
	Client   S3Client
	Uploader *manager.Uploader
	Bucket   string
}

// NewS3Backend loads AWS configuration for region and builds an S3Backend
// against bucket. Credentials come from the default provider chain (env,
// shared config, instance role) as is conventional for an AWS SDK v2 client.
func NewS3Backend(ctx context.Context, region, bucket string) (*S3Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = sharedHTTPClient
	})
	return &S3Backend{
		Client:   client,
		Uploader: manager.NewUploader(client),
		Bucket:   bucket,
	}, nil
}

// Put uses the multipart manager.Uploader so large file mirrors (§4.11) and
// raw chunk payloads don't need to fit in one PutObject request.
func (b *S3Backend) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	uploader := b.Uploader
	if uploader == nil {
		// Tests construct S3Backend with only Client set; fall back to a
		// single-shot PutObject through the same interface Get/Head use.
		_, err := b.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.Bucket),
			Key:    aws.String(path),
			Body:   r,
		})
		if err != nil {
			return opErr("put", path, err)
		}
		return nil
	}
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(path),
		Body:   r,
	}); err != nil {
		return opErr("put", path, err)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := b.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, notFound(path)
		}
		return nil, opErr("get", path, err)
	}
	return out.Body, nil
}

func (b *S3Backend) Delete(ctx context.Context, path string) error {
	if _, err := b.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(path),
	}); err != nil {
		return opErr("delete", path, err)
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		return true, nil
	}
	var notFoundErr *types.NotFound
	if errors.As(err, &notFoundErr) {
		return false, nil
	}
	return false, opErr("head", path, err)
}

func (b *S3Backend) Size(ctx context.Context, path string) (int64, error) {
	out, err := b.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var notFoundErr *types.NotFound
		if errors.As(err, &notFoundErr) {
			return 0, notFound(path)
		}
		return 0, opErr("head", path, err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

// md5Hex returns the hex-encoded MD5 digest of everything read from r,
// following the same pattern the teacher's Hetzner uploader used. Nothing
// in this module calls it.
func md5Hex(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var _ Backend = (*S3Backend)(nil)
