package mountserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tqbf/automount/pkg/config"
)

// S3Store keeps blobs in a bucket, one object per hash under Prefix.
// Works against MinIO and other S3-compatible endpoints.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, cfg config.S3Store) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store: no bucket")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	st := &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
	if err := st.ensureBucket(ctx); err != nil {
		slog.Error("bucket check failed", "bucket", cfg.Bucket, "err", err)
	}
	return st, nil
}

func (s *S3Store) key(hash string) string {
	return path.Join(s.prefix, "blobs", hash[:2], hash)
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	recordS3("create_bucket", start, err)
	if err != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, err)
	}
	slog.Info("created S3 bucket", "bucket", s.bucket)
	return nil
}

func (s *S3Store) Has(ctx context.Context, hash string) (bool, error) {
	start := time.Now()
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if isNotFound(err) {
		recordS3("head_object", start, nil)
		return false, nil
	}
	recordS3("head_object", start, err)
	if err != nil {
		return false, fmt.Errorf("head object %s: %w", hash, err)
	}
	return true, nil
}

// Put needs r to be seekable for request signing; UnpackBlobs hands
// over a temp file.
func (s *S3Store) Put(ctx context.Context, hash string, size int64, r io.Reader) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(hash)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	recordS3("put_object", start, err)
	if err != nil {
		return fmt.Errorf("put object %s: %w", hash, err)
	}
	slog.Debug("S3 put object", "hash", hash, "size", size)
	return nil
}

func (s *S3Store) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if isNotFound(err) {
		recordS3("get_object", start, nil)
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, hash)
	}
	recordS3("get_object", start, err)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", hash, err)
	}
	return out.Body, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	var nk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nk)
}
