// Package artifact uploads function packages to S3 compatible object storage.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

const defaultRegion = "us-east-1"

// PutObjectAPI is the slice of the S3 client the store uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures the S3 connection. A non empty Endpoint targets MinIO or
// another S3 compatible server with path style addressing.
type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type S3Store struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Store loads the AWS configuration and builds a store for opts.Bucket.
// Static credentials are used when both keys are set, otherwise the default
// credential chain applies.
func NewS3Store(ctx context.Context, opts Options, logger *slog.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("artifact: bucket is required")
	}
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}

	loaders := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, opts.Bucket, opts.Prefix, logger), nil
}

func NewS3StoreWithClient(client PutObjectAPI, bucket, prefix string, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// UploadArtifact stores the package under a fresh key and returns its s3:// location.
func (s *S3Store) UploadArtifact(ctx context.Context, a function.Artifact) (string, error) {
	if len(a.Content) == 0 {
		return "", errors.New("artifact: package is empty")
	}
	key := s.key(a.Filename)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(a.Content),
		ContentLength: aws.Int64(int64(len(a.Content))),
		ContentType:   aws.String(contentType(a.Filename)),
	})
	if err != nil {
		s.logger.Error("failed to upload artifact", "bucket", s.bucket, "key", key, "error", err)
		return "", err
	}
	s.logger.Debug("artifact uploaded", "bucket", s.bucket, "key", key, "bytes", len(a.Content))
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) key(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "package"
	}
	return path.Join(s.prefix, uuid.NewString(), name)
}

func contentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".zip"):
		return "application/zip"
	case strings.HasSuffix(filename, ".tar.gz"), strings.HasSuffix(filename, ".tgz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
