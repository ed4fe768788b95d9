// Package storage archives raw webhook payloads in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ErrObjectNotFound is returned by Get for unknown keys
var ErrObjectNotFound = errors.New("storage: object not found")

// S3PayloadArchive implements integration.PayloadArchive on any S3-compatible
// store (AWS S3, MinIO, RustFS)
type S3PayloadArchive struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// S3PayloadArchiveOption configures an S3PayloadArchive
type S3PayloadArchiveOption func(*S3PayloadArchive)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) S3PayloadArchiveOption {
	return func(a *S3PayloadArchive) {
		a.logger = logger
	}
}

// NewS3PayloadArchive creates an archive from storage configuration
func NewS3PayloadArchive(ctx context.Context, cfg *config.StorageConfig, opts ...S3PayloadArchiveOption) (*S3PayloadArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("storage access key and secret key are required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	a := &S3PayloadArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *S3PayloadArchive) objectKey(key string) string {
	return a.prefix + strings.TrimPrefix(key, "/")
}

// Put stores body under key
func (a *S3PayloadArchive) Put(ctx context.Context, key string, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.objectKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive payload %s: %w", key, err)
	}
	a.logger.Debug("Archived webhook payload", zap.String("key", a.objectKey(key)), zap.Int("bytes", len(body)))
	return nil
}

// Get returns the body stored under key
func (a *S3PayloadArchive) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read payload %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

var _ integration.PayloadArchive = (*S3PayloadArchive)(nil)
