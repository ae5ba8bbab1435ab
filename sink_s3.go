package procession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3SinkConfig configures the S3 snapshot store.
type S3SinkConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)
	// AccessKeyID for authentication. Prefer IAM roles, instance
	// profiles, or environment variables (AWS_ACCESS_KEY_ID,
	// AWS_SECRET_ACCESS_KEY) instead of setting these directly. DO NOT
	// commit credentials to source control.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`         // Key prefix for all objects
	UsePathStyle    bool   `yaml:"use_path_style"` // Use path-style addressing

	// MaxRetries is the max attempts for each S3 operation.
	MaxRetries int `yaml:"max_retries"`
}

// S3Sink stores named snapshots in S3 or S3-compatible object storage.
// Like SQLiteSink it is a snapshot archive for the serialized form, not a
// storage backend for live data.
type S3Sink struct {
	client s3Client
	config S3SinkConfig
}

// s3Client is the subset of the S3 API the sink uses, extracted so tests
// can substitute a fake.
type s3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Sink creates a snapshot store on the configured bucket.
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &S3Sink{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
	}, nil
}

func (s *S3Sink) key(name string) string {
	if s.config.Prefix == "" {
		return name
	}
	return strings.TrimSuffix(s.config.Prefix, "/") + "/" + name
}

// retry runs op up to MaxRetries times with doubling backoff, respecting
// context cancellation between attempts.
func (s *S3Sink) retry(ctx context.Context, op func() error) error {
	backoff := 100 * time.Millisecond
	var err error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = op(); err == nil {
			return nil
		}
	}
	return err
}

// Save serializes the series with cfg and uploads it under name.
func (s *S3Sink) Save(ctx context.Context, name string, p *Procession, cfg SnapshotConfig) error {
	data, err := EncodeSnapshot(p, cfg)
	if err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(s.key(name)),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return fmt.Errorf("S3 put object failed: %w", err)
		}
		return nil
	})
}

// Load downloads and rebuilds the named snapshot. Returns
// ErrSnapshotNotFound when the object does not exist.
func (s *S3Sink) Load(ctx context.Context, name string, cfg SnapshotConfig) (*Procession, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(s.key(name)),
		})
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
		}
		return nil, fmt.Errorf("S3 get object failed: %w", err)
	}
	return DecodeSnapshot(data, cfg)
}

// List returns the names of stored snapshots under the configured prefix.
func (s *S3Sink) List(ctx context.Context) ([]string, error) {
	var names []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
	}
	if s.config.Prefix != "" {
		input.Prefix = aws.String(strings.TrimSuffix(s.config.Prefix, "/") + "/")
	}
	for {
		resp, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("S3 list objects failed: %w", err)
		}
		for _, obj := range resp.Contents {
			name := aws.ToString(obj.Key)
			if input.Prefix != nil {
				name = strings.TrimPrefix(name, aws.ToString(input.Prefix))
			}
			names = append(names, name)
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		input.ContinuationToken = resp.NextContinuationToken
	}
	return names, nil
}

// Delete removes the named snapshot.
func (s *S3Sink) Delete(ctx context.Context, name string) error {
	return s.retry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(s.key(name)),
		})
		if err != nil {
			return fmt.Errorf("S3 delete object failed: %w", err)
		}
		return nil
	})
}
