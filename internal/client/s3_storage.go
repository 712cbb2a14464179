package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/songblend/api/internal/config"
	"github.com/songblend/api/internal/model"
)

// S3Storage reads song assets and stores blends in an S3-compatible bucket.
type S3Storage struct {
	s3Client     *s3.Client
	bucketName   string
	outputPrefix string
}

// NewS3Storage creates a client for AWS S3 or any compatible endpoint (R2, MinIO).
func NewS3Storage(cfg *config.StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("S3 configuration incomplete")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return &S3Storage{
		s3Client:     s3Client,
		bucketName:   cfg.Bucket,
		outputPrefix: cfg.OutputPrefix,
	}, nil
}

// Fetch downloads a song asset.
func (c *S3Storage) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, mapS3Error(err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Put uploads a finished blend under its artifact id.
func (c *S3Storage) Put(ctx context.Context, fileID string, data []byte) error {
	key := outputKey(c.outputPrefix, fileID)
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(OutputContentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Open streams a finished blend. The caller closes the reader.
func (c *S3Storage) Open(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	key := outputKey(c.outputPrefix, fileID)
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", key, mapS3Error(err))
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (c *S3Storage) Ping(ctx context.Context) error {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucketName)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", c.bucketName, mapS3Error(err))
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *S3Storage) IsConfigured() bool {
	return c.s3Client != nil && c.bucketName != ""
}

func mapS3Error(err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return model.ErrArtifactNotFound
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return model.ErrArtifactNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return model.ErrArtifactNotFound
		case "AccessDenied", "Forbidden":
			return ErrAccessDenied
		}
	}
	return err
}
