package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"autocmx/internal/config"
)

type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a client for an S3-compatible endpoint such as MinIO.
func New(ctx context.Context, cfg config.S3Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: fmt.Sprintf("http://%s", cfg.Endpoint),
			HostnameImmutable: true}, nil
	})
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey,
			cfg.SecretKey,
			"")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	return &Client{s3: s3.NewFromConfig(awsCfg), bucket: cfg.Bucket}, nil
}

// ArchiveKey is the object key of one archived post. Keys sort by arrival
// within a test.
func ArchiveKey(testID string, receivedAt time.Time) string {
	return fmt.Sprintf("posts/%s/%s-%s.json", testID, receivedAt.UTC().Format("20060102T150405.000000Z"), uuid.NewString())
}

// PutJSON stores v under key and returns its s3:// reference.
func (c *Client) PutJSON(ctx context.Context, key string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &c.bucket,
		Key:         &key,
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", c.bucket, key), nil
}
