// Package remote uploads closed Output Writer pages to a remote archive
// root, grounded on the teacher's S3 archive backend concept but built
// against the real AWS SDK rather than the teacher's path-only stub.
package remote

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the optional remote archive upload.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // set for S3-compatible stores (MinIO, etc.)
	AccessKey string
	SecretKey string
}

// S3Backend uploads closed output files to S3-compatible storage, used
// only when a run configures a remote archive root (§4.7).
type S3Backend struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3Backend builds the client using explicit credentials when given,
// otherwise the default provider chain (IAM roles, environment, shared
// config).
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("remote: S3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("remote: loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Backend{client: s3.NewFromConfig(awsCfg, s3Opts...), cfg: cfg}, nil
}

// Upload copies a closed output file to the configured bucket under its
// basename, keyed by Prefix.
func (b *S3Backend) Upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("remote: opening %s: %w", localPath, err)
	}
	defer f.Close()

	key := path.Join(b.cfg.Prefix, path.Base(localPath))
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("remote: uploading %s to s3://%s/%s: %w", localPath, b.cfg.Bucket, key, err)
	}
	return nil
}
