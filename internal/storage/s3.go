package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	defaultS3Region  = "us-east-1"
	documentMIMEType = "application/json"
)

// S3Config holds construction parameters for [NewS3Backend].
type S3Config struct {
	Bucket          string
	Key             string
	Region          string // default us-east-1
	Endpoint        string // optional; set for MinIO and other S3-compatible stores
	PathStyle       bool
	AccessKeyID     string // optional; falls back to the default credential chain
	SecretAccessKey string
}

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Backend stores the document as a single object. PutObject replaces the
// object in one step, so readers see either the old or the new document.
// S3 offers no locks; serialization only covers the current process.
type S3Backend struct {
	client S3API
	bucket string
	key    string
}

// NewS3Backend builds a client from cfg and the default AWS config chain.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errBucketRequired
	}

	if cfg.Key == "" {
		return nil, errKeyRequired
	}

	region := cfg.Region
	if region == "" {
		region = defaultS3Region
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}

	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewS3BackendWithClient(client, cfg.Bucket, cfg.Key)
}

// NewS3BackendWithClient uses an existing client.
func NewS3BackendWithClient(client S3API, bucket, key string) (*S3Backend, error) {
	if bucket == "" {
		return nil, errBucketRequired
	}

	if key == "" {
		return nil, errKeyRequired
	}

	return &S3Backend{client: client, bucket: bucket, key: key}, nil
}

func (b *S3Backend) Name() string { return "s3://" + b.bucket + "/" + b.key }

func (b *S3Backend) Read(ctx context.Context) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("get %s: %w", b.Name(), os.ErrNotExist)
		}

		return nil, fmt.Errorf("get %s: %w", b.Name(), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.Name(), err)
	}

	return data, nil
}

func (b *S3Backend) Write(ctx context.Context, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(documentMIMEType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", b.Name(), err)
	}

	return nil
}
