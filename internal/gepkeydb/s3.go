package gepkeydb

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/kenneth/ndn-group-encrypt/internal/geperrors"
)

// S3Options configures an S3Backend, including the endpoint override needed
// to target MinIO, Garage, or any other S3-compatible provider.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// PathStyle forces path-style addressing, required by most
	// self-hosted S3-compatible providers.
	PathStyle bool
}

// S3Backend persists key material as S3 objects, suited to durable,
// cold-storage retention of D-KEY and consumer-key material across
// long-lived groups (spec.md §4.3's "persistent single-writer semantics"
// at the scale of a whole group's key history).
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend builds an S3Backend from explicit options.
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey, opts.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, geperrors.Wrap(geperrors.DataRetrievalFailure, "load AWS config", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = opts.PathStyle },
	}
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}

	return &S3Backend{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}, nil
}

func (b *S3Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, geperrors.Wrap(geperrors.DataRetrievalFailure, "s3 GetObject", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, geperrors.Wrap(geperrors.DataRetrievalFailure, "read s3 object body", err)
	}
	return data, true, nil
}

func (b *S3Backend) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return geperrors.Wrap(geperrors.DataRetrievalFailure, "s3 PutObject", err)
	}
	return nil
}

func (b *S3Backend) Close(ctx context.Context) error {
	return nil
}

// isNotFound reports whether err is an S3 "object does not exist" style
// API error, using smithy-go's typed API-error interface rather than
// string matching.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
