package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/wholesum/bazaar/module/blobs"
)

// S3Client is the subset of the S3 API used by S3Store. Uploads go through the
// transfer manager, which switches to multipart uploads for large receipts.
type S3Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config locates the bucket holding content.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every object key, e.g. "bazaar".
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint, for S3 compatible stores.
	Endpoint     string
	UsePathStyle bool
}

var _ Store = (*S3Store)(nil)

// S3Store keeps content in an S3 bucket, one object per CID.
type S3Store struct {
	client   S3Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Client builds a client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.EndpointResolver = s3.EndpointResolverFromURL(cfg.Endpoint)
		}
	}), nil
}

// NewS3Store returns a store writing to cfg.Bucket through client.
func NewS3Store(client S3Client, cfg S3Config) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

func (s *S3Store) key(c string) string {
	if s.prefix == "" {
		return c
	}
	return s.prefix + "/" + c
}

func (s *S3Store) Fetch(ctx context.Context, c string) ([]byte, error) {
	parsed, err := parseCID(c)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(c)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, NewStorageError(NotFound, c, err)
		}
		return nil, NewStorageError(Unavailable, c, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, NewStorageError(Unavailable, c, fmt.Errorf("could not read object: %w", err))
	}

	ok, err := blobs.Matches(parsed, data)
	if err != nil {
		return nil, NewStorageError(InvalidCID, c, err)
	}
	if !ok {
		return nil, NewStorageErrorf(Corrupted, c, "object does not hash to its key")
	}
	return data, nil
}

// Upload skips the transfer when an object already exists under the CID.
func (s *S3Store) Upload(ctx context.Context, data []byte) (string, error) {
	c, err := blobs.ComputeCID(data)
	if err != nil {
		return "", fmt.Errorf("could not compute cid: %w", err)
	}
	key := s.key(c.String())

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return c.String(), nil
	}
	if !isNotFound(err) {
		return "", NewStorageError(Unavailable, c.String(), err)
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", NewStorageError(Unavailable, c.String(), err)
	}
	return c.String(), nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	default:
		return false
	}
}
