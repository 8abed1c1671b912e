// Package s3 implements blob.Store on S3 or an S3-compatible server.
package s3

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/blob"
	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/metrics"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint        string
	Bucket          string
	AccessKey       string
	SecretKey       string
	Region          string
	PresignValidity time.Duration
}

// Store implements blob.Store using S3/MinIO.
type Store struct {
	client          *s3.Client
	presigner       *s3.PresignClient
	bucket          string
	presignValidity time.Duration
}

// New creates an S3 store. An empty Endpoint uses AWS itself.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	validity := cfg.PresignValidity
	if validity <= 0 {
		validity = 15 * time.Minute
	}

	return &Store{
		client:          client,
		presigner:       s3.NewPresignClient(client),
		bucket:          cfg.Bucket,
		presignValidity: validity,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	record("head_bucket", start, err)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}

	start = time.Now()
	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	record("create_bucket", start, createErr)
	if createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
	}
	logging.Info("created S3 bucket", zap.String("bucket", s.bucket))
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func record(op string, start time.Time, err error) {
	metrics.RecordS3Operation(op, time.Since(start), err == nil)
}

// PresignedReadURL presigns a GET for key.
func (s *Store) PresignedReadURL(ctx context.Context, key, filename string) (string, error) {
	start := time.Now()

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(
			mime.FormatMediaType("inline", map[string]string{"filename": filename}))
	}

	req, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(s.presignValidity))
	record("presign_get", start, err)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// ObjectSize returns the content length of key.
func (s *Store) ObjectSize(ctx context.Context, key string) (int64, error) {
	start := time.Now()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			record("head_object", start, nil)
			return 0, blob.ErrNotFound
		}
		record("head_object", start, err)
		return 0, fmt.Errorf("head object %s: %w", key, err)
	}
	record("head_object", start, nil)
	return aws.ToInt64(out.ContentLength), nil
}

// ObjectExists checks if an object exists in S3.
func (s *Store) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.ObjectSize(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteObject removes key, and all of its versions when permanent is set.
func (s *Store) DeleteObject(ctx context.Context, key string, permanent bool) error {
	if permanent {
		return s.deleteAllVersions(ctx, key)
	}

	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	record("delete_object", start, err)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}

	logging.Debug("S3 delete object", zap.String("key", key))
	return nil
}

func (s *Store) deleteAllVersions(ctx context.Context, key string) error {
	var keyMarker, versionMarker *string
	deleted := 0
	for {
		start := time.Now()
		page, err := s.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws.String(s.bucket),
			Prefix:          aws.String(key),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionMarker,
		})
		record("list_object_versions", start, err)
		if err != nil {
			return fmt.Errorf("list versions of %s: %w", key, err)
		}

		var ids []types.ObjectIdentifier
		for _, v := range page.Versions {
			if aws.ToString(v.Key) == key {
				ids = append(ids, types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
			}
		}
		for _, m := range page.DeleteMarkers {
			if aws.ToString(m.Key) == key {
				ids = append(ids, types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
			}
		}

		if len(ids) > 0 {
			start = time.Now()
			out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			record("delete_objects", start, err)
			if err != nil {
				return fmt.Errorf("delete versions of %s: %w", key, err)
			}
			if len(out.Errors) > 0 {
				return fmt.Errorf("delete versions of %s: %s", key, aws.ToString(out.Errors[0].Message))
			}
			deleted += len(ids)
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		keyMarker, versionMarker = page.NextKeyMarker, page.NextVersionIdMarker
	}

	logging.Debug("S3 delete all versions", zap.String("key", key), zap.Int("versions", deleted))
	return nil
}

// ListKeys walks the bucket with ListObjectsV2.
func (s *Store) ListKeys(ctx context.Context, opts blob.ListOptions, fn func(key string) error) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		record("list_objects", start, err)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if opts.ExcludePrefix != "" && strings.HasPrefix(key, opts.ExcludePrefix) {
				continue
			}
			if err := fn(key); err != nil {
				return err
			}
		}
	}
	return nil
}
