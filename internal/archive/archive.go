// Package archive retains raw analysis engine responses in S3-compatible
// object storage (Cloudflare R2, AWS S3, MinIO).
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ContentType of archived engine responses.
const ContentType = "text/plain; charset=utf-8"

// Config holds configuration for the S3 archiver.
type Config struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string // default "auto"
	Prefix          string // optional key prefix
}

// S3Archiver writes objects with PutObject.
type S3Archiver struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeNow func() time.Time
}

// NewS3Archiver creates an archiver with the given configuration.
func NewS3Archiver(cfg Config) (*S3Archiver, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3Archiver{
		client:  client,
		bucket:  cfg.BucketName,
		prefix:  sanitizeKey(cfg.Prefix),
		timeNow: time.Now,
	}, nil
}

// Archive stores body under key.
func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte) error {
	objectKey := sanitizeKey(key)
	if objectKey == "" {
		return errors.New("object key is required")
	}
	if a.prefix != "" {
		objectKey = a.prefix + "/" + objectKey
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(ContentType),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"archived-at": a.timeNow().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return nil
}

// sanitizeKey keeps alphanumerics, '-', '_', '.' and '/' separators, and
// drops empty or dot-only segments.
func sanitizeKey(key string) string {
	var segments []string
	for _, seg := range strings.Split(key, "/") {
		var b strings.Builder
		for _, r := range seg {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
				b.WriteRune(r)
			}
		}
		clean := b.String()
		if clean == "" || strings.Trim(clean, ".") == "" {
			continue
		}
		segments = append(segments, clean)
	}
	return strings.Join(segments, "/")
}

// Nop discards everything. Used when no bucket is configured.
type Nop struct{}

// Archive implements the archiver contract without storing anything.
func (Nop) Archive(context.Context, string, []byte) error { return nil }
