package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dayline-app/dayline-api/pkg/config"
)

// S3Presigner issues presigned PUT/GET URLs against an S3-compatible
// endpoint (AWS S3 or minio in development).
type S3Presigner struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// NewS3Presigner builds the presign client from storage configuration.
func NewS3Presigner(ctx context.Context, cfg config.StorageConfig) (*S3Presigner, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &S3Presigner{
		presign: s3.NewPresignClient(client),
		bucket:  cfg.S3Bucket,
		ttl:     ttl,
	}, nil
}

// PresignPut returns a time-limited write URL for the given key. The declared
// content type is part of the signature, so the uploader must send it back.
func (p *S3Presigner) PresignPut(ctx context.Context, key, contentType string) (string, error) {
	req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return req.URL, nil
}

// PresignGet returns a time-limited read URL for the given key.
func (p *S3Presigner) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// TTL reports how long issued URLs remain valid.
func (p *S3Presigner) TTL() time.Duration {
	return p.ttl
}

// ObjectKey derives a date-partitioned storage key for an uploaded file.
func ObjectKey(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	now := time.Now().UTC()
	return fmt.Sprintf("uploads/%04d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), uuid.NewString(), ext)
}
