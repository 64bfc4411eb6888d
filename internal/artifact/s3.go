package artifact

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// S3Config points at an S3-compatible bucket (AWS, R2, MinIO).
type S3Config struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	PathPrefix string `yaml:"path_prefix"`
}

// S3Store mirrors finished artifacts into object storage and sweeps
// expired objects.
type S3Store struct {
	client     *minio.Client
	bucket     string
	pathPrefix string
	logger     zerolog.Logger
}

func NewS3Store(cfg S3Config, logger zerolog.Logger) (*S3Store, error) {
	// minio-go expects host:port without a scheme.
	endpoint := cfg.Endpoint
	secure := true
	if strings.HasPrefix(endpoint, "https://") {
		endpoint = strings.TrimPrefix(endpoint, "https://")
	} else if strings.HasPrefix(endpoint, "http://") {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		secure = false
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize minio client: %w", err)
	}

	return &S3Store{
		client:     client,
		bucket:     cfg.Bucket,
		pathPrefix: cfg.PathPrefix,
		logger:     logger.With().Str("component", "s3store").Logger(),
	}, nil
}

func (s *S3Store) key(name string) string {
	if s.pathPrefix == "" {
		return name
	}
	return fmt.Sprintf("%s/%s", s.pathPrefix, name)
}

// Upload stores an artifact under the configured prefix.
func (s *S3Store) Upload(ctx context.Context, name string, content io.Reader) error {
	key := s.key(name)
	info, err := s.client.PutObject(ctx, s.bucket, key, content, -1, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return fmt.Errorf("upload object %s: %w", key, err)
	}
	s.logger.Info().Str("key", key).Int64("size", info.Size).Msg("artifact uploaded")
	return nil
}

// Delete removes a mirrored artifact.
func (s *S3Store) Delete(ctx context.Context, name string) error {
	key := s.key(name)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// EnforceRetention deletes mirrored objects older than the deadline.
// Registry expiry only flags points; physical deletion of remote copies
// happens here.
func (s *S3Store) EnforceRetention(ctx context.Context, deadline time.Time) (int, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    s.pathPrefix,
		Recursive: true,
	}

	deleted := 0
	for object := range s.client.ListObjects(ctx, s.bucket, opts) {
		if object.Err != nil {
			s.logger.Warn().Err(object.Err).Msg("error listing object")
			continue
		}
		if object.LastModified.Before(deadline) {
			if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
				s.logger.Warn().Err(err).Str("key", object.Key).Msg("failed to delete expired object")
				continue
			}
			deleted++
			s.logger.Info().Str("key", object.Key).Time("modified", object.LastModified).Msg("deleted expired artifact")
		}
	}
	return deleted, nil
}
