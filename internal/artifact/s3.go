package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// S3API is the subset of *s3.Client the transfer managers need.
type S3API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
}

// S3Store implements Store on an S3 bucket using the SDK transfer managers,
// which split large objects into concurrent ranged parts.
type S3Store struct {
	bucket     string
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3Store for bucket.
func NewS3Store(client S3API, bucket string) *S3Store {
	return &S3Store{
		bucket:     bucket,
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
	}
}

// Download fetches bucket/key into localPath.
func (s *S3Store) Download(ctx context.Context, key, localPath string) error {
	log.Debug().Str("bucket", s.bucket).Str("key", key).Str("localPath", localPath).Msg("Downloading from S3")
	start := time.Now()

	f, done, err := createLocal(localPath)
	if err != nil {
		return err
	}
	n, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	done(err != nil)
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, key)
		}
		return fmt.Errorf("S3 GetObject %s: %w", key, err)
	}

	log.Debug().
		Str("key", key).
		Int64("bytes", n).
		Dur("elapsed", time.Since(start)).
		Msg("S3 download complete")
	return nil
}

// Upload puts localPath at bucket/key, replacing any existing object.
func (s *S3Store) Upload(ctx context.Context, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	tagging := projectTag
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
		Tagging:     &tagging,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("bucket", s.bucket).Str("key", key).Msg("Uploaded to S3")
	return nil
}

// isS3NotFound matches NoSuchKey from GetObject and the bare 404 code the
// SDK reports for ranged reads against a missing key.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
